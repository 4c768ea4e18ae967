package pharmacy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/careloop/engageflow/internal/models"
	"github.com/careloop/engageflow/internal/timers"
)

// mockNotifier records availability notifications and can fail selectively.
type mockNotifier struct {
	notified []string
	ctxErrs  []error
	failFor  map[string]bool
}

func (m *mockNotifier) NotifyAvailability(ctx context.Context, target models.PharmacyTarget) error {
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if m.failFor[target.Name] {
		return errors.New("sms delivery failed")
	}
	m.notified = append(m.notified, target.Name)
	return nil
}

func targets(names ...string) []models.PharmacyTarget {
	out := make([]models.PharmacyTarget, 0, len(names))
	for _, n := range names {
		out = append(out, models.PharmacyTarget{Name: n, Phone: "5551230000"})
	}
	return out
}

func TestTick_AdvancesSubstepsThenIndex(t *testing.T) {
	m := NewMachine(targets("A", "B"), &mockNotifier{})
	ctx := context.Background()

	type point struct {
		index   int
		substep Substep
	}
	want := []point{
		{0, SubstepInitiate},
		{0, SubstepCalling},
		{1, SubstepFetchContact},
		{1, SubstepInitiate},
		{1, SubstepCalling},
	}
	for i, w := range want {
		more := m.Tick(ctx)
		st := m.State()
		if st.CurrentIndex != w.index || st.CurrentSubstep != w.substep {
			t.Fatalf("tick %d: expected (%d,%d), got (%d,%d)",
				i+1, w.index, w.substep, st.CurrentIndex, st.CurrentSubstep)
		}
		if i < len(want)-1 && !more {
			t.Fatalf("tick %d: run ended early", i+1)
		}
		if i == len(want)-1 && more {
			t.Fatal("expected the final substep of the last target to end the run")
		}
	}
}

func TestTick_IndexMonotonicallyNonDecreasing(t *testing.T) {
	m := NewMachine(targets("A", "B", "C"), &mockNotifier{})
	ctx := context.Background()

	prev := 0
	for m.Tick(ctx) {
		idx := m.State().CurrentIndex
		if idx < prev {
			t.Fatalf("index went backwards: %d after %d", idx, prev)
		}
		prev = idx
	}
	if m.State().CurrentIndex != 2 {
		t.Errorf("expected run to end on the last target, got index %d", m.State().CurrentIndex)
	}
}

func TestNotification_AtMostOncePerTarget(t *testing.T) {
	n := &mockNotifier{}
	m := NewMachine(targets("A", "B"), n)
	ctx := context.Background()

	for m.Tick(ctx) {
	}
	// Extra ticks after the run ends must not re-fire anything.
	m.Tick(ctx)
	m.Tick(ctx)

	if len(n.notified) != 2 || n.notified[0] != "A" || n.notified[1] != "B" {
		t.Errorf("expected exactly one notification per target in order, got %v", n.notified)
	}
	for i, flag := range m.State().Notified {
		if !flag {
			t.Errorf("target %d should be marked notified", i)
		}
	}
}

func TestNotification_FailureDoesNotBlockProgress(t *testing.T) {
	n := &mockNotifier{failFor: map[string]bool{"A": true}}
	m := NewMachine(targets("A", "B"), n)
	ctx := context.Background()

	for m.Tick(ctx) {
	}

	if len(n.notified) != 1 || n.notified[0] != "B" {
		t.Errorf("expected the run to continue past the failed target, notified %v", n.notified)
	}
	if m.State().CurrentIndex != 1 || m.State().CurrentSubstep != SubstepCalling {
		t.Errorf("run should still complete, got (%d,%d)",
			m.State().CurrentIndex, m.State().CurrentSubstep)
	}
}

func TestSetTargets_FullyResetsProgress(t *testing.T) {
	n := &mockNotifier{}
	m := NewMachine(targets("A"), n)
	ctx := context.Background()

	for m.Tick(ctx) {
	}
	m.Finish()

	m.SetTargets(targets("X", "Y"))
	st := m.State()
	if st.CurrentIndex != 0 || st.CurrentSubstep != SubstepFetchContact || st.Done {
		t.Errorf("expected a clean slate after SetTargets, got %+v", st)
	}
	for i, flag := range st.Notified {
		if flag {
			t.Errorf("notified flag %d should reset with new targets", i)
		}
	}

	// The new targets notify again from scratch.
	for m.Tick(ctx) {
	}
	if len(n.notified) != 3 || n.notified[1] != "X" || n.notified[2] != "Y" {
		t.Errorf("expected fresh notifications for the new targets, got %v", n.notified)
	}
}

func TestEmptyTargets_NothingToDo(t *testing.T) {
	m := NewMachine(nil, &mockNotifier{})
	if m.Tick(context.Background()) {
		t.Error("expected no ticks for an empty target list")
	}
}

func TestRunner_DrivesMachineToDone(t *testing.T) {
	n := &mockNotifier{}
	m := NewMachine(targets("A", "B"), n)
	timer := timers.NewManual()
	doneCalls := 0
	r := NewRunner(m, timer, WithOnDone(func() { doneCalls++ }))

	r.Start(context.Background())
	if got := timer.LastDelay(); got != DefaultSubstepDelay {
		t.Errorf("expected substep delay %v, got %v", DefaultSubstepDelay, got)
	}

	// Fire every tick; the completion entry is scheduled by the last one.
	for i := 0; i < 5; i++ {
		if !timer.FireNext() {
			t.Fatalf("expected a pending tick at step %d", i)
		}
	}
	if m.State().Done {
		t.Fatal("machine must not be done before the completion delay")
	}
	if got := timer.LastDelay(); got != DefaultCompletionDelay {
		t.Errorf("expected completion delay %v, got %v", DefaultCompletionDelay, got)
	}

	timer.FireAll()
	if !m.State().Done {
		t.Error("expected machine to be done after the completion delay")
	}
	if doneCalls != 1 {
		t.Errorf("expected exactly one onDone callback, got %d", doneCalls)
	}
	if len(n.notified) != 2 {
		t.Errorf("expected both targets notified, got %v", n.notified)
	}
}

func TestRunner_StopCancelsPendingTick(t *testing.T) {
	m := NewMachine(targets("A", "B"), &mockNotifier{})
	timer := timers.NewManual()
	r := NewRunner(m, timer)

	r.Start(context.Background())
	timer.FireNext()
	r.Stop()

	if timer.PendingCount() != 0 {
		t.Errorf("expected no pending timers after Stop, got %d", timer.PendingCount())
	}
	st := m.State()
	if st.Done {
		t.Error("Stop must not mark the run done")
	}
	// Progress freezes where it was.
	timer.FireAll()
	if got := m.State(); got.CurrentIndex != st.CurrentIndex || got.CurrentSubstep != st.CurrentSubstep {
		t.Error("no further progress expected after Stop")
	}
}

func TestRunner_TicksSurviveCallerContextCancel(t *testing.T) {
	n := &mockNotifier{}
	m := NewMachine(targets("A"), n)
	timer := timers.NewManual()
	r := NewRunner(m, timer)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	// The starting request finishes long before the first substep delay;
	// its cancellation must not reach the notifier.
	cancel()
	timer.FireAll()

	if len(n.notified) != 1 {
		t.Fatalf("expected the target notified, got %v", n.notified)
	}
	if n.ctxErrs[0] != nil {
		t.Errorf("notification inherited the caller's cancellation: %v", n.ctxErrs[0])
	}
}

// stickyTimer ignores Cancel, standing in for a wall-clock timer whose
// callback already fired when Stop tries to cancel it.
type stickyTimer struct {
	*timers.Manual
}

func (stickyTimer) Cancel(id string) error { return nil }

func TestRunner_LateTimerFireAfterStopDoesNotTick(t *testing.T) {
	n := &mockNotifier{}
	m := NewMachine(targets("A"), n)
	inner := timers.NewManual()
	r := NewRunner(m, stickyTimer{inner})

	r.Start(context.Background())
	r.Stop()
	inner.FireAll()

	st := m.State()
	if st.CurrentIndex != 0 || st.CurrentSubstep != SubstepFetchContact {
		t.Errorf("a tick firing after Stop must not advance the machine, got (%d,%d)",
			st.CurrentIndex, st.CurrentSubstep)
	}
	if len(n.notified) != 0 {
		t.Errorf("no notification may fire after Stop, got %v", n.notified)
	}
}

func TestRunner_StartWhileRunningIsNoop(t *testing.T) {
	m := NewMachine(targets("A"), &mockNotifier{})
	timer := timers.NewManual()
	r := NewRunner(m, timer, WithSubstepDelay(10*time.Millisecond))

	r.Start(context.Background())
	r.Start(context.Background())
	if timer.PendingCount() != 1 {
		t.Errorf("double Start must not double-schedule, pending %d", timer.PendingCount())
	}
}
