package pharmacy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/careloop/engageflow/internal/timers"
)

// DefaultSubstepDelay paces the simulated progress between substeps.
const DefaultSubstepDelay = 800 * time.Millisecond

// DefaultCompletionDelay is the pause after the final substep before the
// run is marked done.
const DefaultCompletionDelay = 1200 * time.Millisecond

// Runner advances a Machine on real-time delays and reports completion.
type Runner struct {
	mu              sync.Mutex
	machine         *Machine
	timer           timers.Timer
	substepDelay    time.Duration
	completionDelay time.Duration
	onDone          func()
	timerID         string
	running         bool
}

// RunnerOpts holds configuration options for a Runner.
type RunnerOpts struct {
	SubstepDelay    time.Duration
	CompletionDelay time.Duration
	OnDone          func()
}

// RunnerOption configures a Runner.
type RunnerOption func(*RunnerOpts)

// WithSubstepDelay overrides the delay between substeps.
func WithSubstepDelay(d time.Duration) RunnerOption {
	return func(o *RunnerOpts) { o.SubstepDelay = d }
}

// WithCompletionDelay overrides the delay before completion.
func WithCompletionDelay(d time.Duration) RunnerOption {
	return func(o *RunnerOpts) { o.CompletionDelay = d }
}

// WithOnDone sets the completion callback.
func WithOnDone(fn func()) RunnerOption {
	return func(o *RunnerOpts) { o.OnDone = fn }
}

// NewRunner creates a runner for machine.
func NewRunner(machine *Machine, timer timers.Timer, opts ...RunnerOption) *Runner {
	cfg := RunnerOpts{SubstepDelay: DefaultSubstepDelay, CompletionDelay: DefaultCompletionDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runner{
		machine:         machine,
		timer:           timer,
		substepDelay:    cfg.SubstepDelay,
		completionDelay: cfg.CompletionDelay,
		onDone:          cfg.OnDone,
	}
}

// Start begins ticking. Starting an already-running runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	slog.Info("PharmacyCheck runner started")
	// Ticks outlive the request that started the run; detach from its
	// cancellation so notifications still go through.
	r.scheduleTick(context.WithoutCancel(ctx))
}

func (r *Runner) scheduleTick(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	id, _ := r.timer.ScheduleAfter(r.substepDelay, func() {
		// Stop may race the timer firing; a voided tick must not advance
		// the machine.
		r.mu.Lock()
		if !r.running {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
		if r.machine.Tick(ctx) {
			r.scheduleTick(ctx)
			return
		}
		r.scheduleCompletion()
	})
	r.timerID = id
}

func (r *Runner) scheduleCompletion() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	id, _ := r.timer.ScheduleAfter(r.completionDelay, func() {
		r.mu.Lock()
		if !r.running {
			r.mu.Unlock()
			return
		}
		r.running = false
		done := r.onDone
		r.mu.Unlock()
		r.machine.Finish()
		if done != nil {
			done()
		}
	})
	r.timerID = id
}

// Stop cancels the pending tick, as when the user navigates away. The
// machine's state is left as-is for the next SetTargets to reset.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timerID != "" {
		r.timer.Cancel(r.timerID)
		r.timerID = ""
	}
	r.running = false
	slog.Debug("PharmacyCheck runner stopped")
}
