// Package pharmacy drives the multi-pharmacy availability check: a fixed
// substep sequence per target with an at-most-once notification per
// pharmacy. The progression is a plain state machine advanced by Tick, so
// it is testable without timers; the Runner adds the real-time pacing.
package pharmacy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/careloop/engageflow/internal/models"
)

// Substep is one stage of checking a single pharmacy.
type Substep int

const (
	// SubstepFetchContact resolves the pharmacy's contact details.
	SubstepFetchContact Substep = iota
	// SubstepInitiate starts the availability request; the notification
	// fires when this substep is first reached for a target.
	SubstepInitiate
	// SubstepCalling simulates the outbound call in progress.
	SubstepCalling
)

// Notifier fires the availability SMS for a target. Failures are logged by
// the machine and never block progression.
type Notifier interface {
	NotifyAvailability(ctx context.Context, target models.PharmacyTarget) error
}

// CheckState is a snapshot of a run's progress.
type CheckState struct {
	Targets        []models.PharmacyTarget `json:"targets"`
	CurrentIndex   int                     `json:"current_index"`
	CurrentSubstep Substep                 `json:"current_substep"`
	Notified       []bool                  `json:"notified"`
	Done           bool                    `json:"done"`
}

// Machine holds the progress of one availability-check run. CurrentIndex
// only moves forward; Notified[i] is set at most once.
type Machine struct {
	mu       sync.Mutex
	state    CheckState
	notifier Notifier
}

// NewMachine creates a machine for the given targets.
func NewMachine(targets []models.PharmacyTarget, notifier Notifier) *Machine {
	m := &Machine{notifier: notifier}
	m.SetTargets(targets)
	return m
}

// SetTargets replaces the target list and fully resets progress.
func (m *Machine) SetTargets(targets []models.PharmacyTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = CheckState{
		Targets:  append([]models.PharmacyTarget(nil), targets...),
		Notified: make([]bool, len(targets)),
	}
	slog.Debug("PharmacyCheck targets set", "count", len(targets))
}

// Tick advances one substep. It reports whether further ticks remain; once
// it returns false the run has visited every substep of every target and
// the caller may schedule completion.
func (m *Machine) Tick(ctx context.Context) bool {
	m.mu.Lock()
	if m.state.Done || len(m.state.Targets) == 0 {
		m.mu.Unlock()
		return false
	}

	switch {
	case m.state.CurrentSubstep < SubstepCalling:
		m.state.CurrentSubstep++
	case m.state.CurrentIndex < len(m.state.Targets)-1:
		m.state.CurrentIndex++
		m.state.CurrentSubstep = SubstepFetchContact
	default:
		m.mu.Unlock()
		return false
	}

	idx := m.state.CurrentIndex
	var notifyTarget *models.PharmacyTarget
	if m.state.CurrentSubstep == SubstepInitiate && !m.state.Notified[idx] {
		m.state.Notified[idx] = true
		t := m.state.Targets[idx]
		notifyTarget = &t
	}
	substep := m.state.CurrentSubstep
	m.mu.Unlock()

	slog.Debug("PharmacyCheck tick", "index", idx, "substep", int(substep))
	if notifyTarget != nil && m.notifier != nil {
		if err := m.notifier.NotifyAvailability(ctx, *notifyTarget); err != nil {
			// Side-effect failures never block the check itself.
			slog.Warn("PharmacyCheck availability notification failed", "error", err, "pharmacy", notifyTarget.Name)
		}
	}

	m.mu.Lock()
	last := m.state.CurrentIndex == len(m.state.Targets)-1 && m.state.CurrentSubstep == SubstepCalling
	m.mu.Unlock()
	return !last
}

// Finish marks the run done, after the caller's completion delay.
func (m *Machine) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Done = true
	slog.Info("PharmacyCheck finished", "targets", len(m.state.Targets))
}

// State returns a copy of the current progress.
func (m *Machine) State() CheckState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.state
	out.Targets = append([]models.PharmacyTarget(nil), m.state.Targets...)
	out.Notified = append([]bool(nil), m.state.Notified...)
	return out
}
