// Package timers provides a cancellable timer abstraction shared by the
// chat stagger, suggestion debounce, and pharmacy substep delays.
package timers

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules functions to run after a delay. All pending timers must be
// cancellable so mode changes and teardown never fire against defunct state.
type Timer interface {
	// ScheduleAfter runs fn after delay and returns a cancellation id.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	// Cancel stops a pending timer. Cancelling an unknown or already-fired
	// id is a no-op.
	Cancel(id string) error
	// Stop cancels every pending timer.
	Stop()
}

// WallClock implements Timer with time.AfterFunc.
type WallClock struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	nextID  int64
}

// NewWallClock creates a Timer backed by the real clock.
func NewWallClock() *WallClock {
	return &WallClock{pending: make(map[string]*time.Timer)}
}

// ScheduleAfter runs fn after delay and returns a cancellation id.
func (w *WallClock) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	w.mu.Lock()
	w.nextID++
	id := fmt.Sprintf("timer_%d", w.nextID)
	w.mu.Unlock()

	t := time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		fn()
	})

	w.mu.Lock()
	w.pending[id] = t
	w.mu.Unlock()

	slog.Debug("WallClock ScheduleAfter", "id", id, "delay", delay)
	return id, nil
}

// Cancel stops a pending timer by id.
func (w *WallClock) Cancel(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[id]; ok {
		t.Stop()
		delete(w.pending, id)
		slog.Debug("WallClock Cancel", "id", id)
	}
	return nil
}

// Stop cancels all pending timers.
func (w *WallClock) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.pending {
		t.Stop()
		delete(w.pending, id)
	}
	slog.Debug("WallClock stopped all timers")
}
