package timers

import (
	"fmt"
	"sync"
	"time"
)

type manualEntry struct {
	id    string
	delay time.Duration
	fn    func()
}

// Manual is a Timer whose entries fire only when a test asks them to, so
// debounce/stagger/substep behavior can be exercised without sleeping.
type Manual struct {
	mu      sync.Mutex
	entries []manualEntry
	nextID  int64
}

// NewManual creates a Manual timer.
func NewManual() *Manual {
	return &Manual{}
}

// ScheduleAfter records fn without starting any real timer.
func (m *Manual) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("manual_%d", m.nextID)
	m.entries = append(m.entries, manualEntry{id: id, delay: delay, fn: fn})
	return id, nil
}

// Cancel removes a pending entry by id.
func (m *Manual) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.id == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	return nil
}

// Stop drops every pending entry.
func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

// FireNext runs the oldest pending entry. It reports whether an entry fired.
func (m *Manual) FireNext() bool {
	m.mu.Lock()
	if len(m.entries) == 0 {
		m.mu.Unlock()
		return false
	}
	e := m.entries[0]
	m.entries = m.entries[1:]
	m.mu.Unlock()
	e.fn()
	return true
}

// FireAll keeps firing until no entries remain, including entries scheduled
// by the entries themselves.
func (m *Manual) FireAll() {
	for m.FireNext() {
	}
}

// PendingCount returns the number of entries waiting to fire.
func (m *Manual) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// LastDelay returns the delay of the most recently scheduled entry.
func (m *Manual) LastDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return 0
	}
	return m.entries[len(m.entries)-1].delay
}
