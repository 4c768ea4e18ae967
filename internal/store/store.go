// Package store provides storage backends for EngageFlow.
//
// It persists session records with a validity window, the lightweight
// last-known-user record used for cross-session continuity, and per-thread
// message logs. Backends: in-memory, SQLite, and PostgreSQL.
package store

import (
	"sort"
	"sync"

	"github.com/careloop/engageflow/internal/models"
)

// Store is the persistence interface shared by all backends.
type Store interface {
	// SaveSession inserts or replaces the session record for its phone number.
	SaveSession(s models.Session) error
	// GetSession returns the session for a phone number, or nil when absent.
	GetSession(phone string) (*models.Session, error)
	// DeleteSession removes the session record for a phone number.
	DeleteSession(phone string) error

	// SaveLastKnownUser inserts or replaces the continuity record.
	SaveLastKnownUser(u models.LastKnownUser) error
	// GetLastKnownUser returns the continuity record, or nil when absent.
	GetLastKnownUser(phone string) (*models.LastKnownUser, error)

	// AddMessage appends a message to a thread's log.
	AddMessage(threadID string, m models.Message) error
	// GetMessages returns a thread's log ordered by message id.
	GetMessages(threadID string) ([]models.Message, error)
	// DeleteMessages drops a thread's log.
	DeleteMessages(threadID string) error

	// Close releases backend resources.
	Close() error
}

// InMemoryStore keeps everything in process memory. It backs tests and
// single-instance deployments that do not need durability.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]models.Session
	lastKnown map[string]models.LastKnownUser
	messages  map[string][]models.Message
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]models.Session),
		lastKnown: make(map[string]models.LastKnownUser),
		messages:  make(map[string][]models.Message),
	}
}

// SaveSession inserts or replaces the session record.
func (s *InMemoryStore) SaveSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.PhoneNumber] = sess
	return nil
}

// GetSession returns the session for a phone number, or nil when absent.
func (s *InMemoryStore) GetSession(phone string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[phone]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// DeleteSession removes the session record for a phone number.
func (s *InMemoryStore) DeleteSession(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, phone)
	return nil
}

// SaveLastKnownUser inserts or replaces the continuity record.
func (s *InMemoryStore) SaveLastKnownUser(u models.LastKnownUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastKnown[u.PhoneNumber] = u
	return nil
}

// GetLastKnownUser returns the continuity record, or nil when absent.
func (s *InMemoryStore) GetLastKnownUser(phone string) (*models.LastKnownUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.lastKnown[phone]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// AddMessage appends a message to a thread's log.
func (s *InMemoryStore) AddMessage(threadID string, m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[threadID] = append(s.messages[threadID], m)
	return nil
}

// GetMessages returns a thread's log ordered by message id.
func (s *InMemoryStore) GetMessages(threadID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]models.Message, len(s.messages[threadID]))
	copy(msgs, s.messages[threadID])
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

// DeleteMessages drops a thread's log.
func (s *InMemoryStore) DeleteMessages(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, threadID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
