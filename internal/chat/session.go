// Package chat manages a chat session: the append-only message log, the
// pending outbound queue, and the streaming contract.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/careloop/engageflow/internal/models"
	"github.com/careloop/engageflow/internal/store"
	"github.com/careloop/engageflow/internal/timers"
)

// DefaultStagger is the delay between automatically dispatched queue items,
// keeping downstream consumers on a human-paced cadence.
const DefaultStagger = 1 * time.Second

// Dispatcher creates threads and delivers outbound messages. The backend
// client implements it.
type Dispatcher interface {
	CreateThread(ctx context.Context) (string, error)
	SendChatMessage(ctx context.Context, threadID, text string) error
}

// Opts holds configuration options for a chat session.
type Opts struct {
	Stagger time.Duration
	Store   store.Store
}

// Option configures a chat session.
type Option func(*Opts)

// WithStagger overrides the inter-message dispatch delay.
func WithStagger(d time.Duration) Option {
	return func(o *Opts) { o.Stagger = d }
}

// WithStore enables message persistence per thread.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// Session owns one conversation: an ordered message log whose ids are
// monotonic, a FIFO pending queue drained once a thread exists, and the
// streaming flag consumers key off to know when a message has settled.
type Session struct {
	mu         sync.Mutex
	dispatcher Dispatcher
	timer      timers.Timer
	store      store.Store
	stagger    time.Duration

	threadID   string
	messages   []models.Message
	nextID     int64
	pending    []string
	pendingIdx int
	draining   bool
	streaming  bool
	streamText string
}

// NewSession creates a chat session.
func NewSession(dispatcher Dispatcher, timer timers.Timer, opts ...Option) *Session {
	cfg := Opts{Stagger: DefaultStagger}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{
		dispatcher: dispatcher,
		timer:      timer,
		store:      cfg.Store,
		stagger:    cfg.Stagger,
	}
}

// CreateThread establishes the backend thread. Idempotent: when a thread
// identity already exists this is a no-op.
func (s *Session) CreateThread(ctx context.Context) error {
	s.mu.Lock()
	if s.threadID != "" {
		s.mu.Unlock()
		slog.Debug("ChatSession CreateThread no-op, thread exists")
		return nil
	}
	s.mu.Unlock()

	id, err := s.dispatcher.CreateThread(ctx)
	if err != nil {
		slog.Error("ChatSession CreateThread failed", "error", err)
		return err
	}

	s.mu.Lock()
	if s.threadID == "" {
		s.threadID = id
	}
	s.maybeStartDrainLocked(ctx)
	s.mu.Unlock()

	slog.Info("ChatSession thread created", "threadID", id)
	return nil
}

// Enqueue appends text to the pending queue. Items are dispatched strictly
// in order once a thread exists, with the stagger delay between items.
func (s *Session) Enqueue(ctx context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, text)
	slog.Debug("ChatSession Enqueue", "queued", len(s.pending)-s.pendingIdx)
	s.maybeStartDrainLocked(ctx)
}

func (s *Session) maybeStartDrainLocked(ctx context.Context) {
	if s.threadID == "" || s.draining || s.pendingIdx >= len(s.pending) {
		return
	}
	s.draining = true
	// The drain outlives the request that enqueued the item; detach from
	// its cancellation so timer-fired dispatches still go through.
	drainCtx := context.WithoutCancel(ctx)
	// The first item goes through the timer too, so every dispatch shares
	// one code path and tests can drive the queue deterministically.
	s.timer.ScheduleAfter(0, func() { s.drainStep(drainCtx) })
}

// drainStep dispatches the next queue item, then either schedules the
// following one after the stagger delay or clears the queue when the final
// item has been sent.
func (s *Session) drainStep(ctx context.Context) {
	s.mu.Lock()
	if s.pendingIdx >= len(s.pending) {
		s.finishDrainLocked()
		s.mu.Unlock()
		return
	}
	text := s.pending[s.pendingIdx]
	s.pendingIdx++
	threadID := s.threadID
	s.mu.Unlock()

	if err := s.dispatcher.SendChatMessage(ctx, threadID, text); err != nil {
		// One failed item must not stall the rest of the queue.
		slog.Warn("ChatSession dispatch failed, continuing", "error", err)
	} else {
		s.mu.Lock()
		s.appendLocked(models.RoleUser, text)
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingIdx >= len(s.pending) {
		s.finishDrainLocked()
		return
	}
	s.timer.ScheduleAfter(s.stagger, func() { s.drainStep(ctx) })
}

func (s *Session) finishDrainLocked() {
	s.pending = nil
	s.pendingIdx = 0
	s.draining = false
	slog.Debug("ChatSession pending queue drained")
}

// AppendIncoming appends a complete assistant message to the log.
func (s *Session) AppendIncoming(content string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(models.RoleAssistant, content)
}

// BeginStreaming raises the streaming flag and resets the partial text.
func (s *Session) BeginStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = true
	s.streamText = ""
	slog.Debug("ChatSession streaming started")
}

// AppendStreamChunk extends the in-place partial while streaming.
func (s *Session) AppendStreamChunk(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		slog.Warn("ChatSession AppendStreamChunk outside streaming, dropped")
		return
	}
	s.streamText += chunk
}

// EndStreaming finalizes the partial into the log and clears the flag.
// Consumers waiting on "message settled" key off this transition.
func (s *Session) EndStreaming() (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return models.Message{}, false
	}
	msg := s.appendLocked(models.RoleAssistant, s.streamText)
	s.streaming = false
	s.streamText = ""
	slog.Debug("ChatSession streaming finalized", "messageID", msg.ID)
	return msg, true
}

// StartAgain truncates the message log to its first three entries and drops
// any queued outbound texts. The thread identity is kept.
func (s *Session) StartAgain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) > 3 {
		s.messages = s.messages[:3]
	}
	s.pending = nil
	s.pendingIdx = 0
	s.streaming = false
	s.streamText = ""
	s.persistTruncationLocked()
	slog.Info("ChatSession restarted", "messages", len(s.messages))
}

// Reset clears the whole session, including the thread identity.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil && s.threadID != "" {
		if err := s.store.DeleteMessages(s.threadID); err != nil {
			slog.Warn("ChatSession Reset failed to delete persisted messages", "error", err)
		}
	}
	s.threadID = ""
	s.messages = nil
	s.nextID = 0
	s.pending = nil
	s.pendingIdx = 0
	s.draining = false
	s.streaming = false
	s.streamText = ""
	slog.Info("ChatSession reset")
}

// Restore rehydrates the log for a persisted thread.
func (s *Session) Restore(threadID string) error {
	if s.store == nil {
		return nil
	}
	msgs, err := s.store.GetMessages(threadID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadID = threadID
	s.messages = msgs
	s.nextID = 0
	for _, m := range msgs {
		if m.ID > s.nextID {
			s.nextID = m.ID
		}
	}
	slog.Info("ChatSession restored", "threadID", threadID, "messages", len(msgs))
	return nil
}

// Messages returns a copy of the log.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LatestMessage returns the newest log entry, if any.
func (s *Session) LatestMessage() (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return models.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// IsStreaming reports whether a response is currently streaming.
func (s *Session) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// StreamingText returns the current partial response text.
func (s *Session) StreamingText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamText
}

// ThreadID returns the thread identity, empty before CreateThread.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// PendingCount returns the number of undispatched queue items.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) - s.pendingIdx
}

func (s *Session) appendLocked(role models.Role, content string) models.Message {
	s.nextID++
	msg := models.Message{
		ID:        s.nextID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.messages = append(s.messages, msg)
	if s.store != nil && s.threadID != "" {
		if err := s.store.AddMessage(s.threadID, msg); err != nil {
			slog.Warn("ChatSession failed to persist message", "error", err, "messageID", msg.ID)
		}
	}
	return msg
}

func (s *Session) persistTruncationLocked() {
	if s.store == nil || s.threadID == "" {
		return
	}
	if err := s.store.DeleteMessages(s.threadID); err != nil {
		slog.Warn("ChatSession truncation delete failed", "error", err)
		return
	}
	for _, m := range s.messages {
		if err := s.store.AddMessage(s.threadID, m); err != nil {
			slog.Warn("ChatSession truncation rewrite failed", "error", err, "messageID", m.ID)
		}
	}
}
