// Package suggest derives quick replies, MCQ search results, and
// intelligent options from the conversation, with debouncing and
// stale-result protection.
package suggest

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/careloop/engageflow/internal/models"
	"github.com/careloop/engageflow/internal/timers"
)

// SearchDebounce is how long typing must be idle before an MCQ search fires.
const SearchDebounce = 600 * time.Millisecond

// fallbackQuickReplies is substituted on any generation failure so the user
// is never left without actionable options.
var fallbackQuickReplies = []string{
	"Tell me more",
	"What are my options?",
	"I have a different question",
}

// Provider generates suggestion content. Implemented by the backend client
// and the genai client.
type Provider interface {
	GenerateQuickReplies(ctx context.Context, messages []models.Message, searchText string) ([]string, error)
	GenerateIntelligentOptions(ctx context.Context, messages []models.Message, lastAssistantMessage string) (*models.IntelligentOptions, error)
}

// Conversation is the read-only view of the chat session the engine
// observes. It never mutates the session.
type Conversation interface {
	Messages() []models.Message
	IsStreaming() bool
}

// Engine owns suggestion state. The generation token (the id of the latest
// assistant message, recorded synchronously before the async call starts)
// serves both as the de-duplication key and as the stale-result guard: a
// result is applied only if the token still matches when it arrives.
type Engine struct {
	mu       sync.Mutex
	provider Provider
	conv     Conversation
	timer    timers.Timer

	state      models.SuggestionState
	token      int64
	debounceID string
	searchText string

	// spawn runs generation off the caller's goroutine; tests replace it
	// to control completion order.
	spawn func(fn func())
}

// NewEngine creates a suggestion engine observing conv.
func NewEngine(provider Provider, conv Conversation, timer timers.Timer) *Engine {
	return &Engine{
		provider: provider,
		conv:     conv,
		timer:    timer,
		state:    models.SuggestionState{Mode: models.SuggestionModeInput},
		spawn:    func(fn func()) { go fn() },
	}
}

// Refresh recomputes suggestions if the conversation warrants it: the latest
// message must be from the assistant, no generation may be in flight for
// that message id, and the session must not be streaming.
func (e *Engine) Refresh(ctx context.Context) {
	msgs := e.conv.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != models.RoleAssistant {
		return
	}
	if e.conv.IsStreaming() {
		return
	}

	e.mu.Lock()
	if e.token == last.ID {
		e.mu.Unlock()
		slog.Debug("SuggestionEngine Refresh skipped, already generated", "messageID", last.ID)
		return
	}
	// Record the token before the async call starts; this is the fixed
	// point that makes generation at-most-once per assistant message.
	e.token = last.ID
	e.state.GeneratedForMessageID = last.ID

	if requiresUpload(last.Content) {
		// Structural override: the upload affordance replaces every other
		// suggestion kind, regardless of what a provider would return.
		e.state.QuickReplies = nil
		e.state.IntelligentOptions = nil
		e.state.IntelligentFields = nil
		e.state.UploadRequired = true
		e.state.Loading = false
		e.mu.Unlock()
		slog.Info("SuggestionEngine suppressed suggestions for upload request", "messageID", last.ID)
		return
	}
	e.state.UploadRequired = false
	e.state.Loading = true
	e.mu.Unlock()

	slog.Debug("SuggestionEngine generation started", "messageID", last.ID)
	// Generation outlives the request that triggered it; detach from its
	// cancellation before handing off.
	genCtx := context.WithoutCancel(ctx)
	e.spawn(func() { e.generate(genCtx, msgs, last) })
}

// generate runs off the caller's goroutine; its result is discarded if the
// token moved on while the call was in flight.
func (e *Engine) generate(ctx context.Context, msgs []models.Message, last models.Message) {
	var quickReplies, options []string
	var fields []models.InputField

	opts, err := e.provider.GenerateIntelligentOptions(ctx, msgs, last.Content)
	switch {
	case err != nil:
		slog.Warn("SuggestionEngine intelligent options failed, using fallback", "error", err, "messageID", last.ID)
		quickReplies = fallbackQuickReplies
	case len(opts.InputFields) > 0:
		fields = opts.InputFields
	case len(opts.Options) > 0:
		options = opts.Options
	default:
		quickReplies, err = e.provider.GenerateQuickReplies(ctx, msgs, "")
		if err != nil || len(quickReplies) == 0 {
			if err != nil {
				slog.Warn("SuggestionEngine quick replies failed, using fallback", "error", err, "messageID", last.ID)
			}
			quickReplies = fallbackQuickReplies
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token != last.ID {
		slog.Debug("SuggestionEngine discarded stale generation", "generatedFor", last.ID, "token", e.token)
		return
	}
	e.state.QuickReplies = quickReplies
	e.state.IntelligentOptions = options
	e.state.IntelligentFields = fields
	e.state.Loading = false
	slog.Debug("SuggestionEngine generation applied", "messageID", last.ID,
		"quickReplies", len(quickReplies), "options", len(options), "fields", len(fields))
}

// SetMode switches between free-text input and MCQ search. Leaving MCQ mode
// cancels any pending debounce timer.
func (e *Engine) SetMode(mode models.SuggestionMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Mode == mode {
		return
	}
	e.state.Mode = mode
	if mode != models.SuggestionModeMCQ {
		e.cancelDebounceLocked()
		e.state.MCQResults = nil
		e.searchText = ""
	}
	slog.Debug("SuggestionEngine mode changed", "mode", mode)
}

// SearchInput records MCQ typing and restarts the idle debounce; the search
// fires only after SearchDebounce of no further keystrokes.
func (e *Engine) SearchInput(ctx context.Context, text string) {
	e.mu.Lock()
	if e.state.Mode != models.SuggestionModeMCQ {
		e.mu.Unlock()
		return
	}
	e.searchText = text
	e.cancelDebounceLocked()
	// The debounce fires after the request is gone; detach its cancellation.
	searchCtx := context.WithoutCancel(ctx)
	id, _ := e.timer.ScheduleAfter(SearchDebounce, func() {
		e.mu.Lock()
		e.debounceID = ""
		current := e.searchText
		inMCQ := e.state.Mode == models.SuggestionModeMCQ
		e.mu.Unlock()
		if inMCQ {
			e.search(searchCtx, current)
		}
	})
	e.debounceID = id
	e.mu.Unlock()
}

// SubmitSearch bypasses the debounce and searches immediately, as for an
// enter keypress or the search icon.
func (e *Engine) SubmitSearch(ctx context.Context, text string) {
	e.mu.Lock()
	if e.state.Mode != models.SuggestionModeMCQ {
		e.mu.Unlock()
		return
	}
	e.searchText = text
	e.cancelDebounceLocked()
	e.mu.Unlock()
	e.search(ctx, text)
}

func (e *Engine) search(ctx context.Context, text string) {
	e.mu.Lock()
	e.state.Loading = true
	e.mu.Unlock()

	results, err := e.provider.GenerateQuickReplies(ctx, e.conv.Messages(), text)
	if err != nil {
		slog.Warn("SuggestionEngine search failed, using fallback", "error", err)
		results = fallbackQuickReplies
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Mode != models.SuggestionModeMCQ {
		// Discarding the result must also settle the loading flag, or the
		// widget spins forever.
		e.state.Loading = false
		slog.Debug("SuggestionEngine discarded search result after mode change")
		return
	}
	e.state.MCQResults = results
	e.state.Loading = false
}

// StreamingStarted clears displayed suggestions and resets the generation
// token: the conversation context is about to change.
func (e *Engine) StreamingStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked()
	slog.Debug("SuggestionEngine cleared for streaming")
}

// Reset drops all suggestion state and tokens, as for "start again" or
// logout. The next Refresh behaves as if the conversation were fresh.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked()
	e.state.Mode = models.SuggestionModeInput
	slog.Info("SuggestionEngine reset")
}

func (e *Engine) clearLocked() {
	e.cancelDebounceLocked()
	e.token = 0
	e.searchText = ""
	e.state.QuickReplies = nil
	e.state.MCQResults = nil
	e.state.IntelligentOptions = nil
	e.state.IntelligentFields = nil
	e.state.UploadRequired = false
	e.state.Loading = false
	e.state.GeneratedForMessageID = 0
}

func (e *Engine) cancelDebounceLocked() {
	if e.debounceID != "" {
		e.timer.Cancel(e.debounceID)
		e.debounceID = ""
	}
}

// Snapshot returns a copy of the current suggestion state.
func (e *Engine) Snapshot() models.SuggestionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.state
	out.QuickReplies = append([]string(nil), e.state.QuickReplies...)
	out.MCQResults = append([]string(nil), e.state.MCQResults...)
	out.IntelligentOptions = append([]string(nil), e.state.IntelligentOptions...)
	out.IntelligentFields = append([]models.InputField(nil), e.state.IntelligentFields...)
	return out
}

// requiresUpload implements the documented heuristic for the structural
// override: the message must mention both "upload" and "insurance card".
func requiresUpload(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "upload") && strings.Contains(lower, "insurance card")
}
