// Package genai generates chat suggestions using the OpenAI API.
//
// It is one of two suggestion providers; the other is the engagement
// backend's own generation endpoints.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/careloop/engageflow/internal/models"
)

const quickReplySystemPrompt = `You suggest short replies a patient might tap after an assistant message in a healthcare support chat.
Return a JSON array of at most 4 strings, each under 40 characters. Return only the JSON array.`

const intelligentOptionsSystemPrompt = `You derive the next input affordance for a healthcare support chat.
Given the conversation, decide whether the patient should pick from button options or fill structured input fields (for example a zip code or phone number).
Return only a JSON object of the form {"options":["..."],"input_fields":[{"name":"...","label":"...","type":"..."}],"option_type":"buttons"|"input_fields"}.`

// chatService is the minimal chat-completion surface, mockable in tests.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionService adapts the OpenAI SDK to chatService.
type completionService struct {
	completions openai.ChatCompletionService
}

func (s completionService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client generates suggestion content with OpenAI chat completions.
type Client struct {
	chat  chatService
	model string
}

// NewClient creates a GenAI client, falling back to the OPENAI_API_KEY
// environment variable when no key option is given.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: openai.ChatModelGPT4oMini}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: completionService{completions: cli.Chat.Completions}, model: cfg.Model}, nil
}

// GenerateQuickReplies derives short tappable replies from the conversation.
// A non-empty searchText turns the call into an MCQ-style lookup.
func (c *Client) GenerateQuickReplies(ctx context.Context, messages []models.Message, searchText string) ([]string, error) {
	user := renderConversation(messages)
	if searchText != "" {
		user += "\n\nThe patient is searching for options matching: " + searchText
	}

	content, err := c.complete(ctx, quickReplySystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var replies []string
	if err := json.Unmarshal([]byte(extractJSON(content)), &replies); err != nil {
		slog.Warn("GenAI quick reply response was not valid JSON", "error", err)
		return nil, fmt.Errorf("parse quick replies: %w", err)
	}
	return replies, nil
}

// GenerateIntelligentOptions derives button options or structured input
// fields from the conversation.
func (c *Client) GenerateIntelligentOptions(ctx context.Context, messages []models.Message, lastAssistantMessage string) (*models.IntelligentOptions, error) {
	user := renderConversation(messages) + "\n\nLatest assistant message:\n" + lastAssistantMessage

	content, err := c.complete(ctx, intelligentOptionsSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var opts models.IntelligentOptions
	if err := json.Unmarshal([]byte(extractJSON(content)), &opts); err != nil {
		slog.Warn("GenAI intelligent options response was not valid JSON", "error", err)
		return nil, fmt.Errorf("parse intelligent options: %w", err)
	}
	return &opts, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func renderConversation(messages []models.Message) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// extractJSON trims markdown fences some models wrap around JSON output.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
