package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"

	"github.com/careloop/engageflow/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp openai.ChatCompletion
	err  error
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	return m.resp, m.err
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerateQuickReplies_ParsesJSONArray(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completionWith(`["Yes","No"]`)}, model: "test-model"}

	replies, err := client.GenerateQuickReplies(context.Background(), []models.Message{
		{ID: 1, Role: models.RoleAssistant, Content: "Shall we continue?"},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 2 || replies[0] != "Yes" {
		t.Errorf("unexpected replies: %v", replies)
	}
}

func TestGenerateQuickReplies_StripsMarkdownFence(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completionWith("```json\n[\"Maybe\"]\n```")}, model: "test-model"}

	replies, err := client.GenerateQuickReplies(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 1 || replies[0] != "Maybe" {
		t.Errorf("unexpected replies: %v", replies)
	}
}

func TestGenerateQuickReplies_InvalidJSON(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completionWith("not json")}, model: "test-model"}

	if _, err := client.GenerateQuickReplies(context.Background(), nil, ""); err == nil {
		t.Error("expected parse error for non-JSON output")
	}
}

func TestGenerateIntelligentOptions_InputFields(t *testing.T) {
	body := `{"input_fields":[{"name":"zip_code","label":"ZIP code","type":"text"}],"option_type":"input_fields"}`
	client := &Client{chat: &mockChatService{resp: completionWith(body)}, model: "test-model"}

	opts, err := client.GenerateIntelligentOptions(context.Background(), nil, "What is your ZIP code?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts.InputFields) != 1 || opts.InputFields[0].Name != "zip_code" {
		t.Errorf("unexpected input fields: %+v", opts.InputFields)
	}
	if opts.OptionType != "input_fields" {
		t.Errorf("unexpected option type: %q", opts.OptionType)
	}
}

func TestGenerate_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}, model: "test-model"}

	if _, err := client.GenerateQuickReplies(context.Background(), nil, ""); err == nil {
		t.Error("expected service error to surface")
	}
	if _, err := client.GenerateIntelligentOptions(context.Background(), nil, "hi"); err == nil {
		t.Error("expected service error to surface")
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}, model: "test-model"}

	if _, err := client.GenerateQuickReplies(context.Background(), nil, ""); err == nil {
		t.Error("expected error when no choices returned")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key not provided")
	}
}
