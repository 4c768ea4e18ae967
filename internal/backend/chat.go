package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/careloop/engageflow/internal/models"
)

// CreateThread opens a chat thread on the backend and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var result struct {
		StatusCode int    `json:"status_code"`
		ThreadID   string `json:"thread_id"`
	}
	if err := c.post(ctx, "/threads", struct{}{}, &result); err != nil {
		return "", err
	}
	if result.ThreadID == "" {
		return "", fmt.Errorf("create thread returned no id: %w", models.ErrBackendRejected)
	}
	return result.ThreadID, nil
}

// SendChatMessage dispatches one outbound message to a thread.
func (c *Client) SendChatMessage(ctx context.Context, threadID, text string) error {
	if threadID == "" {
		return models.ErrNoThread
	}
	return c.post(ctx, "/threads/"+threadID+"/messages", map[string]string{"text": text}, nil)
}

// GenerateQuickReplies asks the backend for short suggested utterances.
// searchText, when set, turns the call into an MCQ-style lookup.
func (c *Client) GenerateQuickReplies(ctx context.Context, messages []models.Message, searchText string) ([]string, error) {
	body := struct {
		Messages   []models.Message `json:"messages"`
		SearchText string           `json:"search_text,omitempty"`
	}{Messages: messages, SearchText: searchText}

	var result struct {
		QuickReplies []string `json:"quick_replies"`
	}
	if err := c.post(ctx, "/generate_quick_replies", body, &result); err != nil {
		return nil, err
	}
	slog.Debug("Backend GenerateQuickReplies succeeded", "count", len(result.QuickReplies))
	return result.QuickReplies, nil
}

// GenerateIntelligentOptions asks the backend for context-derived
// affordances: button options or structured input fields.
func (c *Client) GenerateIntelligentOptions(ctx context.Context, messages []models.Message, lastAssistantMessage string) (*models.IntelligentOptions, error) {
	body := struct {
		Messages             []models.Message `json:"messages"`
		LastAssistantMessage string           `json:"last_assistant_message"`
	}{Messages: messages, LastAssistantMessage: lastAssistantMessage}

	var result models.IntelligentOptions
	if err := c.post(ctx, "/generate_intelligent_options", body, &result); err != nil {
		return nil, err
	}
	slog.Debug("Backend GenerateIntelligentOptions succeeded",
		"options", len(result.Options), "inputFields", len(result.InputFields), "optionType", result.OptionType)
	return &result, nil
}
