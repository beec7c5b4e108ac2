// Package claude implements playbook.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/aegis/internal/playbook"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Client implements playbook.Provider for the Claude API.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// New creates a Claude client. maxTokens is the default completion cap when a
// request does not set one. Extra request options (base URL, HTTP client)
// are passed through to the SDK.
func New(apiKey, model string, maxTokens, maxRetries int, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(maxRetries),
	}
	return &Client{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends a single user turn and returns the text of the reply.
func (c *Client) Generate(ctx context.Context, req *playbook.GenerateRequest) (*playbook.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("claude api error %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("claude request: %w", err)
	}
	return toCompletion(msg), nil
}

// toCompletion joins the text blocks of msg; other block types are ignored.
func toCompletion(msg *anthropic.Message) *playbook.Completion {
	var sb strings.Builder
	for i := range msg.Content {
		block := &msg.Content[i]
		if block.Type != "text" {
			continue
		}
		sb.WriteString(block.Text)
	}
	return &playbook.Completion{
		Text:         sb.String(),
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
}
