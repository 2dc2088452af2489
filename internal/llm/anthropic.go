package llm

import (
	"context"
	"errors"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicClient implements Completer against the Anthropic Messages API.
// Anthropic has no embedding endpoint, so an OpenAI embedder is still needed
// alongside it.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates an Anthropic completion client.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = "claude-3-sonnet-20240229"
	}
	return &AnthropicClient{
		client: anthropic.NewClient(apiKey),
		model:  model,
	}
}

// Complete runs a messages request and returns the concatenated text blocks.
// System messages become the request's system prompt; Anthropic does not
// accept them in the message list.
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	var systemParts []anthropic.MessageSystemPart
	var msgs []anthropic.Message

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, anthropic.MessageSystemPart{
				Type: "text",
				Text: m.Content,
			})
		case RoleAssistant:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
			})
		default:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
			})
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if len(systemParts) > 0 {
		req.MultiSystem = systemParts
	}
	if opts.Temperature > 0 {
		temp := opts.Temperature
		req.Temperature = &temp
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return "", &Error{Provider: "anthropic", Op: "complete", Err: err}
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text += *block.Text
		}
	}
	if text == "" {
		return "", &Error{Provider: "anthropic", Op: "complete", Err: errors.New("empty response")}
	}
	return text, nil
}
