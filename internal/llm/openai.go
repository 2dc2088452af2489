package llm

import (
	"context"
	"errors"
	"log"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

const (
	embeddingDimension = 1536
	embeddingBatchSize = 100
)

// OpenAIClient implements both Embedder and Completer against the OpenAI
// API (or any OpenAI-compatible endpoint via baseURL).
type OpenAIClient struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
}

// NewOpenAIClient creates a client using text-embedding-ada-002 for
// embeddings and the given chat model for completions.
func NewOpenAIClient(apiKey, chatModel, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if chatModel == "" {
		chatModel = openai.GPT4
	}
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(config),
		embeddingModel: openai.AdaEmbeddingV2,
		chatModel:      chatModel,
	}
}

// Embed returns one vector per input text, preserving order. Requests are
// sent in batches of 100 inputs.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := start + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: c.embeddingModel,
		})
		if err != nil {
			return nil, &Error{Provider: "openai", Op: "embed", Err: err}
		}
		if len(resp.Data) != end-start {
			return nil, &Error{Provider: "openai", Op: "embed",
				Err: errors.New("embedding count does not match input count")}
		}
		for _, d := range resp.Data {
			out = append(out, d.Embedding)
		}
		if end < len(texts) {
			log.Printf("📊 Embedded %d/%d texts", end, len(texts))
		}
	}
	return out, nil
}

// Dimension returns the embedding vector length.
func (c *OpenAIClient) Dimension() int { return embeddingDimension }

// Complete runs a chat completion and returns the assistant text.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: msgs,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}
	if opts.TopP > 0 {
		req.TopP = opts.TopP
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &Error{Provider: "openai", Op: "complete", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: "openai", Op: "complete", Err: errors.New("empty response")}
	}
	return resp.Choices[0].Message.Content, nil
}
