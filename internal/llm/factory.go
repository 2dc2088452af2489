package llm

import (
	"fmt"
	"os"
)

// NewFromEnv builds the embedder and completer from environment variables.
// Embeddings always come from OpenAI; LLM_PROVIDER selects the completer
// (openai by default, anthropic as the alternative).
func NewFromEnv() (Embedder, Completer, error) {
	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		return nil, nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	openaiClient := NewOpenAIClient(openaiKey, os.Getenv("OPENAI_MODEL"), os.Getenv("OPENAI_BASE_URL"))

	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "openai":
		return openaiClient, openaiClient, nil

	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		completer := NewAnthropicClient(apiKey, os.Getenv("ANTHROPIC_MODEL"))
		return openaiClient, completer, nil

	default:
		return nil, nil, fmt.Errorf("unknown LLM_PROVIDER: %s (supported: openai, anthropic)", provider)
	}
}
