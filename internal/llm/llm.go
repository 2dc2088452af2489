// Package llm holds the embedding and completion provider clients. The rest
// of the system depends on the two interfaces only; providers are selected
// at startup by the factory.
package llm

import (
	"context"
	"fmt"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionOptions tunes a single completion call. Zero values mean
// provider defaults.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Completer generates an answer from a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
}

// Error wraps provider failures with the provider and operation that failed.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
