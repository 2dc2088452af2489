package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/gitsleuth/internal/llm"
	"github.com/ChamsBouzaiene/gitsleuth/internal/vectorstore"
)

// stubCompleter returns a canned answer and records the prompt it saw.
type stubCompleter struct {
	answer     string
	fail       bool
	lastPrompt string
}

func (c *stubCompleter) Complete(_ context.Context, messages []llm.Message, _ llm.CompletionOptions) (string, error) {
	if c.fail {
		return "", errors.New("completion backend down")
	}
	for _, m := range messages {
		if m.Role == llm.RoleUser {
			c.lastPrompt = m.Content
		}
	}
	return c.answer, nil
}

func TestDetermineConfidence(t *testing.T) {
	cases := []struct {
		answer string
		want   string
	}{
		{"Based on the code in the file main.go, the handler retries.", "high"},
		{"The function processRequest is defined in server.go at line 42.", "high"},
		{"It might be related to caching, but I don't see the implementation.", "low"},
		{"The service stores responses in two tiers.", "medium"},
	}
	for _, tc := range cases {
		if got := determineConfidence(tc.answer); got != tc.want {
			t.Errorf("determineConfidence(%q) = %s, want %s", tc.answer, got, tc.want)
		}
	}
}

func TestPipelineQueryNoContexts(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	store.CreateCollection(context.Background(), "sess")

	retriever := NewRetriever(&stubEmbedder{vector: []float32{1, 0, 0}}, store, 5, 0.15)
	p := NewPipeline(retriever, &stubCompleter{answer: "unused"})

	resp, err := p.Query(context.Background(), "where is the config?", "sess")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Confidence != "low" {
		t.Errorf("empty retrieval should be low confidence, got %s", resp.Confidence)
	}
	if !strings.Contains(resp.Answer, "couldn't find any relevant code context") {
		t.Errorf("unexpected answer: %s", resp.Answer)
	}
}

func TestPipelineQueryAttachesSources(t *testing.T) {
	store := seedRetrievalStore(t)
	retriever := NewRetriever(&stubEmbedder{vector: []float32{1, 0, 0}}, store, 5, 0.15)
	completer := &stubCompleter{answer: "The handler is defined in src/handler.go at line 1."}
	p := NewPipeline(retriever, completer)

	resp, err := p.Query(context.Background(), "where is the handler?", "sess")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Confidence != "high" {
		t.Errorf("expected high confidence, got %s", resp.Confidence)
	}
	if len(resp.Sources) == 0 {
		t.Fatal("expected source references")
	}
	if resp.Sources[0].File != "src/handler.go" {
		t.Errorf("expected top source src/handler.go, got %s", resp.Sources[0].File)
	}
	if !strings.Contains(completer.lastPrompt, "## PROVIDED CODE CONTEXT:") {
		t.Error("prompt missing context section")
	}
	if !strings.Contains(completer.lastPrompt, "💻 SOURCE CODE") {
		t.Error("prompt missing source code category")
	}
}

func TestPipelineQuerySynthesisFailure(t *testing.T) {
	store := seedRetrievalStore(t)
	retriever := NewRetriever(&stubEmbedder{vector: []float32{1, 0, 0}}, store, 5, 0.15)
	p := NewPipeline(retriever, &stubCompleter{fail: true})

	_, err := p.Query(context.Background(), "where is the handler?", "sess")
	var qe *QueryError
	if !errors.As(err, &qe) || qe.Stage != "synthesize" {
		t.Fatalf("expected synthesize-stage QueryError, got %v", err)
	}
}
