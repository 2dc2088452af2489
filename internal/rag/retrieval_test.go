package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/ChamsBouzaiene/gitsleuth/internal/vectorstore"
)

// stubEmbedder returns a fixed vector for any input.
type stubEmbedder struct {
	vector []float32
	fail   bool
	empty  bool
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("embedder down")
	}
	if e.empty {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func (e *stubEmbedder) Dimension() int { return len(e.vector) }

func seedRetrievalStore(t *testing.T) vectorstore.Store {
	t.Helper()
	s := vectorstore.NewMemoryStore()
	ctx := context.Background()
	s.CreateCollection(ctx, "sess")

	mk := func(id, path string, score float32) vectorstore.Document {
		return vectorstore.Document{
			ID:        id,
			Content:   "content " + id,
			Embedding: []float32{score, 1 - score, 0},
			Metadata:  map[string]string{"file_path": path, "start_line": "1", "end_line": "3"},
		}
	}
	err := s.AddVectors(ctx, "sess", []vectorstore.Document{
		mk("a", "src/handler.go", 0.95),
		mk("b", "README.md", 0.6),
		mk("c", "src/handler_test.go", 0.9),
		mk("d", "docs/notes.txt", 0.3),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func TestIsGeneralQuestion(t *testing.T) {
	r := NewRetriever(&stubEmbedder{vector: []float32{1, 0, 0}}, nil, 5, 0.15)

	general := []string{
		"Tell me about this project",
		"give me an OVERVIEW of the code",
		"what does this do?",
	}
	for _, q := range general {
		if !r.IsGeneralQuestion(q) {
			t.Errorf("%q should be classified as general", q)
		}
	}
	if r.IsGeneralQuestion("where is the retry logic for uploads?") {
		t.Error("specific question misclassified as general")
	}
}

func TestRetrieveSpecificUsesConfiguredBounds(t *testing.T) {
	store := seedRetrievalStore(t)
	r := NewRetriever(&stubEmbedder{vector: []float32{1, 0, 0}}, store, 2, 0.15)

	got, err := r.Retrieve(context.Background(), "where is the handler?", "sess", 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) > 2 {
		t.Errorf("expected at most topK=2 contexts, got %d", len(got))
	}
}

func TestRetrieveGeneralPrioritizesImportantFiles(t *testing.T) {
	store := seedRetrievalStore(t)
	r := NewRetriever(&stubEmbedder{vector: []float32{1, 0, 0}}, store, 5, 0.15)

	got, err := r.Retrieve(context.Background(), "tell me about this project", "sess", 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected contexts for general question")
	}
	if got[0].FilePath != "README.md" {
		t.Errorf("expected README.md first for project overview, got %s", got[0].FilePath)
	}
	for _, c := range got {
		if c.FilePath == "src/handler_test.go" {
			t.Error("noise path should be excluded from general retrieval")
		}
	}
}

func TestRetrieveEmptyEmbedderResult(t *testing.T) {
	r := NewRetriever(&stubEmbedder{empty: true}, seedRetrievalStore(t), 5, 0.15)
	_, err := r.Retrieve(context.Background(), "anything", "sess", 0)
	var qe *QueryError
	if !errors.As(err, &qe) || qe.Stage != "embed" {
		t.Fatalf("expected embed-stage QueryError for empty embedding result, got %v", err)
	}
}

func TestRetrieveEmbedFailure(t *testing.T) {
	r := NewRetriever(&stubEmbedder{fail: true}, seedRetrievalStore(t), 5, 0.15)
	_, err := r.Retrieve(context.Background(), "anything", "sess", 0)
	var qe *QueryError
	if !errors.As(err, &qe) || qe.Stage != "embed" {
		t.Fatalf("expected embed-stage QueryError, got %v", err)
	}
}
