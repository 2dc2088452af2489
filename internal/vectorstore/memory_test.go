package vectorstore

import (
	"context"
	"testing"
)

func doc(id, path string, embedding []float32) Document {
	return Document{
		ID:        id,
		Content:   "content of " + id,
		Embedding: embedding,
		Metadata: map[string]string{
			"file_path":  path,
			"start_line": "1",
			"end_line":   "5",
		},
	}
}

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateCollection(ctx, "sess"); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	err := s.AddVectors(ctx, "sess", []Document{
		doc("a", "main.go", []float32{1, 0, 0}),
		doc("b", "util.go", []float32{0.9, 0.1, 0}),
		doc("c", "tests/util_test.go", []float32{0.8, 0.2, 0}),
		doc("d", "README.md", []float32{0, 1, 0}),
	})
	if err != nil {
		t.Fatalf("add vectors: %v", err)
	}
	return s
}

func TestSearchRanksDescending(t *testing.T) {
	s := seedStore(t)
	got, err := s.Search(context.Background(), "sess", []float32{1, 0, 0}, SearchOptions{TopK: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 results, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].SimilarityScore > got[i-1].SimilarityScore {
			t.Fatalf("results not in descending order at %d", i)
		}
	}
	if got[0].FilePath != "main.go" {
		t.Errorf("expected main.go first, got %s", got[0].FilePath)
	}
}

func TestSearchTopKAndThreshold(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	got, _ := s.Search(ctx, "sess", []float32{1, 0, 0}, SearchOptions{TopK: 2})
	if len(got) != 2 {
		t.Errorf("topK not honored: got %d", len(got))
	}

	got, _ = s.Search(ctx, "sess", []float32{1, 0, 0}, SearchOptions{TopK: 10, Threshold: 0.5})
	for _, c := range got {
		if c.SimilarityScore < 0.5 {
			t.Errorf("result below threshold: %f", c.SimilarityScore)
		}
	}
}

func TestSearchExcludeFilter(t *testing.T) {
	s := seedStore(t)
	got, err := s.Search(context.Background(), "sess", []float32{1, 0, 0}, SearchOptions{
		TopK:    10,
		Exclude: []string{"test"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, c := range got {
		if c.FilePath == "tests/util_test.go" {
			t.Error("excluded path returned")
		}
	}
}

func TestSearchIncludeFilter(t *testing.T) {
	s := seedStore(t)
	got, err := s.Search(context.Background(), "sess", []float32{1, 0, 0}, SearchOptions{
		TopK:    10,
		Include: []string{".md"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].FilePath != "README.md" {
		t.Errorf("include filter failed: %v", got)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	s := seedStore(t)
	_, err := s.Search(context.Background(), "sess", []float32{1, 0}, SearchOptions{TopK: 3})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	storeErr, ok := err.(*StoreError)
	if !ok || !storeErr.Validation {
		t.Errorf("expected validation StoreError, got %v", err)
	}
}

func TestAddVectorsDiscardsUnembedded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.CreateCollection(ctx, "sess")

	err := s.AddVectors(ctx, "sess", []Document{
		doc("good", "main.go", []float32{1, 0, 0}),
		doc("bad", "broken.go", nil),
	})
	if err != nil {
		t.Fatalf("mixed batch should store the valid documents: %v", err)
	}

	got, err := s.Search(ctx, "sess", []float32{1, 0, 0}, SearchOptions{TopK: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].FilePath != "main.go" {
		t.Fatalf("expected only the embedded document stored, got %v", got)
	}
}

func TestAddVectorsAllUnembedded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.CreateCollection(ctx, "sess")

	err := s.AddVectors(ctx, "sess", []Document{{ID: "x", Content: "no vector"}})
	if err == nil {
		t.Fatal("expected validation error when no document has an embedding")
	}
	storeErr, ok := err.(*StoreError)
	if !ok || !storeErr.Validation {
		t.Errorf("expected validation StoreError, got %v", err)
	}
}

func TestCreateCollectionDropsPrevious(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	if err := s.CreateCollection(ctx, "sess"); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	got, err := s.Search(ctx, "sess", []float32{1, 0, 0}, SearchOptions{TopK: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("recreated collection should be empty, got %d results", len(got))
	}
}

func TestDeleteCollection(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	if err := s.DeleteCollection(ctx, "sess"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Search(ctx, "sess", []float32{1, 0, 0}, SearchOptions{TopK: 1}); err == nil {
		t.Fatal("expected search on deleted collection to fail")
	}
}
