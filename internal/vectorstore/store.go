package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Document is one embedded fragment handed to a Store for indexing.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// Context is a retrieved fragment with its similarity score, as consumed by
// the answer pipeline.
type Context struct {
	Content         string  `json:"content"`
	FilePath        string  `json:"file_path"`
	SimilarityScore float64 `json:"similarity_score"`
	StartLine       int     `json:"start_line"`
	EndLine         int     `json:"end_line"`
}

// SearchOptions narrows a similarity search. Include and Exclude are
// case-insensitive substring filters on the document file path, applied
// after ranking and before topK truncation.
type SearchOptions struct {
	TopK      int
	Threshold float64
	Include   []string
	Exclude   []string
}

// StoreError wraps vector store failures. Validation reports malformed input
// rather than a backend fault.
type StoreError struct {
	Op         string
	Collection string
	Validation bool
	Err        error
}

func (e *StoreError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("vector store %s (%s): %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store is the similarity index. One collection holds one session's vectors;
// creating a collection that already exists drops its previous contents.
type Store interface {
	CreateCollection(ctx context.Context, sessionID string) error
	AddVectors(ctx context.Context, sessionID string, docs []Document) error
	Search(ctx context.Context, sessionID string, queryEmbedding []float32, opts SearchOptions) ([]Context, error)
	DeleteCollection(ctx context.Context, sessionID string) error
}

func collectionName(sessionID string) string {
	return "repo_" + sessionID
}

// discardUnembedded drops documents that carry no embedding, logging each
// one, so a partially failed embedding batch still indexes its valid
// remainder. A non-empty batch left with nothing to store is a validation
// error.
func discardUnembedded(collection string, docs []Document) ([]Document, error) {
	valid := make([]Document, 0, len(docs))
	for _, d := range docs {
		if len(d.Embedding) == 0 {
			log.Printf("⚠️  Skipping document %s: no embedding", d.ID)
			continue
		}
		valid = append(valid, d)
	}
	if len(valid) == 0 && len(docs) > 0 {
		return nil, &StoreError{Op: "add", Collection: collection, Validation: true,
			Err: errors.New("no documents with embeddings to store")}
	}
	return valid, nil
}
