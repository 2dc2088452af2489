package vectorstore

import (
	"context"
	"errors"
	"log"
	"runtime"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemStore is the persistent similarity index, one chromem collection per
// session, surviving process restarts via the persist directory.
type ChromemStore struct {
	db *chromem.DB
}

// NewChromemStore opens (or creates) a persistent chromem database at dir.
func NewChromemStore(dir string) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	return &ChromemStore{db: db}, nil
}

// CreateCollection creates the session's collection, dropping any prior one
// under the same name.
func (s *ChromemStore) CreateCollection(_ context.Context, sessionID string) error {
	name := collectionName(sessionID)
	if s.db.GetCollection(name, nil) != nil {
		if err := s.db.DeleteCollection(name); err != nil {
			return &StoreError{Op: "create", Collection: name, Err: err}
		}
		log.Printf("🗑️  Dropped existing collection %s", name)
	}
	if _, err := s.db.CreateCollection(name, nil, nil); err != nil {
		return &StoreError{Op: "create", Collection: name, Err: err}
	}
	return nil
}

// AddVectors stores pre-embedded documents in the session's collection.
// Documents without an embedding are discarded, not fatal.
func (s *ChromemStore) AddVectors(ctx context.Context, sessionID string, docs []Document) error {
	name := collectionName(sessionID)
	if len(docs) == 0 {
		return nil
	}
	col := s.db.GetCollection(name, nil)
	if col == nil {
		return &StoreError{Op: "add", Collection: name, Err: errors.New("collection does not exist")}
	}

	valid, err := discardUnembedded(name, docs)
	if err != nil {
		return err
	}
	out := make([]chromem.Document, 0, len(valid))
	for _, d := range valid {
		out = append(out, chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: d.Embedding,
		})
	}
	if err := col.AddDocuments(ctx, out, runtime.NumCPU()); err != nil {
		return &StoreError{Op: "add", Collection: name, Err: err}
	}
	return nil
}

// Search queries the whole collection, then applies the path filters and
// threshold before truncating to topK, matching the memory backend's
// contract.
func (s *ChromemStore) Search(ctx context.Context, sessionID string, queryEmbedding []float32, opts SearchOptions) ([]Context, error) {
	name := collectionName(sessionID)
	col := s.db.GetCollection(name, nil)
	if col == nil {
		return nil, &StoreError{Op: "search", Collection: name, Err: errors.New("collection does not exist")}
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, queryEmbedding, count, nil, nil)
	if err != nil {
		return nil, &StoreError{Op: "search", Collection: name, Err: err}
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}

	var out []Context
	for _, r := range results {
		path := r.Metadata["file_path"]
		if !pathAllowed(path, opts.Include, opts.Exclude) {
			continue
		}
		score := float64(r.Similarity)
		if score < opts.Threshold {
			break
		}
		start, _ := strconv.Atoi(r.Metadata["start_line"])
		end, _ := strconv.Atoi(r.Metadata["end_line"])
		out = append(out, Context{
			Content:         r.Content,
			FilePath:        path,
			SimilarityScore: score,
			StartLine:       start,
			EndLine:         end,
		})
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

// DeleteCollection removes the session's collection from the database and
// the persist directory.
func (s *ChromemStore) DeleteCollection(_ context.Context, sessionID string) error {
	name := collectionName(sessionID)
	if s.db.GetCollection(name, nil) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return &StoreError{Op: "delete", Collection: name, Err: err}
	}
	return nil
}
