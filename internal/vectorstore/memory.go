package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is a brute-force cosine similarity index kept entirely in
// memory. It is the fallback backend when the persistent store cannot start.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Document)}
}

// CreateCollection registers an empty collection, dropping any prior one
// under the same session.
func (s *MemoryStore) CreateCollection(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collectionName(sessionID)] = nil
	return nil
}

// AddVectors appends documents to the session's collection. Documents
// without an embedding are discarded, not fatal.
func (s *MemoryStore) AddVectors(_ context.Context, sessionID string, docs []Document) error {
	name := collectionName(sessionID)
	valid, err := discardUnembedded(name, docs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		return &StoreError{Op: "add", Collection: name, Err: errors.New("collection does not exist")}
	}
	s.collections[name] = append(s.collections[name], valid...)
	return nil
}

// Search ranks all documents by cosine similarity, applies path filters and
// the score threshold, and returns at most opts.TopK contexts in descending
// score order.
func (s *MemoryStore) Search(_ context.Context, sessionID string, queryEmbedding []float32, opts SearchOptions) ([]Context, error) {
	name := collectionName(sessionID)

	s.mu.RLock()
	docs, ok := s.collections[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &StoreError{Op: "search", Collection: name, Err: errors.New("collection does not exist")}
	}

	type scored struct {
		doc   Document
		score float64
	}
	ranked := make([]scored, 0, len(docs))
	for _, d := range docs {
		score, err := cosineSimilarity(queryEmbedding, d.Embedding)
		if err != nil {
			return nil, &StoreError{Op: "search", Collection: name, Validation: true, Err: err}
		}
		ranked = append(ranked, scored{doc: d, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}

	var out []Context
	for _, r := range ranked {
		path := r.doc.Metadata["file_path"]
		if !pathAllowed(path, opts.Include, opts.Exclude) {
			continue
		}
		if r.score < opts.Threshold {
			break
		}
		out = append(out, toContext(r.doc, r.score))
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

// DeleteCollection removes the session's collection. Missing collections are
// a no-op.
func (s *MemoryStore) DeleteCollection(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collectionName(sessionID))
	return nil
}

func toContext(d Document, score float64) Context {
	start, _ := strconv.Atoi(d.Metadata["start_line"])
	end, _ := strconv.Atoi(d.Metadata["end_line"])
	return Context{
		Content:         d.Content,
		FilePath:        d.Metadata["file_path"],
		SimilarityScore: score,
		StartLine:       start,
		EndLine:         end,
	}
}

func pathAllowed(path string, include, exclude []string) bool {
	lower := strings.ToLower(path)
	for _, pat := range exclude {
		if strings.Contains(lower, strings.ToLower(pat)) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pat := range include {
		if strings.Contains(lower, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("embedding dimension mismatch: " +
			strconv.Itoa(len(a)) + " vs " + strconv.Itoa(len(b)))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
