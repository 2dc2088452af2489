package indexer

import (
	"context"
	"fmt"
	"log"

	"github.com/ChamsBouzaiene/gitsleuth/internal/llm"
	"github.com/ChamsBouzaiene/gitsleuth/internal/repo"
	"github.com/ChamsBouzaiene/gitsleuth/internal/session"
	"github.com/ChamsBouzaiene/gitsleuth/internal/vectorstore"
)

const fileBatchSize = 10

// IndexingError wraps failures during repository indexing, tagged with the
// phase that failed.
type IndexingError struct {
	Phase string
	Err   error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing %s: %v", e.Phase, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

// RepoSource is the repository access surface the pipeline needs.
// *repo.Handler satisfies it.
type RepoSource interface {
	Fetch(ctx context.Context, repoURL string) (string, error)
	ListFiles(root string) ([]repo.FileInfo, error)
	FilterFiles(files []repo.FileInfo) []repo.FileInfo
	ReadFile(root, relPath string) (string, error)
	Cleanup(path string)
}

// Service runs the full index pipeline for one repository: fetch, walk,
// chunk, embed, store. Progress is published through the session manager.
type Service struct {
	sessions *session.Manager
	repos    RepoSource
	chunker  *Chunker
	embedder llm.Embedder
	store    vectorstore.Store
}

// NewService wires the indexing pipeline.
func NewService(sessions *session.Manager, repos RepoSource, chunker *Chunker, embedder llm.Embedder, store vectorstore.Store) *Service {
	return &Service{
		sessions: sessions,
		repos:    repos,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
	}
}

// IndexRepository runs the pipeline to completion. On any failure the
// session moves to Error with the failure message and the cloned workspace
// is removed best-effort. Context cancellation aborts between phases and
// between file batches.
func (s *Service) IndexRepository(ctx context.Context, sessionID, repoURL string) error {
	repoPath, err := s.run(ctx, sessionID, repoURL)
	if err != nil {
		log.Printf("❌ Indexing failed for session %s: %v", sessionID, err)
		if upErr := s.sessions.Update(sessionID, session.StatusError, err.Error(), nil); upErr != nil {
			log.Printf("⚠️  Failed to record indexing error: %v", upErr)
		}
		if repoPath != "" {
			s.repos.Cleanup(repoPath)
		}
		return err
	}
	return nil
}

func (s *Service) run(ctx context.Context, sessionID, repoURL string) (string, error) {
	if err := s.sessions.Update(sessionID, session.StatusIndexing, "", progress("scanning_files", 0)); err != nil {
		return "", err
	}

	repoPath, err := s.repos.Fetch(ctx, repoURL)
	if err != nil {
		return "", &IndexingError{Phase: "fetch", Err: err}
	}
	s.sessions.UpdateCounters(sessionID, session.Counters{RepoPath: &repoPath})

	all, err := s.repos.ListFiles(repoPath)
	if err != nil {
		return repoPath, &IndexingError{Phase: "scan", Err: err}
	}
	files := s.repos.FilterFiles(all)
	totalFiles := len(files)
	s.sessions.UpdateCounters(sessionID, session.Counters{TotalFiles: &totalFiles})
	log.Printf("🔍 Session %s: %d files selected for indexing", sessionID, totalFiles)

	// Chunk files in batches, skipping unreadable files rather than failing
	// the whole run.
	var chunks []Chunk
	processed := 0
	for start := 0; start < len(files); start += fileBatchSize {
		if err := ctx.Err(); err != nil {
			return repoPath, &IndexingError{Phase: "process", Err: err}
		}
		end := start + fileBatchSize
		if end > len(files) {
			end = len(files)
		}
		for _, f := range files[start:end] {
			content, readErr := s.repos.ReadFile(repoPath, f.Path)
			if readErr != nil {
				log.Printf("⚠️  Skipping %s: %v", f.Path, readErr)
				processed++
				continue
			}
			chunks = append(chunks, s.chunker.Chunk(content, f)...)
			processed++
		}

		totalChunks := len(chunks)
		s.sessions.UpdateCounters(sessionID, session.Counters{
			ProcessedFiles: &processed,
			TotalChunks:    &totalChunks,
		})
		s.sessions.Update(sessionID, session.StatusIndexing, "",
			progress("processing_files", percent(processed, totalFiles)))
	}

	if len(chunks) == 0 {
		return repoPath, &IndexingError{Phase: "process", Err: fmt.Errorf("no valid chunks found to process")}
	}

	s.sessions.Update(sessionID, session.StatusIndexing, "", progress("generating_embeddings", 0))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return repoPath, &IndexingError{Phase: "embed", Err: err}
	}
	if len(embeddings) != len(chunks) {
		return repoPath, &IndexingError{Phase: "embed",
			Err: fmt.Errorf("got %d embeddings for %d chunks", len(embeddings), len(chunks))}
	}

	s.sessions.Update(sessionID, session.StatusIndexing, "", progress("storing_vectors", 0))

	if err := s.store.CreateCollection(ctx, sessionID); err != nil {
		return repoPath, &IndexingError{Phase: "store", Err: err}
	}
	docs := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = vectorstore.Document{
			ID:        c.ChunkID,
			Content:   c.Content,
			Embedding: embeddings[i],
			Metadata:  c.Metadata,
		}
	}
	if err := s.store.AddVectors(ctx, sessionID, docs); err != nil {
		return repoPath, &IndexingError{Phase: "store", Err: err}
	}

	processedChunks := len(chunks)
	s.sessions.UpdateCounters(sessionID, session.Counters{ProcessedChunks: &processedChunks})
	if err := s.sessions.Update(sessionID, session.StatusReady, "", progress("complete", 100)); err != nil {
		return repoPath, err
	}
	log.Printf("✅ Session %s indexed: %d files, %d chunks", sessionID, totalFiles, len(chunks))
	return repoPath, nil
}

// CleanupSession removes everything a session owns: its cloned workspace,
// its vector collection and the session record itself.
func (s *Service) CleanupSession(ctx context.Context, sessionID string) {
	if sess, err := s.sessions.Get(sessionID); err == nil && sess.RepoPath != "" {
		s.repos.Cleanup(sess.RepoPath)
	}
	if err := s.store.DeleteCollection(ctx, sessionID); err != nil {
		log.Printf("⚠️  Failed to delete collection for session %s: %v", sessionID, err)
	}
	s.sessions.Delete(sessionID)
	log.Printf("🗑️  Session %s cleaned up", sessionID)
}

func progress(phase string, pct int) map[string]interface{} {
	return map[string]interface{}{
		"phase":   phase,
		"percent": pct,
	}
}

func percent(done, total int) int {
	if total == 0 {
		return 0
	}
	return done * 100 / total
}
