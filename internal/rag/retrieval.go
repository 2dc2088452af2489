package rag

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/ChamsBouzaiene/gitsleuth/internal/llm"
	"github.com/ChamsBouzaiene/gitsleuth/internal/vectorstore"
)

// generalQuestionPhrases mark a query as asking about the project as a
// whole rather than a specific detail.
var generalQuestionPhrases = []string{
	"tell me about this project", "what is this project", "describe this project",
	"overview", "summary", "what does this do", "explain this codebase",
	"how does this work", "what is this application", "about this project",
}

// importantFileHints pull project-defining files to the front of general
// question results.
var importantFileHints = []string{
	"readme", "package.json", "requirements.txt", "docker",
	"config", "main", "app", "index",
}

// noisePathExcludes are filtered out of general question searches.
var noisePathExcludes = []string{"test", "spec", "__pycache__", "node_modules", ".git"}

const generalQuestionThreshold = 0.05

// Retriever turns a question into ranked code contexts.
type Retriever struct {
	embedder  llm.Embedder
	store     vectorstore.Store
	topK      int
	threshold float64

	// Overridable tuning knobs; defaults match the package-level lists.
	GeneralPhrases []string
	ImportantFiles []string
}

// NewRetriever creates a retriever with the configured default topK and
// similarity threshold for specific questions.
func NewRetriever(embedder llm.Embedder, store vectorstore.Store, topK int, threshold float64) *Retriever {
	if topK <= 0 {
		topK = 12
	}
	return &Retriever{
		embedder:       embedder,
		store:          store,
		topK:           topK,
		threshold:      threshold,
		GeneralPhrases: generalQuestionPhrases,
		ImportantFiles: importantFileHints,
	}
}

// IsGeneralQuestion reports whether the query asks about the project as a
// whole.
func (r *Retriever) IsGeneralQuestion(query string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range r.GeneralPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Retrieve embeds the query and searches the session's collection. General
// questions widen the search (3x topK capped at 20, threshold 0.05, noise
// paths excluded) and reorder results so project-defining files come first,
// returning up to 2x topK contexts. Specific questions use the configured
// topK and threshold as-is.
func (r *Retriever) Retrieve(ctx context.Context, query, sessionID string, topK int) ([]vectorstore.Context, error) {
	if topK <= 0 {
		topK = r.topK
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &QueryError{Stage: "embed", Err: err}
	}
	if len(vectors) == 0 {
		return nil, &QueryError{Stage: "embed", Err: errors.New("embedder returned no vectors")}
	}
	queryEmbedding := vectors[0]

	if r.IsGeneralQuestion(query) {
		log.Printf("🔧 Detected general project question, retrieving comprehensive context")
		wideK := topK * 3
		if wideK > 20 {
			wideK = 20
		}
		contexts, err := r.store.Search(ctx, sessionID, queryEmbedding, vectorstore.SearchOptions{
			TopK:      wideK,
			Threshold: generalQuestionThreshold,
			Exclude:   noisePathExcludes,
		})
		if err != nil {
			return nil, &QueryError{Stage: "search", Err: err}
		}

		prioritized, others := r.splitByImportance(contexts)
		final := append(prioritized, others...)
		if len(final) > topK*2 {
			final = final[:topK*2]
		}
		log.Printf("🔧 Retrieved %d contexts for general question (prioritized: %d)", len(final), len(prioritized))
		return final, nil
	}

	contexts, err := r.store.Search(ctx, sessionID, queryEmbedding, vectorstore.SearchOptions{
		TopK:      topK,
		Threshold: r.threshold,
	})
	if err != nil {
		return nil, &QueryError{Stage: "search", Err: err}
	}
	log.Printf("🔧 Retrieved %d contexts for specific question", len(contexts))
	return contexts, nil
}

// splitByImportance partitions contexts into project-defining files and the
// rest, preserving relative order inside each partition.
func (r *Retriever) splitByImportance(contexts []vectorstore.Context) (prioritized, others []vectorstore.Context) {
	for _, c := range contexts {
		lower := strings.ToLower(c.FilePath)
		important := false
		for _, hint := range r.ImportantFiles {
			if strings.Contains(lower, hint) {
				important = true
				break
			}
		}
		if important {
			prioritized = append(prioritized, c)
		} else {
			others = append(others, c)
		}
	}
	return prioritized, others
}
