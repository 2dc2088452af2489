// Package rag implements context retrieval, answer synthesis and the
// fast-response optimizer on top of the vector store and LLM clients.
package rag

import (
	"fmt"

	"github.com/ChamsBouzaiene/gitsleuth/internal/vectorstore"
)

// SourceReference points an answer at the code it was derived from.
type SourceReference struct {
	File      string `json:"file"`
	Snippet   string `json:"snippet"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

// QueryResponse is the answer returned to the caller.
type QueryResponse struct {
	Answer     string            `json:"answer"`
	Sources    []SourceReference `json:"sources"`
	Confidence string            `json:"confidence"`
}

// QueryError wraps retrieval and synthesis failures.
type QueryError struct {
	Stage string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Stage, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func makeSourceReferences(contexts []vectorstore.Context) []SourceReference {
	sources := make([]SourceReference, 0, len(contexts))
	for _, c := range contexts {
		snippet := c.Content
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		sources = append(sources, SourceReference{
			File:      c.FilePath,
			Snippet:   snippet,
			LineStart: c.StartLine,
			LineEnd:   c.EndLine,
		})
	}
	return sources
}
