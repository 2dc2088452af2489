package rag

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ChamsBouzaiene/gitsleuth/internal/llm"
	"github.com/ChamsBouzaiene/gitsleuth/internal/vectorstore"
)

const systemPromptGeneral = `You are an expert software engineer and project analyst. Your task is to provide a comprehensive overview of this project based on the provided code context. Cover the project's purpose, architecture, technology stack, key features and setup, with specific file references and code examples when relevant.`

const systemPromptSpecific = `You are an expert code analyst and software engineer. Answer questions about codebases based ONLY on the provided code context. Provide specific references to files, functions, classes and line numbers. If the context is insufficient, clearly state what is missing.`

var highConfidencePhrases = []string{
	"based on the code", "in the file", "as shown in", "the function",
	"the class", "line", "defined in",
}

var lowConfidencePhrases = []string{
	"i cannot", "not enough information", "unclear", "might be",
	"appears to", "seems like", "i don't see",
}

var documentationExts = map[string]bool{"md": true, "txt": true, "readme": true}

var configurationExts = map[string]bool{
	"json": true, "yml": true, "yaml": true, "env": true,
	"config": true, "ini": true, "toml": true,
}

var sourceCodeExts = map[string]bool{
	"py": true, "js": true, "ts": true, "jsx": true, "tsx": true,
	"java": true, "go": true, "rs": true, "cpp": true, "c": true,
	"cs": true, "php": true, "rb": true,
}

// Pipeline runs the full answer flow: retrieve, prompt, complete, attribute.
type Pipeline struct {
	retriever *Retriever
	completer llm.Completer
}

// NewPipeline wires a pipeline.
func NewPipeline(retriever *Retriever, completer llm.Completer) *Pipeline {
	return &Pipeline{retriever: retriever, completer: completer}
}

// Query answers a question against the session's indexed repository. An
// empty retrieval yields a low-confidence explanation rather than an error.
func (p *Pipeline) Query(ctx context.Context, question, sessionID string) (QueryResponse, error) {
	contexts, err := p.retriever.Retrieve(ctx, question, sessionID, 0)
	if err != nil {
		return QueryResponse{}, err
	}

	if len(contexts) == 0 {
		return QueryResponse{
			Answer: "I couldn't find any relevant code context to answer your question. " +
				"The repository might not contain information related to your query, or the " +
				"indexing might not have captured the relevant files.",
			Sources:    []SourceReference{},
			Confidence: "low",
		}, nil
	}

	prompt := p.generatePrompt(question, contexts)

	maxTokens := 1200
	if p.retriever.IsGeneralQuestion(question) {
		maxTokens = 1500
	}

	answer, err := p.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are an expert software engineer and project analyst with deep knowledge of modern development practices, frameworks, and architectures."},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.CompletionOptions{MaxTokens: maxTokens, Temperature: 0.1, TopP: 0.9})
	if err != nil {
		return QueryResponse{}, &QueryError{Stage: "synthesize", Err: err}
	}

	return QueryResponse{
		Answer:     answer,
		Sources:    makeSourceReferences(contexts),
		Confidence: determineConfidence(answer),
	}, nil
}

// generatePrompt formats contexts grouped by category (documentation,
// configuration, source code, other) under a query-type-specific system
// prompt.
func (p *Pipeline) generatePrompt(question string, contexts []vectorstore.Context) string {
	categories := map[string][]string{}
	order := []string{"documentation", "configuration", "source_code", "other"}
	headers := map[string]string{
		"documentation": "## 📚 DOCUMENTATION & README FILES",
		"configuration": "## ⚙️ CONFIGURATION FILES",
		"source_code":   "## 💻 SOURCE CODE",
		"other":         "## 📄 OTHER FILES",
	}

	for _, c := range contexts {
		ext := fileExt(c.FilePath)
		marker := "📄"
		if c.SimilarityScore > 0.8 {
			marker = "🔥"
		} else if c.SimilarityScore > 0.6 {
			marker = "⭐"
		}

		block := fmt.Sprintf("\n%s **%s** (lines %d-%d)\n**Path:** `%s`\n**Relevance:** %.3f\n\n```%s\n%s\n```\n",
			marker, path.Base(c.FilePath), c.StartLine, c.EndLine,
			c.FilePath, c.SimilarityScore, ext, c.Content)
		categories[categorize(ext)] = append(categories[categorize(ext)], block)
	}

	var organized []string
	for _, cat := range order {
		if blocks := categories[cat]; len(blocks) > 0 {
			organized = append(organized, headers[cat]+"\n"+strings.Join(blocks, "\n"))
		}
	}

	systemPrompt := systemPromptSpecific
	if p.retriever.IsGeneralQuestion(question) {
		systemPrompt = systemPromptGeneral
	}

	return fmt.Sprintf("%s\n\n## QUESTION:\n%s\n\n## PROVIDED CODE CONTEXT:\n%s\n\n## INSTRUCTIONS:\nAnalyze the provided code context and provide a comprehensive answer to the question. Focus on the most relevant contexts (🔥) but consider all provided information. Be specific about file locations, line numbers, and code relationships.",
		systemPrompt, question, strings.Join(organized, "\n"))
}

func categorize(ext string) string {
	switch {
	case documentationExts[ext]:
		return "documentation"
	case configurationExts[ext]:
		return "configuration"
	case sourceCodeExts[ext]:
		return "source_code"
	default:
		return "other"
	}
}

func fileExt(filePath string) string {
	if idx := strings.LastIndex(filePath, "."); idx >= 0 && idx < len(filePath)-1 {
		return strings.ToLower(filePath[idx+1:])
	}
	return "text"
}

// determineConfidence grades an answer by its phrasing: concrete code
// references read as high, hedging as low.
func determineConfidence(answer string) string {
	lower := strings.ToLower(answer)
	for _, phrase := range highConfidencePhrases {
		if strings.Contains(lower, phrase) {
			return "high"
		}
	}
	for _, phrase := range lowConfidencePhrases {
		if strings.Contains(lower, phrase) {
			return "low"
		}
	}
	return "medium"
}
