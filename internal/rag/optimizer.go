package rag

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/gitsleuth/internal/cache"
	"github.com/ChamsBouzaiene/gitsleuth/internal/llm"
	"github.com/ChamsBouzaiene/gitsleuth/internal/vectorstore"
)

// commonPatterns maps recurring question phrasings to a shared cache slot,
// so rephrasings of the same question reuse one generated answer.
var commonPatterns = map[string]string{
	"tell me about this project": "project_overview",
	"what is this project":       "project_overview",
	"how does this work":         "how_it_works",
	"what technologies are used": "technologies",
	"how to run this":            "setup_instructions",
}

const analyzedContextLimit = 5

// Metrics records where a response came from and how long each stage took.
type Metrics struct {
	TotalTime        time.Duration `json:"total_time"`
	CacheHit         bool          `json:"cache_hit"`
	CacheLevel       string        `json:"cache_level"`
	ContextAnalysis  time.Duration `json:"context_analysis_time"`
	LLMGeneration    time.Duration `json:"llm_generation_time"`
	CacheStorageTime time.Duration `json:"cache_storage_time"`
}

type contextAnalysis struct {
	filePath        string
	relevanceScore  float64
	contentLength   int
	hasCode         bool
	hasConfig       bool
	isDocumentation bool
}

// Optimizer short-circuits repeated questions through the cache and builds
// a relevance-stratified prompt for everything else.
type Optimizer struct {
	cache     *cache.MultiLevel
	completer llm.Completer

	// CommonPatterns is overridable; defaults to the package map.
	CommonPatterns map[string]string
}

// NewOptimizer wires the optimizer.
func NewOptimizer(c *cache.MultiLevel, completer llm.Completer) *Optimizer {
	return &Optimizer{
		cache:          c,
		completer:      completer,
		CommonPatterns: commonPatterns,
	}
}

// Answer produces a response for the question, cheapest path first: exact
// cache hit, then common-pattern hit, then a fresh stratified generation.
// Generation failures degrade to a low-confidence fallback, never an error.
func (o *Optimizer) Answer(ctx context.Context, question, sessionID string, contexts []vectorstore.Context) (QueryResponse, Metrics) {
	start := time.Now()
	var m Metrics

	if resp, ok := o.exactCacheHit(question, sessionID); ok {
		m.CacheHit = true
		m.CacheLevel = "ultra_fast"
		m.TotalTime = time.Since(start)
		return resp, m
	}

	if resp, ok := o.patternCacheHit(question, sessionID); ok {
		m.CacheHit = true
		m.CacheLevel = "similar"
		m.TotalTime = time.Since(start)
		return resp, m
	}

	analysisStart := time.Now()
	analyzed := o.analyzeContexts(contexts)
	m.ContextAnalysis = time.Since(analysisStart)

	llmStart := time.Now()
	resp, err := o.generate(ctx, question, contexts, analyzed)
	m.LLMGeneration = time.Since(llmStart)
	if err != nil {
		log.Printf("⚠️  Fast response generation failed: %v", err)
		m.TotalTime = time.Since(start)
		return o.fallback(contexts), m
	}

	cacheStart := time.Now()
	o.cacheResponse(question, sessionID, resp)
	m.CacheStorageTime = time.Since(cacheStart)

	m.TotalTime = time.Since(start)
	return resp, m
}

// Cached probes the exact-match and pattern caches without generating
// anything. The returned level is "ultra_fast" or "similar".
func (o *Optimizer) Cached(question, sessionID string) (QueryResponse, string, bool) {
	if resp, ok := o.exactCacheHit(question, sessionID); ok {
		return resp, "ultra_fast", true
	}
	if resp, ok := o.patternCacheHit(question, sessionID); ok {
		return resp, "similar", true
	}
	return QueryResponse{}, "", false
}

// Store caches an externally generated response under the same keys the
// optimizer's own answers use.
func (o *Optimizer) Store(question, sessionID string, resp QueryResponse) {
	o.cacheResponse(question, sessionID, resp)
}

func (o *Optimizer) exactCacheHit(question, sessionID string) (QueryResponse, bool) {
	key := cache.Key("query_response", sessionID, question)
	var resp QueryResponse
	if o.cache.Get("query_response", key, &resp) {
		return resp, true
	}
	if o.cache.GetSession(sessionID, key, &resp) {
		return resp, true
	}
	return QueryResponse{}, false
}

// patternCacheHit reuses the answer cached under a common-question slot,
// lightly reworded for the incoming phrasing.
func (o *Optimizer) patternCacheHit(question, sessionID string) (QueryResponse, bool) {
	lower := strings.ToLower(strings.TrimSpace(question))
	for pattern, slot := range o.CommonPatterns {
		if !strings.Contains(lower, pattern) {
			continue
		}
		key := cache.Key("common_response", sessionID, slot)
		var resp QueryResponse
		if o.cache.Get("common_response", key, &resp) {
			resp.Answer = rewordCommonAnswer(resp.Answer, lower)
			return resp, true
		}
	}
	return QueryResponse{}, false
}

func rewordCommonAnswer(answer, questionLower string) string {
	switch {
	case strings.Contains(questionLower, "how to run"):
		return strings.Replace(answer, "This project", "To run this project", 1)
	case strings.Contains(questionLower, "technologies"):
		return strings.Replace(answer, "This project", "The technologies used in this project", 1)
	}
	return answer
}

// analyzeContexts inspects the top contexts concurrently. A failed or
// panicking analysis is omitted rather than failing the response.
func (o *Optimizer) analyzeContexts(contexts []vectorstore.Context) []contextAnalysis {
	limit := len(contexts)
	if limit > analyzedContextLimit {
		limit = analyzedContextLimit
	}

	results := make([]*contextAnalysis, limit)
	var wg sync.WaitGroup
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func(i int, c vectorstore.Context) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("⚠️  Context analysis panicked for %s: %v", c.FilePath, r)
				}
			}()
			results[i] = analyzeContext(c)
		}(i, contexts[i])
	}
	wg.Wait()

	out := make([]contextAnalysis, 0, limit)
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func analyzeContext(c vectorstore.Context) *contextAnalysis {
	return &contextAnalysis{
		filePath:       c.FilePath,
		relevanceScore: c.SimilarityScore,
		contentLength:  len(c.Content),
		hasCode:        strings.Contains(c.Content, "```") || strings.Contains(c.Content, "func ") || strings.Contains(c.Content, "def "),
		hasConfig: strings.Contains(c.FilePath, ".yml") || strings.Contains(c.FilePath, ".json") ||
			strings.Contains(c.FilePath, ".env"),
		isDocumentation: strings.Contains(c.FilePath, ".md") || strings.Contains(c.FilePath, ".txt") ||
			strings.Contains(c.FilePath, "README"),
	}
}

func (o *Optimizer) generate(ctx context.Context, question string, contexts []vectorstore.Context, analyzed []contextAnalysis) (QueryResponse, error) {
	prompt := buildStratifiedPrompt(question, contexts, analyzed)

	answer, err := o.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are an expert code analyst. Provide comprehensive, detailed answers based on the provided code context."},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.CompletionOptions{MaxTokens: 1000, Temperature: 0.1, TopP: 0.8})
	if err != nil {
		return QueryResponse{}, err
	}

	confidence := "medium"
	if len(analyzed) > 2 {
		confidence = "high"
	}

	sources := make([]SourceReference, 0, 3)
	for i, a := range analyzed {
		if i >= 3 {
			break
		}
		sources = append(sources, SourceReference{
			File:    a.filePath,
			Snippet: fmt.Sprintf("Relevance: %.2f", a.relevanceScore),
		})
	}

	return QueryResponse{Answer: answer, Sources: sources, Confidence: confidence}, nil
}

// buildStratifiedPrompt includes full 800-char excerpts from contexts
// scoring above 0.7 (top 3), padding with 600-char excerpts from the
// 0.4-0.7 band only when fewer than three high-relevance contexts exist.
func buildStratifiedPrompt(question string, contexts []vectorstore.Context, analyzed []contextAnalysis) string {
	var high, medium []contextAnalysis
	for _, a := range analyzed {
		switch {
		case a.relevanceScore > 0.7:
			high = append(high, a)
		case a.relevanceScore >= 0.4:
			medium = append(medium, a)
		}
	}

	byPath := make(map[string]vectorstore.Context, len(contexts))
	for _, c := range contexts {
		if _, ok := byPath[c.FilePath]; !ok {
			byPath[c.FilePath] = c
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", question)

	if len(high) > 0 {
		b.WriteString("\nHigh relevance context:\n")
		for i, a := range high {
			if i >= 3 {
				break
			}
			writeExcerpt(&b, i, a, byPath, 800)
		}
	}
	if len(medium) > 0 && len(high) < 3 {
		b.WriteString("\nAdditional context:\n")
		for i, a := range medium {
			if i >= 2 {
				break
			}
			writeExcerpt(&b, i, a, byPath, 600)
		}
	}

	b.WriteString("\nProvide a comprehensive answer based on the provided code context. Include specific file references and code snippets when relevant.")
	return b.String()
}

func writeExcerpt(b *strings.Builder, i int, a contextAnalysis, byPath map[string]vectorstore.Context, limit int) {
	c, ok := byPath[a.filePath]
	if !ok {
		return
	}
	content := c.Content
	if len(content) > limit {
		content = content[:limit]
	}
	fmt.Fprintf(b, "\n**Context %d - %s:**\n```%s\n%s\n```\n", i+1, a.filePath, fileExt(a.filePath), content)
}

// cacheResponse stores the answer under the exact-question key at the
// global and session tiers, plus the pattern slot when the question matches
// a common phrasing.
func (o *Optimizer) cacheResponse(question, sessionID string, resp QueryResponse) {
	key := cache.Key("query_response", sessionID, question)
	o.cache.Set("query_response", key, resp)
	o.cache.SetSession("query_response", sessionID, key, resp)

	lower := strings.ToLower(strings.TrimSpace(question))
	for pattern, slot := range o.CommonPatterns {
		if strings.Contains(lower, pattern) {
			o.cache.Set("common_response", cache.Key("common_response", sessionID, slot), resp)
			break
		}
	}
}

// fallback is returned when generation fails: name the most relevant files
// if any were retrieved, otherwise ask the caller to retry.
func (o *Optimizer) fallback(contexts []vectorstore.Context) QueryResponse {
	if len(contexts) > 0 {
		files := make([]string, 0, 3)
		for i, c := range contexts {
			if i >= 3 {
				break
			}
			files = append(files, c.FilePath)
		}
		return QueryResponse{
			Answer: fmt.Sprintf("Based on the codebase, I found relevant information in: %s. "+
				"The system is currently optimizing responses for better performance.",
				strings.Join(files, ", ")),
			Sources:    []SourceReference{},
			Confidence: "low",
		}
	}
	return QueryResponse{
		Answer:     "I'm working on optimizing the response system. Please try again in a moment.",
		Sources:    []SourceReference{},
		Confidence: "low",
	}
}

// PerformanceStats reports cache effectiveness and the pattern slot count.
func (o *Optimizer) PerformanceStats() map[string]interface{} {
	return map[string]interface{}{
		"cache_performance":       o.cache.Stats(),
		"common_responses_cached": len(o.CommonPatterns),
	}
}
