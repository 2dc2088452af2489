// Package api exposes the HTTP surface: indexing, status, querying and
// session management routes, with CORS and rate limiting applied.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/gitsleuth/internal/cache"
	"github.com/ChamsBouzaiene/gitsleuth/internal/history"
	"github.com/ChamsBouzaiene/gitsleuth/internal/indexer"
	"github.com/ChamsBouzaiene/gitsleuth/internal/rag"
	"github.com/ChamsBouzaiene/gitsleuth/internal/ratelimit"
	"github.com/ChamsBouzaiene/gitsleuth/internal/session"
)

const apiVersion = "1.0.0"

// Server holds the service graph and implements the HTTP handlers.
type Server struct {
	sessions  *session.Manager
	indexing  *indexer.Service
	retriever *rag.Retriever
	pipeline  *rag.Pipeline
	optimizer *rag.Optimizer
	cache     *cache.MultiLevel
	limiter   *ratelimit.Limiter
	history   *history.Store

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewServer wires the handlers.
func NewServer(sessions *session.Manager, indexing *indexer.Service, retriever *rag.Retriever,
	pipeline *rag.Pipeline, optimizer *rag.Optimizer, c *cache.MultiLevel,
	limiter *ratelimit.Limiter, hist *history.Store) *Server {
	return &Server{
		sessions:  sessions,
		indexing:  indexing,
		retriever: retriever,
		pipeline:  pipeline,
		optimizer: optimizer,
		cache:     c,
		limiter:   limiter,
		history:   hist,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Handler builds the route table wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /index", s.handleIndex)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("DELETE /session/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /session/{id}/clear-cache", s.handleClearCache)
	mux.HandleFunc("GET /session/{id}/chat-history", s.handleChatHistory)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /performance/stats", s.handlePerformanceStats)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type indexRequest struct {
	RepoURL string `json:"repo_url"`
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "GitSleuth API",
		"version": apiVersion,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.checkRateLimit(w, r, "health") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"sessions": s.sessions.Count(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !s.checkRateLimit(w, r, "index") {
		return
	}

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if !strings.HasPrefix(req.RepoURL, "https://github.com/") &&
		!strings.HasPrefix(req.RepoURL, "git@github.com:") {
		writeError(w, http.StatusBadRequest, "Invalid repository URL",
			"Must be a GitHub repository.")
		return
	}

	sessionID := s.sessions.Create(req.RepoURL)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[sessionID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, sessionID)
			s.mu.Unlock()
			cancel()
		}()
		s.indexing.IndexRepository(ctx, sessionID, req.RepoURL)
	}()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Repository indexing started.",
		"session_id": sessionID,
		"status":     session.StatusIndexing,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}

	message := sess.ErrorMessage
	if message == "" {
		message = fmt.Sprintf("Status: %s", sess.Status)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           sess.Status,
		"message":          message,
		"progress":         sess.Progress,
		"total_files":      sess.TotalFiles,
		"processed_files":  sess.ProcessedFiles,
		"total_chunks":     sess.TotalChunks,
		"processed_chunks": sess.ProcessedChunks,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !s.checkRateLimit(w, r, "query") {
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	sess, err := s.sessions.Get(req.SessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if sess.Status != session.StatusReady {
		writeError(w, http.StatusBadRequest, "Session not ready",
			fmt.Sprintf("Session not ready. Current status: %s", sess.Status))
		return
	}

	resp, err := s.answer(r.Context(), req.Question, req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Query error", err.Error())
		return
	}

	s.history.Add(req.SessionID, req.Question, resp.Answer)
	writeJSON(w, http.StatusOK, resp)
}

// answer routes a question: cached responses first, the fast-response path
// for general and common questions, the full pipeline otherwise.
func (s *Server) answer(ctx context.Context, question, sessionID string) (rag.QueryResponse, error) {
	if resp, level, ok := s.optimizer.Cached(question, sessionID); ok {
		log.Printf("🔧 Cache hit (%s) for session %s", level, sessionID)
		return resp, nil
	}

	if s.retriever.IsGeneralQuestion(question) {
		contexts, err := s.retriever.Retrieve(ctx, question, sessionID, 0)
		if err != nil {
			return rag.QueryResponse{}, err
		}
		resp, _ := s.optimizer.Answer(ctx, question, sessionID, contexts)
		return resp, nil
	}

	resp, err := s.pipeline.Query(ctx, question, sessionID)
	if err != nil {
		return rag.QueryResponse{}, err
	}
	s.optimizer.Store(question, sessionID, resp)
	return resp, nil
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := s.sessions.Get(sessionID); err != nil {
		writeSessionError(w, err)
		return
	}

	s.mu.Lock()
	if cancel, ok := s.cancels[sessionID]; ok {
		cancel()
	}
	s.mu.Unlock()

	s.indexing.CleanupSession(r.Context(), sessionID)
	s.cache.ClearSession(sessionID)
	s.history.Clear(sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	s.cache.ClearSession(sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session cache cleared successfully"})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":   sessionID,
		"chat_history": s.history.Get(sessionID),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.sessions.List()
	summaries := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, map[string]interface{}{
			"id":           sess.ID,
			"repo_url":     sess.RepoURL,
			"status":       sess.Status,
			"created_at":   sess.CreatedAt,
			"total_files":  sess.TotalFiles,
			"total_chunks": sess.TotalChunks,
		})
	}
	stats := s.sessions.StatsByStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions":   stats["total"],
		"status_breakdown": stats,
		"sessions":         summaries,
	})
}

func (s *Server) handlePerformanceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cache_performance":     s.cache.Stats(),
		"response_optimization": s.optimizer.PerformanceStats(),
	})
}

// checkRateLimit applies the limiter, writing a 429 with Retry-After when
// rejecting. Allowed requests get X-RateLimit-Remaining-* headers.
func (s *Server) checkRateLimit(w http.ResponseWriter, r *http.Request, class string) bool {
	decision := s.limiter.Check(ratelimit.ClientID(r), class)

	setRemaining := func(header string, v int) {
		if v >= 0 {
			w.Header().Set(header, strconv.Itoa(v))
		}
	}
	setRemaining("X-RateLimit-Remaining-Minute", decision.RemainingMinute)
	setRemaining("X-RateLimit-Remaining-Hour", decision.RemainingHour)
	setRemaining("X-RateLimit-Remaining-Day", decision.RemainingDay)

	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", decision.Reason)
		return false
	}
	return true
}

func writeSessionError(w http.ResponseWriter, err error) {
	var notFound *session.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, "Session not found", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, errMsg, detail string) {
	writeJSON(w, status, map[string]string{
		"error":  errMsg,
		"detail": detail,
	})
}
