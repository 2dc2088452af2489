package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ChamsBouzaiene/gitsleuth/internal/cache"
	"github.com/ChamsBouzaiene/gitsleuth/internal/history"
	"github.com/ChamsBouzaiene/gitsleuth/internal/indexer"
	"github.com/ChamsBouzaiene/gitsleuth/internal/llm"
	"github.com/ChamsBouzaiene/gitsleuth/internal/rag"
	"github.com/ChamsBouzaiene/gitsleuth/internal/ratelimit"
	"github.com/ChamsBouzaiene/gitsleuth/internal/repo"
	"github.com/ChamsBouzaiene/gitsleuth/internal/session"
	"github.com/ChamsBouzaiene/gitsleuth/internal/vectorstore"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fixedEmbedder) Dimension() int { return 3 }

type fixedCompleter struct{}

func (fixedCompleter) Complete(_ context.Context, _ []llm.Message, _ llm.CompletionOptions) (string, error) {
	return "The entry point is defined in main.go at line 1.", nil
}

type testEnv struct {
	server   *Server
	sessions *session.Manager
	store    vectorstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sessions := session.NewManager()
	store := vectorstore.NewMemoryStore()
	embedder := fixedEmbedder{}
	completer := fixedCompleter{}

	repos, err := repo.NewHandler(repo.Config{
		MaxFileSize:         1 << 20,
		SupportedExtensions: []string{".go"},
		TempDir:             t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	hist, err := history.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	multiCache := cache.NewMultiLevel(nil)
	retriever := rag.NewRetriever(embedder, store, 5, 0.15)
	srv := NewServer(
		sessions,
		indexer.NewService(sessions, repos, indexer.NewChunker(100), embedder, store),
		retriever,
		rag.NewPipeline(retriever, completer),
		rag.NewOptimizer(multiCache, completer),
		multiCache,
		ratelimit.NewLimiter(),
		hist,
	)
	return &testEnv{server: srv, sessions: sessions, store: store}
}

// readySession creates a ready session with one indexed document.
func (e *testEnv) readySession(t *testing.T) string {
	t.Helper()
	id := e.sessions.Create("https://github.com/acme/demo")
	if err := e.sessions.Update(id, session.StatusIndexing, "", nil); err != nil {
		t.Fatal(err)
	}
	if err := e.sessions.Update(id, session.StatusReady, "", nil); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	e.store.CreateCollection(ctx, id)
	e.store.AddVectors(ctx, id, []vectorstore.Document{{
		ID:        "c1",
		Content:   "package main\n\nfunc main() {}\n",
		Embedding: []float32{1, 0, 0},
		Metadata:  map[string]string{"file_path": "main.go", "start_line": "1", "end_line": "3"},
	}})
	return id
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestQueryAgainstReadySession(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()
	id := env.readySession(t)

	w := postJSON(t, handler, "/query", map[string]string{
		"session_id": id,
		"question":   "where is the entry point?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp rag.QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer == "" {
		t.Error("expected non-empty answer")
	}
	if resp.Confidence != "high" {
		t.Errorf("expected high confidence, got %s", resp.Confidence)
	}
	if len(resp.Sources) == 0 || resp.Sources[0].File != "main.go" {
		t.Errorf("expected main.go as source, got %+v", resp.Sources)
	}
}

func TestQueryNotReadyVsNotFound(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()

	// Not ready: session exists but is still idle.
	id := env.sessions.Create("https://github.com/acme/demo")
	w := postJSON(t, handler, "/query", map[string]string{"session_id": id, "question": "q"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("not-ready session should yield 400, got %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["detail"] == "" || body["error"] != "Session not ready" {
		t.Errorf("unexpected not-ready body: %v", body)
	}

	// Not found: unknown session id.
	w = postJSON(t, handler, "/query", map[string]string{"session_id": "missing", "question": "q"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session should yield 404, got %d", w.Code)
	}
}

func TestQueryRateLimit(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()
	id := env.readySession(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		last = postJSON(t, handler, "/query", map[string]string{
			"session_id": id,
			"question":   fmt.Sprintf("question number %d", i),
		})
	}
	// The burst bound (10 immediate requests) trips first.
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("11th immediate request should be rejected, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
}

func TestRateLimitHeadersOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()
	id := env.readySession(t)

	w := postJSON(t, handler, "/query", map[string]string{"session_id": id, "question": "q"})
	if w.Header().Get("X-RateLimit-Remaining-Minute") == "" {
		t.Error("expected X-RateLimit-Remaining-Minute header")
	}
}

func TestIndexRejectsNonGitHubURL(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()

	w := postJSON(t, handler, "/index", map[string]string{"repo_url": "https://example.com/repo"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-GitHub URL, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()
	id := env.sessions.Create("https://github.com/acme/demo")

	req := httptest.NewRequest(http.MethodGet, "/status/"+id, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "idle" {
		t.Errorf("expected idle status, got %v", body["status"])
	}

	req = httptest.NewRequest(http.MethodGet, "/status/unknown", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session status should be 404, got %d", w.Code)
	}
}

func TestDeleteSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()
	id := env.readySession(t)

	req := httptest.NewRequest(http.MethodDelete, "/session/"+id, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", w.Code)
	}

	if _, err := env.sessions.Get(id); err == nil {
		t.Error("session should be gone after delete")
	}
}

func TestHealthAndRoot(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()

	for _, path := range []string{"/", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()
	env.sessions.Create("https://github.com/acme/one")
	env.sessions.Create("https://github.com/acme/two")

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["total_sessions"] != float64(2) {
		t.Errorf("expected 2 sessions, got %v", body["total_sessions"])
	}
}
