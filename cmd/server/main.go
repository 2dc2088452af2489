package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/gitsleuth/internal/api"
	"github.com/ChamsBouzaiene/gitsleuth/internal/cache"
	"github.com/ChamsBouzaiene/gitsleuth/internal/config"
	"github.com/ChamsBouzaiene/gitsleuth/internal/history"
	"github.com/ChamsBouzaiene/gitsleuth/internal/indexer"
	"github.com/ChamsBouzaiene/gitsleuth/internal/llm"
	"github.com/ChamsBouzaiene/gitsleuth/internal/rag"
	"github.com/ChamsBouzaiene/gitsleuth/internal/ratelimit"
	"github.com/ChamsBouzaiene/gitsleuth/internal/repo"
	"github.com/ChamsBouzaiene/gitsleuth/internal/session"
	"github.com/ChamsBouzaiene/gitsleuth/internal/vectorstore"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("📦 Loaded environment from .env")
	}

	settings := config.Load()

	embedder, completer, err := llm.NewFromEnv()
	if err != nil {
		log.Fatalf("❌ LLM setup failed: %v", err)
	}

	var store vectorstore.Store
	if chromem, err := vectorstore.NewChromemStore(settings.ChromaPersistDir); err == nil {
		store = chromem
		log.Printf("✅ Using persistent vector store at %s", settings.ChromaPersistDir)
	} else {
		log.Printf("⚠️  Persistent vector store failed, using simple vector store: %v", err)
		store = vectorstore.NewMemoryStore()
	}

	repos, err := repo.NewHandler(repo.Config{
		MaxFileSize:         settings.MaxFileSize,
		MaxFilesPerRepo:     settings.MaxFilesPerRepo,
		SupportedExtensions: settings.SupportedExtensions,
		ExcludedDirs:        settings.ExcludedDirs,
	})
	if err != nil {
		log.Fatalf("❌ Repository handler setup failed: %v", err)
	}

	l2, err := cache.NewSQLiteStore(settings.CacheDir)
	if err != nil {
		log.Printf("⚠️  L2 cache unavailable, continuing with memory tiers: %v", err)
	}
	multiCache := cache.NewMultiLevel(l2)
	multiCache.Start()
	defer multiCache.Stop()

	limiter := ratelimit.NewLimiter()
	limiter.Start()
	defer limiter.Stop()

	hist, err := history.NewStore("./chat_history")
	if err != nil {
		log.Fatalf("❌ Chat history setup failed: %v", err)
	}

	sessions := session.NewManager()
	chunker := indexer.NewChunker(settings.ChunkSize)
	indexing := indexer.NewService(sessions, repos, chunker, embedder, store)
	retriever := rag.NewRetriever(embedder, store, settings.MaxContextChunks, settings.SimilarityThreshold)
	pipeline := rag.NewPipeline(retriever, completer)
	optimizer := rag.NewOptimizer(multiCache, completer)

	server := api.NewServer(sessions, indexing, retriever, pipeline, optimizer, multiCache, limiter, hist)

	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	go func() {
		log.Printf("🔍 GitSleuth listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	// Periodic housekeeping for sessions and chat history.
	housekeeping := time.NewTicker(5 * time.Minute)
	defer housekeeping.Stop()
	go func() {
		for range housekeeping.C {
			if n := sessions.CleanupExpired(); n > 0 {
				log.Printf("🗑️  Removed %d expired sessions", n)
			}
			hist.CleanupExpired()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Printf("🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Shutdown error: %v", err)
	}
	if l2 != nil {
		l2.Close()
	}
	log.Printf("✅ Shutdown complete")
}
