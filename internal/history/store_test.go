package history

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAddAndGet(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	s.Add("sess", "what is this?", "a RAG service")
	got := s.Get("sess")
	if len(got) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(got))
	}
	if got[0].Question != "what is this?" {
		t.Errorf("unexpected question: %q", got[0].Question)
	}
}

func TestHistoryLimit(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	for i := 0; i < 15; i++ {
		s.Add("sess", fmt.Sprintf("q%d", i), "a")
	}
	got := s.Get("sess")
	if len(got) != historyLimit {
		t.Fatalf("expected %d conversations kept, got %d", historyLimit, len(got))
	}
	if got[0].Question != "q5" {
		t.Errorf("expected oldest kept to be q5, got %s", got[0].Question)
	}
}

func TestRetentionWindow(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	base := time.Now()
	s.now = func() time.Time { return base }
	s.Add("sess", "old question", "old answer")

	s.now = func() time.Time { return base.Add(25 * time.Hour) }
	if got := s.Get("sess"); len(got) != 0 {
		t.Errorf("conversations older than 24h should be dropped, got %d", len(got))
	}
}

func TestPersistenceAcrossStores(t *testing.T) {
	dir := t.TempDir()
	s1, _ := NewStore(dir)
	s1.Add("sess", "persisted?", "yes")

	s2, _ := NewStore(dir)
	got := s2.Get("sess")
	if len(got) != 1 || got[0].Answer != "yes" {
		t.Fatalf("history did not survive restart: %+v", got)
	}
}

func TestRecentContextFormatting(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.Add("sess", "q1", strings.Repeat("x", 300))
	s.Add("sess", "q2", "short")

	ctx := s.RecentContext("sess", 3)
	if !strings.Contains(ctx, "Previous Q1: q1") {
		t.Errorf("missing first question: %s", ctx)
	}
	if !strings.Contains(ctx, "...") {
		t.Error("long answers should be truncated with ellipsis")
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	s.Add("sess", "q", "a")
	s.Clear("sess")

	if got := s.Get("sess"); len(got) != 0 {
		t.Errorf("cleared session should have no history, got %d", len(got))
	}
	// A fresh store must not resurrect it from disk.
	s2, _ := NewStore(dir)
	if got := s2.Get("sess"); len(got) != 0 {
		t.Error("history file should be deleted on clear")
	}
}
