// Package history keeps the per-session Q&A log used for conversation
// context, mirrored to one JSON file per session so it survives restarts.
package history

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	historyLimit     = 10
	historyRetention = 24 * time.Hour
)

// Conversation is one recorded question and answer.
type Conversation struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// Store holds chat histories in memory and mirrors them to disk.
type Store struct {
	mu        sync.Mutex
	dir       string
	histories map[string][]Conversation
	now       func() time.Time
}

// NewStore creates the store, ensuring the history directory exists.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = "./chat_history"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Store{
		dir:       dir,
		histories: make(map[string][]Conversation),
		now:       time.Now,
	}, nil
}

// Add records a Q&A pair, trimming the session to its last 10 entries.
func (s *Store) Add(sessionID, question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := append(s.histories[sessionID], Conversation{
		Question:  question,
		Answer:    answer,
		Timestamp: s.now(),
	})
	if len(hist) > historyLimit {
		hist = hist[len(hist)-historyLimit:]
	}
	s.histories[sessionID] = hist
	s.saveLocked(sessionID)
}

// Get returns the session's conversations from the last 24 hours.
func (s *Store) Get(sessionID string) []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.histories[sessionID]; !ok {
		s.loadLocked(sessionID)
	}

	cutoff := s.now().Add(-historyRetention)
	var valid []Conversation
	for _, conv := range s.histories[sessionID] {
		if conv.Timestamp.After(cutoff) {
			valid = append(valid, conv)
		}
	}
	s.histories[sessionID] = valid
	return valid
}

// RecentContext formats the last few conversations for prompt inclusion,
// truncating answers to 200 characters.
func (s *Store) RecentContext(sessionID string, maxConversations int) string {
	hist := s.Get(sessionID)
	if len(hist) == 0 {
		return ""
	}
	if maxConversations > 0 && len(hist) > maxConversations {
		hist = hist[len(hist)-maxConversations:]
	}

	var parts []string
	for i, conv := range hist {
		answer := conv.Answer
		if len(answer) > 200 {
			answer = answer[:200] + "..."
		}
		parts = append(parts,
			fmt.Sprintf("Previous Q%d: %s", i+1, conv.Question),
			fmt.Sprintf("Previous A%d: %s", i+1, answer))
	}
	return strings.Join(parts, "\n")
}

// Clear drops a session's history from memory and disk.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, sessionID)
	os.Remove(s.filePath(sessionID))
}

// CleanupExpired drops conversations older than 24 hours, removing sessions
// left empty.
func (s *Store) CleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-historyRetention)
	for sessionID, hist := range s.histories {
		var valid []Conversation
		for _, conv := range hist {
			if conv.Timestamp.After(cutoff) {
				valid = append(valid, conv)
			}
		}
		if len(valid) > 0 {
			s.histories[sessionID] = valid
		} else {
			delete(s.histories, sessionID)
			os.Remove(s.filePath(sessionID))
		}
	}
}

func (s *Store) filePath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+"_history.json")
}

func (s *Store) saveLocked(sessionID string) {
	data, err := json.MarshalIndent(s.histories[sessionID], "", "  ")
	if err != nil {
		log.Printf("⚠️  Failed to encode chat history for session %s: %v", sessionID, err)
		return
	}
	if err := os.WriteFile(s.filePath(sessionID), data, 0o644); err != nil {
		log.Printf("⚠️  Failed to save chat history for session %s: %v", sessionID, err)
	}
}

func (s *Store) loadLocked(sessionID string) {
	path := s.filePath(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var hist []Conversation
	if err := json.Unmarshal(data, &hist); err != nil {
		log.Printf("⚠️  Corrupt chat history for session %s, discarding: %v", sessionID, err)
		os.Remove(path)
		return
	}
	s.histories[sessionID] = hist
}
