package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusIndexing Status = "indexing"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// DefaultMaxAge is how long a session stays valid after creation.
const DefaultMaxAge = 24 * time.Hour

// Session tracks the indexing and query state for one repository analysis.
type Session struct {
	ID           string                 `json:"id"`
	RepoURL      string                 `json:"repo_url"`
	Status       Status                 `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Progress     map[string]interface{} `json:"progress,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`

	RepoPath        string `json:"repo_path,omitempty"`
	TotalFiles      int    `json:"total_files"`
	ProcessedFiles  int    `json:"processed_files"`
	TotalChunks     int    `json:"total_chunks"`
	ProcessedChunks int    `json:"processed_chunks"`
}

// NotFoundError indicates the session is absent or expired.
type NotFoundError struct {
	SessionID string
	Expired   bool
}

func (e *NotFoundError) Error() string {
	if e.Expired {
		return fmt.Sprintf("session %s has expired", e.SessionID)
	}
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// Counters is the subset of session fields updated by the indexing pipeline.
type Counters struct {
	TotalFiles      *int
	ProcessedFiles  *int
	TotalChunks     *int
	ProcessedChunks *int
	RepoPath        *string
}

// Manager owns the in-memory session registry. All mutations go through it
// so concurrent status readers never observe a half-applied update.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxAge   time.Duration
	now      func() time.Time
}

// NewManager creates a session manager with the default 24h session TTL.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		maxAge:   DefaultMaxAge,
		now:      time.Now,
	}
}

// Create registers a new idle session and returns its id.
func (m *Manager) Create(repoURL string) string {
	id := uuid.NewString()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &Session{
		ID:        id,
		RepoURL:   repoURL,
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
		Progress:  make(map[string]interface{}),
	}
	return id
}

// Get returns a snapshot of the session. Expired sessions are deleted on
// access and reported as not found.
func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, &NotFoundError{SessionID: sessionID}
	}
	if m.now().Sub(s.CreatedAt) > m.maxAge {
		delete(m.sessions, sessionID)
		return Session{}, &NotFoundError{SessionID: sessionID, Expired: true}
	}
	return snapshot(s), nil
}

// Update sets the session status and message and merges progress keys.
// Status transitions only move forward; Error is reachable from any state.
// Progress keys are merged, never removed.
func (m *Manager) Update(sessionID string, status Status, message string, progress map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return &NotFoundError{SessionID: sessionID}
	}
	if m.now().Sub(s.CreatedAt) > m.maxAge {
		delete(m.sessions, sessionID)
		return &NotFoundError{SessionID: sessionID, Expired: true}
	}

	if !validTransition(s.Status, status) {
		return fmt.Errorf("invalid session transition %s -> %s", s.Status, status)
	}

	s.Status = status
	s.UpdatedAt = m.now()
	if message != "" {
		s.ErrorMessage = message
	}
	for k, v := range progress {
		s.Progress[k] = v
	}
	return nil
}

// UpdateCounters applies file/chunk counter changes atomically with respect
// to concurrent Get calls.
func (m *Manager) UpdateCounters(sessionID string, c Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return &NotFoundError{SessionID: sessionID}
	}
	if c.TotalFiles != nil {
		s.TotalFiles = *c.TotalFiles
	}
	if c.ProcessedFiles != nil {
		s.ProcessedFiles = *c.ProcessedFiles
	}
	if c.TotalChunks != nil {
		s.TotalChunks = *c.TotalChunks
	}
	if c.ProcessedChunks != nil {
		s.ProcessedChunks = *c.ProcessedChunks
	}
	if c.RepoPath != nil {
		s.RepoPath = *c.RepoPath
	}
	s.UpdatedAt = m.now()
	return nil
}

// Delete removes a session. Deleting an absent session is a no-op.
func (m *Manager) Delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns snapshots of all sessions.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, snapshot(s))
	}
	return out
}

// StatsByStatus returns session counts keyed by status, plus "total".
func (m *Manager) StatsByStatus() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]int{
		"total":                0,
		string(StatusIdle):     0,
		string(StatusIndexing): 0,
		string(StatusReady):    0,
		string(StatusError):    0,
	}
	stats["total"] = len(m.sessions)
	for _, s := range m.sessions {
		stats[string(s.Status)]++
	}
	return stats
}

// CleanupExpired removes all expired sessions and returns how many were dropped.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if m.now().Sub(s.CreatedAt) > m.maxAge {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// validTransition enforces forward-only status movement. Error is a sink
// reachable from any state; repeating the current status is allowed so the
// indexing pipeline can publish progress without changing state.
func validTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if to == StatusError {
		return from != StatusError
	}
	order := map[Status]int{
		StatusIdle:     0,
		StatusIndexing: 1,
		StatusReady:    2,
	}
	fromRank, okFrom := order[from]
	toRank, okTo := order[to]
	return okFrom && okTo && toRank > fromRank
}

func snapshot(s *Session) Session {
	snap := *s
	snap.Progress = make(map[string]interface{}, len(s.Progress))
	for k, v := range s.Progress {
		snap.Progress[k] = v
	}
	return snap
}
