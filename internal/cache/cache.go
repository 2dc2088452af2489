// Package cache implements the multi-level response cache: a hot in-memory
// LRU (L1), a durable sqlite tier (L2) and per-session LRU instances (L3).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

// ttlByType maps cache entry types to their lifetimes. Unknown types get
// the one-hour default.
var ttlByType = map[string]time.Duration{
	"query_response": 2 * time.Hour,
	"embedding":      24 * time.Hour,
	"context":        1 * time.Hour,
	"session_data":   30 * time.Minute,
	"repo_metadata":  24 * time.Hour,
}

const defaultTTL = 1 * time.Hour

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	L1Entries    int   `json:"l1_entries"`
	SessionCount int   `json:"session_caches"`
}

// MultiLevel is the cache facade. Reads check L1 then L2, promoting L2 hits
// into L1. Read and write failures are swallowed; the cache never fails a
// request.
type MultiLevel struct {
	l1 *LRU
	l2 *SQLiteStore

	mu       sync.Mutex
	sessions map[string]*LRU

	hits   int64
	misses int64

	stop chan struct{}
	done chan struct{}
}

// NewMultiLevel builds the cache. l2 may be nil, leaving only the memory
// tiers active.
func NewMultiLevel(l2 *SQLiteStore) *MultiLevel {
	return &MultiLevel{
		l1:       NewLRU(1000, 64<<20),
		l2:       l2,
		sessions: make(map[string]*LRU),
	}
}

// Key derives the cache key for an entry type and its identifying arguments.
func Key(entryType string, args ...string) string {
	h := sha256.New()
	h.Write([]byte(entryType))
	for _, a := range args {
		h.Write([]byte{0})
		h.Write([]byte(a))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TTLFor returns the lifetime for an entry type.
func TTLFor(entryType string) time.Duration {
	if ttl, ok := ttlByType[entryType]; ok {
		return ttl
	}
	return defaultTTL
}

// Get looks up a key in L1 then L2. An L2 hit is promoted to L1 with the
// type's TTL. Corrupt L2 values are dropped and reported as a miss.
func (c *MultiLevel) Get(entryType string, key string, dest interface{}) bool {
	if data, ok := c.l1.Get(key); ok {
		if json.Unmarshal(data, dest) == nil {
			c.recordHit()
			return true
		}
		c.l1.Delete(key)
	}
	if c.l2 != nil {
		if data, ok := c.l2.Get(key); ok {
			if json.Unmarshal(data, dest) == nil {
				c.l1.Set(key, data, TTLFor(entryType))
				c.recordHit()
				return true
			}
			c.l2.Delete(key)
		}
	}
	c.recordMiss()
	return false
}

// Set stores a value in L1 and L2 under the type's TTL.
func (c *MultiLevel) Set(entryType string, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	ttl := TTLFor(entryType)
	c.l1.Set(key, data, ttl)
	if c.l2 != nil {
		if err := c.l2.Set(key, data, ttl); err != nil {
			log.Printf("⚠️  L2 cache write failed: %v", err)
		}
	}
}

// Delete removes a key from all shared tiers.
func (c *MultiLevel) Delete(key string) {
	c.l1.Delete(key)
	if c.l2 != nil {
		c.l2.Delete(key)
	}
}

// GetSession looks up a key in the session's L3 cache.
func (c *MultiLevel) GetSession(sessionID, key string, dest interface{}) bool {
	c.mu.Lock()
	lru, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		c.recordMiss()
		return false
	}
	data, ok := lru.Get(key)
	if !ok || json.Unmarshal(data, dest) != nil {
		c.recordMiss()
		return false
	}
	c.recordHit()
	return true
}

// SetSession stores a value in the session's L3 cache, creating the cache
// on first use.
func (c *MultiLevel) SetSession(entryType, sessionID, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.mu.Lock()
	lru, ok := c.sessions[sessionID]
	if !ok {
		lru = NewLRU(200, 16<<20)
		c.sessions[sessionID] = lru
	}
	c.mu.Unlock()
	lru.Set(key, data, TTLFor(entryType))
}

// ClearSession drops the session's entire L3 cache.
func (c *MultiLevel) ClearSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// Stats returns hit/miss counters and tier sizes.
func (c *MultiLevel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		L1Entries:    c.l1.Len(),
		SessionCount: len(c.sessions),
	}
}

// Start launches the background sweep that purges expired L2 rows every
// five minutes. Safe to call once.
func (c *MultiLevel) Start() {
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if c.l2 != nil {
					if n := c.l2.SweepExpired(); n > 0 {
						log.Printf("🗑️  Cache sweep removed %d expired entries", n)
					}
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (c *MultiLevel) Stop() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop = nil
}

func (c *MultiLevel) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *MultiLevel) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
