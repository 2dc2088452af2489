// Package ratelimit implements a per-client sliding-window rate limiter
// with minute, hour, day and burst bounds per endpoint class.
package ratelimit

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	sweepInterval    = 5 * time.Minute
	historyRetention = 24 * time.Hour
	burstWindow      = 60 * time.Second
)

// Limit bounds one endpoint class.
type Limit struct {
	PerMinute int
	PerHour   int
	PerDay    int
	Burst     int
}

// Limits keyed by endpoint class. Classes without an entry are unlimited.
var defaultLimits = map[string]Limit{
	"query":  {PerMinute: 20, PerHour: 300, PerDay: 1000, Burst: 10},
	"index":  {PerMinute: 5, PerHour: 50, PerDay: 100, Burst: 10},
	"health": {PerMinute: 60, PerHour: 1000, PerDay: 5000},
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed         bool
	Reason          string
	RetryAfter      int
	RemainingMinute int
	RemainingHour   int
	RemainingDay    int
}

type clientState struct {
	history map[string][]time.Time // per endpoint class
	burst   map[string]int
}

// Limiter tracks request timestamps per client and endpoint class.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientState
	limits  map[string]Limit
	now     func() time.Time

	// afterFunc is swappable so tests can fire the burst decrement
	// deterministically.
	afterFunc func(d time.Duration, f func()) *time.Timer

	stop chan struct{}
	done chan struct{}
}

// NewLimiter creates a limiter with the default endpoint-class limits.
func NewLimiter() *Limiter {
	return &Limiter{
		clients:   make(map[string]*clientState),
		limits:    defaultLimits,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// ClientID derives the client identity from proxy headers, falling back to
// the peer address.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Check evaluates one request. Allowed requests are recorded against all
// windows and the burst counter; rejected requests are not.
func (l *Limiter) Check(clientID, class string) Decision {
	limit, limited := l.limits[class]
	if !limited {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.clients[clientID]
	if !ok {
		state = &clientState{
			history: make(map[string][]time.Time),
			burst:   make(map[string]int),
		}
		l.clients[clientID] = state
	}

	hist := state.history[class]
	minuteCount := countSince(hist, now.Add(-time.Minute))
	hourCount := countSince(hist, now.Add(-time.Hour))
	dayCount := countSince(hist, now.Add(-24*time.Hour))

	deny := func(reason string, retryAfter int) Decision {
		return Decision{
			Allowed:         false,
			Reason:          reason,
			RetryAfter:      retryAfter,
			RemainingMinute: remaining(limit.PerMinute, minuteCount),
			RemainingHour:   remaining(limit.PerHour, hourCount),
			RemainingDay:    remaining(limit.PerDay, dayCount),
		}
	}

	if limit.Burst > 0 && state.burst[class] >= limit.Burst {
		return deny("burst limit exceeded", 60)
	}
	if limit.PerMinute > 0 && minuteCount >= limit.PerMinute {
		return deny("per-minute limit exceeded", 60)
	}
	if limit.PerHour > 0 && hourCount >= limit.PerHour {
		return deny("per-hour limit exceeded", 3600)
	}
	if limit.PerDay > 0 && dayCount >= limit.PerDay {
		return deny("per-day limit exceeded", 86400)
	}

	state.history[class] = append(hist, now)
	if limit.Burst > 0 {
		state.burst[class]++
		l.afterFunc(burstWindow, func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if s, ok := l.clients[clientID]; ok && s.burst[class] > 0 {
				s.burst[class]--
			}
		})
	}

	return Decision{
		Allowed:         true,
		RemainingMinute: remaining(limit.PerMinute, minuteCount+1),
		RemainingHour:   remaining(limit.PerHour, hourCount+1),
		RemainingDay:    remaining(limit.PerDay, dayCount+1),
	}
}

// Start launches the sweep loop that drops timestamps older than 24h and
// clients with no recent activity.
func (l *Limiter) Start() {
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := l.sweep(); n > 0 {
					log.Printf("🗑️  Rate limiter dropped %d idle clients", n)
				}
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (l *Limiter) Stop() {
	if l.stop == nil {
		return
	}
	close(l.stop)
	<-l.done
	l.stop = nil
}

func (l *Limiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-historyRetention)
	removed := 0
	for id, state := range l.clients {
		active := false
		for class, hist := range state.history {
			trimmed := hist[:0]
			for _, ts := range hist {
				if ts.After(cutoff) {
					trimmed = append(trimmed, ts)
				}
			}
			state.history[class] = trimmed
			if len(trimmed) > 0 {
				active = true
			}
		}
		if !active {
			delete(l.clients, id)
			removed++
		}
	}
	return removed
}

func countSince(hist []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range hist {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func remaining(limit, used int) int {
	if limit <= 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
