// Package ratelimit enforces per-event fairness limits. The Governor applies
// token-bucket quotas keyed by (identity, event class) inside the session
// router; the HTTP Gate throttles websocket handshakes per remote address
// before the upgrade is attempted.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/typedash/realtime/internal/v1/metrics"
)

// Class partitions inbound traffic so that keystroke bursts cannot starve
// chat decisions and a chatty user cannot lose keystroke capacity.
type Class string

const (
	ClassConnection   Class = "connection"
	ClassKeystroke    Class = "keystroke"
	ClassRaceProgress Class = "race-progress"
	ClassChat         Class = "chat"
	ClassGeneral      Class = "general"
)

// ClassFor maps an inbound event name to its rate class.
func ClassFor(eventType string) Class {
	switch eventType {
	case "test:keystroke":
		return ClassKeystroke
	case "race:progress":
		return ClassRaceProgress
	case "race:message":
		return ClassChat
	default:
		return ClassGeneral
	}
}

type classLimit struct {
	capacity int
	refill   rate.Limit
}

var classLimits = map[Class]classLimit{
	ClassConnection:   {capacity: 10, refill: rate.Every(6 * time.Second)},
	ClassKeystroke:    {capacity: 20, refill: rate.Limit(20)},
	ClassRaceProgress: {capacity: 10, refill: rate.Limit(10)},
	ClassChat:         {capacity: 5, refill: rate.Every(12 * time.Second)},
	ClassGeneral:      {capacity: 100, refill: rate.Every(6 * time.Second)},
}

// bucketIdleTTL is how long an untouched bucket survives before a sweep
// reclaims it.
const bucketIdleTTL = 10 * time.Minute

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	mu        sync.Mutex
	lim       *rate.Limiter
	lastTouch time.Time
}

// Governor owns one token bucket per (key, class) pair. All methods are safe
// for concurrent use; each bucket updates under its own mutex.
type Governor struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	clock   clockwork.Clock
}

// NewGovernor creates a Governor using the wall clock.
func NewGovernor() *Governor {
	return NewGovernorWithClock(clockwork.NewRealClock())
}

// NewGovernorWithClock creates a Governor on an injected clock for tests.
func NewGovernorWithClock(clock clockwork.Clock) *Governor {
	return &Governor{
		buckets: make(map[string]*bucket),
		clock:   clock,
	}
}

// Check consumes one token from the (key, class) bucket if available.
// On denial the Decision carries the wait until the next token.
func (g *Governor) Check(key string, class Class) Decision {
	b := g.getOrCreate(key, class)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := g.clock.Now()
	b.lastTouch = now

	// Every class capacity is >= 1, so a single-token reservation always
	// succeeds; the only question is how long the token takes to accrue.
	r := b.lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		metrics.RateLimitExceeded.WithLabelValues(string(class), "identity").Inc()
		return Decision{Allowed: false, RetryAfter: delay}
	}

	metrics.RateLimitRequests.WithLabelValues(string(class)).Inc()
	return Decision{Allowed: true, Remaining: int(b.lim.TokensAt(now))}
}

// Sweep drops buckets untouched for longer than the idle TTL. Called from the
// engine's periodic housekeeping under a write lock.
func (g *Governor) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.clock.Now().Add(-bucketIdleTTL)
	removed := 0
	for k, b := range g.buckets {
		b.mu.Lock()
		stale := b.lastTouch.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(g.buckets, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of live buckets.
func (g *Governor) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.buckets)
}

func (g *Governor) getOrCreate(key string, class Class) *bucket {
	id := string(class) + ":" + key

	g.mu.RLock()
	b, ok := g.buckets[id]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.buckets[id]; ok {
		return b
	}

	cl, ok := classLimits[class]
	if !ok {
		cl = classLimits[ClassGeneral]
	}
	b = &bucket{
		lim:       rate.NewLimiter(cl.refill, cl.capacity),
		lastTouch: g.clock.Now(),
	}
	g.buckets[id] = b
	return b
}
