// Package session implements the single-player test engine. Each test session
// owns its reference text, keystroke log, and derived metrics, and moves
// through created, running, completed or expired exactly once. All mutation
// happens under the session mutex; the manager is the only caller.
package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/typedash/realtime/internal/v1/metrics"
	"github.com/typedash/realtime/internal/v1/protocol"
	"github.com/typedash/realtime/internal/v1/results"
	"github.com/typedash/realtime/internal/v1/types"
	"github.com/typedash/realtime/internal/v1/typing"
	"github.com/typedash/realtime/internal/v1/words"
)

// Status is the test session lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Engine owns one test session.
type Engine struct {
	ID        string
	Owner     types.Identity
	OwnerConn types.ConnectionID
	Mode      string
	Limit     int // seconds in time mode, word count in words mode
	Reference words.ReferenceText

	clock         clockwork.Clock
	statsInterval time.Duration
	ttl           time.Duration

	mu            sync.Mutex
	status        Status
	log           *typing.Log
	position      int
	createdAt     time.Time
	startedAt     time.Time
	endedAt       time.Time
	snapshot      typing.Snapshot
	lastBroadcast time.Time
}

type engineConfig struct {
	logCap        int
	statsInterval time.Duration
	ttl           time.Duration
}

func newEngine(id string, owner types.Identity, conn types.ConnectionID, mode string, limit int, ref words.ReferenceText, clock clockwork.Clock, cfg engineConfig) *Engine {
	return &Engine{
		ID:            id,
		Owner:         owner,
		OwnerConn:     conn,
		Mode:          mode,
		Limit:         limit,
		Reference:     ref,
		clock:         clock,
		statsInterval: cfg.statsInterval,
		ttl:           cfg.ttl,
		status:        StatusCreated,
		log:           typing.NewLog(cfg.logCap),
		createdAt:     clock.Now(),
	}
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Snapshot returns an immutable copy of the latest derived metrics.
func (e *Engine) Snapshot() typing.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// keystrokeOutcome tells the manager what to do after an accepted keystroke.
type keystrokeOutcome struct {
	snapshot  typing.Snapshot
	broadcast bool // the 100ms throttle allows a stats publish
	completed bool // this keystroke finished the test
	started   bool // this keystroke moved the session to running
	correct   bool
}

// AcceptKeystroke applies one typing event. Correctness is judged against the
// reference text at the engine's own position; the client's correct claim and
// position are advisory only.
func (e *Engine) AcceptKeystroke(from types.ConnectionID, p *protocol.KeystrokePayload) (keystrokeOutcome, *protocol.DomainError) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if from != e.OwnerConn {
		return keystrokeOutcome{}, protocol.NewError(protocol.CodeAuthForbidden, "only the session owner may submit keystrokes")
	}

	now := e.clock.Now()
	started := false
	switch e.status {
	case StatusCreated:
		// First keystroke starts the clock.
		e.status = StatusRunning
		e.startedAt = now
		started = true
	case StatusRunning:
	case StatusCompleted:
		return keystrokeOutcome{}, protocol.NewError(protocol.CodeTestCompleted, "test already completed")
	case StatusExpired:
		return keystrokeOutcome{}, protocol.NewError(protocol.CodeTestExpired, "test has expired")
	}

	k := typing.Keystroke{
		Timestamp: p.Timestamp,
		Key:       p.Key,
		Position:  e.position,
	}
	if !k.IsDeletion() {
		ref, inRange := e.Reference.CharAt(e.position)
		k.Correct = inRange && string(ref) == p.Key
	}

	e.log.Append(k)
	if k.IsDeletion() {
		if e.position > 0 {
			e.position--
		}
	} else {
		e.position++
		metrics.KeystrokesProcessed.WithLabelValues(boolLabel(k.Correct)).Inc()
	}

	elapsed := now.Sub(e.startedAt)
	e.snapshot = typing.Compute(e.log, e.position, elapsed)

	out := keystrokeOutcome{snapshot: e.snapshot, started: started, correct: k.Correct}

	if e.dueLocked(elapsed) {
		e.completeLocked(now)
		out.completed = true
		out.broadcast = true
		return out, nil
	}

	if now.Sub(e.lastBroadcast) >= e.statsInterval {
		e.lastBroadcast = now
		out.broadcast = true
	}
	return out, nil
}

// dueLocked reports whether the mode's limit has been reached.
func (e *Engine) dueLocked(elapsed time.Duration) bool {
	switch e.Mode {
	case protocol.ModeTime:
		return elapsed >= time.Duration(e.Limit)*time.Second
	case protocol.ModeWords:
		return e.position >= e.Reference.Len()
	}
	return false
}

// Complete finishes the test on the owner's explicit request.
func (e *Engine) Complete(from types.ConnectionID) *protocol.DomainError {
	e.mu.Lock()
	defer e.mu.Unlock()

	if from != e.OwnerConn {
		return protocol.NewError(protocol.CodeAuthForbidden, "only the session owner may complete the test")
	}
	switch e.status {
	case StatusCompleted:
		return protocol.NewError(protocol.CodeTestCompleted, "test already completed")
	case StatusExpired:
		return protocol.NewError(protocol.CodeTestExpired, "test has expired")
	}

	e.completeLocked(e.clock.Now())
	return nil
}

// TimeUp finishes a time-mode session when its duration timer fires. Returns
// false when the session already reached a terminal state.
func (e *Engine) TimeUp() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusRunning {
		return false
	}
	e.completeLocked(e.clock.Now())
	return true
}

func (e *Engine) completeLocked(now time.Time) {
	if e.startedAt.IsZero() {
		e.startedAt = now
	}
	e.endedAt = now
	e.status = StatusCompleted
	e.snapshot = typing.Compute(e.log, e.position, now.Sub(e.startedAt))
}

// ExpireIfStale transitions a non-terminal session past its TTL to expired.
func (e *Engine) ExpireIfStale(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusCreated && e.status != StatusRunning {
		return false
	}
	if now.Sub(e.createdAt) < e.ttl {
		return false
	}
	e.status = StatusExpired
	e.endedAt = now
	return true
}

// Result builds the authoritative record for the sink. Call only after
// completion; the wpm ceiling clamp is applied here.
func (e *Engine) Result(wpmCeiling float64) results.TestResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.snapshot.Clamped(wpmCeiling)
	return results.TestResult{
		SessionID:      e.ID,
		IdentityID:     string(e.Owner.ID),
		Mode:           e.Mode,
		Limit:          e.Limit,
		WPM:            s.WPM,
		RawWPM:         s.RawWPM,
		Accuracy:       s.Accuracy,
		Consistency:    s.Consistency,
		Errors:         s.Errors,
		CorrectChars:   s.CorrectChars,
		IncorrectChars: s.IncorrectChars,
		ElapsedMs:      s.ElapsedMs,
		StartedAt:      e.startedAt,
		EndedAt:        e.endedAt,
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
