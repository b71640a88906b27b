package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/typedash/realtime/internal/v1/logging"
	"github.com/typedash/realtime/internal/v1/metrics"
	"github.com/typedash/realtime/internal/v1/protocol"
	"github.com/typedash/realtime/internal/v1/results"
	"github.com/typedash/realtime/internal/v1/types"
	"github.com/typedash/realtime/internal/v1/words"
)

// Tokens fetched per second of a time-mode test. A 15 s test gets 45 tokens,
// enough that nobody outtypes the reference before the clock runs out.
const tokensPerSecond = 3

// evictionDelay is how long a terminal session stays addressable so late
// events get a precise error instead of TEST_NOT_FOUND.
const evictionDelay = 30 * time.Second

// Publisher delivers outbound messages to a fan-out room.
type Publisher interface {
	Publish(ctx context.Context, room types.RoomName, msg protocol.Message)
}

// Config carries the manager's tunables, sourced from the engine config.
type Config struct {
	TTL           time.Duration
	LogCap        int
	StatsInterval time.Duration
	WPMCeiling    float64
}

// Manager owns every live test session.
type Manager struct {
	source    words.Source
	sink      results.Sink
	retrier   *results.Retrier
	publisher Publisher
	clock     clockwork.Clock
	cfg       Config

	mu       sync.Mutex
	sessions map[string]*Engine
}

// NewManager wires the test session engine to its collaborators.
func NewManager(source words.Source, sink results.Sink, retrier *results.Retrier, publisher Publisher, clock clockwork.Clock, cfg Config) *Manager {
	return &Manager{
		source:    source,
		sink:      sink,
		retrier:   retrier,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		sessions:  make(map[string]*Engine),
	}
}

// JoinedPayload is the body of test:joined.
type JoinedPayload struct {
	TestID    string              `json:"testId"`
	Mode      string              `json:"mode"`
	Limit     int                 `json:"limit"`
	Reference words.ReferenceText `json:"reference"`
}

// Start handles test:start. The reference text is fetched before the session
// is installed so a word source failure never leaves a half-built session.
func (m *Manager) Start(ctx context.Context, identity types.Identity, conn types.ConnectionID, p *protocol.TestStartPayload) (*Engine, *protocol.DomainError) {
	count := p.WordCount
	limit := p.WordCount
	if p.Mode == protocol.ModeTime {
		count = p.Duration * tokensPerSecond
		limit = p.Duration
	}

	tokens, err := m.source.Fetch(ctx, words.Request{
		ListID:   p.WordListID,
		Language: p.Language,
		Count:    count,
	})
	if err != nil {
		if errors.Is(err, words.ErrNoWordlists) {
			return nil, protocol.NewError(protocol.CodeNoWordlistsAvailable, "no wordlists available for the requested language")
		}
		logging.Error(ctx, "word source fetch failed", zap.Error(err))
		return nil, protocol.NewError(protocol.CodeServerError, "failed to prepare reference text")
	}

	e := newEngine(uuid.NewString(), identity, conn, p.Mode, limit, words.NewReferenceText(tokens), m.clock, engineConfig{
		logCap:        m.cfg.LogCap,
		statsInterval: m.cfg.StatsInterval,
		ttl:           m.cfg.TTL,
	})

	m.mu.Lock()
	m.sessions[e.ID] = e
	m.mu.Unlock()
	metrics.ActiveTestSessions.Inc()

	msg, encErr := protocol.Encode(protocol.EventTestJoined, JoinedPayload{
		TestID:    e.ID,
		Mode:      e.Mode,
		Limit:     e.Limit,
		Reference: e.Reference,
	}, m.clock.Now())
	if encErr != nil {
		logging.Error(ctx, "failed to encode test:joined", zap.Error(encErr))
		return e, nil
	}
	m.publisher.Publish(ctx, types.UserRoom(identity.ID), msg)
	return e, nil
}

// Get returns the session, or a domain error mapped to its current state.
func (m *Manager) Get(testID string) (*Engine, *protocol.DomainError) {
	m.mu.Lock()
	e, ok := m.sessions[testID]
	m.mu.Unlock()
	if !ok {
		return nil, protocol.NewError(protocol.CodeTestNotFound, "test not found")
	}
	return e, nil
}

// Keystroke handles test:keystroke: server-truth judgment, log append,
// metric recompute, throttled stats publish, and completion when the
// keystroke reaches the mode's limit.
func (m *Manager) Keystroke(ctx context.Context, conn types.ConnectionID, p *protocol.KeystrokePayload) *protocol.DomainError {
	e, derr := m.Get(p.TestID)
	if derr != nil {
		return derr
	}

	out, derr := e.AcceptKeystroke(conn, p)
	if derr != nil {
		return derr
	}

	if out.started && e.Mode == protocol.ModeTime {
		m.armTimeLimit(e)
	}

	if out.completed {
		m.finish(ctx, e)
		return nil
	}

	if out.broadcast {
		msg, err := protocol.Encode(protocol.EventTestStatsUpdate, out.snapshot.Clamped(m.cfg.WPMCeiling), m.clock.Now())
		if err != nil {
			logging.Error(ctx, "failed to encode stats update", zap.Error(err))
			return nil
		}
		m.publisher.Publish(ctx, types.TestRoom(e.ID), msg)
	}
	return nil
}

// armTimeLimit schedules the hard stop for a time-mode session.
func (m *Manager) armTimeLimit(e *Engine) {
	m.clock.AfterFunc(time.Duration(e.Limit)*time.Second, func() {
		if e.TimeUp() {
			m.finish(context.Background(), e)
		}
	})
}

// Complete handles an explicit test:completed from the owner. The client's
// finalStats are advisory and ignored; the result is recomputed from the log.
func (m *Manager) Complete(ctx context.Context, conn types.ConnectionID, p *protocol.TestCompletedPayload) *protocol.DomainError {
	e, derr := m.Get(p.TestID)
	if derr != nil {
		return derr
	}
	if derr := e.Complete(conn); derr != nil {
		return derr
	}
	m.finish(ctx, e)
	return nil
}

// Leave handles test:leave: the session is abandoned with no result.
func (m *Manager) Leave(conn types.ConnectionID, p *protocol.TestLeavePayload) *protocol.DomainError {
	e, derr := m.Get(p.TestID)
	if derr != nil {
		return derr
	}
	if conn != e.OwnerConn {
		return protocol.NewError(protocol.CodeAuthForbidden, "only the session owner may leave the test")
	}

	m.remove(e.ID)
	return nil
}

// finish publishes the authoritative result and hands it to the sink. The
// client always gets its result; a sink failure goes to the retry queue.
func (m *Manager) finish(ctx context.Context, e *Engine) {
	rec := e.Result(m.cfg.WPMCeiling)

	msg, err := protocol.Encode(protocol.EventTestResult, rec, m.clock.Now())
	if err != nil {
		logging.Error(ctx, "failed to encode test result", zap.Error(err))
	} else {
		m.publisher.Publish(ctx, types.UserRoom(e.Owner.ID), msg)
		m.publisher.Publish(ctx, types.TestRoom(e.ID), msg)
	}

	if err := m.sink.Record(ctx, rec); err != nil {
		logging.Warn(ctx, "result sink failed, queueing retry",
			zap.String("testId", e.ID), zap.Error(err))
		m.retrier.Enqueue(rec)
	}

	m.clock.AfterFunc(evictionDelay, func() { m.remove(e.ID) })
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		metrics.ActiveTestSessions.Dec()
	}
}

// ExpireStale walks every session and expires the ones past TTL. Called by
// the hub's housekeeping loop.
func (m *Manager) ExpireStale() int {
	now := m.clock.Now()

	m.mu.Lock()
	stale := make([]*Engine, 0)
	for _, e := range m.sessions {
		stale = append(stale, e)
	}
	m.mu.Unlock()

	expired := 0
	for _, e := range stale {
		if e.ExpireIfStale(now) {
			expired++
			m.clock.AfterFunc(evictionDelay, func() { m.remove(e.ID) })
		}
	}
	return expired
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
