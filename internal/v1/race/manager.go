package race

import (
	"context"
	"errors"
	"math/rand/v2"
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

const (
	// tokensPerSecond sizes a time-mode reference text.
	tokensPerSecond = 3

	// evictionDelay keeps a terminal race addressable long enough for
	// clients to fetch the final standings.
	evictionDelay = 60 * time.Second

	// graceWindowCap bounds how long a words-mode race stays open after the
	// first finisher.
	graceWindowCap = 30 * time.Second

	countdownTick = time.Second
)

// Fabric is the room fan-out surface the race engine needs. Satisfied by
// rooms.Fabric.
type Fabric interface {
	Subscribe(room types.RoomName, sub types.Subscriber)
	Unsubscribe(room types.RoomName, id types.ConnectionID)
	Publish(ctx context.Context, room types.RoomName, msg protocol.Message)
}

// Config carries the race engine tunables.
type Config struct {
	CountdownDuration time.Duration
	WaitingTTL        time.Duration
	WPMCeiling        float64
	MinPlayers        int
}

// Manager owns every live race.
type Manager struct {
	source  words.Source
	sink    results.Sink
	retrier *results.Retrier
	fabric  Fabric
	clock   clockwork.Clock
	cfg     Config

	rngMu sync.Mutex
	rng   *rand.Rand

	// mu guards the lookup maps only; per-race state is serialized by the
	// race's own lock in inner.
	mu     sync.Mutex
	races  map[string]*Race
	byCode map[string]string
	byConn map[types.ConnectionID]string
	inner  map[string]*sync.Mutex
}

// NewManager wires the race engine to its collaborators.
func NewManager(source words.Source, sink results.Sink, retrier *results.Retrier, fabric Fabric, clock clockwork.Clock, rngSeed int64, cfg Config) *Manager {
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = protocol.MinPlayers
	}
	return &Manager{
		source:  source,
		sink:    sink,
		retrier: retrier,
		fabric:  fabric,
		clock:   clock,
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(uint64(rngSeed), 0)),
		races:   make(map[string]*Race),
		byCode:  make(map[string]string),
		byConn:  make(map[types.ConnectionID]string),
		inner:   make(map[string]*sync.Mutex),
	}
}

// --- Outbound payloads ---

// CreatedPayload is the body of race:created.
type CreatedPayload struct {
	RaceID     string     `json:"raceId"`
	Code       string     `json:"code"`
	Name       string     `json:"name"`
	Mode       string     `json:"mode"`
	Limit      int        `json:"limit"`
	MaxPlayers int        `json:"maxPlayers"`
	IsPrivate  bool       `json:"isPrivate"`
	Players    []Progress `json:"players"`
}

// JoinedPayload is the body of race:joined, sent to the joining connection.
type JoinedPayload struct {
	RaceID    string     `json:"raceId"`
	Status    Status     `json:"status"`
	Players   []Progress `json:"players"`
	Spectator bool       `json:"spectator,omitempty"`
}

// PlayerPayload is the body of race:player_joined and race:player_left.
type PlayerPayload struct {
	RaceID     string    `json:"raceId"`
	IdentityID string    `json:"identityId"`
	Username   string    `json:"username,omitempty"`
	Player     *Progress `json:"player,omitempty"`
}

// StartPayload is the body of race:start, opening the countdown.
type StartPayload struct {
	RaceID           string              `json:"raceId"`
	CountdownSeconds int                 `json:"countdownSeconds"`
	Reference        words.ReferenceText `json:"reference"`
}

// CountdownPayload is the body of each race:countdown tick.
type CountdownPayload struct {
	RaceID    string `json:"raceId"`
	Remaining int    `json:"remaining"`
}

// BeginPayload is the body of race:begin.
type BeginPayload struct {
	RaceID    string    `json:"raceId"`
	StartedAt time.Time `json:"startedAt"`
}

// ProgressUpdatePayload is the body of race:progress_update.
type ProgressUpdatePayload struct {
	RaceID  string     `json:"raceId"`
	Players []Progress `json:"players"`
}

// FinishedPayload is the body of race:player_finished.
type FinishedPayload struct {
	RaceID       string `json:"raceId"`
	IdentityID   string `json:"identityId"`
	Rank         int    `json:"rank"`
	FinishTimeMs int64  `json:"finishTimeMs"`
}

// CompletedPayload is the body of race:completed.
type CompletedPayload struct {
	RaceID     string     `json:"raceId"`
	Winner     string     `json:"winner,omitempty"`
	Rankings   []Progress `json:"rankings"`
	DurationMs int64      `json:"durationMs"`
}

// ChatPayload is the body of race:message_received.
type ChatPayload struct {
	RaceID     string `json:"raceId"`
	IdentityID string `json:"identityId"`
	Username   string `json:"username"`
	Message    string `json:"message"`
}

// --- Operations ---

// Create handles race:create. The caller becomes the first player and is
// subscribed to the race room.
func (m *Manager) Create(ctx context.Context, sub types.Subscriber, p *protocol.RaceCreatePayload) (*Race, *protocol.DomainError) {
	connID := sub.GetID()

	m.mu.Lock()
	if _, busy := m.byConn[connID]; busy {
		m.mu.Unlock()
		return nil, protocol.NewError(protocol.CodeValidationError, "connection is already in a race")
	}
	m.mu.Unlock()

	count := p.WordCount
	if p.Mode == protocol.ModeTime {
		count = p.Duration * tokensPerSecond
	}
	tokens, err := m.source.Fetch(ctx, words.Request{ListID: p.WordListID, Language: p.Language, Count: count})
	if err != nil {
		if errors.Is(err, words.ErrNoWordlists) {
			return nil, protocol.NewError(protocol.CodeNoWordlistsAvailable, "no wordlists available for the requested language")
		}
		logging.Error(ctx, "word source fetch failed", zap.Error(err))
		return nil, protocol.NewError(protocol.CodeServerError, "failed to prepare reference text")
	}

	limit := p.WordCount
	if p.Mode == protocol.ModeTime {
		limit = p.Duration
	}

	now := m.clock.Now()
	identity := sub.GetIdentity()
	r := &Race{
		ID:              uuid.NewString(),
		Code:            m.nextCode(),
		Name:            p.Name,
		Mode:            p.Mode,
		Limit:           limit,
		MaxPlayers:      p.MaxPlayers,
		MinPlayers:      m.cfg.MinPlayers,
		IsPrivate:       p.IsPrivate,
		AllowSpectators: true,
		CreatedBy:       identity.ID,
		Reference:       words.NewReferenceText(tokens),
		status:          StatusWaiting,
		roster:          make(map[types.IdentityID]*Progress),
		joinOrder:       []types.IdentityID{identity.ID},
		nextRank:        1,
		createdAt:       now,
	}
	r.roster[identity.ID] = &Progress{
		Identity:  identity,
		JoinedAt:  now,
		Accuracy:  100,
		Connected: true,
		conn:      connID,
	}
	players := r.rosterSnapshotLocked()

	m.mu.Lock()
	m.races[r.ID] = r
	m.byCode[r.Code] = r.ID
	m.byConn[connID] = r.ID
	m.inner[r.ID] = &sync.Mutex{}
	m.mu.Unlock()
	metrics.ActiveRaces.Inc()

	m.fabric.Subscribe(types.RaceRoom(r.ID), sub)
	m.emit(ctx, types.RaceRoom(r.ID), protocol.EventRaceCreated, CreatedPayload{
		RaceID:     r.ID,
		Code:       r.Code,
		Name:       r.Name,
		Mode:       r.Mode,
		Limit:      r.Limit,
		MaxPlayers: r.MaxPlayers,
		IsPrivate:  r.IsPrivate,
		Players:    players,
	})
	return r, nil
}

// nextCode draws room codes until one is free. Collisions are vanishingly
// rare at 36^6 but a duplicate code would cross-wire two lobbies.
func (m *Manager) nextCode() string {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	for {
		code := newRoomCode(m.rng)
		m.mu.Lock()
		_, taken := m.byCode[code]
		m.mu.Unlock()
		if !taken {
			return code
		}
	}
}

// lookup resolves a race id or room code.
func (m *Manager) lookup(key string) (*Race, *sync.Mutex, *protocol.DomainError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := key
	if mapped, ok := m.byCode[key]; ok {
		id = mapped
	}
	r, ok := m.races[id]
	if !ok {
		return nil, nil, protocol.NewError(protocol.CodeRaceNotFound, "race not found")
	}
	return r, m.inner[id], nil
}

// Join handles race:join. A duplicate join by a roster member is a no-op
// that re-sends the joined state (and re-binds the connection, which is how
// reconnection works). Joins after the race left waiting become spectators
// when the race allows it.
func (m *Manager) Join(ctx context.Context, sub types.Subscriber, p *protocol.RaceJoinPayload) *protocol.DomainError {
	r, lock, derr := m.lookup(p.RaceID)
	if derr != nil {
		return derr
	}
	identity := sub.GetIdentity()
	connID := sub.GetID()
	now := m.clock.Now()

	lock.Lock()

	if player, present := r.roster[identity.ID]; present {
		// Duplicate join or reconnection: no roster change.
		player.Connected = true
		oldConn := player.conn
		player.conn = connID
		joined := JoinedPayload{RaceID: r.ID, Status: r.statusLocked(), Players: r.rosterSnapshotLocked()}
		lock.Unlock()

		m.mu.Lock()
		delete(m.byConn, oldConn)
		m.byConn[connID] = r.ID
		m.mu.Unlock()

		m.fabric.Subscribe(types.RaceRoom(r.ID), sub)
		m.emit(ctx, types.UserRoom(identity.ID), protocol.EventRaceJoined, joined)
		return nil
	}

	if r.statusLocked().terminal() {
		lock.Unlock()
		return protocol.NewError(protocol.CodeRaceFinished, "race already finished")
	}

	if r.statusLocked() != StatusWaiting {
		// Countdown and active races take no new players. Spectators may
		// still watch.
		allow := r.AllowSpectators
		joined := JoinedPayload{RaceID: r.ID, Status: r.statusLocked(), Players: r.rosterSnapshotLocked(), Spectator: true}
		lock.Unlock()
		if !allow {
			return protocol.NewError(protocol.CodeRaceStarted, "race already started")
		}
		m.fabric.Subscribe(types.RaceRoom(r.ID), sub)
		m.emit(ctx, types.UserRoom(identity.ID), protocol.EventRaceJoined, joined)
		return nil
	}

	if len(r.roster) >= r.MaxPlayers {
		lock.Unlock()
		return protocol.NewError(protocol.CodeRaceFull, "race is full")
	}

	m.mu.Lock()
	if _, busy := m.byConn[connID]; busy {
		m.mu.Unlock()
		lock.Unlock()
		return protocol.NewError(protocol.CodeValidationError, "connection is already in a race")
	}
	m.byConn[connID] = r.ID
	m.mu.Unlock()

	player := &Progress{
		Identity:  identity,
		JoinedAt:  now,
		Accuracy:  100,
		Connected: true,
		conn:      connID,
	}
	r.roster[identity.ID] = player
	r.joinOrder = append(r.joinOrder, identity.ID)

	joined := JoinedPayload{RaceID: r.ID, Status: r.statusLocked(), Players: r.rosterSnapshotLocked()}
	playerCopy := *player
	startCountdown := len(r.roster) >= r.MinPlayers
	lock.Unlock()

	m.fabric.Subscribe(types.RaceRoom(r.ID), sub)
	m.emit(ctx, types.UserRoom(identity.ID), protocol.EventRaceJoined, joined)
	m.emit(ctx, types.RaceRoom(r.ID), protocol.EventRacePlayerJoined, PlayerPayload{
		RaceID:     r.ID,
		IdentityID: string(identity.ID),
		Username:   string(identity.Username),
		Player:     &playerCopy,
	})

	if startCountdown {
		m.startCountdown(ctx, r, lock)
	}
	return nil
}

// startCountdown moves the race into countdown and arms the tick chain.
func (m *Manager) startCountdown(ctx context.Context, r *Race, lock *sync.Mutex) {
	lock.Lock()
	if !r.transitionLocked(StatusCountdown, m.clock.Now()) {
		lock.Unlock()
		return
	}
	gen := r.generation
	lock.Unlock()

	seconds := int(m.cfg.CountdownDuration / time.Second)
	m.emit(ctx, types.RaceRoom(r.ID), protocol.EventRaceStart, StartPayload{
		RaceID:           r.ID,
		CountdownSeconds: seconds,
		Reference:        r.Reference,
	})
	m.armCountdownTick(r, lock, gen, seconds)
}

func (m *Manager) armCountdownTick(r *Race, lock *sync.Mutex, gen uint64, remaining int) {
	m.clock.AfterFunc(countdownTick, func() {
		ctx := context.Background()

		lock.Lock()
		if r.generation != gen || r.statusLocked() != StatusCountdown {
			lock.Unlock()
			return // countdown was cancelled or superseded
		}
		remaining--
		if remaining > 0 {
			lock.Unlock()
			m.emit(ctx, types.RaceRoom(r.ID), protocol.EventRaceCountdown, CountdownPayload{RaceID: r.ID, Remaining: remaining})
			m.armCountdownTick(r, lock, gen, remaining)
			return
		}

		now := m.clock.Now()
		r.transitionLocked(StatusActive, now)
		activeGen := r.generation
		startedAt := r.startedAt
		lock.Unlock()

		m.emit(ctx, types.RaceRoom(r.ID), protocol.EventRaceBegin, BeginPayload{RaceID: r.ID, StartedAt: startedAt})

		if r.Mode == protocol.ModeTime {
			m.clock.AfterFunc(time.Duration(r.Limit)*time.Second, func() {
				m.complete(context.Background(), r, lock, activeGen)
			})
		}
	})
}

// Progress handles race:progress. Live values are trusted for fan-out only;
// persisted numbers are recomputed at completion.
func (m *Manager) Progress(ctx context.Context, sub types.Subscriber, p *protocol.RaceProgressPayload) *protocol.DomainError {
	r, lock, derr := m.lookup(p.RaceID)
	if derr != nil {
		return derr
	}
	identity := sub.GetIdentity()

	lock.Lock()
	if status := r.statusLocked(); status != StatusActive {
		lock.Unlock()
		if status.terminal() {
			return protocol.NewError(protocol.CodeRaceFinished, "race already finished")
		}
		return protocol.NewError(protocol.CodeRaceStarted, "race is not active yet")
	}
	player, derr := r.inRosterLocked(identity.ID)
	if derr != nil {
		lock.Unlock()
		return derr
	}

	player.Position = p.Position
	player.WPM = p.WPM
	player.Accuracy = clampAccuracy(p.Accuracy)
	player.Errors = p.Errors

	var finished *FinishedPayload
	if p.IsFinished && !player.Finished {
		finished = m.markFinishedLocked(r, player)
	}
	update := ProgressUpdatePayload{RaceID: r.ID, Players: r.rosterSnapshotLocked()}
	done := r.allFinishedLocked()
	gen := r.generation
	lock.Unlock()

	if finished != nil {
		m.emit(ctx, types.RaceRoom(r.ID), protocol.EventRacePlayerFinished, *finished)
	}
	m.emit(ctx, types.RaceRoom(r.ID), protocol.EventRaceProgressUpdate, update)

	if done {
		m.complete(ctx, r, lock, gen)
	} else if finished != nil && r.Mode == protocol.ModeWords {
		m.armGraceWindow(r, lock, gen)
	}
	return nil
}

// Finish handles race:finish, the explicit completion report. The client's
// final stats feed the live roster view; the persisted record is recomputed.
// The finisher's position snaps to the reference length when the finish is
// marked.
func (m *Manager) Finish(ctx context.Context, sub types.Subscriber, p *protocol.RaceFinishPayload) *protocol.DomainError {
	return m.Progress(ctx, sub, &protocol.RaceProgressPayload{
		RaceID:     p.RaceID,
		WPM:        p.FinalStats.WPM,
		Accuracy:   p.FinalStats.Accuracy,
		Errors:     p.FinalStats.Errors,
		IsFinished: true,
	})
}

// markFinishedLocked freezes a player's finish state exactly once.
func (m *Manager) markFinishedLocked(r *Race, player *Progress) *FinishedPayload {
	player.Finished = true
	player.FinishTimeMs = m.clock.Now().Sub(r.startedAt).Milliseconds()
	player.Rank = r.nextRank
	r.nextRank++
	if player.Position < r.Reference.Len() {
		player.Position = r.Reference.Len()
	}
	return &FinishedPayload{
		RaceID:       r.ID,
		IdentityID:   string(player.Identity.ID),
		Rank:         player.Rank,
		FinishTimeMs: player.FinishTimeMs,
	}
}

// armGraceWindow gives the rest of a words-mode race a bounded window after
// the first finisher.
func (m *Manager) armGraceWindow(r *Race, lock *sync.Mutex, gen uint64) {
	m.clock.AfterFunc(graceWindowCap, func() {
		m.complete(context.Background(), r, lock, gen)
	})
}

// Message handles race:message. Roster members only; spectators are
// read-only.
func (m *Manager) Message(ctx context.Context, sub types.Subscriber, p *protocol.RaceMessagePayload) *protocol.DomainError {
	r, lock, derr := m.lookup(p.RaceID)
	if derr != nil {
		return derr
	}
	identity := sub.GetIdentity()

	lock.Lock()
	if r.statusLocked().terminal() {
		lock.Unlock()
		return protocol.NewError(protocol.CodeRaceFinished, "race already finished")
	}
	if _, derr := r.inRosterLocked(identity.ID); derr != nil {
		lock.Unlock()
		return derr
	}
	lock.Unlock()

	m.emit(ctx, types.RaceRoom(r.ID), protocol.EventRaceMessageReceived, ChatPayload{
		RaceID:     r.ID,
		IdentityID: string(identity.ID),
		Username:   string(identity.Username),
		Message:    p.Message,
	})
	return nil
}

// Leave handles race:leave and mid-race disconnects. Before the race starts
// the player is removed; during an active race their progress freezes and
// their rank is settled at completion.
func (m *Manager) Leave(ctx context.Context, connID types.ConnectionID, raceID string) *protocol.DomainError {
	r, lock, derr := m.lookup(raceID)
	if derr != nil {
		return derr
	}

	lock.Lock()
	var player *Progress
	for _, p := range r.roster {
		if p.conn == connID {
			player = p
			break
		}
	}
	if player == nil {
		lock.Unlock()
		return protocol.NewError(protocol.CodeNotInRace, "you are not in this race")
	}
	identity := player.Identity

	status := r.statusLocked()
	var cancelled, downgraded, done bool
	switch status {
	case StatusWaiting, StatusCountdown:
		delete(r.roster, identity.ID)
		for i, id := range r.joinOrder {
			if id == identity.ID {
				r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
				break
			}
		}
		if len(r.roster) == 0 {
			cancelled = r.transitionLocked(StatusCancelled, m.clock.Now())
		} else if status == StatusCountdown && len(r.roster) < r.MinPlayers {
			downgraded = r.transitionLocked(StatusWaiting, m.clock.Now())
		}
	case StatusActive:
		player.Connected = false
		done = r.allFinishedLocked()
	default:
		lock.Unlock()
		return protocol.NewError(protocol.CodeRaceFinished, "race already finished")
	}
	gen := r.generation
	lock.Unlock()

	m.mu.Lock()
	delete(m.byConn, connID)
	m.mu.Unlock()
	m.fabric.Unsubscribe(types.RaceRoom(r.ID), connID)

	m.emit(ctx, types.RaceRoom(r.ID), protocol.EventRacePlayerLeft, PlayerPayload{
		RaceID:     r.ID,
		IdentityID: string(identity.ID),
		Username:   string(identity.Username),
	})

	if downgraded {
		logging.Info(ctx, "countdown cancelled, roster below minimum", zap.String("raceId", r.ID))
	}
	if cancelled {
		m.scheduleEviction(r)
	}
	if done {
		m.complete(ctx, r, lock, gen)
	}
	return nil
}

// HandleDisconnect routes a socket close to Leave when the connection was in
// a race.
func (m *Manager) HandleDisconnect(ctx context.Context, connID types.ConnectionID) {
	m.mu.Lock()
	raceID, ok := m.byConn[connID]
	m.mu.Unlock()
	if !ok {
		return
	}
	if derr := m.Leave(ctx, connID, raceID); derr != nil {
		logging.Debug(ctx, "disconnect leave noop", zap.String("raceId", raceID), zap.String("error", derr.Error()))
	}
}

// complete drives the race to completed, settles final ranks, publishes the
// standings, and records every player's result. Stale generations are no-ops
// so a grace timer and a final finisher cannot complete the race twice.
func (m *Manager) complete(ctx context.Context, r *Race, lock *sync.Mutex, gen uint64) {
	now := m.clock.Now()

	lock.Lock()
	if r.generation != gen || r.statusLocked() != StatusActive {
		lock.Unlock()
		return
	}
	r.transitionLocked(StatusCompleted, now)
	r.assignFinalRanksLocked()
	rankings := r.rosterSnapshotLocked()
	startedAt := r.startedAt
	endedAt := r.endedAt
	lock.Unlock()

	sortByRank(rankings)

	var winner string
	if len(rankings) > 0 {
		winner = string(rankings[0].Identity.ID)
	}
	m.emit(ctx, types.RaceRoom(r.ID), protocol.EventRaceCompleted, CompletedPayload{
		RaceID:     r.ID,
		Winner:     winner,
		Rankings:   rankings,
		DurationMs: endedAt.Sub(startedAt).Milliseconds(),
	})

	for _, p := range rankings {
		elapsed := endedAt.Sub(startedAt)
		if p.Finished {
			elapsed = time.Duration(p.FinishTimeMs) * time.Millisecond
		}
		rec := results.RaceResult{
			RaceID:       r.ID,
			IdentityID:   string(p.Identity.ID),
			Rank:         p.Rank,
			WPM:          plausibleWPM(p.WPM, p.Position, elapsed, m.cfg.WPMCeiling),
			Accuracy:     clampAccuracy(p.Accuracy),
			Errors:       p.Errors,
			Finished:     p.Finished,
			FinishTimeMs: p.FinishTimeMs,
			Mode:         r.Mode,
			Limit:        r.Limit,
		}
		if err := m.sink.Record(ctx, rec); err != nil {
			logging.Warn(ctx, "race result sink failed, queueing retry",
				zap.String("raceId", r.ID), zap.String("identity", rec.IdentityID), zap.Error(err))
			m.retrier.Enqueue(rec)
		}
	}

	m.scheduleEviction(r)
}

func sortByRank(players []Progress) {
	for i := 1; i < len(players); i++ {
		for j := i; j > 0 && players[j].Rank < players[j-1].Rank; j-- {
			players[j], players[j-1] = players[j-1], players[j]
		}
	}
}

// scheduleEviction removes a terminal race after the standings window.
func (m *Manager) scheduleEviction(r *Race) {
	m.clock.AfterFunc(evictionDelay, func() { m.evict(r.ID) })
}

func (m *Manager) evict(raceID string) {
	m.mu.Lock()
	r, ok := m.races[raceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.races, raceID)
	delete(m.byCode, r.Code)
	delete(m.inner, raceID)
	for conn, id := range m.byConn {
		if id == raceID {
			delete(m.byConn, conn)
		}
	}
	m.mu.Unlock()
	metrics.ActiveRaces.Dec()
}

// CancelStale cancels non-terminal races older than the waiting TTL. Called
// by the hub's housekeeping loop.
func (m *Manager) CancelStale(ctx context.Context) int {
	now := m.clock.Now()

	m.mu.Lock()
	candidates := make([]*Race, 0)
	locks := make([]*sync.Mutex, 0)
	for id, r := range m.races {
		candidates = append(candidates, r)
		locks = append(locks, m.inner[id])
	}
	m.mu.Unlock()

	cancelled := 0
	for i, r := range candidates {
		lock := locks[i]
		lock.Lock()
		stale := !r.statusLocked().terminal() && now.Sub(r.createdAt) >= m.cfg.WaitingTTL
		if stale {
			r.transitionLocked(StatusCancelled, now)
		}
		lock.Unlock()
		if stale {
			cancelled++
			logging.Info(ctx, "cancelled stale race", zap.String("raceId", r.ID))
			m.scheduleEviction(r)
		}
	}
	return cancelled
}

// Get returns the race and a copy of its roster for inspection.
func (m *Manager) Get(raceID string) (*Race, []Progress, *protocol.DomainError) {
	r, lock, derr := m.lookup(raceID)
	if derr != nil {
		return nil, nil, derr
	}
	lock.Lock()
	defer lock.Unlock()
	return r, r.rosterSnapshotLocked(), nil
}

// StatusOf reports the race's lifecycle state.
func (m *Manager) StatusOf(raceID string) (Status, *protocol.DomainError) {
	r, lock, derr := m.lookup(raceID)
	if derr != nil {
		return "", derr
	}
	lock.Lock()
	defer lock.Unlock()
	return r.statusLocked(), nil
}

// Len reports the number of live races.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.races)
}

// emit encodes and publishes one outbound event.
func (m *Manager) emit(ctx context.Context, room types.RoomName, event string, payload any) {
	msg, err := protocol.Encode(event, payload, m.clock.Now())
	if err != nil {
		logging.Error(ctx, "failed to encode race event", zap.String("event", event), zap.Error(err))
		return
	}
	m.fabric.Publish(ctx, room, msg)
}
