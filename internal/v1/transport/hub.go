// Package transport is the session router: it accepts websocket handshakes,
// authenticates them, registers connections, and dispatches inbound events to
// the test session, race, and presence engines. The Client half owns the
// socket pumps and the bounded send queue the room fabric publishes into.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/typedash/realtime/internal/v1/friends"
	"github.com/typedash/realtime/internal/v1/logging"
	"github.com/typedash/realtime/internal/v1/metrics"
	"github.com/typedash/realtime/internal/v1/protocol"
	"github.com/typedash/realtime/internal/v1/race"
	"github.com/typedash/realtime/internal/v1/ratelimit"
	"github.com/typedash/realtime/internal/v1/registry"
	"github.com/typedash/realtime/internal/v1/rooms"
	"github.com/typedash/realtime/internal/v1/session"
	"github.com/typedash/realtime/internal/v1/types"
)

const (
	housekeepingInterval = 60 * time.Second
	idleCutoff           = 5 * time.Minute

	defaultMaxConnectionsPerIdentity = 5
	defaultSendQueueMaxMessages     = 256
	defaultSendQueueMaxBytes        = 1 << 20
)

// Options wires the hub to its collaborators. Zero values get defaults where
// a default is safe; the engines and fabric are required.
type Options struct {
	Validator types.TokenValidator
	Gate      *ratelimit.Gate
	Governor  *ratelimit.Governor
	Registry  *registry.Registry
	Fabric    *rooms.Fabric
	Sessions  *session.Manager
	Races     *race.Manager
	Presence  *friends.Presence
	Clock     clockwork.Clock

	AllowedOrigins            []string
	MaxConnectionsPerIdentity int
	SendQueueMaxMessages      int
	SendQueueMaxBytes         int
}

// Hub coordinates every live connection: handshake, registration, inbound
// dispatch, and the periodic housekeeping pass.
type Hub struct {
	validator types.TokenValidator
	gate      *ratelimit.Gate
	governor  *ratelimit.Governor
	registry  *registry.Registry
	fabric    *rooms.Fabric
	sessions  *session.Manager
	races     *race.Manager
	presence  *friends.Presence
	clock     clockwork.Clock

	allowedOrigins []string
	maxConns       int
	queueMessages  int
	queueBytes     int

	mu      sync.Mutex
	clients map[types.ConnectionID]*Client

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub builds a Hub from its options.
func NewHub(opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MaxConnectionsPerIdentity <= 0 {
		opts.MaxConnectionsPerIdentity = defaultMaxConnectionsPerIdentity
	}
	if opts.SendQueueMaxMessages <= 0 {
		opts.SendQueueMaxMessages = defaultSendQueueMaxMessages
	}
	if opts.SendQueueMaxBytes <= 0 {
		opts.SendQueueMaxBytes = defaultSendQueueMaxBytes
	}
	return &Hub{
		validator:      opts.Validator,
		gate:           opts.Gate,
		governor:       opts.Governor,
		registry:       opts.Registry,
		fabric:         opts.Fabric,
		sessions:       opts.Sessions,
		races:          opts.Races,
		presence:       opts.Presence,
		clock:          opts.Clock,
		allowedOrigins: opts.AllowedOrigins,
		maxConns:       opts.MaxConnectionsPerIdentity,
		queueMessages:  opts.SendQueueMaxMessages,
		queueBytes:     opts.SendQueueMaxBytes,
		clients:        make(map[types.ConnectionID]*Client),
		stop:           make(chan struct{}),
	}
}

// ServeWs authenticates the handshake and upgrades it to a websocket. The
// IP gate runs first so no validation work is spent on a throttled address.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.gate != nil && !h.gate.CheckWebSocket(c) {
		return // response already written
	}

	token := extractToken(c)
	if token == "" {
		writeAuthError(c, protocol.NewError(protocol.CodeAuthRequired, "token not provided"))
		return
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		logging.Warn(c.Request.Context(), "token validation failed", zap.Error(err))
		writeAuthError(c, protocol.NewError(protocol.CodeAuthInvalid, "invalid token"))
		return
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		writeOriginError(c)
		return
	}

	conn, err := upgradeWebSocket(c, h.allowedOrigins)
	if err != nil {
		return // upgrade failure already logged; response written by upgrader
	}

	h.HandleConnection(c.Request.Context(), conn, identityFromClaims(claims))
}

// HandleConnection registers an established websocket. Split from ServeWs so
// tests can drive the hub with a fake connection.
func (h *Hub) HandleConnection(ctx context.Context, conn wsConnection, identity types.Identity) {
	connID := types.ConnectionID(uuid.NewString())
	client := newClient(connID, identity, conn, h, h.clock, h.queueMessages, h.queueBytes)

	now := h.clock.Now()
	count := h.registry.Register(&registry.Connection{
		ID:           connID,
		Identity:     identity,
		CreatedAt:    now,
		LastActivity: now,
		Status:       registry.StatusActive,
	})
	if count > h.maxConns {
		h.registry.Unregister(connID)
		logging.Warn(ctx, "connection cap reached for identity",
			zap.String("identityId", string(identity.ID)), zap.Int("cap", h.maxConns))
		client.sendError(protocol.NewError(protocol.CodeTooManyConnections, "too many connections for this identity"))
		client.Disconnect()
		go client.writePump()
		return
	}

	h.mu.Lock()
	h.clients[connID] = client
	h.mu.Unlock()

	h.fabric.Subscribe(types.UserRoom(identity.ID), client)
	client.joinRoom(types.UserRoom(identity.ID))

	if count == 1 {
		h.presence.HandleConnect(ctx, identity)
	}

	metrics.ActiveConnections.Inc()
	logging.Info(ctx, "connection established",
		zap.String("connectionId", string(connID)),
		zap.String("identityId", string(identity.ID)))

	go client.writePump()
	go client.readPump()
}

// dispatch routes one inbound frame: decode, rate check, schema validation,
// then the engine call. Every domain error goes back to the sender as an
// error envelope; nothing here panics the pumps.
func (h *Hub) dispatch(ctx context.Context, c *Client, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		metrics.InboundEvents.WithLabelValues("malformed", "invalid").Inc()
		c.sendError(protocol.NewValidationError(errors.New("malformed message envelope")))
		return
	}

	started := h.clock.Now()
	defer func() {
		metrics.DispatchDuration.WithLabelValues(env.Type).Observe(h.clock.Now().Sub(started).Seconds())
	}()

	h.registry.Touch(c.id, started)

	if h.governor != nil {
		decision := h.governor.Check(string(c.identity.ID), ratelimit.ClassFor(env.Type))
		if !decision.Allowed {
			metrics.InboundEvents.WithLabelValues(env.Type, "rate_limited").Inc()
			c.sendError(protocol.NewRateLimited(decision.RetryAfter))
			return
		}
	}

	if derr := h.route(ctx, c, env); derr != nil {
		metrics.InboundEvents.WithLabelValues(env.Type, "error").Inc()
		c.sendError(derr)
		return
	}
	metrics.InboundEvents.WithLabelValues(env.Type, "ok").Inc()
}

// route decodes the payload against the event's schema and calls the engine.
func (h *Hub) route(ctx context.Context, c *Client, env protocol.Envelope) *protocol.DomainError {
	switch env.Type {
	case protocol.EventPing:
		msg, err := protocol.Encode(protocol.EventPong, nil, h.clock.Now())
		if err != nil {
			return protocol.NewError(protocol.CodeServerError, "failed to encode pong")
		}
		c.Enqueue(msg)
		return nil

	case protocol.EventTestStart:
		var p protocol.TestStartPayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		e, derr := h.sessions.Start(ctx, c.identity, c.id, &p)
		if derr != nil {
			return derr
		}
		h.fabric.Subscribe(types.TestRoom(e.ID), c)
		c.joinRoom(types.TestRoom(e.ID))
		return nil

	case protocol.EventTestKeystroke:
		var p protocol.KeystrokePayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		return h.sessions.Keystroke(ctx, c.id, &p)

	case protocol.EventTestCompleted:
		var p protocol.TestCompletedPayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		return h.sessions.Complete(ctx, c.id, &p)

	case protocol.EventTestLeave:
		var p protocol.TestLeavePayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		if derr := h.sessions.Leave(c.id, &p); derr != nil {
			return derr
		}
		h.fabric.Unsubscribe(types.TestRoom(p.TestID), c.id)
		c.leaveRoom(types.TestRoom(p.TestID))
		return nil

	case protocol.EventRaceCreate:
		var p protocol.RaceCreatePayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		r, derr := h.races.Create(ctx, c, &p)
		if derr != nil {
			return derr
		}
		c.joinRoom(types.RaceRoom(r.ID))
		return nil

	case protocol.EventRaceJoin:
		var p protocol.RaceJoinPayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		if derr := h.races.Join(ctx, c, &p); derr != nil {
			return derr
		}
		if r, _, derr := h.races.Get(p.RaceID); derr == nil {
			c.joinRoom(types.RaceRoom(r.ID))
		}
		return nil

	case protocol.EventRaceLeave:
		var p protocol.RaceLeavePayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		r, _, derr := h.races.Get(p.RaceID)
		if derr != nil {
			return derr
		}
		if derr := h.races.Leave(ctx, c.id, r.ID); derr != nil {
			return derr
		}
		c.leaveRoom(types.RaceRoom(r.ID))
		return nil

	case protocol.EventRaceProgress:
		var p protocol.RaceProgressPayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		return h.races.Progress(ctx, c, &p)

	case protocol.EventRaceFinish:
		var p protocol.RaceFinishPayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		return h.races.Finish(ctx, c, &p)

	case protocol.EventRaceMessage:
		var p protocol.RaceMessagePayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		return h.races.Message(ctx, c, &p)

	case protocol.EventFriendsUpdateStatus:
		var p protocol.StatusUpdatePayload
		if err := protocol.DecodePayload(env.Payload, &p); err != nil {
			return protocol.NewValidationError(err)
		}
		h.presence.UpdateStatus(ctx, c.identity, p.Status, p.Activity)
		return nil

	default:
		return protocol.NewValidationError(errors.New("unknown event type: " + env.Type))
	}
}

// handleDisconnect dismantles a connection: every fabric subscription goes,
// any race membership is routed through the race engine's disconnect rules,
// and the identity's presence flips offline when this was its last socket.
func (h *Hub) handleDisconnect(c *Client) {
	ctx := context.Background()

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	for _, name := range c.roomSnapshot() {
		h.fabric.Unsubscribe(name, c.id)
	}
	h.races.HandleDisconnect(ctx, c.id)

	if last := h.registry.Unregister(c.id); last {
		h.presence.HandleDisconnect(ctx, c.identity)
	}

	c.Disconnect()
	logging.Info(ctx, "connection closed", zap.String("connectionId", string(c.id)))
}

// StartHousekeeping runs the periodic maintenance pass until Shutdown.
func (h *Hub) StartHousekeeping() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := h.clock.NewTicker(housekeepingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.Chan():
				h.housekeep()
			}
		}
	}()
}

func (h *Hub) housekeep() {
	ctx := context.Background()

	if expired := h.sessions.ExpireStale(); expired > 0 {
		logging.Info(ctx, "expired stale test sessions", zap.Int("count", expired))
	}
	if cancelled := h.races.CancelStale(ctx); cancelled > 0 {
		logging.Info(ctx, "cancelled stale races", zap.Int("count", cancelled))
	}
	if h.governor != nil {
		h.governor.Sweep()
	}
	idle := h.registry.MarkIdle(h.clock.Now().Add(-idleCutoff))
	if len(idle) > 0 {
		logging.Info(ctx, "flagged idle connections", zap.Int("count", len(idle)))
	}
}

// Shutdown stops housekeeping and closes every live connection gracefully.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.stop) })
	h.wg.Wait()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Disconnect()
	}
	h.fabric.Close()

	logging.Info(ctx, "hub shut down", zap.Int("connectionsClosed", len(clients)))
	return nil
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
