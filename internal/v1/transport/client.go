package transport

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/typedash/realtime/internal/v1/logging"
	"github.com/typedash/realtime/internal/v1/metrics"
	"github.com/typedash/realtime/internal/v1/protocol"
	"github.com/typedash/realtime/internal/v1/types"
)

const (
	writeWait = 10 * time.Second

	// A second queue drop within this window marks the consumer as
	// persistently slow and the connection is closed.
	slowConsumerWindow = 10 * time.Second
)

// wsConnection is the subset of *websocket.Conn the client uses, extracted so
// tests can drive the pumps without a real socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client is one authenticated websocket connection. It implements
// types.Subscriber: the room fabric enqueues into the client's bounded queue
// and the write pump drains it, so a slow socket never blocks a room.
type Client struct {
	id       types.ConnectionID
	identity types.Identity
	conn     wsConnection
	hub      *Hub
	clock    clockwork.Clock

	maxMessages int
	maxBytes    int

	mu         sync.Mutex
	queue      *list.List // of protocol.Message
	queueBytes int
	lastDrop   time.Time
	closed     bool
	closeCode  int

	// rooms this connection was subscribed to, for teardown
	rooms map[types.RoomName]struct{}

	wake      chan struct{}
	closeOnce sync.Once
}

func newClient(id types.ConnectionID, identity types.Identity, conn wsConnection, hub *Hub, clock clockwork.Clock, maxMessages, maxBytes int) *Client {
	return &Client{
		id:          id,
		identity:    identity,
		conn:        conn,
		hub:         hub,
		clock:       clock,
		maxMessages: maxMessages,
		maxBytes:    maxBytes,
		queue:       list.New(),
		rooms:       make(map[types.RoomName]struct{}),
		wake:        make(chan struct{}, 1),
	}
}

// --- types.Subscriber ---

func (c *Client) GetID() types.ConnectionID   { return c.id }
func (c *Client) GetIdentity() types.Identity { return c.identity }

// Enqueue appends an outbound message to the bounded send queue. It never
// blocks. When the queue is full the oldest non-critical message is dropped;
// a second drop inside the slow-consumer window, or an overflow that would
// require dropping a critical message, closes the connection.
func (c *Client) Enqueue(msg protocol.Message) {
	size := len(msg.Data)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	for c.queue.Len() >= c.maxMessages || (c.queueBytes+size > c.maxBytes && c.queue.Len() > 0) {
		if !c.dropOldestLocked() {
			// Every queued message is critical. The client cannot keep up
			// with messages it must not lose, so the connection goes.
			c.closeLocked(protocol.CodeSlowConsumer)
			c.mu.Unlock()
			metrics.SlowConsumerCloses.Inc()
			return
		}
		now := c.clock.Now()
		if !c.lastDrop.IsZero() && now.Sub(c.lastDrop) <= slowConsumerWindow {
			c.closeLocked(protocol.CodeSlowConsumer)
			c.mu.Unlock()
			metrics.SlowConsumerCloses.Inc()
			return
		}
		c.lastDrop = now
	}

	c.queue.PushBack(msg)
	c.queueBytes += size
	c.mu.Unlock()

	c.signal()
}

// Disconnect closes the connection gracefully. Queued messages are drained by
// the write pump before the close frame goes out.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closeLocked(websocket.CloseNormalClosure)
	c.mu.Unlock()
	c.signal()
}

// dropOldestLocked removes the oldest non-critical message from the queue.
// Returns false when only critical messages remain.
func (c *Client) dropOldestLocked() bool {
	for e := c.queue.Front(); e != nil; e = e.Next() {
		msg := e.Value.(protocol.Message)
		if msg.Critical() {
			continue
		}
		c.queue.Remove(e)
		c.queueBytes -= len(msg.Data)
		metrics.BroadcastsDropped.Inc()
		return true
	}
	return false
}

func (c *Client) closeLocked(code int) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// joinRoom records a fabric subscription for teardown on disconnect.
func (c *Client) joinRoom(name types.RoomName) {
	c.mu.Lock()
	c.rooms[name] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) leaveRoom(name types.RoomName) {
	c.mu.Lock()
	delete(c.rooms, name)
	c.mu.Unlock()
}

func (c *Client) roomSnapshot() []types.RoomName {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.RoomName, 0, len(c.rooms))
	for name := range c.rooms {
		out = append(out, name)
	}
	return out
}

// readPump reads inbound frames and hands them to the hub router. It owns the
// connection teardown: when the read side ends, for any reason, the whole
// connection is dismantled.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		_ = c.conn.Close()
		metrics.ActiveConnections.Dec()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.hub.dispatch(context.Background(), c, data)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
	}
}

// writePump drains the send queue onto the socket. On close it finishes the
// queued backlog, sends the close frame, and closes the connection, which in
// turn unblocks the read pump.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		msg, ok, closed, closeCode := c.next()
		if ok {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				logging.Warn(context.Background(), "write failed, dropping connection",
					zap.String("connectionId", string(c.id)), zap.Error(err))
				return
			}
			continue
		}
		if closed {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeCode, ""))
			return
		}
		<-c.wake
	}
}

// next pops the queue head, or reports the connection state when the queue is
// empty.
func (c *Client) next() (msg protocol.Message, ok, closed bool, closeCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.queue.Front(); e != nil {
		msg = c.queue.Remove(e).(protocol.Message)
		c.queueBytes -= len(msg.Data)
		return msg, true, false, 0
	}
	return protocol.Message{}, false, c.closed, c.closeCode
}

// sendError encodes a domain error and enqueues it for delivery.
func (c *Client) sendError(derr *protocol.DomainError) {
	msg, err := protocol.ErrorMessage(derr, c.clock.Now())
	if err != nil {
		logging.Error(context.Background(), "failed to encode error message", zap.Error(err))
		return
	}
	c.Enqueue(msg)
}
