// Package rooms implements the fan-out fabric. A room is a named topic
// ("user:<id>", "test:<id>", "race:<id>") holding local subscribers; publishes
// go out in FIFO order under the room lock and are optionally mirrored to the
// Redis bus so multiple engine instances share a room.
//
// Rooms are created lazily on first subscribe and reclaimed after a grace
// period once empty. The grace period absorbs page refreshes so a reconnect
// lands back in the same room instead of racing a teardown.
package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/typedash/realtime/internal/v1/bus"
	"github.com/typedash/realtime/internal/v1/logging"
	"github.com/typedash/realtime/internal/v1/metrics"
	"github.com/typedash/realtime/internal/v1/protocol"
	"github.com/typedash/realtime/internal/v1/types"
)

const defaultReclaimGrace = 5 * time.Second

// room is one topic: its subscribers, its publish sequence, and the cancel
// for its bus subscription.
type room struct {
	name        types.RoomName
	mu          sync.Mutex
	subscribers map[types.ConnectionID]types.Subscriber
	seq         uint64
	busCancel   context.CancelFunc
}

// Fabric owns every room and their lifecycle.
type Fabric struct {
	mu              sync.Mutex
	rooms           map[types.RoomName]*room
	pendingReclaims map[types.RoomName]clockwork.Timer

	clock        clockwork.Clock
	reclaimGrace time.Duration

	bus        types.BusService // nil in single-instance mode
	busWG      sync.WaitGroup
	instanceID string // suppresses bus echo of our own publishes
}

// Option configures a Fabric.
type Option func(*Fabric)

// WithClock injects a fake clock for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(f *Fabric) { f.clock = clock }
}

// WithReclaimGrace overrides how long an empty room lingers before reclaim.
func WithReclaimGrace(d time.Duration) Option {
	return func(f *Fabric) { f.reclaimGrace = d }
}

// WithBus mirrors publishes across instances. instanceID must be unique per
// engine process.
func WithBus(b types.BusService, instanceID string) Option {
	return func(f *Fabric) {
		f.bus = b
		f.instanceID = instanceID
	}
}

// NewFabric creates an empty fabric.
func NewFabric(opts ...Option) *Fabric {
	f := &Fabric{
		rooms:           make(map[types.RoomName]*room),
		pendingReclaims: make(map[types.RoomName]clockwork.Timer),
		clock:           clockwork.NewRealClock(),
		reclaimGrace:    defaultReclaimGrace,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe adds sub to the named room, creating the room if needed. A
// pending reclaim for the room is cancelled.
func (f *Fabric) Subscribe(name types.RoomName, sub types.Subscriber) {
	f.mu.Lock()
	r := f.getOrCreateLocked(name)
	f.mu.Unlock()

	r.mu.Lock()
	r.subscribers[sub.GetID()] = sub
	r.mu.Unlock()
}

// Unsubscribe removes the connection from the room. The last subscriber out
// schedules the room for reclaim.
func (f *Fabric) Unsubscribe(name types.RoomName, id types.ConnectionID) {
	f.mu.Lock()
	r, ok := f.rooms[name]
	f.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.subscribers, id)
	empty := len(r.subscribers) == 0
	r.mu.Unlock()

	if empty {
		f.scheduleReclaim(name)
	}
}

// Publish delivers msg to every local subscriber of the room in FIFO order
// and mirrors it to the bus for other instances. Enqueue never blocks, so the
// room lock is held only for the fan-out loop.
func (f *Fabric) Publish(ctx context.Context, name types.RoomName, msg protocol.Message) {
	f.mu.Lock()
	r, ok := f.rooms[name]
	f.mu.Unlock()
	if ok {
		r.deliver(msg)
	}

	if f.bus != nil {
		if err := f.bus.Publish(ctx, string(name), msg, f.instanceID); err != nil {
			logging.Warn(ctx, "bus mirror publish failed", zap.String("room", string(name)), zap.Error(err))
		}
	}
}

// PublishLocal delivers only to local subscribers, never the bus. Used when
// handling a message that arrived FROM the bus.
func (f *Fabric) PublishLocal(name types.RoomName, msg protocol.Message) {
	f.mu.Lock()
	r, ok := f.rooms[name]
	f.mu.Unlock()
	if ok {
		r.deliver(msg)
	}
}

func (r *room) deliver(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	for _, sub := range r.subscribers {
		sub.Enqueue(msg)
	}
}

// Subscribers returns the current subscribers of a room as a copied slice.
func (f *Fabric) Subscribers(name types.RoomName) []types.Subscriber {
	f.mu.Lock()
	r, ok := f.rooms[name]
	f.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		out = append(out, sub)
	}
	return out
}

// SubscriberCount reports how many connections are in the room.
func (f *Fabric) SubscriberCount(name types.RoomName) int {
	f.mu.Lock()
	r, ok := f.rooms[name]
	f.mu.Unlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// Sequence reports the room's publish sequence. Zero for an unknown room.
func (f *Fabric) Sequence(name types.RoomName) uint64 {
	f.mu.Lock()
	r, ok := f.rooms[name]
	f.mu.Unlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Len reports the number of live rooms, reclaim-pending included.
func (f *Fabric) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms)
}

// getOrCreateLocked returns the room, creating it and its bus subscription on
// first use. Caller holds f.mu.
func (f *Fabric) getOrCreateLocked(name types.RoomName) *room {
	if r, ok := f.rooms[name]; ok {
		if timer, pending := f.pendingReclaims[name]; pending {
			timer.Stop()
			delete(f.pendingReclaims, name)
		}
		return r
	}

	r := &room{
		name:        name,
		subscribers: make(map[types.ConnectionID]types.Subscriber),
	}

	if f.bus != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.busCancel = cancel
		f.bus.Subscribe(ctx, string(name), &f.busWG, func(p bus.PubSubPayload) {
			if p.SenderID == f.instanceID {
				return // our own mirror coming back
			}
			f.PublishLocal(name, protocol.Message{Type: p.Event, Data: p.Payload})
		})
	}

	f.rooms[name] = r
	metrics.ActiveRooms.Inc()
	return r
}

// scheduleReclaim arms the grace timer for an empty room. A resubscribe
// before it fires cancels it; the timer rechecks emptiness before deleting.
func (f *Fabric) scheduleReclaim(name types.RoomName) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if timer, exists := f.pendingReclaims[name]; exists {
		timer.Stop()
		delete(f.pendingReclaims, name)
	}

	f.pendingReclaims[name] = f.clock.AfterFunc(f.reclaimGrace, func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		delete(f.pendingReclaims, name)
		r, ok := f.rooms[name]
		if !ok {
			return
		}

		r.mu.Lock()
		empty := len(r.subscribers) == 0
		r.mu.Unlock()
		if !empty {
			return
		}

		if r.busCancel != nil {
			r.busCancel()
		}
		delete(f.rooms, name)
		metrics.ActiveRooms.Dec()
	})
}

// Close tears down every room immediately and waits for bus subscriptions to
// exit. Used during graceful shutdown.
func (f *Fabric) Close() {
	f.mu.Lock()
	for name, timer := range f.pendingReclaims {
		timer.Stop()
		delete(f.pendingReclaims, name)
	}
	for name, r := range f.rooms {
		if r.busCancel != nil {
			r.busCancel()
		}
		delete(f.rooms, name)
		metrics.ActiveRooms.Dec()
	}
	f.mu.Unlock()

	f.busWG.Wait()
}
