// Package registry maintains the process-wide table of live connections and
// the secondary index from identity to its connections. It answers the two
// questions the rest of the engine keeps asking: "who is this connection?"
// and "is this identity online, and on which sockets?"
package registry

import (
	"net"
	"sync"
	"time"

	"github.com/typedash/realtime/internal/v1/types"
)

// Status of a registered connection.
type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
)

// Connection is the registry's record of one live websocket.
type Connection struct {
	ID           types.ConnectionID
	Identity     types.Identity
	RemoteAddr   net.Addr
	CreatedAt    time.Time
	LastActivity time.Time
	Status       Status
}

// Registry is safe for concurrent use. Iteration always works on a snapshot
// so callers never hold the lock while touching sockets.
type Registry struct {
	mu          sync.RWMutex
	connections map[types.ConnectionID]*Connection
	byIdentity  map[types.IdentityID]map[types.ConnectionID]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		connections: make(map[types.ConnectionID]*Connection),
		byIdentity:  make(map[types.IdentityID]map[types.ConnectionID]struct{}),
	}
}

// Register records a new connection. Returns the number of connections the
// identity now holds, so the router can enforce its per-identity cap.
func (r *Registry) Register(conn *Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID] = conn

	set, ok := r.byIdentity[conn.Identity.ID]
	if !ok {
		set = make(map[types.ConnectionID]struct{})
		r.byIdentity[conn.Identity.ID] = set
	}
	set[conn.ID] = struct{}{}
	return len(set)
}

// Unregister removes a connection. Returns true when this was the identity's
// last connection, i.e. the identity just went offline.
func (r *Registry) Unregister(id types.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[id]
	if !ok {
		return false
	}
	delete(r.connections, id)

	set := r.byIdentity[conn.Identity.ID]
	delete(set, id)
	if len(set) == 0 {
		delete(r.byIdentity, conn.Identity.ID)
		return true
	}
	return false
}

// Get looks up a connection record.
func (r *Registry) Get(id types.ConnectionID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// SocketsOf returns a snapshot of the identity's connection ids.
func (r *Registry) SocketsOf(identity types.IdentityID) []types.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byIdentity[identity]
	out := make([]types.ConnectionID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ConnectionCount returns how many sockets the identity currently holds.
func (r *Registry) ConnectionCount(identity types.IdentityID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identity])
}

// IsOnline reports whether the identity holds at least one connection.
func (r *Registry) IsOnline(identity types.IdentityID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identity]) > 0
}

// Touch refreshes the last-activity timestamp for a connection.
func (r *Registry) Touch(id types.ConnectionID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[id]; ok {
		conn.LastActivity = at
		conn.Status = StatusActive
	}
}

// Snapshot returns a copy of all connection records for iteration.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, *conn)
	}
	return out
}

// MarkIdle flags connections whose last activity is older than the cutoff.
// Idle connections are not closed: an idle socket may be spectating a race.
// Returns the ids flagged by this pass.
func (r *Registry) MarkIdle(cutoff time.Time) []types.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flagged []types.ConnectionID
	for id, conn := range r.connections {
		if conn.Status != StatusIdle && conn.LastActivity.Before(cutoff) {
			conn.Status = StatusIdle
			flagged = append(flagged, id)
		}
	}
	return flagged
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
