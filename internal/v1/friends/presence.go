package friends

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/typedash/realtime/internal/v1/logging"
	"github.com/typedash/realtime/internal/v1/protocol"
	"github.com/typedash/realtime/internal/v1/types"
)

// Presence statuses. Invisible connects without telling anyone.
const (
	StatusOnline    = "online"
	StatusAway      = "away"
	StatusBusy      = "busy"
	StatusInvisible = "invisible"
)

// Publisher delivers a message to a fan-out room. Satisfied by rooms.Fabric.
type Publisher interface {
	Publish(ctx context.Context, room types.RoomName, msg protocol.Message)
}

// StatusPayload is the body of friend:online, friend:offline, and
// friend:status messages.
type StatusPayload struct {
	IdentityID string `json:"identityId"`
	Username   string `json:"username,omitempty"`
	Status     string `json:"status,omitempty"`
	Activity   string `json:"activity,omitempty"`
}

// Presence tracks each connected identity's chosen status and fans presence
// changes out to that identity's friends over their user rooms.
type Presence struct {
	graph     Graph
	publisher Publisher
	now       func() time.Time

	mu       sync.Mutex
	statuses map[types.IdentityID]string
}

// NewPresence wires the graph to the fan-out publisher.
func NewPresence(graph Graph, publisher Publisher, now func() time.Time) *Presence {
	return &Presence{
		graph:     graph,
		publisher: publisher,
		now:       now,
		statuses:  make(map[types.IdentityID]string),
	}
}

// HandleConnect marks the identity online and notifies friends. Called only
// when the identity's first connection arrives; additional sockets for the
// same identity are presence no-ops.
func (p *Presence) HandleConnect(ctx context.Context, identity types.Identity) {
	p.mu.Lock()
	if _, ok := p.statuses[identity.ID]; !ok {
		p.statuses[identity.ID] = StatusOnline
	}
	status := p.statuses[identity.ID]
	p.mu.Unlock()

	if status == StatusInvisible {
		return
	}

	p.fanOut(ctx, identity.ID, protocol.EventFriendOnline, StatusPayload{
		IdentityID: string(identity.ID),
		Username:   string(identity.Username),
		Status:     status,
	})
}

// HandleDisconnect clears the identity's presence and notifies friends.
// Called only when the identity's last connection is gone.
func (p *Presence) HandleDisconnect(ctx context.Context, identity types.Identity) {
	p.mu.Lock()
	status := p.statuses[identity.ID]
	delete(p.statuses, identity.ID)
	p.mu.Unlock()

	if status == StatusInvisible {
		return
	}

	p.fanOut(ctx, identity.ID, protocol.EventFriendOffline, StatusPayload{
		IdentityID: string(identity.ID),
	})
}

// UpdateStatus applies a validated friends:update_status request. Switching
// to invisible looks like going offline to friends; switching back looks like
// coming online.
func (p *Presence) UpdateStatus(ctx context.Context, identity types.Identity, status, activity string) {
	p.mu.Lock()
	previous := p.statuses[identity.ID]
	p.statuses[identity.ID] = status
	p.mu.Unlock()

	switch {
	case status == StatusInvisible && previous != StatusInvisible:
		p.fanOut(ctx, identity.ID, protocol.EventFriendOffline, StatusPayload{
			IdentityID: string(identity.ID),
		})
	case status != StatusInvisible && previous == StatusInvisible:
		p.fanOut(ctx, identity.ID, protocol.EventFriendOnline, StatusPayload{
			IdentityID: string(identity.ID),
			Username:   string(identity.Username),
			Status:     status,
		})
	case status != StatusInvisible:
		p.fanOut(ctx, identity.ID, protocol.EventFriendStatus, StatusPayload{
			IdentityID: string(identity.ID),
			Status:     status,
			Activity:   activity,
		})
	}
}

// StatusOf reports the tracked status, or empty when not connected.
func (p *Presence) StatusOf(id types.IdentityID) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statuses[id]
}

func (p *Presence) fanOut(ctx context.Context, id types.IdentityID, event string, payload StatusPayload) {
	friendIDs, err := p.graph.FriendsOf(ctx, id)
	if err != nil {
		logging.Warn(ctx, "friend lookup failed, skipping presence fan-out",
			zap.String("identity", string(id)), zap.Error(err))
		return
	}

	msg, err := protocol.Encode(event, payload, p.now())
	if err != nil {
		logging.Error(ctx, "failed to encode presence message", zap.Error(err))
		return
	}

	for _, friendID := range friendIDs {
		p.publisher.Publish(ctx, types.UserRoom(friendID), msg)
	}
}
