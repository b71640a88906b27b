// Package types holds the domain identifiers and the shared interfaces that
// let the transport, room, and engine packages depend on behavior instead of
// on each other.
package types

import (
	"context"
	"sync"

	"github.com/typedash/realtime/internal/v1/auth"
	"github.com/typedash/realtime/internal/v1/bus"
	"github.com/typedash/realtime/internal/v1/protocol"
)

// --- Core Domain Types ---

// IdentityID is the stable user identity from the token verifier.
type IdentityID string

// ConnectionID identifies a single websocket connection. One identity may
// hold several connections at once.
type ConnectionID string

// RoomName addresses a fan-out topic, e.g. "user:<id>", "test:<id>",
// "race:<id>".
type RoomName string

// DisplayName is the human-readable name for an identity.
type DisplayName string

// RoleType defines what an authenticated identity is allowed to do.
type RoleType string

const (
	RoleTypeGuest     RoleType = "guest"
	RoleTypeUser      RoleType = "user"
	RoleTypeModerator RoleType = "moderator"
	RoleTypeAdmin     RoleType = "admin"
)

// Identity is the authenticated principal attached to a connection. It is
// produced once by the token verifier and read-only afterwards.
type Identity struct {
	ID        IdentityID  `json:"id"`
	Username  DisplayName `json:"username"`
	Role      RoleType    `json:"role"`
	AvatarURL string      `json:"avatarUrl,omitempty"`
}

// UserRoom returns the per-identity delivery topic.
func UserRoom(id IdentityID) RoomName { return RoomName("user:" + string(id)) }

// TestRoom returns the per-test delivery topic.
func TestRoom(testID string) RoomName { return RoomName("test:" + testID) }

// RaceRoom returns the per-race delivery topic.
func RaceRoom(raceID string) RoomName { return RoomName("race:" + raceID) }

// --- Shared Interfaces ---

// TokenValidator defines the interface for JWT token authentication services.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// Subscriber is the room fabric's view of a connection. Enqueue must never
// block: backpressure is applied by the subscriber's own bounded queue.
type Subscriber interface {
	GetID() ConnectionID
	GetIdentity() Identity
	Enqueue(msg protocol.Message)
	Disconnect()
}

// BusService mirrors room publishes across engine instances.
type BusService interface {
	Publish(ctx context.Context, room string, msg protocol.Message, senderID string) error
	Subscribe(ctx context.Context, room string, wg *sync.WaitGroup, handler func(bus.PubSubPayload))
	Close() error
}
