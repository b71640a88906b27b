// Package friends resolves who should hear about a user's presence. The
// graph itself lives in Redis under "friends:<identity>"; lookups go through
// a short in-memory cache because every connect and disconnect consults it.
package friends

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/typedash/realtime/internal/v1/types"
)

const (
	lookupTimeout   = 3 * time.Second
	defaultCacheTTL = 30 * time.Second
)

// Graph answers friend-list lookups.
type Graph interface {
	FriendsOf(ctx context.Context, id types.IdentityID) ([]types.IdentityID, error)
}

// Key returns the Redis set key holding an identity's friend list.
func Key(id types.IdentityID) string {
	return "friends:" + string(id)
}

type cacheEntry struct {
	friends []types.IdentityID
	expires time.Time
}

// RedisGraph reads friend sets from Redis with a TTL cache in front.
type RedisGraph struct {
	client *redis.Client
	clock  clockwork.Clock
	ttl    time.Duration

	mu    sync.Mutex
	cache map[types.IdentityID]cacheEntry
}

// NewRedisGraph wraps an existing client.
func NewRedisGraph(client *redis.Client) *RedisGraph {
	return NewRedisGraphWithClock(client, clockwork.NewRealClock())
}

// NewRedisGraphWithClock injects a clock for cache-expiry tests.
func NewRedisGraphWithClock(client *redis.Client, clock clockwork.Clock) *RedisGraph {
	return &RedisGraph{
		client: client,
		clock:  clock,
		ttl:    defaultCacheTTL,
		cache:  make(map[types.IdentityID]cacheEntry),
	}
}

// FriendsOf returns the identity's friends, from cache when fresh.
func (g *RedisGraph) FriendsOf(ctx context.Context, id types.IdentityID) ([]types.IdentityID, error) {
	now := g.clock.Now()

	g.mu.Lock()
	if entry, ok := g.cache[id]; ok && now.Before(entry.expires) {
		g.mu.Unlock()
		return entry.friends, nil
	}
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	members, err := g.client.SMembers(ctx, Key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load friends of %s: %w", id, err)
	}

	friends := make([]types.IdentityID, 0, len(members))
	for _, m := range members {
		friends = append(friends, types.IdentityID(m))
	}

	g.mu.Lock()
	g.cache[id] = cacheEntry{friends: friends, expires: now.Add(g.ttl)}
	g.mu.Unlock()

	return friends, nil
}

// Invalidate drops the cached friend list for an identity.
func (g *RedisGraph) Invalidate(id types.IdentityID) {
	g.mu.Lock()
	delete(g.cache, id)
	g.mu.Unlock()
}

// StaticGraph is an in-memory graph for tests and Redis-less deployments.
type StaticGraph struct {
	mu      sync.RWMutex
	friends map[types.IdentityID][]types.IdentityID
}

// NewStaticGraph creates an empty graph.
func NewStaticGraph() *StaticGraph {
	return &StaticGraph{friends: make(map[types.IdentityID][]types.IdentityID)}
}

// Befriend records a mutual friendship.
func (g *StaticGraph) Befriend(a, b types.IdentityID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.friends[a] = append(g.friends[a], b)
	g.friends[b] = append(g.friends[b], a)
}

// FriendsOf implements Graph.
func (g *StaticGraph) FriendsOf(_ context.Context, id types.IdentityID) ([]types.IdentityID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]types.IdentityID, len(g.friends[id]))
	copy(out, g.friends[id])
	return out, nil
}
