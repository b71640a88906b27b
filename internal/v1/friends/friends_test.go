package friends

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typedash/realtime/internal/v1/protocol"
	"github.com/typedash/realtime/internal/v1/types"
)

type recordedPublish struct {
	room types.RoomName
	msg  protocol.Message
}

type fakePublisher struct {
	mu        sync.Mutex
	published []recordedPublish
}

func (p *fakePublisher) Publish(_ context.Context, room types.RoomName, msg protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, recordedPublish{room: room, msg: msg})
}

func (p *fakePublisher) all() []recordedPublish {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedPublish, len(p.published))
	copy(out, p.published)
	return out
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
}

func TestRedisGraph_FriendsOf(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	mr.SAdd(Key("u1"), "u2", "u3")

	g := NewRedisGraph(client)
	friends, err := g.FriendsOf(context.Background(), "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.IdentityID{"u2", "u3"}, friends)

	// No friends is an empty list, not an error.
	friends, err = g.FriendsOf(context.Background(), "loner")
	require.NoError(t, err)
	assert.Empty(t, friends)
}

func TestRedisGraph_CacheServesUntilTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	mr.SAdd(Key("u1"), "u2")

	clock := clockwork.NewFakeClock()
	g := NewRedisGraphWithClock(client, clock)

	friends, err := g.FriendsOf(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, friends, 1)

	// Mutate the store; the cache keeps answering.
	mr.SAdd(Key("u1"), "u3")
	friends, err = g.FriendsOf(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, friends, 1)

	clock.Advance(defaultCacheTTL + time.Second)
	friends, err = g.FriendsOf(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, friends, 2)
}

func TestRedisGraph_Invalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	mr.SAdd(Key("u1"), "u2")

	g := NewRedisGraph(client)
	_, err := g.FriendsOf(context.Background(), "u1")
	require.NoError(t, err)

	mr.SAdd(Key("u1"), "u3")
	g.Invalidate("u1")

	friends, err := g.FriendsOf(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, friends, 2)
}

func TestPresence_ConnectNotifiesFriends(t *testing.T) {
	graph := NewStaticGraph()
	graph.Befriend("u1", "u2")
	graph.Befriend("u1", "u3")

	pub := &fakePublisher{}
	p := NewPresence(graph, pub, fixedNow)

	p.HandleConnect(context.Background(), types.Identity{ID: "u1", Username: "alice"})

	got := pub.all()
	require.Len(t, got, 2)
	rooms := []types.RoomName{got[0].room, got[1].room}
	assert.ElementsMatch(t, []types.RoomName{types.UserRoom("u2"), types.UserRoom("u3")}, rooms)
	assert.Equal(t, protocol.EventFriendOnline, got[0].msg.Type)
	assert.Equal(t, StatusOnline, p.StatusOf("u1"))
}

func TestPresence_DisconnectNotifiesFriends(t *testing.T) {
	graph := NewStaticGraph()
	graph.Befriend("u1", "u2")

	pub := &fakePublisher{}
	p := NewPresence(graph, pub, fixedNow)

	identity := types.Identity{ID: "u1", Username: "alice"}
	p.HandleConnect(context.Background(), identity)
	p.HandleDisconnect(context.Background(), identity)

	got := pub.all()
	require.Len(t, got, 2)
	assert.Equal(t, protocol.EventFriendOffline, got[1].msg.Type)
	assert.Empty(t, p.StatusOf("u1"))
}

func TestPresence_InvisibleSuppressesFanOut(t *testing.T) {
	graph := NewStaticGraph()
	graph.Befriend("u1", "u2")

	pub := &fakePublisher{}
	p := NewPresence(graph, pub, fixedNow)

	identity := types.Identity{ID: "u1", Username: "alice"}
	p.HandleConnect(context.Background(), identity)
	require.Len(t, pub.all(), 1)

	// Going invisible reads as offline to friends.
	p.UpdateStatus(context.Background(), identity, StatusInvisible, "")
	got := pub.all()
	require.Len(t, got, 2)
	assert.Equal(t, protocol.EventFriendOffline, got[1].msg.Type)

	// Status churn while invisible stays silent.
	p.UpdateStatus(context.Background(), identity, StatusInvisible, "")
	assert.Len(t, pub.all(), 2)

	// Disconnecting while invisible stays silent too.
	p.HandleDisconnect(context.Background(), identity)
	assert.Len(t, pub.all(), 2)
}

func TestPresence_StatusUpdateFansOut(t *testing.T) {
	graph := NewStaticGraph()
	graph.Befriend("u1", "u2")

	pub := &fakePublisher{}
	p := NewPresence(graph, pub, fixedNow)

	identity := types.Identity{ID: "u1", Username: "alice"}
	p.HandleConnect(context.Background(), identity)

	p.UpdateStatus(context.Background(), identity, StatusBusy, "in a race")
	got := pub.all()
	require.Len(t, got, 2)
	assert.Equal(t, protocol.EventFriendStatus, got[1].msg.Type)
	assert.Equal(t, StatusBusy, p.StatusOf("u1"))

	// Coming back from invisible looks like coming online.
	p.UpdateStatus(context.Background(), identity, StatusInvisible, "")
	p.UpdateStatus(context.Background(), identity, StatusOnline, "")
	got = pub.all()
	assert.Equal(t, protocol.EventFriendOnline, got[len(got)-1].msg.Type)
}
