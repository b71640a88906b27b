package transport

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typedash/realtime/internal/v1/protocol"
	"github.com/typedash/realtime/internal/v1/types"
)

func testIdentity() types.Identity {
	return types.Identity{ID: "u1", Username: "alice", Role: types.RoleTypeUser}
}

func newTestClient(maxMessages, maxBytes int) (*Client, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	c := newClient("conn-1", testIdentity(), newMockConn(), nil, clock, maxMessages, maxBytes)
	return c, clock
}

func plainMsg(payload string) protocol.Message {
	return protocol.Message{Type: protocol.EventTestStatsUpdate, Data: []byte(payload)}
}

func criticalMsg(payload string) protocol.Message {
	return protocol.Message{Type: protocol.EventTestResult, Data: []byte(payload)}
}

// drain pops everything currently queued.
func drain(c *Client) []protocol.Message {
	var out []protocol.Message
	for {
		msg, ok, _, _ := c.next()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

func TestEnqueue_FIFO(t *testing.T) {
	c, _ := newTestClient(8, 1<<20)

	c.Enqueue(plainMsg("a"))
	c.Enqueue(plainMsg("b"))
	c.Enqueue(plainMsg("c"))

	got := drain(c)
	require.Len(t, got, 3)
	assert.Equal(t, "a", string(got[0].Data))
	assert.Equal(t, "c", string(got[2].Data))
}

func TestEnqueue_OverflowDropsOldestNonCritical(t *testing.T) {
	c, _ := newTestClient(2, 1<<20)

	c.Enqueue(plainMsg("a"))
	c.Enqueue(criticalMsg("result"))
	c.Enqueue(plainMsg("b")) // drops "a", not the result

	got := drain(c)
	require.Len(t, got, 2)
	assert.Equal(t, "result", string(got[0].Data))
	assert.Equal(t, "b", string(got[1].Data))
}

func TestEnqueue_SecondDropInsideWindowCloses(t *testing.T) {
	c, _ := newTestClient(2, 1<<20)

	c.Enqueue(plainMsg("a"))
	c.Enqueue(plainMsg("b"))
	c.Enqueue(plainMsg("c")) // first drop
	c.Enqueue(plainMsg("d")) // second drop, same instant

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.True(t, c.closed)
	assert.Equal(t, protocol.CodeSlowConsumer, c.closeCode)
}

func TestEnqueue_DropWindowExpires(t *testing.T) {
	c, clock := newTestClient(2, 1<<20)

	c.Enqueue(plainMsg("a"))
	c.Enqueue(plainMsg("b"))
	c.Enqueue(plainMsg("c")) // first drop

	clock.Advance(11 * time.Second)
	c.Enqueue(plainMsg("d")) // second drop, outside the window

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.False(t, c.closed)
}

func TestEnqueue_AllCriticalOverflowCloses(t *testing.T) {
	c, _ := newTestClient(2, 1<<20)

	c.Enqueue(criticalMsg("r1"))
	c.Enqueue(criticalMsg("r2"))
	c.Enqueue(criticalMsg("r3"))

	c.mu.Lock()
	closed := c.closed
	code := c.closeCode
	c.mu.Unlock()
	assert.True(t, closed)
	assert.Equal(t, protocol.CodeSlowConsumer, code)

	// The queued criticals were not dropped; the write pump still drains
	// them before the close frame.
	got := drain(c)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", string(got[0].Data))
	assert.Equal(t, "r2", string(got[1].Data))
}

func TestEnqueue_ByteCapDropsOldest(t *testing.T) {
	c, _ := newTestClient(100, 10)

	c.Enqueue(plainMsg("aaaaaa")) // 6 bytes
	c.Enqueue(plainMsg("bbbbbb")) // would exceed 10: drops "aaaaaa"

	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, "bbbbbb", string(got[0].Data))
}

func TestEnqueue_AfterDisconnectIsNoop(t *testing.T) {
	c, _ := newTestClient(8, 1<<20)
	c.Disconnect()

	c.Enqueue(plainMsg("late"))
	got := drain(c)
	assert.Empty(t, got)
}

func TestWritePump_DrainsBacklogThenClosesFrame(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newMockConn()
	c := newClient("conn-1", testIdentity(), conn, nil, clock, 8, 1<<20)

	c.Enqueue(plainMsg("one"))
	c.Enqueue(plainMsg("two"))
	c.Disconnect()

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write pump did not finish")
	}

	texts := conn.textFrames()
	require.Len(t, texts, 2)
	assert.Equal(t, "one", string(texts[0]))
	assert.Equal(t, "two", string(texts[1]))
	assert.True(t, conn.closeFrameSent())
}

func TestRoomTracking(t *testing.T) {
	c, _ := newTestClient(8, 1<<20)

	c.joinRoom(types.UserRoom("u1"))
	c.joinRoom(types.TestRoom("t1"))
	assert.Len(t, c.roomSnapshot(), 2)

	c.leaveRoom(types.TestRoom("t1"))
	snapshot := c.roomSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, types.UserRoom("u1"), snapshot[0])
}
