package ratelimit

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassFor(t *testing.T) {
	assert.Equal(t, ClassKeystroke, ClassFor("test:keystroke"))
	assert.Equal(t, ClassRaceProgress, ClassFor("race:progress"))
	assert.Equal(t, ClassChat, ClassFor("race:message"))
	assert.Equal(t, ClassGeneral, ClassFor("test:start"))
	assert.Equal(t, ClassGeneral, ClassFor("race:join"))
}

func TestGovernor_KeystrokeBurstCap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGovernorWithClock(clock)

	// Capacity is 20: exactly 20 keystrokes pass inside one instant.
	for i := 0; i < 20; i++ {
		d := g.Check("user-1", ClassKeystroke)
		require.True(t, d.Allowed, "keystroke %d should be allowed", i+1)
	}

	d := g.Check("user-1", ClassKeystroke)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestGovernor_KeystrokeRefill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGovernorWithClock(clock)

	for i := 0; i < 20; i++ {
		require.True(t, g.Check("user-1", ClassKeystroke).Allowed)
	}
	require.False(t, g.Check("user-1", ClassKeystroke).Allowed)

	// 20 tokens/s: after one second the full burst is back.
	clock.Advance(time.Second)
	for i := 0; i < 20; i++ {
		assert.True(t, g.Check("user-1", ClassKeystroke).Allowed, "keystroke %d after refill", i+1)
	}
	assert.False(t, g.Check("user-1", ClassKeystroke).Allowed)
}

func TestGovernor_ChatRefillIsSlow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGovernorWithClock(clock)

	for i := 0; i < 5; i++ {
		require.True(t, g.Check("user-1", ClassChat).Allowed)
	}
	require.False(t, g.Check("user-1", ClassChat).Allowed)

	// Refill is 1 token / 12s.
	clock.Advance(11 * time.Second)
	assert.False(t, g.Check("user-1", ClassChat).Allowed)

	clock.Advance(time.Second)
	assert.True(t, g.Check("user-1", ClassChat).Allowed)
	assert.False(t, g.Check("user-1", ClassChat).Allowed)
}

func TestGovernor_ClassesAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGovernorWithClock(clock)

	// Exhaust chat; keystrokes must be unaffected.
	for i := 0; i < 5; i++ {
		require.True(t, g.Check("user-1", ClassChat).Allowed)
	}
	require.False(t, g.Check("user-1", ClassChat).Allowed)

	assert.True(t, g.Check("user-1", ClassKeystroke).Allowed)
	assert.True(t, g.Check("user-1", ClassGeneral).Allowed)
}

func TestGovernor_KeysAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGovernorWithClock(clock)

	for i := 0; i < 5; i++ {
		require.True(t, g.Check("user-1", ClassChat).Allowed)
	}
	require.False(t, g.Check("user-1", ClassChat).Allowed)

	assert.True(t, g.Check("user-2", ClassChat).Allowed)
}

func TestGovernor_RetryAfterHint(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGovernorWithClock(clock)

	for i := 0; i < 5; i++ {
		require.True(t, g.Check("user-1", ClassChat).Allowed)
	}

	d := g.Check("user-1", ClassChat)
	require.False(t, d.Allowed)
	// Next token arrives in 12s.
	assert.InDelta(t, (12 * time.Second).Seconds(), d.RetryAfter.Seconds(), 0.5)
}

func TestGovernor_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGovernorWithClock(clock)

	g.Check("user-1", ClassGeneral)
	g.Check("user-2", ClassKeystroke)
	require.Equal(t, 2, g.Len())

	clock.Advance(5 * time.Minute)
	g.Check("user-2", ClassKeystroke) // keeps this bucket fresh

	clock.Advance(6 * time.Minute)
	removed := g.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, g.Len())
}

func TestGovernor_ConcurrentChecks(t *testing.T) {
	g := NewGovernor()

	var wg sync.WaitGroup
	allowed := make([]bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			allowed[n] = g.Check("user-1", ClassKeystroke).Allowed
		}(i)
	}
	wg.Wait()

	count := 0
	for _, a := range allowed {
		if a {
			count++
		}
	}
	// Burst capacity is 20; real-clock refill may admit a token or two more.
	assert.GreaterOrEqual(t, count, 20)
	assert.LessOrEqual(t, count, 22)
}

func TestGate_AllowsWithinLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	gate, err := NewGate("2-M", nil)
	require.NoError(t, err)

	mkCtx := func() *gin.Context {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest("GET", "/ws/engine", nil)
		c.Request.RemoteAddr = "10.1.2.3:5555"
		return c
	}

	assert.True(t, gate.CheckWebSocket(mkCtx()))
	assert.True(t, gate.CheckWebSocket(mkCtx()))
	assert.False(t, gate.CheckWebSocket(mkCtx()))
}

func TestGate_InvalidRate(t *testing.T) {
	_, err := NewGate("not-a-rate", nil)
	assert.Error(t, err)
}
