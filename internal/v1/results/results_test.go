package results

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKeys(t *testing.T) {
	tr := TestResult{SessionID: "s1", IdentityID: "u1"}
	assert.Equal(t, "test:s1:u1", tr.Key())

	rr := RaceResult{RaceID: "r1", IdentityID: "u2"}
	assert.Equal(t, "race:r1:u2", rr.Key())
}

func TestRedisSink_RecordAndIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	sink := NewRedisSink(client)
	rec := TestResult{SessionID: "s1", IdentityID: "u1", WPM: 72, Accuracy: 98}

	require.NoError(t, sink.Record(context.Background(), rec))

	// A duplicate submission must not produce a second durable record.
	dup := rec
	dup.WPM = 999
	require.NoError(t, sink.Record(context.Background(), dup))

	stored, err := mr.Get("results:test:s1:u1")
	require.NoError(t, err)
	assert.Contains(t, stored, `"wpm":72`)

	recent, err := mr.List("results:recent")
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestRedisSink_ErrorSurfaces(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	sink := NewRedisSink(client)
	mr.Close()

	err := sink.Record(context.Background(), TestResult{SessionID: "s1"})
	assert.Error(t, err)
}

// flakySink fails a configured number of times before succeeding.
type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
	done     chan struct{}
}

func (f *flakySink) Record(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("sink unavailable")
	}
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	return nil
}

func (f *flakySink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRetrier_EventualSuccess(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &flakySink{failures: 1, done: make(chan struct{})}
	r := NewRetrierWithClock(sink, clock)
	defer r.Close()

	r.Enqueue(TestResult{SessionID: "s1", IdentityID: "u1"})

	// First retry at +1s fails, second at +2s succeeds.
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("retrier never reached the sink successfully")
	}
	assert.Equal(t, 2, sink.callCount())
}

func TestRetrier_Exhaustion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &flakySink{failures: 100}
	r := NewRetrierWithClock(sink, clock)

	r.Enqueue(TestResult{SessionID: "s1", IdentityID: "u1"})

	for _, d := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		clock.BlockUntil(1)
		clock.Advance(d)
	}

	// Close waits for the retry goroutine, so the count is stable after it.
	r.Close()
	assert.Equal(t, 3, sink.callCount())
}

func TestRetrier_CloseCancelsPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &flakySink{failures: 100}
	r := NewRetrierWithClock(sink, clock)

	r.Enqueue(TestResult{SessionID: "s1"})
	clock.BlockUntil(1)

	r.Close()
	assert.Equal(t, 0, sink.callCount())

	// Enqueue after close is a drop, not a panic.
	r.Enqueue(TestResult{SessionID: "s2"})
}

func TestMemorySink_RecordAndIdempotency(t *testing.T) {
	sink := NewMemorySink()

	rec := TestResult{SessionID: "s1", IdentityID: "u1", WPM: 72.5}
	require.NoError(t, sink.Record(context.Background(), rec))
	require.NoError(t, sink.Record(context.Background(), TestResult{SessionID: "s1", IdentityID: "u1", WPM: 80}))

	assert.Equal(t, 1, sink.Len())

	got, ok := sink.Get(rec.Key())
	require.True(t, ok)
	assert.Equal(t, 80.0, got.(TestResult).WPM)
}
