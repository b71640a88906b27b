package results

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/typedash/realtime/internal/v1/logging"
	"github.com/typedash/realtime/internal/v1/metrics"
)

// Retry schedule: exponential backoff, bounded. A record that survives all
// attempts is dropped with a counter; the client already has its result.
var retryBackoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Retrier re-submits records whose first sink call failed. Each enqueued
// record retries on its own timer goroutine; Close waits for stragglers.
type Retrier struct {
	sink  Sink
	clock clockwork.Clock

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRetrier creates a Retrier using the wall clock.
func NewRetrier(sink Sink) *Retrier {
	return NewRetrierWithClock(sink, clockwork.NewRealClock())
}

// NewRetrierWithClock creates a Retrier on an injected clock for tests.
func NewRetrierWithClock(sink Sink, clock clockwork.Clock) *Retrier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Retrier{
		sink:   sink,
		clock:  clock,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue schedules bounded retries for an unsunk record. It returns
// immediately; the caller has already emitted the client-visible result.
func (r *Retrier) Enqueue(rec Record) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		metrics.ResultSinkDrops.Inc()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		for _, backoff := range retryBackoffs {
			select {
			case <-r.ctx.Done():
				metrics.ResultSinkDrops.Inc()
				return
			case <-r.clock.After(backoff):
			}

			metrics.ResultSinkRetries.Inc()
			if err := r.sink.Record(r.ctx, rec); err == nil {
				return
			} else {
				logging.Warn(r.ctx, "result sink retry failed",
					zap.String("key", rec.Key()), zap.Error(err))
			}
		}
		metrics.ResultSinkDrops.Inc()
		logging.Error(r.ctx, "dropping result after retry exhaustion", zap.String("key", rec.Key()))
	}()
}

// Close stops accepting work, cancels pending waits, and blocks until all
// retry goroutines have exited.
func (r *Retrier) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
