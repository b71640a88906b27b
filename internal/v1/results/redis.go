package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/typedash/realtime/internal/v1/metrics"
)

const (
	// recordTimeout bounds a sink write; completion paths block on it.
	recordTimeout = 5 * time.Second

	// recentKey is the capped list of most recent results for dashboards.
	recentKey = "results:recent"
	recentCap = 1000
)

// RedisSink stores records as JSON under "results:<key>", guarded by SETNX so
// a duplicate submission never produces a second durable record.
type RedisSink struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRedisSink wraps an existing client with a circuit breaker. A tripping
// breaker fails fast so completion paths do not pile up on a dead store.
func NewRedisSink(client *redis.Client) *RedisSink {
	st := gobreaker.Settings{
		Name:        "result_sink",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
		},
	}
	return &RedisSink{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
	}
}

// Record persists the record. Re-recording an existing key is a successful
// no-op.
func (s *RedisSink) Record(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}

		key := "results:" + rec.Key()
		set, err := s.client.SetNX(ctx, key, data, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to store result: %w", err)
		}
		if !set {
			// Already recorded: idempotent success.
			return nil, nil
		}

		pipe := s.client.Pipeline()
		pipe.LPush(ctx, recentKey, data)
		pipe.LTrim(ctx, recentKey, 0, recentCap-1)
		if _, err := pipe.Exec(ctx); err != nil {
			// The durable record exists; the recent list is best-effort.
			return nil, nil
		}
		return nil, nil
	})
	return err
}
