// Package metrics declares the Prometheus instrumentation for the realtime
// typing engine.
//
// Naming convention: namespace_subsystem_name
//   - namespace: typedash (application-level grouping)
//   - subsystem: websocket, room, test, race, sink, ratelimit
//
// Metric Types:
//   - Gauge: current state (connections, rooms, sessions, races)
//   - Counter: cumulative events (keystrokes, broadcasts, drops, errors)
//   - Histogram: latency distributions (dispatch time)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of active WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "typedash",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of fan-out rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "typedash",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active fan-out rooms",
	})

	// ActiveTestSessions tracks live single-player test sessions.
	ActiveTestSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "typedash",
		Subsystem: "test",
		Name:      "sessions_active",
		Help:      "Current number of live test sessions",
	})

	// ActiveRaces tracks races that have not reached a terminal state.
	ActiveRaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "typedash",
		Subsystem: "race",
		Name:      "races_active",
		Help:      "Current number of non-terminal races",
	})

	// InboundEvents counts dispatched inbound events by type and outcome.
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "typedash",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total inbound events processed",
	}, []string{"event_type", "status"})

	// DispatchDuration tracks the time spent handling inbound events.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "typedash",
		Subsystem: "websocket",
		Name:      "dispatch_seconds",
		Help:      "Time spent dispatching inbound events",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// KeystrokesProcessed counts accepted keystrokes by correctness.
	KeystrokesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "typedash",
		Subsystem: "test",
		Name:      "keystrokes_total",
		Help:      "Total keystrokes accepted into session logs",
	}, []string{"correct"})

	// BroadcastsDropped counts messages dropped by subscriber backpressure.
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typedash",
		Subsystem: "room",
		Name:      "broadcasts_dropped_total",
		Help:      "Messages dropped from subscriber send queues under backpressure",
	})

	// SlowConsumerCloses counts connections closed for falling behind.
	SlowConsumerCloses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typedash",
		Subsystem: "websocket",
		Name:      "slow_consumer_closes_total",
		Help:      "Connections closed because their send queue overflowed",
	})

	// RateLimitExceeded counts rejected events per class.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "typedash",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Events rejected by the rate governor",
	}, []string{"class", "scope"})

	// RateLimitRequests counts checks that passed per class.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "typedash",
		Subsystem: "ratelimit",
		Name:      "allowed_total",
		Help:      "Events allowed by the rate governor",
	}, []string{"class"})

	// ResultSinkRetries counts retry attempts against the result sink.
	ResultSinkRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typedash",
		Subsystem: "sink",
		Name:      "retries_total",
		Help:      "Retry attempts made against the result sink",
	})

	// ResultSinkDrops counts results abandoned after retry exhaustion.
	ResultSinkDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "typedash",
		Subsystem: "sink",
		Name:      "drops_total",
		Help:      "Results dropped after exhausting sink retries",
	})

	// CircuitBreakerState reports breaker state per dependency (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "typedash",
		Subsystem: "sink",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per external dependency (0=closed, 1=open, 2=half-open)",
	}, []string{"dependency"})

	// CircuitBreakerFailures counts operations rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "typedash",
		Subsystem: "sink",
		Name:      "circuit_breaker_failures_total",
		Help:      "Operations rejected because a circuit breaker was open",
	}, []string{"dependency"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
