package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/typedash/realtime/internal/v1/logging"
	"github.com/typedash/realtime/internal/v1/metrics"
)

// Gate throttles websocket handshakes per remote address at the HTTP layer,
// before any token validation or upgrade work is spent on the request.
type Gate struct {
	wsIP  *limiter.Limiter
	store limiter.Store
}

// NewGate builds a Gate from a formatted rate (e.g. "10-M"). When a Redis
// client is provided the limit is shared across engine instances; otherwise
// an in-memory store is used.
func NewGate(wsIPRate string, redisClient *redis.Client) (*Gate, error) {
	ipRate, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStore()
	}

	return &Gate{
		wsIP:  limiter.New(store, ipRate),
		store: store,
	}, nil
}

// CheckWebSocket reports whether a handshake from this address may proceed.
// On denial it writes the 429 response itself.
func (g *Gate) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := g.wsIP.Get(ctx, ip)
	if err != nil {
		// Fail open: an unavailable store must not take the service down.
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues(string(ClassConnection), "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues(string(ClassConnection)).Inc()
	return true
}
