package words

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fetchTimeout bounds a word-list fetch; the session start path blocks on it.
const fetchTimeout = 3 * time.Second

// RedisSource serves word lists stored as Redis lists under
// "words:<language>:<listId>". It is typically chained in front of the
// static source so managed lists win but the engine still works offline.
type RedisSource struct {
	client *redis.Client

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRedisSource creates a RedisSource over an existing client.
func NewRedisSource(client *redis.Client, seed int64) *RedisSource {
	return &RedisSource{
		client: client,
		rng:    rand.New(rand.NewPCG(uint64(seed), 0)),
	}
}

// Key returns the Redis key for a list.
func Key(language, listID string) string {
	if language == "" {
		language = "en"
	}
	if listID == "" {
		listID = "common"
	}
	return fmt.Sprintf("words:%s:%s", language, listID)
}

// Fetch samples Count tokens from the stored list.
func (s *RedisSource) Fetch(ctx context.Context, req Request) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	list, err := s.client.LRange(ctx, Key(req.Language, req.ListID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load wordlist: %w", err)
	}
	if len(list) == 0 {
		return nil, ErrNoWordlists
	}
	if req.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", req.Count)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, req.Count)
	for i := range out {
		out[i] = list[s.rng.IntN(len(list))]
	}
	return out, nil
}
