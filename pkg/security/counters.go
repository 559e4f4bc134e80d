package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FailureCounter tracks windowed failure counts (login failures per IP or
// username) for brute-force detection. Counters increment monotonically
// within their window and reset when it elapses.
type FailureCounter interface {
	// Incr increments the named counter and returns the count within the
	// current window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// MemoryFailureCounter is a windowed counter for tests and single-node use.
type MemoryFailureCounter struct {
	mu     sync.Mutex
	counts map[string]*windowedCount
}

type windowedCount struct {
	n       int64
	resetAt time.Time
}

// NewMemoryFailureCounter creates an empty counter set.
func NewMemoryFailureCounter() *MemoryFailureCounter {
	return &MemoryFailureCounter{counts: make(map[string]*windowedCount)}
}

func (c *MemoryFailureCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	wc, ok := c.counts[key]
	if !ok || now.After(wc.resetAt) {
		wc = &windowedCount{resetAt: now.Add(window)}
		c.counts[key] = wc
	}
	wc.n++
	return wc.n, nil
}

// RedisFailureCounter uses INCR with a window-scoped expiry.
type RedisFailureCounter struct {
	client *redis.Client
}

// NewRedisFailureCounter creates a counter set backed by the given client.
func NewRedisFailureCounter(client *redis.Client) *RedisFailureCounter {
	return &RedisFailureCounter{client: client}
}

func (c *RedisFailureCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	full := "counter:" + key
	n, err := c.client.Incr(ctx, full).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr counter: %w", err)
	}
	if n == 1 {
		// First hit in this window starts the expiry clock.
		if err := c.client.Expire(ctx, full, window).Err(); err != nil {
			return 0, fmt.Errorf("redis expire counter: %w", err)
		}
	}
	return n, nil
}
