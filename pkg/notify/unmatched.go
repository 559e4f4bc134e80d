package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// UnmatchedRetention is how long unmatched notifications are kept for
// manual reconciliation.
const UnmatchedRetention = 7 * 24 * time.Hour

// UnmatchedStore archives notifications that matched no candidate.
type UnmatchedStore interface {
	// Archive stores a notification for later manual review.
	Archive(ctx context.Context, n Notification) error

	// Recent returns up to limit archived notifications, newest first.
	Recent(ctx context.Context, limit int) ([]Notification, error)
}

// archived pairs a notification with its archival time for retention sweeps.
type archived struct {
	Notification Notification `json:"notification"`
	ArchivedAt   time.Time    `json:"archived_at"`
}

// MemoryUnmatchedStore keeps unmatched notifications in memory.
type MemoryUnmatchedStore struct {
	mu      sync.Mutex
	entries []archived
}

// NewMemoryUnmatchedStore creates an empty store.
func NewMemoryUnmatchedStore() *MemoryUnmatchedStore {
	return &MemoryUnmatchedStore{}
}

func (s *MemoryUnmatchedStore) Archive(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.entries = append(s.entries, archived{Notification: n, ArchivedAt: now})

	// Retention sweep on write.
	cutoff := now.Add(-UnmatchedRetention)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.ArchivedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return nil
}

func (s *MemoryUnmatchedStore) Recent(_ context.Context, limit int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Notification, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i].Notification)
	}
	return out, nil
}

const unmatchedKey = "slip:unmatched"

// RedisUnmatchedStore keeps unmatched notifications in a Redis sorted set
// scored by archival time, pruned to the retention window on each write.
type RedisUnmatchedStore struct {
	client *redis.Client
}

// NewRedisUnmatchedStore creates a store backed by the given client.
func NewRedisUnmatchedStore(client *redis.Client) *RedisUnmatchedStore {
	return &RedisUnmatchedStore{client: client}
}

func (s *RedisUnmatchedStore) Archive(ctx context.Context, n Notification) error {
	now := time.Now()
	data, err := json.Marshal(archived{Notification: n, ArchivedAt: now})
	if err != nil {
		return fmt.Errorf("marshal unmatched notification: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, unmatchedKey, redis.Z{Score: float64(now.UnixMilli()), Member: data})
	pipe.ZRemRangeByScore(ctx, unmatchedKey, "0",
		fmt.Sprintf("%d", now.Add(-UnmatchedRetention).UnixMilli()))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis archive unmatched: %w", err)
	}
	return nil
}

func (s *RedisUnmatchedStore) Recent(ctx context.Context, limit int) ([]Notification, error) {
	raw, err := s.client.ZRevRange(ctx, unmatchedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list unmatched: %w", err)
	}

	out := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var e archived
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode unmatched notification: %w", err)
		}
		out = append(out, e.Notification)
	}
	return out, nil
}
