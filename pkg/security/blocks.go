package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BlockKind distinguishes IP blocks from user blocks.
type BlockKind string

const (
	BlockIP   BlockKind = "ip"
	BlockUser BlockKind = "user"
)

// DefaultBlockDuration bounds automatic temporary blocks.
const DefaultBlockDuration = 30 * time.Minute

// Block is a temporary block record.
type Block struct {
	Kind      BlockKind `json:"kind"`
	Subject   string    `json:"subject"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BlockStore manages temporary IP and user blocks.
type BlockStore interface {
	// Block blocks a subject for the given duration (DefaultBlockDuration
	// when zero) and returns the stored record.
	Block(ctx context.Context, kind BlockKind, subject, reason string, duration time.Duration) (Block, error)

	// Unblock lifts a block. Unblocking an unblocked subject is a no-op.
	Unblock(ctx context.Context, kind BlockKind, subject string) error

	// IsBlocked reports whether a subject is currently blocked.
	IsBlocked(ctx context.Context, kind BlockKind, subject string) (bool, error)
}

// MemoryBlockStore keeps blocks in memory with lazy expiry.
type MemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[string]Block
}

// NewMemoryBlockStore creates an empty block store.
func NewMemoryBlockStore() *MemoryBlockStore {
	return &MemoryBlockStore{blocks: make(map[string]Block)}
}

func blockKey(kind BlockKind, subject string) string {
	return fmt.Sprintf("block:%s:%s", kind, subject)
}

func (s *MemoryBlockStore) Block(_ context.Context, kind BlockKind, subject, reason string, duration time.Duration) (Block, error) {
	if duration <= 0 {
		duration = DefaultBlockDuration
	}
	b := Block{Kind: kind, Subject: subject, Reason: reason, ExpiresAt: time.Now().Add(duration)}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[blockKey(kind, subject)] = b
	return b, nil
}

func (s *MemoryBlockStore) Unblock(_ context.Context, kind BlockKind, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, blockKey(kind, subject))
	return nil
}

func (s *MemoryBlockStore) IsBlocked(_ context.Context, kind BlockKind, subject string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[blockKey(kind, subject)]
	if !ok {
		return false, nil
	}
	if time.Now().After(b.ExpiresAt) {
		delete(s.blocks, blockKey(kind, subject))
		return false, nil
	}
	return true, nil
}

// RedisBlockStore keeps blocks in Redis with native TTL expiry.
type RedisBlockStore struct {
	client *redis.Client
}

// NewRedisBlockStore creates a store backed by the given client.
func NewRedisBlockStore(client *redis.Client) *RedisBlockStore {
	return &RedisBlockStore{client: client}
}

func (s *RedisBlockStore) Block(ctx context.Context, kind BlockKind, subject, reason string, duration time.Duration) (Block, error) {
	if duration <= 0 {
		duration = DefaultBlockDuration
	}
	b := Block{Kind: kind, Subject: subject, Reason: reason, ExpiresAt: time.Now().Add(duration)}

	if err := s.client.Set(ctx, blockKey(kind, subject), reason, duration).Err(); err != nil {
		return Block{}, fmt.Errorf("redis block: %w", err)
	}
	return b, nil
}

func (s *RedisBlockStore) Unblock(ctx context.Context, kind BlockKind, subject string) error {
	if err := s.client.Del(ctx, blockKey(kind, subject)).Err(); err != nil {
		return fmt.Errorf("redis unblock: %w", err)
	}
	return nil
}

func (s *RedisBlockStore) IsBlocked(ctx context.Context, kind BlockKind, subject string) (bool, error) {
	n, err := s.client.Exists(ctx, blockKey(kind, subject)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check block: %w", err)
	}
	return n > 0, nil
}
