package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	candidateKeyPrefix = "slip:candidate:"
	candidateIndexKey  = "slip:candidates"
	candidateSeqKey    = "slip:candidates:seq"
)

// putScript stores a candidate unless an active one already exists.
// KEYS[1] = candidate hash, KEYS[2] = index zset, KEYS[3] = sequence counter
// ARGV[1] = candidate JSON, ARGV[2] = status, ARGV[3] = ttl millis, ARGV[4] = deposit id
var putScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if status == "pending" then
    return 0
end
local seq = redis.call("INCR", KEYS[3])
redis.call("HSET", KEYS[1], "data", ARGV[1], "status", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
redis.call("ZADD", KEYS[2], seq, ARGV[4])
return 1
`)

// casDeleteScript removes the candidate only while it is still pending.
// This closes the read-then-delete race between concurrent reconciliations.
var casDeleteScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if status ~= "pending" then
    return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

// RedisStore is a Redis-backed candidate pool with TTL-based expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a pool backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func candidateKey(depositID string) string {
	return candidateKeyPrefix + depositID
}

func (s *RedisStore) Put(ctx context.Context, c Candidate) error {
	if c.Status == "" {
		c.Status = StatusPending
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}

	res, err := putScript.Run(ctx, s.client,
		[]string{candidateKey(c.DepositID), candidateIndexKey, candidateSeqKey},
		data, string(c.Status), TTL.Milliseconds(), c.DepositID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis put candidate: %w", err)
	}
	if res == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, depositID string) (Candidate, error) {
	fields, err := s.client.HGetAll(ctx, candidateKey(depositID)).Result()
	if err != nil {
		return Candidate{}, fmt.Errorf("redis get candidate: %w", err)
	}
	if len(fields) == 0 {
		return Candidate{}, ErrNotFound
	}
	return decodeCandidate(fields)
}

func (s *RedisStore) Pending(ctx context.Context) ([]Candidate, error) {
	ids, err := s.client.ZRange(ctx, candidateIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list candidates: %w", err)
	}

	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, candidateKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis read candidate %s: %w", id, err)
		}
		if len(fields) == 0 {
			// Key expired under TTL; drop the dangling index entry.
			s.client.ZRem(ctx, candidateIndexKey, id)
			continue
		}
		c, err := decodeCandidate(fields)
		if err != nil {
			return nil, err
		}
		if c.Status == StatusPending {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, depositID string) (bool, error) {
	res, err := casDeleteScript.Run(ctx, s.client,
		[]string{candidateKey(depositID), candidateIndexKey}, depositID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) MarkFailed(ctx context.Context, depositID, note string) error {
	c, err := s.Get(ctx, depositID)
	if err != nil {
		return err
	}
	c.Status = StatusVerificationFailed
	c.FailureNote = note

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, candidateKey(depositID), "data", data, "status", string(StatusVerificationFailed))
	pipe.ZRem(ctx, candidateIndexKey, depositID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mark failed: %w", err)
	}
	return nil
}

func (s *RedisStore) ExpireStale(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.client.ZRange(ctx, candidateIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list candidates: %w", err)
	}

	var expired []string
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, candidateKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis check candidate %s: %w", id, err)
		}
		if exists == 0 {
			// Redis already expired the hash; reflect that in the index.
			s.client.ZRem(ctx, candidateIndexKey, id)
			expired = append(expired, id)
		}
	}
	return expired, nil
}

func decodeCandidate(fields map[string]string) (Candidate, error) {
	var c Candidate
	if err := json.Unmarshal([]byte(fields["data"]), &c); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate: %w", err)
	}
	if status, ok := fields["status"]; ok {
		c.Status = Status(status)
	}
	return c, nil
}
