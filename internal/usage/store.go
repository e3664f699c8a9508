package usage

import (
	"context"
	"sync"
	"time"

	errors "github.com/Laisky/errors/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each key as a capped Redis list.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore wraps a redis client.
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Append pushes payload to the head of key and trims it to retain items.
// The push, trim and expiry commit atomically in one MULTI/EXEC round-trip.
func (s *RedisStore) Append(ctx context.Context, key string, payload []byte, retain int, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, int64(retain-1))
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "append %s", key)
	}
	return nil
}

// Range returns up to limit items of key, newest first.
func (s *RedisStore) Range(ctx context.Context, key string, limit int) ([][]byte, error) {
	values, err := s.rdb.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "lrange %s", key)
	}
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out, nil
}

// MemoryStore is a process-local Store bounded both in keys and in items
// per key. The least recently used key is evicted first. TTLs are ignored.
type MemoryStore struct {
	mu   sync.Mutex
	data *lru.Cache[string, [][]byte]
}

// NewMemoryStore keeps at most maxKeys keys.
func NewMemoryStore(maxKeys int) (*MemoryStore, error) {
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	cache, err := lru.New[string, [][]byte](maxKeys)
	if err != nil {
		return nil, errors.Wrap(err, "new usage lru")
	}
	return &MemoryStore{data: cache}, nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, key string, payload []byte, retain int, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, _ := s.data.Get(key)
	next := make([][]byte, 0, min(len(items)+1, retain))
	next = append(next, append([]byte(nil), payload...))
	for _, item := range items {
		if len(next) >= retain {
			break
		}
		next = append(next, item)
	}
	s.data.Add(key, next)
	return nil
}

// Range implements Store.
func (s *MemoryStore) Range(_ context.Context, key string, limit int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, _ := s.data.Get(key)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return append([][]byte(nil), items...), nil
}
