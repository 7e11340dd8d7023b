package state

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// SeenSet remembers event keys that were already processed.
type SeenSet interface {
	Contains(ctx context.Context, key string) (bool, error)
	// Add stores key and reports whether it was absent before.
	Add(ctx context.Context, key string) (bool, error)
}

// MemorySeen is a bounded in-process SeenSet. The oldest keys are evicted
// once capacity is reached.
type MemorySeen struct {
	cache *lru.Cache
}

// NewMemorySeen creates an LRU-backed SeenSet.
func NewMemorySeen(capacity int) (*MemorySeen, error) {
	if capacity <= 0 {
		capacity = 100_000
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}
	return &MemorySeen{cache: cache}, nil
}

func (m *MemorySeen) Contains(_ context.Context, key string) (bool, error) {
	return m.cache.Contains(key), nil
}

func (m *MemorySeen) Add(_ context.Context, key string) (bool, error) {
	found, _ := m.cache.ContainsOrAdd(key, struct{}{})
	return !found, nil
}

// RedisCmdable is the part of the go-redis client RedisSeen uses.
type RedisCmdable interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisSeen shares the seen set between processes through SETNX with a TTL.
type RedisSeen struct {
	client RedisCmdable
	prefix string
	ttl    time.Duration
}

// NewRedisSeen wraps a redis client.
func NewRedisSeen(client RedisCmdable, prefix string, ttl time.Duration) *RedisSeen {
	if prefix == "" {
		prefix = "mirrorbot:seen:"
	}
	return &RedisSeen{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisSeen) Contains(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisSeen) Add(ctx context.Context, key string) (bool, error) {
	added, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return added, nil
}

var (
	_ SeenSet = (*MemorySeen)(nil)
	_ SeenSet = (*RedisSeen)(nil)
)
