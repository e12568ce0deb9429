package catalog

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/osgeonepal/obe/internal/cache/redisstore"
)

type NopStore struct{}

func (NopStore) Get(context.Context, string) ([]byte, bool, error)         { return nil, false, nil }
func (NopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }

// MemoryStore keeps catalogs in a process-local LRU. The TTL is fixed at
// construction; per-call TTLs are ignored.
type MemoryStore struct {
	lru *expirable.LRU[string, []byte]
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 16
	}
	return &MemoryStore{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := m.lru.Get(key)
	return b, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.lru.Add(key, val)
	return nil
}

// RedisStore shares catalogs between processes.
type RedisStore struct {
	c *redisstore.Client
}

func NewRedisStore(c *redisstore.Client) *RedisStore { return &RedisStore{c: c} }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return r.c.Get(ctx, key)
}

func (r *RedisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.c.Set(ctx, key, val, ttl)
}
