package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// HitCounter counts admitted requests per API key. Counts only grow.
type HitCounter interface {
	Incr(ctx context.Context, apiKey string) (int64, error)
	Count(ctx context.Context, apiKey string) (int64, error)
}

type MemoryHitCounter struct {
	counts sync.Map // string -> *atomic.Int64
}

func NewMemoryHitCounter() *MemoryHitCounter {
	return &MemoryHitCounter{}
}

func (m *MemoryHitCounter) Incr(ctx context.Context, apiKey string) (int64, error) {
	c, _ := m.counts.LoadOrStore(apiKey, new(atomic.Int64))
	return c.(*atomic.Int64).Add(1), nil
}

func (m *MemoryHitCounter) Count(ctx context.Context, apiKey string) (int64, error) {
	c, ok := m.counts.Load(apiKey)
	if !ok {
		return 0, nil
	}
	return c.(*atomic.Int64).Load(), nil
}

// RedisHitCounter shares hit counts between gateway instances.
type RedisHitCounter struct {
	client *redis.Client
}

func NewRedisHitCounter(redisURL string) (*RedisHitCounter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	return &RedisHitCounter{client: client}, nil
}

func hitKey(apiKey string) string {
	return "ratelimit:hits:" + apiKey
}

func (rc *RedisHitCounter) Incr(ctx context.Context, apiKey string) (int64, error) {
	return rc.client.Incr(ctx, hitKey(apiKey)).Result()
}

func (rc *RedisHitCounter) Count(ctx context.Context, apiKey string) (int64, error) {
	n, err := rc.client.Get(ctx, hitKey(apiKey)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (rc *RedisHitCounter) Close() error {
	return rc.client.Close()
}
