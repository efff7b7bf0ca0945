package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PromptCache keeps model responses in Redis keyed by a hash of the
// prompt that produced them. Cache errors degrade to misses.
type PromptCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

func NewPromptCache(redisURL string, ttl time.Duration, log *zap.Logger) (*PromptCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	return NewPromptCacheWithClient(client, ttl, log), nil
}

func NewPromptCacheWithClient(client *redis.Client, ttl time.Duration, log *zap.Logger) *PromptCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &PromptCache{redis: client, ttl: ttl, log: log}
}

func hashPrompt(prompt string) string {
	hash := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%x", hash)
}

func promptKey(prompt string) string {
	return "prompt:" + hashPrompt(prompt)
}

func (pc *PromptCache) GetResponse(ctx context.Context, prompt string) (string, bool) {
	resp, err := pc.redis.Get(ctx, promptKey(prompt)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		pc.log.Warn("prompt cache read failed", zap.Error(err))
		return "", false
	}
	return resp, true
}

func (pc *PromptCache) StoreResponse(ctx context.Context, prompt, response string) {
	if err := pc.redis.Set(ctx, promptKey(prompt), response, pc.ttl).Err(); err != nil {
		pc.log.Warn("prompt cache write failed", zap.Error(err))
	}
}

func (pc *PromptCache) Close() error {
	return pc.redis.Close()
}
