package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SchemaCache keeps resolved schema definitions in Redis so data requests
// skip the schema table. Cache errors degrade to misses.
type SchemaCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

func NewSchemaCache(redisURL string, ttl time.Duration, log *zap.Logger) (*SchemaCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	return NewSchemaCacheWithClient(client, ttl, log), nil
}

func NewSchemaCacheWithClient(client *redis.Client, ttl time.Duration, log *zap.Logger) *SchemaCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &SchemaCache{
		redis: client,
		ttl:   ttl,
		log:   log,
	}
}

func (sc *SchemaCache) Get(ctx context.Context, key string) (*models.SchemaDefinition, bool) {
	raw, err := sc.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			sc.log.Warn("schema cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var def models.SchemaDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		sc.log.Warn("schema cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &def, true
}

func (sc *SchemaCache) Set(ctx context.Context, key string, def *models.SchemaDefinition) {
	raw, err := json.Marshal(def)
	if err != nil {
		return
	}
	if err := sc.redis.Set(ctx, key, raw, sc.ttl).Err(); err != nil {
		sc.log.Warn("schema cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (sc *SchemaCache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := sc.redis.Del(ctx, keys...).Err(); err != nil {
		sc.log.Warn("schema cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (sc *SchemaCache) Close() error {
	return sc.redis.Close()
}
