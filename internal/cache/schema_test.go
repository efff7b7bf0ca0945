package cache

import (
	"context"
	"testing"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchemaCacheRejectsBadURL(t *testing.T) {
	_, err := NewSchemaCache("not a url", time.Minute, nil)
	assert.Error(t, err)
}

func TestSchemaCacheDegradesToMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	sc := NewSchemaCacheWithClient(client, time.Minute, nil)
	defer sc.Close()

	ctx := context.Background()
	sc.Set(ctx, "schema:global:todos", &models.SchemaDefinition{Name: "todos"})

	def, ok := sc.Get(ctx, "schema:global:todos")
	require.False(t, ok)
	assert.Nil(t, def)

	sc.Invalidate(ctx, "schema:global:todos")
	sc.Invalidate(ctx)
}
