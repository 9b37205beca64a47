package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/knowledge"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Parallel()
	c := NewDecisionCacheWithClient(nil, 100, time.Minute, logger.Discard())

	k1 := c.Key("torn membrane")
	assert.Equal(t, k1, c.Key("torn membrane"))
	assert.NotEqual(t, k1, c.Key("torn membranes"))
	assert.Len(t, k1, len(DefaultKeyBase)+64)
}

func TestDecisionCache_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping Redis integration test")
	}
	ctx := context.Background()

	c, err := NewDecisionCache(ctx, url, 100, 100*time.Millisecond, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	key := "torn membrane " + uuid.NewString()
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	want := knowledge.GateDecision{Pass: true, Score: 0.7, Reason: "retrieved", Context: "laps 150 mm"}
	c.Add(ctx, key, want)

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, want, got)

	time.Sleep(250 * time.Millisecond)
	_, ok = c.Get(ctx, key)
	assert.False(t, ok, "entry expires with its TTL")
}

func TestDecisionCache_EvictsLeastRecentlyUsed(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping Redis integration test")
	}
	ctx := context.Background()

	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	c := NewDecisionCacheWithClient(client, 100, time.Minute, logger.Discard())
	c.keyBase = "reportgen:test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), c.keyBase+"*").Result()
		if len(keys) > 0 {
			_ = client.Del(context.Background(), keys...).Err()
		}
	})

	d := knowledge.GateDecision{Pass: true, Score: 0.6, Reason: "retrieved"}
	for i := 0; i < 101; i++ {
		c.Add(ctx, fmt.Sprintf("query %d", i), d)
		if i == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	_, ok := c.Get(ctx, "query 0")
	assert.False(t, ok, "oldest entry is evicted")
	for _, q := range []string{"query 1", "query 50", "query 100"} {
		_, ok := c.Get(ctx, q)
		assert.True(t, ok, q)
	}

	n, err := client.ZCard(ctx, c.indexKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)

	// query 1 was just read, so query 2 is now the least recently used.
	time.Sleep(time.Millisecond)
	c.Add(ctx, "query 101", d)
	_, ok = c.Get(ctx, "query 1")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "query 2")
	assert.False(t, ok)
}
