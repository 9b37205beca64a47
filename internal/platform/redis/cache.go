// Package redis provides a Redis-backed knowledge decision cache shared by
// every worker process.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/reportgen/internal/knowledge"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultKeyBase prefixes every key written by the cache.
const DefaultKeyBase = "reportgen:knowledge:"

// indexSuffix names the sorted set that orders entries by last access.
const indexSuffix = "lru"

// addScript stores an entry, records its access time and evicts the least
// recently used entries beyond capacity, atomically.
//
// KEYS[1] entry, KEYS[2] index
// ARGV[1] value, ARGV[2] ttl ms, ARGV[3] now us, ARGV[4] capacity,
// ARGV[5] expiry cutoff us
var addScript = goredis.NewScript(`
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
	redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', '(' .. ARGV[5])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
redis.call('ZADD', KEYS[2], ARGV[3], KEYS[1])
local excess = redis.call('ZCARD', KEYS[2]) - tonumber(ARGV[4])
if excess > 0 then
	local stale = redis.call('ZRANGE', KEYS[2], 0, excess - 1)
	redis.call('ZREMRANGEBYRANK', KEYS[2], 0, excess - 1)
	redis.call('DEL', unpack(stale))
end
return excess
`)

// DecisionCache implements knowledge.Cache on Redis. Entries expire through
// Redis TTLs and at most capacity entries are kept, evicting the least
// recently used.
type DecisionCache struct {
	client   *goredis.Client
	capacity int
	ttl      time.Duration
	keyBase  string
	logger   *slog.Logger
}

var _ knowledge.Cache = (*DecisionCache)(nil)

// NewDecisionCache connects to redisURL and verifies the connection.
func NewDecisionCache(
	ctx context.Context,
	redisURL string,
	capacity int,
	ttl time.Duration,
	logger *slog.Logger,
) (*DecisionCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewDecisionCacheWithClient(client, capacity, ttl, logger), nil
}

// NewDecisionCacheWithClient wraps an existing client. capacity below one
// keeps a single entry.
func NewDecisionCacheWithClient(
	client *goredis.Client,
	capacity int,
	ttl time.Duration,
	logger *slog.Logger,
) *DecisionCache {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity < 1 {
		capacity = 1
	}
	return &DecisionCache{
		client:   client,
		capacity: capacity,
		ttl:      ttl,
		keyBase:  DefaultKeyBase,
		logger:   logger.With(slog.String("component", "redis_cache")),
	}
}

func (c *DecisionCache) indexKey() string {
	return c.keyBase + indexSuffix
}

// Key maps a normalized query onto a bounded Redis key.
func (c *DecisionCache) Key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return c.keyBase + hex.EncodeToString(sum[:])
}

// Get implements knowledge.Cache. Redis failures are logged and reported
// as misses.
func (c *DecisionCache) Get(ctx context.Context, key string) (knowledge.GateDecision, bool) {
	raw, err := c.client.Get(ctx, c.Key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return knowledge.GateDecision{}, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "redis get failed", slog.String("error", err.Error()))
		return knowledge.GateDecision{}, false
	}

	var d knowledge.GateDecision
	if err := json.Unmarshal(raw, &d); err != nil {
		c.logger.WarnContext(ctx, "discarding malformed cache entry", slog.String("error", err.Error()))
		return knowledge.GateDecision{}, false
	}

	touch := goredis.Z{Score: float64(time.Now().UnixMicro()), Member: c.Key(key)}
	if err := c.client.ZAddXX(ctx, c.indexKey(), touch).Err(); err != nil {
		c.logger.DebugContext(ctx, "redis access update failed", slog.String("error", err.Error()))
	}
	return d, true
}

// Add implements knowledge.Cache.
func (c *DecisionCache) Add(ctx context.Context, key string, d knowledge.GateDecision) {
	raw, err := json.Marshal(d)
	if err != nil {
		c.logger.WarnContext(ctx, "encode cache entry", slog.String("error", err.Error()))
		return
	}
	now := time.Now()
	evicted, err := addScript.Run(ctx, c.client,
		[]string{c.Key(key), c.indexKey()},
		raw, c.ttl.Milliseconds(), now.UnixMicro(), c.capacity, now.Add(-c.ttl).UnixMicro(),
	).Int()
	if err != nil {
		c.logger.WarnContext(ctx, "redis set failed", slog.String("error", err.Error()))
		return
	}
	if evicted > 0 {
		c.logger.DebugContext(ctx, "evicted cache entries", slog.Int("count", evicted))
	}
}

// Close releases the client.
func (c *DecisionCache) Close() error {
	return c.client.Close()
}
