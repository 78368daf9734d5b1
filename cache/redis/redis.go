// Package redis stores cache partitions in Redis. A partition is one sorted
// set ordering fingerprints by last access plus one hash per entry; both live
// under the same hash tag so a partition maps to a single cluster slot.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"assistgen/cache"
	"assistgen/completion"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultNamespace = "assistgen:cache"

// KEYS[1] lru zset, KEYS[2] entry hash; ARGV[1] now, ARGV[2] fingerprint
var lookupScript = redis.NewScript(`
local answer = redis.call('HGET', KEYS[2], 'response')
if not answer then
	return false
end
redis.call('HINCRBY', KEYS[2], 'hit_count', 1)
redis.call('HSET', KEYS[2], 'last_hit', ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
return answer
`)

// KEYS[1] lru zset; ARGV[1] entry key prefix, ARGV[2] fingerprint,
// ARGV[3] response, ARGV[4] user id, ARGV[5] now, ARGV[6] max entries
var updateScript = redis.NewScript(`
local key = ARGV[1] .. ARGV[2]
redis.call('DEL', key)
redis.call('HSET', key, 'response', ARGV[3], 'user_id', ARGV[4], 'created_at', ARGV[5], 'last_hit', ARGV[5], 'hit_count', 0)
redis.call('ZADD', KEYS[1], ARGV[5], ARGV[2])
local excess = redis.call('ZCARD', KEYS[1]) - tonumber(ARGV[6])
if excess <= 0 then
	return 0
end
local victims = redis.call('ZRANGE', KEYS[1], 0, excess - 1)
for _, fp in ipairs(victims) do
	redis.call('DEL', ARGV[1] .. fp)
	redis.call('ZREM', KEYS[1], fp)
end
return #victims
`)

type Cache struct {
	rdb       redis.UniversalClient
	namespace string
	maxSize   int
	now       func() time.Time
	log       *zap.Logger
}

type Option func(*Cache)

func WithNamespace(ns string) Option {
	return func(c *Cache) { c.namespace = ns }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) { c.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New wraps an existing client. The caller keeps ownership of rdb unless
// Shutdown is used.
func New(rdb redis.UniversalClient, maxSize int, opts ...Option) (*Cache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("max cache size must be positive, got %d", maxSize)
	}
	c := &Cache{
		rdb:       rdb,
		namespace: defaultNamespace,
		maxSize:   maxSize,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, maxSize int, opts ...Option) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("fail to ping redis at %s: %w", addr, err)
	}
	return New(rdb, maxSize, opts...)
}

// Lookup implements cache.Service
func (c *Cache) Lookup(ctx context.Context, p cache.Partition, conv completion.Conversation) (string, bool, error) {
	fp := cache.Fingerprint(conv)
	answer, err := lookupScript.Run(ctx, c.rdb,
		[]string{c.lruKey(p), c.entryPrefix(p) + fp},
		c.score(), fp,
	).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fail to lookup redis cache: %w", err)
	}
	return answer, true, nil
}

// Update implements cache.Service
func (c *Cache) Update(ctx context.Context, p cache.Partition, conv completion.Conversation, answer string) error {
	fp := cache.Fingerprint(conv)
	evicted, err := updateScript.Run(ctx, c.rdb,
		[]string{c.lruKey(p)},
		c.entryPrefix(p), fp, answer, p.UserID, c.score(), c.maxSize,
	).Int()
	if err != nil {
		return fmt.Errorf("fail to update redis cache: %w", err)
	}
	if evicted > 0 {
		c.log.Debug("evict cache entries", zap.Stringer("partition", p), zap.Int("count", evicted))
	}
	return nil
}

// Shutdown implements cache.Service
func (c *Cache) Shutdown() {
	if err := c.rdb.Close(); err != nil {
		c.log.Warn("fail to close redis client", zap.Error(err))
	}
}

// Len returns the entry count of p.
func (c *Cache) Len(ctx context.Context, p cache.Partition) (int64, error) {
	return c.rdb.ZCard(ctx, c.lruKey(p)).Result()
}

// HitCount returns the hit counter stored for conv in p.
func (c *Cache) HitCount(ctx context.Context, p cache.Partition, conv completion.Conversation) (int64, error) {
	v, err := c.rdb.HGet(ctx, c.entryPrefix(p)+cache.Fingerprint(conv), "hit_count").Result()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (c *Cache) lruKey(p cache.Partition) string {
	return fmt.Sprintf("%s:{%s}:lru", c.namespace, p)
}

func (c *Cache) entryPrefix(p cache.Partition) string {
	return fmt.Sprintf("%s:{%s}:entry:", c.namespace, p)
}

// score orders by access time; microseconds stay exact in a float64 score.
func (c *Cache) score() int64 {
	return c.now().UnixMicro()
}
