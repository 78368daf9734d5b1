// Package memory is the in-process cache backend. Each partition is an LRU
// set of entries behind its own mutex. Partitions are created by Update only
// and live for the process lifetime unless WithMaxPartitions bounds them.
package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"assistgen/cache"
	"assistgen/completion"
	"assistgen/embedding"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// unbounded sizes the partition index when no cap is set.
const unbounded = math.MaxInt

type Cache struct {
	mu         sync.Mutex
	partitions *simplelru.LRU[cache.Partition, *partition]

	maxSize   int
	embedder  embedding.Service
	threshold float32
	now       func() time.Time
	log       *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

type partition struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, *cache.Entry]
}

type Option func(*Cache)

// WithEmbedder enables near-duplicate lookups: a miss on the exact
// fingerprint falls back to the most similar entry scoring at least
// threshold.
func WithEmbedder(e embedding.Service, threshold float32) Option {
	return func(c *Cache) {
		c.embedder = e
		c.threshold = threshold
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) { c.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMaxPartitions keeps at most n partitions, dropping the least recently
// used one whole. n <= 0 leaves the index unbounded.
func WithMaxPartitions(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.partitions.Resize(n)
		}
	}
}

// New creates a cache holding at most maxSize entries per partition.
func New(maxSize int, opts ...Option) (*Cache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("max cache size must be positive, got %d", maxSize)
	}
	parts, err := simplelru.NewLRU[cache.Partition, *partition](unbounded, nil)
	if err != nil {
		return nil, fmt.Errorf("fail to create partition index: %w", err)
	}
	c := &Cache{
		partitions: parts,
		maxSize:    maxSize,
		now:        time.Now,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lookup implements cache.Service
func (c *Cache) Lookup(ctx context.Context, p cache.Partition, conv completion.Conversation) (string, bool, error) {
	part, ok := c.existing(p)
	if !ok {
		c.misses.Add(1)
		return "", false, nil
	}
	fp := cache.Fingerprint(conv)

	part.mu.Lock()
	if e, ok := part.entries.Get(fp); ok {
		answer := c.touch(e)
		part.mu.Unlock()
		c.hits.Add(1)
		return answer, true, nil
	}
	part.mu.Unlock()

	if c.embedder == nil {
		c.misses.Add(1)
		return "", false, nil
	}

	vec, err := c.embedder.Get(ctx, conv.Prompt())
	if err != nil {
		c.misses.Add(1)
		return "", false, fmt.Errorf("fail to embed lookup text: %w", err)
	}

	part.mu.Lock()
	defer part.mu.Unlock()

	var best *cache.Entry
	var bestScore float32
	for _, e := range part.entries.Values() {
		if len(e.Vector) == 0 {
			continue
		}
		if score := embedding.Cosine(vec, e.Vector); score >= c.threshold && (best == nil || score > bestScore) {
			best, bestScore = e, score
		}
	}
	if best == nil {
		c.misses.Add(1)
		return "", false, nil
	}

	// promote in the LRU order
	part.entries.Get(best.Fingerprint)
	c.hits.Add(1)
	c.log.Debug("semantic cache hit",
		zap.Stringer("partition", p),
		zap.String("fingerprint", best.Fingerprint),
		zap.Float32("score", bestScore))
	return c.touch(best), true, nil
}

// Update implements cache.Service
func (c *Cache) Update(ctx context.Context, p cache.Partition, conv completion.Conversation, answer string) error {
	now := c.now()
	entry := &cache.Entry{
		Fingerprint: cache.Fingerprint(conv),
		Response:    answer,
		UserID:      p.UserID,
		CreatedAt:   now,
		LastHitAt:   now,
	}

	if c.embedder != nil {
		vec, err := c.embedder.Get(ctx, conv.Prompt())
		if err != nil {
			// still reachable by exact fingerprint
			c.log.Warn("fail to embed cache entry", zap.Stringer("partition", p), zap.Error(err))
		} else {
			entry.Vector = vec
		}
	}

	part := c.partition(p)
	part.mu.Lock()
	part.entries.Add(entry.Fingerprint, entry)
	part.mu.Unlock()
	return nil
}

// Shutdown implements cache.Service
func (c *Cache) Shutdown() {}

// Len returns the entry count of p without creating it.
func (c *Cache) Len(p cache.Partition) int {
	c.mu.Lock()
	part, ok := c.partitions.Peek(p)
	c.mu.Unlock()
	if !ok {
		return 0
	}
	part.mu.Lock()
	defer part.mu.Unlock()
	return part.entries.Len()
}

// Entry returns a copy of the entry stored for conv, for inspection.
func (c *Cache) Entry(p cache.Partition, conv completion.Conversation) (cache.Entry, bool) {
	c.mu.Lock()
	part, ok := c.partitions.Peek(p)
	c.mu.Unlock()
	if !ok {
		return cache.Entry{}, false
	}
	part.mu.Lock()
	defer part.mu.Unlock()
	e, ok := part.entries.Peek(cache.Fingerprint(conv))
	if !ok {
		return cache.Entry{}, false
	}
	return *e, true
}

func (c *Cache) Stats() cache.Stats {
	c.mu.Lock()
	parts := c.partitions.Values()
	c.mu.Unlock()

	st := cache.Stats{
		Partitions: len(parts),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
	}
	for _, part := range parts {
		part.mu.Lock()
		st.Entries += int64(part.entries.Len())
		part.mu.Unlock()
	}
	return st
}

// existing returns the entry set for p without creating it.
func (c *Cache) existing(p cache.Partition) (*partition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partitions.Get(p)
}

// partition returns the entry set for p, creating it on first use.
func (c *Cache) partition(p cache.Partition) *partition {
	c.mu.Lock()
	defer c.mu.Unlock()

	if part, ok := c.partitions.Get(p); ok {
		return part
	}
	entries, _ := simplelru.NewLRU[string, *cache.Entry](c.maxSize, func(fp string, e *cache.Entry) {
		c.log.Debug("evict cache entry", zap.Stringer("partition", p), zap.String("fingerprint", fp))
	})
	part := &partition{entries: entries}
	c.partitions.Add(p, part)
	return part
}

// touch records a hit; callers hold the partition lock.
func (c *Cache) touch(e *cache.Entry) string {
	e.HitCount++
	e.LastHitAt = c.now()
	return e.Response
}
