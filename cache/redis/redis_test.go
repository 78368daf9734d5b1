package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"assistgen/cache"
	"assistgen/completion"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ask(text string) completion.Conversation {
	return completion.Conversation{{Role: completion.RoleUser, Content: text}}
}

// tickingClock advances one millisecond per call so access order is strict.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Unix(1700000000, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newTestCache(t *testing.T, size int) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := New(rdb, size, WithClock(tickingClock()))
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c, mr
}

var chat = cache.NewPartition("chat", "u1")

func TestRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, 10)
	ctx := context.Background()

	_, ok, err := c.Lookup(ctx, chat, ask("hi"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Update(ctx, chat, ask("hi"), "hello"))

	answer, ok, err := c.Lookup(ctx, chat, ask("hi"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", answer)

	hits, err := c.HitCount(ctx, chat, ask("hi"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits)
}

func TestEvictionBoundAndOrder(t *testing.T) {
	c, _ := newTestCache(t, 2)
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, chat, ask("a"), "A"))
	require.NoError(t, c.Update(ctx, chat, ask("b"), "B"))
	_, ok, err := c.Lookup(ctx, chat, ask("a"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Update(ctx, chat, ask("c"), "C"))

	n, err := c.Len(ctx, chat)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, ok, _ = c.Lookup(ctx, chat, ask("b"))
	assert.False(t, ok, "least recently used entry should be gone")
	_, ok, _ = c.Lookup(ctx, chat, ask("a"))
	assert.True(t, ok)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Update(ctx, chat, ask(fmt.Sprint(i)), "x"))
		n, err := c.Len(ctx, chat)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, int64(2))
	}
}

func TestEvictedEntryHashRemoved(t *testing.T) {
	c, mr := newTestCache(t, 1)
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, chat, ask("a"), "A"))
	require.NoError(t, c.Update(ctx, chat, ask("b"), "B"))

	assert.False(t, mr.Exists(c.entryPrefix(chat)+cache.Fingerprint(ask("a"))))
	assert.True(t, mr.Exists(c.entryPrefix(chat)+cache.Fingerprint(ask("b"))))
}

func TestPartitionIsolation(t *testing.T) {
	c, _ := newTestCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, chat, ask("hi"), "mine"))
	for _, p := range []cache.Partition{cache.NewPartition("chat", "u2"), cache.NewPartition("reason", "u1")} {
		_, ok, err := c.Lookup(ctx, p, ask("hi"))
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestBackendDown(t *testing.T) {
	c, mr := newTestCache(t, 10)
	mr.SetError("ERR injected failure")

	_, ok, err := c.Lookup(context.Background(), chat, ask("hi"))
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, c.Update(context.Background(), chat, ask("hi"), "x"))
}
