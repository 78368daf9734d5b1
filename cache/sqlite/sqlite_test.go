package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"assistgen/cache"
	"assistgen/completion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ask(text string) completion.Conversation {
	return completion.Conversation{{Role: completion.RoleUser, Content: text}}
}

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

func newTestCache(t *testing.T, size int) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "cache_test.db"), size, WithClock(tickingClock()))
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

var chat = cache.NewPartition("chat", "u1")

func TestRoundTrip(t *testing.T) {
	c := newTestCache(t, 10)
	ctx := context.Background()

	_, ok, err := c.Lookup(ctx, chat, ask("hi"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Update(ctx, chat, ask("hi"), "hello"))
	answer, ok, err := c.Lookup(ctx, chat, ask("hi"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", answer)

	require.NoError(t, c.Update(ctx, chat, ask("hi"), "hello again"))
	answer, _, _ = c.Lookup(ctx, chat, ask("hi"))
	assert.Equal(t, "hello again", answer)

	n, err := c.Len(ctx, chat)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEviction(t *testing.T) {
	c := newTestCache(t, 2)
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, chat, ask("a"), "A"))
	require.NoError(t, c.Update(ctx, chat, ask("b"), "B"))
	_, ok, _ := c.Lookup(ctx, chat, ask("a"))
	require.True(t, ok)
	require.NoError(t, c.Update(ctx, chat, ask("c"), "C"))

	_, ok, _ = c.Lookup(ctx, chat, ask("b"))
	assert.False(t, ok)
	_, ok, _ = c.Lookup(ctx, chat, ask("a"))
	assert.True(t, ok)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Update(ctx, chat, ask(fmt.Sprint(i)), "x"))
		n, err := c.Len(ctx, chat)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 2)
	}
}

func TestPartitionIsolation(t *testing.T) {
	c := newTestCache(t, 1)
	ctx := context.Background()

	other := cache.NewPartition("reason", "u1")
	require.NoError(t, c.Update(ctx, chat, ask("hi"), "chat answer"))
	require.NoError(t, c.Update(ctx, other, ask("hello"), "reason answer"))

	// eviction in one partition leaves the other alone
	answer, ok, err := c.Lookup(ctx, chat, ask("hi"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "chat answer", answer)

	_, ok, _ = c.Lookup(ctx, other, ask("hi"))
	assert.False(t, ok)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Partitions)
	assert.Equal(t, int64(2), st.Entries)
	assert.Equal(t, int64(1), st.Hits)
}
