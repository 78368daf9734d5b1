package embedding

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 1}, []float32{-1, -1}), 1e-6)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
	assert.Zero(t, Cosine(nil, nil))
}

type slowEmbedder struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *slowEmbedder) Get(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	<-s.release
	return []float32{float32(len(text))}, nil
}

func TestCoalescedSharesInFlightCalls(t *testing.T) {
	inner := &slowEmbedder{release: make(chan struct{})}
	c := NewCoalesced(inner)

	const n = 8
	var wg sync.WaitGroup
	results := make([][]float32, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "same text")
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, time.Millisecond)
	// let the other callers join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.Equal(t, int32(1), inner.calls.Load())
	for _, r := range results {
		assert.Equal(t, []float32{9}, r)
	}
}

func TestCoalescedCallerCancel(t *testing.T) {
	inner := &slowEmbedder{release: make(chan struct{})}
	defer close(inner.release)
	c := NewCoalesced(inner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
