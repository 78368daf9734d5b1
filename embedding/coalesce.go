package embedding

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Coalesced shares one upstream call between concurrent requests for the same
// text.
type Coalesced struct {
	inner Service
	group singleflight.Group
}

func NewCoalesced(inner Service) *Coalesced {
	return &Coalesced{inner: inner}
}

// Get implements embedding.Service
func (c *Coalesced) Get(ctx context.Context, text string) ([]float32, error) {
	ch := c.group.DoChan(text, func() (any, error) {
		// the shared call outlives any single caller's cancellation
		return c.inner.Get(context.WithoutCancel(ctx), text)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		vec := res.Val.([]float32)
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
}
