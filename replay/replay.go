// Package replay turns a cached answer back into a paced chunk stream that is
// framed like a live provider stream.
package replay

import (
	"context"
	"time"

	"assistgen/completion"
	"assistgen/metrics"

	"golang.org/x/time/rate"
)

const (
	DefaultWidth    = 4
	DefaultInterval = 50 * time.Millisecond
)

type Engine struct {
	width    int
	interval time.Duration
}

// New returns an engine emitting width runes per chunk, interval apart.
// A zero interval disables pacing; width below 1 falls back to DefaultWidth.
func New(width int, interval time.Duration) *Engine {
	if width < 1 {
		width = DefaultWidth
	}
	if interval < 0 {
		interval = 0
	}
	return &Engine{width: width, interval: interval}
}

// Replay streams text in fixed-width fragments. The last fragment is marked
// Final; empty text yields a closed channel with no chunks. The channel is
// closed early when ctx ends.
func (e *Engine) Replay(ctx context.Context, text string) <-chan *completion.CompletionChunk {
	out := make(chan *completion.CompletionChunk)
	fragments := Split(text, e.width)

	go func() {
		defer close(out)

		var limiter *rate.Limiter
		if e.interval > 0 {
			limiter = rate.NewLimiter(rate.Every(e.interval), 1)
		}
		for i, frag := range fragments {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}
			chunk := completion.ContentChunk(frag)
			chunk.Final = i == len(fragments)-1
			if !completion.Send(ctx, out, chunk) {
				return
			}
			metrics.ReplayedChunksTotal.Inc()
		}
	}()
	return out
}

// Split cuts text into fragments of width runes; the last may be shorter.
func Split(text string, width int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	fragments := make([]string, 0, (len(runes)+width-1)/width)
	for start := 0; start < len(runes); start += width {
		end := min(start+width, len(runes))
		fragments = append(fragments, string(runes[start:end]))
	}
	return fragments
}
