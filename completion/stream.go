package completion

import (
	"context"
	"strings"
)

// Send delivers chunk unless ctx ends first. It reports whether the chunk was
// delivered.
func Send(ctx context.Context, ch chan<- *CompletionChunk, chunk *CompletionChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a stream into the full answer text. It returns the first
// in-band error, if any, along with the text received before it.
func Collect(chunks <-chan *CompletionChunk) (string, error) {
	var b strings.Builder
	for chunk := range chunks {
		switch chunk.Kind {
		case ChunkContent:
			b.WriteString(chunk.Content)
		case ChunkError:
			return b.String(), chunk.Error
		}
	}
	return b.String(), nil
}
