// Package generation answers a conversation either by replaying a cached
// answer or by streaming a fresh one from the provider and caching it.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"assistgen/cache"
	"assistgen/completion"
	"assistgen/metrics"
	"assistgen/replay"

	"go.uber.org/zap"
)

// Orchestrator serves one provider pipeline. The cache is shared with other
// pipelines and is never owned here; a nil cache disables caching.
type Orchestrator struct {
	cache    cache.Service
	provider completion.Service
	replay   *replay.Engine
	log      *zap.Logger
}

func New(c cache.Service, provider completion.Service, engine *replay.Engine, log *zap.Logger) *Orchestrator {
	if engine == nil {
		engine = replay.New(replay.DefaultWidth, replay.DefaultInterval)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		cache:    c,
		provider: provider,
		replay:   engine,
		log:      log,
	}
}

// Stream answers conv within partition p. A returned error means nothing was
// streamed and wraps completion.ErrUpstreamUnavailable. Otherwise the channel
// carries content chunks and ends with either a Done chunk, a single Error
// chunk, or the Final content chunk of a replay.
func (o *Orchestrator) Stream(ctx context.Context, p cache.Partition, conv completion.Conversation) (<-chan *completion.CompletionChunk, error) {
	if answer, ok := o.lookup(ctx, p, conv); ok {
		o.log.Debug("replay cached answer", zap.Stringer("partition", p), zap.Int("length", len(answer)))
		return o.replay.Replay(ctx, answer), nil
	}

	upstream, err := o.provider.GetStream(ctx, conv)
	if err != nil {
		metrics.UpstreamFailuresTotal.WithLabelValues(p.Prefix, metrics.StageConnect).Inc()
		if !errors.Is(err, completion.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", completion.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}

	out := make(chan *completion.CompletionChunk)
	go o.generate(ctx, p, conv, upstream, out)
	return out, nil
}

// generate forwards upstream chunks to out and caches the full answer once
// the provider reports completion.
func (o *Orchestrator) generate(ctx context.Context, p cache.Partition, conv completion.Conversation, upstream <-chan *completion.CompletionChunk, out chan<- *completion.CompletionChunk) {
	defer close(out)

	var answer strings.Builder
	for {
		var chunk *completion.CompletionChunk
		var open bool
		select {
		case chunk, open = <-upstream:
		case <-ctx.Done():
			o.log.Debug("client gone, discard partial answer", zap.Stringer("partition", p))
			return
		}
		if !open {
			// a provider that closes without Done still finished its answer
			chunk = completion.DoneChunk(0)
		}

		switch chunk.Kind {
		case completion.ChunkContent:
			answer.WriteString(chunk.Content)
			if !completion.Send(ctx, out, chunk) {
				return
			}
		case completion.ChunkError:
			metrics.UpstreamFailuresTotal.WithLabelValues(p.Prefix, metrics.StageStream).Inc()
			o.log.Warn("upstream stream failed", zap.Stringer("partition", p), zap.Error(chunk.Error))
			completion.Send(ctx, out, completion.ErrorChunk(chunk.Error))
			return
		case completion.ChunkDone:
			if ctx.Err() != nil {
				return
			}
			o.finalize(ctx, p, conv, answer.String())
			completion.Send(ctx, out, chunk)
			return
		}
	}
}

func (o *Orchestrator) lookup(ctx context.Context, p cache.Partition, conv completion.Conversation) (string, bool) {
	if o.cache == nil {
		return "", false
	}
	answer, ok, err := o.cache.Lookup(ctx, p, conv)
	switch {
	case err != nil:
		// a broken cache only costs a provider call
		metrics.CacheLookupsTotal.WithLabelValues(p.Prefix, metrics.CacheError).Inc()
		o.log.Warn("cache lookup failed, treat as miss", zap.Stringer("partition", p), zap.Error(err))
		return "", false
	case ok:
		metrics.CacheLookupsTotal.WithLabelValues(p.Prefix, metrics.CacheHit).Inc()
		return answer, true
	default:
		metrics.CacheLookupsTotal.WithLabelValues(p.Prefix, metrics.CacheMiss).Inc()
		return "", false
	}
}

func (o *Orchestrator) finalize(ctx context.Context, p cache.Partition, conv completion.Conversation, answer string) {
	o.log.Debug("dialog",
		zap.Stringer("partition", p),
		zap.String("question", conv.LastUserContent()),
		zap.String("answer", answer))

	if o.cache == nil {
		return
	}
	// the update outlives a client that leaves right after the last chunk
	err := o.cache.Update(context.WithoutCancel(ctx), p, conv, answer)
	if err != nil {
		metrics.CacheUpdatesTotal.WithLabelValues(p.Prefix, "failed").Inc()
		o.log.Warn("fail to update cache", zap.Stringer("partition", p), zap.Error(err))
		return
	}
	metrics.CacheUpdatesTotal.WithLabelValues(p.Prefix, "success").Inc()
}
