// Package factory builds the configured cache backend.
package factory

import (
	"context"
	"errors"
	"fmt"

	"assistgen/cache"
	cachegrpc "assistgen/cache/grpc"
	"assistgen/cache/memory"
	"assistgen/cache/qdrant"
	"assistgen/cache/redis"
	"assistgen/cache/sqlite"
	"assistgen/config"
	"assistgen/embedding"

	"go.uber.org/zap"
)

var ErrNoEmbedder = errors.New("semantic cache backend needs an embedding service")

// New returns the backend named by cfg.Cache.Backend, or nil for CacheNone.
// emb may be nil; memory then matches exactly and qdrant refuses to start.
func New(ctx context.Context, full *config.Config, emb embedding.Service, log *zap.Logger) (cache.Service, error) {
	cfg := full.Cache
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("cache")

	switch cfg.Backend {
	case config.CacheNone:
		return nil, nil
	case config.CacheMemory:
		opts := []memory.Option{memory.WithLogger(log)}
		if emb != nil {
			opts = append(opts, memory.WithEmbedder(emb, cfg.SimilarityThreshold))
		}
		return memory.New(cfg.MaxSize, opts...)
	case config.CacheRedis:
		return redis.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.MaxSize, redis.WithLogger(log))
	case config.CacheSQLite:
		return sqlite.New(cfg.SQLitePath, cfg.MaxSize, sqlite.WithLogger(log))
	case config.CacheQdrant:
		if emb == nil {
			return nil, ErrNoEmbedder
		}
		return qdrant.New(qdrant.Config{
			Host:                cfg.QdrantHost,
			Port:                cfg.QdrantPort,
			CollectionName:      cfg.QdrantCollection,
			Dimensions:          full.Embedding.Dimensions,
			SimilarityThreshold: cfg.SimilarityThreshold,
			MaxSize:             cfg.MaxSize,
			BufferSize:          cfg.QueueSize,
			WorkerCount:         cfg.Workers,
		}, emb, log)
	case config.CacheGRPC:
		return cachegrpc.NewClient(cfg.GRPCAddr)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
