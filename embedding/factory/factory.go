// Package factory builds the configured embedding client.
package factory

import (
	"fmt"

	"assistgen/config"
	"assistgen/embedding"
	embeddinggrpc "assistgen/embedding/grpc"
	"assistgen/embedding/openai"
)

// New returns a coalescing embedder backed by the remote embedding server when
// GRPCAddr is set, by the HTTP endpoint when APIKey is set, and nil otherwise.
// closeFn releases the client and is never nil.
func New(cfg config.EmbeddingConfig) (svc embedding.Service, closeFn func() error, err error) {
	noop := func() error { return nil }
	switch {
	case cfg.GRPCAddr != "":
		client, err := embeddinggrpc.NewClient(cfg.GRPCAddr)
		if err != nil {
			return nil, noop, fmt.Errorf("init embedding client: %w", err)
		}
		return embedding.NewCoalesced(client), client.Close, nil
	case cfg.APIKey != "":
		client, err := openai.New(cfg.APIKey,
			openai.WithEndpoint(cfg.Endpoint),
			openai.WithModel(cfg.Model),
			openai.WithDimensions(cfg.Dimensions),
		)
		if err != nil {
			return nil, noop, fmt.Errorf("init embedding client: %w", err)
		}
		return embedding.NewCoalesced(client), noop, nil
	default:
		return nil, noop, nil
	}
}
