package grpc

import (
	"context"

	"assistgen/embedding"

	"go.uber.org/zap"
)

type Server struct {
	embeddingService embedding.Service
	log              *zap.Logger
}

func NewServer(embeddingService embedding.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		embeddingService: embeddingService,
		log:              log,
	}
}

func (s *Server) GetEmbedding(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	vector, err := s.embeddingService.Get(ctx, req.Text)
	if err != nil {
		s.log.Warn("embedding failed", zap.Int("text_len", len(req.Text)), zap.Error(err))
		return &EmbeddingResponse{
			Error: err.Error(),
		}, nil
	}

	return &EmbeddingResponse{
		Embedding: vector,
	}, nil
}
