package grpc

import (
	"context"

	"assistgen/cache"
	"assistgen/completion"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server exposes any cache.Service over gRPC.
type Server struct {
	cacheService cache.Service
	log          *zap.Logger
}

func NewServer(cacheService cache.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cacheService: cacheService,
		log:          log,
	}
}

func (s *Server) Lookup(ctx context.Context, req *LookupRequest) (*LookupResponse, error) {
	if req.Prefix == "" {
		return nil, status.Error(codes.InvalidArgument, "prefix is required")
	}
	p := cache.NewPartition(req.Prefix, req.UserID)
	answer, hit, err := s.cacheService.Lookup(ctx, p, completion.Conversation(req.Messages))
	if err != nil {
		s.log.Warn("cache lookup failed", zap.Stringer("partition", p), zap.Error(err))
		return &LookupResponse{Error: err.Error()}, nil
	}

	return &LookupResponse{
		Answer: answer,
		Hit:    hit,
	}, nil
}

func (s *Server) Update(ctx context.Context, req *UpdateRequest) (*UpdateResponse, error) {
	if req.Prefix == "" {
		return nil, status.Error(codes.InvalidArgument, "prefix is required")
	}
	p := cache.NewPartition(req.Prefix, req.UserID)
	err := s.cacheService.Update(ctx, p, completion.Conversation(req.Messages), req.Answer)
	if err != nil {
		s.log.Warn("cache update failed", zap.Stringer("partition", p), zap.Error(err))
		return &UpdateResponse{Error: err.Error()}, nil
	}
	return &UpdateResponse{}, nil
}
