package grpc

import (
	"assistgen/completion"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Server struct {
	completionService completion.Service
	log               *zap.Logger
}

func NewServer(completionService completion.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		completionService: completionService,
		log:               log,
	}
}

// GetStream relays one completion. An upstream that cannot be reached ends
// the call with codes.Unavailable before any chunk is sent.
func (s *Server) GetStream(req *StreamRequest, stream CompletionGetStreamServer) error {
	if len(req.Messages) == 0 {
		return status.Error(codes.InvalidArgument, "messages are required")
	}

	chunkChan, err := s.completionService.GetStream(stream.Context(), completion.Conversation(req.Messages))
	if err != nil {
		s.log.Warn("upstream unavailable", zap.Error(err))
		return status.Error(codes.Unavailable, err.Error())
	}

	for chunk := range chunkChan {
		if err := stream.Send(toWire(chunk)); err != nil {
			// drain so the producer can exit
			for range chunkChan {
			}
			return err
		}
	}

	return nil
}

func toWire(chunk *completion.CompletionChunk) *Chunk {
	c := &Chunk{
		Kind:       chunk.Kind.String(),
		Content:    chunk.Content,
		TokenUsage: chunk.TokenUsage,
	}
	if chunk.Error != nil {
		c.Error = chunk.Error.Error()
	}
	return c
}
