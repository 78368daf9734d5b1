package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the registered gRPC service name.
const ServiceName = "assistgen.embedding.v1.EmbeddingService"

type EmbeddingRequest struct {
	Text string `json:"text"`
}

type EmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

type EmbeddingServer interface {
	GetEmbedding(context.Context, *EmbeddingRequest) (*EmbeddingResponse, error)
}

// RegisterEmbeddingServer registers srv on s.
func RegisterEmbeddingServer(s grpc.ServiceRegistrar, srv EmbeddingServer) {
	s.RegisterService(&embeddingServiceDesc, srv)
}

var embeddingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EmbeddingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetEmbedding", Handler: getEmbeddingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "assistgen/embedding/grpc",
}

func getEmbeddingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EmbeddingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EmbeddingServer).GetEmbedding(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetEmbedding"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EmbeddingServer).GetEmbedding(ctx, req.(*EmbeddingRequest))
	}
	return interceptor(ctx, in, info, handler)
}
