package grpc

import (
	"context"

	"assistgen/completion"

	"google.golang.org/grpc"
)

// ServiceName is the registered gRPC service name.
const ServiceName = "assistgen.cache.v1.CacheService"

type LookupRequest struct {
	Prefix   string               `json:"prefix"`
	UserID   string               `json:"user_id"`
	Messages []completion.Message `json:"messages"`
}

type LookupResponse struct {
	Answer string `json:"answer"`
	Hit    bool   `json:"hit"`
	Error  string `json:"error,omitempty"`
}

type UpdateRequest struct {
	Prefix   string               `json:"prefix"`
	UserID   string               `json:"user_id"`
	Messages []completion.Message `json:"messages"`
	Answer   string               `json:"answer"`
}

type UpdateResponse struct {
	Error string `json:"error,omitempty"`
}

// CacheServer is the server API of the remote cache.
type CacheServer interface {
	Lookup(context.Context, *LookupRequest) (*LookupResponse, error)
	Update(context.Context, *UpdateRequest) (*UpdateResponse, error)
}

// RegisterCacheServer registers srv on s.
func RegisterCacheServer(s grpc.ServiceRegistrar, srv CacheServer) {
	s.RegisterService(&cacheServiceDesc, srv)
}

var cacheServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CacheServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Lookup", Handler: lookupHandler},
		{MethodName: "Update", Handler: updateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "assistgen/cache/grpc",
}

func lookupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LookupRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CacheServer).Lookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Lookup"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CacheServer).Lookup(ctx, req.(*LookupRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func updateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CacheServer).Update(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Update"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CacheServer).Update(ctx, req.(*UpdateRequest))
	}
	return interceptor(ctx, in, info, handler)
}
