package grpc

import (
	"assistgen/completion"

	"google.golang.org/grpc"
)

// ServiceName is the registered gRPC service name.
const ServiceName = "assistgen.completion.v1.CompletionService"

const getStreamMethod = "/" + ServiceName + "/GetStream"

type StreamRequest struct {
	Messages []completion.Message `json:"messages"`
}

// Chunk is the wire form of completion.CompletionChunk. Kind is one of
// "content", "error" or "done".
type Chunk struct {
	Kind       string `json:"kind"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
	TokenUsage int    `json:"token_usage,omitempty"`
}

type CompletionServer interface {
	GetStream(*StreamRequest, CompletionGetStreamServer) error
}

type CompletionGetStreamServer interface {
	Send(*Chunk) error
	grpc.ServerStream
}

// RegisterCompletionServer registers srv on s.
func RegisterCompletionServer(s grpc.ServiceRegistrar, srv CompletionServer) {
	s.RegisterService(&completionServiceDesc, srv)
}

var completionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CompletionServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "GetStream",
			Handler:       getStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "assistgen/completion/grpc",
}

func getStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CompletionServer).GetStream(in, &getStreamServer{stream})
}

type getStreamServer struct {
	grpc.ServerStream
}

func (x *getStreamServer) Send(m *Chunk) error {
	return x.ServerStream.SendMsg(m)
}
