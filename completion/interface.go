package completion

//go:generate mockgen -source=interface.go -destination=mock/completion_mock.go -package=mock

import "context"

// Service streams a completion for a conversation. A returned error means the
// upstream could not be reached and nothing was streamed. Once the channel is
// returned, failures arrive in-band as a single ChunkError and the channel is
// closed.
type Service interface {
	GetStream(ctx context.Context, conv Conversation) (<-chan *CompletionChunk, error)
}

// Generator produces a complete answer in one call.
type Generator interface {
	Generate(ctx context.Context, conv Conversation) (string, error)
}

// ToolCaller runs a non-streaming completion with function tools attached.
// forced names the tool the model must call; empty lets the model choose.
type ToolCaller interface {
	CallTools(ctx context.Context, conv Conversation, tools []Tool, forced string) (*ToolResponse, error)
}

// Provider is the full capability contract shared by every adapter.
type Provider interface {
	Service
	Generator
	Name() string
}
