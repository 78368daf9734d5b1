package grpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"assistgen/completion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type streamFunc func(ctx context.Context, conv completion.Conversation) (<-chan *completion.CompletionChunk, error)

func (f streamFunc) GetStream(ctx context.Context, conv completion.Conversation) (<-chan *completion.CompletionChunk, error) {
	return f(ctx, conv)
}

func emit(chunks ...*completion.CompletionChunk) streamFunc {
	return func(ctx context.Context, _ completion.Conversation) (<-chan *completion.CompletionChunk, error) {
		ch := make(chan *completion.CompletionChunk)
		go func() {
			defer close(ch)
			for _, c := range chunks {
				if !completion.Send(ctx, ch, c) {
					return
				}
			}
		}()
		return ch, nil
	}
}

func startServer(t *testing.T, svc completion.Service) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterCompletionServer(s, NewServer(svc, nil))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	c, err := NewClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ask(text string) completion.Conversation {
	return completion.Conversation{{Role: completion.RoleUser, Content: text}}
}

func drain(ch <-chan *completion.CompletionChunk) []*completion.CompletionChunk {
	var out []*completion.CompletionChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestRemoteStream(t *testing.T) {
	var seen completion.Conversation
	svc := func(ctx context.Context, conv completion.Conversation) (<-chan *completion.CompletionChunk, error) {
		seen = conv
		return emit(
			completion.ContentChunk("Hel"),
			completion.ContentChunk("lo"),
			completion.DoneChunk(12),
		)(ctx, conv)
	}
	c := startServer(t, streamFunc(svc))

	ch, err := c.GetStream(context.Background(), ask("hi"))
	require.NoError(t, err)
	chunks := drain(ch)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.Equal(t, completion.ChunkDone, chunks[2].Kind)
	assert.True(t, chunks[2].Final)
	assert.Equal(t, 12, chunks[2].TokenUsage)
	assert.Equal(t, ask("hi"), seen)
}

func TestRemoteUpstreamUnavailable(t *testing.T) {
	c := startServer(t, streamFunc(func(context.Context, completion.Conversation) (<-chan *completion.CompletionChunk, error) {
		return nil, errors.New("connection refused")
	}))

	_, err := c.GetStream(context.Background(), ask("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, completion.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRemoteInBandError(t *testing.T) {
	c := startServer(t, emit(
		completion.ContentChunk("partial"),
		completion.ErrorChunk(errors.New("reset by peer")),
	))

	ch, err := c.GetStream(context.Background(), ask("hi"))
	require.NoError(t, err)
	chunks := drain(ch)

	require.Len(t, chunks, 2)
	assert.Equal(t, completion.ChunkError, chunks[1].Kind)
	assert.ErrorIs(t, chunks[1].Error, completion.ErrStreamInterrupted)
	assert.Contains(t, chunks[1].Error.Error(), "reset by peer")
}

func TestRemoteGenerate(t *testing.T) {
	c := startServer(t, emit(
		completion.ContentChunk("4"),
		completion.ContentChunk("2"),
		completion.DoneChunk(0),
	))

	answer, err := c.Generate(context.Background(), ask("6*7"))
	require.NoError(t, err)
	assert.Equal(t, "42", answer)
	assert.Equal(t, "grpc", c.Name())
}

func TestRemoteRejectsEmptyConversation(t *testing.T) {
	c := startServer(t, emit())

	_, err := c.GetStream(context.Background(), nil)
	assert.Error(t, err)
}
