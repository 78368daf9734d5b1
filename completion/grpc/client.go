package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"assistgen/completion"
	"assistgen/rpc"

	"google.golang.org/grpc"
)

// Client implements completion.Provider against a remote completion server.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(address string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := rpc.Dial(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to completion service: %w", err)
	}

	return &Client{conn: conn}, nil
}

func (c *Client) Name() string { return "grpc" }

// GetStream waits for the first chunk so that a server which cannot reach
// its upstream surfaces as a returned error rather than an in-band one.
func (c *Client) GetStream(ctx context.Context, conv completion.Conversation) (<-chan *completion.CompletionChunk, error) {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := c.conn.NewStream(ctx, &completionServiceDesc.Streams[0], getStreamMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to get stream: %v", completion.ErrUpstreamUnavailable, err)
	}
	if err := stream.SendMsg(&StreamRequest{Messages: conv}); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to send request: %v", completion.ErrUpstreamUnavailable, err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to close send: %v", completion.ErrUpstreamUnavailable, err)
	}

	first := new(Chunk)
	firstErr := stream.RecvMsg(first)
	if firstErr != nil && !errors.Is(firstErr, io.EOF) {
		cancel()
		return nil, fmt.Errorf("%w: %v", completion.ErrUpstreamUnavailable, firstErr)
	}

	chunkChan := make(chan *completion.CompletionChunk)
	go func() {
		defer cancel()
		defer close(chunkChan)

		if firstErr != nil {
			// empty stream; the consumer treats closure as completion
			return
		}
		if !c.forward(ctx, chunkChan, first) {
			return
		}
		for {
			wire := new(Chunk)
			err := stream.RecvMsg(wire)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					completion.Send(ctx, chunkChan, completion.ErrorChunk(
						fmt.Errorf("%w: %v", completion.ErrStreamInterrupted, err)))
				}
				return
			}
			if !c.forward(ctx, chunkChan, wire) {
				return
			}
		}
	}()

	return chunkChan, nil
}

// forward converts and delivers one chunk. It reports whether the stream
// should continue.
func (c *Client) forward(ctx context.Context, ch chan<- *completion.CompletionChunk, wire *Chunk) bool {
	switch wire.Kind {
	case completion.ChunkError.String():
		completion.Send(ctx, ch, completion.ErrorChunk(
			fmt.Errorf("%w: %s", completion.ErrStreamInterrupted, wire.Error)))
		return false
	case completion.ChunkDone.String():
		completion.Send(ctx, ch, completion.DoneChunk(wire.TokenUsage))
		return false
	default:
		return completion.Send(ctx, ch, completion.ContentChunk(wire.Content))
	}
}

// Generate implements completion.Generator by collecting the stream.
func (c *Client) Generate(ctx context.Context, conv completion.Conversation) (string, error) {
	chunks, err := c.GetStream(ctx, conv)
	if err != nil {
		return "", err
	}
	return completion.Collect(chunks)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
