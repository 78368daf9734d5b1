package grpc

import (
	"context"
	"fmt"

	"assistgen/rpc"

	"google.golang.org/grpc"
)

// Client implements embedding.Service against a remote embedding server.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(address string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := rpc.Dial(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to embedding service: %w", err)
	}

	return &Client{conn: conn}, nil
}

func (c *Client) Get(ctx context.Context, text string) ([]float32, error) {
	resp := new(EmbeddingResponse)
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/GetEmbedding", &EmbeddingRequest{
		Text: text,
	}, resp)
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("embedding service error: %s", resp.Error)
	}

	return resp.Embedding, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
