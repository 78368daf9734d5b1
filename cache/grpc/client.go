package grpc

import (
	"context"
	"fmt"

	"assistgen/cache"
	"assistgen/completion"
	"assistgen/rpc"

	"google.golang.org/grpc"
)

// Client implements cache.Service against a remote cache server.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(address string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := rpc.Dial(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cache service: %w", err)
	}

	return &Client{conn: conn}, nil
}

func (c *Client) Lookup(ctx context.Context, p cache.Partition, conv completion.Conversation) (string, bool, error) {
	resp := new(LookupResponse)
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/Lookup", &LookupRequest{
		Prefix:   p.Prefix,
		UserID:   p.UserID,
		Messages: conv,
	}, resp)
	if err != nil {
		return "", false, fmt.Errorf("failed to lookup cache: %w", err)
	}

	if resp.Error != "" {
		return "", false, fmt.Errorf("cache service error: %s", resp.Error)
	}

	return resp.Answer, resp.Hit, nil
}

func (c *Client) Update(ctx context.Context, p cache.Partition, conv completion.Conversation, answer string) error {
	resp := new(UpdateResponse)
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/Update", &UpdateRequest{
		Prefix:   p.Prefix,
		UserID:   p.UserID,
		Messages: conv,
		Answer:   answer,
	}, resp)
	if err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}

	if resp.Error != "" {
		return fmt.Errorf("cache service error: %s", resp.Error)
	}

	return nil
}

// Shutdown closes the connection; the remote cache keeps running.
func (c *Client) Shutdown() {
	_ = c.conn.Close()
}
