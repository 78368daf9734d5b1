package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"assistgen/completion"

	"go.uber.org/zap"
)

const providerName = "openai"

// Service talks to any OpenAI-compatible chat completions endpoint
// (DeepSeek, SiliconFlow, OpenAI itself).
type Service struct {
	client      *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature *float64
	log         *zap.Logger
}

type Option func(*Service)

func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.client = client }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = &t }
}

// New builds a client for baseURL, e.g. "https://api.deepseek.com/v1".
func New(baseURL string, apiKey string, model string, opts ...Option) *Service {
	s := &Service{
		client:   &http.Client{},
		endpoint: strings.TrimRight(baseURL, "/") + "/chat/completions",
		apiKey:   apiKey,
		model:    model,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Name() string { return providerName }

func (s *Service) Model() string { return s.model }

// GetStream implements completion.Service
func (s *Service) GetStream(ctx context.Context, conv completion.Conversation) (<-chan *completion.CompletionChunk, error) {
	upstreamReq, err := s.buildUpstreamRequest(ctx, ChatCompletionRequest{
		Model:       s.model,
		Messages:    toMessages(conv),
		Temperature: s.temperature,
		Stream:      true,
	}, "text/event-stream")
	if err != nil {
		return nil, fmt.Errorf("fail to build upstream request: %w", err)
	}

	resp, err := s.client.Do(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("%w: fail to call upstream api: %w", completion.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &completion.UpstreamError{Provider: providerName, Status: resp.StatusCode, Body: string(bodyBytes)}
	}

	ch := make(chan *completion.CompletionChunk, 10)

	// parse SSE and add content to channel
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		var totalTokens int

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					completion.Send(ctx, ch, completion.DoneChunk(totalTokens))
					return
				}
				completion.Send(ctx, ch, completion.ErrorChunk(
					fmt.Errorf("%w: failed to read from upstream: %w", completion.ErrStreamInterrupted, err)))
				return
			}

			line = bytes.TrimRight(line, "\r\n")
			if len(line) == 0 {
				if err != nil {
					completion.Send(ctx, ch, completion.DoneChunk(totalTokens))
					return
				}
				continue
			}

			content, done, tokenUsage, perr := parseSSELine(line)
			if perr != nil {
				s.log.Debug("skip malformed upstream line", zap.Error(perr))
			}
			if tokenUsage > 0 {
				totalTokens = tokenUsage
			}

			if content != "" {
				if !completion.Send(ctx, ch, completion.ContentChunk(content)) {
					return
				}
			}

			if done || err != nil {
				completion.Send(ctx, ch, completion.DoneChunk(totalTokens))
				return
			}
		}
	}()

	return ch, nil
}

// Generate implements completion.Generator
func (s *Service) Generate(ctx context.Context, conv completion.Conversation) (string, error) {
	resp, err := s.complete(ctx, ChatCompletionRequest{
		Model:       s.model,
		Messages:    toMessages(conv),
		Temperature: s.temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// CallTools implements completion.ToolCaller
func (s *Service) CallTools(ctx context.Context, conv completion.Conversation, tools []completion.Tool, forced string) (*completion.ToolResponse, error) {
	req := ChatCompletionRequest{
		Model:    s.model,
		Messages: toMessages(conv),
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, ToolSpec{
			Type: "function",
			Function: FunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if forced != "" {
		choice := ToolChoice{Type: "function"}
		choice.Function.Name = forced
		req.ToolChoice = choice
	}

	resp, err := s.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	msg := resp.Choices[0].Message
	out := &completion.ToolResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, completion.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (s *Service) complete(ctx context.Context, body ChatCompletionRequest) (*ChatCompletionResponse, error) {
	req, err := s.buildUpstreamRequest(ctx, body, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fail to build upstream request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fail to call upstream api: %w", completion.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &completion.UpstreamError{Provider: providerName, Status: resp.StatusCode, Body: string(respBody)}
	}
	if err != nil {
		return nil, fmt.Errorf("fail to read upstream response body: %w", err)
	}

	var out ChatCompletionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("fail to unmarshal upstream response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in upstream response")
	}
	return &out, nil
}

func (s *Service) buildUpstreamRequest(ctx context.Context, body ChatCompletionRequest, accept string) (*http.Request, error) {
	reqBodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("fail to marshal openai request: %w", err)
	}

	s.log.Debug("sending upstream request", zap.String("endpoint", s.endpoint), zap.Int("bytes", len(reqBodyBytes)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fail to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	return req, nil
}

func toMessages(conv completion.Conversation) []Message {
	out := make([]Message, 0, len(conv))
	for _, m := range conv {
		out = append(out, Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// parseSSELine parses a single SSE line and returns (content, isDone, tokenUsage, error)
func parseSSELine(line []byte) (string, bool, int, error) {
	// comments and non-data fields (event:, id:, retry:) carry no content
	if line[0] == ':' || !bytes.HasPrefix(line, []byte("data:")) {
		return "", false, 0, nil
	}

	jsonBytes := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))

	if bytes.Equal(jsonBytes, []byte("[DONE]")) {
		return "", true, 0, nil
	}

	var resp ChatStreamResponse
	if err := json.Unmarshal(jsonBytes, &resp); err != nil {
		return "", false, 0, fmt.Errorf("fail to unmarshal SSE json: %w", err)
	}

	// usage arrives in its own block at the end when requested
	if resp.Usage != nil && resp.Usage.TotalTokens != 0 && len(resp.Choices) == 0 {
		return "", false, resp.Usage.TotalTokens, nil
	}

	if len(resp.Choices) == 0 {
		return "", false, 0, nil
	}

	choice := resp.Choices[0]
	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}

	// the final block may carry both the last delta and the finish reason
	return choice.Delta.Content, choice.FinishReason != "", tokens, nil
}
