package ollama

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

const (
	providerName       = "ollama"
	defaultTemperature = 0.7
	// keep the model loaded between requests
	keepAliveForever = -1
)

// Service streams from a local Ollama server through its native /api/chat
// endpoint.
type Service struct {
	client      *http.Client
	endpoint    string
	model       string
	temperature float64
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
	return func(s *Service) { s.temperature = t }
}

func New(baseURL string, model string, opts ...Option) *Service {
	s := &Service{
		client:      &http.Client{},
		endpoint:    strings.TrimRight(baseURL, "/") + "/api/chat",
		model:       model,
		temperature: defaultTemperature,
		log:         zap.NewNop(),
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
	resp, err := s.post(ctx, conv, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan *completion.CompletionChunk, 10)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk ChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				s.log.Debug("skip malformed upstream line", zap.Error(err))
				continue
			}
			if chunk.Error != "" {
				completion.Send(ctx, ch, completion.ErrorChunk(
					fmt.Errorf("%w: %s", completion.ErrStreamInterrupted, chunk.Error)))
				return
			}

			if chunk.Message.Content != "" {
				if !completion.Send(ctx, ch, completion.ContentChunk(chunk.Message.Content)) {
					return
				}
			}

			if chunk.Done {
				completion.Send(ctx, ch, completion.DoneChunk(chunk.PromptEvalCount+chunk.EvalCount))
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := scanner.Err(); err != nil {
			completion.Send(ctx, ch, completion.ErrorChunk(
				fmt.Errorf("%w: failed to read from upstream: %w", completion.ErrStreamInterrupted, err)))
			return
		}
		// body ended without a done line
		completion.Send(ctx, ch, completion.DoneChunk(0))
	}()

	return ch, nil
}

// Generate implements completion.Generator
func (s *Service) Generate(ctx context.Context, conv completion.Conversation) (string, error) {
	resp, err := s.post(ctx, conv, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("fail to decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", errors.New(out.Error)
	}
	return out.Message.Content, nil
}

func (s *Service) post(ctx context.Context, conv completion.Conversation, stream bool) (*http.Response, error) {
	body := ChatRequest{
		Model:     s.model,
		Messages:  make([]Message, 0, len(conv)),
		Stream:    stream,
		KeepAlive: keepAliveForever,
		Options:   Options{Temperature: s.temperature},
	}
	for _, m := range conv {
		body.Messages = append(body.Messages, Message{Role: string(m.Role), Content: m.Content})
	}

	reqBodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("fail to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fail to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	s.log.Debug("sending upstream request", zap.String("endpoint", s.endpoint), zap.String("model", s.model), zap.Bool("stream", stream))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fail to call ollama: %w", completion.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &completion.UpstreamError{Provider: providerName, Status: resp.StatusCode, Body: string(bodyBytes)}
	}
	return resp, nil
}
