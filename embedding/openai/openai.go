// Package openai calls an OpenAI-compatible /v1/embeddings endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/embeddings"
	defaultModel    = "text-embedding-3-small"
)

var ErrMissingAPIKey = errors.New("embedding api key is not set")

type embedRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	EncodingFormat string `json:"encoding_format"`
	Dimensions     int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Service turns text into vectors with a remote embedding model.
type Service struct {
	endpoint   string
	model      string
	apiKey     string
	dimensions int
	httpClient *http.Client
	log        *zap.Logger
}

type Option func(*Service)

func WithEndpoint(endpoint string) Option {
	return func(s *Service) {
		if endpoint != "" {
			s.endpoint = endpoint
		}
	}
}

func WithModel(model string) Option {
	return func(s *Service) {
		if model != "" {
			s.model = model
		}
	}
}

// WithDimensions asks the model for vectors of length n and rejects replies
// of any other length. Zero keeps the model's native size.
func WithDimensions(n int) Option {
	return func(s *Service) { s.dimensions = n }
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.httpClient = client }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

func New(apiKey string, opts ...Option) (*Service, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	s := &Service{
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Get(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{
		Model:          s.model,
		Input:          text,
		EncodingFormat: "float",
		Dimensions:     s.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("fail to encode embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("fail to build embedding request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fail to call embedding endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fail to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding endpoint returned status %d: %s", resp.StatusCode, body)
	}

	var data embedResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("fail to parse embedding response: %w", err)
	}
	if len(data.Data) == 0 {
		return nil, errors.New("empty embedding response data")
	}
	vec := data.Data[0].Embedding
	if s.dimensions > 0 && len(vec) != s.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), s.dimensions)
	}
	s.log.Debug("embedded text",
		zap.String("model", s.model),
		zap.Int("chars", len(text)),
		zap.Int("tokens", data.Usage.TotalTokens),
		zap.Duration("took", time.Since(start)),
	)
	return vec, nil
}
