// Package factory picks the concrete provider for a logical role once, at
// process start.
package factory

import (
	"fmt"
	"net/http"

	"assistgen/completion"
	completiongrpc "assistgen/completion/grpc"
	"assistgen/completion/ollama"
	"assistgen/completion/openai"

	"go.uber.org/zap"
)

type ServiceType string

const (
	ServiceDeepseek ServiceType = "deepseek"
	ServiceOllama   ServiceType = "ollama"
	ServiceGRPC     ServiceType = "grpc"
)

// Options holds resolved settings for both provider families.
type Options struct {
	Type ServiceType

	DeepseekBaseURL string
	DeepseekAPIKey  string
	DeepseekModel   string

	OllamaBaseURL string
	OllamaModel   string

	// GRPCAddr is a completion server started with cmd/completion.
	GRPCAddr string

	HTTPClient *http.Client
	Logger     *zap.Logger
}

func New(opts Options) (completion.Provider, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	switch opts.Type {
	case ServiceDeepseek:
		if opts.DeepseekBaseURL == "" || opts.DeepseekModel == "" {
			return nil, fmt.Errorf("deepseek provider needs base url and model")
		}
		return openai.New(opts.DeepseekBaseURL, opts.DeepseekAPIKey, opts.DeepseekModel,
			openai.WithHTTPClient(client),
			openai.WithLogger(log.Named("deepseek")),
		), nil
	case ServiceOllama:
		if opts.OllamaBaseURL == "" || opts.OllamaModel == "" {
			return nil, fmt.Errorf("ollama provider needs base url and model")
		}
		return ollama.New(opts.OllamaBaseURL, opts.OllamaModel,
			ollama.WithHTTPClient(client),
			ollama.WithLogger(log.Named("ollama")),
		), nil
	case ServiceGRPC:
		if opts.GRPCAddr == "" {
			return nil, fmt.Errorf("grpc provider needs an address")
		}
		return completiongrpc.NewClient(opts.GRPCAddr)
	default:
		return nil, fmt.Errorf("unknown service type %q", opts.Type)
	}
}
