package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	cachefactory "assistgen/cache/factory"
	"assistgen/completion"
	"assistgen/completion/factory"
	"assistgen/completion/openai"
	"assistgen/config"
	embeddingfactory "assistgen/embedding/factory"
	"assistgen/gateway"
	"assistgen/generation"
	"assistgen/logging"
	"assistgen/replay"
	"assistgen/search"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func serve(ctx context.Context, envFile, configFile string) error {
	cfg, err := config.Load(envFile, configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emb, closeEmb, err := embeddingfactory.New(cfg.Embedding)
	if err != nil {
		return err
	}
	defer func() { _ = closeEmb() }()

	store, err := cachefactory.New(ctx, cfg, emb, log)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	if store != nil {
		defer store.Shutdown()
	}

	chatProvider, err := factory.New(providerOptions(cfg, cfg.ChatService, cfg.Ollama.ChatModel, log))
	if err != nil {
		return fmt.Errorf("init chat service: %w", err)
	}
	defer closeProvider(chatProvider)
	reasonProvider, err := factory.New(providerOptions(cfg, cfg.ReasonService, cfg.Ollama.ReasonModel, log))
	if err != nil {
		return fmt.Errorf("init reason service: %w", err)
	}
	defer closeProvider(reasonProvider)

	engine := replay.New(cfg.Replay.Width, cfg.Replay.Interval)
	srv := gateway.New(gateway.Options{
		Chat:      generation.New(store, chatProvider, engine, log.Named(gateway.PrefixChat)),
		Reason:    generation.New(store, reasonProvider, engine, log.Named(gateway.PrefixReason)),
		Search:    newSearch(cfg, chatProvider, log),
		StaticDir: cfg.StaticDir,
		DebugMode: cfg.DebugMode,
		Logger:    log.Named("http"),
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting gateway",
			zap.String("addr", cfg.Listen),
			zap.String("chat", chatProvider.Name()),
			zap.String("reason", reasonProvider.Name()),
			zap.String("cache", cfg.Cache.Backend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down gateway")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func providerOptions(cfg *config.Config, service, ollamaModel string, log *zap.Logger) factory.Options {
	return factory.Options{
		Type:            factory.ServiceType(service),
		DeepseekBaseURL: cfg.Deepseek.BaseURL,
		DeepseekAPIKey:  cfg.Deepseek.APIKey,
		DeepseekModel:   cfg.Deepseek.Model,
		OllamaBaseURL:   cfg.Ollama.BaseURL,
		OllamaModel:     ollamaModel,
		GRPCAddr:        cfg.Completion.GRPCAddr,
		Logger:          log,
	}
}

// closeProvider releases providers that hold a connection.
func closeProvider(p completion.Provider) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}

// newSearch answers with Deepseek when it is configured, since it supports
// tool calls, and with the chat provider otherwise.
func newSearch(cfg *config.Config, chat completion.Provider, log *zap.Logger) gateway.SearchStreamer {
	if cfg.SerpAPIKey == "" {
		log.Warn("SERPAPI_KEY is not set, /search is disabled")
		return nil
	}
	serp, err := search.NewSerpAPI(cfg.SerpAPIKey, search.WithSerpLogger(log.Named("serpapi")))
	if err != nil {
		log.Error("fail to init search", zap.Error(err))
		return nil
	}

	var llm completion.Service = chat
	var tools completion.ToolCaller
	if cfg.Deepseek.APIKey != "" {
		ds := openai.New(cfg.Deepseek.BaseURL, cfg.Deepseek.APIKey, cfg.Deepseek.Model, openai.WithLogger(log.Named("deepseek")))
		llm, tools = ds, ds
	} else if tc, ok := chat.(completion.ToolCaller); ok {
		tools = tc
	}
	return search.NewService(serp, llm, tools, log.Named("search"))
}
