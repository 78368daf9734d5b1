package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"assistgen/config"
	"assistgen/embedding"
	embeddinggrpc "assistgen/embedding/grpc"
	"assistgen/embedding/openai"
	"assistgen/logging"
	"assistgen/rpc"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var envFile, configFile string

	root := &cobra.Command{
		Use:   "embedding",
		Short: "Serve the embedding endpoint over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFile, configFile)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment when present")
	root.Flags().StringVarP(&configFile, "config", "c", "", "optional YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile, configFile string) error {
	cfg, err := config.Load(envFile, configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Embedding.APIKey == "" {
		return errors.New("EMBEDDING_API_KEY (or OPENAI_API_KEY) is not set")
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := openai.New(cfg.Embedding.APIKey,
		openai.WithEndpoint(cfg.Embedding.Endpoint),
		openai.WithModel(cfg.Embedding.Model),
		openai.WithDimensions(cfg.Embedding.Dimensions),
		openai.WithLogger(log.Named("embedding")),
	)
	if err != nil {
		return fmt.Errorf("init embedding client: %w", err)
	}
	svc := embedding.NewCoalesced(client)

	s := rpc.NewServer(log.Named("grpc"))
	embeddinggrpc.RegisterEmbeddingServer(s, embeddinggrpc.NewServer(svc, log.Named("grpc")))
	s.MarkServing(embeddinggrpc.ServiceName)

	log.Info("starting embedding server",
		zap.String("addr", cfg.Embedding.GRPCListen),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions))
	return s.ListenAndServe(ctx, cfg.Embedding.GRPCListen)
}
