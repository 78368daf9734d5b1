package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cachefactory "assistgen/cache/factory"
	cachegrpc "assistgen/cache/grpc"
	"assistgen/config"
	embeddingfactory "assistgen/embedding/factory"
	"assistgen/logging"
	"assistgen/rpc"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var envFile, configFile string

	root := &cobra.Command{
		Use:   "cache",
		Short: "Serve the configured cache backend over gRPC",
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
	switch cfg.Cache.Backend {
	case config.CacheGRPC, config.CacheNone:
		return fmt.Errorf("cache server cannot serve backend %q", cfg.Cache.Backend)
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emb, closeEmb, err := embeddingfactory.New(cfg.Embedding)
	if err != nil {
		return err
	}
	defer func() { _ = closeEmb() }()

	cacheSvc, err := cachefactory.New(ctx, cfg, emb, log)
	if err != nil {
		return fmt.Errorf("failed to create cache service: %w", err)
	}
	defer cacheSvc.Shutdown()

	s := rpc.NewServer(log.Named("grpc"))
	cachegrpc.RegisterCacheServer(s, cachegrpc.NewServer(cacheSvc, log.Named("grpc")))
	s.MarkServing(cachegrpc.ServiceName)

	log.Info("starting cache server",
		zap.String("addr", cfg.Cache.GRPCListen),
		zap.String("backend", cfg.Cache.Backend))
	return s.ListenAndServe(ctx, cfg.Cache.GRPCListen)
}
