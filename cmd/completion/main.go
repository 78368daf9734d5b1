package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"assistgen/completion/factory"
	completiongrpc "assistgen/completion/grpc"
	"assistgen/config"
	"assistgen/logging"
	"assistgen/rpc"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var envFile, configFile string

	root := &cobra.Command{
		Use:   "completion",
		Short: "Serve one completion provider over gRPC",
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
	if cfg.Completion.Service == config.ServiceGRPC {
		return fmt.Errorf("completion server cannot serve service %q", cfg.Completion.Service)
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := factory.New(factory.Options{
		Type:            factory.ServiceType(cfg.Completion.Service),
		DeepseekBaseURL: cfg.Deepseek.BaseURL,
		DeepseekAPIKey:  cfg.Deepseek.APIKey,
		DeepseekModel:   cfg.Deepseek.Model,
		OllamaBaseURL:   cfg.Ollama.BaseURL,
		OllamaModel:     cfg.Ollama.ChatModel,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("failed to create completion service: %w", err)
	}

	s := rpc.NewServer(log.Named("grpc"))
	completiongrpc.RegisterCompletionServer(s, completiongrpc.NewServer(provider, log.Named("grpc")))
	s.MarkServing(completiongrpc.ServiceName)

	log.Info("starting completion server",
		zap.String("addr", cfg.Completion.GRPCListen),
		zap.String("provider", provider.Name()))
	return s.ListenAndServe(ctx, cfg.Completion.GRPCListen)
}
