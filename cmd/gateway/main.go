package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var envFile, configFile string

	root := &cobra.Command{
		Use:     "gateway",
		Short:   "Streaming LLM gateway with a semantic response cache",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFile, configFile)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment when present")
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional YAML config file")

	root.AddCommand(
		newServeCmd(&envFile, &configFile),
		newConfigCmd(&envFile, &configFile),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd(envFile, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *envFile, *configFile)
		},
	}
}

func newConfigCmd(envFile, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConfig(cmd.OutOrStdout(), *envFile, *configFile)
		},
	}
}
