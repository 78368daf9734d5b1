package main

import (
	"fmt"
	"io"

	"assistgen/config"
)

func printConfig(w io.Writer, envFile, configFile string) error {
	cfg, err := config.Load(envFile, configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
