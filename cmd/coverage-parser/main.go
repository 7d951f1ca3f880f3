// coverage-parser - Insurance clause parsing and payout projection.
// Copyright (c) 2026 insurelab
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/insurelab/coverage-parser/internal/config"
	"github.com/insurelab/coverage-parser/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coverage-parser",
		Short:         "Parse insurance benefit clauses into payout rules and projected amounts",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file (overrides "+config.EnvConfigPath+")")

	root.AddCommand(newServeCmd(), newParseCmd(), newBatchCmd())
	return root
}

// loadConfig resolves configuration for a subcommand and installs the
// default logger writing to w.
func loadConfig(cmd *cobra.Command, w io.Writer) (*domain.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		os.Setenv(config.EnvConfigPath, path)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	opts := &slog.HandlerOptions{Level: config.LogLevel(cfg.Logging)}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"model_provider", cfg.Model.Provider,
		"model", cfg.Model.Model,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)
	return cfg, nil
}
