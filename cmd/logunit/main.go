package main

import (
	"context"
	"fmt"
	"os"

	"github.com/devrev/pairdb/logunit/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()
	rootCmd := &cobra.Command{
		Use:           "logunit",
		Short:         "PairDB log unit: the storage server of the shared log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(Serve(ctx))
	rootCmd.AddCommand(Inspect())
	rootCmd.AddCommand(Read(ctx))
	rootCmd.AddCommand(Trim(ctx))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the logging configuration
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = level
	return zapConfig.Build()
}

// cliLogger is used by the one-shot commands
func cliLogger() *zap.Logger {
	logger, err := newLogger(config.LoggingConfig{Level: "warn", Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
