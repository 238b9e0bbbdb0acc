package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/cxxindex"
	"github.com/jward/cxxindex/internal/config"
)

var (
	flagConfig   string
	flagDataDir  string
	flagFormat   string
	flagLogLevel string
	flagWorkers  int
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "cxxindex",
	Short:         "Persistent cross translation unit index for C and C++",
	Long:          "cxxindex keeps one SQLite index fragment per project, updates it incrementally as files change, and answers symbol, reference, include and macro queries across projects.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run: prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: "+config.DefaultFile+" in the data directory)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text|lsp")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (overrides the config file)")
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", 0, "parallel parse workers per project (default: number of CPUs)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(watchCmd)
}

// loadConfig reads --config, or the default file of the data directory
// when it exists, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		dir := flagDataDir
		if dir == "" {
			dir = config.DefaultDataDir()
		}
		candidate := filepath.Join(dir, config.DefaultFile)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %s: %w", candidate, err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagWorkers > 0 {
		cfg.Workers = flagWorkers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openEngine opens the engine with the effective configuration and a
// stderr logger.
func openEngine() (*cxxindex.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	e, err := cxxindex.New(cxxindex.WithConfig(cfg), cxxindex.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return e, nil
}
