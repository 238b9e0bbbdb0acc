// Package config loads the YAML configuration of the index engine.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/preproc"
)

// DefaultFile is the configuration file looked for in the data directory.
const DefaultFile = "cxxindex.yaml"

// Config is the engine configuration. Keys missing from a file keep their
// defaults.
type Config struct {
	DataDir                    string                         `yaml:"data_dir"`
	Workers                    int                            `yaml:"workers"`
	MaxResolutionDepth         int                            `yaml:"max_resolution_depth"`
	AllowRecursionBindings     bool                           `yaml:"allow_recursion_bindings"`
	JoinTimeout                time.Duration                  `yaml:"join_timeout"`
	Debounce                   time.Duration                  `yaml:"debounce"`
	DefaultHeaderLinkage       string                         `yaml:"default_header_linkage"`
	IndexUnusedHeaders         bool                           `yaml:"index_unused_headers"`
	HeuristicIncludeResolution bool                           `yaml:"heuristic_include_resolution"`
	LogLevel                   string                         `yaml:"log_level"`
	Projects                   map[string]preproc.ScannerInfo `yaml:"projects,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:              DefaultDataDir(),
		MaxResolutionDepth:   64,
		JoinTimeout:          30 * time.Second,
		Debounce:             200 * time.Millisecond,
		DefaultHeaderLinkage: "c++",
		IndexUnusedHeaders:   true,
		LogLevel:             "warn",
	}
}

// DefaultDataDir is where fragments and the project registry live unless
// configured otherwise.
func DefaultDataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "cxxindex")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cxxindex"
	}
	return filepath.Join(home, ".local", "share", "cxxindex")
}

// Load reads the configuration at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("save config: nil configuration")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save config %s: %w", path, err)
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.MaxResolutionDepth < 0 {
		errs = append(errs, fmt.Errorf("max_resolution_depth must not be negative, got %d", c.MaxResolutionDepth))
	}
	if c.JoinTimeout < 0 || c.Debounce < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if _, err := parseLinkage(c.DefaultHeaderLinkage); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HeaderLinkage returns the linkage headers indexed on their own are
// parsed with.
func (c *Config) HeaderLinkage() binding.Linkage {
	l, err := parseLinkage(c.DefaultHeaderLinkage)
	if err != nil {
		return binding.LinkageCPP
	}
	return l
}

// Level returns the configured log level, Warn when unset or invalid.
func (c *Config) Level() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return l
}

// Scanner returns the scanner info of a project, or the zero value.
func (c *Config) Scanner(project string) preproc.ScannerInfo {
	return c.Projects[project]
}

func parseLinkage(s string) (binding.Linkage, error) {
	switch strings.ToLower(s) {
	case "", "c++", "cpp", "cxx":
		return binding.LinkageCPP, nil
	case "c":
		return binding.LinkageC, nil
	}
	return binding.LinkageNone, fmt.Errorf("default_header_linkage: unknown linkage %q", s)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
