package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/preproc"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.IndexUnusedHeaders)
	assert.Equal(t, binding.LinkageCPP, cfg.HeaderLinkage())
	assert.Equal(t, slog.LevelWarn, cfg.Level())
}

func TestLoad_OverridesKeepOtherDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/cxxindex
workers: 3
join_timeout: 5s
default_header_linkage: c
index_unused_headers: false
heuristic_include_resolution: true
log_level: debug
projects:
  core:
    include_paths: [/src/core/include]
    system_include_paths: [/usr/include]
    include_files: [/src/core/config.h]
    defines:
      NDEBUG: "1"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/cxxindex", cfg.DataDir)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.JoinTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Debounce, "default kept")
	assert.Equal(t, 64, cfg.MaxResolutionDepth, "default kept")
	assert.Equal(t, binding.LinkageC, cfg.HeaderLinkage())
	assert.False(t, cfg.IndexUnusedHeaders)
	assert.True(t, cfg.HeuristicIncludeResolution)
	assert.Equal(t, slog.LevelDebug, cfg.Level())

	sc := cfg.Scanner("core")
	assert.Equal(t, []string{"/src/core/include"}, sc.IncludePaths)
	assert.Equal(t, []string{"/usr/include"}, sc.SystemIncludePaths)
	assert.Equal(t, []string{"/src/core/config.h"}, sc.IncludeFiles)
	assert.Equal(t, "1", sc.Defines["NDEBUG"])
	assert.Equal(t, preproc.ScannerInfo{}, cfg.Scanner("other"))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "workers: [", "parse config"},
		{"negative workers", "workers: -1", "workers must not be negative"},
		{"bad linkage", "default_header_linkage: fortran", "unknown linkage"},
		{"bad level", "log_level: loud", "log_level"},
		{"empty data dir", "data_dir: \"\"", "data_dir is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Workers = 7
	cfg.Projects = map[string]preproc.ScannerInfo{"p": {IncludePaths: []string{"/inc"}}}
	path := filepath.Join(t.TempDir(), "nested", DefaultFile)

	require.NoError(t, Save(cfg, path))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Workers)
	assert.Equal(t, cfg.JoinTimeout, got.JoinTimeout)
	assert.Equal(t, cfg.DataDir, got.DataDir)
	assert.Equal(t, []string{"/inc"}, got.Scanner("p").IncludePaths)
}

func TestSave_RejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Workers = -2
	require.Error(t, Save(cfg, filepath.Join(t.TempDir(), DefaultFile)))
	require.Error(t, Save(nil, filepath.Join(t.TempDir(), DefaultFile)))
}

func TestDefaultDataDir_XDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg")
	assert.Equal(t, "/xdg/cxxindex", DefaultDataDir())
}
