package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cxxindex"
	"github.com/jward/cxxindex/internal/config"
)

// execute runs the root command in process with args.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestCLI_CreateIndexQuery(t *testing.T) {
	resetFlags(t)
	data := t.TempDir()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "lib.h"), []byte("namespace lib { int answer(); }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "lib.cpp"), []byte("#include \"lib.h\"\nint lib::answer() { return 42; }\n"), 0o644))

	require.NoError(t, execute(t, "--data-dir", data, "--format", "json", "project", "create", "demo", src))
	require.NoError(t, execute(t, "--data-dir", data, "index", "demo"))
	require.NoError(t, execute(t, "--data-dir", data, "query", "bindings", "--project", "demo", "lib::answer"))

	cfg := config.Default()
	cfg.DataDir = data
	e, err := cxxindex.New(cxxindex.WithConfig(cfg))
	require.NoError(t, err)
	defer e.Close()

	q, err := e.Query("demo", cxxindex.ProjectOnly)
	require.NoError(t, err)
	defs, err := q.Definitions(context.Background(), "::lib::answer")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, filepath.Join(src, "lib.cpp"), defs[0].File)
}

func TestCLI_QueryUnknownProject(t *testing.T) {
	resetFlags(t)
	data := t.TempDir()
	err := execute(t, "--data-dir", data, "query", "bindings", "--project", "ghost", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, cxxindex.ErrProjectNotFound)
}

func TestCLI_IndexCreateAt(t *testing.T) {
	resetFlags(t)
	data := t.TempDir()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "m.c"), []byte("int main(void) { return 0; }\n"), 0o644))

	require.NoError(t, execute(t, "--data-dir", data, "index", "--create-at", src, "cproj"))

	cfg := config.Default()
	cfg.DataDir = data
	e, err := cxxindex.New(cxxindex.WithConfig(cfg))
	require.NoError(t, err)
	defer e.Close()
	p, err := e.Project("cproj")
	require.NoError(t, err)
	assert.Equal(t, src, p.Location)
}
