package project

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cxxindex/internal/preproc"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	return r
}

func names(ps []*Project) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func TestCreateGetList(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	p, err := r.Create("core", "/src/core/", nil, preproc.ScannerInfo{IncludePaths: []string{"/src/core/include"}})
	require.NoError(t, err)
	assert.Equal(t, "/src/core", p.Location)
	assert.Len(t, p.ID, 36)

	_, err = r.Create("core", "/elsewhere", nil, preproc.ScannerInfo{})
	assert.ErrorIs(t, err, ErrExists)

	_, err = r.Create("app", "/src/app", []string{"core"}, preproc.ScannerInfo{})
	require.NoError(t, err)

	got, err := r.Get("core")
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, []string{"app", "core"}, names(r.List()))

	_, err = r.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistryPersists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)
	p, err := r.Create("core", "/src/core", []string{"base"}, preproc.ScannerInfo{Defines: map[string]string{"X": "1"}})
	require.NoError(t, err)

	r2, err := Open(dir)
	require.NoError(t, err)
	got, err := r2.Get("core")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, []string{"base"}, got.References)
	assert.Equal(t, "1", got.Scanner.Defines["X"])
	assert.Equal(t, r.FragmentPath(p), r2.FragmentPath(got))
}

func TestDeleteAndRecreateGetsNewFragment(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	first, err := r.Create("p", "/src/p", nil, preproc.ScannerInfo{})
	require.NoError(t, err)

	deleted, err := r.Delete("p")
	require.NoError(t, err)
	assert.Equal(t, first.ID, deleted.ID)
	_, err = r.Delete("p")
	assert.ErrorIs(t, err, ErrNotFound)

	second, err := r.Create("p", "/src/p", nil, preproc.ScannerInfo{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, r.FragmentPath(first), r.FragmentPath(second))
}

func TestMoveKeepsIdentity(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	p, err := r.Create("p", "/old/p", nil, preproc.ScannerInfo{})
	require.NoError(t, err)

	old, err := r.Move("p", "/new/p")
	require.NoError(t, err)
	assert.Equal(t, "/old/p", old.Location)

	got, err := r.Get("p")
	require.NoError(t, err)
	assert.Equal(t, "/new/p", got.Location)
	assert.Equal(t, p.ID, got.ID)

	_, err = r.Move("q", "/x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenameUpdatesReferences(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	core, err := r.Create("core", "/core", nil, preproc.ScannerInfo{})
	require.NoError(t, err)
	_, err = r.Create("app", "/app", []string{"core"}, preproc.ScannerInfo{})
	require.NoError(t, err)

	require.NoError(t, r.Rename("core", "base"))
	assert.ErrorIs(t, r.Rename("core", "x"), ErrNotFound)
	assert.ErrorIs(t, r.Rename("app", "base"), ErrExists)

	base, err := r.Get("base")
	require.NoError(t, err)
	assert.Equal(t, core.ID, base.ID)
	app, err := r.Get("app")
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, app.References)
}

func TestClosure(t *testing.T) {
	t.Parallel()
	// util <- core <- app <- plugin; tools -> core; orphan refers to nothing.
	r := newTestRegistry(t)
	for _, p := range []struct {
		name string
		refs []string
	}{
		{"util", nil},
		{"core", []string{"util"}},
		{"app", []string{"core", "missing"}},
		{"plugin", []string{"app"}},
		{"tools", []string{"core"}},
		{"orphan", nil},
	} {
		_, err := r.Create(p.name, "/"+p.name, p.refs, preproc.ScannerInfo{})
		require.NoError(t, err)
	}

	tests := []struct {
		opt  DependencyOption
		want []string
	}{
		{None, []string{"app"}},
		{AddDependencies, []string{"app", "core", "util"}},
		{AddDependent, []string{"app", "plugin"}},
		{Both, []string{"app", "core", "util", "plugin"}},
	}
	for _, tt := range tests {
		t.Run(tt.opt.String(), func(t *testing.T) {
			got, err := r.Closure("app", tt.opt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}

	got, err := r.Closure("core", AddDependent)
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "app", "tools", "plugin"}, names(got))

	_, err = r.Closure("nope", None)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseDependencyOption(t *testing.T) {
	t.Parallel()
	for o := None; o <= Both; o++ {
		got, err := ParseDependencyOption(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, got)
	}
	_, err := ParseDependencyOption("all")
	assert.Error(t, err)
}

func TestSetReferences(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	_, err := r.Create("a", "/a", nil, preproc.ScannerInfo{})
	require.NoError(t, err)
	require.NoError(t, r.SetReferences("a", []string{"b"}))
	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got.References)
	assert.ErrorIs(t, r.SetReferences("z", nil), ErrNotFound)
}
