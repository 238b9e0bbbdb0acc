package cxxindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cxxindex/internal/config"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Workers = 2
	e, err := New(append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// writeFiles writes files relative to root and returns root.
func writeFiles(t *testing.T, root string, files map[string]string) string {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func indexed(t *testing.T, e *Engine, name string) {
	t.Helper()
	require.NoError(t, e.IndexProject(context.Background(), name))
	require.True(t, e.Join(context.Background(), 20*time.Second), "indexing did not finish")
	require.NoError(t, e.Err())
}

func names(t *testing.T, e *Engine, project, pattern string, opt DependencyOption) []string {
	t.Helper()
	q, err := e.Query(project, opt)
	require.NoError(t, err)
	res, err := q.Bindings(context.Background(), pattern, SearchOptions{}, Sort{}, Pagination{Limit: maxLimit})
	require.NoError(t, err)
	out := make([]string, 0, len(res.Items))
	for _, s := range res.Items {
		out = append(out, s.Qualified)
	}
	return out
}

func TestNew_CreatesRegistry(t *testing.T) {
	dir := t.TempDir()
	e, err := New(WithDataDir(dir))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, dir, e.Config().DataDir)
	assert.Empty(t, e.Projects())
	assert.DirExists(t, filepath.Join(dir, "fragments"))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Workers = -1
	_, err := New(WithConfig(cfg))
	require.Error(t, err)
}

func TestWithConfig_CopiesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	e, err := New(WithConfig(cfg), WithWorkers(3))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 3, e.Config().Workers)
	assert.Equal(t, 0, cfg.Workers, "caller's config is not modified")
}

func TestCreateProject_Duplicate(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateProject("p", t.TempDir(), nil, nil)
	require.NoError(t, err)
	_, err = e.CreateProject("p", t.TempDir(), nil, nil)
	require.ErrorIs(t, err, ErrProjectExists)

	_, err = e.Query("missing", ProjectOnly)
	require.ErrorIs(t, err, ErrProjectNotFound)
}

func TestCreateProject_ScannerFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Projects = map[string]ScannerInfo{"p": {Defines: map[string]string{"X": "1"}}}
	e, err := New(WithConfig(cfg))
	require.NoError(t, err)
	defer e.Close()

	p, err := e.CreateProject("p", t.TempDir(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", p.Scanner.Defines["X"])

	own := &ScannerInfo{IncludePaths: []string{"/inc"}}
	p, err = e.CreateProject("q", t.TempDir(), nil, own)
	require.NoError(t, err)
	assert.Equal(t, []string{"/inc"}, p.Scanner.IncludePaths)
}

func TestIndexProject_HeaderChangeReindexesIncluders(t *testing.T) {
	e := newTestEngine(t)
	root := writeFiles(t, t.TempDir(), map[string]string{
		"a.h":   "class A { void one(); void two(); };\n",
		"a.cpp": "#include \"a.h\"\nA a;\n",
	})
	_, err := e.CreateProject("p", root, nil, nil)
	require.NoError(t, err)
	indexed(t, e, "p")

	assert.ElementsMatch(t, []string{"A::one", "A::two"}, names(t, e, "p", "A::.*", ProjectOnly))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.h"), []byte("class A { void one(); void two(); void three(); };\n"), 0644))
	require.NoError(t, e.Schedule("p", filepath.Join(root, "a.h")))
	require.True(t, e.Join(context.Background(), 20*time.Second))
	require.NoError(t, e.Err())

	assert.ElementsMatch(t, []string{"A::one", "A::two", "A::three"}, names(t, e, "p", "A::.*", ProjectOnly))
}

func TestIndexProject_UnchangedIsNoop(t *testing.T) {
	e := newTestEngine(t)
	root := writeFiles(t, t.TempDir(), map[string]string{
		"a.cpp": "int x;\n",
	})
	_, err := e.CreateProject("p", root, nil, nil)
	require.NoError(t, err)
	indexed(t, e, "p")

	c, err := e.Coordinator("p")
	require.NoError(t, err)
	gen := c.Fragment().Generation()
	indexed(t, e, "p")
	assert.Equal(t, gen, c.Fragment().Generation())
}

func TestDeleteProject_RecreateStartsEmpty(t *testing.T) {
	e := newTestEngine(t)
	root := writeFiles(t, t.TempDir(), map[string]string{
		"a.cpp": "int declared_once;\n",
	})
	p, err := e.CreateProject("p", root, nil, nil)
	require.NoError(t, err)
	indexed(t, e, "p")
	require.Equal(t, []string{"declared_once"}, names(t, e, "p", "declared_once", ProjectOnly))

	require.NoError(t, e.DeleteProject("p"))
	_, err = os.Stat(e.reg.FragmentPath(p))
	assert.ErrorIs(t, err, os.ErrNotExist)

	p2, err := e.CreateProject("p", root, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, p2.ID)
	assert.Empty(t, names(t, e, "p", "declared_once", ProjectOnly), "deleted content does not come back")

	indexed(t, e, "p")
	assert.Equal(t, []string{"declared_once"}, names(t, e, "p", "declared_once", ProjectOnly))
}

func TestMoveProject_KeepsContent(t *testing.T) {
	e := newTestEngine(t)
	base := t.TempDir()
	oldRoot := writeFiles(t, filepath.Join(base, "old"), map[string]string{
		"w.h":   "struct Widget { int size; };\n",
		"w.cpp": "#include \"w.h\"\nWidget w;\n",
	})
	_, err := e.CreateProject("p", oldRoot, nil, nil)
	require.NoError(t, err)
	indexed(t, e, "p")

	newRoot := filepath.Join(base, "new")
	require.NoError(t, os.Rename(oldRoot, newRoot))
	require.NoError(t, e.MoveProject(context.Background(), "p", newRoot))

	p, err := e.Project("p")
	require.NoError(t, err)
	assert.Equal(t, newRoot, p.Location)

	q, err := e.Query("p", ProjectOnly)
	require.NoError(t, err)
	res, err := q.Bindings(context.Background(), "Widget", SearchOptions{}, Sort{}, Pagination{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, filepath.Join(newRoot, "w.h"), res.Items[0].Location.File)
	assert.Equal(t, 0, res.Items[0].Location.StartLine)

	files, err := q.Files(context.Background(), filepath.Join(newRoot, "w.cpp"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].Source)

	c, err := e.Coordinator("p")
	require.NoError(t, err)
	gen := c.Fragment().Generation()
	indexed(t, e, "p")
	assert.Equal(t, gen, c.Fragment().Generation(), "moved content is up to date")
}

func TestRenameProject_KeepsContent(t *testing.T) {
	e := newTestEngine(t)
	root := writeFiles(t, t.TempDir(), map[string]string{"a.cpp": "int kept;\n"})
	_, err := e.CreateProject("p", root, nil, nil)
	require.NoError(t, err)
	indexed(t, e, "p")

	require.NoError(t, e.RenameProject("p", "renamed"))
	assert.Equal(t, []string{"kept"}, names(t, e, "renamed", "kept", ProjectOnly))
	_, err = e.Project("p")
	require.ErrorIs(t, err, ErrProjectNotFound)
}

func TestDependencyOptions(t *testing.T) {
	e := newTestEngine(t)
	base := t.TempDir()
	libRoot := writeFiles(t, filepath.Join(base, "lib"), map[string]string{
		"w.h":   "struct Widget { int size; };\n",
		"w.cpp": "#include \"w.h\"\nint lib_only;\n",
	})
	appRoot := writeFiles(t, filepath.Join(base, "app"), map[string]string{
		"main.cpp": "#include \"w.h\"\nWidget app_widget;\n",
	})
	_, err := e.CreateProject("lib", libRoot, nil, nil)
	require.NoError(t, err)
	_, err = e.CreateProject("app", appRoot, []string{"lib"}, &ScannerInfo{IncludePaths: []string{libRoot}})
	require.NoError(t, err)
	indexed(t, e, "lib")
	indexed(t, e, "app")

	tests := []struct {
		project string
		opt     DependencyOption
		want    []string
	}{
		{"app", ProjectOnly, []string{"Widget", "app_widget"}},
		{"app", IncludeDependencies, []string{"Widget", "app_widget", "lib_only"}},
		{"app", IncludeDependents, []string{"Widget", "app_widget"}},
		{"lib", ProjectOnly, []string{"Widget", "lib_only"}},
		{"lib", IncludeDependents, []string{"Widget", "app_widget", "lib_only"}},
		{"lib", IncludeBoth, []string{"Widget", "app_widget", "lib_only"}},
	}
	for _, tt := range tests {
		t.Run(tt.project+"/"+tt.opt.String(), func(t *testing.T) {
			got := names(t, e, tt.project, "Widget|app_widget|lib_only", tt.opt)
			assert.ElementsMatch(t, tt.want, got, "Widget is one binding however many fragments hold it")
		})
	}
}

func TestUpdate_NilContentRereadsDisk(t *testing.T) {
	e := newTestEngine(t)
	root := writeFiles(t, t.TempDir(), map[string]string{"a.cpp": "int ondisk;\n"})
	_, err := e.CreateProject("p", root, nil, nil)
	require.NoError(t, err)
	indexed(t, e, "p")
	path := filepath.Join(root, "a.cpp")

	require.NoError(t, e.Update("p", path, []byte("int edited;\n")))
	require.True(t, e.Join(context.Background(), 0))
	assert.Equal(t, []string{"edited"}, names(t, e, "p", "edited", ProjectOnly))

	writeFiles(t, root, map[string]string{"a.cpp": "int saved;\n"})
	require.NoError(t, e.Update("p", path, nil))
	require.True(t, e.Join(context.Background(), 0))
	require.NoError(t, e.Err())
	assert.Empty(t, names(t, e, "p", "edited", ProjectOnly))
	assert.Equal(t, []string{"saved"}, names(t, e, "p", "saved", ProjectOnly))

	require.NoError(t, e.Update("p", path, []byte{}))
	require.True(t, e.Join(context.Background(), 0))
	assert.Empty(t, names(t, e, "p", "saved", ProjectOnly), "empty content empties the file")
}

func TestJoin_NoProjects(t *testing.T) {
	e := newTestEngine(t)
	assert.True(t, e.Join(context.Background(), time.Second))
	assert.NoError(t, e.Err())
}

func TestJoin_PostponedTimesOut(t *testing.T) {
	e := newTestEngine(t)
	root := writeFiles(t, t.TempDir(), map[string]string{"a.cpp": "int x;\n"})
	_, err := e.CreateProject("p", root, nil, nil)
	require.NoError(t, err)
	c, err := e.Coordinator("p")
	require.NoError(t, err)

	c.Postpone()
	require.NoError(t, e.IndexProject(context.Background(), "p"))
	assert.False(t, e.Join(context.Background(), 50*time.Millisecond))

	c.Resume()
	assert.True(t, e.Join(context.Background(), 20*time.Second))
	assert.Equal(t, []string{"x"}, names(t, e, "p", "x", ProjectOnly))
}
