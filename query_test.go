package cxxindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/index"
	"github.com/jward/cxxindex/internal/runtime"
)

const queryHeader = "#ifndef H\n#define H\n#define TWICE(x) ((x) * 2)\nnamespace q { int z; }\n#endif\n"

const querySource = `#include "h.h"
#include <missing.h>
namespace ns {
int counter;
int bump() { return ++counter; }
struct Point { int x; int y; };
}
using namespace q;
int w = z;
int Pointless;
`

// newQueryFixture indexes a small project and returns its query builder
// and root.
func newQueryFixture(t *testing.T) (*QueryBuilder, string) {
	t.Helper()
	e := newTestEngine(t)
	root := writeFiles(t, t.TempDir(), map[string]string{
		"h.h":   queryHeader,
		"a.cpp": querySource,
	})
	_, err := e.CreateProject("p", root, nil, nil)
	require.NoError(t, err)
	indexed(t, e, "p")
	q, err := e.Query("p", ProjectOnly)
	require.NoError(t, err)
	return q, root
}

func qualified(res *PagedResult[Symbol]) []string {
	out := make([]string, 0, len(res.Items))
	for _, s := range res.Items {
		out = append(out, s.Qualified)
	}
	return out
}

func TestBindings_PatternsAndOptions(t *testing.T) {
	q, root := newQueryFixture(t)
	ctx := context.Background()

	res, err := q.Bindings(ctx, "counter", SearchOptions{}, Sort{}, Pagination{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	c := res.Items[0]
	assert.Equal(t, "ns::counter", c.Qualified)
	assert.Equal(t, "variable", c.Kind)
	assert.Equal(t, "c++", c.Linkage)
	assert.Equal(t, "int", c.Type)
	assert.Equal(t, filepath.Join(root, "a.cpp"), c.Location.File)
	assert.Equal(t, 3, c.Location.StartLine)
	assert.Equal(t, 4, c.Location.StartCol)
	assert.Equal(t, 11, c.Location.EndCol)

	res, err = q.Bindings(ctx, "::counter", SearchOptions{}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Empty(t, res.Items, "counter is not at global scope")
	assert.NotNil(t, res.Items)

	res, err = q.Bindings(ctx, "ns::.*", SearchOptions{}, Sort{Field: SortByName}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ns::Point", "ns::bump", "ns::counter"}, qualified(res))

	res, err = q.Bindings(ctx, "point.*", SearchOptions{Fold: true}, Sort{Order: Desc}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ns::Point", "Pointless"}, qualified(res))

	res, err = q.Bindings(ctx, "point.*", SearchOptions{Fold: true, Kinds: []binding.Kind{binding.KindComposite}}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ns::Point"}, qualified(res))

	_, err = q.Bindings(ctx, "ns::(", SearchOptions{}, Sort{}, Pagination{})
	require.Error(t, err)
	_, err = q.Bindings(ctx, "ns::", SearchOptions{}, Sort{}, Pagination{})
	require.Error(t, err)
}

func TestBindings_Pagination(t *testing.T) {
	q, _ := newQueryFixture(t)
	ctx := context.Background()

	res, err := q.Bindings(ctx, ".*", SearchOptions{MatchWhole: true}, Sort{}, Pagination{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	total := res.TotalCount
	assert.Greater(t, total, 2)

	res, err = q.Bindings(ctx, ".*", SearchOptions{MatchWhole: true}, Sort{}, Pagination{Offset: total})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, total, res.TotalCount)
}

func TestBindings_ScriptFilter(t *testing.T) {
	q, _ := newQueryFixture(t)
	ctx := context.Background()

	rt := runtime.NewRuntime("")
	f, err := rt.Compile(ctx, `kind == "function"`)
	require.NoError(t, err)
	res, err := q.Bindings(ctx, ".*", SearchOptions{Filter: index.ScriptFilter(f)}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ns::bump"}, qualified(res))
}

func TestPrefix(t *testing.T) {
	q, _ := newQueryFixture(t)
	ctx := context.Background()

	res, err := q.Prefix(ctx, "Po", SearchOptions{}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ns::Point", "Pointless"}, qualified(res))

	res, err = q.Prefix(ctx, "po", SearchOptions{Fold: true, MatchWhole: true}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ns::Point", "Pointless"}, qualified(res), "namespace members are namespace scope")
}

func TestNames_RolesAndPositions(t *testing.T) {
	q, root := newQueryFixture(t)
	ctx := context.Background()
	src := filepath.Join(root, "a.cpp")

	defs, err := q.Definitions(ctx, "ns::counter")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, src, defs[0].File)
	assert.Equal(t, 3, defs[0].StartLine)
	assert.True(t, defs[0].IsDefinition())
	assert.Equal(t, "ns::counter", defs[0].Symbol)
	assert.Equal(t, "p", defs[0].Project)

	refs, err := q.References(ctx, "ns::counter")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, 4, refs[0].StartLine)
	assert.Equal(t, 22, refs[0].StartCol)
	assert.Contains(t, refs[0].Role, "reference")

	all, err := q.Names(ctx, "counter", RoleAny)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	zs, err := q.References(ctx, "q::z")
	require.NoError(t, err)
	require.Len(t, zs, 1, "found through the using directive")
	assert.Equal(t, 8, zs[0].StartLine)

	none, err := q.Declarations(ctx, "missing")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestFilesIncludesMacrosUsings(t *testing.T) {
	q, root := newQueryFixture(t)
	ctx := context.Background()
	src := filepath.Join(root, "a.cpp")
	hdr := filepath.Join(root, "h.h")

	files, err := q.Files(ctx, src)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].Source)
	assert.Equal(t, "p", files[0].Project)

	headers, err := q.Files(ctx, hdr)
	require.NoError(t, err)
	require.Len(t, headers, 1)
	assert.Equal(t, "H", headers[0].Guard)
	assert.Equal(t, 1, headers[0].Inclusions)

	incs, err := q.Includes(ctx, src, false)
	require.NoError(t, err)
	require.Len(t, incs, 2)
	assert.Equal(t, "h.h", incs[0].Name)
	assert.Equal(t, hdr, incs[0].Target)
	assert.True(t, incs[0].Resolved)
	assert.Equal(t, 0, incs[0].Location.StartLine)
	assert.False(t, incs[1].Resolved)
	assert.True(t, incs[1].System)
	assert.Equal(t, 1, incs[1].Location.StartLine)

	by, err := q.Includes(ctx, hdr, true)
	require.NoError(t, err)
	require.Len(t, by, 1)
	assert.Equal(t, src, by[0].Includer)

	ms, err := q.Macros(ctx, hdr)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "TWICE", ms[1].Name)
	assert.Equal(t, []string{"x"}, ms[1].Params)
	assert.Equal(t, 2, ms[1].Location.StartLine)

	us, err := q.Usings(ctx, src)
	require.NoError(t, err)
	require.Len(t, us, 1)
	assert.Equal(t, "q", us[0].Target)
	assert.False(t, us[0].Declaration)

	all, err := q.AllFiles(ctx, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.TotalCount)
	assert.Equal(t, src, all.Items[0].Location)

	none, err := q.Macros(ctx, filepath.Join(root, "nope.h"))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestQueriesSeeCommittedChanges(t *testing.T) {
	e := newTestEngine(t)
	root := writeFiles(t, t.TempDir(), map[string]string{"a.cpp": "int before;\n"})
	_, err := e.CreateProject("p", root, nil, nil)
	require.NoError(t, err)
	indexed(t, e, "p")

	require.NoError(t, e.Update("p", filepath.Join(root, "a.cpp"), []byte("int after;\n")))
	require.True(t, e.Join(context.Background(), 0))
	assert.Empty(t, names(t, e, "p", "before", ProjectOnly))
	assert.Equal(t, []string{"after"}, names(t, e, "p", "after", ProjectOnly))
}

func TestPositionsFollowReindex(t *testing.T) {
	e := newTestEngine(t)
	root := writeFiles(t, t.TempDir(), map[string]string{"a.cpp": "int x;\n"})
	_, err := e.CreateProject("p", root, nil, nil)
	require.NoError(t, err)
	indexed(t, e, "p")

	ctx := context.Background()
	q, err := e.Query("p", ProjectOnly)
	require.NoError(t, err)
	defs, err := q.Definitions(ctx, "x")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, 0, defs[0].StartLine)
	assert.Equal(t, 4, defs[0].StartCol)

	writeFiles(t, root, map[string]string{"a.cpp": "\n\n\nint x;\n"})
	indexed(t, e, "p")

	defs, err = q.Definitions(ctx, "x")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, 7, defs[0].Offset)
	assert.Equal(t, 3, defs[0].StartLine)
	assert.Equal(t, 4, defs[0].StartCol)
}

func TestSplitPattern(t *testing.T) {
	pats, whole, err := splitPattern("::a::b.*")
	require.NoError(t, err)
	assert.True(t, whole)
	require.Len(t, pats, 2)
	assert.Equal(t, "b.*", pats[1].String())

	_, whole, err = splitPattern("a")
	require.NoError(t, err)
	assert.False(t, whole)
}

func TestPagination_Normalize(t *testing.T) {
	tests := []struct {
		in   Pagination
		want Pagination
	}{
		{Pagination{}, Pagination{Offset: 0, Limit: defaultLimit}},
		{Pagination{Offset: -3, Limit: 10}, Pagination{Offset: 0, Limit: 10}},
		{Pagination{Limit: 10000}, Pagination{Limit: maxLimit}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.normalize())
	}
}
