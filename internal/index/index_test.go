package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/parse"
	"github.com/jward/cxxindex/internal/preproc"
	"github.com/jward/cxxindex/internal/resolve"
	"github.com/jward/cxxindex/internal/runtime"
	"github.com/jward/cxxindex/internal/store"
)

type mapFS map[string]string

func (m mapFS) ReadFile(name string) ([]byte, error) {
	s, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("no file %s", name)
	}
	return []byte(s), nil
}

func (m mapFS) Exists(name string) bool {
	_, ok := m[name]
	return ok
}

func newTestFragment(t *testing.T, name string) *Fragment {
	t.Helper()
	f, err := OpenFragment(filepath.Join(t.TempDir(), name+".db"), name)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// indexTU preprocesses, parses and resolves the unit rooted at path
// against f alone and commits it to f.
func indexTU(t *testing.T, f *Fragment, fs mapFS, path string) (*dom.TranslationUnit, *resolve.Result) {
	t.Helper()
	ctx := context.Background()
	x := New([]*Fragment{f})
	lock := x.AcquireReadLock()
	opts := preproc.Options{
		FS:      fs,
		Linkage: binding.LinkageCPP,
		UpToDate: func(location, key, hash string) (int64, bool) {
			id, ok, err := f.Store().UpToDate(int(binding.LinkageCPP), location, key, hash)
			return id, ok && err == nil
		},
	}
	tu, err := preproc.Run(ctx, path, nil, opts)
	require.NoError(t, err)
	require.NoError(t, parse.Parse(ctx, tu))
	res, err := resolve.Resolve(ctx, tu, x, resolve.Options{Cache: f.tmpl})
	require.NoError(t, err)
	batch, err := f.Emit(tu, res)
	require.NoError(t, err)
	lock.Release()
	require.NoError(t, f.Commit(batch))
	return tu, res
}

func locked(t *testing.T, frags ...*Fragment) *Index {
	t.Helper()
	x := New(frags)
	lock := x.AcquireReadLock()
	t.Cleanup(lock.Release)
	return x
}

func findOne(t *testing.T, x *Index, name string) binding.Binding {
	t.Helper()
	bs, err := x.FindBindingsNamed(context.Background(), name, false, nil)
	require.NoError(t, err)
	require.Len(t, bs, 1, "bindings named %s", name)
	return bs[0]
}

func TestRoundTrip_ClassesFunctionsNamespaces(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	fs := mapFS{"/p/a.cpp": `
struct S { int a; double b; };
namespace n {
  int f(int x, int y = 2);
  enum class E : char { A, B = 5 };
}
typedef S T;
S s;
`}
	indexTU(t, f, fs, "/p/a.cpp")
	x := locked(t, f)
	ctx := context.Background()

	c, ok := findOne(t, x, "S").(*binding.Composite)
	require.True(t, ok)
	assert.True(t, c.Complete)
	require.Len(t, c.Members, 2)
	assert.Equal(t, "a", c.Members[0].Name())
	assert.Equal(t, binding.KindField, c.Members[0].Kind())

	fs2, err := x.FindBindingsQualified(ctx, []string{"n", "f"}, nil)
	require.NoError(t, err)
	require.Len(t, fs2, 1)
	fn, ok := fs2[0].(*binding.Function)
	require.True(t, ok)
	require.Len(t, fn.Params, 2)
	assert.Equal(t, "y", fn.Params[1].Name())
	assert.True(t, fn.Params[1].HasDefault)
	assert.Equal(t, 1, fn.RequiredArgs())

	e, ok := findOne(t, x, "E").(*binding.Enumeration)
	require.True(t, ok)
	require.Len(t, e.Enumerators, 2)
	assert.Equal(t, int64(5), e.Enumerators[1].Value)
	assert.NotNil(t, e.Fixed)

	td, ok := findOne(t, x, "T").(*binding.Typedef)
	require.True(t, ok)
	assert.True(t, binding.SameType(td.Type, c))

	v, ok := findOne(t, x, "s").(*binding.Variable)
	require.True(t, ok)
	assert.True(t, binding.SameType(v.Type, c))
}

func TestFindBindings_PatternsAndScopes(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	fs := mapFS{"/p/a.cpp": `
int foo;
namespace a { int foo; namespace b { int foo; } }
struct Foo {};
`}
	indexTU(t, f, fs, "/p/a.cpp")
	x := locked(t, f)
	ctx := context.Background()

	all, err := x.FindBindings(ctx, []*regexp.Regexp{regexp.MustCompile("foo")}, false, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	whole, err := x.FindBindings(ctx, []*regexp.Regexp{regexp.MustCompile("foo")}, true, nil)
	require.NoError(t, err)
	require.Len(t, whole, 1)
	assert.Nil(t, whole[0].Owner())

	nested, err := x.FindBindings(ctx, []*regexp.Regexp{regexp.MustCompile("b"), regexp.MustCompile("foo")}, false, nil)
	require.NoError(t, err)
	require.Len(t, nested, 1)
	assert.Equal(t, "a::b::foo", binding.QualifiedString(nested[0]))

	fold, err := x.FindBindingsFold(ctx, []*regexp.Regexp{regexp.MustCompile("foo")}, false, nil)
	require.NoError(t, err)
	assert.Len(t, fold, 4, "case-insensitive results are a superset")

	re, err := x.FindBindings(ctx, []*regexp.Regexp{regexp.MustCompile("f.o")}, false, KindFilter(binding.KindVariable))
	require.NoError(t, err)
	assert.Len(t, re, 3)

	none, err := x.FindBindingsNamed(ctx, "missing", false, nil)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestFindBindingsForPrefix(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	fs := mapFS{"/p/a.cpp": `
int counter;
int count(int countdown);
struct Counted { int count_me; };
`}
	indexTU(t, f, fs, "/p/a.cpp")
	x := locked(t, f)
	ctx := context.Background()

	top, err := x.FindBindingsForPrefix(ctx, "count", true, nil)
	require.NoError(t, err)
	names := bindingNames(top)
	assert.ElementsMatch(t, []string{"counter", "count"}, names)

	nested, err := x.FindBindingsForPrefix(ctx, "count", false, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"counter", "count", "count_me"}, bindingNames(nested))

	fold, err := x.FindBindingsForPrefixFold(ctx, "count", true, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"counter", "count", "Counted"}, bindingNames(fold))
}

func bindingNames(bs []binding.Binding) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Name()
	}
	return out
}

func TestCrossUnit_SkippedHeaderResolvesToIndex(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	fs := mapFS{
		"/p/g.h":   "#pragma once\nint g(int);\nstruct P { int v; };\n",
		"/p/a.cpp": "#include \"g.h\"\nint g(int x) { return x; }\n",
		"/p/b.cpp": "#include \"g.h\"\nint h() { P p; return g(p.v); }\n",
	}
	indexTU(t, f, fs, "/p/a.cpp")
	tu, _ := indexTU(t, f, fs, "/p/b.cpp")

	for _, fr := range tu.Fragments() {
		if fr.Location == "/p/g.h" {
			assert.True(t, fr.Skip, "header indexed with a.cpp is skipped")
		}
	}

	x := locked(t, f)
	ctx := context.Background()
	g := findOne(t, x, "g")

	refs, err := x.FindReferences(ctx, g)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "/p/b.cpp", refs[0].Location)

	decls, err := x.FindDeclarations(ctx, g)
	require.NoError(t, err)
	assert.Len(t, decls, 2)

	defs, err := x.FindDefinitions(ctx, g)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "/p/a.cpp", defs[0].Location)

	v := findOne(t, x, "v")
	vrefs, err := x.FindReferences(ctx, v)
	require.NoError(t, err)
	assert.Len(t, vrefs, 1)
}

func TestQueries_RequireReadLock(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	x := New([]*Fragment{f})
	ctx := context.Background()

	_, err := x.FindBindingsNamed(ctx, "x", false, nil)
	assert.ErrorIs(t, err, ErrNoReadLock)
	_, err = x.GetFiles(ctx, 0, "/p/a.cpp")
	assert.ErrorIs(t, err, ErrNoReadLock)
	_, err = x.Lookup(ctx, "", "x")
	assert.ErrorIs(t, err, ErrNoReadLock)

	outer := x.AcquireReadLock()
	inner := x.AcquireReadLock()
	inner.Release()
	_, err = x.GetFiles(ctx, 0, "/p/a.cpp")
	assert.NoError(t, err, "outer lock still held")
	outer.Release()
	outer.Release()
	_, err = x.GetFiles(ctx, 0, "/p/a.cpp")
	assert.ErrorIs(t, err, ErrNoReadLock)
}

func TestMergeAcrossFragments(t *testing.T) {
	t.Parallel()
	fs := mapFS{
		"/lib/l.h":   "#pragma once\nstruct L;\nint lf();\n",
		"/lib/l.cpp": "#include \"l.h\"\nstruct L { int x; };\n",
		"/app/m.cpp": "#include \"../lib/l.h\"\nint main() { return lf(); }\n",
	}
	lib := newTestFragment(t, "lib")
	app := newTestFragment(t, "app")
	indexTU(t, lib, fs, "/lib/l.cpp")
	indexTU(t, app, fs, "/app/m.cpp")

	x := locked(t, lib, app)
	ctx := context.Background()

	lf := findOne(t, x, "lf")
	decls, err := x.FindDeclarations(ctx, lf)
	require.NoError(t, err)
	assert.Len(t, decls, 1, "the header occurrence is recorded once per location")

	refs, err := x.FindReferences(ctx, lf)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, app, refs[0].Fragment)

	_, err = x.GetFile(ctx, binding.LinkageCPP, "/lib/l.h")
	assert.ErrorIs(t, err, ErrMultipleFragments)
	files, err := x.GetFiles(ctx, binding.LinkageCPP, "/lib/l.h")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	missing, err := x.GetFile(ctx, binding.LinkageCPP, "/nope.h")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIncompatibleFragmentIsSkipped(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "old.db")
	f, err := OpenFragment(path, "old")
	require.NoError(t, err)
	require.NoError(t, f.Store().SetMetadata("format_version", "0.9.0"))
	require.NoError(t, f.Close())

	f, err = OpenFragment(path, "old")
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, errors.Is(f.Compatible(), store.ErrIncompatibleFormat))

	x := New([]*Fragment{f})
	assert.Empty(t, x.Fragments())
}

func TestIncludesMacrosAndUsings(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	fs := mapFS{
		"/p/h.h": "#ifndef H\n#define H\n#define TWICE(x) ((x) * 2)\nnamespace q { int z; }\n#endif\n",
		"/p/a.cpp": "#include \"h.h\"\n#include <missing.h>\n#undef TWICE\nusing namespace q;\nint w = z;\n",
	}
	indexTU(t, f, fs, "/p/a.cpp")
	x := locked(t, f)
	ctx := context.Background()

	src, err := x.GetFile(ctx, binding.LinkageCPP, "/p/a.cpp")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.True(t, src.IsSource)
	assert.Equal(t, "file:///p/a.cpp", src.URI)

	incs, err := x.FindIncludes(ctx, src)
	require.NoError(t, err)
	require.Len(t, incs, 2)
	assert.Equal(t, "h.h", incs[0].Name)
	assert.True(t, incs[0].Resolved)
	assert.NotNil(t, incs[0].TargetID)
	assert.False(t, incs[1].Resolved)
	assert.True(t, incs[1].System)

	hdr, err := x.GetFile(ctx, binding.LinkageCPP, "/p/h.h")
	require.NoError(t, err)
	require.NotNil(t, hdr)
	assert.Equal(t, "H", hdr.Guard)

	by, err := x.FindIncludedBy(ctx, hdr)
	require.NoError(t, err)
	require.Len(t, by, 1)
	assert.Equal(t, "/p/a.cpp", by[0].File.Location)

	hm, err := x.Macros(ctx, hdr)
	require.NoError(t, err)
	require.Len(t, hm, 2)
	assert.Equal(t, "TWICE", hm[1].Name)
	assert.Equal(t, []string{"x"}, hm[1].Params)

	sm, err := x.Macros(ctx, src)
	require.NoError(t, err)
	require.Len(t, sm, 1)
	assert.True(t, sm[0].Undef)

	us, err := x.UsingDirectives(ctx, src)
	require.NoError(t, err)
	require.Len(t, us, 1)
	assert.Equal(t, "q", us[0].Target)
}

func TestTemplateInstancePersisted(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "p.db")
	f, err := OpenFragment(path, "p")
	require.NoError(t, err)
	fs := mapFS{
		"/p/v.h":   "#pragma once\ntemplate<class T> struct V { T item; };\n",
		"/p/a.cpp": "#include \"v.h\"\nV<int> a;\nV<int> b;\n",
	}
	indexTU(t, f, fs, "/p/a.cpp")
	require.NoError(t, f.Close())

	f, err = OpenFragment(path, "p")
	require.NoError(t, err)
	defer f.Close()
	x := locked(t, f)

	a, ok := findOne(t, x, "a").(*binding.Variable)
	require.True(t, ok)
	b, ok := findOne(t, x, "b").(*binding.Variable)
	require.True(t, ok)
	in, ok := a.Type.(*binding.Instance)
	require.True(t, ok, "type of a is %T", a.Type)
	assert.Equal(t, "V", in.Template.Name())
	assert.Same(t, a.Type, b.Type, "one instance per argument tuple")
	require.Len(t, in.Members, 1)
	item, ok := in.Members[0].(*binding.Variable)
	require.True(t, ok)
	assert.True(t, binding.SameType(item.Type, binding.Builtin(binding.Int, 0)))

	tmpl := findOne(t, x, "V")
	n, err := f.Store().CountInstances(tmpl.Record().ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAdaptBinding_LocalToIndex(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	fs := mapFS{"/p/a.cpp": "struct S { int a; };\nunion U { int i; };\nenum E { X };\nstruct { int q; } anon;\n"}
	indexTU(t, f, fs, "/p/a.cpp")

	ctx := context.Background()
	tu, err := preproc.Run(ctx, "/p/a.cpp", nil, preproc.Options{FS: fs, Linkage: binding.LinkageCPP})
	require.NoError(t, err)
	require.NoError(t, parse.Parse(ctx, tu))
	res, err := resolve.Resolve(ctx, tu, nil, resolve.Options{})
	require.NoError(t, err)

	x := locked(t, f)
	for _, local := range res.Declared {
		switch local.Kind() {
		case binding.KindComposite, binding.KindEnumeration:
		default:
			continue
		}
		adapted, err := x.AdaptBinding(ctx, local)
		require.NoError(t, err)
		require.NotNil(t, adapted, "adapt %s", binding.QualifiedString(local))
		assert.False(t, adapted.Record().IsZero())
		assert.True(t, binding.SameType(local.(binding.Type), adapted.(binding.Type)), "same type %s", binding.QualifiedString(local))
	}

	gone := &binding.Composite{Decl: binding.Decl{SimpleName: "Nope", Link: binding.LinkageCPP, Site: binding.Origin{File: "/p/a.cpp"}}}
	adapted, err := x.AdaptBinding(ctx, gone)
	require.NoError(t, err)
	assert.Nil(t, adapted)
}

func TestAnonymousScopesSurviveCommit(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	fs := mapFS{"/p/a.cpp": "struct { int q; } anon;\nnamespace { int hidden; }\n"}
	_, res := indexTU(t, f, fs, "/p/a.cpp")

	x := locked(t, f)
	v, ok := findOne(t, x, "anon").(*binding.Variable)
	require.True(t, ok)
	c, ok := v.Type.(*binding.Composite)
	require.True(t, ok, "got %T", v.Type)
	assert.True(t, binding.IsAnonymous(c))

	q := findOne(t, x, "q")
	require.NotNil(t, q.Owner())
	assert.Equal(t, c.Record(), q.Owner().Record())
	findOne(t, x, "hidden")

	var local binding.Binding
	for _, b := range res.Declared {
		if b.Kind() == binding.KindComposite {
			local = b
		}
	}
	require.NotNil(t, local)
	adapted, err := x.AdaptBinding(context.Background(), local)
	require.NoError(t, err)
	require.NotNil(t, adapted)
	assert.Equal(t, c.Record(), adapted.Record())
}

func TestReindexKeepsRecordIDs(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	fs := mapFS{"/p/a.cpp": "int keep;\nint drop;\n"}
	indexTU(t, f, fs, "/p/a.cpp")

	x := New([]*Fragment{f})
	lock := x.AcquireReadLock()
	before := findOne(t, x, "keep").Record()
	lock.Release()

	fs["/p/a.cpp"] = "int keep;\nint added;\n"
	indexTU(t, f, fs, "/p/a.cpp")

	lock = x.AcquireReadLock()
	defer lock.Release()
	after := findOne(t, x, "keep").Record()
	assert.Equal(t, before, after)
	gone, err := x.FindBindingsNamed(context.Background(), "drop", false, nil)
	require.NoError(t, err)
	assert.Empty(t, gone)
	findOne(t, x, "added")
}

func TestScriptFilter(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	fs := mapFS{"/p/a.cpp": "static int hidden;\nint shown;\nint main() { return 0; }\n"}
	indexTU(t, f, fs, "/p/a.cpp")
	x := locked(t, f)
	ctx := context.Background()

	rt := runtime.NewRuntime("")
	flt, err := rt.Compile(ctx, `kind == "variable" && !static`)
	require.NoError(t, err)

	bs, err := x.FindBindings(ctx, []*regexp.Regexp{regexp.MustCompile(".*")}, false, ScriptFilter(flt))
	require.NoError(t, err)
	assert.Equal(t, []string{"shown"}, bindingNames(bs))
}

func TestCommitInvalidatesMaterialisedBindings(t *testing.T) {
	t.Parallel()
	f := newTestFragment(t, "p")
	fs := mapFS{"/p/a.cpp": "struct S;\n"}
	indexTU(t, f, fs, "/p/a.cpp")

	x := New([]*Fragment{f})
	lock := x.AcquireReadLock()
	s := findOne(t, x, "S").(*binding.Composite)
	assert.False(t, s.Complete)
	gen := f.Generation()
	lock.Release()

	fs["/p/a.cpp"] = "struct S { int m; };\n"
	indexTU(t, f, fs, "/p/a.cpp")
	assert.Greater(t, f.Generation(), gen)

	lock = x.AcquireReadLock()
	defer lock.Release()
	s2 := findOne(t, x, "S").(*binding.Composite)
	assert.True(t, s2.Complete)
	assert.Len(t, s2.Members, 1)
}
