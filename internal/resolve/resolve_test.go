package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/parse"
	"github.com/jward/cxxindex/internal/preproc"
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

// fakeIndex serves candidates keyed by scope key and name.
type fakeIndex struct {
	cands  map[string][]Candidate
	usings map[string][]Using
}

func (f *fakeIndex) Lookup(_ context.Context, scopeKey, name string) ([]Candidate, error) {
	return f.cands[scopeKey+"::"+name], nil
}

func (f *fakeIndex) Usings(_ context.Context, location, _ string) ([]Using, error) {
	return f.usings[location], nil
}

// preprocess builds the translation unit rooted at path; files listed in
// indexed are reported as up to date and skipped.
func preprocess(t *testing.T, fs mapFS, path string, indexed ...string) *dom.TranslationUnit {
	t.Helper()
	opts := preproc.Options{FS: fs, Linkage: binding.LinkageCPP}
	if len(indexed) > 0 {
		opts.UpToDate = func(location, _, _ string) (int64, bool) {
			for _, l := range indexed {
				if l == location {
					return 1, true
				}
			}
			return 0, false
		}
	}
	tu, err := preproc.Run(context.Background(), path, nil, opts)
	require.NoError(t, err)
	require.NoError(t, parse.Parse(context.Background(), tu))
	return tu
}

func resolveTU(t *testing.T, tu *dom.TranslationUnit, idx Index) *Result {
	t.Helper()
	res, err := Resolve(context.Background(), tu, idx, Options{})
	require.NoError(t, err)
	return res
}

func resolveSource(t *testing.T, src string) (*dom.TranslationUnit, *Result) {
	t.Helper()
	tu := preprocess(t, mapFS{"/p/main.cpp": src}, "/p/main.cpp")
	return tu, resolveTU(t, tu, nil)
}

// named returns the names with the given text in offset order.
func named(tu *dom.TranslationUnit, text string) []*dom.Name {
	var out []*dom.Name
	for _, f := range tu.Files() {
		for _, n := range f.Names {
			if n.Text == text {
				out = append(out, n)
			}
		}
	}
	return out
}

func problemCodes(ds []Diagnostic) map[string]binding.ProblemCode {
	out := make(map[string]binding.ProblemCode)
	for _, d := range ds {
		out[d.Name.Text] = d.Problem.Code
	}
	return out
}

func TestResolve_LocalAndGlobalNames(t *testing.T) {
	t.Parallel()
	tu, res := resolveSource(t, "int x;\nint f(int a) { int b = a; return b + x; }\n")
	assert.Empty(t, CheckBindings(tu))

	xs := named(tu, "x")
	require.Len(t, xs, 2)
	assert.Same(t, xs[0].Binding, xs[1].Binding)
	assert.Equal(t, binding.KindVariable, xs[0].Binding.Kind())

	as := named(tu, "a")
	require.Len(t, as, 2)
	assert.Equal(t, binding.KindParameter, as[1].Binding.Kind())
	assert.Same(t, as[0].Binding, as[1].Binding)

	bs := named(tu, "b")
	require.Len(t, bs, 2)
	assert.True(t, res.IsLocal(bs[0].Binding))
	assert.False(t, res.IsLocal(xs[0].Binding))
	assert.NotContains(t, res.Declared, bs[0].Binding)
	assert.Contains(t, res.Declared, xs[0].Binding)
}

func TestResolve_NamespacesAliasesAndDirectives(t *testing.T) {
	t.Parallel()
	src := "namespace N { int v; namespace M { int w; } }\n" +
		"namespace A = N::M;\n" +
		"using namespace N;\n" +
		"int g() { return v + A::w; }\n"
	tu, res := resolveSource(t, src)
	assert.Empty(t, CheckBindings(tu))

	vs := named(tu, "v")
	require.Len(t, vs, 2)
	assert.Same(t, vs[0].Binding, vs[1].Binding)
	assert.Equal(t, "N::v", binding.QualifiedString(vs[1].Binding))

	ws := named(tu, "w")
	require.Len(t, ws, 2)
	assert.Equal(t, "N::M::w", binding.QualifiedString(ws[1].Binding))

	var usings []Using
	for _, us := range res.Usings {
		usings = append(usings, us...)
	}
	require.Len(t, usings, 1)
	assert.Equal(t, "N", usings[0].Target)
	assert.False(t, usings[0].Declaration)
}

func TestResolve_OutOfLineMemberDefinition(t *testing.T) {
	t.Parallel()
	src := "struct S { int m; void set(int v); };\nvoid S::set(int v) { m = v; }\n"
	tu, _ := resolveSource(t, src)
	assert.Empty(t, CheckBindings(tu))

	ms := named(tu, "m")
	require.Len(t, ms, 2)
	assert.Same(t, ms[0].Binding, ms[1].Binding)
	assert.Equal(t, binding.KindField, ms[1].Binding.Kind())

	sets := named(tu, "set")
	require.Len(t, sets, 2)
	assert.Same(t, sets[0].Binding, sets[1].Binding)
	assert.Equal(t, binding.KindMethod, sets[1].Binding.Kind())
}

func TestResolve_MemberBodiesSeeLaterMembers(t *testing.T) {
	t.Parallel()
	tu, _ := resolveSource(t, "struct K { int get() { return later; } int later; };\n")
	assert.Empty(t, CheckBindings(tu))
	ls := named(tu, "later")
	require.Len(t, ls, 2)
	assert.Same(t, ls[1].Binding, ls[0].Binding)
}

func TestResolve_OverloadSelection(t *testing.T) {
	t.Parallel()
	src := "void f(int);\nvoid f(double);\nvoid f(const char*);\n" +
		"void g() { f(1); f(2.0); f(\"s\"); }\n"
	tu, _ := resolveSource(t, src)
	assert.Empty(t, CheckBindings(tu))

	fs := named(tu, "f")
	require.Len(t, fs, 6)
	for i := 0; i < 3; i++ {
		assert.Same(t, fs[i].Binding, fs[i+3].Binding, "call %d", i)
	}
}

func TestResolve_Problems(t *testing.T) {
	t.Parallel()
	tu, res := resolveSource(t, "void g() { h(); int x; double x; }\n")
	codes := problemCodes(CheckBindings(tu))
	assert.Equal(t, binding.ProblemNameNotFound, codes["h"])
	assert.Equal(t, binding.ProblemInvalidRedeclaration, codes["x"])
	assert.Len(t, res.Problems, 2)
}

func TestResolve_FriendClassStaysHidden(t *testing.T) {
	t.Parallel()
	tu, res := resolveSource(t, "class C { friend class D; };\nD* p;\n")
	ds := named(tu, "D")
	require.Len(t, ds, 2)
	assert.True(t, ds[0].Binding.Flags().Has(binding.FlagFriendOnly))
	assert.Equal(t, binding.ProblemNameNotFound, problemCodes(CheckBindings(tu))["D"])
	assert.Contains(t, res.Declared, ds[0].Binding)
}

func TestResolve_ClassTemplateInstance(t *testing.T) {
	t.Parallel()
	src := "template<class T> struct Box { T v; };\nBox<int> b;\nint y = b.v;\n"
	tu, _ := resolveSource(t, src)
	assert.Empty(t, CheckBindings(tu))

	bs := named(tu, "b")
	require.Len(t, bs, 2)
	v, ok := bs[0].Binding.(*binding.Variable)
	require.True(t, ok)
	inst, ok := v.Type.(*binding.Instance)
	require.True(t, ok)
	require.Len(t, inst.Args, 1)
	assert.True(t, binding.SameType(binding.Builtin(binding.Int, 0), inst.Args[0].Type))

	vs := named(tu, "v")
	require.Len(t, vs, 2)
	field, ok := vs[1].Binding.(*binding.Variable)
	require.True(t, ok)
	assert.Same(t, inst, field.Owner())
	assert.True(t, binding.SameType(binding.Builtin(binding.Int, 0), field.Type))
}

func TestResolve_TemplateMetaprogram(t *testing.T) {
	t.Parallel()
	src := "template<int N> struct F { static const int value = N * F<N - 1>::value; };\n" +
		"template<> struct F<0> { static const int value = 1; };\n" +
		"int arr[F<4>::value];\n"
	tu, _ := resolveSource(t, src)
	arrs := named(tu, "arr")
	require.Len(t, arrs, 1)
	v, ok := arrs[0].Binding.(*binding.Variable)
	require.True(t, ok)
	a, ok := v.Type.(*binding.Array)
	require.True(t, ok)
	assert.Equal(t, int64(24), a.Size)
}

func TestResolve_ExplicitSpecializationRedefinition(t *testing.T) {
	t.Parallel()
	src := "template<class T> struct A {};\n" +
		"template<> struct A<int> { int i; };\n" +
		"template<> struct A<int> { int j; };\n"
	tu, res := resolveSource(t, src)
	as := named(tu, "A")
	require.Len(t, as, 3)
	assert.Same(t, as[1].Binding, as[2].Binding)
	assert.Equal(t, binding.ProblemInvalidRedeclaration, problemCodes(res.Problems)["A"])
}

func TestResolve_IndexBindingsOfSkippedHeaders(t *testing.T) {
	t.Parallel()
	fs := mapFS{
		"/p/a.h":      "int x;\n",
		"/p/main.cpp": "#include \"a.h\"\nint y = x;\n",
		"/p/late.cpp": "int y = x;\n#include \"a.h\"\n",
	}
	stored := &binding.Variable{
		Decl: binding.Decl{SimpleName: "x", Link: binding.LinkageCPP, Site: binding.Origin{File: "/p/a.h", Offset: 4},
			Rec: binding.Record{Fragment: "frag", ID: 7}},
		Type: binding.Builtin(binding.Int, 0),
	}
	index := func(tu *dom.TranslationUnit) *fakeIndex {
		var ck string
		for _, f := range tu.Fragments() {
			if f.Location == "/p/a.h" {
				require.True(t, f.Skip)
				ck = f.ContextKey
			}
		}
		return &fakeIndex{cands: map[string][]Candidate{
			"::x": {{Binding: stored, Sites: []Site{{Location: "/p/a.h", ContextKey: ck, Offset: 4}}}},
		}}
	}

	tu := preprocess(t, fs, "/p/main.cpp", "/p/a.h")
	resolveTU(t, tu, index(tu))
	xs := named(tu, "x")
	require.Len(t, xs, 1)
	assert.Same(t, stored, xs[0].Binding)

	// A header included after the reference is not reachable from it.
	late := preprocess(t, fs, "/p/late.cpp", "/p/a.h")
	resolveTU(t, late, index(late))
	assert.Equal(t, binding.ProblemNameNotFound, problemCodes(CheckBindings(late))["x"])
}

func TestResolve_UsingDeclarationFromIndex(t *testing.T) {
	t.Parallel()
	fs := mapFS{
		"/p/a.h":      "namespace N { int z; }\nusing N::z;\n",
		"/p/main.cpp": "#include \"a.h\"\nint y = z;\n",
	}
	stored := &binding.Variable{
		Decl: binding.Decl{SimpleName: "z", Link: binding.LinkageCPP, Site: binding.Origin{File: "/p/a.h", Offset: 18},
			Rec: binding.Record{Fragment: "frag", ID: 9}},
	}
	ns := &binding.Namespace{Decl: binding.Decl{SimpleName: "N", Link: binding.LinkageCPP, Rec: binding.Record{Fragment: "frag", ID: 8}}}
	stored.Parent = ns

	tu := preprocess(t, fs, "/p/main.cpp", "/p/a.h")
	var ck string
	for _, f := range tu.Fragments() {
		if f.Location == "/p/a.h" {
			ck = f.ContextKey
		}
	}
	idx := &fakeIndex{
		cands: map[string][]Candidate{
			"N::z": {{Binding: stored, Sites: []Site{{Location: "/p/a.h", ContextKey: ck, Offset: 18}}}},
		},
		usings: map[string][]Using{
			"/p/a.h": {{Scope: "", Target: "N::z", Offset: 24, Declaration: true}},
		},
	}
	resolveTU(t, tu, idx)
	zs := named(tu, "z")
	require.Len(t, zs, 1)
	assert.Same(t, stored, zs[0].Binding)
}
