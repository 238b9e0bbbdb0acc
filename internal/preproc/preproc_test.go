package preproc

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
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

func runTU(t *testing.T, fs mapFS, path string, opts Options) *dom.TranslationUnit {
	t.Helper()
	opts.FS = fs
	if opts.Linkage == 0 {
		opts.Linkage = binding.LinkageCPP
	}
	tu, err := Run(context.Background(), path, nil, opts)
	require.NoError(t, err)
	return tu
}

func TestRun_BlanksDirectivesAndInactiveRegions(t *testing.T) {
	t.Parallel()
	src := "#define A 1\n#if A\nint x;\n#else\nint y;\n#endif\nint z;\n"
	tu := runTU(t, mapFS{"/p/a.cpp": src}, "/p/a.cpp", Options{})
	text := string(tu.Root.Text)

	require.Len(t, text, len(src))
	assert.Contains(t, text, "int x;")
	assert.NotContains(t, text, "int y;")
	assert.NotContains(t, text, "#")
	assert.Equal(t, strings.Count(src, "\n"), strings.Count(text, "\n"))
	assert.Equal(t, strings.Index(src, "int z;"), strings.Index(text, "int z;"))
}

func TestRun_ObjectAndFunctionMacros(t *testing.T) {
	t.Parallel()
	src := "#define X y\n#define SQ(a) ((a)*(a))\nint X;\nint w = SQ(2);\n"
	tu := runTU(t, mapFS{"/p/a.cpp": src}, "/p/a.cpp", Options{})
	text := string(tu.Root.Text)

	assert.Contains(t, text, "int y;")
	// Expansions separate tokens with single spaces.
	assert.Contains(t, strings.Join(strings.Fields(text), ""), "((2)*(2))")
	assert.NotContains(t, text, "SQ(")

	yOut := strings.Index(text, "y;")
	off, n, exp := tu.Root.Map.Original(yOut, 1)
	assert.True(t, exp)
	assert.Equal(t, strings.Index(src, "X;"), off)
	assert.Equal(t, 1, n)

	intOut := strings.Index(text, "int w")
	off, _, exp = tu.Root.Map.Original(intOut, 3)
	assert.False(t, exp)
	assert.Equal(t, strings.Index(src, "int w"), off)
}

func TestRun_StringifyAndPaste(t *testing.T) {
	t.Parallel()
	src := "#define STR(x) #x\n#define CAT(a,b) a##b\nconst char* s = STR(hi);\nint CAT(foo,bar);\n"
	tu := runTU(t, mapFS{"/p/a.cpp": src}, "/p/a.cpp", Options{})
	text := string(tu.Root.Text)
	assert.Contains(t, text, `"hi"`)
	assert.Contains(t, text, "int foobar;")
}

func TestRun_MacroRecordsKeepOrder(t *testing.T) {
	t.Parallel()
	src := "#define m 1\n#undef m\n#define m 2\n#define f() 0\n"
	tu := runTU(t, mapFS{"/p/a.cpp": src}, "/p/a.cpp", Options{})
	macros := tu.Root.Macros
	require.Len(t, macros, 4)
	assert.Equal(t, "1", macros[0].Expansion)
	assert.True(t, macros[1].Undef)
	assert.Equal(t, "2", macros[2].Expansion)
	assert.Nil(t, macros[0].Params)
	assert.NotNil(t, macros[3].Params)
	assert.Empty(t, macros[3].Params)
	assert.Equal(t, strings.Index(src, "m 1"), macros[0].Offset)
}

func TestRun_IncludeGuardOutsideHeader(t *testing.T) {
	t.Parallel()
	fs := mapFS{
		"/p/header1.h": "#ifndef _h1\n#define _h1\n#define M v\n#endif\n",
		"/p/header2.h": "#ifndef _h1\n#include \"header1.h\"\n#endif\n",
		"/p/src.cpp":   "#include \"header1.h\"\n#include \"header2.h\"\n",
		"/p/src2.cpp":  "#include \"header2.h\"\nint M;\n",
		"/p/src3.cpp":  "#include \"header2.h\"\n#ifndef _h1\n#include \"header1.h\"\n#endif\n",
	}

	tu3 := runTU(t, fs, "/p/src3.cpp", Options{})
	incs := tu3.Root.Includes
	require.Len(t, incs, 2)
	assert.True(t, incs[0].Active)
	assert.True(t, incs[0].Resolved)
	assert.False(t, incs[1].Active)
	assert.True(t, incs[1].Resolved)
	assert.Equal(t, "/p/header1.h", incs[1].Target)

	tu2 := runTU(t, fs, "/p/src2.cpp", Options{})
	assert.Contains(t, string(tu2.Root.Text), "int v;")

	h1 := tu2.Root.Children[0].Fragment.Children[0].Fragment
	assert.Equal(t, "/p/header1.h", h1.Location)
	assert.Equal(t, "_h1", h1.Guard)
	assert.True(t, h1.PragmaOnce)
	assert.Empty(t, h1.ContextKey)

	// header2 is parsed under two contexts: _h1 defined and undefined.
	tu1 := runTU(t, fs, "/p/src.cpp", Options{})
	h2a := tu1.Root.Children[1].Fragment
	h2b := tu2.Root.Children[0].Fragment
	assert.Equal(t, "/p/header2.h", h2a.Location)
	assert.NotEmpty(t, h2a.ContextKey)
	assert.NotEmpty(t, h2b.ContextKey)
	assert.NotEqual(t, h2a.ContextKey, h2b.ContextKey)
	assert.Empty(t, h2a.Children)
}

func TestRun_PragmaOnceSuppressesReinclusion(t *testing.T) {
	t.Parallel()
	fs := mapFS{
		"/p/h.h":     "#pragma once\nint h;\n",
		"/p/src.cpp": "#include \"h.h\"\n#include \"h.h\"\n",
	}
	tu := runTU(t, fs, "/p/src.cpp", Options{})
	require.Len(t, tu.Root.Includes, 2)
	assert.True(t, tu.Root.Includes[1].Active)
	assert.True(t, tu.Root.Includes[1].Resolved)
	require.Len(t, tu.Root.Children, 1)
	assert.True(t, tu.Root.Children[0].Fragment.PragmaOnce)
}

func TestRun_SameContextTwiceIsDeduplicated(t *testing.T) {
	t.Parallel()
	fs := mapFS{
		"/p/h.h":     "int h;\n",
		"/p/src.cpp": "#include \"h.h\"\n#include \"h.h\"\n",
	}
	tu := runTU(t, fs, "/p/src.cpp", Options{})
	require.Len(t, tu.Root.Children, 2)
	assert.False(t, tu.Root.Children[0].Fragment.Skip)
	assert.True(t, tu.Root.Children[1].Fragment.Skip)
}

func TestRun_ForcedIncludesAndMacroFiles(t *testing.T) {
	t.Parallel()
	fs := mapFS{
		"/inc/macros.h": "#define X y\n",
		"/inc/forced.h": "int forced;\n",
		"/p/src.cpp":    "int X;\n",
	}
	tu := runTU(t, fs, "/p/src.cpp", Options{Scanner: ScannerInfo{
		MacroFiles:   []string{"/inc/macros.h"},
		IncludeFiles: []string{"/inc/forced.h"},
	}})
	incs := tu.Root.Includes
	require.Len(t, incs, 2)
	for _, inc := range incs {
		assert.True(t, inc.System)
		assert.Zero(t, inc.NameOffset)
		assert.Zero(t, inc.NameLength)
		assert.True(t, inc.Resolved)
	}
	assert.True(t, tu.Root.Children[0].Fragment.MacroOnly)
	assert.False(t, tu.Root.Children[1].Fragment.MacroOnly)
	assert.Contains(t, string(tu.Root.Text), "int y;")
	// Forced content precedes the whole source file.
	assert.Less(t, tu.Root.Children[1].Fragment.Global(0), tu.Root.Global(0))
}

func TestRun_SearchPathsAndHeuristic(t *testing.T) {
	t.Parallel()
	fs := mapFS{
		"/inc/a.h":        "",
		"/sys/b.h":        "",
		"/p/deep/dir/c.h": "",
		"/p/src.cpp":      "#include \"a.h\"\n#include <b.h>\n#include \"c.h\"\n#include \"missing.h\"\n",
	}
	tu := runTU(t, fs, "/p/src.cpp", Options{
		Scanner: ScannerInfo{IncludePaths: []string{"/inc"}, SystemIncludePaths: []string{"/sys"}},
		Heuristic: func(name string) (string, bool) {
			if name == "c.h" {
				return "/p/deep/dir/c.h", true
			}
			return "", false
		},
	})
	incs := tu.Root.Includes
	require.Len(t, incs, 4)
	assert.Equal(t, "/inc/a.h", incs[0].Target)
	assert.Equal(t, "/sys/b.h", incs[1].Target)
	assert.True(t, incs[1].System)
	assert.Equal(t, "b.h", incs[1].Name)
	assert.True(t, incs[2].Heuristic)
	assert.False(t, incs[3].Resolved)
	assert.Equal(t, strings.Index(fs["/p/src.cpp"], "a.h"), incs[0].NameOffset)
	assert.Equal(t, 3, incs[0].NameLength)
}

func TestRun_UpToDateSkipsFragment(t *testing.T) {
	t.Parallel()
	fs := mapFS{
		"/p/h.h":     "int h;\n",
		"/p/src.cpp": "#include \"h.h\"\nint s;\n",
	}
	hash := HashContent([]byte(fs["/p/h.h"]))
	tu := runTU(t, fs, "/p/src.cpp", Options{UpToDate: func(loc, key, h string) (int64, bool) {
		return 42, loc == "/p/h.h" && key == "" && h == hash
	}})
	h := tu.Root.Children[0].Fragment
	assert.True(t, h.Skip)
	assert.Equal(t, int64(42), h.Record)
	assert.False(t, tu.Root.Skip)
}

func TestDetectGuard(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		src   string
		guard string
		once  bool
	}{
		{"classic", "// c\n#ifndef G\n#define G\nint x;\n#endif // G\n", "G", false},
		{"if not defined", "#if !defined(G)\n#define G\n#endif\n", "G", false},
		{"code after endif", "#ifndef G\n#define G\n#endif\nint y;\n", "", false},
		{"code before", "int y;\n#ifndef G\n#define G\n#endif\n", "", false},
		{"define mismatch", "#ifndef G\n#define H\n#endif\n", "", false},
		{"two blocks", "#ifndef G\n#define G\n#endif\n#ifndef H\n#endif\n", "", false},
		{"pragma once", "#pragma once\nint x;\n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, once := detectGuard([]byte(tt.src))
			assert.Equal(t, tt.guard, g)
			assert.Equal(t, tt.once, once)
		})
	}
}

func TestEvalCondition(t *testing.T) {
	t.Parallel()
	macros := map[string]*macro{}
	for _, def := range []string{"ONE 1", "TWO (ONE+ONE)", "F(x) ((x)*2)"} {
		m := parseDefine(lex([]byte(def), 0, len(def)))
		macros[m.name] = m
	}
	exp := &expander{macros: macros, limit: 100}
	defined := func(n string) bool { _, ok := macros[n]; return ok }
	tests := []struct {
		expr string
		want bool
	}{
		{"1", true},
		{"0", false},
		{"defined(ONE) && !defined NOPE", true},
		{"TWO == 2", true},
		{"F(TWO) == 4", true},
		{"UNDEFINED", false},
		{"0x10 > 15 ? 1 : 0", true},
		{"'A' == 65", true},
		{"(1 << 4) % 5 == 1", true},
		{"-1 < 0", true},
		{"true", true},
	}
	for _, tt := range tests {
		got, err := evalCondition(lex([]byte(tt.expr), 0, len(tt.expr)), exp, defined, nil)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, got, tt.expr)
	}
	_, err := evalCondition(lex([]byte("1 +"), 0, 3), exp, defined, nil)
	assert.Error(t, err)
}
