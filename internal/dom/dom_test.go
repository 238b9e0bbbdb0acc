package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cxxindex/internal/binding"
)

func TestLayout_GlobalPositions(t *testing.T) {
	t.Parallel()
	// main.cpp (100 bytes) includes a.h (30 bytes) at 10 and b.h (20 bytes)
	// at 50; a.h includes c.h (5 bytes) at 3.
	c := &Fragment{Location: "c.h", Content: make([]byte, 5)}
	a := &Fragment{Location: "a.h", Content: make([]byte, 30), Children: []*Child{{Offset: 3, Fragment: c}}}
	b := &Fragment{Location: "b.h", Content: make([]byte, 20)}
	root := &Fragment{Location: "main.cpp", Content: make([]byte, 100), Children: []*Child{
		{Offset: 10, Fragment: a},
		{Offset: 50, Fragment: b},
	}}
	tu := &TranslationUnit{Root: root}
	tu.Layout()

	assert.Equal(t, int64(155), root.Span)
	assert.Equal(t, int64(35), a.Span)
	assert.Equal(t, int64(10), a.Start)
	assert.Equal(t, int64(13), c.Start)
	assert.Equal(t, int64(85), b.Start)

	// Everything in a.h precedes main.cpp after the include.
	assert.Less(t, a.Global(29), root.Global(11))
	assert.Less(t, c.Global(4), a.Global(4))
	assert.Less(t, root.Global(9), a.Global(0))
	assert.Less(t, b.Global(19), root.Global(51))

	var locs []string
	for _, f := range tu.Fragments() {
		locs = append(locs, f.Location)
	}
	assert.Equal(t, []string{"main.cpp", "a.h", "c.h", "b.h"}, locs)
}

func TestOffsetMap_Original(t *testing.T) {
	t.Parallel()
	// "int X;" with X expanding to "yy": output "int yy;".
	m := &OffsetMap{Segments: []MapSegment{
		{Out: 0, OutLen: 4, In: 0, InLen: 4},
		{Out: 4, OutLen: 2, In: 4, InLen: 1, Expansion: true},
		{Out: 6, OutLen: 1, In: 5, InLen: 1},
	}}
	off, n, exp := m.Original(0, 3)
	assert.Equal(t, []any{0, 3, false}, []any{off, n, exp})
	off, n, exp = m.Original(4, 2)
	assert.Equal(t, []any{4, 1, true}, []any{off, n, exp})
	off, n, exp = m.Original(6, 1)
	assert.Equal(t, []any{5, 1, false}, []any{off, n, exp})

	var empty *OffsetMap
	off, n, exp = empty.Original(7, 2)
	assert.Equal(t, []any{7, 2, false}, []any{off, n, exp})
}

func TestSelectNameAndDeclarations(t *testing.T) {
	t.Parallel()
	v := &binding.Variable{Decl: binding.Decl{SimpleName: "v", Site: binding.Origin{File: "a.cpp"}}}
	decl := &Name{Text: "v", Offset: 4, Length: 1, Role: RoleDeclaration | RoleDefinition, Binding: v}
	ref := &Name{Text: "v", Offset: 20, Length: 1, Role: RoleReference, Binding: v}
	f := &File{Location: "a.cpp", Names: []*Name{decl, ref}}
	tu := &TranslationUnit{Root: &Fragment{Location: "a.cpp", File: f}}

	assert.Same(t, ref, SelectName(f, 20, 1))
	assert.Nil(t, SelectName(f, 30, 1))

	decls := Declarations(tu, v)
	require.Len(t, decls, 1)
	assert.Same(t, decl, decls[0])

	var seen []int
	Visit(f, func(n *Name) bool {
		seen = append(seen, n.Offset)
		return false
	})
	assert.Equal(t, []int{4}, seen)
}

func TestDeclaratorFunction(t *testing.T) {
	t.Parallel()
	name := &QName{Segments: []*Segment{{Name: &Name{Text: "f"}}}}
	// int *f(): pointer, function, name.
	fnReturningPtr := &Declarator{Op: OpPointer, Inner: &Declarator{Op: OpFunction, Inner: &Declarator{Op: OpName, Name: name}}}
	// int (*f)(): function, pointer, name.
	ptrToFn := &Declarator{Op: OpFunction, Inner: &Declarator{Op: OpPointer, Inner: &Declarator{Op: OpName, Name: name}}}

	assert.NotNil(t, fnReturningPtr.Function())
	assert.Nil(t, ptrToFn.Function())
	assert.Same(t, name, ptrToFn.DeclName())
}

func TestCollectNames(t *testing.T) {
	t.Parallel()
	a := &Name{Text: "a"}
	b := &Name{Text: "b"}
	expr := &Binary{Op: "+", X: &IdExpr{Name: &QName{Segments: []*Segment{{Name: a}}}}, Y: &Member{
		X:    &This{},
		Name: &QName{Segments: []*Segment{{Name: b}}},
	}}
	assert.Equal(t, []*Name{a, b}, CollectNames(&ExprStmt{X: expr}))
}
