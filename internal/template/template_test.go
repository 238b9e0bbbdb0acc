package template

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cxxindex/internal/binding"
)

var (
	intType  = binding.Builtin(binding.Int, 0)
	charType = binding.Builtin(binding.Char, 0)
	boolType = binding.Builtin(binding.Bool, 0)
	dblType  = binding.Builtin(binding.Double, 0)
)

func site(offset int) binding.Origin { return binding.Origin{File: "/src/t.h", Offset: offset} }

func typeParam(owner binding.Binding, name string, pos int) *binding.TemplateParameter {
	return &binding.TemplateParameter{Decl: binding.Decl{SimpleName: name, Parent: owner, Site: site(pos)}, Position: pos}
}

func valueParam(owner binding.Binding, name string, pos int, vt binding.Type) *binding.TemplateParameter {
	p := typeParam(owner, name, pos)
	p.ParamKind = binding.ParamValue
	p.ValueType = vt
	return p
}

func field(owner binding.Binding, name string, t binding.Type) *binding.Variable {
	return &binding.Variable{Decl: binding.Decl{SimpleName: name, Parent: owner, Site: site(100)}, VarKind: binding.KindField, Type: t}
}

func classTemplate(name string, offset int) *binding.ClassTemplate {
	return &binding.ClassTemplate{Decl: binding.Decl{SimpleName: name, Link: binding.LinkageCPP, Site: site(offset)}}
}

func dependent(tmpl binding.Binding, args ...binding.Arg) *binding.Instance {
	return &binding.Instance{Decl: binding.Decl{SimpleName: tmpl.Name()}, Template: tmpl, Args: args}
}

// box is template<class T> struct Box { T value; Box<T>* next; }.
func box() *binding.ClassTemplate {
	ct := classTemplate("Box", 0)
	t := typeParam(ct, "T", 0)
	ct.Params = []*binding.TemplateParameter{t}
	ct.Complete = true
	ct.Members = []binding.Binding{
		field(ct, "value", t),
		field(ct, "next", &binding.Pointer{Elem: dependent(ct, binding.TypeArg(t))}),
	}
	return ct
}

func member(t *testing.T, b binding.Binding, name string) *binding.Variable {
	t.Helper()
	for _, m := range binding.Members(b) {
		if m.Name() == name {
			v, ok := m.(*binding.Variable)
			require.True(t, ok)
			return v
		}
	}
	require.Failf(t, "member not found", "%s", name)
	return nil
}

func TestInstantiate_Idempotent(t *testing.T) {
	t.Parallel()
	c := New()
	ct := box()

	a := c.Instantiate(ct, []binding.Arg{binding.TypeArg(intType)})
	b := c.Instantiate(ct, []binding.Arg{binding.TypeArg(binding.Builtin(binding.Int, 0))})
	require.IsType(t, &binding.Instance{}, a)
	assert.Same(t, a, b)

	// A typedef of int names the same argument.
	td := &binding.Typedef{Decl: binding.Decl{SimpleName: "myint", Site: site(5)}, Type: intType}
	assert.Same(t, a, c.Instantiate(ct, []binding.Arg{binding.TypeArg(td)}))

	other := c.Instantiate(ct, []binding.Arg{binding.TypeArg(charType)})
	assert.NotSame(t, a, other)
}

func TestInstantiate_SubstitutesMembers(t *testing.T) {
	t.Parallel()
	c := New()
	inst := c.Instantiate(box(), []binding.Arg{binding.TypeArg(intType)}).(*binding.Instance)

	assert.True(t, binding.SameType(intType, member(t, inst, "value").Type))
	next := member(t, inst, "next")
	ptr, ok := next.Type.(*binding.Pointer)
	require.True(t, ok)
	assert.Same(t, inst, ptr.Elem, "self reference resolves to the instance being built")
	assert.Same(t, inst, next.Owner())
	assert.True(t, inst.Complete)
}

func TestInstantiate_Defaults(t *testing.T) {
	t.Parallel()
	c := New()
	ct := classTemplate("Arr", 10)
	tp := typeParam(ct, "T", 0)
	np := valueParam(ct, "N", 1, intType)
	def := binding.ValueArg(3, intType)
	np.Default = &def
	ct.Params = []*binding.TemplateParameter{tp, np}

	short := c.Instantiate(ct, []binding.Arg{binding.TypeArg(intType)})
	long := c.Instantiate(ct, []binding.Arg{binding.TypeArg(intType), binding.ValueArg(3, intType)})
	require.IsType(t, &binding.Instance{}, short)
	assert.Same(t, short, long)
	assert.Len(t, short.(*binding.Instance).Args, 2)
}

func TestInstantiate_ValueArgsConvertToParamType(t *testing.T) {
	t.Parallel()
	c := New()
	ct := classTemplate("C", 20)
	ct.Params = []*binding.TemplateParameter{valueParam(ct, "V", 0, charType)}

	fromInt := c.Instantiate(ct, []binding.Arg{binding.ValueArg(53, intType)})
	fromChar := c.Instantiate(ct, []binding.Arg{binding.ValueArg('5', charType)})
	assert.Same(t, fromInt, fromChar)

	wrapped := c.Instantiate(ct, []binding.Arg{binding.ValueArg(256+'5', intType)})
	assert.Same(t, fromInt, wrapped, "conversion to char truncates")
}

func TestInstantiate_InvalidArgs(t *testing.T) {
	t.Parallel()
	c := New()
	ct := box()

	tests := []struct {
		name string
		args []binding.Arg
	}{
		{"too many", []binding.Arg{binding.TypeArg(intType), binding.TypeArg(intType)}},
		{"missing", nil},
		{"value for type", []binding.Arg{binding.ValueArg(1, intType)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := c.Instantiate(ct, tt.args).(*binding.Problem)
			require.True(t, ok)
			assert.Equal(t, binding.ProblemInvalidTemplateArgs, p.Code)
		})
	}
}

func TestInstantiate_ExplicitSpecialization(t *testing.T) {
	t.Parallel()
	c := New()
	ct := box()
	ex := &binding.ExplicitSpecialization{
		Decl:    binding.Decl{SimpleName: "Box", Site: site(50)},
		Primary: ct,
		Args:    []binding.Arg{binding.TypeArg(boolType)},
	}
	ct.Explicits = append(ct.Explicits, ex)

	assert.Same(t, ex, c.Instantiate(ct, []binding.Arg{binding.TypeArg(boolType)}))
	assert.IsType(t, &binding.Instance{}, c.Instantiate(ct, []binding.Arg{binding.TypeArg(intType)}))
}

func TestInstantiate_PartialSelection(t *testing.T) {
	t.Parallel()
	c := New()
	ct := classTemplate("P", 30)
	ct.Params = []*binding.TemplateParameter{typeParam(ct, "T", 0)}
	ct.Members = []binding.Binding{field(ct, "primary", intType)}

	ptr := &binding.PartialSpecialization{Decl: binding.Decl{SimpleName: "P", Site: site(40)}, Primary: ct}
	u := typeParam(ptr, "U", 0)
	ptr.Params = []*binding.TemplateParameter{u}
	ptr.Args = []binding.Arg{binding.TypeArg(&binding.Pointer{Elem: u})}
	ptr.Members = []binding.Binding{field(ptr, "elem", u)}

	cptr := &binding.PartialSpecialization{Decl: binding.Decl{SimpleName: "P", Site: site(60)}, Primary: ct}
	v := typeParam(cptr, "V", 0)
	cptr.Params = []*binding.TemplateParameter{v}
	cptr.Args = []binding.Arg{binding.TypeArg(&binding.Pointer{Elem: &binding.Qualified{Elem: v, Const: true}})}
	cptr.Members = []binding.Binding{field(cptr, "celem", v)}
	ct.Partials = []*binding.PartialSpecialization{ptr, cptr}

	plain := c.Instantiate(ct, []binding.Arg{binding.TypeArg(intType)}).(*binding.Instance)
	assert.Same(t, ct, plain.Spec)
	member(t, plain, "primary")

	p := c.Instantiate(ct, []binding.Arg{binding.TypeArg(&binding.Pointer{Elem: charType})}).(*binding.Instance)
	assert.Same(t, ptr, p.Spec)
	assert.True(t, binding.SameType(charType, member(t, p, "elem").Type))

	cp := c.Instantiate(ct, []binding.Arg{binding.TypeArg(&binding.Pointer{Elem: &binding.Qualified{Elem: charType, Const: true}})}).(*binding.Instance)
	assert.Same(t, cptr, cp.Spec, "the more specialized partial wins")
	assert.True(t, binding.SameType(charType, member(t, cp, "celem").Type))
}

func TestInstantiate_AmbiguousPartials(t *testing.T) {
	t.Parallel()
	c := New()
	ct := classTemplate("Q", 70)
	ct.Params = []*binding.TemplateParameter{typeParam(ct, "A", 0), typeParam(ct, "B", 1)}

	first := &binding.PartialSpecialization{Decl: binding.Decl{SimpleName: "Q", Site: site(80)}, Primary: ct}
	x := typeParam(first, "X", 0)
	first.Params = []*binding.TemplateParameter{x}
	first.Args = []binding.Arg{binding.TypeArg(intType), binding.TypeArg(x)}

	second := &binding.PartialSpecialization{Decl: binding.Decl{SimpleName: "Q", Site: site(90)}, Primary: ct}
	y := typeParam(second, "Y", 0)
	second.Params = []*binding.TemplateParameter{y}
	second.Args = []binding.Arg{binding.TypeArg(y), binding.TypeArg(intType)}
	ct.Partials = []*binding.PartialSpecialization{first, second}

	p, ok := c.Instantiate(ct, []binding.Arg{binding.TypeArg(intType), binding.TypeArg(intType)}).(*binding.Problem)
	require.True(t, ok)
	assert.Equal(t, binding.ProblemAmbiguous, p.Code)
	assert.Len(t, p.Candidates, 2)
}

func TestInstantiate_RecursionLimit(t *testing.T) {
	t.Parallel()
	c := New(WithMaxDepth(8))
	// template<class T> struct R { R<T*> next; };
	ct := classTemplate("R", 110)
	tp := typeParam(ct, "T", 0)
	ct.Params = []*binding.TemplateParameter{tp}
	ct.Members = []binding.Binding{field(ct, "next", dependent(ct, binding.TypeArg(&binding.Pointer{Elem: tp})))}

	cur := c.Instantiate(ct, []binding.Arg{binding.TypeArg(intType)})
	for i := 0; i < 20; i++ {
		inst, ok := cur.(*binding.Instance)
		if !ok {
			break
		}
		cur = member(t, inst, "next").Type.(binding.Binding)
	}
	p, ok := cur.(*binding.Problem)
	require.True(t, ok)
	assert.Equal(t, binding.ProblemRecursionLimit, p.Code)
}

func TestInstantiate_Concurrent(t *testing.T) {
	t.Parallel()
	c := New()
	ct := box()
	// Identities are memoised on first use; settle them before sharing.
	binding.Identity(ct)
	results := make([]binding.Binding, 16)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Instantiate(ct, []binding.Arg{binding.TypeArg(dblType)})
		}(i)
	}
	wg.Wait()
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

// maxTemplate is template<class T> T max(T, T).
func maxTemplate() *binding.FunctionTemplate {
	ft := &binding.FunctionTemplate{Decl: binding.Decl{SimpleName: "max", Link: binding.LinkageCPP, Site: site(200)}}
	tp := typeParam(ft, "T", 0)
	ft.Params = []*binding.TemplateParameter{tp}
	ft.Func = &binding.Function{
		Decl: binding.Decl{SimpleName: "max", Parent: ft, Site: site(200)},
		Type: &binding.FunctionType{Result: tp, Params: []binding.Type{tp, tp}},
	}
	return ft
}

func TestInstantiateFunction_Deduction(t *testing.T) {
	t.Parallel()
	c := New()
	ft := maxTemplate()

	got := c.InstantiateFunction(ft, nil, []binding.Type{intType, intType})
	inst, ok := got.(*binding.Instance)
	require.True(t, ok)
	require.NotNil(t, inst.Func)
	assert.True(t, binding.SameType(intType, inst.Func.Type.Result))
	assert.Same(t, got, c.InstantiateFunction(ft, nil, []binding.Type{intType, intType}))

	// References and cv-qualifiers on the argument do not take part.
	ref := &binding.Reference{Elem: &binding.Qualified{Elem: intType, Const: true}}
	assert.Same(t, got, c.InstantiateFunction(ft, nil, []binding.Type{ref, intType}))

	explicit := c.InstantiateFunction(ft, []binding.Arg{binding.TypeArg(dblType)}, []binding.Type{intType, intType})
	require.IsType(t, &binding.Instance{}, explicit)
	assert.True(t, binding.SameType(dblType, explicit.(*binding.Instance).Func.Type.Result))

	p, ok := c.InstantiateFunction(ft, nil, []binding.Type{intType, dblType}).(*binding.Problem)
	require.True(t, ok)
	assert.Equal(t, binding.ProblemInvalidTemplateArgs, p.Code)
}

func TestMatch(t *testing.T) {
	t.Parallel()
	ps := &binding.PartialSpecialization{Decl: binding.Decl{SimpleName: "S"}}
	u := typeParam(ps, "U", 0)
	n := valueParam(ps, "N", 1, intType)
	patterns := []binding.Arg{binding.TypeArg(&binding.Array{Elem: u, Size: 4}), binding.TypeArg(n)}

	s, ok := Match([]*binding.TemplateParameter{u, n}, patterns,
		[]binding.Arg{binding.TypeArg(&binding.Array{Elem: charType, Size: 4}), binding.ValueArg(4, intType)})
	require.True(t, ok)
	a, _ := s.Lookup(u)
	assert.True(t, binding.SameType(charType, a.Type))
	v, _ := s.Lookup(n)
	assert.Equal(t, int64(4), v.Value.Int)

	_, ok = Match([]*binding.TemplateParameter{u, n}, patterns,
		[]binding.Arg{binding.TypeArg(charType), binding.ValueArg(4, intType)})
	assert.False(t, ok)
}

func TestPurge(t *testing.T) {
	t.Parallel()
	c := New()
	ct := box()
	a := c.Instantiate(ct, []binding.Arg{binding.TypeArg(intType)})
	assert.Positive(t, c.Len())
	c.Purge()
	assert.Zero(t, c.Len())
	assert.NotSame(t, a, c.Instantiate(ct, []binding.Arg{binding.TypeArg(intType)}))
}
