package binding

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStruct(name, file string, owner Binding) *Composite {
	return &Composite{Decl: Decl{SimpleName: name, Parent: owner, Link: LinkageCPP, Site: Origin{File: file}}}
}

func TestQualifiedName(t *testing.T) {
	t.Parallel()
	ns := &Namespace{Decl: Decl{SimpleName: "a", Link: LinkageCPP}}
	inner := &Namespace{Decl: Decl{SimpleName: "b", Parent: ns, Link: LinkageCPP}}
	cls := newStruct("C", "/p/x.h", inner)
	fn := &Function{Decl: Decl{SimpleName: "f", Parent: cls, Link: LinkageCPP}, FuncKind: KindMethod}
	local := &Variable{Decl: Decl{SimpleName: "x", Parent: fn}}

	assert.Equal(t, []string{"a", "b", "C", "f"}, QualifiedName(fn))
	assert.Equal(t, "a::b::C", QualifiedString(cls))
	assert.Equal(t, []string{"a", "b", "C", "x"}, QualifiedName(local))

	anon := &Composite{Decl: Decl{Parent: ns, Site: Origin{File: "/p/y.h", Offset: 12}, Attrs: FlagAnonymous}}
	field := &Variable{Decl: Decl{SimpleName: "m", Parent: anon}, VarKind: KindField}
	assert.Equal(t, []string{"a", "", "m"}, QualifiedName(field))
	assert.Equal(t, "a::{anon:y.h@12}", OwnerKey(field))
}

func TestIdentity_DistinguishesOrigin(t *testing.T) {
	t.Parallel()
	s1 := newStruct("S", "/p/h1.h", nil)
	s2 := newStruct("S", "/p/h2.h", nil)
	s1again := newStruct("S", "/p/h1.h", nil)

	assert.NotEqual(t, Identity(s1), Identity(s2))
	assert.Equal(t, Identity(s1), Identity(s1again))
	assert.Equal(t, EntityKey(s1), EntityKey(s2))
	assert.False(t, SameType(s1, s2))
	assert.True(t, SameType(s1, s1again))
}

func TestIdentity_NamespacesIgnoreOrigin(t *testing.T) {
	t.Parallel()
	a := &Namespace{Decl: Decl{SimpleName: "n", Link: LinkageCPP, Site: Origin{File: "/p/a.h"}}}
	b := &Namespace{Decl: Decl{SimpleName: "n", Link: LinkageCPP, Site: Origin{File: "/p/b.h"}}}
	assert.Equal(t, Identity(a), Identity(b))
}

func TestIdentity_OverloadsDiffer(t *testing.T) {
	t.Parallel()
	intT := Builtin(Int, 0)
	f0 := &Function{Decl: Decl{SimpleName: "f", Link: LinkageCPP}, Type: &FunctionType{Result: Builtin(Void, 0)}}
	f1 := &Function{Decl: Decl{SimpleName: "f", Link: LinkageCPP}, Type: &FunctionType{Result: Builtin(Void, 0), Params: []Type{intT}}}
	f1c := &Function{Decl: Decl{SimpleName: "f", Link: LinkageCPP}, Type: &FunctionType{Result: Builtin(Void, 0), Params: []Type{&Qualified{Elem: intT, Const: true}}}}

	assert.NotEqual(t, Identity(f0), Identity(f1))
	// Top-level const on a parameter does not change the signature.
	assert.Equal(t, Identity(f1), Identity(f1c))
}

func TestSameType(t *testing.T) {
	t.Parallel()
	intT := Builtin(Int, 0)
	signedInt := Builtin(Int, ModSigned)
	s := newStruct("S", "/p/s.h", nil)
	td := &Typedef{Decl: Decl{SimpleName: "S", Site: Origin{File: "/p/s.h"}}, Type: s}
	td2 := &Typedef{Decl: Decl{SimpleName: "T"}, Type: td}

	tests := []struct {
		name string
		a, b Type
		want bool
	}{
		{"int vs signed int", intT, signedInt, true},
		{"int vs unsigned", intT, Builtin(Int, ModUnsigned), false},
		{"char vs signed char", Builtin(Char, 0), Builtin(Char, ModSigned), false},
		{"typedef of struct", td, s, true},
		{"typedef chain", td2, s, true},
		{"pointer to typedef", &Pointer{Elem: td2}, &Pointer{Elem: s}, true},
		{"const mismatch", &Qualified{Elem: intT, Const: true}, intT, false},
		{"nested qualifiers merge", &Qualified{Elem: &Qualified{Elem: intT, Const: true}, Volatile: true},
			&Qualified{Elem: intT, Const: true, Volatile: true}, true},
		{"arrays by size", &Array{Elem: intT, Size: 3}, &Array{Elem: intT, Size: 4}, false},
		{"function param adjust", &FunctionType{Result: intT, Params: []Type{&Array{Elem: intT, Size: -1}}},
			&FunctionType{Result: intT, Params: []Type{&Pointer{Elem: intT}}}, true},
		{"problem never same", NewProblem(ProblemNameNotFound, "x"), NewProblem(ProblemNameNotFound, "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameType(tt.a, tt.b))
		})
	}
}

func TestTypeString(t *testing.T) {
	t.Parallel()
	intT := Builtin(Int, 0)
	charT := Builtin(Char, 0)
	assert.Equal(t, "unsigned long", TypeString(Builtin(Int, ModUnsigned|ModLong)))
	assert.Equal(t, "const char *", TypeString(&Pointer{Elem: &Qualified{Elem: charT, Const: true}}))
	assert.Equal(t, "int (*)(int, ...)", TypeString(&Pointer{Elem: &FunctionType{Result: intT, Params: []Type{intT}, Variadic: true}}))
	assert.Equal(t, "int [3]", TypeString(&Array{Elem: intT, Size: 3}))
}

func TestEncodeDecodeType(t *testing.T) {
	t.Parallel()
	s := newStruct("S", "/p/s.h", nil)
	records := map[int64]Binding{-7: s}
	ref := func(b Binding) (int64, bool) {
		for id, r := range records {
			if r == b {
				return id, true
			}
		}
		return 0, false
	}
	lookup := func(id int64) (Binding, error) {
		if b, ok := records[id]; ok {
			return b, nil
		}
		return nil, fmt.Errorf("no record %d", id)
	}

	types := []Type{
		Builtin(Int, ModUnsigned|ModLongLong),
		&Pointer{Elem: &Qualified{Elem: s, Const: true}, Volatile: true},
		&Reference{Elem: s, RValue: true},
		&Array{Elem: Builtin(Char, 0), Size: -1},
		&FunctionType{Result: Builtin(Void, 0), Params: []Type{s, &Pointer{Elem: s}}, Const: true},
		&MemberPointer{Class: s, Elem: Builtin(Int, 0)},
		&FunctionType{Result: Builtin(Int, 0)},
	}
	for _, typ := range types {
		enc, err := EncodeType(typ, ref)
		require.NoError(t, err)
		dec, err := DecodeType(enc, lookup)
		require.NoError(t, err, enc)
		assert.True(t, SameType(typ, dec), "round trip of %s via %s", TypeString(typ), enc)
	}

	_, err := EncodeType(newStruct("U", "/p/u.h", nil), ref)
	assert.Error(t, err)
	_, err = DecodeType("p0(b7.0", lookup)
	assert.Error(t, err)
}

func TestEncodeDecodeArgs(t *testing.T) {
	t.Parallel()
	none := func(Binding) (int64, bool) { return 0, false }
	noLookup := func(int64) (Binding, error) { return nil, fmt.Errorf("unexpected lookup") }
	args := []Arg{
		TypeArg(&Pointer{Elem: Builtin(Int, 0)}),
		ValueArg(53, Builtin(Char, 0)),
		ValueArg(-1, Builtin(Int, 0)),
	}
	enc, err := EncodeArgs(args, none)
	require.NoError(t, err)
	dec, err := DecodeArgs(enc, noLookup)
	require.NoError(t, err)
	require.Len(t, dec, 3)
	assert.Equal(t, ArgsKey(args), ArgsKey(dec))
}

func TestArgKeys_TypeDriven(t *testing.T) {
	t.Parallel()
	charT := Builtin(Char, 0)
	intT := Builtin(Int, 0)

	five := ValueArg(Convert(5, charT), charT)
	charFive := ValueArg(Convert('5', charT), charT)
	assert.NotEqual(t, five.Key(), charFive.Key())
	assert.Equal(t, ValueArg(53, charT).Key(), charFive.Key())
	assert.NotEqual(t, ValueArg(53, intT).Key(), charFive.Key())
	assert.Equal(t, "'5'", charFive.String())
}

func TestConvert(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(-1), Convert(255, Builtin(Char, 0)))
	assert.Equal(t, int64(255), Convert(255, Builtin(Char, ModUnsigned)))
	assert.Equal(t, int64(1), Convert(42, Builtin(Bool, 0)))
	assert.Equal(t, int64(-2147483648), Convert(2147483648, Builtin(Int, 0)))
	assert.Equal(t, int64(2147483648), Convert(2147483648, Builtin(Int, ModLong)))
	assert.Equal(t, int64(65535), Convert(-1, Builtin(Int, ModUnsigned|ModShort)))
}

func TestFunctionRequiredArgs(t *testing.T) {
	t.Parallel()
	intT := Builtin(Int, 0)
	f := &Function{
		Type: &FunctionType{Result: intT, Params: []Type{intT, intT, intT}},
		Params: []*Variable{
			{VarKind: KindParameter},
			{VarKind: KindParameter, HasDefault: true},
			{VarKind: KindParameter, HasDefault: true},
		},
	}
	assert.Equal(t, 1, f.RequiredArgs())
	g := &Function{Type: &FunctionType{Result: intT, Params: []Type{intT}}}
	assert.Equal(t, 1, g.RequiredArgs())
}

func TestProblemError(t *testing.T) {
	t.Parallel()
	a := newStruct("A", "/p/a.h", nil)
	p := NewProblem(ProblemAmbiguous, "A", a, newStruct("A", "/p/b.h", nil))
	assert.Equal(t, "ambiguous: A (candidates: A, A)", p.Error())
	assert.True(t, IsProblem(p))
	assert.False(t, IsProblem(a))
	assert.Same(t, p, ProblemType(&Pointer{Elem: p}))
}

func TestKindRoundTrip(t *testing.T) {
	t.Parallel()
	for k := KindProblem; k <= KindMethod; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("bogus")
	assert.Error(t, err)
}
