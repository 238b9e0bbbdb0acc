package resolve

import (
	"sync/atomic"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
)

// basicType builds a builtin type from its keywords. Common fixed-width
// typedef names that the grammar reports as primitive types map to their
// LP64 definitions.
func basicType(words []string) *binding.Basic {
	var b binding.Basic
	longs := 0
	for _, w := range words {
		switch w {
		case "void":
			b.Kind = binding.Void
		case "bool", "_Bool":
			b.Kind = binding.Bool
		case "char":
			b.Kind = binding.Char
		case "char8_t", "uint8_t":
			b.Kind, b.Mods = binding.Char, b.Mods|binding.ModUnsigned
		case "int8_t":
			b.Kind, b.Mods = binding.Char, b.Mods|binding.ModSigned
		case "wchar_t":
			b.Kind = binding.WChar
		case "char16_t":
			b.Kind = binding.Char16
		case "char32_t":
			b.Kind = binding.Char32
		case "int":
			b.Kind = binding.Int
		case "float":
			b.Kind = binding.Float
		case "double":
			b.Kind = binding.Double
		case "auto":
			b.Kind = binding.Auto
		case "nullptr_t":
			b.Kind = binding.Nullptr
		case "signed":
			b.Mods |= binding.ModSigned
		case "unsigned":
			b.Mods |= binding.ModUnsigned
		case "short":
			b.Mods |= binding.ModShort
		case "long":
			longs++
		case "int16_t":
			b.Kind, b.Mods = binding.Int, b.Mods|binding.ModShort
		case "uint16_t":
			b.Kind, b.Mods = binding.Int, b.Mods|binding.ModShort|binding.ModUnsigned
		case "int32_t":
			b.Kind = binding.Int
		case "uint32_t":
			b.Kind, b.Mods = binding.Int, b.Mods|binding.ModUnsigned
		case "int64_t", "ssize_t", "ptrdiff_t", "intptr_t":
			b.Kind, longs = binding.Int, 1
		case "uint64_t", "size_t", "uintptr_t":
			b.Kind, b.Mods, longs = binding.Int, b.Mods|binding.ModUnsigned, 1
		}
	}
	switch {
	case longs == 1:
		b.Mods |= binding.ModLong
	case longs > 1:
		b.Mods |= binding.ModLongLong
	}
	if b.Kind == binding.Unspecified && (b.Mods != 0 || longs > 0) {
		b.Kind = binding.Int
	}
	return &b
}

// qualify adds the cv-qualifiers of a decl-specifier to t.
func qualify(t binding.Type, c, v bool) binding.Type {
	if t == nil || (!c && !v) {
		return t
	}
	return &binding.Qualified{Elem: t, Const: c, Volatile: v}
}

// declaratorType applies the declarator levels of d to base, outermost
// first.
func (s *session) declaratorType(dc *declCtx, base binding.Type, d *dom.Declarator) binding.Type {
	t := base
	for cur := d; cur != nil && cur.Op != dom.OpName; cur = cur.Inner {
		switch cur.Op {
		case dom.OpPointer:
			t = &binding.Pointer{Elem: t, Const: cur.Const, Volatile: cur.Volatile}
		case dom.OpReference:
			t = &binding.Reference{Elem: t}
		case dom.OpRValueRef:
			t = &binding.Reference{Elem: t, RValue: true}
		case dom.OpArray:
			size := int64(-1)
			if cur.Size != nil {
				s.expr(dc, cur.Size)
				if v, ok := s.fold(dc.sc, cur.Size); ok {
					size = v
				}
			}
			t = &binding.Array{Elem: t, Size: size}
		case dom.OpFunction:
			t = s.functionType(dc, t, cur)
		case dom.OpMemberPointer:
			var cls binding.Type
			if cur.Class != nil {
				cls = s.typeName(dc.sc, cur.Class, false)
			}
			t = &binding.MemberPointer{Class: cls, Elem: t}
		}
	}
	return t
}

// functionType builds the type of a function declarator level.
func (s *session) functionType(dc *declCtx, result binding.Type, fd *dom.Declarator) *binding.FunctionType {
	ft := &binding.FunctionType{Result: result, Variadic: fd.Variadic, Const: fd.Const, Volatile: fd.Volatile}
	for _, p := range fd.Params {
		ft.Params = append(ft.Params, s.paramType(dc, p))
	}
	return ft
}

func (s *session) paramType(dc *declCtx, p *dom.Param) binding.Type {
	base := s.declSpec(dc, p.Spec, dom.Storage{}, false)
	return s.declaratorType(dc, base, p.Decl)
}

// typeID resolves a type-id such as the operand of a cast.
func (s *session) typeID(dc *declCtx, t *dom.TypeID) binding.Type {
	if t == nil {
		return nil
	}
	base := s.declSpec(dc, t.Spec, dom.Storage{}, false)
	return s.declaratorType(dc, base, t.Decl)
}

// plainName returns the name of a type-id that is a bare, possibly
// qualified name; such a template argument may denote a constant.
func plainName(t *dom.TypeID) *dom.QName {
	if t == nil || t.Decl != nil || t.Spec == nil {
		return nil
	}
	sp := t.Spec
	if sp.Named == nil || sp.Typename || len(sp.Keywords) > 0 || sp.Const || sp.Volatile || sp.Class != nil || sp.Enum != nil {
		return nil
	}
	return sp.Named
}

// placeholders numbers the stand-ins for dependent arguments. Negative
// positions keep them distinct from real parameters and from each other.
var placeholders atomic.Int64

// dependentValue stands for a constant argument that depends on template
// parameters; DefaultInit keeps the expression for later evaluation.
func dependentValue(e dom.Expr) *binding.TemplateParameter {
	return &binding.TemplateParameter{
		Decl:        binding.Decl{SimpleName: "?"},
		Position:    int(-placeholders.Add(1)),
		ParamKind:   binding.ParamValue,
		DefaultInit: &deferred{expr: e},
	}
}

// templateArgs resolves the template arguments of a template-id.
func (s *session) templateArgs(sc *scope, targs []*dom.TemplateArg) ([]binding.Arg, *binding.Problem) {
	dc := s.ctxFor(sc)
	out := make([]binding.Arg, 0, len(targs))
	for _, ta := range targs {
		a, ok := s.templateArg(dc, ta)
		if !ok {
			return nil, binding.NewProblem(binding.ProblemInvalidTemplateArgs, argText(ta))
		}
		out = append(out, a)
	}
	return out, nil
}

func argText(ta *dom.TemplateArg) string {
	var ns []*dom.Name
	if ta.Type != nil {
		ns = dom.CollectNames(&dom.Sizeof{Type: ta.Type})
	} else {
		ns = dom.CollectNames(ta.Expr)
	}
	if len(ns) > 0 {
		return ns[0].Text
	}
	return ""
}

func (s *session) templateArg(dc *declCtx, ta *dom.TemplateArg) (binding.Arg, bool) {
	if ta.Type != nil {
		if q := plainName(ta.Type); q != nil {
			if a, ok := s.valueName(dc, q); ok {
				return a, true
			}
		}
		t := s.typeID(dc, ta.Type)
		if t == nil {
			return binding.TypeArg(unknownType()), true
		}
		if binding.ProblemType(t) != nil {
			return binding.Arg{}, false
		}
		return binding.TypeArg(t), true
	}
	if id, ok := ta.Expr.(*dom.IdExpr); ok {
		if a, ok := s.valueName(dc, id.Name); ok {
			return a, true
		}
	}
	t := s.expr(dc, ta.Expr)
	if v, ok := s.fold(dc.sc, ta.Expr); ok {
		if t == nil {
			t = binding.Builtin(binding.Int, 0)
		}
		return binding.ValueArg(v, unref(t)), true
	}
	if s.dependentExpr(ta.Expr) {
		return binding.TypeArg(dependentValue(ta.Expr)), true
	}
	return binding.Arg{}, false
}

// unknownType stands for a type argument that names a member of a
// dependent scope.
func unknownType() *binding.TemplateParameter {
	return &binding.TemplateParameter{Decl: binding.Decl{SimpleName: "?"}, Position: int(-placeholders.Add(1))}
}

// valueName resolves a bare name used as a template argument when it
// denotes a constant or a non-type template parameter. Names of types are
// left for type resolution.
func (s *session) valueName(dc *declCtx, q *dom.QName) (binding.Arg, bool) {
	r := s.resolve(dc.sc, q, modeExpr, false)
	if r.dependent {
		s.touch(q.Last().Name)
		return binding.TypeArg(dependentValue(&dom.IdExpr{Offset: q.Last().Name.Offset, Name: q})), true
	}
	if r.failed != nil || len(r.found) != 1 {
		return binding.Arg{}, false
	}
	b := r.found[0]
	last := q.Last().Name
	switch x := b.(type) {
	case *binding.TemplateParameter:
		if x.ParamKind == binding.ParamValue {
			s.bind(last, x)
			return binding.TypeArg(x), true
		}
	case *binding.Enumerator:
		s.bind(last, x)
		var vt binding.Type = binding.Builtin(binding.Int, 0)
		if x.Enum != nil {
			vt = x.Enum
		}
		return binding.ValueArg(x.Value, vt), true
	case *binding.Variable:
		s.bind(last, x)
		if v, ok := s.constValue(x); ok {
			return binding.ValueArg(v, unref(x.Type)), true
		}
		if dependentVar(x) {
			return binding.TypeArg(dependentValue(&dom.IdExpr{Offset: last.Offset, Name: q})), true
		}
		return binding.Arg{}, false
	}
	return binding.Arg{}, false
}

// dependentVar reports whether v is a constant of a template whose value
// is only known per instance.
func dependentVar(v *binding.Variable) bool {
	_, ok := v.Init.(*deferred)
	return ok && v.Value == nil
}

// unref strips references and cv-qualifiers from the type of a constant.
func unref(t binding.Type) binding.Type {
	u := binding.Unqualified(t)
	if u == nil {
		return t
	}
	return u
}

// dependentExpr reports whether e mentions a template parameter or a name
// of a dependent scope.
func (s *session) dependentExpr(e dom.Expr) bool {
	for _, n := range dom.CollectNames(e) {
		if _, ok := n.Binding.(*binding.TemplateParameter); ok {
			return true
		}
		if n.Binding == nil && s.visited[n] {
			return true
		}
	}
	return false
}
