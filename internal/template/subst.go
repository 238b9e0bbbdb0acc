package template

import (
	"github.com/jward/cxxindex/internal/binding"
)

// Subst maps template parameter identities to their arguments.
type Subst map[string]binding.Arg

// Bind records the argument of p.
func (s Subst) Bind(p *binding.TemplateParameter, a binding.Arg) { s[binding.Identity(p)] = a }

// Lookup returns the argument bound to p.
func (s Subst) Lookup(p *binding.TemplateParameter) (binding.Arg, bool) {
	a, ok := s[binding.Identity(p)]
	return a, ok
}

// Dependent reports whether t mentions a template parameter.
func Dependent(t binding.Type) bool {
	switch x := t.(type) {
	case nil:
		return false
	case *binding.TemplateParameter:
		return true
	case *binding.Pointer:
		return Dependent(x.Elem)
	case *binding.Reference:
		return Dependent(x.Elem)
	case *binding.Qualified:
		return Dependent(x.Elem)
	case *binding.Array:
		return Dependent(x.Elem)
	case *binding.MemberPointer:
		return Dependent(x.Class) || Dependent(x.Elem)
	case *binding.FunctionType:
		if Dependent(x.Result) {
			return true
		}
		for _, p := range x.Params {
			if Dependent(p) {
				return true
			}
		}
	case *binding.Instance:
		return DependentArgs(x.Args)
	case *binding.Typedef:
		if u := binding.Unwrap(x); u != binding.Type(x) {
			return Dependent(u)
		}
	}
	return false
}

// DependentArgs reports whether any argument mentions a template
// parameter.
func DependentArgs(args []binding.Arg) bool {
	for _, a := range args {
		if a.IsValue() {
			if Dependent(a.ValueType) {
				return true
			}
			continue
		}
		if Dependent(a.Type) {
			return true
		}
	}
	return false
}

// substituter rewrites types under a substitution. Nested classes of the
// specialization being instantiated are mapped to their copies in the
// instance, and the template itself to the instance.
type substituter struct {
	b      *builder
	subst  Subst
	mapped map[binding.Binding]binding.Binding
	depth  int
}

func (s *substituter) typ(t binding.Type) binding.Type {
	switch x := t.(type) {
	case nil:
		return nil
	case *binding.Basic, *binding.Problem:
		return t
	case *binding.TemplateParameter:
		if a, ok := s.subst.Lookup(x); ok && !a.IsValue() {
			return a.Type
		}
		return t
	case *binding.Pointer:
		return &binding.Pointer{Elem: s.typ(x.Elem), Const: x.Const, Volatile: x.Volatile}
	case *binding.Reference:
		elem := s.typ(x.Elem)
		// Reference collapsing: T& with T = U&& is U&.
		if r, ok := binding.Normalize(elem).(*binding.Reference); ok {
			return &binding.Reference{Elem: r.Elem, RValue: x.RValue && r.RValue}
		}
		return &binding.Reference{Elem: elem, RValue: x.RValue}
	case *binding.Qualified:
		return &binding.Qualified{Elem: s.typ(x.Elem), Const: x.Const, Volatile: x.Volatile}
	case *binding.Array:
		return &binding.Array{Elem: s.typ(x.Elem), Size: x.Size}
	case *binding.FunctionType:
		return s.fn(x)
	case *binding.MemberPointer:
		return &binding.MemberPointer{Class: s.typ(x.Class), Elem: s.typ(x.Elem)}
	case *binding.Instance:
		if !DependentArgs(x.Args) {
			return t
		}
		args := s.args(x.Args)
		if DependentArgs(args) {
			return t
		}
		if inst, ok := s.b.instantiate(x.Template, args, s.depth+1).(binding.Type); ok {
			return inst
		}
		return binding.NewProblem(binding.ProblemTypeNotComputable, x.Name())
	case binding.Binding:
		if m, ok := s.mapped[x]; ok {
			if mt, ok := m.(binding.Type); ok {
				return mt
			}
		}
		if td, ok := x.(*binding.Typedef); ok && Dependent(td.Type) {
			return s.typ(td.Type)
		}
		return t
	}
	return t
}

func (s *substituter) fn(ft *binding.FunctionType) *binding.FunctionType {
	if ft == nil {
		return nil
	}
	out := &binding.FunctionType{Result: s.typ(ft.Result), Variadic: ft.Variadic, Const: ft.Const, Volatile: ft.Volatile}
	for _, p := range ft.Params {
		out.Params = append(out.Params, s.typ(p))
	}
	return out
}

func (s *substituter) arg(a binding.Arg) binding.Arg {
	if a.IsValue() {
		return binding.ValueArg(a.Value.Int, s.typ(a.ValueType))
	}
	// A value parameter used as an argument stands for its bound value.
	if p, ok := a.Type.(*binding.TemplateParameter); ok {
		if b, ok := s.subst.Lookup(p); ok {
			return b
		}
		return a
	}
	return binding.TypeArg(s.typ(a.Type))
}

func (s *substituter) args(args []binding.Arg) []binding.Arg {
	out := make([]binding.Arg, len(args))
	for i, a := range args {
		out[i] = s.arg(a)
	}
	return out
}

// members copies the members of body into the instance owner.
func (s *substituter) members(owner binding.Binding, body *binding.ClassBody, into *binding.ClassBody) {
	// Nested classes first, so member types can refer to their copies.
	var copies []func()
	for _, m := range body.Members {
		switch x := m.(type) {
		case *binding.Composite:
			cp := &binding.Composite{Decl: s.decl(x, owner)}
			cp.Key = x.Key
			cp.Complete = x.Complete
			s.mapped[x] = cp
			copies = append(copies, func() { s.members(cp, &x.ClassBody, &cp.ClassBody) })
		case *binding.Enumeration:
			cp := &binding.Enumeration{Decl: s.decl(x, owner), Fixed: x.Fixed}
			s.mapped[x] = cp
			for _, e := range x.Enumerators {
				ecp := &binding.Enumerator{Decl: s.decl(e, owner), Value: e.Value, Enum: cp}
				if x.Flags().Has(binding.FlagScoped) {
					ecp.Parent = cp
				}
				s.mapped[e] = ecp
				cp.Enumerators = append(cp.Enumerators, ecp)
			}
		}
	}
	for _, f := range copies {
		f()
	}
	for _, b := range body.Bases {
		into.Bases = append(into.Bases, binding.Base{Type: s.typ(b.Type), Virtual: b.Virtual, Access: b.Access})
	}
	for _, m := range body.Members {
		if cp := s.member(m, owner); cp != nil {
			into.Members = append(into.Members, cp)
		}
	}
}

func (s *substituter) decl(b binding.Binding, owner binding.Binding) binding.Decl {
	d := binding.Common(b)
	return binding.Decl{SimpleName: d.SimpleName, Parent: owner, Link: d.Link, Attrs: d.Attrs, Site: d.Site}
}

func (s *substituter) member(m binding.Binding, owner binding.Binding) binding.Binding {
	if cp, ok := s.mapped[m]; ok {
		return cp
	}
	switch x := m.(type) {
	case *binding.Variable:
		cp := &binding.Variable{Decl: s.decl(x, owner), VarKind: x.VarKind, Type: s.typ(x.Type), Value: x.Value,
			Position: x.Position, HasDefault: x.HasDefault, Init: x.Init}
		s.mapped[x] = cp
		return cp
	case *binding.Function:
		cp := s.function(x, owner)
		s.mapped[x] = cp
		return cp
	case *binding.Typedef:
		cp := &binding.Typedef{Decl: s.decl(x, owner), Type: s.typ(x.Type)}
		s.mapped[x] = cp
		return cp
	case *binding.FunctionTemplate:
		cp := &binding.FunctionTemplate{Decl: s.decl(x, owner), Params: x.Params}
		if x.Func != nil {
			cp.Func = s.function(x.Func, owner)
		}
		s.mapped[x] = cp
		return cp
	case *binding.ClassTemplate:
		// Member templates keep their body; the enclosing arguments are
		// applied when the copy itself is instantiated.
		cp := &binding.ClassTemplate{Decl: s.decl(x, owner), ClassBody: x.ClassBody, Params: x.Params,
			Partials: x.Partials, Explicits: x.Explicits}
		s.mapped[x] = cp
		return cp
	}
	// Anything else stays shared with the template.
	return m
}

func (s *substituter) function(f *binding.Function, owner binding.Binding) *binding.Function {
	cp := &binding.Function{Decl: s.decl(f, owner), FuncKind: f.FuncKind, Type: s.fn(f.Type)}
	for _, p := range f.Params {
		pc := &binding.Variable{Decl: s.decl(p, cp), VarKind: p.VarKind, Type: s.typ(p.Type),
			Position: p.Position, HasDefault: p.HasDefault}
		cp.Params = append(cp.Params, pc)
	}
	return cp
}
