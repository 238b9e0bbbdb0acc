package template

import (
	"github.com/jward/cxxindex/internal/binding"
)

// deducer binds the parameters of one template by matching patterns
// against actual types and arguments.
type deducer struct {
	params map[string]*binding.TemplateParameter
	subst  Subst
	// fixed parameters were given explicitly and take no part in deduction.
	fixed map[string]bool
}

func newDeducer(params []*binding.TemplateParameter) *deducer {
	d := &deducer{params: make(map[string]*binding.TemplateParameter, len(params)), subst: Subst{}}
	for _, p := range params {
		d.params[binding.Identity(p)] = p
	}
	return d
}

// param returns t as one of the deduced parameters.
func (d *deducer) param(t binding.Type) (*binding.TemplateParameter, bool) {
	p, ok := t.(*binding.TemplateParameter)
	if !ok {
		return nil, false
	}
	_, own := d.params[binding.Identity(p)]
	return p, own
}

func (d *deducer) bind(p *binding.TemplateParameter, a binding.Arg) bool {
	if d.fixed[binding.Identity(p)] {
		return true
	}
	if prev, ok := d.subst.Lookup(p); ok {
		return binding.SameArg(prev, a)
	}
	d.subst.Bind(p, a)
	return true
}

// typ matches pattern against actual.
func (d *deducer) typ(pattern, actual binding.Type) bool {
	if actual == nil {
		return false
	}
	if p, ok := d.param(pattern); ok {
		return d.bind(p, binding.TypeArg(actual))
	}
	pattern = binding.Normalize(pattern)
	a := binding.Normalize(actual)
	switch x := pattern.(type) {
	case *binding.Pointer:
		y, ok := a.(*binding.Pointer)
		return ok && x.Const == y.Const && x.Volatile == y.Volatile && d.typ(x.Elem, y.Elem)
	case *binding.Reference:
		y, ok := a.(*binding.Reference)
		return ok && x.RValue == y.RValue && d.typ(x.Elem, y.Elem)
	case *binding.Qualified:
		y, ok := a.(*binding.Qualified)
		if !ok || (x.Const && !y.Const) || (x.Volatile && !y.Volatile) {
			return false
		}
		rest := binding.Type(y.Elem)
		if c, v := y.Const && !x.Const, y.Volatile && !x.Volatile; c || v {
			rest = &binding.Qualified{Elem: y.Elem, Const: c, Volatile: v}
		}
		return d.typ(x.Elem, rest)
	case *binding.Array:
		y, ok := a.(*binding.Array)
		return ok && x.Size == y.Size && d.typ(x.Elem, y.Elem)
	case *binding.FunctionType:
		y, ok := a.(*binding.FunctionType)
		if !ok || len(x.Params) != len(y.Params) || x.Variadic != y.Variadic {
			return false
		}
		if !d.typ(x.Result, y.Result) {
			return false
		}
		for i := range x.Params {
			if !d.typ(binding.AdjustParam(x.Params[i]), binding.AdjustParam(y.Params[i])) {
				return false
			}
		}
		return true
	case *binding.MemberPointer:
		y, ok := a.(*binding.MemberPointer)
		return ok && d.typ(x.Class, y.Class) && d.typ(x.Elem, y.Elem)
	case *binding.Instance:
		if !DependentArgs(x.Args) {
			return binding.SameType(x, a)
		}
		y, ok := a.(*binding.Instance)
		if !ok || binding.Identity(y.Template) != binding.Identity(x.Template) || len(x.Args) != len(y.Args) {
			return false
		}
		return d.args(x.Args, y.Args)
	}
	return binding.SameType(pattern, a)
}

// arg matches one argument pattern.
func (d *deducer) arg(pattern, actual binding.Arg) bool {
	if !pattern.IsValue() {
		if p, ok := d.param(pattern.Type); ok && p.ParamKind == binding.ParamValue {
			return actual.IsValue() && d.bind(p, actual)
		}
		if actual.IsValue() {
			return false
		}
		return d.typ(pattern.Type, actual.Type)
	}
	if !actual.IsValue() {
		// A value parameter of another template is not a known constant.
		return false
	}
	return pattern.Value.Int == actual.Value.Int
}

func (d *deducer) args(patterns, actual []binding.Arg) bool {
	if len(patterns) != len(actual) {
		return false
	}
	for i := range patterns {
		if !d.arg(patterns[i], actual[i]) {
			return false
		}
	}
	return true
}

// Match deduces params so that patterns equal args.
func Match(params []*binding.TemplateParameter, patterns, args []binding.Arg) (Subst, bool) {
	d := newDeducer(params)
	if !d.args(patterns, args) {
		return nil, false
	}
	return d.subst, true
}

// DeduceCall deduces the parameters of a function template from the
// types of call arguments. Explicit arguments bind leading parameters.
// Arguments of unknown type are skipped.
func DeduceCall(ft *binding.FunctionTemplate, explicit []binding.Arg, argTypes []binding.Type) (Subst, bool) {
	if ft.Func == nil || ft.Func.Type == nil {
		return nil, false
	}
	if len(explicit) > len(ft.Params) {
		return nil, false
	}
	d := newDeducer(ft.Params)
	d.fixed = make(map[string]bool, len(explicit))
	for i, a := range explicit {
		d.subst.Bind(ft.Params[i], a)
		d.fixed[binding.Identity(ft.Params[i])] = true
	}
	params := ft.Func.Type.Params
	if len(argTypes) > len(params) && !ft.Func.Type.Variadic {
		return nil, false
	}
	for i, at := range argTypes {
		if i >= len(params) || at == nil {
			continue
		}
		p := params[i]
		if !Dependent(p) {
			continue
		}
		// Reference parameters bind the argument type itself; by-value
		// parameters see the decayed, unqualified type.
		if r, ok := binding.Normalize(p).(*binding.Reference); ok {
			target := binding.Normalize(at)
			if rr, ok := target.(*binding.Reference); ok {
				target = binding.Normalize(rr.Elem)
			}
			if q, ok := binding.Normalize(r.Elem).(*binding.Qualified); ok {
				if tq, ok := target.(*binding.Qualified); ok {
					target = stripCV(tq, q.Const, q.Volatile)
				}
				if !d.typ(q.Elem, target) {
					return nil, false
				}
				continue
			}
			if !d.typ(r.Elem, target) {
				return nil, false
			}
			continue
		}
		if !d.typ(binding.AdjustParam(p), decay(at)) {
			return nil, false
		}
	}
	return d.subst, true
}

func stripCV(q *binding.Qualified, c, v bool) binding.Type {
	nc, nv := q.Const && !c, q.Volatile && !v
	if !nc && !nv {
		return q.Elem
	}
	return &binding.Qualified{Elem: q.Elem, Const: nc, Volatile: nv}
}

// decay applies the argument conversions of pass-by-value.
func decay(t binding.Type) binding.Type {
	t = binding.Normalize(t)
	if r, ok := t.(*binding.Reference); ok {
		t = binding.Normalize(r.Elem)
	}
	return binding.AdjustParam(t)
}

// moreSpecialized reports whether a is at least as specialized as b: the
// arguments of b deduce from the arguments of a.
func moreSpecialized(a, b *binding.PartialSpecialization) bool {
	_, ok := Match(b.Params, b.Args, a.Args)
	return ok
}
