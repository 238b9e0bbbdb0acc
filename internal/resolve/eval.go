package resolve

import (
	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/consteval"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/template"
)

// deferred is an initializer that could not be folded where it was
// declared because it depends on template parameters. It is kept as the
// Init of variables and the DefaultInit of template parameters.
type deferred struct {
	expr dom.Expr
}

// env adapts a session scope to constant evaluation. Names are resolved
// and bound as they are evaluated.
type env struct {
	s  *session
	sc *scope
}

func (e env) Ident(x *dom.IdExpr) (int64, bool) {
	last := x.Name.Last().Name
	b := last.Binding
	if b == nil && !e.s.visited[last] {
		r := e.s.resolve(e.sc, x.Name, modeExpr, false)
		if r.dependent {
			e.s.touch(last)
			return 0, false
		}
		b = e.s.pick(last, r)
		e.s.bind(last, b)
	}
	return e.s.constValue(b)
}

func (e env) Type(t *dom.TypeID) binding.Type {
	return e.s.typeID(e.s.ctxFor(e.sc), t)
}

func (s *session) fold(sc *scope, x dom.Expr) (int64, bool) {
	return consteval.Eval(x, env{s: s, sc: sc})
}

// constValue returns the value of a constant binding. Static constants of
// class template instances are evaluated on first use with the arguments
// of their instance.
func (s *session) constValue(b binding.Binding) (int64, bool) {
	switch x := b.(type) {
	case *binding.Enumerator:
		return x.Value, true
	case *binding.Variable:
		if x.Value != nil {
			return x.Value.Int, true
		}
		d, ok := x.Init.(*deferred)
		if !ok {
			return 0, false
		}
		inst, ok := x.Owner().(*binding.Instance)
		if !ok || template.DependentArgs(inst.Args) {
			return 0, false
		}
		if !s.enter() {
			return 0, false
		}
		defer s.leave()
		return consteval.Eval(d.expr, &substEnv{subst: inst.Subst, inst: s.cache, depth: s.depth, max: s.opts.MaxDepth})
	}
	return 0, false
}

// DefaultEvaluator folds value defaults of template parameters that refer
// to other parameters, as in `template<int N, int M = N * 2>`. The names
// of the default expression must have been bound by Resolve.
var DefaultEvaluator template.Evaluator = defaultEvaluator{}

type defaultEvaluator struct{}

func (defaultEvaluator) Default(p *binding.TemplateParameter, subst template.Subst, inst template.Instantiator) (binding.Arg, bool) {
	d, ok := p.DefaultInit.(*deferred)
	if !ok {
		return binding.Arg{}, false
	}
	v, ok := consteval.Eval(d.expr, &substEnv{subst: subst, inst: inst, max: template.DefaultMaxDepth})
	if !ok {
		return binding.Arg{}, false
	}
	return binding.ValueArg(v, p.ValueType), true
}

// substEnv evaluates already bound expressions under a template argument
// substitution.
type substEnv struct {
	subst template.Subst
	inst  template.Instantiator
	depth int
	max   int
}

func (e *substEnv) Ident(x *dom.IdExpr) (int64, bool) {
	last := x.Name.Last()
	switch b := last.Name.Binding.(type) {
	case *binding.TemplateParameter:
		return e.param(b)
	case *binding.Enumerator:
		return b.Value, true
	case *binding.Variable:
		if b.Value != nil {
			return b.Value.Int, true
		}
	}
	// A member of a dependent instance, such as `Fact<N - 1>::value`.
	if len(x.Name.Segments) < 2 {
		return 0, false
	}
	q := x.Name.Segments[len(x.Name.Segments)-2]
	dep, ok := q.Name.Binding.(*binding.Instance)
	if !ok || e.inst == nil {
		return 0, false
	}
	args := make([]binding.Arg, len(dep.Args))
	for i, a := range dep.Args {
		sa, ok := e.arg(a)
		if !ok {
			return 0, false
		}
		args[i] = sa
	}
	if e.depth >= e.max {
		return 0, false
	}
	// An explicit specialization is returned as is and has no substitution.
	res, ok := e.inst.Instantiate(dep.Template, args).(binding.Class)
	if !ok {
		return 0, false
	}
	var subst template.Subst
	if inst, ok := res.(*binding.Instance); ok {
		subst = inst.Subst
	}
	for _, m := range res.Body().Members {
		v, ok := m.(*binding.Variable)
		if !ok || v.Name() != last.Name.Text {
			continue
		}
		if v.Value != nil {
			return v.Value.Int, true
		}
		if d, ok := v.Init.(*deferred); ok {
			return consteval.Eval(d.expr, &substEnv{subst: subst, inst: e.inst, depth: e.depth + 1, max: e.max})
		}
	}
	return 0, false
}

// param returns the bound value of a template parameter, evaluating the
// expression of a dependent constant argument.
func (e *substEnv) param(p *binding.TemplateParameter) (int64, bool) {
	if d, ok := p.DefaultInit.(*deferred); ok && p.Position < 0 {
		return consteval.Eval(d.expr, e)
	}
	a, ok := e.subst.Lookup(p)
	if !ok {
		return 0, false
	}
	if a.IsValue() {
		return a.Value.Int, true
	}
	if tp, ok := a.Type.(*binding.TemplateParameter); ok && tp != p {
		return e.param(tp)
	}
	return 0, false
}

// arg substitutes a dependent instance argument.
func (e *substEnv) arg(a binding.Arg) (binding.Arg, bool) {
	if a.IsValue() {
		return a, true
	}
	tp, ok := a.Type.(*binding.TemplateParameter)
	if !ok {
		if template.Dependent(a.Type) {
			return binding.Arg{}, false
		}
		return a, true
	}
	if tp.ParamKind != binding.ParamValue {
		sa, ok := e.subst.Lookup(tp)
		return sa, ok
	}
	v, ok := e.param(tp)
	if !ok {
		return binding.Arg{}, false
	}
	vt := tp.ValueType
	if vt == nil {
		vt = binding.Builtin(binding.Int, 0)
	}
	return binding.ValueArg(v, vt), true
}

func (e *substEnv) Type(t *dom.TypeID) binding.Type {
	if t == nil || t.Spec == nil {
		return nil
	}
	if len(t.Spec.Keywords) > 0 {
		return basicType(t.Spec.Keywords)
	}
	if t.Spec.Named == nil {
		return nil
	}
	switch b := t.Spec.Named.Last().Name.Binding.(type) {
	case *binding.TemplateParameter:
		if a, ok := e.subst.Lookup(b); ok && !a.IsValue() {
			return a.Type
		}
	case binding.Type:
		return b
	}
	return nil
}
