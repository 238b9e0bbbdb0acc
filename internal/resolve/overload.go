package resolve

import (
	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/template"
)

// Conversion ranks of one argument, best first.
const (
	rankExact = iota
	rankPromotion
	rankConversion
	rankUserDefined
	rankEllipsis
	rankNone = -1
)

type viable struct {
	b     binding.Binding
	ranks []int
	tmpl  bool
}

// overload selects the best function of an overload set for a call with
// the given arguments. Function templates take part through argument
// deduction. When no candidate is viable a lone candidate is still
// returned; several yield an ambiguity problem.
func (s *session) overload(n *dom.Name, cands []binding.Binding, explicit []binding.Arg, hasExplicit bool, args []dom.Expr, types []binding.Type) binding.Binding {
	var vs []viable
	for _, c := range cands {
		var (
			b    = c
			f    *binding.Function
			tmpl bool
		)
		switch x := c.(type) {
		case *binding.Function:
			if hasExplicit {
				continue
			}
			f = x
		case *binding.FunctionTemplate:
			inst := s.cache.InstantiateFunction(x, explicit, types)
			f = funcOf(inst)
			if f == nil {
				continue
			}
			b, tmpl = inst, true
		default:
			f = funcOf(c)
		}
		if f == nil {
			continue
		}
		ranks, ok := s.ranks(f, args, types)
		if !ok {
			continue
		}
		vs = append(vs, viable{b: b, ranks: ranks, tmpl: tmpl})
	}
	switch {
	case len(vs) == 1:
		return vs[0].b
	case len(vs) == 0 && len(cands) == 1:
		return cands[0]
	case len(vs) == 0:
		return s.problem(binding.ProblemAmbiguous, n, cands...)
	}
	for i, v := range vs {
		best := true
		for j, o := range vs {
			if i != j && !better(v, o) {
				best = false
				break
			}
		}
		if best {
			return v.b
		}
	}
	amb := make([]binding.Binding, len(vs))
	for i, v := range vs {
		amb[i] = v.b
	}
	return s.problem(binding.ProblemAmbiguous, n, amb...)
}

// better reports whether a is a better candidate than b: no argument
// converts worse, and one converts better or a is not a template while b
// is.
func better(a, b viable) bool {
	strict := false
	for i := range a.ranks {
		switch {
		case a.ranks[i] > b.ranks[i]:
			return false
		case a.ranks[i] < b.ranks[i]:
			strict = true
		}
	}
	return strict || (!a.tmpl && b.tmpl)
}

// ranks returns the conversion rank of each argument for a call to f, or
// false when f cannot be called with them.
func (s *session) ranks(f *binding.Function, args []dom.Expr, types []binding.Type) ([]int, bool) {
	params := f.ParamTypes()
	variadic := f.Type != nil && f.Type.Variadic
	if len(types) < f.RequiredArgs() || (len(types) > len(params) && !variadic) {
		return nil, false
	}
	out := make([]int, len(types))
	for i, t := range types {
		if i >= len(params) {
			out[i] = rankEllipsis
			continue
		}
		var arg dom.Expr
		if i < len(args) {
			arg = args[i]
		}
		r := s.convRank(t, params[i], arg)
		if r == rankNone {
			return nil, false
		}
		out[i] = r
	}
	return out, true
}

// convRank ranks the implicit conversion of an argument of type a to a
// parameter of type p. Unknown and dependent types convert at conversion
// rank.
func (s *session) convRank(a, p binding.Type, arg dom.Expr) int {
	if a == nil || p == nil || template.Dependent(a) || template.Dependent(p) {
		return rankConversion
	}
	pt := binding.Normalize(p)
	if r, ok := pt.(*binding.Reference); ok {
		pt = binding.Normalize(r.Elem)
	}
	if q, ok := pt.(*binding.Qualified); ok {
		pt = binding.Normalize(q.Elem)
	}
	at := decay(a)
	if binding.SameType(pt, at) {
		return rankExact
	}
	switch x := pt.(type) {
	case *binding.Basic:
		switch y := at.(type) {
		case *binding.Basic:
			if promotes(y, x) {
				return rankPromotion
			}
			if x.IsArithmetic() && y.IsArithmetic() {
				return rankConversion
			}
		case *binding.Enumeration:
			if x.IsArithmetic() && !y.Flags().Has(binding.FlagScoped) {
				return rankPromotion
			}
		}
		if x.Kind == binding.Bool && binding.IsPointerLike(at) {
			return rankConversion
		}
		return rankNone
	case *binding.Pointer:
		if nullConst(arg) {
			return rankConversion
		}
		if b, ok := at.(*binding.Basic); ok && b.Kind == binding.Nullptr {
			return rankConversion
		}
		y, ok := at.(*binding.Pointer)
		if !ok {
			return rankNone
		}
		pe, ae := binding.Normalize(x.Elem), binding.Normalize(y.Elem)
		if binding.SameType(binding.Unqualified(pe), binding.Unqualified(ae)) && moreQualified(pe, ae) {
			return rankPromotion
		}
		if b, ok := binding.Unqualified(pe).(*binding.Basic); ok && b.Kind == binding.Void {
			return rankConversion
		}
		if s.derived(ae, pe, 0) {
			return rankConversion
		}
		return rankNone
	case *binding.Enumeration, *binding.FunctionType, *binding.Array:
		return rankNone
	}
	if binding.ClassOf(pt) != nil {
		if binding.ClassOf(at) != nil && s.derived(at, pt, 0) {
			return rankConversion
		}
		return rankUserDefined
	}
	return rankConversion
}

// promotes reports whether a converts to p by integral or floating
// promotion.
func promotes(a, p *binding.Basic) bool {
	switch {
	case p.Kind == binding.Int && p.Mods&^binding.ModSigned == 0:
		return a.Kind == binding.Bool || a.Kind == binding.Char || a.Kind == binding.WChar ||
			a.Kind == binding.Char16 || (a.Kind == binding.Int && a.Mods&binding.ModShort != 0)
	case p.Kind == binding.Double && p.Mods == 0:
		return a.Kind == binding.Float
	}
	return false
}

func moreQualified(p, a binding.Type) bool {
	pq, _ := p.(*binding.Qualified)
	aq, _ := a.(*binding.Qualified)
	if aq == nil {
		return true
	}
	return pq != nil && (pq.Const || !aq.Const) && (pq.Volatile || !aq.Volatile)
}

func nullConst(e dom.Expr) bool {
	for {
		p, ok := e.(*dom.Paren)
		if !ok {
			break
		}
		e = p.X
	}
	l, ok := e.(*dom.Literal)
	return ok && (l.Kind == dom.LitNullptr || (l.Kind == dom.LitInt && l.Text == "0"))
}

// derived reports whether class type a has base class b.
func (s *session) derived(a, b binding.Type, depth int) bool {
	c := binding.ClassOf(a)
	if c == nil || depth > s.opts.MaxDepth {
		return false
	}
	for _, base := range c.Body().Bases {
		if base.Type == nil {
			continue
		}
		if binding.SameType(base.Type, b) || s.derived(base.Type, b, depth+1) {
			return true
		}
	}
	return false
}
