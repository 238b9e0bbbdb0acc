package resolve

import (
	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/template"
)

// mode selects which bindings a lookup accepts.
type mode int

const (
	// modeExpr accepts everything; a non-type hides a type of the same
	// name.
	modeExpr mode = iota
	// modeType accepts types only.
	modeType
	// modeScope accepts names usable before "::".
	modeScope
	modeNamespace
)

func accept(b binding.Binding, m mode) bool {
	if _, ok := b.(*binding.Problem); ok {
		return true
	}
	k := b.Kind()
	switch m {
	case modeType:
		return k.IsType()
	case modeScope:
		return k.IsScope() || k == binding.KindTypedef || k == binding.KindNamespaceAlias || k == binding.KindTemplateParameter
	case modeNamespace:
		return k == binding.KindNamespace || k == binding.KindNamespaceAlias
	}
	return true
}

// filter keeps the bindings acceptable in mode m and merges bindings of the
// same entity.
func filter(bs []binding.Binding, m mode) []binding.Binding {
	var out []binding.Binding
	nonType := false
	for _, b := range bs {
		if !accept(b, m) {
			continue
		}
		if !b.Kind().IsType() && b.Kind() != binding.KindProblem {
			nonType = true
		}
		out = append(out, b)
	}
	if m == modeExpr && nonType {
		kept := out[:0]
		for _, b := range out {
			if !b.Kind().IsType() {
				kept = append(kept, b)
			}
		}
		out = kept
	}
	return dedupe(out)
}

// dedupe merges bindings denoting the same entity, keeping the first one
// unless a later one is the definition of a class the first only declares.
func dedupe(bs []binding.Binding) []binding.Binding {
	if len(bs) < 2 {
		return bs
	}
	out := make([]binding.Binding, 0, len(bs))
	at := make(map[string]int, len(bs))
	for _, b := range bs {
		key := binding.EntityKeyOf(b)
		if i, ok := at[key]; ok {
			if !complete(out[i]) && complete(b) {
				out[i] = b
			}
			continue
		}
		at[key] = len(out)
		out = append(out, b)
	}
	return out
}

func complete(b binding.Binding) bool {
	c, ok := b.(binding.Class)
	return ok && c.Body().Complete
}

// lookup performs unqualified lookup of name for a reference at ref,
// stopping at the innermost scope that yields an acceptable binding.
func (s *session) lookup(sc *scope, name string, ref int64, m mode) []binding.Binding {
	for cur := sc; cur != nil; cur = cur.parent {
		if found := filter(s.find(cur, name, ref), m); len(found) > 0 {
			return found
		}
	}
	return nil
}

// find returns the bindings named name declared directly in sc.
func (s *session) find(sc *scope, name string, ref int64) []binding.Binding {
	switch sc.kind {
	case scopeNamespace:
		return s.nsFind(sc, name, ref, make(map[string]bool))
	case scopeClass:
		return s.memberLookup(sc.owner, name, 0)
	}
	out := sc.visible(name, ref)
	for _, d := range sc.directives {
		if ref < 0 || d.pos < ref {
			out = append(out, s.nsFind(s.nsScope(d.target, nil), name, ref, make(map[string]bool))...)
		}
	}
	return out
}

// nsFind looks name up in a namespace: its own declarations, reachable
// index bindings, inline namespaces and using-declarations first, then the
// namespaces nominated by using-directives.
func (s *session) nsFind(sc *scope, name string, ref int64, seen map[string]bool) []binding.Binding {
	if seen[sc.key] {
		return nil
	}
	seen[sc.key] = true
	out := sc.visible(name, ref)
	out = append(out, s.indexFind(sc.key, name, ref)...)
	for _, inl := range sc.inlines {
		out = append(out, s.nsFind(inl, name, ref, seen)...)
	}
	for _, p := range sc.pending {
		if (ref < 0 || p.pos < ref) && p.name() == name {
			out = append(out, s.resolvePending(p)...)
		}
	}
	if out = dedupe(out); len(out) > 0 {
		return out
	}
	for _, d := range sc.directives {
		if ref < 0 || d.pos < ref {
			out = append(out, s.nsFind(s.nsScope(d.target, nil), name, ref, seen)...)
		}
	}
	return dedupe(out)
}

// resolvePending resolves a using-declaration recorded in the index.
func (s *session) resolvePending(p *pendingUsing) []binding.Binding {
	if p.done {
		return p.resolved
	}
	p.done = true
	p.resolved = s.nsFind(s.nsScope(parentKey(p.target), nil), p.name(), p.pos, make(map[string]bool))
	return p.resolved
}

// candidates returns the index bindings named name in the scope with the
// given key.
func (s *session) candidates(key, name string) []Candidate {
	if s.idx == nil {
		return nil
	}
	ck := key + "\x00" + name
	if cs, ok := s.found[ck]; ok {
		return cs
	}
	cs, err := s.idx.Lookup(s.ctx, key, name)
	if err != nil {
		s.fail(err)
		cs = nil
	}
	s.found[ck] = cs
	return cs
}

// indexFind returns the index bindings named name in a namespace that are
// reachable from ref.
func (s *session) indexFind(key, name string, ref int64) []binding.Binding {
	var out []binding.Binding
	for _, c := range s.candidates(key, name) {
		if s.reachable(c, ref) {
			out = append(out, c.Binding)
		}
	}
	return out
}

// reachable reports whether a declaring site of c lies in an indexed
// fragment of the translation unit placed before ref.
func (s *session) reachable(c Candidate, ref int64) bool {
	for _, site := range c.Sites {
		f := s.skipped[siteKey(site.Location, site.ContextKey)]
		if f == nil {
			continue
		}
		if ref < 0 || f.Global(site.Offset) < ref {
			return true
		}
	}
	return false
}

// memberLookup finds the members named name of a class or enumeration,
// searching base classes when the class itself has none.
func (s *session) memberLookup(owner binding.Binding, name string, depth int) []binding.Binding {
	switch x := owner.(type) {
	case *binding.Enumeration:
		var out []binding.Binding
		for _, e := range x.Enumerators {
			if e.Name() == name {
				out = append(out, e)
			}
		}
		if len(out) == 0 && !x.Record().IsZero() {
			for _, c := range s.candidates(binding.ScopeKey(x), name) {
				out = append(out, c.Binding)
			}
		}
		return out
	case binding.Class:
		return s.classMembers(x, name, depth)
	}
	return nil
}

func (s *session) classMembers(c binding.Class, name string, depth int) []binding.Binding {
	if depth > s.opts.MaxDepth {
		s.recursion = true
		return []binding.Binding{binding.NewProblem(binding.ProblemRecursionLimit, name)}
	}
	var out []binding.Binding
	for _, m := range c.Body().Members {
		if m.Name() == name {
			out = append(out, m)
			continue
		}
		// Members of anonymous unions and structs belong to the enclosing
		// class.
		if a, ok := m.(*binding.Composite); ok && binding.IsAnonymous(a) {
			out = append(out, s.classMembers(a, name, depth+1)...)
		}
	}
	out = append(out, s.classUsings[c][name]...)
	if !c.Record().IsZero() {
		for _, cand := range s.candidates(binding.ScopeKey(c), name) {
			out = append(out, cand.Binding)
		}
	}
	if name == c.Name() {
		out = append(out, c)
	}
	if len(dedupe(out)) > 0 {
		return dedupe(out)
	}
	for _, base := range c.Body().Bases {
		bc := binding.ClassOf(base.Type)
		if bc == nil || bc == c {
			continue
		}
		out = append(out, s.classMembers(bc, name, depth+1)...)
	}
	return dedupe(out)
}

// qualifiedIn looks name up as a member of owner; a nil owner is the
// global scope.
func (s *session) qualifiedIn(owner binding.Binding, name string, ref int64) []binding.Binding {
	for i := 0; i <= s.opts.MaxDepth; i++ {
		switch x := owner.(type) {
		case nil:
			return s.nsFind(s.global, name, ref, make(map[string]bool))
		case *binding.Namespace:
			return s.nsFind(s.nsScope(binding.ScopeKey(x), x), name, ref, make(map[string]bool))
		case *binding.NamespaceAlias:
			if x.Target == nil {
				return nil
			}
			owner = x.Target
			continue
		case *binding.Typedef:
			if c := binding.ClassOf(x); c != nil {
				return s.memberLookup(c, name, 0)
			}
			if e, ok := binding.Unwrap(x).(*binding.Enumeration); ok {
				return s.memberLookup(e, name, 0)
			}
			return nil
		}
		return s.memberLookup(owner, name, 0)
	}
	s.recursion = true
	return []binding.Binding{binding.NewProblem(binding.ProblemRecursionLimit, name)}
}

// dependentScope reports whether members of b can only be known after
// instantiation.
func dependentScope(b binding.Binding) bool {
	switch x := b.(type) {
	case *binding.TemplateParameter:
		return true
	case *binding.Instance:
		return template.DependentArgs(x.Args)
	case *binding.Typedef:
		return template.Dependent(x.Type)
	}
	return false
}

// qresult is the outcome of resolving a possibly qualified name.
type qresult struct {
	found []binding.Binding
	// owner is the binding named by the qualifier; qualified is set even
	// when the qualifier is the global scope.
	owner     binding.Binding
	qualified bool
	// dependent is set when a qualifier depends on a template parameter.
	dependent bool
	// failed is the problem a qualifier resolved to.
	failed *binding.Problem
}

// qualifier resolves and binds the qualifier segments of q. decl marks the
// qualifier of a declarator, where a template-id with dependent arguments
// names the primary template.
func (s *session) qualifier(sc *scope, q *dom.QName, decl bool) qresult {
	r := qresult{qualified: q.Global}
	for i, seg := range q.Segments[:len(q.Segments)-1] {
		ref := s.pos(seg.Name)
		var found []binding.Binding
		if r.qualified {
			found = filter(s.qualifiedIn(r.owner, seg.Name.Text, ref), modeScope)
		} else {
			found = s.lookup(sc, seg.Name.Text, ref, modeScope)
		}
		b := s.pickScope(seg.Name, found)
		if seg.HasArgs && !binding.IsProblem(b) {
			b = s.specialize(sc, seg, b, decl)
		}
		s.bind(seg.Name, b)
		if p, ok := b.(*binding.Problem); ok {
			r.failed = p
			for _, rest := range q.Segments[i+1 : len(q.Segments)-1] {
				s.bind(rest.Name, p)
			}
			return r
		}
		if dependentScope(b) {
			r.dependent = true
			for _, rest := range q.Segments[i+1:] {
				s.touchAll(rest)
			}
			return r
		}
		r.owner, r.qualified = b, true
	}
	return r
}

// resolve resolves q in mode m. Names of the qualifier are bound; the
// last segment is left to the caller.
func (s *session) resolve(sc *scope, q *dom.QName, m mode, decl bool) qresult {
	r := s.qualifier(sc, q, decl)
	if r.failed != nil || r.dependent {
		return r
	}
	last := q.Last()
	ref := s.pos(last.Name)
	if r.qualified {
		r.found = filter(s.qualifiedIn(r.owner, last.Name.Text, ref), m)
	} else {
		r.found = s.lookup(sc, last.Name.Text, ref, m)
	}
	return r
}

func (s *session) pickScope(n *dom.Name, found []binding.Binding) binding.Binding {
	switch len(found) {
	case 0:
		return s.problem(binding.ProblemNameNotFound, n)
	case 1:
		return found[0]
	}
	return s.problem(binding.ProblemAmbiguous, n, found...)
}

// pick reduces a lookup result to the binding of n.
func (s *session) pick(n *dom.Name, r qresult) binding.Binding {
	if r.failed != nil {
		return s.problem(binding.ProblemNameNotFound, n)
	}
	switch len(r.found) {
	case 0:
		code := binding.ProblemNameNotFound
		if r.owner != nil {
			code = binding.ProblemMemberNotFound
		}
		return s.problem(code, n)
	case 1:
		return r.found[0]
	}
	return s.problem(binding.ProblemAmbiguous, n, r.found...)
}

// specialize applies the template arguments of seg to b.
func (s *session) specialize(sc *scope, seg *dom.Segment, b binding.Binding, decl bool) binding.Binding {
	args, prob := s.templateArgs(sc, seg.Args)
	if prob != nil {
		return prob
	}
	switch t := b.(type) {
	case *binding.ClassTemplate:
		if decl && template.DependentArgs(args) {
			return t
		}
		return s.cache.Instantiate(s.templateFor(t), args)
	case *binding.Instance:
		// The injected name of an instance used with arguments names
		// another instance of the same template.
		if ct, ok := t.Template.(*binding.ClassTemplate); ok {
			return s.cache.Instantiate(s.templateFor(ct), args)
		}
	case *binding.FunctionTemplate:
		return s.cache.InstantiateFunction(t, args, nil)
	}
	return b
}

// templateFor returns ct with the specializations declared in this session
// for an index template.
func (s *session) templateFor(ct *binding.ClassTemplate) *binding.ClassTemplate {
	if merged, ok := s.specs[binding.Identity(ct)]; ok {
		return merged
	}
	return ct
}

// typeName resolves q in type position and binds its last name.
func (s *session) typeName(sc *scope, q *dom.QName, decl bool) binding.Type {
	r := s.resolve(sc, q, modeType, decl)
	last := q.Last()
	if r.dependent {
		s.touch(last.Name)
		return nil
	}
	b := s.pick(last.Name, r)
	if last.HasArgs && !binding.IsProblem(b) {
		b = s.specialize(sc, last, b, decl)
	}
	s.bind(last.Name, b)
	if t, ok := b.(binding.Type); ok {
		return t
	}
	return s.problem(binding.ProblemTypeNotComputable, last.Name)
}

// touch marks n as handled without binding it, as for dependent names.
func (s *session) touch(n *dom.Name) {
	if n != nil {
		s.visited[n] = true
	}
}

// touchAll marks the names of a segment, including its template
// arguments, as handled.
func (s *session) touchAll(seg *dom.Segment) {
	s.touch(seg.Name)
	for _, a := range seg.Args {
		if a.Type != nil {
			for _, n := range dom.CollectNames(&dom.Sizeof{Type: a.Type}) {
				s.touch(n)
			}
		}
		for _, n := range dom.CollectNames(a.Expr) {
			s.touch(n)
		}
	}
}
