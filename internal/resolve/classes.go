package resolve

import (
	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
)

func defaultAccess(k binding.ClassKey) string {
	if k == binding.ClassKeyClass {
		return "private"
	}
	return "public"
}

// classSpec resolves a class specifier. A specifier with a body, or one
// standing alone, declares the class; otherwise it refers to one.
func (s *session) classSpec(dc *declCtx, cs *dom.ClassSpec, st dom.Storage, standalone bool) binding.Type {
	if cs.Name == nil || cs.Name.Last() == nil {
		return s.anonClass(dc, cs, standalone)
	}
	last := cs.Name.Last()
	if !cs.HasBody && !standalone && !st.Friend {
		return s.elaborated(dc, cs)
	}
	if last.HasArgs {
		return s.specialization(dc, cs)
	}
	if !cs.Name.Simple() {
		return s.qualifiedClass(dc, cs)
	}
	name := last.Name
	tmpl := dc.tmpl
	target := dc
	friend := st.Friend && !cs.HasBody
	if friend {
		// An unknown class named in a friend declaration belongs to the
		// innermost enclosing namespace but stays invisible there.
		if r := s.resolve(dc.sc, cs.Name, modeType, false); len(r.found) > 0 {
			b := s.pick(name, r)
			s.bind(name, b)
			t, _ := b.(binding.Type)
			return t
		}
		target = s.nsCtx(dc)
	}

	var nb binding.Binding
	if tmpl != nil && !tmpl.explicit {
		ct := &binding.ClassTemplate{Decl: s.newDecl(target, name), Params: tmpl.params}
		ct.Key = cs.Key
		nb = ct
	} else {
		c := &binding.Composite{Decl: s.newDecl(target, name)}
		c.Key = cs.Key
		nb = c
	}
	if friend {
		binding.Common(nb).Attrs |= binding.FlagFriendOnly
	}
	key := binding.EntityKey(nb)
	b := s.existing(target, name.Text, key)
	fresh := b == nil
	switch {
	case fresh && friend:
		b = nb
		s.friends[key] = b
		s.record(b)
	case fresh:
		b = nb
		s.declare(target, name, b)
	case !friend && b.Flags().Has(binding.FlagFriendOnly) && mine(b):
		binding.Common(b).Attrs &^= binding.FlagFriendOnly
		delete(s.friends, key)
		s.declare(target, name, b)
	}
	if tmpl != nil && !tmpl.explicit {
		s.adoptParams(tmpl, b, fresh || cs.HasBody)
	}
	if cs.HasBody {
		b = s.define(dc, target, name, b, cs)
		// The definition's parameters are the ones its members refer to.
		if ct, ok := b.(*binding.ClassTemplate); ok && tmpl != nil && mine(ct) {
			ct.Params = tmpl.params
		}
	} else {
		s.bind(name, b)
	}
	t, _ := b.(binding.Type)
	return t
}

// qualifiedClass defines a class declared earlier in another scope, as in
// `struct A::B { ... };`.
func (s *session) qualifiedClass(dc *declCtx, cs *dom.ClassSpec) binding.Type {
	last := cs.Name.Last().Name
	r := s.resolve(dc.sc, cs.Name, modeType, true)
	if r.dependent {
		s.touch(last)
		return nil
	}
	b := s.pick(last, r)
	if binding.IsProblem(b) {
		s.bind(last, b)
		return b.(*binding.Problem)
	}
	if cs.HasBody {
		target := s.memberCtx(r.owner)
		b = s.define(&declCtx{sc: lexicalFor(dc.sc, target.sc), owner: target.owner}, target, last, b, cs)
	} else {
		s.bind(last, b)
	}
	t, _ := b.(binding.Type)
	return t
}

// elaborated resolves `struct S` used as a type. The first mention of an
// unknown name declares the class in the innermost enclosing namespace or
// block.
func (s *session) elaborated(dc *declCtx, cs *dom.ClassSpec) binding.Type {
	last := cs.Name.Last()
	r := s.resolve(dc.sc, cs.Name, modeType, false)
	if r.dependent {
		s.touchAll(last)
		return nil
	}
	if len(r.found) == 0 && r.failed == nil && !r.qualified && !last.HasArgs {
		target := s.elabCtx(dc)
		c := &binding.Composite{Decl: s.newDecl(target, last.Name)}
		c.Key = cs.Key
		s.declare(target, last.Name, c)
		s.bind(last.Name, c)
		return c
	}
	b := s.pick(last.Name, r)
	if last.HasArgs && !binding.IsProblem(b) {
		b = s.specialize(dc.sc, last, b, false)
	}
	s.bind(last.Name, b)
	t, _ := b.(binding.Type)
	return t
}

func (s *session) elabCtx(dc *declCtx) *declCtx {
	sc := dc.sc
	for sc.parent != nil && sc.kind != scopeNamespace && sc.kind != scopeBlock {
		sc = sc.parent
	}
	return s.ctxFor(sc)
}

func (s *session) anonClass(dc *declCtx, cs *dom.ClassSpec, standalone bool) binding.Type {
	c := &binding.Composite{Decl: binding.Decl{
		Parent: dc.owner,
		Link:   s.tu.Linkage,
		Attrs:  binding.FlagAnonymous,
		Site:   s.anonOrigin(cs.Offset),
	}}
	c.Key = cs.Key
	if dc.externC {
		c.Attrs |= binding.FlagExternC
	}
	sc := declScope(dc)
	switch {
	case dc.local:
		s.res.locals[c] = true
	case sc.kind == scopeClass && standalone:
		if owner, ok := sc.owner.(binding.Class); ok && mine(owner) {
			owner.Body().AddMember(c)
		}
		s.record(c)
	default:
		s.record(c)
	}
	s.defineBody(dc.plain(), c, cs)
	// Members of an anonymous union outside a class are injected into the
	// enclosing scope.
	if standalone && sc.kind != scopeClass {
		for _, m := range c.Members {
			sc.add(m.Name(), m, s.at(cs.Offset))
		}
	}
	return c
}

// define attaches the body of cs to the class b declared in target.
// A class already defined here is a redefinition; a class defined in the
// index is copied so the stored binding is not changed.
func (s *session) define(dc, target *declCtx, name *dom.Name, b binding.Binding, cs *dom.ClassSpec) binding.Binding {
	c, ok := b.(binding.Class)
	if !ok {
		p := s.problem(binding.ProblemInvalidRedeclaration, name, b)
		s.bind(name, p)
		return p
	}
	if mine(c) && c.Body().Complete {
		s.bind(name, s.problem(binding.ProblemInvalidRedeclaration, name, c))
		// The members of the redefinition are still resolved, against a
		// throwaway copy.
		s.defineBody(dc.plain(), s.copyClass(c), cs)
		return c
	}
	if !mine(c) {
		c = s.copyClass(c)
		s.declare(target, name, c)
	}
	s.bind(name, c)
	s.defineBody(dc.plain(), c, cs)
	return c
}

// copyClass returns an unpersisted copy of c with the same identity and an
// empty body.
func (s *session) copyClass(c binding.Class) binding.Class {
	var cp binding.Class
	switch x := c.(type) {
	case *binding.Composite:
		cp = &binding.Composite{Decl: x.Decl}
	case *binding.ClassTemplate:
		cp = &binding.ClassTemplate{
			Decl:      x.Decl,
			Params:    x.Params,
			Partials:  append([]*binding.PartialSpecialization(nil), x.Partials...),
			Explicits: append([]*binding.ExplicitSpecialization(nil), x.Explicits...),
		}
	case *binding.PartialSpecialization:
		cp = &binding.PartialSpecialization{Decl: x.Decl, Primary: x.Primary, Params: x.Params, Args: x.Args}
	case *binding.ExplicitSpecialization:
		cp = &binding.ExplicitSpecialization{Decl: x.Decl, Primary: x.Primary, Args: x.Args}
	default:
		return c
	}
	d := binding.Common(cp)
	d.Rec = binding.Record{}
	binding.SetIdentity(cp, binding.Identity(c))
	cp.Body().Key = c.Body().Key
	return cp
}

// defineBody resolves the bases and members of a class definition. Member
// function bodies are resolved once the outermost class is complete.
func (s *session) defineBody(dc *declCtx, c binding.Class, cs *dom.ClassSpec) {
	body := c.Body()
	body.Key = cs.Key
	body.Bases = nil
	csc := &scope{kind: scopeClass, parent: dc.sc, owner: c}
	s.classes[c] = csc
	for _, bs := range cs.Bases {
		if bs.Name == nil {
			continue
		}
		t := s.typeName(dc.sc, bs.Name, false)
		body.Bases = append(body.Bases, binding.Base{Type: t, Virtual: bs.Virtual, Access: bs.Access})
	}
	inner := &declCtx{sc: csc, owner: c, externC: dc.externC, access: defaultAccess(cs.Key)}
	s.classDepth++
	for _, m := range cs.Members {
		s.decl(m, inner)
	}
	body.Complete = true
	s.classDepth--
	if s.classDepth == 0 {
		s.flush()
	}
}

// specialization handles a class specifier whose name has template
// arguments: an explicit or partial specialization when a template
// parameter list precedes it, a reference to an instance otherwise.
func (s *session) specialization(dc *declCtx, cs *dom.ClassSpec) binding.Type {
	last := cs.Name.Last()
	name := last.Name
	tmpl := dc.tmpl
	r := s.resolve(dc.sc, cs.Name, modeType, true)
	if r.dependent {
		s.touchAll(last)
		return nil
	}
	b := s.pick(name, r)
	if inst, ok := b.(*binding.Instance); ok {
		b = inst.Template
	}
	ct, ok := b.(*binding.ClassTemplate)
	if !ok || tmpl == nil {
		if !binding.IsProblem(b) {
			b = s.specialize(dc.sc, last, b, false)
		}
		s.bind(name, b)
		t, _ := b.(binding.Type)
		return t
	}
	args, prob := s.templateArgs(dc.sc, last.Args)
	if prob != nil {
		s.bind(name, prob)
		return prob
	}
	primary := s.templateFor(ct)
	decl := binding.Decl{SimpleName: name.Text, Parent: ct.Owner(), Link: s.linkage(name), Site: origin(name)}
	if tmpl.explicit {
		full, prob := s.cache.Complete(primary, args)
		if prob != nil {
			s.bind(name, prob)
			return prob
		}
		for _, ex := range primary.Explicits {
			if ex.Func != nil || !sameArgs(ex.Args, full) {
				continue
			}
			if cs.HasBody && ex.Complete {
				// Redefining an identical explicit specialization leaves
				// the first definition in place.
				p := s.problem(binding.ProblemInvalidRedeclaration, name, ex)
				s.res.Problems = append(s.res.Problems, Diagnostic{Name: name, Problem: p})
				s.bind(name, ex)
				s.defineBody(dc.plain(), s.copyClass(ex), cs)
				return ex
			}
			s.bind(name, ex)
			if cs.HasBody && mine(ex) {
				s.defineBody(dc.plain(), ex, cs)
			}
			return ex
		}
		ex := &binding.ExplicitSpecialization{Decl: decl, Primary: ct, Args: full}
		ex.Key = cs.Key
		s.addExplicit(ct, ex)
		s.record(ex)
		s.bind(name, ex)
		if cs.HasBody {
			s.defineBody(dc.plain(), ex, cs)
		}
		return ex
	}

	for _, ps := range primary.Partials {
		if !sameArgs(ps.Args, args) {
			continue
		}
		s.bind(name, ps)
		if cs.HasBody {
			if !mine(ps) || ps.Complete {
				p := s.problem(binding.ProblemInvalidRedeclaration, name, ps)
				s.res.Problems = append(s.res.Problems, Diagnostic{Name: name, Problem: p})
				return ps
			}
			s.adoptParams(tmpl, ps, false)
			s.defineBody(dc.plain(), ps, cs)
		}
		return ps
	}
	ps := &binding.PartialSpecialization{Decl: decl, Primary: ct, Params: tmpl.params, Args: args}
	ps.Key = cs.Key
	s.adoptParams(tmpl, ps, true)
	s.addPartial(ct, ps)
	s.record(ps)
	s.bind(name, ps)
	if cs.HasBody {
		s.defineBody(dc.plain(), ps, cs)
	}
	return ps
}

// specsOf returns the template specializations of this session are added
// to: ct itself when it was declared here, a merged copy for an index
// template.
func (s *session) specsOf(ct *binding.ClassTemplate) *binding.ClassTemplate {
	if mine(ct) {
		return ct
	}
	id := binding.Identity(ct)
	if m, ok := s.specs[id]; ok {
		return m
	}
	m := s.copyClass(ct).(*binding.ClassTemplate)
	m.ClassBody = ct.ClassBody
	m.Rec = ct.Rec
	s.specs[id] = m
	return m
}

func (s *session) addExplicit(ct *binding.ClassTemplate, ex *binding.ExplicitSpecialization) {
	m := s.specsOf(ct)
	m.Explicits = append(m.Explicits, ex)
}

func (s *session) addPartial(ct *binding.ClassTemplate, ps *binding.PartialSpecialization) {
	m := s.specsOf(ct)
	m.Partials = append(m.Partials, ps)
}

// adoptParams makes owner the owner of the template parameters of tc.
// Parameters of a new declaration are persisted with it.
func (s *session) adoptParams(tc *tmplCtx, owner binding.Binding, fresh bool) {
	for _, p := range tc.params {
		p.Parent = owner
		binding.ResetIdentity(p)
		if fresh && !s.res.IsLocal(owner) {
			s.record(p)
		}
	}
}

func (s *session) templateDecl(d *dom.TemplateDecl, dc *declCtx) {
	tsc := &scope{kind: scopeTemplate, parent: dc.sc}
	tc := &tmplCtx{sc: tsc, explicit: len(d.Params) == 0}
	tdc := &declCtx{sc: tsc, owner: dc.owner, local: dc.local, externC: dc.externC, access: dc.access, tmpl: tc}
	for i, p := range d.Params {
		tp := s.templateParam(tdc, p, i)
		tc.params = append(tc.params, tp)
		if tp.Name() != "" {
			tsc.add(tp.Name(), tp, always)
		}
	}
	if d.Decl != nil {
		s.decl(d.Decl, tdc)
	}
}

func (s *session) templateParam(dc *declCtx, p *dom.TemplateParam, pos int) *binding.TemplateParameter {
	tp := &binding.TemplateParameter{Position: pos, ParamKind: p.Kind}
	tp.Link = s.tu.Linkage
	if p.Name != nil {
		tp.SimpleName = p.Name.Text
		tp.Link = s.linkage(p.Name)
		tp.Site = origin(p.Name)
	} else {
		tp.Site = s.anonOrigin(-1 - pos)
	}
	pdc := dc.plain()
	if p.Kind == binding.ParamValue && p.Type != nil {
		tp.ValueType = s.typeID(pdc, p.Type)
	}
	if p.Kind == binding.ParamTemplate {
		// Parameters of a template template parameter only matter for
		// matching arguments, which is done by kind.
		for _, inner := range p.Params {
			if inner.Default != nil {
				s.templateArg(pdc, inner.Default)
			}
		}
	}
	if p.Default != nil {
		switch {
		case p.Kind != binding.ParamValue && p.Default.Type != nil:
			if t := s.typeID(pdc, p.Default.Type); t != nil {
				a := binding.TypeArg(t)
				tp.Default = &a
			}
		default:
			if a, ok := s.templateArg(pdc, p.Default); ok {
				if ph, ok := a.Type.(*binding.TemplateParameter); ok && ph.Position < 0 {
					tp.DefaultInit = ph.DefaultInit
				} else {
					tp.Default = &a
				}
			}
		}
	}
	if p.Name != nil {
		s.bind(p.Name, tp)
	}
	return tp
}

func (s *session) enumSpec(dc *declCtx, es *dom.EnumSpec, st dom.Storage, standalone bool) binding.Type {
	var fixed binding.Type
	if es.Base != nil {
		fixed = s.declSpec(dc.plain(), es.Base, dom.Storage{}, false)
	}
	if es.Name == nil || es.Name.Last() == nil {
		e := &binding.Enumeration{
			Decl:  binding.Decl{Parent: dc.owner, Link: s.tu.Linkage, Attrs: binding.FlagAnonymous, Site: s.anonOrigin(es.Offset)},
			Fixed: fixed,
		}
		if dc.local {
			s.res.locals[e] = true
		} else {
			s.record(e)
		}
		s.enumerators(dc, e, es)
		return e
	}
	last := es.Name.Last().Name
	if !es.HasBody && !standalone && !es.Scoped {
		return s.typeName(dc.sc, es.Name, false)
	}
	target := dc
	if !es.Name.Simple() {
		r := s.qualifier(dc.sc, es.Name, true)
		if r.failed != nil || r.dependent {
			s.touch(last)
			return nil
		}
		target = s.memberCtx(r.owner)
	}
	ne := &binding.Enumeration{Decl: s.newDecl(target, last), Fixed: fixed}
	if es.Scoped {
		ne.Attrs |= binding.FlagScoped
	}
	var e *binding.Enumeration
	if ex := s.existing(target, last.Text, binding.EntityKey(ne)); ex != nil {
		e, _ = ex.(*binding.Enumeration)
	}
	if e == nil {
		e = ne
		s.declare(target, last, e)
	}
	if es.HasBody {
		switch {
		case mine(e) && len(e.Enumerators) > 0:
			s.bind(last, s.problem(binding.ProblemInvalidRedeclaration, last, e))
			return e
		case !mine(e):
			cp := &binding.Enumeration{Decl: e.Decl, Fixed: e.Fixed}
			cp.Rec = binding.Record{}
			binding.SetIdentity(cp, binding.Identity(e))
			e = cp
			s.declare(target, last, e)
		}
		s.bind(last, e)
		s.enumerators(target, e, es)
		return e
	}
	s.bind(last, e)
	return e
}

// enumerators declares the enumerators of e. Values default to one past the
// previous enumerator; unscoped enumerators are also entered into the
// enclosing scope.
func (s *session) enumerators(dc *declCtx, e *binding.Enumeration, es *dom.EnumSpec) {
	scoped := e.Flags().Has(binding.FlagScoped)
	esc := &scope{kind: scopeTemplate, parent: dc.sc}
	edc := &declCtx{sc: esc, owner: dc.owner, local: dc.local}
	var next int64
	for _, en := range es.Enumerators {
		if en.Name == nil {
			continue
		}
		v := next
		if en.Value != nil {
			s.expr(edc, en.Value)
			if x, ok := s.fold(esc, en.Value); ok {
				v = x
			}
		}
		ee := &binding.Enumerator{Decl: s.newDecl(dc, en.Name), Value: v, Enum: e}
		if scoped {
			ee.Parent = e
		}
		e.Enumerators = append(e.Enumerators, ee)
		esc.add(en.Name.Text, ee, always)
		switch {
		case !scoped:
			s.declare(dc, en.Name, ee)
		case dc.local:
			s.res.locals[ee] = true
		default:
			s.record(ee)
		}
		s.bind(en.Name, ee)
		next = v + 1
	}
}
