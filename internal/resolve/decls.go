package resolve

import (
	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
)

// declCtx is the context new declarations are made in.
type declCtx struct {
	sc *scope
	// owner is the binding owning new declarations: a namespace, class or,
	// for locals, the enclosing function.
	owner   binding.Binding
	local   bool
	externC bool
	access  string
	// tmpl is the template parameter list of an enclosing template
	// declaration, consumed by the entity it declares.
	tmpl *tmplCtx
}

type tmplCtx struct {
	params   []*binding.TemplateParameter
	sc       *scope
	explicit bool
}

// plain returns dc without its template context.
func (dc *declCtx) plain() *declCtx {
	if dc.tmpl == nil {
		return dc
	}
	cp := *dc
	cp.tmpl = nil
	return &cp
}

// ctxFor derives a declaration context from a lexical scope.
func (s *session) ctxFor(sc *scope) *declCtx {
	dc := &declCtx{sc: sc}
	for cur := sc; cur != nil; cur = cur.parent {
		switch cur.kind {
		case scopeBlock, scopeTemplate:
			if cur.kind == scopeBlock {
				dc.local = true
			}
			continue
		case scopeFunction:
			dc.local = true
		}
		dc.owner = cur.owner
		return dc
	}
	return dc
}

// declScope returns the scope declarations of dc are entered in,
// skipping template parameter scopes.
func declScope(dc *declCtx) *scope {
	sc := dc.sc
	for sc.kind == scopeTemplate && sc.parent != nil {
		sc = sc.parent
	}
	return sc
}

// nsCtx returns the context of the innermost enclosing namespace, where
// friends are declared.
func (s *session) nsCtx(dc *declCtx) *declCtx {
	sc := enclosingNamespace(dc.sc)
	return &declCtx{sc: sc, owner: sc.owner, externC: dc.externC}
}

// memberCtx returns the context of the scope named by the qualifier of a
// declarator.
func (s *session) memberCtx(owner binding.Binding) *declCtx {
	if td, ok := owner.(*binding.Typedef); ok {
		if c := binding.ClassOf(td); c != nil {
			owner = c
		}
	}
	if na, ok := owner.(*binding.NamespaceAlias); ok && na.Target != nil {
		owner = na.Target
	}
	return &declCtx{sc: s.scopeFor(owner), owner: owner}
}

// lexicalFor returns the scope the rest of a qualified declaration is
// looked up from: the named scope, below the template parameters of cur.
func lexicalFor(cur, target *scope) *scope {
	if cur.kind == scopeTemplate {
		return &scope{kind: scopeTemplate, entries: cur.entries, parent: target}
	}
	return target
}

func (s *session) linkage(n *dom.Name) binding.Linkage {
	if n != nil && n.File != nil && n.File.Linkage != binding.LinkageNone {
		return n.File.Linkage
	}
	return s.tu.Linkage
}

func origin(n *dom.Name) binding.Origin {
	return binding.Origin{File: fileLocation(n), Offset: n.Offset}
}

// at returns the stream position of an offset in the file being resolved.
func (s *session) at(offset int) int64 {
	if f := s.fragOf[s.file]; f != nil {
		return f.Global(offset)
	}
	return int64(offset)
}

func (s *session) anonOrigin(offset int) binding.Origin {
	loc := ""
	if s.file != nil {
		loc = s.file.Location
	}
	return binding.Origin{File: loc, Offset: offset}
}

func (s *session) newDecl(dc *declCtx, n *dom.Name) binding.Decl {
	d := binding.Decl{SimpleName: n.Text, Parent: dc.owner, Link: s.linkage(n), Site: origin(n)}
	if dc.externC {
		d.Attrs |= binding.FlagExternC
	}
	return d
}

// mine reports whether b was created by this session and may be changed.
func mine(b binding.Binding) bool { return b.Record().IsZero() }

// record adds b to the declared bindings of the result.
func (s *session) record(b binding.Binding) {
	if s.declared[b] {
		return
	}
	s.declared[b] = true
	s.res.Declared = append(s.res.Declared, b)
}

// declare enters a new binding into the scope of dc.
func (s *session) declare(dc *declCtx, n *dom.Name, b binding.Binding) {
	sc := declScope(dc)
	pos := always
	if n != nil {
		pos = s.pos(n)
	}
	switch {
	case dc.local:
		s.res.locals[b] = true
		sc.add(b.Name(), b, pos)
	case sc.kind == scopeClass:
		if c, ok := sc.owner.(binding.Class); ok && mine(c) {
			c.Body().AddMember(b)
		}
		s.record(b)
	default:
		sc.add(b.Name(), b, pos)
		s.record(b)
	}
}

// existing returns the binding of an earlier declaration of the entity
// with the given key in the scope of dc.
func (s *session) existing(dc *declCtx, name, key string) binding.Binding {
	sc := declScope(dc)
	var cands []binding.Binding
	switch sc.kind {
	case scopeClass:
		for _, m := range binding.Members(sc.owner) {
			if m.Name() == name {
				cands = append(cands, m)
			}
		}
		if !sc.owner.Record().IsZero() {
			for _, c := range s.candidates(binding.ScopeKey(sc.owner), name) {
				cands = append(cands, c.Binding)
			}
		}
	case scopeNamespace:
		cands = append(sc.visible(name, always), s.indexFind(sc.key, name, always)...)
	default:
		cands = sc.visible(name, always)
	}
	for _, c := range cands {
		if binding.EntityKeyOf(c) == key {
			return c
		}
	}
	if f, ok := s.friends[key]; ok && !dc.local {
		return f
	}
	return nil
}

// decl resolves one declaration.
func (s *session) decl(d dom.Decl, dc *declCtx) {
	if s.err != nil {
		return
	}
	switch x := d.(type) {
	case *dom.SimpleDecl:
		s.simpleDecl(x, dc)
	case *dom.FunctionDef:
		s.functionDef(x, dc)
	case *dom.NamespaceDecl:
		s.namespaceDecl(x, dc)
	case *dom.NamespaceAliasDecl:
		s.namespaceAlias(x, dc)
	case *dom.UsingDirective:
		s.usingDirective(x, dc)
	case *dom.UsingDeclaration:
		s.usingDeclaration(x, dc)
	case *dom.AliasDecl:
		s.aliasDecl(x, dc)
	case *dom.TemplateDecl:
		s.templateDecl(x, dc)
	case *dom.ExplicitInstantiation:
		s.explicitInstantiation(x, dc)
	case *dom.LinkageSpec:
		ldc := *dc.plain()
		ldc.externC = dc.externC || x.Lang == "C"
		for _, inner := range x.Decls {
			s.decl(inner, &ldc)
		}
	case *dom.AccessDecl:
		dc.access = x.Access
	case *dom.Opaque:
		for _, e := range x.Exprs {
			s.expr(dc.plain(), e)
		}
	}
}

func storageFlags(st dom.Storage) binding.Flags {
	var f binding.Flags
	set := func(on bool, flag binding.Flags) {
		if on {
			f |= flag
		}
	}
	set(st.Static, binding.FlagStatic)
	set(st.Extern, binding.FlagExtern)
	set(st.ExternC, binding.FlagExternC)
	set(st.Mutable, binding.FlagMutable)
	set(st.Explicit, binding.FlagExplicit)
	set(st.Virtual, binding.FlagVirtual)
	set(st.Inline, binding.FlagInline)
	set(st.Constexpr, binding.FlagConstexpr)
	set(st.Friend, binding.FlagFriendOnly)
	return f
}

func (s *session) simpleDecl(d *dom.SimpleDecl, dc *declCtx) {
	standalone := len(d.Declarators) == 0
	base := s.declSpec(dc, d.Spec, d.Storage, standalone)
	if standalone {
		return
	}
	ddc := dc
	if sp := d.Spec; sp != nil && sp.Class != nil && sp.Class.HasBody {
		ddc = dc.plain()
	}
	for _, decl := range d.Declarators {
		s.declarator(ddc, d.Storage, base, decl)
	}
}

// declSpec resolves the type named by decl-specifiers, declaring the class
// or enumeration they define.
func (s *session) declSpec(dc *declCtx, spec *dom.DeclSpec, st dom.Storage, standalone bool) binding.Type {
	if spec == nil {
		return nil
	}
	var t binding.Type
	switch {
	case spec.Class != nil:
		t = s.classSpec(dc, spec.Class, st, standalone)
	case spec.Enum != nil:
		t = s.enumSpec(dc, spec.Enum, st, standalone)
	case spec.Named != nil:
		t = s.typeName(dc.sc, spec.Named, false)
	case spec.Auto:
		t = binding.Builtin(binding.Auto, 0)
	case len(spec.Keywords) > 0:
		t = basicType(spec.Keywords)
	}
	return qualify(t, spec.Const, spec.Volatile)
}

func (s *session) declarator(dc *declCtx, st dom.Storage, base binding.Type, decl *dom.Declarator) {
	q := decl.DeclName()
	if q == nil {
		s.declaratorType(dc.plain(), base, decl)
		return
	}
	if fn := decl.Function(); fn != nil {
		s.function(dc, st, base, decl, fn, nil)
		return
	}
	if st.Typedef {
		t := s.declaratorType(dc.plain(), base, decl)
		s.typedef(dc, q.Last().Name, t)
		return
	}
	s.variable(dc.plain(), st, base, decl)
}

// qualifiedTarget resolves the qualifier of a declarator name. It returns
// the declaration context and lexical scope of the declaration, or ok
// false when the qualifier failed or is dependent.
func (s *session) qualifiedTarget(dc *declCtx, q *dom.QName) (target *declCtx, lex *scope, ok bool) {
	if q.Simple() {
		return dc, dc.sc, true
	}
	r := s.qualifier(dc.sc, q, true)
	last := q.Last().Name
	switch {
	case r.failed != nil:
		s.bind(last, s.problem(binding.ProblemNameNotFound, last))
		return nil, nil, false
	case r.dependent:
		s.touch(last)
		return nil, nil, false
	}
	target = s.memberCtx(r.owner)
	target.externC = dc.externC
	return target, lexicalFor(dc.sc, target.sc), true
}

func (s *session) typedef(dc *declCtx, n *dom.Name, t binding.Type) binding.Binding {
	td := &binding.Typedef{Decl: s.newDecl(dc, n), Type: t}
	if ex := s.existing(dc, n.Text, binding.EntityKey(td)); ex != nil {
		if et, ok := ex.(*binding.Typedef); ok && (t == nil || et.Type == nil || binding.SameType(et.Type, t)) {
			s.bind(n, ex)
			return ex
		}
		p := s.problem(binding.ProblemInvalidRedeclaration, n, ex)
		s.bind(n, p)
		return p
	}
	s.declare(dc, n, td)
	s.bind(n, td)
	if dc.tmpl != nil {
		s.adoptParams(dc.tmpl, td, true)
	}
	return td
}

func (s *session) aliasDecl(d *dom.AliasDecl, dc *declCtx) {
	t := s.typeID(dc.plain(), d.Type)
	if d.Name != nil {
		s.typedef(dc, d.Name, t)
	}
}

func isAuto(t binding.Type) bool {
	b, ok := binding.Unqualified(t).(*binding.Basic)
	return ok && b.Kind == binding.Auto
}

// replaceAuto substitutes the deduced type for the auto placeholder in t.
func replaceAuto(t, deduced binding.Type) binding.Type {
	switch x := t.(type) {
	case *binding.Basic:
		if x.Kind == binding.Auto {
			return deduced
		}
	case *binding.Qualified:
		return qualify(replaceAuto(x.Elem, deduced), x.Const, x.Volatile)
	case *binding.Pointer:
		if p, ok := binding.Normalize(deduced).(*binding.Pointer); ok {
			return &binding.Pointer{Elem: replaceAuto(x.Elem, p.Elem), Const: x.Const, Volatile: x.Volatile}
		}
	case *binding.Reference:
		return &binding.Reference{Elem: replaceAuto(x.Elem, deduced), RValue: x.RValue}
	}
	return t
}

// compatibleTypes reports whether two declarations of a variable agree.
// Unknown types and arrays completing an unknown bound are accepted.
func compatibleTypes(a, b binding.Type) bool {
	if a == nil || b == nil || binding.SameType(a, b) {
		return true
	}
	aa, ok1 := binding.Normalize(a).(*binding.Array)
	ba, ok2 := binding.Normalize(b).(*binding.Array)
	return ok1 && ok2 && (aa.Size < 0 || ba.Size < 0) && binding.SameType(aa.Elem, ba.Elem)
}

// constIntegral reports whether a variable of type t is an integral
// constant whose initializer can be folded.
func constIntegral(t binding.Type, st dom.Storage) bool {
	n := binding.Normalize(t)
	q, ok := n.(*binding.Qualified)
	if !ok && !st.Constexpr {
		return false
	}
	elem := n
	if ok {
		if !q.Const && !st.Constexpr {
			return false
		}
		elem = binding.Normalize(q.Elem)
	}
	switch x := elem.(type) {
	case *binding.Basic:
		return x.IsIntegral()
	case *binding.Enumeration:
		return true
	}
	return false
}

func (s *session) variable(dc *declCtx, st dom.Storage, base binding.Type, decl *dom.Declarator) {
	q := decl.DeclName()
	name := q.Last().Name
	target, lex, ok := s.qualifiedTarget(dc, q)
	if !ok {
		ldc := s.ctxFor(dc.sc)
		if decl.Init != nil {
			s.expr(ldc, decl.Init)
		}
		return
	}
	ldc := &declCtx{sc: lex, owner: target.owner, local: dc.local}
	t := s.declaratorType(ldc, base, decl)
	typedInit := false
	if decl.Init != nil && isAuto(base) {
		if it := s.expr(ldc, decl.Init); it != nil {
			t = replaceAuto(t, unref(it))
		}
		typedInit = true
	}
	v := &binding.Variable{Decl: s.newDecl(target, name), Type: t}
	v.Attrs |= storageFlags(st)
	if declScope(target).kind == scopeClass {
		v.VarKind = binding.KindField
	}
	var b binding.Binding = v
	if ex := s.existing(target, name.Text, binding.EntityKey(v)); ex != nil {
		ev, ok := ex.(*binding.Variable)
		if !ok || !compatibleTypes(ev.Type, t) {
			s.bind(name, s.problem(binding.ProblemInvalidRedeclaration, name, ex))
			if decl.Init != nil && !typedInit {
				s.expr(ldc, decl.Init)
			}
			return
		}
		b = ev
	} else {
		s.declare(target, name, v)
	}
	s.bind(name, b)
	if decl.Init != nil && !typedInit {
		s.expr(ldc, decl.Init)
	}
	if decl.Bitfield != nil {
		s.expr(ldc, decl.Bitfield)
	}
	vb := b.(*binding.Variable)
	if decl.Init == nil || vb.Value != nil || !mine(vb) || !constIntegral(t, st) {
		return
	}
	if x, ok := s.fold(lex, decl.Init); ok {
		vb.Value = &binding.Value{Int: binding.Convert(x, t)}
	} else if s.dependentExpr(decl.Init) {
		vb.Init = &deferred{expr: decl.Init}
	}
}

// function declares or defines a function, function template or explicit
// function specialization.
func (s *session) function(dc *declCtx, st dom.Storage, base binding.Type, decl, fn *dom.Declarator, fd *dom.FunctionDef) binding.Binding {
	q := decl.DeclName()
	last := q.Last()
	name := last.Name
	tmpl := dc.tmpl
	target, lex, ok := s.qualifiedTarget(dc, q)
	if !ok {
		if fd != nil {
			s.functionBody(fd, nil, nil, nil, dc.sc)
		}
		return nil
	}
	if q.Simple() && st.Friend {
		target = s.nsCtx(dc)
	}
	ldc := &declCtx{sc: lex, owner: target.owner, local: dc.local}
	t := s.declaratorType(ldc, base, decl)
	ft, _ := t.(*binding.FunctionType)
	if ft == nil {
		ft = &binding.FunctionType{Result: t}
	}
	f := &binding.Function{Decl: s.newDecl(target, name), Type: ft}
	if declScope(target).kind == scopeClass {
		f.FuncKind = binding.KindMethod
	}
	f.Attrs |= storageFlags(st)
	if fn.Const {
		f.Attrs |= binding.FlagConst
	}
	if fn.Volatile {
		f.Attrs |= binding.FlagVolatile
	}
	if fn.Pure {
		f.Attrs |= binding.FlagPureVirtual
	}
	if fn.Variadic {
		f.Attrs |= binding.FlagVariadic
	}
	if tmpl != nil && tmpl.explicit {
		if spec := s.functionSpec(dc, last, f, fn, fd, lex); spec != nil {
			return spec
		}
	}

	var nb binding.Binding = f
	if tmpl != nil && !tmpl.explicit {
		ftm := &binding.FunctionTemplate{Decl: s.newDecl(target, name), Params: tmpl.params, Func: f}
		ftm.Attrs = f.Attrs
		f.Parent = ftm
		nb = ftm
	}
	names := paramNames(fn)
	var b binding.Binding
	fresh := false
	if ex := s.existing(target, name.Text, binding.EntityKey(nb)); ex != nil {
		b = ex
		if ef := funcOf(ex); ef != nil && ef.Type != nil && ft.Result != nil && ef.Type.Result != nil &&
			!binding.SameType(ef.Type.Result, ft.Result) {
			s.bind(name, s.problem(binding.ProblemInvalidRedeclaration, name, ex))
			if fd != nil {
				s.functionBody(fd, f, s.newParams(f, fn, ft, names), names, lex)
			}
			return nil
		}
		// A friend redeclaration leaves an ordinary declaration visible.
		if !st.Friend && ex.Flags().Has(binding.FlagFriendOnly) && mine(ex) {
			binding.Common(ex).Attrs &^= binding.FlagFriendOnly
			delete(s.friends, binding.EntityKeyOf(ex))
			s.declare(target, name, ex)
		}
	} else {
		b, fresh = nb, true
		f.Params = s.newParams(f, fn, ft, names)
		if st.Friend && q.Simple() {
			s.friends[binding.EntityKey(nb)] = nb
			s.record(nb)
		} else {
			s.declare(target, name, nb)
		}
		if !dc.local {
			if nb != binding.Binding(f) {
				s.record(f)
			}
			for _, p := range f.Params {
				s.record(p)
			}
		}
	}
	if tmpl != nil && !tmpl.explicit {
		s.adoptParams(tmpl, b, fresh)
	}
	s.bind(name, b)

	fun := funcOf(b)
	params := f.Params
	if !fresh && fun != nil {
		params = s.reuseParams(fun, fn, ft, names)
	}
	for i, n := range names {
		if n != nil && i < len(params) {
			s.bind(n, params[i])
		}
	}
	s.paramDefaults(ldc, fn, params, names)
	if fd != nil && fun != nil {
		body := func() { s.functionBody(fd, fun, params, names, lex) }
		if s.classDepth > 0 {
			s.deferred = append(s.deferred, body)
		} else {
			body()
		}
	}
	return b
}

// funcOf returns the function behind a function-like binding.
func funcOf(b binding.Binding) *binding.Function {
	switch x := b.(type) {
	case *binding.Function:
		return x
	case *binding.FunctionTemplate:
		return x.Func
	case *binding.ExplicitSpecialization:
		return x.Func
	case *binding.Instance:
		return x.Func
	}
	return nil
}

func paramNames(fn *dom.Declarator) []*dom.Name {
	names := make([]*dom.Name, len(fn.Params))
	for i, p := range fn.Params {
		if p.Decl == nil {
			continue
		}
		if q := p.Decl.DeclName(); q != nil {
			names[i] = q.Last().Name
		}
	}
	return names
}

func (s *session) newParams(owner *binding.Function, fn *dom.Declarator, ft *binding.FunctionType, names []*dom.Name) []*binding.Variable {
	ps := make([]*binding.Variable, len(fn.Params))
	for i, p := range fn.Params {
		v := &binding.Variable{
			Decl:       binding.Decl{Parent: owner, Link: owner.Linkage(), Site: owner.Origin()},
			VarKind:    binding.KindParameter,
			Position:   i,
			HasDefault: p.Default != nil,
		}
		if i < len(ft.Params) {
			v.Type = ft.Params[i]
		}
		if n := names[i]; n != nil {
			v.SimpleName = n.Text
			v.Site = origin(n)
		}
		ps[i] = v
	}
	return ps
}

// reuseParams returns the parameters of an earlier declaration of fun,
// or new parameters owned by it when that declaration did not record
// them.
func (s *session) reuseParams(fun *binding.Function, fn *dom.Declarator, ft *binding.FunctionType, names []*dom.Name) []*binding.Variable {
	if len(fun.Params) == len(fn.Params) {
		if mine(fun) {
			for i, p := range fn.Params {
				if p.Default != nil {
					fun.Params[i].HasDefault = true
				}
			}
		}
		return fun.Params
	}
	ps := s.newParams(fun, fn, ft, names)
	for _, p := range ps {
		s.record(p)
	}
	return ps
}

// paramDefaults binds the names of default arguments. Earlier parameters
// are visible to later defaults.
func (s *session) paramDefaults(dc *declCtx, fn *dom.Declarator, params []*binding.Variable, names []*dom.Name) {
	psc := &scope{kind: scopeFunction, parent: dc.sc, owner: dc.owner}
	pdc := &declCtx{sc: psc, owner: dc.owner, local: dc.local}
	for i, p := range fn.Params {
		if p.Default != nil {
			s.expr(pdc, p.Default)
		}
		if i < len(params) && names[i] != nil {
			psc.add(names[i].Text, params[i], always)
		}
	}
}

// functionBody resolves the member initializers and body of a function
// definition. f is nil when the declaration could not be resolved.
func (s *session) functionBody(fd *dom.FunctionDef, f *binding.Function, params []*binding.Variable, names []*dom.Name, lex *scope) {
	fsc := &scope{kind: scopeFunction, parent: lex}
	if f != nil {
		fsc.owner = f
	}
	for i, n := range names {
		if n != nil && i < len(params) {
			fsc.add(n.Text, params[i], always)
		}
	}
	bdc := &declCtx{sc: fsc, owner: fsc.owner, local: true}
	for _, mi := range fd.Inits {
		s.memberInit(bdc, f, mi)
	}
	if fd.Body != nil {
		s.block(bdc, fd.Body)
	}
}

// memberInit binds a constructor mem-initializer to the member or base
// class it initializes.
func (s *session) memberInit(dc *declCtx, f *binding.Function, mi *dom.MemberInit) {
	types := make([]binding.Type, len(mi.Args))
	for i, a := range mi.Args {
		types[i] = s.expr(dc, a)
	}
	if mi.Name == nil {
		return
	}
	last := mi.Name.Last()
	var cls binding.Class
	if f != nil {
		cls, _ = memberOwner(f).(binding.Class)
	}
	if cls == nil || !mi.Name.Simple() {
		s.typeName(dc.sc, mi.Name, false)
		return
	}
	found := filter(s.memberLookup(cls, last.Name.Text, 0), modeExpr)
	if len(found) == 0 {
		if isTemplated(cls) {
			s.touch(last.Name)
			return
		}
		s.bind(last.Name, s.problem(binding.ProblemMemberNotFound, last.Name))
		return
	}
	if callable(found) {
		s.bind(last.Name, s.overload(last.Name, found, nil, false, mi.Args, types))
		return
	}
	s.bind(last.Name, s.pick(last.Name, qresult{found: found, owner: cls}))
}

func (s *session) functionDef(d *dom.FunctionDef, dc *declCtx) {
	base := s.declSpec(dc.plain(), d.Spec, d.Storage, false)
	if d.Declarator == nil {
		return
	}
	fn := d.Declarator.Function()
	if fn == nil || d.Declarator.DeclName() == nil {
		if d.Body != nil {
			s.block(s.ctxFor(dc.sc), d.Body)
		}
		return
	}
	s.function(dc, d.Storage, base, d.Declarator, fn, d)
}

// functionSpec declares an explicit specialization of a function template.
// It returns nil when no primary template is visible, and the function is
// then declared as an ordinary function.
func (s *session) functionSpec(dc *declCtx, last *dom.Segment, f *binding.Function, fn *dom.Declarator, fd *dom.FunctionDef, lex *scope) binding.Binding {
	name := last.Name
	var primary *binding.FunctionTemplate
	for _, b := range s.lookup(dc.sc, name.Text, s.pos(name), modeExpr) {
		if ft, ok := b.(*binding.FunctionTemplate); ok {
			primary = ft
			break
		}
	}
	if primary == nil {
		return nil
	}
	var explicit []binding.Arg
	if last.HasArgs {
		args, prob := s.templateArgs(dc.sc, last.Args)
		if prob != nil {
			s.bind(name, prob)
			return prob
		}
		explicit = args
	}
	inst, ok := s.cache.InstantiateFunction(primary, explicit, f.Type.Params).(*binding.Instance)
	if !ok {
		p := s.problem(binding.ProblemInvalidTemplateArgs, name, primary)
		s.bind(name, p)
		return p
	}
	spec := &binding.ExplicitSpecialization{
		Decl:    binding.Decl{SimpleName: name.Text, Parent: primary.Owner(), Link: s.linkage(name), Site: origin(name), Attrs: f.Attrs},
		Primary: primary,
		Args:    inst.Args,
		Func:    f,
	}
	for _, ex := range primary.Explicits {
		if sameArgs(ex.Args, spec.Args) && ex.Func != nil {
			spec = ex
			break
		}
	}
	if spec.Func == f {
		f.Parent = spec
		names := paramNames(fn)
		f.Params = s.newParams(f, fn, f.Type, names)
		if mine(primary) {
			primary.Explicits = append(primary.Explicits, spec)
		}
		s.record(spec)
		s.record(f)
		for _, p := range f.Params {
			s.record(p)
		}
	}
	s.bind(name, spec)
	names := paramNames(fn)
	for i, n := range names {
		if n != nil && i < len(spec.Func.Params) {
			s.bind(n, spec.Func.Params[i])
		}
	}
	if fd != nil {
		s.functionBody(fd, spec.Func, spec.Func.Params, names, lex)
	}
	return spec
}

func sameArgs(a, b []binding.Arg) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !binding.SameArg(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (s *session) namespaceDecl(d *dom.NamespaceDecl, dc *declCtx) {
	parent := declScope(dc)
	name, seg := "", "{anon}"
	if d.Name != nil {
		name, seg = d.Name.Text, d.Name.Text
	}
	key := childKey(parent.key, seg)
	ns, ok := s.namespaces[key]
	if !ok {
		if name != "" {
			for _, c := range s.candidates(parent.key, name) {
				if c.Binding.Kind() == binding.KindNamespace {
					ns = c.Binding
					break
				}
			}
		}
		if ns == nil {
			nb := &binding.Namespace{Inline: d.Inline}
			nb.Parent = dc.owner
			if d.Name != nil {
				nb.Decl = s.newDecl(dc, d.Name)
				nb.Decl.Attrs &^= binding.FlagExternC
			} else {
				nb.Decl = binding.Decl{Parent: dc.owner, Link: s.tu.Linkage, Site: s.anonOrigin(d.Offset), Attrs: binding.FlagAnonymous}
			}
			ns = nb
		}
		s.namespaces[key] = ns
		s.record(ns)
	}
	if d.Name != nil {
		parent.add(name, ns, s.pos(d.Name))
		s.bind(d.Name, ns)
	}
	inner := s.nsScope(key, ns)
	if name == "" && !hasDirective(parent, key) {
		parent.directives = append(parent.directives, directive{target: key, pos: s.at(d.Offset)})
		s.usingRecord(Using{Scope: parent.key, Target: key, Offset: d.Offset})
	}
	if d.Inline && !hasInline(parent, inner) {
		parent.inlines = append(parent.inlines, inner)
	}
	idc := &declCtx{sc: inner, owner: ns, externC: dc.externC}
	for _, m := range d.Decls {
		s.decl(m, idc)
	}
}

func hasDirective(sc *scope, key string) bool {
	for _, d := range sc.directives {
		if d.target == key {
			return true
		}
	}
	return false
}

func hasInline(sc, inner *scope) bool {
	for _, x := range sc.inlines {
		if x == inner {
			return true
		}
	}
	return false
}

// usingRecord records a namespace scope using statement of the current
// file for persistence.
func (s *session) usingRecord(u Using) {
	f := s.fragOf[s.file]
	if f == nil {
		return
	}
	s.res.Usings[f] = append(s.res.Usings[f], u)
}

// followAlias resolves namespace aliases.
func followAlias(b binding.Binding) binding.Binding {
	for i := 0; i < 64; i++ {
		na, ok := b.(*binding.NamespaceAlias)
		if !ok || na.Target == nil {
			return b
		}
		b = na.Target
	}
	return b
}

func (s *session) namespaceAlias(d *dom.NamespaceAliasDecl, dc *declCtx) {
	var target binding.Binding
	if d.Target != nil {
		r := s.resolve(dc.sc, d.Target, modeNamespace, false)
		last := d.Target.Last().Name
		b := s.pick(last, r)
		s.bind(last, b)
		if !binding.IsProblem(b) {
			target = followAlias(b)
		}
	}
	if d.Name == nil {
		return
	}
	na := &binding.NamespaceAlias{Decl: s.newDecl(dc, d.Name), Target: target}
	if ex := s.existing(dc, d.Name.Text, binding.EntityKey(na)); ex != nil {
		s.bind(d.Name, ex)
		return
	}
	s.declare(dc, d.Name, na)
	s.bind(d.Name, na)
}

func (s *session) usingDirective(d *dom.UsingDirective, dc *declCtx) {
	if d.Target == nil {
		return
	}
	r := s.resolve(dc.sc, d.Target, modeNamespace, false)
	last := d.Target.Last().Name
	b := s.pick(last, r)
	s.bind(last, b)
	ns, ok := followAlias(b).(*binding.Namespace)
	if !ok {
		return
	}
	key := binding.ScopeKey(ns)
	s.nsScope(key, ns)
	sc := declScope(dc)
	sc.directives = append(sc.directives, directive{target: key, pos: s.at(d.Offset)})
	if sc.kind == scopeNamespace {
		s.usingRecord(Using{Scope: sc.key, Target: key, Offset: d.Offset})
	}
}

func (s *session) usingDeclaration(d *dom.UsingDeclaration, dc *declCtx) {
	q := d.Target
	if q == nil {
		return
	}
	last := q.Last().Name
	r := s.resolve(dc.sc, q, modeExpr, false)
	if r.dependent {
		s.touch(last)
		return
	}
	if r.failed != nil || len(r.found) == 0 {
		s.bind(last, s.pick(last, r))
		return
	}
	found := r.found
	if !callable(found) && len(found) > 1 {
		s.bind(last, s.pick(last, r))
		return
	}
	s.bind(last, found[0])
	sc := declScope(dc)
	if sc.kind == scopeClass {
		m := s.classUsings[sc.owner]
		if m == nil {
			m = make(map[string][]binding.Binding)
			s.classUsings[sc.owner] = m
		}
		m[last.Text] = append(m[last.Text], found...)
		return
	}
	pos := s.at(d.Offset)
	for _, b := range found {
		sc.add(last.Text, b, pos)
	}
	if sc.kind != scopeNamespace {
		return
	}
	qual := ""
	switch o := followAlias(r.owner).(type) {
	case nil:
	case *binding.Namespace:
		qual = binding.ScopeKey(o)
	default:
		return
	}
	s.usingRecord(Using{Scope: sc.key, Target: childKey(qual, last.Text), Offset: d.Offset, Declaration: true})
}

// explicitInstantiation binds `template class A<int>;` and
// `template void f<int>(int);` to the instances they name.
func (s *session) explicitInstantiation(d *dom.ExplicitInstantiation, dc *declCtx) {
	sd, ok := d.Decl.(*dom.SimpleDecl)
	if !ok {
		s.decl(d.Decl, dc.plain())
		return
	}
	pdc := dc.plain()
	base := s.declSpec(pdc, sd.Spec, dom.Storage{}, len(sd.Declarators) == 0)
	for _, decl := range sd.Declarators {
		q := decl.DeclName()
		fn := decl.Function()
		if q == nil || fn == nil {
			continue
		}
		ft, _ := s.declaratorType(pdc, base, decl).(*binding.FunctionType)
		if ft == nil {
			continue
		}
		last := q.Last()
		r := s.resolve(pdc.sc, q, modeExpr, false)
		if r.dependent || r.failed != nil {
			s.bind(last.Name, s.pick(last.Name, r))
			continue
		}
		var explicit []binding.Arg
		if last.HasArgs {
			args, prob := s.templateArgs(pdc.sc, last.Args)
			if prob != nil {
				s.bind(last.Name, prob)
				continue
			}
			explicit = args
		}
		var b binding.Binding
		for _, c := range r.found {
			ftm, ok := c.(*binding.FunctionTemplate)
			if !ok {
				continue
			}
			if inst, ok := s.cache.InstantiateFunction(ftm, explicit, ft.Params).(*binding.Instance); ok {
				b = inst
				break
			}
		}
		if b == nil {
			b = s.pick(last.Name, r)
		}
		s.bind(last.Name, b)
	}
}
