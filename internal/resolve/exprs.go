package resolve

import (
	"strings"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/template"
)

// block resolves a compound statement in a new block scope.
func (s *session) block(dc *declCtx, b *dom.Block) {
	bdc := &declCtx{sc: &scope{kind: scopeBlock, parent: dc.sc}, owner: dc.owner, local: true}
	for _, st := range b.Stmts {
		s.stmt(bdc, st)
	}
}

func (s *session) stmt(dc *declCtx, st dom.Stmt) {
	switch x := st.(type) {
	case *dom.Block:
		s.block(dc, x)
	case *dom.ExprStmt:
		s.expr(dc, x.X)
	case *dom.DeclStmt:
		s.decl(x.Decl, dc)
	case *dom.Return:
		s.expr(dc, x.X)
	case *dom.Control:
		cdc := &declCtx{sc: &scope{kind: scopeBlock, parent: dc.sc}, owner: dc.owner, local: true}
		if x.Init != nil {
			s.stmt(cdc, x.Init)
		}
		if x.CondDecl != nil {
			s.decl(x.CondDecl, cdc)
		}
		s.expr(cdc, x.Cond)
		s.expr(cdc, x.Step)
		for _, b := range x.Body {
			s.stmt(cdc, b)
		}
	}
}

// expr binds the names of x and returns its type, or nil when the type is
// unknown or depends on template parameters.
func (s *session) expr(dc *declCtx, x dom.Expr) binding.Type {
	switch e := x.(type) {
	case nil:
		return nil
	case *dom.IdExpr:
		return s.idExpr(dc, e)
	case *dom.Literal:
		return literalType(e)
	case *dom.Paren:
		return s.expr(dc, e.X)
	case *dom.Unary:
		return unaryType(e.Op, s.expr(dc, e.X))
	case *dom.Binary:
		return binaryType(e.Op, s.expr(dc, e.X), s.expr(dc, e.Y))
	case *dom.Assign:
		t := s.expr(dc, e.LHS)
		s.expr(dc, e.RHS)
		return t
	case *dom.Cond:
		s.expr(dc, e.C)
		t := s.expr(dc, e.T)
		f := s.expr(dc, e.F)
		if t == nil {
			return f
		}
		return t
	case *dom.Call:
		return s.call(dc, e)
	case *dom.Member:
		return s.member(dc, e)
	case *dom.Index:
		t := s.expr(dc, e.X)
		s.expr(dc, e.I)
		return elemType(t)
	case *dom.Cast:
		t := s.typeID(dc, e.Type)
		s.expr(dc, e.X)
		return t
	case *dom.Sizeof:
		s.typeID(dc, e.Type)
		s.expr(dc, e.X)
		return binding.Builtin(binding.Int, binding.ModUnsigned|binding.ModLong)
	case *dom.New:
		t := s.typeID(dc, e.Type)
		for _, a := range e.Args {
			s.expr(dc, a)
		}
		if t == nil {
			return nil
		}
		return &binding.Pointer{Elem: t}
	case *dom.Delete:
		s.expr(dc, e.X)
		return binding.Builtin(binding.Void, 0)
	case *dom.This:
		if c := enclosingClass(dc.sc); c != nil {
			return &binding.Pointer{Elem: c}
		}
		return nil
	case *dom.InitList:
		for _, el := range e.Elems {
			s.expr(dc, el)
		}
		return nil
	case *dom.Construct:
		t := s.typeID(dc, e.Type)
		for _, a := range e.Args {
			s.expr(dc, a)
		}
		return t
	case *dom.OpaqueExpr:
		for _, el := range e.Exprs {
			s.expr(dc, el)
		}
	}
	return nil
}

func (s *session) idExpr(dc *declCtx, e *dom.IdExpr) binding.Type {
	last := e.Name.Last()
	r := s.resolve(dc.sc, e.Name, modeExpr, false)
	if r.dependent {
		s.touchAll(last)
		return nil
	}
	var b binding.Binding
	if len(r.found) > 1 && callable(r.found) {
		// Outside a call the first declared overload stands for the set.
		b = r.found[0]
	} else {
		b = s.pick(last.Name, r)
	}
	if last.HasArgs && !binding.IsProblem(b) {
		b = s.specialize(dc.sc, last, b, false)
	}
	s.bind(last.Name, b)
	return typeOf(b)
}

// typeOf returns the type of an expression naming b.
func typeOf(b binding.Binding) binding.Type {
	switch x := b.(type) {
	case *binding.Variable:
		return x.Type
	case *binding.Function:
		if x.Type == nil {
			return nil
		}
		return x.Type
	case *binding.Enumerator:
		if x.Enum != nil {
			return x.Enum
		}
		return binding.Builtin(binding.Int, 0)
	case *binding.TemplateParameter:
		if x.ParamKind == binding.ParamValue {
			return x.ValueType
		}
	case *binding.Instance:
		if x.Func != nil && x.Func.Type != nil {
			return x.Func.Type
		}
	case *binding.ExplicitSpecialization:
		if x.Func != nil && x.Func.Type != nil {
			return x.Func.Type
		}
	}
	return nil
}

// resultOf returns the result type of calling an expression of type t.
func resultOf(t binding.Type) binding.Type {
	switch x := binding.Unqualified(t).(type) {
	case *binding.FunctionType:
		return x.Result
	case *binding.Pointer:
		if ft, ok := binding.Unqualified(x.Elem).(*binding.FunctionType); ok {
			return ft.Result
		}
	}
	return nil
}

func literalType(e *dom.Literal) binding.Type {
	text := strings.ToLower(e.Text)
	switch e.Kind {
	case dom.LitInt:
		var mods binding.BasicMod
		suffix := strings.TrimLeft(text, "0123456789abcdefx'")
		if strings.HasPrefix(text, "0x") {
			suffix = strings.TrimLeft(text[2:], "0123456789abcdef'")
		}
		if strings.Contains(suffix, "u") {
			mods |= binding.ModUnsigned
		}
		switch strings.Count(suffix, "l") {
		case 1:
			mods |= binding.ModLong
		case 2:
			mods |= binding.ModLongLong
		}
		return binding.Builtin(binding.Int, mods)
	case dom.LitChar:
		switch {
		case strings.HasPrefix(text, "l"):
			return binding.Builtin(binding.WChar, 0)
		case strings.HasPrefix(text, "u8"):
			return binding.Builtin(binding.Char, 0)
		case strings.HasPrefix(text, "u"):
			return binding.Builtin(binding.Char16, 0)
		}
		return binding.Builtin(binding.Char, 0)
	case dom.LitBool:
		return binding.Builtin(binding.Bool, 0)
	case dom.LitFloat:
		if strings.HasSuffix(text, "f") {
			return binding.Builtin(binding.Float, 0)
		}
		return binding.Builtin(binding.Double, 0)
	case dom.LitString:
		elem := binding.Builtin(binding.Char, 0)
		if strings.HasPrefix(text, "l") {
			elem = binding.Builtin(binding.WChar, 0)
		}
		return &binding.Pointer{Elem: &binding.Qualified{Elem: elem, Const: true}}
	case dom.LitNullptr:
		return binding.Builtin(binding.Nullptr, 0)
	}
	return nil
}

// elemType returns the element type reached by dereferencing or indexing t.
func elemType(t binding.Type) binding.Type {
	switch x := binding.Unqualified(t).(type) {
	case *binding.Pointer:
		return x.Elem
	case *binding.Array:
		return x.Elem
	}
	return nil
}

func unaryType(op string, t binding.Type) binding.Type {
	switch op {
	case "*":
		return elemType(t)
	case "&":
		if t == nil {
			return nil
		}
		return &binding.Pointer{Elem: binding.Unqualified(t)}
	case "!":
		return binding.Builtin(binding.Bool, 0)
	case "-", "+", "~":
		return promote(t)
	}
	return t
}

func binaryType(op string, x, y binding.Type) binding.Type {
	switch op {
	case "==", "!=", "<", ">", "<=", ">=", "&&", "||":
		return binding.Builtin(binding.Bool, 0)
	case ",":
		return y
	case "<<", ">>":
		if _, ok := binding.Unqualified(x).(*binding.Basic); ok {
			return promote(x)
		}
		return x
	case "-":
		if binding.IsPointerLike(x) && binding.IsPointerLike(y) {
			return binding.Builtin(binding.Int, binding.ModLong)
		}
	}
	if binding.IsPointerLike(x) {
		return decay(x)
	}
	if binding.IsPointerLike(y) {
		return decay(y)
	}
	return arith(x, y)
}

// promote applies integral promotion.
func promote(t binding.Type) binding.Type {
	b, ok := binding.Unqualified(t).(*binding.Basic)
	if !ok {
		return t
	}
	switch {
	case b.Kind == binding.Bool || b.Kind == binding.Char || b.Kind == binding.WChar || b.Kind == binding.Char16:
		return binding.Builtin(binding.Int, 0)
	case b.Kind == binding.Int && b.Mods&binding.ModShort != 0:
		return binding.Builtin(binding.Int, 0)
	}
	return b
}

// arith returns the common type of the usual arithmetic conversions.
func arith(x, y binding.Type) binding.Type {
	a, ok1 := promote(x).(*binding.Basic)
	b, ok2 := promote(y).(*binding.Basic)
	switch {
	case !ok1:
		return y
	case !ok2:
		return x
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}

func rank(b *binding.Basic) int {
	switch b.Kind {
	case binding.Double:
		if b.Mods&binding.ModLong != 0 {
			return 9
		}
		return 8
	case binding.Float:
		return 7
	case binding.Int:
		r := 2
		switch {
		case b.Mods&binding.ModLongLong != 0:
			r = 6
		case b.Mods&binding.ModLong != 0:
			r = 4
		}
		if b.Mods&binding.ModUnsigned != 0 {
			r++
		}
		return r
	}
	return 1
}

// decay strips references and cv-qualifiers and converts arrays and
// functions to pointers.
func decay(t binding.Type) binding.Type {
	u := binding.Unqualified(t)
	switch x := u.(type) {
	case *binding.Array:
		return &binding.Pointer{Elem: x.Elem}
	case *binding.FunctionType:
		return &binding.Pointer{Elem: x}
	}
	return u
}

// objectClass returns the class accessed by a member expression on an
// object of type t, or nil when it is unknown or dependent.
func objectClass(t binding.Type, arrow bool) binding.Class {
	if arrow {
		t = elemType(t)
	}
	if t == nil || template.Dependent(t) {
		return nil
	}
	c := binding.ClassOf(t)
	if inst, ok := c.(*binding.Instance); ok && template.DependentArgs(inst.Args) {
		return nil
	}
	return c
}

// isTemplated reports whether the members of c are only partly known
// before instantiation.
func isTemplated(c binding.Class) bool {
	switch x := c.(type) {
	case *binding.ClassTemplate, *binding.PartialSpecialization:
		return true
	case *binding.Instance:
		return template.DependentArgs(x.Args)
	}
	for _, b := range c.Body().Bases {
		if b.Type == nil || template.Dependent(b.Type) {
			return true
		}
	}
	return false
}

// memberFind looks up the member named by q in class c; a qualified member
// name such as `x.Base::f` is looked up in the named base.
func (s *session) memberFind(dc *declCtx, c binding.Class, q *dom.QName) ([]binding.Binding, binding.Binding, bool) {
	owner := binding.Binding(c)
	if !q.Simple() {
		r := s.qualifier(s.scopeFor(c), q, false)
		if r.failed != nil || r.dependent {
			return nil, nil, false
		}
		if r.owner != nil {
			owner = r.owner
		}
	}
	last := q.Last()
	found := filter(s.qualifiedIn(owner, last.Name.Text, always), modeExpr)
	return found, owner, true
}

func (s *session) member(dc *declCtx, e *dom.Member) binding.Type {
	objT := s.expr(dc, e.X)
	last := e.Name.Last()
	cls := objectClass(objT, e.Arrow)
	if cls == nil {
		s.touchAll(last)
		return nil
	}
	found, owner, ok := s.memberFind(dc, cls, e.Name)
	if !ok {
		s.touchAll(last)
		return nil
	}
	if len(found) == 0 && isTemplated(cls) {
		s.touchAll(last)
		return nil
	}
	var b binding.Binding
	if len(found) > 1 && callable(found) {
		b = found[0]
	} else {
		b = s.pick(last.Name, qresult{found: found, owner: owner})
	}
	s.bind(last.Name, b)
	return typeOf(b)
}

func (s *session) call(dc *declCtx, e *dom.Call) binding.Type {
	types := make([]binding.Type, len(e.Args))
	for i, a := range e.Args {
		types[i] = s.expr(dc, a)
	}
	switch fn := e.Fn.(type) {
	case *dom.IdExpr:
		return s.callName(dc, fn, e.Args, types)
	case *dom.Member:
		return s.callMember(dc, fn, e.Args, types)
	case *dom.Paren:
		if id, ok := fn.X.(*dom.IdExpr); ok {
			return s.callName(dc, id, e.Args, types)
		}
	}
	return resultOf(s.expr(dc, e.Fn))
}

func anyDependent(types []binding.Type) bool {
	for _, t := range types {
		if t == nil || template.Dependent(t) {
			return true
		}
	}
	return false
}

// callable reports whether every binding is a function or function
// template, forming an overload set.
func callable(bs []binding.Binding) bool {
	if len(bs) == 0 {
		return false
	}
	for _, b := range bs {
		switch x := b.(type) {
		case *binding.Function, *binding.FunctionTemplate:
		case *binding.Instance:
			if x.Func == nil {
				return false
			}
		case *binding.ExplicitSpecialization:
			if x.Func == nil {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (s *session) callName(dc *declCtx, fn *dom.IdExpr, args []dom.Expr, types []binding.Type) binding.Type {
	q := fn.Name
	last := q.Last()
	r := s.resolve(dc.sc, q, modeExpr, false)
	if r.dependent {
		s.touchAll(last)
		return nil
	}
	if r.failed != nil {
		s.bind(last.Name, s.pick(last.Name, r))
		return nil
	}
	found := r.found
	if !r.qualified && (len(found) == 0 || callable(found)) {
		found = dedupe(append(found, s.associated(last.Name, types)...))
	}
	if len(found) == 0 {
		if !r.qualified && anyDependent(types) {
			// Found by argument-dependent lookup at instantiation.
			s.touchAll(last)
			return nil
		}
		s.bind(last.Name, s.pick(last.Name, r))
		return nil
	}
	var explicit []binding.Arg
	if last.HasArgs {
		a, prob := s.templateArgs(dc.sc, last.Args)
		if prob != nil {
			s.bind(last.Name, prob)
			return nil
		}
		explicit = a
	}
	if callable(found) {
		b := s.overload(last.Name, found, explicit, last.HasArgs, args, types)
		s.bind(last.Name, b)
		return s.callResult(b)
	}
	b := s.pick(last.Name, qresult{found: found, owner: r.owner})
	if last.HasArgs && !binding.IsProblem(b) {
		b = s.specialize(dc.sc, last, b, false)
	}
	s.bind(last.Name, b)
	if t, ok := b.(binding.Type); ok && b.Kind().IsType() {
		// A functional cast or a temporary of class type.
		return t
	}
	return resultOf(typeOf(b))
}

// callResult returns the type of a call to b: the class for constructors,
// the result type otherwise.
func (s *session) callResult(b binding.Binding) binding.Type {
	f := funcOf(b)
	if f == nil {
		return nil
	}
	if c, ok := memberOwner(f).(binding.Class); ok && f.Name() == c.Name() {
		return c
	}
	if f.Type == nil {
		return nil
	}
	return f.Type.Result
}

// associated returns the functions named n declared in the namespaces of
// class-typed arguments.
func (s *session) associated(n *dom.Name, types []binding.Type) []binding.Binding {
	var out []binding.Binding
	seen := make(map[string]bool)
	for _, t := range types {
		c := binding.ClassOf(decay(t))
		if p, ok := decay(t).(*binding.Pointer); ok {
			c = binding.ClassOf(p.Elem)
		}
		if c == nil {
			continue
		}
		var ns binding.Binding
		for cur := c.Owner(); cur != nil; cur = cur.Owner() {
			if cur.Kind() == binding.KindNamespace {
				ns = cur
				break
			}
		}
		if ns == nil {
			continue
		}
		key := binding.ScopeKey(ns)
		if seen[key] {
			continue
		}
		seen[key] = true
		for _, b := range s.nsFind(s.nsScope(key, ns), n.Text, s.pos(n), make(map[string]bool)) {
			if callable([]binding.Binding{b}) {
				out = append(out, b)
			}
		}
	}
	return out
}

func (s *session) callMember(dc *declCtx, m *dom.Member, args []dom.Expr, types []binding.Type) binding.Type {
	objT := s.expr(dc, m.X)
	last := m.Name.Last()
	cls := objectClass(objT, m.Arrow)
	if cls == nil {
		s.touchAll(last)
		return nil
	}
	found, owner, ok := s.memberFind(dc, cls, m.Name)
	if !ok || (len(found) == 0 && isTemplated(cls)) {
		s.touchAll(last)
		return nil
	}
	if len(found) == 0 {
		s.bind(last.Name, s.problem(binding.ProblemMemberNotFound, last.Name))
		return nil
	}
	var explicit []binding.Arg
	if last.HasArgs {
		a, prob := s.templateArgs(dc.sc, last.Args)
		if prob != nil {
			s.bind(last.Name, prob)
			return nil
		}
		explicit = a
	}
	if callable(found) {
		b := s.overload(last.Name, found, explicit, last.HasArgs, args, types)
		s.bind(last.Name, b)
		return s.callResult(b)
	}
	b := s.pick(last.Name, qresult{found: found, owner: owner})
	s.bind(last.Name, b)
	return resultOf(typeOf(b))
}
