package dom

import "github.com/jward/cxxindex/internal/binding"

// Inspect traverses node depth-first in source order, calling fn for every
// node. If fn returns false the children of that node are skipped.
func Inspect(node any, fn func(any) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case *File:
		for _, d := range n.Decls {
			Inspect(d, fn)
		}
	case *SimpleDecl:
		inspectSpec(n.Spec, fn)
		for _, d := range n.Declarators {
			inspectDeclarator(d, fn)
		}
	case *FunctionDef:
		inspectSpec(n.Spec, fn)
		inspectDeclarator(n.Declarator, fn)
		for _, in := range n.Inits {
			inspectQName(in.Name, fn)
			for _, a := range in.Args {
				Inspect(a, fn)
			}
		}
		if n.Body != nil {
			Inspect(n.Body, fn)
		}
	case *NamespaceDecl:
		if n.Name != nil {
			fn(n.Name)
		}
		for _, d := range n.Decls {
			Inspect(d, fn)
		}
	case *NamespaceAliasDecl:
		fn(n.Name)
		inspectQName(n.Target, fn)
	case *UsingDirective:
		inspectQName(n.Target, fn)
	case *UsingDeclaration:
		inspectQName(n.Target, fn)
	case *AliasDecl:
		fn(n.Name)
		inspectTypeID(n.Type, fn)
	case *TemplateDecl:
		for _, p := range n.Params {
			inspectTemplateParam(p, fn)
		}
		Inspect(n.Decl, fn)
	case *ExplicitInstantiation:
		Inspect(n.Decl, fn)
	case *LinkageSpec:
		for _, d := range n.Decls {
			Inspect(d, fn)
		}
	case *Opaque:
		for _, e := range n.Exprs {
			Inspect(e, fn)
		}
	case *IdExpr:
		inspectQName(n.Name, fn)
	case *Unary:
		Inspect(n.X, fn)
	case *Binary:
		Inspect(n.X, fn)
		Inspect(n.Y, fn)
	case *Assign:
		Inspect(n.LHS, fn)
		Inspect(n.RHS, fn)
	case *Cond:
		Inspect(n.C, fn)
		Inspect(n.T, fn)
		Inspect(n.F, fn)
	case *Call:
		Inspect(n.Fn, fn)
		for _, a := range n.Args {
			Inspect(a, fn)
		}
	case *Member:
		Inspect(n.X, fn)
		inspectQName(n.Name, fn)
	case *Index:
		Inspect(n.X, fn)
		Inspect(n.I, fn)
	case *Cast:
		inspectTypeID(n.Type, fn)
		Inspect(n.X, fn)
	case *Sizeof:
		inspectTypeID(n.Type, fn)
		Inspect(n.X, fn)
	case *New:
		inspectTypeID(n.Type, fn)
		for _, a := range n.Args {
			Inspect(a, fn)
		}
	case *Delete:
		Inspect(n.X, fn)
	case *InitList:
		for _, e := range n.Elems {
			Inspect(e, fn)
		}
	case *Paren:
		Inspect(n.X, fn)
	case *Construct:
		inspectTypeID(n.Type, fn)
		for _, a := range n.Args {
			Inspect(a, fn)
		}
	case *OpaqueExpr:
		for _, e := range n.Exprs {
			Inspect(e, fn)
		}
	case *Block:
		for _, s := range n.Stmts {
			Inspect(s, fn)
		}
	case *ExprStmt:
		Inspect(n.X, fn)
	case *DeclStmt:
		Inspect(n.Decl, fn)
	case *Return:
		Inspect(n.X, fn)
	case *Control:
		Inspect(n.Init, fn)
		if n.CondDecl != nil {
			Inspect(n.CondDecl, fn)
		}
		Inspect(n.Cond, fn)
		Inspect(n.Step, fn)
		for _, s := range n.Body {
			Inspect(s, fn)
		}
	}
}

func inspectQName(q *QName, fn func(any) bool) {
	if q == nil {
		return
	}
	for _, seg := range q.Segments {
		fn(seg.Name)
		for _, a := range seg.Args {
			if a.Type != nil {
				inspectTypeID(a.Type, fn)
			}
			if a.Expr != nil {
				Inspect(a.Expr, fn)
			}
		}
	}
}

func inspectSpec(s *DeclSpec, fn func(any) bool) {
	if s == nil {
		return
	}
	inspectQName(s.Named, fn)
	if c := s.Class; c != nil {
		inspectQName(c.Name, fn)
		for _, b := range c.Bases {
			inspectQName(b.Name, fn)
		}
		for _, m := range c.Members {
			Inspect(m, fn)
		}
	}
	if e := s.Enum; e != nil {
		inspectQName(e.Name, fn)
		inspectSpec(e.Base, fn)
		for _, en := range e.Enumerators {
			fn(en.Name)
			if en.Value != nil {
				Inspect(en.Value, fn)
			}
		}
	}
}

func inspectDeclarator(d *Declarator, fn func(any) bool) {
	for cur := d; cur != nil; cur = cur.Inner {
		inspectQName(cur.Class, fn)
		inspectQName(cur.Name, fn)
		if cur.Size != nil {
			Inspect(cur.Size, fn)
		}
		for _, p := range cur.Params {
			inspectSpec(p.Spec, fn)
			inspectDeclarator(p.Decl, fn)
			if p.Default != nil {
				Inspect(p.Default, fn)
			}
		}
	}
	if d != nil && d.Init != nil {
		Inspect(d.Init, fn)
	}
}

func inspectTypeID(t *TypeID, fn func(any) bool) {
	if t == nil {
		return
	}
	inspectSpec(t.Spec, fn)
	inspectDeclarator(t.Decl, fn)
}

func inspectTemplateParam(p *TemplateParam, fn func(any) bool) {
	if p.Name != nil {
		fn(p.Name)
	}
	inspectTypeID(p.Type, fn)
	for _, sub := range p.Params {
		inspectTemplateParam(sub, fn)
	}
	if p.Default != nil {
		inspectTypeID(p.Default.Type, fn)
		if p.Default.Expr != nil {
			Inspect(p.Default.Expr, fn)
		}
	}
}

// Visit calls fn for every name of f in source order until fn returns
// false. It walks the recorded name list, so it is finite and may be
// restarted at any time.
func Visit(f *File, fn func(*Name) bool) {
	for _, n := range f.Names {
		if !fn(n) {
			return
		}
	}
}

// CollectNames returns the names reachable from node in traversal order.
func CollectNames(node any) []*Name {
	var out []*Name
	Inspect(node, func(n any) bool {
		if name, ok := n.(*Name); ok && name != nil {
			out = append(out, name)
		}
		return true
	})
	return out
}

// SelectName returns the name at exactly [offset, offset+length) in f, or
// the innermost name enclosing that span, or nil.
func SelectName(f *File, offset, length int) *Name {
	var best *Name
	for _, n := range f.Names {
		if n.Offset == offset && n.Length == length {
			return n
		}
		if n.Offset <= offset && offset+length <= n.Offset+n.Length {
			if best == nil || n.Length < best.Length {
				best = n
			}
		}
	}
	return best
}

// Declarations returns the declaring and defining names of b in the
// translation unit.
func Declarations(tu *TranslationUnit, b binding.Binding) []*Name {
	if b == nil {
		return nil
	}
	id := binding.Identity(b)
	var out []*Name
	for _, f := range tu.Files() {
		for _, n := range f.Names {
			if n.Binding == nil || !n.Role.Has(RoleDeclaration|RoleDefinition) {
				continue
			}
			if n.Binding == b || binding.Identity(n.Binding) == id {
				out = append(out, n)
			}
		}
	}
	return out
}
