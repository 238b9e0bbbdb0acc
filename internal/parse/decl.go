package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
)

// declList converts the declarations below a translation unit, namespace
// body, linkage block or class body.
func (c *converter) declList(n *sitter.Node, sc scope) []dom.Decl {
	var out []dom.Decl
	if n == nil {
		return out
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, c.decls(n.NamedChild(i), sc)...)
	}
	return out
}

// decls converts one declaration-level node. Statement-like nodes at
// namespace scope (from error recovery) become opaque declarations.
func (c *converter) decls(n *sitter.Node, sc scope) []dom.Decl {
	switch n.Type() {
	case "comment", "preproc_call", ";":
		return nil
	case "declaration", "field_declaration", "type_definition":
		return []dom.Decl{c.simpleDecl(n, sc, dom.Storage{})}
	case "function_definition", "inline_method_definition":
		return []dom.Decl{c.functionDef(n, sc, dom.Storage{})}
	case "class_specifier", "struct_specifier", "union_specifier", "enum_specifier":
		// `struct S {...};` without declarators.
		return []dom.Decl{c.bareSpecifier(n, sc, dom.Storage{})}
	case "namespace_definition":
		return []dom.Decl{c.namespaceDef(n)}
	case "namespace_alias_definition":
		return []dom.Decl{c.namespaceAlias(n)}
	case "using_declaration":
		return []dom.Decl{c.usingDecl(n)}
	case "alias_declaration":
		return []dom.Decl{&dom.AliasDecl{
			Offset: c.pos(n),
			Name:   c.name(n.ChildByFieldName("name"), dom.RoleDefinition),
			Type:   c.typeDescriptor(n.ChildByFieldName("type")),
		}}
	case "template_declaration":
		if d := c.templateDecl(n, sc); d != nil {
			return []dom.Decl{d}
		}
		return nil
	case "template_instantiation":
		return []dom.Decl{&dom.ExplicitInstantiation{Offset: c.pos(n), Decl: c.simpleDecl(n, sc, dom.Storage{})}}
	case "linkage_specification":
		return []dom.Decl{c.linkageSpec(n, sc)}
	case "friend_declaration":
		return []dom.Decl{c.friendDecl(n, sc)}
	case "access_specifier":
		return []dom.Decl{&dom.AccessDecl{Offset: c.pos(n), Access: strings.TrimSpace(c.text(n))}}
	case "declaration_list", "field_declaration_list":
		return c.declList(n, sc)
	case "preproc_if", "preproc_ifdef", "preproc_else", "preproc_elif":
		// Conditionals survive only when the text was not preprocessed.
		var out []dom.Decl
		children(n, func(field string, ch *sitter.Node) {
			if ch.IsNamed() && field != "condition" && field != "name" {
				out = append(out, c.decls(ch, sc)...)
			}
		})
		return out
	case "expression_statement":
		if n.NamedChildCount() == 0 {
			return nil
		}
		if d := c.castDecl(n); d != nil {
			return []dom.Decl{d}
		}
	}
	if !n.IsNamed() {
		return nil
	}
	op := c.opaque(n)
	if len(op.Exprs) == 0 {
		return nil
	}
	return []dom.Decl{&dom.Opaque{Offset: op.Offset, Exprs: op.Exprs}}
}

// castDecl reads a namespace-scope expression statement that tree-sitter
// took for a functional cast, as in `int (*p)();`, back as a declaration.
// Expression statements are not valid outside blocks, so the declaration
// reading is the only one that can apply.
func (c *converter) castDecl(n *sitter.Node) *dom.SimpleDecl {
	e := n.NamedChild(0)
	var calls []*sitter.Node
	for e != nil && e.Type() == "call_expression" {
		calls = append(calls, e)
		fn := e.ChildByFieldName("function")
		if fn != nil && fn.Type() != "call_expression" {
			break
		}
		e = fn
	}
	if len(calls) == 0 {
		return nil
	}
	inner := calls[len(calls)-1]
	typ := inner.ChildByFieldName("function")
	args := inner.ChildByFieldName("arguments")
	if typ == nil || args == nil || args.NamedChildCount() != 1 {
		return nil
	}
	spec := &dom.DeclSpec{}
	switch typ.Type() {
	case "primitive_type":
		spec.Keywords = append(spec.Keywords, c.text(typ))
	case "identifier", "type_identifier", "qualified_identifier", "template_function", "template_type":
		spec.Named = c.qname(typ, dom.RoleReference)
	default:
		return nil
	}
	decl := c.exprDeclarator(args.NamedChild(0), dom.RoleDefinition)
	if decl == nil || decl.DeclName() == nil {
		return nil
	}
	// Outer argument lists are parameter lists, innermost first.
	for i := len(calls) - 2; i >= 0; i-- {
		params, ok := c.exprParams(calls[i].ChildByFieldName("arguments"))
		if !ok {
			return nil
		}
		decl = &dom.Declarator{Op: dom.OpFunction, Params: params, Inner: decl}
	}
	if decl.Function() != nil {
		decl.DeclName().Last().Name.Role = dom.RoleDeclaration
	}
	return &dom.SimpleDecl{Offset: c.pos(n), Spec: spec, Declarators: []*dom.Declarator{decl}}
}

// exprDeclarator reads a declarator that was parsed as an expression.
func (c *converter) exprDeclarator(n *sitter.Node, role dom.Role) *dom.Declarator {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "parenthesized_expression":
		if n.NamedChildCount() != 1 {
			return nil
		}
		return c.exprDeclarator(n.NamedChild(0), role)
	case "pointer_expression":
		op := dom.OpPointer
		if c.hasToken(n, "&") {
			op = dom.OpReference
		}
		inner := c.exprDeclarator(n.ChildByFieldName("argument"), role)
		if inner == nil {
			return nil
		}
		return &dom.Declarator{Op: op, Inner: inner}
	case "identifier", "qualified_identifier":
		if q := c.qname(n, role); q != nil {
			return &dom.Declarator{Op: dom.OpName, Name: q}
		}
	}
	return nil
}

// exprParams reads an argument list of type names as unnamed parameters.
func (c *converter) exprParams(n *sitter.Node) ([]*dom.Param, bool) {
	if n == nil {
		return nil, false
	}
	var out []*dom.Param
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		spec := &dom.DeclSpec{}
		switch ch.Type() {
		case "primitive_type":
			spec.Keywords = append(spec.Keywords, c.text(ch))
		case "identifier", "type_identifier", "qualified_identifier":
			spec.Named = c.qname(ch, dom.RoleReference)
		default:
			return nil, false
		}
		out = append(out, &dom.Param{Spec: spec})
	}
	if len(out) == 1 && len(out[0].Spec.Keywords) == 1 && out[0].Spec.Keywords[0] == "void" {
		out = nil
	}
	return out, true
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// specifiers reads the decl-specifiers of a declaration-like node: storage
// keywords, cv-qualifiers and the type specifier.
func (c *converter) specifiers(n *sitter.Node, st dom.Storage, sc scope, standalone bool) (dom.Storage, *dom.DeclSpec) {
	spec := &dom.DeclSpec{}
	if n.Type() == "type_definition" {
		st.Typedef = true
	}
	children(n, func(field string, ch *sitter.Node) {
		if field == "type" {
			c.typeSpecifier(spec, ch, sc, standalone)
			return
		}
		switch ch.Type() {
		case "type_qualifier":
			switch strings.TrimSpace(c.text(ch)) {
			case "const":
				spec.Const = true
			case "volatile":
				spec.Volatile = true
			case "constexpr":
				st.Constexpr = true
				spec.Const = true
			}
		case "storage_class_specifier", "virtual_function_specifier", "explicit_function_specifier",
			"virtual", "explicit", "inline", "static", "extern", "mutable", "friend", "constexpr", "register", "thread_local":
			word := strings.TrimSpace(c.text(ch))
			if i := strings.IndexAny(word, "( "); i > 0 {
				word = word[:i]
			}
			switch word {
			case "static":
				st.Static = true
			case "extern":
				st.Extern = true
			case "inline":
				st.Inline = true
			case "virtual":
				st.Virtual = true
			case "explicit":
				st.Explicit = true
			case "mutable":
				st.Mutable = true
			case "friend":
				st.Friend = true
			case "constexpr":
				st.Constexpr = true
				spec.Const = true
			}
		}
	})
	return st, spec
}

// typeSpecifier fills spec from a type specifier node.
func (c *converter) typeSpecifier(spec *dom.DeclSpec, n *sitter.Node, sc scope, standalone bool) {
	switch n.Type() {
	case "primitive_type":
		spec.Keywords = append(spec.Keywords, c.text(n))
	case "sized_type_specifier":
		children(n, func(field string, ch *sitter.Node) {
			switch {
			case field == "type" || ch.Type() == "primitive_type":
				spec.Keywords = append(spec.Keywords, c.text(ch))
			case !ch.IsNamed():
				spec.Keywords = append(spec.Keywords, c.text(ch))
			}
		})
	case "type_identifier", "qualified_identifier", "qualified_type_identifier", "template_type", "namespace_identifier":
		spec.Named = c.qname(n, dom.RoleReference)
	case "class_specifier", "struct_specifier", "union_specifier":
		spec.Class = c.classSpec(n, sc, standalone)
		spec.Elaborated = !spec.Class.HasBody
	case "enum_specifier":
		spec.Enum = c.enumSpec(n, standalone)
		spec.Elaborated = !spec.Enum.HasBody
	case "dependent_type":
		spec.Typename = true
		if n.NamedChildCount() > 0 {
			c.typeSpecifier(spec, n.NamedChild(0), sc, standalone)
		}
	case "placeholder_type_specifier", "auto", "decltype":
		spec.Auto = true
	default:
		if strings.TrimSpace(c.text(n)) == "auto" {
			spec.Auto = true
		}
	}
}

// simpleDecl converts declaration, field_declaration, type_definition and
// template_instantiation nodes.
func (c *converter) simpleDecl(n *sitter.Node, sc scope, st dom.Storage) *dom.SimpleDecl {
	declNodes := fieldAll(n, "declarator")
	st, spec := c.specifiers(n, st, sc, len(declNodes) == 0)
	d := &dom.SimpleDecl{Offset: c.pos(n), Storage: st, Spec: spec}

	var defaults []*sitter.Node
	var bitfield *sitter.Node
	children(n, func(field string, ch *sitter.Node) {
		switch {
		case field == "default_value":
			defaults = append(defaults, ch)
		case ch.Type() == "bitfield_clause":
			bitfield = ch
		}
	})

	for i, dn := range declNodes {
		role := c.declaratorRole(st, sc, dn)
		decl := c.declarator(dn, role)
		if decl == nil {
			continue
		}
		if i < len(defaults) {
			if fn := decl.Function(); fn != nil && strings.TrimSpace(c.text(defaults[i])) == "0" {
				fn.Pure = true
			} else if decl.Init == nil {
				decl.Init = c.initializer(defaults[i])
				markWrite(decl)
			}
		}
		if bitfield != nil && i == len(declNodes)-1 && bitfield.NamedChildCount() > 0 {
			decl.Bitfield = c.expr(bitfield.NamedChild(0))
		}
		d.Declarators = append(d.Declarators, decl)
	}
	children(n, func(_ string, ch *sitter.Node) {
		if ch.Type() == "pure_virtual_clause" && len(d.Declarators) > 0 {
			if fn := d.Declarators[0].Function(); fn != nil {
				fn.Pure = true
			}
		}
	})
	return d
}

// declaratorRole decides whether a declarator declares or defines.
func (c *converter) declaratorRole(st dom.Storage, sc scope, dn *sitter.Node) dom.Role {
	if isFunctionDeclarator(dn) {
		return dom.RoleDeclaration
	}
	switch {
	case st.Typedef:
		return dom.RoleDefinition
	case st.Friend:
		return dom.RoleDeclaration
	case sc == scopeClass:
		if st.Static && dn.Type() != "init_declarator" {
			return dom.RoleDeclaration
		}
		return dom.RoleDefinition
	case st.Extern && dn.Type() != "init_declarator":
		return dom.RoleDeclaration
	}
	return dom.RoleDefinition
}

// isFunctionDeclarator reports whether the name in dn is declared as a
// function.
func isFunctionDeclarator(n *sitter.Node) bool {
	fn := false
	for cur := n; cur != nil; {
		switch cur.Type() {
		case "function_declarator":
			fn = true
			cur = cur.ChildByFieldName("declarator")
		case "parenthesized_declarator", "attributed_declarator":
			if cur.NamedChildCount() == 0 {
				return false
			}
			cur = cur.NamedChild(0)
		case "init_declarator", "pointer_declarator", "array_declarator":
			fn = false
			cur = cur.ChildByFieldName("declarator")
		case "reference_declarator":
			fn = false
			if cur.NamedChildCount() == 0 {
				return false
			}
			cur = cur.NamedChild(int(cur.NamedChildCount()) - 1)
		default:
			return fn
		}
	}
	return fn
}

func markWrite(d *dom.Declarator) {
	if q := d.DeclName(); q != nil {
		q.Last().Name.Role |= dom.RoleWrite
	}
}

func (c *converter) initializer(n *sitter.Node) dom.Expr {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "argument_list":
		il := &dom.InitList{Offset: c.pos(n)}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if e := c.expr(n.NamedChild(i)); e != nil {
				il.Elems = append(il.Elems, e)
			}
		}
		return il
	}
	return c.expr(n)
}

// declarator converts a (possibly abstract) declarator, outermost first.
func (c *converter) declarator(n *sitter.Node, role dom.Role) *dom.Declarator {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "init_declarator":
		d := c.declarator(n.ChildByFieldName("declarator"), role|dom.RoleWrite)
		if d != nil {
			d.Init = c.initializer(n.ChildByFieldName("value"))
		}
		return d
	case "pointer_declarator", "abstract_pointer_declarator":
		d := &dom.Declarator{Op: dom.OpPointer}
		c.qualifiers(n, d)
		d.Inner = c.declarator(n.ChildByFieldName("declarator"), role)
		return d
	case "reference_declarator", "abstract_reference_declarator":
		d := &dom.Declarator{Op: dom.OpReference}
		if c.hasToken(n, "&&") {
			d.Op = dom.OpRValueRef
		}
		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			if ch := n.NamedChild(i); ch.Type() != "type_qualifier" {
				d.Inner = c.declarator(ch, role)
				break
			}
		}
		return d
	case "array_declarator", "abstract_array_declarator":
		d := &dom.Declarator{Op: dom.OpArray}
		if size := n.ChildByFieldName("size"); size != nil {
			d.Size = c.expr(size)
		}
		d.Inner = c.declarator(n.ChildByFieldName("declarator"), role)
		return d
	case "function_declarator", "abstract_function_declarator":
		d := &dom.Declarator{Op: dom.OpFunction}
		d.Params, d.Variadic = c.params(n.ChildByFieldName("parameters"), role)
		c.qualifiers(n, d)
		d.Inner = c.declarator(n.ChildByFieldName("declarator"), role)
		return d
	case "parenthesized_declarator", "abstract_parenthesized_declarator", "attributed_declarator":
		if n.NamedChildCount() == 0 {
			return nil
		}
		return c.declarator(n.NamedChild(0), role)
	}
	if q := c.qname(n, role); q != nil {
		return &dom.Declarator{Op: dom.OpName, Name: q}
	}
	return nil
}

func (c *converter) qualifiers(n *sitter.Node, d *dom.Declarator) {
	children(n, func(_ string, ch *sitter.Node) {
		if ch.Type() != "type_qualifier" {
			return
		}
		switch strings.TrimSpace(c.text(ch)) {
		case "const":
			d.Const = true
		case "volatile":
			d.Volatile = true
		}
	})
}

// params converts a parameter list. Names of parameters of a definition
// are definitions, otherwise declarations.
func (c *converter) params(n *sitter.Node, fnRole dom.Role) ([]*dom.Param, bool) {
	if n == nil {
		return nil, false
	}
	role := dom.RoleDeclaration
	if fnRole.Has(dom.RoleDefinition) {
		role = dom.RoleDefinition
	}
	var out []*dom.Param
	variadic := false
	for i := 0; i < int(n.ChildCount()); i++ {
		ch := n.Child(i)
		switch ch.Type() {
		case "...":
			variadic = true
		case "parameter_declaration", "optional_parameter_declaration", "variadic_parameter_declaration":
			_, spec := c.specifiers(ch, dom.Storage{}, scopeParams, false)
			p := &dom.Param{Spec: spec, Decl: c.declarator(ch.ChildByFieldName("declarator"), role)}
			if dv := ch.ChildByFieldName("default_value"); dv != nil {
				p.Default = c.expr(dv)
			}
			if ch.Type() == "variadic_parameter_declaration" {
				variadic = true
			}
			out = append(out, p)
		}
	}
	// `f(void)` declares no parameters.
	if len(out) == 1 && out[0].Decl == nil && out[0].Spec.Named == nil &&
		len(out[0].Spec.Keywords) == 1 && out[0].Spec.Keywords[0] == "void" {
		out = nil
	}
	return out, variadic
}

func (c *converter) typeDescriptor(n *sitter.Node) *dom.TypeID {
	if n == nil {
		return nil
	}
	if n.Type() != "type_descriptor" {
		spec := &dom.DeclSpec{}
		c.typeSpecifier(spec, n, scopeBlock, false)
		return &dom.TypeID{Spec: spec}
	}
	_, spec := c.specifiers(n, dom.Storage{}, scopeBlock, false)
	return &dom.TypeID{Spec: spec, Decl: c.declarator(n.ChildByFieldName("declarator"), dom.RoleReference)}
}

func (c *converter) functionDef(n *sitter.Node, sc scope, st dom.Storage) *dom.FunctionDef {
	st, spec := c.specifiers(n, st, sc, false)
	fd := &dom.FunctionDef{
		Offset:     c.pos(n),
		Storage:    st,
		Spec:       spec,
		Declarator: c.declarator(n.ChildByFieldName("declarator"), dom.RoleDefinition),
	}
	children(n, func(field string, ch *sitter.Node) {
		switch {
		case ch.Type() == "field_initializer_list":
			for i := 0; i < int(ch.NamedChildCount()); i++ {
				fi := ch.NamedChild(i)
				if fi.Type() != "field_initializer" || fi.NamedChildCount() == 0 {
					continue
				}
				mi := &dom.MemberInit{Name: c.qname(fi.NamedChild(0), dom.RoleReference | dom.RoleWrite)}
				for j := 1; j < int(fi.NamedChildCount()); j++ {
					if args := fi.NamedChild(j); args.Type() == "argument_list" || args.Type() == "initializer_list" {
						for k := 0; k < int(args.NamedChildCount()); k++ {
							if e := c.expr(args.NamedChild(k)); e != nil {
								mi.Args = append(mi.Args, e)
							}
						}
					}
				}
				if mi.Name != nil {
					fd.Inits = append(fd.Inits, mi)
				}
			}
		case field == "body":
			if ch.Type() == "compound_statement" {
				fd.Body = c.block(ch)
			}
		case ch.Type() == "try_statement" || ch.Type() == "function_try_block":
			fd.Body = &dom.Block{Offset: c.pos(ch), Stmts: c.stmts(ch)}
		}
	})
	return fd
}

// bareSpecifier wraps a class or enum specifier that has no declarators.
func (c *converter) bareSpecifier(n *sitter.Node, sc scope, st dom.Storage) *dom.SimpleDecl {
	spec := &dom.DeclSpec{}
	c.typeSpecifier(spec, n, sc, true)
	return &dom.SimpleDecl{Offset: c.pos(n), Storage: st, Spec: spec}
}

func classKey(t string) binding.ClassKey {
	switch t {
	case "class_specifier":
		return binding.ClassKeyClass
	case "union_specifier":
		return binding.ClassKeyUnion
	}
	return binding.ClassKeyStruct
}

// classSpec converts a class, struct or union specifier. standalone marks
// `struct S;` which declares S rather than referencing it.
func (c *converter) classSpec(n *sitter.Node, sc scope, standalone bool) *dom.ClassSpec {
	cs := &dom.ClassSpec{Offset: c.pos(n), Key: classKey(n.Type()), End: c.end(n)}
	body := n.ChildByFieldName("body")
	cs.HasBody = body != nil
	role := dom.RoleReference
	switch {
	case cs.HasBody:
		role = dom.RoleDefinition
	case standalone:
		role = dom.RoleDeclaration
	}
	if nm := n.ChildByFieldName("name"); nm != nil {
		cs.Name = c.qname(nm, role)
	}
	children(n, func(_ string, ch *sitter.Node) {
		if ch.Type() == "base_class_clause" {
			cs.Bases = c.bases(ch)
		}
	})
	if body != nil {
		cs.Members = c.declList(body, scopeClass)
	}
	return cs
}

func (c *converter) bases(n *sitter.Node) []*dom.BaseSpec {
	var out []*dom.BaseSpec
	cur := &dom.BaseSpec{}
	for i := 0; i < int(n.ChildCount()); i++ {
		ch := n.Child(i)
		switch ch.Type() {
		case "access_specifier":
			cur.Access = strings.TrimSpace(c.text(ch))
		case "virtual", "virtual_specifier", "virtual_function_specifier":
			cur.Virtual = true
		case "public", "private", "protected":
			cur.Access = ch.Type()
		case "type_identifier", "qualified_identifier", "qualified_type_identifier", "template_type":
			cur.Name = c.qname(ch, dom.RoleReference)
			if cur.Name != nil {
				out = append(out, cur)
			}
			cur = &dom.BaseSpec{}
		default:
			if !ch.IsNamed() && c.text(ch) == "virtual" {
				cur.Virtual = true
			}
		}
	}
	return out
}

func (c *converter) enumSpec(n *sitter.Node, standalone bool) *dom.EnumSpec {
	es := &dom.EnumSpec{Offset: c.pos(n)}
	es.Scoped = c.hasToken(n, "class") || c.hasToken(n, "struct")
	body := n.ChildByFieldName("body")
	es.HasBody = body != nil
	role := dom.RoleReference
	switch {
	case es.HasBody:
		role = dom.RoleDefinition
	case standalone:
		role = dom.RoleDeclaration
	}
	if nm := n.ChildByFieldName("name"); nm != nil {
		es.Name = c.qname(nm, role)
	}
	if base := n.ChildByFieldName("base"); base != nil {
		es.Base = &dom.DeclSpec{}
		c.typeSpecifier(es.Base, base, scopeBlock, false)
	}
	if body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			en := body.NamedChild(i)
			if en.Type() != "enumerator" {
				continue
			}
			e := &dom.Enumerator{Name: c.name(en.ChildByFieldName("name"), dom.RoleDefinition)}
			if v := en.ChildByFieldName("value"); v != nil {
				e.Value = c.expr(v)
			}
			if e.Name != nil {
				es.Enumerators = append(es.Enumerators, e)
			}
		}
	}
	return es
}

// namespaceDef converts a namespace definition; `namespace a::b {}` becomes
// nested namespace declarations.
func (c *converter) namespaceDef(n *sitter.Node) dom.Decl {
	inline := c.hasToken(n, "inline")
	decls := c.declList(n.ChildByFieldName("body"), scopeNamespace)
	nm := n.ChildByFieldName("name")
	if nm == nil {
		return &dom.NamespaceDecl{Offset: c.pos(n), Inline: inline, Decls: decls}
	}
	var parts []*sitter.Node
	if nm.Type() == "nested_namespace_specifier" {
		for i := 0; i < int(nm.NamedChildCount()); i++ {
			parts = append(parts, nm.NamedChild(i))
		}
	} else {
		parts = []*sitter.Node{nm}
	}
	var inner *dom.NamespaceDecl
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		ns := &dom.NamespaceDecl{Offset: c.pos(n), Name: c.name(p, dom.RoleDefinition)}
		if inner == nil {
			ns.Decls = decls
			ns.Inline = inline
		} else {
			ns.Decls = []dom.Decl{inner}
		}
		inner = ns
	}
	return inner
}

func (c *converter) namespaceAlias(n *sitter.Node) dom.Decl {
	nd := &dom.NamespaceAliasDecl{Offset: c.pos(n), Name: c.name(n.ChildByFieldName("name"), dom.RoleDefinition)}
	if k := int(n.NamedChildCount()); k > 1 {
		nd.Target = c.qname(n.NamedChild(k-1), dom.RoleReference)
	}
	return nd
}

func (c *converter) usingDecl(n *sitter.Node) dom.Decl {
	var target *dom.QName
	for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
		if q := c.qname(n.NamedChild(i), dom.RoleReference); q != nil {
			target = q
			break
		}
	}
	if c.hasToken(n, "namespace") {
		return &dom.UsingDirective{Offset: c.pos(n), Target: target}
	}
	if target != nil {
		target.Last().Name.Role = dom.RoleDeclaration
	}
	return &dom.UsingDeclaration{Offset: c.pos(n), Target: target}
}

func (c *converter) linkageSpec(n *sitter.Node, sc scope) dom.Decl {
	ls := &dom.LinkageSpec{Offset: c.pos(n)}
	if v := n.ChildByFieldName("value"); v != nil {
		ls.Lang = strings.Trim(c.text(v), `"`)
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return ls
	}
	st := dom.Storage{}
	if ls.Lang == "C" {
		st.ExternC = true
	}
	var decls []dom.Decl
	if body.Type() == "declaration_list" {
		decls = c.declList(body, sc)
	} else {
		// `extern "C" int x;` is a declaration, not a definition.
		st.Extern = true
		decls = c.decls(body, sc)
	}
	for _, d := range decls {
		applyStorage(d, st)
	}
	ls.Decls = decls
	return ls
}

// applyStorage merges linkage-block storage into nested declarations.
func applyStorage(d dom.Decl, st dom.Storage) {
	switch d := d.(type) {
	case *dom.SimpleDecl:
		d.Storage.ExternC = d.Storage.ExternC || st.ExternC
		if st.Extern && !d.Storage.Extern {
			d.Storage.Extern = true
			for _, decl := range d.Declarators {
				if decl.Init == nil && decl.Function() == nil {
					if q := decl.DeclName(); q != nil {
						q.Last().Name.Role = dom.RoleDeclaration
					}
				}
			}
		}
	case *dom.FunctionDef:
		d.Storage.ExternC = d.Storage.ExternC || st.ExternC
	case *dom.TemplateDecl:
		applyStorage(d.Decl, st)
	case *dom.LinkageSpec:
		for _, inner := range d.Decls {
			applyStorage(inner, st)
		}
	}
}

func (c *converter) friendDecl(n *sitter.Node, sc scope) dom.Decl {
	st := dom.Storage{Friend: true}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		switch ch.Type() {
		case "declaration", "field_declaration":
			return c.simpleDecl(ch, sc, st)
		case "function_definition", "inline_method_definition":
			return c.functionDef(ch, sc, st)
		case "template_declaration":
			if td := c.templateDecl(ch, sc); td != nil {
				if inner, ok := td.Decl.(*dom.SimpleDecl); ok {
					inner.Storage.Friend = true
				}
				if inner, ok := td.Decl.(*dom.FunctionDef); ok {
					inner.Storage.Friend = true
				}
				return td
			}
		case "type_identifier", "qualified_identifier", "qualified_type_identifier", "template_type":
			key := binding.ClassKeyClass
			switch {
			case c.hasToken(n, "struct"):
				key = binding.ClassKeyStruct
			case c.hasToken(n, "union"):
				key = binding.ClassKeyUnion
			}
			return &dom.SimpleDecl{
				Offset:  c.pos(n),
				Storage: st,
				Spec: &dom.DeclSpec{
					Class:      &dom.ClassSpec{Offset: c.pos(ch), Key: key, Name: c.qname(ch, dom.RoleDeclaration), End: c.end(ch)},
					Elaborated: true,
				},
			}
		case "class_specifier", "struct_specifier", "union_specifier":
			return c.bareSpecifier(ch, sc, st)
		}
	}
	op := c.opaque(n)
	return &dom.Opaque{Offset: op.Offset, Exprs: op.Exprs}
}

func (c *converter) templateDecl(n *sitter.Node, sc scope) *dom.TemplateDecl {
	td := &dom.TemplateDecl{Offset: c.pos(n)}
	params := n.ChildByFieldName("parameters")
	td.Params = c.templateParams(params)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		if params != nil && sameNode(ch, params) {
			continue
		}
		switch ch.Type() {
		case "comment", "requires_clause":
			continue
		}
		ds := c.decls(ch, sc)
		if len(ds) == 0 {
			continue
		}
		td.Decl = ds[0]
		break
	}
	if td.Decl == nil {
		return nil
	}
	return td
}

func (c *converter) templateParams(n *sitter.Node) []*dom.TemplateParam {
	out := []*dom.TemplateParam{}
	if n == nil {
		return out
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		if p := c.templateParam(ch); p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (c *converter) templateParam(n *sitter.Node) *dom.TemplateParam {
	switch n.Type() {
	case "type_parameter_declaration", "variadic_type_parameter_declaration":
		p := &dom.TemplateParam{Kind: binding.ParamType}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if ch := n.NamedChild(i); ch.Type() == "type_identifier" {
				p.Name = c.name(ch, dom.RoleDefinition)
			}
		}
		return p
	case "optional_type_parameter_declaration":
		p := &dom.TemplateParam{Kind: binding.ParamType}
		p.Name = c.name(n.ChildByFieldName("name"), dom.RoleDefinition)
		if def := n.ChildByFieldName("default_type"); def != nil {
			p.Default = &dom.TemplateArg{Type: c.typeDescriptor(def)}
		}
		return p
	case "parameter_declaration", "optional_parameter_declaration", "variadic_parameter_declaration":
		_, spec := c.specifiers(n, dom.Storage{}, scopeParams, false)
		decl := c.declarator(n.ChildByFieldName("declarator"), dom.RoleDefinition)
		p := &dom.TemplateParam{Kind: binding.ParamValue, Type: &dom.TypeID{Spec: spec}}
		if decl != nil {
			if q := decl.DeclName(); q != nil {
				p.Name = q.Last().Name
			}
			if decl.Op != dom.OpName {
				p.Type.Decl = stripName(decl)
			}
		}
		if dv := n.ChildByFieldName("default_value"); dv != nil {
			p.Default = &dom.TemplateArg{Expr: c.expr(dv)}
		}
		return p
	case "template_template_parameter_declaration":
		p := &dom.TemplateParam{Kind: binding.ParamTemplate}
		if params := n.ChildByFieldName("parameters"); params != nil {
			p.Params = c.templateParams(params)
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			ch := n.NamedChild(i)
			if ch.Type() == "template_parameter_list" {
				continue
			}
			if inner := c.templateParam(ch); inner != nil {
				p.Name = inner.Name
				if inner.Default != nil {
					p.Default = inner.Default
				}
			}
		}
		return p
	}
	return nil
}

// stripName copies d replacing its name level with an abstract end.
func stripName(d *dom.Declarator) *dom.Declarator {
	if d == nil || d.Op == dom.OpName {
		return nil
	}
	cp := *d
	cp.Inner = stripName(d.Inner)
	return &cp
}
