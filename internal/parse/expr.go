package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/cxxindex/internal/dom"
)

var castKeywords = map[string]bool{
	"static_cast": true, "dynamic_cast": true, "reinterpret_cast": true, "const_cast": true,
}

// expr converts an expression node; it returns nil for nil input.
func (c *converter) expr(n *sitter.Node) dom.Expr {
	if n == nil {
		return nil
	}
	off := c.pos(n)
	switch n.Type() {
	case "identifier", "qualified_identifier", "template_function", "destructor_name",
		"operator_name", "type_identifier", "field_identifier", "namespace_identifier":
		q := c.qname(n, dom.RoleReference)
		if q == nil {
			return nil
		}
		return &dom.IdExpr{Offset: off, Name: q}
	case "number_literal":
		return &dom.Literal{Offset: off, Kind: numberKind(c.text(n)), Text: c.text(n)}
	case "char_literal":
		return &dom.Literal{Offset: off, Kind: dom.LitChar, Text: c.text(n)}
	case "string_literal", "raw_string_literal", "concatenated_string":
		return &dom.Literal{Offset: off, Kind: dom.LitString, Text: c.text(n)}
	case "true", "false":
		return &dom.Literal{Offset: off, Kind: dom.LitBool, Text: n.Type()}
	case "null", "nullptr":
		return &dom.Literal{Offset: off, Kind: dom.LitNullptr, Text: "nullptr"}
	case "this":
		return &dom.This{Offset: off}
	case "parenthesized_expression":
		if n.NamedChildCount() == 0 {
			return nil
		}
		return &dom.Paren{Offset: off, X: c.expr(n.NamedChild(0))}
	case "unary_expression", "pointer_expression":
		op := n.ChildByFieldName("operator")
		opText := ""
		if op != nil {
			opText = c.text(op)
		} else if n.ChildCount() > 0 {
			opText = c.text(n.Child(0))
		}
		return &dom.Unary{Offset: off, Op: opText, X: c.expr(n.ChildByFieldName("argument"))}
	case "update_expression":
		arg := n.ChildByFieldName("argument")
		op := n.ChildByFieldName("operator")
		u := &dom.Unary{Offset: off, X: c.expr(arg)}
		if op != nil {
			u.Op = c.text(op)
			u.Postfix = arg != nil && arg.StartByte() < op.StartByte()
		}
		markExprWrite(u.X)
		return u
	case "binary_expression":
		op := n.ChildByFieldName("operator")
		b := &dom.Binary{Offset: off, X: c.expr(n.ChildByFieldName("left")), Y: c.expr(n.ChildByFieldName("right"))}
		if op != nil {
			b.Op = c.text(op)
		}
		return b
	case "comma_expression":
		return &dom.Binary{Offset: off, Op: ",", X: c.expr(n.ChildByFieldName("left")), Y: c.expr(n.ChildByFieldName("right"))}
	case "assignment_expression":
		a := &dom.Assign{Offset: off, LHS: c.expr(n.ChildByFieldName("left")), RHS: c.expr(n.ChildByFieldName("right"))}
		if op := n.ChildByFieldName("operator"); op != nil {
			a.Op = c.text(op)
		}
		markExprWrite(a.LHS)
		return a
	case "conditional_expression":
		return &dom.Cond{
			Offset: off,
			C:      c.expr(n.ChildByFieldName("condition")),
			T:      c.expr(n.ChildByFieldName("consequence")),
			F:      c.expr(n.ChildByFieldName("alternative")),
		}
	case "call_expression":
		return c.call(n)
	case "field_expression":
		m := &dom.Member{Offset: off, X: c.expr(n.ChildByFieldName("argument"))}
		if op := n.ChildByFieldName("operator"); op != nil {
			m.Arrow = strings.TrimSpace(c.text(op)) == "->"
		}
		m.Name = c.qname(n.ChildByFieldName("field"), dom.RoleReference)
		if m.Name == nil {
			return m.X
		}
		return m
	case "subscript_expression":
		ix := &dom.Index{Offset: off, X: c.expr(n.ChildByFieldName("argument"))}
		if i := n.ChildByFieldName("index"); i != nil {
			ix.I = c.expr(i)
		} else if i := n.ChildByFieldName("indices"); i != nil && i.NamedChildCount() > 0 {
			ix.I = c.expr(i.NamedChild(0))
		}
		return ix
	case "cast_expression":
		return &dom.Cast{Offset: off, Type: c.typeDescriptor(n.ChildByFieldName("type")), X: c.expr(n.ChildByFieldName("value"))}
	case "sizeof_expression", "alignof_expression":
		s := &dom.Sizeof{Offset: off}
		if t := n.ChildByFieldName("type"); t != nil {
			s.Type = c.typeDescriptor(t)
		} else if v := n.ChildByFieldName("value"); v != nil {
			s.X = c.expr(v)
		}
		if n.Type() == "alignof_expression" {
			return &dom.OpaqueExpr{Offset: off, Exprs: nonNil(s.X)}
		}
		return s
	case "new_expression":
		nw := &dom.New{Offset: off}
		if t := n.ChildByFieldName("type"); t != nil {
			spec := &dom.DeclSpec{}
			c.typeSpecifier(spec, t, scopeBlock, false)
			nw.Type = &dom.TypeID{Spec: spec}
		}
		if args := n.ChildByFieldName("arguments"); args != nil {
			for i := 0; i < int(args.NamedChildCount()); i++ {
				if e := c.expr(args.NamedChild(i)); e != nil {
					nw.Args = append(nw.Args, e)
				}
			}
		}
		return nw
	case "delete_expression":
		if k := int(n.NamedChildCount()); k > 0 {
			return &dom.Delete{Offset: off, X: c.expr(n.NamedChild(k - 1))}
		}
		return &dom.Delete{Offset: off}
	case "initializer_list":
		il := &dom.InitList{Offset: off}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			ch := n.NamedChild(i)
			if ch.Type() == "initializer_pair" {
				ch = ch.ChildByFieldName("value")
			}
			if e := c.expr(ch); e != nil {
				il.Elems = append(il.Elems, e)
			}
		}
		return il
	case "compound_literal_expression":
		cons := &dom.Construct{Offset: off, Type: c.typeDescriptor(n.ChildByFieldName("type"))}
		if v, ok := c.expr(n.ChildByFieldName("value")).(*dom.InitList); ok {
			cons.Args = v.Elems
		}
		return cons
	case "comment":
		return nil
	}
	op := c.opaque(n)
	if len(op.Exprs) == 0 {
		return nil
	}
	return op
}

func nonNil(e dom.Expr) []dom.Expr {
	if e == nil {
		return nil
	}
	return []dom.Expr{e}
}

func numberKind(text string) dom.LitKind {
	t := strings.ToLower(text)
	if strings.HasPrefix(t, "0x") {
		if strings.ContainsAny(t, ".p") {
			return dom.LitFloat
		}
		return dom.LitInt
	}
	if strings.ContainsAny(t, ".e") || strings.HasSuffix(t, "f") {
		return dom.LitFloat
	}
	return dom.LitInt
}

// markExprWrite flags the name written by an assignment target.
func markExprWrite(e dom.Expr) {
	switch e := e.(type) {
	case *dom.IdExpr:
		e.Name.Last().Name.Role |= dom.RoleWrite
	case *dom.Member:
		e.Name.Last().Name.Role |= dom.RoleWrite
	case *dom.Paren:
		markExprWrite(e.X)
	}
}

func (c *converter) args(n *sitter.Node) []dom.Expr {
	var out []dom.Expr
	if n == nil {
		return out
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if e := c.expr(n.NamedChild(i)); e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (c *converter) call(n *sitter.Node) dom.Expr {
	off := c.pos(n)
	fn := n.ChildByFieldName("function")
	args := c.args(n.ChildByFieldName("arguments"))
	if fn != nil {
		switch fn.Type() {
		case "template_function":
			if nm := fn.ChildByFieldName("name"); nm != nil && castKeywords[c.text(nm)] {
				cast := &dom.Cast{Offset: off}
				if targs := c.templateArgs(fn.ChildByFieldName("arguments")); len(targs) > 0 {
					cast.Type = targs[0].Type
				}
				if len(args) > 0 {
					cast.X = args[0]
				}
				return cast
			}
		case "primitive_type", "sized_type_specifier":
			spec := &dom.DeclSpec{}
			c.typeSpecifier(spec, fn, scopeBlock, false)
			return &dom.Construct{Offset: off, Type: &dom.TypeID{Spec: spec}, Args: args}
		}
	}
	return &dom.Call{Offset: off, Fn: c.expr(fn), Args: args}
}

// block converts a compound statement.
func (c *converter) block(n *sitter.Node) *dom.Block {
	return &dom.Block{Offset: c.pos(n), Stmts: c.stmts(n)}
}

func (c *converter) stmts(n *sitter.Node) []dom.Stmt {
	var out []dom.Stmt
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if s := c.stmt(n.NamedChild(i)); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *converter) stmt(n *sitter.Node) dom.Stmt {
	if n == nil {
		return nil
	}
	off := c.pos(n)
	switch n.Type() {
	case "comment", "break_statement", "continue_statement", "goto_statement":
		return nil
	case "compound_statement":
		return c.block(n)
	case "expression_statement", "throw_statement":
		if n.NamedChildCount() == 0 {
			return nil
		}
		x := c.expr(n.NamedChild(0))
		if x == nil {
			return nil
		}
		return &dom.ExprStmt{Offset: off, X: x}
	case "return_statement":
		r := &dom.Return{Offset: off}
		if n.NamedChildCount() > 0 {
			r.X = c.expr(n.NamedChild(0))
		}
		return r
	case "declaration", "type_definition", "alias_declaration", "using_declaration",
		"class_specifier", "struct_specifier", "union_specifier", "enum_specifier", "namespace_alias_definition":
		ds := c.decls(n, scopeBlock)
		if len(ds) == 0 {
			return nil
		}
		return &dom.DeclStmt{Offset: off, Decl: ds[0]}
	case "if_statement":
		ctl := &dom.Control{Offset: off, Kind: "if"}
		c.condition(ctl, n.ChildByFieldName("condition"))
		ctl.Body = appendStmt(ctl.Body, c.stmt(n.ChildByFieldName("consequence")))
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			if alt.Type() == "else_clause" {
				for i := 0; i < int(alt.NamedChildCount()); i++ {
					ctl.Body = appendStmt(ctl.Body, c.stmt(alt.NamedChild(i)))
				}
			} else {
				ctl.Body = appendStmt(ctl.Body, c.stmt(alt))
			}
		}
		return ctl
	case "while_statement", "switch_statement":
		ctl := &dom.Control{Offset: off, Kind: strings.TrimSuffix(n.Type(), "_statement")}
		c.condition(ctl, n.ChildByFieldName("condition"))
		ctl.Body = appendStmt(ctl.Body, c.stmt(n.ChildByFieldName("body")))
		return ctl
	case "do_statement":
		ctl := &dom.Control{Offset: off, Kind: "do"}
		ctl.Body = appendStmt(ctl.Body, c.stmt(n.ChildByFieldName("body")))
		c.condition(ctl, n.ChildByFieldName("condition"))
		return ctl
	case "for_statement":
		ctl := &dom.Control{Offset: off, Kind: "for"}
		if init := n.ChildByFieldName("initializer"); init != nil {
			ctl.Init = c.stmt(init)
			if ctl.Init == nil {
				if x := c.expr(init); x != nil {
					ctl.Init = &dom.ExprStmt{Offset: c.pos(init), X: x}
				}
			}
		}
		ctl.Cond = c.expr(n.ChildByFieldName("condition"))
		ctl.Step = c.expr(n.ChildByFieldName("update"))
		ctl.Body = appendStmt(ctl.Body, c.stmt(n.ChildByFieldName("body")))
		return ctl
	case "for_range_loop":
		ctl := &dom.Control{Offset: off, Kind: "for"}
		st, spec := c.specifiers(n, dom.Storage{}, scopeBlock, false)
		d := &dom.SimpleDecl{Offset: off, Storage: st, Spec: spec}
		if decl := c.declarator(n.ChildByFieldName("declarator"), dom.RoleDefinition|dom.RoleWrite); decl != nil {
			d.Declarators = []*dom.Declarator{decl}
		}
		ctl.CondDecl = d
		ctl.Cond = c.expr(n.ChildByFieldName("right"))
		ctl.Body = appendStmt(ctl.Body, c.stmt(n.ChildByFieldName("body")))
		return ctl
	case "case_statement":
		ctl := &dom.Control{Offset: off, Kind: "case", Cond: c.expr(n.ChildByFieldName("value"))}
		value := n.ChildByFieldName("value")
		for i := 0; i < int(n.NamedChildCount()); i++ {
			ch := n.NamedChild(i)
			if value != nil && sameNode(ch, value) {
				continue
			}
			ctl.Body = appendStmt(ctl.Body, c.stmt(ch))
		}
		return ctl
	case "labeled_statement":
		if k := int(n.NamedChildCount()); k > 0 {
			return c.stmt(n.NamedChild(k - 1))
		}
		return nil
	case "try_statement":
		ctl := &dom.Control{Offset: off, Kind: "try"}
		ctl.Body = appendStmt(ctl.Body, c.stmt(n.ChildByFieldName("body")))
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if ch := n.NamedChild(i); ch.Type() == "catch_clause" {
				ctl.Body = appendStmt(ctl.Body, c.stmt(ch.ChildByFieldName("body")))
			}
		}
		return ctl
	}
	if x := c.expr(n); x != nil {
		return &dom.ExprStmt{Offset: off, X: x}
	}
	return nil
}

func appendStmt(list []dom.Stmt, s dom.Stmt) []dom.Stmt {
	if s == nil {
		return list
	}
	return append(list, s)
}

// condition fills the condition of a control statement from a
// condition_clause or a parenthesized expression.
func (c *converter) condition(ctl *dom.Control, n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "condition_clause":
		if init := n.ChildByFieldName("initializer"); init != nil {
			if k := int(init.NamedChildCount()); init.Type() == "init_statement" && k > 0 {
				init = init.NamedChild(0)
			}
			ctl.Init = c.stmt(init)
		}
		v := n.ChildByFieldName("value")
		if v == nil {
			return
		}
		if v.Type() == "declaration" || v.Type() == "condition_declaration" {
			ctl.CondDecl = c.simpleDecl(v, scopeBlock, dom.Storage{})
			return
		}
		ctl.Cond = c.expr(v)
	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			ch := n.NamedChild(0)
			if ch.Type() == "declaration" {
				ctl.CondDecl = c.simpleDecl(ch, scopeBlock, dom.Storage{})
				return
			}
			ctl.Cond = c.expr(ch)
		}
	default:
		ctl.Cond = c.expr(n)
	}
}
