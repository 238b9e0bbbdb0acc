// Package parse converts preprocessed file fragments into the dom
// declaration AST using the tree-sitter C and C++ grammars. The conversion
// is partial: constructs it does not model become opaque nodes whose
// identifiers are still recorded as references.
package parse

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/cxxindex/internal/dom"
)

// Parse parses every fragment of tu that needs indexing and attaches the
// result as Fragment.File. Skipped and macro-only fragments are left alone.
func Parse(ctx context.Context, tu *dom.TranslationUnit) error {
	parser := sitter.NewParser()
	defer parser.Close()
	for _, frag := range tu.Fragments() {
		if frag.Skip || frag.MacroOnly {
			continue
		}
		f, err := parseFragment(ctx, parser, frag)
		if err != nil {
			return fmt.Errorf("parse %s: %w", frag.Location, err)
		}
		frag.File = f
	}
	return nil
}

// ParseFragment parses a single fragment.
func ParseFragment(ctx context.Context, frag *dom.Fragment) (*dom.File, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	f, err := parseFragment(ctx, parser, frag)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", frag.Location, err)
	}
	return f, nil
}

func parseFragment(ctx context.Context, parser *sitter.Parser, frag *dom.Fragment) (*dom.File, error) {
	src := frag.Text
	if src == nil {
		src = frag.Content
	}
	parser.SetLanguage(grammarFor(frag.Linkage))
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	file := &dom.File{
		Location: frag.Location,
		Linkage:  frag.Linkage,
		Includes: frag.Includes,
		Macros:   frag.Macros,
	}
	c := &converter{src: src, frag: frag, file: file}
	file.Decls = c.declList(tree.RootNode(), scopeNamespace)
	file.Names = dom.CollectNames(file)
	sort.SliceStable(file.Names, func(i, j int) bool { return file.Names[i].Offset < file.Names[j].Offset })
	return file, nil
}

// scope is the syntactic context of a declaration.
type scope int

const (
	scopeNamespace scope = iota
	scopeClass
	scopeBlock
	scopeParams
)

type converter struct {
	src  []byte
	frag *dom.Fragment
	file *dom.File
}

func (c *converter) text(n *sitter.Node) string { return n.Content(c.src) }

// pos maps the start of n to an offset in the original content.
func (c *converter) pos(n *sitter.Node) int {
	off, _, _ := c.frag.Map.Original(int(n.StartByte()), 0)
	return off
}

func (c *converter) end(n *sitter.Node) int {
	off, n2, exp := c.frag.Map.Original(int(n.EndByte()), 0)
	if exp {
		return off + n2
	}
	return off
}

func (c *converter) name(n *sitter.Node, role dom.Role) *dom.Name {
	if n == nil {
		return nil
	}
	start, end := int(n.StartByte()), int(n.EndByte())
	off, length, exp := c.frag.Map.Original(start, end-start)
	text := c.text(n)
	switch n.Type() {
	case "operator_name", "destructor_name":
		text = strings.Join(strings.Fields(text), "")
	case "operator_cast":
		text = strings.Join(strings.Fields(text), " ")
	}
	return &dom.Name{Text: text, File: c.file, Offset: off, Length: length, Role: role, Expanded: exp}
}

// qname converts an identifier-like node into a qualified name. role
// applies to the last segment; scope segments are references.
func (c *converter) qname(n *sitter.Node, role dom.Role) *dom.QName {
	if n == nil {
		return nil
	}
	q := &dom.QName{}
	c.segments(q, n, role)
	if len(q.Segments) == 0 {
		return nil
	}
	return q
}

func (c *converter) segments(q *dom.QName, n *sitter.Node, role dom.Role) {
	switch n.Type() {
	case "qualified_identifier", "qualified_type_identifier", "qualified_field_identifier":
		scope := n.ChildByFieldName("scope")
		if scope == nil {
			if len(q.Segments) == 0 {
				q.Global = true
			}
		} else {
			c.segments(q, scope, dom.RoleReference)
		}
		if nm := n.ChildByFieldName("name"); nm != nil {
			c.segments(q, nm, role)
		}
	case "template_type", "template_function", "template_method":
		nm := n.ChildByFieldName("name")
		if nm == nil {
			return
		}
		seg := &dom.Segment{Name: c.name(nm, role), HasArgs: true}
		seg.Args = c.templateArgs(n.ChildByFieldName("arguments"))
		q.Segments = append(q.Segments, seg)
	case "nested_namespace_specifier":
		count := int(n.NamedChildCount())
		for i := 0; i < count; i++ {
			r := dom.RoleReference
			if i == count-1 {
				r = role
			}
			c.segments(q, n.NamedChild(i), r)
		}
	case "dependent_name", "dependent_type", "dependent_identifier", "dependent_field_identifier", "parenthesized_declarator":
		if n.NamedChildCount() > 0 {
			c.segments(q, n.NamedChild(int(n.NamedChildCount())-1), role)
		}
	case "identifier", "type_identifier", "field_identifier", "namespace_identifier",
		"statement_identifier", "operator_name", "destructor_name", "operator_cast", "primitive_type":
		q.Segments = append(q.Segments, &dom.Segment{Name: c.name(n, role)})
	}
}

func (c *converter) templateArgs(n *sitter.Node) []*dom.TemplateArg {
	if n == nil {
		return nil
	}
	var out []*dom.TemplateArg
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		switch ch.Type() {
		case "comment":
			continue
		case "type_descriptor":
			out = append(out, &dom.TemplateArg{Type: c.typeDescriptor(ch)})
		default:
			if e := c.expr(ch); e != nil {
				out = append(out, &dom.TemplateArg{Expr: e})
			}
		}
	}
	return out
}

// children iterates the children of n with their field names.
func children(n *sitter.Node, fn func(field string, ch *sitter.Node)) {
	for i := 0; i < int(n.ChildCount()); i++ {
		fn(n.FieldNameForChild(i), n.Child(i))
	}
}

// fieldAll returns every child of n with the given field name.
func fieldAll(n *sitter.Node, field string) []*sitter.Node {
	var out []*sitter.Node
	children(n, func(f string, ch *sitter.Node) {
		if f == field {
			out = append(out, ch)
		}
	})
	return out
}

// hasToken reports whether n has a direct anonymous child with text tok.
func (c *converter) hasToken(n *sitter.Node, tok string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		ch := n.Child(i)
		if !ch.IsNamed() && c.text(ch) == tok {
			return true
		}
	}
	return false
}

// opaque collects the identifiers below n as reference expressions.
func (c *converter) opaque(n *sitter.Node) *dom.OpaqueExpr {
	out := &dom.OpaqueExpr{Offset: c.pos(n)}
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "identifier", "qualified_identifier", "type_identifier", "field_identifier",
			"template_function", "template_type", "namespace_identifier":
			if q := c.qname(n, dom.RoleReference); q != nil {
				out.Exprs = append(out.Exprs, &dom.IdExpr{Offset: c.pos(n), Name: q})
			}
			return
		case "comment", "string_literal", "raw_string_literal", "char_literal":
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i))
	}
	return out
}
