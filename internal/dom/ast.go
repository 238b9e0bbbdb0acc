// Package dom is the parser-neutral declaration AST consumed by the
// resolver. Offsets are byte offsets into the original file content; names
// produced by a macro expansion carry the span of the invocation.
package dom

import "github.com/jward/cxxindex/internal/binding"

// Role is the occurrence role of a name.
type Role uint8

const (
	RoleDeclaration Role = 1 << iota
	RoleDefinition
	RoleReference
	RoleWrite
)

// Has reports whether any bit of r2 is set.
func (r Role) Has(r2 Role) bool { return r&r2 != 0 }

// Name is one identifier occurrence.
type Name struct {
	Text   string
	File   *File
	Offset int
	Length int
	Role   Role
	// Expanded is set when the name was produced by a macro expansion.
	Expanded bool
	Binding  binding.Binding
}

// Segment is one component of a qualified name, optionally a template-id.
type Segment struct {
	Name    *Name
	Args    []*TemplateArg
	HasArgs bool
}

// QName is a possibly qualified, possibly global-scoped name.
type QName struct {
	Global   bool
	Segments []*Segment
}

// Last returns the final segment.
func (q *QName) Last() *Segment {
	if q == nil || len(q.Segments) == 0 {
		return nil
	}
	return q.Segments[len(q.Segments)-1]
}

// Simple reports whether q is a single unqualified segment.
func (q *QName) Simple() bool { return q != nil && !q.Global && len(q.Segments) == 1 }

// String renders q in source form without template arguments.
func (q *QName) String() string {
	if q == nil {
		return ""
	}
	s := ""
	if q.Global {
		s = "::"
	}
	for i, seg := range q.Segments {
		if i > 0 {
			s += "::"
		}
		s += seg.Name.Text
	}
	return s
}

// TemplateArg is a template argument; exactly one of Type and Expr is set.
// The parser cannot tell `N` the constant from `N` the type, so a type
// argument may resolve to a value.
type TemplateArg struct {
	Type *TypeID
	Expr Expr
}

// File is one parsed file fragment.
type File struct {
	Location string
	Linkage  binding.Linkage
	Decls    []Decl
	// Names lists every name in the fragment in source order.
	Names []*Name
	// Includes and Macros are the preprocessor statements of the fragment.
	Includes []*Include
	Macros   []*Macro
}

// Include is an #include statement. Target is the resolved location and
// TargetKey the context key of the included variant, when it was entered.
type Include struct {
	Name       string
	NameOffset int
	NameLength int
	Offset     int
	System     bool
	Active     bool
	Resolved   bool
	Heuristic  bool
	Target     string
	TargetKey  string
}

// Macro is a #define or #undef statement. Params is nil for object-like
// macros and an empty slice for `NAME()`.
type Macro struct {
	Name      string
	Params    []string
	Expansion string
	Offset    int
	Undef     bool
}

// Decl is a declaration node.
type Decl interface {
	Pos() int
}

// Storage collects decl-specifier keywords.
type Storage struct {
	Static, Extern, Typedef, Friend, Mutable bool
	Inline, Virtual, Explicit, Constexpr     bool
	ExternC                                  bool
}

// SimpleDecl is `decl-specifiers declarator, declarator;`.
type SimpleDecl struct {
	Offset      int
	Storage     Storage
	Spec        *DeclSpec
	Declarators []*Declarator
}

// FunctionDef is a function definition with a body.
type FunctionDef struct {
	Offset     int
	Storage    Storage
	Spec       *DeclSpec
	Declarator *Declarator
	Inits      []*MemberInit
	Body       *Block
}

// MemberInit is a constructor mem-initializer.
type MemberInit struct {
	Name *QName
	Args []Expr
}

// NamespaceDecl is a namespace definition; Name is nil when anonymous.
type NamespaceDecl struct {
	Offset int
	Name   *Name
	Inline bool
	Decls  []Decl
}

type NamespaceAliasDecl struct {
	Offset int
	Name   *Name
	Target *QName
}

type UsingDirective struct {
	Offset int
	Target *QName
}

type UsingDeclaration struct {
	Offset int
	Target *QName
}

// AliasDecl is `using Name = type-id;`.
type AliasDecl struct {
	Offset int
	Name   *Name
	Type   *TypeID
}

// TemplateDecl wraps a declaration with a template parameter list; an
// empty Params list is an explicit specialization `template<>`.
type TemplateDecl struct {
	Offset int
	Params []*TemplateParam
	Decl   Decl
}

// ExplicitInstantiation is `template class A<int>;`.
type ExplicitInstantiation struct {
	Offset int
	Decl   Decl
}

// LinkageSpec is `extern "C" { ... }` or `extern "C" decl`.
type LinkageSpec struct {
	Offset int
	Lang   string
	Decls  []Decl
}

// AccessDecl is an access specifier inside a class body.
type AccessDecl struct {
	Offset int
	Access string
}

// Opaque is a declaration the parser does not model; its names are still
// visited as references.
type Opaque struct {
	Offset int
	Exprs  []Expr
}

func (d *SimpleDecl) Pos() int            { return d.Offset }
func (d *FunctionDef) Pos() int           { return d.Offset }
func (d *NamespaceDecl) Pos() int         { return d.Offset }
func (d *NamespaceAliasDecl) Pos() int    { return d.Offset }
func (d *UsingDirective) Pos() int        { return d.Offset }
func (d *UsingDeclaration) Pos() int      { return d.Offset }
func (d *AliasDecl) Pos() int             { return d.Offset }
func (d *TemplateDecl) Pos() int          { return d.Offset }
func (d *ExplicitInstantiation) Pos() int { return d.Offset }
func (d *LinkageSpec) Pos() int           { return d.Offset }
func (d *AccessDecl) Pos() int            { return d.Offset }
func (d *Opaque) Pos() int                { return d.Offset }

// TemplateParam is a template parameter declaration.
type TemplateParam struct {
	Kind binding.ParamKind
	Name *Name
	// Type is the declared type of a non-type parameter.
	Type *TypeID
	// Default holds the default argument.
	Default *TemplateArg
	// Params holds the parameter list of a template template parameter.
	Params []*TemplateParam
}

// DeclSpec is the type part of decl-specifiers.
type DeclSpec struct {
	Const, Volatile bool
	// Keywords lists builtin type keywords in source order.
	Keywords []string
	Named    *QName
	Class    *ClassSpec
	Enum     *EnumSpec
	// Elaborated is set for `struct S`, `enum E` and friends without a body.
	Elaborated bool
	Auto       bool
	Typename   bool
}

// ClassSpec is a class-specifier or an elaborated class reference.
type ClassSpec struct {
	Offset  int
	Key     binding.ClassKey
	Name    *QName
	Bases   []*BaseSpec
	Members []Decl
	HasBody bool
	End     int
}

type BaseSpec struct {
	Name    *QName
	Virtual bool
	Access  string
}

type EnumSpec struct {
	Offset      int
	Name        *QName
	Scoped      bool
	Base        *DeclSpec
	Enumerators []*Enumerator
	HasBody     bool
}

type Enumerator struct {
	Name  *Name
	Value Expr
}

// DeclOp is the operator of one declarator level.
type DeclOp int

const (
	OpName DeclOp = iota
	OpPointer
	OpReference
	OpRValueRef
	OpArray
	OpFunction
	OpMemberPointer
)

// Declarator is one level of a C declarator, outermost first: `int *f()`
// is Pointer → Function → Name. An abstract declarator ends in a nil
// Inner without a name.
type Declarator struct {
	Op       DeclOp
	Inner    *Declarator
	Name     *QName
	Const    bool
	Volatile bool
	// Function declarators.
	Params   []*Param
	Variadic bool
	Pure     bool
	// Array declarators; nil means unknown bound.
	Size Expr
	// Member pointer class.
	Class *QName
	// Init is the initializer of the outermost level.
	Init     Expr
	Bitfield Expr
}

// DeclName returns the innermost name of d or nil for an abstract
// declarator.
func (d *Declarator) DeclName() *QName {
	for cur := d; cur != nil; cur = cur.Inner {
		if cur.Op == OpName {
			return cur.Name
		}
	}
	return nil
}

// Function returns the function level that applies directly to the name,
// or nil when d does not declare a function.
func (d *Declarator) Function() *Declarator {
	var fn *Declarator
	for cur := d; cur != nil; cur = cur.Inner {
		switch cur.Op {
		case OpFunction:
			fn = cur
		case OpName:
			return fn
		default:
			fn = nil
		}
	}
	return fn
}

type Param struct {
	Spec    *DeclSpec
	Decl    *Declarator
	Default Expr
}

// TypeID is a type without a declared name.
type TypeID struct {
	Spec *DeclSpec
	Decl *Declarator
}
