// Package binding is the semantic model of declared C/C++ entities: one Go
// struct per binding kind behind the Binding interface, plus the type
// algebra used for declarations, overload matching and persistence.
package binding

// Record locates a binding persisted in an index fragment. The zero value
// marks an AST-local binding.
type Record struct {
	Fragment string
	ID       int64
}

// IsZero reports whether the record is unset.
func (r Record) IsZero() bool { return r.ID == 0 }

// Origin is the file location and offset of the first declaration that
// introduced a binding.
type Origin struct {
	File   string
	Offset int
}

// Binding is a declared entity. Concrete variants are the pointer types in
// this package; switch on them or on Kind.
type Binding interface {
	Name() string
	Kind() Kind
	Owner() Binding
	Linkage() Linkage
	Flags() Flags
	Origin() Origin
	Record() Record
	decl() *Decl
}

// Decl holds the fields shared by every binding variant.
type Decl struct {
	SimpleName string
	Parent     Binding
	Link       Linkage
	Attrs      Flags
	Site       Origin
	Rec        Record

	identity string
}

func (d *Decl) Name() string       { return d.SimpleName }
func (d *Decl) Owner() Binding     { return d.Parent }
func (d *Decl) Linkage() Linkage   { return d.Link }
func (d *Decl) Flags() Flags       { return d.Attrs }
func (d *Decl) Origin() Origin     { return d.Site }
func (d *Decl) Record() Record     { return d.Rec }
func (d *Decl) decl() *Decl        { return d }
func (d *Decl) SetRecord(r Record) { d.Rec = r }

// Common returns the shared fields of b.
func Common(b Binding) *Decl { return b.decl() }

// IsAnonymous reports whether b was declared without a name.
func IsAnonymous(b Binding) bool {
	return b.Name() == "" || b.Flags().Has(FlagAnonymous)
}

// Variable covers variables, fields and function parameters.
type Variable struct {
	Decl
	VarKind    Kind
	Type       Type
	Value      *Value
	Position   int
	HasDefault bool
	// Init is an opaque initializer handle owned by the resolver, used to
	// fold constants lazily. It is never persisted.
	Init any
}

func (v *Variable) Kind() Kind {
	if v.VarKind == 0 {
		return KindVariable
	}
	return v.VarKind
}

// Function covers free functions and methods.
type Function struct {
	Decl
	FuncKind Kind
	Type     *FunctionType
	Params   []*Variable
}

func (f *Function) Kind() Kind {
	if f.FuncKind == 0 {
		return KindFunction
	}
	return f.FuncKind
}

// RequiredArgs is the number of leading parameters without a default.
func (f *Function) RequiredArgs() int {
	types := f.ParamTypes()
	if len(f.Params) == 0 {
		return len(types)
	}
	n := 0
	for _, p := range f.Params {
		if p.HasDefault {
			break
		}
		n++
	}
	return min(n, len(types))
}

// ParamTypes returns the declared parameter types.
func (f *Function) ParamTypes() []Type {
	if f.Type == nil {
		return nil
	}
	return f.Type.Params
}

// ClassKey distinguishes struct, class and union.
type ClassKey int

const (
	ClassKeyStruct ClassKey = iota
	ClassKeyClass
	ClassKeyUnion
)

func (k ClassKey) String() string {
	switch k {
	case ClassKeyClass:
		return "class"
	case ClassKeyUnion:
		return "union"
	default:
		return "struct"
	}
}

// Base is one entry of a class base-specifier list.
type Base struct {
	Type    Type
	Virtual bool
	Access  string
}

// ClassBody is the member table shared by composites, class templates,
// specializations and class instances.
type ClassBody struct {
	Key      ClassKey
	Bases    []Base
	Members  []Binding
	Complete bool
}

// Body returns the receiver so ClassBody satisfies Class when embedded.
func (c *ClassBody) Body() *ClassBody { return c }

// AddMember appends m unless a member with the same identity exists.
func (c *ClassBody) AddMember(m Binding) {
	id := Identity(m)
	for _, x := range c.Members {
		if Identity(x) == id {
			return
		}
	}
	c.Members = append(c.Members, m)
}

// Class is implemented by every binding that carries a ClassBody.
type Class interface {
	Binding
	Type
	Body() *ClassBody
}

type Composite struct {
	Decl
	ClassBody
}

func (c *Composite) Kind() Kind { return KindComposite }

type Enumeration struct {
	Decl
	Enumerators []*Enumerator
	Fixed       Type
}

func (e *Enumeration) Kind() Kind { return KindEnumeration }

// Enumerator is owned by its enumeration when scoped, otherwise by the
// scope enclosing the enumeration.
type Enumerator struct {
	Decl
	Value int64
	Enum  *Enumeration
}

func (e *Enumerator) Kind() Kind { return KindEnumerator }

// Typedef covers typedef declarations and alias declarations.
type Typedef struct {
	Decl
	Type Type
}

func (t *Typedef) Kind() Kind { return KindTypedef }

type Namespace struct {
	Decl
	Inline bool
}

func (n *Namespace) Kind() Kind { return KindNamespace }

type NamespaceAlias struct {
	Decl
	Target Binding
}

func (n *NamespaceAlias) Kind() Kind { return KindNamespaceAlias }

// ParamKind distinguishes template parameter forms.
type ParamKind int

const (
	ParamType ParamKind = iota
	ParamValue
	ParamTemplate
)

type TemplateParameter struct {
	Decl
	Position  int
	ParamKind ParamKind
	ValueType Type
	Default   *Arg
	// DefaultInit is an opaque default-argument handle owned by the resolver.
	DefaultInit any
}

func (p *TemplateParameter) Kind() Kind { return KindTemplateParameter }

// Template is implemented by class and function templates.
type Template interface {
	Binding
	TemplateParams() []*TemplateParameter
}

type ClassTemplate struct {
	Decl
	ClassBody
	Params    []*TemplateParameter
	Partials  []*PartialSpecialization
	Explicits []*ExplicitSpecialization
}

func (t *ClassTemplate) Kind() Kind                           { return KindClassTemplate }
func (t *ClassTemplate) TemplateParams() []*TemplateParameter { return t.Params }

type FunctionTemplate struct {
	Decl
	Params    []*TemplateParameter
	Func      *Function
	Explicits []*ExplicitSpecialization
}

func (t *FunctionTemplate) Kind() Kind                           { return KindFunctionTemplate }
func (t *FunctionTemplate) TemplateParams() []*TemplateParameter { return t.Params }

type PartialSpecialization struct {
	Decl
	ClassBody
	Primary Binding
	Params  []*TemplateParameter
	Args    []Arg
}

func (p *PartialSpecialization) Kind() Kind                           { return KindPartialSpecialization }
func (p *PartialSpecialization) TemplateParams() []*TemplateParameter { return p.Params }

// ExplicitSpecialization is a full specialization of a class template (Func
// nil) or of a function template (Func set).
type ExplicitSpecialization struct {
	Decl
	ClassBody
	Primary Binding
	Args    []Arg
	Func    *Function
}

func (e *ExplicitSpecialization) Kind() Kind { return KindExplicitSpecialization }

// Instance is a template applied to an argument tuple. Spec is the primary,
// partial or explicit specialization the instance was produced from; Subst
// maps template parameter identities of Spec to their arguments.
type Instance struct {
	Decl
	ClassBody
	Template Binding
	Spec     Binding
	Args     []Arg
	Subst    map[string]Arg
	Func     *Function
}

func (i *Instance) Kind() Kind { return KindInstance }

var (
	_ Class    = (*Composite)(nil)
	_ Class    = (*ClassTemplate)(nil)
	_ Class    = (*PartialSpecialization)(nil)
	_ Class    = (*ExplicitSpecialization)(nil)
	_ Class    = (*Instance)(nil)
	_ Template = (*ClassTemplate)(nil)
	_ Template = (*FunctionTemplate)(nil)
)

// ClassOf returns the class body behind b, following typedefs and
// qualifiers. It returns nil when b does not denote a class.
func ClassOf(t Type) Class {
	switch x := Unqualified(t).(type) {
	case Class:
		return x
	}
	return nil
}

// Members lists the members of a scope-like binding that are held in
// memory: class members, enumerators of a scoped enumeration.
func Members(b Binding) []Binding {
	switch x := b.(type) {
	case Class:
		return x.Body().Members
	case *Enumeration:
		out := make([]Binding, len(x.Enumerators))
		for i, e := range x.Enumerators {
			out[i] = e
		}
		return out
	}
	return nil
}
