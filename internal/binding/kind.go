package binding

import "fmt"

// Linkage identifies the language a binding or file record belongs to.
type Linkage int

const (
	LinkageNone Linkage = 0
	LinkageC    Linkage = 1
	LinkageCPP  Linkage = 2
)

func (l Linkage) String() string {
	switch l {
	case LinkageC:
		return "c"
	case LinkageCPP:
		return "c++"
	default:
		return "none"
	}
}

// ParseLinkage accepts "c", "c++", "cpp" and the numeric forms "1" and "2".
func ParseLinkage(s string) (Linkage, error) {
	switch s {
	case "c", "C", "1":
		return LinkageC, nil
	case "c++", "cpp", "C++", "2":
		return LinkageCPP, nil
	}
	return LinkageNone, fmt.Errorf("unknown linkage %q", s)
}

// Kind is the tag of the binding variant.
type Kind int

const (
	KindProblem Kind = iota
	KindVariable
	KindFunction
	KindComposite
	KindEnumeration
	KindEnumerator
	KindTypedef
	KindNamespace
	KindNamespaceAlias
	KindClassTemplate
	KindFunctionTemplate
	KindPartialSpecialization
	KindExplicitSpecialization
	KindInstance
	KindTemplateParameter
	KindParameter
	KindField
	KindMethod
)

var kindNames = [...]string{
	KindProblem:                "problem",
	KindVariable:               "variable",
	KindFunction:               "function",
	KindComposite:              "composite",
	KindEnumeration:            "enumeration",
	KindEnumerator:             "enumerator",
	KindTypedef:                "typedef",
	KindNamespace:              "namespace",
	KindNamespaceAlias:         "namespace-alias",
	KindClassTemplate:          "class-template",
	KindFunctionTemplate:       "function-template",
	KindPartialSpecialization:  "partial-specialization",
	KindExplicitSpecialization: "explicit-specialization",
	KindInstance:               "instance",
	KindTemplateParameter:      "template-parameter",
	KindParameter:              "parameter",
	KindField:                  "field",
	KindMethod:                 "method",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return KindProblem, fmt.Errorf("unknown binding kind %q", s)
}

// IsType reports whether bindings of this kind can appear in type position.
func (k Kind) IsType() bool {
	switch k {
	case KindComposite, KindEnumeration, KindTypedef, KindClassTemplate,
		KindPartialSpecialization, KindExplicitSpecialization, KindInstance,
		KindTemplateParameter:
		return true
	}
	return false
}

// IsScope reports whether bindings of this kind own members.
func (k Kind) IsScope() bool {
	switch k {
	case KindNamespace, KindComposite, KindEnumeration, KindClassTemplate,
		KindPartialSpecialization, KindExplicitSpecialization, KindInstance:
		return true
	}
	return false
}

// Flags carries the storage-class and qualifier bits of a binding.
type Flags uint32

const (
	FlagStatic Flags = 1 << iota
	FlagExtern
	FlagExternC
	FlagMutable
	FlagExplicit
	FlagVirtual
	FlagInline
	FlagConst
	FlagVolatile
	FlagFriendOnly
	FlagAnonymous
	FlagPureVirtual
	FlagScoped
	FlagVariadic
	FlagConstexpr
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagStatic, "static"},
	{FlagExtern, "extern"},
	{FlagExternC, "extern-c"},
	{FlagMutable, "mutable"},
	{FlagExplicit, "explicit"},
	{FlagVirtual, "virtual"},
	{FlagInline, "inline"},
	{FlagConst, "const"},
	{FlagVolatile, "volatile"},
	{FlagFriendOnly, "friend"},
	{FlagAnonymous, "anonymous"},
	{FlagPureVirtual, "pure"},
	{FlagScoped, "scoped"},
	{FlagVariadic, "variadic"},
	{FlagConstexpr, "constexpr"},
}

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Names lists the set flags in declaration order.
func (f Flags) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}
