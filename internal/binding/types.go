package binding

import (
	"fmt"
	"strings"
)

// Type is a C/C++ type. Structural types are the structs in this file;
// named types are the type-like bindings (composites, enumerations,
// typedefs, template parameters, instances) and problems.
type Type interface {
	isType()
}

func (*Basic) isType()                  {}
func (*Pointer) isType()                {}
func (*Reference) isType()              {}
func (*Qualified) isType()              {}
func (*Array) isType()                  {}
func (*FunctionType) isType()           {}
func (*MemberPointer) isType()          {}
func (*Composite) isType()              {}
func (*Enumeration) isType()            {}
func (*Typedef) isType()                {}
func (*TemplateParameter) isType()      {}
func (*ClassTemplate) isType()          {}
func (*PartialSpecialization) isType()  {}
func (*ExplicitSpecialization) isType() {}
func (*Instance) isType()               {}
func (*Problem) isType()                {}

// BasicKind enumerates the builtin type keywords.
type BasicKind int

const (
	Unspecified BasicKind = iota
	Void
	Bool
	Char
	WChar
	Char16
	Char32
	Int
	Float
	Double
	Auto
	Nullptr
)

var basicNames = [...]string{
	Unspecified: "?",
	Void:        "void",
	Bool:        "bool",
	Char:        "char",
	WChar:       "wchar_t",
	Char16:      "char16_t",
	Char32:      "char32_t",
	Int:         "int",
	Float:       "float",
	Double:      "double",
	Auto:        "auto",
	Nullptr:     "std::nullptr_t",
}

// BasicMod holds sign and size modifiers of a builtin type.
type BasicMod uint8

const (
	ModSigned BasicMod = 1 << iota
	ModUnsigned
	ModShort
	ModLong
	ModLongLong
)

type Basic struct {
	Kind BasicKind
	Mods BasicMod
}

// Builtin returns a basic type.
func Builtin(k BasicKind, mods BasicMod) *Basic { return &Basic{Kind: k, Mods: mods} }

// canonical folds "signed int" to "int"; plain char keeps its own identity.
func (b *Basic) canonical() Basic {
	c := *b
	if c.Kind == Int && c.Mods&ModSigned != 0 {
		c.Mods &^= ModSigned
	}
	return c
}

// IsIntegral reports whether b is bool, a character type or an integer.
func (b *Basic) IsIntegral() bool {
	switch b.Kind {
	case Bool, Char, WChar, Char16, Char32, Int:
		return true
	}
	return false
}

// IsArithmetic reports whether b is integral or floating.
func (b *Basic) IsArithmetic() bool {
	return b.IsIntegral() || b.Kind == Float || b.Kind == Double
}

type Pointer struct {
	Elem     Type
	Const    bool
	Volatile bool
}

type Reference struct {
	Elem   Type
	RValue bool
}

// Qualified adds cv-qualifiers to a non-pointer type.
type Qualified struct {
	Elem     Type
	Const    bool
	Volatile bool
}

// Array has Size -1 when the bound is unknown.
type Array struct {
	Elem Type
	Size int64
}

type FunctionType struct {
	Result   Type
	Params   []Type
	Variadic bool
	Const    bool
	Volatile bool
}

type MemberPointer struct {
	Class Type
	Elem  Type
}

// Unwrap follows typedef chains.
func Unwrap(t Type) Type {
	for i := 0; i < 64; i++ {
		td, ok := t.(*Typedef)
		if !ok || td.Type == nil {
			return t
		}
		t = td.Type
	}
	return t
}

// Unqualified strips typedefs, cv-qualifiers and references.
func Unqualified(t Type) Type {
	for i := 0; i < 64; i++ {
		switch x := Unwrap(t).(type) {
		case *Qualified:
			t = x.Elem
		case *Reference:
			t = x.Elem
		default:
			return x
		}
	}
	return t
}

// Normalize strips typedefs and empty qualifier wrappers, and merges nested
// qualifiers, so that structurally equal types compare equal.
func Normalize(t Type) Type {
	t = Unwrap(t)
	q, ok := t.(*Qualified)
	if !ok {
		return t
	}
	c, v := q.Const, q.Volatile
	inner := Unwrap(q.Elem)
	for {
		iq, ok := inner.(*Qualified)
		if !ok {
			break
		}
		c, v = c || iq.Const, v || iq.Volatile
		inner = Unwrap(iq.Elem)
	}
	if !c && !v {
		return inner
	}
	return &Qualified{Elem: inner, Const: c, Volatile: v}
}

// SameType reports whether a and b denote the same type. Typedefs are
// transparent; named types compare by identity so an AST-local binding and
// its adapted index binding are the same type.
func SameType(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	a, b = Normalize(a), Normalize(b)
	switch x := a.(type) {
	case *Basic:
		y, ok := b.(*Basic)
		return ok && x.canonical() == y.canonical()
	case *Pointer:
		y, ok := b.(*Pointer)
		return ok && x.Const == y.Const && x.Volatile == y.Volatile && SameType(x.Elem, y.Elem)
	case *Reference:
		y, ok := b.(*Reference)
		return ok && x.RValue == y.RValue && SameType(x.Elem, y.Elem)
	case *Qualified:
		y, ok := b.(*Qualified)
		return ok && x.Const == y.Const && x.Volatile == y.Volatile && SameType(x.Elem, y.Elem)
	case *Array:
		y, ok := b.(*Array)
		return ok && x.Size == y.Size && SameType(x.Elem, y.Elem)
	case *FunctionType:
		y, ok := b.(*FunctionType)
		if !ok || x.Variadic != y.Variadic || x.Const != y.Const || x.Volatile != y.Volatile || len(x.Params) != len(y.Params) {
			return false
		}
		if !SameType(x.Result, y.Result) {
			return false
		}
		for i := range x.Params {
			if !SameType(AdjustParam(x.Params[i]), AdjustParam(y.Params[i])) {
				return false
			}
		}
		return true
	case *MemberPointer:
		y, ok := b.(*MemberPointer)
		return ok && SameType(x.Class, y.Class) && SameType(x.Elem, y.Elem)
	case *Problem:
		return false
	case *TemplateParameter:
		y, ok := b.(*TemplateParameter)
		return ok && x.Position == y.Position && x.ParamKind == y.ParamKind
	case Binding:
		y, ok := b.(Binding)
		return ok && x.Kind() == y.Kind() && Identity(x) == Identity(y)
	}
	return false
}

// AdjustParam applies parameter type adjustment: top-level cv-qualifiers
// are dropped, arrays decay to pointers and functions to function pointers.
func AdjustParam(t Type) Type {
	t = Normalize(t)
	if q, ok := t.(*Qualified); ok {
		t = Normalize(q.Elem)
	}
	switch x := t.(type) {
	case *Array:
		return &Pointer{Elem: x.Elem}
	case *FunctionType:
		return &Pointer{Elem: x}
	}
	return t
}

// IsPointerLike reports whether t is a pointer, array or nullptr type.
func IsPointerLike(t Type) bool {
	switch x := Unqualified(t).(type) {
	case *Pointer, *Array:
		return true
	case *Basic:
		return x.Kind == Nullptr
	}
	return false
}

// TypeString renders t in C declaration syntax without a declarator name.
func TypeString(t Type) string {
	return typeString(t, "")
}

func typeString(t Type, inner string) string {
	join := func(s, in string) string {
		if in == "" {
			return s
		}
		return s + " " + in
	}
	switch x := t.(type) {
	case nil:
		return join("?", inner)
	case *Basic:
		return join(x.String(), inner)
	case *Qualified:
		q := cvString(x.Const, x.Volatile)
		return join(q+" "+typeString(x.Elem, ""), inner)
	case *Pointer:
		s := "*"
		if cv := cvString(x.Const, x.Volatile); cv != "" {
			s += " " + cv
		}
		if inner != "" {
			s += " " + inner
		}
		if needsParens(x.Elem) {
			s = "(" + s + ")"
		}
		return typeString(x.Elem, s)
	case *Reference:
		s := "&"
		if x.RValue {
			s = "&&"
		}
		if inner != "" {
			s += " " + inner
		}
		if needsParens(x.Elem) {
			s = "(" + s + ")"
		}
		return typeString(x.Elem, s)
	case *Array:
		size := ""
		if x.Size >= 0 {
			size = fmt.Sprint(x.Size)
		}
		return typeString(x.Elem, inner+"["+size+"]")
	case *FunctionType:
		params := make([]string, 0, len(x.Params)+1)
		for _, p := range x.Params {
			params = append(params, TypeString(p))
		}
		if x.Variadic {
			params = append(params, "...")
		}
		s := inner + "(" + strings.Join(params, ", ") + ")"
		if cv := cvString(x.Const, x.Volatile); cv != "" {
			s += " " + cv
		}
		return typeString(x.Result, s)
	case *MemberPointer:
		return typeString(x.Elem, TypeString(x.Class)+"::*"+inner)
	case *Problem:
		return join("<problem:"+x.Code.String()+">", inner)
	case *Instance:
		args := make([]string, len(x.Args))
		for i, a := range x.Args {
			args[i] = a.String()
		}
		return join(strings.Join(QualifiedName(x), "::")+"<"+strings.Join(args, ",")+">", inner)
	case Binding:
		return join(strings.Join(QualifiedName(x), "::"), inner)
	}
	return join(fmt.Sprintf("%T", t), inner)
}

func needsParens(elem Type) bool {
	switch Unwrap(elem).(type) {
	case *FunctionType, *Array:
		return true
	}
	return false
}

func cvString(c, v bool) string {
	switch {
	case c && v:
		return "const volatile"
	case c:
		return "const"
	case v:
		return "volatile"
	}
	return ""
}

func (b *Basic) String() string {
	var parts []string
	if b.Mods&ModSigned != 0 {
		parts = append(parts, "signed")
	}
	if b.Mods&ModUnsigned != 0 {
		parts = append(parts, "unsigned")
	}
	if b.Mods&ModShort != 0 {
		parts = append(parts, "short")
	}
	if b.Mods&ModLong != 0 {
		parts = append(parts, "long")
	}
	if b.Mods&ModLongLong != 0 {
		parts = append(parts, "long long")
	}
	if b.Kind != Int || len(parts) == 0 {
		parts = append(parts, basicNames[b.Kind])
	}
	return strings.Join(parts, " ")
}
