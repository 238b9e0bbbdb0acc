package binding

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// QualifiedName returns the scope path of b ending in its own name.
// Anonymous scopes contribute an empty segment. Function and block scopes
// are not part of the path.
func QualifiedName(b Binding) []string {
	var segs []string
	for cur := b; cur != nil; cur = cur.Owner() {
		if cur != b && !cur.Kind().IsScope() && cur.Kind() != KindFunctionTemplate {
			continue
		}
		segs = append(segs, cur.Name())
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return segs
}

// QualifiedString joins the qualified name with "::".
func QualifiedString(b Binding) string {
	return strings.Join(QualifiedName(b), "::")
}

// ScopeKey is like the qualified name but gives anonymous scopes a segment
// derived from their declaring site, so that members of two anonymous
// structs never share a scope. The empty string denotes the global scope.
func ScopeKey(b Binding) string {
	if b == nil {
		return ""
	}
	var segs []string
	for cur := b; cur != nil; cur = cur.Owner() {
		if cur != b && !cur.Kind().IsScope() {
			continue
		}
		segs = append(segs, segment(cur))
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "::")
}

func segment(b Binding) string {
	if b.Name() != "" {
		switch x := b.(type) {
		case *PartialSpecialization:
			return x.Name() + "<" + ArgsKey(x.Args) + ">"
		case *ExplicitSpecialization:
			return x.Name() + "<" + ArgsKey(x.Args) + ">"
		case *Instance:
			return x.Name() + "<" + ArgsKey(x.Args) + ">"
		}
		return b.Name()
	}
	if b.Kind() == KindNamespace {
		return "{anon}"
	}
	o := b.Origin()
	return fmt.Sprintf("{anon:%s@%d}", filepath.Base(o.File), o.Offset)
}

// OwnerKey is the ScopeKey of the scope that b is looked up in.
func OwnerKey(b Binding) string {
	for o := b.Owner(); o != nil; o = o.Owner() {
		if o.Kind().IsScope() {
			return ScopeKey(o)
		}
	}
	return ""
}

// EntityKey identifies the language-level entity behind b: linkage, kind,
// scope path and signature. Two bindings with equal entity keys that are
// both reachable from a translation unit denote the same entity.
func EntityKey(b Binding) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(int(b.Linkage())))
	sb.WriteByte('|')
	sb.WriteString(b.Kind().String())
	sb.WriteByte('|')
	sb.WriteString(ScopeKey(b))
	sb.WriteByte('|')
	sb.WriteString(Signature(b))
	return sb.String()
}

// Identity is the persistent identity key of b: the entity key plus the
// originating file. Namespaces are reopened across files and therefore
// omit the origin.
func Identity(b Binding) string {
	d := b.decl()
	if d.identity != "" {
		return d.identity
	}
	key := EntityKey(b)
	if b.Kind() != KindNamespace {
		key += "|" + d.Site.File
	}
	d.identity = key
	return key
}

// EntityKeyOf returns the entity key part of Identity(b). For bindings
// materialised from storage it is the stored key rather than a recomputed
// one.
func EntityKeyOf(b Binding) string {
	id := Identity(b)
	if b.Kind() == KindNamespace {
		return id
	}
	return strings.TrimSuffix(id, "|"+b.Origin().File)
}

// SetIdentity installs a persisted identity key, so that bindings
// materialised from storage report the key they were stored under.
func SetIdentity(b Binding, key string) { b.decl().identity = key }

// ResetIdentity drops the memoised identity, for callers that mutate a
// binding's owner or signature after creation.
func ResetIdentity(b Binding) { b.decl().identity = "" }

// Signature distinguishes overloads and specializations that share a
// qualified name.
func Signature(b Binding) string {
	switch x := b.(type) {
	case *Function:
		return funcSignature(x.Type)
	case *FunctionTemplate:
		s := "<" + paramsSignature(x.Params) + ">"
		if x.Func != nil {
			s += funcSignature(x.Func.Type)
		}
		return s
	case *ClassTemplate:
		return "<" + paramsSignature(x.Params) + ">"
	case *PartialSpecialization:
		return "<" + ArgsKey(x.Args) + ">"
	case *ExplicitSpecialization:
		s := "<" + ArgsKey(x.Args) + ">"
		if x.Func != nil {
			s += funcSignature(x.Func.Type)
		}
		return s
	case *Instance:
		return "<" + ArgsKey(x.Args) + ">"
	case *TemplateParameter:
		return "$" + strconv.Itoa(x.Position) + ownerSuffix(x)
	case *Variable:
		if x.Kind() == KindParameter {
			return "$" + strconv.Itoa(x.Position) + ownerSuffix(x)
		}
	}
	return ""
}

// ownerSuffix ties a parameter to the function or template declaring it,
// since parameter names repeat across declarations in one scope.
func ownerSuffix(b Binding) string {
	if o := b.Owner(); o != nil {
		return "@" + EntityKey(o)
	}
	return ""
}

func funcSignature(ft *FunctionType) string {
	if ft == nil {
		return "()"
	}
	parts := make([]string, 0, len(ft.Params)+1)
	for _, p := range ft.Params {
		parts = append(parts, TypeKey(AdjustParam(p)))
	}
	if ft.Variadic {
		parts = append(parts, "...")
	}
	s := "(" + strings.Join(parts, ",") + ")"
	if ft.Const {
		s += "c"
	}
	if ft.Volatile {
		s += "v"
	}
	return s
}

func paramsSignature(ps []*TemplateParameter) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		switch p.ParamKind {
		case ParamType:
			parts[i] = "t"
		case ParamTemplate:
			parts[i] = "T"
		default:
			parts[i] = "v:" + TypeKey(p.ValueType)
		}
	}
	return strings.Join(parts, ",")
}

// TypeKey renders t canonically: typedefs are unwrapped, named types are
// rendered by identity and template parameters by position.
func TypeKey(t Type) string {
	t = Normalize(t)
	switch x := t.(type) {
	case nil:
		return "?"
	case *Basic:
		c := x.canonical()
		return "b" + strconv.Itoa(int(c.Kind)) + "." + strconv.Itoa(int(c.Mods))
	case *Pointer:
		return "p" + cvDigit(x.Const, x.Volatile) + "(" + TypeKey(x.Elem) + ")"
	case *Reference:
		if x.RValue {
			return "x(" + TypeKey(x.Elem) + ")"
		}
		return "r(" + TypeKey(x.Elem) + ")"
	case *Qualified:
		return "q" + cvDigit(x.Const, x.Volatile) + "(" + TypeKey(x.Elem) + ")"
	case *Array:
		return "a" + strconv.FormatInt(x.Size, 10) + "(" + TypeKey(x.Elem) + ")"
	case *FunctionType:
		parts := []string{TypeKey(x.Result)}
		for _, p := range x.Params {
			parts = append(parts, TypeKey(AdjustParam(p)))
		}
		return "f" + funcFlags(x) + "(" + strings.Join(parts, ";") + ")"
	case *MemberPointer:
		return "m(" + TypeKey(x.Class) + ";" + TypeKey(x.Elem) + ")"
	case *Problem:
		return "!" + strconv.Itoa(int(x.Code))
	case *TemplateParameter:
		return "$" + strconv.Itoa(x.Position)
	case Binding:
		return "{" + Identity(x) + "}"
	}
	return "?"
}

func cvDigit(c, v bool) string {
	n := 0
	if c {
		n |= 1
	}
	if v {
		n |= 2
	}
	return strconv.Itoa(n)
}

func funcFlags(f *FunctionType) string {
	n := 0
	if f.Variadic {
		n |= 1
	}
	if f.Const {
		n |= 2
	}
	if f.Volatile {
		n |= 4
	}
	return strconv.Itoa(n)
}
