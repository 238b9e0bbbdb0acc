package binding

import (
	"strconv"
	"strings"
)

// Value is a folded integral constant.
type Value struct {
	Int int64
}

// Arg is one template argument: a type, or a constant converted to the
// type of the parameter it binds to.
type Arg struct {
	Type      Type
	Value     *Value
	ValueType Type
}

// TypeArg returns a type argument.
func TypeArg(t Type) Arg { return Arg{Type: t} }

// ValueArg returns a non-type argument of type vt.
func ValueArg(v int64, vt Type) Arg { return Arg{Value: &Value{Int: v}, ValueType: vt} }

// IsValue reports whether a is a non-type argument.
func (a Arg) IsValue() bool { return a.Value != nil }

// Key renders a canonically. Value keys include the value type, so 5 and
// '5' stay distinct and a char argument 53 equals '5'.
func (a Arg) Key() string {
	if a.Value != nil {
		return "v" + TypeKey(a.ValueType) + "=" + strconv.FormatInt(a.Value.Int, 10)
	}
	return "t" + TypeKey(a.Type)
}

func (a Arg) String() string {
	if a.Value != nil {
		if b, ok := Unqualified(a.ValueType).(*Basic); ok {
			switch b.Kind {
			case Bool:
				if a.Value.Int != 0 {
					return "true"
				}
				return "false"
			case Char:
				if a.Value.Int >= 32 && a.Value.Int < 127 {
					return "'" + string(rune(a.Value.Int)) + "'"
				}
			}
		}
		return strconv.FormatInt(a.Value.Int, 10)
	}
	return TypeString(a.Type)
}

// SameArg compares two arguments by value.
func SameArg(a, b Arg) bool {
	if a.IsValue() != b.IsValue() {
		return false
	}
	if a.IsValue() {
		return a.Value.Int == b.Value.Int && SameType(a.ValueType, b.ValueType)
	}
	return SameType(a.Type, b.Type)
}

// ArgsKey joins the keys of args.
func ArgsKey(args []Arg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Key()
	}
	return strings.Join(parts, ",")
}

// Convert truncates v to the range of the integral type t, following the
// usual two's complement conversion. Non-integral targets leave v as is.
func Convert(v int64, t Type) int64 {
	b, ok := Unqualified(t).(*Basic)
	if !ok {
		return v
	}
	unsigned := b.Mods&ModUnsigned != 0
	var bits uint
	switch {
	case b.Kind == Bool:
		if v != 0 {
			return 1
		}
		return 0
	case b.Kind == Char:
		bits = 8
	case b.Kind == Char16 || b.Mods&ModShort != 0:
		bits = 16
	case b.Kind == Char32 || b.Kind == WChar:
		bits = 32
	case b.Kind == Int && b.Mods&(ModLong|ModLongLong) != 0:
		bits = 64
	case b.Kind == Int:
		bits = 32
	default:
		return v
	}
	if bits == 64 {
		return v
	}
	mask := int64(1)<<bits - 1
	v &= mask
	if !unsigned && v&(int64(1)<<(bits-1)) != 0 {
		v -= int64(1) << bits
	}
	return v
}
