// Package consteval folds integral constant expressions: literals, unary,
// binary and conditional operators, casts, sizeof of builtin types and
// names of constant variables supplied by the caller.
package consteval

import (
	"strconv"
	"strings"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
)

// Env resolves the parts of an expression that need name lookup.
type Env interface {
	// Ident returns the value of a constant named by e.
	Ident(e *dom.IdExpr) (int64, bool)
	// Type resolves a type-id, for casts and sizeof.
	Type(t *dom.TypeID) binding.Type
}

// Eval folds e. It reports false when e is not a constant expression.
func Eval(e dom.Expr, env Env) (int64, bool) {
	v, ok := eval(e, env, 0)
	return v, ok
}

const maxDepth = 256

func eval(e dom.Expr, env Env, depth int) (int64, bool) {
	if e == nil || depth > maxDepth {
		return 0, false
	}
	depth++
	switch x := e.(type) {
	case *dom.Literal:
		return Literal(x)
	case *dom.Paren:
		return eval(x.X, env, depth)
	case *dom.IdExpr:
		if env == nil {
			return 0, false
		}
		return env.Ident(x)
	case *dom.Unary:
		v, ok := eval(x.X, env, depth)
		if !ok {
			return 0, false
		}
		switch x.Op {
		case "-":
			return -v, true
		case "+":
			return v, true
		case "~":
			return ^v, true
		case "!":
			return boolInt(v == 0), true
		}
		return 0, false
	case *dom.Binary:
		return binary(x, env, depth)
	case *dom.Cond:
		c, ok := eval(x.C, env, depth)
		if !ok {
			return 0, false
		}
		if c != 0 {
			return eval(x.T, env, depth)
		}
		return eval(x.F, env, depth)
	case *dom.Cast:
		v, ok := eval(x.X, env, depth)
		if !ok {
			return 0, false
		}
		if env != nil {
			if t := env.Type(x.Type); t != nil {
				return binding.Convert(v, t), true
			}
		}
		return v, true
	case *dom.Construct:
		if len(x.Args) != 1 {
			if len(x.Args) == 0 {
				return 0, true
			}
			return 0, false
		}
		v, ok := eval(x.Args[0], env, depth)
		if !ok {
			return 0, false
		}
		if env != nil {
			if t := env.Type(x.Type); t != nil {
				return binding.Convert(v, t), true
			}
		}
		return v, true
	case *dom.Sizeof:
		if x.Type == nil || env == nil {
			return 0, false
		}
		return SizeOf(env.Type(x.Type))
	case *dom.InitList:
		if len(x.Elems) == 1 {
			return eval(x.Elems[0], env, depth)
		}
	}
	return 0, false
}

func binary(x *dom.Binary, env Env, depth int) (int64, bool) {
	a, ok := eval(x.X, env, depth)
	if !ok {
		return 0, false
	}
	// Short-circuit operators only need the right side when it decides.
	switch x.Op {
	case "&&":
		if a == 0 {
			return 0, true
		}
		b, ok := eval(x.Y, env, depth)
		return boolInt(b != 0), ok
	case "||":
		if a != 0 {
			return 1, true
		}
		b, ok := eval(x.Y, env, depth)
		return boolInt(b != 0), ok
	}
	b, ok := eval(x.Y, env, depth)
	if !ok {
		return 0, false
	}
	switch x.Op {
	case "+":
		return a + b, true
	case "-":
		return a - b, true
	case "*":
		return a * b, true
	case "/":
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case "%":
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case "<<":
		if b < 0 || b > 63 {
			return 0, false
		}
		return a << uint(b), true
	case ">>":
		if b < 0 || b > 63 {
			return 0, false
		}
		return a >> uint(b), true
	case "&":
		return a & b, true
	case "|":
		return a | b, true
	case "^":
		return a ^ b, true
	case "==":
		return boolInt(a == b), true
	case "!=":
		return boolInt(a != b), true
	case "<":
		return boolInt(a < b), true
	case "<=":
		return boolInt(a <= b), true
	case ">":
		return boolInt(a > b), true
	case ">=":
		return boolInt(a >= b), true
	case ",":
		return b, true
	}
	return 0, false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Literal returns the value of an integer, character or boolean literal.
func Literal(l *dom.Literal) (int64, bool) {
	switch l.Kind {
	case dom.LitBool:
		return boolInt(l.Text == "true"), true
	case dom.LitNullptr:
		return 0, true
	case dom.LitChar:
		return CharValue(l.Text)
	case dom.LitInt:
		return IntValue(l.Text)
	}
	return 0, false
}

// IntValue parses an integer literal with C prefixes, digit separators and
// suffixes.
func IntValue(text string) (int64, bool) {
	t := strings.ToLower(strings.ReplaceAll(text, "'", ""))
	t = strings.TrimRight(t, "ul")
	base := 10
	switch {
	case strings.HasPrefix(t, "0x"):
		base, t = 16, t[2:]
	case strings.HasPrefix(t, "0b"):
		base, t = 2, t[2:]
	case len(t) > 1 && t[0] == '0':
		base, t = 8, t[1:]
	}
	if t == "" {
		return 0, base == 8
	}
	u, err := strconv.ParseUint(t, base, 64)
	if err != nil {
		return 0, false
	}
	return int64(u), true
}

// CharValue returns the value of a character literal such as 'a', '\n'
// or '\x41'. Prefixed literals (L, u, U, u8) are accepted.
func CharValue(text string) (int64, bool) {
	i := strings.IndexByte(text, '\'')
	j := strings.LastIndexByte(text, '\'')
	if i < 0 || j <= i {
		return 0, false
	}
	body := text[i+1 : j]
	if body == "" {
		return 0, false
	}
	if body[0] != '\\' {
		r := []rune(body)
		return int64(r[0]), true
	}
	if len(body) < 2 {
		return 0, false
	}
	switch body[1] {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case 'a':
		return 7, true
	case 'b':
		return 8, true
	case 'f':
		return 12, true
	case 'v':
		return 11, true
	case '\\', '\'', '"', '?':
		return int64(body[1]), true
	case 'x':
		u, err := strconv.ParseUint(body[2:], 16, 64)
		return int64(u), err == nil
	case 'u', 'U':
		u, err := strconv.ParseUint(body[2:], 16, 32)
		return int64(u), err == nil
	}
	if body[1] >= '0' && body[1] <= '7' {
		u, err := strconv.ParseUint(body[1:], 8, 64)
		return int64(u), err == nil
	}
	return 0, false
}

// SizeOf returns the size of builtin, pointer, reference-free and array
// types on an LP64 target.
func SizeOf(t binding.Type) (int64, bool) {
	switch x := binding.Normalize(t).(type) {
	case *binding.Basic:
		switch x.Kind {
		case binding.Bool, binding.Char:
			return 1, true
		case binding.Char16:
			return 2, true
		case binding.Char32, binding.WChar, binding.Float:
			return 4, true
		case binding.Double:
			if x.Mods&binding.ModLong != 0 {
				return 16, true
			}
			return 8, true
		case binding.Nullptr:
			return 8, true
		case binding.Int:
			switch {
			case x.Mods&binding.ModShort != 0:
				return 2, true
			case x.Mods&(binding.ModLong|binding.ModLongLong) != 0:
				return 8, true
			}
			return 4, true
		}
	case *binding.Pointer, *binding.MemberPointer:
		return 8, true
	case *binding.Qualified:
		return SizeOf(x.Elem)
	case *binding.Reference:
		return SizeOf(x.Elem)
	case *binding.Array:
		if x.Size < 0 {
			return 0, false
		}
		n, ok := SizeOf(x.Elem)
		return n * x.Size, ok
	case *binding.Enumeration:
		if x.Fixed != nil {
			return SizeOf(x.Fixed)
		}
		return 4, true
	}
	return 0, false
}
