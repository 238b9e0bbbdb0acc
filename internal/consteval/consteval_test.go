package consteval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
)

type mapEnv map[string]int64

func (m mapEnv) Ident(e *dom.IdExpr) (int64, bool) {
	v, ok := m[e.Name.String()]
	return v, ok
}

func (m mapEnv) Type(t *dom.TypeID) binding.Type {
	if t == nil || t.Spec == nil || len(t.Spec.Keywords) == 0 {
		return nil
	}
	switch t.Spec.Keywords[0] {
	case "char":
		return binding.Builtin(binding.Char, 0)
	case "short":
		return binding.Builtin(binding.Int, binding.ModShort)
	case "bool":
		return binding.Builtin(binding.Bool, 0)
	}
	return binding.Builtin(binding.Int, 0)
}

func lit(kind dom.LitKind, text string) *dom.Literal { return &dom.Literal{Kind: kind, Text: text} }
func num(text string) *dom.Literal                  { return lit(dom.LitInt, text) }
func id(name string) *dom.IdExpr {
	return &dom.IdExpr{Name: &dom.QName{Segments: []*dom.Segment{{Name: &dom.Name{Text: name}}}}}
}
func bin(op string, x, y dom.Expr) *dom.Binary { return &dom.Binary{Op: op, X: x, Y: y} }
func typeID(kw string) *dom.TypeID             { return &dom.TypeID{Spec: &dom.DeclSpec{Keywords: []string{kw}}} }

func TestEval(t *testing.T) {
	t.Parallel()
	env := mapEnv{"N": 4, "M": -1}
	tests := []struct {
		name string
		expr dom.Expr
		want int64
		ok   bool
	}{
		{"decimal", num("42"), 42, true},
		{"hex", num("0x1F"), 31, true},
		{"octal", num("017"), 15, true},
		{"binary", num("0b101"), 5, true},
		{"suffix", num("10ull"), 10, true},
		{"separator", num("1'000"), 1000, true},
		{"char", lit(dom.LitChar, "'A'"), 65, true},
		{"escape", lit(dom.LitChar, `'\n'`), 10, true},
		{"hex escape", lit(dom.LitChar, `'\x41'`), 65, true},
		{"octal escape", lit(dom.LitChar, `'\0'`), 0, true},
		{"true", lit(dom.LitBool, "true"), 1, true},
		{"float", lit(dom.LitFloat, "1.5"), 0, false},
		{"name", id("N"), 4, true},
		{"unknown name", id("X"), 0, false},
		{"arith", bin("+", bin("*", id("N"), num("3")), num("1")), 13, true},
		{"shift", bin("<<", num("1"), num("4")), 16, true},
		{"compare", bin("<", id("M"), num("0")), 1, true},
		{"div zero", bin("/", num("1"), num("0")), 0, false},
		{"short circuit", bin("||", num("1"), id("X")), 1, true},
		{"unary", &dom.Unary{Op: "-", X: id("N")}, -4, true},
		{"not", &dom.Unary{Op: "!", X: num("0")}, 1, true},
		{"cond", &dom.Cond{C: id("M"), T: num("7"), F: num("8")}, 7, true},
		{"paren", &dom.Paren{X: num("3")}, 3, true},
		{"char cast", &dom.Cast{Type: typeID("char"), X: num("300")}, 44, true},
		{"bool cast", &dom.Cast{Type: typeID("bool"), X: num("5")}, 1, true},
		{"sizeof short", &dom.Sizeof{Type: typeID("short")}, 2, true},
		{"sizeof expr", &dom.Sizeof{X: id("N")}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Eval(tt.expr, env)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSizeOf(t *testing.T) {
	t.Parallel()
	n, ok := SizeOf(&binding.Array{Elem: binding.Builtin(binding.Int, 0), Size: 3})
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)

	n, ok = SizeOf(&binding.Pointer{Elem: binding.Builtin(binding.Char, 0)})
	assert.True(t, ok)
	assert.Equal(t, int64(8), n)

	_, ok = SizeOf(&binding.Array{Elem: binding.Builtin(binding.Int, 0), Size: -1})
	assert.False(t, ok)
}
