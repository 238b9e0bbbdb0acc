package preproc

import (
	"errors"
	"strconv"
	"strings"
)

var errBadExpr = errors.New("invalid preprocessor expression")

// evalCondition evaluates the tokens of an #if or #elif line. defined
// reports macro definedness and records the lookup; remaining identifiers
// evaluate to zero.
func evalCondition(toks []token, exp *expander, defined func(string) bool, undefinedIdent func(string)) (bool, error) {
	// Resolve `defined X` and `defined(X)` before expansion.
	var pre []token
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind == tokIdent && t.text == "defined" {
			name := ""
			switch {
			case i+1 < len(toks) && toks[i+1].kind == tokIdent:
				name = toks[i+1].text
				i++
			case i+3 < len(toks) && toks[i+1].text == "(" && toks[i+2].kind == tokIdent && toks[i+3].text == ")":
				name = toks[i+2].text
				i += 3
			default:
				return false, errBadExpr
			}
			v := "0"
			if defined(name) {
				v = "1"
			}
			pre = append(pre, token{kind: tokNumber, text: v, off: -1})
			continue
		}
		pre = append(pre, t)
	}
	expanded := exp.expand(pre, nil, true)
	for i, t := range expanded {
		if t.kind != tokIdent {
			continue
		}
		switch t.text {
		case "true":
			expanded[i] = token{kind: tokNumber, text: "1", off: -1}
		case "false":
			expanded[i] = token{kind: tokNumber, text: "0", off: -1}
		default:
			if undefinedIdent != nil {
				undefinedIdent(t.text)
			}
			expanded[i] = token{kind: tokNumber, text: "0", off: -1}
		}
	}
	p := &exprParser{toks: expanded}
	v, err := p.ternary()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, errBadExpr
	}
	return v != 0, nil
}

type exprParser struct {
	toks []token
	pos  int
}

func (p *exprParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos].text
	}
	return ""
}

func (p *exprParser) ternary() (int64, error) {
	c, err := p.binary(0)
	if err != nil {
		return 0, err
	}
	if p.peek() != "?" {
		return c, nil
	}
	p.pos++
	t, err := p.ternary()
	if err != nil {
		return 0, err
	}
	if p.peek() != ":" {
		return 0, errBadExpr
	}
	p.pos++
	f, err := p.ternary()
	if err != nil {
		return 0, err
	}
	if c != 0 {
		return t, nil
	}
	return f, nil
}

var binaryPrec = map[string]int{
	"||": 1, "&&": 2, "|": 3, "^": 4, "&": 5,
	"==": 6, "!=": 6, "<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8, "+": 9, "-": 9, "*": 10, "/": 10, "%": 10,
}

// binary is precedence climbing over left-associative operators.
func (p *exprParser) binary(minPrec int) (int64, error) {
	lhs, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		prec, ok := binaryPrec[op]
		if !ok || prec <= minPrec {
			return lhs, nil
		}
		p.pos++
		rhs, err := p.binary(prec)
		if err != nil {
			return 0, err
		}
		lhs, err = applyBinary(op, lhs, rhs)
		if err != nil {
			return 0, err
		}
	}
}

// applyBinary folds a binary operator with preprocessor semantics.
func applyBinary(op string, a, b int64) (int64, error) {
	bool2int := func(v bool) int64 {
		if v {
			return 1
		}
		return 0
	}
	switch op {
	case "||":
		return bool2int(a != 0 || b != 0), nil
	case "&&":
		return bool2int(a != 0 && b != 0), nil
	case "|":
		return a | b, nil
	case "^":
		return a ^ b, nil
	case "&":
		return a & b, nil
	case "==":
		return bool2int(a == b), nil
	case "!=":
		return bool2int(a != b), nil
	case "<":
		return bool2int(a < b), nil
	case ">":
		return bool2int(a > b), nil
	case "<=":
		return bool2int(a <= b), nil
	case ">=":
		return bool2int(a >= b), nil
	case "<<":
		return a << uint64(b&63), nil
	case ">>":
		return a >> uint64(b&63), nil
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, errBadExpr
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, errBadExpr
		}
		return a % b, nil
	}
	return 0, errBadExpr
}

func (p *exprParser) unary() (int64, error) {
	switch p.peek() {
	case "!":
		p.pos++
		v, err := p.unary()
		if v == 0 {
			return 1, err
		}
		return 0, err
	case "~":
		p.pos++
		v, err := p.unary()
		return ^v, err
	case "-":
		p.pos++
		v, err := p.unary()
		return -v, err
	case "+":
		p.pos++
		return p.unary()
	case "(":
		p.pos++
		v, err := p.ternary()
		if err != nil {
			return 0, err
		}
		if p.peek() != ")" {
			return 0, errBadExpr
		}
		p.pos++
		return v, nil
	}
	if p.pos >= len(p.toks) {
		return 0, errBadExpr
	}
	t := p.toks[p.pos]
	p.pos++
	switch t.kind {
	case tokNumber:
		return ParseInt(t.text)
	case tokChar:
		return ParseChar(t.text)
	}
	return 0, errBadExpr
}

// ParseInt parses a C integer literal with optional base prefix, digit
// separators and suffixes.
func ParseInt(s string) (int64, error) {
	s = strings.ReplaceAll(s, "'", "")
	s = strings.TrimRight(s, "uUlLzZ")
	base := 10
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		base, s = 16, s[2:]
	case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
		base, s = 2, s[2:]
	case len(s) > 1 && s[0] == '0':
		base, s = 8, s[1:]
	}
	u, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, errBadExpr
	}
	return int64(u), nil
}

// ParseChar returns the value of a character literal such as 'a' or '\n'.
func ParseChar(s string) (int64, error) {
	i := strings.IndexByte(s, '\'')
	if i < 0 || len(s) < i+3 {
		return 0, errBadExpr
	}
	body := s[i+1 : len(s)-1]
	if body == "" {
		return 0, errBadExpr
	}
	if body[0] != '\\' {
		r := []rune(body)
		return int64(r[0]), nil
	}
	if len(body) < 2 {
		return 0, errBadExpr
	}
	switch body[1] {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case '0', '1', '2', '3', '4', '5', '6', '7':
		v, err := strconv.ParseInt(body[1:], 8, 64)
		if err != nil {
			return 0, errBadExpr
		}
		return v, nil
	case 'x':
		v, err := strconv.ParseInt(body[2:], 16, 64)
		if err != nil {
			return 0, errBadExpr
		}
		return v, nil
	case 'a':
		return 7, nil
	case 'b':
		return 8, nil
	case 'f':
		return 12, nil
	case 'v':
		return 11, nil
	}
	return int64(body[1]), nil
}
