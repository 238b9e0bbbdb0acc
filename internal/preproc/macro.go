package preproc

import (
	"strings"
)

// macro is a live macro definition.
type macro struct {
	name     string
	params   []string // nil for object-like macros
	variadic bool
	body     []token
	text     string
	builtin  bool
}

func (m *macro) functionLike() bool { return m.params != nil }

// signature renders the definition for significant-macro keys.
func (m *macro) signature() string {
	if m == nil {
		return "<undef>"
	}
	if m.params == nil {
		return "=" + m.text
	}
	return "(" + strings.Join(m.params, ",") + ")=" + m.text
}

// parseDefine parses the text after `#define`. It returns nil when the
// directive has no macro name.
func parseDefine(toks []token) *macro {
	if len(toks) == 0 || toks[0].kind != tokIdent {
		return nil
	}
	m := &macro{name: toks[0].text}
	rest := toks[1:]
	// A parenthesis directly after the name starts a parameter list.
	if len(rest) > 0 && rest[0].text == "(" && !rest[0].space {
		m.params = []string{}
		i := 1
		for ; i < len(rest); i++ {
			t := rest[i]
			if t.text == ")" {
				i++
				break
			}
			switch {
			case t.text == ",":
			case t.text == "...":
				m.variadic = true
				m.params = append(m.params, "__VA_ARGS__")
			case t.kind == tokIdent:
				if i+1 < len(rest) && rest[i+1].text == "..." {
					m.variadic = true
					i++
				}
				m.params = append(m.params, t.text)
			}
		}
		rest = rest[i:]
	}
	m.body = make([]token, len(rest))
	for i, t := range rest {
		t.off = -1
		if i == 0 {
			t.space = false
		}
		m.body[i] = t
	}
	m.text = render(m.body)
	return m
}

// expander performs macro replacement against a macro table.
type expander struct {
	macros map[string]*macro
	// used is called with the name of every macro replaced at top level.
	used func(name string)
	// limit bounds the total number of replacements per call.
	limit int
}

// expand fully macro-replaces toks. hide holds the macros being expanded.
func (e *expander) expand(toks []token, hide map[string]bool, top bool) []token {
	var out []token
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokIdent || hide[t.text] {
			out = append(out, t)
			continue
		}
		m, ok := e.macros[t.text]
		if !ok || e.limit <= 0 {
			out = append(out, t)
			continue
		}
		if !m.functionLike() {
			e.limit--
			if top && e.used != nil {
				e.used(m.name)
			}
			repl := e.expand(substitute(m, nil, nil), with(hide, m.name), false)
			out = append(out, respace(repl, t.space)...)
			continue
		}
		args, next, ok := collectArgs(toks, i+1)
		if !ok {
			out = append(out, t)
			continue
		}
		e.limit--
		if top && e.used != nil {
			e.used(m.name)
		}
		expanded := make([][]token, len(args))
		for j, a := range args {
			expanded[j] = e.expand(a, hide, false)
		}
		repl := e.expand(substitute(m, args, expanded), with(hide, m.name), false)
		out = append(out, respace(repl, t.space)...)
		i = next - 1
	}
	return out
}

func with(hide map[string]bool, name string) map[string]bool {
	n := make(map[string]bool, len(hide)+1)
	for k := range hide {
		n[k] = true
	}
	n[name] = true
	return n
}

func respace(toks []token, space bool) []token {
	if len(toks) == 0 {
		return toks
	}
	out := make([]token, len(toks))
	copy(out, toks)
	out[0].space = space
	return out
}

// collectArgs gathers the arguments of a function-like invocation whose
// opening parenthesis is expected at toks[i]. It returns the index after
// the closing parenthesis.
func collectArgs(toks []token, i int) ([][]token, int, bool) {
	if i >= len(toks) || toks[i].text != "(" {
		return nil, 0, false
	}
	depth := 0
	var args [][]token
	var cur []token
	for j := i + 1; j < len(toks); j++ {
		t := toks[j]
		switch t.text {
		case "(":
			depth++
		case ")":
			if depth == 0 {
				args = append(args, cur)
				if len(args) == 1 && len(args[0]) == 0 {
					args = nil
				}
				return args, j + 1, true
			}
			depth--
		case ",":
			if depth == 0 {
				args = append(args, cur)
				cur = nil
				continue
			}
		}
		cur = append(cur, t)
	}
	return nil, 0, false
}

// substitute replaces parameters in the body of m, applying # and ##.
func substitute(m *macro, raw, expanded [][]token) []token {
	index := func(name string) int {
		for i, p := range m.params {
			if p == name {
				return i
			}
		}
		return -1
	}
	arg := func(list [][]token, i int) []token {
		if m.variadic && i == len(m.params)-1 && len(list) > len(m.params) {
			var joined []token
			for k := i; k < len(list); k++ {
				if k > i {
					joined = append(joined, token{kind: tokPunct, text: ",", off: -1})
				}
				joined = append(joined, list[k]...)
			}
			return joined
		}
		if i < len(list) {
			return list[i]
		}
		return nil
	}

	var out []token
	body := m.body
	for i := 0; i < len(body); i++ {
		t := body[i]
		if t.text == "#" && m.functionLike() && i+1 < len(body) {
			if p := index(body[i+1].text); p >= 0 {
				out = append(out, token{kind: tokString, text: stringify(arg(raw, p)), off: -1, space: t.space})
				i++
				continue
			}
		}
		if t.text == "##" && len(out) > 0 && i+1 < len(body) {
			next := body[i+1]
			var right []token
			if p := index(next.text); p >= 0 && m.functionLike() {
				right = arg(raw, p)
			} else {
				right = []token{next}
			}
			i++
			if len(right) == 0 {
				continue
			}
			left := out[len(out)-1]
			pasted := lex([]byte(left.text+right[0].text), 0, len(left.text)+len(right[0].text))
			for k := range pasted {
				pasted[k].off = -1
			}
			if len(pasted) > 0 {
				pasted[0].space = left.space
			}
			out = append(out[:len(out)-1], pasted...)
			out = append(out, right[1:]...)
			continue
		}
		if p := index(t.text); p >= 0 && t.kind == tokIdent && m.functionLike() {
			nextPaste := i+1 < len(body) && body[i+1].text == "##"
			var repl []token
			if nextPaste {
				repl = arg(raw, p)
			} else {
				repl = arg(expanded, p)
			}
			out = append(out, respace(repl, t.space)...)
			continue
		}
		out = append(out, t)
	}
	for i := range out {
		out[i].off = -1
	}
	return out
}

func stringify(toks []token) string {
	s := render(toks)
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
