package preproc

// tokKind classifies preprocessing tokens.
type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokChar
	tokPunct
	tokOther
)

// token is a preprocessing token. off is the absolute offset in the file
// content, or -1 for tokens produced by an expansion. space records
// whether whitespace preceded the token.
type token struct {
	kind  tokKind
	text  string
	off   int
	space bool
}

func (t token) end() int { return t.off + len(t.text) }

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == '\v'
}

var punctuators = []string{
	"%:%:", "...", "<<=", ">>=", "->*", "<=>",
	"##", "::", "->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", ".*",
}

// lex splits src[start:end] into tokens, dropping whitespace, comments and
// backslash-newline continuations.
func lex(src []byte, start, end int) []token {
	var out []token
	space := false
	i := start
	for i < end {
		c := src[i]
		switch {
		case c == '\\' && i+1 < end && (src[i+1] == '\n' || src[i+1] == '\r'):
			i += 2
			if i < end && src[i-1] == '\r' && src[i] == '\n' {
				i++
			}
			continue
		case isSpace(c):
			space = true
			i++
			continue
		case c == '/' && i+1 < end && src[i+1] == '/':
			for i < end && src[i] != '\n' {
				i++
			}
			space = true
			continue
		case c == '/' && i+1 < end && src[i+1] == '*':
			i += 2
			for i+1 < end && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i += 2
			if i > end {
				i = end
			}
			space = true
			continue
		}
		tokStart := i
		kind := tokOther
		switch {
		case isIdentStart(c):
			for i < end && isIdentChar(src[i]) {
				i++
			}
			kind = tokIdent
			// Encoding prefixes of string and character literals.
			if i < end && (src[i] == '"' || src[i] == '\'') {
				switch string(src[tokStart:i]) {
				case "L", "u", "U", "u8", "R", "LR", "uR", "UR", "u8R":
					q := src[i]
					i = skipQuoted(src, i, end, q)
					kind = tokString
					if q == '\'' {
						kind = tokChar
					}
				}
			}
		case c >= '0' && c <= '9' || (c == '.' && i+1 < end && src[i+1] >= '0' && src[i+1] <= '9'):
			i++
			for i < end {
				d := src[i]
				if isIdentChar(d) || d == '.' || d == '\'' {
					i++
					continue
				}
				if (d == '+' || d == '-') && (src[i-1] == 'e' || src[i-1] == 'E' || src[i-1] == 'p' || src[i-1] == 'P') {
					i++
					continue
				}
				break
			}
			kind = tokNumber
		case c == '"':
			i = skipQuoted(src, i, end, '"')
			kind = tokString
		case c == '\'':
			i = skipQuoted(src, i, end, '\'')
			kind = tokChar
		default:
			kind = tokPunct
			matched := false
			for _, p := range punctuators {
				if i+len(p) <= end && string(src[i:i+len(p)]) == p {
					i += len(p)
					matched = true
					break
				}
			}
			if !matched {
				i++
			}
		}
		out = append(out, token{kind: kind, text: string(src[tokStart:i]), off: tokStart, space: space})
		space = false
	}
	return out
}

// skipQuoted returns the offset after the literal starting at i.
func skipQuoted(src []byte, i, end int, q byte) int {
	i++
	for i < end {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case q:
			return i + 1
		case '\n':
			return i
		}
		i++
	}
	return end
}

// render joins tokens, inserting a space where the source had whitespace
// or where two tokens would otherwise fuse.
func render(toks []token) string {
	var b []byte
	for i, t := range toks {
		if i > 0 && (t.space || fuses(toks[i-1], t)) {
			b = append(b, ' ')
		}
		b = append(b, t.text...)
	}
	return string(b)
}

func fuses(a, b token) bool {
	if a.text == "" || b.text == "" {
		return false
	}
	x, y := a.text[len(a.text)-1], b.text[0]
	if isIdentChar(x) && isIdentChar(y) {
		return true
	}
	return a.kind == tokPunct && b.kind == tokPunct
}
