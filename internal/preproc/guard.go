package preproc

// logicalLine is one source line after joining backslash continuations.
type logicalLine struct {
	start, end int // end excludes the newline
	next       int
}

// splitLines returns the logical lines of src.
func splitLines(src []byte) []logicalLine {
	var out []logicalLine
	pos := 0
	for pos < len(src) {
		i := pos
		for i < len(src) {
			if src[i] == '\n' {
				j := i - 1
				if j >= pos && src[j] == '\r' {
					j--
				}
				if j >= pos && src[j] == '\\' {
					i++
					continue
				}
				break
			}
			i++
		}
		next := i + 1
		if i >= len(src) {
			next = len(src)
		}
		out = append(out, logicalLine{start: pos, end: i, next: next})
		pos = next
	}
	return out
}

// scanComments reports where the first code character of src[start:end]
// is (-1 when the line holds no code) and whether a block comment is
// still open at the end of the line.
func scanComments(src []byte, start, end int, inComment bool) (first int, open bool) {
	first = -1
	i := start
	for i < end {
		if inComment {
			if src[i] == '*' && i+1 < end && src[i+1] == '/' {
				inComment = false
				i += 2
				continue
			}
			i++
			continue
		}
		c := src[i]
		switch {
		case c == '/' && i+1 < end && src[i+1] == '*':
			inComment = true
			i += 2
			continue
		case c == '/' && i+1 < end && src[i+1] == '/':
			return first, false
		case c == '"' || c == '\'':
			if first < 0 {
				first = i
			}
			i = skipQuoted(src, i, end, c)
			continue
		case isSpace(c) || c == '\\':
			i++
			continue
		}
		if first < 0 {
			first = i
		}
		i++
	}
	return first, inComment
}

// directiveOf returns the directive keyword and its argument tokens when
// the line starts with '#'.
func directiveOf(src []byte, first, end int) (string, []token, bool) {
	if first < 0 || src[first] != '#' {
		return "", nil, false
	}
	toks := lex(src, first+1, end)
	if len(toks) == 0 {
		return "", nil, true
	}
	if toks[0].kind != tokIdent {
		return "", toks, true
	}
	return toks[0].text, toks[1:], true
}

// detectGuard recognises `#pragma once` and the include-guard idiom: the
// first directive is `#ifndef G` (or `#if !defined G`), the second is
// `#define G`, its matching `#endif` is the last directive, and no code
// lies outside of that block.
func detectGuard(src []byte) (guard string, pragmaOnce bool) {
	type dir struct {
		name string
		args []token
	}
	var dirs []dir
	codeBefore, codeAfter := false, false
	depth, closedAt := 0, -1
	inComment := false
	for _, ln := range splitLines(src) {
		first, open := scanComments(src, ln.start, ln.end, inComment)
		wasComment := inComment
		inComment = open
		if wasComment && first >= 0 && src[first] == '#' {
			first = -1
		}
		name, args, ok := directiveOf(src, first, ln.end)
		if !ok {
			if first >= 0 {
				if len(dirs) == 0 {
					codeBefore = true
				}
				if closedAt >= 0 {
					codeAfter = true
				}
			}
			continue
		}
		if name == "pragma" && len(args) > 0 && args[0].text == "once" {
			pragmaOnce = true
		}
		if closedAt >= 0 {
			codeAfter = true
		}
		dirs = append(dirs, dir{name, args})
		switch name {
		case "if", "ifdef", "ifndef":
			depth++
		case "endif":
			depth--
			if depth == 0 && closedAt < 0 {
				closedAt = len(dirs) - 1
			}
		}
	}
	if codeBefore || codeAfter || len(dirs) < 3 || closedAt != len(dirs)-1 {
		return "", pragmaOnce
	}
	g := guardName(dirs[0].name, dirs[0].args)
	if g == "" || dirs[1].name != "define" || len(dirs[1].args) == 0 || dirs[1].args[0].text != g {
		return "", pragmaOnce
	}
	return g, pragmaOnce
}

func guardName(name string, args []token) string {
	switch name {
	case "ifndef":
		if len(args) == 1 && args[0].kind == tokIdent {
			return args[0].text
		}
	case "if":
		// #if !defined G  |  #if !defined(G)
		if len(args) == 3 && args[0].text == "!" && args[1].text == "defined" && args[2].kind == tokIdent {
			return args[2].text
		}
		if len(args) == 5 && args[0].text == "!" && args[1].text == "defined" && args[2].text == "(" &&
			args[3].kind == tokIdent && args[4].text == ")" {
			return args[3].text
		}
	}
	return ""
}
