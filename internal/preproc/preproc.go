// Package preproc runs the C preprocessor over a translation unit. It
// produces one dom.Fragment per inclusion with directives and inactive
// regions blanked (offsets preserved), macros expanded through an offset
// map, include edges, macro records and the significant-macro context key
// that distinguishes header variants.
package preproc

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
)

// ScannerInfo is the per-project compiler configuration.
type ScannerInfo struct {
	IncludePaths       []string          `yaml:"include_paths"`
	SystemIncludePaths []string          `yaml:"system_include_paths"`
	IncludeFiles       []string          `yaml:"include_files"`
	MacroFiles         []string          `yaml:"macro_files"`
	Defines            map[string]string `yaml:"defines"`
}

// FS abstracts file access so the coordinator can serve unsaved content.
type FS interface {
	ReadFile(name string) ([]byte, error)
	Exists(name string) bool
}

type osFS struct{}

func (osFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }
func (osFS) Exists(name string) bool {
	st, err := os.Stat(name)
	return err == nil && !st.IsDir()
}

// OS returns an FS reading from the local file system.
func OS() FS { return osFS{} }

// Options configures a preprocessor run.
type Options struct {
	Scanner ScannerInfo
	FS      FS
	Linkage binding.Linkage
	// Heuristic resolves an include by basename when the search paths fail.
	Heuristic func(name string) (string, bool)
	// UpToDate reports whether a header variant is already indexed with the
	// same content, returning its file record id.
	UpToDate func(location, contextKey, hash string) (int64, bool)
	// MaxIncludeDepth bounds nested inclusion; zero means 200.
	MaxIncludeDepth int
}

// ErrIncludeDepth is returned when inclusion nests too deeply.
var ErrIncludeDepth = errors.New("include depth exceeded")

// HashContent returns the hex sha256 of content.
func HashContent(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// Run preprocesses the translation unit rooted at path. When content is
// nil the file is read through opts.FS.
func Run(ctx context.Context, path string, content []byte, opts Options) (*dom.TranslationUnit, error) {
	if opts.FS == nil {
		opts.FS = OS()
	}
	if opts.MaxIncludeDepth == 0 {
		opts.MaxIncludeDepth = 200
	}
	if content == nil {
		var err error
		content, err = opts.FS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("preprocess %s: %w", path, err)
		}
	}
	r := &run{
		ctx:    ctx,
		opts:   opts,
		macros: make(map[string]*macro),
		once:   make(map[string]bool),
		seen:   make(map[string]*dom.Fragment),
	}
	r.exp = &expander{macros: r.macros}
	r.predefine()

	root, err := r.processFile(path, content, nil, false, true)
	if err != nil {
		return nil, err
	}
	tu := &dom.TranslationUnit{Root: root, Linkage: opts.Linkage}
	tu.Layout()
	return tu, nil
}

type run struct {
	ctx    context.Context
	opts   Options
	macros map[string]*macro
	exp    *expander
	once   map[string]bool
	seen   map[string]*dom.Fragment
	depth  int
}

func (r *run) predefine() {
	define := func(name, value string) {
		toks := lex([]byte(name+" "+value), 0, len(name)+1+len(value))
		if m := parseDefine(toks); m != nil {
			m.builtin = true
			r.macros[name] = m
		}
	}
	if r.opts.Linkage == binding.LinkageCPP {
		define("__cplusplus", "201703L")
	} else {
		define("__STDC__", "1")
		define("__STDC_VERSION__", "201112L")
	}
	names := make([]string, 0, len(r.opts.Scanner.Defines))
	for n := range r.opts.Scanner.Defines {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		define(n, r.opts.Scanner.Defines[n])
	}
}

// fileState is the per-inclusion preprocessing state.
type fileState struct {
	frag    *dom.Fragment
	src     []byte
	out     []byte
	segs    []dom.MapSegment
	local   map[string]bool
	sig     map[string]string
	root    bool
	ignored string
}

type cond struct {
	active, taken, parentActive bool
}

func (r *run) processFile(loc string, content []byte, parent *dom.Fragment, macroOnly, root bool) (*dom.Fragment, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > r.opts.MaxIncludeDepth {
		return nil, fmt.Errorf("preprocess %s: %w", loc, ErrIncludeDepth)
	}

	frag := &dom.Fragment{
		Location:  loc,
		Linkage:   r.opts.Linkage,
		Content:   content,
		Hash:      HashContent(content),
		Parent:    parent,
		MacroOnly: macroOnly,
	}
	frag.Guard, frag.PragmaOnce = detectGuard(content)
	if frag.Guard != "" {
		frag.PragmaOnce = true
	}
	if frag.PragmaOnce {
		r.once[loc] = true
	}
	fs := &fileState{
		frag:    frag,
		src:     content,
		local:   make(map[string]bool),
		sig:     make(map[string]string),
		root:    root,
		ignored: frag.Guard,
	}
	if root {
		if err := r.prelude(fs); err != nil {
			return nil, err
		}
	}

	var stack []cond
	active := func() bool { return len(stack) == 0 || stack[len(stack)-1].active }
	textStart := -1
	flush := func(upto int) {
		if textStart >= 0 {
			r.expandText(fs, textStart, upto)
			textStart = -1
		}
	}
	inComment := false
	commentFromDirective := false
	for _, ln := range splitLines(content) {
		first, open := scanComments(content, ln.start, ln.end, inComment)
		startedInComment := inComment
		inComment = open
		isDirective := false
		var name string
		var args []token
		if !startedInComment || first < 0 || content[first] != '#' {
			name, args, isDirective = directiveOf(content, first, ln.end)
		}
		if startedInComment && commentFromDirective && !isDirective {
			// Tail of a block comment opened on a directive line.
			flush(ln.start)
			fs.blank(ln.start, ln.next)
			commentFromDirective = open
			continue
		}
		if !isDirective {
			if active() {
				if textStart < 0 {
					textStart = ln.start
				}
			} else {
				flush(ln.start)
				fs.blank(ln.start, ln.next)
			}
			commentFromDirective = false
			continue
		}
		flush(ln.start)
		fs.blank(ln.start, ln.next)
		commentFromDirective = open

		switch name {
		case "if", "ifdef", "ifndef":
			if !active() {
				stack = append(stack, cond{taken: true})
				continue
			}
			v := r.evalDirective(fs, name, args)
			stack = append(stack, cond{active: v, taken: v, parentActive: true})
		case "elif", "elifdef", "elifndef":
			if len(stack) == 0 {
				continue
			}
			top := &stack[len(stack)-1]
			if !top.parentActive || top.taken {
				top.active = false
				continue
			}
			kw := "if"
			switch name {
			case "elifdef":
				kw = "ifdef"
			case "elifndef":
				kw = "ifndef"
			}
			v := r.evalDirective(fs, kw, args)
			top.active, top.taken = v, v
		case "else":
			if len(stack) == 0 {
				continue
			}
			top := &stack[len(stack)-1]
			top.active = top.parentActive && !top.taken
			top.taken = true
		case "endif":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case "define":
			if active() {
				r.define(fs, args)
			}
		case "undef":
			if active() && len(args) > 0 && args[0].kind == tokIdent {
				n := args[0].text
				delete(r.macros, n)
				fs.local[n] = true
				frag.Macros = append(frag.Macros, &dom.Macro{Name: n, Offset: args[0].off, Undef: true})
			}
		case "include", "include_next", "import":
			if err := r.include(fs, first, args, active()); err != nil {
				return nil, err
			}
		case "pragma":
			if active() && len(args) > 0 && args[0].text == "once" && !frag.PragmaOnce {
				frag.PragmaOnce = true
				r.once[loc] = true
			}
		}
	}
	flush(len(content))

	frag.Text = fs.out
	frag.Map = &dom.OffsetMap{Segments: fs.segs}
	frag.ContextKey = fs.contextKey()
	if frag.PragmaOnce || root {
		frag.ContextKey = ""
	}

	key := loc + "\x00" + frag.ContextKey
	if prev, ok := r.seen[key]; ok {
		frag.Skip = true
		frag.Record = prev.Record
		return frag, nil
	}
	r.seen[key] = frag
	if !root && r.opts.UpToDate != nil {
		if id, ok := r.opts.UpToDate(loc, frag.ContextKey, frag.Hash); ok {
			frag.Skip = true
			frag.Record = id
		}
	}
	return frag, nil
}

// prelude processes macro files and forced includes before the content of
// the translation unit's source file.
func (r *run) prelude(fs *fileState) error {
	files := make([]struct {
		path      string
		macroOnly bool
	}, 0, len(r.opts.Scanner.MacroFiles)+len(r.opts.Scanner.IncludeFiles))
	for _, p := range r.opts.Scanner.MacroFiles {
		files = append(files, struct {
			path      string
			macroOnly bool
		}{p, true})
	}
	for _, p := range r.opts.Scanner.IncludeFiles {
		files = append(files, struct {
			path      string
			macroOnly bool
		}{p, false})
	}
	for _, f := range files {
		inc := &dom.Include{Name: f.path, System: true, Active: true, Target: f.path}
		fs.frag.Includes = append(fs.frag.Includes, inc)
		if !r.opts.FS.Exists(f.path) {
			continue
		}
		inc.Resolved = true
		if r.once[f.path] {
			continue
		}
		content, err := r.opts.FS.ReadFile(f.path)
		if err != nil {
			inc.Resolved = false
			continue
		}
		child, err := r.processFile(f.path, content, fs.frag, f.macroOnly, false)
		if err != nil {
			return err
		}
		inc.TargetKey = child.ContextKey
		fs.frag.Children = append(fs.frag.Children, &dom.Child{Offset: -1, Fragment: child})
	}
	return nil
}

func (r *run) define(fs *fileState, args []token) {
	m := parseDefine(args)
	if m == nil {
		return
	}
	r.macros[m.name] = m
	fs.local[m.name] = true
	rec := &dom.Macro{Name: m.name, Expansion: m.text, Offset: args[0].off}
	if m.params != nil {
		rec.Params = append([]string{}, m.params...)
	}
	fs.frag.Macros = append(fs.frag.Macros, rec)
}

// consult records a macro lookup that depends on the includer's state.
func (r *run) consult(fs *fileState, name string) {
	if fs.root || fs.local[name] || name == fs.ignored {
		return
	}
	if _, ok := fs.sig[name]; ok {
		return
	}
	m := r.macros[name]
	if m != nil && m.builtin {
		return
	}
	fs.sig[name] = m.signature()
}

func (r *run) evalDirective(fs *fileState, kw string, args []token) bool {
	switch kw {
	case "ifdef", "ifndef":
		if len(args) == 0 || args[0].kind != tokIdent {
			return false
		}
		r.consult(fs, args[0].text)
		_, ok := r.macros[args[0].text]
		if kw == "ifndef" {
			return !ok
		}
		return ok
	}
	r.exp.used = func(name string) { r.consult(fs, name) }
	r.exp.limit = 10000
	defer func() { r.exp.used = nil }()
	v, err := evalCondition(args, r.exp,
		func(name string) bool {
			r.consult(fs, name)
			_, ok := r.macros[name]
			return ok
		},
		func(name string) { r.consult(fs, name) })
	if err != nil {
		return false
	}
	return v
}

// expandText copies src[start:end] to the output, replacing macro
// invocations by their expansion.
func (r *run) expandText(fs *fileState, start, end int) {
	toks := lex(fs.src, start, end)
	cursor := start
	r.exp.used = func(name string) { r.consult(fs, name) }
	r.exp.limit = 10000
	defer func() { r.exp.used = nil }()
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokIdent {
			continue
		}
		m, ok := r.macros[t.text]
		if !ok {
			continue
		}
		next := i + 1
		if m.functionLike() {
			_, n, ok := collectArgs(toks, i+1)
			if !ok {
				continue
			}
			next = n
		}
		repl := r.exp.expand(toks[i:next], nil, true)
		invEnd := toks[next-1].end()
		fs.verbatim(cursor, t.off)
		fs.expansion(t.off, invEnd, render(repl))
		cursor = invEnd
		i = next - 1
	}
	fs.verbatim(cursor, end)
}

func (fs *fileState) verbatim(start, end int) {
	if end <= start {
		return
	}
	out := len(fs.out)
	fs.out = append(fs.out, fs.src[start:end]...)
	fs.appendSeg(dom.MapSegment{Out: out, OutLen: end - start, In: start, InLen: end - start})
}

func (fs *fileState) expansion(start, end int, text string) {
	// Pad short expansions so the output never shrinks below the
	// invocation and newlines inside the invocation survive.
	lines := strings.Count(string(fs.src[start:end]), "\n")
	out := len(fs.out)
	fs.out = append(fs.out, text...)
	for i := 0; i < lines; i++ {
		fs.out = append(fs.out, '\n')
	}
	fs.appendSeg(dom.MapSegment{Out: out, OutLen: len(fs.out) - out, In: start, InLen: end - start, Expansion: true})
}

func (fs *fileState) blank(start, end int) {
	if end <= start {
		return
	}
	out := len(fs.out)
	for _, c := range fs.src[start:end] {
		if c == '\n' {
			fs.out = append(fs.out, '\n')
		} else {
			fs.out = append(fs.out, ' ')
		}
	}
	fs.appendSeg(dom.MapSegment{Out: out, OutLen: end - start, In: start, InLen: end - start})
}

func (fs *fileState) appendSeg(seg dom.MapSegment) {
	if seg.OutLen == 0 {
		return
	}
	if n := len(fs.segs); n > 0 && !seg.Expansion {
		last := &fs.segs[n-1]
		if !last.Expansion && last.Out+last.OutLen == seg.Out && last.In+last.InLen == seg.In {
			last.OutLen += seg.OutLen
			last.InLen += seg.InLen
			return
		}
	}
	fs.segs = append(fs.segs, seg)
}

// contextKey hashes the significant macros and their values at inclusion.
func (fs *fileState) contextKey() string {
	if len(fs.sig) == 0 {
		return ""
	}
	names := make([]string, 0, len(fs.sig))
	for n := range fs.sig {
		names = append(names, n)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, n := range names {
		sb.WriteString(n)
		sb.WriteString(fs.sig[n])
		sb.WriteByte('\n')
	}
	return HashContent([]byte(sb.String()))[:16]
}

func (r *run) include(fs *fileState, dirOff int, toks []token, active bool) error {
	if len(toks) == 0 {
		return nil
	}
	var name string
	var nameOff int
	system := false
	switch {
	case toks[0].kind == tokString && strings.HasPrefix(toks[0].text, `"`):
		name = strings.TrimSuffix(strings.TrimPrefix(toks[0].text, `"`), `"`)
		nameOff = toks[0].off + 1
	case toks[0].text == "<":
		gt := -1
		for i := 1; i < len(toks); i++ {
			if toks[i].text == ">" || toks[i].text == ">>" || toks[i].text == ">=" {
				gt = i
				break
			}
		}
		if gt < 0 {
			return nil
		}
		nameOff = toks[0].end()
		name = string(fs.src[nameOff:toks[gt].off])
		system = true
	case active:
		// Computed include: expand and reparse the header name.
		text := render(r.exp.expand(toks, nil, false))
		text = strings.TrimSpace(text)
		switch {
		case strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) && len(text) >= 2:
			name = text[1 : len(text)-1]
		case strings.HasPrefix(text, "<") && strings.HasSuffix(text, ">"):
			name = strings.TrimSpace(text[1 : len(text)-1])
			system = true
		default:
			return nil
		}
		nameOff = toks[0].off
	default:
		return nil
	}

	inc := &dom.Include{
		Name:       name,
		NameOffset: nameOff,
		NameLength: len(name),
		Offset:     dirOff,
		System:     system,
		Active:     active,
	}
	fs.frag.Includes = append(fs.frag.Includes, inc)
	target, heuristic, ok := r.resolve(name, system, fs.frag.Location)
	if !ok {
		return nil
	}
	inc.Resolved, inc.Heuristic, inc.Target = true, heuristic, target
	if !active || r.once[target] {
		return nil
	}
	content, err := r.opts.FS.ReadFile(target)
	if err != nil {
		inc.Resolved = false
		return nil
	}
	child, err := r.processFile(target, content, fs.frag, false, false)
	if err != nil {
		return err
	}
	inc.TargetKey = child.ContextKey
	fs.frag.Children = append(fs.frag.Children, &dom.Child{Offset: dirOff, Fragment: child})
	return nil
}

// resolve searches the includer directory (quote form only), the include
// paths and the system include paths, then the heuristic.
func (r *run) resolve(name string, system bool, includer string) (string, bool, bool) {
	if filepath.IsAbs(name) {
		return name, false, r.opts.FS.Exists(name)
	}
	var dirs []string
	if !system {
		dirs = append(dirs, filepath.Dir(includer))
	}
	dirs = append(dirs, r.opts.Scanner.IncludePaths...)
	dirs = append(dirs, r.opts.Scanner.SystemIncludePaths...)
	for _, d := range dirs {
		p := filepath.Join(d, name)
		if r.opts.FS.Exists(p) {
			return p, false, true
		}
	}
	if r.opts.Heuristic != nil {
		if p, ok := r.opts.Heuristic(name); ok {
			return p, true, true
		}
	}
	return "", false, false
}
