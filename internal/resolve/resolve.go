// Package resolve binds the names of a parsed translation unit. Names
// declared in the parsed fragments get AST-local bindings; names declared in
// already indexed, reachable files resolve to index bindings. Failures are
// returned as problem bindings, never as errors.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/template"
)

// ErrRecursionLimit is returned with the result when a resolution exceeded
// the depth limit and recursion bindings are not allowed.
var ErrRecursionLimit = errors.New("recursion limit exceeded")

// DefaultMaxDepth bounds nested resolution steps.
const DefaultMaxDepth = 64

// Options configures one resolution session.
type Options struct {
	// MaxDepth bounds typedef chains, base class walks, using-directive
	// chains and nested template instantiation.
	MaxDepth int
	// AllowRecursionBindings accepts pathological recursive constructs:
	// the offending names still bind to problem bindings, but Resolve does
	// not report ErrRecursionLimit.
	AllowRecursionBindings bool
	// Cache is the template instantiation cache. A private cache is used
	// when nil.
	Cache  *template.Cache
	Logger *slog.Logger
}

// Site is a declaring occurrence of an index binding.
type Site struct {
	Location   string
	ContextKey string
	Offset     int
}

// Candidate is an index binding with its declaring sites.
type Candidate struct {
	Binding binding.Binding
	Sites   []Site
}

// Using is a using-directive, or a using-declaration when Declaration is
// set. Scope is the scope key it appears in, Target the nominated scope key
// or qualified name.
type Using struct {
	Scope       string
	Target      string
	Offset      int
	Declaration bool
}

// Index supplies bindings of already indexed files.
type Index interface {
	// Lookup returns the bindings named name declared directly in the
	// scope with the given key; "" is the global scope. Members of inline
	// namespaces nested in the scope are included.
	Lookup(ctx context.Context, scopeKey, name string) ([]Candidate, error)
	// Usings returns the using statements recorded for a file record.
	Usings(ctx context.Context, location, contextKey string) ([]Using, error)
}

// Diagnostic is a name that resolved to a problem.
type Diagnostic struct {
	Name    *dom.Name
	Problem *binding.Problem
}

func (d Diagnostic) String() string {
	loc := ""
	if d.Name.File != nil {
		loc = d.Name.File.Location
	}
	return fmt.Sprintf("%s:%d: %s", loc, d.Name.Offset, d.Problem.Error())
}

// Result is the outcome of resolving a translation unit.
type Result struct {
	// Declared lists the AST-local bindings created for namespace and
	// class scope declarations, in declaration order.
	Declared []binding.Binding
	// Usings lists the namespace scope using statements per fragment.
	Usings map[*dom.Fragment][]Using
	// Problems lists every problem found, including redefinitions that
	// did not change the binding of their name.
	Problems []Diagnostic
	locals   map[binding.Binding]bool
}

// IsLocal reports whether b was declared in a block scope, or is owned by
// such a binding. Local bindings are not persisted.
func (r *Result) IsLocal(b binding.Binding) bool {
	for cur := b; cur != nil; cur = cur.Owner() {
		if r.locals[cur] {
			return true
		}
	}
	return false
}

// Resolve binds every name of the parsed fragments of tu. idx may be nil.
// The returned error reports index failures, or ErrRecursionLimit as
// described in Options; the result is usable in the latter case.
func Resolve(ctx context.Context, tu *dom.TranslationUnit, idx Index, opts Options) (*Result, error) {
	s := newSession(ctx, tu, idx, opts)
	if err := s.loadUsings(); err != nil {
		return nil, err
	}
	s.run()
	if s.err != nil {
		return nil, s.err
	}
	if s.recursion && !opts.AllowRecursionBindings {
		return s.res, fmt.Errorf("resolve %s: %w", rootLocation(tu), ErrRecursionLimit)
	}
	return s.res, nil
}

func rootLocation(tu *dom.TranslationUnit) string {
	if tu.Root == nil {
		return ""
	}
	return tu.Root.Location
}

// CheckBindings lists every name of the parsed files of tu bound to a
// problem, in file and offset order.
func CheckBindings(tu *dom.TranslationUnit) []Diagnostic {
	var out []Diagnostic
	for _, f := range tu.Files() {
		for _, n := range f.Names {
			if p, ok := n.Binding.(*binding.Problem); ok {
				out = append(out, Diagnostic{Name: n, Problem: p})
			}
		}
	}
	return out
}

// session holds the state of one Resolve call.
type session struct {
	ctx   context.Context
	tu    *dom.TranslationUnit
	idx   Index
	opts  Options
	cache *template.Cache
	log   *slog.Logger

	res    *Result
	global *scope
	ns     map[string]*scope
	// classes caches lexical scopes built for class bindings.
	classes map[binding.Binding]*scope
	fragOf  map[*dom.File]*dom.Fragment
	skipped map[string]*dom.Fragment
	// found caches index lookups by scope key and name.
	found map[string][]Candidate

	// friends holds classes and functions first declared as friends, which
	// ordinary lookup does not find.
	friends map[string]binding.Binding
	// specs holds specializations declared here for index templates.
	specs map[string]*binding.ClassTemplate
	// classUsings holds using-declarations of class scopes.
	classUsings map[binding.Binding]map[string][]binding.Binding
	// namespaces holds the namespace bindings by scope key.
	namespaces map[string]binding.Binding
	declared   map[binding.Binding]bool
	visited    map[*dom.Name]bool

	// file is the file of the top-level declaration being resolved.
	file       *dom.File
	deferred   []func()
	classDepth int
	depth      int
	recursion  bool
	err        error
}

func newSession(ctx context.Context, tu *dom.TranslationUnit, idx Index, opts Options) *session {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cache := opts.Cache
	if cache == nil {
		copts := []template.Option{
			template.WithEvaluator(DefaultEvaluator),
			template.WithMaxDepth(opts.MaxDepth),
			template.WithLogger(log),
		}
		if r, ok := idx.(template.Records); ok {
			copts = append(copts, template.WithRecords(r))
		}
		cache = template.New(copts...)
	}
	s := &session{
		ctx:         ctx,
		tu:          tu,
		idx:         idx,
		opts:        opts,
		cache:       cache,
		log:         log,
		res:         &Result{Usings: make(map[*dom.Fragment][]Using), locals: make(map[binding.Binding]bool)},
		ns:          make(map[string]*scope),
		classes:     make(map[binding.Binding]*scope),
		fragOf:      make(map[*dom.File]*dom.Fragment),
		skipped:     make(map[string]*dom.Fragment),
		found:       make(map[string][]Candidate),
		friends:     make(map[string]binding.Binding),
		specs:       make(map[string]*binding.ClassTemplate),
		classUsings: make(map[binding.Binding]map[string][]binding.Binding),
		namespaces:  make(map[string]binding.Binding),
		declared:    make(map[binding.Binding]bool),
		visited:     make(map[*dom.Name]bool),
	}
	s.global = &scope{kind: scopeNamespace}
	s.ns[""] = s.global
	for _, f := range tu.Fragments() {
		if f.File != nil {
			s.fragOf[f.File] = f
		}
		if f.Skip {
			key := siteKey(f.Location, f.ContextKey)
			if _, ok := s.skipped[key]; !ok {
				s.skipped[key] = f
			}
		}
	}
	return s
}

func siteKey(location, contextKey string) string { return location + "\x00" + contextKey }

// loadUsings installs the using statements of skipped fragments.
func (s *session) loadUsings() error {
	if s.idx == nil {
		return nil
	}
	for _, f := range s.tu.Fragments() {
		if !f.Skip {
			continue
		}
		us, err := s.idx.Usings(s.ctx, f.Location, f.ContextKey)
		if err != nil {
			return fmt.Errorf("load usings of %s: %w", f.Location, err)
		}
		for _, u := range us {
			sc := s.nsScope(u.Scope, nil)
			pos := f.Global(u.Offset)
			if u.Declaration {
				sc.pending = append(sc.pending, &pendingUsing{target: u.Target, pos: pos})
				continue
			}
			sc.directives = append(sc.directives, directive{target: u.Target, pos: pos})
		}
	}
	return nil
}

type topDecl struct {
	frag *dom.Fragment
	decl dom.Decl
	pos  int64
}

// run processes the namespace scope declarations of every parsed fragment
// in translation unit order, then binds any name no declaration reached.
func (s *session) run() {
	var decls []topDecl
	for _, f := range s.tu.Fragments() {
		if f.File == nil || f.Skip || f.MacroOnly {
			continue
		}
		for _, d := range f.File.Decls {
			decls = append(decls, topDecl{frag: f, decl: d, pos: f.Global(d.Pos())})
		}
	}
	sort.SliceStable(decls, func(i, j int) bool { return decls[i].pos < decls[j].pos })
	for _, td := range decls {
		if s.ctx.Err() != nil {
			s.fail(s.ctx.Err())
			return
		}
		s.file = td.frag.File
		s.decl(td.decl, &declCtx{sc: s.global})
		s.flush()
	}
	s.leftovers()
}

// leftovers binds names that no declaration or expression walk visited,
// such as names inside constructs the parser keeps opaque, by plain
// lookup at their position.
func (s *session) leftovers() {
	for _, f := range s.tu.Fragments() {
		if f.File == nil || f.Skip {
			continue
		}
		for _, n := range f.File.Names {
			if n.Binding != nil || s.visited[n] || n.Role.Has(dom.RoleDeclaration|dom.RoleDefinition) {
				continue
			}
			if bs := s.lookup(s.global, n.Text, s.pos(n), modeExpr); len(bs) == 1 {
				n.Binding = bs[0]
			}
		}
	}
}

// flush runs the member function bodies deferred until their outermost
// class was complete.
func (s *session) flush() {
	for len(s.deferred) > 0 {
		fns := s.deferred
		s.deferred = nil
		for _, f := range fns {
			f()
		}
	}
}

func (s *session) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// pos returns the translation unit position of n.
func (s *session) pos(n *dom.Name) int64 {
	if n == nil {
		return 0
	}
	if f := s.fragOf[n.File]; f != nil {
		return f.Global(n.Offset)
	}
	return int64(n.Offset)
}

// bind attaches b to n and records problems.
func (s *session) bind(n *dom.Name, b binding.Binding) {
	if n == nil || b == nil {
		return
	}
	s.visited[n] = true
	n.Binding = b
	if p, ok := b.(*binding.Problem); ok {
		s.res.Problems = append(s.res.Problems, Diagnostic{Name: n, Problem: p})
		if p.Code == binding.ProblemRecursionLimit {
			s.recursion = true
		}
	}
}

// problem returns a problem binding for n.
func (s *session) problem(code binding.ProblemCode, n *dom.Name, candidates ...binding.Binding) *binding.Problem {
	name := ""
	if n != nil {
		name = n.Text
	}
	p := binding.NewProblem(code, name, candidates...)
	if n != nil {
		p.Site = binding.Origin{File: fileLocation(n), Offset: n.Offset}
	}
	return p
}

func fileLocation(n *dom.Name) string {
	if n == nil || n.File == nil {
		return ""
	}
	return n.File.Location
}

// enter guards one level of nested resolution.
func (s *session) enter() bool {
	if s.depth >= s.opts.MaxDepth {
		s.recursion = true
		return false
	}
	s.depth++
	return true
}

func (s *session) leave() { s.depth-- }
