package cxxindex

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/index"
	"github.com/jward/cxxindex/internal/preproc"
	"github.com/jward/cxxindex/internal/store"
)

// QueryBuilder answers queries over the index of a project. Every method
// holds a read lock of the index for its own duration, so one call sees
// one consistent state. Use Index with AcquireReadLock to span several
// queries.
type QueryBuilder struct {
	index *index.Index
	lines *lineTable
}

func newQueryBuilder(x *index.Index, fs preproc.FS) *QueryBuilder {
	return &QueryBuilder{index: x, lines: newLineTable(fs, 0, generation(x))}
}

// generation sums the commit generations of the fragments of x. Each
// fragment only counts up, so any commit changes the sum.
func generation(x *index.Index) func() uint64 {
	return func() uint64 {
		var g uint64
		for _, f := range x.Fragments() {
			g += f.Generation()
		}
		return g
	}
}

// Index returns the underlying composite index.
func (q *QueryBuilder) Index() *index.Index { return q.index }

// Location is a source span. Lines and columns are zero based; columns
// count bytes.
type Location struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
	Offset    int    `json:"offset"`
	Length    int    `json:"length"`
}

// Symbol is a binding found by a query.
type Symbol struct {
	Name      string   `json:"name"`
	Qualified string   `json:"qualified"`
	Kind      string   `json:"kind"`
	Linkage   string   `json:"linkage"`
	Flags     []string `json:"flags,omitempty"`
	Type      string   `json:"type,omitempty"`
	// Location is where the binding was first declared.
	Location Location `json:"location"`

	Binding binding.Binding `json:"-"`
}

// Occurrence is one name bound to a binding.
type Occurrence struct {
	Location
	Symbol     string `json:"symbol"`
	Role       string `json:"role"`
	ContextKey string `json:"context_key,omitempty"`
	Project    string `json:"project"`

	role dom.Role
}

// IsDefinition reports whether the occurrence defines its binding.
func (o Occurrence) IsDefinition() bool { return o.role.Has(dom.RoleDefinition) }

// FileInfo is one file record.
type FileInfo struct {
	Location   string `json:"location"`
	Linkage    string `json:"linkage"`
	ContextKey string `json:"context_key,omitempty"`
	Hash       string `json:"hash"`
	Source     bool   `json:"source"`
	Standalone bool   `json:"standalone"`
	PragmaOnce bool   `json:"pragma_once,omitempty"`
	Guard      string `json:"guard,omitempty"`
	Inclusions int    `json:"inclusions"`
	Project    string `json:"project"`
}

// IncludeInfo is one include directive. Includer is the file holding the
// directive and Target what it resolved to.
type IncludeInfo struct {
	Includer  string   `json:"includer"`
	Name      string   `json:"name"`
	Target    string   `json:"target,omitempty"`
	System    bool     `json:"system"`
	Active    bool     `json:"active"`
	Resolved  bool     `json:"resolved"`
	Heuristic bool     `json:"heuristic,omitempty"`
	Location  Location `json:"location"`
}

// MacroInfo is one #define or #undef.
type MacroInfo struct {
	Name      string   `json:"name"`
	Params    []string `json:"params,omitempty"`
	Expansion string   `json:"expansion,omitempty"`
	Undef     bool     `json:"undef,omitempty"`
	Location  Location `json:"location"`
}

// UsingInfo is one namespace scope using statement.
type UsingInfo struct {
	Scope       string   `json:"scope"`
	Target      string   `json:"target"`
	Declaration bool     `json:"declaration"`
	Location    Location `json:"location"`
}

// SearchOptions narrow binding searches.
type SearchOptions struct {
	// MatchWhole anchors patterns at the global scope. For prefix
	// searches it restricts results to namespace scope bindings.
	MatchWhole bool
	// Fold matches ignoring case.
	Fold bool
	// Kinds keeps only bindings of these kinds.
	Kinds []binding.Kind
	// Filter is applied after Kinds.
	Filter index.Filter
}

func (o SearchOptions) filter() index.Filter {
	var fs []index.Filter
	if len(o.Kinds) > 0 {
		fs = append(fs, index.KindFilter(o.Kinds...))
	}
	if o.Filter != nil {
		fs = append(fs, o.Filter)
	}
	switch len(fs) {
	case 0:
		return nil
	case 1:
		return fs[0]
	}
	return allFilter(fs)
}

type allFilter []index.Filter

func (a allFilter) Accept(ctx context.Context, b binding.Binding) (bool, error) {
	for _, f := range a {
		ok, err := f.Accept(ctx, b)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Pagination controls offset+limit paging on list/search results.
type Pagination struct {
	Offset int // skip this many results (default 0)
	Limit  int // max results to return (default 50, max 500)
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// normalize returns a Pagination with defaults applied and bounds enforced.
func (p Pagination) normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// SortField specifies how to order results.
type SortField string

const (
	SortByName SortField = "name"
	SortByKind SortField = "kind"
	SortByFile SortField = "file"
)

// SortOrder specifies ascending or descending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Sort controls result ordering.
type Sort struct {
	Field SortField
	Order SortOrder
}

// PagedResult wraps a page of results with total count for pagination.
type PagedResult[T any] struct {
	Items      []T
	TotalCount int // total matching results (before pagination)
}

func page[T any](items []T, p Pagination) *PagedResult[T] {
	p = p.normalize()
	out := &PagedResult[T]{Items: make([]T, 0), TotalCount: len(items)}
	if p.Offset >= len(items) {
		return out
	}
	end := min(p.Offset+p.Limit, len(items))
	out.Items = append(out.Items, items[p.Offset:end]...)
	return out
}

func sortSymbols(syms []Symbol, s Sort) {
	less := func(a, b Symbol) bool {
		switch s.Field {
		case SortByKind:
			if a.Kind != b.Kind {
				return a.Kind < b.Kind
			}
		case SortByFile:
			if a.Location.File != b.Location.File {
				return a.Location.File < b.Location.File
			}
			if a.Location.Offset != b.Location.Offset {
				return a.Location.Offset < b.Location.Offset
			}
		}
		return a.Qualified < b.Qualified
	}
	sort.SliceStable(syms, func(i, j int) bool {
		if s.Order == Desc {
			return less(syms[j], syms[i])
		}
		return less(syms[i], syms[j])
	})
}

// splitPattern splits a "::" separated pattern into per-segment regular
// expressions. A leading "::" anchors the pattern at the global scope.
func splitPattern(pattern string) ([]*regexp.Regexp, bool, error) {
	whole := strings.HasPrefix(pattern, "::")
	segs := strings.Split(strings.TrimPrefix(pattern, "::"), "::")
	out := make([]*regexp.Regexp, 0, len(segs))
	for _, s := range segs {
		if s == "" {
			return nil, false, fmt.Errorf("pattern %q: empty segment", pattern)
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, false, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		out = append(out, re)
	}
	return out, whole, nil
}

// Bindings finds the bindings whose qualified name matches pattern, a
// "::" separated list of regular expressions each matching one whole
// name segment.
func (q *QueryBuilder) Bindings(ctx context.Context, pattern string, opts SearchOptions, order Sort, p Pagination) (*PagedResult[Symbol], error) {
	pats, whole, err := splitPattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("bindings: %w", err)
	}
	lock := q.index.AcquireReadLock()
	defer lock.Release()

	var bs []binding.Binding
	if opts.Fold {
		bs, err = q.index.FindBindingsFold(ctx, pats, whole || opts.MatchWhole, opts.filter())
	} else {
		bs, err = q.index.FindBindings(ctx, pats, whole || opts.MatchWhole, opts.filter())
	}
	if err != nil {
		return nil, err
	}
	syms := q.symbols(bs)
	sortSymbols(syms, order)
	return page(syms, p), nil
}

// Prefix finds the bindings whose simple name starts with prefix.
func (q *QueryBuilder) Prefix(ctx context.Context, prefix string, opts SearchOptions, order Sort, p Pagination) (*PagedResult[Symbol], error) {
	lock := q.index.AcquireReadLock()
	defer lock.Release()

	var (
		bs  []binding.Binding
		err error
	)
	if opts.Fold {
		bs, err = q.index.FindBindingsForPrefixFold(ctx, prefix, opts.MatchWhole, opts.filter())
	} else {
		bs, err = q.index.FindBindingsForPrefix(ctx, prefix, opts.MatchWhole, opts.filter())
	}
	if err != nil {
		return nil, err
	}
	syms := q.symbols(bs)
	sortSymbols(syms, order)
	return page(syms, p), nil
}

// Names returns the occurrences with a role in roles of every binding
// with the literal qualified name. A leading "::" anchors the name at the
// global scope.
func (q *QueryBuilder) Names(ctx context.Context, name string, roles dom.Role) ([]Occurrence, error) {
	lock := q.index.AcquireReadLock()
	defer lock.Release()

	whole := strings.HasPrefix(name, "::")
	bs, err := q.index.FindBindingsNamed(ctx, strings.TrimPrefix(name, "::"), whole, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Occurrence, 0)
	seen := make(map[string]bool)
	for _, b := range bs {
		occs, err := q.index.FindNames(ctx, b, roles)
		if err != nil {
			return nil, err
		}
		qual := binding.QualifiedString(b)
		for _, o := range occs {
			key := fmt.Sprintf("%s\x00%d\x00%s", o.Location, o.Offset, qual)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Occurrence{
				Location:   q.lines.locate(o.Location, o.Offset, o.Length),
				Symbol:     qual,
				Role:       roleString(o.Role),
				ContextKey: o.ContextKey,
				Project:    o.Fragment.Project(),
				role:       o.Role,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Offset < out[j].Offset
	})
	return out, nil
}

// References returns the references to the bindings named name.
func (q *QueryBuilder) References(ctx context.Context, name string) ([]Occurrence, error) {
	return q.Names(ctx, name, dom.RoleReference)
}

// Declarations returns the declarations and definitions of the bindings
// named name.
func (q *QueryBuilder) Declarations(ctx context.Context, name string) ([]Occurrence, error) {
	return q.Names(ctx, name, dom.RoleDeclaration|dom.RoleDefinition)
}

// Definitions returns the definitions of the bindings named name.
func (q *QueryBuilder) Definitions(ctx context.Context, name string) ([]Occurrence, error) {
	return q.Names(ctx, name, dom.RoleDefinition)
}

// Files returns the file records of location across the index. A header
// parsed under several macro contexts has one record per context.
func (q *QueryBuilder) Files(ctx context.Context, location string) ([]FileInfo, error) {
	lock := q.index.AcquireReadLock()
	defer lock.Release()

	files, err := q.index.GetFiles(ctx, binding.LinkageNone, location)
	if err != nil {
		return nil, err
	}
	return q.fileInfos(ctx, files)
}

// AllFiles returns every file record of the index, by location.
func (q *QueryBuilder) AllFiles(ctx context.Context, p Pagination) (*PagedResult[FileInfo], error) {
	lock := q.index.AcquireReadLock()
	defer lock.Release()

	files, err := q.index.AllFiles(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := q.fileInfos(ctx, files)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Location != infos[j].Location {
			return infos[i].Location < infos[j].Location
		}
		return infos[i].ContextKey < infos[j].ContextKey
	})
	return page(infos, p), nil
}

// Includes returns the include directives of every record of location.
// With reverse set it returns the directives that include location.
func (q *QueryBuilder) Includes(ctx context.Context, location string, reverse bool) ([]IncludeInfo, error) {
	lock := q.index.AcquireReadLock()
	defer lock.Release()

	files, err := q.index.GetFiles(ctx, binding.LinkageNone, location)
	if err != nil {
		return nil, err
	}
	out := make([]IncludeInfo, 0)
	for _, f := range files {
		var incs []*index.Include
		if reverse {
			incs, err = q.index.FindIncludedBy(ctx, f)
		} else {
			incs, err = q.index.FindIncludes(ctx, f)
		}
		if err != nil {
			return nil, err
		}
		for _, inc := range incs {
			out = append(out, IncludeInfo{
				Includer:  inc.File.Location,
				Name:      inc.Name,
				Target:    inc.TargetLocation,
				System:    inc.System,
				Active:    inc.Active,
				Resolved:  inc.Resolved,
				Heuristic: inc.Heuristic,
				Location:  q.lines.locate(inc.File.Location, inc.NameOffset, inc.NameLength),
			})
		}
	}
	return out, nil
}

// Macros returns the macro definitions of every record of location.
func (q *QueryBuilder) Macros(ctx context.Context, location string) ([]MacroInfo, error) {
	lock := q.index.AcquireReadLock()
	defer lock.Release()

	files, err := q.index.GetFiles(ctx, binding.LinkageNone, location)
	if err != nil {
		return nil, err
	}
	out := make([]MacroInfo, 0)
	for _, f := range files {
		ms, err := q.index.Macros(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, m := range ms {
			out = append(out, MacroInfo{
				Name:      m.Name,
				Params:    m.Params,
				Expansion: m.Expansion,
				Undef:     m.Undef,
				Location:  q.lines.locate(f.Location, m.Offset, len(m.Name)),
			})
		}
	}
	return out, nil
}

// Usings returns the namespace scope using statements of every record of
// location.
func (q *QueryBuilder) Usings(ctx context.Context, location string) ([]UsingInfo, error) {
	lock := q.index.AcquireReadLock()
	defer lock.Release()

	files, err := q.index.GetFiles(ctx, binding.LinkageNone, location)
	if err != nil {
		return nil, err
	}
	out := make([]UsingInfo, 0)
	for _, f := range files {
		us, err := q.index.UsingDirectives(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, u := range us {
			out = append(out, UsingInfo{
				Scope:       u.Scope,
				Target:      u.Target,
				Declaration: u.Declaration,
				Location:    q.lines.locate(f.Location, u.Offset, 0),
			})
		}
	}
	return out, nil
}

func (q *QueryBuilder) symbols(bs []binding.Binding) []Symbol {
	out := make([]Symbol, 0, len(bs))
	for _, b := range bs {
		o := b.Origin()
		s := Symbol{
			Name:      b.Name(),
			Qualified: binding.QualifiedString(b),
			Kind:      b.Kind().String(),
			Linkage:   b.Linkage().String(),
			Flags:     b.Flags().Names(),
			Binding:   b,
		}
		if o.File != "" {
			s.Location = q.lines.locate(o.File, o.Offset, len(b.Name()))
		}
		if t := typeOf(b); t != nil {
			s.Type = binding.TypeString(t)
		}
		out = append(out, s)
	}
	return out
}

func (q *QueryBuilder) fileInfos(ctx context.Context, files []*index.File) ([]FileInfo, error) {
	out := make([]FileInfo, 0, len(files))
	for _, f := range files {
		n, err := q.index.InclusionCount(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, fileInfo(f.File, f.Fragment.Project(), n))
	}
	return out, nil
}

func fileInfo(f *store.File, project string, inclusions int) FileInfo {
	return FileInfo{
		Location:   f.Location,
		Linkage:    binding.Linkage(f.Linkage).String(),
		ContextKey: f.ContextKey,
		Hash:       f.Hash,
		Source:     f.IsSource,
		Standalone: f.Standalone,
		PragmaOnce: f.PragmaOnce,
		Guard:      f.Guard,
		Inclusions: inclusions,
		Project:    project,
	}
}

// typeOf returns the declared type of variables, functions and typedefs.
func typeOf(b binding.Binding) binding.Type {
	switch b := b.(type) {
	case *binding.Variable:
		return b.Type
	case *binding.Function:
		if b.Type != nil {
			return b.Type
		}
	case *binding.Typedef:
		return b.Type
	}
	return nil
}

func roleString(r dom.Role) string {
	var parts []string
	if r.Has(dom.RoleDefinition) {
		parts = append(parts, "definition")
	} else if r.Has(dom.RoleDeclaration) {
		parts = append(parts, "declaration")
	}
	if r.Has(dom.RoleReference) {
		parts = append(parts, "reference")
	}
	if r.Has(dom.RoleWrite) {
		parts = append(parts, "write")
	}
	return strings.Join(parts, ",")
}
