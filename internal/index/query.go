package index

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/store"
)

// File is a file record of one fragment.
type File struct {
	*store.File
	Fragment *Fragment
}

// Include is an include directive of a file record. File is the includer.
type Include struct {
	*store.Include
	File *File
}

// Occurrence is a name bound to a binding.
type Occurrence struct {
	Fragment   *Fragment
	FileID     int64
	Location   string
	ContextKey string
	Offset     int
	Length     int
	Role       dom.Role
}

// FindBindings returns the bindings whose qualified name matches patterns.
// Each pattern must match one name segment completely. A single pattern
// matches the simple name in any scope; several patterns match the
// trailing segments, or the whole path when matchWhole is set.
func (x *Index) FindBindings(ctx context.Context, patterns []*regexp.Regexp, matchWhole bool, filter Filter) ([]binding.Binding, error) {
	return x.findBindings(ctx, patterns, matchWhole, false, filter)
}

// FindBindingsFold is FindBindings ignoring case.
func (x *Index) FindBindingsFold(ctx context.Context, patterns []*regexp.Regexp, matchWhole bool, filter Filter) ([]binding.Binding, error) {
	return x.findBindings(ctx, patterns, matchWhole, true, filter)
}

// FindBindingsNamed is FindBindings for literal "::"-separated names.
func (x *Index) FindBindingsNamed(ctx context.Context, name string, matchWhole bool, filter Filter) ([]binding.Binding, error) {
	segs := strings.Split(name, "::")
	pats := make([]*regexp.Regexp, len(segs))
	for i, s := range segs {
		pats[i] = regexp.MustCompile(regexp.QuoteMeta(s))
	}
	return x.FindBindings(ctx, pats, matchWhole, filter)
}

func (x *Index) findBindings(ctx context.Context, patterns []*regexp.Regexp, matchWhole, fold bool, filter Filter) ([]binding.Binding, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return []binding.Binding{}, nil
	}
	anchored, err := anchor(patterns, fold)
	if err != nil {
		return nil, err
	}
	last := patterns[len(patterns)-1]
	literal, complete := last.LiteralPrefix()

	var m merger[binding.Binding]
	for _, f := range x.frags {
		var rows []*store.Binding
		switch {
		case complete && fold:
			rows, err = f.store.BindingsByNameFold(literal)
		case complete:
			rows, err = f.store.BindingsByName(literal)
		default:
			rows, err = f.store.AllBindings()
		}
		if err != nil {
			return nil, fmt.Errorf("find bindings: %w", err)
		}
		for _, row := range rows {
			if !visible(row) || !matchPath(anchored, splitQualified(row.Qualified), matchWhole) {
				continue
			}
			if err := x.collect(ctx, &m, f, row, filter); err != nil {
				return nil, err
			}
		}
	}
	return m.result(), nil
}

// FindBindingsQualified returns the bindings with exactly the given
// qualified name.
func (x *Index) FindBindingsQualified(ctx context.Context, segments []string, filter Filter) ([]binding.Binding, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	var m merger[binding.Binding]
	for _, f := range x.frags {
		rows, err := f.store.BindingsByQualified(strings.Join(segments, "::"))
		if err != nil {
			return nil, fmt.Errorf("find bindings: %w", err)
		}
		for _, row := range rows {
			if !visible(row) {
				continue
			}
			if err := x.collect(ctx, &m, f, row, filter); err != nil {
				return nil, err
			}
		}
	}
	return m.result(), nil
}

// FindBindingsForPrefix returns the bindings whose simple name starts with
// prefix. With topLevel only namespace-scope bindings are returned.
func (x *Index) FindBindingsForPrefix(ctx context.Context, prefix string, topLevel bool, filter Filter) ([]binding.Binding, error) {
	return x.findPrefix(ctx, prefix, topLevel, false, filter)
}

// FindBindingsForPrefixFold is FindBindingsForPrefix ignoring case.
func (x *Index) FindBindingsForPrefixFold(ctx context.Context, prefix string, topLevel bool, filter Filter) ([]binding.Binding, error) {
	return x.findPrefix(ctx, prefix, topLevel, true, filter)
}

func (x *Index) findPrefix(ctx context.Context, prefix string, topLevel, fold bool, filter Filter) ([]binding.Binding, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	var m merger[binding.Binding]
	for _, f := range x.frags {
		var (
			rows []*store.Binding
			err  error
		)
		if fold {
			rows, err = f.store.BindingsByPrefixFold(prefix, topLevel)
		} else {
			rows, err = f.store.BindingsByPrefix(prefix, topLevel)
		}
		if err != nil {
			return nil, fmt.Errorf("find bindings for prefix: %w", err)
		}
		for _, row := range rows {
			if !visible(row) {
				continue
			}
			if err := x.collect(ctx, &m, f, row, filter); err != nil {
				return nil, err
			}
		}
	}
	return m.result(), nil
}

// visible reports whether a row is returned by name queries. Parameters,
// specializations and instances are reached through their owners.
func visible(row *store.Binding) bool {
	return row.Scope != noScope
}

func (x *Index) collect(ctx context.Context, m *merger[binding.Binding], f *Fragment, row *store.Binding, filter Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := f.Binding(row.ID)
	if err != nil {
		return fmt.Errorf("find bindings: %w", err)
	}
	if filter != nil {
		ok, err := filter.Accept(ctx, b)
		if err != nil {
			return fmt.Errorf("find bindings: filter: %w", err)
		}
		if !ok {
			return nil
		}
	}
	m.add(row.Identity(), b, func(old *binding.Binding) {
		if preferred(b, *old) {
			*old = b
		}
	})
	return nil
}

func anchor(patterns []*regexp.Regexp, fold bool) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		src := "^(?:" + p.String() + ")$"
		if fold {
			src = "(?i)" + src
		}
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("find bindings: pattern %q: %w", p.String(), err)
		}
		out[i] = re
	}
	return out, nil
}

func splitQualified(q string) []string {
	if q == "" {
		return []string{""}
	}
	return strings.Split(q, "::")
}

// matchPath matches patterns against the trailing segments of path, or
// against all of it when whole is set.
func matchPath(patterns []*regexp.Regexp, path []string, whole bool) bool {
	if len(path) < len(patterns) || (whole && len(path) != len(patterns)) {
		return false
	}
	off := len(path) - len(patterns)
	for i, p := range patterns {
		if !p.MatchString(path[off+i]) {
			return false
		}
	}
	return true
}

// FindNames returns the occurrences of b whose role intersects roles, in
// location and offset order.
func (x *Index) FindNames(ctx context.Context, b binding.Binding, roles dom.Role) ([]Occurrence, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	out := make([]Occurrence, 0)
	seen := make(map[string]bool)
	for _, f := range x.frags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, err := f.lookupRow(b)
		if err != nil {
			return nil, fmt.Errorf("find names: %w", err)
		}
		if id == 0 {
			continue
		}
		locs, err := f.store.NamesOf(id, int(roles))
		if err != nil {
			return nil, fmt.Errorf("find names: %w", err)
		}
		for _, l := range locs {
			key := fmt.Sprintf("%s\x00%s\x00%d", l.Location, l.ContextKey, l.Name.Offset)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Occurrence{
				Fragment:   f,
				FileID:     l.Name.FileID,
				Location:   l.Location,
				ContextKey: l.ContextKey,
				Offset:     l.Name.Offset,
				Length:     l.Name.Length,
				Role:       dom.Role(l.Name.Role),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Offset < out[j].Offset
	})
	return out, nil
}

// FindReferences returns the references to b.
func (x *Index) FindReferences(ctx context.Context, b binding.Binding) ([]Occurrence, error) {
	return x.FindNames(ctx, b, dom.RoleReference)
}

// FindDeclarations returns the declarations and definitions of b.
func (x *Index) FindDeclarations(ctx context.Context, b binding.Binding) ([]Occurrence, error) {
	return x.FindNames(ctx, b, dom.RoleDeclaration|dom.RoleDefinition)
}

// FindDefinitions returns the definitions of b.
func (x *Index) FindDefinitions(ctx context.Context, b binding.Binding) ([]Occurrence, error) {
	return x.FindNames(ctx, b, dom.RoleDefinition)
}

// GetFiles returns the file records of location. Linkage 0 matches any
// linkage.
func (x *Index) GetFiles(ctx context.Context, linkage binding.Linkage, location string) ([]*File, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	out := make([]*File, 0)
	for _, f := range x.frags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := f.store.FilesAt(int(linkage), location)
		if err != nil {
			return nil, fmt.Errorf("get files: %w", err)
		}
		for _, file := range files {
			out = append(out, &File{File: file, Fragment: f})
		}
	}
	return out, nil
}

// GetFile returns the single file record of location, or nil when there
// is none. More than one record yields ErrMultipleFragments.
func (x *Index) GetFile(ctx context.Context, linkage binding.Linkage, location string) (*File, error) {
	files, err := x.GetFiles(ctx, linkage, location)
	if err != nil {
		return nil, err
	}
	switch len(files) {
	case 0:
		return nil, nil
	case 1:
		return files[0], nil
	}
	return nil, fmt.Errorf("get file %s: %d records: %w", location, len(files), ErrMultipleFragments)
}

// AllFiles returns every file record.
func (x *Index) AllFiles(ctx context.Context) ([]*File, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	out := make([]*File, 0)
	for _, f := range x.frags {
		files, err := f.store.AllFiles()
		if err != nil {
			return nil, fmt.Errorf("all files: %w", err)
		}
		for _, file := range files {
			out = append(out, &File{File: file, Fragment: f})
		}
	}
	return out, nil
}

// FindIncludes returns the include directives of file in textual order.
func (x *Index) FindIncludes(ctx context.Context, file *File) ([]*Include, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	incs, err := file.Fragment.store.IncludesOf(file.ID)
	if err != nil {
		return nil, fmt.Errorf("find includes: %w", err)
	}
	out := make([]*Include, 0, len(incs))
	for _, inc := range incs {
		out = append(out, &Include{Include: inc, File: file})
	}
	return out, nil
}

// FindIncludedBy returns the directives that include file, with their
// includer records.
func (x *Index) FindIncludedBy(ctx context.Context, file *File) ([]*Include, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	s := file.Fragment.store
	incs, err := s.IncludedBy(file.ID)
	if err != nil {
		return nil, fmt.Errorf("find included by: %w", err)
	}
	out := make([]*Include, 0, len(incs))
	for _, inc := range incs {
		includer, err := s.FileByID(inc.FileID)
		if err != nil {
			return nil, fmt.Errorf("find included by: %w", err)
		}
		if includer == nil {
			continue
		}
		out = append(out, &Include{Include: inc, File: &File{File: includer, Fragment: file.Fragment}})
	}
	return out, nil
}

// Macros returns the macro definitions and undefs of file in textual
// order.
func (x *Index) Macros(ctx context.Context, file *File) ([]*store.Macro, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	ms, err := file.Fragment.store.MacrosOf(file.ID)
	if err != nil {
		return nil, fmt.Errorf("macros: %w", err)
	}
	if ms == nil {
		ms = []*store.Macro{}
	}
	return ms, nil
}

// UsingDirectives returns the namespace scope using statements of file.
func (x *Index) UsingDirectives(ctx context.Context, file *File) ([]*store.Using, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	us, err := file.Fragment.store.UsingsOf(file.ID)
	if err != nil {
		return nil, fmt.Errorf("using directives: %w", err)
	}
	if us == nil {
		us = []*store.Using{}
	}
	return us, nil
}

// InclusionCount returns how many include directives resolve to file.
func (x *Index) InclusionCount(ctx context.Context, file *File) (int, error) {
	if err := x.checkLock(); err != nil {
		return 0, err
	}
	return file.Fragment.store.InclusionCount(file.ID)
}
