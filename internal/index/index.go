// Package index merges the fragments of several projects into one
// queryable index. Bindings and names are merged across fragments by
// identity; every query requires a held read lock.
package index

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/dom"
	"github.com/jward/cxxindex/internal/resolve"
	"github.com/jward/cxxindex/internal/store"
)

var (
	// ErrNoReadLock is returned by queries made without a held read lock.
	ErrNoReadLock = errors.New("index: read lock not held")
	// ErrMultipleFragments is returned by GetFile when more than one file
	// record matches.
	ErrMultipleFragments = errors.New("index: file has records in several fragments or contexts")
)

// declaringRoles selects the occurrences that declare or define a binding.
const declaringRoles = int(dom.RoleDeclaration | dom.RoleDefinition)

// Index is a read view over fragments.
type Index struct {
	frags   []*Fragment
	log     *slog.Logger
	readers atomic.Int32
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Index) {
		if l != nil {
			x.log = l
		}
	}
}

// New returns an index over frags. Fragments in an incompatible format
// are left out; each is logged once for its lifetime.
func New(frags []*Fragment, opts ...Option) *Index {
	x := &Index{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, o := range opts {
		o(x)
	}
	for _, f := range frags {
		if f.Compatible() != nil {
			f.warnIncompatible(x.log)
			continue
		}
		x.frags = append(x.frags, f)
	}
	return x
}

// Fragments returns the fragments the index reads.
func (x *Index) Fragments() []*Fragment { return x.frags }

// ReadLock is a held read lock. Release it exactly once.
type ReadLock struct {
	x    *Index
	once sync.Once
}

// AcquireReadLock blocks until no commit runs in any fragment and returns
// a lock that keeps commits out until released. Locks nest.
func (x *Index) AcquireReadLock() *ReadLock {
	for _, f := range x.frags {
		f.rlock()
	}
	x.readers.Add(1)
	return &ReadLock{x: x}
}

// ReleaseReadLock releases l. Releasing twice is a no-op.
func (x *Index) ReleaseReadLock(l *ReadLock) {
	if l != nil {
		l.Release()
	}
}

// Release releases the lock.
func (l *ReadLock) Release() {
	l.once.Do(func() {
		l.x.readers.Add(-1)
		for _, f := range l.x.frags {
			f.runlock()
		}
	})
}

func (x *Index) checkLock() error {
	if x.readers.Load() <= 0 {
		return ErrNoReadLock
	}
	return nil
}

// Lookup implements resolve.Index. Friend-only declarations are not
// visible to ordinary lookup.
func (x *Index) Lookup(ctx context.Context, scopeKey, name string) ([]resolve.Candidate, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	var m merger[resolve.Candidate]
	for _, f := range x.frags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scopes, err := inlineScopes(f.store, scopeKey)
		if err != nil {
			return nil, err
		}
		for _, sc := range scopes {
			rows, err := f.store.BindingsInScope(sc, name)
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				if binding.Flags(row.Flags).Has(binding.FlagFriendOnly) {
					continue
				}
				b, err := f.Binding(row.ID)
				if err != nil {
					return nil, err
				}
				locs, err := f.store.NamesOf(row.ID, declaringRoles)
				if err != nil {
					return nil, err
				}
				c := resolve.Candidate{Binding: b}
				for _, l := range locs {
					c.Sites = append(c.Sites, resolve.Site{Location: l.Location, ContextKey: l.ContextKey, Offset: l.Name.Offset})
				}
				m.add(row.Identity(), c, func(old *resolve.Candidate) {
					old.Sites = append(old.Sites, c.Sites...)
					if preferred(c.Binding, old.Binding) {
						old.Binding = c.Binding
					}
				})
			}
		}
	}
	return m.result(), nil
}

// inlineScopes returns scope and the keys of the inline namespaces nested
// in it, transitively.
func inlineScopes(s *store.Store, scope string) ([]string, error) {
	out := []string{scope}
	for i := 0; i < len(out); i++ {
		rows, err := s.InlineNamespaces(out[i])
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			seg := r.Name
			if seg == "" {
				seg = "{anon}"
			}
			if out[i] != "" {
				seg = out[i] + "::" + seg
			}
			out = append(out, seg)
		}
	}
	return out, nil
}

// Usings implements resolve.Index.
func (x *Index) Usings(ctx context.Context, location, contextKey string) ([]resolve.Using, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	for _, f := range x.frags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := f.store.FilesAt(0, location)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			if file.ContextKey != contextKey {
				continue
			}
			us, err := f.store.UsingsOf(file.ID)
			if err != nil {
				return nil, err
			}
			out := make([]resolve.Using, 0, len(us))
			for _, u := range us {
				out = append(out, resolve.Using{Scope: u.Scope, Target: u.Target, Offset: u.Offset, Declaration: u.Declaration})
			}
			return out, nil
		}
	}
	return []resolve.Using{}, nil
}

// InstanceRecord implements template.Records for the resolver's cache.
func (x *Index) InstanceRecord(tmpl binding.Binding, argsKey string) (binding.Record, bool) {
	frag := tmpl.Record().Fragment
	for _, f := range x.frags {
		if f.id == frag {
			return f.InstanceRecord(tmpl, argsKey)
		}
	}
	return binding.Record{}, false
}

// AdaptBinding returns the index binding with the identity of b, which may
// be an AST-local binding of an already indexed translation unit. It
// returns (nil, nil) when no fragment stores it.
func (x *Index) AdaptBinding(ctx context.Context, b binding.Binding) (binding.Binding, error) {
	if err := x.checkLock(); err != nil {
		return nil, err
	}
	if b == nil || binding.IsProblem(b) {
		return nil, nil
	}
	if rec := b.Record(); !rec.IsZero() {
		for _, f := range x.frags {
			if f.id == rec.Fragment {
				return f.Binding(rec.ID)
			}
		}
	}
	var found binding.Binding
	for _, f := range x.frags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := f.store.BindingByIdentity(binding.EntityKeyOf(b), originOf(b))
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		ib, err := f.Binding(row.ID)
		if err != nil {
			return nil, err
		}
		if found == nil || preferred(ib, found) {
			found = ib
		}
	}
	return found, nil
}

// preferred reports whether a should replace b as the representative of
// one entity: a complete class wins over a forward declaration.
func preferred(a, b binding.Binding) bool {
	ca, ok := a.(binding.Class)
	if !ok {
		return false
	}
	cb, ok := b.(binding.Class)
	return ok && ca.Body().Complete && !cb.Body().Complete
}

// merger collects values keyed by identity in first-seen order.
type merger[T any] struct {
	out  []T
	keys map[string]int
}

func (m *merger[T]) add(key string, v T, merge func(old *T)) {
	if m.keys == nil {
		m.keys = make(map[string]int)
		m.out = make([]T, 0)
	}
	if i, ok := m.keys[key]; ok {
		if merge != nil {
			merge(&m.out[i])
		}
		return
	}
	m.keys[key] = len(m.out)
	m.out = append(m.out, v)
}

func (m *merger[T]) result() []T {
	if m.out == nil {
		return make([]T, 0)
	}
	return m.out
}

var _ resolve.Index = (*Index)(nil)
