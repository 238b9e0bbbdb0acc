package index

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/resolve"
	"github.com/jward/cxxindex/internal/store"
	"github.com/jward/cxxindex/internal/template"
)

// DefaultCacheSize is the number of materialised bindings kept per fragment.
const DefaultCacheSize = 4096

// Fragment is the index database of one project. Reads and commits are
// serialised by a read-write lock: a commit waits for every read lock
// holder and readers wait for a running commit.
type Fragment struct {
	store   *store.Store
	id      string
	project string
	log     *slog.Logger
	compat  error
	warned  sync.Once

	lockMu  sync.Mutex
	commit  sync.RWMutex
	readers int

	// matMu serialises materialisation, which shares the cache.
	matMu sync.Mutex
	cache *lru.Cache[int64, binding.Binding]
	tmpl  *template.Cache
	gen   atomic.Uint64
}

// FragmentOption configures a Fragment.
type FragmentOption func(*fragmentConfig)

type fragmentConfig struct {
	log       *slog.Logger
	cacheSize int
	maxDepth  int
}

// WithFragmentLogger sets the logger of a fragment.
func WithFragmentLogger(l *slog.Logger) FragmentOption {
	return func(c *fragmentConfig) { c.log = l }
}

// WithCacheSize sets how many materialised bindings are cached.
func WithCacheSize(n int) FragmentOption {
	return func(c *fragmentConfig) { c.cacheSize = n }
}

// WithMaxDepth bounds nested template instantiation while materialising
// instances.
func WithMaxDepth(n int) FragmentOption {
	return func(c *fragmentConfig) { c.maxDepth = n }
}

// OpenFragment opens or creates the fragment database at path. A fragment
// written in an incompatible format is opened read-only in effect: it is
// not migrated and every composite index skips it.
func OpenFragment(path, project string, opts ...FragmentOption) (*Fragment, error) {
	cfg := fragmentConfig{cacheSize: DefaultCacheSize}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.log == nil {
		cfg.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s, err := store.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("open fragment %s: %w", path, err)
	}
	f := &Fragment{store: s, project: project, log: cfg.log}

	ok, err := s.Initialized()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open fragment %s: %w", path, err)
	}
	if ok {
		f.compat = s.CheckFormat()
	}
	if f.compat == nil {
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("open fragment %s: %w", path, err)
		}
	}
	if f.id, err = s.FragmentID(); err != nil {
		s.Close()
		return nil, fmt.Errorf("open fragment %s: %w", path, err)
	}
	if f.id == "" {
		f.id = path
	}

	f.cache, err = lru.New[int64, binding.Binding](max(cfg.cacheSize, 16))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open fragment %s: %w", path, err)
	}
	f.tmpl = template.New(
		template.WithEvaluator(resolve.DefaultEvaluator),
		template.WithRecords(f),
		template.WithMaxDepth(cfg.maxDepth),
		template.WithLogger(cfg.log),
	)
	return f, nil
}

// Close closes the database.
func (f *Fragment) Close() error { return f.store.Close() }

// ID is the stable fragment id, distinct from the format version.
func (f *Fragment) ID() string { return f.id }

// Project is the name of the project the fragment belongs to.
func (f *Fragment) Project() string { return f.project }

// Store exposes the data access layer to the update coordinator.
func (f *Fragment) Store() *store.Store { return f.store }

// Templates is the instantiation cache resolution against this fragment
// shares. It is purged on every commit.
func (f *Fragment) Templates() *template.Cache { return f.tmpl }

// Compatible returns nil when the fragment's format version is readable.
func (f *Fragment) Compatible() error { return f.compat }

// Generation counts commits; materialised bindings are valid for one
// generation.
func (f *Fragment) Generation() uint64 { return f.gen.Load() }

func (f *Fragment) warnIncompatible(log *slog.Logger) {
	f.warned.Do(func() {
		log.Warn("skipping incompatible fragment", "project", f.project, "fragment", f.store.Path(), "err", f.compat)
	})
}

// rlock acquires a shared lock. Nested acquisitions only count, so a
// holder never blocks on a pending commit.
func (f *Fragment) rlock() {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	if f.readers == 0 {
		f.commit.RLock()
	}
	f.readers++
}

func (f *Fragment) runlock() {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	f.readers--
	if f.readers == 0 {
		f.commit.RUnlock()
	}
}

// Commit applies one translation unit's batch in a single transaction
// while holding the exclusive lock, then drops every cached binding.
func (f *Fragment) Commit(batch *store.BatchedStore) error {
	f.commit.Lock()
	defer f.commit.Unlock()
	if _, err := f.store.CommitBatch(batch); err != nil {
		return err
	}
	f.invalidate()
	return nil
}

// Exclusive runs fn with the exclusive lock held and invalidates caches
// afterwards. Maintenance such as orphan sweeps and moves goes through it.
func (f *Fragment) Exclusive(fn func(s *store.Store) error) error {
	f.commit.Lock()
	defer f.commit.Unlock()
	defer f.invalidate()
	return fn(f.store)
}

func (f *Fragment) invalidate() {
	f.matMu.Lock()
	f.cache.Purge()
	f.matMu.Unlock()
	f.tmpl.Purge()
	f.gen.Add(1)
}

// InstanceRecord returns the persisted record of an instance of tmpl.
func (f *Fragment) InstanceRecord(tmpl binding.Binding, argsKey string) (binding.Record, bool) {
	rec := tmpl.Record()
	if rec.Fragment != f.id || rec.ID <= 0 {
		return binding.Record{}, false
	}
	in, err := f.store.InstanceOf(rec.ID, argsKey)
	if err != nil || in == nil {
		return binding.Record{}, false
	}
	return binding.Record{Fragment: f.id, ID: in.InstanceID}, true
}

// Binding materialises the binding stored under id.
func (f *Fragment) Binding(id int64) (binding.Binding, error) {
	f.matMu.Lock()
	defer f.matMu.Unlock()
	l := &loader{f: f, pending: make(map[int64]binding.Binding)}
	b, err := l.load(id)
	if err != nil {
		for pid := range l.pending {
			f.cache.Remove(pid)
		}
		return nil, err
	}
	return b, nil
}

// lookupRow returns the own row of a binding: its record when it was
// materialised from this fragment, else the row stored under its
// identity.
func (f *Fragment) lookupRow(b binding.Binding) (int64, error) {
	if rec := b.Record(); rec.Fragment == f.id && rec.ID > 0 {
		return rec.ID, nil
	}
	row, err := f.store.BindingByIdentity(binding.EntityKeyOf(b), originOf(b))
	if err != nil || row == nil {
		return 0, err
	}
	return row.ID, nil
}

func originOf(b binding.Binding) string {
	if b.Kind() == binding.KindNamespace {
		return ""
	}
	return b.Origin().File
}
