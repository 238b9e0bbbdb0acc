package cxxindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.lsp.dev/uri"

	"github.com/jward/cxxindex/internal/config"
	"github.com/jward/cxxindex/internal/discover"
	"github.com/jward/cxxindex/internal/index"
	"github.com/jward/cxxindex/internal/indexer"
	"github.com/jward/cxxindex/internal/preproc"
	"github.com/jward/cxxindex/internal/project"
	"github.com/jward/cxxindex/internal/store"
)

// Engine owns the project registry and one fragment and update
// coordinator per open project.
type Engine struct {
	cfg *config.Config
	log *slog.Logger
	fs  preproc.FS
	reg *project.Registry

	mu   sync.Mutex
	open map[string]*handle // by project id
}

type handle struct {
	frag  *index.Fragment
	coord *indexer.Coordinator
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			c := *cfg
			e.cfg = &c
		}
	}
}

// WithLogger sets the logger of the engine and everything it opens.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithWorkers bounds how many translation units each project parses at
// once.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.cfg.Workers = n }
}

// WithDataDir sets where the registry and fragments are stored.
func WithDataDir(dir string) Option {
	return func(e *Engine) { e.cfg.DataDir = dir }
}

// WithFS sets the file system sources are read from.
func WithFS(fs preproc.FS) Option {
	return func(e *Engine) { e.fs = fs }
}

// New opens the engine on the configured data directory.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:  config.Default(),
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		fs:   preproc.OS(),
		open: make(map[string]*handle),
	}
	for _, o := range opts {
		o(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cxxindex: %w", err)
	}
	reg, err := project.Open(e.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("cxxindex: %w", err)
	}
	e.reg = reg
	return e, nil
}

// Close stops every coordinator and closes every fragment.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for id, h := range e.open {
		h.coord.Close()
		if err := h.frag.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(e.open, id)
	}
	return errors.Join(errs...)
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Projects lists the registered projects.
func (e *Engine) Projects() []*project.Project { return e.reg.List() }

// Project returns a registered project.
func (e *Engine) Project(name string) (*project.Project, error) { return e.reg.Get(name) }

// CreateProject registers a project. Scanner info configured for the name
// applies unless scanner is given.
func (e *Engine) CreateProject(name, location string, references []string, scanner *preproc.ScannerInfo) (*project.Project, error) {
	sc := e.cfg.Scanner(name)
	if scanner != nil {
		sc = *scanner
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("create project %s: %w", name, err)
	}
	p, err := e.reg.Create(name, abs, references, sc)
	if err != nil {
		return nil, err
	}
	e.log.Info("project created", "project", name, "location", abs)
	return p, nil
}

// DeleteProject stops indexing a project and reclaims its fragment. The
// content of a project created later under the same name starts empty.
func (e *Engine) DeleteProject(name string) error {
	p, err := e.reg.Delete(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	h := e.open[p.ID]
	delete(e.open, p.ID)
	e.mu.Unlock()

	var errs []error
	if h != nil {
		h.coord.Close()
		errs = append(errs, h.frag.Close())
	}
	path := e.reg.FragmentPath(p)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	e.log.Info("project deleted", "project", name)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete project %s: %w", name, err)
	}
	return nil
}

// MoveProject changes a project's location. Stored locations under the
// old location are rewritten; bindings and names are kept as they are.
func (e *Engine) MoveProject(ctx context.Context, name, location string) error {
	abs, err := filepath.Abs(location)
	if err != nil {
		return fmt.Errorf("move project %s: %w", name, err)
	}
	h, p, err := e.handle(name)
	if err != nil {
		return err
	}
	// Pending work refers to the old paths.
	if !h.coord.Join(ctx, e.cfg.JoinTimeout) {
		return fmt.Errorf("move project %s: indexer did not finish", name)
	}
	old, err := e.reg.Move(name, abs)
	if err != nil {
		return err
	}
	err = h.frag.Exclusive(func(s *store.Store) error {
		return s.MoveLocations(old.Location, abs, func(loc string) string { return string(uri.File(loc)) })
	})
	if err != nil {
		return fmt.Errorf("move project %s: %w", name, err)
	}
	e.log.Info("project moved", "project", p.Name, "from", old.Location, "to", abs)
	return nil
}

// RenameProject changes a project's name; its content stays.
func (e *Engine) RenameProject(name, newName string) error {
	return e.reg.Rename(name, newName)
}

// SetReferences replaces the projects a project references.
func (e *Engine) SetReferences(name string, references []string) error {
	return e.reg.SetReferences(name, references)
}

// handle opens the fragment and coordinator of a project on first use.
func (e *Engine) handle(name string) (*handle, *project.Project, error) {
	p, err := e.reg.Get(name)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.open[p.ID]; ok {
		return h, p, nil
	}
	log := e.log.With("project", p.Name)
	frag, err := index.OpenFragment(e.reg.FragmentPath(p), p.Name,
		index.WithFragmentLogger(log),
		index.WithMaxDepth(e.cfg.MaxResolutionDepth),
	)
	if err != nil {
		return nil, nil, err
	}
	coord := indexer.New(frag,
		indexer.WithLogger(e.log),
		indexer.WithWorkers(e.cfg.Workers),
		indexer.WithFS(e.fs),
		indexer.WithScanner(p.Scanner),
		indexer.WithResolution(e.cfg.MaxResolutionDepth, e.cfg.AllowRecursionBindings),
		indexer.WithHeaderLinkage(e.cfg.HeaderLinkage()),
		indexer.WithIndexUnusedHeaders(e.cfg.IndexUnusedHeaders),
		indexer.WithHeuristicIncludes(e.cfg.HeuristicIncludeResolution),
		indexer.WithJoinTimeout(e.cfg.JoinTimeout),
	)
	h := &handle{frag: frag, coord: coord}
	e.open[p.ID] = h
	return h, p, nil
}

// Coordinator returns the update coordinator of a project.
func (e *Engine) Coordinator(name string) (*indexer.Coordinator, error) {
	h, _, err := e.handle(name)
	if err != nil {
		return nil, err
	}
	return h.coord, nil
}

// IndexProject discovers the C and C++ files under a project's location
// and schedules them. Unchanged files are skipped by the coordinator.
func (e *Engine) IndexProject(ctx context.Context, name string) error {
	h, p, err := e.handle(name)
	if err != nil {
		return err
	}
	files, err := discover.Discover(ctx, p.Location)
	if err != nil {
		return fmt.Errorf("index project %s: %w", name, err)
	}
	e.log.Info("indexing project", "project", name, "sources", len(files.Sources), "headers", len(files.Headers))
	h.coord.Schedule(files.All()...)
	return nil
}

// Schedule queues files of a project to be reread.
func (e *Engine) Schedule(name string, paths ...string) error {
	h, _, err := e.handle(name)
	if err != nil {
		return err
	}
	h.coord.Schedule(paths...)
	return nil
}

// Update queues new content of one file of a project. Nil content rereads
// the file from disk.
func (e *Engine) Update(name, path string, content []byte) error {
	h, _, err := e.handle(name)
	if err != nil {
		return err
	}
	h.coord.Update(path, content)
	return nil
}

// Remove queues the removal of files of a project.
func (e *Engine) Remove(name string, paths ...string) error {
	h, _, err := e.handle(name)
	if err != nil {
		return err
	}
	h.coord.Remove(paths...)
	return nil
}

// Join waits for every open coordinator to finish its work. It returns
// false when timeout elapses first; a non-positive timeout uses the
// configured one.
func (e *Engine) Join(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = e.cfg.JoinTimeout
	}
	deadline := time.Now().Add(timeout)
	e.mu.Lock()
	coords := make([]*indexer.Coordinator, 0, len(e.open))
	for _, h := range e.open {
		coords = append(coords, h.coord)
	}
	e.mu.Unlock()
	for _, c := range coords {
		left := time.Until(deadline)
		if left <= 0 || !c.Join(ctx, left) {
			return false
		}
	}
	return true
}

// Err returns the errors of the latest update cycle of every open
// project.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, h := range e.open {
		if err := h.coord.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Index returns a read view over the fragments of a project and the
// projects opt adds. Queries on it need a read lock.
func (e *Engine) Index(name string, opt project.DependencyOption) (*index.Index, error) {
	ps, err := e.reg.Closure(name, opt)
	if err != nil {
		return nil, err
	}
	frags := make([]*index.Fragment, 0, len(ps))
	for _, p := range ps {
		h, _, err := e.handle(p.Name)
		if err != nil {
			return nil, err
		}
		frags = append(frags, h.frag)
	}
	return index.New(frags, index.WithLogger(e.log)), nil
}

// Query returns the query API over a project's index.
func (e *Engine) Query(name string, opt project.DependencyOption) (*QueryBuilder, error) {
	x, err := e.Index(name, opt)
	if err != nil {
		return nil, err
	}
	return newQueryBuilder(x, e.fs), nil
}
