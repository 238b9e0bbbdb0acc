// Package indexer keeps one fragment up to date with file changes.
//
// A Coordinator collects scheduled changes and processes them in cycles:
//
//	Plan (serial):      hash check, removals, affected translation units.
//	Parse (parallel):   preprocess, parse, resolve and emit per unit.
//	Commit (serial):    one transaction per unit, then an orphan sweep.
//
// Readers holding a read lock keep seeing the state before a commit until
// they release it.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/index"
	"github.com/jward/cxxindex/internal/preproc"
	"github.com/jward/cxxindex/internal/store"
)

// DefaultJoinTimeout bounds Join when no timeout is given.
const DefaultJoinTimeout = 30 * time.Second

// State is the phase of the update cycle.
type State int32

const (
	Idle State = iota
	Scheduled
	Reparsing
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Reparsing:
		return "reparsing"
	case Committing:
		return "committing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// change is the latest scheduled change of one location. Later changes
// replace earlier ones.
type change struct {
	remove bool
	force  bool
}

// Coordinator applies file changes to a fragment.
type Coordinator struct {
	frag *index.Fragment
	log  *slog.Logger
	cfg  settings

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   map[string]change
	overlay   map[string][]byte
	known     map[string]bool
	running   bool
	postponed bool
	quiet     chan struct{}
	closed    bool // quiet is closed
	lastErr   error
	done      sync.WaitGroup

	state atomic.Int32
}

// New returns a coordinator writing to frag. It starts idle.
func New(frag *index.Fragment, opts ...Option) *Coordinator {
	c := &Coordinator{
		frag:    frag,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:     defaultSettings(),
		pending: make(map[string]change),
		overlay: make(map[string][]byte),
		known:   make(map[string]bool),
		quiet:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.cfg.workers < 1 {
		c.cfg.workers = runtime.NumCPU()
	}
	if c.cfg.fs == nil {
		c.cfg.fs = preproc.OS()
	}
	c.log = c.log.With("project", frag.Project())
	c.ctx, c.cancel = context.WithCancel(context.Background())
	close(c.quiet)
	c.closed = true
	return c
}

// Fragment returns the fragment the coordinator writes.
func (c *Coordinator) Fragment() *index.Fragment { return c.frag }

// State returns the current phase.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Schedule queues paths to be reread from the file system. Content set
// with Update is dropped.
func (c *Coordinator) Schedule(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		p = filepath.Clean(p)
		delete(c.overlay, p)
		c.queueLocked(p, change{})
	}
	c.kickLocked()
}

// Update queues a change of path to content. The content replaces the
// file system copy until the path is scheduled again. Nil content drops
// the replacement and rereads the file like Schedule; an empty file is
// an empty non-nil slice.
func (c *Coordinator) Update(path string, content []byte) {
	if content == nil {
		c.Schedule(path)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	path = filepath.Clean(path)
	c.overlay[path] = append([]byte{}, content...)
	c.queueLocked(path, change{})
	c.kickLocked()
}

// Remove queues the removal of every record of paths.
func (c *Coordinator) Remove(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		p = filepath.Clean(p)
		delete(c.overlay, p)
		delete(c.known, p)
		c.pending[p] = change{remove: true}
	}
	c.setStateLocked()
	c.kickLocked()
}

// Rebuild queues every indexed translation unit and standalone header for
// reparsing regardless of content hashes.
func (c *Coordinator) Rebuild() error {
	files, err := c.frag.Store().AllFiles()
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range files {
		if f.IsSource || f.Standalone {
			c.queueLocked(f.Location, change{force: true})
		}
	}
	c.kickLocked()
	return nil
}

func (c *Coordinator) queueLocked(path string, ch change) {
	c.known[path] = true
	if old, ok := c.pending[path]; ok {
		ch.force = ch.force || old.force
	}
	c.pending[path] = ch
	c.setStateLocked()
}

func (c *Coordinator) setStateLocked() {
	if !c.running && len(c.pending) > 0 {
		c.state.Store(int32(Scheduled))
	}
}

// Postpone holds scheduled work back until Resume. Join does not report
// completion while setup is postponed.
func (c *Coordinator) Postpone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postponed = true
	c.signalLocked()
}

// Resume releases work held back by Postpone.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postponed = false
	c.kickLocked()
}

// Postponed reports whether setup is postponed.
func (c *Coordinator) Postponed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.postponed
}

// Join waits until no work is pending or running and setup is not
// postponed. It returns false when timeout elapses or ctx ends first. A
// non-positive timeout uses the configured join timeout.
func (c *Coordinator) Join(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = c.cfg.joinTimeout
	}
	c.mu.Lock()
	quiet := c.quiet
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-quiet:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Err returns the errors of the most recent cycle, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close cancels running work and waits for it to stop. Pending changes
// are dropped.
func (c *Coordinator) Close() {
	c.cancel()
	c.done.Wait()
	c.mu.Lock()
	c.pending = make(map[string]change)
	c.signalLocked()
	c.mu.Unlock()
}

func (c *Coordinator) kickLocked() {
	if c.running || c.postponed || len(c.pending) == 0 || c.ctx.Err() != nil {
		c.signalLocked()
		return
	}
	c.running = true
	c.signalLocked()
	c.done.Add(1)
	go c.loop()
}

// signalLocked keeps quiet closed exactly while nothing is pending,
// running or postponed.
func (c *Coordinator) signalLocked() {
	quiet := !c.running && !c.postponed && len(c.pending) == 0
	switch {
	case quiet && !c.closed:
		close(c.quiet)
		c.closed = true
	case !quiet && c.closed:
		c.quiet = make(chan struct{})
		c.closed = false
	}
}

func (c *Coordinator) loop() {
	defer c.done.Done()
	for {
		c.mu.Lock()
		if c.postponed || len(c.pending) == 0 || c.ctx.Err() != nil {
			if c.ctx.Err() != nil {
				c.pending = make(map[string]change)
			}
			c.running = false
			c.state.Store(int32(Idle))
			c.setStateLocked()
			c.signalLocked()
			c.mu.Unlock()
			return
		}
		changes := c.pending
		c.pending = make(map[string]change)
		snap := make(map[string][]byte, len(c.overlay))
		for k, v := range c.overlay {
			snap[k] = v
		}
		known := make([]string, 0, len(c.known))
		for k := range c.known {
			known = append(known, k)
		}
		c.state.Store(int32(Reparsing))
		c.mu.Unlock()

		err := c.cycle(c.ctx, changes, overlayFS{base: c.cfg.fs, files: snap}, known)
		if err != nil {
			c.log.Warn("update cycle failed", "err", err)
		}
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
	}
}

// unit is one translation unit to reparse.
type unit struct {
	location   string
	linkage    binding.Linkage
	standalone bool
}

// parsed is the outcome of reparsing one unit.
type parsed struct {
	unit      unit
	locations []string
	batch     *store.BatchedStore
	err       error
}

func (c *Coordinator) cycle(ctx context.Context, changes map[string]change, fs overlayFS, known []string) error {
	units, unused, removed, planErr := c.plan(ctx, changes, fs)
	if err := ctx.Err(); err != nil {
		return err
	}
	heuristic, err := c.heuristic(known)
	if err != nil {
		return err
	}

	// Changes that could be planned are still indexed.
	committed, errs := c.run(ctx, units, fs, heuristic)
	if planErr != nil {
		errs = append(errs, planErr)
	}

	// Headers nobody included before this cycle are indexed on their own
	// only if the units just committed did not include them either.
	if len(unused) > 0 {
		var standalone []unit
		for _, loc := range unused {
			affected, err := c.frag.Store().AffectedUnits(loc)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if len(without(affected, loc)) == 0 {
				standalone = append(standalone, unit{location: loc, linkage: c.cfg.headerLinkage, standalone: true})
			}
		}
		n, more := c.run(ctx, standalone, fs, heuristic)
		committed += n
		errs = append(errs, more...)
	}

	if committed > 0 || removed > 0 {
		c.state.Store(int32(Committing))
		err := c.frag.Exclusive(func(s *store.Store) error {
			n, err := s.SweepOrphans()
			if n > 0 {
				c.log.Debug("swept orphaned file records", "count", n)
			}
			return err
		})
		c.state.Store(int32(Reparsing))
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("update had %d error(s): %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// run parses units in parallel and commits them serially, one transaction
// per unit.
func (c *Coordinator) run(ctx context.Context, units []unit, fs overlayFS, heuristic func(string) (string, bool)) (int, []error) {
	if len(units) == 0 {
		return 0, nil
	}
	// Each worker reads under its own read lock.
	results := make(chan parsed, len(units))
	var g errgroup.Group
	g.SetLimit(c.cfg.workers)
	go func() {
		for _, u := range units {
			g.Go(func() error {
				results <- c.reparse(ctx, u, fs, heuristic)
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	// A batch emitted before an earlier commit of the same run may refer
	// to rows that commit removed; such units are reparsed once more
	// against the new state.
	var errs []error
	var retry []unit
	committed := 0
	for p := range results {
		ok, err := c.commit(p)
		switch {
		case err != nil && p.err == nil:
			retry = append(retry, p.unit)
		case err != nil:
			errs = append(errs, err)
		case ok:
			committed++
		}
	}
	for _, u := range retry {
		ok, err := c.commit(c.reparse(ctx, u, fs, heuristic))
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			committed++
		}
	}
	return committed, errs
}

// commit writes one parsed unit. It reports false without error when the
// unit was superseded.
func (c *Coordinator) commit(p parsed) (bool, error) {
	if p.err != nil {
		c.log.Warn("indexing failed", "tu", p.unit.location, "err", p.err)
		return false, fmt.Errorf("index %s: %w", p.unit.location, p.err)
	}
	if c.superseded(p.locations) {
		c.log.Debug("superseded, not committing", "tu", p.unit.location)
		return false, nil
	}
	c.state.Store(int32(Committing))
	defer c.state.Store(int32(Reparsing))
	if err := c.frag.Commit(p.batch); err != nil {
		c.log.Warn("commit failed", "tu", p.unit.location, "err", err)
		return false, fmt.Errorf("commit %s: %w", p.unit.location, err)
	}
	return true, nil
}

// superseded reports whether any location read by a unit was scheduled
// again while it was parsed; the next cycle indexes the latest content.
func (c *Coordinator) superseded(locations []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, loc := range locations {
		if _, ok := c.pending[loc]; ok {
			return true
		}
	}
	return false
}

// plan turns changes into the units to reparse and the changed headers
// without includers. Unchanged content is skipped; removals are applied
// directly.
func (c *Coordinator) plan(ctx context.Context, changes map[string]change, fs overlayFS) ([]unit, []string, int, error) {
	st := c.frag.Store()
	want := make(map[string]unit)
	addUnits := func(locs []string) {
		for _, loc := range locs {
			if _, ok := want[loc]; ok {
				continue
			}
			if l, ok := sourceLinkage(loc); ok {
				want[loc] = unit{location: loc, linkage: l}
			}
		}
	}

	locations := make([]string, 0, len(changes))
	for loc := range changes {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	removed := 0
	var unused []string
	var errs []error
	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}
		ch := changes[loc]
		content, readErr := fs.ReadFile(loc)
		if ch.remove || readErr != nil {
			affected, err := st.AffectedUnits(loc)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := c.frag.Exclusive(func(s *store.Store) error { return s.RemoveLocation(loc) }); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
			addUnits(without(affected, loc))
			continue
		}

		records, err := st.FilesAt(0, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		hash := preproc.HashContent(content)
		if !ch.force && unchanged(records, hash) {
			c.log.Debug("content unchanged", "file", loc)
			continue
		}

		if l, ok := sourceLinkage(loc); ok {
			want[loc] = unit{location: loc, linkage: l}
			continue
		}
		if !isHeader(loc) {
			continue
		}
		affected, err := st.AffectedUnits(loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		addUnits(affected)
		standalone := false
		for _, r := range records {
			standalone = standalone || r.Standalone
		}
		switch {
		case standalone:
			want[loc] = unit{location: loc, linkage: c.cfg.headerLinkage, standalone: true}
		case len(affected) == 0 && c.cfg.indexUnusedHeaders:
			unused = append(unused, loc)
		}
	}

	units := make([]unit, 0, len(want))
	for _, u := range want {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].location < units[j].location })
	if len(errs) > 0 {
		return units, unused, removed, fmt.Errorf("plan: %w", errors.Join(errs...))
	}
	return units, unused, removed, nil
}

func without(locs []string, drop string) []string {
	out := locs[:0:0]
	for _, l := range locs {
		if l != drop {
			out = append(out, l)
		}
	}
	return out
}

func (c *Coordinator) heuristic(known []string) (func(string) (string, bool), error) {
	if !c.cfg.heuristic {
		return nil, nil
	}
	locs, err := c.frag.Store().Locations()
	if err != nil {
		return nil, fmt.Errorf("heuristic includes: %w", err)
	}
	return newBasenameIndex(append(locs, known...)).lookup, nil
}
