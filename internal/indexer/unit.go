package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/index"
	"github.com/jward/cxxindex/internal/parse"
	"github.com/jward/cxxindex/internal/preproc"
	"github.com/jward/cxxindex/internal/resolve"
	"github.com/jward/cxxindex/internal/store"
)

// reparse preprocesses, parses and resolves one unit against the
// fragment and emits its batch. The read lock is released before the
// result is handed to the committer.
func (c *Coordinator) reparse(ctx context.Context, u unit, fs overlayFS, heuristic func(string) (string, bool)) parsed {
	p := parsed{unit: u}
	if err := ctx.Err(); err != nil {
		p.err = err
		return p
	}
	log := c.log.With("tu", u.location)

	x := index.New([]*index.Fragment{c.frag}, index.WithLogger(c.log))
	lock := x.AcquireReadLock()
	defer lock.Release()

	st := c.frag.Store()
	tu, err := preproc.Run(ctx, u.location, nil, preproc.Options{
		Scanner:   c.cfg.scanner,
		FS:        fs,
		Linkage:   u.linkage,
		Heuristic: heuristic,
		UpToDate: func(location, contextKey, hash string) (int64, bool) {
			id, ok, err := st.UpToDate(int(u.linkage), location, contextKey, hash)
			return id, ok && err == nil
		},
	})
	if err != nil {
		p.err = err
		return p
	}
	for _, fr := range tu.Fragments() {
		p.locations = append(p.locations, fr.Location)
	}
	if err := parse.Parse(ctx, tu); err != nil {
		p.err = err
		return p
	}
	res, err := resolve.Resolve(ctx, tu, x, resolve.Options{
		MaxDepth:               c.cfg.maxDepth,
		AllowRecursionBindings: c.cfg.allowRecursion,
		Cache:                  c.frag.Templates(),
		Logger:                 log,
	})
	if errors.Is(err, resolve.ErrRecursionLimit) && res != nil {
		log.Warn("recursion limit reached", "err", err)
		err = nil
	}
	if err != nil {
		p.err = err
		return p
	}
	for _, d := range res.Problems {
		log.Debug("problem binding", "name", d.Name.Text, "offset", d.Name.Offset, "code", d.Problem.Code)
	}
	p.batch, p.err = c.frag.Emit(tu, res)
	return p
}

// unchanged reports whether a record of the location already holds
// content with hash.
func unchanged(records []*store.File, hash string) bool {
	for _, r := range records {
		if r.Hash == hash {
			return true
		}
	}
	return false
}

// sourceLinkage returns the linkage of a translation unit source.
func sourceLinkage(path string) (binding.Linkage, bool) {
	if !parse.IsSource(path) {
		return binding.LinkageNone, false
	}
	return parse.LinkageForFile(path)
}

func isHeader(path string) bool { return parse.IsHeader(path) }

// overlayFS serves scheduled content in place of the file system copy.
type overlayFS struct {
	base  preproc.FS
	files map[string][]byte
}

func (o overlayFS) ReadFile(name string) ([]byte, error) {
	if b, ok := o.files[filepath.Clean(name)]; ok {
		return b, nil
	}
	b, err := o.base.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}

func (o overlayFS) Exists(name string) bool {
	if _, ok := o.files[filepath.Clean(name)]; ok {
		return true
	}
	return o.base.Exists(name)
}

// basenameIndex resolves an include by file name. Among several files
// with the name the shortest path wins, then the lexically first.
type basenameIndex map[string][]string

func newBasenameIndex(paths []string) basenameIndex {
	idx := make(basenameIndex)
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		base := filepath.Base(p)
		idx[base] = append(idx[base], p)
	}
	for _, ps := range idx {
		sort.Slice(ps, func(i, j int) bool {
			if len(ps[i]) != len(ps[j]) {
				return len(ps[i]) < len(ps[j])
			}
			return ps[i] < ps[j]
		})
	}
	return idx
}

func (idx basenameIndex) lookup(name string) (string, bool) {
	ps := idx[filepath.Base(name)]
	if len(ps) == 0 {
		return "", false
	}
	return ps[0], true
}
