package indexer

import (
	"log/slog"
	"time"

	"github.com/jward/cxxindex/internal/binding"
	"github.com/jward/cxxindex/internal/preproc"
)

type settings struct {
	workers            int
	scanner            preproc.ScannerInfo
	fs                 preproc.FS
	maxDepth           int
	allowRecursion     bool
	headerLinkage      binding.Linkage
	indexUnusedHeaders bool
	heuristic          bool
	joinTimeout        time.Duration
}

func defaultSettings() settings {
	return settings{
		headerLinkage:      binding.LinkageCPP,
		indexUnusedHeaders: true,
		joinTimeout:        DefaultJoinTimeout,
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithWorkers bounds how many units are parsed at once. Zero means one
// per CPU.
func WithWorkers(n int) Option {
	return func(c *Coordinator) { c.cfg.workers = n }
}

// WithScanner sets the include paths, forced includes and predefined
// macros used to preprocess every unit.
func WithScanner(info preproc.ScannerInfo) Option {
	return func(c *Coordinator) { c.cfg.scanner = info }
}

// WithFS sets the file system sources are read from.
func WithFS(fs preproc.FS) Option {
	return func(c *Coordinator) { c.cfg.fs = fs }
}

// WithResolution sets the recursion bound of name resolution and whether
// pathological recursion is accepted without error.
func WithResolution(maxDepth int, allowRecursion bool) Option {
	return func(c *Coordinator) {
		c.cfg.maxDepth = maxDepth
		c.cfg.allowRecursion = allowRecursion
	}
}

// WithHeaderLinkage sets the linkage headers indexed on their own are
// parsed with.
func WithHeaderLinkage(l binding.Linkage) Option {
	return func(c *Coordinator) {
		if l != binding.LinkageNone {
			c.cfg.headerLinkage = l
		}
	}
}

// WithIndexUnusedHeaders controls whether headers no unit includes are
// indexed on their own.
func WithIndexUnusedHeaders(on bool) Option {
	return func(c *Coordinator) { c.cfg.indexUnusedHeaders = on }
}

// WithHeuristicIncludes resolves includes the search paths miss by
// matching the file name against known files.
func WithHeuristicIncludes(on bool) Option {
	return func(c *Coordinator) { c.cfg.heuristic = on }
}

// WithJoinTimeout sets the timeout Join uses when given none.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.cfg.joinTimeout = d
		}
	}
}
