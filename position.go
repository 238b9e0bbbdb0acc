package cxxindex

import (
	"sort"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jward/cxxindex/internal/preproc"
)

// lineTable maps byte offsets of file locations to zero based lines and
// byte columns. Line starts are cached per location until the version
// reported by gen changes, that is until the index commits new content.
type lineTable struct {
	fs    preproc.FS
	cache *lru.Cache[string, []int]
	gen   func() uint64
	seen  atomic.Uint64
}

func newLineTable(fs preproc.FS, size int, gen func() uint64) *lineTable {
	if size <= 0 {
		size = 256
	}
	cache, _ := lru.New[string, []int](size)
	t := &lineTable{fs: fs, cache: cache, gen: gen}
	if gen != nil {
		t.seen.Store(gen())
	}
	return t
}

func (t *lineTable) starts(location string) []int {
	if t.gen != nil {
		if g := t.gen(); t.seen.Swap(g) != g {
			t.cache.Purge()
		}
	}
	if s, ok := t.cache.Get(location); ok {
		return s
	}
	content, err := t.fs.ReadFile(location)
	if err != nil {
		// Unreadable files keep offsets as columns of line 0.
		return []int{0}
	}
	s := []int{0}
	for i, c := range content {
		if c == '\n' {
			s = append(s, i+1)
		}
	}
	t.cache.Add(location, s)
	return s
}

func (t *lineTable) position(location string, offset int) (line, col int) {
	s := t.starts(location)
	line = sort.Search(len(s), func(i int) bool { return s[i] > offset }) - 1
	if line < 0 {
		line = 0
	}
	return line, offset - s[line]
}

// locate builds the Location of a span.
func (t *lineTable) locate(location string, offset, length int) Location {
	sl, sc := t.position(location, offset)
	el, ec := t.position(location, offset+length)
	return Location{
		File:      location,
		StartLine: sl,
		StartCol:  sc,
		EndLine:   el,
		EndCol:    ec,
		Offset:    offset,
		Length:    length,
	}
}
