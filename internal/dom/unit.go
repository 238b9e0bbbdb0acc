package dom

import "github.com/jward/cxxindex/internal/binding"

// Fragment is one inclusion of a file in a translation unit. A file
// included twice under different macro contexts yields two fragments.
type Fragment struct {
	Location   string
	Linkage    binding.Linkage
	ContextKey string
	PragmaOnce bool
	Guard      string
	Hash       string
	Content    []byte
	// Text is Content with directives and inactive regions blanked and
	// macros expanded; Map translates its offsets back to Content.
	Text []byte
	Map  *OffsetMap

	Includes []*Include
	Macros   []*Macro
	Children []*Child
	// MacroOnly marks a macro file: its macros apply, its declarations do not.
	MacroOnly bool

	// Skip is set when the fragment is already indexed under the same
	// context and content; Record then names the existing file record.
	Skip   bool
	Record int64
	File   *File
	Parent *Fragment

	Start int64
	Span  int64
}

// Child is an active, resolved inclusion at Offset in the includer.
type Child struct {
	Offset   int
	Fragment *Fragment
}

// Global maps a local offset to its position in the flattened translation
// unit stream.
func (f *Fragment) Global(offset int) int64 {
	pos := f.Start + int64(offset)
	for _, c := range f.Children {
		if c.Offset >= offset {
			break
		}
		pos += c.Fragment.Span
	}
	return pos
}

// TranslationUnit is a source file and everything it includes.
type TranslationUnit struct {
	Root    *Fragment
	Linkage binding.Linkage
}

// Layout assigns stream positions to every fragment. It must be called
// once the include tree is complete.
func (tu *TranslationUnit) Layout() {
	var layout func(f *Fragment, start int64) int64
	layout = func(f *Fragment, start int64) int64 {
		f.Start = start
		span := int64(len(f.Content))
		for _, c := range f.Children {
			// Prelude children carry offset -1 and start with the stream.
			childStart := f.Start + int64(max(c.Offset, 0))
			for _, prev := range f.Children {
				if prev == c {
					break
				}
				childStart += prev.Fragment.Span
			}
			span += layout(c.Fragment, childStart)
		}
		f.Span = span
		return span
	}
	if tu.Root != nil {
		layout(tu.Root, 0)
	}
}

// Fragments lists fragments in inclusion order.
func (tu *TranslationUnit) Fragments() []*Fragment {
	var out []*Fragment
	var walk func(f *Fragment)
	walk = func(f *Fragment) {
		out = append(out, f)
		for _, c := range f.Children {
			walk(c.Fragment)
		}
	}
	if tu.Root != nil {
		walk(tu.Root)
	}
	return out
}

// Files returns the parsed files in inclusion order.
func (tu *TranslationUnit) Files() []*File {
	var out []*File
	for _, f := range tu.Fragments() {
		if f.File != nil {
			out = append(out, f.File)
		}
	}
	return out
}

// OffsetMap translates offsets in expanded text back to the original
// content. Segments are sorted by Out.
type OffsetMap struct {
	Segments []MapSegment
}

// MapSegment maps [Out, Out+OutLen) onto [In, In+InLen). Verbatim segments
// have equal lengths; a macro expansion maps its whole output onto the
// invocation.
type MapSegment struct {
	Out, OutLen int
	In, InLen   int
	Expansion   bool
}

// Original maps an expanded span to the original content. The returned
// flag reports whether the span came out of a macro expansion.
func (m *OffsetMap) Original(off, length int) (int, int, bool) {
	if m == nil || len(m.Segments) == 0 {
		return off, length, false
	}
	lo, hi := 0, len(m.Segments)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.Segments[mid].Out+m.Segments[mid].OutLen <= off {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(m.Segments) {
		last := m.Segments[len(m.Segments)-1]
		return last.In + last.InLen + (off - last.Out - last.OutLen), length, false
	}
	seg := m.Segments[lo]
	if seg.Expansion {
		return seg.In, seg.InLen, true
	}
	return seg.In + (off - seg.Out), length, false
}
