package parse

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"

	"github.com/jward/cxxindex/internal/binding"
)

// extToLinkage maps source and header extensions to their linkage. Headers
// map to LinkageNone: they take the linkage of the including unit, or the
// configured default when indexed on their own.
var extToLinkage = map[string]binding.Linkage{
	".c":   binding.LinkageC,
	".i":   binding.LinkageC,
	".cpp": binding.LinkageCPP,
	".cc":  binding.LinkageCPP,
	".cxx": binding.LinkageCPP,
	".c++": binding.LinkageCPP,
	".ii":  binding.LinkageCPP,
	".h":   binding.LinkageNone,
	".hh":  binding.LinkageNone,
	".hpp": binding.LinkageNone,
	".hxx": binding.LinkageNone,
	".h++": binding.LinkageNone,
	".inl": binding.LinkageNone,
	".ipp": binding.LinkageNone,
	".tcc": binding.LinkageNone,
}

var (
	grammars     map[binding.Linkage]*sitter.Language
	grammarsOnce sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		grammars = map[binding.Linkage]*sitter.Language{
			binding.LinkageC:   c.GetLanguage(),
			binding.LinkageCPP: cpp.GetLanguage(),
		}
	})
}

// LinkageForFile returns the linkage of a C or C++ file by extension. The
// second result is false for files that are neither sources nor headers.
func LinkageForFile(path string) (binding.Linkage, bool) {
	l, ok := extToLinkage[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// IsSource reports whether path names a translation unit source file.
func IsSource(path string) bool {
	l, ok := LinkageForFile(path)
	return ok && l != binding.LinkageNone
}

// IsHeader reports whether path names a header.
func IsHeader(path string) bool {
	l, ok := LinkageForFile(path)
	return ok && l == binding.LinkageNone
}

// grammarFor returns the tree-sitter grammar for a linkage. Anything other
// than C is parsed as C++.
func grammarFor(l binding.Linkage) *sitter.Language {
	initGrammars()
	if l == binding.LinkageC {
		return grammars[binding.LinkageC]
	}
	return grammars[binding.LinkageCPP]
}
