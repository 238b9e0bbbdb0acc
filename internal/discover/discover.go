// Package discover finds the C and C++ files of a project tree.
package discover

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/cxxindex/internal/parse"
)

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"build":        true,
	"out":          true,
	"CMakeFiles":   true,
	"__pycache__":  true,
}

// Files are the discovered files of a tree as absolute paths, sorted.
type Files struct {
	Sources []string
	Headers []string
}

// All returns sources followed by headers.
func (f *Files) All() []string {
	out := make([]string, 0, len(f.Sources)+len(f.Headers))
	out = append(out, f.Sources...)
	return append(out, f.Headers...)
}

// Relevant reports whether path is a C or C++ source or header.
func Relevant(path string) bool {
	_, ok := parse.LinkageForFile(path)
	return ok
}

// Discover lists the C and C++ files under root. Inside a git work tree
// it asks git ls-files, which honours every ignore source; elsewhere it
// walks the tree, honouring the root .gitignore.
func Discover(ctx context.Context, root string) (*Files, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	paths, err := gitListFiles(ctx, root)
	if err != nil {
		paths, err = NewMatcher(root).walk(ctx)
		if err != nil {
			return nil, err
		}
	}
	out := &Files{}
	for _, p := range paths {
		switch {
		case parse.IsHeader(p):
			out.Headers = append(out.Headers, p)
		case parse.IsSource(p):
			out.Sources = append(out.Sources, p)
		}
	}
	sort.Strings(out.Sources)
	sort.Strings(out.Headers)
	return out, nil
}

// gitListFiles returns tracked and untracked, not ignored, files.
func gitListFiles(ctx context.Context, root string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		abs := filepath.Join(root, filepath.FromSlash(line))
		if Relevant(abs) {
			paths = append(paths, abs)
		}
	}
	return paths, nil
}

// Matcher decides which paths under a root are ignored.
type Matcher struct {
	root string
	gi   *ignore.GitIgnore
}

// NewMatcher loads the .gitignore of root, if any.
func NewMatcher(root string) *Matcher {
	m := &Matcher{root: root}
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		m.gi = gi
	}
	return m
}

// Skip reports whether path is ignored: hidden entries, well-known build
// and dependency directories, and .gitignore matches.
func (m *Matcher) Skip(path string, dir bool) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	if rel == "." {
		return false
	}
	segs := strings.Split(filepath.ToSlash(rel), "/")
	for i, seg := range segs {
		if strings.HasPrefix(seg, ".") {
			return true
		}
		if (dir || i < len(segs)-1) && skipDirs[seg] {
			return true
		}
	}
	return m.gi != nil && m.gi.MatchesPath(filepath.ToSlash(rel))
}

func (m *Matcher) walk(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == m.root {
				return err
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != m.root && m.Skip(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 || m.Skip(path, false) {
			return nil
		}
		if Relevant(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", m.root, err)
	}
	return paths, nil
}
