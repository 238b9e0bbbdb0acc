package cxxindex

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden test format. Lines and columns are zero based.
type goldenFile struct {
	Definitions []goldenDef `json:"definitions,omitempty"`
	References  []goldenRef `json:"references,omitempty"`
}

type goldenDef struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	File string `json:"file"`
	Line int    `json:"line"`
}

type goldenRef struct {
	From goldenLoc `json:"from"`
	To   string    `json:"to"`
}

type goldenLoc struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

// TestGolden indexes every testdata/cpp/<level>/src tree as a project and
// checks it against the level's golden.json.
func TestGolden(t *testing.T) {
	root := filepath.Join("testdata", "cpp")
	levels, err := os.ReadDir(root)
	if err != nil {
		t.Skip("no testdata directory found")
	}
	for _, level := range levels {
		if !level.IsDir() {
			continue
		}
		dir := filepath.Join(root, level.Name())
		goldenPath := filepath.Join(dir, "golden.json")
		if _, err := os.Stat(goldenPath); err != nil {
			continue
		}
		t.Run(level.Name(), func(t *testing.T) {
			runGoldenTest(t, filepath.Join(dir, "src"), goldenPath)
		})
	}
}

func runGoldenTest(t *testing.T, srcDir, goldenPath string) {
	t.Helper()
	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	var golden goldenFile
	require.NoError(t, json.Unmarshal(data, &golden))

	srcDir, err = filepath.Abs(srcDir)
	require.NoError(t, err)
	e := newTestEngine(t)
	_, err = e.CreateProject("golden", srcDir, nil, nil)
	require.NoError(t, err)
	indexed(t, e, "golden")

	q, err := e.Query("golden", ProjectOnly)
	require.NoError(t, err)

	if len(golden.Definitions) > 0 {
		t.Run("definitions", func(t *testing.T) {
			verifyDefinitions(t, q, golden.Definitions)
		})
	}
	if len(golden.References) > 0 {
		t.Run("references", func(t *testing.T) {
			verifyReferences(t, q, golden.References)
		})
	}
}

// exactPattern matches exactly the qualified name.
func exactPattern(name string) string {
	segs := strings.Split(name, "::")
	for i, s := range segs {
		segs[i] = regexp.QuoteMeta(s)
	}
	return "::" + strings.Join(segs, "::")
}

func verifyDefinitions(t *testing.T, q *QueryBuilder, expected []goldenDef) {
	t.Helper()
	ctx := context.Background()
	for _, exp := range expected {
		res, err := q.Bindings(ctx, exactPattern(exp.Name), SearchOptions{}, Sort{}, Pagination{})
		require.NoError(t, err)
		var kinds []string
		for _, s := range res.Items {
			kinds = append(kinds, s.Kind)
		}
		assert.Contains(t, kinds, exp.Kind, "binding %s", exp.Name)

		occs, err := q.Declarations(ctx, "::"+exp.Name)
		require.NoError(t, err)
		found := false
		for _, o := range occs {
			if filepath.Base(o.File) == exp.File && o.StartLine == exp.Line {
				found = true
				break
			}
		}
		assert.True(t, found, "missing declaration: %+v (got %d occurrences)", exp, len(occs))
	}
}

func verifyReferences(t *testing.T, q *QueryBuilder, expected []goldenRef) {
	t.Helper()
	ctx := context.Background()
	for _, exp := range expected {
		occs, err := q.References(ctx, "::"+exp.To)
		require.NoError(t, err)
		found := false
		for _, o := range occs {
			if filepath.Base(o.File) == exp.From.File && o.StartLine == exp.From.Line && o.StartCol == exp.From.Col {
				found = true
				break
			}
		}
		assert.True(t, found, "reference from %s:%d:%d should resolve to %s (got %d references)",
			exp.From.File, exp.From.Line, exp.From.Col, exp.To, len(occs))
	}
}
