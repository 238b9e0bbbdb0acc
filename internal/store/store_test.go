package store

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

const (
	roleDecl = 1
	roleDef  = 2
	roleRef  = 4
)

// batchFile buffers a file record and returns its fake id.
func batchFile(t *testing.T, b *BatchedStore, loc, key string, source bool) int64 {
	t.Helper()
	id, err := b.InsertFile(&File{Linkage: 2, Location: loc, URI: "file://" + loc, ContextKey: key,
		Hash: "h-" + loc, Timestamp: time.Now(), IsSource: source})
	require.NoError(t, err)
	return id
}

// batchBinding buffers a binding declared at offset in file fileID.
func batchBinding(t *testing.T, b *BatchedStore, fileID int64, kind, name, origin string, offset int) int64 {
	t.Helper()
	id, err := b.InsertBinding(&Binding{Linkage: 2, Kind: kind, Name: name, Scope: "", Qualified: name,
		EntityKey: "2|" + kind + "||" + name, Origin: origin, OriginOffset: offset})
	require.NoError(t, err)
	_, err = b.InsertName(&Name{BindingID: id, FileID: fileID, Offset: offset, Length: len(name), Role: roleDecl})
	require.NoError(t, err)
	return id
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"meta", "files", "includes", "macros", "usings", "bindings", "names",
		"bases", "template_instances"} {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	id, err := s.FragmentID()
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	again, err := s.FragmentID()
	require.NoError(t, err)
	assert.Equal(t, id, again, "fragment id is stamped once")
	assert.NotEmpty(t, id)
}

func TestCheckFormat(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.CheckFormat())

	require.NoError(t, s.SetMetadata("format_version", "2.0.0"))
	assert.ErrorIs(t, s.CheckFormat(), ErrIncompatibleFormat)

	require.NoError(t, s.SetMetadata("format_version", "not-a-version"))
	assert.ErrorIs(t, s.CheckFormat(), ErrIncompatibleFormat)
}

func TestCompatibleVersion(t *testing.T) {
	t.Parallel()
	assert.NoError(t, CompatibleVersion(FormatVersion))
	assert.NoError(t, CompatibleVersion("1.9.0"))
	assert.Error(t, CompatibleVersion("1.1.0"))
	assert.Error(t, CompatibleVersion("0.9.0"))
}

func TestMetadata_MissingKey(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	v, err := s.GetMetadata("nope")
	require.NoError(t, err)
	assert.Empty(t, v)
}

// =============================================================================
// Batches
// =============================================================================

func TestBatchedStore_FakeIDs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	assert.True(t, b.Empty())

	f := batchFile(t, b, "/p/a.cpp", "", true)
	x := batchBinding(t, b, f, "variable", "x", "/p/a.cpp", 4)
	assert.Less(t, f, int64(0))
	assert.Less(t, x, f, "fake ids decrease")
	assert.False(t, b.Empty())

	got, err := b.BindingByIdentity("2|variable||x", "/p/a.cpp")
	require.NoError(t, err)
	require.NotNil(t, got, "buffered bindings are visible to reads")
	assert.Equal(t, x, got.ID)

	assert.ErrorIs(t, b.UpdateBinding(&Binding{ID: 12345}), errNotBuffered)
}

func TestCommitBatch_RemapsFakeIDs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)

	f := batchFile(t, b, "/p/a.cpp", "", true)
	cls := batchBinding(t, b, f, "class", "C", "/p/a.cpp", 6)
	v := batchBinding(t, b, f, "variable", "v", "/p/a.cpp", 20)
	b.Bindings[1].TypeExpr = "p0(#" + itoa(cls) + ")"
	b.Bindings[1].Args = "t(#-999)"
	b.Bindings[1].Extra = "i"

	m, err := s.CommitBatch(b)
	require.NoError(t, err)
	realCls, realV := m[cls], m[v]
	require.Positive(t, realCls)
	require.Positive(t, realV)

	got, err := s.BindingByID(realV)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p0(#"+itoa(realCls)+")", got.TypeExpr)
	assert.Equal(t, "t(!3)", got.Args, "unmapped fake references become a problem marker")
	assert.Equal(t, "i", got.Extra, "extra carries flags and is stored as is")
	assert.Equal(t, "2|variable||v|/p/a.cpp", got.Identity())

	names, err := s.NamesOf(realCls, roleDecl|roleDef)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "/p/a.cpp", names[0].Location)
	assert.Equal(t, 6, names[0].Name.Offset)
}

func TestCommitBatch_FileChildrenUseRealFileID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)

	f := batchFile(t, b, "/p/a.cpp", "", true)
	_, err := b.InsertMacro(&Macro{FileID: f, Name: "X", Expansion: "1", Offset: 8})
	require.NoError(t, err)
	_, err = b.InsertInclude(&Include{FileID: f, Name: "a.h", NameOffset: 10, NameLength: 3, TargetLocation: "/p/a.h"})
	require.NoError(t, err)
	_, err = b.InsertUsing(&Using{FileID: f, Scope: "", Target: "std", Offset: 30})
	require.NoError(t, err)

	m, err := s.CommitBatch(b)
	require.NoError(t, err)
	realID := m[f]
	require.Positive(t, realID)

	macros, err := s.MacrosOf(realID)
	require.NoError(t, err)
	require.Len(t, macros, 1)
	assert.Equal(t, "X", macros[0].Name)

	incs, err := s.IncludesOf(realID)
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, "a.h", incs[0].Name)

	usings, err := s.UsingsOf(realID)
	require.NoError(t, err)
	require.Len(t, usings, 1)
	assert.Equal(t, "std", usings[0].Target)
}

func TestCommitBatch_ReusesIdentity(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	b := NewBatchedStore(s)
	f := batchFile(t, b, "/p/a.cpp", "", true)
	x := batchBinding(t, b, f, "function", "f", "/p/a.cpp", 5)
	m, err := s.CommitBatch(b)
	require.NoError(t, err)
	first := m[x]

	b = NewBatchedStore(s)
	f = batchFile(t, b, "/p/a.cpp", "", true)
	x = batchBinding(t, b, f, "function", "f", "/p/a.cpp", 5)
	m, err = s.CommitBatch(b)
	require.NoError(t, err)
	assert.Equal(t, first, m[x], "same identity keeps its id")

	n, err := s.CountBindings()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCommitBatch_CollectsGarbage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	b := NewBatchedStore(s)
	f := batchFile(t, b, "/p/a.cpp", "", true)
	batchBinding(t, b, f, "function", "gone", "/p/a.cpp", 5)
	batchBinding(t, b, f, "function", "kept", "/p/a.cpp", 30)
	_, err := s.CommitBatch(b)
	require.NoError(t, err)

	b = NewBatchedStore(s)
	f = batchFile(t, b, "/p/a.cpp", "", true)
	batchBinding(t, b, f, "function", "kept", "/p/a.cpp", 30)
	_, err = s.CommitBatch(b)
	require.NoError(t, err)

	gone, err := s.BindingsByName("gone")
	require.NoError(t, err)
	assert.Empty(t, gone, "a binding without declarations is removed")
	kept, err := s.BindingsByName("kept")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestCommitBatch_ReferenceOnlyBindingIsCollected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	f := batchFile(t, b, "/p/a.cpp", "", true)
	id, err := b.InsertBinding(&Binding{Linkage: 2, Kind: "function", Name: "ext", Qualified: "ext",
		EntityKey: "2|function||ext", Origin: "/p/b.cpp"})
	require.NoError(t, err)
	_, err = b.InsertName(&Name{BindingID: id, FileID: f, Offset: 1, Length: 3, Role: roleRef})
	require.NoError(t, err)

	_, err = s.CommitBatch(b)
	require.NoError(t, err)
	got, err := s.BindingsByName("ext")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCommitBatch_InstanceSurvivesWithTemplate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	f := batchFile(t, b, "/p/a.cpp", "", true)
	tmpl := batchBinding(t, b, f, "class-template", "T", "/p/a.cpp", 10)
	inst, err := b.InsertBinding(&Binding{Linkage: 2, Kind: "instance", Name: "T", Qualified: "T<int>",
		EntityKey: "2|instance||T<tb5.0>", Origin: "/p/a.cpp", RefID: ptr(tmpl)})
	require.NoError(t, err)
	_, err = b.InsertInstance(&Instance{TemplateID: tmpl, ArgsKey: "tb5.0", Args: "tb5.0", InstanceID: inst})
	require.NoError(t, err)

	m, err := s.CommitBatch(b)
	require.NoError(t, err)

	got, err := s.InstanceOf(m[tmpl], "tb5.0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m[inst], got.InstanceID)

	// Dropping the template's only declaration removes the instance too.
	b = NewBatchedStore(s)
	batchFile(t, b, "/p/a.cpp", "", true)
	_, err = s.CommitBatch(b)
	require.NoError(t, err)
	got, err = s.InstanceOf(m[tmpl], "tb5.0")
	require.NoError(t, err)
	assert.Nil(t, got)
	inb, err := s.BindingByID(m[inst])
	require.NoError(t, err)
	assert.Nil(t, inb)
}

func TestCommitBatch_PragmaOnceCollapsesVariants(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	b := NewBatchedStore(s)
	batchFile(t, b, "/p/h.h", "A=1", false)
	batchFile(t, b, "/p/h.h", "A=2", false)
	_, err := s.CommitBatch(b)
	require.NoError(t, err)
	files, err := s.FilesAt(0, "/p/h.h")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	b = NewBatchedStore(s)
	_, err = b.InsertFile(&File{Linkage: 2, Location: "/p/h.h", URI: "file:///p/h.h", PragmaOnce: true})
	require.NoError(t, err)
	_, err = s.CommitBatch(b)
	require.NoError(t, err)
	files, err = s.FilesAt(0, "/p/h.h")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].PragmaOnce)

	// Losing the pragma restores per-context variants.
	b = NewBatchedStore(s)
	batchFile(t, b, "/p/h.h", "A=1", false)
	_, err = s.CommitBatch(b)
	require.NoError(t, err)
	files, err = s.FilesAt(0, "/p/h.h")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "A=1", files[0].ContextKey)
}

func TestCommitBatch_ReplacesBases(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	f := batchFile(t, b, "/p/a.cpp", "", true)
	base := batchBinding(t, b, f, "class", "B", "/p/a.cpp", 6)
	derived := batchBinding(t, b, f, "class", "D", "/p/a.cpp", 20)
	require.NoError(t, b.ReplaceBases(derived, []Base{{Ordinal: 0, TypeExpr: "#" + itoa(base), Access: "public"}}))
	m, err := s.CommitBatch(b)
	require.NoError(t, err)

	bases, err := s.Bases(m[derived])
	require.NoError(t, err)
	require.Len(t, bases, 1)
	assert.Equal(t, "#"+itoa(m[base]), bases[0].TypeExpr)
	assert.Equal(t, "public", bases[0].Access)

	require.NoError(t, s.ReplaceBases(m[derived], nil))
	bases, err = s.Bases(m[derived])
	require.NoError(t, err)
	assert.Empty(t, bases)
}

// =============================================================================
// Preprocessor data
// =============================================================================

func TestMacros_OrderAndParams(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	f := batchFile(t, b, "/p/a.cpp", "", true)
	_, err := b.InsertMacro(&Macro{FileID: f, Ordinal: 0, Name: "OBJ", Expansion: "1"})
	require.NoError(t, err)
	_, err = b.InsertMacro(&Macro{FileID: f, Ordinal: 1, Name: "FN", Params: []string{"a", "b"}, Expansion: "a+b"})
	require.NoError(t, err)
	_, err = b.InsertMacro(&Macro{FileID: f, Ordinal: 2, Name: "NOARGS", Params: []string{}, Expansion: "x"})
	require.NoError(t, err)
	_, err = b.InsertMacro(&Macro{FileID: f, Ordinal: 3, Name: "OBJ", Undef: true})
	require.NoError(t, err)
	m, err := s.CommitBatch(b)
	require.NoError(t, err)

	macros, err := s.MacrosOf(m[f])
	require.NoError(t, err)
	require.Len(t, macros, 4)
	assert.Nil(t, macros[0].Params, "object-like")
	assert.Equal(t, []string{"a", "b"}, macros[1].Params)
	assert.NotNil(t, macros[2].Params, "function-like without parameters")
	assert.Empty(t, macros[2].Params)
	assert.True(t, macros[3].Undef)
}

func TestIncludes_TargetsAndAffectedUnits(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	src := batchFile(t, b, "/p/a.cpp", "", true)
	mid := batchFile(t, b, "/p/mid.h", "", false)
	leaf := batchFile(t, b, "/p/leaf.h", "", false)
	_, err := b.InsertInclude(&Include{FileID: src, Name: "mid.h", TargetID: ptr(mid), TargetLocation: "/p/mid.h",
		Active: true, Resolved: true})
	require.NoError(t, err)
	_, err = b.InsertInclude(&Include{FileID: mid, Name: "leaf.h", TargetID: ptr(leaf), TargetLocation: "/p/leaf.h",
		Active: true, Resolved: true})
	require.NoError(t, err)
	m, err := s.CommitBatch(b)
	require.NoError(t, err)

	incs, err := s.IncludesOf(m[src])
	require.NoError(t, err)
	require.Len(t, incs, 1)
	require.NotNil(t, incs[0].TargetID)
	assert.Equal(t, m[mid], *incs[0].TargetID)

	n, err := s.InclusionCount(m[leaf])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	units, err := s.AffectedUnits("/p/leaf.h")
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/a.cpp"}, units)

	includers, err := s.IncludersOf("/p/leaf.h")
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/mid.h"}, includers)
}

func TestUpToDate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	batchFile(t, b, "/p/a.cpp", "", true)
	m, err := s.CommitBatch(b)
	require.NoError(t, err)

	id, ok, err := s.UpToDate(2, "/p/a.cpp", "", "h-/p/a.cpp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, m[-1], id)

	_, ok, err = s.UpToDate(2, "/p/a.cpp", "", "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// Garbage & Moves
// =============================================================================

func TestSweepOrphans(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	src := batchFile(t, b, "/p/a.cpp", "", true)
	h := batchFile(t, b, "/p/h.h", "", false)
	batchBinding(t, b, h, "function", "inHeader", "/p/h.h", 5)
	_, err := b.InsertInclude(&Include{FileID: src, Name: "h.h", TargetID: ptr(h), TargetLocation: "/p/h.h",
		Active: true, Resolved: true})
	require.NoError(t, err)
	_, err = s.CommitBatch(b)
	require.NoError(t, err)

	removed, err := s.SweepOrphans()
	require.NoError(t, err)
	assert.Zero(t, removed, "included header stays")

	// Re-index the source without the include.
	b = NewBatchedStore(s)
	batchFile(t, b, "/p/a.cpp", "", true)
	_, err = s.CommitBatch(b)
	require.NoError(t, err)

	removed, err = s.SweepOrphans()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	got, err := s.BindingsByName("inHeader")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemoveLocation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	f := batchFile(t, b, "/p/a.cpp", "", true)
	batchBinding(t, b, f, "function", "f", "/p/a.cpp", 5)
	_, err := s.CommitBatch(b)
	require.NoError(t, err)

	require.NoError(t, s.RemoveLocation("/p/a.cpp"))
	files, err := s.AllFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
	n, err := s.CountBindings()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMoveLocations(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	f := batchFile(t, b, "/old/a.cpp", "", true)
	batchFile(t, b, "/oldish/b.cpp", "", true)
	x := batchBinding(t, b, f, "function", "f", "/old/a.cpp", 5)
	m, err := s.CommitBatch(b)
	require.NoError(t, err)

	require.NoError(t, s.MoveLocations("/old", "/new", func(loc string) string { return "file://" + loc }))

	locs, err := s.Locations()
	require.NoError(t, err)
	assert.Equal(t, []string{"/new/a.cpp", "/oldish/b.cpp"}, locs)

	got, err := s.BindingByID(m[x])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/new/a.cpp", got.Origin, "ids survive and origins follow")

	moved, err := s.FileByID(m[f])
	require.NoError(t, err)
	assert.Equal(t, "file:///new/a.cpp", moved.URI)
}

// =============================================================================
// Queries
// =============================================================================

func TestBindingQueries(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	b := NewBatchedStore(s)
	f := batchFile(t, b, "/p/a.cpp", "", true)
	batchBinding(t, b, f, "function", "alpha", "/p/a.cpp", 1)
	batchBinding(t, b, f, "function", "alphabet", "/p/a.cpp", 20)
	batchBinding(t, b, f, "function", "Alpha", "/p/a.cpp", 40)
	batchBinding(t, b, f, "function", "beta", "/p/a.cpp", 60)
	_, err := s.CommitBatch(b)
	require.NoError(t, err)

	exact, err := s.BindingsByName("alpha")
	require.NoError(t, err)
	assert.Len(t, exact, 1)

	fold, err := s.BindingsByNameFold("ALPHA")
	require.NoError(t, err)
	assert.Len(t, fold, 2)

	prefix, err := s.BindingsByPrefix("alpha", true)
	require.NoError(t, err)
	require.Len(t, prefix, 2)
	assert.Equal(t, "alpha", prefix[0].Name)
	assert.Equal(t, "alphabet", prefix[1].Name)

	prefixFold, err := s.BindingsByPrefixFold("al", false)
	require.NoError(t, err)
	assert.Len(t, prefixFold, 3)

	missing, err := s.BindingByIdentity("nope", "")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
