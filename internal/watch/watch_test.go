package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu        sync.Mutex
	scheduled [][]string
	removed   [][]string
}

func (s *recordingSink) Schedule(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, paths)
}

func (s *recordingSink) Remove(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, paths)
}

func (s *recordingSink) snapshot() (scheduled, removed [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.scheduled...), append([][]string(nil), s.removed...)
}

func startWatcher(t *testing.T, root string, sink Sink) *Watcher {
	t.Helper()
	w, err := New(root, sink, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return w
}

func TestWatch_DebouncesWrites(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, root, sink)

	path := filepath.Join(root, "a.cpp")
	for i := range 3 {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))

	require.Eventually(t, func() bool {
		s, _ := sink.snapshot()
		return len(s) > 0
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	scheduled, _ := sink.snapshot()
	require.Len(t, scheduled, 1, "writes within the quiet period collapse")
	assert.Equal(t, []string{path}, scheduled[0])
}

func TestWatch_RemovalAndNewDirectories(t *testing.T) {
	root := t.TempDir()
	gone := filepath.Join(root, "gone.h")
	require.NoError(t, os.WriteFile(gone, []byte("int x;"), 0644))
	sink := &recordingSink{}
	startWatcher(t, root, sink)

	require.NoError(t, os.Remove(gone))
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	time.Sleep(50 * time.Millisecond)
	nested := filepath.Join(sub, "n.c")
	require.NoError(t, os.WriteFile(nested, []byte("int n;"), 0644))

	require.Eventually(t, func() bool {
		s, r := sink.snapshot()
		var sawRemove, sawNested bool
		for _, batch := range r {
			for _, p := range batch {
				sawRemove = sawRemove || p == gone
			}
		}
		for _, batch := range s {
			for _, p := range batch {
				sawNested = sawNested || p == nested
			}
		}
		return sawRemove && sawNested
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatch_IgnoresSkippedDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0755))
	sink := &recordingSink{}
	w := startWatcher(t, root, sink)

	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "gen.cpp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.cpp"), []byte("x"), 0644))
	time.Sleep(200 * time.Millisecond)
	w.Flush()

	scheduled, removed := sink.snapshot()
	assert.Empty(t, scheduled)
	assert.Empty(t, removed)
}

func TestFlush_LatestChangeWins(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	w, err := New(root, sink, WithDebounce(time.Hour))
	require.NoError(t, err)
	defer w.Close()

	a := filepath.Join(root, "a.cpp")
	b := filepath.Join(root, "b.h")
	w.note(a, false)
	w.note(a, true)
	w.note(b, true)
	w.note(b, false)
	w.Flush()

	scheduled, removed := sink.snapshot()
	assert.Equal(t, [][]string{{b}}, scheduled)
	assert.Equal(t, [][]string{{a}}, removed)

	w.Flush()
	scheduled, _ = sink.snapshot()
	assert.Len(t, scheduled, 1, "nothing pending after a flush")
}

func TestNew_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), &recordingSink{})
	require.Error(t, err)
}
