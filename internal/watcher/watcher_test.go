package watcher

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

type collector struct {
	mu    sync.Mutex
	paths []string
}

func (c *collector) handle(_ context.Context, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *collector) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// Give fsnotify a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcher_HandsOverSettledFile(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}
	startWatcher(t, New(dir, c.handle, WithSettleDelay(100*time.Millisecond)))

	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("part 1"), 0o644))
	time.Sleep(30 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(" part 2")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(c.seen()) == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{path}, c.seen())
}

func TestWatcher_IgnoresFilteredNames(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}
	ignore := func(name string) bool { return filepath.Ext(name) == ".partial" || name[0] == '.' }
	startWatcher(t, New(dir, c.handle, WithSettleDelay(50*time.Millisecond), WithIgnore(ignore)))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "upload.pdf.partial"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brief.jpg"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return len(c.seen()) == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{filepath.Join(dir, "brief.jpg")}, c.seen())
}

func TestWatcher_RemovedBeforeSettling(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}
	w := New(dir, c.handle, WithSettleDelay(150*time.Millisecond))
	startWatcher(t, w)

	path := filepath.Join(dir, "tmp.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.Remove(path))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, c.seen())
	assert.Equal(t, 0, w.Pending())
}

func TestWatcher_InitialScan(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old.pdf")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	c := &collector{}
	startWatcher(t, New(dir, c.handle, WithSettleDelay(50*time.Millisecond), WithInitialScan(true)))

	require.Eventually(t, func() bool { return len(c.seen()) == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{existing}, c.seen())
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing"), func(context.Context, string) {})
	err := w.Run(context.Background())
	require.Error(t, err)
}
