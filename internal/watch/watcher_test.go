package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obbylabs/obby/internal/patterns"
)

func setupRoot(t *testing.T, watchRules string) (string, *patterns.Matcher) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, patterns.WatchFileName), []byte(watchRules), 0o644))
	return dir, patterns.NewMatcher(dir, nil)
}

func TestWatcherRefusesWithoutRules(t *testing.T) {
	dir := t.TempDir()
	m := patterns.NewMatcher(dir, nil)

	w, err := New(Config{Root: dir, Matcher: m, Handler: func(Event) {}})
	require.NoError(t, err)
	assert.ErrorIs(t, w.Start(), ErrNoWatchRules)
	assert.False(t, w.Running())
}

func TestWatcherPollingBackendDetectsChanges(t *testing.T) {
	dir, m := setupRoot(t, "*.md\n")
	c := &collector{}

	w, err := New(Config{
		Root:         dir,
		Matcher:      m,
		Handler:      c.handle,
		Window:       30 * time.Millisecond,
		PollInterval: 30 * time.Millisecond,
		ForcePolling: true,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()
	assert.Equal(t, BackendPolling, w.Backend())

	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, e := range c.snapshot() {
			if e.Path == path && e.Type == EventCreated {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		for _, e := range c.snapshot() {
			if e.Path == path && e.Type == EventDeleted {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherFiltersIgnoredPaths(t *testing.T) {
	dir, m := setupRoot(t, "*\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, patterns.IgnoreFileName), []byte("*.tmp\n"), 0o644))
	m.Reload()

	c := &collector{}
	w, err := New(Config{
		Root:         dir,
		Matcher:      m,
		Handler:      c.handle,
		Window:       30 * time.Millisecond,
		PollInterval: 30 * time.Millisecond,
		ForcePolling: true,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	watched := filepath.Join(dir, "a.md")
	ignored := filepath.Join(dir, "scratch.tmp")
	require.NoError(t, os.WriteFile(watched, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(ignored, []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, e := range c.snapshot() {
			if e.Path == watched {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	for _, e := range c.snapshot() {
		assert.NotEqual(t, ignored, e.Path, "ignored file must produce no events")
	}
}

func TestWatcherNativeBackendDetectsChanges(t *testing.T) {
	dir, m := setupRoot(t, "*.md\n")
	c := &collector{}

	w, err := New(Config{
		Root:    dir,
		Matcher: m,
		Handler: c.handle,
		Window:  30 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	if w.Backend() != BackendNative {
		t.Skip("native backend unavailable on this filesystem")
	}

	path := filepath.Join(dir, "b.md")
	require.NoError(t, os.WriteFile(path, []byte("native\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, e := range c.snapshot() {
			if e.Path == path && e.Type == EventCreated {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherDropsEditorArtifacts(t *testing.T) {
	dir, m := setupRoot(t, "*\n")
	c := &collector{}

	w, err := New(Config{
		Root:         dir,
		Matcher:      m,
		Handler:      c.handle,
		Window:       30 * time.Millisecond,
		PollInterval: 30 * time.Millisecond,
		ForcePolling: true,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	swap := filepath.Join(dir, ".a.md.swp")
	real := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(swap, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(real, []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, e := range c.snapshot() {
			if e.Path == real {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	for _, e := range c.snapshot() {
		assert.NotEqual(t, swap, e.Path, "swap files must produce no events")
	}
}

func TestDeliverDropsProbeArtifacts(t *testing.T) {
	dir, m := setupRoot(t, "*\n")
	c := &collector{}

	w, err := New(Config{Root: dir, Matcher: m, Handler: c.handle})
	require.NoError(t, err)

	probe := filepath.Join(dir, probePrefix+"123456")
	require.NoError(t, os.WriteFile(probe, []byte(""), 0o644))
	w.deliver(Event{Path: probe, Type: EventCreated, Time: time.Now()})
	w.deliver(Event{Path: probe, Type: EventDeleted, Time: time.Now()})

	real := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(real, []byte("x"), 0o644))
	w.deliver(Event{Path: real, Type: EventCreated, Time: time.Now()})

	events := c.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, real, events[0].Path)
}

func TestProbeNativeRoundTrip(t *testing.T) {
	dir, m := setupRoot(t, "*.md\n")
	w, err := New(Config{Root: dir, Matcher: m, Handler: func(Event) {}})
	require.NoError(t, err)

	fsw, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer fsw.Close()
	require.NoError(t, fsw.Add(dir))

	assert.True(t, w.probeNative(fsw), "probe write should round-trip on a local filesystem")
}

func TestProbeNativeSilentBackend(t *testing.T) {
	dir, m := setupRoot(t, "*.md\n")
	w, err := New(Config{Root: dir, Matcher: m, Handler: func(Event) {}})
	require.NoError(t, err)

	// No registered paths: the probe write never comes back.
	fsw, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer fsw.Close()

	assert.False(t, w.probeNative(fsw))
}

func TestWatcherStartStopIdempotent(t *testing.T) {
	dir, m := setupRoot(t, "*.md\n")
	w, err := New(Config{Root: dir, Matcher: m, Handler: func(Event) {}, ForcePolling: true})
	require.NoError(t, err)

	require.NoError(t, w.Start())
	require.NoError(t, w.Start(), "second start is a no-op")
	assert.True(t, w.Running())

	w.Stop()
	w.Stop()
	assert.False(t, w.Running())
}
