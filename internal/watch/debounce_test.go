package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records delivered events safely across goroutines.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestDebouncerLastEventWins(t *testing.T) {
	c := &collector{}
	d := NewDebouncer(50*time.Millisecond, nil, c.handle)
	defer d.Stop()

	d.Add(Event{Path: "/a", Type: EventCreated})
	d.Add(Event{Path: "/a", Type: EventModified})
	d.Add(Event{Path: "/a", Type: EventModified})

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, EventModified, c.snapshot()[0].Type)
}

func TestDebouncerDeleteShortCircuits(t *testing.T) {
	c := &collector{}
	d := NewDebouncer(50*time.Millisecond, nil, c.handle)
	defer d.Stop()

	d.Add(Event{Path: "/a", Type: EventDeleted})
	d.Add(Event{Path: "/a", Type: EventModified}) // must not resurrect

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, EventDeleted, c.snapshot()[0].Type)
}

func TestDebouncerMoveDeliveredIntact(t *testing.T) {
	c := &collector{}
	d := NewDebouncer(50*time.Millisecond, nil, c.handle)
	defer d.Stop()

	d.Add(Event{Path: "/dst", OldPath: "/src", Type: EventMoved})

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	got := c.snapshot()[0]
	assert.Equal(t, EventMoved, got.Type)
	assert.Equal(t, "/src", got.OldPath)
}

func TestDebouncerMoveKeepsSourceAcrossWrites(t *testing.T) {
	c := &collector{}
	d := NewDebouncer(50*time.Millisecond, nil, c.handle)
	defer d.Stop()

	d.Add(Event{Path: "/dst", OldPath: "/src", Type: EventMoved})
	d.Add(Event{Path: "/dst", Type: EventModified})

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	got := c.snapshot()[0]
	assert.Equal(t, EventMoved, got.Type, "the write folds into the move")
	assert.Equal(t, "/src", got.OldPath, "source survives so its deletion is recorded")
	assert.Equal(t, "/dst", got.Path)
}

func TestDebouncerCreateReplacesDelete(t *testing.T) {
	c := &collector{}
	d := NewDebouncer(50*time.Millisecond, nil, c.handle)
	defer d.Stop()

	d.Add(Event{Path: "/a", Type: EventDeleted})
	d.Add(Event{Path: "/a", Type: EventCreated})

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, EventCreated, c.snapshot()[0].Type)
}

func TestDebouncerIndependentPaths(t *testing.T) {
	c := &collector{}
	d := NewDebouncer(50*time.Millisecond, nil, c.handle)
	defer d.Stop()

	d.Add(Event{Path: "/a", Type: EventModified})
	d.Add(Event{Path: "/b", Type: EventModified})

	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestDebouncerStopDropsPending(t *testing.T) {
	c := &collector{}
	d := NewDebouncer(100*time.Millisecond, nil, c.handle)

	d.Add(Event{Path: "/a", Type: EventModified})
	d.Stop()

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, c.snapshot())
}

func TestDebouncerStatPreValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	stats := NewStatCache(8)
	c := &collector{}
	d := NewDebouncer(30*time.Millisecond, stats, c.handle)
	defer d.Stop()

	// First modify: unknown path counts as changed.
	d.Add(Event{Path: path, Type: EventModified})
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, time.Second, 10*time.Millisecond)

	// Unchanged (size, mtime): dropped before reaching the handler.
	d.Add(Event{Path: path, Type: EventModified})
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, c.snapshot(), 1)

	// Content with a different size passes again.
	require.NoError(t, os.WriteFile(path, []byte("xy"), 0o644))
	d.Add(Event{Path: path, Type: EventModified})
	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestStatCacheForget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	stats := NewStatCache(8)
	assert.True(t, stats.Changed(path), "first sighting is a change")
	assert.False(t, stats.Changed(path))

	stats.Forget(path)
	assert.True(t, stats.Changed(path), "forgotten path counts as changed")
}
