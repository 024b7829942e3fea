package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obbylabs/obby/internal/patterns"
	"github.com/obbylabs/obby/internal/store"
	"github.com/obbylabs/obby/internal/watch"
)

func setupTracker(t *testing.T) (*Tracker, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, patterns.WatchFileName), []byte("*.md\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, patterns.IgnoreFileName), []byte("*.tmp\n"), 0o644))
	m := patterns.NewMatcher(dir, nil)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(st, m, nil), st, dir
}

func writeAndTrack(t *testing.T, tr *Tracker, path, content string, typ watch.EventType) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, tr.Track(context.Background(), watch.Event{Path: path, Type: typ, Time: time.Now()}))
}

func TestSingleEditProducesOneVersion(t *testing.T) {
	tr, st, dir := setupTracker(t)
	ctx := context.Background()
	path := filepath.Join(dir, "a.md")

	writeAndTrack(t, tr, path, "hello\n", watch.EventCreated)
	writeAndTrack(t, tr, path, "hello world\n", watch.EventModified)

	diffs, err := st.DiffsForPath(ctx, path)
	require.NoError(t, err)
	require.Len(t, diffs, 2, "creation + modification")

	edit := diffs[1]
	assert.Equal(t, store.ChangeModified, edit.ChangeType)
	assert.Equal(t, 1, edit.LinesAdded)
	assert.Equal(t, 1, edit.LinesRemoved)
	assert.Equal(t, diffs[0].NewVersionID, edit.OldVersionID, "diff references the immediately previous version")

	state, err := st.GetFileState(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, HashContent("hello world\n"), state.ContentHash)

	latest, err := st.LatestVersion(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, state.ContentHash, latest.ContentHash, "state matches highest-id version")
}

func TestIdenticalWriteSuppressed(t *testing.T) {
	tr, st, dir := setupTracker(t)
	ctx := context.Background()
	path := filepath.Join(dir, "a.md")

	writeAndTrack(t, tr, path, "x", watch.EventCreated)
	writeAndTrack(t, tr, path, "x", watch.EventModified)
	writeAndTrack(t, tr, path, "x", watch.EventModified)

	diffs, err := st.DiffsForPath(ctx, path)
	require.NoError(t, err)
	assert.Len(t, diffs, 1, "only the creation is recorded")

	changes, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestEmptyFileCreationDeferred(t *testing.T) {
	tr, st, dir := setupTracker(t)
	ctx := context.Background()
	path := filepath.Join(dir, "a.md")

	// An empty file carries no recordable delta; the event is consumed
	// without error and without rows.
	writeAndTrack(t, tr, path, "", watch.EventCreated)

	diffs, err := st.DiffsForPath(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, diffs)
	_, err = st.GetFileState(ctx, path)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The first real content becomes the creation.
	writeAndTrack(t, tr, path, "now with content\n", watch.EventModified)
	diffs, err = st.DiffsForPath(ctx, path)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, store.ChangeCreated, diffs[0].ChangeType)
}

func TestLineEndingOnlyChangeSuppressed(t *testing.T) {
	tr, st, dir := setupTracker(t)
	ctx := context.Background()
	path := filepath.Join(dir, "a.md")

	writeAndTrack(t, tr, path, "a\nb\n", watch.EventCreated)
	writeAndTrack(t, tr, path, "a\r\nb\r\n", watch.EventModified)

	diffs, err := st.DiffsForPath(ctx, path)
	require.NoError(t, err)
	assert.Len(t, diffs, 1, "normalized hash gates the CRLF rewrite")
}

func TestIgnoredFileProducesNothing(t *testing.T) {
	tr, st, dir := setupTracker(t)
	ctx := context.Background()
	path := filepath.Join(dir, "scratch.tmp")

	writeAndTrack(t, tr, path, "junk", watch.EventCreated)
	writeAndTrack(t, tr, path, "more junk", watch.EventModified)

	diffs, err := st.DiffsForPath(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, diffs)

	events, err := st.RecentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = st.GetFileState(ctx, path)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeletionKeepsHistory(t *testing.T) {
	tr, st, dir := setupTracker(t)
	ctx := context.Background()
	path := filepath.Join(dir, "a.md")

	writeAndTrack(t, tr, path, "content\n", watch.EventCreated)
	require.NoError(t, os.Remove(path))
	require.NoError(t, tr.Track(ctx, watch.Event{Path: path, Type: watch.EventDeleted, Time: time.Now()}))

	_, err := st.GetFileState(ctx, path)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.LatestVersion(ctx, path)
	assert.NoError(t, err, "versions survive deletion")

	changes, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	assert.Equal(t, store.ChangeDeleted, changes[0].ChangeType)
	assert.Empty(t, changes[0].NewContentHash)
}

func TestRecreateAfterDeleteDiffsAgainstEmpty(t *testing.T) {
	tr, st, dir := setupTracker(t)
	ctx := context.Background()
	path := filepath.Join(dir, "a.md")

	writeAndTrack(t, tr, path, "v1\n", watch.EventCreated)
	require.NoError(t, os.Remove(path))
	require.NoError(t, tr.Track(ctx, watch.Event{Path: path, Type: watch.EventDeleted, Time: time.Now()}))
	writeAndTrack(t, tr, path, "v2\n", watch.EventCreated)

	diffs, err := st.DiffsForPath(ctx, path)
	require.NoError(t, err)
	require.Len(t, diffs, 2)
	assert.Equal(t, store.ChangeCreated, diffs[1].ChangeType)
	assert.Zero(t, diffs[1].OldVersionID)
}

func TestDiffHistoryRoundTrip(t *testing.T) {
	tr, st, dir := setupTracker(t)
	ctx := context.Background()
	path := filepath.Join(dir, "a.md")

	writeAndTrack(t, tr, path, "# plan\n", watch.EventCreated)
	writeAndTrack(t, tr, path, "# plan\n\n- step one\n- step two\n", watch.EventModified)
	writeAndTrack(t, tr, path, "# plan\n\n- step one\n- step two\n- step three\n", watch.EventModified)
	require.NoError(t, os.Remove(path))
	require.NoError(t, tr.Track(ctx, watch.Event{Path: path, Type: watch.EventDeleted, Time: time.Now()}))
	writeAndTrack(t, tr, path, "fresh start\n", watch.EventCreated)
	writeAndTrack(t, tr, path, "fresh start\nwith a second line\n", watch.EventModified)

	diffs, err := st.DiffsForPath(ctx, path)
	require.NoError(t, err)
	require.Len(t, diffs, 5, "deletions record no diff")

	// Replaying every stored diff in order must land on the latest
	// version byte for byte. A created diff starts over from empty.
	content := ""
	for _, d := range diffs {
		if d.ChangeType == store.ChangeCreated {
			content = ""
		}
		content = applyUnified(t, content, d.DiffContent)
	}

	latest, err := st.LatestVersion(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, latest.Content, content)
	assert.Equal(t, "fresh start\nwith a second line\n", content)
}

func TestMoveTracksDestinationAndSource(t *testing.T) {
	tr, st, dir := setupTracker(t)
	ctx := context.Background()
	src := filepath.Join(dir, "old.md")
	dst := filepath.Join(dir, "new.md")

	writeAndTrack(t, tr, src, "body\n", watch.EventCreated)
	require.NoError(t, os.Rename(src, dst))
	require.NoError(t, tr.Track(ctx, watch.Event{Path: dst, OldPath: src, Type: watch.EventMoved, Time: time.Now()}))

	dstDiffs, err := st.DiffsForPath(ctx, dst)
	require.NoError(t, err)
	require.Len(t, dstDiffs, 1)
	assert.Equal(t, store.ChangeCreated, dstDiffs[0].ChangeType)

	_, err = st.GetFileState(ctx, src)
	assert.ErrorIs(t, err, store.ErrNotFound, "source state removed")
}

func TestNotifierFiresAfterCommit(t *testing.T) {
	tr, _, dir := setupTracker(t)
	path := filepath.Join(dir, "a.md")

	var gotPath string
	var gotType store.ChangeType
	tr.SetNotifier(func(p string, ct store.ChangeType, content string) {
		gotPath = p
		gotType = ct
	})

	writeAndTrack(t, tr, path, "x\n", watch.EventCreated)
	assert.Equal(t, path, gotPath)
	assert.Equal(t, store.ChangeCreated, gotType)
}

func TestEventRowsUseRelativePaths(t *testing.T) {
	tr, st, dir := setupTracker(t)
	path := filepath.Join(dir, "a.md")

	writeAndTrack(t, tr, path, "x\n", watch.EventCreated)

	events, err := st.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a.md", events[0].Path)
	assert.True(t, events[0].Processed, "successful pipeline marks the event")
}

func TestFailedEventStaysUnprocessed(t *testing.T) {
	tr, st, dir := setupTracker(t)
	path := filepath.Join(dir, "ghost.md")

	// The file vanished between the event and the content read; the
	// audit row must stay unprocessed so the failure is visible.
	err := tr.Track(context.Background(), watch.Event{Path: path, Type: watch.EventCreated, Time: time.Now()})
	require.Error(t, err)

	events, err := st.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Processed)
}

func TestErrorNotifierFiresOnPersistentWriteFailure(t *testing.T) {
	tr, st, dir := setupTracker(t)
	path := filepath.Join(dir, "a.md")
	writeAndTrack(t, tr, path, "x\n", watch.EventCreated)

	var gotPath string
	tr.SetErrorNotifier(func(p string, err error) { gotPath = p })

	require.NoError(t, st.Close())
	err := tr.Track(context.Background(), watch.Event{Path: path, Type: watch.EventDeleted, Time: time.Now()})
	require.Error(t, err)
	assert.Equal(t, path, gotPath, "failure surfaced after the retry")
}
