package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obbylabs/obby/internal/agent"
	"github.com/obbylabs/obby/internal/insights"
	"github.com/obbylabs/obby/internal/livingnote"
	"github.com/obbylabs/obby/internal/patterns"
	"github.com/obbylabs/obby/internal/server"
	"github.com/obbylabs/obby/internal/sse"
	"github.com/obbylabs/obby/internal/store"
	"github.com/obbylabs/obby/internal/summarizer"
)

// newTestClient runs a real server over an in-memory store so every
// method is checked against the actual wire contract.
func newTestClient(t *testing.T) (*Client, *store.Store, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, patterns.WatchFileName), []byte("*.md\n"), 0o644))
	m := patterns.NewMatcher(root, nil)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	note := livingnote.New(afero.NewMemMapFs(), livingnote.Config{
		Mode:     livingnote.ModeSingle,
		NotePath: "/note/living.md",
	}, nil)

	srv := server.New(0, server.Deps{
		Store:     st,
		Matcher:   m,
		Note:      note,
		Hub:       sse.NewHub(nil),
		Insights:  insights.Defaults(st, insights.TreeSource{Root: root, Matcher: m}),
		Canceller: agent.NewCanceller(nil),
		Root:      root,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return New(ts.URL), st, root
}

func seedDiff(t *testing.T, st *store.Store, root, name string, when time.Time) int64 {
	t.Helper()
	id, err := st.RecordTrackedChange(context.Background(), store.TrackedChange{
		FilePath:    filepath.Join(root, name),
		ContentHash: "hash-" + name,
		Content:     "body\n",
		LineCount:   1,
		FileSize:    5,
		ChangeType:  store.ChangeCreated,
		DiffContent: "+body\n",
		LinesAdded:  1,
		Timestamp:   when,
	})
	require.NoError(t, err)
	return id
}

func TestStatusAndMonitor(t *testing.T) {
	c, _, root := newTestClient(t)
	ctx := context.Background()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Monitoring)
	assert.Equal(t, root, st.Root)
	assert.Equal(t, []string{"*.md"}, st.WatchPatterns)
	assert.Zero(t, st.EventCount)

	// No watcher is wired into the test server.
	_, err = c.StartMonitoring(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "watcher")
}

func TestFileStatesAndEvents(t *testing.T) {
	c, st, root := newTestClient(t)
	ctx := context.Background()

	seedDiff(t, st, root, "a.md", time.Now())
	_, err := st.RecordEvent(ctx, store.Event{
		Type: store.ChangeCreated, Path: "a.md", Size: 5, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	states, err := c.FileStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, filepath.Join(root, "a.md"), states[0].FilePath)
	assert.Equal(t, "hash-a.md", states[0].ContentHash)

	events, err := c.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a.md", events[0].Path)
	assert.False(t, events[0].Processed)
}

func TestDiffsAndFileContent(t *testing.T) {
	c, st, root := newTestClient(t)
	ctx := context.Background()

	now := time.Now()
	seedDiff(t, st, root, "one.md", now.Add(-time.Hour))
	seedDiff(t, st, root, "two.md", now)

	diffs, err := c.Diffs(ctx, DiffQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, filepath.Join(root, "two.md"), diffs[0].FilePath)

	// The path filter matches the stored absolute path exactly.
	diffs, err = c.Diffs(ctx, DiffQuery{FilePath: filepath.Join(root, "one.md")})
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, filepath.Join(root, "one.md"), diffs[0].FilePath)

	d, err := c.Diff(ctx, diffs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.ChangeCreated, d.ChangeType)
	assert.Equal(t, 1, d.LinesAdded)

	_, err = c.Diff(ctx, 99999)
	assert.True(t, IsNotFound(err))

	// Content flows through the server, not the local filesystem.
	require.NoError(t, c.WriteFileContent(ctx, "notes/today.md", "hello\n"))
	got, err := c.FileContent(ctx, "notes/today.md")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", got)

	_, err = c.FileContent(ctx, "secrets.txt")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestClearHistory(t *testing.T) {
	c, st, root := newTestClient(t)
	ctx := context.Background()

	seedDiff(t, st, root, "gone.md", time.Now())

	_, err := c.ClearHistory(ctx, "everything")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	removed, err := c.ClearHistory(ctx, "all")
	require.NoError(t, err)
	assert.Positive(t, removed)

	diffs, err := c.Diffs(ctx, DiffQuery{})
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestLivingNoteOps(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	note, err := c.LivingNote(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/note/living.md", note.Path)
	assert.NotEmpty(t, note.Content)

	require.NoError(t, c.ClearLivingNote(ctx))

	settings, err := c.NoteSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int(summarizer.DefaultInterval.Seconds()), settings.AIUpdateInterval)
	assert.True(t, settings.BatchAIEnabled)
	assert.Equal(t, summarizer.DefaultMaxBatchSize, settings.AIMaxBatchSize)

	interval := 120
	enabled := false
	settings, err = c.SetNoteSettings(ctx, NoteSettingsPatch{
		AIUpdateInterval: &interval,
		BatchAIEnabled:   &enabled,
	})
	require.NoError(t, err)
	assert.Equal(t, 120, settings.AIUpdateInterval)
	assert.False(t, settings.BatchAIEnabled)

	// No batcher is wired into the test server.
	_, err = c.RunNoteUpdate(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestSearchAndEntries(t *testing.T) {
	c, st, _ := newTestClient(t)
	ctx := context.Background()

	entry := store.SemanticEntry{
		ID:             "entry-1",
		Timestamp:      time.Now(),
		Date:           "2026-08-25",
		Time:           "10:00",
		Type:           "batch_summary",
		Summary:        "Refactored the alpha parser",
		Impact:         store.ImpactModerate,
		SearchableText: "refactored the alpha parser module",
		SourceType:     "batch",
		Topics:         []string{"parser"},
		Keywords:       []string{"alpha", "refactor"},
	}
	require.NoError(t, st.InsertSemanticEntry(ctx, entry))

	results, err := c.Search(ctx, "alpha parser", 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "entry-1", results[0].Entry.ID)
	assert.Greater(t, results[0].Score, 0.0)

	got, err := c.SearchEntry(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"parser"}, got.Topics)

	_, err = c.SearchEntry(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestInsightsOverAPI(t *testing.T) {
	c, st, root := newTestClient(t)
	ctx := context.Background()

	seedDiff(t, st, root, "tracked.md", time.Now())

	available, err := c.AvailableInsights(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(available))
	for _, m := range available {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, "total_activity")

	results, err := c.CalculateInsights(ctx, []string{"total_activity"},
		time.Now().AddDate(0, 0, -1), time.Now(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Status)

	layout, err := c.InsightsLayout(ctx)
	require.NoError(t, err)
	assert.Nil(t, layout, "nothing saved yet")

	require.NoError(t, c.SetInsightsLayout(ctx, json.RawMessage(`{"order":["total_activity"]}`)))
	layout, err = c.InsightsLayout(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"order":["total_activity"]}`, string(layout))
}

func TestChatSurfaceWithoutLLM(t *testing.T) {
	c, st, _ := newTestClient(t)
	ctx := context.Background()

	health, err := c.ChatPing(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.LLM)

	_, err = c.SendChat(ctx, "hello", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)

	tools, err := c.ChatTools(ctx)
	require.NoError(t, err)
	assert.Empty(t, tools)

	// Unknown sessions are reported, not errored.
	ok, err := c.CancelChat(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.LogAgentAction(ctx, "sess-9", "tool_call", "notes_search"))
	actions, err := c.ChatLog(ctx, "sess-9")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "tool_call", actions[0].EventType)
}

func TestPatternOps(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	list, err := c.Patterns(ctx, patterns.KindWatch)
	require.NoError(t, err)
	assert.Equal(t, []string{"*.md"}, list)

	list, err = c.AddPattern(ctx, patterns.KindWatch, "*.rst")
	require.NoError(t, err)
	assert.Contains(t, list, "*.rst")

	_, err = c.AddPattern(ctx, patterns.KindWatch, "*.rst")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	list, err = c.RemovePattern(ctx, patterns.KindWatch, "*.rst")
	require.NoError(t, err)
	assert.NotContains(t, list, "*.rst")

	valid, reason, err := c.ValidatePattern(ctx, "*.md")
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Empty(t, reason)

	valid, reason, err = c.ValidatePattern(ctx, "[bad")
	require.NoError(t, err)
	assert.False(t, valid)
	assert.NotEmpty(t, reason)

	watch, ignore, err := c.ReloadPatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"*.md"}, watch)
	assert.Empty(t, ignore)
}

func TestAPIErrorUnreachableServer(t *testing.T) {
	c := New("http://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.Status(ctx)
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "transport failures are not API errors")
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, "a%20b/c%23d.md", escapePath("a b/c#d.md"))
	assert.Equal(t, "plain.md", escapePath("plain.md"))
}
