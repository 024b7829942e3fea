package insights

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obbylabs/obby/internal/patterns"
)

// watchedTree builds a temp root with a *.md watch rule and returns its
// tree source.
func watchedTree(t *testing.T) TreeSource {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, patterns.WatchFileName), []byte("*.md\n"), 0o644))
	return TreeSource{Root: dir, Matcher: patterns.NewMatcher(dir, nil)}
}

func writeTreeFile(t *testing.T, tree TreeSource, name, content string) string {
	t.Helper()
	path := filepath.Join(tree.Root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCodeMetricsCountsWatchedFilesOnly(t *testing.T) {
	tree := watchedTree(t)
	writeTreeFile(t, tree, "a.md", "one\ntwo\n")
	writeTreeFile(t, tree, "b.md", "three\n")
	writeTreeFile(t, tree, "skip.txt", "unwatched\n")

	res := (&CodeMetrics{Tree: tree}).Calculate(context.Background(), time.Time{}, time.Time{}, nil)
	require.Equal(t, "ok", res.Status)
	assert.Equal(t, 2, res.Value)
	assert.Equal(t, 3, res.Details["lines"])

	chart, ok := res.Chart.(map[string]int)
	require.True(t, ok)
	assert.Equal(t, map[string]int{".md": 2}, chart)
}

func TestCodeMetricsMissingRootIsErrorResult(t *testing.T) {
	tree := TreeSource{Root: filepath.Join(t.TempDir(), "nope")}
	res := (&CodeMetrics{Tree: tree}).Calculate(context.Background(), time.Time{}, time.Time{}, nil)
	assert.Equal(t, "error", res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestStaleTodosIgnoresRecentlyEditedFiles(t *testing.T) {
	tree := watchedTree(t)
	old := writeTreeFile(t, tree, "old.md", "TODO: revisit intro\nplain line\nFIXME broken link\n")
	writeTreeFile(t, tree, "fresh.md", "TODO: in progress\n")

	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	start := time.Now().Add(-24 * time.Hour)
	res := (&StaleTodos{Tree: tree}).Calculate(context.Background(), start, time.Now(), nil)
	require.Equal(t, "ok", res.Status)
	assert.Equal(t, 2, res.Value, "only the untouched file's markers count")

	items, ok := res.Details["items"].([]string)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Contains(t, items[0], "old.md:1")
	assert.Contains(t, items[1], "old.md:3")
}

func TestStaleTodosHonorsLimit(t *testing.T) {
	tree := watchedTree(t)
	path := writeTreeFile(t, tree, "many.md", "TODO a\nTODO b\nTODO c\n")
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	start := time.Now().Add(-24 * time.Hour)
	res := (&StaleTodos{Tree: tree}).Calculate(context.Background(), start, time.Now(), map[string]any{"limit": float64(1)})
	require.Equal(t, "ok", res.Status)
	assert.Equal(t, 3, res.Value, "count is not capped")
	items := res.Details["items"].([]string)
	assert.Len(t, items, 1, "listing is capped")
}

func TestOrphanMentionsResolvesAliasesAndAnchors(t *testing.T) {
	tree := watchedTree(t)
	writeTreeFile(t, tree, "index.md", "see [[notes]] and [[notes|the notes]] and [[notes#heading]]\nalso [[missing page]]\n")
	writeTreeFile(t, tree, "notes.md", "content\n")

	res := (&OrphanMentions{Tree: tree}).Calculate(context.Background(), time.Time{}, time.Time{}, nil)
	require.Equal(t, "ok", res.Status)
	assert.Equal(t, 1, res.Value)

	items, ok := res.Details["items"].([]string)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Contains(t, items[0], "index.md:2")
	assert.Contains(t, items[0], "[[missing page]]")
}

func TestOrphanMentionsAllResolved(t *testing.T) {
	tree := watchedTree(t)
	writeTreeFile(t, tree, "a.md", "links to [[b]]\n")
	writeTreeFile(t, tree, "b.md", "links to [[a]]\n")

	res := (&OrphanMentions{Tree: tree}).Calculate(context.Background(), time.Time{}, time.Time{}, nil)
	require.Equal(t, "ok", res.Status)
	assert.Equal(t, 0, res.Value)
	assert.Equal(t, "all mentions resolve", res.Message)
}
