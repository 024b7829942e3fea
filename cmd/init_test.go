package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obbylabs/obby/internal/patterns"
)

func setupInit(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prevDir, prevForce := watchDir, initForce
	watchDir = dir
	initForce = false
	t.Cleanup(func() { watchDir, initForce = prevDir, prevForce })
	return dir
}

func TestInitScaffoldsWatchFiles(t *testing.T) {
	dir := setupInit(t)

	require.NoError(t, runInit())

	for _, name := range []string{patterns.WatchFileName, patterns.IgnoreFileName, "obby.yaml"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "%s should exist", name)
	}

	// The starter rules must parse and make the directory watchable.
	m := patterns.NewMatcher(dir, nil)
	assert.True(t, m.HasWatchRules())
	assert.True(t, m.Accepts(filepath.Join(dir, "note.md")))
	assert.False(t, m.Accepts(filepath.Join(dir, "scratch.tmp")))
}

func TestInitKeepsExistingFiles(t *testing.T) {
	dir := setupInit(t)
	custom := "*.org\n"
	watchPath := filepath.Join(dir, patterns.WatchFileName)
	require.NoError(t, os.WriteFile(watchPath, []byte(custom), 0o644))

	require.NoError(t, runInit())

	data, err := os.ReadFile(watchPath)
	require.NoError(t, err)
	assert.Equal(t, custom, string(data), "existing rules survive a re-run")
}

func TestInitForceOverwrites(t *testing.T) {
	dir := setupInit(t)
	watchPath := filepath.Join(dir, patterns.WatchFileName)
	require.NoError(t, os.WriteFile(watchPath, []byte("*.org\n"), 0o644))

	initForce = true
	require.NoError(t, runInit())

	data, err := os.ReadFile(watchPath)
	require.NoError(t, err)
	assert.Equal(t, starterWatch, string(data))
}

func TestInitCreatesMissingDirectory(t *testing.T) {
	dir := setupInit(t)
	nested := filepath.Join(dir, "vault")
	watchDir = nested

	require.NoError(t, runInit())

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
