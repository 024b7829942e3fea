package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obbylabs/obby/internal/patterns"
)

// Temporary diagnostic: same as TestWatcherPollingBackendDetectsChanges
// but waits for the poll loop's initial baseline scan before writing.
func TestScratchPollingDelayedWrite(t *testing.T) {
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

	time.Sleep(200 * time.Millisecond) // let the baseline scan happen first

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
}
