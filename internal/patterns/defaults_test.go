package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkipDir(t *testing.T) {
	for _, name := range []string{"node_modules", "vendor", "__pycache__", "coverage", ".git", ".venv", ".obsidian"} {
		assert.True(t, SkipDir(name), name)
	}
	for _, name := range []string{"notes", "src", "daily", ".", ".."} {
		assert.False(t, SkipDir(name), name)
	}
}

func TestTransientFile(t *testing.T) {
	transient := []string{
		".DS_Store", "Thumbs.db", "4913",
		"a.md.swp", "b.swo", "c.swx", "draft.tmp", "notes.md~",
		".#lockfile", "#autosave#",
	}
	for _, name := range transient {
		assert.True(t, TransientFile(name), name)
	}

	durable := []string{"notes.md", "swp", "tmp.md", "#heading.md", "inbox#1.md"}
	for _, name := range durable {
		assert.False(t, TransientFile(name), name)
	}
}
