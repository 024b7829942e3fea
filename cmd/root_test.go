package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootHelp(t *testing.T) {
	b := bytes.NewBufferString("")
	rootCmd.SetOut(b)
	rootCmd.SetErr(b)
	rootCmd.SetArgs([]string{"--help"})

	err := rootCmd.Execute()
	assert.NoError(t, err)

	output := b.String()
	assert.Contains(t, output, "local observability pipeline")
	assert.Contains(t, output, "Usage:")
	assert.Contains(t, output, "Available Commands:")
	assert.Contains(t, output, "--dir")
}

func TestCommandRegistration(t *testing.T) {
	want := []string{
		"serve", "init", "doctor", "config", "version",
		"status", "monitor", "files", "diffs", "search",
		"note", "patterns", "clear", "insights", "chat", "ask",
	}

	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, w := range want {
		assert.True(t, names[w], "command %q is not registered", w)
	}
}

func TestPersistentFlags(t *testing.T) {
	dir := rootCmd.PersistentFlags().Lookup("dir")
	if assert.NotNil(t, dir) {
		assert.Equal(t, "d", dir.Shorthand)
		assert.Equal(t, ".", dir.DefValue)
	}

	v := rootCmd.PersistentFlags().Lookup("verbose")
	if assert.NotNil(t, v) {
		assert.Equal(t, "v", v.Shorthand)
	}
}
