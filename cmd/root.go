// Package cmd wires the obby CLI.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// watchDir is the directory to monitor, settable via --dir.
	watchDir string
	// verbose enables debug logging.
	verbose bool

	version = "0.1.0"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "obby",
	Short: "Obby watches a directory and keeps a living note of what changed.",
	Long: `Obby is a local observability pipeline for your notes and working files.
It watches a directory, records every meaningful edit with full diff
history, and periodically asks an LLM to fold recent activity into a
human-readable living note. An HTTP API exposes history, search,
insights and a tool-using chat agent over the same data.`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the CLI. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&watchDir, "dir", "d", ".", "directory to watch")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}
