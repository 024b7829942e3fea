package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	clearScope string
	clearForce bool
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove stored history for files no longer tracked",
	Long: `Delete stored versions, diffs and events. The scope picks what goes:

  unwatched  files that no longer match the watch rules (default)
  missing    files that no longer exist on disk
  all        every file's history

The living note and semantic index are untouched; use "obby note clear"
for the note.

Examples:
  obby clear
  obby clear --scope missing
  obby clear --scope all --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClear()
	},
}

func init() {
	clearCmd.Flags().StringVar(&clearScope, "scope", "unwatched", "what to remove: unwatched, missing or all")
	clearCmd.Flags().BoolVar(&clearForce, "force", false, "skip the confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}

func runClear() error {
	switch clearScope {
	case "unwatched", "missing", "all":
	default:
		return fmt.Errorf("unknown scope %q (want unwatched, missing or all)", clearScope)
	}

	c, err := apiClient(0)
	if err != nil {
		return err
	}

	if !clearForce {
		prompt := fmt.Sprintf("Delete history for %s files? This cannot be undone", clearScope)
		if clearScope == "all" {
			prompt = "Delete ALL tracked history? This cannot be undone"
		}
		if !confirm(prompt) {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	ctx, cancel := apiLongContext()
	defer cancel()

	removed, err := c.ClearHistory(ctx, clearScope)
	if err != nil {
		return reachErr(c, err)
	}
	if removed == 0 {
		fmt.Println("Nothing to remove.")
		return nil
	}
	fmt.Printf("%s %d rows of history\n", okStyle.Render("removed"), removed)
	return nil
}
