package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/obbylabs/obby/internal/client"
	"github.com/obbylabs/obby/internal/store"
)

var (
	diffsLimit int
	diffsFile  string
)

var diffsCmd = &cobra.Command{
	Use:   "diffs [id]",
	Short: "List recorded changes, or print one diff in full",
	Long: `List the most recent changes a running obby server has recorded.
With an id, print that diff's full unified-diff content.

Examples:
  obby diffs                 newest 20 changes
  obby diffs --limit 5
  obby diffs --file notes/plan.md
  obby diffs 42              print diff #42`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("diff id must be a number, got %q", args[0])
			}
			return runShowDiff(id)
		}
		return runListDiffs()
	},
}

func init() {
	diffsCmd.Flags().IntVarP(&diffsLimit, "limit", "l", 20, "max diffs to list")
	diffsCmd.Flags().StringVar(&diffsFile, "file", "", "only diffs of this file path")
	rootCmd.AddCommand(diffsCmd)
}

func runListDiffs() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	diffs, err := c.Diffs(ctx, client.DiffQuery{Limit: diffsLimit, FilePath: diffsFile})
	if err != nil {
		return reachErr(c, err)
	}
	if len(diffs) == 0 {
		fmt.Println("No changes recorded yet.")
		return nil
	}
	for _, d := range diffs {
		fmt.Println(formatDiffRow(d))
	}
	fmt.Println()
	fmt.Println(dimStyle.Render(`run "obby diffs <id>" to print one in full`))
	return nil
}

func runShowDiff(id int64) error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	d, err := c.Diff(ctx, id)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("no diff with id %d", id)
		}
		return reachErr(c, err)
	}
	fmt.Println(titleStyle.Render(d.FilePath))
	fmt.Println(dimStyle.Render(fmt.Sprintf("%s · %s · +%d/-%d",
		d.Timestamp.Local().Format("2006-01-02 15:04:05"), d.ChangeType, d.LinesAdded, d.LinesRemoved)))
	fmt.Println()
	fmt.Print(d.DiffContent)
	return nil
}

// formatDiffRow renders one list row: id, age, change type, line delta
// and path.
func formatDiffRow(d store.ContentDiff) string {
	var typ string
	switch d.ChangeType {
	case store.ChangeCreated:
		typ = okStyle.Render(fmt.Sprintf("%-8s", d.ChangeType))
	case store.ChangeDeleted:
		typ = errStyle.Render(fmt.Sprintf("%-8s", d.ChangeType))
	default:
		typ = warnStyle.Render(fmt.Sprintf("%-8s", d.ChangeType))
	}
	return fmt.Sprintf("%s %s %s %s %s",
		dimStyle.Render(fmt.Sprintf("#%-5d", d.ID)),
		dimStyle.Render(fmt.Sprintf("%4s", timeAgo(d.Timestamp))),
		typ,
		fmt.Sprintf("+%d/-%d", d.LinesAdded, d.LinesRemoved),
		d.FilePath)
}
