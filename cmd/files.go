package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	filesEventsLimit  int
	filesEventsFailed bool
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List the files obby currently tracks",
	Long: `List the current state of every tracked file: line count, size and
when the last change was recorded. Files deleted from disk no longer
appear here; their history stays in "obby diffs".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFiles()
	},
}

var filesEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List raw filesystem events",
	Long: `List the newest raw filesystem events the watcher observed, before
debouncing and content gating. An unprocessed event means the pipeline
failed after the event was recorded; --failed lists only those, and
"obby doctor" helps find out why.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFilesEvents()
	},
}

func init() {
	filesEventsCmd.Flags().IntVarP(&filesEventsLimit, "limit", "l", 20, "max events to list")
	filesEventsCmd.Flags().BoolVar(&filesEventsFailed, "failed", false, "only events the pipeline did not process")
	filesCmd.AddCommand(filesEventsCmd)
	rootCmd.AddCommand(filesCmd)
}

func runFiles() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	states, err := c.FileStates(ctx)
	if err != nil {
		return reachErr(c, err)
	}
	if len(states) == 0 {
		fmt.Println("No files tracked yet. Start the watcher with \"obby serve\" and edit a watched file.")
		return nil
	}
	for _, st := range states {
		fmt.Printf("%s %s %s\n",
			dimStyle.Render(fmt.Sprintf("%4s", timeAgo(st.UpdatedAt))),
			dimStyle.Render(fmt.Sprintf("%5d lines", st.LineCount)),
			st.FilePath)
	}
	fmt.Println()
	fmt.Println(dimStyle.Render(fmt.Sprintf("%d file(s) tracked", len(states))))
	return nil
}

func runFilesEvents() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	events, err := c.RecentEvents(ctx, filesEventsLimit)
	if err != nil {
		return reachErr(c, err)
	}
	if filesEventsFailed {
		kept := events[:0]
		for _, e := range events {
			if !e.Processed {
				kept = append(kept, e)
			}
		}
		events = kept
	}
	if len(events) == 0 {
		if filesEventsFailed {
			fmt.Println("No failed events. The pipeline processed everything it saw.")
			return nil
		}
		fmt.Println("No events recorded yet.")
		return nil
	}
	for _, e := range events {
		mark := okStyle.Render("done")
		if !e.Processed {
			mark = errStyle.Render("fail")
		}
		fmt.Printf("%s %s %-8s %s\n",
			dimStyle.Render(fmt.Sprintf("%4s", timeAgo(e.Timestamp))),
			mark, e.Type, e.Path)
	}
	return nil
}
