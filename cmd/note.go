package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/obbylabs/obby/internal/client"
)

var (
	noteClearForce   bool
	noteInterval     int
	noteBatch        bool
	noteMaxBatchSize int
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Print the living note",
	Long: `Print the living note a running obby server maintains.

The note is written by the scheduled summarizer; use "obby note update"
to force a run outside the schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNote()
	},
}

var noteUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Force a summarization run now",
	Long: `Summarize the changes recorded since the last run and fold them into
the living note, without waiting for the schedule. A no-op when nothing
changed. Runs the configured LLM, so this can take a while.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNoteUpdate()
	},
}

var noteClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset the living note to its header",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNoteClear()
	},
}

var noteSettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the summarization settings",
	Long: `Show the server's summarization settings, or change them:

  obby note settings                       show current values
  obby note settings --interval 600       summarize every 10 minutes
  obby note settings --batch=false        stop scheduled summaries
  obby note settings --max-batch 25       cap diffs per run

Settings are stored in the database and take effect on the next
scheduler tick, without a server restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNoteSettings(cmd)
	},
}

func init() {
	noteClearCmd.Flags().BoolVar(&noteClearForce, "force", false, "skip the confirmation prompt")
	noteSettingsCmd.Flags().IntVar(&noteInterval, "interval", 0, "seconds between summarization runs (min 10)")
	noteSettingsCmd.Flags().BoolVar(&noteBatch, "batch", true, "run summaries on a schedule")
	noteSettingsCmd.Flags().IntVar(&noteMaxBatchSize, "max-batch", 0, "max diffs folded into one run")

	noteCmd.AddCommand(noteUpdateCmd)
	noteCmd.AddCommand(noteClearCmd)
	noteCmd.AddCommand(noteSettingsCmd)
	rootCmd.AddCommand(noteCmd)
}

func runNote() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	note, err := c.LivingNote(ctx)
	if err != nil {
		return reachErr(c, err)
	}
	fmt.Println(dimStyle.Render(note.Path))
	fmt.Println()
	fmt.Print(note.Content)
	return nil
}

func runNoteUpdate() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiLongContext()
	defer cancel()

	fmt.Println("Summarizing recent changes...")
	res, err := c.RunNoteUpdate(ctx)
	if err != nil {
		return reachErr(c, err)
	}
	if !res.Updated {
		fmt.Println(warnStyle.Render("nothing to do") + dimStyle.Render(" ("+res.Reason+")"))
		return nil
	}
	fmt.Println(okStyle.Render("note updated") +
		fmt.Sprintf(" (%d files, %d diffs)", res.FilesConsidered, res.DiffsConsumed))
	if res.NotePath != "" {
		fmt.Println(dimStyle.Render(res.NotePath))
	}
	return nil
}

func runNoteClear() error {
	if !noteClearForce && !confirm("Reset the living note? Past summaries stay searchable") {
		fmt.Println("Cancelled.")
		return nil
	}
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	if err := c.ClearLivingNote(ctx); err != nil {
		return reachErr(c, err)
	}
	fmt.Println(okStyle.Render("living note cleared"))
	return nil
}

func runNoteSettings(cmd *cobra.Command) error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	patch := client.NoteSettingsPatch{}
	if cmd.Flags().Changed("interval") {
		patch.AIUpdateInterval = &noteInterval
	}
	if cmd.Flags().Changed("batch") {
		patch.BatchAIEnabled = &noteBatch
	}
	if cmd.Flags().Changed("max-batch") {
		patch.AIMaxBatchSize = &noteMaxBatchSize
	}

	var settings *client.NoteSettings
	if patch.AIUpdateInterval != nil || patch.BatchAIEnabled != nil || patch.AIMaxBatchSize != nil {
		settings, err = c.SetNoteSettings(ctx, patch)
	} else {
		settings, err = c.NoteSettings(ctx)
	}
	if err != nil {
		return reachErr(c, err)
	}

	fmt.Println(titleStyle.Render("summarization"))
	if settings.BatchAIEnabled {
		fmt.Println(labelStyle.Render("schedule") + okStyle.Render("on") + fmt.Sprintf(" every %ds", settings.AIUpdateInterval))
	} else {
		fmt.Println(labelStyle.Render("schedule") + warnStyle.Render("off") + " (run \"obby note update\" manually)")
	}
	fmt.Println(labelStyle.Render("max batch") + fmt.Sprintf("%d diffs", settings.AIMaxBatchSize))
	return nil
}
