package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/obbylabs/obby/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(watchDir)
		if err != nil {
			return err
		}
		cfg, err := config.Load(root)
		if err != nil {
			return err
		}

		fmt.Println(titleStyle.Render("obby configuration"))
		fmt.Println(labelStyle.Render("directory") + cfg.MonitoringDirectory)
		fmt.Println(labelStyle.Render("database") + cfg.DatabasePath)
		fmt.Println(labelStyle.Render("port") + fmt.Sprintf("%d", cfg.Port))
		fmt.Println(labelStyle.Render("note mode") + cfg.NoteMode)
		if cfg.NoteMode == "daily" {
			fmt.Println(labelStyle.Render("notes dir") + cfg.NotesDir)
		} else {
			fmt.Println(labelStyle.Render("note path") + cfg.NotePath)
		}
		fmt.Println(labelStyle.Render("summaries") + cfg.SummariesDir)
		provider := cfg.LLMProvider
		if provider == "" {
			provider = warnStyle.Render("none (metrics-only notes)")
		}
		fmt.Println(labelStyle.Render("llm") + provider)
		if cfg.LLMModel != "" {
			fmt.Println(labelStyle.Render("model") + cfg.LLMModel)
		}
		fmt.Println(labelStyle.Render("telemetry") + fmt.Sprintf("%t", cfg.TelemetryEnabled))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
