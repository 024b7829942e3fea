package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/obbylabs/obby/internal/patterns"
)

var initForce bool

const starterWatch = `# Files obby tracks. One glob per line.
# A bare pattern like *.md matches at any depth; end a pattern with /
# to match a whole directory tree.
*.md
*.txt
`

const starterIgnore = `# Files obby never tracks, even when matched by ` + patterns.WatchFileName + `.
*.tmp
drafts/
`

const starterConfig = `# obby configuration. Every key can also be set through the
# environment with the OBBY_ prefix and dots replaced by underscores,
# e.g. OBBY_SERVER_PORT=9000 or OBBY_LLM_PROVIDER=ollama.
server:
  port: 8787

# Uncomment to enable summaries and chat. The API key is read from
# OPENAI_API_KEY / ANTHROPIC_API_KEY / GEMINI_API_KEY when unset here.
#llm:
#  provider: openai
#  model: gpt-4o-mini

#livingNote:
#  mode: single   # or "daily" for one note per day
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create starter watch rules and config in the target directory",
	Long: `Create the files obby needs in the watched directory:

  ` + patterns.WatchFileName + `   glob patterns for files to track
  ` + patterns.IgnoreFileName + `  glob patterns to exclude
  obby.yaml    starter configuration

Files that already exist are left alone unless --force is given.
Run "obby serve" afterwards to start watching.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit()
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

func runInit() error {
	root, err := filepath.Abs(watchDir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{patterns.WatchFileName, starterWatch},
		{patterns.IgnoreFileName, starterIgnore},
		{"obby.yaml", starterConfig},
	}

	fmt.Println(titleStyle.Render("obby init"))
	for _, f := range files {
		path := filepath.Join(root, f.name)
		if _, err := os.Stat(path); err == nil && !initForce {
			fmt.Println(labelStyle.Render(f.name) + warnStyle.Render("exists") + " (kept)")
			continue
		}
		if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		fmt.Println(labelStyle.Render(f.name) + okStyle.Render("created"))
	}

	fmt.Println()
	fmt.Printf("Edit %s to match your files, then run:\n", patterns.WatchFileName)
	fmt.Printf("  obby serve --dir %s\n", root)
	return nil
}
