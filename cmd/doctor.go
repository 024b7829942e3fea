package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/obbylabs/obby/internal/config"
	"github.com/obbylabs/obby/internal/llm"
	"github.com/obbylabs/obby/internal/patterns"
	"github.com/obbylabs/obby/internal/store"
)

var doctorFix bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the obby setup and diagnose issues",
	Long: `Validate the watched directory's obby setup.

Checks:
  - watch and ignore rule files
  - database health and row counts
  - LLM provider configuration
  - whether a server is already running

Use this to troubleshoot a directory that does not track changes or
never produces summaries. With --fix, derived file states and the
search index are rebuilt from their source tables (stop the server
first).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor()
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "rebuild derived file states and the search index")
	rootCmd.AddCommand(doctorCmd)
}

// doctorCheck is one diagnostic result.
type doctorCheck struct {
	name    string
	status  string // "ok", "warn", "fail"
	message string
	hint    string
}

func runDoctor() error {
	root, err := filepath.Abs(watchDir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	checks := []doctorCheck{
		checkWatchRules(root),
		checkIgnoreRules(root),
		checkConfigFile(root),
		checkDatabase(cfg.DatabasePath),
		checkLLM(cfg),
		checkServer(cfg.Port),
	}

	fmt.Println(titleStyle.Render("obby doctor"))
	failed := false
	for _, c := range checks {
		printDoctorCheck(c)
		if c.status == "fail" {
			failed = true
		}
	}

	fmt.Println()
	if failed {
		fmt.Println(errStyle.Render("issues found") + ": fix the failures above, then re-run.")
	} else {
		fmt.Println(okStyle.Render("everything looks good"))
	}

	if doctorFix {
		return runDoctorFix(cfg.DatabasePath)
	}
	return nil
}

func runDoctorFix(dbPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("Nothing to fix: no database yet.")
		return nil
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := st.RebuildFileStates(ctx)
	if err != nil {
		return fmt.Errorf("rebuild file states: %w", err)
	}
	fmt.Printf("%s rebuilt %d file state(s) from version history\n", okStyle.Render("fix"), n)

	mirrored, err := st.RebuildSearchIndex(ctx)
	if err != nil {
		return fmt.Errorf("rebuild search index: %w", err)
	}
	fmt.Printf("%s reindexed %d summaries for search\n", okStyle.Render("fix"), mirrored)
	return nil
}

func printDoctorCheck(c doctorCheck) {
	var status string
	switch c.status {
	case "ok":
		status = okStyle.Render("ok  ")
	case "warn":
		status = warnStyle.Render("warn")
	default:
		status = errStyle.Render("fail")
	}
	fmt.Printf("%s %s%s\n", status, labelStyle.Render(c.name), c.message)
	if c.hint != "" && c.status != "ok" {
		fmt.Printf("     %s\n", c.hint)
	}
}

func checkWatchRules(root string) doctorCheck {
	m := patterns.NewMatcher(root, nil)
	n := len(m.WatchPatterns())
	if !m.HasWatchRules() {
		return doctorCheck{
			name:    "watch rules",
			status:  "fail",
			message: "no watch patterns; the watcher refuses to start",
			hint:    fmt.Sprintf("run \"obby init --dir %s\" and edit %s", root, patterns.WatchFileName),
		}
	}
	return doctorCheck{name: "watch rules", status: "ok", message: fmt.Sprintf("%d patterns", n)}
}

func checkIgnoreRules(root string) doctorCheck {
	m := patterns.NewMatcher(root, nil)
	if _, err := os.Stat(filepath.Join(root, patterns.IgnoreFileName)); err != nil {
		return doctorCheck{
			name:    "ignore rules",
			status:  "warn",
			message: "no " + patterns.IgnoreFileName,
			hint:    "every file matching a watch pattern will be tracked",
		}
	}
	return doctorCheck{name: "ignore rules", status: "ok", message: fmt.Sprintf("%d patterns", len(m.IgnorePatterns()))}
}

func checkConfigFile(root string) doctorCheck {
	if _, err := os.Stat(filepath.Join(root, "obby.yaml")); err != nil {
		return doctorCheck{
			name:    "config",
			status:  "warn",
			message: "no obby.yaml; defaults in effect",
			hint:    "run \"obby init\" to scaffold one",
		}
	}
	return doctorCheck{name: "config", status: "ok", message: "obby.yaml"}
}

func checkDatabase(dbPath string) doctorCheck {
	if _, err := os.Stat(dbPath); err != nil {
		return doctorCheck{
			name:    "database",
			status:  "warn",
			message: "no database yet",
			hint:    "created on first \"obby serve\"",
		}
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return doctorCheck{
			name:    "database",
			status:  "fail",
			message: err.Error(),
			hint:    "check permissions on " + dbPath,
		}
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	events, err := st.CountEvents(ctx)
	if err != nil {
		return doctorCheck{name: "database", status: "fail", message: err.Error()}
	}
	entries, fts, err := st.CountSemanticEntries(ctx)
	if err != nil {
		return doctorCheck{name: "database", status: "fail", message: err.Error()}
	}
	if entries != fts {
		return doctorCheck{
			name:    "database",
			status:  "fail",
			message: fmt.Sprintf("search index out of sync (%d entries, %d indexed)", entries, fts),
			hint:    "stop the server and run \"obby doctor --fix\"",
		}
	}
	return doctorCheck{name: "database", status: "ok", message: fmt.Sprintf("%d events, %d summaries", events, entries)}
}

func checkLLM(cfg *config.Config) doctorCheck {
	if cfg.LLMProvider == "" {
		return doctorCheck{
			name:    "llm",
			status:  "warn",
			message: "not configured; summaries fall back to metrics-only",
			hint:    "set llm.provider in obby.yaml or OBBY_LLM_PROVIDER",
		}
	}
	provider, err := llm.ValidateProvider(cfg.LLMProvider)
	if err != nil {
		return doctorCheck{name: "llm", status: "fail", message: err.Error()}
	}

	switch provider {
	case llm.ProviderAgent:
		if cfg.LLMAgentCommand == "" {
			return doctorCheck{
				name:    "llm",
				status:  "fail",
				message: "agent provider needs llm.agentCommand",
			}
		}
		if _, err := exec.LookPath(cfg.LLMAgentCommand); err != nil {
			return doctorCheck{
				name:    "llm",
				status:  "fail",
				message: fmt.Sprintf("agent command %q not found in PATH", cfg.LLMAgentCommand),
			}
		}
	case llm.ProviderOllama:
		// Runs locally without a key; reachability is checked at call time.
	default:
		if cfg.LLMAPIKey == "" {
			return doctorCheck{
				name:    "llm",
				status:  "fail",
				message: fmt.Sprintf("provider %s has no API key", provider),
				hint:    "set llm.apiKey or the provider's environment variable",
			}
		}
	}

	model := cfg.LLMModel
	if model == "" {
		model = llm.DefaultModelForProvider(provider)
	}
	if model == "" {
		return doctorCheck{name: "llm", status: "ok", message: string(provider)}
	}
	return doctorCheck{name: "llm", status: "ok", message: fmt.Sprintf("%s (%s)", provider, model)}
}

func checkServer(port int) doctorCheck {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/status", port))
	if err != nil {
		return doctorCheck{
			name:    "server",
			status:  "warn",
			message: fmt.Sprintf("not running on port %d", port),
			hint:    "start with \"obby serve\"",
		}
	}
	defer resp.Body.Close()
	return doctorCheck{name: "server", status: "ok", message: fmt.Sprintf("running on port %d", port)}
}
