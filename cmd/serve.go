package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/obbylabs/obby/internal/agent"
	"github.com/obbylabs/obby/internal/config"
	"github.com/obbylabs/obby/internal/insights"
	"github.com/obbylabs/obby/internal/livingnote"
	"github.com/obbylabs/obby/internal/llm"
	"github.com/obbylabs/obby/internal/patterns"
	"github.com/obbylabs/obby/internal/semantic"
	"github.com/obbylabs/obby/internal/server"
	"github.com/obbylabs/obby/internal/sse"
	"github.com/obbylabs/obby/internal/store"
	"github.com/obbylabs/obby/internal/summarizer"
	"github.com/obbylabs/obby/internal/telemetry"
	"github.com/obbylabs/obby/internal/tracker"
	"github.com/obbylabs/obby/internal/watch"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the watcher, batch summarizer and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	log := newLogger()

	root, err := filepath.Abs(watchDir)
	if err != nil {
		return fmt.Errorf("resolve watch directory: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Port = servePort
	}

	// Store init failure is the one unrecoverable startup error.
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	matcher := patterns.NewMatcher(root, log)
	matcher.SetExtraIgnores(cfg.IgnorePatterns)

	hub := sse.NewHub(log)

	note := livingnote.New(afero.NewOsFs(), livingnote.Config{
		Mode:         livingnote.Mode(cfg.NoteMode),
		NotePath:     cfg.NotePath,
		NotesDir:     cfg.NotesDir,
		FileTemplate: cfg.NoteFileTemplate,
		SummariesDir: cfg.SummariesDir,
	}, log)

	tel, err := telemetry.New(telemetry.Config{
		APIKey:  cfg.TelemetryAPIKey,
		Version: version,
		Enabled: cfg.TelemetryEnabled,
	})
	if err != nil {
		log.Warn("telemetry disabled", "error", err)
	}
	defer func() {
		if tel != nil {
			_ = tel.Close()
		}
	}()

	trk := tracker.New(st, matcher, log)
	trk.SetNotifier(func(path string, changeType store.ChangeType, content string) {
		hub.BroadcastFileUpdated(string(changeType), path, content)
	})
	trk.SetErrorNotifier(func(path string, err error) {
		hub.BroadcastError("tracker", fmt.Sprintf("%s: %v", path, err))
	})

	watcher, err := watch.New(watch.Config{
		Root:         root,
		Matcher:      matcher,
		Handler:      trk.HandleEvent,
		PollInterval: cfg.CheckInterval,
		ForcePolling: cfg.ForcePolling,
		Log:          log,
	})
	if err != nil {
		return err
	}

	ix := semantic.NewIndex(st, log)

	// LLM-backed services are optional; without a provider the pipeline
	// still tracks and the batch falls back to metrics-only notes.
	var completer summarizer.Completer
	var orchestrator *agent.Orchestrator
	var subAgent *llm.SubprocessAgent
	if cfg.LLMProvider != "" {
		provider, err := llm.ValidateProvider(cfg.LLMProvider)
		if err != nil {
			return err
		}
		chatModel, err := llm.NewChatModel(context.Background(), llm.Config{
			Provider:     provider,
			Model:        cfg.LLMModel,
			APIKey:       cfg.LLMAPIKey,
			BaseURL:      cfg.LLMBaseURL,
			AgentCommand: cfg.LLMAgentCommand,
			AgentArgs:    cfg.LLMAgentArgs,
			AgentDir:     root,
		})
		if err != nil {
			return fmt.Errorf("init LLM: %w", err)
		}
		subAgent, _ = chatModel.(*llm.SubprocessAgent)

		sum := llm.NewSummarizer(chatModel, log)
		sum.SetOptions(llm.Options{
			ColdTimeout: cfg.LLMTimeoutCold,
			WarmTimeout: cfg.LLMTimeoutWarm,
		})
		completer = sum

		orchestrator, err = agent.NewOrchestrator(chatModel, agent.DefaultTools(root, matcher, st), st, log)
		if err != nil {
			return fmt.Errorf("init agent: %w", err)
		}
		orchestrator.SetProgress(func(sessionID, eventType, message string, data any) {
			hub.Broadcast(eventType, map[string]any{
				"sessionId": sessionID,
				"message":   message,
				"data":      data,
			})
		})
	} else {
		log.Info("no LLM provider configured, chat disabled and notes use metrics only")
	}

	batcher := summarizer.NewBatcher(st, matcher, orFallback(completer), note, ix, log)
	batcher.SetNotifier(func(notePath, content string) {
		hub.BroadcastLivingNoteUpdated(notePath, content)
		if tel != nil {
			tel.Track(telemetry.EventBatchRun, nil)
		}
	})
	scheduler := summarizer.NewScheduler(batcher, st, log)

	canceller := agent.NewCanceller(log)
	canceller.SetProgress(func(sessionID, eventType, message string, data any) {
		hub.Broadcast(eventType, map[string]any{
			"sessionId": sessionID,
			"message":   message,
			"data":      data,
		})
	})
	if subAgent != nil {
		// Subprocess PIDs feed the canceller's kill escalation.
		subAgent.SetStartHook(func(ctx context.Context, pid int) {
			if sid, ok := agent.SessionFromContext(ctx); ok {
				canceller.SetPID(sid, pid)
			}
		})
	}

	srv := server.New(cfg.Port, server.Deps{
		Store:        st,
		Matcher:      matcher,
		Watcher:      watcher,
		Batcher:      batcher,
		Scheduler:    scheduler,
		Note:         note,
		Hub:          hub,
		Orchestrator: orchestrator,
		Canceller:    canceller,
		Insights:     insights.Defaults(st, insights.TreeSource{Root: root, Matcher: matcher}),
		LLM:          completer,
		Root:         root,
		Log:          log,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Start(); err != nil {
		if err == watch.ErrNoWatchRules {
			log.Warn("watcher idle: add patterns to " + patterns.WatchFileName + " or via the API")
		} else {
			return err
		}
	} else {
		log.Info("watching", "root", root, "backend", string(watcher.Backend()))
	}
	defer watcher.Stop()

	if cfg.PeriodicCheckEnabled {
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	srv.Start(&wg, errChan)
	log.Info("api listening", "port", cfg.Port)
	if tel != nil {
		tel.Track(telemetry.EventServeStarted, map[string]any{"backend": string(watcher.Backend())})
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errChan:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	wg.Wait()
	return nil
}

// orFallback substitutes a completer that always errors, pushing the
// batcher onto its deterministic metrics path.
func orFallback(c summarizer.Completer) summarizer.Completer {
	if c != nil {
		return c
	}
	return noLLM{}
}

type noLLM struct{}

func (noLLM) Complete(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("no LLM provider configured")
}

func (noLLM) SummarizeDiffs(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("no LLM provider configured")
}

func (noLLM) GenerateSessionTitle(context.Context, string) (string, error) {
	return "", fmt.Errorf("no LLM provider configured")
}

func (noLLM) GenerateProposedQuestions(context.Context, string, int) ([]string, error) {
	return nil, fmt.Errorf("no LLM provider configured")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
