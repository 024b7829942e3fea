// Package config loads runtime configuration from file, environment
// and defaults via viper. Environment variables use the OBBY_ prefix
// with dots replaced by underscores (OBBY_LLM_PROVIDER).
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Keys used across the app.
const (
	KeyMonitoringDirectory  = "monitoringDirectory"
	KeyCheckInterval        = "checkInterval"
	KeyIgnorePatterns       = "ignorePatterns"
	KeyPeriodicCheckEnabled = "periodicCheckEnabled"

	KeyPort         = "server.port"
	KeyDatabasePath = "database.path"

	KeyLLMProvider     = "llm.provider"
	KeyLLMModel        = "llm.model"
	KeyLLMAPIKey       = "llm.apiKey"
	KeyLLMBaseURL      = "llm.baseUrl"
	KeyLLMAgentCommand = "llm.agentCommand"
	KeyLLMAgentArgs    = "llm.agentArgs"
	KeyLLMTimeoutCold  = "llm.coldTimeout"
	KeyLLMTimeoutWarm  = "llm.warmTimeout"

	KeyNoteMode         = "livingNote.mode"
	KeyNotePath         = "livingNote.path"
	KeyNotesDir         = "livingNote.dailyDir"
	KeyNoteFileTemplate = "livingNote.fileTemplate"
	KeySummariesDir     = "livingNote.summariesDir"

	KeyTelemetryEnabled = "telemetry.enabled"
	KeyTelemetryAPIKey  = "telemetry.apiKey"
	KeyForcePolling     = "watcher.forcePolling"
)

// Config is the resolved runtime configuration.
type Config struct {
	MonitoringDirectory  string
	CheckInterval        time.Duration
	IgnorePatterns       []string
	PeriodicCheckEnabled bool

	Port         int
	DatabasePath string

	LLMProvider     string
	LLMModel        string
	LLMAPIKey       string
	LLMBaseURL      string
	LLMAgentCommand string
	LLMAgentArgs    []string
	LLMTimeoutCold  time.Duration
	LLMTimeoutWarm  time.Duration

	NoteMode         string
	NotePath         string
	NotesDir         string
	NoteFileTemplate string
	SummariesDir     string

	TelemetryEnabled bool
	TelemetryAPIKey  string
	ForcePolling     bool
}

// Load reads .env, an optional obby.yaml beside the watched directory,
// and the environment.
func Load(root string) (*Config, error) {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, root)

	v.SetConfigName("obby")
	v.SetConfigType("yaml")
	if root != "" {
		v.AddConfigPath(root)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("OBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		MonitoringDirectory:  v.GetString(KeyMonitoringDirectory),
		CheckInterval:        v.GetDuration(KeyCheckInterval),
		IgnorePatterns:       v.GetStringSlice(KeyIgnorePatterns),
		PeriodicCheckEnabled: v.GetBool(KeyPeriodicCheckEnabled),
		Port:                 v.GetInt(KeyPort),
		DatabasePath:         v.GetString(KeyDatabasePath),
		LLMProvider:          v.GetString(KeyLLMProvider),
		LLMModel:             v.GetString(KeyLLMModel),
		LLMAPIKey:            v.GetString(KeyLLMAPIKey),
		LLMBaseURL:           v.GetString(KeyLLMBaseURL),
		LLMAgentCommand:      v.GetString(KeyLLMAgentCommand),
		LLMAgentArgs:         v.GetStringSlice(KeyLLMAgentArgs),
		LLMTimeoutCold:       v.GetDuration(KeyLLMTimeoutCold),
		LLMTimeoutWarm:       v.GetDuration(KeyLLMTimeoutWarm),
		NoteMode:             v.GetString(KeyNoteMode),
		NotePath:             v.GetString(KeyNotePath),
		NotesDir:             v.GetString(KeyNotesDir),
		NoteFileTemplate:     v.GetString(KeyNoteFileTemplate),
		SummariesDir:         v.GetString(KeySummariesDir),
		TelemetryEnabled:     v.GetBool(KeyTelemetryEnabled),
		TelemetryAPIKey:      v.GetString(KeyTelemetryAPIKey),
		ForcePolling:         v.GetBool(KeyForcePolling),
	}

	// API keys commonly live in plain provider env vars.
	if cfg.LLMAPIKey == "" {
		for _, name := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
			if val := v.GetString(name); val != "" {
				cfg.LLMAPIKey = val
				break
			}
		}
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, root string) {
	if root == "" {
		root = "."
	}
	v.SetDefault(KeyMonitoringDirectory, root)
	v.SetDefault(KeyCheckInterval, "1s")
	v.SetDefault(KeyIgnorePatterns, []string{})
	v.SetDefault(KeyPeriodicCheckEnabled, true)

	v.SetDefault(KeyPort, 8787)
	v.SetDefault(KeyDatabasePath, filepath.Join(root, "database", "obby.db"))

	v.SetDefault(KeyLLMProvider, "")
	v.SetDefault(KeyLLMModel, "")
	v.SetDefault(KeyLLMAgentCommand, "")
	v.SetDefault(KeyLLMAgentArgs, []string{})
	// The first LLM call after startup tends to pay cold-start costs
	// (model load, connection warmup), so it gets a longer deadline.
	v.SetDefault(KeyLLMTimeoutCold, "60s")
	v.SetDefault(KeyLLMTimeoutWarm, "30s")

	v.SetDefault(KeyNoteMode, "single")
	v.SetDefault(KeyNotePath, filepath.Join(root, "notes", "living-note.md"))
	v.SetDefault(KeyNotesDir, filepath.Join(root, "notes", "daily"))
	v.SetDefault(KeyNoteFileTemplate, "{date}-living-note.md")
	v.SetDefault(KeySummariesDir, filepath.Join(root, "notes", "summaries"))

	v.SetDefault(KeyTelemetryEnabled, false)
	v.SetDefault(KeyForcePolling, false)

	// Provider env vars read without the OBBY_ prefix.
	for _, name := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
		_ = v.BindEnv(name, name)
	}
}
