// Package llm provides a unified interface for LLM providers using CloudWeGo Eino.
package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Provider identifies the LLM provider to use.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"

	// ProviderAgent shells out to a local agent CLI per completion
	// instead of calling an HTTP API.
	ProviderAgent Provider = "agent"

	// DefaultProvider is used when no provider is configured.
	DefaultProvider = ProviderOpenAI

	// DefaultOllamaURL is the default URL for a local Ollama server.
	DefaultOllamaURL = "http://localhost:11434"
)

// Config holds configuration for creating an LLM client.
type Config struct {
	Provider Provider
	Model    string
	APIKey   string // required for openai, anthropic, gemini
	BaseURL  string // required for ollama (default: http://localhost:11434)

	// Agent provider settings.
	AgentCommand string
	AgentArgs    []string
	AgentDir     string
}

// DefaultModelForProvider returns the default chat model ID for a
// provider. The agent provider has no model id; its CLI decides.
func DefaultModelForProvider(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderOllama:
		return "llama3.2"
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	case ProviderGemini:
		return "gemini-2.0-flash"
	default:
		return ""
	}
}

// ValidateProvider checks if the given provider string is supported.
func ValidateProvider(p string) (Provider, error) {
	switch Provider(p) {
	case ProviderOpenAI, ProviderOllama, ProviderAnthropic, ProviderGemini, ProviderAgent:
		return Provider(p), nil
	default:
		return "", fmt.Errorf("unsupported provider: %s (supported: openai, ollama, anthropic, gemini, agent)", p)
	}
}

// NewChatModel creates a ChatModel instance based on the provider
// configuration. The returned ToolCallingChatModel can be used directly
// for Generate() calls and bound to tools for the chat agent.
func NewChatModel(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModelForProvider(cfg.Provider)
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required")
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:  cfg.Model,
			APIKey: cfg.APIKey,
		})

	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   cfg.Model,
		})

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		})

	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini API key is required")
		}
		// The gemini extension reads its key from the environment.
		_ = os.Setenv("GOOGLE_API_KEY", cfg.APIKey)
		_ = os.Setenv("GEMINI_API_KEY", cfg.APIKey)

		return gemini.NewChatModel(ctx, &gemini.Config{
			Model: cfg.Model,
		})

	case ProviderAgent:
		return NewSubprocessAgent(cfg.AgentCommand, cfg.AgentArgs, cfg.AgentDir, nil)

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: openai, ollama, anthropic, gemini, agent)", cfg.Provider)
	}
}
