package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// maxAttempts bounds completion retries for transient provider errors.
	maxAttempts = 3

	// defaultBackoff is the base delay doubled on each retry.
	defaultBackoff = time.Second

	// The first request after startup pays cold-start costs (local
	// model load, connection warmup) and gets a longer per-attempt
	// deadline than subsequent ones.
	defaultColdTimeout = 60 * time.Second
	defaultWarmTimeout = 30 * time.Second
)

// Options tunes completion behavior. Zero values keep provider and
// package defaults.
type Options struct {
	Temperature float32
	MaxTokens   int
	ColdTimeout time.Duration
	WarmTimeout time.Duration
}

// Summarizer wraps a chat model with the completion operations the
// batch pipeline and chat surface need. All operations retry transient
// failures with exponential backoff before giving up.
type Summarizer struct {
	model   model.BaseChatModel
	log     *slog.Logger
	backoff time.Duration
	opts    Options
	warm    atomic.Bool
}

// NewSummarizer creates a summarizer over m.
func NewSummarizer(m model.BaseChatModel, log *slog.Logger) *Summarizer {
	if log == nil {
		log = slog.Default()
	}
	return &Summarizer{model: m, log: log, backoff: defaultBackoff}
}

// SetOptions overrides generation parameters and attempt deadlines.
// Call before the summarizer starts serving requests.
func (s *Summarizer) SetOptions(opts Options) {
	s.opts = opts
}

// attemptTimeout picks the deadline for one Generate call. The cold
// value applies until a completion has succeeded.
func (s *Summarizer) attemptTimeout() time.Duration {
	if s.warm.Load() {
		if s.opts.WarmTimeout > 0 {
			return s.opts.WarmTimeout
		}
		return defaultWarmTimeout
	}
	if s.opts.ColdTimeout > 0 {
		return s.opts.ColdTimeout
	}
	return defaultColdTimeout
}

func (s *Summarizer) generateOpts() []model.Option {
	var opts []model.Option
	if s.opts.Temperature > 0 {
		opts = append(opts, model.WithTemperature(s.opts.Temperature))
	}
	if s.opts.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(s.opts.MaxTokens))
	}
	return opts
}

// Complete sends a system+user prompt pair and returns the assistant
// text. Up to three attempts with exponential backoff.
func (s *Summarizer) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	}
	genOpts := s.generateOpts()

	var lastErr error
	delay := s.backoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout())
		resp, err := s.model.Generate(attemptCtx, msgs, genOpts...)
		cancel()
		if err == nil {
			s.warm.Store(true)
			return strings.TrimSpace(resp.Content), nil
		}
		lastErr = err
		s.log.Warn("llm completion failed", "attempt", attempt, "error", err)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", maxAttempts, lastErr)
}

// SummarizeDiffs produces a structured summary for a single file's diff.
// The response follows the Summary/Topics/Keywords/Impact layout that
// the semantic index parses tolerantly.
func (s *Summarizer) SummarizeDiffs(ctx context.Context, filePath, diff string) (string, error) {
	system := `You are an observability assistant summarizing file changes.
Respond in exactly this format:
**Summary**: one or two sentences describing what changed and why it matters
**Topics**: comma-separated topics touched by the change
**Keywords**: comma-separated search keywords
**Impact**: brief, moderate, or significant`

	user := fmt.Sprintf("File: %s\n\nUnified diff:\n%s", filePath, diff)
	return s.Complete(ctx, system, user)
}

// GenerateProposedQuestions suggests follow-up questions grounded in a
// note's recent content.
func (s *Summarizer) GenerateProposedQuestions(ctx context.Context, noteContent string, count int) ([]string, error) {
	if count <= 0 {
		count = 3
	}
	system := fmt.Sprintf(`You suggest questions a user might ask about their recent activity.
Return exactly %d questions, one per line, no numbering and no extra text.`, count)

	raw, err := s.Complete(ctx, system, noteContent)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		if line != "" {
			out = append(out, line)
		}
		if len(out) == count {
			break
		}
	}
	return out, nil
}

// GenerateSessionTitle produces a short Title Case label for a chat
// session from its opening message.
func (s *Summarizer) GenerateSessionTitle(ctx context.Context, firstMessage string) (string, error) {
	system := `Generate a short title for a chat session from the user's first message.
Return only the title: 3 to 7 words, Title Case, no quotes, no trailing punctuation.`

	title, err := s.Complete(ctx, system, firstMessage)
	if err != nil {
		return "", err
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimRight(title, ".!?")
	return clampTitle(title), nil
}

// clampTitle enforces the 3-7 word bound, truncating long responses and
// leaving short ones alone.
func clampTitle(title string) string {
	words := strings.Fields(title)
	if len(words) > 7 {
		words = words[:7]
	}
	return strings.Join(words, " ")
}
