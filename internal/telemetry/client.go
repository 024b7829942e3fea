// Package telemetry provides anonymous, opt-in usage analytics.
// No file paths, file contents or prompts ever leave the machine; only
// event names and coarse counters are reported.
package telemetry

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
)

// Event names tracked by the pipeline.
const (
	EventServeStarted   = "serve_started"
	EventMonitorStarted = "monitor_started"
	EventBatchRun       = "batch_run"
	EventChatMessage    = "chat_message"
)

// Client is the telemetry surface. A nil or disabled client is a no-op.
type Client interface {
	Track(event string, properties map[string]any)
	Close() error
}

// enqueuer is the slice of the PostHog SDK we use, mockable in tests.
type enqueuer interface {
	io.Closer
	Enqueue(msg posthog.Message) error
}

// PostHog wraps the PostHog SDK for async delivery.
type PostHog struct {
	mu       sync.RWMutex
	client   enqueuer
	distinct string
	version  string
	enabled  bool
}

// Config for the telemetry client.
type Config struct {
	APIKey   string
	Endpoint string // optional, for self-hosted
	Version  string
	Enabled  bool
	// AnonymousID persists across runs; generated when empty.
	AnonymousID string
}

// New creates a client. With no API key or telemetry disabled, the
// returned client is a permanent no-op.
func New(cfg Config) (*PostHog, error) {
	p := &PostHog{version: cfg.Version, enabled: cfg.Enabled && cfg.APIKey != ""}
	if !p.enabled {
		return p, nil
	}

	p.distinct = cfg.AnonymousID
	if p.distinct == "" {
		p.distinct = uuid.NewString()
	}

	phCfg := posthog.Config{
		BatchSize: 10,
		Interval:  time.Second,
		Logger:    quietLogger{},
	}
	if cfg.Endpoint != "" {
		phCfg.Endpoint = cfg.Endpoint
	}
	client, err := posthog.NewWithConfig(cfg.APIKey, phCfg)
	if err != nil {
		return nil, err
	}
	p.client = client
	return p, nil
}

// Track sends one event without blocking. No-op when disabled.
func (p *PostHog) Track(event string, properties map[string]any) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.enabled || p.client == nil {
		return
	}

	props := posthog.NewProperties().Set("version", p.version)
	for k, v := range properties {
		props = props.Set(k, v)
	}
	_ = p.client.Enqueue(posthog.Capture{
		DistinctId: p.distinct,
		Event:      event,
		Properties: props,
	})
}

// Close flushes pending events.
func (p *PostHog) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// quietLogger suppresses SDK transport noise from normal output.
type quietLogger struct{}

func (quietLogger) Debugf(string, ...any) {}
func (quietLogger) Logf(string, ...any)   {}
func (quietLogger) Warnf(string, ...any)  {}
func (quietLogger) Errorf(string, ...any) {}
