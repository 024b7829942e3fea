package summarizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/obbylabs/obby/internal/store"
)

// DefaultInterval is how often the scheduler ticks when no interval is
// configured.
const DefaultInterval = 300 * time.Second

// Scheduler drives the batcher on a cooperative loop. Interval and
// enablement are re-read from config on every tick, so settings changes
// take effect without a restart.
type Scheduler struct {
	batcher *Batcher
	store   *store.Store
	log     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScheduler creates a scheduler over b.
func NewScheduler(b *Batcher, st *store.Store, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{batcher: b, store: st, log: log}
}

// Start launches the loop. Starting an already-running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx)
}

// Stop halts the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()
	<-done
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		interval := s.interval(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if !s.store.GetConfigBool(ctx, store.KeyBatchAIEnabled, true) {
			continue
		}
		res, err := s.batcher.Run(ctx, false)
		switch {
		case err != nil:
			s.log.Error("batch run failed", "error", err)
		case res.Updated:
			s.log.Info("living note updated", "files", res.FilesConsidered, "diffs", res.DiffsConsumed)
		}
	}
}

func (s *Scheduler) interval(ctx context.Context) time.Duration {
	secs := s.store.GetConfigInt(ctx, store.KeyAIUpdateInterval, int(DefaultInterval/time.Second))
	if secs < 10 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}
