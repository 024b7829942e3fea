package summarizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obbylabs/obby/internal/store"
)

func TestSchedulerStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	s := NewScheduler(h.batcher, h.store, nil)

	assert.False(t, s.Running())

	s.Start(context.Background())
	assert.True(t, s.Running())

	// Starting again is a no-op, not a second loop.
	s.Start(context.Background())
	assert.True(t, s.Running())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, s.Running())

	// Stopping again is safe.
	s.Stop()
}

func TestSchedulerIntervalFloor(t *testing.T) {
	h := newHarness(t)
	s := NewScheduler(h.batcher, h.store, nil)
	ctx := context.Background()

	assert.Equal(t, DefaultInterval, s.interval(ctx), "default when unset")

	require.NoError(t, h.store.SetConfig(ctx, store.KeyAIUpdateInterval, 3, ""))
	assert.Equal(t, 10*time.Second, s.interval(ctx), "sub-10s intervals are clamped")

	require.NoError(t, h.store.SetConfig(ctx, store.KeyAIUpdateInterval, 120, ""))
	assert.Equal(t, 120*time.Second, s.interval(ctx))
}

func TestSchedulerRestartAfterStop(t *testing.T) {
	h := newHarness(t)
	s := NewScheduler(h.batcher, h.store, nil)

	s.Start(context.Background())
	s.Stop()
	s.Start(context.Background())
	assert.True(t, s.Running())
	s.Stop()
	assert.False(t, s.Running())
}
