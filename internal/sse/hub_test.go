package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeEmitsConnectedEvent(t *testing.T) {
	h := NewHub(nil)
	c := h.subscribe(nil)
	defer h.unsubscribe(c)

	select {
	case ev := <-c.events:
		assert.Equal(t, TopicConnected, ev.Topic)
		payload, ok := ev.Payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, c.id, payload["clientId"])
	default:
		t.Fatal("connected event not queued")
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := NewHub(nil)
	a := h.subscribe(nil)
	b := h.subscribe(nil)
	defer h.unsubscribe(a)
	defer h.unsubscribe(b)
	<-a.events
	<-b.events

	h.Broadcast("test_topic", map[string]any{"k": "v"})

	for _, c := range []*client{a, b} {
		select {
		case ev := <-c.events:
			assert.Equal(t, "test_topic", ev.Topic)
		default:
			t.Fatal("broadcast not delivered")
		}
	}
}

func TestOverflowDisconnectsSlowClient(t *testing.T) {
	h := NewHub(nil)
	slow := h.subscribe(nil)
	fast := h.subscribe(nil)
	defer h.unsubscribe(fast)
	<-fast.events

	// Fill the slow client's queue; the connected event already holds
	// one slot.
	for i := 0; i < queueSize; i++ {
		h.Broadcast("fill", nil)
	}
	assert.Equal(t, 1, h.ClientCount(), "slow client reaped during broadcast")

	// Its channel was closed so a blocked reader unblocks.
	drained := 0
	for range slow.events {
		drained++
	}
	assert.Equal(t, queueSize, drained)
}

func TestUnsubscribeIdempotentAfterDrop(t *testing.T) {
	h := NewHub(nil)
	c := h.subscribe(nil)
	for i := 0; i < queueSize; i++ {
		h.Broadcast("fill", nil)
	}
	require.Zero(t, h.ClientCount())
	h.unsubscribe(c) // must not double-close
}

// safeRecorder is a ResponseWriter safe for concurrent writes and reads.
type safeRecorder struct {
	mu     sync.Mutex
	header http.Header
	body   strings.Builder
	status int
}

func newSafeRecorder() *safeRecorder {
	return &safeRecorder{header: make(http.Header)}
}

func (r *safeRecorder) Header() http.Header { return r.header }

func (r *safeRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(p)
}

func (r *safeRecorder) WriteHeader(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

func (r *safeRecorder) Flush() {}

func (r *safeRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	h := NewHub(nil)
	rec := newSafeRecorder()
	req := httptest.NewRequest("GET", "/api/files/updates/stream", nil)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req.WithContext(ctx))
		close(done)
	}()

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	h.BroadcastFileUpdated("modified", "/tmp/a.md", "body")

	require.Eventually(t, func() bool {
		return strings.Contains(rec.String(), "event: file_updated")
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	body := rec.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: connected")

	scanner := bufio.NewScanner(strings.NewReader(body))
	sawData := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			sawData = true
		}
	}
	assert.True(t, sawData)
}

func TestTopicFilteredSubscription(t *testing.T) {
	h := NewHub(nil)
	noteOnly := h.subscribe([]string{TopicLivingNoteUpdated})
	all := h.subscribe(nil)
	defer h.unsubscribe(noteOnly)
	defer h.unsubscribe(all)
	<-noteOnly.events
	<-all.events

	h.BroadcastFileUpdated("modified", "/tmp/a.md", "")
	h.BroadcastLivingNoteUpdated("/notes/living.md", "body")

	ev := <-noteOnly.events
	assert.Equal(t, TopicLivingNoteUpdated, ev.Topic, "filtered client skips other topics")
	select {
	case extra := <-noteOnly.events:
		t.Fatalf("unexpected extra event %q", extra.Topic)
	default:
	}

	assert.Equal(t, TopicFileUpdated, (<-all.events).Topic)
	assert.Equal(t, TopicLivingNoteUpdated, (<-all.events).Topic)
}

func TestStreamEventIDsIncrease(t *testing.T) {
	h := NewHub(nil)
	rec := newSafeRecorder()
	req := httptest.NewRequest("GET", "/api/living-note/events", nil)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.Handler(TopicLivingNoteUpdated).ServeHTTP(rec, req.WithContext(ctx))
		close(done)
	}()

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	h.BroadcastLivingNoteUpdated("/notes/living.md", "one")
	h.BroadcastFileUpdated("modified", "/tmp/skip.md", "")
	h.BroadcastLivingNoteUpdated("/notes/living.md", "two")

	require.Eventually(t, func() bool {
		return strings.Count(rec.String(), "event: living_note_updated") == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	body := rec.String()
	assert.NotContains(t, body, "event: file_updated", "filtered topic leaked through")

	var ids []int
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			n, err := strconv.Atoi(strings.TrimPrefix(line, "id: "))
			require.NoError(t, err)
			ids = append(ids, n)
		}
	}
	require.Len(t, ids, 3, "connected plus two note events")
	for i := 1; i < len(ids); i++ {
		assert.Equal(t, ids[i-1]+1, ids[i], "ids must increase without gaps")
	}
}

func TestBroadcastLivingNotePayloadShape(t *testing.T) {
	h := NewHub(nil)
	c := h.subscribe(nil)
	defer h.unsubscribe(c)
	<-c.events

	h.BroadcastLivingNoteUpdated("/notes/living.md", "content")
	ev := <-c.events
	assert.Equal(t, TopicLivingNoteUpdated, ev.Topic)
	payload := ev.Payload.(map[string]any)
	assert.Equal(t, "/notes/living.md", payload["filePath"])
	assert.Equal(t, "content", payload["content"])
	assert.NotEmpty(t, payload["timestamp"])
}
