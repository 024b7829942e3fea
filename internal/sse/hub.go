// Package sse implements one-to-many server-sent event fan-out for the
// HTTP surface.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Core topics emitted by the pipeline. Handlers may broadcast others.
const (
	TopicLivingNoteUpdated = "living_note_updated"
	TopicFileUpdated       = "file_updated"
	TopicError             = "error"
	TopicConnected         = "connected"
	TopicKeepalive         = "keepalive"
)

const (
	// queueSize bounds each client's pending events. A client that
	// falls this far behind is disconnected rather than blocking
	// producers.
	queueSize = 100

	// keepaliveInterval is how long a connection may idle before a
	// keepalive event is sent.
	keepaliveInterval = 30 * time.Second
)

// Event is one message on the wire.
type Event struct {
	Topic   string
	Payload any
}

type client struct {
	id     string
	topics map[string]bool // nil means every topic
	events chan Event
	closed bool
}

// wants reports whether the client subscribed to topic. Connected and
// keepalive frames are produced per connection, not broadcast, so they
// never pass through here.
func (c *client) wants(topic string) bool {
	return c.topics == nil || c.topics[topic]
}

// Hub broadcasts events to connected clients. Broadcasts are
// best-effort: slow consumers are dropped, never waited on.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	log     *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{clients: make(map[string]*client), log: log}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues e for every connected client subscribed to the
// topic. Clients whose queues are full are disconnected and reaped in
// place.
func (h *Hub) Broadcast(topic string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if c.closed {
			delete(h.clients, id)
			continue
		}
		if !c.wants(topic) {
			continue
		}
		select {
		case c.events <- Event{Topic: topic, Payload: payload}:
		default:
			// Overflow: drop the client rather than block.
			c.closed = true
			close(c.events)
			delete(h.clients, id)
			h.log.Warn("sse client dropped, queue full", "client", id)
		}
	}
}

// BroadcastFileUpdated emits the standard file change payload.
func (h *Hub) BroadcastFileUpdated(changeType, filePath, content string) {
	payload := map[string]any{
		"type":      changeType,
		"filePath":  filePath,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if content != "" {
		payload["content"] = content
	}
	h.Broadcast(TopicFileUpdated, payload)
}

// BroadcastLivingNoteUpdated emits the living note payload.
func (h *Hub) BroadcastLivingNoteUpdated(notePath, content string) {
	h.Broadcast(TopicLivingNoteUpdated, map[string]any{
		"type":      TopicLivingNoteUpdated,
		"filePath":  notePath,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"content":   content,
	})
}

// BroadcastError surfaces a component failure to connected clients.
// The pipeline keeps running; the client decides what to show.
func (h *Hub) BroadcastError(component, message string) {
	h.Broadcast(TopicError, map[string]any{
		"component": component,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// subscribe registers a new client and emits its connected event.
func (h *Hub) subscribe(topics []string) *client {
	c := &client{id: uuid.NewString(), events: make(chan Event, queueSize)}
	if len(topics) > 0 {
		c.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			c.topics[t] = true
		}
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	c.events <- Event{Topic: TopicConnected, Payload: map[string]any{"clientId": c.id}}
	return c
}

// unsubscribe removes a client; safe to call after an overflow drop.
func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.clients[c.id]; ok && existing == c {
		c.closed = true
		close(c.events)
		delete(h.clients, c.id)
	}
}

// Handler returns an endpoint streaming only the named topics. With no
// topics every broadcast is delivered.
func (h *Hub) Handler(topics ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.stream(w, r, topics)
	})
}

// ServeHTTP streams every topic to one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, nil)
}

func (h *Hub) stream(w http.ResponseWriter, r *http.Request, topics []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := h.subscribe(topics)
	defer h.unsubscribe(c)

	// Event ids are per connection and strictly increasing, so a
	// client can detect gaps after a drop and reconnect cleanly.
	var seq uint64
	write := func(ev Event) error {
		seq++
		return writeEvent(w, seq, ev)
	}

	keepalive := time.NewTimer(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			if err := write(ev); err != nil {
				return
			}
			flusher.Flush()
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(keepaliveInterval)
		case <-keepalive.C:
			if err := write(Event{Topic: TopicKeepalive, Payload: map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)}}); err != nil {
				return
			}
			flusher.Flush()
			keepalive.Reset(keepaliveInterval)
		}
	}
}

func writeEvent(w http.ResponseWriter, id uint64, ev Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, ev.Topic, data)
	return err
}
