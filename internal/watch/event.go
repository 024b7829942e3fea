// Package watch produces a deduplicated, debounced stream of filesystem
// events for paths that pass the watch/ignore rules. It prefers OS-native
// notifications via fsnotify and falls back to a polling scanner when the
// watched root lives on a filesystem where native notifications are
// unreliable (for example a Windows drive mounted into WSL).
package watch

import "time"

// EventType classifies a raw filesystem event.
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
	EventMoved    EventType = "moved"
)

// Event is one debounced, filtered filesystem event. Path is absolute.
// OldPath is set for moves only.
type Event struct {
	Path    string
	OldPath string
	Type    EventType
	Size    int64
	Time    time.Time
}

// Handler consumes debounced events. Events for the same path arrive in
// emission order; events for different paths may arrive in parallel.
type Handler func(Event)
