package watch

import (
	"sync"
	"time"
)

// DefaultDebounceWindow is the per-path coalescing window.
const DefaultDebounceWindow = 500 * time.Millisecond

// pendingEvent is the event currently winning a path's window.
type pendingEvent struct {
	event Event
	timer *time.Timer
}

// Debouncer coalesces rapid events per path: within the window only the
// last event wins, delete events short-circuit so a later modify cannot
// resurrect the path, moves keep their source across later writes, and
// modify events are pre-validated against the stat cache before they
// are queued at all.
type Debouncer struct {
	window  time.Duration
	handler Handler
	stats   *StatCache

	mu      sync.Mutex
	pending map[string]*pendingEvent
	flights map[string]*sync.Mutex // per-path ordering of handler calls
	stopped bool
}

// NewDebouncer creates a debouncer delivering to handler after window.
func NewDebouncer(window time.Duration, stats *StatCache, handler Handler) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer{
		window:  window,
		handler: handler,
		stats:   stats,
		pending: make(map[string]*pendingEvent),
		flights: make(map[string]*sync.Mutex),
	}
}

// Add queues a raw event for path coalescing.
func (d *Debouncer) Add(e Event) {
	if e.Type == EventModified && d.stats != nil && !d.stats.Changed(e.Path) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if p, ok := d.pending[e.Path]; ok {
		// Delete short-circuits: a later modify within the window
		// cannot resurrect the path. Creates replace the delete
		// (editors delete+recreate on save).
		if p.event.Type == EventDeleted && e.Type == EventModified {
			return
		}
		// A write at the destination keeps the pending move's source,
		// so the rename's source-side deletion still lands.
		if p.event.Type == EventMoved && p.event.OldPath != "" &&
			(e.Type == EventModified || e.Type == EventCreated) {
			e.Type = EventMoved
			e.OldPath = p.event.OldPath
		}
		p.timer.Stop()
		p.event = e
		p.timer = time.AfterFunc(d.window, func() { d.flush(e.Path) })
		return
	}

	p := &pendingEvent{event: e}
	println("DEBUG debounce queue:", e.Path, "window:", d.window.String())
	p.timer = time.AfterFunc(d.window, func() { println("DEBUG timer fired:", e.Path); d.flush(e.Path) })
	d.pending[e.Path] = p
}

// flush delivers the winning event for path. A per-path lock keeps
// deliveries for the same path strictly ordered while different paths
// proceed in parallel.
func (d *Debouncer) flush(path string) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	flight, ok := d.flights[path]
	if !ok {
		flight = &sync.Mutex{}
		d.flights[path] = flight
	}
	event := p.event
	d.mu.Unlock()

	flight.Lock()
	defer flight.Unlock()
	d.handler(event)
}

// Stop cancels all pending timers. Queued but unflushed events are
// dropped.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
}
