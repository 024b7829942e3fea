package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/obbylabs/obby/internal/patterns"
)

// ErrNoWatchRules is returned when Start is called with an empty watch
// list. Watching nothing is safer than watching everything.
var ErrNoWatchRules = errors.New("no watch patterns configured, refusing to start")

// Backend identifies the event source in use.
type Backend string

const (
	BackendNative  Backend = "native"
	BackendPolling Backend = "polling"
)

// Config holds watcher construction parameters.
type Config struct {
	Root         string
	Matcher      *patterns.Matcher
	Handler      Handler
	Window       time.Duration // debounce window; defaults to 500 ms
	PollInterval time.Duration // polling backend period; defaults to 1 s
	ForcePolling bool
	Log          *slog.Logger
}

// Watcher turns raw filesystem notifications into filtered, debounced
// events delivered to the configured handler.
type Watcher struct {
	cfg       Config
	log       *slog.Logger
	debouncer *Debouncer
	stats     *StatCache
	backend   Backend

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fsw     *fsnotify.Watcher
}

// New creates a watcher. The backend is chosen at Start time.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("watch root is required")
	}
	if cfg.Matcher == nil {
		return nil, fmt.Errorf("pattern matcher is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	w := &Watcher{cfg: cfg, log: cfg.Log, stats: NewStatCache(0)}
	w.debouncer = NewDebouncer(cfg.Window, w.stats, w.deliver)
	return w, nil
}

// Backend reports the event source selected at Start.
func (w *Watcher) Backend() Backend { return w.backend }

// Running reports whether the watcher is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start selects a backend and begins watching. It refuses to start in
// strict mode (no watch patterns).
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if !w.cfg.Matcher.HasWatchRules() {
		return ErrNoWatchRules
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	if w.cfg.ForcePolling || foreignFilesystem(w.cfg.Root) {
		w.backend = BackendPolling
		w.wg.Add(1)
		go w.pollLoop(ctx)
	} else {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			w.log.Warn("native watcher unavailable, falling back to polling", "error", err)
			w.backend = BackendPolling
			w.wg.Add(1)
			go w.pollLoop(ctx)
		} else {
			w.fsw = fsw
			if err := w.addRecursive(w.cfg.Root); err != nil {
				_ = fsw.Close()
				cancel()
				return fmt.Errorf("add watch paths: %w", err)
			}
			if w.probeNative(fsw) {
				w.backend = BackendNative
				w.wg.Add(1)
				go w.eventLoop(ctx)
			} else {
				w.log.Warn("native events did not round-trip, falling back to polling")
				_ = fsw.Close()
				w.fsw = nil
				w.backend = BackendPolling
				w.wg.Add(1)
				go w.pollLoop(ctx)
			}
		}
	}

	w.running = true
	w.log.Info("watcher started", "root", w.cfg.Root, "backend", string(w.backend))
	return nil
}

// Stop halts the backend and the debouncer.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	if w.fsw != nil {
		_ = w.fsw.Close()
		w.fsw = nil
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.debouncer.Stop()
	w.log.Info("watcher stopped")
}

// deliver applies the pattern rules after debouncing and invokes the
// handler. Directories, editor artifacts and the watcher's own probe
// files never reach the handler.
func (w *Watcher) deliver(e Event) {
	fmt.Printf("DEBUG deliver: %+v\n", e)
	base := filepath.Base(e.Path)
	if patterns.TransientFile(base) || strings.HasPrefix(base, probePrefix) {
		fmt.Printf("DEBUG deliver drop transient: %s\n", base)
		return
	}
	if !w.cfg.Matcher.Accepts(e.Path) {
		fmt.Printf("DEBUG deliver drop not-accepted: %s\n", e.Path)
		return
	}
	if info, err := os.Stat(e.Path); err == nil {
		if info.IsDir() {
			return
		}
		e.Size = info.Size()
	}
	w.cfg.Handler(e)
}

// eventLoop consumes fsnotify events until the context is cancelled.
func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	fsw := w.fsw
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleNative(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

// handleNative maps one fsnotify event into the debouncer.
func (w *Watcher) handleNative(event fsnotify.Event) {
	now := time.Now()
	switch {
	case event.Op&fsnotify.Create != 0:
		// New directories are watched immediately so files created
		// inside them are not missed.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
			return
		}
		w.debouncer.Add(Event{Path: event.Name, Type: EventCreated, Time: now})
	case event.Op&fsnotify.Remove != 0:
		w.stats.Forget(event.Name)
		w.debouncer.Add(Event{Path: event.Name, Type: EventDeleted, Time: now})
	case event.Op&fsnotify.Rename != 0:
		// fsnotify reports the source of a rename; the destination
		// arrives as a separate Create. Record the source as deleted.
		w.stats.Forget(event.Name)
		w.debouncer.Add(Event{Path: event.Name, Type: EventDeleted, Time: now})
	case event.Op&fsnotify.Write != 0:
		w.debouncer.Add(Event{Path: event.Name, Type: EventModified, Time: now})
	}
}

// addRecursive registers dir and every subdirectory with fsnotify,
// skipping built-in and rule-ignored directories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && patterns.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if w.cfg.Matcher.ShouldIgnore(path) && path != dir {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// probeTimeout bounds how long Start waits for the probe write to come
// back through the native backend.
const probeTimeout = 2 * time.Second

// probePrefix names the temp files probeNative writes. Their create and
// remove notifications are dropped before delivery.
const probePrefix = ".obby-probe-"

// probeNative verifies the native backend actually delivers events for
// the watched root. On some network mounts fsnotify registers watches
// that never fire, and a silent backend is worse than polling. Real
// events arriving during the probe window are forwarded, not dropped.
func (w *Watcher) probeNative(fsw *fsnotify.Watcher) bool {
	f, err := os.CreateTemp(w.cfg.Root, probePrefix+"*")
	if err != nil {
		return false
	}
	probe := f.Name()
	_ = f.Close()
	defer func() { _ = os.Remove(probe) }()

	deadline := time.NewTimer(probeTimeout)
	defer deadline.Stop()
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return false
			}
			if event.Name == probe {
				return true
			}
			w.handleNative(event)
		case _, ok := <-fsw.Errors:
			if !ok {
				return false
			}
		case <-deadline.C:
			return false
		}
	}
}

// pollLoop is the fallback backend: a periodic scan comparing (size,
// mtime) snapshots of the watched tree.
func (w *Watcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	type snap struct {
		size  int64
		mtime time.Time
	}
	prev := make(map[string]snap)

	scan := func() map[string]snap {
		cur := make(map[string]snap, len(prev))
		_ = filepath.WalkDir(w.cfg.Root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != w.cfg.Root && (patterns.SkipDir(d.Name()) || w.cfg.Matcher.ShouldIgnore(path)) {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			cur[path] = snap{size: info.Size(), mtime: info.ModTime()}
			return nil
		})
		return cur
	}

	prev = scan()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := scan()
			now := time.Now()
			fmt.Printf("DEBUG poll tick: cur=%d prev=%d\n", len(cur), len(prev))
			for path, cs := range cur {
				ps, existed := prev[path]
				switch {
				case !existed:
					fmt.Printf("DEBUG poll add created: %s\n", path)
					w.debouncer.Add(Event{Path: path, Type: EventCreated, Time: now})
				case ps != cs:
					w.debouncer.Add(Event{Path: path, Type: EventModified, Time: now})
				}
			}
			for path := range prev {
				if _, ok := cur[path]; !ok {
					w.stats.Forget(path)
					w.debouncer.Add(Event{Path: path, Type: EventDeleted, Time: now})
				}
			}
			prev = cur
		}
	}
}

// foreignFilesystem reports whether root lives on a mount where native
// notifications are known to be unreliable, such as a Windows drive
// mounted into WSL.
func foreignFilesystem(root string) bool {
	abs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	if strings.HasPrefix(abs, "/mnt/") && isWSL() {
		return true
	}
	return false
}

func isWSL() bool {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}
