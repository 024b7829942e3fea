// Package tracker decides whether a filesystem event carries a real
// content change and, if so, persists the version, diff, state and
// audit rows for it in one transaction.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/obbylabs/obby/internal/patterns"
	"github.com/obbylabs/obby/internal/store"
	"github.com/obbylabs/obby/internal/watch"
)

// Notifier receives a callback after a change is durably recorded.
// Used for SSE file_updated fan-out.
type Notifier func(path string, changeType store.ChangeType, content string)

// ErrorNotifier receives persistent failures the pipeline could not
// retry away. Used for SSE error fan-out; the pipeline keeps running.
type ErrorNotifier func(path string, err error)

// Tracker is the hash/diff/persist pipeline.
type Tracker struct {
	store     *store.Store
	matcher   *patterns.Matcher
	log       *slog.Logger
	notify    Notifier
	notifyErr ErrorNotifier
}

// New creates a tracker writing through st.
func New(st *store.Store, matcher *patterns.Matcher, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{store: st, matcher: matcher, log: log}
}

// SetNotifier registers the post-commit change callback.
func (t *Tracker) SetNotifier(n Notifier) { t.notify = n }

// SetErrorNotifier registers the persistent-failure callback.
func (t *Tracker) SetErrorNotifier(n ErrorNotifier) { t.notifyErr = n }

// HandleEvent is the watch.Handler entry point. The debouncer's
// per-path ordering linearizes calls for the same path.
func (t *Tracker) HandleEvent(e watch.Event) {
	ctx := context.Background()
	if err := t.Track(ctx, e); err != nil {
		t.log.Error("track event", "path", e.Path, "type", string(e.Type), "error", err)
	}
}

// Track processes one debounced event. The audit row is written before
// processing and marked processed only after the pipeline succeeds, so
// failed events stay visible.
func (t *Tracker) Track(ctx context.Context, e watch.Event) error {
	if t.matcher != nil && !t.matcher.Accepts(e.Path) {
		return nil
	}

	eventID := t.recordEvent(ctx, e)

	var err error
	switch e.Type {
	case watch.EventCreated, watch.EventModified:
		err = t.trackContent(ctx, e.Path, e.Time)
	case watch.EventDeleted:
		err = t.trackDeletion(ctx, e.Path, e.Time)
	case watch.EventMoved:
		// Destination is tracked as a creation; the source deletion is
		// recorded separately when the source path is watched.
		err = t.trackContent(ctx, e.Path, e.Time)
		if err == nil && e.OldPath != "" && (t.matcher == nil || t.matcher.Accepts(e.OldPath)) {
			err = t.trackDeletion(ctx, e.OldPath, e.Time)
		}
	default:
		err = fmt.Errorf("unknown event type %q", e.Type)
	}

	if err == nil && eventID > 0 {
		if markErr := t.store.MarkEventProcessed(ctx, eventID); markErr != nil {
			t.log.Warn("mark event processed", "path", e.Path, "error", markErr)
		}
	}
	return err
}

// trackContent runs the hash/diff/persist algorithm for a created or
// modified path.
func (t *Tracker) trackContent(ctx context.Context, path string, ts time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		// Transient read failure aborts this event; the next event for
		// the path retries naturally.
		return fmt.Errorf("read %s: %w", path, err)
	}

	text := Normalize(data)
	hash := HashContent(text)

	var oldHash, oldText string
	var oldVersionID int64
	changeType := store.ChangeCreated

	state, err := t.store.GetFileState(ctx, path)
	switch {
	case err == nil:
		if state.ContentHash == hash {
			return nil // no-op gate A: unchanged content
		}
		oldHash = state.ContentHash
		changeType = store.ChangeModified
		if prev, err := t.store.GetVersionByHash(ctx, path, state.ContentHash); err == nil {
			oldVersionID = prev.ID
			oldText = prev.Content
		}
	case errors.Is(err, store.ErrNotFound):
		// first sighting, diff against empty content
	default:
		return fmt.Errorf("load state %s: %w", path, err)
	}

	diff, added, removed, err := UnifiedDiff(oldText, text, labelFor(path, "a"), labelFor(path, "b"))
	if err != nil {
		return fmt.Errorf("diff %s: %w", path, err)
	}
	if added == 0 && removed == 0 {
		// No-op gate B: a whitespace-only phantom change, or an empty
		// file's first sighting. Neither yields a recordable delta; an
		// empty file is tracked once content arrives.
		return nil
	}

	change := store.TrackedChange{
		FilePath:       path,
		ContentHash:    hash,
		Content:        text,
		LineCount:      CountLines(text),
		FileSize:       int64(len(data)),
		ChangeType:     changeType,
		OldVersionID:   oldVersionID,
		OldContentHash: oldHash,
		DiffContent:    diff,
		LinesAdded:     added,
		LinesRemoved:   removed,
		Timestamp:      ts,
	}

	if _, err := t.store.RecordTrackedChange(ctx, change); err != nil {
		// One retry before surfacing; SQLite may report transient
		// busy errors under concurrent readers.
		if _, retryErr := t.store.RecordTrackedChange(ctx, change); retryErr != nil {
			t.surfaceError(ctx, path, retryErr)
			return fmt.Errorf("record change %s: %w", path, retryErr)
		}
	}

	if t.notify != nil {
		t.notify(path, changeType, text)
	}
	return nil
}

// trackDeletion records the audit row for a deletion. Prior versions
// are kept.
func (t *Tracker) trackDeletion(ctx context.Context, path string, ts time.Time) error {
	var oldHash string
	if state, err := t.store.GetFileState(ctx, path); err == nil {
		oldHash = state.ContentHash
	}
	if err := t.store.RecordDeletion(ctx, path, oldHash, ts); err != nil {
		if retryErr := t.store.RecordDeletion(ctx, path, oldHash, ts); retryErr != nil {
			t.surfaceError(ctx, path, retryErr)
			return fmt.Errorf("record deletion %s: %w", path, retryErr)
		}
	}
	if t.notify != nil {
		t.notify(path, store.ChangeDeleted, "")
	}
	return nil
}

// recordEvent writes the monitoring-boundary event row with a
// root-relative path. Returns the row id, or 0 when the write failed.
func (t *Tracker) recordEvent(ctx context.Context, e watch.Event) int64 {
	rel := e.Path
	if t.matcher != nil {
		if r, err := filepath.Rel(t.matcher.Root(), e.Path); err == nil {
			rel = filepath.ToSlash(r)
		}
	}
	id, err := t.store.RecordEvent(ctx, store.Event{
		Type:      store.ChangeType(e.Type),
		Path:      rel,
		Size:      e.Size,
		Timestamp: e.Time,
	})
	if err != nil {
		t.log.Warn("record event", "path", rel, "error", err)
		return 0
	}
	return id
}

// surfaceError reports a write failure that survived the retry.
func (t *Tracker) surfaceError(ctx context.Context, path string, cause error) {
	t.log.Error("store write failed after retry", "path", path, "error", cause)
	if t.notifyErr != nil {
		t.notifyErr(path, cause)
	}
}

func labelFor(path, side string) string {
	return side + "/" + filepath.Base(path)
}
