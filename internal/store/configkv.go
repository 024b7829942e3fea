package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Runtime configuration keys stored in config_kv. Values are JSON.
const (
	KeyLivingNoteLastUpdate = "living_note_last_update"
	KeyAIUpdateInterval     = "ai_update_interval"
	KeyBatchAIEnabled       = "batch_ai_enabled"
	KeyAIMaxBatchSize       = "ai_max_batch_size"
)

// SetConfig stores a JSON-encoded value under key.
func (s *Store) SetConfig(ctx context.Context, key string, value any, description string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO config_kv (key, value, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE config_kv.description END,
			updated_at = excluded.updated_at`,
		key, string(raw), description, formatTime(time.Now()))
	return err
}

// GetConfig decodes the value stored under key into out. Returns
// ErrNotFound when the key is absent.
func (s *Store) GetConfig(ctx context.Context, key string, out any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config_kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

// GetConfigString returns a string value with a fallback default.
func (s *Store) GetConfigString(ctx context.Context, key, def string) string {
	var v string
	if err := s.GetConfig(ctx, key, &v); err != nil {
		return def
	}
	return v
}

// GetConfigInt returns an int value with a fallback default.
func (s *Store) GetConfigInt(ctx context.Context, key string, def int) int {
	var v int
	if err := s.GetConfig(ctx, key, &v); err != nil {
		return def
	}
	return v
}

// GetConfigBool returns a bool value with a fallback default.
func (s *Store) GetConfigBool(ctx context.Context, key string, def bool) bool {
	var v bool
	if err := s.GetConfig(ctx, key, &v); err != nil {
		return def
	}
	return v
}

// Cursor returns the living-note cursor, or zero time when unset.
func (s *Store) Cursor(ctx context.Context) time.Time {
	var raw string
	if err := s.GetConfig(ctx, KeyLivingNoteLastUpdate, &raw); err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AdvanceCursor persists the living-note cursor. It never moves the
// cursor backwards.
func (s *Store) AdvanceCursor(ctx context.Context, to time.Time) error {
	if cur := s.Cursor(ctx); to.Before(cur) {
		return nil
	}
	return s.SetConfig(ctx, KeyLivingNoteLastUpdate, to.UTC().Format(time.RFC3339Nano),
		"upper bound of already-summarized diffs")
}
