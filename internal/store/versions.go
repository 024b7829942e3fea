package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrZeroDelta rejects diffs whose materialization would add a row with
// no added and no removed lines.
var ErrZeroDelta = errors.New("content diff with zero added and zero removed lines")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// TrackedChange is the version+diff+state+change write unit the tracker
// produces for one confirmed content change.
type TrackedChange struct {
	FilePath          string
	ContentHash       string
	Content           string
	LineCount         int
	FileSize          int64
	ChangeType        ChangeType
	ChangeDescription string
	OldVersionID      int64 // zero when there is no prior version
	OldContentHash    string
	DiffContent       string
	LinesAdded        int
	LinesRemoved      int
	Timestamp         time.Time
}

// RecordTrackedChange atomically inserts the FileVersion, ContentDiff,
// FileState upsert and FileChange rows for one confirmed change. On any
// failure nothing is persisted.
func (s *Store) RecordTrackedChange(ctx context.Context, c TrackedChange) (versionID int64, err error) {
	if c.LinesAdded == 0 && c.LinesRemoved == 0 {
		return 0, ErrZeroDelta
	}
	ts := formatTime(c.Timestamp)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO file_versions
			(file_path, content_hash, content, line_count, timestamp, change_description)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.FilePath, c.ContentHash, c.Content, c.LineCount, ts, c.ChangeDescription)
		if err != nil {
			return fmt.Errorf("insert file_version: %w", err)
		}
		versionID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		var oldID any
		if c.OldVersionID > 0 {
			oldID = c.OldVersionID
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO content_diffs
			(file_path, old_version_id, new_version_id, change_type, diff_content, lines_added, lines_removed, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.FilePath, oldID, versionID, string(c.ChangeType), c.DiffContent, c.LinesAdded, c.LinesRemoved, ts); err != nil {
			return fmt.Errorf("insert content_diff: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO file_states
			(file_path, content_hash, line_count, file_size, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(file_path) DO UPDATE SET
				content_hash = excluded.content_hash,
				line_count = excluded.line_count,
				file_size = excluded.file_size,
				updated_at = excluded.updated_at`,
			c.FilePath, c.ContentHash, c.LineCount, c.FileSize, ts); err != nil {
			return fmt.Errorf("upsert file_state: %w", err)
		}

		var oldHash, newHash any
		if c.OldContentHash != "" {
			oldHash = c.OldContentHash
		}
		if c.ContentHash != "" {
			newHash = c.ContentHash
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO file_changes
			(file_path, change_type, old_content_hash, new_content_hash, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			c.FilePath, string(c.ChangeType), oldHash, newHash, ts); err != nil {
			return fmt.Errorf("insert file_change: %w", err)
		}
		return nil
	})
	return versionID, err
}

// RecordDeletion writes the FileChange row for a deletion and removes
// the FileState so a later re-creation diffs against empty content.
// Prior versions are kept.
func (s *Store) RecordDeletion(ctx context.Context, path, oldHash string, ts time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var old any
		if oldHash != "" {
			old = oldHash
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO file_changes
			(file_path, change_type, old_content_hash, new_content_hash, timestamp)
			VALUES (?, ?, ?, NULL, ?)`,
			path, string(ChangeDeleted), old, formatTime(ts)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM file_states WHERE file_path = ?`, path)
		return err
	})
}

// GetFileState returns the current state row for path, or ErrNotFound.
func (s *Store) GetFileState(ctx context.Context, path string) (FileState, error) {
	var st FileState
	var updated string
	err := s.db.QueryRowContext(ctx, `SELECT file_path, content_hash, line_count, file_size, updated_at
		FROM file_states WHERE file_path = ?`, path).
		Scan(&st.FilePath, &st.ContentHash, &st.LineCount, &st.FileSize, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return st, ErrNotFound
	}
	if err != nil {
		return st, err
	}
	st.UpdatedAt = parseTime(updated)
	return st, nil
}

// ListFileStates returns every current file state row.
func (s *Store) ListFileStates(ctx context.Context) ([]FileState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_path, content_hash, line_count, file_size, updated_at
		FROM file_states ORDER BY file_path`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []FileState
	for rows.Next() {
		var st FileState
		var updated string
		if err := rows.Scan(&st.FilePath, &st.ContentHash, &st.LineCount, &st.FileSize, &updated); err != nil {
			return nil, err
		}
		st.UpdatedAt = parseTime(updated)
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetVersionByHash returns the version row for (path, hash), or ErrNotFound.
func (s *Store) GetVersionByHash(ctx context.Context, path, hash string) (FileVersion, error) {
	return s.scanVersion(s.db.QueryRowContext(ctx, `SELECT id, file_path, content_hash, content, line_count, timestamp, change_description
		FROM file_versions WHERE file_path = ? AND content_hash = ?`, path, hash))
}

// LatestVersion returns the highest-id version row for path.
func (s *Store) LatestVersion(ctx context.Context, path string) (FileVersion, error) {
	return s.scanVersion(s.db.QueryRowContext(ctx, `SELECT id, file_path, content_hash, content, line_count, timestamp, change_description
		FROM file_versions WHERE file_path = ? ORDER BY id DESC LIMIT 1`, path))
}

func (s *Store) scanVersion(row *sql.Row) (FileVersion, error) {
	var v FileVersion
	var ts string
	err := row.Scan(&v.ID, &v.FilePath, &v.ContentHash, &v.Content, &v.LineCount, &ts, &v.ChangeDescription)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Timestamp = parseTime(ts)
	return v, nil
}

// DiffsSince returns diffs with timestamp strictly after since, ordered
// ascending, capped at limit. pathFilter (optional) restricts by exact
// path; accept (optional) applies the current watch rules.
func (s *Store) DiffsSince(ctx context.Context, since time.Time, limit int, pathFilter string, accept PathFilter) ([]ContentDiff, error) {
	q := `SELECT id, file_path, old_version_id, new_version_id, change_type, diff_content, lines_added, lines_removed, timestamp
		FROM content_diffs WHERE timestamp > ?`
	args := []any{formatTime(since)}
	if pathFilter != "" {
		q += ` AND file_path = ?`
		args = append(args, pathFilter)
	}
	q += ` ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ContentDiff
	for rows.Next() {
		d, err := scanDiff(rows)
		if err != nil {
			return nil, err
		}
		if accept != nil && !accept(d.FilePath) {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// RecentDiffs returns diffs newest-first with limit/offset pagination.
func (s *Store) RecentDiffs(ctx context.Context, limit, offset int, pathFilter string, accept PathFilter) ([]ContentDiff, error) {
	q := `SELECT id, file_path, old_version_id, new_version_id, change_type, diff_content, lines_added, lines_removed, timestamp
		FROM content_diffs`
	var args []any
	if pathFilter != "" {
		q += ` WHERE file_path = ?`
		args = append(args, pathFilter)
	}
	q += ` ORDER BY timestamp DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if limit <= 0 {
		limit = 50
	}
	skipped := 0
	var out []ContentDiff
	for rows.Next() {
		d, err := scanDiff(rows)
		if err != nil {
			return nil, err
		}
		if accept != nil && !accept(d.FilePath) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, d)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// GetDiff returns one diff by id, or ErrNotFound.
func (s *Store) GetDiff(ctx context.Context, id int64) (ContentDiff, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, file_path, old_version_id, new_version_id, change_type, diff_content, lines_added, lines_removed, timestamp
		FROM content_diffs WHERE id = ?`, id)
	var d ContentDiff
	var oldID sql.NullInt64
	var ts string
	err := row.Scan(&d.ID, &d.FilePath, &oldID, &d.NewVersionID, &d.ChangeType, &d.DiffContent, &d.LinesAdded, &d.LinesRemoved, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.OldVersionID = oldID.Int64
	d.Timestamp = parseTime(ts)
	return d, nil
}

// DiffsForPath returns all diffs for one path in id order (round-trip
// replay order).
func (s *Store) DiffsForPath(ctx context.Context, path string) ([]ContentDiff, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, file_path, old_version_id, new_version_id, change_type, diff_content, lines_added, lines_removed, timestamp
		FROM content_diffs WHERE file_path = ? ORDER BY id ASC`, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ContentDiff
	for rows.Next() {
		d, err := scanDiff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDiff(rows *sql.Rows) (ContentDiff, error) {
	var d ContentDiff
	var oldID sql.NullInt64
	var ts string
	if err := rows.Scan(&d.ID, &d.FilePath, &oldID, &d.NewVersionID, &d.ChangeType, &d.DiffContent, &d.LinesAdded, &d.LinesRemoved, &ts); err != nil {
		return d, err
	}
	d.OldVersionID = oldID.Int64
	d.Timestamp = parseTime(ts)
	return d, nil
}

// RecordEvent writes one filesystem event row and returns its id.
func (s *Store) RecordEvent(ctx context.Context, e Event) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO events (type, path, size, timestamp, processed)
		VALUES (?, ?, ?, ?, ?)`,
		string(e.Type), e.Path, e.Size, formatTime(e.Timestamp), boolToInt(e.Processed))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkEventProcessed flips the processed flag on one event row.
func (s *Store) MarkEventProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE events SET processed = 1 WHERE id = ?`, id)
	return err
}

// RecentEvents returns events newest-first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, path, size, timestamp, processed
		FROM events ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var e Event
		var ts string
		var processed int
		if err := rows.Scan(&e.ID, &e.Type, &e.Path, &e.Size, &ts, &processed); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		e.Processed = processed != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEvents returns the total number of recorded events.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// RecentChanges returns file change audit rows newest-first.
func (s *Store) RecentChanges(ctx context.Context, limit int) ([]FileChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, file_path, change_type, old_content_hash, new_content_hash, timestamp
		FROM file_changes ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []FileChange
	for rows.Next() {
		var c FileChange
		var oldHash, newHash sql.NullString
		var ts string
		if err := rows.Scan(&c.ID, &c.FilePath, &c.ChangeType, &oldHash, &newHash, &ts); err != nil {
			return nil, err
		}
		c.OldContentHash = oldHash.String
		c.NewContentHash = newHash.String
		c.Timestamp = parseTime(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClearScope selects which rows a hygiene clear removes.
type ClearScope string

const (
	ClearUnwatched ClearScope = "unwatched" // paths the current rules no longer accept
	ClearMissing   ClearScope = "missing"   // paths no longer present on disk
	ClearAll       ClearScope = "all"
)

// ClearHistory removes version/diff/state/change rows per scope. The
// exists callback reports on-disk presence for ClearMissing; accept is
// the current watch decision for ClearUnwatched.
func (s *Store) ClearHistory(ctx context.Context, scope ClearScope, accept PathFilter, exists func(string) bool) (int, error) {
	var paths []string
	switch scope {
	case ClearAll:
		// fall through with empty paths, handled below
	case ClearUnwatched, ClearMissing:
		states, err := s.ListFileStates(ctx)
		if err != nil {
			return 0, err
		}
		for _, st := range states {
			switch scope {
			case ClearUnwatched:
				if accept == nil || accept(st.FilePath) {
					continue
				}
			case ClearMissing:
				if exists == nil || exists(st.FilePath) {
					continue
				}
			}
			paths = append(paths, st.FilePath)
		}
		if len(paths) == 0 {
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("unknown clear scope %q", scope)
	}

	removed := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if scope == ClearAll {
			for _, table := range []string{"content_diffs", "file_versions", "file_states", "file_changes", "events"} {
				res, err := tx.ExecContext(ctx, `DELETE FROM `+table)
				if err != nil {
					return err
				}
				if n, err := res.RowsAffected(); err == nil {
					removed += int(n)
				}
			}
			return nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
		args := make([]any, len(paths))
		for i, p := range paths {
			args[i] = p
		}
		for _, table := range []string{"content_diffs", "file_versions", "file_states", "file_changes"} {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE file_path IN (`+placeholders+`)`, args...)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				removed += int(n)
			}
		}
		return nil
	})
	return removed, err
}

// RebuildFileStates rederives every file_states row from the highest-id
// file_versions row per path, skipping paths whose last file_changes row
// is a deletion. file_size comes from the stored content; original CRLF
// bytes lost to hash normalization are not recoverable. Returns the
// number of states written.
func (s *Store) RebuildFileStates(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT v.file_path, v.content_hash, v.content, v.line_count, v.timestamp
		FROM file_versions v
		JOIN (SELECT file_path, MAX(id) AS max_id FROM file_versions GROUP BY file_path) m
			ON v.id = m.max_id`)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	type derived struct {
		path, hash, content string
		lines               int
		ts                  string
	}
	var latest []derived
	for rows.Next() {
		var d derived
		if err := rows.Scan(&d.path, &d.hash, &d.content, &d.lines, &d.ts); err != nil {
			return 0, err
		}
		latest = append(latest, d)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	gone := make(map[string]bool)
	changeRows, err := s.db.QueryContext(ctx, `SELECT c.file_path, c.change_type
		FROM file_changes c
		JOIN (SELECT file_path, MAX(id) AS max_id FROM file_changes GROUP BY file_path) m
			ON c.id = m.max_id`)
	if err != nil {
		return 0, err
	}
	defer func() { _ = changeRows.Close() }()
	for changeRows.Next() {
		var path, changeType string
		if err := changeRows.Scan(&path, &changeType); err != nil {
			return 0, err
		}
		if changeType == string(ChangeDeleted) {
			gone[path] = true
		}
	}
	if err := changeRows.Err(); err != nil {
		return 0, err
	}

	written := 0
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_states`); err != nil {
			return err
		}
		for _, d := range latest {
			if gone[d.path] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO file_states
				(file_path, content_hash, line_count, file_size, updated_at)
				VALUES (?, ?, ?, ?, ?)`,
				d.path, d.hash, d.lines, int64(len(d.content)), d.ts); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
