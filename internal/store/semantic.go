package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
)

// InsertSemanticEntry writes the parent row, topics, keywords and the
// FTS mirror row in one transaction. Duplicate topics/keywords on the
// same entry are coalesced.
func (s *Store) InsertSemanticEntry(ctx context.Context, e SemanticEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var markdown any
		if e.MarkdownFilePath != "" {
			markdown = e.MarkdownFilePath
		}
		var versionID any
		if e.VersionID > 0 {
			versionID = e.VersionID
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO semantic_entries
			(id, timestamp, date, time, type, summary, impact, file_path, searchable_text, markdown_file_path, source_type, version_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, formatTime(e.Timestamp), e.Date, e.Time, e.Type, e.Summary, string(e.Impact),
			e.FilePath, e.SearchableText, markdown, e.SourceType, versionID); err != nil {
			return err
		}
		for _, topic := range dedupeStrings(e.Topics) {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO semantic_topics (entry_id, topic) VALUES (?, ?)`,
				e.ID, topic); err != nil {
				return err
			}
		}
		for _, kw := range dedupeStrings(e.Keywords) {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO semantic_keywords (entry_id, keyword) VALUES (?, ?)`,
				e.ID, kw); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO semantic_search (entry_id, searchable_text) VALUES (?, ?)`,
			e.ID, e.SearchableText)
		return err
	})
}

// DeleteSemanticEntry removes an entry, its child rows and its FTS row.
func (s *Store) DeleteSemanticEntry(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM semantic_search WHERE entry_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM semantic_entries WHERE id = ?`, id)
		return err
	})
}

// GetSemanticEntry loads one entry with topics and keywords.
func (s *Store) GetSemanticEntry(ctx context.Context, id string) (SemanticEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, timestamp, date, time, type, summary, impact, file_path, searchable_text, markdown_file_path, source_type, version_id
		FROM semantic_entries WHERE id = ?`, id)
	e, err := scanSemanticEntry(row.Scan)
	if err != nil {
		return e, err
	}
	e.Topics, e.Keywords, err = s.entryChildren(ctx, id)
	return e, err
}

// RecentSemanticEntries returns entries newest-first.
func (s *Store) RecentSemanticEntries(ctx context.Context, limit int) ([]SemanticEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, date, time, type, summary, impact, file_path, searchable_text, markdown_file_path, source_type, version_id
		FROM semantic_entries ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SemanticEntry
	for rows.Next() {
		e, err := scanSemanticEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Topics, out[i].Keywords, err = s.entryChildren(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SearchSemantic runs the scored search contract: FTS rank weighted 3,
// topic/keyword equality 2, prefix match 1. Scores are deterministic
// for a given store state.
func (s *Store) SearchSemantic(ctx context.Context, query string, limit int, typeFilter string) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	scores := make(map[string]float64)

	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery != "" {
		// bm25 returns more-negative-is-better; invert to positive.
		rows, err := s.db.QueryContext(ctx, `SELECT entry_id, bm25(semantic_search) FROM semantic_search
			WHERE semantic_search MATCH ? ORDER BY bm25(semantic_search) LIMIT 100`, ftsQuery)
		if err == nil {
			for rows.Next() {
				var id string
				var rank float64
				if err := rows.Scan(&id, &rank); err != nil {
					break
				}
				scores[id] += 3 * (-rank)
			}
			_ = rows.Close()
		}
	}

	terms := queryTerms(query)
	for _, term := range terms {
		for _, table := range []struct{ name, col string }{
			{"semantic_topics", "topic"},
			{"semantic_keywords", "keyword"},
		} {
			rows, err := s.db.QueryContext(ctx,
				`SELECT entry_id, `+table.col+` FROM `+table.name+` WHERE `+table.col+` LIKE ?`, term+"%")
			if err != nil {
				return nil, err
			}
			for rows.Next() {
				var id, value string
				if err := rows.Scan(&id, &value); err != nil {
					_ = rows.Close()
					return nil, err
				}
				if strings.EqualFold(value, term) {
					scores[id] += 2
				} else {
					scores[id] += 1
				}
			}
			_ = rows.Close()
		}
	}

	if len(scores) == 0 {
		return nil, nil
	}

	var out []SearchResult
	for id, score := range scores {
		e, err := s.GetSemanticEntry(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if typeFilter != "" && e.Type != typeFilter {
			continue
		}
		out = append(out, SearchResult{Entry: e, Score: score})
	}

	// Stable, deterministic order: score desc, then id.
	sortResults(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountSemanticEntries returns parent-row and FTS-row counts. Both are
// kept in sync transactionally and must match.
func (s *Store) CountSemanticEntries(ctx context.Context) (entries, ftsRows int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM semantic_entries`).Scan(&entries); err != nil {
		return
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM semantic_search`).Scan(&ftsRows)
	return
}

// RebuildSearchIndex drops the FTS mirror and refills it from
// semantic_entries. Returns the number of rows mirrored.
func (s *Store) RebuildSearchIndex(ctx context.Context) (int, error) {
	written := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM semantic_search`); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO semantic_search (entry_id, searchable_text)
			SELECT id, searchable_text FROM semantic_entries`)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil {
			written = int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (s *Store) entryChildren(ctx context.Context, id string) (topics, keywords []string, err error) {
	topics, err = s.stringColumn(ctx, `SELECT topic FROM semantic_topics WHERE entry_id = ? ORDER BY topic`, id)
	if err != nil {
		return
	}
	keywords, err = s.stringColumn(ctx, `SELECT keyword FROM semantic_keywords WHERE entry_id = ? ORDER BY keyword`, id)
	return
}

func (s *Store) stringColumn(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanSemanticEntry(scan func(...any) error) (SemanticEntry, error) {
	var e SemanticEntry
	var ts string
	var markdown sql.NullString
	var versionID sql.NullInt64
	err := scan(&e.ID, &ts, &e.Date, &e.Time, &e.Type, &e.Summary, &e.Impact,
		&e.FilePath, &e.SearchableText, &markdown, &e.SourceType, &versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Timestamp = parseTime(ts)
	e.MarkdownFilePath = markdown.String
	e.VersionID = versionID.Int64
	return e, nil
}

// sanitizeFTSQuery quotes each content word so user input cannot inject
// FTS5 operators, OR-joining the words.
func sanitizeFTSQuery(query string) string {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// queryTerms splits a query into lowercase content words, dropping FTS
// operators and single characters.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_' || r == '-')
	})
	var out []string
	for _, f := range fields {
		if len(f) < 2 || f == "and" || f == "or" || f == "not" || f == "near" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func sortResults(rs []SearchResult) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].Entry.ID < rs[j].Entry.ID
	})
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
