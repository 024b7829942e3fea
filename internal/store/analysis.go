package store

import (
	"context"
	"sort"
	"time"
)

// ComprehensiveTimeAnalysis aggregates all diffs in [start, end],
// returning summary totals, the diffs themselves, and per-file metrics
// ordered by change count descending. accept applies the current watch
// rules.
func (s *Store) ComprehensiveTimeAnalysis(ctx context.Context, start, end time.Time, accept PathFilter) (TimeAnalysis, error) {
	out := TimeAnalysis{
		Summary: TimeAnalysisSummary{ChangeTypes: make(map[string]int)},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, file_path, old_version_id, new_version_id, change_type, diff_content, lines_added, lines_removed, timestamp
		FROM content_diffs WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC`, formatTime(start), formatTime(end))
	if err != nil {
		return out, err
	}
	defer func() { _ = rows.Close() }()

	metrics := make(map[string]*FileMetric)
	for rows.Next() {
		d, err := scanDiff(rows)
		if err != nil {
			return out, err
		}
		if accept != nil && !accept(d.FilePath) {
			continue
		}
		out.Diffs = append(out.Diffs, d)
		out.Summary.TotalChanges++
		out.Summary.LinesAdded += d.LinesAdded
		out.Summary.LinesRemoved += d.LinesRemoved
		out.Summary.ChangeTypes[string(d.ChangeType)]++

		m, ok := metrics[d.FilePath]
		if !ok {
			m = &FileMetric{FilePath: d.FilePath}
			metrics[d.FilePath] = m
		}
		m.ChangeCount++
		m.LinesAdded += d.LinesAdded
		m.LinesRemoved += d.LinesRemoved
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	out.Summary.FilesAffected = len(metrics)
	for _, m := range metrics {
		out.FileMetrics = append(out.FileMetrics, *m)
	}
	sort.Slice(out.FileMetrics, func(i, j int) bool {
		if out.FileMetrics[i].ChangeCount != out.FileMetrics[j].ChangeCount {
			return out.FileMetrics[i].ChangeCount > out.FileMetrics[j].ChangeCount
		}
		return out.FileMetrics[i].FilePath < out.FileMetrics[j].FilePath
	})
	return out, nil
}

// ActivityByHour returns diff counts bucketed by hour-of-day (0-23)
// within [start, end]. Backs the peak-hour insight.
func (s *Store) ActivityByHour(ctx context.Context, start, end time.Time, accept PathFilter) ([24]int, error) {
	var buckets [24]int
	rows, err := s.db.QueryContext(ctx, `SELECT file_path, timestamp FROM content_diffs
		WHERE timestamp >= ? AND timestamp <= ?`, formatTime(start), formatTime(end))
	if err != nil {
		return buckets, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var path, ts string
		if err := rows.Scan(&path, &ts); err != nil {
			return buckets, err
		}
		if accept != nil && !accept(path) {
			continue
		}
		buckets[parseTime(ts).Local().Hour()]++
	}
	return buckets, rows.Err()
}
