package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/obbylabs/obby/internal/store"
)

// TotalActivity reports overall edit volume for the range.
type TotalActivity struct {
	Store *store.Store
}

func (t *TotalActivity) Metadata() Metadata {
	return Metadata{
		ID:          "total_activity",
		Name:        "Total Activity",
		Description: "Total edits, files touched and line deltas in the range",
		ChartType:   "number",
	}
}

func (t *TotalActivity) Calculate(ctx context.Context, start, end time.Time, _ map[string]any) Result {
	analysis, err := t.Store.ComprehensiveTimeAnalysis(ctx, start, end, nil)
	if err != nil {
		return errorResult("total_activity", err)
	}
	s := analysis.Summary
	return Result{
		ID:     "total_activity",
		Value:  s.TotalChanges,
		Status: "ok",
		Details: map[string]any{
			"filesAffected": s.FilesAffected,
			"linesAdded":    s.LinesAdded,
			"linesRemoved":  s.LinesRemoved,
			"changeTypes":   s.ChangeTypes,
		},
		Message: fmt.Sprintf("%d edits across %d files", s.TotalChanges, s.FilesAffected),
	}
}

// PeakHour finds the hour of day with the most activity.
type PeakHour struct {
	Store *store.Store
}

func (p *PeakHour) Metadata() Metadata {
	return Metadata{
		ID:          "peak_hour",
		Name:        "Peak Hour",
		Description: "Hour of day with the most recorded edits",
		ChartType:   "bar",
	}
}

func (p *PeakHour) Calculate(ctx context.Context, start, end time.Time, _ map[string]any) Result {
	buckets, err := p.Store.ActivityByHour(ctx, start, end, nil)
	if err != nil {
		return errorResult("peak_hour", err)
	}

	peak, peakCount, total := 0, 0, 0
	for hour, count := range buckets {
		total += count
		if count > peakCount {
			peak, peakCount = hour, count
		}
	}
	if total == 0 {
		return Result{ID: "peak_hour", Status: "ok", Message: "no activity in range"}
	}
	return Result{
		ID:      "peak_hour",
		Value:   peak,
		Status:  "ok",
		Chart:   buckets,
		Message: fmt.Sprintf("busiest at %02d:00 with %d edits", peak, peakCount),
	}
}

// TrendingFiles lists the most edited files in the range.
type TrendingFiles struct {
	Store *store.Store
}

func (t *TrendingFiles) Metadata() Metadata {
	return Metadata{
		ID:          "trending_files",
		Name:        "Trending Files",
		Description: "Files with the most edits in the range",
		ChartType:   "list",
	}
}

func (t *TrendingFiles) Calculate(ctx context.Context, start, end time.Time, config map[string]any) Result {
	limit := 5
	if raw, ok := config["limit"]; ok {
		if n, ok := raw.(float64); ok && n > 0 {
			limit = int(n)
		}
	}

	analysis, err := t.Store.ComprehensiveTimeAnalysis(ctx, start, end, nil)
	if err != nil {
		return errorResult("trending_files", err)
	}
	metrics := analysis.FileMetrics
	if len(metrics) > limit {
		metrics = metrics[:limit]
	}
	return Result{
		ID:      "trending_files",
		Value:   metrics,
		Status:  "ok",
		Message: fmt.Sprintf("top %d of %d active files", len(metrics), analysis.Summary.FilesAffected),
	}
}
