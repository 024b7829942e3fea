package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/obbylabs/obby/internal/store"
)

// Entry source types recorded in the index.
const (
	SourceBatchSummary = "batch_summary"
	SourceFileSummary  = "file_summary"
)

// Index turns parsed summaries into persisted, searchable entries.
type Index struct {
	store *store.Store
	log   *slog.Logger
}

// NewIndex creates an index writing through st.
func NewIndex(st *store.Store, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{store: st, log: log}
}

// Record parses an LLM response and persists the resulting entry.
// filePath and versionID are zero-valued for batch-level entries.
// Returns the stored entry.
func (ix *Index) Record(ctx context.Context, response, entryType, sourceType, filePath, markdownPath string, versionID int64, ts time.Time) (store.SemanticEntry, error) {
	return ix.RecordWithImpact(ctx, response, entryType, sourceType, filePath, markdownPath, "", versionID, ts)
}

// RecordWithImpact is Record with the parsed impact replaced by the
// caller's, used when the batch rolls per-file impacts up into the
// batch entry. An empty impact keeps the parsed one.
func (ix *Index) RecordWithImpact(ctx context.Context, response, entryType, sourceType, filePath, markdownPath string, impact store.Impact, versionID int64, ts time.Time) (store.SemanticEntry, error) {
	p := Parse(response)
	if impact != "" {
		p.Impact = impact
	}
	e := store.SemanticEntry{
		ID:               uuid.NewString(),
		Timestamp:        ts.UTC(),
		Date:             ts.UTC().Format("2006-01-02"),
		Time:             ts.UTC().Format("15:04"),
		Type:             entryType,
		Summary:          p.Summary,
		Impact:           p.Impact,
		FilePath:         filePath,
		SearchableText:   searchableText(p, filePath),
		MarkdownFilePath: markdownPath,
		SourceType:       sourceType,
		VersionID:        versionID,
		Topics:           p.Topics,
		Keywords:         p.Keywords,
	}
	if err := ix.store.InsertSemanticEntry(ctx, e); err != nil {
		return store.SemanticEntry{}, fmt.Errorf("index entry: %w", err)
	}
	return e, nil
}

// Remove drops an entry and its FTS row, used as the compensating
// action when a paired markdown write cannot be completed.
func (ix *Index) Remove(ctx context.Context, id string) error {
	return ix.store.DeleteSemanticEntry(ctx, id)
}

// Search runs the scored FTS query.
func (ix *Index) Search(ctx context.Context, query string, limit int, typeFilter string) ([]store.SearchResult, error) {
	return ix.store.SearchSemantic(ctx, query, limit, typeFilter)
}

// searchableText flattens summary, topics, keywords and path into the
// single column the FTS table indexes.
func searchableText(p Parsed, filePath string) string {
	parts := []string{p.Summary}
	parts = append(parts, p.Topics...)
	parts = append(parts, p.Keywords...)
	if filePath != "" {
		parts = append(parts, filePath)
	}
	var b strings.Builder
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(part)
	}
	return b.String()
}
