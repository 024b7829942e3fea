// Package summarizer runs the scheduled LLM batch that turns
// accumulated diffs into living-note entries and semantic index rows.
package summarizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/obbylabs/obby/internal/livingnote"
	"github.com/obbylabs/obby/internal/patterns"
	"github.com/obbylabs/obby/internal/semantic"
	"github.com/obbylabs/obby/internal/store"
)

const (
	// DefaultWindow is how far back the first run looks when no cursor
	// has been persisted yet.
	DefaultWindow = 4 * time.Hour

	// fetchLimit bounds how many diffs one run will load.
	fetchLimit = 200

	// DefaultMaxBatchSize caps how many diffs one run will summarize.
	DefaultMaxBatchSize = 50

	// maxDiffExcerpt truncates each file's combined diff in the prompt.
	maxDiffExcerpt = 2000

	// maxFileSummaries bounds per-file LLM calls in one run. The most
	// edited files get micro-summaries; the rest ride the batch entry.
	maxFileSummaries = 10

	keyLastFingerprint = "last_batch_fingerprint"
)

const systemPrompt = `You summarize recent file activity for a personal living note.
Emit 1-3 concise outcome bullets describing what was accomplished.
Then a "### Sources" section listing each file with a one-sentence rationale.
If the changes are trivial, respond with exactly: - no meaningful changes`

// Completer is the slice of the LLM surface the batch needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	SummarizeDiffs(ctx context.Context, filePath, diff string) (string, error)
	GenerateSessionTitle(ctx context.Context, firstMessage string) (string, error)
	GenerateProposedQuestions(ctx context.Context, noteContent string, count int) ([]string, error)
}

// Notifier is called after a successful note update, for SSE fan-out.
type Notifier func(notePath, content string)

// Result reports what a run did.
type Result struct {
	Updated         bool   `json:"updated"`
	Reason          string `json:"reason,omitempty"`
	FilesConsidered int    `json:"filesConsidered"`
	DiffsConsumed   int    `json:"diffsConsumed"`
	NotePath        string `json:"notePath,omitempty"`
}

// Batcher executes one summarization run at a time.
type Batcher struct {
	store   *store.Store
	matcher *patterns.Matcher
	llm     Completer
	note    *livingnote.Service
	index   *semantic.Index
	log     *slog.Logger
	notify  Notifier

	mu sync.Mutex

	// excluded paths never feed the batch, preventing the note from
	// summarizing its own updates.
	excludeMu sync.RWMutex
	exclude   map[string]struct{}
}

// NewBatcher wires the batch pipeline.
func NewBatcher(st *store.Store, matcher *patterns.Matcher, llm Completer, note *livingnote.Service, index *semantic.Index, log *slog.Logger) *Batcher {
	if log == nil {
		log = slog.Default()
	}
	return &Batcher{
		store:   st,
		matcher: matcher,
		llm:     llm,
		note:    note,
		index:   index,
		log:     log,
		exclude: make(map[string]struct{}),
	}
}

// SetNotifier registers the post-update callback.
func (b *Batcher) SetNotifier(n Notifier) { b.notify = n }

// Exclude adds a path to the feedback-loop exclusion set.
func (b *Batcher) Exclude(path string) {
	b.excludeMu.Lock()
	b.exclude[filepath.Clean(path)] = struct{}{}
	b.excludeMu.Unlock()
}

func (b *Batcher) excluded(path string) bool {
	b.excludeMu.RLock()
	defer b.excludeMu.RUnlock()
	_, ok := b.exclude[filepath.Clean(path)]
	return ok
}

// Run executes one batch. forced skips the empty-batch early return and
// the fingerprint dedup. Runs never overlap.
func (b *Batcher) Run(ctx context.Context, forced bool) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The note path moves at midnight in daily mode, so refresh the
	// exclusion each run.
	b.Exclude(b.note.Path())

	since := b.store.Cursor(ctx)
	if since.IsZero() {
		since = time.Now().Add(-DefaultWindow)
	}

	var accept store.PathFilter
	if b.matcher != nil {
		accept = func(p string) bool { return b.matcher.Accepts(p) && !b.excluded(p) }
	} else {
		accept = func(p string) bool { return !b.excluded(p) }
	}

	diffs, err := b.store.DiffsSince(ctx, since, fetchLimit, "", accept)
	if err != nil {
		return Result{}, fmt.Errorf("load diffs: %w", err)
	}
	if len(diffs) == 0 && !forced {
		return Result{Updated: false, Reason: "no changes"}, nil
	}

	maxBatch := b.store.GetConfigInt(ctx, store.KeyAIMaxBatchSize, DefaultMaxBatchSize)
	if len(diffs) > maxBatch {
		diffs = diffs[:maxBatch] // earliest first, remainder next tick
	}

	groups := groupByFile(diffs)
	fingerprint := fingerprintFor(groups)
	if !forced && fingerprint != "" {
		if prev := b.store.GetConfigString(ctx, keyLastFingerprint, ""); prev == fingerprint {
			return Result{Updated: false, Reason: "dedup", FilesConsidered: len(groups)}, nil
		}
	}

	response, llmOK := b.summarize(ctx, groups)

	if len(groups) > 0 && !strings.Contains(response, "### Sources") {
		response += "\n\n" + synthesizeSources(groups)
	}

	files := b.summarizeFiles(ctx, groups, llmOK)

	if err := b.writeOut(ctx, response, groups, files, llmOK); err != nil {
		// Cursor stays put so the next tick reprocesses this window.
		return Result{}, err
	}

	if len(diffs) > 0 {
		latest := diffs[len(diffs)-1].Timestamp
		if err := b.store.AdvanceCursor(ctx, latest); err != nil {
			b.log.Warn("advance cursor", "error", err)
		}
	}
	if err := b.store.SetConfig(ctx, keyLastFingerprint, fingerprint, "fingerprint of last summarized batch"); err != nil {
		b.log.Warn("store fingerprint", "error", err)
	}

	return Result{
		Updated:         true,
		FilesConsidered: len(groups),
		DiffsConsumed:   len(diffs),
		NotePath:        b.note.Path(),
	}, nil
}

// summarize calls the LLM, falling back to a deterministic metrics
// block when it fails.
func (b *Batcher) summarize(ctx context.Context, groups []fileGroup) (string, bool) {
	if len(groups) == 0 {
		return "- no meaningful changes", true
	}

	resp, err := b.llm.Complete(ctx, systemPrompt, buildPayload(groups))
	if err != nil || strings.HasPrefix(resp, "Error") {
		b.log.Warn("batch summarization fell back to metrics", "error", err)
		return metricsFallback(groups), false
	}
	return resp, true
}

// writeOut appends the note block and records the semantic entries. The
// individual summary file is removed again if the batch index write
// fails; per-file entries are enrichment and never fail the run.
func (b *Batcher) writeOut(ctx context.Context, response string, groups []fileGroup, files []fileSummary, llmOK bool) error {
	now := time.Now()

	title := "Activity Update"
	if llmOK {
		if t, err := b.llm.GenerateSessionTitle(ctx, response); err == nil && t != "" {
			title = t
		}
	}

	var questions []string
	if llmOK {
		if qs, err := b.llm.GenerateProposedQuestions(ctx, response, 3); err == nil {
			questions = qs
		}
	}

	body, sources := splitSources(response)
	block := livingnote.Block{
		Title:     title,
		Timestamp: now,
		Metrics:   metricsBlock(groups),
		Body:      body,
		Questions: questions,
		Sources:   sources,
	}

	notePath, err := b.note.Append(ctx, block)
	if err != nil {
		return fmt.Errorf("append living note: %w", err)
	}

	summaryPath, err := b.note.WriteIndividualSummary(now, response)
	if err != nil {
		b.log.Warn("individual summary write failed", "error", err)
	}

	if _, err := b.index.RecordWithImpact(ctx, response, "batch_summary", semantic.SourceBatchSummary, "", summaryPath, rollupImpact(files), 0, now); err != nil {
		if rmErr := b.note.RemoveIndividualSummary(summaryPath); rmErr != nil {
			b.log.Warn("compensating summary delete failed", "path", summaryPath, "error", rmErr)
		}
		return fmt.Errorf("record semantic entry: %w", err)
	}

	for _, f := range files {
		if _, err := b.index.Record(ctx, f.response, "file_summary", semantic.SourceFileSummary, f.group.Path, "", f.group.LastVersionID, now); err != nil {
			b.log.Warn("file summary entry skipped", "path", f.group.Path, "error", err)
		}
	}

	if b.notify != nil {
		if content, err := b.note.Read(); err == nil {
			b.notify(notePath, content)
		}
	}
	return nil
}

// fileSummary pairs one file group with its parsed micro-summary.
type fileSummary struct {
	group    fileGroup
	response string
	parsed   semantic.Parsed
}

// summarizeFiles produces micro-summaries for the most edited files of
// the batch. Failures skip the file; enrichment never fails the run.
func (b *Batcher) summarizeFiles(ctx context.Context, groups []fileGroup, llmOK bool) []fileSummary {
	if !llmOK || len(groups) == 0 {
		return nil
	}

	ranked := make([]fileGroup, len(groups))
	copy(ranked, groups)
	sort.Slice(ranked, func(i, j int) bool {
		vi := ranked[i].LinesAdded + ranked[i].LinesRemoved
		vj := ranked[j].LinesAdded + ranked[j].LinesRemoved
		if vi != vj {
			return vi > vj
		}
		return ranked[i].Path < ranked[j].Path
	})
	if len(ranked) > maxFileSummaries {
		ranked = ranked[:maxFileSummaries]
	}

	var out []fileSummary
	for _, g := range ranked {
		resp, err := b.llm.SummarizeDiffs(ctx, g.Path, g.CombinedDiff)
		if err != nil {
			b.log.Warn("file summary skipped", "path", g.Path, "error", err)
			continue
		}
		out = append(out, fileSummary{group: g, response: resp, parsed: semantic.Parse(resp)})
	}
	return out
}

// rollupImpact folds per-file impacts into the batch impact: any
// significant file makes the batch significant, a moderate majority
// makes it moderate, otherwise brief. No file summaries returns "",
// keeping the impact parsed from the batch response.
func rollupImpact(files []fileSummary) store.Impact {
	if len(files) == 0 {
		return ""
	}
	moderate := 0
	for _, f := range files {
		switch f.parsed.Impact {
		case store.ImpactSignificant:
			return store.ImpactSignificant
		case store.ImpactModerate:
			moderate++
		}
	}
	if moderate*2 > len(files) {
		return store.ImpactModerate
	}
	return store.ImpactBrief
}

// fileGroup aggregates one file's diffs within the batch.
type fileGroup struct {
	Path          string
	ChangesCount  int
	LinesAdded    int
	LinesRemoved  int
	CombinedDiff  string
	LastVersionID int64
}

// groupByFile folds diffs into per-file groups ordered by path. Diffs
// arrive oldest first, so LastVersionID ends at the newest version.
func groupByFile(diffs []store.ContentDiff) []fileGroup {
	byPath := make(map[string]*fileGroup)
	for _, d := range diffs {
		g, ok := byPath[d.FilePath]
		if !ok {
			g = &fileGroup{Path: d.FilePath}
			byPath[d.FilePath] = g
		}
		g.ChangesCount++
		g.LinesAdded += d.LinesAdded
		g.LinesRemoved += d.LinesRemoved
		g.LastVersionID = d.NewVersionID
		if len(g.CombinedDiff) < maxDiffExcerpt {
			g.CombinedDiff += d.DiffContent
		}
	}

	groups := make([]fileGroup, 0, len(byPath))
	for _, g := range byPath {
		if len(g.CombinedDiff) > maxDiffExcerpt {
			g.CombinedDiff = g.CombinedDiff[:maxDiffExcerpt]
		}
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Path < groups[j].Path })
	return groups
}

// fingerprintFor hashes the batch shape so an identical pending batch
// is not re-summarized.
func fingerprintFor(groups []fileGroup) string {
	if len(groups) == 0 {
		return ""
	}
	total := 0
	var combined strings.Builder
	for _, g := range groups {
		total += g.ChangesCount
		combined.WriteString(g.CombinedDiff)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|", len(groups), total)
	h.Write([]byte(combined.String()))
	return hex.EncodeToString(h.Sum(nil))
}

func buildPayload(groups []fileGroup) string {
	var sb strings.Builder
	sb.WriteString(metricsBlock(groups))
	sb.WriteString("\n\nPer-file changes:\n")
	for _, g := range groups {
		fmt.Fprintf(&sb, "\n%s (%d changes, +%d/-%d):\n%s\n", g.Path, g.ChangesCount, g.LinesAdded, g.LinesRemoved, g.CombinedDiff)
	}
	sb.WriteString("\nConsidered files:\n")
	for _, g := range groups {
		fmt.Fprintf(&sb, "- %s\n", g.Path)
	}
	return sb.String()
}

func metricsBlock(groups []fileGroup) string {
	total, added, removed := 0, 0, 0
	for _, g := range groups {
		total += g.ChangesCount
		added += g.LinesAdded
		removed += g.LinesRemoved
	}
	return fmt.Sprintf("**Files changed**: %d | **Edits**: %d | **Lines**: +%d/-%d", len(groups), total, added, removed)
}

// metricsFallback is the deterministic block used when the LLM is
// unavailable.
func metricsFallback(groups []fileGroup) string {
	var sb strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&sb, "- %s: %d edits (+%d/-%d)\n", g.Path, g.ChangesCount, g.LinesAdded, g.LinesRemoved)
	}
	sb.WriteString("\n")
	sb.WriteString(synthesizeSources(groups))
	return sb.String()
}

func synthesizeSources(groups []fileGroup) string {
	var sb strings.Builder
	sb.WriteString("### Sources\n")
	for _, g := range groups {
		fmt.Fprintf(&sb, "- %s: %d changes in this batch\n", g.Path, g.ChangesCount)
	}
	return sb.String()
}

// splitSources separates the outcome bullets from the Sources section.
func splitSources(response string) (body, sources string) {
	idx := strings.Index(response, "### Sources")
	if idx < 0 {
		return strings.TrimSpace(response), ""
	}
	return strings.TrimSpace(response[:idx]), strings.TrimSpace(response[idx:])
}
