package insights

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/obbylabs/obby/internal/patterns"
)

// TreeSource locates the watched tree for insights that scan live file
// contents instead of recorded history.
type TreeSource struct {
	Root    string
	Matcher *patterns.Matcher
}

// walk visits every watched file under the root. Unreadable entries are
// skipped rather than failing the scan; a nil matcher accepts all files.
func (s TreeSource) walk(ctx context.Context, visit func(path string, info fs.FileInfo)) error {
	return filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.Root {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != s.Root && patterns.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.Matcher != nil && !s.Matcher.Accepts(path) {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		visit(path, info)
		return nil
	})
}

// rel shortens path for display; absolute paths outside the root are
// returned unchanged.
func (s TreeSource) rel(path string) string {
	if r, err := filepath.Rel(s.Root, path); err == nil {
		return r
	}
	return path
}

// listLimit reads the optional "limit" config value shared by the
// list-producing insights.
func listLimit(config map[string]any, def int) int {
	if raw, ok := config["limit"]; ok {
		if n, ok := raw.(float64); ok && n > 0 {
			return int(n)
		}
	}
	return def
}

// CodeMetrics sizes the watched tree: file, line and byte counts with a
// per-extension breakdown. The date range is ignored; the scan reflects
// the tree as it is now.
type CodeMetrics struct {
	Tree TreeSource
}

func (c *CodeMetrics) Metadata() Metadata {
	return Metadata{
		ID:          "code_metrics",
		Name:        "Code Metrics",
		Description: "File, line and byte counts for the watched tree by extension",
		ChartType:   "bar",
	}
}

func (c *CodeMetrics) Calculate(ctx context.Context, _, _ time.Time, _ map[string]any) Result {
	var files, lines int
	var size int64
	byExt := map[string]int{}

	err := c.Tree.walk(ctx, func(path string, info fs.FileInfo) {
		files++
		size += info.Size()
		lines += countLines(path)
		ext := strings.ToLower(filepath.Ext(path))
		if ext == "" {
			ext = "(none)"
		}
		byExt[ext]++
	})
	if err != nil {
		return errorResult("code_metrics", err)
	}
	return Result{
		ID:     "code_metrics",
		Value:  files,
		Status: "ok",
		Chart:  byExt,
		Details: map[string]any{
			"lines": lines,
			"bytes": size,
		},
		Message: fmt.Sprintf("%d watched files, %d lines", files, lines),
	}
}

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		n++
	}
	return n
}

// todoMarkers are the comment tags StaleTodos counts.
var todoMarkers = []string{"TODO", "FIXME"}

// StaleTodos finds TODO and FIXME markers in files that were not
// modified during the range: work that was noted down and then sat
// untouched.
type StaleTodos struct {
	Tree TreeSource
}

func (s *StaleTodos) Metadata() Metadata {
	return Metadata{
		ID:          "stale_todos",
		Name:        "Stale TODOs",
		Description: "TODO/FIXME markers in files untouched within the range",
		ChartType:   "list",
	}
}

func (s *StaleTodos) Calculate(ctx context.Context, start, _ time.Time, config map[string]any) Result {
	limit := listLimit(config, 10)

	total := 0
	var items []string
	err := s.Tree.walk(ctx, func(path string, info fs.FileInfo) {
		if !info.ModTime().Before(start) {
			return // edited within the range, its markers are live
		}
		for _, m := range scanMarkers(path, todoMarkers) {
			total++
			if len(items) < limit {
				items = append(items, fmt.Sprintf("%s:%d: %s", s.Tree.rel(path), m.line, m.text))
			}
		}
	})
	if err != nil {
		return errorResult("stale_todos", err)
	}

	msg := "no stale markers"
	if total > 0 {
		msg = fmt.Sprintf("%d stale markers in files untouched since %s", total, start.Format("2006-01-02"))
	}
	return Result{
		ID:      "stale_todos",
		Value:   total,
		Status:  "ok",
		Details: map[string]any{"items": items},
		Message: msg,
	}
}

type markerHit struct {
	line int
	text string
}

func scanMarkers(path string, markers []string) []markerHit {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var hits []markerHit
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Text()
		for _, m := range markers {
			if strings.Contains(line, m) {
				hits = append(hits, markerHit{line: n, text: strings.TrimSpace(line)})
				break
			}
		}
	}
	return hits
}

// mentionPattern matches [[wiki-style]] links.
var mentionPattern = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// OrphanMentions finds [[wiki-style]] mentions whose target is not a
// watched file. Aliases ([[note|alias]]) and heading anchors
// ([[note#section]]) resolve against the part before the separator.
type OrphanMentions struct {
	Tree TreeSource
}

func (o *OrphanMentions) Metadata() Metadata {
	return Metadata{
		ID:          "orphan_mentions",
		Name:        "Orphan Mentions",
		Description: "Wiki-style links pointing at files that do not exist",
		ChartType:   "list",
	}
}

type mentionSite struct {
	path   string
	line   int
	target string
}

func (o *OrphanMentions) Calculate(ctx context.Context, _, _ time.Time, config map[string]any) Result {
	limit := listLimit(config, 10)

	// One pass collects both the known names and every mention site.
	known := map[string]bool{}
	var sites []mentionSite
	err := o.Tree.walk(ctx, func(path string, info fs.FileInfo) {
		base := filepath.Base(path)
		known[strings.ToLower(base)] = true
		known[strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))] = true
		sites = append(sites, scanMentions(path)...)
	})
	if err != nil {
		return errorResult("orphan_mentions", err)
	}

	total := 0
	var items []string
	for _, site := range sites {
		if known[normalizeMention(site.target)] {
			continue
		}
		total++
		if len(items) < limit {
			items = append(items, fmt.Sprintf("%s:%d: [[%s]]", o.Tree.rel(site.path), site.line, site.target))
		}
	}

	msg := "all mentions resolve"
	if total > 0 {
		msg = fmt.Sprintf("%d mentions point at missing files", total)
	}
	return Result{
		ID:      "orphan_mentions",
		Value:   total,
		Status:  "ok",
		Details: map[string]any{"items": items},
		Message: msg,
	}
}

func scanMentions(path string) []mentionSite {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var sites []mentionSite
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		for _, m := range mentionPattern.FindAllStringSubmatch(scanner.Text(), -1) {
			sites = append(sites, mentionSite{path: path, line: n, target: m[1]})
		}
	}
	return sites
}

// normalizeMention reduces a link body to the lowercase target name.
func normalizeMention(target string) string {
	if i := strings.IndexAny(target, "|#"); i >= 0 {
		target = target[:i]
	}
	return strings.ToLower(strings.TrimSpace(target))
}
