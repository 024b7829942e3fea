// Package livingnote maintains the rolling human-readable summary file
// and the per-batch individual summary files that back the semantic index.
package livingnote

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Mode selects where note blocks land.
type Mode string

const (
	// ModeSingle appends everything to one file at a fixed path.
	ModeSingle Mode = "single"
	// ModeDaily writes a file per calendar day under NotesDir, with
	// {date} in the filename template replaced by YYYY-MM-DD.
	ModeDaily Mode = "daily"
)

const (
	// separator divides session blocks inside the note.
	separator = "\n\n---\n\n"

	// settleDelay lets the watcher's debouncer observe the rename as a
	// single modification before the next write.
	settleDelay = 100 * time.Millisecond

	defaultDailyTemplate = "{date}-living-note.md"
)

// Config controls note placement.
type Config struct {
	Mode         Mode
	NotePath     string // single mode target
	NotesDir     string // daily mode directory
	FileTemplate string // daily mode filename, {date} placeholder
	SummariesDir string // individual summary output directory
}

// Service performs atomic prepend writes to the living note.
type Service struct {
	fs  afero.Fs
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// New creates a service over fs. Pass afero.NewOsFs() in production.
func New(fs afero.Fs, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSingle
	}
	if cfg.FileTemplate == "" {
		cfg.FileTemplate = defaultDailyTemplate
	}
	return &Service{fs: fs, cfg: cfg, log: log, now: time.Now}
}

// Block is one session's worth of note content.
type Block struct {
	Title     string // AI-generated session title
	Timestamp time.Time
	Metrics   string   // preformatted metrics lines
	Body      string   // outcome bullets
	Questions []string // optional proposed questions
	Sources   string   // preformatted Sources section, empty if none
}

// Path returns the note path the next write would target. Mode is
// resolved per write, so daily mode moves at midnight.
func (s *Service) Path() string {
	if s.cfg.Mode == ModeDaily {
		name := strings.ReplaceAll(s.cfg.FileTemplate, "{date}", s.now().Format("2006-01-02"))
		return filepath.Join(s.cfg.NotesDir, name)
	}
	return s.cfg.NotePath
}

// Append prepends a session block to the note using a temp-file rename
// so readers never observe a partial write.
func (s *Service) Append(ctx context.Context, b Block) (string, error) {
	target := s.Path()

	existing, err := s.readOrInit(target)
	if err != nil {
		return "", err
	}

	content := s.render(b) + separator + existing
	if err := s.atomicWrite(target, content); err != nil {
		return "", fmt.Errorf("write living note: %w", err)
	}

	select {
	case <-ctx.Done():
		return target, ctx.Err()
	case <-time.After(settleDelay):
	}
	return target, nil
}

// Read returns the current note content, or the boilerplate header if
// the note does not exist yet.
func (s *Service) Read() (string, error) {
	return s.readOrInit(s.Path())
}

// Clear truncates the note back to its boilerplate header.
func (s *Service) Clear() error {
	return s.atomicWrite(s.Path(), s.header())
}

// WriteIndividualSummary writes a standalone markdown file for one
// batch under the summaries directory and returns its path. The caller
// pairs this with a semantic entry write and calls
// RemoveIndividualSummary to compensate if that write fails.
func (s *Service) WriteIndividualSummary(ts time.Time, content string) (string, error) {
	if s.cfg.SummariesDir == "" {
		return "", nil
	}
	if err := s.fs.MkdirAll(s.cfg.SummariesDir, 0o755); err != nil {
		return "", fmt.Errorf("create summaries dir: %w", err)
	}
	name := fmt.Sprintf("summary-%s.md", ts.UTC().Format("2006-01-02T15-04-05"))
	path := filepath.Join(s.cfg.SummariesDir, name)
	if err := s.atomicWrite(path, content); err != nil {
		return "", fmt.Errorf("write summary file: %w", err)
	}
	return path, nil
}

// RemoveIndividualSummary deletes a summary file written by
// WriteIndividualSummary.
func (s *Service) RemoveIndividualSummary(path string) error {
	if path == "" {
		return nil
	}
	return s.fs.Remove(path)
}

func (s *Service) render(b Block) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n", b.Title)
	fmt.Fprintf(&sb, "*%s*\n\n", b.Timestamp.Format("Monday, January 2, 2006 at 3:04 PM"))
	if b.Metrics != "" {
		sb.WriteString(b.Metrics)
		sb.WriteString("\n\n")
	}
	sb.WriteString(strings.TrimSpace(b.Body))
	if len(b.Questions) > 0 {
		sb.WriteString("\n\n### Proposed Questions for AI Agent\n")
		for _, q := range b.Questions {
			fmt.Fprintf(&sb, "- %s\n", strings.TrimPrefix(q, "- "))
		}
	}
	if b.Sources != "" {
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(b.Sources))
	}
	return sb.String()
}

func (s *Service) header() string {
	return fmt.Sprintf("# Living Note\n\nAutomatic activity summaries. Newest entries first.\n\n_Started %s_\n", s.now().Format("2006-01-02"))
}

func (s *Service) readOrInit(path string) (string, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if exists, _ := afero.Exists(s.fs, path); !exists {
			return s.header(), nil
		}
		return "", fmt.Errorf("read living note: %w", err)
	}
	return string(data), nil
}

// atomicWrite writes via a temp file in the target's directory, syncs,
// then renames over the target.
func (s *Service) atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := afero.TempFile(s.fs, dir, ".livingnote-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	return nil
}
