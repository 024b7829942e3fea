// Package agent runs the bounded tool-using chat loop and its
// cancellation service. Tools implement the tool.InvokableTool
// interface from CloudWeGo Eino so the chat model can call them.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"

	"github.com/obbylabs/obby/internal/patterns"
	"github.com/obbylabs/obby/internal/store"
)

var validate = validator.New()

// NotesSearchTool greps the watched tree for a text pattern.
type NotesSearchTool struct {
	root    string
	matcher *patterns.Matcher
}

// NewNotesSearchTool creates a search tool rooted at the watch directory.
func NewNotesSearchTool(root string, matcher *patterns.Matcher) *NotesSearchTool {
	return &NotesSearchTool{root: root, matcher: matcher}
}

func (t *NotesSearchTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "search_notes",
		Desc: `Search the watched notes for a text pattern.
Returns matching lines with file paths and line numbers.

Examples:
- search_notes(pattern="standup") - find mentions of standup
- search_notes(pattern="TODO", max_results=10) - find open TODOs`,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"pattern": {
				Type:     "string",
				Desc:     "Case-insensitive text to search for",
				Required: true,
			},
			"max_results": {
				Type:     "integer",
				Desc:     "Maximum matching lines to return (default: 20)",
				Required: false,
			},
		}),
	}, nil
}

type notesSearchArgs struct {
	Pattern    string `json:"pattern" validate:"required,min=1"`
	MaxResults int    `json:"max_results,omitempty" validate:"omitempty,min=1,max=200"`
}

func (t *NotesSearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args notesSearchArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if err := validate.Struct(args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	maxResults := args.MaxResults
	if maxResults == 0 {
		maxResults = 20
	}
	needle := strings.ToLower(args.Pattern)

	var sb strings.Builder
	found := 0
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found >= maxResults {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if path != t.root && patterns.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if t.matcher != nil && !t.matcher.Accepts(path) {
			return nil
		}
		matches, scanErr := grepFile(path, needle, maxResults-found)
		if scanErr != nil {
			return nil // unreadable files are skipped
		}
		rel, relErr := filepath.Rel(t.root, path)
		if relErr != nil {
			rel = path
		}
		for _, m := range matches {
			fmt.Fprintf(&sb, "%s:%d: %s\n", rel, m.line, m.text)
			found++
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return "", fmt.Errorf("search notes: %w", err)
	}
	if found == 0 {
		return fmt.Sprintf("No matches for %q.", args.Pattern), nil
	}
	return sb.String(), nil
}

type grepMatch struct {
	line int
	text string
}

func grepFile(path, needle string, limit int) ([]grepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []grepMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; scanner.Scan() && len(matches) < limit; n++ {
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), needle) {
			matches = append(matches, grepMatch{line: n, text: strings.TrimSpace(line)})
		}
	}
	return matches, scanner.Err()
}

var _ tool.InvokableTool = (*NotesSearchTool)(nil)

// RecentChangesTool lists recent tracked changes from the store.
type RecentChangesTool struct {
	store *store.Store
}

// NewRecentChangesTool creates the recent-changes tool.
func NewRecentChangesTool(st *store.Store) *RecentChangesTool {
	return &RecentChangesTool{store: st}
}

func (t *RecentChangesTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "recent_changes",
		Desc: `List the most recent file changes with their type and line deltas.
Use this to answer questions about what the user has been working on.`,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"limit": {
				Type:     "integer",
				Desc:     "Maximum changes to return (default: 10)",
				Required: false,
			},
		}),
	}, nil
}

type recentChangesArgs struct {
	Limit int `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

func (t *RecentChangesTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args recentChangesArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if err := validate.Struct(args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	limit := args.Limit
	if limit == 0 {
		limit = 10
	}

	changes, err := t.store.RecentChanges(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("load changes: %w", err)
	}
	if len(changes) == 0 {
		return "No changes recorded yet.", nil
	}

	var sb strings.Builder
	for _, c := range changes {
		fmt.Fprintf(&sb, "%s %s %s\n", c.Timestamp.Format("2006-01-02 15:04"), c.ChangeType, c.FilePath)
	}
	return sb.String(), nil
}

var _ tool.InvokableTool = (*RecentChangesTool)(nil)

// FileHistoryTool returns the diff history for one path.
type FileHistoryTool struct {
	store *store.Store
}

// NewFileHistoryTool creates the file-history tool.
func NewFileHistoryTool(st *store.Store) *FileHistoryTool {
	return &FileHistoryTool{store: st}
}

func (t *FileHistoryTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "file_history",
		Desc: `Show the recorded change history for a single file, including
line deltas per edit. The path must match a tracked file exactly.`,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"path": {
				Type:     "string",
				Desc:     "Absolute path of the tracked file",
				Required: true,
			},
		}),
	}, nil
}

type fileHistoryArgs struct {
	Path string `json:"path" validate:"required"`
}

func (t *FileHistoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args fileHistoryArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if err := validate.Struct(args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	diffs, err := t.store.DiffsForPath(ctx, args.Path)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	if len(diffs) == 0 {
		return fmt.Sprintf("No history recorded for %s.", args.Path), nil
	}

	var sb strings.Builder
	for _, d := range diffs {
		fmt.Fprintf(&sb, "%s %s +%d/-%d\n", d.Timestamp.Format("2006-01-02 15:04"), d.ChangeType, d.LinesAdded, d.LinesRemoved)
	}
	return sb.String(), nil
}

var _ tool.InvokableTool = (*FileHistoryTool)(nil)

// SemanticSearchTool queries the summary index.
type SemanticSearchTool struct {
	store *store.Store
}

// NewSemanticSearchTool creates the semantic-search tool.
func NewSemanticSearchTool(st *store.Store) *SemanticSearchTool {
	return &SemanticSearchTool{store: st}
}

func (t *SemanticSearchTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "search_summaries",
		Desc: `Search past activity summaries by topic or keyword.
Returns scored matches with their dates and impact levels.`,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     "string",
				Desc:     "Search terms",
				Required: true,
			},
			"limit": {
				Type:     "integer",
				Desc:     "Maximum results (default: 5)",
				Required: false,
			},
		}),
	}, nil
}

type semanticSearchArgs struct {
	Query string `json:"query" validate:"required,min=1"`
	Limit int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

func (t *SemanticSearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args semanticSearchArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if err := validate.Struct(args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	limit := args.Limit
	if limit == 0 {
		limit = 5
	}

	results, err := t.store.SearchSemantic(ctx, args.Query, limit, "")
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if len(results) == 0 {
		return fmt.Sprintf("No summaries match %q.", args.Query), nil
	}

	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "[%s] (%s) %s\n", r.Entry.Date, r.Entry.Impact, r.Entry.Summary)
	}
	return sb.String(), nil
}

var _ tool.InvokableTool = (*SemanticSearchTool)(nil)

// ReadNoteTool returns the current content of one watched file.
type ReadNoteTool struct {
	root    string
	matcher *patterns.Matcher
}

// NewReadNoteTool creates the note-reading tool rooted at the watch directory.
func NewReadNoteTool(root string, matcher *patterns.Matcher) *ReadNoteTool {
	return &ReadNoteTool{root: root, matcher: matcher}
}

func (t *ReadNoteTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "read_note",
		Desc: `Read the current content of a watched file. Paths are
relative to the watched directory. Long files are truncated.`,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"path": {
				Type:     "string",
				Desc:     "File path relative to the watched directory",
				Required: true,
			},
			"max_bytes": {
				Type:     "integer",
				Desc:     "Maximum bytes to return (default: 16384)",
				Required: false,
			},
		}),
	}, nil
}

type readNoteArgs struct {
	Path     string `json:"path" validate:"required"`
	MaxBytes int    `json:"max_bytes,omitempty" validate:"omitempty,min=1,max=262144"`
}

func (t *ReadNoteTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args readNoteArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if err := validate.Struct(args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	maxBytes := args.MaxBytes
	if maxBytes == 0 {
		maxBytes = 16 * 1024
	}

	full := filepath.Clean(args.Path)
	if !filepath.IsAbs(full) {
		full = filepath.Join(t.root, filepath.Clean("/"+args.Path))
	}
	if !strings.HasPrefix(full, filepath.Clean(t.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q is outside the watched directory", args.Path)
	}
	if t.matcher != nil && !t.matcher.Accepts(full) {
		return "", fmt.Errorf("path %q is not watched", args.Path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("No file at %s.", args.Path), nil
		}
		return "", fmt.Errorf("read note: %w", err)
	}
	if len(data) > maxBytes {
		return string(data[:maxBytes]) + "\n... [truncated]", nil
	}
	return string(data), nil
}

var _ tool.InvokableTool = (*ReadNoteTool)(nil)

// DefaultTools assembles the standard toolset for the chat agent.
func DefaultTools(root string, matcher *patterns.Matcher, st *store.Store) []tool.InvokableTool {
	return []tool.InvokableTool{
		NewNotesSearchTool(root, matcher),
		NewReadNoteTool(root, matcher),
		NewRecentChangesTool(st),
		NewFileHistoryTool(st),
		NewSemanticSearchTool(st),
	}
}
