// Package client is a typed HTTP client for a running obby server.
// The CLI subcommands drive the same API the dashboard consumes, so
// command output always reflects the server's live view rather than a
// second reading of the database.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/obbylabs/obby/internal/insights"
	"github.com/obbylabs/obby/internal/patterns"
	"github.com/obbylabs/obby/internal/store"
	"github.com/obbylabs/obby/internal/summarizer"
)

// APIError is a non-2xx response, decoded from the server's error
// envelope when one is present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
	}
	return e.Message
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one obby server. Deadlines come from the caller's
// context; chat calls run tool loops and need far more headroom than a
// status probe, so the client itself imposes no timeout.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for baseURL, e.g. "http://127.0.0.1:8787".
func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{},
	}
}

// BaseURL returns the server address the client was built for.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	var req *http.Request
	var err error
	if rdr != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, nil)
	}
	if err != nil {
		return err
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr == nil {
			apiErr.Message = envelope.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Status mirrors GET /api/status.
type Status struct {
	Monitoring     bool     `json:"monitoring"`
	Backend        string   `json:"backend"`
	Root           string   `json:"root"`
	WatchPatterns  []string `json:"watchPatterns"`
	IgnorePatterns []string `json:"ignorePatterns"`
	EventCount     int      `json:"eventCount"`
	SSEClients     int      `json:"sseClients"`
	SchedulerOn    bool     `json:"schedulerOn"`
}

// Status fetches the server's monitoring state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.get(ctx, "/api/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// MonitorState is the reply to a monitor start/stop call.
type MonitorState struct {
	Monitoring bool   `json:"monitoring"`
	Backend    string `json:"backend"`
}

// StartMonitoring turns the filesystem watcher on.
func (c *Client) StartMonitoring(ctx context.Context) (*MonitorState, error) {
	var ms MonitorState
	if err := c.post(ctx, "/api/monitor/start", nil, &ms); err != nil {
		return nil, err
	}
	return &ms, nil
}

// StopMonitoring turns the filesystem watcher off.
func (c *Client) StopMonitoring(ctx context.Context) error {
	return c.post(ctx, "/api/monitor/stop", nil, nil)
}

// RecentEvents lists the newest raw filesystem events.
func (c *Client) RecentEvents(ctx context.Context, limit int) ([]store.Event, error) {
	var out struct {
		Events []store.Event `json:"events"`
	}
	path := "/api/files/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// FileStates lists the current row per watched file.
func (c *Client) FileStates(ctx context.Context) ([]store.FileState, error) {
	var out struct {
		Files []store.FileState `json:"files"`
	}
	if err := c.get(ctx, "/api/files/states", &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// DiffQuery narrows a Diffs call. Zero values mean server defaults.
type DiffQuery struct {
	Limit    int
	Offset   int
	FilePath string
}

// Diffs pages through recorded diffs, newest first.
func (c *Client) Diffs(ctx context.Context, q DiffQuery) ([]store.ContentDiff, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.FilePath != "" {
		params.Set("file_path", q.FilePath)
	}
	path := "/api/files/diffs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var out struct {
		Diffs []store.ContentDiff `json:"diffs"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Diffs, nil
}

// Diff fetches one diff by id.
func (c *Client) Diff(ctx context.Context, id int64) (*store.ContentDiff, error) {
	var d store.ContentDiff
	if err := c.get(ctx, "/api/files/diffs/"+strconv.FormatInt(id, 10), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// FileContent reads a watched file through the server.
func (c *Client) FileContent(ctx context.Context, relPath string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	if err := c.get(ctx, "/api/files/content/"+escapePath(relPath), &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// WriteFileContent replaces a watched file's content through the
// server, so the change flows through the normal tracking pipeline.
func (c *Client) WriteFileContent(ctx context.Context, relPath, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPut, "/api/files/content/"+escapePath(relPath), body, nil)
}

// ClearHistory removes history rows per scope ("unwatched", "missing"
// or "all") and returns the number of paths cleared.
func (c *Client) ClearHistory(ctx context.Context, scope string) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	if err := c.post(ctx, "/api/files/clear", map[string]string{"scope": scope}, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// Note is the living note's path and current content.
type Note struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// LivingNote fetches the current living note.
func (c *Client) LivingNote(ctx context.Context) (*Note, error) {
	var n Note
	if err := c.get(ctx, "/api/living-note", &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ClearLivingNote resets the note to its boilerplate header.
func (c *Client) ClearLivingNote(ctx context.Context) error {
	return c.post(ctx, "/api/living-note/clear", nil, nil)
}

// RunNoteUpdate forces a summarization batch outside the schedule.
func (c *Client) RunNoteUpdate(ctx context.Context) (*summarizer.Result, error) {
	var res summarizer.Result
	if err := c.post(ctx, "/api/living-note/update", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// NoteSettings mirrors the living-note settings envelope.
type NoteSettings struct {
	AIUpdateInterval int  `json:"aiUpdateInterval"`
	BatchAIEnabled   bool `json:"batchAIEnabled"`
	AIMaxBatchSize   int  `json:"aiMaxBatchSize"`
}

// NoteSettingsPatch updates only the fields that are non-nil.
type NoteSettingsPatch struct {
	AIUpdateInterval *int  `json:"aiUpdateInterval,omitempty"`
	BatchAIEnabled   *bool `json:"batchAIEnabled,omitempty"`
	AIMaxBatchSize   *int  `json:"aiMaxBatchSize,omitempty"`
}

// NoteSettings fetches the summarization settings.
func (c *Client) NoteSettings(ctx context.Context) (*NoteSettings, error) {
	var s NoteSettings
	if err := c.get(ctx, "/api/living-note/settings", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetNoteSettings applies a partial settings update and returns the
// resulting settings.
func (c *Client) SetNoteSettings(ctx context.Context, patch NoteSettingsPatch) (*NoteSettings, error) {
	var s NoteSettings
	if err := c.post(ctx, "/api/living-note/settings", patch, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Search runs a scored semantic search. typeFilter narrows by entry
// type and may be empty.
func (c *Client) Search(ctx context.Context, query string, limit int, typeFilter string) ([]store.SearchResult, error) {
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if typeFilter != "" {
		params.Set("type", typeFilter)
	}
	var out struct {
		Results []store.SearchResult `json:"results"`
	}
	if err := c.get(ctx, "/api/search?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// SearchEntry fetches one semantic entry with topics and keywords.
func (c *Client) SearchEntry(ctx context.Context, id string) (*store.SemanticEntry, error) {
	var e store.SemanticEntry
	if err := c.get(ctx, "/api/search/entries/"+url.PathEscape(id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// AvailableInsights lists the registered insight descriptors.
func (c *Client) AvailableInsights(ctx context.Context) ([]insights.Metadata, error) {
	var out struct {
		Insights []insights.Metadata `json:"insights"`
	}
	if err := c.get(ctx, "/api/insights/available", &out); err != nil {
		return nil, err
	}
	return out.Insights, nil
}

// InsightsLayout fetches the stored dashboard layout as raw JSON, or
// nil when none was saved yet.
func (c *Client) InsightsLayout(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		Layout json.RawMessage `json:"layout"`
	}
	if err := c.get(ctx, "/api/insights/layout-config", &out); err != nil {
		return nil, err
	}
	if len(out.Layout) == 0 || string(out.Layout) == "null" {
		return nil, nil
	}
	return out.Layout, nil
}

// SetInsightsLayout stores the dashboard layout. layout must be valid
// JSON; the server rejects anything else.
func (c *Client) SetInsightsLayout(ctx context.Context, layout json.RawMessage) error {
	return c.post(ctx, "/api/insights/layout-config", map[string]any{"layout": layout}, nil)
}

// CalculateInsights computes the named insights over [start, end].
// Dates are sent as YYYY-MM-DD; the server treats end as inclusive.
func (c *Client) CalculateInsights(ctx context.Context, ids []string, start, end time.Time, config map[string]any) ([]insights.Result, error) {
	body := map[string]any{
		"insightIds": ids,
		"startDate":  start.Format("2006-01-02"),
		"endDate":    end.Format("2006-01-02"),
	}
	if config != nil {
		body["config"] = config
	}
	var out struct {
		Results []insights.Result `json:"results"`
	}
	if err := c.post(ctx, "/api/insights/calculate", body, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// ChatReply is the reply to one chat message.
type ChatReply struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

// SendChat sends one message to the chat agent. An empty sessionID
// starts a new session; the reply carries the id to continue it.
func (c *Client) SendChat(ctx context.Context, message, sessionID string) (*ChatReply, error) {
	body := map[string]string{"message": message}
	if sessionID != "" {
		body["sessionId"] = sessionID
	}
	var reply ChatReply
	if err := c.post(ctx, "/api/chat/message", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Complete runs a single tool-free completion.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	body := map[string]string{"prompt": prompt}
	if system != "" {
		body["system"] = system
	}
	var out struct {
		Completion string `json:"completion"`
	}
	if err := c.post(ctx, "/api/chat/complete", body, &out); err != nil {
		return "", err
	}
	return out.Completion, nil
}

// ToolInfo describes one tool available to the chat agent.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ChatTools lists the agent's tools.
func (c *Client) ChatTools(ctx context.Context) ([]ToolInfo, error) {
	var out struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.get(ctx, "/api/chat/tools", &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// ChatHealth is the chat subsystem's readiness.
type ChatHealth struct {
	Status string `json:"status"`
	LLM    bool   `json:"llm"`
}

// ChatPing checks whether chat is configured.
func (c *Client) ChatPing(ctx context.Context) (*ChatHealth, error) {
	var h ChatHealth
	if err := c.get(ctx, "/api/chat/ping", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// CancelChat asks the server to cancel a running chat session. ok is
// false when the session is unknown or already cancelling.
func (c *Client) CancelChat(ctx context.Context, sessionID string) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.post(ctx, "/api/chat/cancel", map[string]string{"sessionId": sessionID}, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

// ChatLog returns the recorded action trail of one chat session.
func (c *Client) ChatLog(ctx context.Context, sessionID string) ([]store.AgentAction, error) {
	var out struct {
		Actions []store.AgentAction `json:"actions"`
	}
	if err := c.get(ctx, "/api/chat/log/"+url.PathEscape(sessionID), &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

func patternPath(kind patterns.Kind) string {
	if kind == patterns.KindIgnore {
		return "/api/watch-config/ignore-patterns"
	}
	return "/api/watch-config/watch-patterns"
}

// Patterns lists the server's current patterns of one kind.
func (c *Client) Patterns(ctx context.Context, kind patterns.Kind) ([]string, error) {
	var out struct {
		Patterns []string `json:"patterns"`
	}
	if err := c.get(ctx, patternPath(kind), &out); err != nil {
		return nil, err
	}
	return out.Patterns, nil
}

// AddPattern appends a pattern to the kind's rule file and returns the
// resulting list.
func (c *Client) AddPattern(ctx context.Context, kind patterns.Kind, pattern string) ([]string, error) {
	var out struct {
		Patterns []string `json:"patterns"`
	}
	if err := c.post(ctx, patternPath(kind), map[string]string{"pattern": pattern}, &out); err != nil {
		return nil, err
	}
	return out.Patterns, nil
}

// RemovePattern deletes a pattern from the kind's rule file and
// returns the resulting list.
func (c *Client) RemovePattern(ctx context.Context, kind patterns.Kind, pattern string) ([]string, error) {
	var out struct {
		Patterns []string `json:"patterns"`
	}
	if err := c.do(ctx, http.MethodDelete, patternPath(kind), map[string]string{"pattern": pattern}, &out); err != nil {
		return nil, err
	}
	return out.Patterns, nil
}

// ReloadPatterns forces a rule-file re-read and returns both lists.
func (c *Client) ReloadPatterns(ctx context.Context) (watch, ignore []string, err error) {
	var out struct {
		WatchPatterns  []string `json:"watchPatterns"`
		IgnorePatterns []string `json:"ignorePatterns"`
	}
	if err := c.post(ctx, "/api/watch-config/reload", nil, &out); err != nil {
		return nil, nil, err
	}
	return out.WatchPatterns, out.IgnorePatterns, nil
}

// ValidatePattern checks a glob without persisting it. reason is empty
// when the pattern is valid.
func (c *Client) ValidatePattern(ctx context.Context, pattern string) (valid bool, reason string, err error) {
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.post(ctx, "/api/watch-config/validate-pattern", map[string]string{"pattern": pattern}, &out); err != nil {
		return false, "", err
	}
	return out.Valid, out.Error, nil
}

// escapePath escapes each segment of a relative path while keeping the
// separators, matching the server's {path...} wildcard.
func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
