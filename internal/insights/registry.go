// Package insights exposes pluggable metrics computed over the store
// for a date range. Implementations never return Go errors from
// Calculate; failures are reported inside the result so the HTTP
// surface can render partial dashboards.
package insights

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/obbylabs/obby/internal/store"
)

// Metadata describes an insight for the listing endpoint.
type Metadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ChartType   string `json:"chartType,omitempty"`
}

// Result is the outcome of one calculation. Status is "ok" or "error";
// on error, Error carries the message and Value is absent.
type Result struct {
	ID      string         `json:"id"`
	Value   any            `json:"value,omitempty"`
	Trend   string         `json:"trend,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Chart   any            `json:"chart,omitempty"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Insight is one computable metric.
type Insight interface {
	Metadata() Metadata
	Calculate(ctx context.Context, start, end time.Time, config map[string]any) Result
}

// Registry holds insights keyed by id.
type Registry struct {
	mu       sync.RWMutex
	insights map[string]Insight
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{insights: make(map[string]Insight)}
}

// Register adds an insight, replacing any prior one with the same id.
func (r *Registry) Register(i Insight) {
	r.mu.Lock()
	r.insights[i.Metadata().ID] = i
	r.mu.Unlock()
}

// Available lists registered insights ordered by id.
func (r *Registry) Available() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.insights))
	for _, i := range r.insights {
		out = append(out, i.Metadata())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Calculate computes the requested insights. Unknown ids yield error
// results rather than failing the batch.
func (r *Registry) Calculate(ctx context.Context, ids []string, start, end time.Time, config map[string]any) []Result {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		i, ok := r.insights[id]
		r.mu.RUnlock()
		if !ok {
			results = append(results, Result{ID: id, Status: "error", Error: "unknown insight: " + id})
			continue
		}
		results = append(results, i.Calculate(ctx, start, end, config))
	}
	return results
}

// errorResult is the shared failure constructor for builtins.
func errorResult(id string, err error) Result {
	return Result{ID: id, Status: "error", Error: err.Error()}
}

// Defaults registers the builtin insights: history metrics over st and
// tree scans over the watched root.
func Defaults(st *store.Store, tree TreeSource) *Registry {
	r := NewRegistry()
	r.Register(&TotalActivity{Store: st})
	r.Register(&PeakHour{Store: st})
	r.Register(&TrendingFiles{Store: st})
	r.Register(&CodeMetrics{Tree: tree})
	r.Register(&StaleTodos{Tree: tree})
	r.Register(&OrphanMentions{Tree: tree})
	return r
}
