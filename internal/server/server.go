// Package server exposes the HTTP and SSE surface over the pipeline.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"

	"github.com/obbylabs/obby/internal/agent"
	"github.com/obbylabs/obby/internal/insights"
	"github.com/obbylabs/obby/internal/livingnote"
	"github.com/obbylabs/obby/internal/patterns"
	"github.com/obbylabs/obby/internal/sse"
	"github.com/obbylabs/obby/internal/store"
	"github.com/obbylabs/obby/internal/summarizer"
	"github.com/obbylabs/obby/internal/watch"
)

// Deps carries the wired services the server exposes. Orchestrator and
// LLM may be nil when no provider is configured; the chat endpoints
// then return 503.
type Deps struct {
	Store        *store.Store
	Matcher      *patterns.Matcher
	Watcher      *watch.Watcher
	Batcher      *summarizer.Batcher
	Scheduler    *summarizer.Scheduler
	Note         *livingnote.Service
	Hub          *sse.Hub
	Orchestrator *agent.Orchestrator
	Canceller    *agent.Canceller
	Insights     *insights.Registry
	LLM          summarizer.Completer
	Root         string
	Log          *slog.Logger
}

// Server is the HTTP front of the pipeline.
type Server struct {
	Deps
	validate *validator.Validate
	server   *http.Server

	sessionMu sync.Mutex
	sessions  map[string][]*schema.Message
	titles    map[string]string
}

// New builds the server and its routes.
func New(port int, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	s := &Server{
		Deps:     deps,
		validate: validator.New(),
		sessions: make(map[string][]*schema.Message),
		titles:   make(map[string]string),
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}
	return s
}

// Handler assembles the route table. Exposed separately so tests can
// drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/monitor/start", s.handleMonitorStart)
	mux.HandleFunc("POST /api/monitor/stop", s.handleMonitorStop)

	mux.HandleFunc("GET /api/files/events", s.handleFileEvents)
	mux.HandleFunc("GET /api/files/states", s.handleFileStates)
	mux.HandleFunc("GET /api/files/diffs", s.handleDiffs)
	mux.HandleFunc("GET /api/files/diffs/{id}", s.handleDiffByID)
	mux.HandleFunc("GET /api/files/content/{path...}", s.handleFileRead)
	mux.HandleFunc("PUT /api/files/content/{path...}", s.handleFileWrite)
	mux.Handle("GET /api/files/updates/stream", s.Hub.Handler(sse.TopicFileUpdated, sse.TopicError))
	mux.HandleFunc("POST /api/files/clear", s.handleFilesClear)

	mux.HandleFunc("GET /api/living-note", s.handleLivingNoteRead)
	mux.HandleFunc("POST /api/living-note/clear", s.handleLivingNoteClear)
	mux.HandleFunc("POST /api/living-note/update", s.handleLivingNoteUpdate)
	mux.HandleFunc("GET /api/living-note/settings", s.handleLivingNoteSettingsGet)
	mux.HandleFunc("POST /api/living-note/settings", s.handleLivingNoteSettingsSet)
	mux.Handle("GET /api/living-note/events", s.Hub.Handler(sse.TopicLivingNoteUpdated, sse.TopicError))

	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/search/entries/{id}", s.handleSearchEntry)

	mux.HandleFunc("GET /api/insights/available", s.handleInsightsAvailable)
	mux.HandleFunc("POST /api/insights/calculate", s.handleInsightsCalculate)
	mux.HandleFunc("GET /api/insights/layout-config", s.handleInsightsLayoutGet)
	mux.HandleFunc("POST /api/insights/layout-config", s.handleInsightsLayoutSet)
	mux.HandleFunc("GET /api/insights/schema", s.handleInsightsSchema)

	mux.HandleFunc("POST /api/chat/message", s.handleChatMessage)
	mux.HandleFunc("POST /api/chat/complete", s.handleChatComplete)
	mux.HandleFunc("GET /api/chat/tools", s.handleChatTools)
	mux.HandleFunc("GET /api/chat/ping", s.handleChatPing)
	mux.HandleFunc("GET /api/chat/log/{sessionId}", s.handleChatLog)
	mux.HandleFunc("POST /api/chat/cancel", s.handleChatCancel)
	mux.Handle("GET /api/chat/events", s.Hub.Handler(
		agent.EventAssistantThinking, agent.EventToolCall, agent.EventToolResult,
		agent.EventAssistantResponse, agent.EventCancelRequested, agent.EventCancelGraceful,
		agent.EventCancelForced, agent.EventCancelFailed,
	))

	mux.HandleFunc("GET /api/watch-config/watch-patterns", s.handleWatchPatternsGet)
	mux.HandleFunc("POST /api/watch-config/watch-patterns", s.handleWatchPatternsAdd)
	mux.HandleFunc("DELETE /api/watch-config/watch-patterns", s.handleWatchPatternsRemove)
	mux.HandleFunc("GET /api/watch-config/ignore-patterns", s.handleIgnorePatternsGet)
	mux.HandleFunc("POST /api/watch-config/ignore-patterns", s.handleIgnorePatternsAdd)
	mux.HandleFunc("DELETE /api/watch-config/ignore-patterns", s.handleIgnorePatternsRemove)
	mux.HandleFunc("POST /api/watch-config/reload", s.handleWatchConfigReload)
	mux.HandleFunc("POST /api/watch-config/validate-pattern", s.handleValidatePattern)

	mux.HandleFunc("OPTIONS /api/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return corsMiddleware(mux)
}

// Start runs ListenAndServe on a goroutine, reporting fatal errors on
// errChan.
func (s *Server) Start(wg *sync.WaitGroup, errChan chan<- error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// decodeValid decodes a JSON body into dst and runs struct validation.
func (s *Server) decodeValid(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
