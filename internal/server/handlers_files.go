package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/obbylabs/obby/internal/store"
	"github.com/obbylabs/obby/internal/watch"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventCount, err := s.Store.CountEvents(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	backend := ""
	running := false
	if s.Watcher != nil {
		running = s.Watcher.Running()
		backend = string(s.Watcher.Backend())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"monitoring":     running,
		"backend":        backend,
		"root":           s.Root,
		"watchPatterns":  s.Matcher.WatchPatterns(),
		"ignorePatterns": s.Matcher.IgnorePatterns(),
		"eventCount":     eventCount,
		"sseClients":     s.Hub.ClientCount(),
		"schedulerOn":    s.Scheduler != nil && s.Scheduler.Running(),
	})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if s.Watcher == nil {
		writeError(w, http.StatusServiceUnavailable, "watcher not configured")
		return
	}
	if err := s.Watcher.Start(); err != nil {
		status := http.StatusInternalServerError
		if err == watch.ErrNoWatchRules {
			status = http.StatusPreconditionFailed
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"monitoring": true, "backend": string(s.Watcher.Backend())})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if s.Watcher == nil {
		writeError(w, http.StatusServiceUnavailable, "watcher not configured")
		return
	}
	s.Watcher.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"monitoring": false})
}

func (s *Server) handleFileEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	events, err := s.Store.RecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleFileStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.Store.ListFileStates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Unwatched rows linger until a clear; report only live ones.
	watched := states[:0]
	for _, st := range states {
		if s.Matcher.Accepts(st.FilePath) {
			watched = append(watched, st)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": watched, "count": len(watched)})
}

func (s *Server) handleDiffs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	pathFilter := r.URL.Query().Get("file_path")

	diffs, err := s.Store.RecentDiffs(r.Context(), limit, offset, pathFilter, s.Matcher.Accepts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"diffs":  diffs,
		"count":  len(diffs),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleDiffByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid diff id")
		return
	}
	diff, err := s.Store.GetDiff(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "diff not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

// resolveWatched maps a request path onto the watched tree and rejects
// traversal and unwatched targets.
func (s *Server) resolveWatched(raw string) (string, bool) {
	clean := filepath.Clean("/" + raw)
	full := filepath.Join(s.Root, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.Root)+string(os.PathSeparator)) {
		return "", false
	}
	if !s.Matcher.Accepts(full) {
		return "", false
	}
	return full, true
}

func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request) {
	full, ok := s.resolveWatched(r.PathValue("path"))
	if !ok {
		writeError(w, http.StatusForbidden, "path is not watched")
		return
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": r.PathValue("path"), "content": string(data)})
}

type fileWriteRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleFileWrite(w http.ResponseWriter, r *http.Request) {
	full, ok := s.resolveWatched(r.PathValue("path"))
	if !ok {
		writeError(w, http.StatusForbidden, "path is not watched")
		return
	}
	var req fileWriteRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := atomicWriteFile(full, []byte(req.Content)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": r.PathValue("path"), "bytes": len(req.Content)})
}

type clearRequest struct {
	Scope string `json:"scope" validate:"required,oneof=unwatched missing all"`
}

func (s *Server) handleFilesClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exists := func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}
	removed, err := s.Store.ClearHistory(r.Context(), store.ClearScope(req.Scope), s.Matcher.Accepts, exists)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "scope": req.Scope})
}

// atomicWriteFile mirrors the living note's temp-and-rename protocol
// for user-driven writes.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".obby-write-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
