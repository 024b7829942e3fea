package server

import (
	"net/http"

	"github.com/obbylabs/obby/internal/patterns"
)

func (s *Server) handleWatchPatternsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"patterns": s.Matcher.WatchPatterns()})
}

func (s *Server) handleIgnorePatternsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"patterns": s.Matcher.IgnorePatterns()})
}

type patternRequest struct {
	Pattern string `json:"pattern" validate:"required,min=1"`
}

func (s *Server) handleWatchPatternsAdd(w http.ResponseWriter, r *http.Request) {
	s.mutatePattern(w, r, patterns.KindWatch, s.Matcher.AddPattern)
}

func (s *Server) handleWatchPatternsRemove(w http.ResponseWriter, r *http.Request) {
	s.mutatePattern(w, r, patterns.KindWatch, s.Matcher.RemovePattern)
}

func (s *Server) handleIgnorePatternsAdd(w http.ResponseWriter, r *http.Request) {
	s.mutatePattern(w, r, patterns.KindIgnore, s.Matcher.AddPattern)
}

func (s *Server) handleIgnorePatternsRemove(w http.ResponseWriter, r *http.Request) {
	s.mutatePattern(w, r, patterns.KindIgnore, s.Matcher.RemovePattern)
}

func (s *Server) mutatePattern(w http.ResponseWriter, r *http.Request, kind patterns.Kind, op func(patterns.Kind, string) error) {
	var req patternRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := op(kind, req.Pattern); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list := s.Matcher.WatchPatterns()
	if kind == patterns.KindIgnore {
		list = s.Matcher.IgnorePatterns()
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": list})
}

func (s *Server) handleWatchConfigReload(w http.ResponseWriter, r *http.Request) {
	s.Matcher.Reload()
	writeJSON(w, http.StatusOK, map[string]any{
		"watchPatterns":  s.Matcher.WatchPatterns(),
		"ignorePatterns": s.Matcher.IgnorePatterns(),
	})
}

func (s *Server) handleValidatePattern(w http.ResponseWriter, r *http.Request) {
	var req patternRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := patterns.Validate(req.Pattern); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}
