package server

import (
	"net/http"

	"github.com/obbylabs/obby/internal/store"
	"github.com/obbylabs/obby/internal/summarizer"
)

func (s *Server) handleLivingNoteRead(w http.ResponseWriter, r *http.Request) {
	content, err := s.Note.Read()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    s.Note.Path(),
		"content": content,
	})
}

func (s *Server) handleLivingNoteClear(w http.ResponseWriter, r *http.Request) {
	if err := s.Note.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if content, err := s.Note.Read(); err == nil {
		s.Hub.BroadcastLivingNoteUpdated(s.Note.Path(), content)
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// handleLivingNoteUpdate forces a batch run outside the schedule.
func (s *Server) handleLivingNoteUpdate(w http.ResponseWriter, r *http.Request) {
	if s.Batcher == nil {
		writeError(w, http.StatusServiceUnavailable, "batch summarizer not configured")
		return
	}
	res, err := s.Batcher.Run(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLivingNoteSettingsGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]any{
		"aiUpdateInterval": s.Store.GetConfigInt(ctx, store.KeyAIUpdateInterval, int(summarizer.DefaultInterval.Seconds())),
		"batchAIEnabled":   s.Store.GetConfigBool(ctx, store.KeyBatchAIEnabled, true),
		"aiMaxBatchSize":   s.Store.GetConfigInt(ctx, store.KeyAIMaxBatchSize, summarizer.DefaultMaxBatchSize),
	})
}

type settingsRequest struct {
	AIUpdateInterval *int  `json:"aiUpdateInterval" validate:"omitempty,min=10,max=86400"`
	BatchAIEnabled   *bool `json:"batchAIEnabled"`
	AIMaxBatchSize   *int  `json:"aiMaxBatchSize" validate:"omitempty,min=1,max=500"`
}

func (s *Server) handleLivingNoteSettingsSet(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if req.AIUpdateInterval != nil {
		if err := s.Store.SetConfig(ctx, store.KeyAIUpdateInterval, *req.AIUpdateInterval, "batch interval in seconds"); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if req.BatchAIEnabled != nil {
		if err := s.Store.SetConfig(ctx, store.KeyBatchAIEnabled, *req.BatchAIEnabled, "batch summarization toggle"); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if req.AIMaxBatchSize != nil {
		if err := s.Store.SetConfig(ctx, store.KeyAIMaxBatchSize, *req.AIMaxBatchSize, "max diffs per batch"); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.handleLivingNoteSettingsGet(w, r)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	limit := queryInt(r, "limit", 10)
	typeFilter := r.URL.Query().Get("type")

	results, err := s.Store.SearchSemantic(r.Context(), query, limit, typeFilter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

// handleSearchEntry returns one semantic entry with its topics,
// keywords and markdown path, for drill-down from search results.
func (s *Server) handleSearchEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.Store.GetSemanticEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
