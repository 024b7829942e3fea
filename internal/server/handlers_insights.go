package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/obbylabs/obby/internal/store"
)

func (s *Server) handleInsightsAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"insights": s.Insights.Available()})
}

type insightsCalculateRequest struct {
	InsightIDs []string       `json:"insightIds" validate:"required,min=1"`
	StartDate  string         `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate    string         `json:"endDate" validate:"required,datetime=2006-01-02"`
	Config     map[string]any `json:"config"`
}

func (s *Server) handleInsightsCalculate(w http.ResponseWriter, r *http.Request) {
	var req insightsCalculateRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start, _ := time.Parse("2006-01-02", req.StartDate)
	end, _ := time.Parse("2006-01-02", req.EndDate)
	end = end.Add(24 * time.Hour) // end date is inclusive

	results := s.Insights.Calculate(r.Context(), req.InsightIDs, start, end, req.Config)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleInsightsLayoutGet(w http.ResponseWriter, r *http.Request) {
	layout, err := s.Store.InsightsLayout(r.Context())
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusOK, map[string]any{"layout": nil})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"layout": json.RawMessage(layout)})
}

type layoutRequest struct {
	Layout json.RawMessage `json:"layout" validate:"required"`
}

func (s *Server) handleInsightsLayoutSet(w http.ResponseWriter, r *http.Request) {
	var req layoutRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !json.Valid(req.Layout) {
		writeError(w, http.StatusBadRequest, "layout must be valid JSON")
		return
	}
	if err := s.Store.SetInsightsLayout(r.Context(), string(req.Layout)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true})
}

// handleInsightsSchema documents the calculate request and result
// shapes for dashboard clients.
func (s *Server) handleInsightsSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"request": map[string]any{
			"insightIds": "array of insight ids, see /api/insights/available",
			"startDate":  "YYYY-MM-DD inclusive",
			"endDate":    "YYYY-MM-DD inclusive",
			"config":     "optional per-insight configuration object",
		},
		"result": map[string]any{
			"id":      "insight id",
			"value":   "primary value, shape depends on the insight",
			"trend":   "optional trend indicator",
			"details": "optional breakdown object",
			"chart":   "optional chart payload",
			"status":  "ok or error",
			"message": "human-readable summary",
			"error":   "present when status is error",
		},
		"insights": s.Insights.Available(),
	})
}
