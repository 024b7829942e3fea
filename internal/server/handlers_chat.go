package server

import (
	"context"
	"net/http"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/obbylabs/obby/internal/agent"
)

const chatSystemPrompt = `You are Obby, an assistant with access to the user's local
notes and their full edit history. Use the available tools to ground
answers in what the user actually wrote and changed. Be concise.`

type chatMessageRequest struct {
	Message   string `json:"message" validate:"required,min=1"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	if s.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "no LLM provider configured")
		return
	}
	var req chatMessageRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := req.SessionID
	isNew := sessionID == ""
	if isNew {
		sessionID = uuid.NewString()
	}

	history := s.loadSession(sessionID)
	if len(history) == 0 {
		history = []*schema.Message{schema.SystemMessage(chatSystemPrompt)}
	}
	history = append(history, schema.UserMessage(req.Message))

	// Register for cancellation; the HTTP context is the cooperative
	// cancel signal. The session id rides on the context so subprocess
	// providers can report their PID back to the canceller.
	ctx, cancel := context.WithCancel(agent.WithSession(r.Context(), sessionID))
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	if s.Canceller != nil {
		s.Canceller.Register(sessionID, &agent.Task{Cancel: cancel, Done: done})
		defer s.Canceller.Complete(sessionID)
	}

	answer, conversation, err := s.Orchestrator.Chat(ctx, sessionID, history)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.saveSession(sessionID, conversation)

	title := s.sessionTitle(r.Context(), sessionID, req.Message, isNew)

	writeJSON(w, http.StatusOK, map[string]any{
		"response":  answer,
		"sessionId": sessionID,
		"title":     title,
	})
}

type chatCompleteRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1"`
	System string `json:"system"`
}

func (s *Server) handleChatComplete(w http.ResponseWriter, r *http.Request) {
	if s.LLM == nil {
		writeError(w, http.StatusServiceUnavailable, "no LLM provider configured")
		return
	}
	var req chatCompleteRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	system := req.System
	if system == "" {
		system = "You are a helpful assistant."
	}
	out, err := s.LLM.Complete(r.Context(), system, req.Prompt)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completion": out})
}

func (s *Server) handleChatTools(w http.ResponseWriter, r *http.Request) {
	if s.Orchestrator == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tools": []any{}})
		return
	}
	type toolDesc struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	var tools []toolDesc
	for _, info := range s.Orchestrator.ToolInfos() {
		tools = append(tools, toolDesc{Name: info.Name, Description: info.Desc})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handleChatPing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"llm":    s.Orchestrator != nil,
	})
}

// handleChatLog returns the recorded action trail of one session, in
// insertion order.
func (s *Server) handleChatLog(w http.ResponseWriter, r *http.Request) {
	actions, err := s.Store.AgentActions(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

type chatCancelRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

func (s *Server) handleChatCancel(w http.ResponseWriter, r *http.Request) {
	if s.Canceller == nil {
		writeError(w, http.StatusServiceUnavailable, "cancellation not configured")
		return
	}
	var req chatCancelRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok := s.Canceller.Cancel(req.SessionID)
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"cancelled": ok, "sessionId": req.SessionID})
}

func (s *Server) loadSession(sessionID string) []*schema.Message {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.sessions[sessionID]
}

func (s *Server) saveSession(sessionID string, conversation []*schema.Message) {
	s.sessionMu.Lock()
	s.sessions[sessionID] = conversation
	s.sessionMu.Unlock()
}

// sessionTitle generates a title for new sessions and returns the
// cached one otherwise.
func (s *Server) sessionTitle(ctx context.Context, sessionID, firstMessage string, isNew bool) string {
	s.sessionMu.Lock()
	title, ok := s.titles[sessionID]
	s.sessionMu.Unlock()
	if ok && !isNew {
		return title
	}

	title = "New Chat"
	if s.LLM != nil {
		if t, err := s.LLM.GenerateSessionTitle(ctx, firstMessage); err == nil && t != "" {
			title = t
		}
	}
	s.sessionMu.Lock()
	s.titles[sessionID] = title
	s.sessionMu.Unlock()
	return title
}
