package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/obbylabs/obby/internal/store"
)

// DefaultMaxIterations bounds the tool loop.
const DefaultMaxIterations = 5

// maxIterationsMessage is returned when the model never produced a
// tool-free answer.
const maxIterationsMessage = "I couldn't finish answering within the allowed number of steps. Try asking a narrower question."

// Progress event types surfaced during a chat turn.
const (
	EventAssistantThinking = "assistant_thinking"
	EventToolCall          = "tool_call"
	EventToolResult        = "tool_result"
	EventAssistantResponse = "assistant_response"
)

// Progress receives chat loop events for a session.
type Progress func(sessionID, eventType, message string, data any)

// ToolResult captures one tool invocation for logging and progress.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// Orchestrator runs the bounded chat loop against a tool-calling model.
type Orchestrator struct {
	model    model.ToolCallingChatModel
	tools    map[string]tool.InvokableTool
	infos    []*schema.ToolInfo
	store    *store.Store
	log      *slog.Logger
	maxIters int
	progress Progress
}

// NewOrchestrator wires the chat loop. st may be nil when action
// logging is not wanted.
func NewOrchestrator(m model.ToolCallingChatModel, tools []tool.InvokableTool, st *store.Store, log *slog.Logger) (*Orchestrator, error) {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		model:    m,
		tools:    make(map[string]tool.InvokableTool, len(tools)),
		store:    st,
		log:      log,
		maxIters: DefaultMaxIterations,
	}
	ctx := context.Background()
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		o.tools[info.Name] = t
		o.infos = append(o.infos, info)
	}
	return o, nil
}

// SetMaxIterations overrides the loop bound.
func (o *Orchestrator) SetMaxIterations(n int) {
	if n > 0 {
		o.maxIters = n
	}
}

// SetProgress registers the progress callback.
func (o *Orchestrator) SetProgress(p Progress) { o.progress = p }

// ToolInfos exposes the registered tool schemas for the HTTP surface.
func (o *Orchestrator) ToolInfos() []*schema.ToolInfo { return o.infos }

// Chat runs the loop over the supplied conversation history and returns
// the final assistant text plus the full updated conversation.
func (o *Orchestrator) Chat(ctx context.Context, sessionID string, history []*schema.Message) (string, []*schema.Message, error) {
	messages := make([]*schema.Message, len(history))
	copy(messages, history)

	for iter := 0; iter < o.maxIters; iter++ {
		select {
		case <-ctx.Done():
			return "", messages, ctx.Err()
		default:
		}

		o.emit(sessionID, EventAssistantThinking, fmt.Sprintf("step %d", iter+1), nil)

		resp, err := o.model.Generate(ctx, messages, model.WithTools(o.infos))
		if err != nil {
			return "", messages, fmt.Errorf("generate (iter %d): %w", iter+1, err)
		}
		messages = append(messages, resp)

		if len(resp.ToolCalls) == 0 {
			o.emit(sessionID, EventAssistantResponse, resp.Content, nil)
			o.logAction(ctx, sessionID, EventAssistantResponse, resp.Content)
			return resp.Content, messages, nil
		}

		for _, tc := range resp.ToolCalls {
			result := o.invoke(ctx, sessionID, tc)
			messages = append(messages, schema.ToolMessage(result.Content, result.ToolCallID))
		}
	}

	o.emit(sessionID, EventAssistantResponse, maxIterationsMessage, nil)
	return maxIterationsMessage, messages, nil
}

// invoke runs one tool call. Malformed calls produce an error result
// and the loop continues.
func (o *Orchestrator) invoke(ctx context.Context, sessionID string, tc schema.ToolCall) ToolResult {
	result := ToolResult{ToolCallID: tc.ID, Name: tc.Function.Name}

	o.emit(sessionID, EventToolCall, tc.Function.Name, map[string]any{"arguments": tc.Function.Arguments})

	t, ok := o.tools[tc.Function.Name]
	if !ok {
		result.Error = fmt.Sprintf("unknown tool %q", tc.Function.Name)
		result.Content = result.Error
	} else if out, err := t.InvokableRun(ctx, tc.Function.Arguments); err != nil {
		result.Error = err.Error()
		result.Content = fmt.Sprintf("tool error: %v", err)
	} else {
		result.Success = true
		result.Content = out
	}

	o.emit(sessionID, EventToolResult, result.Content, map[string]any{"tool": result.Name, "success": result.Success})
	o.logAction(ctx, sessionID, EventToolCall, result.Name)
	return result
}

func (o *Orchestrator) emit(sessionID, eventType, message string, data any) {
	if o.progress != nil {
		o.progress(sessionID, eventType, message, data)
	}
}

func (o *Orchestrator) logAction(ctx context.Context, sessionID, eventType, message string) {
	if o.store == nil || sessionID == "" {
		return
	}
	if err := o.store.LogAgentAction(ctx, sessionID, eventType, message); err != nil {
		o.log.Warn("log agent action", "session", sessionID, "error", err)
	}
}
