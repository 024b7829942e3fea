package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obbylabs/obby/internal/patterns"
	"github.com/obbylabs/obby/internal/store"
)

// scriptedModel returns queued responses in order.
type scriptedModel struct {
	responses []*schema.Message
	calls     int
}

func (m *scriptedModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if m.calls >= len(m.responses) {
		return nil, errors.New("no scripted response left")
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (m *scriptedModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// echoTool records invocations and echoes its argument.
type echoTool struct {
	invoked []string
}

func (t *echoTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "echo",
		Desc: "Echo the input back.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"text": {Type: "string", Required: true},
		}),
	}, nil
}

func (t *echoTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}
	t.invoked = append(t.invoked, args.Text)
	return "echo: " + args.Text, nil
}

func toolCallResponse(name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

func TestChatReturnsDirectAnswer(t *testing.T) {
	m := &scriptedModel{responses: []*schema.Message{schema.AssistantMessage("direct answer", nil)}}
	o, err := NewOrchestrator(m, nil, nil, nil)
	require.NoError(t, err)

	answer, conv, err := o.Chat(context.Background(), "s1", []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "direct answer", answer)
	assert.Len(t, conv, 2, "user turn + assistant turn")
}

func TestChatExecutesToolThenAnswers(t *testing.T) {
	echo := &echoTool{}
	m := &scriptedModel{responses: []*schema.Message{
		toolCallResponse("echo", `{"text":"ping"}`),
		schema.AssistantMessage("done", nil),
	}}
	o, err := NewOrchestrator(m, []tool.InvokableTool{echo}, nil, nil)
	require.NoError(t, err)

	answer, conv, err := o.Chat(context.Background(), "s1", []*schema.Message{schema.UserMessage("use the tool")})
	require.NoError(t, err)
	assert.Equal(t, "done", answer)
	assert.Equal(t, []string{"ping"}, echo.invoked)

	// user, assistant(tool_calls), tool, assistant
	require.Len(t, conv, 4)
	assert.Equal(t, schema.Tool, conv[2].Role)
	assert.Equal(t, "call-1", conv[2].ToolCallID)
	assert.Equal(t, "echo: ping", conv[2].Content)
}

func TestChatMalformedToolCallContinues(t *testing.T) {
	echo := &echoTool{}
	m := &scriptedModel{responses: []*schema.Message{
		toolCallResponse("echo", `{not json`),
		schema.AssistantMessage("recovered", nil),
	}}
	o, err := NewOrchestrator(m, []tool.InvokableTool{echo}, nil, nil)
	require.NoError(t, err)

	answer, conv, err := o.Chat(context.Background(), "s1", []*schema.Message{schema.UserMessage("go")})
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
	assert.Empty(t, echo.invoked)
	assert.Contains(t, conv[2].Content, "tool error")
}

func TestChatUnknownToolContinues(t *testing.T) {
	m := &scriptedModel{responses: []*schema.Message{
		toolCallResponse("nonexistent", `{}`),
		schema.AssistantMessage("ok", nil),
	}}
	o, err := NewOrchestrator(m, nil, nil, nil)
	require.NoError(t, err)

	answer, conv, err := o.Chat(context.Background(), "s1", []*schema.Message{schema.UserMessage("go")})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Contains(t, conv[2].Content, "unknown tool")
}

func TestChatMaxIterations(t *testing.T) {
	echo := &echoTool{}
	var responses []*schema.Message
	for i := 0; i < DefaultMaxIterations; i++ {
		responses = append(responses, toolCallResponse("echo", `{"text":"again"}`))
	}
	m := &scriptedModel{responses: responses}
	o, err := NewOrchestrator(m, []tool.InvokableTool{echo}, nil, nil)
	require.NoError(t, err)

	answer, _, err := o.Chat(context.Background(), "s1", []*schema.Message{schema.UserMessage("loop")})
	require.NoError(t, err)
	assert.Equal(t, maxIterationsMessage, answer)
	assert.Equal(t, DefaultMaxIterations, m.calls)
}

func TestChatEmitsProgressEvents(t *testing.T) {
	echo := &echoTool{}
	m := &scriptedModel{responses: []*schema.Message{
		toolCallResponse("echo", `{"text":"x"}`),
		schema.AssistantMessage("final", nil),
	}}
	o, err := NewOrchestrator(m, []tool.InvokableTool{echo}, nil, nil)
	require.NoError(t, err)

	var events []string
	o.SetProgress(func(sessionID, eventType, message string, data any) {
		assert.Equal(t, "s1", sessionID)
		events = append(events, eventType)
	})

	_, _, err = o.Chat(context.Background(), "s1", []*schema.Message{schema.UserMessage("go")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		EventAssistantThinking,
		EventToolCall,
		EventToolResult,
		EventAssistantThinking,
		EventAssistantResponse,
	}, events)
}

func TestChatLogsActionsToStore(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m := &scriptedModel{responses: []*schema.Message{schema.AssistantMessage("hello", nil)}}
	o, err := NewOrchestrator(m, nil, st, nil)
	require.NoError(t, err)

	_, _, err = o.Chat(context.Background(), "sess-42", []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)

	actions, err := st.AgentActions(context.Background(), "sess-42")
	require.NoError(t, err)
	require.NotEmpty(t, actions)
	assert.Equal(t, EventAssistantResponse, actions[0].EventType)
}

func TestNotesSearchTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, patterns.WatchFileName), []byte("*.md\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meeting.md"), []byte("discussed standup notes\nother line\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("standup here too\n"), 0o644))
	m := patterns.NewMatcher(dir, nil)

	tl := NewNotesSearchTool(dir, m)
	out, err := tl.InvokableRun(context.Background(), `{"pattern":"standup"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "meeting.md:1")
	assert.NotContains(t, out, "skip.txt", "unwatched files are excluded")

	out, err = tl.InvokableRun(context.Background(), `{"pattern":"nothing-matches-this"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "No matches")

	_, err = tl.InvokableRun(context.Background(), `{"pattern":""}`)
	assert.Error(t, err, "empty pattern fails validation")
}

func TestRecentChangesTool(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.RecordTrackedChange(context.Background(), store.TrackedChange{
		FilePath:    "/w/a.md",
		ContentHash: "h1",
		Content:     "x\n",
		LineCount:   1,
		FileSize:    2,
		ChangeType:  store.ChangeCreated,
		DiffContent: "+x\n",
		LinesAdded:  1,
		Timestamp:   time.Now(),
	})
	require.NoError(t, err)

	tl := NewRecentChangesTool(st)
	out, err := tl.InvokableRun(context.Background(), `{}`)
	require.NoError(t, err)
	assert.Contains(t, out, "/w/a.md")
	assert.Contains(t, out, "created")
}

func TestCancellerGracefulPhase(t *testing.T) {
	c := NewCanceller(nil)
	c.graceful = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	c.Register("s1", &Task{Cancel: cancel, Done: done})
	assert.True(t, c.Cancel("s1"))
	assert.False(t, c.Active("s1"))
}

func TestCancellerRejectsUnknownAndDuplicate(t *testing.T) {
	c := NewCanceller(nil)
	c.graceful = 50 * time.Millisecond
	c.force = 50 * time.Millisecond

	assert.False(t, c.Cancel("missing"))

	// A task that never finishes: the first cancel runs the protocol
	// and fails; a concurrent duplicate is rejected immediately.
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Register("stuck", &Task{Cancel: cancel, Done: make(chan struct{})})

	first := make(chan bool, 1)
	go func() { first <- c.Cancel("stuck") }()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.cancelling["stuck"]
	}, time.Second, time.Millisecond)

	assert.False(t, c.Cancel("stuck"), "duplicate cancellation rejected")
	assert.False(t, <-first, "stuck task reports failure")
}

func TestCancellerSetPID(t *testing.T) {
	c := NewCanceller(nil)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := &Task{Cancel: cancel, Done: make(chan struct{})}
	c.Register("s1", task)

	c.SetPID("s1", 4242)
	assert.Equal(t, 4242, task.SubprocessPID)

	// Unknown sessions are ignored.
	c.SetPID("missing", 1)
}

func TestSessionContextRoundTrip(t *testing.T) {
	_, ok := SessionFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithSession(context.Background(), "sess-9")
	id, ok := SessionFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "sess-9", id)

	_, ok = SessionFromContext(WithSession(context.Background(), ""))
	assert.False(t, ok, "empty session ids are not reported")
}

func TestCancellerForcedPhaseSignalsSubprocess(t *testing.T) {
	c := NewCanceller(nil)
	c.graceful = 50 * time.Millisecond
	c.force = 2 * time.Second

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	var events []string
	c.SetProgress(func(sessionID, eventType, message string, data any) {
		events = append(events, eventType)
	})

	// The task ignores cooperative cancellation; only the signal path
	// can stop it.
	c.Register("s1", &Task{Cancel: func() {}, Done: done})
	c.SetPID("s1", cmd.Process.Pid)

	assert.True(t, c.Cancel("s1"))
	assert.Contains(t, events, EventCancelForced)
	assert.False(t, c.Active("s1"))
}

func TestCancellerEmitsProgress(t *testing.T) {
	c := NewCanceller(nil)
	c.graceful = 200 * time.Millisecond

	var events []string
	c.SetProgress(func(sessionID, eventType, message string, data any) {
		events = append(events, eventType)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	c.Register("s1", &Task{Cancel: cancel, Done: done})
	require.True(t, c.Cancel("s1"))
	assert.Equal(t, []string{EventCancelRequested, EventCancelGraceful}, events)
}
