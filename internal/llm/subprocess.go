package llm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// maxAgentOutput truncates runaway agent replies.
const maxAgentOutput = 64 * 1024

// SubprocessAgent is the local-agent provider: each completion shells
// out to a CLI agent, writes the prompt to stdin and reads the reply
// from stdout. It satisfies model.ToolCallingChatModel so the rest of
// the pipeline cannot tell it from an HTTP provider. The external agent
// runs its own tools, so tool bindings are accepted and ignored and the
// chat loop only ever sees direct answers.
type SubprocessAgent struct {
	command string
	args    []string
	dir     string
	log     *slog.Logger
	onStart func(ctx context.Context, pid int)
}

// NewSubprocessAgent creates the provider. dir is the working directory
// for the spawned process; empty means inherit.
func NewSubprocessAgent(command string, args []string, dir string, log *slog.Logger) (*SubprocessAgent, error) {
	if command == "" {
		return nil, fmt.Errorf("agent command is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &SubprocessAgent{command: command, args: args, dir: dir, log: log}, nil
}

// SetStartHook registers a callback invoked with each spawned pid
// before the process is waited on. The canceller uses it to gain a
// target for forced termination.
func (a *SubprocessAgent) SetStartHook(h func(ctx context.Context, pid int)) { a.onStart = h }

// Generate flattens the conversation into one prompt and runs the agent
// process to completion. Context cancellation kills the process.
func (a *SubprocessAgent) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	cmd := exec.CommandContext(ctx, a.command, a.args...)
	cmd.Dir = a.dir
	cmd.Stdin = strings.NewReader(flattenMessages(input))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent %s: %w", a.command, err)
	}
	if a.onStart != nil && cmd.Process != nil {
		a.onStart(ctx, cmd.Process.Pid)
	}

	if err := cmd.Wait(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("agent %s: %w: %s", a.command, err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("agent %s: %w", a.command, err)
	}

	out := strings.TrimSpace(stdout.String())
	if len(out) > maxAgentOutput {
		out = out[:maxAgentOutput]
	}
	return schema.AssistantMessage(out, nil), nil
}

// Stream satisfies model.BaseChatModel; the agent replies in one chunk.
func (a *SubprocessAgent) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := a.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools accepts the binding without using it.
func (a *SubprocessAgent) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return a, nil
}

// flattenMessages renders a conversation as labeled plain text, the
// format non-interactive agent CLIs expect on stdin.
func flattenMessages(input []*schema.Message) string {
	var sb strings.Builder
	for _, m := range input {
		if m == nil || m.Content == "" {
			continue
		}
		switch m.Role {
		case schema.System:
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		case schema.Assistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		case schema.Tool:
			sb.WriteString("Tool result: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		default:
			sb.WriteString("User: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(sb.String()) + "\n"
}

var _ model.ToolCallingChatModel = (*SubprocessAgent)(nil)
