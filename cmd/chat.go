package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat <question>",
	Short: "Ask the agent about your tracked files",
	Long: `Send one question to the chat agent of a running obby server. The
agent answers from tracked history and note content, using its tools
(search, file history, note reading) as needed.

Each call starts a new session unless --session continues an old one.
The session id is printed after the answer.

Examples:
  obby chat "what did I work on this morning?"
  obby chat --session 4f3b... "and yesterday?"
  obby chat log 4f3b...     inspect the agent's steps
  obby chat tools           list what the agent can do`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(strings.Join(args, " "))
	},
}

var chatCancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a running chat session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChatCancel(args[0])
	},
}

var chatLogCmd = &cobra.Command{
	Use:   "log <session-id>",
	Short: "Show the recorded steps of a chat session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChatLog(args[0])
	},
}

var chatToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools available to the chat agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChatTools()
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "continue an existing session")
	chatCmd.AddCommand(chatCancelCmd)
	chatCmd.AddCommand(chatLogCmd)
	chatCmd.AddCommand(chatToolsCmd)
	rootCmd.AddCommand(chatCmd)
}

func runChat(message string) error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}

	pingCtx, cancelPing := apiContext()
	health, err := c.ChatPing(pingCtx)
	cancelPing()
	if err != nil {
		return reachErr(c, err)
	}
	if !health.LLM {
		return fmt.Errorf("no LLM is configured; set llm.provider in obby.yaml (see \"obby doctor\")")
	}

	ctx, cancel := apiLongContext()
	defer cancel()

	fmt.Println(dimStyle.Render("thinking..."))
	reply, err := c.SendChat(ctx, message, chatSession)
	if err != nil {
		return reachErr(c, err)
	}

	fmt.Println()
	fmt.Println(reply.Response)
	fmt.Println()
	if reply.Title != "" {
		fmt.Println(dimStyle.Render(reply.Title))
	}
	fmt.Println(dimStyle.Render(
		fmt.Sprintf("session %s · continue with --session %s", reply.SessionID, reply.SessionID)))
	return nil
}

func runChatCancel(sessionID string) error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	ok, err := c.CancelChat(ctx, sessionID)
	if err != nil {
		return reachErr(c, err)
	}
	if !ok {
		fmt.Println(warnStyle.Render("nothing to cancel") + " (unknown session, finished, or already cancelling)")
		return nil
	}
	fmt.Println(okStyle.Render("session cancelled"))
	return nil
}

func runChatLog(sessionID string) error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	actions, err := c.ChatLog(ctx, sessionID)
	if err != nil {
		return reachErr(c, err)
	}
	if len(actions) == 0 {
		fmt.Printf("No actions recorded for session %s.\n", sessionID)
		return nil
	}
	for _, a := range actions {
		fmt.Printf("%s %s %s\n",
			dimStyle.Render(a.Timestamp.Local().Format("15:04:05")),
			labelStyle.Render(a.EventType),
			truncate(a.Message, 100))
	}
	return nil
}

func runChatTools() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	tools, err := c.ChatTools(ctx)
	if err != nil {
		return reachErr(c, err)
	}
	if len(tools) == 0 {
		fmt.Println("No tools registered; the server is running without an LLM.")
		return nil
	}
	for _, t := range tools {
		fmt.Println(titleStyle.Render(t.Name))
		fmt.Println("  " + t.Description)
	}
	return nil
}
