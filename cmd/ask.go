package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askSystem string

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Send a one-shot prompt to the configured LLM",
	Long: `Send a single prompt through a running obby server and print the raw
completion. Unlike "obby chat", this skips the tool loop and session
tracking: no history lookups, no note reads, just the model.

Examples:
  obby ask "summarize: restructured the billing module"
  obby ask --system "answer in one word" "is SQLite embedded?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askSystem, "system", "", "system prompt")
	rootCmd.AddCommand(askCmd)
}

func runAsk(prompt string) error {
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

	out, err := c.Complete(ctx, askSystem, prompt)
	if err != nil {
		return reachErr(c, err)
	}
	fmt.Println(out)
	return nil
}
