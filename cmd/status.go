package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var statusPort int

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running obby server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusPort, "port", "p", 0, "server port (overrides config)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus() error {
	c, err := apiClient(statusPort)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		if isAPIError(err) {
			return err
		}
		fmt.Println(titleStyle.Render("obby"))
		fmt.Println(labelStyle.Render("server") + errStyle.Render("not running") + " at " + c.BaseURL())
		return nil
	}

	fmt.Println(titleStyle.Render("obby"))
	fmt.Println(labelStyle.Render("server") + okStyle.Render("running") + " at " + c.BaseURL())
	if st.Monitoring {
		fmt.Println(labelStyle.Render("watching") + okStyle.Render("on") + " via " + st.Backend)
	} else {
		fmt.Println(labelStyle.Render("watching") + warnStyle.Render("off"))
	}
	fmt.Println(labelStyle.Render("root") + st.Root)
	fmt.Println(labelStyle.Render("patterns") + fmt.Sprintf("%d watch, %d ignore", len(st.WatchPatterns), len(st.IgnorePatterns)))
	fmt.Println(labelStyle.Render("events") + fmt.Sprintf("%d", st.EventCount))
	fmt.Println(labelStyle.Render("sse clients") + fmt.Sprintf("%d", st.SSEClients))
	if st.SchedulerOn {
		fmt.Println(labelStyle.Render("summaries") + okStyle.Render("scheduled"))
	} else {
		fmt.Println(labelStyle.Render("summaries") + warnStyle.Render("manual only"))
	}
	return nil
}
