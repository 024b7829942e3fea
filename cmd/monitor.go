package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Start or stop file monitoring on a running server",
	Long: `Toggle the filesystem watcher without restarting the server. The
server keeps serving stored history and chat while monitoring is off;
it just stops ingesting new changes.

Examples:
  obby monitor stop
  obby monitor start`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var monitorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start file monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitorStart()
	},
}

var monitorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop file monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitorStop()
	},
}

func init() {
	monitorCmd.AddCommand(monitorStartCmd)
	monitorCmd.AddCommand(monitorStopCmd)
	rootCmd.AddCommand(monitorCmd)
}

func runMonitorStart() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	state, err := c.StartMonitoring(ctx)
	if err != nil {
		return reachErr(c, err)
	}
	fmt.Printf("%s backend %s\n", okStyle.Render("monitoring"), state.Backend)
	return nil
}

func runMonitorStop() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	if err := c.StopMonitoring(ctx); err != nil {
		return reachErr(c, err)
	}
	fmt.Println(warnStyle.Render("monitoring stopped"))
	return nil
}
