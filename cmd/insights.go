package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/obbylabs/obby/internal/insights"
)

var insightsDays int

var insightsCmd = &cobra.Command{
	Use:   "insights [id...]",
	Short: "Compute activity metrics over tracked history",
	Long: `With no arguments, list the registered insights. With one or more
insight ids, compute them over the last N days (default 7) and print
the results.

Examples:
  obby insights
  obby insights total_activity
  obby insights --days 30 trending_files peak_hour`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return runInsightsList()
		}
		return runInsightsCalculate(args)
	},
}

func init() {
	insightsCmd.Flags().IntVar(&insightsDays, "days", 7, "window size in days, ending today")
	rootCmd.AddCommand(insightsCmd)
}

func runInsightsList() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	available, err := c.AvailableInsights(ctx)
	if err != nil {
		return reachErr(c, err)
	}
	for _, m := range available {
		fmt.Printf("%s  %s\n", titleStyle.Render(m.ID), m.Name)
		fmt.Println("  " + dimStyle.Render(m.Description))
	}
	fmt.Println()
	fmt.Println(dimStyle.Render("compute with: obby insights <id> [--days N]"))
	return nil
}

func runInsightsCalculate(ids []string) error {
	if insightsDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiLongContext()
	defer cancel()

	end := time.Now()
	start := end.AddDate(0, 0, -(insightsDays - 1))
	results, err := c.CalculateInsights(ctx, ids, start, end, nil)
	if err != nil {
		return reachErr(c, err)
	}

	for i, r := range results {
		if i > 0 {
			fmt.Println()
		}
		printInsightResult(r)
	}
	return nil
}

func printInsightResult(r insights.Result) {
	fmt.Println(titleStyle.Render(r.ID))
	if r.Status != "ok" {
		fmt.Printf("  %s %s\n", errStyle.Render("error:"), r.Error)
		return
	}
	if r.Message != "" {
		fmt.Println("  " + r.Message)
	}
	if r.Value != nil {
		fmt.Printf("  %s %s\n", labelStyle.Render("value"), formatInsightValue(r.Value))
	}
	if r.Trend != "" {
		fmt.Printf("  %s %s\n", labelStyle.Render("trend"), r.Trend)
	}
	if len(r.Details) > 0 {
		keys := make([]string, 0, len(r.Details))
		for k := range r.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s %s\n", labelStyle.Render(k), formatInsightValue(r.Details[k]))
		}
	}
}

// formatInsightValue renders the decoded JSON shapes insights produce.
// Numbers arrive as float64; whole values print without the decimals.
func formatInsightValue(v any) string {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, formatInsightValue(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
