package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/obbylabs/obby/internal/client"
	"github.com/obbylabs/obby/internal/store"
)

var (
	searchLimit   int
	searchType    string
	searchEntryID string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search past summaries",
	Long: `Search the semantic index of summaries a running obby server has
accumulated. Matching weighs full-text rank, topics and keywords.

Examples:
  obby search "database schema"
  obby search deploy --limit 3
  obby search retries --type batch_summary
  obby search --entry 1f0c2e...   show one entry in full`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if searchEntryID != "" {
			return runSearchEntry(searchEntryID)
		}
		if len(args) == 0 {
			return fmt.Errorf("provide a query, or --entry <id>")
		}
		return runSearch(strings.Join(args, " "))
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 10, "max results")
	searchCmd.Flags().StringVar(&searchType, "type", "", "filter by entry type (batch_summary, file_summary)")
	searchCmd.Flags().StringVar(&searchEntryID, "entry", "", "show one entry in full by id")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(query string) error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	results, err := c.Search(ctx, query, searchLimit, searchType)
	if err != nil {
		return reachErr(c, err)
	}
	if len(results) == 0 {
		fmt.Printf("No summaries match %q.\n", query)
		return nil
	}

	fmt.Printf("%d result(s) for %q\n\n", len(results), query)
	for _, r := range results {
		fmt.Println(formatSearchResult(r))
	}
	return nil
}

func runSearchEntry(id string) error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	e, err := c.SearchEntry(ctx, id)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("no entry with id %s", id)
		}
		return reachErr(c, err)
	}

	fmt.Println(titleStyle.Render(e.Summary))
	fmt.Println(labelStyle.Render("when") + e.Date + " " + e.Time)
	fmt.Println(labelStyle.Render("impact") + string(e.Impact))
	fmt.Println(labelStyle.Render("source") + e.SourceType)
	if e.FilePath != "" {
		fmt.Println(labelStyle.Render("file") + e.FilePath)
	}
	if len(e.Topics) > 0 {
		fmt.Println(labelStyle.Render("topics") + strings.Join(e.Topics, ", "))
	}
	if len(e.Keywords) > 0 {
		fmt.Println(labelStyle.Render("keywords") + strings.Join(e.Keywords, ", "))
	}
	if e.MarkdownFilePath != "" {
		fmt.Println(labelStyle.Render("note file") + e.MarkdownFilePath)
	}
	return nil
}

// formatSearchResult renders one hit as a two-line block.
func formatSearchResult(r store.SearchResult) string {
	e := r.Entry
	head := titleStyle.Render(truncate(e.Summary, 80)) +
		dimStyle.Render(fmt.Sprintf("  (%.1f)", r.Score))

	meta := []string{e.Date + " " + e.Time, string(e.Impact)}
	if e.FilePath != "" {
		meta = append(meta, e.FilePath)
	}
	if len(e.Topics) > 0 {
		meta = append(meta, strings.Join(e.Topics, ", "))
	}
	return head + "\n  " + dimStyle.Render(strings.Join(meta, " · ")) + "\n"
}
