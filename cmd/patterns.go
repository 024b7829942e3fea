package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/obbylabs/obby/internal/patterns"
)

var (
	patternsIgnore       bool
	patternsRemoveIgnore bool
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show or edit the watch and ignore rules",
	Long: `Manage the glob rules of a running obby server. Rules live in
.obbywatch and .obbyignore under the watched directory; edits made here
are written back to those files and picked up immediately.

Examples:
  obby patterns                    show both rule sets
  obby patterns add "src/**/*.go"  watch Go sources under src/
  obby patterns add --ignore "*.log"
  obby patterns remove "*.txt"
  obby patterns check "[oops"      validate a glob without saving it
  obby patterns reload             re-read the rule files from disk`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatterns()
	},
}

var patternsAddCmd = &cobra.Command{
	Use:   "add <pattern>",
	Short: "Add a watch or ignore pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatternsAdd(args[0], patternsIgnore)
	},
}

var patternsRemoveCmd = &cobra.Command{
	Use:   "remove <pattern>",
	Short: "Remove a watch or ignore pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatternsRemove(args[0], patternsRemoveIgnore)
	},
}

var patternsCheckCmd = &cobra.Command{
	Use:   "check <pattern>",
	Short: "Validate a glob pattern without saving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatternsCheck(args[0])
	},
}

var patternsReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-read the rule files from disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatternsReload()
	},
}

func init() {
	patternsAddCmd.Flags().BoolVar(&patternsIgnore, "ignore", false, "edit the ignore list instead of the watch list")
	patternsRemoveCmd.Flags().BoolVar(&patternsRemoveIgnore, "ignore", false, "edit the ignore list instead of the watch list")
	patternsCmd.AddCommand(patternsAddCmd)
	patternsCmd.AddCommand(patternsRemoveCmd)
	patternsCmd.AddCommand(patternsCheckCmd)
	patternsCmd.AddCommand(patternsReloadCmd)
	rootCmd.AddCommand(patternsCmd)
}

func patternKind(ignore bool) patterns.Kind {
	if ignore {
		return patterns.KindIgnore
	}
	return patterns.KindWatch
}

func printPatternList(header string, list []string) {
	fmt.Println(titleStyle.Render(header))
	if len(list) == 0 {
		fmt.Println(dimStyle.Render("  (none)"))
		return
	}
	for _, p := range list {
		fmt.Println("  " + p)
	}
}

func runPatterns() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	watch, err := c.Patterns(ctx, patterns.KindWatch)
	if err != nil {
		return reachErr(c, err)
	}
	ignore, err := c.Patterns(ctx, patterns.KindIgnore)
	if err != nil {
		return reachErr(c, err)
	}

	printPatternList("Watch (.obbywatch)", watch)
	fmt.Println()
	printPatternList("Ignore (.obbyignore)", ignore)
	return nil
}

func runPatternsAdd(pattern string, ignore bool) error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	kind := patternKind(ignore)
	list, err := c.AddPattern(ctx, kind, pattern)
	if err != nil {
		return reachErr(c, err)
	}
	fmt.Printf("%s %s now has %d patterns\n", okStyle.Render("added"), kind, len(list))
	return nil
}

func runPatternsRemove(pattern string, ignore bool) error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	kind := patternKind(ignore)
	list, err := c.RemovePattern(ctx, kind, pattern)
	if err != nil {
		return reachErr(c, err)
	}
	fmt.Printf("%s %s now has %d patterns\n", okStyle.Render("removed"), kind, len(list))
	return nil
}

func runPatternsCheck(pattern string) error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	valid, reason, err := c.ValidatePattern(ctx, pattern)
	if err != nil {
		return reachErr(c, err)
	}
	if !valid {
		fmt.Printf("%s %s\n", errStyle.Render("invalid:"), reason)
		return nil
	}
	fmt.Println(okStyle.Render("valid"))
	return nil
}

func runPatternsReload() error {
	c, err := apiClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()

	watch, ignore, err := c.ReloadPatterns(ctx)
	if err != nil {
		return reachErr(c, err)
	}
	fmt.Printf("%s %d watch, %d ignore\n", okStyle.Render("reloaded"), len(watch), len(ignore))
	return nil
}
