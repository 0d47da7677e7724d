// Command evals inspects the tool selection evaluation suites.
//
// Usage:
//
//	go run ./cmd/evals --suite all --verbose
//
// It lints every case against the server's own argument validation and
// reports coverage. To score a model, implement evals.ToolSelector in your
// LLM harness and call the Evaluate functions.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/olgasafonova/sefaria-mcp-server/evals"
	"github.com/olgasafonova/sefaria-mcp-server/tools"
)

func main() {
	var dir, suite string
	var verbose bool

	cmd := &cobra.Command{
		Use:          "evals",
		Short:        "Lint and summarise the Sefaria tool selection suites",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				s   *evals.Suites
				err error
			)
			if dir != "" {
				s, err = evals.LoadDir(dir)
			} else {
				s, err = evals.Load()
			}
			if err != nil {
				return err
			}
			return run(cmd.OutOrStdout(), s, suite, verbose)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory with edited suite JSON files (default: embedded suites)")
	cmd.Flags().StringVar(&suite, "suite", "all", "suite to show: tool_selection, confusion_pairs, arguments or all")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show every test case")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(w io.Writer, s *evals.Suites, suite string, verbose bool) error {
	fmt.Fprintln(w, "Sefaria MCP Server - Evaluation Suites")
	fmt.Fprintln(w, "======================================")
	fmt.Fprintln(w)

	switch suite {
	case "tool_selection":
		showToolSelection(w, s.ToolSelection, verbose)
	case "confusion_pairs":
		showConfusionPairs(w, s.ConfusionPairs, verbose)
	case "arguments":
		showArguments(w, s.Arguments, verbose)
	case "all":
		showToolSelection(w, s.ToolSelection, verbose)
		showConfusionPairs(w, s.ConfusionPairs, verbose)
		showArguments(w, s.Arguments, verbose)
	default:
		return fmt.Errorf("unknown suite %q", suite)
	}

	registry := tools.NewHandlerRegistry(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	if missing := evals.Coverage(s, registry); len(missing) > 0 {
		fmt.Fprintf(w, "Tools without a selection case: %v\n", missing)
	}
	problems := evals.Lint(s, registry)
	if len(problems) == 0 {
		fmt.Fprintln(w, "Lint: all cases match the registered tools")
		return nil
	}
	fmt.Fprintf(w, "Lint: %d problems\n", len(problems))
	for _, p := range problems {
		fmt.Fprintf(w, "  - %s\n", p)
	}
	return fmt.Errorf("%d suite problems", len(problems))
}

func printCounts(w io.Writer, title string, counts map[string]int, width int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-*s: %d\n", width, k, counts[k])
	}
	fmt.Fprintln(w)
}

func showToolSelection(w io.Writer, suite *evals.ToolSelectionSuite, verbose bool) {
	fmt.Fprintf(w, "Tool Selection Suite: %s (v%s)\n", suite.Name, suite.Version)
	fmt.Fprintf(w, "Total Tests: %d\n\n", len(suite.Tests))

	categories := make(map[string]int)
	byTool := make(map[string]int)
	for _, test := range suite.Tests {
		categories[test.Category]++
		byTool[test.ExpectedTool]++
	}
	printCounts(w, "Tests by Category:", categories, 15)
	printCounts(w, "Tests by Tool:", byTool, 30)

	if verbose {
		fmt.Fprintln(w, "Test Cases:")
		for _, test := range suite.Tests {
			fmt.Fprintf(w, "  [%s] %s\n", test.ID, test.Input)
			fmt.Fprintf(w, "    → %s\n", test.ExpectedTool)
			if len(test.NotTools) > 0 {
				fmt.Fprintf(w, "    ✗ %v\n", test.NotTools)
			}
		}
		fmt.Fprintln(w)
	}
}

func showConfusionPairs(w io.Writer, suite *evals.ConfusionPairSuite, verbose bool) {
	total := 0
	for _, pair := range suite.Pairs {
		total += len(pair.Tests)
	}
	fmt.Fprintf(w, "Confusion Pairs Suite: %s (v%s)\n", suite.Name, suite.Version)
	fmt.Fprintf(w, "Total Pairs: %d, Tests: %d\n", len(suite.Pairs), total)

	for _, pair := range suite.Pairs {
		fmt.Fprintf(w, "\n  %s: %v\n", pair.ID, pair.Tools)
		fmt.Fprintf(w, "    Rule: %s\n", pair.Disambiguation)
		if verbose {
			for _, test := range pair.Tests {
				fmt.Fprintf(w, "      %q → %s (%s)\n", test.Input, test.Expected, test.Reason)
			}
		}
	}
	fmt.Fprintln(w)
}

func showArguments(w io.Writer, suite *evals.ArgumentSuite, verbose bool) {
	fmt.Fprintf(w, "Argument Suite: %s (v%s)\n", suite.Name, suite.Version)
	fmt.Fprintf(w, "Total Tests: %d\n\n", len(suite.Tests))

	byTool := make(map[string]int)
	for _, test := range suite.Tests {
		byTool[test.Tool]++
	}
	printCounts(w, "Tests by Tool:", byTool, 30)

	if verbose {
		for _, test := range suite.Tests {
			fmt.Fprintf(w, "  [%s] %s → %s %v\n", test.ID, test.Input, test.Tool, test.ExpectedArgs)
			if test.ArgNotes != "" {
				fmt.Fprintf(w, "    note: %s\n", test.ArgNotes)
			}
		}
		fmt.Fprintln(w)
	}
}
