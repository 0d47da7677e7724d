// Package evals checks how well an agent picks Sefaria tools and fills in
// their arguments from natural-language requests. The suites ship embedded
// and are linted against the live tool registry so they cannot drift from
// the tools' argument schemas.
package evals

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/olgasafonova/sefaria-mcp-server/tools"
)

//go:embed *.json
var embedded embed.FS

const (
	toolSelectionFile  = "tool_selection.json"
	confusionPairsFile = "confusion_pairs.json"
	argumentsFile      = "argument_correctness.json"
)

// ToolSelectionTest is a single tool selection case
type ToolSelectionTest struct {
	ID           string         `json:"id"`
	Category     string         `json:"category"`
	Input        string         `json:"input"`
	ExpectedTool string         `json:"expected_tool"`
	ExpectedArgs map[string]any `json:"expected_args"`
	NotTools     []string       `json:"not_tools"`
}

// ToolSelectionSuite contains all tool selection tests
type ToolSelectionSuite struct {
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	Description string              `json:"description"`
	Tests       []ToolSelectionTest `json:"tests"`
}

// ConfusionPairTest is one request inside a confusion pair
type ConfusionPairTest struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Reason   string `json:"reason"`
}

// ConfusionPair is a pair of tools agents tend to mix up
type ConfusionPair struct {
	ID             string              `json:"id"`
	Tools          []string            `json:"tools"`
	Disambiguation string              `json:"disambiguation"`
	Tests          []ConfusionPairTest `json:"tests"`
}

// ConfusionPairSuite contains all confusion pair tests
type ConfusionPairSuite struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Pairs       []ConfusionPair `json:"pairs"`
}

// ArgumentTest is a single argument extraction case
type ArgumentTest struct {
	ID            string         `json:"id"`
	Tool          string         `json:"tool"`
	Input         string         `json:"input"`
	RequiredArgs  []string       `json:"required_args"`
	ExpectedArgs  map[string]any `json:"expected_args"`
	ForbiddenArgs []string       `json:"forbidden_args"`
	ArgNotes      string         `json:"arg_notes,omitempty"`
}

// ArgumentSuite contains all argument correctness tests
type ArgumentSuite struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Tests       []ArgumentTest `json:"tests"`
}

// Suites bundles the three suites.
type Suites struct {
	ToolSelection  *ToolSelectionSuite
	ConfusionPairs *ConfusionPairSuite
	Arguments      *ArgumentSuite
}

// Selection is what a selector chose for one input.
type Selection struct {
	Tool string
	Args map[string]any
}

// ToolSelector is implemented by an LLM harness or a test double.
type ToolSelector interface {
	SelectTool(ctx context.Context, input string) (Selection, error)
}

// Result is the outcome of one evaluated case.
type Result struct {
	ID           string
	Input        string
	ExpectedTool string
	ActualTool   string
	Passed       bool
	Errors       []string
}

// Metrics aggregates results for one suite.
type Metrics struct {
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Accuracy      float64
	ByCategory    map[string]*CategoryMetrics
	ByTool        map[string]*ToolMetrics
	FailedDetails []string
}

// CategoryMetrics contains metrics per category
type CategoryMetrics struct {
	Total  int
	Passed int
	Failed int
}

// ToolMetrics contains metrics per tool
type ToolMetrics struct {
	ExpectedCount  int
	SelectedCount  int
	CorrectCount   int
	FalsePositives int
	FalseNegatives int
}

func newMetrics() *Metrics {
	return &Metrics{
		ByCategory: make(map[string]*CategoryMetrics),
		ByTool:     make(map[string]*ToolMetrics),
	}
}

func (m *Metrics) tool(name string) *ToolMetrics {
	if m.ByTool[name] == nil {
		m.ByTool[name] = &ToolMetrics{}
	}
	return m.ByTool[name]
}

// record folds one result into the totals.
func (m *Metrics) record(category string, r Result) {
	m.TotalTests++
	cat := m.ByCategory[category]
	if cat == nil {
		cat = &CategoryMetrics{}
		m.ByCategory[category] = cat
	}
	cat.Total++

	m.tool(r.ExpectedTool).ExpectedCount++
	if r.ActualTool != "" {
		m.tool(r.ActualTool).SelectedCount++
	}
	if r.ActualTool == r.ExpectedTool {
		m.tool(r.ExpectedTool).CorrectCount++
	} else {
		m.tool(r.ExpectedTool).FalseNegatives++
		if r.ActualTool != "" {
			m.tool(r.ActualTool).FalsePositives++
		}
	}

	if r.Passed {
		m.PassedTests++
		cat.Passed++
		return
	}
	m.FailedTests++
	cat.Failed++
	m.FailedDetails = append(m.FailedDetails, fmt.Sprintf("[%s] %s: %s", r.ID, r.Input, strings.Join(r.Errors, "; ")))
}

func (m *Metrics) finish() *Metrics {
	if m.TotalTests > 0 {
		m.Accuracy = float64(m.PassedTests) / float64(m.TotalTests)
	}
	return m
}

// Load reads the embedded suites.
func Load() (*Suites, error) {
	return loadFS(embedded)
}

// LoadDir reads the suites from dir, for trying edited suites without rebuilding.
func LoadDir(dir string) (*Suites, error) {
	return loadFS(os.DirFS(filepath.Clean(dir)))
}

func loadFS(fsys fs.FS) (*Suites, error) {
	s := &Suites{}
	if err := readSuite(fsys, toolSelectionFile, &s.ToolSelection); err != nil {
		return nil, err
	}
	if err := readSuite(fsys, confusionPairsFile, &s.ConfusionPairs); err != nil {
		return nil, err
	}
	if err := readSuite(fsys, argumentsFile, &s.Arguments); err != nil {
		return nil, err
	}
	return s, nil
}

func readSuite(fsys fs.FS, name string, dst any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// Checker validates a tool call without running it; *tools.HandlerRegistry
// satisfies it.
type Checker interface {
	Check(call tools.ToolCall) error
	Names() []string
}

// Lint reports suite cases that name unknown tools or whose expected
// arguments the server would reject.
func Lint(s *Suites, checker Checker) []string {
	known := make(map[string]bool)
	for _, n := range checker.Names() {
		known[n] = true
	}
	var problems []string
	checkCall := func(id, tool string, args map[string]any) {
		if !known[tool] {
			problems = append(problems, fmt.Sprintf("[%s] unknown tool %q", id, tool))
			return
		}
		if args == nil {
			return
		}
		raw, err := json.Marshal(args)
		if err != nil {
			problems = append(problems, fmt.Sprintf("[%s] %v", id, err))
			return
		}
		if err := checker.Check(tools.ToolCall{Name: tool, Arguments: raw}); err != nil {
			problems = append(problems, fmt.Sprintf("[%s] %s rejects expected args: %v", id, tool, err))
		}
	}
	unknown := func(id, tool string) {
		if !known[tool] {
			problems = append(problems, fmt.Sprintf("[%s] unknown tool %q", id, tool))
		}
	}

	if s.ToolSelection != nil {
		for _, t := range s.ToolSelection.Tests {
			checkCall(t.ID, t.ExpectedTool, t.ExpectedArgs)
			for _, nt := range t.NotTools {
				unknown(t.ID, nt)
			}
		}
	}
	if s.ConfusionPairs != nil {
		for _, p := range s.ConfusionPairs.Pairs {
			for _, tool := range p.Tools {
				unknown(p.ID, tool)
			}
			for _, t := range p.Tests {
				unknown(p.ID, t.Expected)
			}
		}
	}
	if s.Arguments != nil {
		for _, t := range s.Arguments.Tests {
			checkCall(t.ID, t.Tool, t.ExpectedArgs)
			for _, req := range t.RequiredArgs {
				if _, ok := t.ExpectedArgs[req]; !ok {
					problems = append(problems, fmt.Sprintf("[%s] required arg %q has no expected value", t.ID, req))
				}
			}
		}
	}
	return problems
}

// Coverage lists the registered tools that no tool selection case expects.
func Coverage(s *Suites, checker Checker) []string {
	covered := make(map[string]bool)
	if s.ToolSelection != nil {
		for _, t := range s.ToolSelection.Tests {
			covered[t.ExpectedTool] = true
		}
	}
	var missing []string
	for _, n := range checker.Names() {
		if !covered[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

// EvaluateToolSelection runs tool selection tests against a selector
func EvaluateToolSelection(ctx context.Context, suite *ToolSelectionSuite, selector ToolSelector) (*Metrics, []Result) {
	m := newMetrics()
	results := make([]Result, 0, len(suite.Tests))
	for _, test := range suite.Tests {
		sel, err := selector.SelectTool(ctx, test.Input)
		r := Result{ID: test.ID, Input: test.Input, ExpectedTool: test.ExpectedTool, ActualTool: sel.Tool, Passed: true}
		if err != nil {
			r.fail("selector error: %v", err)
		}
		if sel.Tool != test.ExpectedTool {
			r.fail("wrong tool: expected %s, got %s", test.ExpectedTool, sel.Tool)
		}
		for _, forbidden := range test.NotTools {
			if sel.Tool == forbidden {
				r.fail("selected forbidden tool: %s", forbidden)
			}
		}
		r.compareArgs(test.ExpectedArgs, sel.Args)
		m.record(test.Category, r)
		results = append(results, r)
	}
	return m.finish(), results
}

// EvaluateConfusionPairs runs confusion pair tests against a selector
func EvaluateConfusionPairs(ctx context.Context, suite *ConfusionPairSuite, selector ToolSelector) (*Metrics, []Result) {
	m := newMetrics()
	var results []Result
	for _, pair := range suite.Pairs {
		for i, test := range pair.Tests {
			sel, err := selector.SelectTool(ctx, test.Input)
			r := Result{
				ID:           fmt.Sprintf("%s-%d", pair.ID, i+1),
				Input:        test.Input,
				ExpectedTool: test.Expected,
				ActualTool:   sel.Tool,
				Passed:       true,
			}
			if err != nil {
				r.fail("selector error: %v", err)
			}
			if sel.Tool != test.Expected {
				r.fail("expected %s, got %s (%s)", test.Expected, sel.Tool, test.Reason)
			}
			m.record(pair.ID, r)
			results = append(results, r)
		}
	}
	return m.finish(), results
}

// EvaluateArguments runs argument correctness tests against a selector
func EvaluateArguments(ctx context.Context, suite *ArgumentSuite, selector ToolSelector) (*Metrics, []Result) {
	m := newMetrics()
	results := make([]Result, 0, len(suite.Tests))
	for _, test := range suite.Tests {
		sel, err := selector.SelectTool(ctx, test.Input)
		r := Result{ID: test.ID, Input: test.Input, ExpectedTool: test.Tool, ActualTool: sel.Tool, Passed: true}
		switch {
		case err != nil:
			r.fail("selector error: %v", err)
		case sel.Tool != test.Tool:
			r.fail("wrong tool: expected %s, got %s", test.Tool, sel.Tool)
		default:
			for _, req := range test.RequiredArgs {
				if _, ok := sel.Args[req]; !ok {
					r.fail("missing required arg %s", req)
				}
			}
			r.compareArgs(test.ExpectedArgs, sel.Args)
			for _, forbidden := range test.ForbiddenArgs {
				if _, ok := sel.Args[forbidden]; ok {
					r.fail("used forbidden arg %s", forbidden)
				}
			}
		}
		m.record(test.Tool, r)
		results = append(results, r)
	}
	return m.finish(), results
}

func (r *Result) fail(format string, args ...any) {
	r.Passed = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) compareArgs(expected, actual map[string]any) {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		want := expected[key]
		got, ok := actual[key]
		if !ok {
			r.fail("missing arg %s (expected %v)", key, want)
			continue
		}
		if !sameJSON(want, got) {
			r.fail("wrong arg %s: expected %v, got %v", key, want, got)
		}
	}
}

// sameJSON compares two values by their JSON form, so 5 and 5.0 are equal
// and Go slices compare equal to decoded JSON arrays.
func sameJSON(a, b any) bool {
	norm := func(v any) (any, bool) {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, false
		}
		return out, true
	}
	na, okA := norm(a)
	nb, okB := norm(b)
	return okA && okB && reflect.DeepEqual(na, nb)
}

// FormatMetrics returns a human-readable summary of evaluation metrics
func FormatMetrics(m *Metrics, suiteName string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n=== %s ===\n", suiteName)
	fmt.Fprintf(&b, "Total: %d tests\n", m.TotalTests)
	fmt.Fprintf(&b, "Passed: %d (%.1f%%)\n", m.PassedTests, m.Accuracy*100)
	fmt.Fprintf(&b, "Failed: %d\n", m.FailedTests)

	if len(m.ByCategory) > 0 {
		cats := make([]string, 0, len(m.ByCategory))
		for c := range m.ByCategory {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		b.WriteString("\nBy Category:\n")
		for _, c := range cats {
			cm := m.ByCategory[c]
			fmt.Fprintf(&b, "  %-25s: %d/%d (%.0f%%)\n", c, cm.Passed, cm.Total, float64(cm.Passed)/float64(cm.Total)*100)
		}
	}

	const maxDetails = 10
	if n := len(m.FailedDetails); n > 0 {
		details := m.FailedDetails
		if n > maxDetails {
			fmt.Fprintf(&b, "\nFailed Tests (showing first %d of %d):\n", maxDetails, n)
			details = details[:maxDetails]
		} else {
			b.WriteString("\nFailed Tests:\n")
		}
		for _, d := range details {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
	}

	return b.String()
}
