package evals

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/olgasafonova/sefaria-mcp-server/tools"
)

// oracleSelector answers from a fixed table.
type oracleSelector map[string]Selection

func (o oracleSelector) SelectTool(_ context.Context, input string) (Selection, error) {
	sel, ok := o[input]
	if !ok {
		return Selection{}, errors.New("no answer")
	}
	return sel, nil
}

func registry() *tools.HandlerRegistry {
	return tools.NewHandlerRegistry(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
}

func TestLoad(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(s.ToolSelection.Tests) == 0 {
		t.Error("tool selection suite is empty")
	}
	if len(s.ConfusionPairs.Pairs) == 0 {
		t.Error("confusion pair suite is empty")
	}
	if len(s.Arguments.Tests) == 0 {
		t.Error("argument suite is empty")
	}

	ids := make(map[string]bool)
	for _, tc := range s.ToolSelection.Tests {
		if ids[tc.ID] {
			t.Errorf("duplicate test id %s", tc.ID)
		}
		ids[tc.ID] = true
	}
}

func TestLoadDir_Missing(t *testing.T) {
	if _, err := LoadDir(t.TempDir()); err == nil {
		t.Error("LoadDir() on an empty directory should fail")
	}
}

func TestLint_EmbeddedSuites(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, p := range Lint(s, registry()) {
		t.Error(p)
	}
}

func TestLint_ReportsProblems(t *testing.T) {
	s := &Suites{
		ToolSelection: &ToolSelectionSuite{Tests: []ToolSelectionTest{
			{ID: "a", ExpectedTool: "get_txt"},
			{ID: "b", ExpectedTool: "get_text", ExpectedArgs: map[string]any{"reference": "Genesis 1:1", "lang": "en"}},
			{ID: "c", ExpectedTool: "text_search", ExpectedArgs: map[string]any{"query": "q", "size": 500}},
		}},
		Arguments: &ArgumentSuite{Tests: []ArgumentTest{
			{ID: "d", Tool: "search_in_book", RequiredArgs: []string{"book_name"}, ExpectedArgs: map[string]any{"query": "q"}},
		}},
	}
	problems := Lint(s, registry())

	for _, id := range []string{"[a]", "[b]", "[c]", "[d]"} {
		found := false
		for _, p := range problems {
			if strings.HasPrefix(p, id) {
				found = true
			}
		}
		if !found {
			t.Errorf("no problem reported for %s; got %v", id, problems)
		}
	}
}

func TestCoverage_EveryToolHasACase(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if missing := Coverage(s, registry()); len(missing) > 0 {
		t.Errorf("tools without a tool selection case: %v", missing)
	}
}

func TestEvaluateToolSelection(t *testing.T) {
	suite := &ToolSelectionSuite{Tests: []ToolSelectionTest{
		{ID: "1", Category: "text", Input: "genesis", ExpectedTool: "get_text", ExpectedArgs: map[string]any{"reference": "Genesis 1:1"}},
		{ID: "2", Category: "search", Input: "love", ExpectedTool: "text_search", ExpectedArgs: map[string]any{"size": 5}, NotTools: []string{"english_semantic_search"}},
		{ID: "3", Category: "search", Input: "peace", ExpectedTool: "text_search"},
		{ID: "4", Category: "text", Input: "unknown", ExpectedTool: "get_text"},
	}}
	selector := oracleSelector{
		"genesis": {Tool: "get_text", Args: map[string]any{"reference": "Genesis 1:1"}},
		"love":    {Tool: "text_search", Args: map[string]any{"size": 5.0}},
		"peace":   {Tool: "english_semantic_search"},
	}

	m, results := EvaluateToolSelection(context.Background(), suite, selector)
	if m.TotalTests != 4 || m.PassedTests != 2 || m.FailedTests != 2 {
		t.Fatalf("metrics = %d/%d/%d, want 4 total, 2 passed, 2 failed", m.TotalTests, m.PassedTests, m.FailedTests)
	}
	if m.Accuracy != 0.5 {
		t.Errorf("Accuracy = %v, want 0.5", m.Accuracy)
	}
	if !results[1].Passed {
		t.Errorf("int and float sizes should compare equal: %v", results[1].Errors)
	}
	if got := m.ByTool["english_semantic_search"].FalsePositives; got != 1 {
		t.Errorf("FalsePositives = %d, want 1", got)
	}
	if got := m.ByTool["get_text"].FalseNegatives; got != 1 {
		t.Errorf("get_text FalseNegatives = %d, want 1", got)
	}
	if got := m.ByCategory["search"]; got.Passed != 1 || got.Failed != 1 {
		t.Errorf("search category = %+v, want 1 passed 1 failed", got)
	}
}

func TestEvaluateConfusionPairs(t *testing.T) {
	suite := &ConfusionPairSuite{Pairs: []ConfusionPair{{
		ID:    "lexical_vs_semantic",
		Tools: []string{"text_search", "english_semantic_search"},
		Tests: []ConfusionPairTest{
			{Input: "exact", Expected: "text_search"},
			{Input: "concept", Expected: "english_semantic_search"},
		},
	}}}
	selector := oracleSelector{
		"exact":   {Tool: "text_search"},
		"concept": {Tool: "text_search"},
	}
	m, results := EvaluateConfusionPairs(context.Background(), suite, selector)
	if m.PassedTests != 1 || m.FailedTests != 1 {
		t.Errorf("passed/failed = %d/%d, want 1/1", m.PassedTests, m.FailedTests)
	}
	if results[1].ID != "lexical_vs_semantic-2" {
		t.Errorf("result ID = %q", results[1].ID)
	}
}

func TestEvaluateArguments(t *testing.T) {
	suite := &ArgumentSuite{Tests: []ArgumentTest{
		{ID: "ok", Tool: "search_in_book", Input: "ok", RequiredArgs: []string{"query", "book_name"}, ExpectedArgs: map[string]any{"book_name": "Genesis"}},
		{ID: "forbidden", Tool: "text_search", Input: "forbidden", RequiredArgs: []string{"query"}, ForbiddenArgs: []string{"limit"}},
		{ID: "missing", Tool: "search_in_book", Input: "missing", RequiredArgs: []string{"query", "book_name"}},
		{ID: "wrong tool", Tool: "get_text", Input: "wrong"},
	}}
	selector := oracleSelector{
		"ok":        {Tool: "search_in_book", Args: map[string]any{"query": "אור", "book_name": "Genesis"}},
		"forbidden": {Tool: "text_search", Args: map[string]any{"query": "q", "limit": 5}},
		"missing":   {Tool: "search_in_book", Args: map[string]any{"query": "q"}},
		"wrong":     {Tool: "get_links_between_texts", Args: map[string]any{"reference": "Genesis 1:1"}},
	}
	m, results := EvaluateArguments(context.Background(), suite, selector)
	if m.TotalTests != 4 || m.PassedTests != 1 {
		t.Fatalf("total/passed = %d/%d, want 4/1", m.TotalTests, m.PassedTests)
	}
	for _, r := range results[1:] {
		if r.Passed || len(r.Errors) == 0 {
			t.Errorf("%s should fail with a reason", r.ID)
		}
	}
}

func TestSameJSON(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{5, 5.0, true},
		{[]string{"Talmud/Bavli"}, []any{"Talmud/Bavli"}, true},
		{map[string]any{"eras": []string{"Rishonim"}}, map[string]any{"eras": []any{"Rishonim"}}, true},
		{"1", 1, false},
		{true, false, false},
		{nil, nil, true},
	}
	for _, tt := range tests {
		if got := sameJSON(tt.a, tt.b); got != tt.want {
			t.Errorf("sameJSON(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFormatMetrics(t *testing.T) {
	m := newMetrics()
	for i := 0; i < 12; i++ {
		m.record("text", Result{ID: "x", ExpectedTool: "get_text", ActualTool: "text_search", Errors: []string{"wrong tool"}})
	}
	m.record("text", Result{ID: "y", ExpectedTool: "get_text", ActualTool: "get_text", Passed: true})
	out := FormatMetrics(m.finish(), "Tool Selection")

	for _, want := range []string{"=== Tool Selection ===", "Total: 13 tests", "Passed: 1", "showing first 10 of 12", "text"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
