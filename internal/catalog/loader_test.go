package catalog

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olgasafonova/sefaria-mcp-server/internal/upstream"
)

const testTOC = `[
  {
    "category": "Tanakh",
    "heCategory": "תנ״ך",
    "contents": [
      {
        "category": "Torah",
        "heCategory": "תורה",
        "contents": [
          {"title": "Genesis", "heTitle": "בראשית", "categories": ["Tanakh", "Torah"]},
          {"title": "Exodus", "heTitle": "שמות", "categories": ["Tanakh", "Torah"]}
        ]
      }
    ]
  },
  {
    "category": "Midrash",
    "contents": [
      {"title": "Exodus Rabbah", "heTitle": "שמות רבה", "categories": ["Midrash", "Aggadah", "Midrash Rabbah"]},
      {"title": "Mekhilta d'Rabbi Yishmael"}
    ]
  }
]`

func TestParseTOC(t *testing.T) {
	entries, err := ParseTOC([]byte(testTOC))
	if err != nil {
		t.Fatalf("ParseTOC() error = %v", err)
	}

	byID := make(map[string]*Entry)
	for _, e := range entries {
		byID[e.ID] = e
	}

	if e := byID["category:Tanakh/Torah"]; e == nil || e.Title != "Torah" || e.HeTitle != "תורה" {
		t.Errorf("Torah category = %+v", e)
	}
	if e := byID["Exodus Rabbah"]; e == nil || len(e.CategoryPath) != 3 || e.CategoryPath[2] != "Midrash Rabbah" {
		t.Errorf("Exodus Rabbah = %+v", e)
	}
	if e := byID["Mekhilta d'Rabbi Yishmael"]; e == nil || len(e.CategoryPath) != 1 || e.CategoryPath[0] != "Midrash" {
		t.Errorf("work without categories should inherit the tree path, got %+v", e)
	}
}

func TestParseTOC_Invalid(t *testing.T) {
	for _, body := range []string{`not json`, `{"error": "x"}`, `[]`} {
		if _, err := ParseTOC([]byte(body)); err == nil {
			t.Errorf("ParseTOC(%q) should fail", body)
		}
	}
}

func TestMerge_SeedWins(t *testing.T) {
	seed := []*Entry{{ID: "Genesis", Kind: KindWork, Title: "Genesis", Aliases: []string{"Bereshit"}, Depth: 2}}
	toc := []*Entry{
		{ID: "Genesis", Kind: KindWork, Title: "Genesis", HeTitle: "בראשית", CategoryPath: []string{"Tanakh", "Torah"}},
		{ID: "Exodus", Kind: KindWork, Title: "Exodus"},
	}

	merged := Merge(seed, toc)
	if len(merged) != 2 {
		t.Fatalf("len = %d, want 2", len(merged))
	}
	g := merged[0]
	if g.Depth != 2 || len(g.Aliases) != 1 {
		t.Errorf("seed fields lost: %+v", g)
	}
	if g.HeTitle != "בראשית" || len(g.CategoryPath) != 2 {
		t.Errorf("toc fields not filled in: %+v", g)
	}
	if seed[0].HeTitle != "" {
		t.Error("Merge must not modify the seed entries")
	}
}

func newTestLoader(t *testing.T, url string) (*Loader, *Resolver) {
	t.Helper()
	idx, err := SeedIndex()
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(idx, DefaultOptions())
	client := upstream.NewClient(upstream.WithMaxRetries(0), upstream.WithBackoff(time.Millisecond, time.Millisecond))
	l, err := NewLoader(client, url, r, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return l, r
}

func TestLoader_Refresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/index" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, testTOC)
	}))
	defer server.Close()

	l, r := newTestLoader(t, server.URL)
	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if r.Generation() != 2 {
		t.Errorf("generation = %d, want 2", r.Generation())
	}

	e, err := r.ResolveOne("Exodus Rabbah", KindWork)
	if err != nil || e.ID != "Exodus Rabbah" {
		t.Errorf("new work not resolvable: %v, %v", e, err)
	}
	// Seed aliases survive the merge.
	e, err = r.ResolveOne("Bereshit", KindWork)
	if err != nil || e.ID != "Genesis" {
		t.Errorf("seed alias lost: %v, %v", e, err)
	}
}

func TestLoader_RefreshFailureKeepsSnapshot(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	l, r := newTestLoader(t, server.URL)
	before := r.Index()
	if err := l.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if r.Index() != before || r.Generation() != 1 {
		t.Error("failed refresh must keep the previous snapshot")
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestLoader_RunStopsOnCancel(t *testing.T) {
	l, _ := newTestLoader(t, "http://127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
