package catalog

import (
	"testing"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
)

func newSeedResolver(t *testing.T) *Resolver {
	t.Helper()
	idx, err := SeedIndex()
	if err != nil {
		t.Fatalf("SeedIndex() error = %v", err)
	}
	return NewResolver(idx, DefaultOptions())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lower and trim", "  Genesis  ", "genesis"},
		{"punctuation to space", "Mishneh Torah, Repentance", "mishneh torah repentance"},
		{"latin diacritics", "Bavá Mětzia", "bava metzia"},
		{"apostrophe dropped", "Nevi'im", "neviim"},
		{"niqqud stripped", "בְּרֵאשִׁית", "בראשית"},
		{"gershayim dropped", "רמב״ם", "רמבם"},
		{"ascii quote dropped", `רמב"ם`, "רמבם"},
		{"slashes", "Tanakh/Torah", "tanakh torah"},
		{"empty", " ,. ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolve_ExactTitleHasFullConfidence(t *testing.T) {
	r := newSeedResolver(t)

	for _, q := range []string{"Genesis", "genesis", "Bereshit", "בראשית", "Mishneh Torah, Repentance"} {
		t.Run(q, func(t *testing.T) {
			cands := r.Resolve(q, KindWork)
			if len(cands) == 0 {
				t.Fatalf("Resolve(%q) returned nothing", q)
			}
			if cands[0].Score != 1 || !cands[0].Exact {
				t.Errorf("top candidate = %+v, want exact score 1.0", cands[0])
			}
			for _, c := range cands[1:] {
				if c.Score >= cands[0].Score {
					t.Errorf("candidate %s scored %v, not below the exact match", c.Entry.ID, c.Score)
				}
			}
		})
	}
}

func TestResolve_RankingOrder(t *testing.T) {
	r := newSeedResolver(t)

	cands := r.Resolve("Rambam")
	if len(cands) < 2 {
		t.Fatalf("expected several candidates, got %d", len(cands))
	}
	if cands[0].Entry.ID != "topic:rambam" {
		t.Errorf("top = %s, want topic:rambam", cands[0].Entry.ID)
	}
	for i := 1; i < len(cands); i++ {
		prev, cur := cands[i-1], cands[i]
		if prev.Score < cur.Score || (prev.Score == cur.Score && prev.Entry.ID > cur.Entry.ID) {
			t.Errorf("candidates out of order at %d: %v/%s then %v/%s",
				i, prev.Score, prev.Entry.ID, cur.Score, cur.Entry.ID)
		}
	}
	found := false
	for _, c := range cands {
		if c.Entry.ID == "topic:ramban" {
			found = true
			if c.Score >= 1 {
				t.Errorf("fuzzy match scored %v, want < 1", c.Score)
			}
		}
	}
	if !found {
		t.Error("expected Ramban among the fuzzy candidates")
	}

	var family bool
	for _, c := range cands {
		if c.Entry.ID == "category:Halakhah/Mishneh Torah" {
			family = true
		}
	}
	if !family {
		t.Error("expected the Mishneh Torah category among the candidates")
	}
}

func TestResolve_TopK(t *testing.T) {
	idx, err := SeedIndex()
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(idx, Options{MinScore: 0.1, AmbiguityMargin: 0.05, TopK: 2})
	if got := len(r.Resolve("Mishnah")); got > 2 {
		t.Errorf("Resolve returned %d candidates, want at most 2", got)
	}
}

func TestResolveOne(t *testing.T) {
	r := newSeedResolver(t)

	tests := []struct {
		name     string
		query    string
		kinds    []Kind
		wantID   string
		wantKind apierrors.Kind
	}{
		{name: "exact title", query: "Genesis", kinds: []Kind{KindWork}, wantID: "Genesis"},
		{name: "alias", query: "Tehillim", kinds: []Kind{KindWork}, wantID: "Psalms"},
		{name: "misspelling", query: "Genesys", kinds: []Kind{KindWork}, wantID: "Genesis"},
		{name: "exact beats fuzzy", query: "Rambam", wantID: "topic:rambam"},
		{name: "kind filter breaks tie", query: "Shabbat", kinds: []Kind{KindWork}, wantID: "Shabbat"},
		{name: "topic filter", query: "Shabbat", kinds: []Kind{KindTopic}, wantID: "topic:shabbat"},
		{name: "category path", query: "Tanakh/Torah", kinds: []Kind{KindCategory}, wantID: "category:Tanakh/Torah"},
		{name: "exact tie is ambiguous", query: "Shabbat", wantKind: apierrors.AmbiguousReference},
		{name: "unknown", query: "Qwxzv Plorth", wantKind: apierrors.NotFound},
		{name: "empty", query: "  ", wantKind: apierrors.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := r.ResolveOne(tt.query, tt.kinds...)
			if tt.wantKind != "" {
				if err == nil {
					t.Fatalf("ResolveOne(%q) = %s, want %s error", tt.query, e.ID, tt.wantKind)
				}
				if got := apierrors.KindOf(err); got != tt.wantKind {
					t.Errorf("error kind = %s, want %s (%v)", got, tt.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveOne(%q) error = %v", tt.query, err)
			}
			if e.ID != tt.wantID {
				t.Errorf("ResolveOne(%q) = %s, want %s", tt.query, e.ID, tt.wantID)
			}
		})
	}
}

func TestResolveOne_AmbiguousCarriesCandidates(t *testing.T) {
	r := newSeedResolver(t)

	_, err := r.ResolveOne("Shabbat")
	e := apierrors.As(err)
	if e.Kind != apierrors.AmbiguousReference {
		t.Fatalf("kind = %s, want AmbiguousReference", e.Kind)
	}
	ids := map[string]bool{}
	for _, c := range e.Candidates {
		ids[c.ID] = true
	}
	if !ids["Shabbat"] || !ids["topic:shabbat"] {
		t.Errorf("candidates = %+v, want both the tractate and the topic", e.Candidates)
	}
}

func TestResolveOne_NotFoundSuggests(t *testing.T) {
	idx, err := SeedIndex()
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(idx, Options{MinScore: 0.9, AmbiguityMargin: 0.05, TopK: 10})

	_, err = r.ResolveOne("Exodos", KindWork)
	e := apierrors.As(err)
	if e.Kind != apierrors.NotFound {
		t.Fatalf("kind = %s, want NotFound", e.Kind)
	}
	if len(e.Candidates) == 0 || e.Candidates[0].ID != "Exodus" {
		t.Errorf("suggestions = %+v, want Exodus first", e.Candidates)
	}
}

func TestResolveWork(t *testing.T) {
	r := newSeedResolver(t)

	tests := []struct {
		query    string
		wantID   string
		wantKind apierrors.Kind
	}{
		{query: "Genesis", wantID: "Genesis"},
		{query: "Devarim", wantID: "Deuteronomy"},
		{query: "Genisis", wantID: "Genesis"},
		{query: "Leviticus Rabbah", wantKind: apierrors.AmbiguousReference},
		{query: "Sifrei Devarim", wantKind: apierrors.AmbiguousReference},
		{query: "Qwxzv Plorth", wantKind: apierrors.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			e, err := r.ResolveWork(tt.query)
			if tt.wantKind != "" {
				if !apierrors.IsKind(err, tt.wantKind) {
					t.Fatalf("ResolveWork(%q) = %v, %v; want %s", tt.query, e, err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveWork(%q) error = %v", tt.query, err)
			}
			if e.ID != tt.wantID {
				t.Errorf("ResolveWork(%q) = %s, want %s", tt.query, e.ID, tt.wantID)
			}
		})
	}
}

func TestNewResolver_Thresholds(t *testing.T) {
	idx, err := SeedIndex()
	if err != nil {
		t.Fatal(err)
	}

	r := NewResolver(idx, Options{MinScore: 0, AmbiguityMargin: 0, TopK: 5, ReferenceMinScore: 0})
	if got := r.Options(); got.MinScore != 0 || got.ReferenceMinScore != 0 || got.AmbiguityMargin != 0 {
		t.Errorf("zero thresholds replaced: %+v", got)
	}

	r = NewResolver(idx, Options{MinScore: -1, AmbiguityMargin: -1, TopK: 0, ReferenceMinScore: -1})
	if got, want := r.Options(), DefaultOptions(); got != want {
		t.Errorf("Options() = %+v, want defaults %+v", got, want)
	}
}

func TestResolver_SwapGeneration(t *testing.T) {
	r := newSeedResolver(t)
	if r.Generation() != 1 {
		t.Fatalf("initial generation = %d, want 1", r.Generation())
	}

	idx, err := NewIndex([]*Entry{{ID: "Tosefta Berakhot", Kind: KindWork, Title: "Tosefta Berakhot"}})
	if err != nil {
		t.Fatal(err)
	}
	if gen := r.Swap(idx); gen != 2 {
		t.Errorf("Swap() generation = %d, want 2", gen)
	}
	if _, err := r.ResolveOne("Genesis"); err == nil {
		t.Error("old snapshot entries should be gone after swap")
	}
	if e, err := r.ResolveOne("Tosefta Berakhot"); err != nil || e.ID != "Tosefta Berakhot" {
		t.Errorf("ResolveOne on new snapshot = %v, %v", e, err)
	}
}

func TestNewIndex_RejectsDuplicates(t *testing.T) {
	_, err := NewIndex([]*Entry{
		{ID: "Genesis", Kind: KindWork, Title: "Genesis"},
		{ID: "Genesis", Kind: KindWork, Title: "Genesis"},
	})
	if err == nil {
		t.Error("expected duplicate ID error")
	}
	if _, err := NewIndex([]*Entry{{Kind: KindWork, Title: "Untitled"}}); err == nil {
		t.Error("expected missing ID error")
	}
}

func TestEntry_Name(t *testing.T) {
	tests := []struct {
		entry Entry
		want  string
	}{
		{Entry{Kind: KindWork, Title: "Genesis"}, "Genesis"},
		{Entry{Kind: KindCategory, Title: "Torah", CategoryPath: []string{"Tanakh", "Torah"}}, "Tanakh/Torah"},
		{Entry{Kind: KindTopic, Title: "Rambam", Slug: "rambam"}, "rambam"},
	}
	for _, tt := range tests {
		if got := tt.entry.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}
}

func TestEntry_IsTalmud(t *testing.T) {
	r := newSeedResolver(t)
	berakhot, _ := r.Lookup("Berakhot")
	genesis, _ := r.Lookup("Genesis")
	if berakhot == nil || !berakhot.IsTalmud() {
		t.Error("Berakhot should use folio addressing")
	}
	if genesis == nil || genesis.IsTalmud() {
		t.Error("Genesis should not use folio addressing")
	}
}

func TestEditSimilarity(t *testing.T) {
	if got := editSimilarity("genesys", "genesis", 1); got < 0.85 || got > 0.86 {
		t.Errorf("editSimilarity = %v, want ~0.857", got)
	}
	if got := editSimilarity("abcdef", "uvwxyz", 1); got != 0 {
		t.Errorf("distant strings should score 0, got %v", got)
	}
}

func BenchmarkResolve(b *testing.B) {
	idx, err := SeedIndex()
	if err != nil {
		b.Fatal(err)
	}
	r := NewResolver(idx, DefaultOptions())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Resolve("Bereishis Raba")
	}
}
