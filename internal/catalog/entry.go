// Package catalog resolves free-form names of works, categories and topics to
// canonical catalogue entries. Lookups run against an immutable Index snapshot
// that is replaced wholesale when the table of contents is reloaded.
package catalog

import (
	"strings"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
)

// Kind distinguishes the entry types held in the catalogue.
type Kind string

const (
	KindWork     Kind = "work"
	KindCategory Kind = "category"
	KindTopic    Kind = "topic"
)

// Entry is one canonical catalogue item. Entries are never mutated after an Index is built.
type Entry struct {
	ID           string   `json:"id"`
	Kind         Kind     `json:"kind"`
	Title        string   `json:"title"`
	HeTitle      string   `json:"he_title,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
	CategoryPath []string `json:"category_path,omitempty"`
	Slug         string   `json:"slug,omitempty"`
	Depth        int      `json:"depth,omitempty"`
	SectionNames []string `json:"section_names,omitempty"`
	AddressTypes []string `json:"address_types,omitempty"`
}

// Name returns the identifier the upstream API expects for this entry.
func (e *Entry) Name() string {
	switch e.Kind {
	case KindTopic:
		return e.Slug
	case KindCategory:
		return strings.Join(e.CategoryPath, "/")
	default:
		return e.Title
	}
}

// Lineage returns the category path, followed by the title for works.
// Topics have no lineage.
func (e *Entry) Lineage() []string {
	switch e.Kind {
	case KindCategory:
		return e.CategoryPath
	case KindWork:
		out := make([]string, 0, len(e.CategoryPath)+1)
		return append(append(out, e.CategoryPath...), e.Title)
	default:
		return nil
	}
}

// IsTalmud reports whether sections are addressed by folio (2a, 2b).
func (e *Entry) IsTalmud() bool {
	if len(e.AddressTypes) > 0 {
		return e.AddressTypes[0] == "Talmud"
	}
	return len(e.CategoryPath) >= 2 && e.CategoryPath[0] == "Talmud" && e.CategoryPath[1] == "Bavli"
}

// names lists every string the entry may be looked up by.
func (e *Entry) names() []string {
	out := make([]string, 0, 4+len(e.Aliases))
	out = append(out, e.Title)
	if e.HeTitle != "" {
		out = append(out, e.HeTitle)
	}
	if e.Slug != "" {
		out = append(out, e.Slug, strings.ReplaceAll(e.Slug, "-", " "))
	}
	if e.Kind == KindCategory && len(e.CategoryPath) > 1 {
		out = append(out, strings.Join(e.CategoryPath, "/"))
	}
	out = append(out, e.Aliases...)
	return out
}

// entryID derives the unique catalogue ID for an entry.
func entryID(kind Kind, title string, path []string, slug string) string {
	switch kind {
	case KindCategory:
		return "category:" + strings.Join(path, "/")
	case KindTopic:
		return "topic:" + slug
	default:
		return title
	}
}

// Candidate is a scored resolution result.
type Candidate struct {
	Entry   *Entry  `json:"entry"`
	Score   float64 `json:"score"`
	Matched string  `json:"matched"` // the title or alias that produced the score
	Exact   bool    `json:"exact"`
}

// toErrorCandidates converts candidates for error payloads.
func toErrorCandidates(cands []Candidate) []apierrors.Candidate {
	out := make([]apierrors.Candidate, len(cands))
	for i, c := range cands {
		out[i] = apierrors.Candidate{ID: c.Entry.ID, Title: c.Entry.Title, Kind: string(c.Entry.Kind), Score: round3(c.Score)}
	}
	return out
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}
