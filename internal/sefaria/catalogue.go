package sefaria

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/olgasafonova/sefaria-mcp-server/internal/catalog"
	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/internal/searchpath"
	"github.com/olgasafonova/sefaria-mcp-server/internal/shape"
	"github.com/olgasafonova/sefaria-mcp-server/internal/upstream"
)

// topicRefsShown is the number of refs kept from a topic; the rest are counted in refs_note.
const topicRefsShown = 10

// NameCandidate is a catalogue entry matching a clarify_name_argument query.
type NameCandidate struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	HeTitle string  `json:"he_title,omitempty"`
	Kind    string  `json:"kind"`
	Path    string  `json:"path,omitempty"`
	Slug    string  `json:"slug,omitempty"`
	Score   float64 `json:"score"`
	Exact   bool    `json:"exact"`
	Matched string  `json:"matched"`
}

// ClarifyNameResult ranks local candidates and carries the upstream
// autocomplete answer alongside.
type ClarifyNameResult struct {
	Name          string          `json:"name"`
	Candidates    []NameCandidate `json:"candidates"`
	Upstream      json.RawMessage `json:"upstream,omitempty"`
	UpstreamError string          `json:"upstream_error,omitempty"`
}

// kindsForType maps an upstream type filter onto catalogue kinds. ok is false
// for types the catalogue does not hold, such as collections.
func kindsForType(typeFilter string) (kinds []catalog.Kind, ok bool) {
	switch strings.ToLower(strings.TrimSpace(typeFilter)) {
	case "":
		return nil, true
	case "ref", "book", "index", "work":
		return []catalog.Kind{catalog.KindWork}, true
	case "category", "toccategory":
		return []catalog.Kind{catalog.KindCategory}, true
	case "topic", "person", "authortopic", "persontopic":
		return []catalog.Kind{catalog.KindTopic}, true
	default:
		return nil, false
	}
}

// ClarifyName ranks catalogue entries for a name by descending confidence and
// adds the upstream autocomplete results. An upstream failure is reported in
// upstream_error rather than failing the call.
func (s *Service) ClarifyName(ctx context.Context, args ClarifyNameArgs) (*shape.Result, error) {
	name := strings.TrimSpace(args.Name)
	out := ClarifyNameResult{Name: name, Candidates: []NameCandidate{}}

	if kinds, ok := kindsForType(args.TypeFilter); ok {
		cands := s.resolver.Resolve(name, kinds...)
		if args.Limit > 0 && len(cands) > args.Limit {
			cands = cands[:args.Limit]
		}
		for _, c := range cands {
			out.Candidates = append(out.Candidates, NameCandidate{
				ID:      c.Entry.ID,
				Title:   c.Entry.Title,
				HeTitle: c.Entry.HeTitle,
				Kind:    string(c.Entry.Kind),
				Path:    strings.Join(c.Entry.Lineage(), "/"),
				Slug:    c.Entry.Slug,
				Score:   math.Round(c.Score*1000) / 1000,
				Exact:   c.Exact,
				Matched: c.Matched,
			})
		}
	}

	q := url.Values{}
	if args.Limit > 0 {
		q.Set("limit", fmt.Sprint(args.Limit))
	}
	if args.TypeFilter != "" {
		q.Set("type", args.TypeFilter)
	}
	body, err := s.get(ctx, "name", "/api/name/"+upstream.Segment(name), q, s.cfg.ContentTTL)
	switch {
	case err == nil && gjson.ValidBytes(body):
		out.Upstream = body
	case err == nil:
		out.UpstreamError = "name API returned a non-JSON payload"
	case ctx.Err() != nil:
		return nil, err
	default:
		s.logger.Warn("Name API failed, returning catalogue candidates only", "name", name, "error", err)
		out.UpstreamError = apierrors.As(err).Error()
	}
	return s.shaper.ShapeValue(ToolClarifyName, out)
}

// SearchPathResult is the search filter derived for a book name.
type SearchPathResult struct {
	BookName string   `json:"book_name"`
	Scope    string   `json:"scope,omitempty"`
	Title    string   `json:"title"`
	EntryID  string   `json:"entry_id,omitempty"`
	Path     string   `json:"path"`
	Segments []string `json:"segments"`
	Source   string   `json:"source"` // "catalogue" or "upstream"
}

// searchPath resolves book against the catalogue and builds its filter path.
// Names the catalogue does not know are looked up with the upstream
// search-path-filter endpoint; ambiguity is reported, never guessed.
func (s *Service) searchPath(ctx context.Context, book, scope string) (*SearchPathResult, error) {
	book = strings.TrimSpace(book)
	res := &SearchPathResult{BookName: book, Scope: strings.TrimSpace(scope), Source: "catalogue"}

	entry, err := s.resolver.ResolveOne(book, catalog.KindWork, catalog.KindCategory)
	if apierrors.IsNotFound(err) {
		path, uerr := s.upstreamSearchPath(ctx, book)
		if uerr != nil {
			if apierrors.IsKind(uerr, apierrors.UpstreamRejected) || apierrors.IsNotFound(uerr) {
				return nil, err
			}
			return nil, uerr
		}
		segs := searchpath.Path(path).Segments()
		entry = &catalog.Entry{Kind: catalog.KindCategory, Title: segs[len(segs)-1], CategoryPath: segs}
		res.Source = "upstream"
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if res.Source == "catalogue" {
		res.EntryID = entry.ID
	}
	res.Title = entry.Title

	p, err := searchpath.Build(entry, scope)
	if err != nil {
		return nil, err
	}
	res.Path = p.String()
	res.Segments = p.Segments()
	return res, nil
}

// upstreamSearchPath asks Sefaria for the filter path of a book. The endpoint
// answers with a bare string, JSON-quoted or plain.
func (s *Service) upstreamSearchPath(ctx context.Context, book string) (string, error) {
	body, err := s.fetch(ctx, upstream.Request{
		Endpoint: "search-path-filter",
		BaseURL:  s.cfg.BaseURL,
		Path:     "/api/search-path-filter/" + upstream.Segment(book),
		Accept:   "application/json, text/plain",
	}, s.cfg.ContentTTL)
	if err != nil {
		return "", err
	}
	text := string(bytes.TrimSpace(body))
	if v := gjson.Parse(text); strings.HasPrefix(text, `"`) && v.Type == gjson.String {
		text = v.String()
	}
	text = strings.Trim(strings.TrimSpace(text), "/")
	if text == "" || strings.HasPrefix(text, "{") || strings.HasPrefix(text, "<") {
		return "", apierrors.NewNotFoundError("search path", book)
	}
	return text, nil
}

// ClarifySearchPath converts a book name, optionally widened to an ancestor
// scope, into a search filter path.
func (s *Service) ClarifySearchPath(ctx context.Context, args SearchPathArgs) (*shape.Result, error) {
	res, err := s.searchPath(ctx, args.BookName, args.Scope)
	if err != nil {
		return nil, err
	}
	return s.shaper.ShapeValue(ToolClarifySearchPath, res)
}

// escapePath escapes each "/"-separated segment of a category path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = upstream.Segment(seg)
	}
	return strings.Join(segs, "/")
}

// canonicalName resolves name to the upstream identifier of a catalogue entry
// of one of kinds. Unknown names pass through unchanged.
func (s *Service) canonicalName(name string, kinds ...catalog.Kind) (string, error) {
	name = strings.TrimSpace(name)
	entry, err := s.resolver.ResolveOne(name, kinds...)
	switch {
	case err == nil:
		return entry.Name(), nil
	case apierrors.IsNotFound(err):
		return name, nil
	default:
		return "", err
	}
}

// GetShape returns the structure of a work, or the works of a category.
func (s *Service) GetShape(ctx context.Context, args ShapeArgs) (*shape.Result, error) {
	name, err := s.canonicalName(args.Name, catalog.KindWork, catalog.KindCategory)
	if err != nil {
		return nil, err
	}
	body, err := s.get(ctx, "shape", "/api/shape/"+escapePath(name), nil, s.cfg.ContentTTL)
	if err != nil {
		return nil, err
	}
	return s.shaper.Shape(ToolShape, body)
}

// GetCatalogueInfo returns the bibliographic index record of a work.
func (s *Service) GetCatalogueInfo(ctx context.Context, args CatalogueArgs) (*shape.Result, error) {
	title, err := s.canonicalName(args.Title, catalog.KindWork)
	if err != nil {
		return nil, err
	}
	body, err := s.get(ctx, "index", "/api/v2/raw/index/"+upstream.Segment(title), nil, s.cfg.ContentTTL)
	if err != nil {
		return nil, err
	}
	return s.shaper.Shape(ToolCatalogue, body)
}

// topicSlug maps a topic name or alias to its slug; unknown names are slugified.
func (s *Service) topicSlug(raw string) string {
	raw = strings.TrimSpace(raw)
	if cands := s.resolver.Resolve(raw, catalog.KindTopic); len(cands) > 0 && cands[0].Exact {
		return cands[0].Entry.Slug
	}
	return strings.Join(strings.Fields(strings.ToLower(raw)), "-")
}

// GetTopic returns a topic's metadata with optional related-topic links and refs.
func (s *Service) GetTopic(ctx context.Context, args TopicArgs) (*shape.Result, error) {
	slug := s.topicSlug(args.TopicSlug)
	q := url.Values{}
	if args.WithLinks {
		q.Set("with_links", "1")
	}
	if args.WithRefs {
		q.Set("with_refs", "1")
	}
	body, err := s.get(ctx, "topics", "/api/v2/topics/"+upstream.Segment(slug), q, s.cfg.ContentTTL)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var topic map[string]any
	if err := dec.Decode(&topic); err != nil {
		return nil, apierrors.Wrap(apierrors.UpstreamRejected, err, "topic %s: unexpected payload", slug)
	}
	if len(topic) == 0 {
		return nil, apierrors.NewNotFoundError("topic", slug, suggestions(s.resolver.Suggest(args.TopicSlug, 5, catalog.KindTopic))...)
	}
	if refs, ok := topic["refs"].([]any); ok {
		shown := min(len(refs), topicRefsShown)
		topic["refs"] = refs[:shown]
		topic["refs_note"] = fmt.Sprintf("Showing first %d of %d total refs", shown, len(refs))
	}
	return s.shaper.ShapeValue(ToolTopic, topic)
}

func suggestions(cands []catalog.Candidate) []apierrors.Candidate {
	out := make([]apierrors.Candidate, len(cands))
	for i, c := range cands {
		out[i] = apierrors.Candidate{ID: c.Entry.ID, Title: c.Entry.Title, Kind: string(c.Entry.Kind), Score: math.Round(c.Score*1000) / 1000}
	}
	return out
}
