package sefaria

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/internal/shape"
	"github.com/olgasafonova/sefaria-mcp-server/internal/upstream"
)

const (
	// snippetLen is the length of a snippet cut from source text when no highlight exists
	snippetLen = 300

	// dictionarySearchSize is the number of dictionary entries requested
	dictionarySearchSize = 8

	filterCorrection = "Removed filters due to no results"
)

// lexicon pairs a dictionary's search path with its display name.
type lexicon struct {
	Path string
	Name string
}

// Lexicons are the dictionaries search_in_dictionaries covers.
var Lexicons = []lexicon{
	{"Reference/Dictionary/Jastrow", "Jastrow Dictionary"},
	{"Reference/Dictionary/Klein Dictionary", "Klein Dictionary"},
	{"Reference/Dictionary/BDB", "BDB Dictionary"},
	{"Reference/Dictionary/BDB Aramaic", "BDB Aramaic Dictionary"},
	{"Reference/Encyclopedic Works/Kovetz Yesodot VaChakirot", "Kovetz Yesodot VaChakirot"},
}

// searchRequest is the body of the lexical search endpoint.
type searchRequest struct {
	Aggs             []string  `json:"aggs"`
	Field            string    `json:"field"`
	FilterFields     []*string `json:"filter_fields"`
	Filters          []string  `json:"filters"`
	Query            string    `json:"query"`
	Size             int       `json:"size"`
	Slop             int       `json:"slop"`
	SortFields       []string  `json:"sort_fields"`
	SortMethod       string    `json:"sort_method"`
	SortReverse      bool      `json:"sort_reverse"`
	SortScoreMissing float64   `json:"sort_score_missing"`
	SourceProj       bool      `json:"source_proj"`
	Type             string    `json:"type"`
}

func newSearchRequest(query string, filters []string, size int) searchRequest {
	if filters == nil {
		filters = []string{}
	}
	return searchRequest{
		Aggs:             []string{},
		Field:            "naive_lemmatizer",
		FilterFields:     make([]*string, len(filters)),
		Filters:          filters,
		Query:            query,
		Size:             size,
		Slop:             10,
		SortFields:       []string{"pagesheetrank"},
		SortMethod:       "score",
		SortScoreMissing: 0.04,
		SourceProj:       true,
		Type:             "text",
	}
}

// searchRaw posts one lexical search and returns the raw hits payload.
func (s *Service) searchRaw(ctx context.Context, query string, filters []string, size int) ([]byte, error) {
	body, err := json.Marshal(newSearchRequest(query, filters, size))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, err, "encode search request")
	}
	return s.fetch(ctx, upstream.Request{
		Endpoint: "search",
		Method:   http.MethodPost,
		BaseURL:  s.cfg.BaseURL,
		Path:     "/api/search-wrapper/es8",
		Body:     body,
	}, s.cfg.SearchTTL)
}

// SearchHit is one search result.
type SearchHit struct {
	Ref         string   `json:"ref"`
	Categories  []string `json:"categories"`
	TextSnippet string   `json:"text_snippet"`
}

// SearchResult is the outcome of a lexical search.
type SearchResult struct {
	Query            string      `json:"query"`
	Filters          []string    `json:"filters,omitempty"`
	Total            int64       `json:"total"`
	Results          []SearchHit `json:"results"`
	FilterCorrection string      `json:"filter_correction,omitempty"`
	OriginalFilter   []string    `json:"original_filter,omitempty"`
}

// search runs a filtered search and, when it finds nothing, repeats it
// without filters and records the correction.
func (s *Service) search(ctx context.Context, query string, filters []string, size int) (*SearchResult, error) {
	body, err := s.searchRaw(ctx, query, filters, size)
	if err != nil {
		return nil, err
	}
	res := &SearchResult{Query: query, Filters: filters}
	if len(filters) > 0 && hitCount(body) == 0 {
		s.logger.Info("No results with filters, retrying without", "query", query, "filters", filters)
		body, err = s.searchRaw(ctx, query, nil, size)
		if err != nil {
			return nil, err
		}
		res.Filters = nil
		res.FilterCorrection = filterCorrection
		res.OriginalFilter = filters
	}
	res.Total = totalHits(body)
	res.Results = parseHits(body)
	return res, nil
}

func hitCount(body []byte) int {
	return len(gjson.GetBytes(body, "hits.hits").Array())
}

// totalHits reads hits.total, which is a number or {"value": n} depending on
// the search backend version.
func totalHits(body []byte) int64 {
	t := gjson.GetBytes(body, "hits.total")
	if t.IsObject() {
		return t.Get("value").Int()
	}
	return t.Int()
}

func parseHits(body []byte) []SearchHit {
	hits := []SearchHit{}
	gjson.GetBytes(body, "hits.hits").ForEach(func(_, hit gjson.Result) bool {
		src := hit.Get("_source")
		h := SearchHit{
			Ref:        src.Get("ref").String(),
			Categories: []string{},
		}
		src.Get("categories").ForEach(func(_, c gjson.Result) bool {
			h.Categories = append(h.Categories, c.String())
			return true
		})
		h.TextSnippet = snippet(hit)
		hits = append(hits, h)
		return true
	})
	return hits
}

// snippet joins the first non-empty highlight list, or falls back to the start
// of the indexed text.
func snippet(hit gjson.Result) string {
	var out string
	hit.Get("highlight").ForEach(func(_, v gjson.Result) bool {
		var parts []string
		v.ForEach(func(_, p gjson.Result) bool {
			parts = append(parts, p.String())
			return true
		})
		if len(parts) > 0 {
			out = strings.Join(parts, " [...] ")
			return false
		}
		return true
	})
	if out != "" {
		return out
	}
	src := hit.Get("_source")
	for _, field := range []string{"naive_lemmatizer", "exact"} {
		v := src.Get(field)
		if v.Type != gjson.String || v.String() == "" {
			continue
		}
		text := v.String()
		if utf8.RuneCountInString(text) > snippetLen {
			return string([]rune(text)[:snippetLen]) + "..."
		}
		return text
	}
	return ""
}

// TextSearch searches the whole library. Filters may be full category paths
// or bare category and work names.
func (s *Service) TextSearch(ctx context.Context, args TextSearchArgs) (*shape.Result, error) {
	filters := s.canon.CanonicalizeAll(args.Filters)
	res, err := s.search(ctx, strings.TrimSpace(args.Query), filters, sizeOrDefault(args.Size))
	if err != nil {
		return nil, err
	}
	return s.shaper.ShapeValue(ToolTextSearch, res)
}

// BookSearchResult is a search confined to one work.
type BookSearchResult struct {
	Book string `json:"book"`
	Path string `json:"path"`
	*SearchResult
}

// SearchInBook searches within a single work, resolved through the catalogue.
func (s *Service) SearchInBook(ctx context.Context, args SearchInBookArgs) (*shape.Result, error) {
	sp, err := s.searchPath(ctx, args.BookName, "")
	if err != nil {
		return nil, err
	}
	res, err := s.search(ctx, strings.TrimSpace(args.Query), []string{sp.Path}, sizeOrDefault(args.Size))
	if err != nil {
		return nil, err
	}
	return s.shaper.ShapeValue(ToolSearchInBook, BookSearchResult{Book: sp.Title, Path: sp.Path, SearchResult: res})
}

// DictionaryEntry is one lexicon entry matching a query.
type DictionaryEntry struct {
	Ref         string `json:"ref"`
	Headword    string `json:"headword"`
	LexiconName string `json:"lexicon_name"`
	Text        string `json:"text"`
}

// DictionaryResult lists matching lexicon entries.
type DictionaryResult struct {
	Query   string            `json:"query"`
	Results []DictionaryEntry `json:"results"`
}

// SearchDictionaries searches the fixed set of lexicons.
func (s *Service) SearchDictionaries(ctx context.Context, args DictionaryArgs) (*shape.Result, error) {
	paths := make([]string, len(Lexicons))
	names := make(map[string]string, len(Lexicons))
	for i, l := range Lexicons {
		paths[i] = l.Path
		names[l.Path] = l.Name
	}
	query := strings.TrimSpace(args.Query)
	body, err := s.searchRaw(ctx, query, paths, dictionarySearchSize)
	if err != nil {
		return nil, err
	}

	out := DictionaryResult{Query: query, Results: []DictionaryEntry{}}
	gjson.GetBytes(body, "hits.hits").ForEach(func(_, hit gjson.Result) bool {
		src := hit.Get("_source")
		path := src.Get("path").String()
		name, ok := names[path]
		if !ok {
			name = path
		}
		out.Results = append(out.Results, DictionaryEntry{
			Ref:         src.Get("ref").String(),
			Headword:    src.Get("titleVariants.0").String(),
			LexiconName: name,
			Text:        src.Get("exact").String(),
		})
		return true
	})
	return s.shaper.ShapeValue(ToolDictionaries, out)
}

// knnRequest is the body of the semantic search endpoint.
type knnRequest struct {
	Query   string           `json:"query"`
	Filters *SemanticFilters `json:"filters,omitempty"`
}

// SemanticSearch finds passages close in meaning to an English query.
func (s *Service) SemanticSearch(ctx context.Context, args SemanticSearchArgs) (*shape.Result, error) {
	req := knnRequest{Query: strings.TrimSpace(args.Query)}
	if !args.Filters.empty() {
		req.Filters = args.Filters
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, err, "encode semantic search request")
	}
	payload, err := s.fetch(ctx, upstream.Request{
		Endpoint: "knn-search",
		Method:   http.MethodPost,
		BaseURL:  s.cfg.AIBaseURL,
		Path:     "/api/knn-search",
		Body:     body,
	}, s.cfg.SearchTTL)
	if err != nil {
		return nil, err
	}
	return s.shaper.Shape(ToolSemanticSearch, payload)
}
