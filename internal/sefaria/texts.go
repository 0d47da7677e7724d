package sefaria

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/tidwall/gjson"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/internal/shape"
	"github.com/olgasafonova/sefaria-mcp-server/internal/upstream"
)

// GetText fetches the text at a citation, optionally restricted to source or
// English versions.
func (s *Service) GetText(ctx context.Context, args GetTextArgs) (*shape.Result, error) {
	p, err := s.parse(args.Reference)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	switch args.VersionLanguage {
	case "source":
		q["version"] = []string{"source"}
	case "english":
		q["version"] = []string{"english"}
	case "both":
		q["version"] = []string{"english", "source"}
	}
	body, err := s.get(ctx, "texts", "/api/v3/texts/"+upstream.Segment(p.String()), q, s.cfg.ContentTTL)
	if err != nil {
		return nil, err
	}
	return s.shaper.Shape(ToolGetText, body)
}

// Translation is one English version of a passage.
type Translation struct {
	VersionTitle string `json:"versionTitle"`
	Text         any    `json:"text"`
}

// TranslationsResult lists every English version of a passage.
type TranslationsResult struct {
	Reference           string        `json:"reference"`
	EnglishTranslations []Translation `json:"englishTranslations"`
}

// GetEnglishTranslations returns the title and text of every English version.
func (s *Service) GetEnglishTranslations(ctx context.Context, args TranslationsArgs) (*shape.Result, error) {
	p, err := s.parse(args.Reference)
	if err != nil {
		return nil, err
	}
	q := url.Values{"version": {"english|all"}}
	body, err := s.get(ctx, "texts", "/api/v3/texts/"+upstream.Segment(p.String()), q, s.cfg.ContentTTL)
	if err != nil {
		return nil, err
	}

	out := TranslationsResult{Reference: p.String(), EnglishTranslations: []Translation{}}
	gjson.GetBytes(body, "versions").ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		var text any = ""
		if t := v.Get("text"); t.Exists() {
			text = t.Value()
		}
		out.EnglishTranslations = append(out.EnglishTranslations, Translation{
			VersionTitle: v.Get("versionTitle").String(),
			Text:         text,
		})
		return true
	})
	return s.shaper.ShapeValue(ToolTranslations, out)
}

// LinksResult wraps the upstream link list with the resolved citation.
type LinksResult struct {
	Reference string          `json:"reference"`
	Links     json.RawMessage `json:"links"`
}

// GetLinks lists cross-references to a passage.
func (s *Service) GetLinks(ctx context.Context, args LinksArgs) (*shape.Result, error) {
	p, err := s.parse(args.Reference)
	if err != nil {
		return nil, err
	}
	withText := args.WithText
	if withText == "" {
		withText = "0"
	}
	body, err := s.get(ctx, "links", "/api/links/"+upstream.Segment(p.String()),
		url.Values{"with_text": {withText}}, s.cfg.ContentTTL)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, apierrors.New(apierrors.UpstreamRejected, "links for %s: upstream payload is not JSON", p)
	}
	return s.shaper.ShapeValue(ToolLinks, LinksResult{Reference: p.String(), Links: body})
}

// ManuscriptsResult wraps the manuscript page list for a passage.
type ManuscriptsResult struct {
	Reference   string          `json:"reference"`
	Manuscripts json.RawMessage `json:"manuscripts"`
}

// GetManuscripts lists manuscript pages containing a passage. An empty list is NotFound.
func (s *Service) GetManuscripts(ctx context.Context, args ManuscriptsArgs) (*shape.Result, error) {
	p, err := s.parse(args.Reference)
	if err != nil {
		return nil, err
	}
	body, err := s.get(ctx, "manuscripts", "/api/manuscripts/"+upstream.Segment(p.String()), nil, s.cfg.ContentTTL)
	if err != nil {
		return nil, err
	}
	list := gjson.ParseBytes(body)
	if !gjson.ValidBytes(body) || !list.IsArray() {
		return nil, apierrors.New(apierrors.UpstreamRejected, "manuscripts for %s: expected a list", p)
	}
	if len(list.Array()) == 0 {
		return nil, apierrors.NewNotFoundError("manuscripts", p.String())
	}
	return s.shaper.ShapeValue(ToolManuscripts, ManuscriptsResult{Reference: p.String(), Manuscripts: body})
}
