// Package sefaria implements the tool pipelines: each operation resolves its
// arguments against the catalogue, issues cached upstream requests and shapes
// the response for LLM consumption.
package sefaria

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/olgasafonova/sefaria-mcp-server/internal/catalog"
	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/internal/infra"
	"github.com/olgasafonova/sefaria-mcp-server/internal/reference"
	"github.com/olgasafonova/sefaria-mcp-server/internal/searchpath"
	"github.com/olgasafonova/sefaria-mcp-server/internal/shape"
	"github.com/olgasafonova/sefaria-mcp-server/internal/upstream"
)

// Tool names, also the keys of the shaping rules.
const (
	ToolGetText            = "get_text"
	ToolTextSearch         = "text_search"
	ToolCalendar           = "get_current_calendar"
	ToolSemanticSearch     = "english_semantic_search"
	ToolLinks              = "get_links_between_texts"
	ToolSearchInBook       = "search_in_book"
	ToolDictionaries       = "search_in_dictionaries"
	ToolTranslations       = "get_english_translations"
	ToolTopic              = "get_topic_details"
	ToolClarifyName        = "clarify_name_argument"
	ToolClarifySearchPath  = "clarify_search_path_filter"
	ToolShape              = "get_text_or_category_shape"
	ToolCatalogue          = "get_text_catalogue_info"
	ToolManuscripts        = "get_available_manuscripts"
	ToolManuscriptImage    = "get_manuscript_image"
	defaultImageTimeout    = 30 * time.Second
	defaultMaxImageBytes   = 1 << 20
	defaultContentCacheTTL = time.Hour
	defaultSearchCacheTTL  = 5 * time.Minute
)

// Config holds the upstream locations and cache lifetimes used by the pipelines.
type Config struct {
	BaseURL       string
	AIBaseURL     string
	ContentTTL    time.Duration // texts, links, index, shape, topics, names, calendar
	SearchTTL     time.Duration // lexical and semantic search
	MaxImageBytes int64
}

// Service runs the tool pipelines. It is safe for concurrent use.
type Service struct {
	cfg      Config
	client   *upstream.Client
	images   *upstream.Client
	cache    *infra.Cache
	resolver *catalog.Resolver
	parser   *reference.Parser
	canon    *searchpath.Canonicalizer
	shaper   *shape.Shaper
	guard    *URLGuard
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithImageClient replaces the client used to download manuscript images
func WithImageClient(c *upstream.Client) Option {
	return func(s *Service) { s.images = c }
}

// WithURLGuard replaces the image URL guard
func WithURLGuard(g *URLGuard) Option {
	return func(s *Service) { s.guard = g }
}

// WithClock overrides the time source used for the calendar
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the pipelines to their collaborators.
func NewService(cfg Config, client *upstream.Client, cache *infra.Cache, resolver *catalog.Resolver, shaper *shape.Shaper, opts ...Option) *Service {
	if cfg.ContentTTL == 0 {
		cfg.ContentTTL = defaultContentCacheTTL
	}
	if cfg.SearchTTL == 0 {
		cfg.SearchTTL = defaultSearchCacheTTL
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaultMaxImageBytes
	}
	if cfg.AIBaseURL == "" {
		cfg.AIBaseURL = cfg.BaseURL
	}
	s := &Service{
		cfg:      cfg,
		client:   client,
		cache:    cache,
		resolver: resolver,
		parser:   reference.NewParser(resolver),
		canon:    searchpath.NewCanonicalizer(resolver),
		shaper:   shaper,
		guard:    NewURLGuard(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.images == nil {
		s.images = upstream.NewClient(
			upstream.WithHTTPClient(NewImageHTTPClient(defaultImageTimeout)),
			upstream.WithLogger(s.logger),
			upstream.WithMaxRetries(1),
			upstream.WithConcurrency(2),
		)
	}
	return s
}

// Resolver returns the catalogue resolver the service reads.
func (s *Service) Resolver() *catalog.Resolver { return s.resolver }

// fetch returns the upstream body for req, sharing in-flight calls and caching
// successes for ttl.
func (s *Service) fetch(ctx context.Context, req upstream.Request, ttl time.Duration) ([]byte, error) {
	return s.cache.GetOrFetch(ctx, req.Signature(), ttl, func(ctx context.Context) ([]byte, error) {
		resp, err := s.client.Call(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Oversize {
			return nil, apierrors.NewUpstreamRejected(resp.Status,
				fmt.Sprintf("response of %d bytes exceeds the read limit", resp.Size))
		}
		return resp.Body, nil
	})
}

// get is fetch for a GET against the main API.
func (s *Service) get(ctx context.Context, endpoint, path string, query url.Values, ttl time.Duration) ([]byte, error) {
	return s.fetch(ctx, upstream.Request{
		Endpoint: endpoint,
		BaseURL:  s.cfg.BaseURL,
		Path:     path,
		Query:    query,
	}, ttl)
}

// parse resolves a citation for the reference argument.
func (s *Service) parse(citation string) (*reference.Parsed, error) {
	p, err := s.parser.Parse(citation)
	if err != nil {
		if e := apierrors.As(err); e.Kind == apierrors.InvalidArgument && e.Field == "" {
			e.Field = "reference"
		}
		return nil, err
	}
	return p, nil
}
