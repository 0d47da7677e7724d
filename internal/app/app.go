// Package app assembles the Sefaria MCP server from its configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/olgasafonova/sefaria-mcp-server/internal/catalog"
	"github.com/olgasafonova/sefaria-mcp-server/internal/config"
	"github.com/olgasafonova/sefaria-mcp-server/internal/infra"
	"github.com/olgasafonova/sefaria-mcp-server/internal/sefaria"
	"github.com/olgasafonova/sefaria-mcp-server/internal/shape"
	"github.com/olgasafonova/sefaria-mcp-server/internal/upstream"
	"github.com/olgasafonova/sefaria-mcp-server/metrics"
	"github.com/olgasafonova/sefaria-mcp-server/tools"
)

const (
	ServerName    = "sefaria-mcp-server"
	ServerVersion = "1.0.0"
)

// Instructions is the server description sent to MCP clients.
const Instructions = `Sefaria MCP Server gives access to the Sefaria library of Jewish texts.

Start with clarify_name_argument when a title, author or topic is uncertain; ambiguous names
come back with ranked candidates instead of a guess.

Text: get_text, get_english_translations, get_links_between_texts
Search: text_search, search_in_book, search_in_dictionaries, english_semantic_search
Catalogue: clarify_name_argument, clarify_search_path_filter, get_text_or_category_shape,
get_text_catalogue_info, get_topic_details, get_current_calendar
Manuscripts: get_available_manuscripts, get_manuscript_image

Hebrew/Aramaic queries are more reliable than English for lexical search.`

// App holds the assembled components.
type App struct {
	Config   *config.Config
	Client   *upstream.Client
	Cache    *infra.Cache
	Resolver *catalog.Resolver
	Loader   *catalog.Loader
	Service  *sefaria.Service
	Tools    *tools.HandlerRegistry
	Server   *mcp.Server

	logger *slog.Logger
}

// New wires every component from cfg. The resolver starts on the embedded
// seed catalogue; call StartIndexRefresh to load the live table of contents.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	idx, err := catalog.SeedIndex()
	if err != nil {
		return nil, fmt.Errorf("load seed catalogue: %w", err)
	}
	resolver := catalog.NewResolver(idx, catalog.Options{
		MinScore:          cfg.ResolverMinScore,
		AmbiguityMargin:   cfg.ResolverAmbiguityMargin,
		TopK:              cfg.ResolverTopK,
		ReferenceMinScore: cfg.ResolverReferenceMinScore,
	})
	metrics.IndexEntries.Set(float64(idx.Len()))

	breaker := infra.NewCircuitBreaker(infra.WithStateChange(func(from, to infra.CircuitState) {
		metrics.UpstreamCircuitState.Set(float64(to))
		logger.Warn("Sefaria circuit breaker changed state", "from", from.String(), "to", to.String())
	}))
	client := upstream.NewClient(
		upstream.WithLogger(logger),
		upstream.WithTimeout(cfg.Timeout),
		upstream.WithMaxRetries(cfg.MaxRetries),
		upstream.WithConcurrency(cfg.MaxConcurrent),
		upstream.WithUserAgent(cfg.UserAgent),
		upstream.WithCircuitBreaker(breaker),
	)

	loader, err := catalog.NewLoader(client, cfg.BaseURL, resolver, logger, cfg.IndexRefreshInterval)
	if err != nil {
		return nil, fmt.Errorf("create catalogue loader: %w", err)
	}

	cache := infra.NewCache(cfg.CacheMaxEntries, infra.WithSweepInterval(cfg.CacheSweepInterval))
	svc := sefaria.NewService(sefaria.Config{
		BaseURL:       cfg.BaseURL,
		AIBaseURL:     cfg.AIBaseURL,
		ContentTTL:    cfg.CacheTTLContent,
		SearchTTL:     cfg.CacheTTLSearch,
		MaxImageBytes: cfg.MaxImageBytes,
	}, client, cache, resolver, shape.New(shape.DefaultRules(), cfg.ShapeMaxBytes), sefaria.WithLogger(logger))

	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, &mcp.ServerOptions{
		Logger:       logger,
		Instructions: Instructions,
	})
	registry := tools.NewHandlerRegistry(svc, logger, cfg.ToolTimeout)
	registry.RegisterAll(server)

	return &App{
		Config:   cfg,
		Client:   client,
		Cache:    cache,
		Resolver: resolver,
		Loader:   loader,
		Service:  svc,
		Tools:    registry,
		Server:   server,
		logger:   logger,
	}, nil
}

// StartIndexRefresh loads the live table of contents in the background and
// keeps refreshing it until ctx is done. The seed stays in place on failure.
func (a *App) StartIndexRefresh(ctx context.Context) {
	if a.Config.IndexRefreshInterval <= 0 {
		a.logger.Info("Catalogue refresh disabled, serving the embedded seed")
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("Catalogue refresh panicked", "panic", r)
			}
		}()
		refreshCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		_ = a.Loader.Refresh(refreshCtx)
		cancel()
		a.Loader.Run(ctx)
	}()
}

// Health is the /healthz payload.
type Health struct {
	Status          string                    `json:"status"`
	Version         string                    `json:"version"`
	IndexEntries    int                       `json:"index_entries"`
	IndexGeneration uint64                    `json:"index_generation"`
	Cache           infra.CacheStats          `json:"cache"`
	Upstream        infra.CircuitBreakerStats `json:"upstream"`
}

// Health reports index, cache and upstream state. Status is "degraded" while
// the circuit breaker is open.
func (a *App) Health() Health {
	h := Health{
		Status:          "ok",
		Version:         ServerVersion,
		IndexEntries:    a.Resolver.Index().Len(),
		IndexGeneration: a.Resolver.Generation(),
		Cache:           a.Cache.Stats(),
		Upstream:        a.Client.CircuitBreakerStats(),
	}
	if h.Upstream.State == infra.CircuitOpen.String() {
		h.Status = "degraded"
	}
	return h
}

// Close releases background resources.
func (a *App) Close() {
	a.Cache.Close()
}
