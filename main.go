// Sefaria MCP Server - A Model Context Protocol server for the Sefaria library
// Provides tools for reading, searching and navigating Jewish texts
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/olgasafonova/sefaria-mcp-server/internal/app"
	"github.com/olgasafonova/sefaria-mcp-server/internal/config"
	"github.com/olgasafonova/sefaria-mcp-server/metrics"
	"github.com/olgasafonova/sefaria-mcp-server/tracing"
)

// recoverPanic logs a recovered panic instead of crashing the process
func recoverPanic(logger *slog.Logger, operation string) {
	if r := recover(); r != nil {
		metrics.PanicsRecovered.WithLabelValues(operation).Inc()
		logger.Error("Panic recovered",
			"operation", operation,
			"panic", r,
			"stack", string(debug.Stack()))
	}
}

type options struct {
	httpAddr    string
	metricsAddr string
	envFile     string
	rateLimit   int
	trustProxy  bool
	verbose     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:     app.ServerName,
		Short:   "MCP server for the Sefaria library of Jewish texts",
		Long:    "Serves Sefaria text, search, catalogue, calendar and manuscript tools over MCP (stdio by default, streamable HTTP with --http).",
		Version: app.ServerVersion,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}
	f := cmd.Flags()
	f.StringVar(&opts.httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio (overrides SEFARIA_MCP_HTTP_ADDR)")
	f.StringVar(&opts.metricsAddr, "metrics", "", "serve /metrics and /healthz on this address (overrides SEFARIA_MCP_METRICS_ADDR)")
	f.StringVar(&opts.envFile, "env-file", ".env", "optional .env file read before the environment")
	f.IntVar(&opts.rateLimit, "rate-limit", DefaultSecurityConfig().RateLimit, "HTTP requests per minute per client IP (0 disables)")
	f.BoolVar(&opts.trustProxy, "trust-proxy", false, "take the client IP from X-Forwarded-For")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func run(parent context.Context, opts options) error {
	// stdout carries the MCP protocol on stdio
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return err
	}
	if opts.httpAddr != "" {
		cfg.HTTPAddr = opts.httpAddr
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceCfg := tracing.DefaultConfig()
	traceCfg.ServiceVersion = app.ServerVersion
	shutdownTracing, err := tracing.Setup(ctx, traceCfg)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				logger.Warn("Tracing shutdown failed", "error", err)
			}
		}()
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialise server", "error", err)
		return err
	}
	defer a.Close()

	a.StartIndexRefresh(ctx)

	if cfg.MetricsAddr != "" {
		go func() {
			defer recoverPanic(logger, "metrics_server")
			serveMetrics(ctx, cfg.MetricsAddr, a, logger)
		}()
	}

	logger.Info("Starting Sefaria MCP Server",
		"name", app.ServerName,
		"version", app.ServerVersion,
		"sefaria_url", cfg.BaseURL,
		"tools", len(a.Tools.Names()),
		"catalogue_entries", a.Resolver.Index().Len(),
	)

	if cfg.HTTPAddr != "" {
		sec := DefaultSecurityConfig()
		sec.RateLimit = opts.rateLimit
		sec.TrustProxy = opts.trustProxy
		return serveHTTP(ctx, cfg.HTTPAddr, a.Server, sec, logger)
	}

	if err := a.Server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", "error", err)
		return err
	}
	return nil
}

// serveHTTP runs the streamable HTTP transport until ctx is done.
func serveHTTP(ctx context.Context, addr string, server *mcp.Server, sec SecurityConfig, logger *slog.Logger) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	mw := NewSecurityMiddleware(handler, logger, sec)
	defer mw.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           mw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening for streamable HTTP", "addr", addr, "rate_limit_per_min", sec.RateLimit)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http transport: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP transport")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// serveMetrics exposes Prometheus metrics and a JSON health probe.
func serveMetrics(ctx context.Context, addr string, a *app.App, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(a),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", "error", err)
	}
}

func metricsMux(a *app.App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		h := a.Health()
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})
	return mux
}
