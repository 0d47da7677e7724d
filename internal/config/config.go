// Package config loads server settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds Sefaria connection, cache, resolver and shaping settings.
type Config struct {
	// BaseURL is the Sefaria REST API root (e.g., https://www.sefaria.org)
	BaseURL string

	// AIBaseURL serves the semantic (KNN) search endpoint
	AIBaseURL string

	// HTTPAddr enables the streamable HTTP transport when set; stdio otherwise
	HTTPAddr string

	// MetricsAddr enables the /metrics and /healthz listener when set
	MetricsAddr string

	// Timeout bounds a single upstream attempt
	Timeout time.Duration

	// MaxRetries for retryable upstream failures (5xx, 429, network)
	MaxRetries int

	// ToolTimeout is the overall deadline of one tool invocation
	ToolTimeout time.Duration

	// MaxConcurrent bounds simultaneous upstream requests
	MaxConcurrent int

	// UserAgent identifies the server to Sefaria
	UserAgent string

	CacheMaxEntries    int
	CacheTTLContent    time.Duration
	CacheTTLSearch     time.Duration
	CacheSweepInterval time.Duration

	ResolverMinScore        float64
	ResolverAmbiguityMargin float64
	ResolverTopK            int

	// ResolverReferenceMinScore is the fuzzy score a citation's work name must reach
	ResolverReferenceMinScore float64

	// IndexRefreshInterval controls table-of-contents reloads; 0 disables refresh
	IndexRefreshInterval time.Duration

	// ShapeMaxBytes is the hard size budget for any shaped tool result
	ShapeMaxBytes int

	// MaxImageBytes caps manuscript image pass-through
	MaxImageBytes int64
}

// Default returns the configuration used when no environment overrides are present.
func Default() *Config {
	return &Config{
		BaseURL:                   "https://www.sefaria.org",
		AIBaseURL:                 "https://ai.sefaria.org",
		Timeout:                   30 * time.Second,
		MaxRetries:                3,
		ToolTimeout:               60 * time.Second,
		MaxConcurrent:             8,
		UserAgent:                 "sefaria-mcp-server/1.0 (https://github.com/olgasafonova/sefaria-mcp-server)",
		CacheMaxEntries:           1000,
		CacheTTLContent:           time.Hour,
		CacheTTLSearch:            5 * time.Minute,
		CacheSweepInterval:        5 * time.Minute,
		ResolverMinScore:          0.45,
		ResolverAmbiguityMargin:   0.05,
		ResolverTopK:              10,
		ResolverReferenceMinScore: 0.8,
		IndexRefreshInterval:      6 * time.Hour,
		ShapeMaxBytes:             24000,
		MaxImageBytes:             1 << 20,
	}
}

// Load reads the given .env files (missing files are skipped), then the environment.
// Variables already set in the process environment take precedence over .env values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults for unset keys.
func FromEnv(getenv func(string) string) (*Config, error) {
	c := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 1 {
				errs = append(errs, fmt.Errorf("%s: must be a number in [0,1], got %q", key, v))
				return
			}
			*dst = f
		}
	}

	str("SEFARIA_API_BASE_URL", &c.BaseURL)
	str("SEFARIA_AI_BASE_URL", &c.AIBaseURL)
	if host := strings.TrimSpace(getenv("VIRTUAL_HAVRUTA_HTTP_SERVICE_HOST")); host != "" {
		port := strings.TrimSpace(getenv("VIRTUAL_HAVRUTA_HTTP_SERVICE_PORT"))
		if port == "" {
			port = "80"
		}
		c.AIBaseURL = "http://" + net.JoinHostPort(host, port)
	}
	str("SEFARIA_MCP_HTTP_ADDR", &c.HTTPAddr)
	str("SEFARIA_MCP_METRICS_ADDR", &c.MetricsAddr)
	dur("SEFARIA_TIMEOUT", &c.Timeout)
	integer("SEFARIA_MAX_RETRIES", &c.MaxRetries)
	dur("SEFARIA_TOOL_TIMEOUT", &c.ToolTimeout)
	integer("SEFARIA_MAX_CONCURRENT", &c.MaxConcurrent)
	str("SEFARIA_USER_AGENT", &c.UserAgent)
	integer("CACHE_MAX_ENTRIES", &c.CacheMaxEntries)
	dur("CACHE_TTL_CONTENT", &c.CacheTTLContent)
	dur("CACHE_TTL_SEARCH", &c.CacheTTLSearch)
	dur("CACHE_SWEEP_INTERVAL", &c.CacheSweepInterval)
	float("RESOLVER_MIN_SCORE", &c.ResolverMinScore)
	float("RESOLVER_AMBIGUITY_MARGIN", &c.ResolverAmbiguityMargin)
	integer("RESOLVER_TOP_K", &c.ResolverTopK)
	float("RESOLVER_REFERENCE_MIN_SCORE", &c.ResolverReferenceMinScore)
	dur("INDEX_REFRESH_INTERVAL", &c.IndexRefreshInterval)
	integer("SHAPE_MAX_BYTES", &c.ShapeMaxBytes)
	if v := getenv("MAX_IMAGE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("MAX_IMAGE_BYTES: invalid size %q", v))
		} else {
			c.MaxImageBytes = n
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"SEFARIA_API_BASE_URL": c.BaseURL, "SEFARIA_AI_BASE_URL": c.AIBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
		}
	}
	if c.MaxConcurrent < 1 {
		return errors.New("SEFARIA_MAX_CONCURRENT must be at least 1")
	}
	if c.CacheMaxEntries < 1 {
		return errors.New("CACHE_MAX_ENTRIES must be at least 1")
	}
	if c.ResolverTopK < 1 {
		return errors.New("RESOLVER_TOP_K must be at least 1")
	}
	if c.ShapeMaxBytes < 512 {
		return errors.New("SHAPE_MAX_BYTES must be at least 512")
	}
	if c.Timeout <= 0 || c.ToolTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.AIBaseURL = strings.TrimRight(c.AIBaseURL, "/")
	return nil
}
