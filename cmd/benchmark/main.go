package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olgasafonova/sefaria-mcp-server/internal/app"
	"github.com/olgasafonova/sefaria-mcp-server/internal/config"
	"github.com/olgasafonova/sefaria-mcp-server/tools"
)

func call(ctx context.Context, a *app.App, name string, args any) (time.Duration, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	_, err = a.Tools.Dispatch(ctx, tools.ToolCall{Name: name, Arguments: raw})
	return time.Since(start), err
}

// measureCachePerformance compares a first network call with its cached repeat
func measureCachePerformance(ctx context.Context, a *app.App) {
	fmt.Println("=== Cache Performance Test ===")
	fmt.Println()

	probes := []struct {
		label string
		tool  string
		args  any
	}{
		{"get_text Genesis 1:1", "get_text", map[string]any{"reference": "Genesis 1:1"}},
		{"get_text_or_category_shape Talmud Bavli", "get_text_or_category_shape", map[string]any{"name": "Talmud Bavli"}},
		{"text_search שבת", "text_search", map[string]any{"query": "שבת", "size": 5}},
	}

	for i, p := range probes {
		fmt.Printf("%d. %s:\n", i+1, p.label)
		first, err := call(ctx, a, p.tool, p.args)
		if err != nil {
			fmt.Printf("   Error: %v\n\n", err)
			continue
		}
		fmt.Printf("   First call (network):  %v\n", first)
		second, _ := call(ctx, a, p.tool, p.args)
		fmt.Printf("   Second call (cached):  %v\n", second)
		if second > 0 {
			fmt.Printf("   Speedup: %.0fx faster\n", float64(first)/float64(second))
		}
		fmt.Println()
	}
}

// measureCoalescing fires identical concurrent calls and reports how many reached upstream
func measureCoalescing(ctx context.Context, a *app.App) {
	const callers = 20
	fmt.Println("=== Concurrent Request Coalescing ===")
	fmt.Println()

	before := a.Cache.Stats()
	args := map[string]any{"reference": "Exodus 20:1-14"}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := call(gctx, a, "get_text", args)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Printf("   Error: %v\n\n", err)
		return
	}
	elapsed := time.Since(start)
	after := a.Cache.Stats()

	fmt.Printf("   %d identical calls in %v\n", callers, elapsed)
	fmt.Printf("   Upstream fetches: %d\n", after.Fetches-before.Fetches)
	fmt.Printf("   Joined in-flight: %d\n", after.Joins-before.Joins)
	fmt.Printf("   Cache hits:       %d\n", after.Hits-before.Hits)
	fmt.Println()
}

// measureResolver times local name resolution, which never touches the network
func measureResolver(a *app.App) {
	fmt.Println("=== Local Name Resolution ===")
	fmt.Println()

	names := []string{"Rambam", "Bereshit", "berachot", "Mishneh Torah, Shabbat", "Zohar"}
	const rounds = 200
	start := time.Now()
	for i := 0; i < rounds; i++ {
		for _, n := range names {
			_ = a.Resolver.Resolve(n)
		}
	}
	elapsed := time.Since(start)
	fmt.Printf("   %d resolutions over %d catalogue entries: %v (%v each)\n",
		rounds*len(names), a.Resolver.Index().Len(), elapsed, elapsed/time.Duration(rounds*len(names)))
	fmt.Println()
}

func main() {
	fmt.Println("Sefaria MCP Server - Performance Measurements")
	fmt.Println("=============================================")
	fmt.Println()

	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	a, err := app.New(cfg, logger)
	if err != nil {
		fmt.Printf("Init error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	measureCachePerformance(ctx, a)
	measureCoalescing(ctx, a)
	measureResolver(a)

	s := a.Cache.Stats()
	fmt.Println("=== Summary ===")
	fmt.Println()
	fmt.Printf("Cache: %d entries, %d hits, %d misses, %d joins, %d fetches\n", s.Entries, s.Hits, s.Misses, s.Joins, s.Fetches)
	fmt.Printf("Upstream circuit: %s\n", a.Client.CircuitBreakerStats().State)
}
