package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/olgasafonova/sefaria-mcp-server/internal/upstream"
	"github.com/olgasafonova/sefaria-mcp-server/metrics"
)

// maxTOCBytes caps the table-of-contents download.
const maxTOCBytes = 64 << 20

// Loader keeps a Resolver's snapshot in sync with the upstream table of contents.
type Loader struct {
	Client   *upstream.Client
	BaseURL  string
	Resolver *Resolver
	Logger   *slog.Logger
	Interval time.Duration

	seed []*Entry
}

// NewLoader creates a loader that merges the embedded seed into every snapshot.
func NewLoader(client *upstream.Client, baseURL string, resolver *Resolver, logger *slog.Logger, interval time.Duration) (*Loader, error) {
	seed, err := SeedEntries()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		Client:   client,
		BaseURL:  baseURL,
		Resolver: resolver,
		Logger:   logger,
		Interval: interval,
		seed:     seed,
	}, nil
}

// Refresh downloads the table of contents and swaps in a new snapshot.
// On failure the current snapshot stays in place.
func (l *Loader) Refresh(ctx context.Context) error {
	start := time.Now()
	idx, err := l.fetch(ctx)
	if err != nil {
		metrics.RecordIndexRefresh(false, 0)
		l.Logger.Error("Catalogue refresh failed, keeping previous snapshot",
			"error", err,
			"generation", l.Resolver.Generation(),
		)
		return err
	}
	gen := l.Resolver.Swap(idx)
	metrics.RecordIndexRefresh(true, idx.Len())
	l.Logger.Info("Catalogue refreshed",
		"entries", idx.Len(),
		"generation", gen,
		"duration", time.Since(start).String(),
	)
	return nil
}

func (l *Loader) fetch(ctx context.Context) (*Index, error) {
	resp, err := l.Client.Call(ctx, upstream.Request{
		Endpoint: "index",
		BaseURL:  l.BaseURL,
		Path:     "/api/index",
		MaxBytes: maxTOCBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch table of contents: %w", err)
	}
	if resp.Oversize {
		return nil, fmt.Errorf("table of contents exceeds %d bytes", maxTOCBytes)
	}
	toc, err := ParseTOC(resp.Body)
	if err != nil {
		return nil, err
	}
	return NewIndex(Merge(l.seed, toc))
}

// Run refreshes on every tick until ctx is done. It does not perform an initial refresh.
func (l *Loader) Run(ctx context.Context) {
	if l.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = l.Refresh(ctx)
		}
	}
}

// ParseTOC extracts works and categories from the /api/index tree. Category nodes
// carry "category" and "contents"; work nodes carry "title" and "categories".
func ParseTOC(body []byte) ([]*Entry, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("table of contents is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("table of contents is not a list")
	}

	var out []*Entry
	seen := make(map[string]bool)
	add := func(e *Entry) {
		if seen[e.ID] {
			return
		}
		seen[e.ID] = true
		out = append(out, e)
	}

	var walk func(nodes gjson.Result, path []string)
	walk = func(nodes gjson.Result, path []string) {
		nodes.ForEach(func(_, n gjson.Result) bool {
			if cat := n.Get("category"); cat.Exists() && n.Get("contents").IsArray() {
				p := append(append([]string(nil), path...), cat.String())
				add(&Entry{
					ID:           entryID(KindCategory, "", p, ""),
					Kind:         KindCategory,
					Title:        cat.String(),
					HeTitle:      n.Get("heCategory").String(),
					CategoryPath: p,
				})
				walk(n.Get("contents"), p)
				return true
			}
			title := n.Get("title").String()
			if title == "" {
				return true
			}
			cats := path
			if c := n.Get("categories"); c.IsArray() {
				cats = nil
				for _, s := range c.Array() {
					cats = append(cats, s.String())
				}
			}
			add(&Entry{
				ID:           entryID(KindWork, title, nil, ""),
				Kind:         KindWork,
				Title:        title,
				HeTitle:      n.Get("heTitle").String(),
				CategoryPath: cats,
			})
			return true
		})
	}
	walk(root, nil)

	if len(out) == 0 {
		return nil, fmt.Errorf("table of contents has no entries")
	}
	return out, nil
}

// Merge overlays toc onto seed. Seed entries keep their aliases, depth and
// section names; toc fills in missing Hebrew titles and category paths and
// contributes every entry the seed lacks.
func Merge(seed, toc []*Entry) []*Entry {
	byID := make(map[string]int, len(seed)+len(toc))
	out := make([]*Entry, 0, len(seed)+len(toc))
	for _, e := range seed {
		cp := *e
		byID[cp.ID] = len(out)
		out = append(out, &cp)
	}
	for _, e := range toc {
		i, ok := byID[e.ID]
		if !ok {
			cp := *e
			byID[cp.ID] = len(out)
			out = append(out, &cp)
			continue
		}
		cur := out[i]
		if cur.HeTitle == "" {
			cur.HeTitle = e.HeTitle
		}
		if len(cur.CategoryPath) == 0 {
			cur.CategoryPath = e.CategoryPath
		}
	}
	return out
}
