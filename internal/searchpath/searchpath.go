// Package searchpath builds the category paths the full-text search endpoint
// accepts as filters, e.g. "Tanakh/Torah/Genesis".
package searchpath

import (
	"strings"

	"github.com/olgasafonova/sefaria-mcp-server/internal/catalog"
	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
)

// Path is a search filter path with segments joined by "/".
type Path string

// Segments splits the path into its components.
func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "/")
}

// Build returns the filter path for entry. A non-empty scope narrows the
// result to one of the entry's ancestors (or the entry itself); it may be a
// full leading path such as "Tanakh/Torah" or a single segment such as "Torah".
// Segments compare case-insensitively, and the result uses catalogue casing.
func Build(entry *catalog.Entry, scope string) (Path, error) {
	if entry == nil {
		return "", apierrors.New(apierrors.Internal, "no entry to build a search path from")
	}
	lineage := entry.Lineage()
	if len(lineage) == 0 {
		return "", apierrors.NewValidationError("book_name", entry.Title,
			"topics cannot be used as search filters")
	}

	scope = strings.Trim(strings.TrimSpace(scope), "/")
	if scope == "" {
		return join(lineage), nil
	}

	want := splitScope(scope)
	if n := matchPrefix(lineage, want); n > 0 {
		return join(lineage[:n]), nil
	}
	if len(want) == 1 {
		for i, seg := range lineage {
			if strings.EqualFold(seg, want[0]) {
				return join(lineage[:i+1]), nil
			}
		}
	}
	return "", &apierrors.Error{
		Kind:    apierrors.InvalidScope,
		Field:   "scope",
		Message: "scope " + scope + " is not on the lineage of " + join(lineage).String(),
	}
}

// matchPrefix returns len(want) when want is a leading subsequence of
// lineage, and 0 otherwise.
func matchPrefix(lineage, want []string) int {
	if len(want) > len(lineage) {
		return 0
	}
	for i, w := range want {
		if !strings.EqualFold(lineage[i], w) {
			return 0
		}
	}
	return len(want)
}

func splitScope(s string) []string {
	parts := strings.Split(s, "/")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func join(segs []string) Path {
	return Path(strings.Join(segs, "/"))
}

func (p Path) String() string { return string(p) }

// Canonicalizer maps user-supplied filters onto catalogue paths.
type Canonicalizer struct {
	resolver *catalog.Resolver
}

// NewCanonicalizer creates a canonicalizer over resolver's current snapshot.
func NewCanonicalizer(resolver *catalog.Resolver) *Canonicalizer {
	return &Canonicalizer{resolver: resolver}
}

// Canonicalize returns the catalogue casing of filter when it names a known
// path, or a single category or work by exact name. Anything else passes
// through verbatim so upstream-only categories keep working.
func (c *Canonicalizer) Canonicalize(filter string) string {
	trimmed := strings.Trim(strings.TrimSpace(filter), "/")
	if trimmed == "" {
		return filter
	}
	if e, ok := c.resolver.Index().LookupPath(trimmed); ok {
		return join(e.Lineage()).String()
	}
	if strings.Contains(trimmed, "/") {
		return filter
	}

	var match *catalog.Entry
	for _, cand := range c.resolver.Resolve(trimmed, catalog.KindCategory, catalog.KindWork) {
		if !cand.Exact {
			break
		}
		if match != nil {
			// more than one exact match: leave it to the upstream
			return filter
		}
		match = cand.Entry
	}
	if match == nil {
		return filter
	}
	return join(match.Lineage()).String()
}

// CanonicalizeAll canonicalizes each filter, dropping blanks.
func (c *Canonicalizer) CanonicalizeAll(filters []string) []string {
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		if strings.TrimSpace(f) == "" {
			continue
		}
		out = append(out, c.Canonicalize(f))
	}
	return out
}
