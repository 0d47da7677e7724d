package catalog

import (
	"slices"
	"sort"
	"sync/atomic"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
)

// Options tunes fuzzy resolution.
type Options struct {
	// MinScore drops candidates scoring below it
	MinScore float64
	// AmbiguityMargin is the score gap below which the top two candidates are ambiguous
	AmbiguityMargin float64
	// TopK caps the number of candidates returned
	TopK int
	// ReferenceMinScore is the floor a non-exact work must reach before a
	// citation prefix is accepted as naming it
	ReferenceMinScore float64
}

// DefaultOptions returns the default thresholds.
func DefaultOptions() Options {
	return Options{MinScore: 0.45, AmbiguityMargin: 0.05, TopK: 10, ReferenceMinScore: 0.8}
}

// Resolver answers name queries against the current Index snapshot.
// Readers never block; Swap replaces the snapshot atomically.
type Resolver struct {
	idx        atomic.Pointer[Index]
	generation atomic.Uint64
	opts       Options
}

// NewResolver creates a resolver serving idx. Negative thresholds and a
// non-positive TopK take their defaults; zero thresholds are honoured.
func NewResolver(idx *Index, opts Options) *Resolver {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MinScore < 0 {
		opts.MinScore = def.MinScore
	}
	if opts.AmbiguityMargin < 0 {
		opts.AmbiguityMargin = def.AmbiguityMargin
	}
	if opts.ReferenceMinScore < 0 {
		opts.ReferenceMinScore = def.ReferenceMinScore
	}
	r := &Resolver{opts: opts}
	r.Swap(idx)
	return r
}

// Swap installs a new snapshot and returns its generation number.
func (r *Resolver) Swap(idx *Index) uint64 {
	r.idx.Store(idx)
	return r.generation.Add(1)
}

// Index returns the current snapshot.
func (r *Resolver) Index() *Index { return r.idx.Load() }

// Generation counts snapshot swaps, starting at 1.
func (r *Resolver) Generation() uint64 { return r.generation.Load() }

// Options returns the active thresholds.
func (r *Resolver) Options() Options { return r.opts }

// Lookup returns the entry with the given ID.
func (r *Resolver) Lookup(id string) (*Entry, bool) {
	return r.Index().Lookup(id)
}

// Resolve returns candidates for query ranked by descending score, ties broken
// by ascending ID. When kinds is non-empty only those kinds are considered.
func (r *Resolver) Resolve(query string, kinds ...Kind) []Candidate {
	return r.resolve(r.Index(), query, r.opts.MinScore, r.opts.TopK, kinds)
}

// Suggest is Resolve with a relaxed score floor, for "did you mean" lists.
func (r *Resolver) Suggest(query string, limit int, kinds ...Kind) []Candidate {
	if limit <= 0 {
		limit = r.opts.TopK
	}
	return r.resolve(r.Index(), query, r.opts.MinScore/2, limit, kinds)
}

func (r *Resolver) resolve(idx *Index, query string, minScore float64, topK int, kinds []Kind) []Candidate {
	q := Normalize(query)
	if q == "" || idx == nil {
		return nil
	}
	allow := func(e *Entry) bool { return len(kinds) == 0 || slices.Contains(kinds, e.Kind) }

	scored := idx.score(q, allow)
	out := make([]Candidate, 0, len(scored))
	for _, c := range scored {
		if c.Score >= minScore {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// ResolveOne returns the single entry query denotes. It fails with NotFound when
// nothing clears the score floor, and with AmbiguousReference when the best two
// candidates are both exact or within the ambiguity margin.
func (r *Resolver) ResolveOne(query string, kinds ...Kind) (*Entry, error) {
	c, _, err := r.resolveOne(query, kinds)
	if err != nil {
		return nil, err
	}
	return c.Entry, nil
}

// ResolveWork resolves the work named by a citation prefix. On top of the
// ResolveOne rules, a fuzzy best match must reach ReferenceMinScore; a weaker
// match fails AmbiguousReference with the candidates instead of standing in
// for a different work.
func (r *Resolver) ResolveWork(query string) (*Entry, error) {
	top, cands, err := r.resolveOne(query, []Kind{KindWork})
	if err != nil {
		return nil, err
	}
	if !top.Exact && top.Score < r.opts.ReferenceMinScore {
		return nil, apierrors.NewAmbiguousError(query, toErrorCandidates(cands))
	}
	return top.Entry, nil
}

func (r *Resolver) resolveOne(query string, kinds []Kind) (Candidate, []Candidate, error) {
	cands := r.Resolve(query, kinds...)
	if len(cands) == 0 {
		what := "name"
		if len(kinds) == 1 {
			what = string(kinds[0])
		}
		return Candidate{}, nil, apierrors.NewNotFoundError(what, query, toErrorCandidates(r.Suggest(query, 5, kinds...))...)
	}
	if len(cands) == 1 {
		return cands[0], cands, nil
	}
	top, next := cands[0], cands[1]
	if top.Exact && !next.Exact {
		return top, cands, nil
	}
	gap := top.Score - next.Score
	if gap == 0 || gap < r.opts.AmbiguityMargin {
		tied := []Candidate{top}
		for _, c := range cands[1:] {
			if top.Score-c.Score < r.opts.AmbiguityMargin || c.Score == top.Score {
				tied = append(tied, c)
			}
		}
		return Candidate{}, nil, apierrors.NewAmbiguousError(query, toErrorCandidates(tied))
	}
	return top, cands, nil
}
