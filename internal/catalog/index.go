package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// aliasKey is one normalized lookup string pointing at an entry.
type aliasKey struct {
	norm     string
	entry    int32
	nGrams   int
	original string
}

// Index is an immutable snapshot of the catalogue with precomputed lookup tables.
type Index struct {
	entries  []*Entry
	byID     map[string]*Entry
	exact    map[string][]int32 // normalized name -> entry positions
	byPath   map[string]*Entry  // lower-cased lineage -> entry
	keys     []aliasKey
	postings map[string][]int32 // trigram -> key positions
}

// NewIndex builds the lookup tables. Entry IDs must be unique.
func NewIndex(entries []*Entry) (*Index, error) {
	idx := &Index{
		entries:  entries,
		byID:     make(map[string]*Entry, len(entries)),
		byPath:   make(map[string]*Entry, len(entries)),
		exact:    make(map[string][]int32, len(entries)*2),
		postings: make(map[string][]int32, len(entries)*4),
	}
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("catalog entry %q has no ID", e.Title)
		}
		if _, dup := idx.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog ID %q", e.ID)
		}
		idx.byID[e.ID] = e
		if lin := e.Lineage(); len(lin) > 0 {
			key := pathKey(strings.Join(lin, "/"))
			if _, taken := idx.byPath[key]; !taken {
				idx.byPath[key] = e
			}
		}

		seen := make(map[string]bool)
		for _, name := range e.names() {
			n := Normalize(name)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			idx.exact[n] = append(idx.exact[n], int32(i))

			grams := trigrams(n)
			k := int32(len(idx.keys))
			idx.keys = append(idx.keys, aliasKey{norm: n, entry: int32(i), nGrams: len(grams), original: name})
			for _, g := range grams {
				idx.postings[g] = append(idx.postings[g], k)
			}
		}
	}
	return idx, nil
}

// Len returns the number of entries.
func (idx *Index) Len() int { return len(idx.entries) }

// Entries returns the entries in build order. The slice must not be modified.
func (idx *Index) Entries() []*Entry { return idx.entries }

// Lookup returns the entry with the given ID.
func (idx *Index) Lookup(id string) (*Entry, bool) {
	e, ok := idx.byID[id]
	return e, ok
}

// LookupPath returns the work or category whose lineage equals path,
// compared case-insensitively.
func (idx *Index) LookupPath(path string) (*Entry, bool) {
	e, ok := idx.byPath[pathKey(path)]
	return e, ok
}

func pathKey(p string) string {
	segs := strings.Split(strings.Trim(p, "/ "), "/")
	for i, s := range segs {
		segs[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return strings.Join(segs, "/")
}

// ByKind returns entries of one kind sorted by ID.
func (idx *Index) ByKind(kind Kind) []*Entry {
	var out []*Entry
	for _, e := range idx.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// score ranks every entry matching q. Exact name matches score 1.0; fuzzy
// matches are capped below that.
func (idx *Index) score(q string, allow func(*Entry) bool) map[int32]Candidate {
	best := make(map[int32]Candidate)
	consider := func(pos int32, c Candidate) {
		if cur, ok := best[pos]; !ok || c.Score > cur.Score {
			best[pos] = c
		}
	}

	for _, pos := range idx.exact[q] {
		e := idx.entries[pos]
		if allow(e) {
			consider(pos, Candidate{Entry: e, Score: 1, Matched: q, Exact: true})
		}
	}

	grams := trigrams(q)
	shared := make(map[int32]int)
	for _, g := range grams {
		for _, k := range idx.postings[g] {
			shared[k]++
		}
	}

	maxDist := max(1, len([]rune(q))/4)
	for k, n := range shared {
		key := idx.keys[k]
		if key.norm == q {
			continue
		}
		e := idx.entries[key.entry]
		if !allow(e) {
			continue
		}
		d := dice(n, len(grams), key.nGrams)
		if d < 0.2 && !hasPrefix(key.norm, q) {
			continue
		}
		s := max(d, jaccardTokens(q, key.norm), prefixScore(q, key.norm))
		if d >= 0.3 {
			s = max(s, editSimilarity(q, key.norm, maxDist))
		}
		if s > 0.99 {
			s = 0.99
		}
		consider(key.entry, Candidate{Entry: e, Score: s, Matched: key.original})
	}
	return best
}

func hasPrefix(s, p string) bool {
	return len(p) >= 3 && len(s) > len(p) && s[:len(p)] == p
}
