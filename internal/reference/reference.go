// Package reference parses citation strings such as "Genesis 1:1-3" or
// "Berakhot 2a:5" into a resolved work and numeric section paths.
package reference

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/olgasafonova/sefaria-mcp-server/internal/catalog"
	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
)

// Section is one level of a section path. Side is 'a' or 'b' for Talmud folios
// and zero otherwise.
type Section struct {
	N    int
	Side byte
}

func (s Section) String() string {
	if s.Side != 0 {
		return strconv.Itoa(s.N) + string(s.Side)
	}
	return strconv.Itoa(s.N)
}

// ordinal orders folios as 2a < 2b < 3a.
func (s Section) ordinal() int {
	switch s.Side {
	case 'a':
		return 2*s.N - 1
	case 'b':
		return 2 * s.N
	default:
		return s.N
	}
}

// Parsed is a citation resolved against the catalogue. End is nil for a single point.
type Parsed struct {
	Work  *catalog.Entry
	Start []Section
	End   []Section
}

// IsRange reports whether the citation spans more than one point.
func (p *Parsed) IsRange() bool { return len(p.End) > 0 }

// String renders the canonical citation, shortening the range end to the
// components that differ from the start.
func (p *Parsed) String() string {
	var b strings.Builder
	b.WriteString(p.Work.Title)
	if len(p.Start) == 0 {
		return b.String()
	}
	b.WriteByte(' ')
	b.WriteString(joinSections(p.Start))
	if len(p.End) > 0 {
		i := 0
		for i < len(p.End)-1 && i < len(p.Start) && p.End[i] == p.Start[i] {
			i++
		}
		b.WriteByte('-')
		b.WriteString(joinSections(p.End[i:]))
	}
	return b.String()
}

func joinSections(ss []Section) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = s.String()
	}
	return strings.Join(parts, ":")
}

var (
	periodBetweenDigits = regexp.MustCompile(`(\d)\s*\.\s*(\d)`)
	colonSpacing        = regexp.MustCompile(`\s*:\s*`)
	spaces              = regexp.MustCompile(`\s+`)

	// suffix matches the trailing section path and optional range end.
	suffix = regexp.MustCompile(`^(.*?)\s+(\d+[ab]?(?::\d+[ab]?)*)(?:\s*-\s*(\d+[ab]?(?::\d+[ab]?)*))?$`)
)

// normalize folds separator variants before structural parsing.
func normalize(s string) string {
	s = strings.NewReplacer("–", "-", "—", "-", "‒", "-", "−", "-").Replace(s)
	// applied twice so overlapping matches such as "1.2.3" are all rewritten
	s = periodBetweenDigits.ReplaceAllString(s, "$1:$2")
	s = periodBetweenDigits.ReplaceAllString(s, "$1:$2")
	s = colonSpacing.ReplaceAllString(s, ":")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Parser resolves the work prefix of citations through a catalogue resolver.
type Parser struct {
	resolver *catalog.Resolver
}

// NewParser creates a parser backed by resolver.
func NewParser(resolver *catalog.Resolver) *Parser {
	return &Parser{resolver: resolver}
}

// Parse splits citation into a work and section path. The work prefix must
// resolve to exactly one catalogue work, either by name or by a close fuzzy
// match; AmbiguousReference and NotFound errors from the resolver are returned
// with their candidates.
func (p *Parser) Parse(citation string) (*Parsed, error) {
	s := normalize(citation)
	if s == "" {
		return nil, apierrors.NewValidationError("reference", citation, "reference is required")
	}

	prefix, startStr, endStr := s, "", ""
	if m := suffix.FindStringSubmatch(s); m != nil && strings.TrimSpace(m[1]) != "" {
		prefix, startStr, endStr = m[1], m[2], m[3]
	}

	work, err := p.resolver.ResolveWork(prefix)
	if err != nil {
		return nil, err
	}

	parsed := &Parsed{Work: work}
	if startStr == "" {
		return parsed, nil
	}
	if parsed.Start, err = parseSections(startStr, work, citation, 0); err != nil {
		return nil, err
	}
	if endStr != "" {
		offset := len(parsed.Start) - strings.Count(endStr, ":") - 1
		if offset < 0 {
			return nil, apierrors.NewValidationError("reference", citation, "range end has more levels than its start")
		}
		end, err := parseSections(endStr, work, citation, offset)
		if err != nil {
			return nil, err
		}
		if parsed.End, err = completeEnd(parsed.Start, end, citation); err != nil {
			return nil, err
		}
		if slices.Equal(parsed.End, parsed.Start) {
			parsed.End = nil
		}
	}
	return parsed, nil
}

// parseSections parses a colon-separated path whose first component sits at
// level offset of the work's structure.
func parseSections(s string, work *catalog.Entry, citation string, offset int) ([]Section, error) {
	parts := strings.Split(s, ":")
	if work.Depth > 0 && len(parts) > work.Depth {
		return nil, apierrors.NewValidationError("reference", citation,
			work.Title+" has only "+strconv.Itoa(work.Depth)+" section levels")
	}
	out := make([]Section, len(parts))
	for i, part := range parts {
		var side byte
		if last := part[len(part)-1]; last == 'a' || last == 'b' {
			side = last
			part = part[:len(part)-1]
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, apierrors.NewValidationError("reference", citation, "sections are numbered from 1")
		}
		talmud := work.IsTalmud() && offset+i == 0
		switch {
		case talmud && side == 0:
			return nil, apierrors.NewValidationError("reference", citation, "folio must end in a or b, e.g. 2a")
		case !talmud && side != 0:
			return nil, apierrors.NewValidationError("reference", citation, "only Talmud folios take an a/b side")
		}
		out[i] = Section{N: n, Side: side}
	}
	return out, nil
}

// completeEnd fills a partial range end from the start's leading components
// and checks the end does not precede the start.
func completeEnd(start, end []Section, citation string) ([]Section, error) {
	full := make([]Section, len(start))
	copy(full, start[:len(start)-len(end)])
	copy(full[len(start)-len(end):], end)

	for i := range full {
		a, b := start[i].ordinal(), full[i].ordinal()
		if b > a {
			break
		}
		if b < a {
			return nil, apierrors.New(apierrors.InvalidRange, "range end %s precedes start %s in %q",
				joinSections(full), joinSections(start), citation)
		}
	}
	return full, nil
}
