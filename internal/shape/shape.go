// Package shape bounds upstream payloads for LLM consumption. Each tool has a
// declarative Rule; the pipeline filters fields, flattens deep structure, caps
// lists, truncates long strings with an explicit marker, and then enforces a
// hard byte budget.
package shape

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/metrics"
)

const (
	// Marker ends every truncated string.
	Marker = "...[truncated]"
	// TruncatedSuffix names the annotation recording a capped list's original length.
	TruncatedSuffix = "_truncated_from"
	// OmittedKey lists top-level fields dropped to meet the byte budget.
	OmittedKey = "_omitted"
	// RootListKey wraps a list payload so caps can be annotated.
	RootListKey = "items"

	// DefaultMaxBytes is the byte budget when neither the rule nor the shaper sets one.
	DefaultMaxBytes = 24000
)

var markerLen = utf8.RuneCountInString(Marker)

// Result is a shaped payload.
type Result struct {
	Tool      string
	Value     any
	JSON      []byte
	RawBytes  int  // compact size of the input
	Truncated bool // lists capped, strings cut or fields omitted
	Compact   bool // annotations suppressed to avoid growing the payload
}

// Shaper applies a Rules table.
type Shaper struct {
	rules    Rules
	maxBytes int
}

// New creates a shaper. maxBytes <= 0 selects DefaultMaxBytes.
func New(rules Rules, maxBytes int) *Shaper {
	if rules == nil {
		rules = DefaultRules()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Shaper{rules: rules, maxBytes: maxBytes}
}

// Rule returns the rule for tool, or a permissive default.
func (s *Shaper) Rule(tool string) Rule {
	return s.rules[tool]
}

// MaxBytes returns the byte budget applied to tool.
func (s *Shaper) MaxBytes(tool string) int {
	if r := s.rules[tool]; r.MaxBytes > 0 {
		return r.MaxBytes
	}
	return s.maxBytes
}

// ShapeValue encodes v and shapes it.
func (s *Shaper) ShapeValue(tool string, v any) (*Result, error) {
	b, err := encode(v)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, err, "encode %s payload", tool)
	}
	return s.Shape(tool, b)
}

// Shape bounds payload according to tool's rule. The result is never larger
// than the compact encoding of payload, and shaping a result again returns it unchanged.
func (s *Shaper) Shape(tool string, payload []byte) (*Result, error) {
	raw, err := decode(payload)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.UpstreamRejected, err, "%s: upstream payload is not JSON", tool)
	}
	rawJSON, err := encode(raw)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, err, "encode %s payload", tool)
	}

	rule := s.rules[tool]
	budget := s.MaxBytes(tool)

	res := s.fit(rule, raw, budget, true)
	if len(res.JSON) > len(rawJSON) {
		res = s.fit(rule, raw, budget, false)
		res.Compact = true
	}
	res.Tool = tool
	res.RawBytes = len(rawJSON)
	metrics.RecordShape(tool, res.RawBytes, len(res.JSON), res.Truncated)
	return res, nil
}

// limits are the knobs the byte-budget loop turns.
type limits struct {
	capShift   int
	textBudget int
}

func (s *Shaper) fit(rule Rule, raw any, budget int, annotate bool) *Result {
	lim := limits{textBudget: rule.textBudget()}
	for {
		v, truncated := run(rule, raw, lim, annotate)
		b, err := encode(v)
		if err == nil && len(b) <= budget {
			return &Result{Value: v, JSON: b, Truncated: truncated}
		}
		switch {
		case rule.maxCap()>>lim.capShift > 1:
			lim.capShift++
		case lim.textBudget > minTextBudget:
			lim.textBudget = max(minTextBudget, lim.textBudget/2)
		default:
			v, b = omit(v, budget)
			return &Result{Value: v, JSON: b, Truncated: true}
		}
	}
}

// run is one pass of the pipeline under fixed limits.
func run(rule Rule, raw any, lim limits, annotate bool) (any, bool) {
	v := raw
	if list, ok := v.([]any); ok && annotate {
		v = map[string]any{RootListKey: list}
	}
	v = keepFields(v, rule)
	v = flatten(v, annotate)
	rootCapped := false
	if list, ok := v.([]any); ok {
		if n := rule.capFor(RootListKey, lim.capShift); len(list) > n {
			v, rootCapped = list[:n], true
		}
	}
	v, capped := capLists(v, rule, lim.capShift, annotate)
	capped = capped || rootCapped
	v, cut := truncateText(v, lim.textBudget)
	return v, capped || cut
}

func isAnnotation(k string) bool {
	return k == OmittedKey || strings.HasSuffix(k, TruncatedSuffix)
}

// allowed reports whether key survives keep, including dotted keys produced by
// flattening a kept field.
func allowed(key string, keep []string) bool {
	if len(keep) == 0 || isAnnotation(key) {
		return true
	}
	for _, k := range keep {
		if key == k || strings.HasPrefix(key, k+".") {
			return true
		}
	}
	return false
}

func keepFields(v any, rule Rule) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			if !allowed(k, rule.Keep) {
				continue
			}
			if fields, ok := rule.ItemKeep[k]; ok {
				c = keepItems(c, fields)
			}
			out[k] = c
		}
		return out
	case []any:
		if fields, ok := rule.ItemKeep[RootListKey]; ok {
			return keepItems(t, fields)
		}
	}
	return v
}

func keepItems(v any, fields []string) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			out[i] = item
			continue
		}
		kept := make(map[string]any, len(fields))
		for k, c := range m {
			if allowed(k, fields) {
				kept[k] = c
			}
		}
		out[i] = kept
	}
	return out
}

// capLists caps list-valued fields of every object, recording the original
// length beside the field when annotate is set.
func capLists(v any, rule Rule, shift int, annotate bool) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		truncated := false
		for k, c := range t {
			if list, ok := c.([]any); ok {
				if n := rule.capFor(k, shift); len(list) > n {
					c = list[:n]
					truncated = true
					if _, exists := t[k+TruncatedSuffix]; annotate && !exists {
						out[k+TruncatedSuffix] = len(list)
					}
				}
			}
			var sub bool
			out[k], sub = capLists(c, rule, shift, annotate)
			truncated = truncated || sub
		}
		return out, truncated
	case []any:
		list := t
		truncated := false
		out := make([]any, len(list))
		for i, c := range list {
			var sub bool
			out[i], sub = capLists(c, rule, shift, annotate)
			truncated = truncated || sub
		}
		return out, truncated
	}
	return v, false
}

func truncateText(v any, budget int) (any, bool) {
	switch t := v.(type) {
	case string:
		if utf8.RuneCountInString(t) <= budget+markerLen {
			return t, false
		}
		r := []rune(t)
		return string(r[:budget]) + Marker, true
	case map[string]any:
		out := make(map[string]any, len(t))
		truncated := false
		for k, c := range t {
			var cut bool
			out[k], cut = truncateText(c, budget)
			truncated = truncated || cut
		}
		return out, truncated
	case []any:
		out := make([]any, len(t))
		truncated := false
		for i, c := range t {
			var cut bool
			out[i], cut = truncateText(c, budget)
			truncated = truncated || cut
		}
		return out, truncated
	}
	return v, false
}

// omit drops the largest top-level fields until the encoding fits budget and
// lists them under OmittedKey. List roots lose trailing elements instead.
func omit(v any, budget int) (any, []byte) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = c
		}
		var omitted []string
		if prev, ok := out[OmittedKey].([]any); ok {
			for _, p := range prev {
				omitted = append(omitted, fmt.Sprint(p))
			}
		}
		for {
			b, _ := encode(out)
			if len(b) <= budget {
				return out, b
			}
			k := largestField(out)
			if k == "" {
				break
			}
			delete(out, k)
			omitted = append(omitted, k)
			out[OmittedKey] = toAny(omitted)
		}
		// Only annotations remain; keep as many omitted names as fit.
		for n := len(omitted); n >= 0; n-- {
			out = map[string]any{OmittedKey: toAny(omitted[:n])}
			if b, _ := encode(out); len(b) <= budget {
				return out, b
			}
		}
		b, _ := encode(map[string]any{})
		return map[string]any{}, b
	case []any:
		for n := len(t); n >= 0; n-- {
			if b, _ := encode(t[:n]); len(b) <= budget {
				return t[:n], b
			}
		}
	}
	b, _ := encode(v)
	return v, b
}

// largestField returns the biggest non-annotation field, ties broken by name.
func largestField(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !isAnnotation(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	best, bestSize := "", -1
	for _, k := range keys {
		b, _ := encode(m[k])
		if len(b) > bestSize {
			best, bestSize = k, len(b)
		}
	}
	return best
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func decode(payload []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

// encode produces compact JSON without HTML escaping; map keys are sorted.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
