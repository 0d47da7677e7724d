package infra

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// Signature returns a deterministic cache key for an outbound request.
// Parameter order, value order, JSON object key order and letter case in the
// method or host do not affect the result. A query string carried in baseURL
// counts as parameters.
func Signature(method, baseURL, path string, params url.Values, body []byte) string {
	base, query := normalizeBase(baseURL)
	if len(query) > 0 {
		merged := make(url.Values, len(params)+len(query))
		for k, vs := range params {
			merged[k] = append(merged[k], vs...)
		}
		for k, vs := range query {
			merged[k] = append(merged[k], vs...)
		}
		params = merged
	}

	var buf bytes.Buffer
	buf.WriteString(strings.ToUpper(method))
	buf.WriteByte(' ')
	buf.WriteString(base)
	buf.WriteString(normalizePath(path))
	buf.WriteByte('?')
	buf.Write(canonicalParams(params))
	buf.WriteByte('#')
	buf.Write(canonicalBody(body))

	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// normalizeBase splits base into its lower-cased origin plus path and any
// query parameters it carries.
func normalizeBase(base string) (string, url.Values) {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(base, "/")), nil
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/"), u.Query()
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func canonicalParams(params url.Values) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	for i, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		for j, v := range vals {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.Bytes()
}

// canonicalBody re-encodes JSON bodies so that map keys are sorted; other bodies
// are used verbatim.
func canonicalBody(body []byte) []byte {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return body
	}
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}
