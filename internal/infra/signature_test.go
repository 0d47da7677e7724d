package infra

import (
	"net/url"
	"testing"
)

func TestSignature_OrderIndependent(t *testing.T) {
	a := Signature("get", "https://www.sefaria.org/", "/api/links/Genesis 1:1",
		url.Values{"with_text": {"0"}, "a": {"2", "1"}}, nil)
	b := Signature("GET", "https://WWW.sefaria.org", "/api/links/Genesis 1:1/",
		url.Values{"a": {"1", "2"}, "with_text": {"0"}}, nil)
	if a != b {
		t.Errorf("equivalent requests produced different signatures\n%s\n%s", a, b)
	}
}

func TestSignature_JSONBodyKeyOrder(t *testing.T) {
	a := Signature("POST", "https://www.sefaria.org", "/api/search-wrapper/es8", nil,
		[]byte(`{"query":"love","size":10,"filters":[]}`))
	b := Signature("POST", "https://www.sefaria.org", "/api/search-wrapper/es8", nil,
		[]byte(`{ "size": 10, "filters": [], "query": "love" }`))
	if a != b {
		t.Error("JSON key order should not change the signature")
	}
}

func TestSignature_Distinguishes(t *testing.T) {
	base := Signature("GET", "https://www.sefaria.org", "/api/calendars", url.Values{"year": {"2026"}}, nil)
	tests := []struct {
		name string
		sig  string
	}{
		{"method", Signature("POST", "https://www.sefaria.org", "/api/calendars", url.Values{"year": {"2026"}}, nil)},
		{"host", Signature("GET", "https://ai.sefaria.org", "/api/calendars", url.Values{"year": {"2026"}}, nil)},
		{"path", Signature("GET", "https://www.sefaria.org", "/api/calendar", url.Values{"year": {"2026"}}, nil)},
		{"param value", Signature("GET", "https://www.sefaria.org", "/api/calendars", url.Values{"year": {"2027"}}, nil)},
		{"body", Signature("GET", "https://www.sefaria.org", "/api/calendars", url.Values{"year": {"2026"}}, []byte(`{}`))},
	}
	for _, tt := range tests {
		if tt.sig == base {
			t.Errorf("%s change did not change the signature", tt.name)
		}
	}
}

func TestSignature_NonJSONBody(t *testing.T) {
	a := Signature("POST", "https://x.org", "/p", nil, []byte("plain text"))
	b := Signature("POST", "https://x.org", "/p", nil, []byte("plain text"))
	c := Signature("POST", "https://x.org", "/p", nil, []byte("other text"))
	if a != b || a == c {
		t.Error("raw bodies should be compared verbatim")
	}
}

func TestSignature_BaseURLQuery(t *testing.T) {
	full := Signature("GET", "https://images.example.org/ms/page.jpg?size=full", "", nil, nil)
	thumb := Signature("GET", "https://images.example.org/ms/page.jpg?size=thumb", "", nil, nil)
	if full == thumb {
		t.Error("URLs differing only in their query string share a signature")
	}

	a := Signature("GET", "https://images.example.org/ms/page.jpg?b=2&a=1", "", nil, nil)
	b := Signature("GET", "https://images.example.org/ms/page.jpg?a=1&b=2", "", nil, nil)
	if a != b {
		t.Error("query parameter order in the base URL should not matter")
	}

	embedded := Signature("GET", "https://images.example.org/ms/page.jpg?size=full", "", nil, nil)
	separate := Signature("GET", "https://images.example.org/ms/page.jpg", "", url.Values{"size": {"full"}}, nil)
	if embedded != separate {
		t.Error("a query in the base URL should equal the same parameters passed separately")
	}
}
