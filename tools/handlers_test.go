package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/olgasafonova/sefaria-mcp-server/internal/catalog"
	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/internal/infra"
	"github.com/olgasafonova/sefaria-mcp-server/internal/sefaria"
	"github.com/olgasafonova/sefaria-mcp-server/internal/shape"
	"github.com/olgasafonova/sefaria-mcp-server/internal/upstream"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRegistry wires a registry to a fake Sefaria API served by h.
func newTestRegistry(t *testing.T, h http.Handler, timeout time.Duration) *HandlerRegistry {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	idx, err := catalog.SeedIndex()
	if err != nil {
		t.Fatalf("SeedIndex() error = %v", err)
	}
	cache := infra.NewCache(100)
	t.Cleanup(cache.Close)
	client := upstream.NewClient(
		upstream.WithHTTPClient(srv.Client()),
		upstream.WithLogger(quietLogger()),
		upstream.WithMaxRetries(0),
	)
	svc := sefaria.NewService(
		sefaria.Config{BaseURL: srv.URL, MaxImageBytes: 1 << 10},
		client, cache,
		catalog.NewResolver(idx, catalog.DefaultOptions()),
		shape.New(shape.DefaultRules(), 0),
		sefaria.WithLogger(quietLogger()),
		sefaria.WithImageClient(client),
		sefaria.WithURLGuard(sefaria.AllowPrivate()),
	)
	return NewHandlerRegistry(svc, quietLogger(), timeout)
}

func TestNewHandlerRegistry(t *testing.T) {
	h := newTestRegistry(t, http.NotFoundHandler(), 0)

	if len(h.bindings) != len(AllTools) {
		t.Fatalf("bound %d tools, want %d", len(h.bindings), len(AllTools))
	}
	for _, spec := range AllTools {
		b, ok := h.bindings[spec.Name]
		if !ok {
			t.Errorf("tool %s not bound (method %s)", spec.Name, spec.Method)
			continue
		}
		if b.spec().Method != spec.Method {
			t.Errorf("tool %s bound to %s", spec.Name, b.spec().Method)
		}
	}
}

func TestAllTools(t *testing.T) {
	if len(AllTools) != 15 {
		t.Errorf("AllTools has %d tools, want 15", len(AllTools))
	}
	seen := map[string]bool{}
	for _, spec := range AllTools {
		if seen[spec.Name] {
			t.Errorf("duplicate tool name %s", spec.Name)
		}
		seen[spec.Name] = true

		if spec.Category == "" || spec.Title == "" {
			t.Errorf("%s: missing category or title", spec.Name)
		}
		if !strings.Contains(spec.Description, "USE WHEN:") || !strings.Contains(spec.Description, "RETURNS:") {
			t.Errorf("%s: description lacks USE WHEN/RETURNS sections", spec.Name)
		}
		if !spec.ReadOnly || spec.Destructive {
			t.Errorf("%s: every tool is read-only", spec.Name)
		}
	}
	if _, ok := Lookup("get_text"); !ok {
		t.Error("Lookup(get_text) failed")
	}
	if _, ok := Lookup("unknown_tool"); ok {
		t.Error("Lookup found a tool that does not exist")
	}
}

func TestBuildTool(t *testing.T) {
	tests := []struct {
		name            string
		spec            ToolSpec
		wantReadOnly    bool
		wantIdempotent  bool
		wantDestructive bool
		wantOpenWorld   bool
	}{
		{
			name: "read-only tool",
			spec: ToolSpec{
				Name:        "test_readonly",
				Title:       "Test Read Only",
				Description: "A read-only test tool",
				ReadOnly:    true,
				Idempotent:  true,
				OpenWorld:   true,
			},
			wantReadOnly:   true,
			wantIdempotent: true,
			wantOpenWorld:  true,
		},
		{
			name: "destructive tool",
			spec: ToolSpec{
				Name:        "test_destructive",
				Title:       "Test Destructive",
				Description: "A destructive test tool",
				Destructive: true,
			},
			wantDestructive: true,
		},
		{
			name: "minimal tool",
			spec: ToolSpec{
				Name:        "test_minimal",
				Description: "A minimal tool",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := buildTool(tt.spec)

			if tool.Name != tt.spec.Name {
				t.Errorf("Name = %q, want %q", tool.Name, tt.spec.Name)
			}
			if tool.Description != tt.spec.Description {
				t.Errorf("Description = %q, want %q", tool.Description, tt.spec.Description)
			}
			if tool.Annotations == nil {
				t.Fatal("Annotations is nil")
			}
			if tool.Annotations.Title != tt.spec.Title {
				t.Errorf("Annotations.Title = %q, want %q", tool.Annotations.Title, tt.spec.Title)
			}
			if tool.Annotations.ReadOnlyHint != tt.wantReadOnly {
				t.Errorf("ReadOnlyHint = %v, want %v", tool.Annotations.ReadOnlyHint, tt.wantReadOnly)
			}
			if tool.Annotations.IdempotentHint != tt.wantIdempotent {
				t.Errorf("IdempotentHint = %v, want %v", tool.Annotations.IdempotentHint, tt.wantIdempotent)
			}
			gotDestructive := tool.Annotations.DestructiveHint != nil && *tool.Annotations.DestructiveHint
			if gotDestructive != tt.wantDestructive {
				t.Errorf("DestructiveHint = %v, want %v", gotDestructive, tt.wantDestructive)
			}
			gotOpenWorld := tool.Annotations.OpenWorldHint != nil && *tool.Annotations.OpenWorldHint
			if gotOpenWorld != tt.wantOpenWorld {
				t.Errorf("OpenWorldHint = %v, want %v", gotOpenWorld, tt.wantOpenWorld)
			}
		})
	}
}

func TestDispatch_RejectsBadArguments(t *testing.T) {
	var calls atomic.Int32
	h := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}), 0)

	tests := []struct {
		name      string
		call      ToolCall
		wantField string
	}{
		{"unknown tool", ToolCall{Name: "get_txt"}, "name"},
		{"unknown field", ToolCall{Name: "get_text", Arguments: json.RawMessage(`{"reference": "Genesis 1:1", "lang": "en"}`)}, "lang"},
		{"wrong type", ToolCall{Name: "text_search", Arguments: json.RawMessage(`{"query": "love", "size": "ten"}`)}, "size"},
		{"malformed", ToolCall{Name: "text_search", Arguments: json.RawMessage(`{"query": `)}, "arguments"},
		{"trailing data", ToolCall{Name: "text_search", Arguments: json.RawMessage(`{"query": "love"} {}`)}, "arguments"},
		{"missing required", ToolCall{Name: "text_search"}, "query"},
		{"blank required", ToolCall{Name: "get_text", Arguments: json.RawMessage(`{"reference": "   "}`)}, "reference"},
		{"size out of range", ToolCall{Name: "search_in_book", Arguments: json.RawMessage(`{"query": "q", "book_name": "Genesis", "size": 500}`)}, "size"},
		{"bad era", ToolCall{Name: "english_semantic_search", Arguments: json.RawMessage(`{"query": "q", "filters": {"eras": ["Modern"]}}`)}, "filters.eras"},
		{"bad image url", ToolCall{Name: "get_manuscript_image", Arguments: json.RawMessage(`{"image_url": "file:///etc/passwd"}`)}, "image_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Dispatch(context.Background(), tt.call)
			if !apierrors.IsValidation(err) {
				t.Fatalf("Dispatch() error = %v, want InvalidArgument", err)
			}
			if got := apierrors.As(err).Field; got != tt.wantField {
				t.Errorf("field = %q, want %q", got, tt.wantField)
			}
		})
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("upstream called %d times for rejected calls", n)
	}
}

func TestDispatch_GetText(t *testing.T) {
	h := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ref": "Genesis 1:1", "versions": [{"text": "In the beginning God created the heaven and the earth.", "language": "en"}]}`)
	}), time.Second)

	res, err := h.Dispatch(context.Background(), ToolCall{Name: "get_text", Arguments: json.RawMessage(`{"reference": "Genesis 1:1"}`)})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.Tool != "get_text" || !strings.Contains(string(res.JSON), "In the beginning") {
		t.Errorf("result = %s", res.JSON)
	}
	if _, ok := res.Value.(map[string]any); !ok {
		t.Errorf("Value = %T, want map", res.Value)
	}
}

func TestDispatch_Timeout(t *testing.T) {
	h := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}), 50*time.Millisecond)

	start := time.Now()
	_, err := h.Dispatch(context.Background(), ToolCall{Name: "get_text", Arguments: json.RawMessage(`{"reference": "Genesis 1:1"}`)})
	if !apierrors.IsKind(err, apierrors.Timeout) {
		t.Errorf("error = %v, want Timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("deadline not enforced, took %v", elapsed)
	}
}

func TestInvoke_RecoversPanics(t *testing.T) {
	h := newTestRegistry(t, http.NotFoundHandler(), 0)
	b := bind(h, ToolSpec{Name: "panicky", Category: "test"}, func(context.Context, sefaria.CalendarArgs) (*Result, error) {
		panic("boom")
	})

	res, err := b.dispatch(context.Background(), nil)
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if !apierrors.IsKind(err, apierrors.Internal) {
		t.Fatalf("error = %v, want Internal", err)
	}
	if strings.Contains(err.Error(), "goroutine") || strings.Contains(err.Error(), "boom") {
		t.Errorf("panic details leaked to caller: %v", err)
	}
}

func TestToCallResult(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		err := apierrors.NewNotFoundError("work", "Qwxyz", apierrors.Candidate{ID: "Genesis", Title: "Genesis", Score: 0.5})
		res := toCallResult(nil, err)
		if !res.IsError {
			t.Error("IsError = false")
		}
		text := res.Content[0].(*mcp.TextContent).Text
		var payload struct {
			Error struct {
				Kind       string `json:"kind"`
				Candidates []struct {
					ID string `json:"id"`
				} `json:"candidates"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(text), &payload); err != nil {
			t.Fatalf("error text is not JSON: %v", err)
		}
		if payload.Error.Kind != "NotFound" || len(payload.Error.Candidates) != 1 {
			t.Errorf("payload = %+v", payload)
		}
	})

	t.Run("success", func(t *testing.T) {
		res := toCallResult(&Result{JSON: []byte(`{"a":1}`), Value: map[string]any{"a": 1}}, nil)
		if res.IsError || res.StructuredContent == nil {
			t.Errorf("result = %+v", res)
		}
		if res.Content[0].(*mcp.TextContent).Text != `{"a":1}` {
			t.Errorf("text = %v", res.Content[0])
		}
	})

	t.Run("list value has no structured content", func(t *testing.T) {
		res := toCallResult(&Result{JSON: []byte(`[1]`), Value: []any{1}}, nil)
		if res.StructuredContent != nil {
			t.Error("StructuredContent must be an object")
		}
	})

	t.Run("image", func(t *testing.T) {
		img := &sefaria.ImageResult{MimeType: "image/png", Data: []byte("png")}
		res := toCallResult(&Result{JSON: []byte(`{}`), Value: map[string]any{}, Image: img}, nil)
		if len(res.Content) != 2 {
			t.Fatalf("content = %d items, want 2", len(res.Content))
		}
		ic, ok := res.Content[1].(*mcp.ImageContent)
		if !ok || ic.MIMEType != "image/png" || string(ic.Data) != "png" {
			t.Errorf("image content = %+v", res.Content[1])
		}
	})
}

func TestDispatch_ManuscriptImage(t *testing.T) {
	h := newTestRegistry(t, http.NotFoundHandler(), time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	args, _ := json.Marshal(map[string]string{"image_url": srv.URL + "/folio-12.png"})
	res, err := h.Dispatch(context.Background(), ToolCall{Name: "get_manuscript_image", Arguments: args})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.Image == nil || string(res.Image.Data) != "png-bytes" {
		t.Fatalf("image = %+v", res.Image)
	}
	if strings.Contains(string(res.JSON), "image_data") {
		t.Error("text metadata should not repeat the encoded image")
	}
	if !strings.Contains(string(res.JSON), "folio-12.png") {
		t.Errorf("metadata = %s", res.JSON)
	}
}

func TestRegisterAll_OverMCP(t *testing.T) {
	h := newTestRegistry(t, http.NotFoundHandler(), time.Second)
	server := mcp.NewServer(&mcp.Implementation{Name: "sefaria-test", Version: "test"}, nil)
	h.RegisterAll(server)

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect() error = %v", err)
	}
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() error = %v", err)
	}
	defer cs.Close()

	list, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(list.Tools) != len(AllTools) {
		t.Errorf("listed %d tools, want %d", len(list.Tools), len(AllTools))
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_text",
		Arguments: map[string]any{"reference": "Qwxyz 1:1"},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !res.IsError {
		t.Fatal("unresolvable reference should produce an error result")
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if !strings.Contains(text, `"kind":"NotFound"`) {
		t.Errorf("error text = %s", text)
	}
}

func TestCheck(t *testing.T) {
	var calls atomic.Int32
	h := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}), 0)

	tests := []struct {
		name    string
		call    ToolCall
		wantErr bool
	}{
		{"valid text", ToolCall{Name: "get_text", Arguments: json.RawMessage(`{"reference": "Genesis 1:1"}`)}, false},
		{"valid calendar without args", ToolCall{Name: "get_current_calendar"}, false},
		{"unknown tool", ToolCall{Name: "get_txt"}, true},
		{"missing required", ToolCall{Name: "search_in_book", Arguments: json.RawMessage(`{"query": "light"}`)}, true},
		{"unknown field", ToolCall{Name: "get_topic_details", Arguments: json.RawMessage(`{"topic": "moses"}`)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Check(tt.call)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("Check reached upstream %d times", n)
	}
}
