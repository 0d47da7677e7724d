package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/internal/sefaria"
	"github.com/olgasafonova/sefaria-mcp-server/internal/shape"
	"github.com/olgasafonova/sefaria-mcp-server/metrics"
	"github.com/olgasafonova/sefaria-mcp-server/tracing"
)

// Validator is implemented by every tool's argument struct.
type Validator interface {
	Validate() error
}

// Result is the outcome of one tool invocation.
type Result struct {
	Tool      string
	JSON      []byte // compact JSON sent as text content
	Value     any    // decoded form of JSON
	Truncated bool
	Image     *sefaria.ImageResult // set by get_manuscript_image only
}

// binding is a tool bound to its service method.
type binding interface {
	spec() ToolSpec
	addTo(server *mcp.Server)
	dispatch(ctx context.Context, raw json.RawMessage) (*Result, error)
	check(raw json.RawMessage) error
}

// HandlerRegistry provides type-safe tool registration by mapping
// tool names to their concrete handler implementations.
type HandlerRegistry struct {
	service  *sefaria.Service
	logger   *slog.Logger
	timeout  time.Duration
	bindings map[string]binding
}

// NewHandlerRegistry creates a new handler registry. timeout bounds every
// invocation; zero disables the deadline.
func NewHandlerRegistry(service *sefaria.Service, logger *slog.Logger, timeout time.Duration) *HandlerRegistry {
	h := &HandlerRegistry{
		service:  service,
		logger:   logger,
		timeout:  timeout,
		bindings: make(map[string]binding, len(AllTools)),
	}
	for _, spec := range AllTools {
		if b := h.bindByName(spec); b != nil {
			h.bindings[spec.Name] = b
		}
	}
	return h
}

// RegisterAll registers all tools with the MCP server.
func (h *HandlerRegistry) RegisterAll(server *mcp.Server) {
	for _, spec := range AllTools {
		if b, ok := h.bindings[spec.Name]; ok {
			b.addTo(server)
		}
	}
	h.logger.Info("Registered all tools", "count", len(h.bindings))
}

// bindByName dispatches to the correct typed binding.
func (h *HandlerRegistry) bindByName(spec ToolSpec) binding {
	s := h.service
	switch spec.Method {
	// Text tools
	case "GetText":
		return bind(h, spec, shaped(s.GetText))
	case "GetEnglishTranslations":
		return bind(h, spec, shaped(s.GetEnglishTranslations))
	case "GetLinks":
		return bind(h, spec, shaped(s.GetLinks))

	// Search tools
	case "TextSearch":
		return bind(h, spec, shaped(s.TextSearch))
	case "SearchInBook":
		return bind(h, spec, shaped(s.SearchInBook))
	case "SearchDictionaries":
		return bind(h, spec, shaped(s.SearchDictionaries))
	case "SemanticSearch":
		return bind(h, spec, shaped(s.SemanticSearch))

	// Catalogue tools
	case "ClarifyName":
		return bind(h, spec, shaped(s.ClarifyName))
	case "ClarifySearchPath":
		return bind(h, spec, shaped(s.ClarifySearchPath))
	case "GetShape":
		return bind(h, spec, shaped(s.GetShape))
	case "GetCatalogueInfo":
		return bind(h, spec, shaped(s.GetCatalogueInfo))
	case "GetTopic":
		return bind(h, spec, shaped(s.GetTopic))
	case "Calendar":
		return bind(h, spec, shaped(s.Calendar))

	// Manuscript tools
	case "GetManuscripts":
		return bind(h, spec, shaped(s.GetManuscripts))
	case "GetManuscriptImage":
		return bind(h, spec, h.manuscriptImage)
	}
	h.logger.Error("Unknown method, tool not registered", "method", spec.Method, "tool", spec.Name)
	return nil
}

// shaped adapts a service method returning a shaped payload.
func shaped[Args any](method func(context.Context, Args) (*shape.Result, error)) func(context.Context, Args) (*Result, error) {
	return func(ctx context.Context, args Args) (*Result, error) {
		res, err := method(ctx, args)
		if err != nil {
			return nil, err
		}
		return &Result{Tool: res.Tool, JSON: res.JSON, Value: res.Value, Truncated: res.Truncated}, nil
	}
}

// manuscriptImage returns image metadata as text and the image itself as
// MCP image content.
func (h *HandlerRegistry) manuscriptImage(ctx context.Context, args sefaria.ManuscriptImageArgs) (*Result, error) {
	img, err := h.service.GetManuscriptImage(ctx, args)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(img.Metadata())
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, err, "encode image metadata")
	}
	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, err, "decode image metadata")
	}
	return &Result{Tool: sefaria.ToolManuscriptImage, JSON: data, Value: value, Image: img}, nil
}

// buildTool creates an mcp.Tool from a ToolSpec.
func buildTool(spec ToolSpec) *mcp.Tool {
	annotations := &mcp.ToolAnnotations{
		Title:          spec.Title,
		ReadOnlyHint:   spec.ReadOnly,
		IdempotentHint: spec.Idempotent,
	}
	if spec.Destructive {
		annotations.DestructiveHint = ptr(true)
	}
	if spec.OpenWorld {
		annotations.OpenWorldHint = ptr(true)
	}

	return &mcp.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		Annotations: annotations,
	}
}

type typedBinding[Args Validator] struct {
	h      *HandlerRegistry
	s      ToolSpec
	method func(context.Context, Args) (*Result, error)
}

func bind[Args Validator](h *HandlerRegistry, spec ToolSpec, method func(context.Context, Args) (*Result, error)) binding {
	return &typedBinding[Args]{h: h, s: spec, method: method}
}

func (b *typedBinding[Args]) spec() ToolSpec { return b.s }

// addTo registers the tool. Failures are returned as error results carrying
// {"error": {...}}, never as protocol errors.
func (b *typedBinding[Args]) addTo(server *mcp.Server) {
	mcp.AddTool(server, buildTool(b.s), func(ctx context.Context, req *mcp.CallToolRequest, args Args) (*mcp.CallToolResult, any, error) {
		res, err := b.invoke(ctx, args)
		return toCallResult(res, err), nil, nil
	})
}

func (b *typedBinding[Args]) dispatch(ctx context.Context, raw json.RawMessage) (*Result, error) {
	args, err := decodeArgs[Args](raw)
	if err != nil {
		metrics.RecordToolError(b.s.Name, string(apierrors.KindOf(err)))
		return nil, err
	}
	return b.invoke(ctx, args)
}

func (b *typedBinding[Args]) check(raw json.RawMessage) error {
	args, err := decodeArgs[Args](raw)
	if err != nil {
		return err
	}
	return args.Validate()
}

// invoke validates args, applies the deadline and runs the method with panic
// recovery, metrics, tracing and logging.
func (b *typedBinding[Args]) invoke(ctx context.Context, args Args) (res *Result, err error) {
	h, name := b.h, b.s.Name
	callID := uuid.NewString()

	ctx, span := tracing.StartSpan(ctx, "mcp.tool."+name)
	defer span.End()
	tracing.AddToolAttributes(span, name, b.s.Category)
	span.SetAttributes(
		attribute.String("mcp.call_id", callID),
		attribute.Bool("mcp.tool.readonly", b.s.ReadOnly),
	)

	metrics.RequestInFlight.WithLabelValues(name).Inc()
	defer metrics.RequestInFlight.WithLabelValues(name).Dec()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.PanicsRecovered.WithLabelValues(name).Inc()
			h.logger.Error("Panic recovered",
				"tool", name,
				"call_id", callID,
				"panic", rec,
				"stack", string(debug.Stack()))
			res, err = nil, apierrors.New(apierrors.Internal, "internal error in %s", name)
		}
		duration := time.Since(start)
		span.SetAttributes(attribute.Float64("mcp.tool.duration_seconds", duration.Seconds()))

		if err != nil {
			err = apierrors.As(err)
			kind := string(apierrors.KindOf(err))
			tracing.RecordError(span, err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RecordRequest(name, duration.Seconds(), false)
			metrics.RecordToolError(name, kind)
			h.logger.Warn("Tool failed",
				"tool", name,
				"call_id", callID,
				"kind", kind,
				"duration", duration,
				"error", err)
			return
		}
		if res != nil {
			tracing.AddResultAttributes(span, len(res.JSON), res.Truncated)
		}
		span.SetStatus(codes.Ok, "")
		metrics.RecordRequest(name, duration.Seconds(), true)
		h.logExecution(b.s, callID, duration, args, res)
	}()

	if err := args.Validate(); err != nil {
		return nil, err
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	res, err = b.method(ctx, args)
	if err != nil && ctx.Err() != nil && !apierrors.IsKind(err, apierrors.Timeout) && !apierrors.IsKind(err, apierrors.UpstreamTimeout) {
		err = apierrors.Wrap(apierrors.Timeout, err, "%s exceeded its deadline", name)
	}
	return res, err
}

// toCallResult renders an invocation outcome for MCP clients.
func toCallResult(res *Result, err error) *mcp.CallToolResult {
	if err != nil {
		payload := map[string]any{"error": apierrors.As(err)}
		data, merr := json.Marshal(payload)
		if merr != nil {
			data = []byte(`{"error":{"kind":"Internal","message":"cannot encode error"}}`)
		}
		return &mcp.CallToolResult{
			IsError:           true,
			Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
			StructuredContent: payload,
		}
	}
	out := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(res.JSON)}},
	}
	if m, ok := res.Value.(map[string]any); ok {
		out.StructuredContent = m
	}
	if res.Image != nil {
		out.Content = append(out.Content, &mcp.ImageContent{Data: res.Image.Data, MIMEType: res.Image.MimeType})
	}
	return out
}

// logExecution logs tool execution details.
func (h *HandlerRegistry) logExecution(spec ToolSpec, callID string, duration time.Duration, args any, res *Result) {
	attrs := []any{"tool", spec.Name, "call_id", callID, "duration", duration}

	switch a := args.(type) {
	case sefaria.GetTextArgs:
		attrs = append(attrs, "reference", a.Reference, "version_language", a.VersionLanguage)
	case sefaria.TranslationsArgs:
		attrs = append(attrs, "reference", a.Reference)
	case sefaria.LinksArgs:
		attrs = append(attrs, "reference", a.Reference)
	case sefaria.ManuscriptsArgs:
		attrs = append(attrs, "reference", a.Reference)
	case sefaria.TextSearchArgs:
		attrs = append(attrs, "query", a.Query, "filters", a.Filters)
	case sefaria.SearchInBookArgs:
		attrs = append(attrs, "query", a.Query, "book_name", a.BookName)
	case sefaria.DictionaryArgs:
		attrs = append(attrs, "query", a.Query)
	case sefaria.SemanticSearchArgs:
		attrs = append(attrs, "query", a.Query)
	case sefaria.ClarifyNameArgs:
		attrs = append(attrs, "name", a.Name)
	case sefaria.SearchPathArgs:
		attrs = append(attrs, "book_name", a.BookName, "scope", a.Scope)
	case sefaria.ShapeArgs:
		attrs = append(attrs, "name", a.Name)
	case sefaria.CatalogueArgs:
		attrs = append(attrs, "title", a.Title)
	case sefaria.TopicArgs:
		attrs = append(attrs, "topic_slug", a.TopicSlug)
	case sefaria.ManuscriptImageArgs:
		attrs = append(attrs, "image_url", a.ImageURL)
	case sefaria.CalendarArgs:
		// No args to log
	}

	if res != nil {
		attrs = append(attrs, "bytes", len(res.JSON), "truncated", res.Truncated)
		if res.Image != nil {
			attrs = append(attrs, "image_bytes", res.Image.Size, "mime_type", res.Image.MimeType)
		}
	}

	h.logger.Info("Tool executed", attrs...)
}
