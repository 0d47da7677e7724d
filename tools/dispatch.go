package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
)

// ToolCall is a tool invocation with raw JSON arguments.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Dispatch decodes call's arguments strictly and runs the named tool through
// the same pipeline as MCP invocations.
func (h *HandlerRegistry) Dispatch(ctx context.Context, call ToolCall) (*Result, error) {
	b, ok := h.bindings[call.Name]
	if !ok {
		return nil, apierrors.NewValidationError("name", call.Name, "unknown tool; expected one of "+strings.Join(h.Names(), ", "))
	}
	return b.dispatch(ctx, call.Arguments)
}

// Check decodes and validates call's arguments without contacting upstream.
func (h *HandlerRegistry) Check(call ToolCall) error {
	b, ok := h.bindings[call.Name]
	if !ok {
		return apierrors.NewValidationError("name", call.Name, "unknown tool")
	}
	return b.check(call.Arguments)
}

// Names lists the registered tools in sorted order.
func (h *HandlerRegistry) Names() []string {
	names := make([]string, 0, len(h.bindings))
	for name := range h.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeArgs rejects unknown fields, wrong types and trailing data. Absent or
// null arguments decode to the zero value and are left to Validate.
func decodeArgs[Args any](raw json.RawMessage) (Args, error) {
	var args Args
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, argumentError(err)
	}
	if dec.More() {
		return args, apierrors.NewValidationError("arguments", "", "unexpected data after the arguments object")
	}
	return args, nil
}

func argumentError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "arguments"
		}
		return apierrors.NewValidationError(field, "", fmt.Sprintf("must be %s, got %s", typeErr.Type, typeErr.Value))
	case errors.As(err, &syntaxErr):
		return apierrors.NewValidationError("arguments", "", fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset))
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return apierrors.NewValidationError(field, "", "unknown argument")
	default:
		return apierrors.NewValidationError("arguments", "", err.Error())
	}
}
