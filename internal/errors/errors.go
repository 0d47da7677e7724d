// Package errors provides the typed error taxonomy shared by the resolver,
// upstream client and tool dispatcher.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can branch on it without string matching.
type Kind string

const (
	InvalidArgument     Kind = "InvalidArgument"
	AmbiguousReference  Kind = "AmbiguousReference"
	NotFound            Kind = "NotFound"
	InvalidRange        Kind = "InvalidRange"
	InvalidScope        Kind = "InvalidScope"
	UpstreamUnavailable Kind = "UpstreamUnavailable"
	UpstreamRejected    Kind = "UpstreamRejected"
	UpstreamTimeout     Kind = "UpstreamTimeout"
	Timeout             Kind = "Timeout"
	Internal            Kind = "Internal"
)

// Candidate is a possible resolution surfaced with AmbiguousReference or NotFound.
type Candidate struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Kind  string  `json:"kind,omitempty"`
	Score float64 `json:"score"`
}

// Error is the single error type returned across package boundaries.
type Error struct {
	Kind       Kind
	Message    string
	Field      string      // argument name for InvalidArgument
	Candidates []Candidate // ranked alternatives, best first
	Status     int         // upstream HTTP status, when known
	Err        error       // underlying cause
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		b.WriteString(" (")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " [status %d]", e.Status)
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// MarshalJSON renders the client-facing form. The wrapped cause is not exposed.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind       Kind        `json:"kind"`
		Message    string      `json:"message"`
		Field      string      `json:"field,omitempty"`
		Candidates []Candidate `json:"candidates,omitempty"`
		Status     int         `json:"status,omitempty"`
	}{e.Kind, e.Message, e.Field, e.Candidates, e.Status}
	return json.Marshal(out)
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewValidationError creates an InvalidArgument error for one input field.
func NewValidationError(field, value, message string) *Error {
	msg := message
	if value != "" {
		msg = fmt.Sprintf("%q: %s", value, message)
	}
	return &Error{Kind: InvalidArgument, Field: field, Message: msg}
}

// NewNotFoundError creates a NotFound error for an entity lookup.
func NewNotFoundError(entity, identifier string, candidates ...Candidate) *Error {
	return &Error{
		Kind:       NotFound,
		Message:    fmt.Sprintf("%s not found: %s", entity, identifier),
		Candidates: candidates,
	}
}

// NewAmbiguousError reports that a query matched several entries too closely to pick one.
func NewAmbiguousError(query string, candidates []Candidate) *Error {
	return &Error{
		Kind:       AmbiguousReference,
		Message:    fmt.Sprintf("%q matches %d entries; pick one of the candidates", query, len(candidates)),
		Candidates: candidates,
	}
}

// NewUpstreamRejected reports a non-retryable upstream response.
func NewUpstreamRejected(status int, message string) *Error {
	return &Error{Kind: UpstreamRejected, Status: status, Message: message}
}

// KindOf extracts the kind of err. Context deadline errors map to Timeout,
// anything unclassified to Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound returns true if the error is a NotFound error.
func IsNotFound(err error) bool { return IsKind(err, NotFound) }

// IsValidation returns true if the error is an InvalidArgument error.
func IsValidation(err error) bool { return IsKind(err, InvalidArgument) }

// As returns err as *Error, converting foreign errors by kind.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := KindOf(err)
	if kind == Timeout {
		return &Error{Kind: Timeout, Message: "operation deadline exceeded", Err: err}
	}
	return &Error{Kind: kind, Message: "internal error", Err: err}
}
