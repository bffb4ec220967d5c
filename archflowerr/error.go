// Package archflowerr defines the error taxonomy shared across the engine,
// the provider layer, MCP, and the conversation manager.
package archflowerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error without binding callers to a concrete type.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindConflict     Kind = "conflict"
	KindTimeout      Kind = "timeout"
	KindTransport    Kind = "transport_error"
	KindProvider     Kind = "provider_error"
	KindCancelled    Kind = "cancelled"
	KindExhausted    Kind = "exhausted"
	KindInternal     Kind = "internal"
)

// Error is the structured failure value surfaced on the Event Bus and as an
// Execution's terminal error.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Details   map[string]any
	StepID    string
	TraceID   string
	Cause     error
}

func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s[%s] step=%s: %s", e.Kind, e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// branch on error kind with errors.Is(err, archflowerr.KindTimeout) style
// sentinels built via New(kind, "", "").
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs an Error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an Error carrying an underlying cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// WithStep returns a copy of the error annotated with the originating step id.
func (e *Error) WithStep(stepID string) *Error {
	clone := *e
	clone.StepID = stepID
	return &clone
}

// WithTrace returns a copy of the error annotated with a trace id.
func (e *Error) WithTrace(traceID string) *Error {
	clone := *e
	clone.TraceID = traceID
	return &clone
}

// WithDetail attaches a field-level detail.
func (e *Error) WithDetail(key string, value any) *Error {
	clone := *e
	if clone.Details == nil {
		clone.Details = make(map[string]any, 1)
	} else {
		details := make(map[string]any, len(clone.Details)+1)
		for k, v := range clone.Details {
			details[k] = v
		}
		clone.Details = details
	}
	clone.Details[key] = value
	return &clone
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether kind is one of the kinds a retry policy may
// cover per spec: TransportError, Timeout, ProviderError. Validation is
// retryable only for the deterministic agent's schema-repair loop, which
// checks it explicitly rather than through this helper.
func Retryable(kind Kind) bool {
	switch kind {
	case KindTransport, KindTimeout, KindProvider:
		return true
	default:
		return false
	}
}
