package identity

import "github.com/google/uuid"

// RequestContext carries per-request tracing state through every
// component. It is passed by reference and never persisted.
// Cancellation travels separately as a context.Context, per Go convention.
type RequestContext struct {
	// CorrelationID ties logs, network calls and broker calls of one
	// acquisition together.
	CorrelationID string
}

// NewRequestContext creates a context with a fresh correlation id.
func NewRequestContext() *RequestContext {
	return &RequestContext{CorrelationID: uuid.NewString()}
}

// WithCorrelationID creates a context carrying a caller-chosen id,
// falling back to a fresh one when empty.
func WithCorrelationID(id string) *RequestContext {
	if id == "" {
		return NewRequestContext()
	}
	return &RequestContext{CorrelationID: id}
}
