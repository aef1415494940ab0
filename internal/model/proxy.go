// Package model defines shared request-scoped types for the gateway.
package model

import (
	"net/http"
	"net/url"
	"time"
)

// ProxyRequest is an inbound call after route validation, ready for the core.
type ProxyRequest struct {
	// Route names the handler for metrics labels, e.g. "releases".
	Route string
	// Method is the upstream HTTP verb chosen by the route.
	Method string
	// Path is the upstream path, e.g. "/releases/249504".
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	// Host is the inbound Host header, used as the URL rewrite target.
	Host string
	// Timeout overrides the per-attempt upstream timeout when non-zero.
	Timeout time.Duration
	// AllowRetry overrides retry eligibility. Nil means GET/HEAD only.
	AllowRetry *bool
	// RequireToken rejects the call when no upstream token is configured.
	RequireToken bool
}

// CallSpec is one fully assembled upstream call.
type CallSpec struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
	// Retryable is true only for idempotent methods unless force-enabled.
	Retryable bool
}

// Outcome is a received upstream response. Any status code is an outcome,
// not an error.
type Outcome struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
	Attempts   int
}

// ProxyResponse is the terminal caller-facing response.
type ProxyResponse struct {
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        []byte
}

// Correlation carries the identifiers captured from the inbound request plus
// the gateway-generated trace id. Captured once per call.
type Correlation struct {
	TraceID         string
	ClientTraceID   string
	OperationHash   string
	ConversationID  string
	EphemeralUserID string
	TraceParent     string
}

// Attrs returns the non-empty correlation fields as slog key/value pairs.
func (c Correlation) Attrs() []any {
	attrs := []any{"trace_id", c.TraceID}
	for _, kv := range [][2]string{
		{"x_client_trace_id", c.ClientTraceID},
		{"x_operation_hash", c.OperationHash},
		{"openai_conversation_id", c.ConversationID},
		{"openai_ephemeral_user_id", c.EphemeralUserID},
		{"traceparent", c.TraceParent},
	} {
		if kv[1] != "" {
			attrs = append(attrs, kv[0], kv[1])
		}
	}
	return attrs
}
