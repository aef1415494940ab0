// Package apierror defines the caller-facing error taxonomy of the gateway and
// its JSON rendering. Kind values are a public contract: clients match on the
// "error" field, so existing kinds must not be renamed.
package apierror

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind is the machine-readable error classification.
type Kind string

const (
	ServerMisconfigured Kind = "server_misconfigured"
	SecretsUnresolved   Kind = "secrets_unresolved"
	Unauthorized        Kind = "unauthorized"
	InvalidRequest      Kind = "invalid_request"
	NotFound            Kind = "not_found"
	RateLimited         Kind = "rate_limited"
	UpstreamError       Kind = "upstream_error"
	UnexpectedStatus    Kind = "unexpected_status"
	Timeout             Kind = "timeout"
	BadGateway          Kind = "bad_gateway"
	InternalError       Kind = "internal_error"
)

// Reasons carried in the "reason" field.
const (
	ReasonAPIKeyMissing        = "x_api_key_missing"
	ReasonAPIKeyMismatch       = "api_key_mismatch"
	ReasonTokenMissing         = "discogs_token_missing"
	ReasonNoSupportedSearchArg = "no_supported_search_params"
	ReasonGatewayRateLimit     = "gateway_rate_limit"
)

// Secret names carried in the "which" field.
const (
	WhichAPIKey = "X_API_KEY"
	WhichToken  = "DISCOGS_TOKEN"
)

var kindStatus = map[Kind]int{
	ServerMisconfigured: http.StatusServiceUnavailable,
	SecretsUnresolved:   http.StatusServiceUnavailable,
	Unauthorized:        http.StatusUnauthorized,
	InvalidRequest:      http.StatusBadRequest,
	NotFound:            http.StatusNotFound,
	RateLimited:         http.StatusTooManyRequests,
	UpstreamError:       http.StatusBadGateway,
	Timeout:             http.StatusGatewayTimeout,
	BadGateway:          http.StatusBadGateway,
	InternalError:       http.StatusInternalServerError,
}

// RateLimit mirrors the upstream rate-limit headers. Nil fields render as null.
type RateLimit struct {
	Limit     *string
	Remaining *string
	Reset     *string
}

// Error is a terminal caller-facing outcome.
type Error struct {
	Kind Kind
	// Message replaces Kind in the "error" field. Route validation uses it for
	// human-readable messages such as "release_id must be an integer".
	Message        string
	Reason         string
	Which          string
	Fields         string
	UpstreamStatus int
	TraceID        string
	// Detail is only populated when debug errors are enabled.
	Detail    string
	RateLimit *RateLimit
}

// New returns an Error of the given kind tagged with traceID.
func New(kind Kind, traceID string) *Error {
	return &Error{Kind: kind, TraceID: traceID}
}

// Invalid returns a 400 whose "error" field is msg.
func Invalid(msg string) *Error {
	return &Error{Kind: InvalidRequest, Message: msg}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Reason != "" {
		return string(e.Kind) + ": " + e.Reason
	}
	return string(e.Kind)
}

// Status returns the HTTP status for the error. UnexpectedStatus passes the
// upstream code through.
func (e *Error) Status() int {
	if e.Kind == UnexpectedStatus && e.UpstreamStatus != 0 {
		return e.UpstreamStatus
	}
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type body struct {
	Error          string `json:"error"`
	Reason         string `json:"reason,omitempty"`
	Which          string `json:"which,omitempty"`
	Fields         string `json:"fields,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

type rateLimitedBody struct {
	body
	Limit     *string `json:"limit"`
	Remaining *string `json:"remaining"`
	Reset     *string `json:"reset"`
}

// MarshalJSON renders the {"error": ...} envelope.
func (e *Error) MarshalJSON() ([]byte, error) {
	b := body{
		Error:          string(e.Kind),
		Reason:         e.Reason,
		Which:          e.Which,
		Fields:         e.Fields,
		UpstreamStatus: e.UpstreamStatus,
		TraceID:        e.TraceID,
		Detail:         e.Detail,
	}
	if e.Message != "" {
		b.Error = e.Message
	}
	if e.Kind == RateLimited {
		rb := rateLimitedBody{body: b}
		if e.RateLimit != nil {
			rb.Limit, rb.Remaining, rb.Reset = e.RateLimit.Limit, e.RateLimit.Remaining, e.RateLimit.Reset
		}
		return json.Marshal(rb)
	}
	return json.Marshal(b)
}

// Body returns the JSON envelope. Marshalling plain strings and ints cannot
// fail, so a failure falls back to the bare kind.
func (e *Error) Body() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"error":"` + string(InternalError) + `"}`)
	}
	return data
}

// Write renders the error on an Echo context.
func (e *Error) Write(c echo.Context) error {
	return c.JSONBlob(e.Status(), e.Body())
}
