package service

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"discogs-gateway/internal/model"
)

// forwardableRequestHeaders are the only inbound headers copied upstream.
var forwardableRequestHeaders = []string{
	"If-None-Match",
	"Content-Type",
}

// maskedHeaders are replaced by "***" in the debug request log.
var maskedHeaders = map[string]bool{
	"Authorization": true,
	"X-Api-Key":     true,
	"Cookie":        true,
}

// bodyMethods carry the inbound body upstream.
var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// captureCorrelation reads the caller-supplied correlation headers once.
func captureCorrelation(h http.Header, traceID string) model.Correlation {
	op := h.Get("X-Operation-Hash")
	if op == "" {
		op = h.Get("X-Action-Operation-Hash")
	}
	return model.Correlation{
		TraceID:         traceID,
		ClientTraceID:   h.Get("X-Client-Trace-Id"),
		OperationHash:   op,
		ConversationID:  h.Get("Openai-Conversation-Id"),
		EphemeralUserID: h.Get("Openai-Ephemeral-User-Id"),
		TraceParent:     h.Get("Traceparent"),
	}
}

// normalizeQuery copies q and maps the "query" alias onto "q". When both are
// present "q" wins and "query" is dropped, so the pass is idempotent.
func normalizeQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	if alias, ok := out["query"]; ok {
		if _, has := out["q"]; !has {
			out["q"] = alias
		}
		delete(out, "query")
	}
	return out
}

// retryable reports retry eligibility: GET and HEAD unless overridden.
func retryable(method string, override *bool) bool {
	if override != nil {
		return *override
	}
	return method == http.MethodGet || method == http.MethodHead
}

func (s *ProxyService) buildUpstreamURL(path string, query url.Values) string {
	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = normalizeQuery(query).Encode()
	return u.String()
}

func (s *ProxyService) buildRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	dst.Set("User-Agent", s.cfg.Upstream.UserAgent)
	dst.Set("Accept", "application/json")
	if tok := strings.TrimSpace(s.cfg.Upstream.Token); tok != "" {
		dst.Set("Authorization", "Discogs token="+tok)
	}
	for _, key := range forwardableRequestHeaders {
		if v := src.Get(key); v != "" {
			dst.Set(key, v)
		}
	}
	return dst
}

func (s *ProxyService) buildCallSpec(pr *model.ProxyRequest) *model.CallSpec {
	timeout := pr.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Upstream.Timeout()
	}
	spec := &model.CallSpec{
		Method:    pr.Method,
		URL:       s.buildUpstreamURL(pr.Path, pr.Query),
		Header:    s.buildRequestHeaders(pr.Header),
		Timeout:   timeout,
		Retryable: retryable(pr.Method, pr.AllowRetry),
	}
	if bodyMethods[pr.Method] {
		spec.Body = pr.Body
	}
	return spec
}

// logRequest writes the sanitized inbound request. Secrets are masked.
func (s *ProxyService) logRequest(pr *model.ProxyRequest, corr model.Correlation) {
	headers := make(map[string]string, len(pr.Header))
	for k, v := range pr.Header {
		if maskedHeaders[http.CanonicalHeaderKey(k)] {
			headers[k] = "***"
			continue
		}
		headers[k] = strings.Join(v, ", ")
	}
	attrs := []any{
		"method", pr.Method,
		"upstream_path", pr.Path,
		"query", normalizeQuery(pr.Query).Encode(),
		slog.Any("headers", headers),
	}
	attrs = append(attrs, corr.Attrs()...)
	s.logger.Info("http request debug", attrs...)
}
