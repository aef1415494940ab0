package service

import (
	"net/http"
	"strings"

	"discogs-gateway/internal/apierror"
	"discogs-gateway/internal/model"
	"discogs-gateway/internal/rewrite"
)

const mimeJSON = "application/json"

// forwardableResponseHeaders are copied from the upstream response when present.
var forwardableResponseHeaders = []string{
	"Link",
	"X-Discogs-Ratelimit",
	"X-Discogs-Ratelimit-Used",
	"X-Discogs-Ratelimit-Remaining",
	"X-Discogs-Ratelimit-Reset",
	"ETag",
}

// responseHeaders builds the caller-facing headers: the allow-listed upstream
// headers, the gateway trace id and the echoed caller correlation ids.
func responseHeaders(upstream http.Header, corr model.Correlation) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableResponseHeaders {
		if v := upstream.Get(key); v != "" {
			dst.Set(key, v)
		}
	}
	dst.Set("X-Trace-Id", corr.TraceID)
	if corr.ClientTraceID != "" {
		dst.Set("X-Client-Trace-Id", corr.ClientTraceID)
	}
	if corr.OperationHash != "" {
		dst.Set("X-Operation-Hash", corr.OperationHash)
	}
	return dst
}

// mediaType returns the Content-Type without parameters, defaulting to JSON.
func mediaType(h http.Header) string {
	ct := h.Get("Content-Type")
	if ct == "" {
		return mimeJSON
	}
	mt, _, _ := strings.Cut(ct, ";")
	return strings.TrimSpace(mt)
}

func headerPtr(h http.Header, key string) *string {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	return &v
}

// translate maps a received upstream outcome onto the caller-facing response.
// The returned error is non-nil when the response is an error envelope.
func (s *ProxyService) translate(out *model.Outcome, host string, corr model.Correlation) (*model.ProxyResponse, *apierror.Error) {
	hdr := responseHeaders(out.Header, corr)
	status := out.StatusCode

	switch {
	case status == http.StatusNotModified:
		return &model.ProxyResponse{StatusCode: status, Header: hdr}, nil

	case status >= 200 && status < 300:
		mt := mediaType(out.Header)
		body := out.Body
		if strings.EqualFold(mt, mimeJSON) && s.cfg.RewriteEnabled() && len(body) > 0 {
			body = s.rewriteBody(body, host, corr)
		}
		return &model.ProxyResponse{StatusCode: status, Header: hdr, ContentType: mt, Body: body}, nil
	}

	var e *apierror.Error
	switch {
	case status == http.StatusNotFound:
		e = apierror.New(apierror.NotFound, corr.TraceID)
	case status == http.StatusTooManyRequests:
		e = apierror.New(apierror.RateLimited, corr.TraceID)
		e.RateLimit = &apierror.RateLimit{
			Limit:     headerPtr(out.Header, "X-Discogs-Ratelimit"),
			Remaining: headerPtr(out.Header, "X-Discogs-Ratelimit-Remaining"),
			Reset:     headerPtr(out.Header, "X-Discogs-Ratelimit-Reset"),
		}
	case status >= 500 && status < 600:
		e = apierror.New(apierror.UpstreamError, corr.TraceID)
		e.UpstreamStatus = status
	default:
		e = apierror.New(apierror.UnexpectedStatus, corr.TraceID)
		e.UpstreamStatus = status
	}
	return &model.ProxyResponse{
		StatusCode:  e.Status(),
		Header:      hdr,
		ContentType: mimeJSON,
		Body:        e.Body(),
	}, e
}

// rewriteBody points upstream URLs at the gateway. Any failure keeps the
// original body.
func (s *ProxyService) rewriteBody(body []byte, host string, corr model.Correlation) []byte {
	target := rewrite.Target(s.cfg.Proxy.PublicBaseURL, host)
	out, err := s.rewriter.Rewrite(body, target)
	if err != nil {
		s.logger.Debug("url rewrite skipped", "error", err, "trace_id", corr.TraceID)
		return body
	}
	return out
}
