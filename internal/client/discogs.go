// Package client provides the upstream HTTP client for the Discogs API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"discogs-gateway/internal/config"
	"discogs-gateway/internal/metrics"
	"discogs-gateway/internal/model"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	// KindTimeout means the attempt exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindRequest covers every other transport failure: refused or reset
	// connections, DNS errors, TLS failures, truncated bodies.
	KindRequest ErrorKind = "request_error"
)

// TransportError is returned when no complete upstream response was received.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline.
func (e *TransportError) Timeout() bool { return e.Kind == KindTimeout }

// DiscogsClient sends single requests to the upstream Discogs API.
type DiscogsClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	propagator propagation.TextMapPropagator
}

// NewDiscogsClient creates a DiscogsClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
// Per-attempt deadlines come from the CallSpec, not from the http.Client.
func NewDiscogsClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *DiscogsClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &DiscogsClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "discogs_client"),
		metrics:    m,
		propagator: propagation.TraceContext{},
	}
}

// Do performs exactly one upstream attempt and reads the whole response body.
// Any received status code is returned as an Outcome; only transport failures
// produce a *TransportError.
//
// The caller's cancellation is not propagated: once issued, an attempt
// runs until it completes or spec.Timeout expires. Context values (the active
// span) are kept so the traceparent header can be injected.
func (c *DiscogsClient) Do(ctx context.Context, spec *model.CallSpec) (*model.Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = spec.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	method := metrics.NormalizeMethod(req.Method)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, time.Since(start), 0)
		return nil, classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(method, elapsed, 0)
		return nil, classify(fmt.Errorf("read upstream body: %w", err))
	}
	c.observe(method, elapsed, resp.StatusCode)

	return &model.Outcome{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Elapsed:    elapsed,
	}, nil
}

func (c *DiscogsClient) observe(method string, d time.Duration, status int) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(d.Seconds())
	if status != 0 {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
}

// classify wraps err in a TransportError, separating deadlines from other failures.
func classify(err error) *TransportError {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	return &TransportError{Kind: KindRequest, Err: err}
}
