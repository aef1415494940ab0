// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"discogs-gateway/internal/apierror"
	"discogs-gateway/internal/auth"
	"discogs-gateway/internal/client"
	"discogs-gateway/internal/config"
	"discogs-gateway/internal/metrics"
	"discogs-gateway/internal/model"
	"discogs-gateway/internal/rewrite"
	"discogs-gateway/internal/telemetry"
	"discogs-gateway/internal/tracing"
)

// allowedUpstreamHosts restricts which hosts the proxy will forward to.
var allowedUpstreamHosts = map[string]bool{
	"api.discogs.com": true,
}

// canonicalUpstreamHost is always matched by the URL rewrite, whatever the
// configured base URL.
const canonicalUpstreamHost = "api.discogs.com"

// Caller runs one upstream call, retrying when CallSpec.Retryable is set.
type Caller interface {
	Do(ctx context.Context, route string, spec *model.CallSpec) (*model.Outcome, int, error)
}

// Params are the collaborators of a ProxyService.
type Params struct {
	fx.In

	Caller  Caller
	Gate    *auth.Gate
	Tracer  *tracing.Tracer
	Emitter *telemetry.Emitter `optional:"true"`
	Metrics *metrics.Metrics   `optional:"true"`
	Config  *config.Config
	Logger  *slog.Logger
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	caller   Caller
	gate     *auth.Gate
	tracer   *tracing.Tracer
	emitter  *telemetry.Emitter
	metrics  *metrics.Metrics
	cfg      *config.Config
	logger   *slog.Logger
	baseURL  *url.URL
	rewriter *rewrite.Rewriter
}

// NewProxyService creates a ProxyService.
func NewProxyService(p Params) (*ProxyService, error) {
	s, err := newProxyService(p)
	if err != nil {
		return nil, err
	}
	if !allowedUpstreamHosts[s.baseURL.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", s.baseURL.Hostname())
	}
	return s, nil
}

// NewProxyServiceForTest creates a ProxyService without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewProxyServiceForTest(p Params) (*ProxyService, error) {
	return newProxyService(p)
}

func newProxyService(p Params) (*ProxyService, error) {
	u, err := url.Parse(p.Config.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q must be absolute", p.Config.Upstream.BaseURL)
	}
	tracer := p.Tracer
	if tracer == nil {
		if tracer, err = tracing.New(&config.Config{}, p.Logger); err != nil {
			return nil, err
		}
	}

	return &ProxyService{
		caller:   p.Caller,
		gate:     p.Gate,
		tracer:   tracer,
		emitter:  p.Emitter,
		metrics:  p.Metrics,
		cfg:      p.Config,
		logger:   p.Logger.With("component", "proxy_service"),
		baseURL:  u,
		rewriter: rewrite.New(canonicalUpstreamHost, u.Host),
	}, nil
}

// Forward runs the full gateway pipeline for one validated inbound call and
// returns the caller-facing response. It never returns an error: every
// failure, including a panic, is rendered as an error envelope.
func (s *ProxyService) Forward(ctx context.Context, pr *model.ProxyRequest) (resp *model.ProxyResponse) {
	start := time.Now()
	corr := captureCorrelation(pr.Header, uuid.NewString())
	ev := telemetry.Event{
		Route:       pr.Route,
		Entity:      pr.Path,
		Method:      pr.Method,
		Correlation: corr,
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("unexpected error forwarding request",
				"route", pr.Route,
				"path", pr.Path,
				"panic", r,
				"trace_id", corr.TraceID,
			)
			e := apierror.New(apierror.InternalError, corr.TraceID)
			if s.cfg.Proxy.DebugErrors {
				e.Detail = fmt.Sprint(r)
			}
			resp = s.failure(pr.Route, e, corr)
			ev.ErrorKind = string(e.Kind)
		}
		ev.Status = resp.StatusCode
		ev.Elapsed = time.Since(start)
		s.emitter.Emit(ev)
	}()

	if e := s.gate.Check(pr.Header.Get("X-Api-Key"), corr.TraceID); e != nil {
		ev.ErrorKind = string(e.Kind)
		return s.failure(pr.Route, e, corr)
	}
	if pr.RequireToken {
		if e := s.gate.RequireToken(corr.TraceID); e != nil {
			ev.ErrorKind = string(e.Kind)
			return s.failure(pr.Route, e, corr)
		}
	}

	spec := s.buildCallSpec(pr)
	if s.cfg.Proxy.DebugRequestLog {
		s.logRequest(pr, corr)
	}

	ctx = s.tracer.Extract(ctx, pr.Header)
	ctx, span := s.tracer.StartUpstream(ctx, pr.Route, spec.Method, pr.Path)

	out, attempts, err := s.caller.Do(ctx, pr.Route, spec)
	ev.Attempts = attempts
	if err != nil {
		e := s.transportFailure(pr, err, corr)
		ev.ErrorKind = string(e.Kind)
		resp = s.failure(pr.Route, e, corr)
		tracing.EndUpstream(span, resp.StatusCode, attempts, ev.ErrorKind)
		return resp
	}

	ev.UpstreamStatus = out.StatusCode
	resp, e := s.translate(out, pr.Host, corr)
	if e != nil {
		ev.ErrorKind = string(e.Kind)
		s.countError(pr.Route, e)
	}
	tracing.EndUpstream(span, resp.StatusCode, attempts, ev.ErrorKind)
	return resp
}

// transportFailure maps the final retry error onto timeout, bad_gateway or
// internal_error.
func (s *ProxyService) transportFailure(pr *model.ProxyRequest, err error, corr model.Correlation) *apierror.Error {
	var e *apierror.Error
	var te *client.TransportError
	isTransport := errors.As(err, &te)
	switch {
	case isTransport && te.Timeout():
		s.logger.Warn("timeout contacting upstream", "path", pr.Path, "trace_id", corr.TraceID)
		e = apierror.New(apierror.Timeout, corr.TraceID)
	case isTransport:
		s.logger.Error("request error contacting upstream", "path", pr.Path, "error", err, "trace_id", corr.TraceID)
		e = apierror.New(apierror.BadGateway, corr.TraceID)
	default:
		s.logger.Error("unexpected error contacting upstream", "path", pr.Path, "error", err, "trace_id", corr.TraceID)
		e = apierror.New(apierror.InternalError, corr.TraceID)
	}
	if s.cfg.Proxy.DebugErrors {
		e.Detail = err.Error()
	}
	return e
}

// failure renders e with the gateway's correlation headers.
func (s *ProxyService) failure(route string, e *apierror.Error, corr model.Correlation) *model.ProxyResponse {
	s.countError(route, e)
	return &model.ProxyResponse{
		StatusCode:  e.Status(),
		Header:      responseHeaders(nil, corr),
		ContentType: mimeJSON,
		Body:        e.Body(),
	}
}

func (s *ProxyService) countError(route string, e *apierror.Error) {
	if s.metrics != nil {
		s.metrics.GatewayErrors.WithLabelValues(route, string(e.Kind)).Inc()
	}
}

// BaseURL returns the configured upstream base URL.
func (s *ProxyService) BaseURL() string {
	return s.baseURL.String()
}
