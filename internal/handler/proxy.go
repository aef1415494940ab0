package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"discogs-gateway/internal/apierror"
	"discogs-gateway/internal/config"
	"discogs-gateway/internal/model"
)

// Forwarder runs the gateway core for one validated call.
type Forwarder interface {
	Forward(ctx context.Context, pr *model.ProxyRequest) *model.ProxyResponse
}

// ProxyHandler validates catalog routes and hands them to the core.
type ProxyHandler struct {
	forwarder     Forwarder
	logger        *slog.Logger
	validate      *validator.Validate
	searchTimeout time.Duration
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(f Forwarder, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("param"); name != "" {
			return name
		}
		return fld.Name
	})
	return &ProxyHandler{
		forwarder:     f,
		logger:        logger.With("component", "proxy_handler"),
		validate:      v,
		searchTimeout: cfg.Upstream.SearchTimeout(),
	}
}

// normalizer is implemented by path structs that rewrite bound values
// before validation.
type normalizer interface {
	normalize()
}

// bindPath fills dst from the route's path parameters and validates it.
// The returned error is ready to write.
func (h *ProxyHandler) bindPath(c echo.Context, dst any) *apierror.Error {
	if err := (&echo.DefaultBinder{}).BindPathParams(c, dst); err != nil {
		return apierror.Invalid("invalid path parameters")
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	err := h.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apierror.Invalid("invalid path parameters")
	}
	return paramError(verrs[0])
}

func paramError(fe validator.FieldError) *apierror.Error {
	name := fe.Field()
	switch {
	case fe.Tag() == "number" || (fe.Tag() == "required" && strings.HasSuffix(name, "_id")):
		return apierror.Invalid(name + " must be an integer")
	case fe.Tag() == "required":
		return apierror.Invalid(name + " is required")
	default:
		return apierror.Invalid(name + " is invalid")
	}
}

// forward builds the ProxyRequest from the inbound call and writes the result.
func (h *ProxyHandler) forward(c echo.Context, route, method, path string, opts ...func(*model.ProxyRequest)) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Route:  route,
		Method: method,
		Path:   path,
		Query:  c.QueryParams(),
		Header: req.Header,
		Host:   req.Host,
	}
	for _, opt := range opts {
		opt(pr)
	}
	if pr.Body == nil && req.Body != nil && method != http.MethodGet && method != http.MethodHead {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			h.logger.Warn("reading request body", "err", err, "path", req.URL.Path)
			return apierror.Invalid("unreadable request body").Write(c)
		}
		pr.Body = body
	}

	return writeResponse(c, h.forwarder.Forward(req.Context(), pr))
}

func withTimeout(d time.Duration) func(*model.ProxyRequest) {
	return func(pr *model.ProxyRequest) { pr.Timeout = d }
}

func withBody(body []byte) func(*model.ProxyRequest) {
	return func(pr *model.ProxyRequest) { pr.Body = body }
}

func requireToken(pr *model.ProxyRequest) { pr.RequireToken = true }

// writeResponse copies the core's response onto the Echo context.
func writeResponse(c echo.Context, resp *model.ProxyResponse) error {
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	if resp.StatusCode == http.StatusNotModified || len(resp.Body) == 0 {
		return c.NoContent(resp.StatusCode)
	}
	ct := resp.ContentType
	if ct == "" {
		ct = echo.MIMEApplicationJSON
	}
	return c.Blob(resp.StatusCode, ct, resp.Body)
}
