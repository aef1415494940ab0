// Package retry repeats idempotent upstream calls after transport failures.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"discogs-gateway/internal/client"
	"discogs-gateway/internal/config"
	"discogs-gateway/internal/metrics"
	"discogs-gateway/internal/model"
)

// MaxAttempts is the total number of upstream attempts for a retryable call.
const MaxAttempts = 2

// Doer performs a single upstream attempt.
type Doer interface {
	Do(ctx context.Context, spec *model.CallSpec) (*model.Outcome, error)
}

// Controller wraps a Doer with a bounded linear backoff.
type Controller struct {
	doer    Doer
	unit    time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewController creates a Controller. The metrics parameter may be nil.
func NewController(doer Doer, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		doer:    doer,
		unit:    cfg.Upstream.RetryBackoffUnit(),
		logger:  logger.With("component", "retry"),
		metrics: m,
	}
}

// Do runs spec against the upstream. A received response of any status ends
// the loop. When spec.Retryable is set, a *client.TransportError on the first
// attempt is followed by a wait of unit*attempt and one more attempt; the
// error from the final attempt is returned unchanged.
//
// The returned count is the number of attempts made, also on failure.
func (c *Controller) Do(ctx context.Context, route string, spec *model.CallSpec) (*model.Outcome, int, error) {
	retries := uint64(0)
	if spec.Retryable {
		retries = MaxAttempts - 1
	}
	policy := backoff.WithMaxRetries(&linearBackOff{unit: c.unit}, retries)

	var (
		out      *model.Outcome
		attempts int
	)
	op := func() error {
		attempts++
		res, err := c.doer.Do(ctx, spec)
		if err != nil {
			var te *client.TransportError
			if errors.As(err, &te) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		kind := errorKind(err)
		c.logger.Warn("transient upstream failure, retrying",
			"route", route,
			"attempt", attempts,
			"backoff", wait,
			"error_type", kind,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.UpstreamRetries.WithLabelValues(route, kind).Inc()
		}
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, attempts, err
	}
	out.Attempts = attempts
	return out, attempts, nil
}

func errorKind(err error) string {
	var te *client.TransportError
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	return "unknown"
}

// linearBackOff waits unit*n before the n-th retry.
type linearBackOff struct {
	unit time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.unit * time.Duration(b.n)
}

func (b *linearBackOff) Reset() { b.n = 0 }
