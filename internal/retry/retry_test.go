package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"discogs-gateway/internal/client"
	"discogs-gateway/internal/config"
	"discogs-gateway/internal/metrics"
	"discogs-gateway/internal/model"
)

type step struct {
	out *model.Outcome
	err error
}

// scriptedDoer replays steps in order and records when each call started.
type scriptedDoer struct {
	steps []step
	calls []time.Time
}

func (d *scriptedDoer) Do(_ context.Context, _ *model.CallSpec) (*model.Outcome, error) {
	d.calls = append(d.calls, time.Now())
	s := d.steps[len(d.calls)-1]
	return s.out, s.err
}

func newTestController(d Doer, unit time.Duration, m *metrics.Metrics) *Controller {
	cfg := &config.Config{Upstream: config.UpstreamConfig{RetryBackoffMillis: int(unit / time.Millisecond)}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(d, cfg, logger, m)
}

var errTimeout = &client.TransportError{Kind: client.KindTimeout, Err: context.DeadlineExceeded}

func TestController_RetriesTransportErrorOnce(t *testing.T) {
	m := metrics.New()
	d := &scriptedDoer{steps: []step{
		{err: errTimeout},
		{out: &model.Outcome{StatusCode: http.StatusOK}},
	}}

	out, attempts, err := newTestController(d, 20*time.Millisecond, m).
		Do(context.Background(), "releases", &model.CallSpec{Method: http.MethodGet, Retryable: true})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 2 || out.Attempts != 2 {
		t.Errorf("attempts = %d (outcome %d), want 2", attempts, out.Attempts)
	}
	if gap := d.calls[1].Sub(d.calls[0]); gap < 20*time.Millisecond {
		t.Errorf("gap between attempts = %v, want >= 20ms", gap)
	}
	if got := testutil.ToFloat64(m.UpstreamRetries.WithLabelValues("releases", "timeout")); got != 1 {
		t.Errorf("retry counter = %v, want 1", got)
	}
}

func TestController_FinalErrorPropagatesUnchanged(t *testing.T) {
	second := &client.TransportError{Kind: client.KindRequest, Err: errors.New("connection refused")}
	d := &scriptedDoer{steps: []step{{err: errTimeout}, {err: second}}}

	_, attempts, err := newTestController(d, time.Millisecond, nil).
		Do(context.Background(), "releases", &model.CallSpec{Method: http.MethodGet, Retryable: true})
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if err != second {
		t.Errorf("err = %v, want the final transport error", err)
	}
}

func TestController_NoRetryWhenNotEligible(t *testing.T) {
	d := &scriptedDoer{steps: []step{{err: errTimeout}}}

	_, attempts, err := newTestController(d, time.Millisecond, nil).
		Do(context.Background(), "marketplace", &model.CallSpec{Method: http.MethodPost})
	if attempts != 1 || len(d.calls) != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1", attempts, len(d.calls))
	}
	if !errors.Is(err, errTimeout) {
		t.Errorf("err = %v, want %v", err, errTimeout)
	}
}

func TestController_NeverRetriesOnStatus(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		d := &scriptedDoer{steps: []step{{out: &model.Outcome{StatusCode: status}}}}

		out, attempts, err := newTestController(d, time.Millisecond, nil).
			Do(context.Background(), "releases", &model.CallSpec{Method: http.MethodGet, Retryable: true})
		if err != nil {
			t.Fatalf("status %d: Do() error = %v", status, err)
		}
		if attempts != 1 || out.StatusCode != status {
			t.Errorf("status %d: attempts = %d, StatusCode = %d", status, attempts, out.StatusCode)
		}
	}
}

func TestController_NonTransportErrorIsPermanent(t *testing.T) {
	buildErr := errors.New("build upstream request: bad method")
	d := &scriptedDoer{steps: []step{{err: buildErr}}}

	_, attempts, err := newTestController(d, time.Millisecond, nil).
		Do(context.Background(), "releases", &model.CallSpec{Method: http.MethodGet, Retryable: true})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, buildErr) {
		t.Errorf("err = %v, want %v", err, buildErr)
	}
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{unit: 250 * time.Millisecond}
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 750 * time.Millisecond}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("NextBackOff() #%d = %v, want %v", i+1, got, w)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != 250*time.Millisecond {
		t.Errorf("after Reset NextBackOff() = %v, want 250ms", got)
	}
}
