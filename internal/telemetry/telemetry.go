// Package telemetry emits one structured event per forwarded call.
package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"discogs-gateway/internal/metrics"
	"discogs-gateway/internal/model"
)

// DefaultBufferSize is the queue length used when New is given a non-positive size.
const DefaultBufferSize = 1024

// Event describes a single forwarded call.
type Event struct {
	Route          string
	Entity         string
	Method         string
	Status         int
	UpstreamStatus int
	Elapsed        time.Duration
	Attempts       int
	// ErrorKind is the caller-facing error kind, empty on success.
	ErrorKind   string
	Correlation model.Correlation
}

// Emitter delivers events to the log sink from a background worker. Emit never
// blocks and never panics; events are dropped when the queue is full.
// A nil *Emitter discards everything.
type Emitter struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	queue   chan Event

	closed  atomic.Bool
	dropped atomic.Int64
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// New creates an Emitter and starts its worker. The metrics parameter may be nil.
func New(logger *slog.Logger, m *metrics.Metrics, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	e := &Emitter{
		logger:  logger.With("component", "telemetry"),
		metrics: m,
		queue:   make(chan Event, bufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit queues ev for delivery.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if e.closed.Load() {
		e.drop()
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.drop()
	}
}

// Dropped returns the number of events that were not delivered.
func (e *Emitter) Dropped() int64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// Close stops accepting events, drains the queue and waits for the worker.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.once.Do(func() {
		e.closed.Store(true)
		close(e.stopCh)
	})
	<-e.doneCh
}

func (e *Emitter) drop() {
	e.dropped.Add(1)
	if e.metrics != nil {
		e.metrics.TelemetryDropped.Inc()
	}
}

func (e *Emitter) run() {
	defer close(e.doneCh)
	for {
		select {
		case ev := <-e.queue:
			e.deliver(ev)
		case <-e.stopCh:
			for {
				select {
				case ev := <-e.queue:
					e.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.drop()
		}
	}()

	attrs := []any{
		"event", "discogs_proxy_call",
		"route", ev.Route,
		"entity", ev.Entity,
		"method", ev.Method,
		"status", ev.Status,
		"elapsed_ms", float64(ev.Elapsed.Microseconds()) / 1000,
		"attempts", ev.Attempts,
	}
	if ev.UpstreamStatus != 0 {
		attrs = append(attrs, "upstream_status", ev.UpstreamStatus)
	}
	if ev.ErrorKind != "" {
		attrs = append(attrs, "error", ev.ErrorKind)
	}
	attrs = append(attrs, ev.Correlation.Attrs()...)

	e.logger.Info("discogs proxy call", attrs...)
	if e.metrics != nil {
		e.metrics.TelemetryEvents.Inc()
	}
}
