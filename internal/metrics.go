package internal

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Prometheus metrics (registered with the default registry, served by promhttp).
var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antiprimes_mailbox_submissions_total",
		Help: "Mailbox submissions by result",
	}, []string{"result"})

	submitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "antiprimes_mailbox_wait_seconds",
		Help:    "Time callers spent blocked waiting for the mailbox slot",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 0.1ms to ~26s
	})

	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "antiprimes_sequence_appends_total",
		Help: "Antiprimes appended to the sequence",
	})

	discardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antiprimes_sequence_discards_total",
		Help: "Worker results discarded instead of appended, by reason",
	}, []string{"reason"})

	sequenceLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "antiprimes_sequence_length",
		Help: "Number of elements in the sequence after its last append or reset",
	})

	workerRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "antiprimes_worker_restarts_total",
		Help: "Worker restarts performed by the owner",
	})
)

// OpenTelemetry instrumentation scope for worker computations. The tracer is
// looked up per span so a provider installed after init is honoured.
const instrumentationName = "antiprimes.worker"

var (
	meter = otel.Meter(instrumentationName)

	oracleDuration metric.Float64Histogram
	metricsOnce    sync.Once
	metricsErr     error
)

// initMetrics initializes the otel instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		oracleDuration, metricsErr = meter.Float64Histogram(
			"antiprimes_oracle_duration_seconds",
			metric.WithDescription("Duration of oracle successor searches"),
			metric.WithUnit("s"),
		)
	})
	return metricsErr
}

// startComputeSpan creates a span for one oracle computation.
func startComputeSpan(ctx context.Context, req Request) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "Worker.Compute",
		trace.WithAttributes(
			attribute.String("antiprimes.request_id", req.ID),
			attribute.Int64("antiprimes.base.value", int64(req.Base.Value)),
			attribute.Int64("antiprimes.base.divisors", int64(req.Base.Divisors)),
			attribute.Int64("antiprimes.epoch", int64(req.Epoch)),
		),
	)
}

// endComputeSpan records the outcome on the span and ends it.
func endComputeSpan(span trace.Span, result AntiPrime, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Int64("antiprimes.result.value", int64(result.Value)),
			attribute.Int64("antiprimes.result.divisors", int64(result.Divisors)),
		)
	}
	span.End()
}

// recordComputeDuration records an oracle duration on the otel histogram.
func recordComputeDuration(ctx context.Context, d time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	oracleDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}
