package manytomorph

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rezakhademix/manytomorph/internal/logging"
)

const tracerName = "manytomorph"

// Query kinds, as reported in logs and the queries_total metric.
const (
	kindPivotSelect  = "pivot_select"
	kindPivotInsert  = "pivot_insert"
	kindPivotUpdate  = "pivot_update"
	kindPivotDelete  = "pivot_delete"
	kindTargetSelect = "target_select"
	kindNestedSelect = "nested_select"
	kindCountSelect  = "count_select"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manytomorph",
		Name:      "queries_total",
		Help:      "Number of queries issued by many-to-morph relations, by kind.",
	}, []string{"kind"})

	batchKeys = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "manytomorph",
		Name:      "batch_keys",
		Help:      "Number of keys per batched target query.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// SetLogger replaces the logger used for query and resolution events.
func SetLogger(logger zerolog.Logger) {
	logging.SetGlobalLogger(logger)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
