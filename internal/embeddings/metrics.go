package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/logging"
)

const meterName = "github.com/fyrsmithlabs/askd/internal/embeddings"

// instrumented records latency, batch size and failures for every call of
// the wrapped provider. Instruments that fail to register are skipped.
type instrumented struct {
	Provider
	model    string
	duration metric.Float64Histogram
	texts    metric.Int64Histogram
	failures metric.Int64Counter
}

func instrument(p Provider, model string, meter metric.Meter, logger *logging.Logger) *instrumented {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	i := &instrumented{Provider: p, model: model}
	var err error
	warn := func(name string) {
		if err != nil {
			logger.Warn(context.Background(), "embedding instrument unavailable", zap.String("instrument", name), zap.Error(err))
		}
	}

	i.duration, err = meter.Float64Histogram("askd.embeddings.duration",
		metric.WithDescription("Time spent producing embeddings"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	warn("duration")
	i.texts, err = meter.Int64Histogram("askd.embeddings.texts",
		metric.WithDescription("Texts embedded per call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 8, 32, 64, 128, 256),
	)
	warn("texts")
	i.failures, err = meter.Int64Counter("askd.embeddings.failures",
		metric.WithDescription("Embedding calls that returned an error"),
		metric.WithUnit("{call}"),
	)
	warn("failures")
	return i
}

func (i *instrumented) record(ctx context.Context, op string, start time.Time, n int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", i.model), attribute.String("operation", op))
	if i.duration != nil {
		i.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if i.texts != nil {
		i.texts.Record(ctx, int64(n), attrs)
	}
	if err != nil && i.failures != nil {
		i.failures.Add(ctx, 1, attrs)
	}
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := i.Provider.EmbedQuery(ctx, text)
	i.record(ctx, "query", start, 1, err)
	return v, err
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vs, err := i.Provider.EmbedDocuments(ctx, texts)
	i.record(ctx, "documents", start, len(texts), err)
	return vs, err
}
