package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry installs in-memory providers as the otel globals for the
// duration of a test. Instruments and tracers must be obtained after it is
// created.
type TestTelemetry struct {
	*Telemetry
	spans  *tracetest.InMemoryExporter
	reader *sdkmetric.ManualReader
}

// NewTestTelemetry replaces the global providers and restores them when tb
// finishes.
func NewTestTelemetry(tb testing.TB) *TestTelemetry {
	tb.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.SampleRate = 1
	tt := &TestTelemetry{spans: tracetest.NewInMemoryExporter(), reader: sdkmetric.NewManualReader()}
	tel, err := New(context.Background(), cfg,
		WithSpanExporter(tt.spans),
		WithMetricReader(tt.reader),
		func(o *options) { o.sync = true },
	)
	if err != nil {
		tb.Fatalf("creating test telemetry: %v", err)
	}
	tt.Telemetry = tel

	tb.Cleanup(func() {
		_ = tel.Shutdown(context.Background())
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
	return tt
}

// SpanNames returns the names of ended spans in end order.
func (t *TestTelemetry) SpanNames() []string {
	var names []string
	for _, s := range t.spans.GetSpans() {
		names = append(names, s.Name)
	}
	return names
}

// Spans returns the ended spans.
func (t *TestTelemetry) Spans() tracetest.SpanStubs {
	return t.spans.GetSpans()
}

// Counter sums every data point of the named int64 counter.
func (t *TestTelemetry) Counter(tb testing.TB, name string) int64 {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collecting metrics: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				tb.Fatalf("metric %s is %T, not an int64 sum", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}
