package workflows

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestWorkflowMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m := newWorkflowMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	ctx := context.Background()

	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", string(GateAccess))))
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", string(GateGap))))
	m.failures.Add(ctx, 1)
	m.duration.Record(ctx, 0.2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	got := map[string]metricdata.Metrics{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		got[md.Name] = md
	}
	started, ok := got["askd.workflows.approval.started"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, started.DataPoints, 2)
	assert.Contains(t, got, "askd.workflows.activity.failures")
	assert.Contains(t, got, "askd.workflows.activity.duration")
	assert.NotContains(t, got, "askd.workflows.approval.resumed", "unused instruments export nothing")
}
