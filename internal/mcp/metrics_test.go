package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

func TestToolMetrics_Outcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter(meterName)
	m := newToolMetrics(meter, logging.NewNop())
	ctx := context.Background()

	m.begin(ctx, "ask")(nil)
	m.begin(ctx, "ask")(&conversation.ValidationError{Field: "query", Reason: "must not be empty"})
	pending := m.begin(ctx, "decide")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	calls := map[string]int64{}
	inflight := map[string]int64{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		sum, ok := metric.Data.(metricdata.Sum[int64])
		if !ok {
			continue
		}
		for _, dp := range sum.DataPoints {
			tool, _ := dp.Attributes.Value(attribute.Key("tool"))
			switch metric.Name {
			case "askd.mcp.tool.calls":
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				calls[tool.AsString()+" "+outcome.AsString()] += dp.Value
			case "askd.mcp.tool.inflight":
				inflight[tool.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"ask ok": 1, "ask " + conversation.KindValidation: 1}, calls)
	assert.Equal(t, map[string]int64{"ask": 0, "decide": 1}, inflight)

	pending(nil)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &conversation.ValidationError{Field: "decision", Reason: "unknown"}, conversation.KindValidation},
		{"conflict", &conversation.StateConflictError{ConversationID: "c1", Reason: "not suspended"}, conversation.KindStateConflict},
		{"upstream", conversation.NewUpstreamError("llm", "generate", errors.New("boom")), conversation.KindUpstream},
		{"configuration", &conversation.ConfigurationError{Key: "gaps.min_requests", Reason: "must be positive"}, conversation.KindConfiguration},
		{"not found", fmt.Errorf("%w: c1", orchestrator.ErrNotFound), "not_found"},
		{"internal", errors.New("something went wrong"), conversation.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorKind(tt.err))
		})
	}
}
