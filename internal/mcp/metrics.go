package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/logging"
)

const meterName = "github.com/fyrsmithlabs/askd/internal/mcp"

// toolMetrics counts tool calls by tool and outcome kind.
type toolMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter, logger *logging.Logger) *toolMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &toolMetrics{}
	var errs []error
	var err error
	m.calls, err = meter.Int64Counter("askd.mcp.tool.calls",
		metric.WithDescription("MCP tool calls by tool and outcome; outcome is ok or an error kind"),
		metric.WithUnit("{call}"))
	errs = append(errs, err)
	m.duration, err = meter.Float64Histogram("askd.mcp.tool.duration",
		metric.WithDescription("MCP tool latency; ask and decide include pipeline execution"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60))
	errs = append(errs, err)
	m.inflight, err = meter.Int64UpDownCounter("askd.mcp.tool.inflight",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{call}"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		logger.Warn(context.Background(), "mcp instruments incomplete", zap.Error(err))
	}
	return m
}

// begin marks a call of tool in flight; the returned function records its
// outcome.
func (m *toolMetrics) begin(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	toolAttr := attribute.String("tool", tool)
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, metric.WithAttributes(toolAttr))
	}
	return func(err error) {
		if m.inflight != nil {
			m.inflight.Add(ctx, -1, metric.WithAttributes(toolAttr))
		}
		outcome := "ok"
		if err != nil {
			outcome = errorKind(err)
		}
		attrs := metric.WithAttributes(toolAttr, attribute.String("outcome", outcome))
		if m.calls != nil {
			m.calls.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
	}
}
