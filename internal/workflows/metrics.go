package workflows

import (
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/fyrsmithlabs/askd/internal/workflows"

// workflowMetrics are shared by workflows and activities, which Temporal
// constructs without access to the Starter.
type workflowMetrics struct {
	started   metric.Int64Counter
	resumed   metric.Int64Counter
	cancelled metric.Int64Counter
	duration  metric.Float64Histogram
	failures  metric.Int64Counter
}

var meters = newWorkflowMetrics(otel.Meter(meterName))

// newWorkflowMetrics reports registration errors to the otel error handler;
// the returned instruments are usable either way.
func newWorkflowMetrics(m metric.Meter) *workflowMetrics {
	var wm workflowMetrics
	var errs [5]error
	wm.started, errs[0] = m.Int64Counter("askd.workflows.approval.started",
		metric.WithDescription("Approval workflows started"), metric.WithUnit("{workflow}"))
	wm.resumed, errs[1] = m.Int64Counter("askd.workflows.approval.resumed",
		metric.WithDescription("Conversations resumed by an approval workflow"), metric.WithUnit("{resume}"))
	wm.cancelled, errs[2] = m.Int64Counter("askd.workflows.approval.cancelled",
		metric.WithDescription("Approval workflows cancelled after the gate was resolved through the API"), metric.WithUnit("{workflow}"))
	wm.duration, errs[3] = m.Float64Histogram("askd.workflows.activity.duration",
		metric.WithDescription("Activity execution time"), metric.WithUnit("s"))
	wm.failures, errs[4] = m.Int64Counter("askd.workflows.activity.failures",
		metric.WithDescription("Activity executions that returned an error"), metric.WithUnit("{error}"))
	if err := errors.Join(errs[:]...); err != nil {
		otel.Handle(err)
	}
	return &wm
}
