package workflows

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// Resumer delivers decisions to suspended conversations.
// *orchestrator.Orchestrator implements it.
type Resumer interface {
	Resume(ctx context.Context, id string, decision conversation.Decision, approverID string) (*orchestrator.Result, error)
}

// Activities holds the dependencies of the approval activities.
type Activities struct {
	Resumer Resumer
}

// ResumeConversation applies the decision carried by the workflow.
func (a *Activities) ResumeConversation(ctx context.Context, in ResumeInput) (ResumeOutput, error) {
	logger := activity.GetLogger(ctx)
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("activity", "resume_conversation"))
	defer func() {
		meters.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	logger.Info("Resuming conversation",
		"conversation_id", in.ConversationID,
		"decision", string(in.Decision),
		"expired", in.Expired)

	res, err := a.Resumer.Resume(fromWorkflow(ctx), in.ConversationID, in.Decision, in.ApproverID)
	if err != nil {
		meters.failures.Add(ctx, 1, attrs)
		return ResumeOutput{}, activityError("failed to resume conversation", err)
	}
	meters.resumed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", string(in.Decision)),
		attribute.Bool("expired", in.Expired),
	))
	return ResumeOutput{Status: res.Status}, nil
}

type workflowKey struct{}

// fromWorkflow marks ctx as carrying a decision made by an approval
// workflow, so Starter does not cancel the workflow that made it.
func fromWorkflow(ctx context.Context) context.Context {
	return context.WithValue(ctx, workflowKey{}, true)
}

func isFromWorkflow(ctx context.Context) bool {
	v, _ := ctx.Value(workflowKey{}).(bool)
	return v
}
