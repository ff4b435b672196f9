package workflows

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// DefaultTaskQueue is the task queue approval workflows run on.
const DefaultTaskQueue = "askd-approvals"

// WorkflowClient is the part of client.Client used by Starter.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
	CancelWorkflow(ctx context.Context, workflowID string, runID string) error
}

// StarterConfig configures Starter.
type StarterConfig struct {
	TaskQueue string
	// ApprovalTimeout is passed to every workflow. Zero waits forever.
	ApprovalTimeout time.Duration
}

// Starter is an orchestrator.Observer that runs an ApprovalWorkflow for
// every suspension and cancels it when the gate is resolved through the
// API instead.
type Starter struct {
	client WorkflowClient
	cfg    StarterConfig
	logger *logging.Logger
}

var _ orchestrator.Observer = (*Starter)(nil)

// NewStarter creates a Starter.
func NewStarter(c WorkflowClient, cfg StarterConfig, logger *logging.Logger) (*Starter, error) {
	if c == nil {
		return nil, errors.New("temporal client is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.TaskQueue == "" {
		cfg.TaskQueue = DefaultTaskQueue
	}
	if cfg.ApprovalTimeout < 0 {
		return nil, &conversation.ConfigurationError{Key: "temporal.approval_timeout", Reason: "must not be negative"}
	}
	return &Starter{client: c, cfg: cfg, logger: logger.Named("workflows")}, nil
}

// Observe implements orchestrator.Observer.
func (s *Starter) Observe(ctx context.Context, e orchestrator.Event) {
	switch e.Type {
	case orchestrator.EventApprovalRequested:
		s.start(ctx, e.ConversationID, GateAccess)
	case orchestrator.EventGapApprovalRequested:
		s.start(ctx, e.ConversationID, GateGap)
	case orchestrator.EventApprovalDecided:
		if isFromWorkflow(ctx) {
			return
		}
		gate := GateAccess
		if e.Decision == conversation.DecisionAcknowledge {
			gate = GateGap
		}
		s.cancel(ctx, WorkflowID(e.ConversationID, gate))
	case orchestrator.EventFinished:
		if e.Status == conversation.StatusCancelled {
			s.cancel(ctx, WorkflowID(e.ConversationID, GateAccess))
			s.cancel(ctx, WorkflowID(e.ConversationID, GateGap))
		}
	case orchestrator.EventStageEntered, orchestrator.EventGapPublished:
	}
}

// Decide signals the workflow waiting on gate of a conversation.
func (s *Starter) Decide(ctx context.Context, conversationID string, gate Gate, d conversation.Decision, approverID string) error {
	if !gate.Accepts(d) {
		return &conversation.ValidationError{Field: "decision", Reason: "does not resolve the " + string(gate) + " gate"}
	}
	err := s.client.SignalWorkflow(ctx, WorkflowID(conversationID, gate), "", DecisionSignal, DecisionPayload{
		Decision:   d,
		ApproverID: approverID,
	})
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return &conversation.StateConflictError{ConversationID: conversationID, Reason: "no approval is waiting"}
		}
		return conversation.NewUpstreamError("temporal", "signal", err)
	}
	return nil
}

func (s *Starter) start(ctx context.Context, conversationID string, gate Gate) {
	id := WorkflowID(conversationID, gate)
	opts := client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: s.cfg.TaskQueue,
	}
	in := ApprovalInput{ConversationID: conversationID, Gate: gate, Timeout: s.cfg.ApprovalTimeout}
	run, err := s.client.ExecuteWorkflow(ctx, opts, ApprovalWorkflowName, in)
	if err != nil {
		s.logger.Error(ctx, "starting approval workflow failed",
			zap.String("conversation_id", conversationID),
			zap.String("gate", string(gate)),
			zap.Error(err))
		return
	}
	meters.started.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", string(gate))))
	s.logger.Info(ctx, "approval workflow started",
		zap.String("conversation_id", conversationID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()))
}

func (s *Starter) cancel(ctx context.Context, workflowID string) {
	err := s.client.CancelWorkflow(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if !errors.As(err, &notFound) {
			s.logger.Warn(ctx, "cancelling approval workflow failed",
				zap.String("workflow_id", workflowID), zap.Error(err))
		}
		return
	}
	meters.cancelled.Add(ctx, 1)
	s.logger.Debug(ctx, "approval workflow cancelled", zap.String("workflow_id", workflowID))
}

// Register registers the approval workflow and activities on w.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflowWithOptions(ApprovalWorkflow, workflowRegisterOptions())
	w.RegisterActivity(acts)
}

func workflowRegisterOptions() workflow.RegisterOptions {
	return workflow.RegisterOptions{Name: ApprovalWorkflowName}
}
