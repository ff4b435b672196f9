package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// resumeActivityOptions bound the resume call. Conflicts and validation
// failures are final.
var resumeActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:        time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        time.Minute,
		MaximumAttempts:        5,
		NonRetryableErrorTypes: []string{errTypeConflict, errTypeValidation},
	},
}

// ApprovalWorkflow waits for the decision on one approval gate and resumes
// the conversation with it.
//
// Signals whose decision does not fit the gate are logged and ignored.
// When Timeout elapses first the gate expires with the gate's default
// decision. Cancellation ends the workflow without resuming.
func ApprovalWorkflow(ctx workflow.Context, in ApprovalInput) (*ApprovalResult, error) {
	logger := workflow.GetLogger(ctx)
	if err := in.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypeValidation, err)
	}
	logger.Info("Waiting for approval decision",
		"conversation_id", in.ConversationID,
		"gate", string(in.Gate),
		"timeout", in.Timeout)

	result := &ApprovalResult{ConversationID: in.ConversationID}

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()
	var timer workflow.Future
	if in.Timeout > 0 {
		timer = workflow.NewTimer(timerCtx, in.Timeout)
	}

	signals := workflow.GetSignalChannel(ctx, DecisionSignal)
	var (
		decision  DecisionPayload
		decided   bool
		cancelled bool
	)
	for !decided && !result.Expired && !cancelled {
		sel := workflow.NewSelector(ctx)
		sel.AddReceive(signals, func(c workflow.ReceiveChannel, _ bool) {
			var p DecisionPayload
			c.Receive(ctx, &p)
			if !in.Gate.Accepts(p.Decision) || p.ApproverID == "" {
				logger.Warn("Ignoring decision signal",
					"conversation_id", in.ConversationID,
					"gate", string(in.Gate),
					"decision", string(p.Decision))
				return
			}
			decision = p
			decided = true
		})
		sel.AddReceive(ctx.Done(), func(workflow.ReceiveChannel, bool) {
			cancelled = true
		})
		if timer != nil {
			sel.AddFuture(timer, func(f workflow.Future) {
				if err := f.Get(ctx, nil); err == nil {
					result.Expired = true
				}
			})
		}
		sel.Select(ctx)
	}
	cancelTimer()

	if cancelled {
		logger.Info("Approval resolved elsewhere", "conversation_id", in.ConversationID)
		result.Cancelled = true
		return result, nil
	}
	if result.Expired {
		decision = DecisionPayload{Decision: in.Gate.expiryDecision(), ApproverID: SystemExpiredApprover}
		logger.Info("Approval expired", "conversation_id", in.ConversationID, "decision", string(decision.Decision))
	}
	result.Decision = decision.Decision
	result.ApproverID = decision.ApproverID

	actx := workflow.WithActivityOptions(ctx, resumeActivityOptions)
	var a *Activities
	var out ResumeOutput
	err := workflow.ExecuteActivity(actx, a.ResumeConversation, ResumeInput{
		ConversationID: in.ConversationID,
		Decision:       decision.Decision,
		ApproverID:     decision.ApproverID,
		Expired:        result.Expired,
	}).Get(ctx, &out)
	if err != nil {
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == errTypeConflict {
			logger.Warn("Conversation already moved on", "conversation_id", in.ConversationID, "error", err)
			result.Conflict = true
			return result, nil
		}
		return result, err
	}
	result.Status = out.Status
	logger.Info("Conversation resumed",
		"conversation_id", in.ConversationID,
		"decision", string(decision.Decision),
		"status", string(out.Status))
	return result, nil
}
