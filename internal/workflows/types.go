package workflows

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// Names shared by the worker, the starter and API callers.
const (
	ApprovalWorkflowName = "ApprovalWorkflow"
	DecisionSignal       = "approval-decision"
	// SystemExpiredApprover is recorded when the timeout decided.
	SystemExpiredApprover = "system:expired"
)

// Application error types that are not worth retrying.
const (
	errTypeConflict   = "StateConflict"
	errTypeValidation = "Validation"
)

// Gate identifies which approval a workflow waits for.
type Gate string

// Gates.
const (
	GateAccess Gate = "access"
	GateGap    Gate = "gap"
)

// GateFor returns the gate of a suspended status.
func GateFor(s conversation.Status) (Gate, bool) {
	switch s {
	case conversation.StatusSuspendedForApproval:
		return GateAccess, true
	case conversation.StatusSuspendedForGapApproval:
		return GateGap, true
	case conversation.StatusRunning, conversation.StatusCompleted, conversation.StatusRejected,
		conversation.StatusCancelled, conversation.StatusFailed:
	}
	return "", false
}

// Accepts reports whether d resolves the gate.
func (g Gate) Accepts(d conversation.Decision) bool {
	switch g {
	case GateAccess:
		return d == conversation.DecisionApproved || d == conversation.DecisionRejected
	case GateGap:
		return d == conversation.DecisionAcknowledge
	}
	return false
}

// expiryDecision is applied when nobody decided in time.
func (g Gate) expiryDecision() conversation.Decision {
	if g == GateGap {
		return conversation.DecisionAcknowledge
	}
	return conversation.DecisionRejected
}

// WorkflowID returns the workflow id of the gate of a conversation.
func WorkflowID(conversationID string, g Gate) string {
	return fmt.Sprintf("approval-%s-%s", conversationID, g)
}

// ApprovalInput starts an ApprovalWorkflow.
type ApprovalInput struct {
	ConversationID string
	Gate           Gate
	// Timeout is how long to wait for a decision. Zero waits forever.
	Timeout time.Duration
}

// Validate checks the input.
func (in ApprovalInput) Validate() error {
	if in.ConversationID == "" {
		return fmt.Errorf("ConversationID is required")
	}
	if in.Gate != GateAccess && in.Gate != GateGap {
		return fmt.Errorf("unknown gate %q", in.Gate)
	}
	if in.Timeout < 0 {
		return fmt.Errorf("Timeout must not be negative")
	}
	return nil
}

// DecisionPayload is the body of the decision signal.
type DecisionPayload struct {
	Decision   conversation.Decision
	ApproverID string
}

// ApprovalResult reports how a gate was resolved.
type ApprovalResult struct {
	ConversationID string
	Decision       conversation.Decision
	ApproverID     string
	Expired        bool
	// Cancelled is set when the gate was resolved outside the workflow.
	Cancelled bool
	// Conflict is set when the conversation had already moved on.
	Conflict bool
	// Status is the conversation status after the resume.
	Status conversation.Status
}

// ResumeInput is the input of the ResumeConversation activity.
type ResumeInput struct {
	ConversationID string
	Decision       conversation.Decision
	ApproverID     string
	Expired        bool
}

// ResumeOutput is the result of the ResumeConversation activity.
type ResumeOutput struct {
	Status conversation.Status
}
