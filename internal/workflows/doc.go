// Package workflows runs approval gates as Temporal workflows.
//
// When a conversation suspends, Starter launches an ApprovalWorkflow for
// it. The workflow waits for a decision signal and then resumes the
// conversation through the ResumeConversation activity. With a timeout
// configured, an approval that nobody decides is resolved by the system:
// access requests are rejected and gap suggestions acknowledged, both
// recorded with approver "system:expired".
//
// Decisions made directly through the API cancel the waiting workflow.
package workflows
