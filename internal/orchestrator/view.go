package orchestrator

import "github.com/fyrsmithlabs/askd/internal/conversation"

// View returns the copy of c a caller may see. The embedding and the raw
// candidate set are never exposed. Sensitive results appear only after
// approval, and a rejected conversation shows the safe partition only
// when ExposeFilteredOnReject is set.
func (o *Orchestrator) View(c *conversation.Context) *conversation.Context {
	v := c.Clone()
	v.Embedding = nil
	v.RawResults = nil
	if v.Gap.Suggestion != nil {
		v.Gap.Suggestion.Embedding = nil
	}
	if v.Approval.Status != conversation.ApprovalApproved {
		v.SensitiveResults = nil
	}
	if v.Status == conversation.StatusRejected && !o.cfg.ExposeFilteredOnReject {
		v.FilteredResults = nil
	}
	return v
}
