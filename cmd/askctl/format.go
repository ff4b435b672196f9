package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// printResult renders res as JSON or as a short human summary.
func printResult(w io.Writer, format string, res *orchestrator.Result) error {
	if format == "json" {
		return printJSON(w, res)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation: %s\n", res.ConversationID)
	fmt.Fprintf(&b, "Status:       %s\n", res.Status)
	if res.PendingReason != "" && res.Status.IsSuspended() {
		fmt.Fprintf(&b, "Pending:      %s\n", res.PendingReason)
	}

	c := res.Context
	if c == nil {
		_, err := io.WriteString(w, b.String())
		return err
	}
	if res.Status == conversation.StatusSuspendedForApproval && len(c.Approval.FlaggedIDs) > 0 {
		fmt.Fprintf(&b, "Flagged:      %s\n", strings.Join(c.Approval.FlaggedIDs, ", "))
	}
	if c.Notice != "" {
		fmt.Fprintf(&b, "\n%s\n", c.Notice)
	}
	if c.Answer != nil {
		fmt.Fprintf(&b, "\n%s\n", c.Answer.Text)
		if len(c.Answer.Citations) > 0 {
			b.WriteString("\nSources:\n")
			for _, cit := range c.Answer.Citations {
				label := cit.Title
				if label == "" {
					label = cit.ID
				}
				if cit.URL != "" {
					label += " <" + cit.URL + ">"
				}
				fmt.Fprintf(&b, "  [%d] %s\n", cit.Index, label)
			}
		}
		if len(c.Answer.FollowUps) > 0 {
			b.WriteString("\nYou might also ask:\n")
			for _, f := range c.Answer.FollowUps {
				fmt.Fprintf(&b, "  - %s\n", f)
			}
		}
	}
	if s := c.Gap.Suggestion; s != nil {
		fmt.Fprintf(&b, "\nKnowledge gap (%s priority): %s\n", s.Priority, s.SuggestedContent.Title)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// formatEvent renders one transition on a single line.
func formatEvent(e orchestrator.Event) string {
	parts := []string{e.At.Format(time.TimeOnly), string(e.Type), string(e.Status)}
	if e.Stage != "" {
		parts = append(parts, "stage="+string(e.Stage))
	}
	if e.Reason != "" {
		parts = append(parts, fmt.Sprintf("reason=%q", e.Reason))
	}
	if e.Decision != "" {
		parts = append(parts, "decision="+string(e.Decision), "by="+e.ApproverID)
	}
	if e.Gap != nil {
		parts = append(parts, "gap="+e.Gap.ID, "priority="+string(e.Gap.Priority))
	}
	return strings.Join(parts, " ")
}
