package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// EventType names a transition.
type EventType string

// Event types.
const (
	EventStageEntered         EventType = "stage_entered"
	EventApprovalRequested    EventType = "approval_requested"
	EventGapApprovalRequested EventType = "gap_approval_requested"
	EventApprovalDecided      EventType = "approval_decided"
	EventGapPublished         EventType = "gap_published"
	EventFinished             EventType = "finished"
)

// Event describes one transition of a conversation. It never carries
// query text or result content.
type Event struct {
	Type           EventType           `json:"type"`
	ConversationID string              `json:"conversation_id"`
	Status         conversation.Status `json:"status"`
	Stage          conversation.Stage  `json:"stage,omitempty"`
	// Reason and FlaggedIDs are set on approval requests.
	Reason     string   `json:"reason,omitempty"`
	FlaggedIDs []string `json:"flagged_ids,omitempty"`
	// Decision and ApproverID are set on approval decisions.
	Decision   conversation.Decision       `json:"decision,omitempty"`
	ApproverID string                      `json:"approver_id,omitempty"`
	Gap        *conversation.GapSuggestion `json:"gap,omitempty"`
	At         time.Time                   `json:"at"`
}

// Observer receives transition events.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

func (o *Orchestrator) emit(ctx context.Context, c *conversation.Context, typ EventType, mutate func(*Event)) {
	if len(o.observers) == 0 {
		return
	}
	e := Event{
		Type:           typ,
		ConversationID: c.ID,
		Status:         c.Status,
		Stage:          c.Stage,
		At:             o.now(),
	}
	if mutate != nil {
		mutate(&e)
	}
	for _, obs := range o.observers {
		obs.Observe(ctx, e)
	}
}

// publicGap returns the counters and identity of s. Fields holding query
// text or the query vector stay in the snapshot and the gap store.
func publicGap(s *conversation.GapSuggestion) *conversation.GapSuggestion {
	if s == nil {
		return nil
	}
	return &conversation.GapSuggestion{
		ID:                s.ID,
		ConversationID:    s.ConversationID,
		TopicKey:          s.TopicKey,
		Priority:          s.Priority,
		SuggestedAction:   s.SuggestedAction,
		RequestCount:      s.RequestCount,
		AvgTopScore:       s.AvgTopScore,
		UniqueRequesters:  s.UniqueRequesters,
		DetectedAt:        s.DetectedAt,
		SourceCount:       s.SourceCount,
		ApprovalRequested: s.ApprovalRequested,
	}
}
