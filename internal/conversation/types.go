package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Stage names a single step of the pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageUnderstand Stage = "understand"
	StageEmbed      Stage = "embed"
	StageSearch     Stage = "search"
	StageFilter     Stage = "filter"
	StageRerank     Stage = "rerank"
	StageSynthesize Stage = "synthesize"
	StageLog        Stage = "log"
	StageGapDetect  Stage = "gapDetect"
)

var stageOrder = []Stage{
	StageUnderstand,
	StageEmbed,
	StageSearch,
	StageFilter,
	StageRerank,
	StageSynthesize,
	StageLog,
	StageGapDetect,
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.index() >= 0
}

// Next returns the stage that follows s. The second return is false for the
// last stage and for unknown stages.
func (s Stage) Next() (Stage, bool) {
	i := s.index()
	if i < 0 || i == len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[i+1], true
}

// Before reports whether s executes strictly before other.
func (s Stage) Before(other Stage) bool {
	return s.index() < other.index()
}

func (s Stage) index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Status is the lifecycle state of a conversation.
type Status string

// Conversation statuses.
const (
	StatusRunning                 Status = "running"
	StatusSuspendedForApproval    Status = "suspended_for_approval"
	StatusSuspendedForGapApproval Status = "suspended_for_gap_approval"
	StatusCompleted               Status = "completed"
	StatusRejected                Status = "rejected"
	StatusCancelled               Status = "cancelled"
	StatusFailed                  Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled, StatusFailed:
		return true
	case StatusRunning, StatusSuspendedForApproval, StatusSuspendedForGapApproval:
		return false
	}
	return false
}

// IsSuspended reports whether the conversation waits for an external decision.
func (s Status) IsSuspended() bool {
	switch s {
	case StatusSuspendedForApproval, StatusSuspendedForGapApproval:
		return true
	case StatusRunning, StatusCompleted, StatusRejected, StatusCancelled, StatusFailed:
		return false
	}
	return false
}

// ApprovalStatus tracks the access-control gate.
type ApprovalStatus string

// Approval states. Transitions are none -> pending -> {approved, rejected}.
const (
	ApprovalNone     ApprovalStatus = "none"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// GapApprovalStatus tracks the secondary gap-publication gate.
type GapApprovalStatus string

// Gap approval states.
const (
	GapApprovalNone         GapApprovalStatus = "none"
	GapApprovalPending      GapApprovalStatus = "pending"
	GapApprovalAcknowledged GapApprovalStatus = "acknowledged"
)

// Decision is an external decision delivered on resume.
type Decision string

// Decisions accepted by resume.
const (
	DecisionApproved    Decision = "approved"
	DecisionRejected    Decision = "rejected"
	DecisionAcknowledge Decision = "acknowledge"
)

// ParseDecision parses a decision name, case-insensitively.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionApproved, DecisionRejected, DecisionAcknowledge:
		return d, nil
	}
	return "", &ValidationError{Field: "decision", Reason: fmt.Sprintf("unknown decision %q", s)}
}

// Tier is the sensitivity classification of a retrieved item.
type Tier string

// Sensitivity tiers.
const (
	TierPublic       Tier = "public"
	TierInternal     Tier = "internal"
	TierConfidential Tier = "confidential"
	TierRestricted   Tier = "restricted"
)

// ParseTier parses a tier name. Unknown names return false.
func ParseTier(s string) (Tier, bool) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierPublic, TierInternal, TierConfidential, TierRestricted:
		return t, true
	}
	return Tier(s), false
}

// Known reports whether t is one of the defined tiers.
func (t Tier) Known() bool {
	switch t {
	case TierPublic, TierInternal, TierConfidential, TierRestricted:
		return true
	}
	return false
}

// Employment types recognised by the permission policy.
const (
	EmploymentEmployee   = "employee"
	EmploymentContractor = "contractor"
	EmploymentVendor     = "vendor"
	EmploymentThirdParty = "third_party"
)

// DefaultLocation is assumed when a requester omits a location.
const DefaultLocation = "US"

// Requester identifies the person asking.
type Requester struct {
	ID             string   `json:"id"`
	Teams          []string `json:"teams,omitempty"`
	Location       string   `json:"location,omitempty"`
	EmploymentType string   `json:"employment_type,omitempty"`
}

// WithDefaults fills in location and employment type when omitted.
func (r Requester) WithDefaults() Requester {
	if r.Location == "" {
		r.Location = DefaultLocation
	}
	if r.EmploymentType == "" {
		r.EmploymentType = EmploymentEmployee
	}
	return r
}

// Understanding is the output of the understand stage.
type Understanding struct {
	Intent      string   `json:"intent"`
	Entities    []string `json:"entities,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	SourceHints []string `json:"source_hints,omitempty"`
}

// Candidate is one retrieved item together with its access metadata.
type Candidate struct {
	ID                   string         `json:"id"`
	Score                float32        `json:"score"`
	Tier                 Tier           `json:"tier"`
	Teams                []string       `json:"teams,omitempty"`
	Users                []string       `json:"users,omitempty"`
	GeoRestricted        bool           `json:"geo_restricted,omitempty"`
	ThirdPartyRestricted bool           `json:"third_party_restricted,omitempty"`
	Title                string         `json:"title,omitempty"`
	Content              string         `json:"content,omitempty"`
	Source               string         `json:"source,omitempty"`
	URL                  string         `json:"url,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
}

// Descriptor returns the non-sensitive label for c: its title, or its id.
func (c Candidate) Descriptor() string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

// SearchFilters are metadata predicates pushed down to the retrieval service.
type SearchFilters struct {
	Sources []string `json:"sources,omitempty"`
}

// Citation links a marker in the answer text to a candidate.
type Citation struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Answer is the synthesized response.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	FollowUps []string   `json:"follow_ups,omitempty"`
	// Fallback is set when the extractive template produced the text.
	Fallback bool `json:"fallback,omitempty"`
}

// CitedIDs returns the candidate ids referenced by the answer.
func (a *Answer) CitedIDs() []string {
	if a == nil {
		return nil
	}
	ids := make([]string, 0, len(a.Citations))
	for _, c := range a.Citations {
		ids = append(ids, c.ID)
	}
	return ids
}

// Approval is the state of the access-control gate.
type Approval struct {
	Required   bool           `json:"required"`
	Status     ApprovalStatus `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	FlaggedIDs []string       `json:"flagged_ids,omitempty"`
	ApproverID string         `json:"approver_id,omitempty"`
	DecidedAt  *time.Time     `json:"decided_at,omitempty"`
}

// Priority ranks a gap suggestion.
type Priority string

// Gap priorities.
const (
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// SuggestedContent describes the documentation a gap suggestion asks for.
type SuggestedContent struct {
	Title             string   `json:"title"`
	Topics            []string `json:"topics,omitempty"`
	QuestionsToAnswer []string `json:"questions_to_answer,omitempty"`
}

// GapSuggestion is the advisory produced when a topic keeps failing.
type GapSuggestion struct {
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversation_id"`
	Topic             string           `json:"topic"`
	TopicKey          string           `json:"topic_key"`
	QueryPattern      string           `json:"query_pattern"`
	Priority          Priority         `json:"priority"`
	SuggestedAction   string           `json:"suggested_action"`
	SuggestedContent  SuggestedContent `json:"suggested_content"`
	RequestCount      int              `json:"request_count"`
	AvgTopScore       float64          `json:"avg_top_score"`
	UniqueRequesters  int              `json:"unique_requesters"`
	DetectedAt        time.Time        `json:"detected_at"`
	SourceCount       int              `json:"source_count"`
	ApprovalRequested bool             `json:"approval_requested,omitempty"`
	// Embedding is the query vector, used to index the suggestion.
	Embedding []float32 `json:"embedding,omitempty"`
}

// Gap is the outcome of the gapDetect stage.
type Gap struct {
	Detected          bool              `json:"detected"`
	Suggestion        *GapSuggestion    `json:"suggestion,omitempty"`
	GapApprovalStatus GapApprovalStatus `json:"gap_approval_status"`
	AcknowledgedBy    string            `json:"acknowledged_by,omitempty"`
	Published         bool              `json:"published,omitempty"`
}

// StageError is one entry of the append-only error log.
type StageError struct {
	Stage       Stage     `json:"stage"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Attempts    int       `json:"attempts,omitempty"`
	At          time.Time `json:"at"`
}
