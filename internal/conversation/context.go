package conversation

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// RejectionNotice is the response text of a rejected conversation.
const RejectionNotice = "Access to some results was denied due to permissions. " +
	"Please contact your administrator if you believe you should have access."

// Context is the versioned record carrying one query through the pipeline.
//
// ID, Query and Requester never change after New. Version is bumped by the
// orchestrator on every persisted write and is used for compare-and-swap.
type Context struct {
	ID        string    `json:"conversation_id"`
	Query     string    `json:"query"`
	Requester Requester `json:"requester"`

	Version int64  `json:"version"`
	Status  Status `json:"status"`
	// Stage is the stage currently executing, or the last one executed
	// once the conversation has stopped.
	Stage              Stage `json:"stage"`
	LastCompletedStage Stage `json:"last_completed_stage,omitempty"`

	Understanding    *Understanding `json:"understanding,omitempty"`
	Embedding        []float32      `json:"embedding,omitempty"`
	RawResults       []Candidate    `json:"raw_results,omitempty"`
	FilteredResults  []Candidate    `json:"filtered_results,omitempty"`
	SensitiveResults []Candidate    `json:"sensitive_results,omitempty"`
	HiddenCount      int            `json:"hidden_count,omitempty"`
	RankedResults    []Candidate    `json:"ranked_results,omitempty"`
	Answer           *Answer        `json:"answer,omitempty"`
	Notice           string         `json:"notice,omitempty"`

	Approval Approval `json:"approval"`
	Gap      Gap      `json:"gap"`

	ExecutionPath []Stage      `json:"execution_path"`
	Errors        []StageError `json:"errors,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ValidateRequest checks the inputs of a new conversation.
func ValidateRequest(query string, r Requester) error {
	if strings.TrimSpace(query) == "" {
		return &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.ID) == "" {
		return &ValidationError{Field: "requester.id", Reason: "must not be empty"}
	}
	return nil
}

// New creates a conversation in RUNNING(understand).
func New(id, query string, r Requester, now time.Time) (*Context, error) {
	if id == "" {
		return nil, &ValidationError{Field: "conversation_id", Reason: "must not be empty"}
	}
	if err := ValidateRequest(query, r); err != nil {
		return nil, err
	}
	return &Context{
		ID:            id,
		Query:         query,
		Requester:     r.WithDefaults(),
		Status:        StatusRunning,
		Stage:         StageUnderstand,
		Approval:      Approval{Status: ApprovalNone},
		Gap:           Gap{GapApprovalStatus: GapApprovalNone},
		ExecutionPath: []Stage{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Enter records that stage is about to execute.
func (c *Context) Enter(stage Stage, now time.Time) {
	c.Stage = stage
	c.Status = StatusRunning
	c.ExecutionPath = append(c.ExecutionPath, stage)
	c.UpdatedAt = now
}

// Complete records that the current stage finished.
func (c *Context) Complete(now time.Time) {
	c.LastCompletedStage = c.Stage
	c.UpdatedAt = now
}

// Entered reports whether stage appears in the execution path.
func (c *Context) Entered(stage Stage) bool {
	return slices.Contains(c.ExecutionPath, stage)
}

// RecordError appends an audit entry for err at stage.
func (c *Context) RecordError(stage Stage, err error, recoverable bool, attempts int, now time.Time) {
	c.Errors = append(c.Errors, StageError{
		Stage:       stage,
		Kind:        Kind(err),
		Message:     err.Error(),
		Recoverable: recoverable,
		Attempts:    attempts,
		At:          now,
	})
	c.UpdatedAt = now
}

// ApplyApproval resolves a pending access-control gate.
func (c *Context) ApplyApproval(d Decision, approverID string, now time.Time) error {
	if c.Approval.Status != ApprovalPending {
		return &StateConflictError{ConversationID: c.ID, Reason: fmt.Sprintf("approval is %s, not pending", c.Approval.Status)}
	}
	switch d {
	case DecisionApproved:
		c.Approval.Status = ApprovalApproved
	case DecisionRejected:
		c.Approval.Status = ApprovalRejected
	case DecisionAcknowledge:
		return &ValidationError{Field: "decision", Reason: "acknowledge applies to the gap approval gate"}
	default:
		return &ValidationError{Field: "decision", Reason: fmt.Sprintf("unknown decision %q", d)}
	}
	c.Approval.ApproverID = approverID
	decided := now
	c.Approval.DecidedAt = &decided
	c.UpdatedAt = now
	return nil
}

// ApplyGapAcknowledgement resolves a pending gap-publication gate.
func (c *Context) ApplyGapAcknowledgement(d Decision, approverID string, now time.Time) error {
	if c.Gap.GapApprovalStatus != GapApprovalPending {
		return &StateConflictError{ConversationID: c.ID, Reason: fmt.Sprintf("gap approval is %s, not pending", c.Gap.GapApprovalStatus)}
	}
	if d != DecisionAcknowledge {
		return &ValidationError{Field: "decision", Reason: fmt.Sprintf("gap approval gate accepts %q only", DecisionAcknowledge)}
	}
	c.Gap.GapApprovalStatus = GapApprovalAcknowledged
	c.Gap.AcknowledgedBy = approverID
	c.UpdatedAt = now
	return nil
}

// Reject finalizes a conversation whose approval was denied. Ranked results
// and the answer are withheld; the safe partition stays in the record.
func (c *Context) Reject(now time.Time) {
	c.Status = StatusRejected
	c.RankedResults = nil
	c.Answer = nil
	c.Notice = RejectionNotice
	c.UpdatedAt = now
}

// ReleasedResults returns the candidates the requester may see: the safe
// partition, plus the sensitive one once approval was granted.
func (c *Context) ReleasedResults() []Candidate {
	out := make([]Candidate, 0, len(c.FilteredResults)+len(c.SensitiveResults))
	out = append(out, c.FilteredResults...)
	if c.Approval.Status == ApprovalApproved {
		out = append(out, c.SensitiveResults...)
	}
	return out
}

// TopScore returns the best retrieval score among the released results.
func (c *Context) TopScore() float32 {
	var top float32
	for _, r := range c.RankedResults {
		if r.Score > top {
			top = r.Score
		}
	}
	if top == 0 {
		for _, r := range c.ReleasedResults() {
			if r.Score > top {
				top = r.Score
			}
		}
	}
	return top
}

// Sources returns the distinct sources of the ranked results.
func (c *Context) Sources() []string {
	var out []string
	for _, r := range c.RankedResults {
		if r.Source != "" && !slices.Contains(out, r.Source) {
			out = append(out, r.Source)
		}
	}
	return out
}

// Check verifies the structural invariants of the record.
func (c *Context) Check() error {
	products := []struct {
		stage     Stage
		populated bool
	}{
		{StageUnderstand, c.Understanding != nil},
		{StageEmbed, len(c.Embedding) > 0},
		{StageSearch, len(c.RawResults) > 0},
		{StageFilter, len(c.FilteredResults) > 0 || len(c.SensitiveResults) > 0},
		{StageRerank, len(c.RankedResults) > 0},
		{StageSynthesize, c.Answer != nil},
		{StageGapDetect, c.Gap.Detected},
	}
	for _, p := range products {
		if p.populated && !c.Entered(p.stage) {
			return fmt.Errorf("conversation %s: %s output present but stage never entered", c.ID, p.stage)
		}
	}

	if c.Approval.Status == ApprovalPending {
		for _, st := range c.ExecutionPath {
			if StageFilter.Before(st) {
				return fmt.Errorf("conversation %s: stage %s entered while approval pending", c.ID, st)
			}
		}
	}

	seen := make(map[string]struct{}, len(c.FilteredResults))
	for _, r := range c.FilteredResults {
		seen[r.ID] = struct{}{}
	}
	for _, r := range c.SensitiveResults {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("conversation %s: candidate %s is both safe and sensitive", c.ID, r.ID)
		}
	}
	if c.LastCompletedStage == StageFilter || StageFilter.Before(c.LastCompletedStage) {
		if got := len(c.FilteredResults) + len(c.SensitiveResults) + c.HiddenCount; got != len(c.RawResults) {
			return fmt.Errorf("conversation %s: partitions cover %d of %d raw candidates", c.ID, got, len(c.RawResults))
		}
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Requester.Teams = slices.Clone(c.Requester.Teams)
	if c.Understanding != nil {
		u := *c.Understanding
		u.Entities = slices.Clone(u.Entities)
		u.Keywords = slices.Clone(u.Keywords)
		u.SourceHints = slices.Clone(u.SourceHints)
		out.Understanding = &u
	}
	out.Embedding = slices.Clone(c.Embedding)
	out.RawResults = cloneCandidates(c.RawResults)
	out.FilteredResults = cloneCandidates(c.FilteredResults)
	out.SensitiveResults = cloneCandidates(c.SensitiveResults)
	out.RankedResults = cloneCandidates(c.RankedResults)
	if c.Answer != nil {
		a := *c.Answer
		a.Citations = slices.Clone(a.Citations)
		a.FollowUps = slices.Clone(a.FollowUps)
		out.Answer = &a
	}
	out.Approval.FlaggedIDs = slices.Clone(c.Approval.FlaggedIDs)
	if c.Approval.DecidedAt != nil {
		t := *c.Approval.DecidedAt
		out.Approval.DecidedAt = &t
	}
	if c.Gap.Suggestion != nil {
		s := *c.Gap.Suggestion
		s.SuggestedContent.Topics = slices.Clone(s.SuggestedContent.Topics)
		s.SuggestedContent.QuestionsToAnswer = slices.Clone(s.SuggestedContent.QuestionsToAnswer)
		s.Embedding = slices.Clone(s.Embedding)
		out.Gap.Suggestion = &s
	}
	out.ExecutionPath = slices.Clone(c.ExecutionPath)
	out.Errors = slices.Clone(c.Errors)
	return &out
}

func cloneCandidates(in []Candidate) []Candidate {
	if in == nil {
		return nil
	}
	out := make([]Candidate, len(in))
	for i, c := range in {
		c.Teams = slices.Clone(c.Teams)
		c.Users = slices.Clone(c.Users)
		if c.Payload != nil {
			p := make(map[string]any, len(c.Payload))
			for k, v := range c.Payload {
				p[k] = v
			}
			c.Payload = p
		}
		out[i] = c
	}
	return out
}
