package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// ===== INPUTS AND OUTPUTS =====

type queryStartInput struct {
	Query          string   `json:"query" jsonschema:"required,Natural-language question"`
	RequesterID    string   `json:"requester_id" jsonschema:"required,Identity of the person asking"`
	Teams          []string `json:"teams,omitempty" jsonschema:"Teams the requester belongs to"`
	Location       string   `json:"location,omitempty" jsonschema:"Requester location code (default: US)"`
	EmploymentType string   `json:"employment_type,omitempty" jsonschema:"employee, contractor, vendor or third_party (default: employee)"`
}

type queryResumeInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"required,Conversation to resume"`
	Decision       string `json:"decision" jsonschema:"required,approved or rejected for access approvals; acknowledge for gap approvals"`
	ApproverID     string `json:"approver_id" jsonschema:"required,Identity of the approver"`
}

type queryIDInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"required,Conversation identifier"`
}

type queryPendingInput struct {
	Gap bool `json:"gap,omitempty" jsonschema:"List conversations waiting on gap approval instead of access approval"`
}

type citationOutput struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

type conversationOutput struct {
	ConversationID string           `json:"conversation_id" jsonschema:"Conversation identifier"`
	Status         string           `json:"status" jsonschema:"Lifecycle status"`
	Stage          string           `json:"stage,omitempty" jsonschema:"Current or last stage"`
	PendingReason  string           `json:"pending_reason,omitempty" jsonschema:"Why the conversation waits for approval"`
	FlaggedCount   int              `json:"flagged_count,omitempty" jsonschema:"Number of results awaiting approval"`
	Answer         string           `json:"answer,omitempty" jsonschema:"Synthesized answer with [n] citation markers"`
	Citations      []citationOutput `json:"citations,omitempty" jsonschema:"Sources cited by the answer"`
	FollowUps      []string         `json:"follow_ups,omitempty" jsonschema:"Suggested related questions"`
	Notice         string           `json:"notice,omitempty" jsonschema:"Notice shown instead of an answer"`
	GapTopic       string           `json:"gap_topic,omitempty" jsonschema:"Topic of a detected knowledge gap"`
}

type queryCancelOutput struct {
	ConversationID string `json:"conversation_id"`
	Cancelled      bool   `json:"cancelled"`
}

type queryPendingOutput struct {
	Conversations []conversationOutput `json:"conversations" jsonschema:"Conversations waiting for a decision"`
	Count         int                  `json:"count"`
}

// ===== REGISTRATION =====

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_start",
		Description: "Ask a question against the knowledge base. Returns the answer, or a pending status when sensitive results need approval.",
	}, s.handleQueryStart)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_resume",
		Description: "Deliver an approval decision to a suspended conversation",
	}, s.handleQueryResume)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_cancel",
		Description: "Cancel a running or suspended conversation",
	}, s.handleQueryCancel)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_get",
		Description: "Get the current state of a conversation",
	}, s.handleQueryGet)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_pending",
		Description: "List conversations waiting for an approval decision",
	}, s.handleQueryPending)
}

// ===== HANDLERS =====

func (s *Server) handleQueryStart(ctx context.Context, _ *mcp.CallToolRequest, args queryStartInput) (*mcp.CallToolResult, conversationOutput, error) {
	done := s.track(ctx, "query_start")
	requester := conversation.Requester{
		ID:             args.RequesterID,
		Teams:          args.Teams,
		Location:       args.Location,
		EmploymentType: args.EmploymentType,
	}
	ctx = logging.WithRequesterID(ctx, args.RequesterID)

	res, err := s.conversations.Start(ctx, args.Query, requester)
	if err != nil {
		return nil, conversationOutput{}, done(err)
	}
	done(nil)
	return nil, fromResult(res), nil
}

func (s *Server) handleQueryResume(ctx context.Context, _ *mcp.CallToolRequest, args queryResumeInput) (*mcp.CallToolResult, conversationOutput, error) {
	done := s.track(ctx, "query_resume")
	d, err := conversation.ParseDecision(args.Decision)
	if err != nil {
		return nil, conversationOutput{}, done(err)
	}
	res, err := s.conversations.Resume(ctx, args.ConversationID, d, args.ApproverID)
	if err != nil {
		return nil, conversationOutput{}, done(err)
	}
	done(nil)
	return nil, fromResult(res), nil
}

func (s *Server) handleQueryCancel(ctx context.Context, _ *mcp.CallToolRequest, args queryIDInput) (*mcp.CallToolResult, queryCancelOutput, error) {
	done := s.track(ctx, "query_cancel")
	if args.ConversationID == "" {
		return nil, queryCancelOutput{}, done(&conversation.ValidationError{Field: "conversation_id", Reason: "must not be empty"})
	}
	if err := s.conversations.Cancel(ctx, args.ConversationID); err != nil {
		return nil, queryCancelOutput{}, done(err)
	}
	done(nil)
	return nil, queryCancelOutput{ConversationID: args.ConversationID, Cancelled: true}, nil
}

func (s *Server) handleQueryGet(ctx context.Context, _ *mcp.CallToolRequest, args queryIDInput) (*mcp.CallToolResult, conversationOutput, error) {
	done := s.track(ctx, "query_get")
	c, err := s.conversations.Get(ctx, args.ConversationID)
	if err != nil {
		return nil, conversationOutput{}, done(err)
	}
	done(nil)
	return nil, fromContext(c), nil
}

func (s *Server) handleQueryPending(ctx context.Context, _ *mcp.CallToolRequest, args queryPendingInput) (*mcp.CallToolResult, queryPendingOutput, error) {
	done := s.track(ctx, "query_pending")
	status := conversation.StatusSuspendedForApproval
	if args.Gap {
		status = conversation.StatusSuspendedForGapApproval
	}
	cs, err := s.conversations.List(ctx, status)
	if err != nil {
		return nil, queryPendingOutput{}, done(err)
	}
	out := queryPendingOutput{Conversations: make([]conversationOutput, 0, len(cs))}
	for _, c := range cs {
		out.Conversations = append(out.Conversations, fromContext(c))
	}
	out.Count = len(out.Conversations)
	done(nil)
	return nil, out, nil
}

// track records the invocation of tool. The returned function ends it and
// returns err labelled with its kind.
func (s *Server) track(ctx context.Context, tool string) func(err error) error {
	end := s.metrics.begin(ctx, tool)
	return func(err error) error {
		end(err)
		if err == nil {
			return nil
		}
		kind := errorKind(err)
		if kind == conversation.KindInternal {
			s.logger.Error(ctx, "tool failed", zap.String("tool", tool), zap.Error(err))
		}
		return fmt.Errorf("%s: %w", kind, err)
	}
}

// errorKind names the taxonomy entry of err; unknown conversations are
// "not_found".
func errorKind(err error) string {
	if errors.Is(err, orchestrator.ErrNotFound) {
		return "not_found"
	}
	return conversation.Kind(err)
}

// ===== CONVERSIONS =====

func fromResult(res *orchestrator.Result) conversationOutput {
	var out conversationOutput
	if res.Context != nil {
		out = fromContext(res.Context)
	}
	out.ConversationID = res.ConversationID
	out.Status = string(res.Status)
	if res.PendingReason != "" {
		out.PendingReason = res.PendingReason
	}
	return out
}

func fromContext(c *conversation.Context) conversationOutput {
	out := conversationOutput{
		ConversationID: c.ID,
		Status:         string(c.Status),
		Stage:          string(c.Stage),
		Notice:         c.Notice,
	}
	if c.Status == conversation.StatusSuspendedForApproval {
		out.PendingReason = c.Approval.Reason
		out.FlaggedCount = len(c.Approval.FlaggedIDs)
	}
	if c.Answer != nil {
		out.Answer = c.Answer.Text
		out.FollowUps = c.Answer.FollowUps
		for _, ct := range c.Answer.Citations {
			out.Citations = append(out.Citations, citationOutput{Index: ct.Index, ID: ct.ID, Title: ct.Title, URL: ct.URL})
		}
	}
	if c.Gap.Detected && c.Gap.Suggestion != nil {
		out.GapTopic = c.Gap.Suggestion.Topic
	}
	return out
}
