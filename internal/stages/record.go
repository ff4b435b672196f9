package stages

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/gaps"
)

// historyNamespace seeds the deterministic ids of history records.
var historyNamespace = uuid.MustParse("6f1c2d8e-4b7a-5e39-9a0d-3c5b8e2f7a14")

// RecordID returns the idempotency key of the write made by stage for a
// conversation.
func RecordID(conversationID string, stage conversation.Stage) string {
	return uuid.NewSHA1(historyNamespace, []byte(conversationID+":"+string(stage))).String()
}

type record struct{ p *Pipeline }

func (h *record) Stage() conversation.Stage { return conversation.StageLog }

// Execute appends the history record. Failures are recorded and swallowed.
func (h *record) Execute(ctx context.Context, c *conversation.Context) error {
	now := h.p.deps.Now()
	rec := conversation.HistoryRecord{
		ID:               RecordID(c.ID, conversation.StageLog),
		ConversationID:   c.ID,
		Query:            h.p.deps.Scrubber.Scrub(c.Query).Scrubbed,
		ResultCount:      len(c.RankedResults),
		TopScore:         c.TopScore(),
		SourcesUsed:      c.Sources(),
		ApprovalRequired: c.Approval.Required,
		ApprovalGranted:  c.Approval.Status == conversation.ApprovalApproved,
		GapDetected:      c.Gap.Detected,
		ResponseTime:     now.Sub(c.CreatedAt),
		RequesterID:      c.Requester.ID,
		Embedding:        c.Embedding,
		Timestamp:        now,
	}
	var keywords []string
	if u := c.Understanding; u != nil {
		rec.Intent = u.Intent
		rec.Entities = u.Entities
		keywords = u.Keywords
	}
	rec.TopicKey = gaps.TopicKey(keywords, rec.Query)

	logCtx, cancel := context.WithTimeout(ctx, h.p.cfg.LogTimeout)
	defer cancel()

	start := time.Now()
	err := h.p.deps.History.Append(logCtx, rec)
	observeCall("history", err, time.Since(start))
	if err != nil && ctx.Err() == nil {
		h.p.recordError(ctx, c, conversation.NewUpstreamError("history", "append", err), true, 1)
	}
	return nil
}

type gapDetect struct{ p *Pipeline }

func (h *gapDetect) Stage() conversation.Stage { return conversation.StageGapDetect }

// Execute compares the topic history with the gap thresholds. The result
// is advisory: failures are recorded and swallowed.
func (h *gapDetect) Execute(ctx context.Context, c *conversation.Context) error {
	cfg := h.p.deps.Gaps.Config()
	if !cfg.Enabled {
		return nil
	}

	var keywords []string
	if c.Understanding != nil {
		keywords = c.Understanding.Keywords
	}
	now := h.p.deps.Now()
	query := h.p.deps.Scrubber.Scrub(c.Query).Scrubbed
	q := conversation.StatsQuery{
		TopicKey:  gaps.TopicKey(keywords, query),
		Embedding: c.Embedding,
		Window:    cfg.Window,
		Now:       now,
	}

	start := time.Now()
	stats, err := h.p.deps.History.QueryStats(ctx, q)
	observeCall("history", err, time.Since(start))
	if err != nil {
		if ctx.Err() == nil {
			h.p.recordError(ctx, c, conversation.NewUpstreamError("history", "query_stats", err), true, 1)
		}
		return nil
	}

	detected, priority := h.p.deps.Gaps.Evaluate(stats)
	if !detected {
		return nil
	}
	c.Gap.Detected = true
	c.Gap.Suggestion = h.p.deps.Gaps.Suggest(c, query, stats, priority, now)
	h.p.logger.Info(ctx, "knowledge gap detected",
		zap.String("priority", string(priority)),
		zap.Int("request_count", stats.RequestCount),
		zap.Float64("avg_top_score", stats.AvgTopScore),
		zap.Int("unique_requesters", stats.UniqueRequesters),
	)

	if cfg.RequireApproval {
		c.Gap.GapApprovalStatus = conversation.GapApprovalPending
		return nil
	}
	if err := h.p.PublishGap(ctx, c); err != nil && ctx.Err() == nil {
		h.p.recordError(ctx, c, err, true, 1)
	}
	return nil
}
