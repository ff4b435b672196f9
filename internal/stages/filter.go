package stages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

type filter struct{ p *Pipeline }

func (h *filter) Stage() conversation.Stage { return conversation.StageFilter }

// Execute partitions the raw results. Visible results are kept whatever
// the approval outcome; flagged ones wait in SensitiveResults.
func (h *filter) Execute(ctx context.Context, c *conversation.Context) error {
	d := h.p.deps.Permissions.Evaluate(c.RawResults, c.Requester)

	c.FilteredResults = d.Filtered
	c.SensitiveResults = d.Sensitive
	c.HiddenCount = d.Hidden
	if d.ApprovalRequired {
		c.Approval.Required = true
		c.Approval.Status = conversation.ApprovalPending
		c.Approval.Reason = d.Reason
		c.Approval.FlaggedIDs = d.FlaggedIDs()
	}

	if len(d.UnlabelledIDs) > 0 {
		h.p.logger.Warn(ctx, "results hidden for missing sensitivity label",
			zap.Int("count", len(d.UnlabelledIDs)),
			zap.String("document_ids", strings.Join(d.UnlabelledIDs, ",")),
		)
	}
	h.p.logger.Info(ctx, "results partitioned",
		zap.Int("visible", len(d.Filtered)),
		zap.Int("sensitive", len(d.Sensitive)),
		zap.Int("hidden", d.Hidden),
		zap.Bool("approval_required", d.ApprovalRequired),
	)
	return nil
}

type rerank struct{ p *Pipeline }

func (h *rerank) Stage() conversation.Stage { return conversation.StageRerank }

func (h *rerank) Execute(ctx context.Context, c *conversation.Context) error {
	ranked, err := h.p.deps.Reranker.Rerank(ctx, c.Query, c.ReleasedResults(), h.p.cfg.TopK)
	if err != nil {
		err = fmt.Errorf("reranking results: %w", err)
		h.p.recordError(ctx, c, err, false, 1)
		return err
	}
	c.RankedResults = ranked
	return nil
}
