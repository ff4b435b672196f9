package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/snapshot"
	"github.com/fyrsmithlabs/askd/internal/stages"
)

// gapPendingReason is the pending reason of a gap-gated conversation.
const gapPendingReason = "knowledge gap suggestion awaiting acknowledgement"

// acquire marks id as in flight and returns a context that Cancel can
// interrupt. The context keeps the values of ctx but not its cancellation:
// a caller hanging up does not stop the run, only Cancel or the configured
// run timeout do. When id is already in flight the holder's cancel function
// is returned instead and nothing is acquired.
func (o *Orchestrator) acquire(ctx context.Context, id string) (context.Context, func(), context.CancelCauseFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if holder, busy := o.inflight[id]; busy {
		return nil, nil, holder
	}
	base, stop := context.WithoutCancel(ctx), context.CancelFunc(func() {})
	if o.cfg.RunTimeout > 0 {
		base, stop = context.WithTimeout(base, o.cfg.RunTimeout)
	}
	runCtx, cancel := context.WithCancelCause(base)
	o.inflight[id] = cancel
	return runCtx, func() {
		o.mu.Lock()
		delete(o.inflight, id)
		o.mu.Unlock()
		cancel(nil)
		stop()
	}, nil
}

// drive executes stages from `from` onwards until the conversation
// suspends or stops.
func (o *Orchestrator) drive(ctx context.Context, c *conversation.Context, from conversation.Stage) error {
	for stage, ok := from, true; ok; stage, ok = stage.Next() {
		if ctx.Err() != nil {
			return o.interrupt(ctx, c)
		}
		h, err := o.stages.Handler(stage)
		if err != nil {
			c.RecordError(stage, err, false, 0, o.now())
			return o.finish(ctx, c, conversation.StatusFailed)
		}

		c.Enter(stage, o.now())
		o.emit(ctx, c, EventStageEntered, nil)
		if err := o.execute(ctx, h, c); err != nil {
			if ctx.Err() != nil {
				return o.interrupt(ctx, c)
			}
			return o.finish(ctx, c, conversation.StatusFailed)
		}
		c.Complete(o.now())

		switch stage {
		case conversation.StageFilter:
			if c.Approval.Status == conversation.ApprovalPending {
				return o.suspend(ctx, c, conversation.StatusSuspendedForApproval)
			}
		case conversation.StageGapDetect:
			if c.Gap.Published {
				o.emit(ctx, c, EventGapPublished, func(e *Event) { e.Gap = publicGap(c.Gap.Suggestion) })
			}
			if c.Gap.GapApprovalStatus == conversation.GapApprovalPending {
				return o.suspend(ctx, c, conversation.StatusSuspendedForGapApproval)
			}
		}
	}
	return o.finish(ctx, c, conversation.StatusCompleted)
}

func (o *Orchestrator) execute(ctx context.Context, h stages.Handler, c *conversation.Context) error {
	ctx, span := o.tracer.Start(ctx, "stage."+string(h.Stage()))
	defer span.End()
	ctx = logging.WithStage(ctx, string(h.Stage()))

	start := time.Now()
	err := h.Execute(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn(ctx, "stage failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return err
	}
	o.logger.Debug(ctx, "stage completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// interrupt ends a conversation whose context is done: CANCELLED when
// Cancel asked for it, FAILED otherwise.
func (o *Orchestrator) interrupt(ctx context.Context, c *conversation.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, errCancelled) {
		return o.discard(ctx, c)
	}
	if cause == nil {
		cause = ctx.Err()
	}
	c.RecordError(c.Stage, cause, false, 0, o.now())
	return o.finish(ctx, c, conversation.StatusFailed)
}

// discard marks c CANCELLED and deletes its snapshot.
func (o *Orchestrator) discard(ctx context.Context, c *conversation.Context) error {
	c.Status = conversation.StatusCancelled
	c.UpdatedAt = o.now()
	if err := o.store.Delete(context.WithoutCancel(ctx), c.ID); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", c.ID, err)
	}
	o.stopped(ctx, c)
	return nil
}

// acknowledgeGap publishes an acknowledged suggestion and completes c.
// A failed publication is recorded and does not fail the conversation.
func (o *Orchestrator) acknowledgeGap(ctx context.Context, c *conversation.Context) error {
	if err := o.stages.PublishGap(ctx, c); err != nil {
		c.RecordError(conversation.StageGapDetect, err, true, 1, o.now())
		o.logger.Warn(ctx, "gap publication failed", zap.Error(err))
	} else if c.Gap.Published {
		o.emit(ctx, c, EventGapPublished, func(e *Event) { e.Gap = publicGap(c.Gap.Suggestion) })
	}
	return o.finish(ctx, c, conversation.StatusCompleted)
}

func (o *Orchestrator) suspend(ctx context.Context, c *conversation.Context, status conversation.Status) error {
	c.Status = status
	c.UpdatedAt = o.now()
	if err := o.persist(ctx, c); err != nil {
		return err
	}
	o.metrics.suspended.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	o.logger.Info(ctx, "conversation suspended",
		zap.String("status", string(status)),
		zap.String("stage", string(c.Stage)),
	)
	if status == conversation.StatusSuspendedForGapApproval {
		o.emit(ctx, c, EventGapApprovalRequested, func(e *Event) {
			e.Reason = gapPendingReason
			e.Gap = publicGap(c.Gap.Suggestion)
		})
		return nil
	}
	o.emit(ctx, c, EventApprovalRequested, func(e *Event) {
		e.Reason = c.Approval.Reason
		e.FlaggedIDs = c.Approval.FlaggedIDs
	})
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, c *conversation.Context, status conversation.Status) error {
	c.Status = status
	c.UpdatedAt = o.now()
	if err := o.persist(ctx, c); err != nil {
		return err
	}
	o.stopped(ctx, c)
	return nil
}

func (o *Orchestrator) stopped(ctx context.Context, c *conversation.Context) {
	o.metrics.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(c.Status))))
	fields := []zap.Field{
		zap.String("status", string(c.Status)),
		zap.String("stage", string(c.Stage)),
		zap.Int("errors", len(c.Errors)),
	}
	if c.Status == conversation.StatusFailed {
		o.logger.Warn(ctx, "conversation finished", fields...)
	} else {
		o.logger.Info(ctx, "conversation finished", fields...)
	}
	o.emit(ctx, c, EventFinished, nil)
}

// persist saves c with compare-and-swap on its version. The write is not
// tied to ctx so that an interrupted conversation still records its end
// state.
func (o *Orchestrator) persist(ctx context.Context, c *conversation.Context) error {
	if err := c.Check(); err != nil {
		o.logger.Error(ctx, "conversation invariant violated", zap.Error(err))
	}
	expected := c.Version
	c.Version++
	if err := o.store.Save(context.WithoutCancel(ctx), c, expected); err != nil {
		c.Version = expected
		if errors.Is(err, snapshot.ErrVersionConflict) {
			return o.conflict(ctx, c.ID, "conversation was modified concurrently")
		}
		return fmt.Errorf("saving conversation %s: %w", c.ID, err)
	}
	return nil
}

func (o *Orchestrator) conflict(ctx context.Context, id, reason string) error {
	o.metrics.conflicts.Add(ctx, 1)
	o.logger.Info(ctx, "state conflict", zap.String("reason", reason))
	return &conversation.StateConflictError{ConversationID: id, Reason: reason}
}

func (o *Orchestrator) result(c *conversation.Context) *Result {
	r := &Result{
		ConversationID: c.ID,
		Status:         c.Status,
		Context:        o.View(c),
	}
	switch c.Status {
	case conversation.StatusSuspendedForApproval:
		r.PendingReason = c.Approval.Reason
	case conversation.StatusSuspendedForGapApproval:
		r.PendingReason = gapPendingReason
	}
	return r
}
