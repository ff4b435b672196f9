package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/snapshot"
	"github.com/fyrsmithlabs/askd/internal/stages"
)

const instrumentationName = "github.com/fyrsmithlabs/askd/internal/orchestrator"

// ErrNotFound is returned by Get for unknown conversations.
var ErrNotFound = errors.New("conversation not found")

// errCancelled is the cancellation cause set by Cancel.
var errCancelled = errors.New("conversation cancelled")

// Stages resolves stage handlers. *stages.Pipeline implements it.
type Stages interface {
	Handler(stage conversation.Stage) (stages.Handler, error)
	// PublishGap publishes an acknowledged gap suggestion.
	PublishGap(ctx context.Context, c *conversation.Context) error
}

// Config controls retention and result exposure.
type Config struct {
	// Retention is how long terminal and suspended snapshots are kept.
	Retention time.Duration `koanf:"retention"`
	// ExposeFilteredOnReject keeps the safe partition visible on
	// rejected conversations.
	ExposeFilteredOnReject bool `koanf:"expose_filtered_on_reject"`
	// RunTimeout bounds one Start or Resume invocation. The run outlives
	// the caller's context and stops only on Cancel or this deadline.
	RunTimeout time.Duration `koanf:"run_timeout"`
}

// DefaultConfig returns a seven day retention that hides results on reject.
func DefaultConfig() Config {
	return Config{Retention: 7 * 24 * time.Hour, RunTimeout: 5 * time.Minute}
}

// Validate checks cfg.
func (c Config) Validate() error {
	if c.Retention <= 0 {
		return &conversation.ConfigurationError{Key: "orchestrator.retention", Reason: "must be positive"}
	}
	if c.RunTimeout < 0 {
		return &conversation.ConfigurationError{Key: "orchestrator.run_timeout", Reason: "must not be negative"}
	}
	return nil
}

// Result is returned by Start and Resume.
type Result struct {
	ConversationID string              `json:"conversation_id"`
	Status         conversation.Status `json:"status"`
	// PendingReason explains a suspension.
	PendingReason string                `json:"pending_reason,omitempty"`
	Context       *conversation.Context `json:"context"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers obs for transition events.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides the conversation id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// Orchestrator drives conversations through the stages.
type Orchestrator struct {
	cfg       Config
	stages    Stages
	store     snapshot.Store
	logger    *logging.Logger
	observers []Observer
	now       func() time.Time
	newID     func() string

	tracer  trace.Tracer
	metrics *conversationMetrics

	mu       sync.Mutex
	inflight map[string]context.CancelCauseFunc
}

// New creates an Orchestrator.
func New(cfg Config, st Stages, store snapshot.Store, logger *logging.Logger, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("stages are required")
	}
	if store == nil {
		return nil, errors.New("snapshot store is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	o := &Orchestrator{
		cfg:      cfg,
		stages:   st,
		store:    store,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
		newID:    uuid.NewString,
		tracer:   otel.Tracer(instrumentationName),
		inflight: make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.metrics = newConversationMetrics(otel.Meter(instrumentationName), o.logger)
	return o, nil
}

// Start creates a conversation for query and runs it until it completes,
// fails or suspends. Pipeline failures are reported through the FAILED
// status; the error return is reserved for invalid input and storage
// failures.
func (o *Orchestrator) Start(ctx context.Context, query string, requester conversation.Requester) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.start")
	defer span.End()

	if err := conversation.ValidateRequest(query, requester); err != nil {
		return nil, spanError(span, err)
	}
	c, err := conversation.New(o.newID(), query, requester, o.now())
	if err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.String("conversation_id", c.ID))
	ctx = logging.WithRequesterID(logging.WithConversationID(ctx, c.ID), requester.ID)

	runCtx, release, holder := o.acquire(ctx, c.ID)
	if holder != nil {
		return nil, spanError(span, o.conflict(ctx, c.ID, "another operation is in progress"))
	}
	defer release()

	o.metrics.started.Add(ctx, 1)
	o.logger.Info(ctx, "conversation started")

	if err := o.drive(runCtx, c, conversation.StageUnderstand); err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.String("status", string(c.Status)))
	return o.result(c), nil
}

// Resume delivers an external decision to a suspended conversation.
//
// The access gate accepts approved or rejected; the gap gate accepts
// acknowledge. Resuming a conversation that is not suspended, or losing a
// race against another resume, returns a StateConflictError.
func (o *Orchestrator) Resume(ctx context.Context, id string, decision conversation.Decision, approverID string) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.resume")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation_id", id),
		attribute.String("decision", string(decision)),
	)

	d, err := conversation.ParseDecision(string(decision))
	if err != nil {
		return nil, spanError(span, err)
	}
	if strings.TrimSpace(approverID) == "" {
		return nil, spanError(span, &conversation.ValidationError{Field: "approver_id", Reason: "must not be empty"})
	}
	ctx = logging.WithConversationID(ctx, id)

	runCtx, release, holder := o.acquire(ctx, id)
	if holder != nil {
		return nil, spanError(span, o.conflict(ctx, id, "another operation is in progress"))
	}
	defer release()

	c, err := o.store.Load(runCtx, id)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, spanError(span, o.conflict(ctx, id, "unknown conversation"))
	}
	if err != nil {
		return nil, spanError(span, fmt.Errorf("loading conversation %s: %w", id, err))
	}
	if !c.Status.IsSuspended() {
		return nil, spanError(span, o.conflict(ctx, id, fmt.Sprintf("conversation is %s, not suspended", c.Status)))
	}

	gate := c.Status
	now := o.now()
	if gate == conversation.StatusSuspendedForGapApproval {
		err = c.ApplyGapAcknowledgement(d, approverID, now)
	} else {
		err = c.ApplyApproval(d, approverID, now)
	}
	if err != nil {
		return nil, spanError(span, err)
	}

	c.Status = conversation.StatusRunning
	if err := o.persist(runCtx, c); err != nil {
		return nil, spanError(span, err)
	}
	o.metrics.resumed.Add(runCtx, 1, metric.WithAttributes(attribute.String("decision", string(d))))
	o.logger.Info(runCtx, "conversation resumed",
		zap.String("gate", string(gate)),
		zap.String("decision", string(d)),
		zap.String("approver_id", approverID),
	)
	o.emit(runCtx, c, EventApprovalDecided, func(e *Event) {
		e.Decision = d
		e.ApproverID = approverID
	})

	switch {
	case gate == conversation.StatusSuspendedForGapApproval:
		err = o.acknowledgeGap(runCtx, c)
	case d == conversation.DecisionRejected:
		c.Reject(o.now())
		err = o.finish(runCtx, c, conversation.StatusRejected)
	default:
		next, _ := c.LastCompletedStage.Next()
		err = o.drive(runCtx, c, next)
	}
	if err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.String("status", string(c.Status)))
	return o.result(c), nil
}

// Cancel stops a conversation. A running conversation is interrupted at
// the next stage boundary; a suspended one is discarded. Unknown and
// terminal conversations are left alone.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", id))
	ctx = logging.WithConversationID(ctx, id)

	runCtx, release, holder := o.acquire(ctx, id)
	if holder != nil {
		holder(errCancelled)
		o.logger.Info(ctx, "cancellation requested")
		return nil
	}
	defer release()

	c, err := o.store.Load(runCtx, id)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil
	}
	if err != nil {
		return spanError(span, fmt.Errorf("loading conversation %s: %w", id, err))
	}
	if c.Status.IsTerminal() {
		return nil
	}
	if err := o.discard(runCtx, c); err != nil {
		return spanError(span, err)
	}
	return nil
}

// Get returns the caller-facing view of a conversation.
func (o *Orchestrator) Get(ctx context.Context, id string) (*conversation.Context, error) {
	c, err := o.store.Load(ctx, id)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return o.View(c), nil
}

// List returns the views of the conversations in status.
func (o *Orchestrator) List(ctx context.Context, status conversation.Status) ([]*conversation.Context, error) {
	cs, err := o.store.List(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]*conversation.Context, 0, len(cs))
	for _, c := range cs {
		out = append(out, o.View(c))
	}
	return out, nil
}

// PurgeExpired deletes snapshots older than the retention period.
func (o *Orchestrator) PurgeExpired(ctx context.Context) (int, error) {
	n, err := o.store.PurgeBefore(ctx, o.now().Add(-o.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("purging snapshots: %w", err)
	}
	if n > 0 {
		o.logger.Info(ctx, "expired snapshots purged", zap.Int("count", n))
	}
	return n, nil
}

// PurgeLoop calls PurgeExpired every interval until ctx is done.
func (o *Orchestrator) PurgeLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := o.PurgeExpired(ctx); err != nil {
				o.logger.Warn(ctx, "snapshot purge failed", zap.Error(err))
			}
		}
	}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
