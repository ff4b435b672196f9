package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/gaps"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/permission"
	"github.com/fyrsmithlabs/askd/internal/reranker"
	"github.com/fyrsmithlabs/askd/internal/secrets"
)

// Handler executes one stage against a conversation.
type Handler interface {
	Stage() conversation.Stage
	// Execute writes the stage product to c. A returned error ends the
	// conversation; it has already been recorded on c unless ctx was done.
	Execute(ctx context.Context, c *conversation.Context) error
}

// Deps are the collaborators used by the stages.
type Deps struct {
	Understander Understander
	Embedder     Embedder
	Retriever    Retriever
	Generator    Generator
	History      HistoryStore
	Permissions  *permission.Evaluator
	Gaps         *gaps.Detector
	// Reranker defaults to reranker.NewTermOverlap.
	Reranker reranker.Reranker
	// Scrubber defaults to secrets.NoopScrubber.
	Scrubber secrets.Scrubber
	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline holds one handler per stage.
type Pipeline struct {
	cfg      Config
	deps     Deps
	logger   *logging.Logger
	handlers map[conversation.Stage]Handler
}

// NewPipeline validates cfg and deps and builds the stage handlers.
func NewPipeline(cfg Config, deps Deps, logger *logging.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Understander == nil:
		return nil, errors.New("understander is required")
	case deps.Embedder == nil:
		return nil, errors.New("embedder is required")
	case deps.Retriever == nil:
		return nil, errors.New("retriever is required")
	case deps.Generator == nil:
		return nil, errors.New("generator is required")
	case deps.History == nil:
		return nil, errors.New("history store is required")
	case deps.Permissions == nil:
		return nil, errors.New("permission evaluator is required")
	case deps.Gaps == nil:
		return nil, errors.New("gap detector is required")
	}
	if deps.Reranker == nil {
		deps.Reranker = reranker.NewTermOverlap()
	}
	if deps.Scrubber == nil {
		deps.Scrubber = secrets.NoopScrubber{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	p := &Pipeline{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.Named("stages"),
		handlers: make(map[conversation.Stage]Handler),
	}
	for _, h := range []Handler{
		&understand{p}, &embed{p}, &search{p}, &filter{p},
		&rerank{p}, &synthesize{p}, &record{p}, &gapDetect{p},
	} {
		p.Register(h)
	}
	return p, nil
}

// Register installs h for its stage, replacing any existing handler.
func (p *Pipeline) Register(h Handler) {
	p.handlers[h.Stage()] = h
}

// Handler returns the handler for stage.
func (p *Pipeline) Handler(stage conversation.Stage) (Handler, error) {
	h, ok := p.handlers[stage]
	if !ok {
		return nil, fmt.Errorf("no handler registered for stage %s", stage)
	}
	return h, nil
}

// GapsConfig returns the gap detection thresholds in use.
func (p *Pipeline) GapsConfig() gaps.Config {
	return p.deps.Gaps.Config()
}

// PublishGap hands the detected suggestion to the history store when
// publishing is enabled and marks it published.
func (p *Pipeline) PublishGap(ctx context.Context, c *conversation.Context) error {
	s := c.Gap.Suggestion
	if s == nil || c.Gap.Published || !p.deps.Gaps.Config().Publish {
		return nil
	}
	start := time.Now()
	err := p.deps.History.PublishGap(ctx, *s)
	observeCall("history", err, time.Since(start))
	if err != nil {
		return conversation.NewUpstreamError("history", "publish_gap", err)
	}
	c.Gap.Published = true
	return nil
}

// call runs fn under the retry policy. On failure the error is wrapped as
// an UpstreamServiceError and, unless ctx is done, recorded on c.
func (p *Pipeline) call(ctx context.Context, c *conversation.Context, service, op string, fn func(context.Context) error) error {
	start := time.Now()
	attempts, err := p.cfg.Retry.Do(ctx, fn, func(attempt int, err error, wait time.Duration) {
		p.logger.Debug(ctx, "retrying collaborator call",
			zap.String("service", service),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	observeCall(service, err, time.Since(start))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	uerr := conversation.NewUpstreamError(service, op, err)
	p.recordError(ctx, c, uerr, false, attempts)
	return uerr
}

func (p *Pipeline) recordError(ctx context.Context, c *conversation.Context, err error, recoverable bool, attempts int) {
	c.RecordError(c.Stage, err, recoverable, attempts, p.deps.Now())
	StageErrors.WithLabelValues(string(c.Stage), conversation.Kind(err)).Inc()
	p.logger.Warn(ctx, "stage error recorded",
		zap.String("stage", string(c.Stage)),
		zap.Bool("recoverable", recoverable),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}
