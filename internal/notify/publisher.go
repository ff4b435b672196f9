// Package notify publishes conversation transitions to NATS so approvers,
// dashboards and documentation tooling can react to them.
//
// Subjects, relative to the configured prefix:
//
//	<prefix>.conversations.<id>.<event>   every transition of a conversation
//	<prefix>.approvals.<id>.requested     access approval needed
//	<prefix>.approvals.<id>.gap_requested gap publication needs sign-off
//	<prefix>.approvals.<id>.decided       a decision was applied
//	<prefix>.gaps.detected                a gap suggestion was published
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "askd"

// ErrClosed is returned by Next after the watcher was closed.
var ErrClosed = errors.New("watcher closed")

// Publisher is an orchestrator.Observer that publishes events to NATS.
// Publish failures are logged and never reach the orchestrator.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
}

// NewPublisher returns a Publisher on nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, "*> ") {
		return nil, fmt.Errorf("invalid subject prefix %q", prefix)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger.Named("notify")}, nil
}

// Observe publishes e on its subjects.
func (p *Publisher) Observe(ctx context.Context, e orchestrator.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error(ctx, "encoding event failed", zap.String("event", string(e.Type)), zap.Error(err))
		return
	}
	for _, subject := range p.Subjects(e) {
		if err := p.nc.Publish(subject, data); err != nil {
			p.logger.Warn(ctx, "publishing event failed",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
	}
}

// Subjects returns the subjects e is published on.
func (p *Publisher) Subjects(e orchestrator.Event) []string {
	id := token(e.ConversationID)
	subjects := []string{p.ConversationSubject(e.ConversationID) + "." + string(e.Type)}
	switch e.Type {
	case orchestrator.EventApprovalRequested:
		subjects = append(subjects, fmt.Sprintf("%s.approvals.%s.requested", p.prefix, id))
	case orchestrator.EventGapApprovalRequested:
		subjects = append(subjects, fmt.Sprintf("%s.approvals.%s.gap_requested", p.prefix, id))
	case orchestrator.EventApprovalDecided:
		subjects = append(subjects, fmt.Sprintf("%s.approvals.%s.decided", p.prefix, id))
	case orchestrator.EventGapPublished:
		subjects = append(subjects, p.prefix+".gaps.detected")
	case orchestrator.EventStageEntered, orchestrator.EventFinished:
	}
	return subjects
}

// ConversationSubject returns the subject stem of conversation id.
func (p *Publisher) ConversationSubject(id string) string {
	return fmt.Sprintf("%s.conversations.%s", p.prefix, token(id))
}

// Watch subscribes to the events of conversation id.
func (p *Publisher) Watch(id string) (*Watcher, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := p.nc.ChanSubscribe(p.ConversationSubject(id)+".*", msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribing to conversation %s: %w", id, err)
	}
	return &Watcher{sub: sub, msgs: msgs}, nil
}

// Watcher receives the events of one conversation.
type Watcher struct {
	sub  *nats.Subscription
	msgs chan *nats.Msg
}

// Next blocks until the next event arrives or ctx is done.
func (w *Watcher) Next(ctx context.Context) (orchestrator.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return orchestrator.Event{}, ctx.Err()
		case msg, ok := <-w.msgs:
			if !ok {
				return orchestrator.Event{}, ErrClosed
			}
			var e orchestrator.Event
			if err := json.Unmarshal(msg.Data, &e); err != nil {
				continue
			}
			return e, nil
		}
	}
}

// Close ends the subscription.
func (w *Watcher) Close() error {
	return w.sub.Unsubscribe()
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
