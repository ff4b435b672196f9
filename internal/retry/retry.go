// Package retry applies a capped exponential backoff to idempotent
// collaborator calls.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// Policy bounds how often and how fast a call is retried.
type Policy struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
	// Jitter is the randomization factor applied to each delay, in [0,1].
	Jitter float64 `koanf:"jitter"`
}

// DefaultPolicy returns the policy used for understand, embed and search.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      0.2,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return &conversation.ConfigurationError{Key: "retry.max_attempts", Reason: "must be at least 1"}
	case p.BaseDelay < 0:
		return &conversation.ConfigurationError{Key: "retry.base_delay", Reason: "must not be negative"}
	case p.MaxDelay < p.BaseDelay:
		return &conversation.ConfigurationError{Key: "retry.max_delay", Reason: "must be at least base_delay"}
	case p.Jitter < 0 || p.Jitter > 1:
		return &conversation.ConfigurationError{Key: "retry.jitter", Reason: "must be between 0 and 1"}
	}
	return nil
}

// Do calls fn until it succeeds, returns a non-transient error, the
// attempt budget is spent, or ctx is done. It returns the number of
// attempts made and the last error.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error, notify func(attempt int, err error, wait time.Duration)) (int, error) {
	attempts := 0
	var last error

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.Reset()

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(p.MaxAttempts, 1))),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			notify(attempts, err, wait)
		}))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		last = fn(ctx)
		if last == nil {
			return struct{}{}, nil
		}
		if !conversation.IsTransient(last) {
			return struct{}{}, backoff.Permanent(last)
		}
		return struct{}{}, last
	}, opts...)
	if err == nil {
		return attempts, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return attempts, ctxErr
	}
	return attempts, last
}
