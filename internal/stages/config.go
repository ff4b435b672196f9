package stages

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/retry"
)

// Config tunes the stage handlers.
type Config struct {
	// Retry applies to understand, embed and search.
	Retry retry.Policy
	// SearchLimit is the number of raw candidates requested from retrieval.
	SearchLimit int
	// TopK is the number of candidates kept by rerank.
	TopK int
	// ContextSize is the number of ranked results handed to the generator.
	ContextSize       int
	SynthesisAttempts int
	SynthesisTimeout  time.Duration
	LogTimeout        time.Duration
}

// DefaultConfig returns the default stage configuration.
func DefaultConfig() Config {
	return Config{
		Retry:             retry.DefaultPolicy(),
		SearchLimit:       50,
		TopK:              20,
		ContextSize:       10,
		SynthesisAttempts: 3,
		SynthesisTimeout:  30 * time.Second,
		LogTimeout:        5 * time.Second,
	}
}

// Validate reports bad values as ConfigurationError.
func (c Config) Validate() error {
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	switch {
	case c.SearchLimit < 1:
		return &conversation.ConfigurationError{Key: "orchestrator.search_limit", Reason: "must be at least 1"}
	case c.TopK < 1 || c.TopK > c.SearchLimit:
		return &conversation.ConfigurationError{Key: "orchestrator.top_k", Reason: fmt.Sprintf("must be within [1,%d]", c.SearchLimit)}
	case c.ContextSize < 1:
		return &conversation.ConfigurationError{Key: "orchestrator.context_size", Reason: "must be at least 1"}
	case c.SynthesisAttempts < 1:
		return &conversation.ConfigurationError{Key: "orchestrator.synthesis_max_attempts", Reason: "must be at least 1"}
	case c.SynthesisTimeout <= 0:
		return &conversation.ConfigurationError{Key: "orchestrator.synthesis_timeout", Reason: "must be positive"}
	case c.LogTimeout <= 0:
		return &conversation.ConfigurationError{Key: "orchestrator.log_timeout", Reason: "must be positive"}
	}
	return nil
}
