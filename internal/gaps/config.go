// Package gaps decides whether a query belongs to a topic whose retrieval
// quality stays poor over time and builds the documentation suggestion
// for it.
package gaps

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// Config holds the gap detection thresholds.
type Config struct {
	Enabled bool `koanf:"enabled"`
	// MinRequests is the request count a topic must reach before it is judged.
	MinRequests int `koanf:"min_requests"`
	// QualityFloor is the average top score below which a topic is a gap.
	QualityFloor float64 `koanf:"quality_floor"`
	// UserThreshold is the distinct requester count above which a gap is high priority.
	UserThreshold int           `koanf:"user_threshold"`
	Window        time.Duration `koanf:"window"`
	// SimilarityThreshold is the minimum embedding similarity for a past
	// query to count towards the same topic in vector-backed stores.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
	// RequireApproval suspends the conversation until someone acknowledges
	// the suggestion before it is published.
	RequireApproval bool `koanf:"require_approval"`
	Publish         bool `koanf:"publish"`
}

// DefaultConfig returns the default thresholds: 10 requests, 0.4 quality
// floor, 5 users, 7 days.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MinRequests:         10,
		QualityFloor:        0.4,
		UserThreshold:       5,
		Window:              7 * 24 * time.Hour,
		SimilarityThreshold: 0.85,
		Publish:             true,
	}
}

// Validate reports out-of-range thresholds as ConfigurationError.
func (c Config) Validate() error {
	switch {
	case c.MinRequests < 1:
		return &conversation.ConfigurationError{Key: "gaps.min_requests", Reason: fmt.Sprintf("must be at least 1, got %d", c.MinRequests)}
	case c.QualityFloor < 0 || c.QualityFloor > 1:
		return &conversation.ConfigurationError{Key: "gaps.quality_floor", Reason: fmt.Sprintf("must be within [0,1], got %g", c.QualityFloor)}
	case c.UserThreshold < 0:
		return &conversation.ConfigurationError{Key: "gaps.user_threshold", Reason: fmt.Sprintf("must not be negative, got %d", c.UserThreshold)}
	case c.Window <= 0:
		return &conversation.ConfigurationError{Key: "gaps.window", Reason: "must be positive"}
	case c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1:
		return &conversation.ConfigurationError{Key: "gaps.similarity_threshold", Reason: fmt.Sprintf("must be within [0,1], got %g", c.SimilarityThreshold)}
	}
	return nil
}
