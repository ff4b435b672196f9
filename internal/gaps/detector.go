package gaps

import (
	"slices"
	"strings"
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

const (
	// SuggestedAction is the action attached to every suggestion.
	SuggestedAction = "create_documentation"

	maxTopicEntities = 3
)

// Detector applies the gap rule to topic statistics.
type Detector struct {
	cfg Config
}

// NewDetector validates cfg and returns a Detector.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Config returns the active thresholds.
func (d *Detector) Config() Config {
	return d.cfg
}

// Evaluate reports whether stats describe a gap and, if so, its priority.
// A topic is a gap when it has at least MinRequests requests and an average
// top score strictly below QualityFloor.
func (d *Detector) Evaluate(stats conversation.TopicStats) (bool, conversation.Priority) {
	if stats.RequestCount < d.cfg.MinRequests || stats.AvgTopScore >= d.cfg.QualityFloor {
		return false, ""
	}
	if stats.UniqueRequesters > d.cfg.UserThreshold {
		return true, conversation.PriorityHigh
	}
	return true, conversation.PriorityMedium
}

// Suggest builds the suggestion for a detected gap on c. query is the
// text to publish, normally c.Query with secrets redacted.
func (d *Detector) Suggest(c *conversation.Context, query string, stats conversation.TopicStats, priority conversation.Priority, now time.Time) *conversation.GapSuggestion {
	var keywords, entities []string
	if c.Understanding != nil {
		keywords = c.Understanding.Keywords
		entities = c.Understanding.Entities
	}

	topic := query
	if len(entities) > 0 {
		topic = strings.Join(entities[:min(len(entities), maxTopicEntities)], ", ")
	}

	topics := slices.Clone(entities)
	if len(topics) == 0 {
		topics = slices.Clone(keywords)
	}

	return &conversation.GapSuggestion{
		ID:              "gap_" + c.ID,
		ConversationID:  c.ID,
		Topic:           topic,
		TopicKey:        TopicKey(keywords, query),
		QueryPattern:    query,
		Priority:        priority,
		SuggestedAction: SuggestedAction,
		SuggestedContent: conversation.SuggestedContent{
			Title:             "Documentation: " + query,
			Topics:            topics,
			QuestionsToAnswer: []string{query},
		},
		RequestCount:      stats.RequestCount,
		AvgTopScore:       stats.AvgTopScore,
		UniqueRequesters:  stats.UniqueRequesters,
		DetectedAt:        now,
		SourceCount:       len(c.Sources()),
		ApprovalRequested: d.cfg.RequireApproval,
		Embedding:         slices.Clone(c.Embedding),
	}
}

// TopicKey normalizes a query into its topic bucket: the lowercased,
// sorted, de-duplicated keyword set, or the normalized query text when
// there are no keywords.
func TopicKey(keywords []string, query string) string {
	set := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = normalize(k)
		if k != "" {
			set = append(set, k)
		}
	}
	if len(set) == 0 {
		return normalize(query)
	}
	slices.Sort(set)
	return strings.Join(slices.Compact(set), " ")
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
