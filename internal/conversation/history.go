package conversation

import "time"

// HistoryRecord is the audit entry written by the log stage.
type HistoryRecord struct {
	// ID is derived from the conversation id and stage so repeated
	// writes overwrite rather than duplicate.
	ID               string        `json:"id"`
	ConversationID   string        `json:"conversation_id"`
	Query            string        `json:"query"`
	TopicKey         string        `json:"topic_key"`
	Intent           string        `json:"intent,omitempty"`
	Entities         []string      `json:"entities,omitempty"`
	ResultCount      int           `json:"result_count"`
	TopScore         float32       `json:"top_score"`
	SourcesUsed      []string      `json:"sources_used,omitempty"`
	ApprovalRequired bool          `json:"approval_required"`
	ApprovalGranted  bool          `json:"approval_granted"`
	GapDetected      bool          `json:"gap_detected"`
	ResponseTime     time.Duration `json:"response_time"`
	RequesterID      string        `json:"requester_id"`
	Embedding        []float32     `json:"-"`
	Timestamp        time.Time     `json:"timestamp"`
}

// StatsQuery selects the history of one topic bucket.
type StatsQuery struct {
	TopicKey  string
	Embedding []float32
	Window    time.Duration
	Now       time.Time
}

// TopicStats summarises the history of one topic bucket.
type TopicStats struct {
	RequestCount     int     `json:"request_count"`
	AvgTopScore      float64 `json:"avg_top_score"`
	UniqueRequesters int     `json:"unique_requesters"`
}
