package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SnapshotVersion is the schema version written by MarshalSnapshot.
const SnapshotVersion = 1

// ErrUnsupportedSnapshot is returned for snapshots written by a newer schema.
var ErrUnsupportedSnapshot = errors.New("unsupported snapshot version")

// snapshot is the persisted continuation of a conversation: enough to
// dispatch the stage after LastCompletedStage without re-running anything.
type snapshot struct {
	SchemaVersion      int      `json:"schema_version"`
	ConversationID     string   `json:"conversation_id"`
	LastCompletedStage Stage    `json:"last_completed_stage"`
	Context            *Context `json:"context"`
}

// MarshalSnapshot serializes c for durable storage.
func MarshalSnapshot(c *Context) ([]byte, error) {
	if c == nil {
		return nil, errors.New("nil conversation")
	}
	data, err := json.Marshal(snapshot{
		SchemaVersion:      SnapshotVersion,
		ConversationID:     c.ID,
		LastCompletedStage: c.LastCompletedStage,
		Context:            c,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot %s: %w", c.ID, err)
	}
	return data, nil
}

// UnmarshalSnapshot restores a conversation written by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Context, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	if s.SchemaVersion > SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSnapshot, s.SchemaVersion)
	}
	if s.Context == nil {
		return nil, errors.New("snapshot has no context")
	}
	if s.Context.ID != s.ConversationID {
		return nil, fmt.Errorf("snapshot id mismatch: %q vs %q", s.ConversationID, s.Context.ID)
	}
	return s.Context, nil
}
