// Package snapshot persists suspended and finished conversations so they
// can be resumed by a later, independent call.
//
// Every store implements compare-and-swap on Context.Version: a Save
// succeeds only when the stored version equals the expected one, which
// serializes concurrent resumes across processes.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

var (
	// ErrNotFound is returned when no snapshot exists for an id.
	ErrNotFound = errors.New("snapshot not found")
	// ErrVersionConflict is returned when the stored version does not
	// match the expected one.
	ErrVersionConflict = errors.New("snapshot version conflict")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("snapshot store closed")
)

// Store persists conversation snapshots.
type Store interface {
	// Save writes c if the stored version equals expectedVersion. Zero
	// means the snapshot must not exist yet.
	Save(ctx context.Context, c *conversation.Context, expectedVersion int64) error
	Load(ctx context.Context, id string) (*conversation.Context, error)
	// Delete removes the snapshot. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// List returns the snapshots in status, oldest first.
	List(ctx context.Context, status conversation.Status) ([]*conversation.Context, error)
	// PurgeBefore deletes snapshots last updated before cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
