package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

type memoryEntry struct {
	version   int64
	status    conversation.Status
	updatedAt time.Time
	data      []byte
}

// MemoryStore keeps snapshots in process memory. Snapshots are stored
// serialized so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Save(_ context.Context, c *conversation.Context, expectedVersion int64) error {
	data, err := conversation.MarshalSnapshot(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	current, exists := s.entries[c.ID]
	if (!exists && expectedVersion != 0) || (exists && current.version != expectedVersion) {
		return fmt.Errorf("%w: %s expected version %d", ErrVersionConflict, c.ID, expectedVersion)
	}
	s.entries[c.ID] = memoryEntry{version: c.Version, status: c.Status, updatedAt: c.UpdatedAt, data: data}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*conversation.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return conversation.UnmarshalSnapshot(e.data)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, status conversation.Status) ([]*conversation.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*conversation.Context, 0)
	for _, e := range s.entries {
		if e.status != status {
			continue
		}
		c, err := conversation.UnmarshalSnapshot(e.data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for id, e := range s.entries {
		if e.updatedAt.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
