package history

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// MemoryStore is an in-process history store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]conversation.HistoryRecord
	gaps    map[string]conversation.GapSuggestion
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]conversation.HistoryRecord),
		gaps:    make(map[string]conversation.GapSuggestion),
	}
}

// Append stores rec, replacing any record with the same id.
func (s *MemoryStore) Append(ctx context.Context, rec conversation.HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return &conversation.ValidationError{Field: "record.id", Reason: "must not be empty"}
	}
	rec.Entities = slices.Clone(rec.Entities)
	rec.SourcesUsed = slices.Clone(rec.SourcesUsed)
	rec.Embedding = slices.Clone(rec.Embedding)

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

// QueryStats aggregates the records of q.TopicKey inside the window.
func (s *MemoryStore) QueryStats(ctx context.Context, q conversation.StatsQuery) (conversation.TopicStats, error) {
	if err := ctx.Err(); err != nil {
		return conversation.TopicStats{}, err
	}
	since := q.Now.Add(-q.Window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var agg aggregate
	for _, rec := range s.records {
		if rec.TopicKey != q.TopicKey || rec.Timestamp.Before(since) || rec.Timestamp.After(q.Now) {
			continue
		}
		agg.add(rec.RequesterID, float64(rec.TopScore))
	}
	return agg.stats(), nil
}

// PublishGap stores s, replacing an earlier suggestion with the same id.
func (s *MemoryStore) PublishGap(ctx context.Context, g conversation.GapSuggestion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.gaps[g.ID] = g
	s.mu.Unlock()
	return nil
}

// Records returns the stored records in no particular order.
func (s *MemoryStore) Records() []conversation.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]conversation.HistoryRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// Gaps returns the published suggestions in no particular order.
func (s *MemoryStore) Gaps() []conversation.GapSuggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]conversation.GapSuggestion, 0, len(s.gaps))
	for _, g := range s.gaps {
		out = append(out, g)
	}
	return out
}

// scorePrecision is the resolution of an averaged top score. Scores come
// from float32 similarities, so digits beyond it are noise.
const scorePrecision = 1e6

type aggregate struct {
	count      int
	scoreSum   float64
	requesters map[string]struct{}
}

func (a *aggregate) add(requester string, topScore float64) {
	if a.requesters == nil {
		a.requesters = make(map[string]struct{})
	}
	a.count++
	a.scoreSum += topScore
	if requester != "" {
		a.requesters[requester] = struct{}{}
	}
}

func (a *aggregate) stats() conversation.TopicStats {
	if a.count == 0 {
		return conversation.TopicStats{}
	}
	return conversation.TopicStats{
		RequestCount:     a.count,
		AvgTopScore:      math.Round(a.scoreSum/float64(a.count)*scorePrecision) / scorePrecision,
		UniqueRequesters: len(a.requesters),
	}
}
