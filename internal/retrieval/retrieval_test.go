package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/qdrant"
)

type fakeQdrant struct {
	qdrant.Client

	points     []*qdrant.ScoredPoint
	searchErr  error
	lastFilter *qdrant.Filter
	lastLimit  uint64
	exists     bool
	created    map[string]uint64
	upserted   []*qdrant.Point
}

func (f *fakeQdrant) Search(_ context.Context, _ string, _ []float32, limit uint64, filter *qdrant.Filter) ([]*qdrant.ScoredPoint, error) {
	f.lastFilter = filter
	f.lastLimit = limit
	return f.points, f.searchErr
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeQdrant) CreateCollection(_ context.Context, name string, size uint64) error {
	if f.created == nil {
		f.created = map[string]uint64{}
	}
	f.created[name] = size
	f.exists = true
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, _ string, points []*qdrant.Point) error {
	f.upserted = append(f.upserted, points...)
	return nil
}

func TestQdrantRetriever_SearchMapsPayload(t *testing.T) {
	fake := &fakeQdrant{points: []*qdrant.ScoredPoint{{
		Point: qdrant.Point{
			ID: "5b4f2f9e-0000-4000-8000-000000000001",
			Payload: map[string]any{
				"id":      "doc-1",
				"title":   "Payroll runbook",
				"content": "How payroll is run",
				"source":  "confluence",
				"url":     "https://wiki/payroll",
				"permissions": map[string]any{
					"sensitivity":            "Restricted",
					"teams":                  []any{"finance"},
					"users":                  []any{"u-7"},
					"offshore_restricted":    true,
					"third_party_restricted": false,
				},
			},
		},
		Score: 0.82,
	}}}

	r, err := NewQdrantRetriever(fake, "", nil)
	require.NoError(t, err)

	got, err := r.Search(context.Background(), []float32{0.1, 0.2}, conversation.SearchFilters{Sources: []string{"confluence", "jira"}}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, "doc-1", c.ID)
	assert.Equal(t, float32(0.82), c.Score)
	assert.Equal(t, conversation.TierRestricted, c.Tier)
	assert.Equal(t, []string{"finance"}, c.Teams)
	assert.Equal(t, []string{"u-7"}, c.Users)
	assert.True(t, c.GeoRestricted)
	assert.False(t, c.ThirdPartyRestricted)
	assert.Equal(t, "Payroll runbook", c.Title)
	assert.Equal(t, "confluence", c.Source)

	require.NotNil(t, fake.lastFilter)
	require.Len(t, fake.lastFilter.Must, 1)
	assert.Equal(t, "source", fake.lastFilter.Must[0].Field)
	assert.Equal(t, []string{"confluence", "jira"}, fake.lastFilter.Must[0].AnyOf)
	assert.Equal(t, uint64(5), fake.lastLimit)
}

func TestQdrantRetriever_NoHintsNoFilter(t *testing.T) {
	fake := &fakeQdrant{}
	r, err := NewQdrantRetriever(fake, DefaultCollection, nil)
	require.NoError(t, err)

	got, err := r.Search(context.Background(), []float32{1}, conversation.SearchFilters{}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Nil(t, fake.lastFilter)
}

func TestQdrantRetriever_MissingPermissionsHasNoTier(t *testing.T) {
	fake := &fakeQdrant{points: []*qdrant.ScoredPoint{{Point: qdrant.Point{ID: "p", Payload: map[string]any{"content": "x"}}, Score: 0.5}}}
	r, err := NewQdrantRetriever(fake, "", nil)
	require.NoError(t, err)

	got, err := r.Search(context.Background(), []float32{1}, conversation.SearchFilters{}, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Tier.Known())
}

func TestQdrantRetriever_Errors(t *testing.T) {
	_, err := NewQdrantRetriever(nil, "", nil)
	require.Error(t, err)

	fake := &fakeQdrant{searchErr: errors.New("unavailable")}
	r, err := NewQdrantRetriever(fake, "", nil)
	require.NoError(t, err)

	_, err = r.Search(context.Background(), []float32{1}, conversation.SearchFilters{}, 3)
	require.Error(t, err)
	assert.ErrorContains(t, err, "unavailable")

	_, err = r.Search(context.Background(), []float32{1}, conversation.SearchFilters{}, 0)
	var ve *conversation.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestQdrantRetriever_Index(t *testing.T) {
	fake := &fakeQdrant{}
	r, err := NewQdrantRetriever(fake, "kb", nil)
	require.NoError(t, err)

	docs := []Document{{
		ID:      "runbook-1",
		Title:   "Runbook",
		Content: "restart the service",
		Source:  "confluence",
		Tier:    conversation.TierConfidential,
		Teams:   []string{"sre"},
		Vector:  []float32{0.1, 0.2, 0.3},
	}}
	require.NoError(t, r.Index(context.Background(), docs))
	require.NoError(t, r.Index(context.Background(), docs))

	assert.Equal(t, map[string]uint64{"kb": 3}, fake.created)
	require.Len(t, fake.upserted, 2)
	assert.Equal(t, fake.upserted[0].ID, fake.upserted[1].ID, "point ids are deterministic")
	assert.Equal(t, "runbook-1", fake.upserted[0].Payload["id"])

	perms := fake.upserted[0].Payload["permissions"].(map[string]any)
	assert.Equal(t, "confidential", perms["sensitivity"])
	assert.Equal(t, []string{"sre"}, perms["teams"])

	err = r.Index(context.Background(), []Document{{ID: "x", Content: "c"}})
	var ve *conversation.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "document.vector", ve.Field)
}

func TestChromemRetriever_IndexAndSearch(t *testing.T) {
	ctx := context.Background()
	r, err := NewChromemRetriever(ChromemConfig{}, nil)
	require.NoError(t, err)

	docs := []Document{
		{
			ID: "a", Title: "Deploy guide", Content: "how to deploy", Source: "confluence",
			Tier: conversation.TierPublic, Vector: []float32{1, 0, 0},
		},
		{
			ID: "b", Title: "Salary bands", Content: "bands", Source: "drive",
			Tier: conversation.TierRestricted, Teams: []string{"hr", "finance"}, ThirdPartyRestricted: true,
			Vector: []float32{0.9, 0.1, 0},
		},
		{
			ID: "c", Title: "Lunch menu", Content: "tacos", Source: "slack",
			Tier: conversation.TierInternal, GeoRestricted: true, Vector: []float32{0, 0, 1},
		},
	}
	require.NoError(t, r.Index(ctx, docs))
	assert.Equal(t, 3, r.Count())

	got, err := r.Search(ctx, []float32{1, 0, 0}, conversation.SearchFilters{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "c", got[2].ID)

	assert.Equal(t, conversation.TierRestricted, got[1].Tier)
	assert.Equal(t, []string{"hr", "finance"}, got[1].Teams)
	assert.True(t, got[1].ThirdPartyRestricted)
	assert.True(t, got[2].GeoRestricted)
	assert.Equal(t, "how to deploy", got[0].Content)

	filtered, err := r.Search(ctx, []float32{1, 0, 0}, conversation.SearchFilters{Sources: []string{"slack", "drive"}}, 10)
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, "b", filtered[0].ID)
	assert.Equal(t, "c", filtered[1].ID)

	limited, err := r.Search(ctx, []float32{1, 0, 0}, conversation.SearchFilters{}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "a", limited[0].ID)
}

func TestChromemRetriever_ReindexReplaces(t *testing.T) {
	ctx := context.Background()
	r, err := NewChromemRetriever(ChromemConfig{}, nil)
	require.NoError(t, err)

	doc := Document{ID: "a", Content: "v1", Tier: conversation.TierPublic, Vector: []float32{1, 0}}
	require.NoError(t, r.Index(ctx, []Document{doc}))
	doc.Content = "v2"
	require.NoError(t, r.Index(ctx, []Document{doc}))

	assert.Equal(t, 1, r.Count())
	got, err := r.Search(ctx, []float32{1, 0}, conversation.SearchFilters{}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0].Content)
}

func TestChromemRetriever_EmptyCollection(t *testing.T) {
	r, err := NewChromemRetriever(ChromemConfig{Path: t.TempDir(), Compress: true}, nil)
	require.NoError(t, err)

	got, err := r.Search(context.Background(), []float32{1, 0}, conversation.SearchFilters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
