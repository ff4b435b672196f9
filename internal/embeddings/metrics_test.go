package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/askd/internal/logging"
)

type failingProvider struct{ stubProvider }

func (f *failingProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model unavailable")
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestInstrumented_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter(meterName)
	p := instrument(&failingProvider{}, "BAAI/bge-small-en-v1.5", meter, logging.NewNop())
	ctx := context.Background()

	_, err := p.EmbedQuery(ctx, "how do I reset my laptop")
	require.NoError(t, err)
	_, err = p.EmbedDocuments(ctx, []string{"a", "b", "c"})
	require.Error(t, err)

	got := collect(t, reader)
	duration, ok := got["askd.embeddings.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var calls uint64
	for _, dp := range duration.DataPoints {
		calls += dp.Count
	}
	assert.Equal(t, uint64(2), calls)

	texts, ok := got["askd.embeddings.texts"].(metricdata.Histogram[int64])
	require.True(t, ok)
	var embedded int64
	for _, dp := range texts.DataPoints {
		embedded += dp.Sum
	}
	assert.Equal(t, int64(4), embedded)

	failures, ok := got["askd.embeddings.failures"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failures.DataPoints, 1)
	assert.Equal(t, int64(1), failures.DataPoints[0].Value)
}

func TestInstrumented_Delegates(t *testing.T) {
	stub := &stubProvider{}
	p := instrument(stub, "stub", nil, logging.NewNop())

	v, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)
	assert.Equal(t, 1, p.Dimension())
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestCanonicalModel(t *testing.T) {
	assert.Equal(t, "BAAI/bge-small-en-v1.5", canonicalModel("fast-bge-small-en-v1.5"))
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", canonicalModel("fast-all-MiniLM-L6-v2"))
	assert.Equal(t, "text-embedding-3-small", canonicalModel("text-embedding-3-small"))
	assert.Equal(t, 768, detectDimensionFromModel("fast-bge-base-en-v1.5"))
}

func TestLocalConfig_Defaults(t *testing.T) {
	c := LocalConfig{Model: "BAAI/bge-small-en-v1.5"}.withDefaults()
	assert.Equal(t, 512, c.MaxLength)
	assert.Equal(t, 256, c.BatchSize)
	assert.NotEmpty(t, c.CacheDir)
}
