package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/askd/internal/logging"
)

func TestRequestMetrics_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter(meterName)

	e := echo.New()
	e.Use(newRequestMetrics(meter, logging.NewNop()).middleware())
	e.POST("/api/v1/conversations/:id/cancel", func(c echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	})
	e.GET("/api/v1/conversations/:id", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/v1/conversations/c1/cancel", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/conversations/c2/cancel", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/conversations/missing", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	counts := map[string]int64{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if m.Name != "askd.http.requests" {
			continue
		}
		sum, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		for _, dp := range sum.DataPoints {
			route, _ := dp.Attributes.Value(attribute.Key("route"))
			status, _ := dp.Attributes.Value(attribute.Key("status"))
			counts[route.AsString()+" "+status.AsString()] += dp.Value
		}
	}
	assert.Equal(t, map[string]int64{
		"/api/v1/conversations/:id/cancel 2xx": 2,
		"/api/v1/conversations/:id 4xx":        1,
	}, counts)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusCreated))
	assert.Equal(t, "5xx", statusClass(http.StatusServiceUnavailable))
	assert.Equal(t, "unknown", statusClass(0))
}
