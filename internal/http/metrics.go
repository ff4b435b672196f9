package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/logging"
)

const meterName = "github.com/fyrsmithlabs/askd/internal/http"

// requestMetrics instruments the API by route pattern and status class, so
// conversation ids never become label values.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// newRequestMetrics registers the instruments on meter, or on the global
// meter provider when meter is nil.
func newRequestMetrics(meter metric.Meter, logger *logging.Logger) *requestMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &requestMetrics{}
	var errs []error
	var err error
	m.requests, err = meter.Int64Counter("askd.http.requests",
		metric.WithDescription("API requests by method, route and status class"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)
	m.duration, err = meter.Float64Histogram("askd.http.duration",
		metric.WithDescription("API request latency; conversation starts include the synchronous pipeline run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	errs = append(errs, err)
	m.inflight, err = meter.Int64UpDownCounter("askd.http.inflight",
		metric.WithDescription("API requests being served"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		logger.Warn(context.Background(), "http instruments incomplete", zap.Error(err))
	}
	return m
}

func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.String("status", statusClass(responseStatus(c, err))),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

// responseStatus is the status the client will see. A returned error is
// rendered by the echo error handler after the middleware unwinds.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// statusClass reduces a status code to 2xx, 4xx and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
