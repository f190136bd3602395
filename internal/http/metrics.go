package http

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/shipyard/internal/http"

// Outcome labels for API operations.
const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// apiMetrics records request traffic and the workflow operations the API
// performs. Instruments that fail to register stay nil and are skipped.
type apiMetrics struct {
	requests  metric.Int64Counter
	duration  metric.Float64Histogram
	inFlight  metric.Int64UpDownCounter
	mutations metric.Int64Counter
	pipelines metric.Int64Counter
}

func newAPIMetrics(meter metric.Meter, logger *zap.Logger) *apiMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &apiMetrics{}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	var err error
	m.requests, err = meter.Int64Counter("shipyard.http.requests_total",
		metric.WithDescription("API requests by method, route and status code."),
		metric.WithUnit("{request}"))
	warn("requests", err)

	m.duration, err = meter.Float64Histogram("shipyard.http.request_duration_seconds",
		metric.WithDescription("API request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 1, 2.5, 10))
	warn("duration", err)

	m.inFlight, err = meter.Int64UpDownCounter("shipyard.http.in_flight_requests",
		metric.WithUnit("{request}"))
	warn("in_flight", err)

	m.mutations, err = meter.Int64Counter("shipyard.api.workflow_mutations_total",
		metric.WithDescription("Workflow state writes made through the API, by operation and outcome."),
		metric.WithUnit("{operation}"))
	warn("mutations", err)

	m.pipelines, err = meter.Int64Counter("shipyard.api.pipeline_starts_total",
		metric.WithDescription("Pipeline launch requests, by outcome."),
		metric.WithUnit("{start}"))
	warn("pipelines", err)

	return m
}

// middleware records one request. The route label is the matched pattern
// (/api/v1/workflows/:id), never the raw path.
func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", status),
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

func (m *apiMetrics) mutation(ctx context.Context, op string, err error) {
	if m.mutations == nil {
		return
	}
	m.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcomeOf(err)),
	))
}

func (m *apiMetrics) pipelineStart(ctx context.Context, outcome string) {
	if m.pipelines == nil {
		return
	}
	m.pipelines.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// outcomeOf maps a handler error to an outcome label. Client errors are
// rejections; everything else unexpected is an error.
func outcomeOf(err error) string {
	if err == nil {
		return outcomeOK
	}
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code < 500 {
		return outcomeRejected
	}
	return outcomeError
}

// routeLabel is "unmatched" for requests no route handled.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
