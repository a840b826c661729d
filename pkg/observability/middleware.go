package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
)

// Status labels shared by metrics and spans.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusToolError = "tool_error"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// Observer bundles metrics and tracing for the dispatcher. Either member may
// be nil.
type Observer struct {
	Metrics *Metrics
	Tracing *TracingProvider
}

// ObserveRequest opens a span for method and returns a func that closes it
// and records the request metric.
func (o *Observer) ObserveRequest(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	if o == nil {
		return ctx, func(error) {}
	}
	start := time.Now()
	ctx, span := o.Tracing.StartMethodSpan(ctx, method, attrs...)

	return ctx, func(err error) {
		status := StatusFor(err)
		if err != nil {
			RecordError(ctx, err)
		}
		span.SetAttributes(attribute.String("mcp.status", status))
		span.End()
		o.Metrics.RecordRequest(method, status, time.Since(start))
	}
}

// ObserveNotification counts a notification and traces its handling.
func (o *Observer) ObserveNotification(ctx context.Context, method string) (context.Context, func()) {
	if o == nil {
		return ctx, func() {}
	}
	o.Metrics.RecordNotification(method)
	ctx, span := o.Tracing.StartMethodSpan(ctx, method, attribute.Bool("mcp.notification", true))
	return ctx, func() { span.End() }
}

// ObserveToolCall opens a "tool.<name>" span. The returned func records the
// final status label.
func (o *Observer) ObserveToolCall(ctx context.Context, tool string) (context.Context, func(status string)) {
	if o == nil {
		return ctx, func(string) {}
	}
	start := time.Now()
	ctx, span := o.Tracing.StartSpan(ctx, "tool."+tool, attribute.String("mcp.tool", tool))

	return ctx, func(status string) {
		span.SetAttributes(attribute.String("mcp.status", status))
		span.End()
		o.Metrics.RecordToolCall(tool, status, time.Since(start))
	}
}

// RecordProgress counts a progress update forwarded for tool.
func (o *Observer) RecordProgress(tool string) {
	if o == nil {
		return
	}
	o.Metrics.RecordProgress(tool)
}

// ObserveProvider times a provider registry operation.
func (o *Observer) ObserveProvider(kind, operation string) func(err error) {
	if o == nil {
		return func(error) {}
	}
	start := time.Now()
	return func(err error) {
		o.Metrics.RecordProviderOperation(kind, operation, StatusFor(err), time.Since(start))
	}
}

// StatusFor maps an error to a status label.
func StatusFor(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, context.DeadlineExceeded), mcperrors.IsCategory(err, mcperrors.CategoryTimeout):
		return StatusTimeout
	case errors.Is(err, context.Canceled), mcperrors.IsCategory(err, mcperrors.CategoryCancelled):
		return StatusCancelled
	default:
		return StatusError
	}
}
