// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the MCP server.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Prometheus namespace (default: mcp)
	Namespace string
	Subsystem string

	// Custom histogram buckets for latency, in milliseconds
	HistogramBuckets []float64

	// Labels to add to all metrics
	ConstLabels prometheus.Labels

	// IncludeRuntime registers the Go runtime and process collectors.
	IncludeRuntime bool
}

// Metrics holds the server's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	notificationTotal *prometheus.CounterVec

	toolCallDuration *prometheus.HistogramVec
	toolCallTotal    *prometheus.CounterVec
	progressTotal    *prometheus.CounterVec

	providerOperationDuration *prometheus.HistogramVec

	activeSessions *prometheus.GaugeVec
	frameErrors    *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.HistogramBuckets == nil {
		// Default buckets for milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			Buckets:     config.HistogramBuckets,
			ConstLabels: config.ConstLabels,
		}, labels)
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	m.requestDuration = histogram("request_duration_milliseconds", "Duration of incoming MCP requests in milliseconds", "method", "status")
	m.requestTotal = counter("request_total", "Total number of incoming MCP requests", "method", "status")
	m.notificationTotal = counter("notification_total", "Total number of incoming MCP notifications", "method")
	m.toolCallDuration = histogram("tool_call_duration_milliseconds", "Duration of tool calls in milliseconds", "tool", "status")
	m.toolCallTotal = counter("tool_call_total", "Total number of tool calls", "tool", "status")
	m.progressTotal = counter("tool_progress_total", "Total number of progress notifications forwarded", "tool")
	m.providerOperationDuration = histogram("provider_operation_duration_milliseconds", "Duration of provider operations in milliseconds", "kind", "operation", "status")
	m.activeSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "active_sessions",
		Help:        "Number of connected transport sessions",
		ConstLabels: config.ConstLabels,
	}, []string{"transport"})
	m.frameErrors = counter("transport_errors_total", "Total number of transport read/write failures", "transport", "kind")

	cs := []prometheus.Collector{
		m.requestDuration,
		m.requestTotal,
		m.notificationTotal,
		m.toolCallDuration,
		m.toolCallTotal,
		m.progressTotal,
		m.providerOperationDuration,
		m.activeSessions,
		m.frameErrors,
	}
	if config.IncludeRuntime {
		cs = append(cs,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
		}
	}

	return m, nil
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records an incoming request and its outcome.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, status).Observe(ms(duration))
	m.requestTotal.WithLabelValues(method, status).Inc()
}

// RecordNotification records an incoming notification.
func (m *Metrics) RecordNotification(method string) {
	if m == nil {
		return
	}
	m.notificationTotal.WithLabelValues(method).Inc()
}

// RecordToolCall records one tools/call execution.
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCallDuration.WithLabelValues(tool, status).Observe(ms(duration))
	m.toolCallTotal.WithLabelValues(tool, status).Inc()
}

// RecordProgress records one forwarded progress value.
func (m *Metrics) RecordProgress(tool string) {
	if m == nil {
		return
	}
	m.progressTotal.WithLabelValues(tool).Inc()
}

// RecordProviderOperation records a registry call such as resources/read.
func (m *Metrics) RecordProviderOperation(kind, operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerOperationDuration.WithLabelValues(kind, operation, status).Observe(ms(duration))
}

// SessionOpened increments the active-session gauge for a transport.
func (m *Metrics) SessionOpened(transport string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(transport).Inc()
}

// SessionClosed decrements the active-session gauge for a transport.
func (m *Metrics) SessionClosed(transport string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(transport).Dec()
}

// RecordTransportError counts a framing or I/O failure.
func (m *Metrics) RecordTransportError(transport, kind string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(transport, kind).Inc()
}

// Serve exposes Handler on addr at path until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
