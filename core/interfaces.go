package core

import (
	"context"
	"sync"
)

// Telemetry is optional span/metric support usable without an OTel
// dependency at the call site.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a telemetry span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry discards everything. Used when telemetry is disabled.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, NoOpSpan{}
}

func (NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpSpan is a span that does nothing.
type NoOpSpan struct{}

func (NoOpSpan) End()                                       {}
func (NoOpSpan) SetAttribute(key string, value interface{}) {}
func (NoOpSpan) RecordError(err error)                      {}

// ============================================================================
// Global Registry Pattern for Telemetry Integration
// ============================================================================

// MetricsRegistry enables the telemetry package to register itself with
// core without core importing telemetry, avoiding an import cycle. The
// telemetry package implements this via its RegistryBridge type (a wrapper
// over MetricInstruments), which is registered using SetMetricsRegistry()
// during startup.
type MetricsRegistry interface {
	// Counter increments a counter metric by 1.
	// Example: Counter("reminder.created", "channel", "slack")
	Counter(name string, labels ...string)

	// Gauge sets a gauge metric to a specific value.
	// Example: Gauge("scheduler.due.count", 12)
	Gauge(name string, value float64, labels ...string)

	// Histogram records a value in a histogram distribution.
	// Example: Histogram("dispatch.tick.duration_ms", 340)
	Histogram(name string, value float64, labels ...string)
}

var globalMetricsRegistry MetricsRegistry

// SetMetricsRegistry allows the telemetry package to register itself.
func SetMetricsRegistry(registry MetricsRegistry) {
	globalMetricsRegistry = registry
	enableMetricsOnExistingLoggers()
}

// GetGlobalMetricsRegistry returns the global metrics registry if available.
// Returns nil if the telemetry package has not registered one yet, which
// lets other packages emit metrics without a hard dependency on telemetry.
func GetGlobalMetricsRegistry() MetricsRegistry {
	return globalMetricsRegistry
}

var (
	createdLoggers []*ProductionLogger
	loggersMutex   sync.RWMutex
)

// trackLogger records a logger so it can be wired to the metrics registry
// once telemetry becomes available (loggers are usually created before
// telemetry is initialized at startup).
func trackLogger(logger *ProductionLogger) {
	loggersMutex.Lock()
	defer loggersMutex.Unlock()

	createdLoggers = append(createdLoggers, logger)
	if globalMetricsRegistry != nil {
		wireLoggerMetrics(logger)
	}
}

func enableMetricsOnExistingLoggers() {
	loggersMutex.Lock()
	defer loggersMutex.Unlock()

	for _, logger := range createdLoggers {
		wireLoggerMetrics(logger)
	}
}

func wireLoggerMetrics(logger *ProductionLogger) {
	registry := globalMetricsRegistry
	logger.EnableMetrics(func(level, component string, fields map[string]interface{}) {
		registry.Counter("log.events", "level", level, "component", component)
	})
}
