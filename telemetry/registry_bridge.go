package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/itsneelabh/reminderd/core"
)

// RegistryBridge adapts MetricInstruments to core.MetricsRegistry so that
// core.ProductionLogger can emit a log.events counter per log line without
// core importing this package (see core.SetMetricsRegistry). Gauge values
// are recorded as histograms since MetricInstruments only exposes async
// observable gauges, which need a registered callback rather than a push.
type RegistryBridge struct {
	instruments *MetricInstruments
}

// NewRegistryBridge wraps instruments for registration via
// core.SetMetricsRegistry.
func NewRegistryBridge(instruments *MetricInstruments) *RegistryBridge {
	return &RegistryBridge{instruments: instruments}
}

func labelAttributes(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

// Counter implements core.MetricsRegistry.
func (b *RegistryBridge) Counter(name string, labels ...string) {
	attrs := labelAttributes(labels)
	_ = b.instruments.RecordCounter(context.Background(), name, 1, metric.WithAttributes(attrs...))
}

// Gauge implements core.MetricsRegistry.
func (b *RegistryBridge) Gauge(name string, value float64, labels ...string) {
	attrs := labelAttributes(labels)
	_ = b.instruments.RecordHistogram(context.Background(), name, value, metric.WithAttributes(attrs...))
}

// Histogram implements core.MetricsRegistry.
func (b *RegistryBridge) Histogram(name string, value float64, labels ...string) {
	attrs := labelAttributes(labels)
	_ = b.instruments.RecordHistogram(context.Background(), name, value, metric.WithAttributes(attrs...))
}

var _ core.MetricsRegistry = (*RegistryBridge)(nil)
