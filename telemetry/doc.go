/*
Package telemetry provides the OpenTelemetry-backed metric instruments
used across the reminder engine, plus a simple interval-gate rate limiter
for throttling noisy log lines.

MetricInstruments caches one OTel instrument per metric name behind a
RWMutex, so callers can record a counter/histogram/gauge by name without
worrying about creating it twice:

	instruments := telemetry.NewMetricInstruments("reminderd-scheduler")
	instruments.RecordCounter(ctx, telemetry.MetricDueDispatched, 1)

Metric names for the engine's own components (scheduler ticks, delivery
outcomes, escalation, ingestion) are declared as constants in this
package; resilience.OTelMetricsCollector wraps the circuit-breaker ones
to satisfy resilience.MetricsCollector.

RateLimiter is a simple interval gate (see ratelimiter.go), used where a
component wants to log or re-notify on a schedule rather than on every
occurrence.
*/
package telemetry
