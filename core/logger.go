package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the minimal structured logging interface used throughout the
// engine. All fields are passed as a flat map so adapters (JSON, text,
// metrics) can each project them as they see fit.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a subsystem (store, scheduler, escalation,
// ingest, httpapi) get its own "component" tag on every line without each
// one threading a prefix through by hand.
//
// Component naming convention:
//   - "engine/store"
//   - "engine/scheduler"
//   - "engine/escalation"
//   - "engine/ingest"
//   - "engine/httpapi"
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Used as a safe zero value.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                              {}
func (NoOpLogger) Error(string, map[string]interface{})                             {}
func (NoOpLogger) Warn(string, map[string]interface{})                              {}
func (NoOpLogger) Debug(string, map[string]interface{})                             {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// ============================================================================
// ProductionLogger - layered observability (console, then metrics)
// ============================================================================

// ProductionLogger is a structured logger with JSON output for production
// (log aggregation) and a human-readable text form for local development.
// Error logs are rate-limited so a failing dependency can't flood stdout.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer

	errorLimiter *rateLimiter

	mu             sync.Mutex
	metricsEnabled bool
	onLog          func(level, component string, fields map[string]interface{})
}

// NewProductionLogger builds a logger from the resolved LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) *ProductionLogger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}
	logger := &ProductionLogger{
		level:        strings.ToLower(logging.Level),
		debug:        dev.DebugLogging || strings.EqualFold(logging.Level, "debug"),
		serviceName:  serviceName,
		component:    "engine",
		format:       logging.Format,
		output:       output,
		errorLimiter: newRateLimiter(time.Second),
	}
	trackLogger(logger)
	return logger
}

// EnableMetrics wires a callback invoked on every logged event so the
// telemetry package can derive counters from log volume without this
// package importing telemetry (which would create an import cycle).
func (p *ProductionLogger) EnableMetrics(onLog func(level, component string, fields map[string]interface{})) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLog = onLog
	p.metricsEnabled = true
}

// WithComponent returns a logger tagged with the given component name,
// sharing the same output/level/rate-limiter.
func (p *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{
		level:          p.level,
		debug:          p.debug,
		serviceName:    p.serviceName,
		component:      component,
		format:         p.format,
		output:         p.output,
		errorLimiter:   p.errorLimiter,
		metricsEnabled: p.metricsEnabled,
		onLog:          p.onLog,
	}
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if p.errorLimiter != nil && !p.errorLimiter.Allow() {
		return
	}
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.errorLimiter != nil && !p.errorLimiter.Allow() {
		return
	}
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().UTC().Format(time.RFC3339)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		var b strings.Builder
		for k, v := range fields {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
		fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s\n",
			timestamp, level, p.serviceName, p.component, msg, b.String())
	}

	p.mu.Lock()
	onLog := p.onLog
	p.mu.Unlock()
	if onLog != nil {
		onLog(level, p.component, fields)
	}
}

// rateLimiter allows at most one event per interval; used to keep error
// logging from a failing Transport/Store from flooding stdout.
type rateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval}
}

func (r *rateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.last) >= r.interval {
		r.last = now
		return true
	}
	return false
}
