// Package ingest implements the Response Ingestor (spec §4.5): it turns an
// opaque platform custom-action identifier into a parsed (action,
// reminderID) pair and drives reminder.Service.RecordResponse from it.
// Identity is authenticated out-of-band by the transport layer before
// either entry point here is called — this package does not authenticate.
package ingest

import (
	"context"
	"regexp"

	"github.com/itsneelabh/reminderd/core"
	"github.com/itsneelabh/reminderd/reminder"
	"github.com/itsneelabh/reminderd/telemetry"
)

// customIDPattern matches "<action>_reminder_<reminderId>" and the legacy
// form "<action>_reminder" with no id suffix.
var customIDPattern = regexp.MustCompile(`^(acknowledge|decline)_reminder(?:_(.+))?$`)

// Parse extracts the action and reminder id from a custom-action
// identifier. ok is false if customID doesn't match the expected shape at
// all. A matched legacy form (no reminder id) returns ok=true with an
// empty reminderID; callers must record the event without attempting a
// state transition in that case, per spec §4.5.
func Parse(customID string) (action, reminderID string, ok bool) {
	m := customIDPattern.FindStringSubmatch(customID)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// responseTypeFor maps the parsed action string to the Service's
// ResponseType vocabulary.
func responseTypeFor(action string) (reminder.ResponseType, bool) {
	switch action {
	case "acknowledge":
		return reminder.ResponseAcknowledged, true
	case "decline":
		return reminder.ResponseDeclined, true
	default:
		return "", false
	}
}

// Ingestor adapts parsed or pre-extracted (action, reminderID, actor)
// triples to reminder.Service.RecordResponse. It has no state of its own
// and is safe for concurrent use.
type Ingestor struct {
	service *reminder.Service
	logger  core.Logger
	metrics *telemetry.MetricInstruments
}

// New builds an Ingestor around service. logger may be nil.
func New(service *reminder.Service, logger core.Logger) *Ingestor {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("engine/ingest")
	}
	return &Ingestor{service: service, logger: logger}
}

// SetMetrics wires a MetricInstruments instance so ingestion outcomes are
// recorded as counters. Optional; a nil Ingestor.metrics is a silent no-op.
func (in *Ingestor) SetMetrics(m *telemetry.MetricInstruments) {
	in.metrics = m
}

func (in *Ingestor) recordOutcome(ctx context.Context, name string) {
	if in.metrics == nil {
		return
	}
	_ = in.metrics.RecordCounter(ctx, name, 1)
}

// ErrLegacyNoTransition is returned by IngestCustomID when customID matched
// the legacy no-id form: the event was accepted but no reminder state
// changed, so callers should still reply "accepted" to the platform.
var ErrLegacyNoTransition = core.NewValidationError("ingest.IngestCustomID", "customID", "legacy custom_id carries no reminder id; event recorded without a transition")

// IngestCustomID parses customID and, if it names a concrete reminder,
// applies the response. It returns the updated reminder, or nil with
// ErrLegacyNoTransition for the legacy no-id form, or a validation error if
// customID doesn't match the expected shape at all.
func (in *Ingestor) IngestCustomID(ctx context.Context, customID, actor string) (*reminder.Reminder, error) {
	action, id, ok := Parse(customID)
	if !ok {
		in.recordOutcome(ctx, telemetry.MetricResponsesRejected)
		return nil, core.NewValidationError("ingest.IngestCustomID", "customID", "unrecognized custom_id format")
	}
	rtype, ok := responseTypeFor(action)
	if !ok {
		in.recordOutcome(ctx, telemetry.MetricResponsesRejected)
		return nil, core.NewValidationError("ingest.IngestCustomID", "customID", "unsupported action")
	}
	if id == "" {
		in.logger.InfoWithContext(ctx, "legacy custom_id accepted without transition", map[string]interface{}{
			"action": action, "actor": actor,
		})
		return nil, ErrLegacyNoTransition
	}
	r, err := in.service.RecordResponse(ctx, id, actor, rtype)
	if err != nil {
		in.recordOutcome(ctx, telemetry.MetricResponsesRejected)
		return nil, err
	}
	in.recordOutcome(ctx, telemetry.MetricResponsesIngested)
	return r, nil
}

// Accept applies an already-parsed action/reminderID/actor triple,
// bypassing Parse. Used by callers (e.g. the link-ack route) that recover
// the action and reminder id from their own URL shape rather than a
// custom_id string.
func (in *Ingestor) Accept(ctx context.Context, action, reminderID, actor string) (*reminder.Reminder, error) {
	rtype, ok := responseTypeFor(action)
	if !ok {
		in.recordOutcome(ctx, telemetry.MetricResponsesRejected)
		return nil, core.NewValidationError("ingest.Accept", "action", "unsupported action")
	}
	if reminderID == "" {
		in.recordOutcome(ctx, telemetry.MetricResponsesRejected)
		return nil, core.NewValidationError("ingest.Accept", "reminderID", "reminderID is required")
	}
	r, err := in.service.RecordResponse(ctx, reminderID, actor, rtype)
	if err != nil {
		in.recordOutcome(ctx, telemetry.MetricResponsesRejected)
		return nil, err
	}
	in.recordOutcome(ctx, telemetry.MetricResponsesIngested)
	return r, nil
}
