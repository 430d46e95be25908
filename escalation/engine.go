// Package escalation implements the Escalation Engine: a timeout scan
// trigger driven by the scheduler's cron tick, and a synchronous decline
// trigger invoked directly from reminder.Service.RecordResponse.
package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/reminderd/core"
	"github.com/itsneelabh/reminderd/reminder"
	"github.com/itsneelabh/reminderd/telemetry"
	"github.com/itsneelabh/reminderd/transport"
)

const (
	maxAttempts = 3         // Open Question resolution: cap escalation retries
	retrySkip   = time.Hour // skip window after exhausting maxAttempts
)

var defaultTimeoutTemplate = "Reminder timed out without a response: {content} (for {targetUserId}, scheduled {scheduledTime})"
var defaultDeclineTemplate = "Reminder was declined: {content} (for {targetUserId}, scheduled {scheduledTime})"

// Engine resolves escalation triggers to an outbound Transport send and a
// status transition on the originating reminder.
type Engine struct {
	repo      *reminder.Repository
	transport transport.Transport
	clock     core.Clock
	logger    core.Logger
	metrics   *telemetry.MetricInstruments
}

// New builds an Engine. All mutation goes through repo directly since the
// transitions here (SENT/DECLINED -> ESCALATED) are engine-owned, not part
// of the Service's public command surface.
func New(repo *reminder.Repository, tr transport.Transport, clock core.Clock, logger core.Logger) *Engine {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Engine{repo: repo, transport: tr, clock: clock, logger: logger}
}

// SetMetrics wires a MetricInstruments instance so escalation outcomes are
// recorded as counters. Optional; a nil Engine.metrics is a silent no-op.
func (e *Engine) SetMetrics(m *telemetry.MetricInstruments) {
	e.metrics = m
}

func (e *Engine) recordOutcome(ctx context.Context, name string) {
	if e.metrics == nil {
		return
	}
	_ = e.metrics.RecordCounter(ctx, name, 1)
}

// RunTimeoutScan is invoked by the scheduler's escalation cron tick. It
// scans reminders whose ack-deadline has elapsed and are still SENT with
// an active timeout trigger.
func (e *Engine) RunTimeoutScan(ctx context.Context, limit int) (int, error) {
	now := e.clock.Now()
	due, err := e.repo.DeliveredWithEscalation(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, r := range due {
		if r.Escalation == nil || !r.Escalation.IsActive || !r.Escalation.HasTrigger(reminder.TriggerTimeout) {
			continue
		}
		if r.Escalation.NextAttemptAfter != nil && now.Before(*r.Escalation.NextAttemptAfter) {
			continue // skip window after exhausting retries
		}
		if err := e.escalate(ctx, r.ID, reminder.TriggerTimeout); err != nil {
			e.logger.ErrorWithContext(ctx, "timeout escalation failed", map[string]interface{}{"id": r.ID, "error": err})
			continue
		}
		escalated++
	}
	return escalated, nil
}

// TriggerDecline implements reminder.Escalator. Called synchronously from
// RecordResponse when a decline arrives and the rule's trigger conditions
// include "decline".
func (e *Engine) TriggerDecline(ctx context.Context, id string) error {
	return e.escalate(ctx, id, reminder.TriggerDecline)
}

func (e *Engine) escalate(ctx context.Context, id string, reason reminder.EscalationTrigger) error {
	r, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if r.Escalation == nil || !r.Escalation.IsActive {
		return core.NewError("escalation.escalate", core.KindConflict, "no active escalation rule", nil)
	}

	text := resolveTemplate(r, reason)
	msg := transport.Message{
		RecipientUserID: r.Escalation.SecondaryUserID,
		Text:            text,
		CustomID:        fmt.Sprintf("acknowledge_reminder_%s", r.ID),
	}

	e.recordOutcome(ctx, telemetry.MetricEscalationTriggered)

	res, sendErr := e.transport.Send(ctx, msg)
	if sendErr != nil || res.Kind != transport.KindSuccess {
		e.recordOutcome(ctx, telemetry.MetricEscalationFailure)
		return e.recordFailure(ctx, id, sendErr)
	}
	e.recordOutcome(ctx, telemetry.MetricEscalationSuccess)

	_, err = e.repo.MutateWithRetry(ctx, id, 3, func(r *reminder.Reminder) error {
		var event reminder.Event
		switch r.Status {
		case reminder.StatusSent:
			event = reminder.EventTimeoutEscalate
			if reason == reminder.TriggerDecline {
				event = reminder.EventDeclinedEscalate
			}
		case reminder.StatusDeclined:
			event = reminder.EventDeclinedEscalate
		default:
			return core.NewError("escalation.escalate", core.KindConflict, "reminder not eligible for escalation", nil)
		}
		to, terr := reminder.Transition(r.Status, event)
		if terr != nil {
			return core.NewError("escalation.escalate", core.KindInternal, "illegal transition", terr)
		}
		now := e.clock.Now()
		r.Status = to
		r.Escalation.TriggeredAt = &now
		r.Escalation.TriggerReason = reason
		r.Escalation.LastError = ""
		r.Escalation.NextAttemptAfter = nil
		r.Escalation.AttemptCount = 0
		r.Responses = append(r.Responses, reminder.ResponseLog{
			ID:           uuid.NewString(),
			UserID:       "system",
			ResponseType: reminder.ResponseEscalated,
			Timestamp:    now,
		})
		return nil
	})
	return err
}

// recordFailure persists the attempt count and backoff window without
// changing status, so the ack-deadline index entry stays in place and the
// next tick retries (spec §4.4 action 4).
func (e *Engine) recordFailure(ctx context.Context, id string, sendErr error) error {
	_, err := e.repo.MutateWithRetry(ctx, id, 3, func(r *reminder.Reminder) error {
		if r.Escalation == nil {
			return nil
		}
		r.Escalation.AttemptCount++
		r.Escalation.LastError = errString(sendErr)
		if r.Escalation.AttemptCount >= maxAttempts {
			next := e.clock.Now().Add(retrySkip)
			r.Escalation.NextAttemptAfter = &next
			r.Escalation.AttemptCount = 0
		}
		return nil
	})
	if err != nil {
		return err
	}
	return core.NewError("escalation.escalate", core.KindTransportTransient, "escalation send failed", sendErr)
}

func errString(err error) string {
	if err == nil {
		return "transport reported non-success result"
	}
	return err.Error()
}

func resolveTemplate(r *reminder.Reminder, reason reminder.EscalationTrigger) string {
	tmpl := defaultTimeoutTemplate
	if reason == reminder.TriggerDecline {
		tmpl = defaultDeclineTemplate
	}
	if reason == reminder.TriggerTimeout && r.Escalation.TimeoutMessage != "" {
		tmpl = r.Escalation.TimeoutMessage
	}
	if reason == reminder.TriggerDecline && r.Escalation.DeclineMessage != "" {
		tmpl = r.Escalation.DeclineMessage
	}

	replacer := strings.NewReplacer(
		"{content}", r.Content,
		"{targetUserId}", r.TargetUserID,
		"{scheduledTime}", r.ScheduledTime.Format(time.RFC3339),
		"{timeoutMinutes}", fmt.Sprintf("%d", r.Escalation.TimeoutMinutes),
	)
	return replacer.Replace(tmpl)
}

var _ reminder.Escalator = (*Engine)(nil)
