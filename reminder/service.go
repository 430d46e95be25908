package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/reminderd/core"
	"github.com/itsneelabh/reminderd/transport"
)

const retryBound = 3 // spec §7: small bound before surfacing a store conflict as Conflict

// Escalator triggers the escalation engine synchronously, used by
// RecordResponse when a decline arrives and the rule's trigger conditions
// include "decline". Implemented by the escalation package; declared here
// to avoid a reminder<->escalation import cycle.
type Escalator interface {
	TriggerDecline(ctx context.Context, id string) error
}

// Service is the sole entry point for state-changing operations on
// reminders (spec §4.2).
type Service struct {
	repo      *Repository
	transport transport.Transport
	clock     core.Clock
	escalator Escalator
	logger    core.Logger
}

// NewService wires a Service. escalator may be nil at construction time
// and set later via SetEscalator, since the Escalation Engine is built
// from the same Repository and is wired in after both exist.
func NewService(repo *Repository, tr transport.Transport, clock core.Clock, logger core.Logger) *Service {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Service{repo: repo, transport: tr, clock: clock, logger: logger}
}

// SetEscalator wires the Escalation Engine after construction.
func (s *Service) SetEscalator(e Escalator) {
	s.escalator = e
}

// Create validates opts and persists a brand new PENDING reminder.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Reminder, error) {
	now := s.clock.Now()
	if err := validateCreate(in, now); err != nil {
		return nil, err
	}

	r := &Reminder{
		ID:            uuid.NewString(),
		Content:       in.Content,
		TargetUserID:  in.TargetUserID,
		ScheduledTime: in.ScheduledTime.UTC(),
		Timezone:      in.Timezone,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusPending,
		Escalation:    in.Escalation,
		RepeatRule:    in.RepeatRule,
	}
	if r.Escalation != nil {
		r.Escalation.IsActive = true
	}
	if r.RepeatRule != nil {
		r.RepeatRule.IsActive = true
		r.RepeatRule.CurrentOccurrence = 1
		r.RepeatRule.NextScheduledTime = r.ScheduledTime
	}

	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	s.logger.InfoWithContext(ctx, "reminder created", map[string]interface{}{"id": r.ID, "scheduled_time": r.ScheduledTime})
	return r, nil
}

// Update is permitted only while status is PENDING.
func (s *Service) Update(ctx context.Context, id string, in CreateInput) (*Reminder, error) {
	now := s.clock.Now()
	if err := validateCreate(in, now); err != nil {
		return nil, err
	}
	return s.repo.MutateWithRetry(ctx, id, retryBound, func(r *Reminder) error {
		if r.Status != StatusPending {
			return core.NewError("reminder.Update", core.KindConflict, "IMMUTABLE_STATE: reminder is not pending", nil)
		}
		r.Content = in.Content
		r.TargetUserID = in.TargetUserID
		r.ScheduledTime = in.ScheduledTime.UTC()
		r.Timezone = in.Timezone
		r.Escalation = in.Escalation
		if r.Escalation != nil {
			r.Escalation.IsActive = true
		}
		r.RepeatRule = in.RepeatRule
		if r.RepeatRule != nil {
			r.RepeatRule.IsActive = true
		}
		return nil
	})
}

// Cancel is permitted only while status is PENDING.
func (s *Service) Cancel(ctx context.Context, id, actor string) (*Reminder, error) {
	return s.repo.MutateWithRetry(ctx, id, retryBound, func(r *Reminder) error {
		if r.Status != StatusPending {
			return core.NewError("reminder.Cancel", core.KindConflict, "IMMUTABLE_STATE: reminder is not pending", nil)
		}
		to, err := Transition(r.Status, EventAdminCancel)
		if err != nil {
			return core.NewError("reminder.Cancel", core.KindInternal, "illegal transition", err)
		}
		r.Status = to
		appendResponse(r, actor, ResponseCancelled, "", s.clock.Now())
		return nil
	})
}

// Delete hard-deletes a reminder in any state.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// allStatuses enumerates every value of Status, used by Flush to walk the
// per-status index since the Repository exposes no unfiltered scan.
var allStatuses = []Status{
	StatusPending, StatusSent, StatusAcknowledged, StatusDeclined,
	StatusEscalated, StatusEscalatedAck, StatusEscalatedDeclined,
	StatusFailed, StatusCancelled, StatusExpired,
}

// Flush deletes every reminder in the store (spec §6 DELETE
// /api/reminders/flush, an admin-only destructive operation). Returns the
// number of reminders removed.
func (s *Service) Flush(ctx context.Context) (int, error) {
	deleted := 0
	for _, status := range allStatuses {
		ids, err := s.repo.GetByStatus(ctx, status, 1_000_000)
		if err != nil {
			return deleted, err
		}
		for _, r := range ids {
			if err := s.repo.Delete(ctx, r.ID); err != nil && !core.IsNotFound(err) {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, nil
}

// Get returns a reminder by id.
func (s *Service) Get(ctx context.Context, id string) (*Reminder, error) {
	return s.repo.GetByID(ctx, id)
}

// List pages through the reminders in the given status. The status filter
// is required: an empty status is rejected with a validation error.
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]*Reminder, error) {
	if status == "" {
		// no status filter: page across all statuses by due time via the store's
		// by-time ordering, which the repository doesn't expose directly, so
		// callers needing an unfiltered list should page per-status instead.
		return nil, core.NewValidationError("reminder.List", "status", "status filter is required")
	}
	all, err := s.repo.GetByStatus(ctx, status, limit+offset)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return []*Reminder{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// MarkAsDelivered transitions PENDING -> SENT, bumps delivery bookkeeping,
// and sets the ack-deadline if an active escalation rule is present.
func (s *Service) MarkAsDelivered(ctx context.Context, id string) (*Reminder, error) {
	return s.repo.MutateWithRetry(ctx, id, retryBound, func(r *Reminder) error {
		to, err := Transition(r.Status, EventDispatchSuccess)
		if err != nil {
			return core.NewError("reminder.MarkAsDelivered", core.KindConflict, "reminder is not pending", err)
		}
		now := s.clock.Now()
		r.Status = to
		r.DeliveryAttempts++
		r.LastDeliveryAttempt = &now
		r.LastError = ""
		appendResponse(r, "system", ResponseDelivered, "", now)
		return nil
	})
}

// RecordTransientFailure keeps a reminder PENDING, bumps attempts, and
// records the error. The caller (Scheduler) is responsible for rescheduling
// scheduledTime via the retry policy.
func (s *Service) RecordTransientFailure(ctx context.Context, id string, nextAttempt time.Time, lastErr string) (*Reminder, error) {
	return s.repo.MutateWithRetry(ctx, id, retryBound, func(r *Reminder) error {
		to, err := Transition(r.Status, EventTransientFailure)
		if err != nil {
			return core.NewError("reminder.RecordTransientFailure", core.KindConflict, "reminder is not pending", err)
		}
		r.Status = to
		r.DeliveryAttempts++
		r.ScheduledTime = nextAttempt.UTC()
		r.LastError = lastErr
		return nil
	})
}

// RecordPermanentFailure transitions PENDING -> FAILED.
func (s *Service) RecordPermanentFailure(ctx context.Context, id, lastErr string) (*Reminder, error) {
	return s.repo.MutateWithRetry(ctx, id, retryBound, func(r *Reminder) error {
		to, err := Transition(r.Status, EventPermanentFailure)
		if err != nil {
			return core.NewError("reminder.RecordPermanentFailure", core.KindConflict, "reminder is not pending", err)
		}
		r.Status = to
		r.DeliveryAttempts++
		r.LastError = lastErr
		appendResponse(r, "system", ResponseFailedDelivery, "", s.clock.Now())
		return nil
	})
}

// Expire transitions a stale PENDING reminder to EXPIRED (Open Question
// resolution in SPEC_FULL §4.6: missed its scheduledTime by more than the
// grace period with no retry budget left).
func (s *Service) Expire(ctx context.Context, id string) (*Reminder, error) {
	return s.repo.MutateWithRetry(ctx, id, retryBound, func(r *Reminder) error {
		to, err := Transition(r.Status, EventMissedGrace)
		if err != nil {
			return core.NewError("reminder.Expire", core.KindConflict, "reminder is not pending", err)
		}
		r.Status = to
		return nil
	})
}

// RecordResponse maps an inbound acknowledge/decline to a state
// transition, appending a ResponseLog entry. When a decline arrives from
// SENT and the escalation rule lists "decline" as a trigger, the
// Escalation Engine is invoked synchronously after the commit to own the
// further DECLINED -> ESCALATED_DECLINED move and its metadata (spec
// §4.4 trigger 2). A repeated response that finds the reminder already
// in its target state is a no-op for status but still appends an audit
// log entry (spec §8 R3: duplicate delivery must never be lost, never a
// backwards transition).
func (s *Service) RecordResponse(ctx context.Context, id, actor string, rtype ResponseType) (*Reminder, error) {
	now := s.clock.Now()
	var declinedWithEscalation bool

	r, err := s.repo.MutateWithRetry(ctx, id, retryBound, func(r *Reminder) error {
		from := r.Status
		event, err := eventForResponse(r, rtype)
		if err != nil {
			return err
		}
		to, terr := Transition(from, event)
		if terr != nil {
			if !isRepeatOfAnsweredResponse(from, rtype) {
				return core.NewError("reminder.RecordResponse", core.KindConflict, "response not valid in current state", terr)
			}
			appendResponse(r, actor, rtype, "", now)
			return nil
		}
		r.Status = to
		appendResponse(r, actor, rtype, "", now)
		declinedWithEscalation = from == StatusSent && rtype == ResponseDeclined &&
			r.Escalation != nil && r.Escalation.IsActive && r.Escalation.HasTrigger(TriggerDecline)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if declinedWithEscalation && s.escalator != nil {
		if err := s.escalator.TriggerDecline(ctx, id); err != nil {
			s.logger.ErrorWithContext(ctx, "synchronous decline escalation failed", map[string]interface{}{"id": id, "error": err})
		}
	}
	return r, nil
}

// isRepeatOfAnsweredResponse reports whether an illegal (from, rtype) pair
// represents a duplicate delivery of a response the reminder already
// recorded, rather than a genuine conflict (e.g. declining an already
// cancelled reminder). Only the exact already-answered terminal states for
// that response type qualify.
func isRepeatOfAnsweredResponse(from Status, rtype ResponseType) bool {
	switch rtype {
	case ResponseAcknowledged:
		return from == StatusAcknowledged || from == StatusEscalatedAck
	case ResponseDeclined:
		return from == StatusDeclined || from == StatusEscalatedDeclined
	default:
		return false
	}
}

// answeredTerminal are the terminal states representing a definitive user
// response; Reset refuses to touch these.
var answeredTerminal = map[Status]bool{
	StatusAcknowledged:      true,
	StatusDeclined:          true,
	StatusEscalatedAck:      true,
	StatusEscalatedDeclined: true,
}

// Reset returns a reminder to PENDING so the scheduler picks it up again,
// clearing delivery bookkeeping and the ack-deadline index. Disallowed once
// the reminder has reached a terminal state representing a user's actual
// answer (spec §6 POST /api/reminders/{id}/reset).
func (s *Service) Reset(ctx context.Context, id, actor string) (*Reminder, error) {
	return s.repo.MutateWithRetry(ctx, id, retryBound, func(r *Reminder) error {
		if answeredTerminal[r.Status] {
			return core.NewError("reminder.Reset", core.KindConflict, "cannot reset a reminder that already has a user response", nil)
		}
		r.Status = StatusPending
		r.DeliveryAttempts = 0
		r.LastDeliveryAttempt = nil
		r.LastError = ""
		if r.Escalation != nil {
			r.Escalation.TriggeredAt = nil
			r.Escalation.TriggerReason = ""
			r.Escalation.LastError = ""
			r.Escalation.NextAttemptAfter = nil
			r.Escalation.AttemptCount = 0
		}
		appendResponse(r, actor, ResponseReset, "", s.clock.Now())
		return nil
	})
}

// eventForResponse always resolves a decline to EventDeclinedNoEscalate:
// the further move into an ESCALATED* status when the rule has a decline
// trigger is the Escalation Engine's responsibility (see RecordResponse),
// not this state-machine step.
func eventForResponse(r *Reminder, rtype ResponseType) (Event, error) {
	switch rtype {
	case ResponseAcknowledged:
		return EventAcknowledged, nil
	case ResponseDeclined:
		return EventDeclinedNoEscalate, nil
	default:
		return "", core.NewValidationError("reminder.RecordResponse", "responseType", fmt.Sprintf("unsupported response type %q", rtype))
	}
}

// ExecuteTest runs a diagnostic against a reminder without necessarily
// altering its schedule. Always appends a TestExecution entry, even on
// failure.
func (s *Service) ExecuteTest(ctx context.Context, id, actor string, testType TestType, preserveSchedule bool) (*TestExecution, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	exec := &TestExecution{
		ID:                uuid.NewString(),
		ExecutedBy:        actor,
		ExecutedAt:        s.clock.Now(),
		TestType:          testType,
		PreservedSchedule: preserveSchedule,
		Result:            TestResultSuccess,
	}

	switch testType {
	case TestImmediateDelivery:
		res, sendErr := s.transport.Send(ctx, transport.Message{
			RecipientUserID: r.TargetUserID,
			Text:            r.Content,
			CustomID:        fmt.Sprintf("acknowledge_reminder_%s", r.ID),
		})
		if sendErr != nil || res.Kind != transport.KindSuccess {
			exec.Result = TestResultFailed
			exec.ErrorMessage = errString(sendErr)
		}
	case TestEscalationFlow:
		if r.Escalation == nil {
			exec.Result = TestResultFailed
			exec.ErrorMessage = "no escalation rule configured"
			break
		}
		res, sendErr := s.transport.Send(ctx, transport.Message{
			RecipientUserID: r.Escalation.SecondaryUserID,
			Text:            "[TEST] " + r.Content,
			CustomID:        fmt.Sprintf("acknowledge_reminder_%s", r.ID),
		})
		if sendErr != nil || res.Kind != transport.KindSuccess {
			exec.Result = TestResultFailed
			exec.ErrorMessage = errString(sendErr)
		}
	case TestValidation:
		if issues := validateInvariants(r); len(issues) > 0 {
			exec.Result = TestResultPartial
			exec.ErrorMessage = fmt.Sprintf("%d invariant issue(s): %v", len(issues), issues)
		}
	default:
		exec.Result = TestResultFailed
		exec.ErrorMessage = fmt.Sprintf("unsupported test type %q", testType)
	}

	_, err = s.repo.MutateWithRetry(ctx, id, retryBound, func(r *Reminder) error {
		r.TestExecutions = append(r.TestExecutions, *exec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// validateInvariants re-checks spec §3 invariants against a live record,
// used by ExecuteTest(testType=validation).
func validateInvariants(r *Reminder) []string {
	var issues []string
	if !r.ScheduledTime.After(r.CreatedAt) {
		issues = append(issues, "scheduledTime must be after createdAt")
	}
	if r.Escalation != nil && r.Escalation.SecondaryUserID == r.TargetUserID {
		issues = append(issues, "escalation secondaryUserId must differ from targetUserId")
	}
	for i := 1; i < len(r.Responses); i++ {
		if r.Responses[i].Timestamp.Before(r.Responses[i-1].Timestamp) {
			issues = append(issues, "responses are not monotonically ordered")
			break
		}
	}
	return issues
}

func appendResponse(r *Reminder, actor string, rtype ResponseType, messageID string, at time.Time) {
	r.Responses = append(r.Responses, ResponseLog{
		ID:           uuid.NewString(),
		UserID:       actor,
		ResponseType: rtype,
		Timestamp:    at,
		MessageID:    messageID,
	})
}
