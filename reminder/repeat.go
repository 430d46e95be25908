package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/reminderd/core"
)

// advance computes the next occurrence instant for one repeat period.
func advance(from time.Time, freq Frequency, interval int) time.Time {
	switch freq {
	case FrequencyDaily:
		return from.AddDate(0, 0, interval)
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7*interval)
	case FrequencyMonthly:
		return from.AddDate(0, interval, 0)
	case FrequencyYearly:
		return from.AddDate(interval, 0, 0)
	default:
		return from
	}
}

// ScheduleNextRepeat creates the next occurrence of a recurring reminder,
// or deactivates the repeat rule and returns nil if the end condition is
// reached (spec §4.2). The prior occurrence (identified by id) keeps its
// own terminal status untouched except for RepeatRule.IsActive.
func (s *Service) ScheduleNextRepeat(ctx context.Context, id string) (*Reminder, error) {
	prior, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if prior.RepeatRule == nil || !prior.RepeatRule.IsActive {
		return nil, nil
	}

	next := advance(prior.RepeatRule.NextScheduledTime, prior.RepeatRule.Frequency, prior.RepeatRule.Interval)
	nextOccurrence := prior.RepeatRule.CurrentOccurrence + 1

	ended := false
	switch prior.RepeatRule.EndCondition {
	case EndConditionCount:
		if prior.RepeatRule.MaxOccurrences > 0 && nextOccurrence > prior.RepeatRule.MaxOccurrences {
			ended = true
		}
	case EndConditionDate:
		if prior.RepeatRule.EndDate != nil && !next.Before(*prior.RepeatRule.EndDate) {
			ended = true
		}
	}

	if ended {
		_, err := s.repo.MutateWithRetry(ctx, id, retryBound, func(r *Reminder) error {
			if r.RepeatRule != nil {
				r.RepeatRule.IsActive = false
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return nil, nil
	}

	newRule := &RepeatRule{
		Frequency:         prior.RepeatRule.Frequency,
		Interval:          prior.RepeatRule.Interval,
		EndCondition:      prior.RepeatRule.EndCondition,
		EndDate:           prior.RepeatRule.EndDate,
		MaxOccurrences:    prior.RepeatRule.MaxOccurrences,
		CurrentOccurrence: nextOccurrence,
		NextScheduledTime: next,
		IsActive:          true,
	}

	var nextEscalation *EscalationRule
	if prior.Escalation != nil {
		copied := *prior.Escalation
		copied.TriggeredAt = nil
		copied.TriggerReason = ""
		copied.LastError = ""
		copied.NextAttemptAfter = nil
		copied.AttemptCount = 0
		nextEscalation = &copied
	}

	now := s.clock.Now()
	occ := &Reminder{
		ID:            uuid.NewString(),
		Content:       prior.Content,
		TargetUserID:  prior.TargetUserID,
		ScheduledTime: next,
		Timezone:      prior.Timezone,
		CreatedBy:     prior.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusPending,
		Escalation:    nextEscalation,
		RepeatRule:    newRule,
	}

	if err := s.repo.Create(ctx, occ); err != nil {
		return nil, core.NewError("reminder.ScheduleNextRepeat", core.KindInternal, "failed to create next occurrence", err)
	}
	return occ, nil
}
