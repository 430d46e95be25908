package reminder

import (
	"regexp"
	"time"

	"github.com/itsneelabh/reminderd/core"
)

// targetUserIDPattern matches the external chat platform's snowflake id
// form: 17-19 decimal digits.
var targetUserIDPattern = regexp.MustCompile(`^\d{17,19}$`)

const (
	maxContentLength = 2000
	minTimeoutMinutes = 1
	maxTimeoutMinutes = 10080 // 7 days
	maxScheduleHorizon = 365 * 24 * time.Hour
)

// CreateInput carries the caller-supplied fields for Create. Fields left
// zero are treated as absent/optional where the spec allows it.
type CreateInput struct {
	Content       string
	TargetUserID  string
	ScheduledTime time.Time
	Timezone      string
	CreatedBy     string
	Escalation    *EscalationRule
	RepeatRule    *RepeatRule
}

// validateCreate checks every invariant from spec §3/§4.2 against in, given the
// current time. It never reads or writes the store.
func validateCreate(in CreateInput, now time.Time) error {
	op := "reminder.Create"

	if l := len([]rune(in.Content)); l == 0 || l > maxContentLength {
		return core.NewValidationError(op, "content", "content must be 1-2000 code points")
	}
	if !targetUserIDPattern.MatchString(in.TargetUserID) {
		return core.NewValidationError(op, "targetUserId", "targetUserId must be 17-19 decimal digits")
	}
	if !in.ScheduledTime.After(now) {
		return core.NewValidationError(op, "scheduledTime", "scheduledTime must be in the future")
	}
	if in.ScheduledTime.After(now.Add(maxScheduleHorizon)) {
		return core.NewValidationError(op, "scheduledTime", "scheduledTime must be within 1 year")
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return core.NewValidationError(op, "timezone", "timezone is not a recognized IANA zone")
		}
	}
	if in.Escalation != nil {
		if err := validateEscalation(op, in.Escalation, in.TargetUserID); err != nil {
			return err
		}
	}
	if in.RepeatRule != nil {
		if err := validateRepeatRule(op, in.RepeatRule); err != nil {
			return err
		}
	}
	return nil
}

func validateEscalation(op string, e *EscalationRule, targetUserID string) error {
	if e.SecondaryUserID == "" || !targetUserIDPattern.MatchString(e.SecondaryUserID) {
		return core.NewValidationError(op, "escalation.secondaryUserId", "secondaryUserId must be 17-19 decimal digits")
	}
	if e.SecondaryUserID == targetUserID {
		return core.NewValidationError(op, "escalation.secondaryUserId", "secondaryUserId must differ from targetUserId")
	}
	if e.TimeoutMinutes < minTimeoutMinutes || e.TimeoutMinutes > maxTimeoutMinutes {
		return core.NewValidationError(op, "escalation.timeoutMinutes", "timeoutMinutes must be between 1 and 10080")
	}
	if len([]rune(e.TimeoutMessage)) > maxContentLength {
		return core.NewValidationError(op, "escalation.timeoutMessage", "timeoutMessage must be at most 2000 characters")
	}
	if len([]rune(e.DeclineMessage)) > maxContentLength {
		return core.NewValidationError(op, "escalation.declineMessage", "declineMessage must be at most 2000 characters")
	}
	return nil
}

func validateRepeatRule(op string, r *RepeatRule) error {
	if r.Interval < 1 {
		return core.NewValidationError(op, "repeatRule.interval", "interval must be at least 1")
	}
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
	default:
		return core.NewValidationError(op, "repeatRule.frequency", "frequency must be one of daily, weekly, monthly, yearly")
	}
	switch r.EndCondition {
	case EndConditionNever:
	case EndConditionDate:
		if r.EndDate == nil {
			return core.NewValidationError(op, "repeatRule.endDate", "endDate is required when endCondition is date")
		}
	case EndConditionCount:
		if r.MaxOccurrences < 1 {
			return core.NewValidationError(op, "repeatRule.maxOccurrences", "maxOccurrences must be at least 1 when endCondition is count")
		}
	default:
		return core.NewValidationError(op, "repeatRule.endCondition", "endCondition must be one of never, date, count")
	}
	return nil
}
