// Package reminder implements the reminder entity, its state machine, and
// the Service command surface (Create, Update, Cancel, Delete,
// MarkAsDelivered, RecordResponse, ExecuteTest, ScheduleNextRepeat) on top
// of a durable store.Store.
package reminder

import "time"

// Status is one state in the reminder lifecycle. See Transition for the
// full table of legal moves.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusSent              Status = "SENT"
	StatusAcknowledged      Status = "ACKNOWLEDGED"
	StatusDeclined          Status = "DECLINED"
	StatusEscalated         Status = "ESCALATED"
	StatusEscalatedAck      Status = "ESCALATED_ACK"
	StatusEscalatedDeclined Status = "ESCALATED_DECLINED"
	StatusFailed            Status = "FAILED"
	StatusCancelled         Status = "CANCELLED"
	StatusExpired           Status = "EXPIRED"
)

// Terminal reports whether s has no further legal transitions. DECLINED is
// not terminal: a decline escalation rule can still move it to
// ESCALATED_DECLINED (spec §4.4 action 3).
func (s Status) Terminal() bool {
	switch s {
	case StatusAcknowledged, StatusEscalatedAck, StatusEscalatedDeclined,
		StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// ResponseType classifies one ResponseLog entry.
type ResponseType string

const (
	ResponseAcknowledged    ResponseType = "acknowledged"
	ResponseDeclined        ResponseType = "declined"
	ResponseDelivered       ResponseType = "delivered"
	ResponseFailedDelivery  ResponseType = "failed_delivery"
	ResponseEscalated       ResponseType = "escalated"
	ResponseCancelled       ResponseType = "cancelled"
	ResponseReset           ResponseType = "reset"
)

// TestType selects the behavior of ExecuteTest.
type TestType string

const (
	TestImmediateDelivery TestType = "immediate_delivery"
	TestEscalationFlow    TestType = "escalation_flow"
	TestValidation        TestType = "validation"
)

// TestResult is the outcome of one TestExecution.
type TestResult string

const (
	TestResultSuccess TestResult = "success"
	TestResultFailed  TestResult = "failed"
	TestResultPartial TestResult = "partial"
)

// Frequency is the recurrence unit for a RepeatRule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// EndCondition determines when a RepeatRule stops producing occurrences.
type EndCondition string

const (
	EndConditionNever EndCondition = "never"
	EndConditionDate  EndCondition = "date"
	EndConditionCount EndCondition = "count"
)

// EscalationTrigger is one condition that fires the Escalation Engine.
type EscalationTrigger string

const (
	TriggerTimeout EscalationTrigger = "timeout"
	TriggerDecline EscalationTrigger = "decline"
)

// EscalationRule routes a reminder to a secondary recipient on timeout or
// decline.
type EscalationRule struct {
	SecondaryUserID   string              `json:"secondaryUserId"`
	TimeoutMinutes    int                 `json:"timeoutMinutes"`
	TriggerConditions []EscalationTrigger `json:"triggerConditions"`
	TimeoutMessage    string              `json:"timeoutMessage,omitempty"`
	DeclineMessage    string              `json:"declineMessage,omitempty"`
	TriggeredAt       *time.Time          `json:"triggeredAt,omitempty"`
	TriggerReason     EscalationTrigger   `json:"triggerReason,omitempty"`
	IsActive          bool                `json:"isActive"`
	LastError         string              `json:"lastError,omitempty"`
	NextAttemptAfter  *time.Time          `json:"nextAttemptAfter,omitempty"`
	AttemptCount      int                 `json:"attemptCount"`
}

// HasTrigger reports whether t is among the rule's trigger conditions.
func (r *EscalationRule) HasTrigger(t EscalationTrigger) bool {
	if r == nil {
		return false
	}
	for _, cond := range r.TriggerConditions {
		if cond == t {
			return true
		}
	}
	return false
}

// RepeatRule describes a recurring schedule. ScheduleNextRepeat advances
// NextScheduledTime and CurrentOccurrence, or deactivates the rule once
// EndCondition is satisfied.
type RepeatRule struct {
	Frequency         Frequency    `json:"frequency"`
	Interval          int          `json:"interval"`
	EndCondition      EndCondition `json:"endCondition"`
	EndDate           *time.Time   `json:"endDate,omitempty"`
	MaxOccurrences    int          `json:"maxOccurrences,omitempty"`
	CurrentOccurrence int          `json:"currentOccurrence"`
	NextScheduledTime time.Time    `json:"nextScheduledTime"`
	IsActive          bool         `json:"isActive"`
}

// ResponseLog is one append-only audit entry recording a reminder's
// reaction to a delivery, answer, or administrative action.
type ResponseLog struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"userId"`
	ResponseType ResponseType           `json:"responseType"`
	Timestamp    time.Time              `json:"timestamp"`
	MessageID    string                 `json:"messageId,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// TestExecution is one append-only record of an ExecuteTest invocation.
type TestExecution struct {
	ID                string     `json:"id"`
	ExecutedBy        string     `json:"executedBy"`
	ExecutedAt        time.Time  `json:"executedAt"`
	TestType          TestType   `json:"testType"`
	Result            TestResult `json:"result"`
	PreservedSchedule bool       `json:"preservedSchedule"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
}

// Reminder is the root entity of the engine.
type Reminder struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	TargetUserID  string    `json:"targetUserId"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Timezone      string    `json:"timezone,omitempty"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Status Status `json:"status"`

	DeliveryAttempts    int        `json:"deliveryAttempts"`
	LastDeliveryAttempt *time.Time `json:"lastDeliveryAttempt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`

	Responses      []ResponseLog   `json:"responses"`
	TestExecutions []TestExecution `json:"testExecutions"`

	Escalation *EscalationRule `json:"escalation,omitempty"`
	RepeatRule *RepeatRule     `json:"repeatRule,omitempty"`
}

// AckDeadline returns the instant at which a SENT reminder without a
// response becomes eligible for timeout escalation, and whether one
// applies at all.
func (r *Reminder) AckDeadline() (time.Time, bool) {
	if r.Escalation == nil || !r.Escalation.IsActive || r.LastDeliveryAttempt == nil {
		return time.Time{}, false
	}
	return r.LastDeliveryAttempt.Add(time.Duration(r.Escalation.TimeoutMinutes) * time.Minute), true
}
