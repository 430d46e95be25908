package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/reminderd/core"
	"github.com/itsneelabh/reminderd/reminder"
	"github.com/itsneelabh/reminderd/store"
	"github.com/itsneelabh/reminderd/transport"
)

func newHarness(t *testing.T, now time.Time, tr transport.Transport) (*Engine, *reminder.Repository) {
	t.Helper()
	repo := reminder.NewRepository(store.NewMemStore())
	eng := New(repo, tr, core.FixedClock{T: now}, core.NoOpLogger{})
	return eng, repo
}

func createSentWithTimeout(t *testing.T, repo *reminder.Repository, now time.Time, lastDelivery time.Time) *reminder.Reminder {
	t.Helper()
	r := &reminder.Reminder{
		ID:                  "r-" + now.String(),
		Content:             "do the thing",
		TargetUserID:        "12345678901234567",
		ScheduledTime:       now,
		CreatedAt:           now,
		UpdatedAt:           now,
		Status:              reminder.StatusSent,
		LastDeliveryAttempt: &lastDelivery,
		Escalation: &reminder.EscalationRule{
			SecondaryUserID:   "98765432109876543",
			TimeoutMinutes:    10,
			TriggerConditions: []reminder.EscalationTrigger{reminder.TriggerTimeout},
			IsActive:          true,
		},
	}
	require.NoError(t, repo.Create(context.Background(), r))
	return r
}

func TestRunTimeoutScanEscalatesElapsedDeadline(t *testing.T) {
	now := time.Now().UTC()
	lastDelivery := now.Add(-20 * time.Minute) // deadline was 10 minutes after delivery
	tr := transport.NewMock()
	eng, repo := newHarness(t, now, tr)
	r := createSentWithTimeout(t, repo, now, lastDelivery)

	n, err := eng.RunTimeoutScan(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tr.CallCount())

	updated, err := repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusEscalated, updated.Status)
	assert.Equal(t, reminder.TriggerTimeout, updated.Escalation.TriggerReason)
	assert.NotNil(t, updated.Escalation.TriggeredAt)
}

func TestRunTimeoutScanSkipsUnexpiredDeadline(t *testing.T) {
	now := time.Now().UTC()
	lastDelivery := now.Add(-time.Minute) // deadline far in the future
	tr := transport.NewMock()
	eng, repo := newHarness(t, now, tr)
	createSentWithTimeout(t, repo, now, lastDelivery)

	n, err := eng.RunTimeoutScan(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, tr.CallCount())
}

func TestRunTimeoutScanTransportFailureRecordsAttempt(t *testing.T) {
	now := time.Now().UTC()
	lastDelivery := now.Add(-20 * time.Minute)
	tr := transport.NewMock(transport.Result{Kind: transport.KindTransient, Err: transport.ErrUnknownRecipient})
	eng, repo := newHarness(t, now, tr)
	r := createSentWithTimeout(t, repo, now, lastDelivery)

	n, err := eng.RunTimeoutScan(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a failed send doesn't count as escalated")

	updated, err := repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusSent, updated.Status, "status stays SENT so the next tick retries")
	assert.Equal(t, 1, updated.Escalation.AttemptCount)
	assert.NotEmpty(t, updated.Escalation.LastError)
}

func TestRunTimeoutScanSkipWindowAfterExhaustion(t *testing.T) {
	now := time.Now().UTC()
	lastDelivery := now.Add(-20 * time.Minute)
	tr := transport.NewMock(
		transport.Result{Kind: transport.KindTransient, Err: transport.ErrUnknownRecipient},
		transport.Result{Kind: transport.KindTransient, Err: transport.ErrUnknownRecipient},
		transport.Result{Kind: transport.KindTransient, Err: transport.ErrUnknownRecipient},
	)
	eng, repo := newHarness(t, now, tr)
	r := createSentWithTimeout(t, repo, now, lastDelivery)

	for i := 0; i < 3; i++ {
		_, err := eng.RunTimeoutScan(context.Background(), 10)
		require.NoError(t, err)
	}

	updated, err := repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.Escalation.NextAttemptAfter, "exhausting maxAttempts opens a skip window")
	assert.Equal(t, 0, updated.Escalation.AttemptCount, "attempt count resets once the skip window opens")

	// A subsequent scan within the skip window should not retry.
	n, err := eng.RunTimeoutScan(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, tr.CallCount(), "no additional send while skip window is active")
}

func TestTriggerDeclineEscalatesFromDeclined(t *testing.T) {
	now := time.Now().UTC()
	tr := transport.NewMock()
	eng, repo := newHarness(t, now, tr)

	r := &reminder.Reminder{
		ID:            "declined-1",
		Content:       "please respond",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        reminder.StatusDeclined,
		Escalation: &reminder.EscalationRule{
			SecondaryUserID:   "98765432109876543",
			TimeoutMinutes:    10,
			TriggerConditions: []reminder.EscalationTrigger{reminder.TriggerDecline},
			IsActive:          true,
		},
	}
	require.NoError(t, repo.Create(context.Background(), r))

	require.NoError(t, eng.TriggerDecline(context.Background(), r.ID))

	updated, err := repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusEscalatedDeclined, updated.Status)
	assert.Equal(t, reminder.TriggerDecline, updated.Escalation.TriggerReason)
}

// TestServiceAndEngineDeclineIntegration wires the real reminder.Service to
// the real Engine (no stub escalator), exercising the full synchronous
// decline path spec §4.4 trigger 2 describes end to end.
func TestServiceAndEngineDeclineIntegration(t *testing.T) {
	now := time.Now().UTC()
	tr := transport.NewMock()
	repo := reminder.NewRepository(store.NewMemStore())
	svc := reminder.NewService(repo, tr, core.FixedClock{T: now}, core.NoOpLogger{})
	eng := New(repo, tr, core.FixedClock{T: now}, core.NoOpLogger{})
	svc.SetEscalator(eng)

	r, err := svc.Create(context.Background(), reminder.CreateInput{
		Content:       "ping",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
		Escalation: &reminder.EscalationRule{
			SecondaryUserID:   "98765432109876543",
			TimeoutMinutes:    30,
			TriggerConditions: []reminder.EscalationTrigger{reminder.TriggerDecline},
		},
	})
	require.NoError(t, err)
	_, err = svc.MarkAsDelivered(context.Background(), r.ID)
	require.NoError(t, err)

	_, err = svc.RecordResponse(context.Background(), r.ID, "user-1", reminder.ResponseDeclined)
	require.NoError(t, err)

	updated, err := repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusEscalatedDeclined, updated.Status)
	assert.Equal(t, reminder.TriggerDecline, updated.Escalation.TriggerReason)
	assert.NotNil(t, updated.Escalation.TriggeredAt)
	assert.Equal(t, 1, tr.CallCount(), "secondary contact was notified")

	var sawEscalatedLog bool
	for _, resp := range updated.Responses {
		if resp.ResponseType == reminder.ResponseEscalated {
			sawEscalatedLog = true
		}
	}
	assert.True(t, sawEscalatedLog, "escalation audit entry recorded")
}

func TestTriggerDeclineNoActiveRuleFails(t *testing.T) {
	now := time.Now().UTC()
	eng, repo := newHarness(t, now, transport.NewMock())

	r := &reminder.Reminder{
		ID:            "no-rule-1",
		Content:       "please respond",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        reminder.StatusDeclined,
	}
	require.NoError(t, repo.Create(context.Background(), r))

	err := eng.TriggerDecline(context.Background(), r.ID)
	assert.Error(t, err)
	assert.True(t, core.IsConflict(err))
}
