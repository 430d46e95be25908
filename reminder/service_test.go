package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/reminderd/core"
	"github.com/itsneelabh/reminderd/store"
	"github.com/itsneelabh/reminderd/transport"
)

func newServiceHarness(t *testing.T, now time.Time, tr *transport.Mock) *Service {
	t.Helper()
	repo := NewRepository(store.NewMemStore())
	return NewService(repo, tr, core.FixedClock{T: now}, core.NoOpLogger{})
}

func TestServiceCreateAndGet(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	r, err := svc.Create(context.Background(), CreateInput{
		Content:       "water the plants",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)

	got, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestServiceCreateRejectsInvalidInput(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	_, err := svc.Create(context.Background(), CreateInput{
		Content:       "",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
	})
	assert.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestServiceUpdateOnlyWhilePending(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	r, err := svc.Create(context.Background(), CreateInput{
		Content:       "original",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
	})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), r.ID, CreateInput{
		Content:       "revised",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "revised", updated.Content)

	_, err = svc.MarkAsDelivered(context.Background(), r.ID)
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), r.ID, CreateInput{
		Content:       "too late",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(3 * time.Hour),
	})
	assert.Error(t, err)
	assert.True(t, core.IsConflict(err))
}

func TestServiceCancelOnlyWhilePending(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	r, err := svc.Create(context.Background(), CreateInput{
		Content:       "cancel me",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), r.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Cancel(context.Background(), r.ID, "admin")
	assert.Error(t, err)
}

func TestServiceMarkAsDeliveredAndRecordResponseAcknowledge(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	r, err := svc.Create(context.Background(), CreateInput{
		Content:       "ping",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
	})
	require.NoError(t, err)

	sent, err := svc.MarkAsDelivered(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, sent.Status)
	assert.Equal(t, 1, sent.DeliveryAttempts)

	answered, err := svc.RecordResponse(context.Background(), r.ID, "user-1", ResponseAcknowledged)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, answered.Status)
	assert.Len(t, answered.Responses, 2)

	// A repeated identical response (e.g. the platform redelivering the
	// same webhook) must not error and must not move status backwards,
	// but the duplicate is still logged for audit purposes (spec §8 R3).
	again, err := svc.RecordResponse(context.Background(), r.ID, "user-1", ResponseAcknowledged)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, again.Status)
	assert.Len(t, again.Responses, 3)
}

func TestServiceRecordResponseDeclineWithoutEscalation(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	r, err := svc.Create(context.Background(), CreateInput{
		Content:       "ping",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = svc.MarkAsDelivered(context.Background(), r.ID)
	require.NoError(t, err)

	declined, err := svc.RecordResponse(context.Background(), r.ID, "user-1", ResponseDeclined)
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, declined.Status)
}

type recordingEscalator struct {
	triggered []string
}

func (e *recordingEscalator) TriggerDecline(ctx context.Context, id string) error {
	e.triggered = append(e.triggered, id)
	return nil
}

func TestServiceRecordResponseDeclineTriggersEscalation(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())
	esc := &recordingEscalator{}
	svc.SetEscalator(esc)

	r, err := svc.Create(context.Background(), CreateInput{
		Content:      "ping",
		TargetUserID: "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
		Escalation: &EscalationRule{
			SecondaryUserID:   "98765432109876543",
			TimeoutMinutes:    30,
			TriggerConditions: []EscalationTrigger{TriggerDecline},
		},
	})
	require.NoError(t, err)
	_, err = svc.MarkAsDelivered(context.Background(), r.ID)
	require.NoError(t, err)

	declined, err := svc.RecordResponse(context.Background(), r.ID, "user-1", ResponseDeclined)
	require.NoError(t, err)
	// RecordResponse itself only commits the DECLINED state; the further
	// move to ESCALATED_DECLINED and its metadata belong to the Escalation
	// Engine, invoked synchronously right after this commit.
	assert.Equal(t, StatusDeclined, declined.Status)
	assert.Equal(t, []string{r.ID}, esc.triggered)
}

func TestServiceExecuteTestImmediateDelivery(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	r, err := svc.Create(context.Background(), CreateInput{
		Content:       "test me",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
	})
	require.NoError(t, err)

	exec, err := svc.ExecuteTest(context.Background(), r.ID, "admin", TestImmediateDelivery, true)
	require.NoError(t, err)
	assert.Equal(t, TestResultSuccess, exec.Result)

	updated, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, updated.Status, "preserveSchedule should leave status untouched")
	assert.Len(t, updated.TestExecutions, 1)
}

func TestServiceExecuteTestValidationReportsIssues(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	r := &Reminder{
		ID:            "bad-1",
		Content:       "broken",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusPending,
		Escalation: &EscalationRule{
			SecondaryUserID: "12345678901234567", // deliberately equal to target
			TimeoutMinutes:  10,
			IsActive:        true,
		},
	}
	require.NoError(t, svc.repo.Create(context.Background(), r))

	exec, err := svc.ExecuteTest(context.Background(), r.ID, "admin", TestValidation, true)
	require.NoError(t, err)
	assert.Equal(t, TestResultPartial, exec.Result)
	assert.NotEmpty(t, exec.ErrorMessage)
}

func TestServiceResetDisallowedFromAnsweredStates(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	r, err := svc.Create(context.Background(), CreateInput{
		Content:       "ping",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = svc.MarkAsDelivered(context.Background(), r.ID)
	require.NoError(t, err)
	_, err = svc.RecordResponse(context.Background(), r.ID, "user-1", ResponseAcknowledged)
	require.NoError(t, err)

	_, err = svc.Reset(context.Background(), r.ID, "admin")
	assert.Error(t, err)
	assert.True(t, core.IsConflict(err))
}

func TestServiceResetAllowedFromFailed(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	r, err := svc.Create(context.Background(), CreateInput{
		Content:       "ping",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = svc.RecordPermanentFailure(context.Background(), r.ID, "bad recipient")
	require.NoError(t, err)

	reset, err := svc.Reset(context.Background(), r.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reset.Status)
	assert.Equal(t, 0, reset.DeliveryAttempts)
	assert.Equal(t, "", reset.LastError)
}

func TestServiceFlushDeletesEverything(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), CreateInput{
			Content:       "ping",
			TargetUserID:  "12345678901234567",
			ScheduledTime: now.Add(time.Hour),
		})
		require.NoError(t, err)
	}

	n, err := svc.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	remaining, err := svc.List(context.Background(), StatusPending, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestServiceListRequiresStatus(t *testing.T) {
	now := time.Now().UTC()
	svc := newServiceHarness(t, now, transport.NewMock())

	_, err := svc.List(context.Background(), "", 10, 0)
	assert.Error(t, err)
	assert.True(t, core.IsValidation(err))
}
