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

func newRepeatTestService() *Service {
	repo := NewRepository(store.NewMemStore())
	return NewService(repo, transport.NewMock(), core.FixedClock{T: time.Now().UTC()}, core.NoOpLogger{})
}

func TestScheduleNextRepeatWeeklyAdvance(t *testing.T) {
	svc := newRepeatTestService()
	now := time.Now().UTC()

	prior := &Reminder{
		ID:            "r1",
		Content:       "weekly check-in",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusSent,
		RepeatRule: &RepeatRule{
			Frequency:         FrequencyWeekly,
			Interval:          1,
			EndCondition:      EndConditionNever,
			CurrentOccurrence: 1,
			NextScheduledTime: now,
			IsActive:          true,
		},
	}
	require.NoError(t, svc.repo.Create(context.Background(), prior))

	next, err := svc.ScheduleNextRepeat(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, StatusPending, next.Status)
	assert.Equal(t, 2, next.RepeatRule.CurrentOccurrence)
	assert.Equal(t, now.AddDate(0, 0, 7), next.RepeatRule.NextScheduledTime)
	assert.NotEqual(t, "r1", next.ID)
}

func TestScheduleNextRepeatCountExhaustion(t *testing.T) {
	svc := newRepeatTestService()
	now := time.Now().UTC()

	prior := &Reminder{
		ID:            "r2",
		Content:       "daily standup",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusSent,
		RepeatRule: &RepeatRule{
			Frequency:         FrequencyDaily,
			Interval:          1,
			EndCondition:      EndConditionCount,
			MaxOccurrences:    1,
			CurrentOccurrence: 1,
			NextScheduledTime: now,
			IsActive:          true,
		},
	}
	require.NoError(t, svc.repo.Create(context.Background(), prior))

	next, err := svc.ScheduleNextRepeat(context.Background(), "r2")
	require.NoError(t, err)
	assert.Nil(t, next)

	updated, err := svc.repo.GetByID(context.Background(), "r2")
	require.NoError(t, err)
	assert.False(t, updated.RepeatRule.IsActive)
}

func TestScheduleNextRepeatNoRule(t *testing.T) {
	svc := newRepeatTestService()
	now := time.Now().UTC()

	prior := &Reminder{
		ID:            "r3",
		Content:       "one-off",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusSent,
	}
	require.NoError(t, svc.repo.Create(context.Background(), prior))

	next, err := svc.ScheduleNextRepeat(context.Background(), "r3")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestScheduleNextRepeatDateEndCondition(t *testing.T) {
	svc := newRepeatTestService()
	now := time.Now().UTC()
	endDate := now.AddDate(0, 0, 3)

	prior := &Reminder{
		ID:            "r4",
		Content:       "daily until Friday",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusSent,
		RepeatRule: &RepeatRule{
			Frequency:         FrequencyDaily,
			Interval:          5,
			EndCondition:      EndConditionDate,
			EndDate:           &endDate,
			CurrentOccurrence: 1,
			NextScheduledTime: now,
			IsActive:          true,
		},
	}
	require.NoError(t, svc.repo.Create(context.Background(), prior))

	next, err := svc.ScheduleNextRepeat(context.Background(), "r4")
	require.NoError(t, err)
	assert.Nil(t, next)

	updated, err := svc.repo.GetByID(context.Background(), "r4")
	require.NoError(t, err)
	assert.False(t, updated.RepeatRule.IsActive)
}
