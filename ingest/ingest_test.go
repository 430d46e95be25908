package ingest

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

func TestParse(t *testing.T) {
	cases := []struct {
		name       string
		customID   string
		wantAction string
		wantID     string
		wantOK     bool
	}{
		{"acknowledge with id", "acknowledge_reminder_abc-123", "acknowledge", "abc-123", true},
		{"decline with id", "decline_reminder_abc-123", "decline", "abc-123", true},
		{"legacy acknowledge, no id", "acknowledge_reminder", "acknowledge", "", true},
		{"legacy decline, no id", "decline_reminder", "decline", "", true},
		{"unrelated string", "snooze_reminder_abc", "", "", false},
		{"empty string", "", "", "", false},
		{"id containing underscores", "acknowledge_reminder_abc_def_123", "acknowledge", "abc_def_123", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, id, ok := Parse(tc.customID)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantAction, action)
				assert.Equal(t, tc.wantID, id)
			}
		})
	}
}

func newTestService(t *testing.T) (*reminder.Service, *reminder.Repository) {
	t.Helper()
	repo := reminder.NewRepository(store.NewMemStore())
	svc := reminder.NewService(repo, transport.NewMock(), core.FixedClock{T: time.Now().UTC()}, core.NoOpLogger{})
	return svc, repo
}

func createPendingSent(t *testing.T, svc *reminder.Service) *reminder.Reminder {
	t.Helper()
	ctx := context.Background()
	r, err := svc.Create(ctx, reminder.CreateInput{
		Content:       "take your medicine",
		TargetUserID:  "12345678901234567",
		ScheduledTime: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	r, err = svc.MarkAsDelivered(ctx, r.ID)
	require.NoError(t, err)
	return r
}

func TestIngestorIngestCustomIDAcknowledge(t *testing.T) {
	svc, _ := newTestService(t)
	r := createPendingSent(t, svc)
	in := New(svc, nil)

	updated, err := in.IngestCustomID(context.Background(), "acknowledge_reminder_"+r.ID, "user-42")
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusAcknowledged, updated.Status)
}

func TestIngestorIngestCustomIDLegacyNoTransition(t *testing.T) {
	svc, _ := newTestService(t)
	in := New(svc, nil)

	updated, err := in.IngestCustomID(context.Background(), "acknowledge_reminder", "user-42")
	assert.Nil(t, updated)
	assert.ErrorIs(t, err, ErrLegacyNoTransition)
}

func TestIngestorIngestCustomIDUnrecognized(t *testing.T) {
	svc, _ := newTestService(t)
	in := New(svc, nil)

	_, err := in.IngestCustomID(context.Background(), "snooze_reminder_abc", "user-42")
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestIngestorAccept(t *testing.T) {
	svc, _ := newTestService(t)
	r := createPendingSent(t, svc)
	in := New(svc, nil)

	updated, err := in.Accept(context.Background(), "decline", r.ID, "user-42")
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusDeclined, updated.Status)
}

func TestIngestorAcceptMissingID(t *testing.T) {
	svc, _ := newTestService(t)
	in := New(svc, nil)

	_, err := in.Accept(context.Background(), "acknowledge", "", "user-42")
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}
