package scheduler

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

func newHarness(t *testing.T, now time.Time, tr *transport.Mock) (*Scheduler, *reminder.Repository, *reminder.Service) {
	t.Helper()
	repo := reminder.NewRepository(store.NewMemStore())
	clock := &fixedPtr{t: now}
	svc := reminder.NewService(repo, tr, clock, core.NoOpLogger{})
	sched := New(Options{
		Repo:      repo,
		Service:   svc,
		Transport: tr,
		Clock:     clock,
		Logger:    core.NoOpLogger{},
		ScanLimit: 10,
	})
	return sched, repo, svc
}

// fixedPtr is a mutable core.Clock test double: tests advance t between
// ticks to exercise the retry-reschedule timeline deterministically.
type fixedPtr struct {
	t time.Time
}

func (f *fixedPtr) Now() time.Time { return f.t }

var _ core.Clock = (*fixedPtr)(nil)

func createDue(t *testing.T, svc *reminder.Service, now time.Time) *reminder.Reminder {
	t.Helper()
	r, err := svc.Create(context.Background(), reminder.CreateInput{
		Content:       "stand up",
		TargetUserID:  "12345678901234567",
		ScheduledTime: now.Add(-time.Minute),
	})
	require.NoError(t, err)
	return r
}

func TestSchedulerRunDueTickHappyPath(t *testing.T) {
	now := time.Now().UTC()
	tr := transport.NewMock(transport.Result{Kind: transport.KindSuccess, ExternalMsgID: "m1"})
	sched, _, svc := newHarness(t, now, tr)

	r := createDue(t, svc, now)

	n, err := sched.RunDueTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tr.CallCount())

	updated, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusSent, updated.Status)
	assert.Equal(t, 1, updated.DeliveryAttempts)
}

func TestSchedulerRunDueTickTransientThenRetrySchedule(t *testing.T) {
	now := time.Now().UTC()
	tr := transport.NewMock(transport.Result{Kind: transport.KindTransient, Err: assertErr("rate limited")})
	sched, _, svc := newHarness(t, now, tr)

	r := createDue(t, svc, now)

	_, err := sched.RunDueTick(context.Background())
	require.NoError(t, err)

	updated, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusPending, updated.Status)
	assert.Equal(t, 1, updated.DeliveryAttempts)
	assert.True(t, updated.ScheduledTime.After(now))
	assert.Equal(t, now.Add(NextRetryDelay(0, 0)), updated.ScheduledTime)
}

func TestSchedulerTransientExhaustionGoesFailed(t *testing.T) {
	now := time.Now().UTC()
	results := make([]transport.Result, 0, 5)
	for i := 0; i < 5; i++ {
		results = append(results, transport.Result{Kind: transport.KindTransient, Err: assertErr("down")})
	}
	tr := transport.NewMock(results...)
	sched, repo, svc := newHarness(t, now, tr)
	clock := sched.clock.(*fixedPtr)

	r := createDue(t, svc, now)

	for i := 0; i < 6; i++ {
		clock.t = now.Add(time.Duration(i) * time.Hour)
		_, err := sched.RunDueTick(context.Background())
		require.NoError(t, err)
		updated, err := svc.Get(context.Background(), r.ID)
		require.NoError(t, err)
		if updated.Status == reminder.StatusFailed {
			break
		}
		// pull the rescheduled retry back into this tick's due window instead
		// of waiting out the real backoff delay.
		_, mErr := repo.Mutate(context.Background(), r.ID, func(rem *reminder.Reminder) error {
			rem.ScheduledTime = clock.t.Add(-time.Minute)
			return nil
		})
		require.NoError(t, mErr)
	}

	final, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusFailed, final.Status)
}

func TestSchedulerPermanentFailure(t *testing.T) {
	now := time.Now().UTC()
	tr := transport.NewMock(transport.Result{Kind: transport.KindPermanent, Err: transport.ErrUnknownRecipient})
	sched, _, svc := newHarness(t, now, tr)

	r := createDue(t, svc, now)

	_, err := sched.RunDueTick(context.Background())
	require.NoError(t, err)

	updated, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusFailed, updated.Status)
}

// TestSchedulerSkipsNonPendingConcurrentEdit covers the defensive re-read in
// processOne: a reminder that won a concurrent cancel between the due-scan
// listing and its own dispatch must not be sent.
func TestSchedulerSkipsNonPendingConcurrentEdit(t *testing.T) {
	now := time.Now().UTC()
	tr := transport.NewMock(transport.Result{Kind: transport.KindSuccess})
	sched, _, svc := newHarness(t, now, tr)

	r := createDue(t, svc, now)
	_, err := svc.Cancel(context.Background(), r.ID, "admin")
	require.NoError(t, err)

	sched.processOne(context.Background(), r.ID, now)
	assert.Equal(t, 0, tr.CallCount(), "cancelled reminder must not be dispatched")

	updated, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusCancelled, updated.Status)
}

// TestSchedulerDueTickExcludesCancelled confirms the due-scan itself already
// filters out a reminder that was cancelled before the tick ran at all.
func TestSchedulerDueTickExcludesCancelled(t *testing.T) {
	now := time.Now().UTC()
	tr := transport.NewMock(transport.Result{Kind: transport.KindSuccess})
	sched, _, svc := newHarness(t, now, tr)

	r := createDue(t, svc, now)
	_, err := svc.Cancel(context.Background(), r.ID, "admin")
	require.NoError(t, err)

	n, err := sched.RunDueTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, tr.CallCount())
}

func TestNextRetryDelayRespectsRetryAfter(t *testing.T) {
	d := NextRetryDelay(0, time.Hour)
	assert.Equal(t, time.Hour, d)
}

func TestNextRetryDelayCapsAtMaxDelay(t *testing.T) {
	d := NextRetryDelay(10, 0)
	assert.Equal(t, maxDelay, d)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(s string) error { return simpleErr(s) }
