// Package scheduler implements the Scheduler (spec §4.3): a periodic
// dispatch loop that locates due reminders, sends them through Transport,
// and records delivery, retry, or failure back through reminder.Service.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/itsneelabh/reminderd/core"
	"github.com/itsneelabh/reminderd/reminder"
	"github.com/itsneelabh/reminderd/resilience"
	"github.com/itsneelabh/reminderd/telemetry"
	"github.com/itsneelabh/reminderd/transport"
)

const (
	grace      = 10 * time.Minute // Open Question resolution: EXPIRED grace window
	maxAttempts = 5               // spec §4.7 default
	baseDelay   = 30 * time.Second
	expBase     = 2.0
	maxDelay    = 15 * time.Minute
	defaultScanLimit = 500
)

// EscalationScanner is the subset of escalation.Engine the Scheduler drives
// on its own cron tick. Declared here, not imported from escalation, to
// avoid a scheduler<->escalation import cycle; escalation.Engine satisfies
// it structurally.
type EscalationScanner interface {
	RunTimeoutScan(ctx context.Context, limit int) (int, error)
}

// Options configures a Scheduler.
type Options struct {
	Repo       *reminder.Repository
	Service    *reminder.Service
	Transport  transport.Transport
	Clock      core.Clock
	Escalation EscalationScanner
	Logger     core.Logger

	DueSpec        string        // cron spec for the due-scan tick, default "@every 60s"
	EscalationSpec string        // cron spec for the escalation-scan tick, default "@every 120s"
	TickBudget     time.Duration // per-reminder abandon threshold, default 45s
	ScanLimit      int           // max reminders resolved per tick, default 500

	CircuitBreaker *resilience.CircuitBreaker // wraps every Transport.Send; optional
	Metrics        *telemetry.MetricInstruments // tick/delivery metrics; optional
}

// Scheduler owns the cron-driven due-scan and escalation-scan jobs.
type Scheduler struct {
	repo       *reminder.Repository
	service    *reminder.Service
	transport  transport.Transport
	clock      core.Clock
	escalation EscalationScanner
	logger     core.Logger
	breaker    *resilience.CircuitBreaker
	metrics    *telemetry.MetricInstruments

	dueSpec    string
	escSpec    string
	tickBudget time.Duration
	scanLimit  int

	cron *cron.Cron
}

// New builds a Scheduler from opts, applying spec §4.3 defaults for any
// zero-valued cadence/budget field.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("engine/scheduler")
	}

	s := &Scheduler{
		repo:       opts.Repo,
		service:    opts.Service,
		transport:  opts.Transport,
		clock:      opts.Clock,
		escalation: opts.Escalation,
		logger:     logger,
		breaker:    opts.CircuitBreaker,
		metrics:    opts.Metrics,
		dueSpec:    opts.DueSpec,
		escSpec:    opts.EscalationSpec,
		tickBudget: opts.TickBudget,
		scanLimit:  opts.ScanLimit,
	}
	if s.dueSpec == "" {
		s.dueSpec = "@every 60s"
	}
	if s.escSpec == "" {
		s.escSpec = "@every 120s"
	}
	if s.tickBudget <= 0 {
		s.tickBudget = 45 * time.Second
	}
	if s.scanLimit <= 0 {
		s.scanLimit = defaultScanLimit
	}
	return s
}

// Start registers both cron jobs and starts the scheduler's own cron
// instance. cron.WithSeconds isn't needed since both jobs use "@every"
// specs; cron.DefaultLogger plus the per-job recover middleware matches
// robfig/cron's recommended production wrapper chain, and
// cron.SkipIfStillRunning gives the "host cron guarantees non-overlapping
// invocations per job" behavior the spec calls for directly, without this
// package tracking in-flight state itself.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := s.cron.AddFunc(s.dueSpec, func() { s.runDueTickSafely(ctx) }); err != nil {
		return fmt.Errorf("scheduler: register due-scan job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.escSpec, func() { s.runEscalationTickSafely(ctx) }); err != nil {
		return fmt.Errorf("scheduler: register escalation-scan job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", map[string]interface{}{
		"due_spec": s.dueSpec, "escalation_spec": s.escSpec,
	})
	return nil
}

// Stop blocks until any in-flight tick finishes, then stops the cron.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

func (s *Scheduler) runDueTickSafely(ctx context.Context) {
	n, err := s.RunDueTick(ctx)
	if err != nil {
		s.logger.ErrorWithContext(ctx, "due tick failed", map[string]interface{}{"error": err})
		return
	}
	s.logger.InfoWithContext(ctx, "due tick complete", map[string]interface{}{"processed": n})
}

func (s *Scheduler) runEscalationTickSafely(ctx context.Context) {
	if s.escalation == nil {
		return
	}
	n, err := s.escalation.RunTimeoutScan(ctx, s.scanLimit)
	if err != nil {
		s.logger.ErrorWithContext(ctx, "escalation tick failed", map[string]interface{}{"error": err})
		return
	}
	s.logger.InfoWithContext(ctx, "escalation tick complete", map[string]interface{}{"escalated": n})
}

// RunDueTick is the per-tick algorithm from spec §4.3, invoked directly by
// tests and indirectly by the cron job. Reminders are processed
// sequentially in ascending scheduledTime order, one reminder's Transport
// call and store commits per iteration.
func (s *Scheduler) RunDueTick(ctx context.Context) (int, error) {
	tickStart := s.clock.Now()
	now := tickStart
	due, err := s.repo.DueReminders(ctx, now, s.scanLimit)
	if err != nil {
		return 0, err
	}
	s.recordCounter(ctx, telemetry.MetricDueScanned, int64(len(due)))

	processed := 0
	for _, r := range due {
		tickCtx, cancel := context.WithTimeout(ctx, s.tickBudget)
		s.processOne(tickCtx, r.ID, now)
		cancel()
		processed++
	}
	s.recordCounter(ctx, telemetry.MetricDueDispatched, int64(processed))
	s.recordHistogram(ctx, telemetry.MetricTickDuration, float64(s.clock.Now().Sub(tickStart).Milliseconds()))
	return processed, nil
}

func (s *Scheduler) recordCounter(ctx context.Context, name string, value int64) {
	if s.metrics == nil {
		return
	}
	_ = s.metrics.RecordCounter(ctx, name, value)
}

func (s *Scheduler) recordHistogram(ctx context.Context, name string, value float64) {
	if s.metrics == nil {
		return
	}
	_ = s.metrics.RecordHistogram(ctx, name, value)
}

// processOne re-reads the reminder (defensive against a concurrent state
// change), then dispatches it exactly once.
func (s *Scheduler) processOne(ctx context.Context, id string, now time.Time) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if !core.IsNotFound(err) {
			s.logger.ErrorWithContext(ctx, "re-read before dispatch failed", map[string]interface{}{"id": id, "error": err})
		}
		return
	}
	if r.Status != reminder.StatusPending {
		return // concurrent cancel/edit won the race; spec §4.3 step 2a
	}

	if r.DeliveryAttempts >= maxAttempts && now.Sub(r.ScheduledTime) > grace {
		if _, err := s.service.Expire(ctx, id); err != nil {
			s.logger.ErrorWithContext(ctx, "expire failed", map[string]interface{}{"id": id, "error": err})
		}
		return
	}

	msg := transport.Message{
		RecipientUserID: r.TargetUserID,
		Text:            r.Content,
		CustomID:        fmt.Sprintf("acknowledge_reminder_%s", r.ID),
	}

	res, sendErr := s.send(ctx, msg)

	switch {
	case sendErr == nil && res.Kind == transport.KindSuccess:
		s.recordCounter(ctx, telemetry.MetricDeliverySuccess, 1)
		s.onSuccess(ctx, id)
	case res.Kind == transport.KindPermanent:
		s.recordCounter(ctx, telemetry.MetricDeliveryPermanent, 1)
		s.onPermanent(ctx, id, errString(sendErr, res))
	default:
		s.recordCounter(ctx, telemetry.MetricDeliveryTransient, 1)
		s.onTransient(ctx, id, r, now, res, sendErr)
	}
}

// send routes the Transport call through the circuit breaker when one is
// configured, so a failing downstream channel stops accepting new
// dispatch attempts instead of blocking every tick on timeouts.
func (s *Scheduler) send(ctx context.Context, msg transport.Message) (transport.Result, error) {
	if s.breaker == nil {
		return s.transport.Send(ctx, msg)
	}

	var res transport.Result
	err := s.breaker.Execute(ctx, func() error {
		var sendErr error
		res, sendErr = s.transport.Send(ctx, msg)
		if sendErr != nil {
			return sendErr
		}
		if res.Kind == transport.KindTransient {
			return fmt.Errorf("transport transient failure")
		}
		return nil
	})
	if err != nil && res.Kind == transport.KindSuccess {
		// breaker rejected before calling transport at all
		res = transport.Result{Kind: transport.KindTransient, Err: err}
	}
	return res, err
}

func (s *Scheduler) onSuccess(ctx context.Context, id string) {
	r, err := s.service.MarkAsDelivered(ctx, id)
	if err != nil {
		s.logger.ErrorWithContext(ctx, "mark delivered failed", map[string]interface{}{"id": id, "error": err})
		return
	}
	if r.RepeatRule != nil && r.RepeatRule.IsActive {
		if _, err := s.service.ScheduleNextRepeat(ctx, id); err != nil {
			s.logger.ErrorWithContext(ctx, "schedule next repeat failed", map[string]interface{}{"id": id, "error": err})
		}
	}
}

func (s *Scheduler) onPermanent(ctx context.Context, id, lastErr string) {
	if _, err := s.service.RecordPermanentFailure(ctx, id, lastErr); err != nil {
		s.logger.ErrorWithContext(ctx, "record permanent failure failed", map[string]interface{}{"id": id, "error": err})
	}
}

func (s *Scheduler) onTransient(ctx context.Context, id string, r *reminder.Reminder, now time.Time, res transport.Result, sendErr error) {
	if r.DeliveryAttempts+1 >= maxAttempts {
		s.onPermanent(ctx, id, "max retry attempts exceeded: "+errString(sendErr, res))
		return
	}
	next := now.Add(NextRetryDelay(r.DeliveryAttempts, res.RetryAfter))
	s.recordCounter(ctx, telemetry.MetricDeliveryRetries, 1)
	if _, err := s.service.RecordTransientFailure(ctx, id, next, errString(sendErr, res)); err != nil {
		s.logger.ErrorWithContext(ctx, "record transient failure failed", map[string]interface{}{"id": id, "error": err})
	}
}

// NextRetryDelay computes the spec §4.7 backoff: baseDelay * expBase^attempt
// capped at maxDelay, overridden upward by a larger transport-advertised
// retryAfter.
func NextRetryDelay(attempt int, retryAfter time.Duration) time.Duration {
	d := time.Duration(float64(baseDelay) * math.Pow(expBase, float64(attempt)))
	if d > maxDelay {
		d = maxDelay
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

func errString(err error, res transport.Result) string {
	if err != nil {
		return err.Error()
	}
	if res.Err != nil {
		return res.Err.Error()
	}
	return "transport reported a non-success result"
}
