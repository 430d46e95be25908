package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itsneelabh/reminderd/core"
	"github.com/itsneelabh/reminderd/store"
)

// Repository is typed CRUD over reminders on top of a store.Store. It owns
// the persisted form exclusively: callers never touch store.Record
// directly.
type Repository struct {
	s store.Store
}

// NewRepository wraps a store.Store.
func NewRepository(s store.Store) *Repository {
	return &Repository{s: s}
}

func toRecord(r *Reminder) (*store.Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("reminder: marshal %s: %w", r.ID, err)
	}
	rec := &store.Record{
		ID:     r.ID,
		Data:   data,
		DueAt:  r.ScheduledTime,
		Status: string(r.Status),
	}
	if deadline, ok := r.AckDeadline(); ok && r.Status == StatusSent {
		rec.AckDeadline = &deadline
	}
	return rec, nil
}

func fromRecord(rec *store.Record) (*Reminder, error) {
	var r Reminder
	if err := json.Unmarshal(rec.Data, &r); err != nil {
		return nil, fmt.Errorf("reminder: unmarshal %s: %w", rec.ID, err)
	}
	return &r, nil
}

// Create persists a brand new reminder, rejecting a duplicate id.
func (repo *Repository) Create(ctx context.Context, r *Reminder) error {
	rec, err := toRecord(r)
	if err != nil {
		return err
	}
	err = repo.s.Commit(ctx, store.PutOp(-1, rec))
	if err != nil {
		if err == store.ErrVersionConflict {
			return core.NewError("reminder.Create", core.KindConflict, "reminder already exists", err)
		}
		return core.NewError("reminder.Create", core.KindInternal, "commit failed", err)
	}
	return nil
}

// versioned wraps a Reminder with the store version it was read at, so
// callers can round-trip it back into Update/UpdateStatus.
type versioned struct {
	r       *Reminder
	version int64
}

// GetByID returns the latest committed reminder.
func (repo *Repository) GetByID(ctx context.Context, id string) (*Reminder, error) {
	v, err := repo.getVersioned(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.r, nil
}

func (repo *Repository) getVersioned(ctx context.Context, id string) (*versioned, error) {
	rec, err := repo.s.Get(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, core.NewError("reminder.GetByID", core.KindNotFound, "reminder not found", err)
		}
		return nil, core.NewError("reminder.GetByID", core.KindInternal, "get failed", err)
	}
	r, err := fromRecord(rec)
	if err != nil {
		return nil, core.NewError("reminder.GetByID", core.KindInternal, "decode failed", err)
	}
	return &versioned{r: r, version: rec.Version}, nil
}

// Mutate reads the reminder at id, lets fn modify it in place, and commits
// the result with a version check. fn returning an error aborts without
// writing. On a lost optimistic-concurrency race Mutate returns
// core.ErrVersionConflict-classified error; callers may retry.
func (repo *Repository) Mutate(ctx context.Context, id string, fn func(r *Reminder) error) (*Reminder, error) {
	v, err := repo.getVersioned(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(v.r); err != nil {
		return nil, err
	}
	v.r.UpdatedAt = time.Now().UTC()

	rec, err := toRecord(v.r)
	if err != nil {
		return nil, core.NewError("reminder.Mutate", core.KindInternal, "encode failed", err)
	}
	if err := repo.s.Commit(ctx, store.PutOp(v.version, rec)); err != nil {
		if err == store.ErrVersionConflict {
			return nil, core.NewError("reminder.Mutate", core.KindStoreConflict, "version conflict", err)
		}
		return nil, core.NewError("reminder.Mutate", core.KindInternal, "commit failed", err)
	}
	return v.r, nil
}

// MutateWithRetry calls Mutate up to maxAttempts times, retrying only on a
// store-conflict classified error (spec §7: small bound, e.g. 3).
func (repo *Repository) MutateWithRetry(ctx context.Context, id string, maxAttempts int, fn func(r *Reminder) error) (*Reminder, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		r, err := repo.Mutate(ctx, id, fn)
		if err == nil {
			return r, nil
		}
		if !core.IsStoreConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, core.NewError("reminder.MutateWithRetry", core.KindConflict, "exhausted retries on version conflict", lastErr)
}

// Delete removes a reminder and all of its index entries.
func (repo *Repository) Delete(ctx context.Context, id string) error {
	v, err := repo.getVersioned(ctx, id)
	if err != nil {
		return err
	}
	if err := repo.s.Commit(ctx, store.DeleteOp(id, v.version)); err != nil {
		if err == store.ErrVersionConflict {
			return core.NewError("reminder.Delete", core.KindStoreConflict, "version conflict", err)
		}
		return core.NewError("reminder.Delete", core.KindInternal, "commit failed", err)
	}
	return nil
}

// DueReminders returns every PENDING reminder whose scheduledTime <= now.
func (repo *Repository) DueReminders(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	ids, err := repo.s.ScanDueBefore(ctx, now, limit)
	if err != nil {
		return nil, core.NewError("reminder.DueReminders", core.KindInternal, "scan failed", err)
	}
	return repo.resolveFiltered(ctx, ids, StatusPending)
}

// DeliveredWithEscalation returns every SENT reminder whose ack-deadline
// has elapsed.
func (repo *Repository) DeliveredWithEscalation(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	ids, err := repo.s.ScanAckDeadlineBefore(ctx, now, limit)
	if err != nil {
		return nil, core.NewError("reminder.DeliveredWithEscalation", core.KindInternal, "scan failed", err)
	}
	return repo.resolveFiltered(ctx, ids, StatusSent)
}

// GetByStatus pages through reminders currently in the given status.
func (repo *Repository) GetByStatus(ctx context.Context, status Status, limit int) ([]*Reminder, error) {
	ids, err := repo.s.ScanByStatus(ctx, string(status), limit)
	if err != nil {
		return nil, core.NewError("reminder.GetByStatus", core.KindInternal, "scan failed", err)
	}
	return repo.resolveFiltered(ctx, ids, status)
}

func (repo *Repository) resolveFiltered(ctx context.Context, ids []string, want Status) ([]*Reminder, error) {
	out := make([]*Reminder, 0, len(ids))
	for _, id := range ids {
		rec, err := repo.s.Get(ctx, id)
		if err != nil {
			if err == store.ErrNotFound {
				continue // index briefly stale w.r.t. a concurrent delete; skip
			}
			return nil, core.NewError("reminder.resolveFiltered", core.KindInternal, "get failed", err)
		}
		r, err := fromRecord(rec)
		if err != nil {
			return nil, core.NewError("reminder.resolveFiltered", core.KindInternal, "decode failed", err)
		}
		if r.Status == want {
			out = append(out, r)
		}
	}
	return out, nil
}
