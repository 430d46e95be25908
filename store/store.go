// Package store provides the durable, version-checked record store that
// backs the reminder engine. Records are addressed by id, carry a
// monotonic version for optimistic concurrency, and are indexed by due
// time, status, and acknowledgement deadline so the scheduler and
// escalation engine can scan for work without loading the whole table.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no record exists for the given id.
var ErrNotFound = errors.New("store: record not found")

// ErrVersionConflict is returned by Commit when an op's ExpectedVersion no
// longer matches the stored version. The caller should re-read and retry.
var ErrVersionConflict = errors.New("store: version conflict")

// Record is the durable representation of one reminder. Data holds the
// JSON-encoded domain object; DueAt, Status, and AckDeadline are
// duplicated out of Data so the store can index them without decoding
// the payload on every write.
type Record struct {
	ID          string
	Data        []byte
	Version     int64
	DueAt       time.Time
	Status      string
	AckDeadline *time.Time
}

// Op is one mutation to apply as part of a Commit. Set Delete to remove
// the record instead of writing Record.
type Op struct {
	ID              string
	ExpectedVersion int64 // -1 means "must not already exist" (create)
	Delete          bool
	Record          *Record
}

// PutOp builds an Op that creates or updates a record, checking
// expectedVersion first. Use expectedVersion -1 to require the record not
// already exist.
func PutOp(expectedVersion int64, rec *Record) Op {
	return Op{ID: rec.ID, ExpectedVersion: expectedVersion, Record: rec}
}

// DeleteOp builds an Op that removes a record, checking expectedVersion first.
func DeleteOp(id string, expectedVersion int64) Op {
	return Op{ID: id, ExpectedVersion: expectedVersion, Delete: true}
}

// Store is the durable record store interface. Implementations must apply
// every Op in a Commit call atomically: either all version checks pass and
// all writes land, or none do.
type Store interface {
	// Get fetches a record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Record, error)

	// Commit applies ops atomically after checking every ExpectedVersion.
	// Returns ErrVersionConflict if any check fails; in that case no op is
	// applied.
	Commit(ctx context.Context, ops ...Op) error

	// ScanDueBefore returns up to limit ids from the by-time index with
	// DueAt <= before, ordered by DueAt ascending.
	ScanDueBefore(ctx context.Context, before time.Time, limit int) ([]string, error)

	// ScanByStatus returns up to limit ids currently carrying status,
	// ordered by DueAt ascending.
	ScanByStatus(ctx context.Context, status string, limit int) ([]string, error)

	// ScanAckDeadlineBefore returns up to limit ids awaiting acknowledgement
	// whose AckDeadline <= before, ordered by AckDeadline ascending.
	ScanAckDeadlineBefore(ctx context.Context, before time.Time, limit int) ([]string, error)

	// Close releases any underlying connection.
	Close() error
}
