// Package store implements the State Store: the durable record of every
// task that has been submitted, backed by SQLite.
package store

import (
	"context"

	"github.com/snbb/scheduler/pkg/model"
)

// Store is the persistence layer over State Rows.
type Store interface {
	// InsertStateRow durably records a newly submitted task. It is called
	// once per successful submission, committing immediately rather than
	// batching a whole pass into one write.
	InsertStateRow(ctx context.Context, row model.StateRow) error

	// ListStateRows returns every state row currently recorded.
	ListStateRows(ctx context.Context) ([]model.StateRow, error)

	// ListInFlight returns every row whose status is pending or running.
	ListInFlight(ctx context.Context) ([]model.StateRow, error)

	// UpdateStatus changes the status of the pending or running row
	// identified by key, returning false if no such in-flight row exists.
	UpdateStatus(ctx context.Context, key model.WorkKey, status model.Status) (bool, error)

	// DeleteMatching removes every row for which filter returns true,
	// whatever its status, and returns the rows that were deleted, for
	// auditing by the caller.
	DeleteMatching(ctx context.Context, filter func(model.StateRow) bool) ([]model.StateRow, error)

	Close() error
	Migrate(ctx context.Context) error
}
