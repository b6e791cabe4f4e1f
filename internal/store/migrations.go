package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for the state_rows table. The statement uses IF
// NOT EXISTS for idempotency.
//
// (subject, session, procedure) is not a SQL-level primary key: historical
// rows may repeat across time (a procedure resubmitted after completing, or
// after a retry, adds a new row rather than overwriting the old one).
// Uniqueness is enforced only among in-flight rows, via a partial unique
// index, which is what backs the at-most-one-active-job invariant and the
// INSERT ... ON CONFLICT upsert in sqlite.go.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS state_rows (
		subject      TEXT NOT NULL,
		session      TEXT NOT NULL DEFAULT '',
		procedure    TEXT NOT NULL,
		status       TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		job_id       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_state_rows_in_flight
		ON state_rows(subject, session, procedure)
		WHERE status IN ('pending', 'running')`,
	`CREATE INDEX IF NOT EXISTS idx_state_rows_status ON state_rows(status)`,
}

// migrate executes every schema DDL statement.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
