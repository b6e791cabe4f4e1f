package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/snbb/scheduler/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using a pure-Go SQLite driver.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath. Use
// ":memory:" for an in-memory database in tests.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates the state_rows table and its indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// InsertStateRow commits row in its own transaction, so a submission pass
// killed partway through still leaves every already-submitted task
// durably recorded. The upsert targets the in-flight partial unique index
// only, so it replaces a still-pending/running row for the same work key
// but always adds a new row on top of a completed or failed one, preserving
// history.
func (s *SQLiteStore) InsertStateRow(ctx context.Context, row model.StateRow) error {
	s.logger.Debug("sql", "op", "insert_state_row", "subject", row.Subject, "procedure", row.Procedure)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_rows (subject, session, procedure, status, submitted_at, job_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject, session, procedure) WHERE status IN ('pending', 'running') DO UPDATE SET
			status = excluded.status,
			submitted_at = excluded.submitted_at,
			job_id = excluded.job_id
	`, row.Subject, row.Session, row.Procedure, string(row.Status), row.SubmittedAt.UTC().Format(time.RFC3339), row.JobID)
	if err != nil {
		return fmt.Errorf("inserting state row: %w", err)
	}
	return nil
}

// ListStateRows returns every recorded row.
func (s *SQLiteStore) ListStateRows(ctx context.Context) ([]model.StateRow, error) {
	return s.queryRows(ctx, "SELECT subject, session, procedure, status, submitted_at, job_id FROM state_rows")
}

// ListInFlight returns every pending or running row.
func (s *SQLiteStore) ListInFlight(ctx context.Context) ([]model.StateRow, error) {
	return s.queryRows(ctx, `
		SELECT subject, session, procedure, status, submitted_at, job_id
		FROM state_rows
		WHERE status IN ('pending', 'running')
	`)
}

func (s *SQLiteStore) queryRows(ctx context.Context, query string, args ...interface{}) ([]model.StateRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state rows: %w", err)
	}
	defer rows.Close()

	var out []model.StateRow
	for rows.Next() {
		var r model.StateRow
		var status, submittedAt string
		if err := rows.Scan(&r.Subject, &r.Session, &r.Procedure, &status, &submittedAt, &r.JobID); err != nil {
			return nil, fmt.Errorf("scanning state row: %w", err)
		}
		r.Status = model.Status(status)
		if t, err := time.Parse(time.RFC3339, submittedAt); err == nil {
			r.SubmittedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateStatus changes the status of the in-flight row identified by its
// WorkKey. It never touches a historical (already complete or failed) row
// sharing the same key — the partial unique index guarantees at most one
// in-flight row per key, so this is always unambiguous.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, key model.WorkKey, status model.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE state_rows SET status = ?
		WHERE subject = ? AND session = ? AND procedure = ? AND status IN ('pending', 'running')
	`, string(status), key.Subject, key.Session, key.Procedure)
	if err != nil {
		return false, fmt.Errorf("updating state row status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteMatching deletes every row for which filter returns true and
// returns the deleted rows. Rows are addressed by SQLite's implicit rowid
// rather than (subject, session, procedure): since that triple is no
// longer a primary key, multiple historical rows can share it, and
// deleting by rowid ensures clearing a failed row never also removes an
// unrelated completed row for the same work key.
func (s *SQLiteStore) DeleteMatching(ctx context.Context, filter func(model.StateRow) bool) ([]model.StateRow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT rowid, subject, session, procedure, status, submitted_at, job_id FROM state_rows")
	if err != nil {
		return nil, fmt.Errorf("querying state rows: %w", err)
	}

	type rowWithID struct {
		id  int64
		row model.StateRow
	}
	var all []rowWithID
	for rows.Next() {
		var id int64
		var r model.StateRow
		var status, submittedAt string
		if err := rows.Scan(&id, &r.Subject, &r.Session, &r.Procedure, &status, &submittedAt, &r.JobID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning state row: %w", err)
		}
		r.Status = model.Status(status)
		if t, err := time.Parse(time.RFC3339, submittedAt); err == nil {
			r.SubmittedAt = t
		}
		all = append(all, rowWithID{id: id, row: r})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var deleted []model.StateRow
	for _, entry := range all {
		if !filter(entry.row) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM state_rows WHERE rowid = ?`, entry.id); err != nil {
			return nil, fmt.Errorf("deleting state row: %w", err)
		}
		deleted = append(deleted, entry.row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete: %w", err)
	}
	return deleted, nil
}
