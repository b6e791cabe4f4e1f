// Package monitor polls the batch manager for in-flight job status and
// reconciles state against the filesystem when the batch manager's record
// has fallen behind.
package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/snbb/scheduler/internal/audit"
	"github.com/snbb/scheduler/internal/batch"
	"github.com/snbb/scheduler/internal/config"
	"github.com/snbb/scheduler/internal/oracle"
	"github.com/snbb/scheduler/internal/store"
	"github.com/snbb/scheduler/pkg/model"
)

// stateMap is the fixed batch-manager-state to scheduler-status mapping.
var stateMap = map[string]model.Status{
	"PENDING":       model.StatusPending,
	"RUNNING":       model.StatusRunning,
	"COMPLETED":     model.StatusComplete,
	"FAILED":        model.StatusFailed,
	"TIMEOUT":       model.StatusFailed,
	"CANCELLED":     model.StatusFailed,
	"OUT_OF_MEMORY": model.StatusFailed,
	"NODE_FAIL":     model.StatusFailed,
}

// normalizeState strips trailing qualifiers (e.g. "CANCELLED by 1000", a
// "+" suffix) before the fixed-table lookup.
func normalizeState(raw string) string {
	field := strings.Fields(raw)
	if len(field) == 0 {
		return ""
	}
	return strings.TrimSuffix(field[0], "+")
}

// Monitor polls the batch manager and reconciles state with the
// filesystem via the Completion Oracle.
type Monitor struct {
	cfg     config.Config
	manager batch.Manager
	store   store.Store
	oracle  *oracle.Oracle
	audit   *audit.Logger
}

// New returns a Monitor.
func New(cfg config.Config, manager batch.Manager, st store.Store, o *oracle.Oracle, auditLogger *audit.Logger) *Monitor {
	return &Monitor{cfg: cfg, manager: manager, store: st, oracle: o, audit: auditLogger}
}

// Poll queries the batch manager for every in-flight job and updates any
// row whose status has changed. If the batch manager is unavailable, Poll
// returns the underlying error and leaves the state store untouched —
// callers should log a warning and continue rather than treat this as
// fatal.
func (m *Monitor) Poll(ctx context.Context) (transitions int, err error) {
	inFlight, err := m.store.ListInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing in-flight rows: %w", err)
	}
	if len(inFlight) == 0 {
		return 0, nil
	}

	jobIDs := make([]string, 0, len(inFlight))
	for _, row := range inFlight {
		if row.JobID != "" {
			jobIDs = append(jobIDs, row.JobID)
		}
	}

	rawStates, err := m.manager.Query(ctx, jobIDs)
	if err != nil {
		return 0, fmt.Errorf("querying batch manager: %w", err)
	}

	for _, row := range inFlight {
		raw, ok := rawStates[row.JobID]
		if !ok {
			continue
		}
		newStatus, ok := stateMap[normalizeState(raw)]
		if !ok || newStatus == row.Status {
			continue
		}

		updated, err := m.store.UpdateStatus(ctx, row.Key(), newStatus)
		if err != nil {
			return transitions, fmt.Errorf("updating status for %s/%s/%s: %w", row.Subject, row.Session, row.Procedure, err)
		}
		if !updated {
			continue
		}
		_ = m.audit.Log(model.EventStatusChange, audit.Entry{
			Subject: row.Subject, Session: row.Session, Procedure: row.Procedure, JobID: row.JobID,
			OldStatus: string(row.Status), NewStatus: string(newStatus),
		})
		transitions++
	}
	return transitions, nil
}

// Reconcile marks pending/running rows complete when their output already
// exists on disk, covering the case where sacct no longer tracks a
// completed job (purged retention window, or sacct unavailable).
func (m *Monitor) Reconcile(ctx context.Context) (transitions int, err error) {
	inFlight, err := m.store.ListInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing in-flight rows: %w", err)
	}

	for _, row := range inFlight {
		proc, err := m.cfg.GetProcedure(row.Procedure)
		if err != nil {
			continue
		}

		root := m.cfg.ProcedureRoot(proc)
		outputPath := filepath.Join(root, row.Subject)
		if proc.Scope == model.ScopeSession {
			outputPath = filepath.Join(outputPath, row.Session)
		}

		kw := oracle.Kwargs{}
		switch proc.Name {
		case "freesurfer", "qsiprep":
			kw = oracle.Kwargs{BidsRoot: m.cfg.BidsRoot, Subject: row.Subject}
		case "qsirecon":
			kw = oracle.Kwargs{DerivativesRoot: m.cfg.DerivativesRoot, Subject: row.Subject}
		}

		if !m.oracle.IsComplete(proc, outputPath, kw) {
			continue
		}

		updated, err := m.store.UpdateStatus(ctx, row.Key(), model.StatusComplete)
		if err != nil {
			return transitions, fmt.Errorf("updating status for %s/%s/%s: %w", row.Subject, row.Session, row.Procedure, err)
		}
		if !updated {
			continue
		}
		_ = m.audit.Log(model.EventStatusChange, audit.Entry{
			Subject: row.Subject, Session: row.Session, Procedure: row.Procedure, JobID: row.JobID,
			OldStatus: string(row.Status), NewStatus: string(model.StatusComplete),
		})
		transitions++
	}
	return transitions, nil
}
