// Package submit composes sbatch commands for manifest tasks, dispatches
// them to a batch.Manager, and records the resulting state rows.
package submit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/snbb/scheduler/internal/audit"
	"github.com/snbb/scheduler/internal/batch"
	"github.com/snbb/scheduler/internal/config"
	"github.com/snbb/scheduler/internal/store"
	"github.com/snbb/scheduler/pkg/model"
)

// Options controls submission-time behavior.
type Options struct {
	// DryRun logs what would be submitted without calling the batch
	// manager or writing a state row.
	DryRun bool
}

// Submitter submits manifest tasks to a batch manager.
type Submitter struct {
	cfg     config.Config
	manager batch.Manager
	store   store.Store
	audit   *audit.Logger
}

// New returns a Submitter.
func New(cfg config.Config, manager batch.Manager, st store.Store, auditLogger *audit.Logger) *Submitter {
	return &Submitter{cfg: cfg, manager: manager, store: st, audit: auditLogger}
}

// Result reports what happened to one submitted task.
type Result struct {
	Task  model.Task
	JobID string
	Err   error
}

// SubmitAll submits every task in the manifest, in order, persisting a
// state row immediately after each successful submission.
func (s *Submitter) SubmitAll(ctx context.Context, tasks []model.Task, opts Options) ([]Result, error) {
	results := make([]Result, 0, len(tasks))
	for _, task := range tasks {
		res := s.submitOne(ctx, task, opts)
		results = append(results, res)
	}
	return results, nil
}

func (s *Submitter) submitOne(ctx context.Context, task model.Task, opts Options) Result {
	proc, err := s.cfg.GetProcedure(task.Procedure)
	if err != nil {
		return Result{Task: task, Err: fmt.Errorf("looking up procedure %s: %w", task.Procedure, err)}
	}

	if s.cfg.BatchLogDir != "" {
		logDir := filepath.Join(s.cfg.BatchLogDir, proc.Name)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return Result{Task: task, Err: fmt.Errorf("creating batch log directory %s: %w", logDir, err)}
		}
	}

	cmd := BuildCommand(s.cfg, proc, task)

	if opts.DryRun {
		fmt.Printf("[dry-run] %s\n", joinCmd(cmd))
		_ = s.audit.Log(model.EventDryRun, audit.Entry{
			Subject: task.Subject, Session: task.Session, Procedure: task.Procedure,
			Detail: joinCmd(cmd),
		})
		return Result{Task: task}
	}

	jobID, err := s.manager.Submit(ctx, cmd)
	if err != nil {
		_ = s.audit.Log(model.EventError, audit.Entry{
			Subject: task.Subject, Session: task.Session, Procedure: task.Procedure,
			Detail: err.Error(),
		})
		return Result{Task: task, Err: err}
	}

	row := model.StateRow{
		Subject:     task.Subject,
		Session:     task.Session,
		Procedure:   task.Procedure,
		Status:      model.StatusPending,
		SubmittedAt: currentTime(),
		JobID:       jobID,
	}
	if err := s.store.InsertStateRow(ctx, row); err != nil {
		return Result{Task: task, JobID: jobID, Err: fmt.Errorf("persisting state row: %w", err)}
	}

	_ = s.audit.Log(model.EventSubmitted, audit.Entry{
		Subject: task.Subject, Session: task.Session, Procedure: task.Procedure, JobID: jobID,
	})
	return Result{Task: task, JobID: jobID}
}

// BuildCommand composes the sbatch command line for one task, matching the
// original implementation's flag set: partition is only included when
// configured, account is always included, mem/cpus-per-task only when set,
// and the log paths only when a batch log directory is configured. Log
// paths use sbatch's %j placeholder, which sbatch itself substitutes with
// the assigned job ID once submission succeeds.
func BuildCommand(cfg config.Config, proc model.Procedure, task model.Task) []string {
	cmd := []string{"sbatch"}
	if cfg.BatchPartition != "" {
		cmd = append(cmd, "--partition="+cfg.BatchPartition)
	}
	cmd = append(cmd, "--account="+cfg.BatchAccount)
	cmd = append(cmd, "--job-name="+JobName(proc, task))
	if cfg.BatchMem != "" {
		cmd = append(cmd, "--mem="+cfg.BatchMem)
	}
	if cfg.BatchCPUs > 0 {
		cmd = append(cmd, fmt.Sprintf("--cpus-per-task=%d", cfg.BatchCPUs))
	}
	if cfg.BatchLogDir != "" {
		logDir := filepath.Join(cfg.BatchLogDir, proc.Name)
		cmd = append(cmd, "--output="+filepath.Join(logDir, JobName(proc, task)+"_%j.out"))
		cmd = append(cmd, "--error="+filepath.Join(logDir, JobName(proc, task)+"_%j.err"))
	}
	cmd = append(cmd, proc.Script)

	if proc.Scope == model.ScopeSubject {
		cmd = append(cmd, task.Subject)
	} else {
		cmd = append(cmd, task.Subject, task.Session)
		if task.DicomPath != "" {
			cmd = append(cmd, task.DicomPath)
		}
	}
	return cmd
}

// JobName mirrors the original implementation's job-naming convention.
func JobName(proc model.Procedure, task model.Task) string {
	if proc.Scope == model.ScopeSubject {
		return fmt.Sprintf("%s_%s", proc.Name, task.Subject)
	}
	return fmt.Sprintf("%s_%s_%s", proc.Name, task.Subject, task.Session)
}

func joinCmd(cmd []string) string {
	out := ""
	for i, c := range cmd {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}

var currentTime = defaultNow

func defaultNow() time.Time { return time.Now() }
