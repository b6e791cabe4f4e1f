// Package model defines the data types shared by every scheduler component:
// procedures, work keys, manifest rows, state rows, and audit events.
package model

import "time"

// Scope controls whether a procedure runs once per subject or once per
// session.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeSubject Scope = "subject"
)

// Status is the lifecycle state of a State Row.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Procedure is one named processing stage in the pipeline. CompletionMarker
// may be nil (non-empty-directory check), a plain string (literal file
// path, or a glob pattern if it contains glob metacharacters), or a
// []string of glob patterns that must all match.
type Procedure struct {
	Name             string      `yaml:"name"`
	OutputDir        string      `yaml:"output_dir"`
	Script           string      `yaml:"script"`
	Scope            Scope       `yaml:"scope"`
	DependsOn        []string    `yaml:"depends_on"`
	CompletionMarker interface{} `yaml:"completion_marker"`
}

// WorkKey uniquely identifies one unit of potential work: one procedure for
// one subject, or one procedure for one subject/session pair.
type WorkKey struct {
	Subject   string
	Session   string
	Procedure string
}

// Task is one row of the submission manifest: a unit of work that a rule
// has determined needs to run.
type Task struct {
	Subject   string
	Session   string
	Procedure string
	DicomPath string
	Priority  int
}

// StateRow records the last known lifecycle status of one submitted task.
type StateRow struct {
	Subject     string
	Session     string
	Procedure   string
	Status      Status
	SubmittedAt time.Time
	JobID       string
}

// Key returns the WorkKey this row tracks.
func (r StateRow) Key() WorkKey {
	return WorkKey{Subject: r.Subject, Session: r.Session, Procedure: r.Procedure}
}

// InFlight reports whether this row's status still occupies its WorkKey's
// single-active-job slot.
func (r StateRow) InFlight() bool {
	return r.Status == StatusPending || r.Status == StatusRunning
}

// AuditEventKind names the fixed set of events the audit log records.
type AuditEventKind string

const (
	EventSubmitted    AuditEventKind = "submitted"
	EventStatusChange AuditEventKind = "status_change"
	EventError        AuditEventKind = "error"
	EventDryRun       AuditEventKind = "dry_run"
	EventRetryCleared AuditEventKind = "retry_cleared"
)

// AuditEvent is one append-only record in the audit log.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     AuditEventKind `json:"event"`
	Subject   string         `json:"subject,omitempty"`
	Session   string         `json:"session,omitempty"`
	Procedure string         `json:"procedure,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	OldStatus string         `json:"old_status,omitempty"`
	NewStatus string         `json:"new_status,omitempty"`
}

// SessionRow is one discovered (subject, session) pair enriched with the
// per-procedure output path and existence flags every rule consults.
type SessionRow struct {
	Subject     string
	Session     string
	DicomPath   string
	DicomExists bool
	ProcPaths   map[string]string
	ProcExists  map[string]bool
}
