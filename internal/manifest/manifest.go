// Package manifest builds the list of tasks that need submitting, filters
// out work already in flight, and implements the retry operation that
// clears failed state rows.
package manifest

import (
	"sort"

	"github.com/snbb/scheduler/internal/config"
	"github.com/snbb/scheduler/internal/rules"
	"github.com/snbb/scheduler/pkg/model"
)

// Build evaluates every rule against every discovered session and returns
// the resulting task manifest, sorted by procedure priority (declaration
// order in cfg.Procedures), ties broken by (subject, session) to match the
// deterministic ordering the original implementation's stable sort gave.
//
// Subject-scoped procedures are deduplicated: once a (subject, procedure)
// pair has matched for one session, later sessions for the same subject do
// not add a second row.
func Build(sessions []model.SessionRow, cfg config.Config, ruleSet map[string]rules.Rule, opts rules.Options) []model.Task {
	if len(sessions) == 0 {
		return nil
	}

	priority := make(map[string]int, len(cfg.Procedures))
	subjectScoped := make(map[string]bool, len(cfg.Procedures))
	for i, proc := range cfg.Procedures {
		priority[proc.Name] = i
		subjectScoped[proc.Name] = proc.Scope == model.ScopeSubject
	}

	type subjectProcKey struct{ subject, proc string }
	seen := make(map[subjectProcKey]bool)

	var tasks []model.Task
	for _, sessionRow := range sessions {
		for _, proc := range cfg.Procedures {
			rule, ok := ruleSet[proc.Name]
			if !ok || !rule(sessionRow) {
				continue
			}

			session := sessionRow.Session
			dicomPath := sessionRow.DicomPath
			if subjectScoped[proc.Name] {
				key := subjectProcKey{sessionRow.Subject, proc.Name}
				if seen[key] {
					continue
				}
				seen[key] = true
				session = ""
				dicomPath = ""
			}

			tasks = append(tasks, model.Task{
				Subject:   sessionRow.Subject,
				Session:   session,
				Procedure: proc.Name,
				DicomPath: dicomPath,
				Priority:  priority[proc.Name],
			})
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		if tasks[i].Subject != tasks[j].Subject {
			return tasks[i].Subject < tasks[j].Subject
		}
		return tasks[i].Session < tasks[j].Session
	})
	return tasks
}

// FilterInFlight removes any task whose WorkKey already has a pending or
// running state row, enforcing the at-most-one-active-job invariant.
func FilterInFlight(tasks []model.Task, inFlight []model.StateRow) []model.Task {
	if len(tasks) == 0 || len(inFlight) == 0 {
		return tasks
	}

	busy := make(map[model.WorkKey]bool, len(inFlight))
	for _, row := range inFlight {
		if row.InFlight() {
			busy[row.Key()] = true
		}
	}
	if len(busy) == 0 {
		return tasks
	}

	var filtered []model.Task
	for _, task := range tasks {
		key := model.WorkKey{Subject: task.Subject, Session: task.Session, Procedure: task.Procedure}
		if !busy[key] {
			filtered = append(filtered, task)
		}
	}
	return filtered
}

// RetryFilter selects which failed state rows the retry operation clears.
// An empty field matches anything.
type RetryFilter struct {
	Procedure string
	Subject   string
}

// Matches reports whether row should be cleared by this filter: its status
// must be failed, and any non-empty filter field must match exactly.
func (f RetryFilter) Matches(row model.StateRow) bool {
	if row.Status != model.StatusFailed {
		return false
	}
	if f.Procedure != "" && row.Procedure != f.Procedure {
		return false
	}
	if f.Subject != "" && row.Subject != f.Subject {
		return false
	}
	return true
}

// ClearFailed partitions rows into those that match the filter (to be
// deleted, after auditing) and those that survive.
func ClearFailed(rows []model.StateRow, filter RetryFilter) (cleared, kept []model.StateRow) {
	for _, row := range rows {
		if filter.Matches(row) {
			cleared = append(cleared, row)
		} else {
			kept = append(kept, row)
		}
	}
	return cleared, kept
}
