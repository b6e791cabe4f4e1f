// Package batch abstracts the Slurm-compatible batch manager behind a
// Submit/Query interface, with a real subprocess implementation and an
// in-memory fake for tests.
package batch

import "context"

// Manager submits jobs to, and queries job state from, a batch manager.
type Manager interface {
	// Submit runs cmd (e.g. an sbatch invocation) and returns the batch
	// manager's job ID.
	Submit(ctx context.Context, cmd []string) (jobID string, err error)

	// Query returns the current status string for each of jobIDs. Job IDs
	// the batch manager has no record of (e.g. purged from its retention
	// window) are simply absent from the result, not an error.
	Query(ctx context.Context, jobIDs []string) (map[string]string, error)
}
