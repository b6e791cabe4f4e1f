package batch

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Manager for tests: it never shells out, and lets a
// test script each job's state directly via SetState.
type Fake struct {
	mu        sync.Mutex
	nextID    int
	submits   []Submission
	states    map[string]string
	submitErr error
	queryErr  error
}

// Submission records one call to Submit, for test assertions.
type Submission struct {
	JobID string
	Cmd   []string
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{states: make(map[string]string)}
}

// Submit records cmd and assigns it the next sequential fake job ID.
func (f *Fake) Submit(_ context.Context, cmd []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.nextID++
	jobID := fmt.Sprintf("%d", f.nextID)
	f.submits = append(f.submits, Submission{JobID: jobID, Cmd: append([]string(nil), cmd...)})
	f.states[jobID] = "PENDING"
	return jobID, nil
}

// Query returns the currently set state for each known job ID.
func (f *Fake) Query(_ context.Context, jobIDs []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.queryErr != nil {
		return nil, f.queryErr
	}

	result := make(map[string]string, len(jobIDs))
	for _, id := range jobIDs {
		if state, ok := f.states[id]; ok {
			result[id] = state
		}
	}
	return result, nil
}

// SetState sets the raw state a later Query call will report for jobID.
func (f *Fake) SetState(jobID, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[jobID] = state
}

// FailSubmissionsWith makes every subsequent Submit call return err.
func (f *Fake) FailSubmissionsWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

// FailQueriesWith makes every subsequent Query call return err, simulating
// the batch manager being unreachable.
func (f *Fake) FailQueriesWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryErr = err
}

// Submissions returns every recorded Submit call, in submission order.
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Submission, len(f.submits))
	copy(out, f.submits)
	return out
}
