package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSubmitAssignsSequentialIDs(t *testing.T) {
	f := NewFake()
	id1, err := f.Submit(context.Background(), []string{"sbatch", "job1.sh"})
	require.NoError(t, err)
	id2, err := f.Submit(context.Background(), []string{"sbatch", "job2.sh"})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Len(t, f.Submissions(), 2)
}

func TestFakeQueryReturnsOnlyKnownJobs(t *testing.T) {
	f := NewFake()
	id, err := f.Submit(context.Background(), []string{"sbatch", "job.sh"})
	require.NoError(t, err)
	f.SetState(id, "COMPLETED")

	states, err := f.Query(context.Background(), []string{id, "nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{id: "COMPLETED"}, states)
}

func TestFakeSubmitCanBeMadeToFail(t *testing.T) {
	f := NewFake()
	f.FailSubmissionsWith(assert.AnError)

	_, err := f.Submit(context.Background(), []string{"sbatch", "job.sh"})
	assert.Error(t, err)
}

func TestFakeQueryEmptyJobIDs(t *testing.T) {
	f := NewFake()
	states, err := f.Query(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, states)
}
