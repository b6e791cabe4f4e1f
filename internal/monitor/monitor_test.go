package monitor

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snbb/scheduler/internal/audit"
	"github.com/snbb/scheduler/internal/batch"
	"github.com/snbb/scheduler/internal/config"
	"github.com/snbb/scheduler/internal/oracle"
	"github.com/snbb/scheduler/internal/store"
	"github.com/snbb/scheduler/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, "CANCELLED", normalizeState("CANCELLED by 1000"))
	assert.Equal(t, "COMPLETED", normalizeState("COMPLETED+"))
	assert.Equal(t, "RUNNING", normalizeState("RUNNING"))
	assert.Equal(t, "", normalizeState(""))
}

func testEnv(t *testing.T) (store.Store, *batch.Fake, *Monitor, afero.Fs) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	fs := afero.NewMemMapFs()
	fake := batch.NewFake()
	cfg := config.Config{
		BidsRoot:        "/bids",
		DerivativesRoot: "/derivatives",
		Procedures:      config.DefaultProcedures(),
	}
	auditLogger := audit.New(t.TempDir() + "/audit.jsonl")
	m := New(cfg, fake, st, oracle.New(fs), auditLogger)
	return st, fake, m, fs
}

func TestPollNoInFlightIsNoop(t *testing.T) {
	_, _, m, _ := testEnv(t)
	n, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPollUpdatesStatusOnTransition(t *testing.T) {
	st, fake, m, _ := testEnv(t)
	ctx := context.Background()

	jobID, err := fake.Submit(ctx, []string{"sbatch", "job.sh"})
	require.NoError(t, err)
	require.NoError(t, st.InsertStateRow(ctx, model.StateRow{
		Subject: "sub-0001", Session: "ses-01", Procedure: "bids",
		Status: model.StatusPending, JobID: jobID,
	}))

	fake.SetState(jobID, "RUNNING")
	n, err := m.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := st.ListStateRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusRunning, rows[0].Status)
}

func TestPollMapsFailureStatesWithSuffix(t *testing.T) {
	st, fake, m, _ := testEnv(t)
	ctx := context.Background()

	jobID, err := fake.Submit(ctx, []string{"sbatch", "job.sh"})
	require.NoError(t, err)
	require.NoError(t, st.InsertStateRow(ctx, model.StateRow{
		Subject: "sub-0001", Session: "ses-01", Procedure: "bids",
		Status: model.StatusPending, JobID: jobID,
	}))

	fake.SetState(jobID, "CANCELLED by 1000")
	n, err := m.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := st.ListStateRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, rows[0].Status)
}

func TestReconcileMarksCompleteWhenOutputExists(t *testing.T) {
	st, _, m, fs := testEnv(t)
	ctx := context.Background()

	require.NoError(t, st.InsertStateRow(ctx, model.StateRow{
		Subject: "sub-0001", Session: "ses-01", Procedure: "bids",
		Status: model.StatusPending, JobID: "999",
	}))

	n, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "output does not exist yet")

	for _, marker := range []string{
		"anat/*_T1w.nii.gz", "dwi/*_dir-AP_dwi.nii.gz", "dwi/*_dir-AP_dwi.bvec", "dwi/*_dir-AP_dwi.bval",
		"fmap/*_acq-dwi_dir-AP_epi.nii.gz", "fmap/*_acq-dwi_dir-PA_epi.nii.gz",
		"fmap/*_acq-func_dir-AP_epi.nii.gz", "func/*_task-rest_bold.nii.gz",
	} {
		path := "/bids/sub-0001/ses-01/" + strip(marker)
		require.NoError(t, afero.WriteFile(fs, path, nil, 0o644))
	}

	n, err = m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := st.ListStateRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, rows[0].Status)
}

func TestPollReturnsErrorAndLeavesStateUnchangedWhenBatchManagerIsDown(t *testing.T) {
	st, fake, m, _ := testEnv(t)
	ctx := context.Background()

	jobID, err := fake.Submit(ctx, []string{"sbatch", "job.sh"})
	require.NoError(t, err)
	require.NoError(t, st.InsertStateRow(ctx, model.StateRow{
		Subject: "sub-0001", Session: "ses-01", Procedure: "bids",
		Status: model.StatusPending, JobID: jobID,
	}))

	fake.FailQueriesWith(assert.AnError)

	n, err := m.Poll(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, n)

	rows, err := st.ListStateRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusPending, rows[0].Status, "a failed poll must not change the recorded status")
}

func TestReconcileStillPromotesCompletedOutputWhenBatchManagerIsDown(t *testing.T) {
	st, fake, m, fs := testEnv(t)
	ctx := context.Background()

	jobID, err := fake.Submit(ctx, []string{"sbatch", "job.sh"})
	require.NoError(t, err)
	require.NoError(t, st.InsertStateRow(ctx, model.StateRow{
		Subject: "sub-0001", Session: "ses-01", Procedure: "bids",
		Status: model.StatusPending, JobID: jobID,
	}))
	fake.FailQueriesWith(assert.AnError)

	_, err = m.Poll(ctx)
	assert.Error(t, err)

	for _, marker := range []string{
		"anat/*_T1w.nii.gz", "dwi/*_dir-AP_dwi.nii.gz", "dwi/*_dir-AP_dwi.bvec", "dwi/*_dir-AP_dwi.bval",
		"fmap/*_acq-dwi_dir-AP_epi.nii.gz", "fmap/*_acq-dwi_dir-PA_epi.nii.gz",
		"fmap/*_acq-func_dir-AP_epi.nii.gz", "func/*_task-rest_bold.nii.gz",
	} {
		path := "/bids/sub-0001/ses-01/" + strip(marker)
		require.NoError(t, afero.WriteFile(fs, path, nil, 0o644))
	}

	n, err := m.Reconcile(ctx)
	require.NoError(t, err, "reconcile does not depend on the batch manager")
	assert.Equal(t, 1, n)

	rows, err := st.ListStateRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, rows[0].Status)
}

func strip(pattern string) string {
	out := ""
	for _, r := range pattern {
		if r == '*' {
			out += "x"
			continue
		}
		out += string(r)
	}
	return out
}
