package scheduler

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
	"github.com/snbb/scheduler/internal/store"
	"github.com/snbb/scheduler/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testPass(t *testing.T) (*Pass, afero.Fs, store.Store) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dicom/sub-0001/ses-01/dummy.dcm", nil, 0o644))

	cfg := config.Config{
		DicomRoot:       "/dicom",
		BidsRoot:        "/bids",
		DerivativesRoot: "/derivatives",
		Procedures:      config.DefaultProcedures(),
	}

	st, err := store.NewSQLiteStore(":memory:", testLogger())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	auditLogger := audit.New(t.TempDir() + "/audit.jsonl")

	return New(cfg, fs, st, nil, auditLogger, testLogger()), fs, st
}

func TestPassBuildsManifestForNewSession(t *testing.T) {
	p, _, _ := testPass(t)
	tasks, err := p.Manifest(Options{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "bids", tasks[0].Procedure)
	assert.Equal(t, "sub-0001", tasks[0].Subject)
}

func TestPassRunSubmitsDiscoveredWork(t *testing.T) {
	p, _, st := testPass(t)
	fake := batch.NewFake()
	p.manager = fake

	summary, err := p.Run(context.Background(), Options{SkipMonitor: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Discovered)
	assert.Equal(t, 1, summary.Submitted)
	assert.Equal(t, 0, summary.Failed)

	rows, err := st.ListStateRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusPending, rows[0].Status)
}

func TestPassRunIsIdempotentAcrossConsecutivePasses(t *testing.T) {
	p, _, st := testPass(t)
	fake := batch.NewFake()
	p.manager = fake

	ctx := context.Background()
	_, err := p.Run(ctx, Options{SkipMonitor: true})
	require.NoError(t, err)

	summary, err := p.Run(ctx, Options{SkipMonitor: true})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Submitted, "already in-flight, should not resubmit")

	rows, err := st.ListStateRows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPassRunForceStillRespectsInFlight(t *testing.T) {
	p, _, st := testPass(t)
	fake := batch.NewFake()
	p.manager = fake

	ctx := context.Background()
	_, err := p.Run(ctx, Options{SkipMonitor: true})
	require.NoError(t, err)

	summary, err := p.Run(ctx, Options{SkipMonitor: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Submitted, "bids is already pending; --force must not submit a second in-flight job")

	rows, err := st.ListStateRows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPassRunDryRunWritesNoStateRow(t *testing.T) {
	p, _, st := testPass(t)
	fake := batch.NewFake()
	p.manager = fake

	summary, err := p.Run(context.Background(), Options{SkipMonitor: true, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Submitted)

	rows, err := st.ListStateRows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, fake.Submissions())
}
