package discover

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snbb/scheduler/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		DicomRoot:       "/dicom",
		BidsRoot:        "/bids",
		DerivativesRoot: "/derivatives",
		Procedures:      config.DefaultProcedures(),
	}
}

func TestSanitizeSubjectCode(t *testing.T) {
	assert.Equal(t, "0001", SanitizeSubjectCode("1"))
	assert.Equal(t, "0042", SanitizeSubjectCode("0042"))
	assert.Equal(t, "0001", SanitizeSubjectCode("sub-1"))
	assert.Equal(t, "0001", SanitizeSubjectCode("1 "))
}

func TestSanitizeSessionID(t *testing.T) {
	assert.Equal(t, "000000000001", SanitizeSessionID("1"))
	assert.Equal(t, "000000012345", SanitizeSessionID("12345"))
	assert.Equal(t, "000000000001", SanitizeSessionID("ses-1"))
}

func TestDiscoverFromFilesystemMissingRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := New(fs)
	rows, err := d.Discover(testConfig())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDiscoverFromFilesystemWalksSubjectsAndSessions(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/dicom/sub-0001/ses-01", 0o755))
	require.NoError(t, fs.MkdirAll("/dicom/sub-0001/ses-02", 0o755))
	require.NoError(t, fs.MkdirAll("/dicom/sub-0002/ses-01", 0o755))
	require.NoError(t, fs.MkdirAll("/dicom/not-a-subject", 0o755))

	d := New(fs)
	rows, err := d.Discover(testConfig())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "sub-0001", rows[0].Subject)
	assert.Equal(t, "ses-01", rows[0].Session)
	assert.True(t, rows[0].DicomExists)
	assert.Contains(t, rows[0].ProcPaths, "bids")
	assert.Contains(t, rows[0].ProcPaths, "freesurfer")
	assert.False(t, rows[0].ProcExists["bids"])
}

func TestDiscoverFromFilesystemDetectsExistingOutputs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/dicom/sub-0001/ses-01", 0o755))
	require.NoError(t, fs.MkdirAll("/bids/sub-0001/ses-01", 0o755))

	d := New(fs)
	rows, err := d.Discover(testConfig())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].ProcExists["bids"])
}

func TestDiscoverFromFileReadsCSV(t *testing.T) {
	fs := afero.NewMemMapFs()
	csvContent := "SubjectCode,ScanID,dicom_path\n" +
		"1,1001,/dicom/1001\n" +
		"0002,1002,/dicom/1002\n"
	require.NoError(t, afero.WriteFile(fs, "/sessions.csv", []byte(csvContent), 0o644))
	require.NoError(t, fs.MkdirAll("/dicom/1001", 0o755))

	cfg := testConfig()
	cfg.SessionsFile = "/sessions.csv"

	d := New(fs)
	rows, err := d.Discover(cfg)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "sub-0001", rows[0].Subject)
	assert.Equal(t, "ses-000000001001", rows[0].Session)
	assert.Equal(t, "/dicom/1001", rows[0].DicomPath)
	assert.True(t, rows[0].DicomExists)

	assert.Equal(t, "sub-0002", rows[1].Subject)
	assert.Equal(t, "ses-000000001002", rows[1].Session)
	assert.False(t, rows[1].DicomExists)
}

func TestDiscoverFromFileRejectsMissingColumns(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/sessions.csv", []byte("a,b\n1,2\n"), 0o644))

	cfg := testConfig()
	cfg.SessionsFile = "/sessions.csv"

	d := New(fs)
	_, err := d.Discover(cfg)
	require.Error(t, err)
}
