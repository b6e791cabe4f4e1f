// Package discover enumerates the (subject, session) pairs the scheduler
// should consider, either by walking a DICOM root directory or by reading a
// pre-built session index file.
package discover

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/spf13/afero"

	"github.com/snbb/scheduler/internal/config"
	"github.com/snbb/scheduler/pkg/model"
)

// Discoverer enumerates sessions against an injectable filesystem.
type Discoverer struct {
	fs afero.Fs
}

// New returns a Discoverer backed by fs.
func New(fs afero.Fs) *Discoverer {
	return &Discoverer{fs: fs}
}

// Discover returns every discovered session row, enriched with the
// per-procedure output path and existence flags every rule needs. It
// dispatches to indexed mode when cfg.SessionsFile is set, otherwise it
// walks cfg.DicomRoot for a sub-*/ses-* tree.
func (d *Discoverer) Discover(cfg config.Config) ([]model.SessionRow, error) {
	if cfg.SessionsFile != "" {
		return d.discoverFromFile(cfg)
	}
	return d.discoverFromFilesystem(cfg)
}

func (d *Discoverer) discoverFromFilesystem(cfg config.Config) ([]model.SessionRow, error) {
	exists, err := afero.DirExists(d.fs, cfg.DicomRoot)
	if err != nil {
		return nil, fmt.Errorf("checking dicom root %s: %w", cfg.DicomRoot, err)
	}
	if !exists {
		return nil, nil
	}

	subjectEntries, err := afero.ReadDir(d.fs, cfg.DicomRoot)
	if err != nil {
		return nil, fmt.Errorf("listing dicom root %s: %w", cfg.DicomRoot, err)
	}
	sort.Slice(subjectEntries, func(i, j int) bool { return subjectEntries[i].Name() < subjectEntries[j].Name() })

	var rows []model.SessionRow
	for _, subjectEntry := range subjectEntries {
		if !subjectEntry.IsDir() || !strings.HasPrefix(subjectEntry.Name(), "sub-") {
			continue
		}
		subjectDir := filepath.Join(cfg.DicomRoot, subjectEntry.Name())
		sessionEntries, err := afero.ReadDir(d.fs, subjectDir)
		if err != nil {
			return nil, fmt.Errorf("listing subject dir %s: %w", subjectDir, err)
		}
		sort.Slice(sessionEntries, func(i, j int) bool { return sessionEntries[i].Name() < sessionEntries[j].Name() })

		for _, sessionEntry := range sessionEntries {
			if !sessionEntry.IsDir() || !strings.HasPrefix(sessionEntry.Name(), "ses-") {
				continue
			}
			sessionDir := filepath.Join(subjectDir, sessionEntry.Name())
			row, err := d.buildRow(subjectEntry.Name(), sessionEntry.Name(), sessionDir, cfg)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// requiredSessionFileColumns are the columns an indexed-mode session file
// must carry.
var requiredSessionFileColumns = []string{"SubjectCode", "ScanID", "dicom_path"}

func (d *Discoverer) discoverFromFile(cfg config.Config) ([]model.SessionRow, error) {
	records, header, err := readCSV(d.fs, cfg.SessionsFile)
	if err != nil {
		return nil, err
	}
	colIndex, err := indexColumns(header, requiredSessionFileColumns)
	if err != nil {
		return nil, fmt.Errorf("sessions file %s: %w", cfg.SessionsFile, err)
	}
	dicomPathIdx := -1
	for i, h := range header {
		if h == "dicom_path" {
			dicomPathIdx = i
		}
	}

	var rows []model.SessionRow
	for _, rec := range records {
		subjectCode := SanitizeSubjectCode(rec[colIndex["SubjectCode"]])
		sessionID := SanitizeSessionID(rec[colIndex["ScanID"]])
		subject := "sub-" + subjectCode
		session := "ses-" + sessionID

		dicomPath := ""
		if dicomPathIdx >= 0 {
			dicomPath = rec[dicomPathIdx]
		}

		row, err := d.buildRow(subject, session, dicomPath, cfg)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (d *Discoverer) buildRow(subject, session, dicomPath string, cfg config.Config) (model.SessionRow, error) {
	dicomExists := false
	if dicomPath != "" {
		exists, err := afero.Exists(d.fs, dicomPath)
		if err != nil {
			return model.SessionRow{}, fmt.Errorf("checking dicom path %s: %w", dicomPath, err)
		}
		dicomExists = exists
	}

	row := model.SessionRow{
		Subject:     subject,
		Session:     session,
		DicomPath:   dicomPath,
		DicomExists: dicomExists,
		ProcPaths:   make(map[string]string, len(cfg.Procedures)),
		ProcExists:  make(map[string]bool, len(cfg.Procedures)),
	}
	for _, proc := range cfg.Procedures {
		root := cfg.ProcedureRoot(proc)
		var path string
		if proc.Scope == model.ScopeSubject {
			path = filepath.Join(root, subject)
		} else {
			path = filepath.Join(root, subject, session)
		}
		exists, err := afero.Exists(d.fs, path)
		if err != nil {
			return model.SessionRow{}, fmt.Errorf("checking procedure path %s: %w", path, err)
		}
		row.ProcPaths[proc.Name] = path
		row.ProcExists[proc.Name] = exists
	}
	return row, nil
}

// SanitizeSubjectCode strips non-digit characters and zero-pads to 4
// digits, matching the original implementation's subject-code convention.
func SanitizeSubjectCode(s string) string {
	return zeroPad(stripNonDigits(s), 4)
}

// SanitizeSessionID strips non-digit characters and zero-pads to 12
// digits, matching the original implementation's scan-ID convention.
func SanitizeSessionID(s string) string {
	return zeroPad(stripNonDigits(s), 12)
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func zeroPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

func readCSV(fs afero.Fs, path string) (records [][]string, header []string, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sessions file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading sessions file %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("sessions file %s is empty", path)
	}
	return all[1:], all[0], nil
}

func indexColumns(header, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	var missing []string
	for _, r := range required {
		if _, ok := idx[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required column(s): %s", strings.Join(missing, ", "))
	}
	return idx, nil
}
