// Package oracle implements the Completion Oracle: the generic and
// specialized output-completeness checks every rule consults to decide
// whether a procedure still needs to run.
package oracle

import (
	"bufio"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/snbb/scheduler/pkg/model"
)

// Oracle evaluates whether a procedure's output is complete, dispatching to
// a specialized override when one is registered for the procedure's name
// and the call supplies a subject in its Kwargs, and falling back to the
// generic marker-based check otherwise.
type Oracle struct {
	fs afero.Fs
}

// New returns an Oracle backed by fs. Pass afero.NewOsFs() for production
// use and afero.NewMemMapFs() in tests.
func New(fs afero.Fs) *Oracle {
	return &Oracle{fs: fs}
}

// Kwargs carries the extra context some specialized overrides need beyond
// the output path itself.
type Kwargs struct {
	BidsRoot        string
	DerivativesRoot string
	Subject         string
}

type overrideFunc func(o *Oracle, outputPath string, kw Kwargs) bool

var overrides = map[string]overrideFunc{
	"freesurfer": (*Oracle).freesurferComplete,
	"qsiprep":    (*Oracle).qsiprepComplete,
	"qsirecon":   (*Oracle).qsireconComplete,
}

// IsComplete decides whether proc's output at outputPath is complete. kw
// supplies additional context consumed only by the overrides that need it;
// the generic strategies ignore it.
func (o *Oracle) IsComplete(proc model.Procedure, outputPath string, kw Kwargs) bool {
	if override, ok := overrides[proc.Name]; ok {
		if kw.Subject != "" {
			return override(o, outputPath, kw)
		}
	}
	return o.genericComplete(outputPath, proc.CompletionMarker)
}

// genericComplete implements the nil/literal/glob/list-of-globs strategy.
func (o *Oracle) genericComplete(outputPath string, marker interface{}) bool {
	exists, err := afero.DirExists(o.fs, outputPath)
	if err != nil || !exists {
		return false
	}

	switch m := marker.(type) {
	case nil:
		return o.dirNonEmpty(outputPath)
	case string:
		return o.matchesOne(outputPath, m)
	case []string:
		if len(m) == 0 {
			return true
		}
		for _, pattern := range m {
			if !o.matchesOne(outputPath, pattern) {
				return false
			}
		}
		return true
	case []interface{}:
		if len(m) == 0 {
			return true
		}
		for _, raw := range m {
			pattern, ok := raw.(string)
			if !ok {
				return false
			}
			if !o.matchesOne(outputPath, pattern) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// matchesOne checks a single marker (literal path or glob pattern) rooted
// at outputPath. A "**/" segment in a glob matches zero or more directory
// levels.
func (o *Oracle) matchesOne(outputPath, pattern string) bool {
	if strings.Contains(pattern, "**/") {
		for depth := 0; ; depth++ {
			expanded := strings.Replace(pattern, "**/", strings.Repeat("*/", depth), 1)
			if matches, err := afero.Glob(o.fs, filepath.Join(outputPath, expanded)); err == nil && len(matches) > 0 {
				return true
			}
			deeper, err := afero.Glob(o.fs, filepath.Join(outputPath, strings.Repeat("*/", depth)+"*"))
			if err != nil || len(deeper) == 0 {
				return false
			}
		}
	}
	if isGlob(pattern) {
		matches, err := afero.Glob(o.fs, filepath.Join(outputPath, pattern))
		if err != nil {
			return false
		}
		return len(matches) > 0
	}
	exists, err := afero.Exists(o.fs, filepath.Join(outputPath, pattern))
	return err == nil && exists
}

func (o *Oracle) dirNonEmpty(dir string) bool {
	entries, err := afero.ReadDir(o.fs, dir)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// freesurferComplete reproduces the original "-i" count comparison: the
// recon-all.done marker must exist, and the number of -i flags on its
// #CMDARGS line must equal the number of T1w images available under the
// subject's BIDS sessions.
func (o *Oracle) freesurferComplete(outputPath string, kw Kwargs) bool {
	donePath := filepath.Join(outputPath, "scripts", "recon-all.done")
	exists, err := afero.Exists(o.fs, donePath)
	if err != nil || !exists {
		return false
	}
	used := o.countReconAllInputs(donePath)
	available := o.countAvailableT1w(kw.BidsRoot, kw.Subject)
	return used == available
}

func (o *Oracle) countReconAllInputs(donePath string) int {
	f, err := o.fs.Open(donePath)
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "#CMDARGS") {
			continue
		}
		return strings.Count(line, "-i ")
	}
	return 0
}

func (o *Oracle) countAvailableT1w(bidsRoot, subject string) int {
	pattern := filepath.Join(bidsRoot, subject, "ses-*", "anat", "*_T1w.nii.gz")
	matches, err := afero.Glob(o.fs, pattern)
	if err != nil {
		return 0
	}
	return len(matches)
}

// qsiprepComplete compares the number of session directories qsiprep has
// produced for a subject against the number of BIDS sessions that actually
// contain DWI data.
func (o *Oracle) qsiprepComplete(outputPath string, kw Kwargs) bool {
	produced := o.countSessionDirs(outputPath)
	available := o.countBidsDWISessions(kw.BidsRoot, kw.Subject)
	return produced == available
}

// qsireconComplete compares qsirecon's produced sessions against qsiprep's
// produced sessions for the same subject.
func (o *Oracle) qsireconComplete(outputPath string, kw Kwargs) bool {
	qsiprepOutput := filepath.Join(kw.DerivativesRoot, "qsiprep", kw.Subject)
	produced := o.countSessionDirs(outputPath)
	available := o.countSessionDirs(qsiprepOutput)
	return produced == available
}

// countSessionDirs counts ses-* subdirectories directly under dir.
func (o *Oracle) countSessionDirs(dir string) int {
	entries, err := afero.ReadDir(o.fs, dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "ses-") {
			n++
		}
	}
	return n
}

// countBidsDWISessions counts ses-* directories under bidsRoot/subject that
// contain at least one dwi/*dwi.nii.gz file.
func (o *Oracle) countBidsDWISessions(bidsRoot, subject string) int {
	subjectDir := filepath.Join(bidsRoot, subject)
	entries, err := afero.ReadDir(o.fs, subjectDir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "ses-") {
			continue
		}
		matches, err := afero.Glob(o.fs, filepath.Join(subjectDir, e.Name(), "dwi", "*dwi.nii.gz"))
		if err == nil && len(matches) > 0 {
			n++
		}
	}
	return n
}
