// Package rules builds the per-procedure predicates that decide whether a
// session (or subject) still needs a given procedure submitted.
package rules

import (
	"github.com/snbb/scheduler/internal/config"
	"github.com/snbb/scheduler/internal/oracle"
	"github.com/snbb/scheduler/pkg/model"
)

// Rule decides whether a procedure needs to run for a given session row.
type Rule func(row model.SessionRow) bool

// Builder constructs rules against a fixed configuration and oracle.
type Builder struct {
	cfg    config.Config
	oracle *oracle.Oracle
}

// New returns a rule Builder.
func New(cfg config.Config, o *oracle.Oracle) *Builder {
	return &Builder{cfg: cfg, oracle: o}
}

// Options controls a force-resubmission override applied when building
// rules, mirroring the --force/--procedure CLI flags.
type Options struct {
	Force           bool
	ForceProcedures []string
}

// BuildAll returns one rule per configured procedure, keyed by name.
func (b *Builder) BuildAll(opts Options) map[string]Rule {
	rules := make(map[string]Rule, len(b.cfg.Procedures))
	for _, proc := range b.cfg.Procedures {
		rules[proc.Name] = b.build(proc, opts)
	}
	return rules
}

func (b *Builder) completionKwargs(proc model.Procedure, subject string) oracle.Kwargs {
	switch proc.Name {
	case "freesurfer", "qsiprep":
		return oracle.Kwargs{BidsRoot: b.cfg.BidsRoot, Subject: subject}
	case "qsirecon":
		return oracle.Kwargs{DerivativesRoot: b.cfg.DerivativesRoot, Subject: subject}
	default:
		return oracle.Kwargs{}
	}
}

// build returns a rule closure for proc: it returns true when DICOM data
// exists, every dependency is already complete, and proc's own output is
// not yet complete (or force resubmission applies).
func (b *Builder) build(proc model.Procedure, opts Options) Rule {
	return func(row model.SessionRow) bool {
		if !row.DicomExists {
			return false
		}
		for _, depName := range proc.DependsOn {
			depProc, err := b.cfg.GetProcedure(depName)
			if err != nil {
				return false
			}
			depKwargs := b.completionKwargs(depProc, row.Subject)
			if !b.oracle.IsComplete(depProc, row.ProcPaths[depName], depKwargs) {
				return false
			}
		}

		shouldForce := opts.Force && (opts.ForceProcedures == nil || contains(opts.ForceProcedures, proc.Name))
		if shouldForce {
			return true
		}

		selfKwargs := b.completionKwargs(proc, row.Subject)
		return !b.oracle.IsComplete(proc, row.ProcPaths[proc.Name], selfKwargs)
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
