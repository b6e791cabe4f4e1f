// Package config loads and validates the scheduler's YAML configuration
// document: procedure definitions, filesystem roots, Slurm settings, and
// store/log file paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/snbb/scheduler/pkg/model"
)

// Config is the fully-resolved scheduler configuration.
type Config struct {
	DicomRoot       string            `yaml:"dicom_root"`
	BidsRoot        string            `yaml:"bids_root"`
	DerivativesRoot string            `yaml:"derivatives_root"`
	BatchPartition  string            `yaml:"batch_partition"`
	BatchAccount    string            `yaml:"batch_account"`
	BatchMem        string            `yaml:"batch_mem"`
	BatchCPUs       int               `yaml:"batch_cpus"`
	BatchLogDir     string            `yaml:"batch_log_dir"`
	StateFile       string            `yaml:"state_file"`
	SessionsFile    string            `yaml:"sessions_file"`
	LogFile         string            `yaml:"log_file"`
	Procedures      []model.Procedure `yaml:"procedures"`
}

// DefaultProcedures mirrors the built-in three-stage pipeline used when a
// configuration document omits the procedures key.
func DefaultProcedures() []model.Procedure {
	return []model.Procedure{
		{
			Name:      "bids",
			OutputDir: "",
			Script:    "snbb_run_bids.sh",
			Scope:     model.ScopeSession,
			DependsOn: nil,
			CompletionMarker: []string{
				"anat/*_T1w.nii.gz",
				"dwi/*_dir-AP_dwi.nii.gz",
				"dwi/*_dir-AP_dwi.bvec",
				"dwi/*_dir-AP_dwi.bval",
				"fmap/*_acq-dwi_dir-AP_epi.nii.gz",
				"fmap/*_acq-dwi_dir-PA_epi.nii.gz",
				"fmap/*_acq-func_dir-AP_epi.nii.gz",
				"func/*_task-rest_bold.nii.gz",
			},
		},
		{
			Name:             "qsiprep",
			OutputDir:        "qsiprep",
			Script:           "snbb_run_qsiprep.sh",
			Scope:            model.ScopeSubject,
			DependsOn:        []string{"bids"},
			CompletionMarker: nil,
		},
		{
			Name:             "freesurfer",
			OutputDir:        "freesurfer",
			Script:           "snbb_run_freesurfer.sh",
			Scope:            model.ScopeSubject,
			DependsOn:        []string{"bids"},
			CompletionMarker: "scripts/recon-all.done",
		},
	}
}

// Default returns a Config with the built-in procedure list and the Slurm
// defaults the original implementation used (partition "debug", account
// "snbb").
func Default() Config {
	return Config{
		BatchPartition: "debug",
		BatchAccount:   "snbb",
		Procedures:     DefaultProcedures(),
	}
}

// Load reads and validates a YAML configuration document at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the dependency-closure invariant: every name listed in a
// procedure's DependsOn must refer to another configured procedure, and the
// dependency graph must be acyclic.
func (c Config) Validate() error {
	byName := make(map[string]model.Procedure, len(c.Procedures))
	for _, p := range c.Procedures {
		byName[p.Name] = p
	}
	for _, p := range c.Procedures {
		for _, dep := range p.DependsOn {
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("procedure %q depends on unknown procedure %q", p.Name, dep)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(c.Procedures))
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle detected at procedure %q", name)
		}
		state[name] = visiting
		for _, dep := range byName[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}
	for _, p := range c.Procedures {
		if err := visit(p.Name); err != nil {
			return err
		}
	}
	return nil
}

// GetProcedure returns the named procedure, or an error if no procedure by
// that name is configured.
func (c Config) GetProcedure(name string) (model.Procedure, error) {
	for _, p := range c.Procedures {
		if p.Name == name {
			return p, nil
		}
	}
	return model.Procedure{}, fmt.Errorf("unknown procedure %q", name)
}

// ProcedureRoot returns the filesystem root under which a procedure's
// per-subject or per-session output directories live: the BIDS root when the
// procedure declares no output_dir of its own, otherwise that output_dir
// resolved under DerivativesRoot.
func (c Config) ProcedureRoot(p model.Procedure) string {
	if p.OutputDir == "" {
		return c.BidsRoot
	}
	return filepath.Join(c.DerivativesRoot, p.OutputDir)
}

// AuditLogPath returns the configured audit log path, defaulting to
// scheduler_audit.jsonl next to the state file.
func (c Config) AuditLogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(filepath.Dir(c.StateFile), "scheduler_audit.jsonl")
}
