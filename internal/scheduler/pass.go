// Package scheduler sequences the other packages into one discrete pass:
// Discover, Monitor, Reconcile, Build Manifest, Filter In-flight, Submit,
// Persist.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/snbb/scheduler/internal/audit"
	"github.com/snbb/scheduler/internal/batch"
	"github.com/snbb/scheduler/internal/config"
	"github.com/snbb/scheduler/internal/discover"
	"github.com/snbb/scheduler/internal/manifest"
	"github.com/snbb/scheduler/internal/monitor"
	"github.com/snbb/scheduler/internal/oracle"
	"github.com/snbb/scheduler/internal/rules"
	"github.com/snbb/scheduler/internal/store"
	"github.com/snbb/scheduler/internal/submit"
	"github.com/snbb/scheduler/pkg/model"
)

// Options controls one Pass invocation, mirroring the run command's flags.
type Options struct {
	DryRun      bool
	Force       bool
	Procedures  []string
	SkipMonitor bool
}

// Summary reports what a pass did, for the CLI to print.
type Summary struct {
	Discovered  int
	Transitions int
	Submitted   int
	Failed      int
	SubmitErrs  []error
}

// Pass holds the wiring every phase of a run needs.
type Pass struct {
	cfg     config.Config
	fs      afero.Fs
	store   store.Store
	manager batch.Manager
	audit   *audit.Logger
	logger  *slog.Logger
}

// New returns a Pass ready to Run.
func New(cfg config.Config, fs afero.Fs, st store.Store, manager batch.Manager, auditLogger *audit.Logger, logger *slog.Logger) *Pass {
	return &Pass{cfg: cfg, fs: fs, store: st, manager: manager, audit: auditLogger, logger: logger}
}

// Run executes Discover -> Monitor -> Reconcile -> Build Manifest ->
// Filter In-flight -> Submit -> Persist, in that order, matching the
// transaction ordering a single scheduler invocation commits to.
func (p *Pass) Run(ctx context.Context, opts Options) (Summary, error) {
	var summary Summary

	o := oracle.New(p.fs)

	d := discover.New(p.fs)
	sessions, err := d.Discover(p.cfg)
	if err != nil {
		return summary, fmt.Errorf("discover: %w", err)
	}
	summary.Discovered = len(sessions)
	p.logger.Info("discovered sessions", "count", len(sessions))

	mon := monitor.New(p.cfg, p.manager, p.store, o, p.audit)
	if !opts.SkipMonitor {
		n, err := mon.Poll(ctx)
		if err != nil {
			p.logger.Warn("batch manager poll failed, leaving state unchanged", "error", err)
		} else {
			summary.Transitions += n
		}
	}

	n, err := mon.Reconcile(ctx)
	if err != nil {
		return summary, fmt.Errorf("reconcile: %w", err)
	}
	summary.Transitions += n

	ruleOpts := rules.Options{Force: opts.Force, ForceProcedures: opts.Procedures}
	builder := rules.New(p.cfg, o)
	ruleSet := builder.BuildAll(ruleOpts)
	tasks := manifest.Build(sessions, p.cfg, ruleSet, ruleOpts)

	inFlight, err := p.store.ListInFlight(ctx)
	if err != nil {
		return summary, fmt.Errorf("listing in-flight rows: %w", err)
	}
	tasks = manifest.FilterInFlight(tasks, inFlight)

	if len(tasks) == 0 {
		p.logger.Info("nothing to submit")
		return summary, nil
	}

	submitter := submit.New(p.cfg, p.manager, p.store, p.audit)
	results, err := submitter.SubmitAll(ctx, tasks, submit.Options{DryRun: opts.DryRun})
	if err != nil {
		return summary, fmt.Errorf("submit: %w", err)
	}
	for _, res := range results {
		if res.Err != nil {
			summary.Failed++
			summary.SubmitErrs = append(summary.SubmitErrs, res.Err)
			continue
		}
		summary.Submitted++
	}

	return summary, nil
}

// Manifest is a thin wrapper exposing manifest construction without
// submitting, used by the "manifest" CLI command. Tasks that already have a
// pending or running state row are filtered out, as in Run.
func (p *Pass) Manifest(opts Options) ([]model.Task, error) {
	o := oracle.New(p.fs)
	d := discover.New(p.fs)
	sessions, err := d.Discover(p.cfg)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	builder := rules.New(p.cfg, o)
	ruleOpts := rules.Options{Force: opts.Force, ForceProcedures: opts.Procedures}
	ruleSet := builder.BuildAll(ruleOpts)
	tasks := manifest.Build(sessions, p.cfg, ruleSet, ruleOpts)

	inFlight, err := p.store.ListInFlight(context.Background())
	if err != nil {
		return nil, fmt.Errorf("listing in-flight rows: %w", err)
	}
	return manifest.FilterInFlight(tasks, inFlight), nil
}
