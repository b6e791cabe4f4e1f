package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snbb/scheduler/internal/lock"
	"github.com/snbb/scheduler/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	var opts scheduler.Options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one discover-rules-submit pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			fl, err := lock.Acquire(cfg.StateFile + ".lock")
			if err != nil {
				return err
			}
			defer fl.Release()

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			p := newPass(st)
			summary, err := p.Run(cmdContext(), opts)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			fmt.Printf("discovered %d sessions, %d state transitions, %d submitted, %d failed\n",
				summary.Discovered, summary.Transitions, summary.Submitted, summary.Failed)
			for _, e := range summary.SubmitErrs {
				fmt.Printf("  submit error: %v\n", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print and audit what would be submitted, without submitting")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Resubmit procedures even if their output already looks complete")
	cmd.Flags().StringSliceVar(&opts.Procedures, "procedure", nil, "Restrict --force to these procedures (repeatable)")
	cmd.Flags().BoolVar(&opts.SkipMonitor, "skip-monitor", false, "Skip polling the batch manager; reconcile against the filesystem only")

	return cmd
}
