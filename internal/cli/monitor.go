package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snbb/scheduler/internal/audit"
	"github.com/snbb/scheduler/internal/batch"
	"github.com/snbb/scheduler/internal/monitor"
	"github.com/snbb/scheduler/internal/oracle"
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Poll the batch manager for in-flight job status and reconcile against the filesystem",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rows, err := st.ListStateRows(cmdContext())
			if err != nil {
				return fmt.Errorf("listing state rows: %w", err)
			}
			if len(rows) == 0 {
				fmt.Println("no state recorded yet")
				return nil
			}

			auditLogger := audit.New(cfg.AuditLogPath())
			m := monitor.New(cfg, batch.NewSlurm(), st, oracle.New(realFs()), auditLogger)

			pollTransitions, err := m.Poll(cmdContext())
			if err != nil {
				logger.Warn("batch manager poll failed", "error", err)
			}
			reconcileTransitions, err := m.Reconcile(cmdContext())
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}

			fmt.Printf("%d status transitions from the batch manager, %d from filesystem reconciliation\n",
				pollTransitions, reconcileTransitions)
			return nil
		},
	}
}
