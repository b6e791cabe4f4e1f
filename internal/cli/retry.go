package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snbb/scheduler/internal/audit"
	"github.com/snbb/scheduler/internal/manifest"
	"github.com/snbb/scheduler/pkg/model"
)

func newRetryCmd() *cobra.Command {
	var filter manifest.RetryFilter

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Clear failed state rows so the next run re-queues them",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			auditLogger := audit.New(cfg.AuditLogPath())

			deleted, err := st.DeleteMatching(cmdContext(), filter.Matches)
			if err != nil {
				return fmt.Errorf("clearing failed rows: %w", err)
			}

			for _, row := range deleted {
				_ = auditLogger.Log(model.EventRetryCleared, audit.Entry{
					Subject: row.Subject, Session: row.Session, Procedure: row.Procedure,
					JobID: row.JobID, OldStatus: string(row.Status),
				})
			}

			fmt.Printf("cleared %d failed state row(s)\n", len(deleted))
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Procedure, "procedure", "", "Only clear failed rows for this procedure")
	cmd.Flags().StringVar(&filter.Subject, "subject", "", "Only clear failed rows for this subject")

	return cmd
}
