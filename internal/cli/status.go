package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/snbb/scheduler/internal/submit"
	"github.com/snbb/scheduler/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recorded state rows, summarized by procedure and status",
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

			printSummary(rows)
			fmt.Println()
			printDetails(rows)
			return nil
		},
	}
}

func printSummary(rows []model.StateRow) {
	type key struct{ procedure, status string }
	counts := make(map[key]int)
	var order []key
	for _, r := range rows {
		k := key{r.Procedure, string(r.Status)}
		if _, ok := counts[k]; !ok {
			order = append(order, k)
		}
		counts[k]++
	}

	fmt.Println("Summary:")
	fmt.Printf("%-12s  %-10s  %s\n", "PROCEDURE", "STATUS", "COUNT")
	for _, k := range order {
		fmt.Printf("%-12s  %-10s  %d\n", k.procedure, k.status, counts[k])
	}
}

func printDetails(rows []model.StateRow) {
	showLogPath := cfg.BatchLogDir != ""

	header := "%-10s  %-20s  %-12s  %-10s  %-25s  %-10s"
	if showLogPath {
		header += "  %s"
	}
	fmt.Println("Details:")

	if showLogPath {
		fmt.Printf(header+"\n", "SUBJECT", "SESSION", "PROCEDURE", "STATUS", "SUBMITTED_AT", "JOB_ID", "LOG_PATH")
	} else {
		fmt.Printf(header+"\n", "SUBJECT", "SESSION", "PROCEDURE", "STATUS", "SUBMITTED_AT", "JOB_ID")
	}

	for _, r := range rows {
		if showLogPath {
			fmt.Printf(header+"\n", r.Subject, r.Session, r.Procedure, string(r.Status),
				r.SubmittedAt.Format("2006-01-02T15:04:05Z"), r.JobID, logPath(r))
		} else {
			fmt.Printf(header+"\n", r.Subject, r.Session, r.Procedure, string(r.Status),
				r.SubmittedAt.Format("2006-01-02T15:04:05Z"), r.JobID)
		}
	}
}

// logPath reconstructs the expected stdout log path for a state row, for
// display only — it does not change what was actually passed to sbatch.
func logPath(row model.StateRow) string {
	proc, err := cfg.GetProcedure(row.Procedure)
	var jobName string
	if err != nil {
		jobName = fmt.Sprintf("%s_%s", row.Procedure, row.Subject)
	} else {
		jobName = submit.JobName(proc, modelTaskFromRow(row))
	}
	logSubdir := filepath.Join(cfg.BatchLogDir, row.Procedure)
	return filepath.Join(logSubdir, fmt.Sprintf("%s_%s.out", jobName, row.JobID))
}

func modelTaskFromRow(row model.StateRow) model.Task {
	return model.Task{Subject: row.Subject, Session: row.Session, Procedure: row.Procedure}
}
