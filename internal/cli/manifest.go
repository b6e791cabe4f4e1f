package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snbb/scheduler/internal/scheduler"
)

func newManifestCmd() *cobra.Command {
	var opts scheduler.Options

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the task manifest the next run would submit, without submitting",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			p := newPass(st)
			tasks, err := p.Manifest(opts)
			if err != nil {
				return fmt.Errorf("manifest: %w", err)
			}

			if len(tasks) == 0 {
				fmt.Println("no tasks pending")
				return nil
			}

			fmt.Printf("%-4s  %-10s  %-20s  %-12s\n", "PRI", "SUBJECT", "SESSION", "PROCEDURE")
			for _, t := range tasks {
				fmt.Printf("%-4d  %-10s  %-20s  %-12s\n", t.Priority, t.Subject, t.Session, t.Procedure)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "Include procedures that already look complete")
	cmd.Flags().StringSliceVar(&opts.Procedures, "procedure", nil, "Restrict --force to these procedures (repeatable)")

	return cmd
}
