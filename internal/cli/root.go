// Package cli implements the operator command-line front end: run,
// manifest, status, monitor, and retry.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/snbb/scheduler/internal/audit"
	"github.com/snbb/scheduler/internal/batch"
	"github.com/snbb/scheduler/internal/config"
	"github.com/snbb/scheduler/internal/logging"
	"github.com/snbb/scheduler/internal/scheduler"
	"github.com/snbb/scheduler/internal/store"
)

var (
	flagConfigPath string
	flagLogLevel   string
	flagLogFormat  string

	logger *slog.Logger
	cfg    config.Config
)

// NewRootCmd creates the root cobra command for the scheduler CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "snbb-scheduler",
		Short: "snbb-scheduler — rule-based scheduler for the SNBB neuroimaging pipeline",
		Long:  "snbb-scheduler discovers acquisitions, evaluates completion rules, and submits batch jobs for a multi-stage neuroimaging pipeline.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			loaded, err := config.Load(flagConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg = loaded
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfigPath, "config", defaultConfigPath(), "Path to the YAML configuration document")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newManifestCmd(),
		newStatusCmd(),
		newMonitorCmd(),
		newRetryCmd(),
	)

	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("SNBB_SCHEDULER_CONFIG"); p != "" {
		return p
	}
	return "scheduler.yaml"
}

// openStore opens the SQLite-backed state store named by cfg.StateFile and
// runs its migrations.
func openStore() (store.Store, error) {
	st, err := store.NewSQLiteStore(cfg.StateFile, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	if err := st.Migrate(cmdContext()); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrating state store: %w", err)
	}
	return st, nil
}

func newPass(st store.Store) *scheduler.Pass {
	auditLogger := audit.New(cfg.AuditLogPath())
	return scheduler.New(cfg, realFs(), st, batch.NewSlurm(), auditLogger, logger)
}
