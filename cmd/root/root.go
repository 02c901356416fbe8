// Package root contains the root command for the application
package root

import (
	"fjacquet/bank-sync/internal/config"
	"fjacquet/bank-sync/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Log is the shared logger instance for commands
	Log = logrus.New()

	// Logger is the structured logger handed to the sync internals, built
	// from the resolved configuration.
	Logger logging.Logger = logging.NopLogger{}

	// Cfg is the resolved application configuration, populated before any
	// subcommand runs.
	Cfg *config.Config

	// Cmd is the root command
	Cmd = &cobra.Command{
		Use:   "bank-sync",
		Short: "Sync settled bank transactions into a Google Sheets ledger.",
		Long: `bank-sync incrementally mirrors settled Akahu transactions into an
append-only ledger tab, categorises them with spreadsheet-editable rules, and
checks the ledger balance against the balance the bank reports.`,
		Run: func(cmd *cobra.Command, args []string) {
			Log.Info("Welcome to bank-sync!")
			Log.Info("Use --help to see available commands")
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnv()
			Log = config.ConfigureLogging()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			Cfg = cfg
			Logger = logging.New(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}
)
