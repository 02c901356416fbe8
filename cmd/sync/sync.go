// Package sync wires one sync run: Akahu source, Sheets ledger, watermark
// tracker and the pipeline.
package sync

import (
	"fmt"

	"fjacquet/bank-sync/cmd/root"
	"fjacquet/bank-sync/internal/akahu"
	"fjacquet/bank-sync/internal/ignore"
	"fjacquet/bank-sync/internal/pipeline"
	"fjacquet/bank-sync/internal/sheets"
	"fjacquet/bank-sync/internal/state"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	dryRun     bool
	fullRescan bool
)

// Cmd represents the sync command
var Cmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch new settled transactions and update the ledger",
	Long: `Fetch settled transactions since the last sync, filter and categorise
them, diff them against the ledger, apply the changes, reconcile balances and
advance the watermark. With --dry-run the would-be operation counts are
reported and nothing is written.`,
	RunE: runSync,
}

func init() {
	Cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute the diff but write nothing")
	Cmd.Flags().BoolVar(&fullRescan, "full-rescan", false, "Ignore the watermark and re-cover the full lookback window")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := root.Cfg
	log := root.Logger
	ctx := cmd.Context()

	if cfg.Akahu.UserToken == "" || cfg.Akahu.AppToken == "" {
		return fmt.Errorf("AKAHU_USER_TOKEN and AKAHU_APP_TOKEN must be set")
	}

	threshold, err := decimal.NewFromString(cfg.Sync.DriftThreshold)
	if err != nil {
		return fmt.Errorf("invalid drift threshold %q: %w", cfg.Sync.DriftThreshold, err)
	}

	store, err := sheets.NewClient(ctx, cfg.Sheets.SpreadsheetID, cfg.Sheets.TransactionsTab, cfg.Sheets.CategoryMapTab, log)
	if err != nil {
		return err
	}

	source := akahu.NewClient(cfg.Akahu.UserToken, cfg.Akahu.AppToken, log,
		akahu.WithBaseURL(cfg.Akahu.BaseURL),
		akahu.WithPageSize(cfg.Akahu.PageSize),
	)

	ignores, skipped, err := ignore.LoadRules(cfg.Sync.IgnoreRulesFile)
	if err != nil {
		return err
	}
	for _, ruleErr := range skipped {
		log.WithError(ruleErr).Warn("Skipping malformed ignore rule")
	}

	tracker := state.NewTracker(cfg.Sync.StateFile)

	p := pipeline.New(source, store, tracker, ignores, pipeline.Config{
		LookbackDays:          cfg.Sync.LookbackDays,
		AccountScope:          cfg.Sync.AccountScope,
		PerformReconciliation: cfg.Sync.PerformReconciliation,
		DriftThreshold:        threshold,
	}, log)

	summary, err := p.Run(ctx, pipeline.Options{DryRun: dryRun, FullRescan: fullRescan})
	if err != nil {
		return err
	}

	root.Log.Infof("Run %s finished in state %s: %d fetched, %d ignored, %d inserted, %d updated, %d deleted",
		summary.RunID, summary.FinalState, summary.Fetched, summary.Ignored,
		summary.Inserted, summary.Updated, summary.Deleted)
	for _, result := range summary.Reconciled {
		switch {
		case !result.Checked:
			root.Log.Infof("No reported balance for %s, net ledger movement %s",
				result.Account, result.LedgerBalance.StringFixed(2))
		case result.OK:
			root.Log.Infof("Reconciled %s (ledger %s)", result.Account, result.LedgerBalance.StringFixed(2))
		default:
			root.Log.Warnf("Reconciliation drift for %s: reported %s vs ledger %s (drift %s)",
				result.Account, result.ReportedBalance.StringFixed(2),
				result.LedgerBalance.StringFixed(2), result.Drift.StringFixed(2))
		}
	}
	return nil
}
