// Package reset removes the sync watermark.
package reset

import (
	"fjacquet/bank-sync/cmd/root"
	"fjacquet/bank-sync/internal/state"

	"github.com/spf13/cobra"
)

// Cmd represents the reset command
var Cmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the sync watermark",
	Long: `Delete the persisted last-synced watermark so the next sync performs a
full lookback fetch. The ledger itself is not touched; re-covered
transactions diff to no-ops.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker := state.NewTracker(root.Cfg.Sync.StateFile)
		if err := tracker.Reset(); err != nil {
			return err
		}
		root.Log.Infof("Removed watermark at %s", root.Cfg.Sync.StateFile)
		return nil
	},
}
