// Package export writes the ledger out as a local CSV file.
package export

import (
	"fmt"
	"os"
	"time"

	"fjacquet/bank-sync/cmd/root"
	"fjacquet/bank-sync/internal/models"
	"fjacquet/bank-sync/internal/sheets"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
)

var output string

// Cmd represents the export command
var Cmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ledger to a CSV file",
	RunE:  runExport,
}

func init() {
	Cmd.Flags().StringVarP(&output, "output", "o", "ledger.csv", "Output CSV file")
}

// exportRecord is the flat CSV projection of a ledger row.
type exportRecord struct {
	ID                 string `csv:"id"`
	Date               string `csv:"date"`
	Account            string `csv:"account"`
	Amount             string `csv:"amount"`
	Balance            string `csv:"balance"`
	DescriptionRaw     string `csv:"description_raw"`
	MerchantNormalised string `csv:"merchant_normalised"`
	Category           string `csv:"category"`
	IsTransfer         bool   `csv:"is_transfer"`
	Source             string `csv:"source"`
	ImportedAt         string `csv:"imported_at"`
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := root.Cfg
	ctx := cmd.Context()

	store, err := sheets.NewClient(ctx, cfg.Sheets.SpreadsheetID, cfg.Sheets.TransactionsTab, cfg.Sheets.CategoryMapTab, root.Logger)
	if err != nil {
		return err
	}

	rows, err := store.ReadLedger(ctx)
	if err != nil {
		return err
	}

	records := make([]*exportRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	defer func() {
		_ = file.Close()
	}()

	if err := gocsv.MarshalFile(&records, file); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	root.Log.Infof("Exported %d ledger rows to %s", len(records), output)
	return nil
}

func recordFromRow(row models.LedgerRow) *exportRecord {
	balance := ""
	if row.HasBalance {
		balance = row.Balance.StringFixed(2)
	}
	return &exportRecord{
		ID:                 row.ID,
		Date:               row.OccurredAt.UTC().Format(time.RFC3339),
		Account:            row.Account,
		Amount:             row.Amount.StringFixed(2),
		Balance:            balance,
		DescriptionRaw:     row.DescriptionRaw,
		MerchantNormalised: row.MerchantNormalised,
		Category:           row.Category,
		IsTransfer:         row.IsTransfer,
		Source:             row.Source,
		ImportedAt:         row.ImportedAt.UTC().Format(time.RFC3339),
	}
}
