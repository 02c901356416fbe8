// Package reconcile compares the ledger's balance for an account against the
// balance the bank itself reports, flagging drift.
package reconcile

import (
	"sort"

	"fjacquet/bank-sync/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultThreshold is the tolerated absolute drift in currency units.
// Covers rounding and same-day ordering differences at the source.
var DefaultThreshold = decimal.RequireFromString("0.10")

// Result is the outcome of reconciling one account. Drift is never an error:
// it is a warning-level signal and does not block or revert a sync. Checked
// is false when the batch carried no bank-reported balance and only the
// ledger's net movement could be reported.
type Result struct {
	Account         string
	ReportedBalance decimal.Decimal
	LedgerBalance   decimal.Decimal
	Drift           decimal.Decimal
	OK              bool
	Checked         bool
}

// Check compares the bank-reported balance against the balance carried by the
// account's most recent ledger row. Rows are sorted by occurrence time; the
// newest row with a balance wins. Drift within the threshold (inclusive) is
// OK.
//
// This is a point check against the bank's own running balance, not a
// recomputation from zero, so it detects missing or duplicated transactions
// without needing an opening balance.
func Check(account string, rows []models.LedgerRow, reported decimal.Decimal, threshold decimal.Decimal) Result {
	ledgerBalance := latestBalance(rows)
	drift := reported.Sub(ledgerBalance)
	return Result{
		Account:         account,
		ReportedBalance: reported,
		LedgerBalance:   ledgerBalance,
		Drift:           drift,
		OK:              drift.Abs().LessThanOrEqual(threshold),
		Checked:         true,
	}
}

// Sum is the fallback for accounts whose batch carried no bank-reported
// balance: it sums the account's ledger amounts into a net movement so the
// account still appears in the run summary. With nothing to compare against
// it never flags drift.
func Sum(account string, rows []models.LedgerRow) Result {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Amount)
	}
	return Result{
		Account:       account,
		LedgerBalance: total,
		OK:            true,
	}
}

// GroupByAccount buckets ledger rows per account, preserving row order.
func GroupByAccount(rows []models.LedgerRow) map[string][]models.LedgerRow {
	grouped := make(map[string][]models.LedgerRow)
	for _, row := range rows {
		account := row.Account
		if account == "" {
			account = "unknown"
		}
		grouped[account] = append(grouped[account], row)
	}
	return grouped
}

func latestBalance(rows []models.LedgerRow) decimal.Decimal {
	sorted := make([]models.LedgerRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].HasBalance {
			return sorted[i].Balance
		}
	}
	return decimal.Zero
}
