package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerHeaders is the column layout of the Transactions tab, in order.
// User-authored summary tabs reference these columns by position, so the
// order is part of the storage contract.
var LedgerHeaders = []string{
	"id",
	"date",
	"account",
	"amount",
	"balance",
	"description_raw",
	"merchant_normalised",
	"category",
	"is_transfer",
	"source",
	"imported_at",
}

// LedgerRow is the persisted form of a categorised transaction, keyed by the
// source-assigned transaction ID. RowIndex is the 1-based spreadsheet row the
// value was read from; zero means the row has not been persisted yet.
type LedgerRow struct {
	Transaction

	Category   string
	IsTransfer bool
	ImportedAt time.Time
	RowIndex   int
}

// Values renders the row as the spreadsheet cell values, one per
// LedgerHeaders column. Amounts are fixed to two decimal places; a missing
// balance renders as an empty cell.
func (r LedgerRow) Values() []string {
	balance := ""
	if r.HasBalance {
		balance = r.Balance.StringFixed(2)
	}
	return []string{
		r.ID,
		r.OccurredAt.UTC().Format(time.RFC3339),
		r.Account,
		r.Amount.StringFixed(2),
		balance,
		r.DescriptionRaw,
		r.MerchantNormalised,
		r.Category,
		strings.ToUpper(strconv.FormatBool(r.IsTransfer)),
		r.Source,
		r.ImportedAt.UTC().Format(time.RFC3339),
	}
}

// LedgerRowFromValues decodes one spreadsheet row back into a LedgerRow.
// Short rows are padded with empty cells; rows may predate the current
// header set. rowIndex is the 1-based sheet row the values came from.
func LedgerRowFromValues(values []string, rowIndex int) (LedgerRow, error) {
	cells := make([]string, len(LedgerHeaders))
	copy(cells, values)

	row := LedgerRow{RowIndex: rowIndex}
	row.ID = cells[0]
	if row.ID == "" {
		return LedgerRow{}, fmt.Errorf("ledger row %d: missing transaction id", rowIndex)
	}

	occurred, err := parseRowTime(cells[1])
	if err != nil {
		return LedgerRow{}, fmt.Errorf("ledger row %d: %w", rowIndex, err)
	}
	row.OccurredAt = occurred
	row.Account = cells[2]

	if cells[3] != "" {
		amount, err := decimal.NewFromString(cells[3])
		if err != nil {
			return LedgerRow{}, fmt.Errorf("ledger row %d: bad amount %q: %w", rowIndex, cells[3], err)
		}
		row.Amount = amount
	}
	if cells[4] != "" {
		balance, err := decimal.NewFromString(cells[4])
		if err != nil {
			return LedgerRow{}, fmt.Errorf("ledger row %d: bad balance %q: %w", rowIndex, cells[4], err)
		}
		row.Balance = balance
		row.HasBalance = true
	}

	row.DescriptionRaw = cells[5]
	row.MerchantNormalised = cells[6]
	row.Category = cells[7]
	row.IsTransfer = strings.EqualFold(cells[8], "true")
	row.Source = cells[9]
	if cells[10] != "" {
		if imported, err := parseRowTime(cells[10]); err == nil {
			row.ImportedAt = imported
		}
	}
	return row, nil
}

// Equivalent reports whether two rows agree on every comparable field. The
// differ uses this to decide between a no-op and an update; RowIndex and
// ImportedAt are bookkeeping, not content.
func (r LedgerRow) Equivalent(other LedgerRow) bool {
	return r.Amount.Equal(other.Amount) &&
		r.HasBalance == other.HasBalance &&
		(!r.HasBalance || r.Balance.Equal(other.Balance)) &&
		r.DescriptionRaw == other.DescriptionRaw &&
		r.MerchantNormalised == other.MerchantNormalised &&
		r.Category == other.Category &&
		r.IsTransfer == other.IsTransfer &&
		r.OccurredAt.Equal(other.OccurredAt)
}

func parseRowTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
