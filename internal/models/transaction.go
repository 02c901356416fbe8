// Package models defines the transaction and ledger row types shared by the
// sync pipeline, together with the spreadsheet row codec.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Matchable field names used by category and ignore rules.
const (
	FieldMerchantNormalised = "merchant_normalised"
	FieldDescriptionRaw     = "description_raw"
)

// CategoryUncategorised is the sentinel category assigned when no rule matches.
const CategoryUncategorised = "Uncategorised"

// StatusSettled is the only transaction status the pipeline ever ingests.
// Pending transactions lack stable identifiers and must never enter the ledger.
const StatusSettled = "SETTLED"

// Transaction is a settled bank transaction as reported by the aggregator.
// Immutable once fetched; two transactions with the same ID are the same
// logical transaction even if other fields differ.
type Transaction struct {
	ID                 string          `json:"id"`
	OccurredAt         time.Time       `json:"occurred_at"`
	Account            string          `json:"account"`
	Amount             decimal.Decimal `json:"amount"`
	Balance            decimal.Decimal `json:"balance"`
	HasBalance         bool            `json:"has_balance"`
	DescriptionRaw     string          `json:"description_raw"`
	MerchantNormalised string          `json:"merchant_normalised"`
	Source             string          `json:"source"`
}

// FieldValue returns the transaction text addressed by a rule field name.
// Unknown or empty field names resolve to the raw description, which is the
// historic default for user-authored rules.
func (t Transaction) FieldValue(field string) string {
	if field == FieldMerchantNormalised {
		return t.MerchantNormalised
	}
	return t.DescriptionRaw
}
