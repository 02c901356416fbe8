// Package differ reconciles an incoming transaction batch against the
// existing ledger snapshot, producing insert/update/delete operation sets.
// It never mutates ledger rows itself; the storage adapter applies the plan.
package differ

import (
	"time"

	"fjacquet/bank-sync/internal/models"
)

// Scope bounds which existing rows are delete candidates. Deletion is scoped
// to the accounts and date window the fetch actually covered, so history
// outside the synced window is never destroyed.
type Scope struct {
	Accounts []string
	Start    time.Time
	End      time.Time
}

// Contains reports whether a row falls inside the fetch scope. An empty
// account list means every account in the fetch was in scope.
func (s Scope) Contains(row models.LedgerRow) bool {
	if row.OccurredAt.Before(s.Start) || row.OccurredAt.After(s.End) {
		return false
	}
	if len(s.Accounts) == 0 {
		return true
	}
	for _, account := range s.Accounts {
		if account == row.Account {
			return true
		}
	}
	return false
}

// Plan is the operation set required to bring the ledger in line with an
// incoming batch.
type Plan struct {
	Inserts []models.LedgerRow
	Updates []models.LedgerRow
	Deletes []models.LedgerRow
}

// Empty reports whether applying the plan would be a no-op.
func (p Plan) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// Diff computes the operation set for an incoming batch against the existing
// ledger.
//
// Incoming rows with an unseen id become inserts; rows whose id exists but
// whose comparable fields differ become updates, carrying the stored row's
// sheet position. Existing rows inside the fetch scope whose id is absent
// from the batch become deletes: when the source reassigns an id after an
// upstream mutation, the old row is deleted and the new id arrives as an
// insert, never as an update linking the two.
//
// Output order is deterministic: inserts and updates follow the incoming
// batch order, deletes follow the existing ledger order.
func Diff(existing []models.LedgerRow, incoming []models.LedgerRow, scope Scope) Plan {
	existingByID := make(map[string]models.LedgerRow, len(existing))
	for _, row := range existing {
		if row.ID != "" {
			existingByID[row.ID] = row
		}
	}

	var plan Plan
	seen := make(map[string]struct{}, len(incoming))
	for _, row := range incoming {
		seen[row.ID] = struct{}{}
		stored, ok := existingByID[row.ID]
		if !ok {
			plan.Inserts = append(plan.Inserts, row)
			continue
		}
		if !row.Equivalent(stored) {
			row.RowIndex = stored.RowIndex
			plan.Updates = append(plan.Updates, row)
		}
	}

	for _, row := range existing {
		if row.ID == "" {
			continue
		}
		if _, ok := seen[row.ID]; ok {
			continue
		}
		if scope.Contains(row) {
			plan.Deletes = append(plan.Deletes, row)
		}
	}

	return plan
}
