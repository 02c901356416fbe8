package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"fjacquet/bank-sync/internal/categorizer"
	"fjacquet/bank-sync/internal/differ"
	"fjacquet/bank-sync/internal/ignore"
	"fjacquet/bank-sync/internal/models"
	"fjacquet/bank-sync/internal/syncerror"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fakeSource struct {
	transactions []models.Transaction
	err          error
	gotStart     time.Time
	gotEnd       time.Time
}

func (f *fakeSource) FetchSettled(_ context.Context, start, end time.Time) ([]models.Transaction, error) {
	f.gotStart, f.gotEnd = start, end
	if f.err != nil {
		return nil, f.err
	}
	return f.transactions, nil
}

type fakeStore struct {
	ledger   []models.LedgerRow
	specs    []categorizer.RuleSpec
	applied  []differ.Plan
	applyErr error
}

func (f *fakeStore) ReadLedger(context.Context) ([]models.LedgerRow, error) {
	return f.ledger, nil
}

func (f *fakeStore) ReadCategoryRules(context.Context) ([]categorizer.RuleSpec, error) {
	return f.specs, nil
}

func (f *fakeStore) Apply(_ context.Context, plan differ.Plan) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, plan)
	return nil
}

type fakeTracker struct {
	last      *time.Time
	committed []time.Time
}

func (f *fakeTracker) Window(lookbackDays int, end time.Time) (time.Time, time.Time) {
	if f.last != nil {
		return f.last.Add(-time.Millisecond), end
	}
	return end.AddDate(0, 0, -lookbackDays), end
}

func (f *fakeTracker) Commit(watermark time.Time) error {
	f.committed = append(f.committed, watermark)
	f.last = &watermark
	return nil
}

func settledTx(id, account, description, amount string, occurred time.Time) models.Transaction {
	tx := models.Transaction{
		ID:             id,
		Account:        account,
		OccurredAt:     occurred,
		Amount:         decimal.RequireFromString(amount),
		DescriptionRaw: description,
		Source:         "akahu_bnz",
	}
	tx.Balance = decimal.RequireFromString("100.00")
	tx.HasBalance = true
	return tx
}

func newPipeline(source *fakeSource, store *fakeStore, tracker *fakeTracker, ignores []ignore.Rule, cfg Config) *Pipeline {
	return New(source, store, tracker, ignores, cfg, nil)
}

func TestRun_HappyPathCommitsWatermark(t *testing.T) {
	occurred := fixedNow.AddDate(0, 0, -1)
	source := &fakeSource{transactions: []models.Transaction{
		settledTx("a", "Everyday", "coffee", "-4.50", occurred),
	}}
	store := &fakeStore{specs: []categorizer.RuleSpec{
		{Pattern: "coffee", Field: models.FieldDescriptionRaw, Category: "Cafes", Priority: "1"},
	}}
	tracker := &fakeTracker{}

	summary, err := newPipeline(source, store, tracker, nil, Config{LookbackDays: 7, PerformReconciliation: true}).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, summary.FinalState)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Inserted)
	require.Len(t, store.applied, 1)
	require.Len(t, store.applied[0].Inserts, 1)
	assert.Equal(t, "Cafes", store.applied[0].Inserts[0].Category)
	require.Len(t, tracker.committed, 1)
	assert.True(t, tracker.committed[0].Equal(fixedNow))
}

func TestRun_WindowResolution(t *testing.T) {
	source := &fakeSource{}
	tracker := &fakeTracker{}

	_, err := newPipeline(source, &fakeStore{}, tracker, nil, Config{LookbackDays: 14}).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err)
	assert.True(t, source.gotStart.Equal(fixedNow.AddDate(0, 0, -14)),
		"first run starts lookback_days before now")
	assert.True(t, source.gotEnd.Equal(fixedNow))

	watermark := fixedNow.AddDate(0, 0, -2)
	tracker.last = &watermark
	_, err = newPipeline(source, &fakeStore{}, tracker, nil, Config{LookbackDays: 14}).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err)
	assert.True(t, source.gotStart.Equal(watermark.Add(-time.Millisecond)),
		"subsequent runs start 1ms before the watermark")
}

func TestRun_FullRescanIgnoresWatermark(t *testing.T) {
	source := &fakeSource{}
	watermark := fixedNow.AddDate(0, 0, -1)
	tracker := &fakeTracker{last: &watermark}

	_, err := newPipeline(source, &fakeStore{}, tracker, nil, Config{LookbackDays: 14}).
		Run(context.Background(), Options{Now: clock, FullRescan: true})
	require.NoError(t, err)
	assert.True(t, source.gotStart.Equal(fixedNow.AddDate(0, 0, -14)))
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	occurred := fixedNow.AddDate(0, 0, -1)
	source := &fakeSource{transactions: []models.Transaction{
		settledTx("a", "Everyday", "coffee", "-4.50", occurred),
	}}
	store := &fakeStore{}
	tracker := &fakeTracker{}

	summary, err := newPipeline(source, store, tracker, nil, Config{LookbackDays: 7}).
		Run(context.Background(), Options{Now: clock, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, StateDiffed, summary.FinalState)
	assert.Equal(t, 1, summary.Inserted, "dry run still reports would-be counts")
	assert.Empty(t, store.applied)
	assert.Empty(t, tracker.committed, "a dry run must never advance the watermark")
}

func TestRun_FetchErrorLeavesWatermark(t *testing.T) {
	source := &fakeSource{err: &syncerror.FetchError{Source: "akahu", Err: errors.New("rate limited")}}
	store := &fakeStore{}
	tracker := &fakeTracker{}

	summary, err := newPipeline(source, store, tracker, nil, Config{LookbackDays: 7}).
		Run(context.Background(), Options{Now: clock})

	require.Error(t, err)
	var fetchErr *syncerror.FetchError
	assert.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, StateFailed, summary.FinalState)
	assert.Empty(t, store.applied)
	assert.Empty(t, tracker.committed)
}

func TestRun_ApplyErrorLeavesWatermark(t *testing.T) {
	occurred := fixedNow.AddDate(0, 0, -1)
	source := &fakeSource{transactions: []models.Transaction{
		settledTx("a", "Everyday", "coffee", "-4.50", occurred),
	}}
	store := &fakeStore{applyErr: &syncerror.ApplyError{Stage: "insert", Err: errors.New("quota")}}
	tracker := &fakeTracker{}

	summary, err := newPipeline(source, store, tracker, nil, Config{LookbackDays: 7}).
		Run(context.Background(), Options{Now: clock})

	require.Error(t, err)
	assert.Equal(t, StateFailed, summary.FinalState)
	assert.Empty(t, tracker.committed,
		"a failed apply must leave the watermark so the next run re-covers the window")
}

func TestRun_IgnoredTransactionsNeverReachTheLedger(t *testing.T) {
	occurred := fixedNow.AddDate(0, 0, -1)
	source := &fakeSource{transactions: []models.Transaction{
		settledTx("noise", "Everyday", "round up transfer", "-0.40", occurred),
		settledTx("real", "Everyday", "groceries", "-50.00", occurred),
	}}
	store := &fakeStore{}
	tracker := &fakeTracker{}

	rule := ignore.Rule{Pattern: "round ?up"}
	require.NoError(t, rule.Compile())

	summary, err := newPipeline(source, store, tracker, []ignore.Rule{rule}, Config{LookbackDays: 7}).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Ignored)
	require.Len(t, store.applied, 1)
	require.Len(t, store.applied[0].Inserts, 1)
	assert.Equal(t, "real", store.applied[0].Inserts[0].ID)
}

func TestRun_AccountScopeFiltersFetch(t *testing.T) {
	occurred := fixedNow.AddDate(0, 0, -1)
	source := &fakeSource{transactions: []models.Transaction{
		settledTx("in", "Everyday", "groceries", "-50.00", occurred),
		settledTx("out", "Business", "supplies", "-20.00", occurred),
	}}
	store := &fakeStore{}

	summary, err := newPipeline(source, store, &fakeTracker{}, nil,
		Config{LookbackDays: 7, AccountScope: []string{"Everyday"}}).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.OutOfScope)
	require.Len(t, store.applied, 1)
	require.Len(t, store.applied[0].Inserts, 1)
	assert.Equal(t, "in", store.applied[0].Inserts[0].ID)
}

func TestRun_EmptyFetchDeletesNothing(t *testing.T) {
	occurred := fixedNow.AddDate(0, 0, -1)
	store := &fakeStore{ledger: []models.LedgerRow{{
		Transaction: models.Transaction{ID: "keep", Account: "Everyday", OccurredAt: occurred},
		RowIndex:    2,
	}}}

	summary, err := newPipeline(&fakeSource{}, store, &fakeTracker{}, nil, Config{LookbackDays: 7}).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Deleted,
		"an empty upstream response must not erase the window's history")
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	occurred := fixedNow.AddDate(0, 0, -1)
	source := &fakeSource{transactions: []models.Transaction{
		settledTx("a", "Everyday", "coffee", "-4.50", occurred),
	}}
	store := &fakeStore{}
	tracker := &fakeTracker{}
	cfg := Config{LookbackDays: 7}

	first, err := newPipeline(source, store, tracker, nil, cfg).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err)
	require.Equal(t, 1, first.Inserted)

	// The applied rows now form the existing ledger.
	store.ledger = store.applied[0].Inserts
	second, err := newPipeline(source, store, tracker, nil, cfg).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err)

	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Deleted)
}

func TestRun_ReconciliationDriftIsAWarningNotAnError(t *testing.T) {
	occurred := fixedNow.AddDate(0, 0, -1)
	tx := settledTx("a", "Everyday", "coffee", "-4.50", occurred)
	tx.Balance = decimal.RequireFromString("100.00")
	source := &fakeSource{transactions: []models.Transaction{tx}}

	// An existing row dated after the window end survives scoped deletion and
	// stays the newest ledger entry; its balance disagrees with the bank's by
	// more than the threshold.
	stale := models.LedgerRow{Transaction: models.Transaction{
		ID:         "z",
		Account:    "Everyday",
		OccurredAt: fixedNow.Add(time.Hour),
		Balance:    decimal.RequireFromString("99.89"),
		HasBalance: true,
	}, RowIndex: 2}
	store := &fakeStore{ledger: []models.LedgerRow{stale}}
	tracker := &fakeTracker{}

	summary, err := newPipeline(source, store, tracker, nil,
		Config{LookbackDays: 7, PerformReconciliation: true}).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err, "drift never blocks the sync")

	assert.Equal(t, StateCommitted, summary.FinalState)
	require.Len(t, summary.Reconciled, 1)
	assert.False(t, summary.Reconciled[0].OK)
	assert.Len(t, tracker.committed, 1, "drift does not prevent the watermark commit")
}

func TestRun_ReconciliationSumsAccountsWithoutReportedBalance(t *testing.T) {
	occurred := fixedNow.AddDate(0, 0, -1)
	withBalance := settledTx("a", "Everyday", "coffee", "-4.50", occurred)
	noBalance := settledTx("b", "Business", "supplies", "-20.00", occurred)
	noBalance.Balance = decimal.Zero
	noBalance.HasBalance = false
	alsoNoBalance := settledTx("c", "Savings", "interest", "1.25", occurred)
	alsoNoBalance.Balance = decimal.Zero
	alsoNoBalance.HasBalance = false
	source := &fakeSource{transactions: []models.Transaction{withBalance, noBalance, alsoNoBalance}}
	store := &fakeStore{}
	tracker := &fakeTracker{}

	summary, err := newPipeline(source, store, tracker, nil,
		Config{LookbackDays: 7, PerformReconciliation: true}).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err)

	require.Len(t, summary.Reconciled, 3,
		"accounts without a reported balance still appear in the summary")
	var accounts []string
	for _, result := range summary.Reconciled {
		accounts = append(accounts, result.Account)
	}
	assert.Equal(t, []string{"Business", "Everyday", "Savings"}, accounts,
		"accounts are reported in sorted order")

	business := summary.Reconciled[0]
	assert.False(t, business.Checked)
	assert.True(t, business.OK)
	assert.True(t, business.LedgerBalance.Equal(decimal.RequireFromString("-20.00")),
		"with no bank balance the ledger amounts are summed instead")
	assert.True(t, summary.Reconciled[1].Checked)
}

func TestRun_SkipsMalformedCategoryRules(t *testing.T) {
	occurred := fixedNow.AddDate(0, 0, -1)
	source := &fakeSource{transactions: []models.Transaction{
		settledTx("a", "Everyday", "coffee", "-4.50", occurred),
	}}
	store := &fakeStore{specs: []categorizer.RuleSpec{
		{Pattern: "([broken", Category: "Broken", Priority: "1"},
		{Pattern: "coffee", Field: models.FieldDescriptionRaw, Category: "Cafes", Priority: "2"},
	}}

	summary, err := newPipeline(source, store, &fakeTracker{}, nil, Config{LookbackDays: 7}).
		Run(context.Background(), Options{Now: clock})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SkippedRules)
	require.Len(t, store.applied, 1)
	assert.Equal(t, "Cafes", store.applied[0].Inserts[0].Category)
}
