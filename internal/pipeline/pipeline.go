// Package pipeline sequences one sync run: resolve the fetch window, fetch,
// filter, categorise, diff, apply, reconcile, then advance the watermark.
// Runs are strictly sequential and single-threaded; overlap prevention is the
// scheduler's job.
package pipeline

import (
	"context"
	"sort"
	"time"

	"fjacquet/bank-sync/internal/categorizer"
	"fjacquet/bank-sync/internal/differ"
	"fjacquet/bank-sync/internal/ignore"
	"fjacquet/bank-sync/internal/logging"
	"fjacquet/bank-sync/internal/models"
	"fjacquet/bank-sync/internal/reconcile"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is a stage of the run's state machine. Transitions are strictly
// sequential; Failed is terminal and reachable from any stage. A dry run
// stops after Diffed.
type State string

const (
	StateIdle           State = "Idle"
	StateWindowResolved State = "WindowResolved"
	StateFetched        State = "Fetched"
	StateFiltered       State = "Filtered"
	StateCategorised    State = "Categorised"
	StateDiffed         State = "Diffed"
	StateApplied        State = "Applied"
	StateReconciled     State = "Reconciled"
	StateCommitted      State = "Committed"
	StateFailed         State = "Failed"
)

// TransactionSource fetches settled transactions for a window. The start
// bound is exclusive upstream; the window resolution already compensates.
type TransactionSource interface {
	FetchSettled(ctx context.Context, start, end time.Time) ([]models.Transaction, error)
}

// LedgerStore is the spreadsheet-backed ledger and rule source. Rules are
// loaded fresh each run; nothing is cached across runs.
type LedgerStore interface {
	ReadLedger(ctx context.Context) ([]models.LedgerRow, error)
	ReadCategoryRules(ctx context.Context) ([]categorizer.RuleSpec, error)
	Apply(ctx context.Context, plan differ.Plan) error
}

// WatermarkTracker owns the last-synced watermark.
type WatermarkTracker interface {
	Window(lookbackDays int, end time.Time) (time.Time, time.Time)
	Commit(newWatermark time.Time) error
}

// Config carries the per-run settings the orchestrator needs.
type Config struct {
	LookbackDays          int
	AccountScope          []string
	PerformReconciliation bool
	DriftThreshold        decimal.Decimal
}

// Options modify a single run.
type Options struct {
	// DryRun executes every stage through Diffed and reports the would-be
	// operation counts without writing to the ledger or the watermark.
	DryRun bool
	// FullRescan widens the window to the configured lookback regardless of
	// the watermark. This is the manual answer to reconciliation drift.
	FullRescan bool
	// Now overrides the clock for deterministic runs in tests.
	Now func() time.Time
}

// Summary describes a completed (or failed) run.
type Summary struct {
	RunID        string
	FinalState   State
	WindowStart  time.Time
	WindowEnd    time.Time
	Fetched      int
	Ignored      int
	OutOfScope   int
	SkippedRules int
	Inserted     int
	Updated      int
	Deleted      int
	Reconciled   []reconcile.Result
	Duration     time.Duration
}

// Pipeline wires the collaborators for sync runs.
type Pipeline struct {
	source  TransactionSource
	store   LedgerStore
	tracker WatermarkTracker
	ignores []ignore.Rule
	cfg     Config
	logger  logging.Logger
}

// New creates a Pipeline.
func New(source TransactionSource, store LedgerStore, tracker WatermarkTracker, ignores []ignore.Rule, cfg Config, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.DriftThreshold.IsZero() {
		cfg.DriftThreshold = reconcile.DefaultThreshold
	}
	return &Pipeline{
		source:  source,
		store:   store,
		tracker: tracker,
		ignores: ignores,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run executes one sync. On any failure the watermark is left untouched, so
// the next run re-covers the same window; re-processing already-applied
// transactions diffs to a no-op, never a duplicate.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	started := now()

	summary := &Summary{RunID: uuid.NewString(), FinalState: StateIdle}
	log := p.logger.WithField("run_id", summary.RunID)

	fail := func(err error) (*Summary, error) {
		summary.FinalState = StateFailed
		summary.Duration = now().Sub(started)
		log.WithError(err).Error("Sync run failed")
		return summary, err
	}

	end := now().UTC()
	start, end := p.tracker.Window(p.cfg.LookbackDays, end)
	if opts.FullRescan {
		start = end.AddDate(0, 0, -p.cfg.LookbackDays)
	}
	summary.WindowStart, summary.WindowEnd = start, end
	summary.FinalState = StateWindowResolved
	log.WithFields(
		logging.Field{Key: "start", Value: start},
		logging.Field{Key: "end", Value: end},
		logging.Field{Key: "full_rescan", Value: opts.FullRescan},
	).Info("Resolved fetch window")

	fetched, err := p.source.FetchSettled(ctx, start, end)
	if err != nil {
		return fail(err)
	}
	summary.Fetched = len(fetched)
	summary.FinalState = StateFetched
	log.WithField("count", len(fetched)).Info("Fetched settled transactions")

	inScope := fetched
	if len(p.cfg.AccountScope) > 0 {
		inScope = inScope[:0:0]
		for _, tx := range fetched {
			if containsString(p.cfg.AccountScope, tx.Account) {
				inScope = append(inScope, tx)
			}
		}
		summary.OutOfScope = len(fetched) - len(inScope)
	}

	kept, ignored := ignore.Filter(inScope, p.ignores)
	summary.Ignored = len(ignored)
	summary.FinalState = StateFiltered
	if len(ignored) > 0 {
		log.WithField("count", len(ignored)).Info("Ignored noise transactions")
	}

	specs, err := p.store.ReadCategoryRules(ctx)
	if err != nil {
		return fail(err)
	}
	rules, skipped := categorizer.BuildRules(specs)
	summary.SkippedRules = len(skipped)
	for _, ruleErr := range skipped {
		log.WithError(ruleErr).Warn("Skipping malformed category rule")
	}
	engine := categorizer.New(rules, log)

	importedAt := now().UTC()
	incoming := make([]models.LedgerRow, 0, len(kept))
	for _, tx := range kept {
		category, isTransfer := engine.Apply(tx)
		incoming = append(incoming, models.LedgerRow{
			Transaction: tx,
			Category:    category,
			IsTransfer:  isTransfer,
			ImportedAt:  importedAt,
		})
	}
	summary.FinalState = StateCategorised

	existing, err := p.store.ReadLedger(ctx)
	if err != nil {
		return fail(err)
	}

	plan := differ.Diff(existing, incoming, p.deleteScope(incoming, start, end))
	summary.Inserted = len(plan.Inserts)
	summary.Updated = len(plan.Updates)
	summary.Deleted = len(plan.Deletes)
	summary.FinalState = StateDiffed
	log.WithFields(
		logging.Field{Key: "inserts", Value: len(plan.Inserts)},
		logging.Field{Key: "updates", Value: len(plan.Updates)},
		logging.Field{Key: "deletes", Value: len(plan.Deletes)},
	).Info("Computed ledger diff")

	if opts.DryRun {
		summary.Duration = now().Sub(started)
		log.Info("Dry run complete, no changes applied")
		return summary, nil
	}

	if err := p.store.Apply(ctx, plan); err != nil {
		return fail(err)
	}
	summary.FinalState = StateApplied

	if p.cfg.PerformReconciliation {
		summary.Reconciled = p.reconcile(merge(existing, plan), kept, log)
		summary.FinalState = StateReconciled
	}

	if err := p.tracker.Commit(end); err != nil {
		return fail(err)
	}
	summary.FinalState = StateCommitted
	summary.Duration = now().Sub(started)
	log.WithField("watermark", end).Info("Sync run committed")
	return summary, nil
}

// deleteScope bounds deletion to the accounts this fetch covered. When
// nothing constrains the account set and the fetch came back empty, the zero
// scope matches no rows: an empty upstream response must not erase the
// window's history.
func (p *Pipeline) deleteScope(incoming []models.LedgerRow, start, end time.Time) differ.Scope {
	accounts := p.cfg.AccountScope
	if len(accounts) == 0 {
		seen := make(map[string]struct{})
		for _, row := range incoming {
			if _, ok := seen[row.Account]; !ok {
				seen[row.Account] = struct{}{}
				accounts = append(accounts, row.Account)
			}
		}
	}
	if len(accounts) == 0 {
		return differ.Scope{}
	}
	return differ.Scope{Accounts: accounts, Start: start, End: end}
}

// reconcile checks each fetched account's ledger balance against the newest
// balance the bank reported in this batch, falling back to a net-movement sum
// for accounts whose batch carried no balance. Accounts are reported in
// sorted order. Drift is surfaced as a warning and never blocks the run.
func (p *Pipeline) reconcile(ledger []models.LedgerRow, fetched []models.Transaction, log logging.Logger) []reconcile.Result {
	reported := make(map[string]models.Transaction)
	seen := make(map[string]struct{})
	var accounts []string
	for _, tx := range fetched {
		if _, ok := seen[tx.Account]; !ok {
			seen[tx.Account] = struct{}{}
			accounts = append(accounts, tx.Account)
		}
		if !tx.HasBalance {
			continue
		}
		newest, ok := reported[tx.Account]
		if !ok || tx.OccurredAt.After(newest.OccurredAt) {
			reported[tx.Account] = tx
		}
	}
	sort.Strings(accounts)

	grouped := reconcile.GroupByAccount(ledger)
	results := make([]reconcile.Result, 0, len(accounts))
	for _, account := range accounts {
		newest, ok := reported[account]
		if !ok {
			result := reconcile.Sum(account, grouped[account])
			log.WithFields(
				logging.Field{Key: "account", Value: account},
				logging.Field{Key: "movement", Value: result.LedgerBalance.StringFixed(2)},
			).Info("No reported balance, summed ledger movement")
			results = append(results, result)
			continue
		}
		result := reconcile.Check(account, grouped[account], newest.Balance, p.cfg.DriftThreshold)
		if result.OK {
			log.WithField("account", account).Info("Reconciled")
		} else {
			log.WithFields(
				logging.Field{Key: "account", Value: account},
				logging.Field{Key: "reported", Value: result.ReportedBalance.StringFixed(2)},
				logging.Field{Key: "ledger", Value: result.LedgerBalance.StringFixed(2)},
				logging.Field{Key: "drift", Value: result.Drift.StringFixed(2)},
			).Warn("Reconciliation drift")
		}
		results = append(results, result)
	}
	return results
}

// merge derives the post-apply ledger view without a second read: existing
// rows minus deletes, updates swapped in place, inserts appended.
func merge(existing []models.LedgerRow, plan differ.Plan) []models.LedgerRow {
	deleted := make(map[string]struct{}, len(plan.Deletes))
	for _, row := range plan.Deletes {
		deleted[row.ID] = struct{}{}
	}
	updated := make(map[string]models.LedgerRow, len(plan.Updates))
	for _, row := range plan.Updates {
		updated[row.ID] = row
	}

	merged := make([]models.LedgerRow, 0, len(existing)+len(plan.Inserts))
	for _, row := range existing {
		if _, ok := deleted[row.ID]; ok {
			continue
		}
		if replacement, ok := updated[row.ID]; ok {
			merged = append(merged, replacement)
			continue
		}
		merged = append(merged, row)
	}
	return append(merged, plan.Inserts...)
}

func containsString(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
