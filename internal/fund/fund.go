package fund

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"FundLedger/internal/investor"
	"FundLedger/internal/ledger"
	"FundLedger/internal/nav"
	"FundLedger/internal/oracle"
)

// ErrTickInProgress rejects a valuation tick while another is running.
var ErrTickInProgress = errors.New("valuation tick already in progress")

// Params is the immutable fund definition loaded at startup.
type Params struct {
	Name          string
	Symbol        string
	QuoteAsset    string
	ShareScale    int64
	SeedNav       int64 // NAV used while no shares are outstanding
	Fees          nav.FeeSchedule
	Minimums      investor.Minimums
	TrackedAssets []string
	// Non-quote asset quantities the fund starts with (quantity scale).
	InitialHoldings map[string]int64
}

// TickResult is everything one valuation tick produced: the snapshot,
// the settlement outcomes and the journal batches to persist.
type TickResult struct {
	Snapshot      nav.Snapshot
	Plan          investor.SettlementPlan
	Batches       []*ledger.Batch
	SettledCount  int
	RejectedCount int
	PricesApplied int // Deferred price updates applied after the tick
}

// FundAccount is the aggregate root: it owns the fee schedule, the
// holdings, the high-water-mark and the current snapshot, and drives
// the valuation/settlement cycle. Dependencies point one way — the
// calculator and the investor queue never call back into it.
type FundAccount struct {
	params Params

	oracle    *oracle.PriceOracle
	investors *investor.Ledger
	tracker   *ledger.BalanceTracker
	validator *ledger.InvariantValidator
	calc      *nav.Calculator

	// Non-quote holdings; cash lives in the portfolio ledger account.
	holdings map[string]int64

	highWaterMark int64
	lastSnapshot  *nav.Snapshot

	tickMu sync.Mutex // Held for the whole tick; TryLock rejects overlap
	mu     sync.Mutex // Guards state reads/writes around submissions
}

func New(params Params) *FundAccount {
	holdings := make(map[string]int64, len(params.InitialHoldings))
	for asset, qty := range params.InitialHoldings {
		holdings[asset] = qty
	}

	tracker := ledger.NewBalanceTracker()

	return &FundAccount{
		params:        params,
		oracle:        oracle.NewPriceOracle(params.TrackedAssets),
		investors:     investor.NewLedger(params.Minimums, params.ShareScale),
		tracker:       tracker,
		validator:     ledger.NewInvariantValidator(tracker),
		calc:          nav.NewCalculator(params.QuoteAsset, params.ShareScale, params.SeedNav),
		holdings:      holdings,
		highWaterMark: params.Fees.ManagerBasis,
	}
}

// SubmitPrice records a price observation; during a tick it is parked
// and applied afterwards.
func (f *FundAccount) SubmitPrice(asset string, price, timestampUs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.oracle.SubmitPrice(asset, price, timestampUs)
}

// SubmitSubscription queues a cash subscription.
func (f *FundAccount) SubmitSubscription(requestID, investorID uuid.UUID, amount, timestampUs int64) (*investor.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.investors.Submit(requestID, investorID, investor.KindSubscribe, amount, timestampUs)
}

// SubmitRedemption queues a share redemption.
func (f *FundAccount) SubmitRedemption(requestID, investorID uuid.UUID, shares, timestampUs int64) (*investor.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.investors.Submit(requestID, investorID, investor.KindRedeem, shares, timestampUs)
}

// Tick runs one atomic valuation and settlement cycle: snapshot prices,
// compute the NAV, settle every request queued before the tick against
// that single NAV, and move shares and cash through balanced journals.
//
// All-or-nothing: every journal is generated and applied to a staging
// copy of the balances first; fund state only mutates once the whole
// batch is proven consistent. A concurrent caller gets ErrTickInProgress.
func (f *FundAccount) Tick(elapsedUs, timestampUs, sequence int64, tickID string) (*TickResult, error) {
	if !f.tickMu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer f.tickMu.Unlock()

	// Freeze the inputs. Prices submitted from here on are parked;
	// requests submitted from here on fall past the cutoff.
	f.mu.Lock()
	f.oracle.BeginTick()
	view := f.oracle.SnapshotView()
	cutoff := f.investors.LastSubmissionSeq()
	shares := f.tracker.GetSharesOutstanding(f.params.Name)
	cash := f.tracker.GetPortfolioCash(f.params.Name)
	hwm := f.highWaterMark
	f.mu.Unlock()

	applyDeferred := func() int {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.oracle.DrainPending()
	}

	snap, err := f.calc.Compute(nav.ComputeInput{
		Holdings:          f.valuationHoldings(cash),
		Prices:            view,
		Fees:              f.params.Fees,
		SharesOutstanding: shares,
		HighWaterMark:     hwm,
		ElapsedUs:         elapsedUs,
		Sequence:          sequence,
		TimestampUs:       timestampUs,
	})
	if err != nil {
		applyDeferred()
		return nil, fmt.Errorf("tick %s valuation: %w", tickID, err)
	}

	plan := f.investors.PlanSettlement(snap.Sequence, snap.NavPerShare, cutoff, f.tracker)

	batches, err := f.stageBatches(plan, snap, sequence, tickID, timestampUs)
	if err != nil {
		applyDeferred()
		return nil, fmt.Errorf("tick %s settlement: %w", tickID, err)
	}

	// Point of no return: the staged batches are known-consistent.
	f.mu.Lock()
	for _, batch := range batches {
		if err := f.tracker.ApplyBatch(batch); err != nil {
			// Staging proved these batches apply cleanly.
			f.mu.Unlock()
			panic(fmt.Sprintf("staged batch failed against live ledger: %v", err))
		}
	}
	f.investors.Commit(plan)
	f.highWaterMark = snap.HighWaterMark
	f.lastSnapshot = &snap
	f.mu.Unlock()

	result := &TickResult{
		Snapshot: snap,
		Plan:     plan,
		Batches:  batches,
	}
	for _, item := range plan.Items {
		if item.Settled {
			result.SettledCount++
		} else {
			result.RejectedCount++
		}
	}
	result.PricesApplied = applyDeferred()

	return result, nil
}

// stageBatches generates every journal the tick needs and applies them
// to a staging copy of the balances, proving the whole settlement is
// consistent before anything real mutates.
func (f *FundAccount) stageBatches(
	plan investor.SettlementPlan,
	snap nav.Snapshot,
	sequence int64,
	tickID string,
	timestampUs int64,
) ([]*ledger.Batch, error) {
	staging := ledger.NewBalanceTracker()
	staging.Restore(f.tracker.Snapshot())
	gen := ledger.NewJournalGenerator(f.params.Name, sequence, staging)

	var batches []*ledger.Batch

	appendBatch := func(batch *ledger.Batch) error {
		if batch == nil {
			return nil
		}
		if err := staging.ApplyBatch(batch); err != nil {
			return err
		}
		batches = append(batches, batch)
		return nil
	}

	for _, item := range plan.Items {
		if !item.Settled {
			continue
		}
		req := item.Request

		var batch *ledger.Batch
		var err error
		switch req.Kind {
		case investor.KindSubscribe:
			batch, err = gen.GenerateSubscriptionSettled(
				req.RequestID, req.InvestorID, req.Amount, item.Shares, item.Residue, timestampUs)
		case investor.KindRedeem:
			batch, err = gen.GenerateRedemptionSettled(
				req.RequestID, req.InvestorID, item.Shares, item.Cash, timestampUs)
		}
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", req.RequestID, err)
		}
		if err := appendBatch(batch); err != nil {
			return nil, fmt.Errorf("request %s: %w", req.RequestID, err)
		}
	}

	feeBatch, err := gen.GenerateFeeAccrual(
		fmt.Sprintf("tick:%s", tickID), snap.AdminFee, snap.MgmtFee, snap.PerfFee, timestampUs)
	if err != nil {
		return nil, err
	}
	if err := appendBatch(feeBatch); err != nil {
		return nil, err
	}

	stagingValidator := ledger.NewInvariantValidator(staging)
	if err := stagingValidator.ValidateGlobalBalance(); err != nil {
		return nil, err
	}
	if err := stagingValidator.ValidateSharesOutstandingNonNegative(f.params.Name); err != nil {
		return nil, err
	}

	return batches, nil
}

// valuationHoldings merges the cash position into the non-quote
// holdings for one valuation.
func (f *FundAccount) valuationHoldings(cash int64) map[string]int64 {
	merged := make(map[string]int64, len(f.holdings)+1)
	for asset, qty := range f.holdings {
		merged[asset] = qty
	}
	merged[f.params.QuoteAsset] = cash
	return merged
}

// === Read-only queries ===

// CurrentNav returns the latest snapshot, ok=false before the first tick.
func (f *FundAccount) CurrentNav() (nav.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastSnapshot == nil {
		return nav.Snapshot{}, false
	}
	return *f.lastSnapshot, true
}

// Holdings returns all positions including the cash balance.
func (f *FundAccount) Holdings() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valuationHoldings(f.tracker.GetPortfolioCash(f.params.Name))
}

// HighWaterMark returns the current performance-fee threshold.
func (f *FundAccount) HighWaterMark() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.highWaterMark
}

// SharesOutstanding returns the total share units investors hold.
func (f *FundAccount) SharesOutstanding() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracker.GetSharesOutstanding(f.params.Name)
}

// Params returns the immutable fund definition.
func (f *FundAccount) Params() Params {
	return f.params
}

// Oracle exposes price reads for queries; writes go through SubmitPrice.
func (f *FundAccount) Oracle() *oracle.PriceOracle {
	return f.oracle
}

// Investors exposes request queue reads.
func (f *FundAccount) Investors() *investor.Ledger {
	return f.investors
}

// Balances exposes the double-entry balances for queries and hashing.
func (f *FundAccount) Balances() *ledger.BalanceTracker {
	return f.tracker
}

// Validate checks the fund-wide ledger invariants.
func (f *FundAccount) Validate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	return f.validator.ValidateSharesOutstandingNonNegative(f.params.Name)
}
