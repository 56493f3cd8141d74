package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === Investor Balance Queries ===

// GetInvestorShares returns the investor's share balance in share units
func (bt *BalanceTracker) GetInvestorShares(investorID uuid.UUID) int64 {
	return bt.GetBalance(NewInvestorAccountKey(investorID, SubTypeShares, AssetShares))
}

// GetInvestorResidue returns accumulated subscription truncation refunds
func (bt *BalanceTracker) GetInvestorResidue(investorID uuid.UUID) int64 {
	return bt.GetBalance(NewInvestorAccountKey(investorID, SubTypeResidue, AssetQuote))
}

// GetInvestorPayout returns accumulated redemption payouts owed to the investor
func (bt *BalanceTracker) GetInvestorPayout(investorID uuid.UUID) int64 {
	return bt.GetBalance(NewInvestorAccountKey(investorID, SubTypePayout, AssetQuote))
}

// === Fund Queries ===

// GetSharesOutstanding returns total shares held by investors.
// The share float account is the mint/burn counterparty, so its balance
// is the negation of all investor share balances.
func (bt *BalanceTracker) GetSharesOutstanding(fund string) int64 {
	return -bt.GetBalance(ShareFloatAccount(fund))
}

// GetPortfolioCash returns the fund's cash holdings in quote units
func (bt *BalanceTracker) GetPortfolioCash(fund string) int64 {
	return bt.GetBalance(PortfolioAccount(fund))
}

// GetManagerFees returns cumulative fees accrued to the manager
func (bt *BalanceTracker) GetManagerFees(fund string) int64 {
	return bt.GetBalance(ManagerFeesAccount(fund))
}

// === Invariant Checks ===

// ValidateSufficientShares checks if an investor can redeem the given share units
func (bt *BalanceTracker) ValidateSufficientShares(investorID uuid.UUID, required int64) error {
	shares := bt.GetInvestorShares(investorID)
	if shares < required {
		return fmt.Errorf("insufficient share balance: have=%d, need=%d", shares, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 per asset for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances from a snapshot (warm restart)
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
