package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateInvestorSharesNonNegative checks investor share balance >= 0
func (v *InvariantValidator) ValidateInvestorSharesNonNegative(investorID uuid.UUID) error {
	key := NewInvestorAccountKey(investorID, SubTypeShares, AssetShares)
	return v.tracker.ValidateNonNegative(key)
}

// ValidateSharesOutstandingNonNegative checks the float never over-burns
func (v *InvariantValidator) ValidateSharesOutstandingNonNegative(fund string) error {
	outstanding := v.tracker.GetSharesOutstanding(fund)
	if outstanding < 0 {
		return fmt.Errorf("shares outstanding for %s is negative: %d", fund, outstanding)
	}
	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset.
// Conservation of value: cash and shares move between accounts, they
// are never created or destroyed by a journal.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
