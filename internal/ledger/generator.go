package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from settlements
type JournalGenerator struct {
	fund           string
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(fund string, startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		fund:           fund,
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence aligns the generator with the global event sequence so
// every journal produced for one event carries that event's sequence.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// GenerateSubscriptionSettled creates journals for a settled subscription.
// Three legs: subscription cash enters the portfolio, shares are minted
// against the float, and the truncation residue is refunded to the
// investor's residue account (never silently absorbed).
//
//	external:subscriptions → system:portfolio   (amount)
//	system:share_float     → investor:shares    (shares)
//	system:portfolio       → investor:residue   (residue, if any)
func (jg *JournalGenerator) GenerateSubscriptionSettled(
	requestID uuid.UUID,
	investorID uuid.UUID,
	amount int64,
	shares int64,
	residue int64,
	timestamp int64,
) (*Batch, error) {
	if shares <= 0 {
		return nil, fmt.Errorf("subscription %s settled with no shares", requestID)
	}
	if residue < 0 || residue >= amount {
		return nil, fmt.Errorf("subscription %s has invalid residue %d of %d", requestID, residue, amount)
	}

	batchID := uuid.New()
	eventRef := requestID.String()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 3),
	}

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  PortfolioAccount(jg.fund),
		CreditAccount: NewExternalAccountKey(SubTypeExternalSubscriptions, AssetQuote),
		AssetID:       AssetQuote,
		Amount:        amount,
		JournalType:   JournalTypeSubscriptionCash,
		Timestamp:     timestamp,
	})

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewInvestorAccountKey(investorID, SubTypeShares, AssetShares),
		CreditAccount: ShareFloatAccount(jg.fund),
		AssetID:       AssetShares,
		Amount:        shares,
		JournalType:   JournalTypeShareMint,
		Timestamp:     timestamp,
	})

	if residue > 0 {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewInvestorAccountKey(investorID, SubTypeResidue, AssetQuote),
			CreditAccount: PortfolioAccount(jg.fund),
			AssetID:       AssetQuote,
			Amount:        residue,
			JournalType:   JournalTypeResidueRefund,
			Timestamp:     timestamp,
		})
	}

	return batch, nil
}

// GenerateRedemptionSettled creates journals for a settled redemption.
// Pre-check: the investor must hold the shares being burned.
//
//	investor:shares  → system:share_float  (shares)
//	system:portfolio → investor:payout     (payout, if any)
func (jg *JournalGenerator) GenerateRedemptionSettled(
	requestID uuid.UUID,
	investorID uuid.UUID,
	shares int64,
	payout int64,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientShares(investorID, shares); err != nil {
		return nil, fmt.Errorf("redemption pre-check failed: %w", err)
	}

	batchID := uuid.New()
	eventRef := requestID.String()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  ShareFloatAccount(jg.fund),
		CreditAccount: NewInvestorAccountKey(investorID, SubTypeShares, AssetShares),
		AssetID:       AssetShares,
		Amount:        shares,
		JournalType:   JournalTypeShareBurn,
		Timestamp:     timestamp,
	})

	// A payout of zero is possible for dust redemptions at a tiny NAV;
	// the shares still burn.
	if payout > 0 {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewInvestorAccountKey(investorID, SubTypePayout, AssetQuote),
			CreditAccount: PortfolioAccount(jg.fund),
			AssetID:       AssetQuote,
			Amount:        payout,
			JournalType:   JournalTypeRedemptionPayout,
			Timestamp:     timestamp,
		})
	}

	return batch, nil
}

// GenerateFeeAccrual creates journals moving accrued fees out of the
// portfolio into the manager's fee account. One entry per fee component
// so the journal log preserves the breakdown.
func (jg *JournalGenerator) GenerateFeeAccrual(
	tickRef string,
	adminFee int64,
	mgmtFee int64,
	perfFee int64,
	timestamp int64,
) (*Batch, error) {
	total := adminFee + mgmtFee + perfFee
	if total <= 0 {
		return nil, nil
	}

	batchID := uuid.New()
	eventRef := fmt.Sprintf("%s:fees", tickRef)

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 3),
	}

	for _, fee := range []int64{adminFee, mgmtFee, perfFee} {
		if fee <= 0 {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  ManagerFeesAccount(jg.fund),
			CreditAccount: PortfolioAccount(jg.fund),
			AssetID:       AssetQuote,
			Amount:        fee,
			JournalType:   JournalTypeFeeAccrual,
			Timestamp:     timestamp,
		})
	}

	return batch, nil
}
