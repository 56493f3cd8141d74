package ledger_test

import (
	"FundLedger/internal/ledger"
	"testing"

	"github.com/google/uuid"
)

const fundName = "mainfund"

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_InvestorPath(t *testing.T) {
	investorID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewInvestorAccountKey(investorID, ledger.SubTypeShares, ledger.AssetShares)

	path := key.AccountPath()
	expected := "investor:550e8400-e29b-41d4-a716-446655440000:shares:SHARES"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.PortfolioAccount(fundName)

	path := key.AccountPath()
	if path != "system:portfolio:USD" {
		t.Errorf("got %q, want %q", path, "system:portfolio:USD")
	}
}

func TestAccountKey_SystemNamesDoNotCollide(t *testing.T) {
	// Names longer than the 16-byte entity field must still produce
	// distinct keys; a prefix copy would collide these two.
	a := ledger.PortfolioAccount("global-macro-fund-alpha")
	b := ledger.PortfolioAccount("global-macro-fund-bravo")
	if a == b {
		t.Error("distinct fund names produced the same account key")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalSubscriptions, ledger.AssetQuote)

	path := key.AccountPath()
	if path != "external:subscriptions:USD" {
		t.Errorf("got %q, want %q", path, "external:subscriptions:USD")
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("ETH")
	if !ok {
		t.Fatal("ETH should be a known asset")
	}
	if id == 0 {
		t.Error("ETH asset ID should be non-zero")
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

func TestRegisterAsset_Idempotent(t *testing.T) {
	first := ledger.RegisterAsset("XMR")
	second := ledger.RegisterAsset("XMR")
	if first != second {
		t.Errorf("re-registering should return the same ID: %d vs %d", first, second)
	}

	name, ok := ledger.GetAssetName(first)
	if !ok || name != "XMR" {
		t.Errorf("registered asset should resolve back to its name, got %q", name)
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	investorID := uuid.New()

	if bt.GetInvestorShares(investorID) != 0 {
		t.Error("initial share balance should be 0")
	}
	if bt.GetSharesOutstanding(fundName) != 0 {
		t.Error("initial shares outstanding should be 0")
	}
}

func TestBalanceTracker_ShareMintAndOutstanding(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	investorID := uuid.New()

	// Mint: debit investor:shares, credit system:share_float
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewInvestorAccountKey(investorID, ledger.SubTypeShares, ledger.AssetShares),
		CreditAccount: ledger.ShareFloatAccount(fundName),
		AssetID:       ledger.AssetShares,
		Amount:        40_000,
	})

	if got := bt.GetInvestorShares(investorID); got != 40_000 {
		t.Errorf("investor shares: got %d, want 40_000", got)
	}
	if got := bt.GetSharesOutstanding(fundName); got != 40_000 {
		t.Errorf("shares outstanding: got %d, want 40_000", got)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	investorID := uuid.New()

	// Subscription cash enters the portfolio
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.PortfolioAccount(fundName),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalSubscriptions, ledger.AssetQuote),
		AssetID:       ledger.AssetQuote,
		Amount:        1_000_000,
	})

	// Residue refund back to the investor
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewInvestorAccountKey(investorID, ledger.SubTypeResidue, ledger.AssetQuote),
		CreditAccount: ledger.PortfolioAccount(fundName),
		AssetID:       ledger.AssetQuote,
		Amount:        6_800,
	})

	totals := bt.ComputeGlobalBalance()
	for aid, total := range totals {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}
}

func TestBalanceTracker_ValidateSufficientShares(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	investorID := uuid.New()

	// No balance — should fail
	if err := bt.ValidateSufficientShares(investorID, 100); err == nil {
		t.Error("expected error for insufficient shares")
	}

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewInvestorAccountKey(investorID, ledger.SubTypeShares, ledger.AssetShares),
		CreditAccount: ledger.ShareFloatAccount(fundName),
		AssetID:       ledger.AssetShares,
		Amount:        1_000,
	})

	if err := bt.ValidateSufficientShares(investorID, 1_000); err != nil {
		t.Errorf("should have sufficient shares: %v", err)
	}
	if err := bt.ValidateSufficientShares(investorID, 1_001); err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_SnapshotAndRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	investorID := uuid.New()

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewInvestorAccountKey(investorID, ledger.SubTypeShares, ledger.AssetShares),
		CreditAccount: ledger.ShareFloatAccount(fundName),
		AssetID:       ledger.AssetShares,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}
	if bt.GetInvestorShares(investorID) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}

	// Restore into a fresh tracker
	restored := ledger.NewBalanceTracker()
	restored.Restore(bt.Snapshot())
	if restored.GetInvestorShares(investorID) != 999 {
		t.Error("restored tracker should carry the share balance")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.PortfolioAccount(fundName),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalSubscriptions, ledger.AssetQuote),
				AssetID:       ledger.AssetQuote,
				Amount:        0,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	sameAccount := ledger.PortfolioAccount(fundName)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				AssetID:       ledger.AssetQuote,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.PortfolioAccount(fundName),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalSubscriptions, ledger.AssetQuote),
				AssetID:       ledger.AssetQuote,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestBatchValidate_AssetMismatch_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.PortfolioAccount(fundName),                // USD account
				CreditAccount: ledger.ShareFloatAccount(fundName),               // SHARES account
				AssetID:       ledger.AssetQuote,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("moving one asset between accounts of different assets should fail")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerator_SubscriptionSettled(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(fundName, 1, bt)

	investorID := uuid.New()
	requestID := uuid.New()

	// 500.00 buys 4 whole shares at nav 108.00; residue 68.00 refunds.
	batch, err := jg.GenerateSubscriptionSettled(requestID, investorID, 50_000, 4, 6_800, 1_000)
	if err != nil {
		t.Fatalf("GenerateSubscriptionSettled failed: %v", err)
	}
	if len(batch.Journals) != 3 {
		t.Fatalf("expected 3 journals, got %d", len(batch.Journals))
	}

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if got := bt.GetInvestorShares(investorID); got != 4 {
		t.Errorf("investor shares: got %d, want 4", got)
	}
	if got := bt.GetInvestorResidue(investorID); got != 6_800 {
		t.Errorf("investor residue: got %d, want 6_800", got)
	}
	if got := bt.GetPortfolioCash(fundName); got != 43_200 {
		t.Errorf("portfolio cash: got %d, want 43_200", got)
	}
	if got := bt.GetSharesOutstanding(fundName); got != 4 {
		t.Errorf("shares outstanding: got %d, want 4", got)
	}
}

func TestGenerator_SubscriptionWithoutResidue(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(fundName, 1, bt)

	batch, err := jg.GenerateSubscriptionSettled(uuid.New(), uuid.New(), 43_200, 4, 0, 1_000)
	if err != nil {
		t.Fatalf("GenerateSubscriptionSettled failed: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Errorf("expected 2 journals without residue, got %d", len(batch.Journals))
	}
}

func TestGenerator_RedemptionSettled(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(fundName, 1, bt)

	investorID := uuid.New()

	sub, err := jg.GenerateSubscriptionSettled(uuid.New(), investorID, 50_000, 4, 6_800, 1_000)
	if err != nil {
		t.Fatalf("subscription failed: %v", err)
	}
	if err := bt.ApplyBatch(sub); err != nil {
		t.Fatalf("apply subscription: %v", err)
	}

	red, err := jg.GenerateRedemptionSettled(uuid.New(), investorID, 2, 21_600, 2_000)
	if err != nil {
		t.Fatalf("GenerateRedemptionSettled failed: %v", err)
	}
	if err := bt.ApplyBatch(red); err != nil {
		t.Fatalf("apply redemption: %v", err)
	}

	if got := bt.GetInvestorShares(investorID); got != 2 {
		t.Errorf("investor shares after redemption: got %d, want 2", got)
	}
	if got := bt.GetInvestorPayout(investorID); got != 21_600 {
		t.Errorf("investor payout: got %d, want 21_600", got)
	}
	if got := bt.GetSharesOutstanding(fundName); got != 2 {
		t.Errorf("shares outstanding: got %d, want 2", got)
	}
}

func TestGenerator_RedemptionOverBalance_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(fundName, 1, bt)

	_, err := jg.GenerateRedemptionSettled(uuid.New(), uuid.New(), 50, 100, 1_000)
	if err == nil {
		t.Error("redeeming more shares than held should fail the pre-check")
	}
}

func TestGenerator_FeeAccrual(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(fundName, 1, bt)

	batch, err := jg.GenerateFeeAccrual("tick:42", 1_000, 0, 200_000, 3_000)
	if err != nil {
		t.Fatalf("GenerateFeeAccrual failed: %v", err)
	}
	// Management fee of zero contributes no journal.
	if len(batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(batch.Journals))
	}

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if got := bt.GetManagerFees(fundName); got != 201_000 {
		t.Errorf("manager fees: got %d, want 201_000", got)
	}
}

func TestGenerator_FeeAccrualZero_NilBatch(t *testing.T) {
	jg := ledger.NewJournalGenerator(fundName, 1, ledger.NewBalanceTracker())

	batch, err := jg.GenerateFeeAccrual("tick:42", 0, 0, 0, 3_000)
	if err != nil {
		t.Fatalf("zero fees should not error: %v", err)
	}
	if batch != nil {
		t.Error("zero fees should produce no batch")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	jg := ledger.NewJournalGenerator(fundName, 1, bt)

	// Empty ledger — should pass
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	investorID := uuid.New()
	sub, err := jg.GenerateSubscriptionSettled(uuid.New(), investorID, 50_000, 4, 6_800, 1_000)
	if err != nil {
		t.Fatalf("subscription failed: %v", err)
	}
	if err := bt.ApplyBatch(sub); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("settled ledger should stay zero-sum: %v", err)
	}
	if err := v.ValidateInvestorSharesNonNegative(investorID); err != nil {
		t.Errorf("investor shares should be non-negative: %v", err)
	}
	if err := v.ValidateSharesOutstandingNonNegative(fundName); err != nil {
		t.Errorf("shares outstanding should be non-negative: %v", err)
	}
}
