package investor_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"FundLedger/internal/investor"
)

type fakeBalances map[uuid.UUID]int64

func (f fakeBalances) GetInvestorShares(id uuid.UUID) int64 { return f[id] }

func newLedger() *investor.Ledger {
	return investor.NewLedger(investor.Minimums{
		InitialSubscription: 2_000, // 20.00
		Subscription:        500,   // 5.00
		RedemptionShares:    10,
	}, 1)
}

func TestSubmit_AssignsMonotonicSequence(t *testing.T) {
	l := newLedger()
	inv := uuid.New()

	first, err := l.Submit(uuid.New(), inv, investor.KindSubscribe, 5_000, 1_000)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	second, err := l.Submit(uuid.New(), inv, investor.KindSubscribe, 5_000, 2_000)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if second.SubmissionSeq <= first.SubmissionSeq {
		t.Errorf("sequences not monotonic: %d then %d", first.SubmissionSeq, second.SubmissionSeq)
	}
}

func TestSubmit_DuplicateRequestID(t *testing.T) {
	l := newLedger()
	id := uuid.New()

	if _, err := l.Submit(id, uuid.New(), investor.KindSubscribe, 5_000, 1_000); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := l.Submit(id, uuid.New(), investor.KindSubscribe, 5_000, 2_000); !errors.Is(err, investor.ErrDuplicateRequest) {
		t.Errorf("got %v, want ErrDuplicateRequest", err)
	}
}

func TestSubmit_FirstTimeMinimumApplies(t *testing.T) {
	l := newLedger()
	inv := uuid.New()

	// 15.00 meets the repeat minimum but not the initial one.
	req, err := l.Submit(uuid.New(), inv, investor.KindSubscribe, 1_500, 1_000)
	if !errors.Is(err, investor.ErrBelowMinimum) {
		t.Fatalf("got %v, want ErrBelowMinimum", err)
	}
	// Rejected requests stay recorded and queryable.
	if req.Status != investor.StatusRejected || req.Reason == "" {
		t.Errorf("rejected request should carry status and reason: %+v", req)
	}

	// Meet the initial minimum; afterwards the lower minimum applies.
	if _, err := l.Submit(uuid.New(), inv, investor.KindSubscribe, 2_000, 2_000); err != nil {
		t.Fatalf("initial subscription failed: %v", err)
	}
	if _, err := l.Submit(uuid.New(), inv, investor.KindSubscribe, 1_500, 3_000); err != nil {
		t.Errorf("repeat subscription above repeat minimum should pass: %v", err)
	}
}

func TestSubmit_RedemptionBelowMinimumShares(t *testing.T) {
	l := newLedger()

	_, err := l.Submit(uuid.New(), uuid.New(), investor.KindRedeem, 9, 1_000)
	if !errors.Is(err, investor.ErrBelowMinimum) {
		t.Errorf("got %v, want ErrBelowMinimum", err)
	}
}

func TestPlanSettlement_SubscriptionResidue(t *testing.T) {
	l := newLedger()
	inv := uuid.New()

	// 500.00 at nav 108.00 whole-share: 4 shares, cost 432.00, residue 68.00.
	req, err := l.Submit(uuid.New(), inv, investor.KindSubscribe, 50_000, 1_000)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	plan := l.PlanSettlement(1, 10_800, req.SubmissionSeq, fakeBalances{})
	if len(plan.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(plan.Items))
	}

	item := plan.Items[0]
	if !item.Settled {
		t.Fatalf("subscription should settle: %s", item.Reason)
	}
	if item.Shares != 4 || item.Cash != 43_200 || item.Residue != 6_800 {
		t.Errorf("got shares=%d cash=%d residue=%d, want 4/43_200/6_800",
			item.Shares, item.Cash, item.Residue)
	}
}

func TestPlanSettlement_RedemptionOverBalanceRejectedRestSettles(t *testing.T) {
	l := investor.NewLedger(investor.Minimums{RedemptionShares: 1, Subscription: 1, InitialSubscription: 1}, 1)
	alice := uuid.New()
	bob := uuid.New()

	over, err := l.Submit(uuid.New(), alice, investor.KindRedeem, 50, 1_000)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	ok, err := l.Submit(uuid.New(), bob, investor.KindRedeem, 20, 2_000)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	balances := fakeBalances{alice: 40, bob: 30}
	plan := l.PlanSettlement(1, 10_000, ok.SubmissionSeq, balances)

	if len(plan.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(plan.Items))
	}
	if plan.Items[0].Settled {
		t.Error("over-balance redemption should be rejected")
	}
	if !plan.Items[1].Settled {
		t.Errorf("rest of batch should settle: %s", plan.Items[1].Reason)
	}

	l.Commit(plan)
	if over.Status != investor.StatusRejected {
		t.Errorf("rejected request status = %v", over.Status)
	}
	if ok.Status != investor.StatusSettled || ok.Cash != 20*10_000 {
		t.Errorf("settled request: %+v", ok)
	}
}

func TestPlanSettlement_ConsecutiveRedemptionsShareScratchBalance(t *testing.T) {
	l := investor.NewLedger(investor.Minimums{RedemptionShares: 1, Subscription: 1, InitialSubscription: 1}, 1)
	inv := uuid.New()

	l.Submit(uuid.New(), inv, investor.KindRedeem, 30, 1_000)
	second, _ := l.Submit(uuid.New(), inv, investor.KindRedeem, 30, 2_000)

	// 40 shares covers the first redemption but not both.
	plan := l.PlanSettlement(1, 10_000, second.SubmissionSeq, fakeBalances{inv: 40})

	if !plan.Items[0].Settled {
		t.Errorf("first redemption should settle: %s", plan.Items[0].Reason)
	}
	if plan.Items[1].Settled {
		t.Error("second redemption should see the decremented balance and reject")
	}
}

func TestPlanSettlement_CutoffExcludesLaterRequests(t *testing.T) {
	l := newLedger()
	inv := uuid.New()

	first, _ := l.Submit(uuid.New(), inv, investor.KindSubscribe, 5_000, 1_000)
	l.Submit(uuid.New(), inv, investor.KindSubscribe, 5_000, 2_000)

	plan := l.PlanSettlement(1, 10_000, first.SubmissionSeq, fakeBalances{})
	if len(plan.Items) != 1 {
		t.Errorf("cutoff should exclude the later request, got %d items", len(plan.Items))
	}
}

func TestPlanSettlement_IsPure(t *testing.T) {
	l := newLedger()
	inv := uuid.New()

	req, _ := l.Submit(uuid.New(), inv, investor.KindSubscribe, 50_000, 1_000)

	l.PlanSettlement(1, 10_800, req.SubmissionSeq, fakeBalances{})
	if req.Status != investor.StatusPending {
		t.Error("planning must not mutate request state")
	}
	if got := l.GetAccount(inv).Principal; got != 0 {
		t.Errorf("planning must not touch principal, got %d", got)
	}

	// Re-planning yields the same outcome.
	again := l.PlanSettlement(1, 10_800, req.SubmissionSeq, fakeBalances{})
	if len(again.Items) != 1 || again.Items[0].Shares != 4 {
		t.Errorf("re-plan diverged: %+v", again.Items)
	}
}

func TestCommit_UpdatesPrincipalAndStatus(t *testing.T) {
	l := newLedger()
	inv := uuid.New()

	req, _ := l.Submit(uuid.New(), inv, investor.KindSubscribe, 50_000, 1_000)
	plan := l.PlanSettlement(9, 10_800, req.SubmissionSeq, fakeBalances{})
	l.Commit(plan)

	if req.Status != investor.StatusSettled {
		t.Fatalf("status = %v, want settled", req.Status)
	}
	if req.SettledNav != 10_800 || req.SnapshotSeq != 9 {
		t.Errorf("settlement stamp: nav=%d seq=%d", req.SettledNav, req.SnapshotSeq)
	}

	acct := l.GetAccount(inv)
	if acct.Principal != 43_200 {
		t.Errorf("principal = %d, want 43_200 (cost, not gross amount)", acct.Principal)
	}

	if l.PendingCount() != 0 {
		t.Errorf("pending count = %d, want 0", l.PendingCount())
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	l := newLedger()
	inv := uuid.New()

	req, _ := l.Submit(uuid.New(), inv, investor.KindSubscribe, 50_000, 1_000)
	plan := l.PlanSettlement(1, 10_800, req.SubmissionSeq, fakeBalances{})
	l.Commit(plan)
	pending, _ := l.Submit(uuid.New(), inv, investor.KindSubscribe, 1_000, 2_000)

	restored := newLedger()
	restored.Restore(l.Snapshot())

	got, ok := restored.GetRequest(req.RequestID)
	if !ok || got.Status != investor.StatusSettled {
		t.Errorf("settled request should survive restore: %+v", got)
	}
	if restored.GetAccount(inv).Principal != 43_200 {
		t.Error("principal should survive restore")
	}
	if restored.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1", restored.PendingCount())
	}

	// Repeat minimum still applies after restore (1_000 >= 500).
	if _, err := restored.Submit(uuid.New(), inv, investor.KindSubscribe, 1_000, 3_000); err != nil {
		t.Errorf("repeat subscription after restore: %v", err)
	}

	// Sequence continues past the restored queue.
	next, _ := restored.Submit(uuid.New(), inv, investor.KindSubscribe, 1_000, 4_000)
	if next.SubmissionSeq <= pending.SubmissionSeq {
		t.Errorf("sequence regressed after restore: %d <= %d", next.SubmissionSeq, pending.SubmissionSeq)
	}
}
