package investor

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"FundLedger/internal/fixedpoint"
)

var (
	// ErrBelowMinimum rejects a request under the fund's minimums.
	ErrBelowMinimum = errors.New("request below minimum")
	// ErrInsufficientBalance rejects a redemption exceeding the share balance.
	ErrInsufficientBalance = errors.New("insufficient share balance")
	// ErrDuplicateRequest rejects a request ID already submitted.
	ErrDuplicateRequest = errors.New("duplicate request id")
)

// Minimums are the fund's subscription/redemption floors.
// First-time investors must meet the higher initial minimum.
type Minimums struct {
	InitialSubscription int64 // Quote units
	Subscription        int64 // Quote units
	RedemptionShares    int64 // Share units
}

// ShareBalanceReader provides investor share balances at plan time.
// Satisfied by the double-entry balance tracker.
type ShareBalanceReader interface {
	GetInvestorShares(investorID uuid.UUID) int64
}

// Account is the per-investor view the ledger maintains alongside the
// double-entry balances.
type Account struct {
	InvestorID uuid.UUID
	Principal  int64 // Cumulative settled subscription cost, quote units
	Settled    int64 // Count of settled requests
}

// SettlementItem is the planned outcome for one request.
type SettlementItem struct {
	Request *Request
	Settled bool
	Reason  string
	Shares  int64
	Cash    int64
	Residue int64
}

// SettlementPlan is the pure output of planning one batch against one
// NAV snapshot. Nothing mutates until Commit.
type SettlementPlan struct {
	SnapshotSeq int64
	NavPerShare int64
	Items       []SettlementItem
}

// Ledger queues investor requests and settles them in strict global
// submission order. Owned by the single-threaded core.
type Ledger struct {
	minimums   Minimums
	shareScale int64

	nextSeq  int64
	requests []*Request
	byID     map[uuid.UUID]*Request
	accounts map[uuid.UUID]*Account

	// Investors with at least one accepted subscription; used for the
	// initial-minimum check.
	subscribed map[uuid.UUID]bool
}

func NewLedger(minimums Minimums, shareScale int64) *Ledger {
	return &Ledger{
		minimums:   minimums,
		shareScale: shareScale,
		nextSeq:    1,
		byID:       make(map[uuid.UUID]*Request),
		accounts:   make(map[uuid.UUID]*Account),
		subscribed: make(map[uuid.UUID]bool),
	}
}

// Submit queues a request and assigns its global submission sequence.
// Requests under the minimums are still recorded, with status Rejected
// and the returned error's message as reason, so they stay queryable.
func (l *Ledger) Submit(requestID, investorID uuid.UUID, kind RequestKind, amount, timestampUs int64) (*Request, error) {
	if _, ok := l.byID[requestID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, requestID)
	}

	req := &Request{
		RequestID:     requestID,
		InvestorID:    investorID,
		Kind:          kind,
		Amount:        amount,
		SubmissionSeq: l.nextSeq,
		TimestampUs:   timestampUs,
		Status:        StatusPending,
	}
	l.nextSeq++
	l.requests = append(l.requests, req)
	l.byID[requestID] = req

	if err := l.checkMinimums(investorID, kind, amount); err != nil {
		req.Status = StatusRejected
		req.Reason = err.Error()
		return req, err
	}

	if kind == KindSubscribe {
		l.subscribed[investorID] = true
	}

	return req, nil
}

func (l *Ledger) checkMinimums(investorID uuid.UUID, kind RequestKind, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", ErrBelowMinimum, amount)
	}

	switch kind {
	case KindSubscribe:
		min := l.minimums.Subscription
		if !l.subscribed[investorID] {
			min = l.minimums.InitialSubscription
		}
		if amount < min {
			return fmt.Errorf("%w: subscription %d below minimum %d", ErrBelowMinimum, amount, min)
		}
	case KindRedeem:
		if amount < l.minimums.RedemptionShares {
			return fmt.Errorf("%w: redemption %d below minimum %d shares", ErrBelowMinimum, amount, l.minimums.RedemptionShares)
		}
	}
	return nil
}

// PlanSettlement computes the outcome of every pending request with
// submission sequence <= cutoffSeq against one NAV snapshot. Pure: the
// queue, accounts and balances are untouched. A scratch balance map
// makes consecutive redemptions by one investor see each other, so the
// plan matches what committing in order will do.
func (l *Ledger) PlanSettlement(snapshotSeq, navPerShare, cutoffSeq int64, balances ShareBalanceReader) SettlementPlan {
	plan := SettlementPlan{
		SnapshotSeq: snapshotSeq,
		NavPerShare: navPerShare,
	}

	scratch := make(map[uuid.UUID]int64)
	shares := func(id uuid.UUID) int64 {
		if v, ok := scratch[id]; ok {
			return v
		}
		v := balances.GetInvestorShares(id)
		scratch[id] = v
		return v
	}

	for _, req := range l.requests {
		if req.Status != StatusPending || req.SubmissionSeq > cutoffSeq {
			continue
		}

		item := SettlementItem{Request: req}

		switch req.Kind {
		case KindSubscribe:
			if navPerShare <= 0 {
				item.Reason = fmt.Sprintf("no positive nav to settle against: %d", navPerShare)
				plan.Items = append(plan.Items, item)
				continue
			}
			minted := fixedpoint.SharesForAmount(req.Amount, navPerShare, l.shareScale)
			if minted <= 0 {
				item.Reason = fmt.Sprintf("amount %d buys no share units at nav %d", req.Amount, navPerShare)
			} else {
				cost := fixedpoint.AmountForShares(minted, navPerShare, l.shareScale)
				item.Settled = true
				item.Shares = minted
				item.Cash = cost
				item.Residue = req.Amount - cost
				scratch[req.InvestorID] = shares(req.InvestorID) + minted
			}
		case KindRedeem:
			held := shares(req.InvestorID)
			if req.Amount > held {
				item.Reason = fmt.Sprintf("%s: have %d, redeem %d", ErrInsufficientBalance, held, req.Amount)
			} else {
				item.Settled = true
				item.Shares = req.Amount
				item.Cash = fixedpoint.AmountForShares(req.Amount, navPerShare, l.shareScale)
				scratch[req.InvestorID] = held - req.Amount
			}
		}

		plan.Items = append(plan.Items, item)
	}

	return plan
}

// Commit applies a plan: request statuses, settlement details and
// investor principal. The caller applies the matching journal batches
// to the double-entry ledger before committing.
func (l *Ledger) Commit(plan SettlementPlan) {
	for _, item := range plan.Items {
		req := item.Request
		req.SnapshotSeq = plan.SnapshotSeq
		req.SettledNav = plan.NavPerShare

		if !item.Settled {
			req.Status = StatusRejected
			req.Reason = item.Reason
			continue
		}

		req.Status = StatusSettled
		req.Shares = item.Shares
		req.Cash = item.Cash
		req.Residue = item.Residue

		acct := l.account(req.InvestorID)
		acct.Settled++
		if req.Kind == KindSubscribe {
			acct.Principal += item.Cash
		}
	}
}

func (l *Ledger) account(id uuid.UUID) *Account {
	acct, ok := l.accounts[id]
	if !ok {
		acct = &Account{InvestorID: id}
		l.accounts[id] = acct
	}
	return acct
}

// === Read-only queries ===

// GetAccount returns the investor's account view, zero-valued if unseen.
func (l *Ledger) GetAccount(id uuid.UUID) Account {
	if acct, ok := l.accounts[id]; ok {
		return *acct
	}
	return Account{InvestorID: id}
}

// GetRequest looks up a request by ID.
func (l *Ledger) GetRequest(id uuid.UUID) (*Request, bool) {
	req, ok := l.byID[id]
	return req, ok
}

// PendingRequests returns the investor's pending requests in submission order.
func (l *Ledger) PendingRequests(id uuid.UUID) []*Request {
	var out []*Request
	for _, req := range l.requests {
		if req.InvestorID == id && req.Status == StatusPending {
			out = append(out, req)
		}
	}
	return out
}

// LastSubmissionSeq returns the highest sequence assigned so far.
// A settlement batch cuts off here: requests queued later settle at
// the next tick's NAV.
func (l *Ledger) LastSubmissionSeq() int64 {
	return l.nextSeq - 1
}

// PendingCount returns how many requests are pending fund-wide.
func (l *Ledger) PendingCount() int {
	n := 0
	for _, req := range l.requests {
		if req.Status == StatusPending {
			n++
		}
	}
	return n
}

// RequestsAfter returns all requests with submission sequence > seq.
func (l *Ledger) RequestsAfter(seq int64) []*Request {
	var out []*Request
	for _, req := range l.requests {
		if req.SubmissionSeq > seq {
			out = append(out, req)
		}
	}
	return out
}

// === Snapshot / restore ===

// State is the serializable ledger state for warm restart.
type State struct {
	NextSeq  int64
	Requests []Request
	Accounts []Account
}

// Snapshot copies the full queue state.
func (l *Ledger) Snapshot() State {
	st := State{
		NextSeq:  l.nextSeq,
		Requests: make([]Request, 0, len(l.requests)),
		Accounts: make([]Account, 0, len(l.accounts)),
	}
	for _, req := range l.requests {
		st.Requests = append(st.Requests, *req)
	}
	for _, acct := range l.accounts {
		st.Accounts = append(st.Accounts, *acct)
	}
	return st
}

// Restore replaces the queue state from a snapshot.
func (l *Ledger) Restore(st State) {
	l.nextSeq = st.NextSeq
	l.requests = make([]*Request, 0, len(st.Requests))
	l.byID = make(map[uuid.UUID]*Request, len(st.Requests))
	l.accounts = make(map[uuid.UUID]*Account, len(st.Accounts))
	l.subscribed = make(map[uuid.UUID]bool)

	for i := range st.Requests {
		req := st.Requests[i]
		l.requests = append(l.requests, &req)
		l.byID[req.RequestID] = &req
		if req.Kind == KindSubscribe && req.Status != StatusRejected {
			l.subscribed[req.InvestorID] = true
		}
	}
	for i := range st.Accounts {
		acct := st.Accounts[i]
		l.accounts[acct.InvestorID] = &acct
	}
}
