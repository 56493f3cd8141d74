package fund

import (
	"FundLedger/internal/investor"
	"FundLedger/internal/ledger"
	"FundLedger/internal/nav"
	"FundLedger/internal/oracle"
)

// BalanceEntry is one serializable ledger balance.
type BalanceEntry struct {
	Key     ledger.AccountKey
	Balance int64
}

// State is the serializable fund state for warm restart.
type State struct {
	Holdings      map[string]int64
	HighWaterMark int64
	LastSnapshot  *nav.Snapshot
	Prices        []oracle.AssetPrice
	Investors     investor.State
	Balances      []BalanceEntry
}

// SnapshotState captures the full fund state.
func (f *FundAccount) SnapshotState() *State {
	f.mu.Lock()
	defer f.mu.Unlock()

	holdings := make(map[string]int64, len(f.holdings))
	for asset, qty := range f.holdings {
		holdings[asset] = qty
	}

	balances := f.tracker.Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for key, bal := range balances {
		entries = append(entries, BalanceEntry{Key: key, Balance: bal})
	}

	var snap *nav.Snapshot
	if f.lastSnapshot != nil {
		s := *f.lastSnapshot
		snap = &s
	}

	return &State{
		Holdings:      holdings,
		HighWaterMark: f.highWaterMark,
		LastSnapshot:  snap,
		Prices:        f.oracle.Snapshot(),
		Investors:     f.investors.Snapshot(),
		Balances:      entries,
	}
}

// RestoreState replaces the fund state from a snapshot.
func (f *FundAccount) RestoreState(st *State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.holdings = make(map[string]int64, len(st.Holdings))
	for asset, qty := range st.Holdings {
		f.holdings[asset] = qty
	}

	f.highWaterMark = st.HighWaterMark
	f.lastSnapshot = nil
	if st.LastSnapshot != nil {
		s := *st.LastSnapshot
		f.lastSnapshot = &s
	}

	f.oracle.Restore(st.Prices)
	f.investors.Restore(st.Investors)

	balances := make(map[ledger.AccountKey]int64, len(st.Balances))
	for _, entry := range st.Balances {
		balances[entry.Key] = entry.Balance
	}
	f.tracker.Restore(balances)
}
