package query

import "github.com/google/uuid"

// NavResponse is the latest valuation for API queries.
type NavResponse struct {
	Sequence          int64 `json:"sequence"`
	NavPerShare       int64 `json:"nav_per_share"`
	GrossValue        int64 `json:"gross_value"`
	NetValue          int64 `json:"net_value"`
	SharesOutstanding int64 `json:"shares_outstanding"`
	TimestampUs       int64 `json:"timestamp_us"`
	AsOfSequence      int64 `json:"as_of_sequence"`
}

// NavPoint is one historical valuation sample.
type NavPoint struct {
	Sequence          int64 `json:"sequence"`
	NavPerShare       int64 `json:"nav_per_share"`
	GrossValue        int64 `json:"gross_value"`
	NetValue          int64 `json:"net_value"`
	SharesOutstanding int64 `json:"shares_outstanding"`
	TimestampUs       int64 `json:"timestamp_us"`
}

// InvestorBalanceResponse is an investor's holdings view.
type InvestorBalanceResponse struct {
	InvestorID uuid.UUID `json:"investor_id"`

	// Ledger balances (folded from journal entries)
	Shares  int64 `json:"shares"`
	Residue int64 `json:"residue"`
	Payout  int64 `json:"payout"`

	// Lifetime aggregates
	Principal int64 `json:"principal"`

	// Derived at query time from the latest NAV, not a ledger balance
	HoldingValue int64 `json:"holding_value"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// RequestResponse is one subscription or redemption request.
type RequestResponse struct {
	RequestID     uuid.UUID `json:"request_id"`
	InvestorID    uuid.UUID `json:"investor_id"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	SubmissionSeq int64     `json:"submission_seq"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	SettledNav    int64     `json:"settled_nav,omitempty"`
	Shares        int64     `json:"shares,omitempty"`
	Cash          int64     `json:"cash,omitempty"`
	Residue       int64     `json:"residue,omitempty"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// FundSummaryResponse is the fund-level overview.
type FundSummaryResponse struct {
	Name              string `json:"name"`
	Symbol            string `json:"symbol"`
	QuoteAsset        string `json:"quote_asset"`
	NavPerShare       int64  `json:"nav_per_share"`
	GrossValue        int64  `json:"gross_value"`
	NetValue          int64  `json:"net_value"`
	SharesOutstanding int64  `json:"shares_outstanding"`
	PendingRequests   int64  `json:"pending_requests"`
	InvestorCount     int64  `json:"investor_count"`
	LastTickSequence  int64  `json:"last_tick_sequence"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry is one double-entry transfer for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset is an asset whose global balance sum is non-zero.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
