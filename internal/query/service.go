package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Service provides read-only access to the projection tables. Every
// response carries as_of_sequence, the projection watermark at read
// time, so callers can reason about freshness.
type Service struct {
	db         *sql.DB
	fundName   string
	fundSymbol string
	quoteAsset string
	shareScale int64
}

func NewService(db *sql.DB, fundName, fundSymbol, quoteAsset string, shareScale int64) *Service {
	return &Service{
		db:         db,
		fundName:   fundName,
		fundSymbol: fundSymbol,
		quoteAsset: quoteAsset,
		shareScale: shareScale,
	}
}

// GetCurrentNav returns the latest valuation snapshot.
func (s *Service) GetCurrentNav(ctx context.Context) (*NavResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var resp NavResponse
	err = s.db.QueryRowContext(ctx, `
		SELECT sequence, nav_per_share, gross_value, net_value, shares_outstanding, timestamp_us
		FROM projections.nav_history
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&resp.Sequence, &resp.NavPerShare, &resp.GrossValue,
		&resp.NetValue, &resp.SharesOutstanding, &resp.TimestampUs)
	if err == sql.ErrNoRows {
		return nil, ErrNoValuation
	}
	if err != nil {
		return nil, err
	}

	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// GetNavHistory returns valuation history, newest first. Cursor-based:
// pass the last sequence of the previous page as beforeSequence.
func (s *Service) GetNavHistory(ctx context.Context, limit int, beforeSequence *int64) ([]NavPoint, error) {
	query := `
		SELECT sequence, nav_per_share, gross_value, net_value, shares_outstanding, timestamp_us
		FROM projections.nav_history
	`
	args := []interface{}{}
	argIdx := 1

	if beforeSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []NavPoint
	for rows.Next() {
		var p NavPoint
		if err := rows.Scan(&p.Sequence, &p.NavPerShare, &p.GrossValue,
			&p.NetValue, &p.SharesOutstanding, &p.TimestampUs); err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

// GetInvestorBalance returns an investor's share, residue and payout
// balances plus a holding value derived from the latest NAV.
func (s *Service) GetInvestorBalance(ctx context.Context, investorID uuid.UUID) (*InvestorBalanceResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	sharesPath := fmt.Sprintf("investor:%s:shares:SHARES", investorID)
	shares, err := s.getProjectedBalance(ctx, sharesPath)
	if err != nil {
		return nil, err
	}

	residuePath := fmt.Sprintf("investor:%s:residue:%s", investorID, s.quoteAsset)
	residue, err := s.getProjectedBalance(ctx, residuePath)
	if err != nil {
		return nil, err
	}

	payoutPath := fmt.Sprintf("investor:%s:payout:%s", investorID, s.quoteAsset)
	payout, err := s.getProjectedBalance(ctx, payoutPath)
	if err != nil {
		return nil, err
	}

	var principal int64
	err = s.db.QueryRowContext(ctx, `
		SELECT principal FROM projections.investors WHERE investor_id = $1
	`, investorID).Scan(&principal)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	resp := &InvestorBalanceResponse{
		InvestorID:   investorID,
		Shares:       shares,
		Residue:      residue,
		Payout:       payout,
		Principal:    principal,
		AsOfSequence: asOfSeq,
	}

	if nav, err := s.GetCurrentNav(ctx); err == nil {
		resp.HoldingValue = shares * nav.NavPerShare / s.shareScale
	}

	return resp, nil
}

// requestRow is the scan target for projections.requests.
type requestRow struct {
	RequestID     uuid.UUID
	InvestorID    uuid.UUID
	Kind          string
	Amount        int64
	SubmissionSeq int64
	Status        string
	Reason        sql.NullString
	SettledNav    sql.NullInt64
	Shares        sql.NullInt64
	Cash          sql.NullInt64
	Residue       sql.NullInt64
}

// GetInvestorRequests returns an investor's requests, newest first,
// optionally filtered by status. Cursor-based pagination on the
// submission sequence.
func (s *Service) GetInvestorRequests(
	ctx context.Context,
	investorID uuid.UUID,
	status *string,
	limit int,
	beforeSubmissionSeq *int64,
) ([]RequestResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT request_id, investor_id, kind, amount, submission_seq, status,
		       reason, settled_nav, shares, cash, residue
		FROM projections.requests
		WHERE investor_id = $1
	`
	args := []interface{}{investorID}
	argIdx := 2

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}

	if beforeSubmissionSeq != nil {
		query += fmt.Sprintf(" AND submission_seq < $%d", argIdx)
		args = append(args, *beforeSubmissionSeq)
		argIdx++
	}

	query += " ORDER BY submission_seq DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scanned []requestRow
	for rows.Next() {
		var r requestRow
		if err := rows.Scan(&r.RequestID, &r.InvestorID, &r.Kind, &r.Amount,
			&r.SubmissionSeq, &r.Status, &r.Reason, &r.SettledNav,
			&r.Shares, &r.Cash, &r.Residue); err != nil {
			return nil, err
		}
		scanned = append(scanned, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lo.Map(scanned, func(r requestRow, _ int) RequestResponse {
		return RequestResponse{
			RequestID:     r.RequestID,
			InvestorID:    r.InvestorID,
			Kind:          r.Kind,
			Amount:        r.Amount,
			SubmissionSeq: r.SubmissionSeq,
			Status:        r.Status,
			Reason:        r.Reason.String,
			SettledNav:    r.SettledNav.Int64,
			Shares:        r.Shares.Int64,
			Cash:          r.Cash.Int64,
			Residue:       r.Residue.Int64,
			AsOfSequence:  asOfSeq,
		}
	}), nil
}

// GetFundSummary returns the fund-level overview.
func (s *Service) GetFundSummary(ctx context.Context) (*FundSummaryResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &FundSummaryResponse{
		Name:         s.fundName,
		Symbol:       s.fundSymbol,
		QuoteAsset:   s.quoteAsset,
		AsOfSequence: asOfSeq,
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT sequence, nav_per_share, gross_value, net_value, shares_outstanding
		FROM projections.nav_history
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&resp.LastTickSequence, &resp.NavPerShare, &resp.GrossValue,
		&resp.NetValue, &resp.SharesOutstanding)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM projections.requests WHERE status = 'pending'
	`).Scan(&resp.PendingRequests); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM projections.investors
	`).Scan(&resp.InvestorCount); err != nil {
		return nil, err
	}

	return resp, nil
}

// GetJournalHistory returns an investor's journal entries, newest
// first, with cursor-based pagination.
func (s *Service) GetJournalHistory(
	ctx context.Context,
	investorID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("investor:%s:%%", investorID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM fund_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain in the event log and the
// per-asset zero-sum invariant in the balance projections.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM fund_log.events e1
		LEFT JOIN fund_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence FROM projections.watermark WHERE projection = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (s *Service) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
