package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"FundLedger/internal/investor"
	"FundLedger/internal/ledger"
	"FundLedger/internal/nav"
	"FundLedger/internal/observability"
)

// Output is what one processed event contributes to the read models.
// The orchestrator bridges between the core's output and this.
type Output struct {
	Sequence   int64
	EventType  string
	Batches    []*ledger.Batch
	Request    *investor.Request
	Snapshot   *nav.Snapshot
	Settlement *investor.SettlementPlan
	Timestamp  int64
}

// Worker folds processed events into the projections schema. The feed
// channel is non-blocking with drop on the core side: if projections
// fall behind, they can be rebuilt from the event log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan Output, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run consumes outputs until the context is canceled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := w.processOutput(ctx, output); err != nil {
				// Eventually consistent: log and move on, the tables
				// can be rebuilt from fund_log.
				w.logger.Warn().
					Err(err).
					Int64("sequence", output.Sequence).
					Str("event_type", output.EventType).
					Msg("projection update failed")
			}
			if w.metrics != nil {
				w.metrics.ProjectionUpdateDur.WithLabelValues("all").Observe(time.Since(start).Seconds())
			}

			w.lastSeq = output.Sequence
		}
	}
}

// LastSequence returns the highest sequence this worker has consumed.
func (w *Worker) LastSequence() int64 {
	return w.lastSeq
}

func (w *Worker) processOutput(ctx context.Context, output Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, batch := range output.Batches {
		for _, j := range batch.Journals {
			if err := w.applyJournal(ctx, tx, output.Sequence, j); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	if output.Request != nil {
		if err := upsertRequest(ctx, tx, output.Sequence, output.Request); err != nil {
			return fmt.Errorf("request projection: %w", err)
		}
	}

	if output.Settlement != nil {
		for _, item := range output.Settlement.Items {
			if err := upsertRequest(ctx, tx, output.Sequence, item.Request); err != nil {
				return fmt.Errorf("settled request projection: %w", err)
			}
			if err := applySettlementItem(ctx, tx, output.Sequence, item); err != nil {
				return fmt.Errorf("investor projection: %w", err)
			}
		}
	}

	if output.Snapshot != nil {
		if err := insertNavPoint(ctx, tx, output.Snapshot); err != nil {
			return fmt.Errorf("nav projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (projection) DO UPDATE SET sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyJournal folds one double-entry transfer into the balance table.
// Debit increases the account, credit decreases it, mirroring the
// in-memory balance tracker.
func (w *Worker) applyJournal(ctx context.Context, tx *sql.Tx, seq int64, j ledger.Journal) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, updated_seq)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $3, updated_seq = $4
	`, j.DebitAccount.AccountPath(), uint16(j.AssetID), j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, updated_seq)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $3, updated_seq = $4
	`, j.CreditAccount.AccountPath(), uint16(j.AssetID), j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func upsertRequest(ctx context.Context, tx *sql.Tx, seq int64, req *investor.Request) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.requests
			(request_id, investor_id, kind, amount, submission_seq, status,
			 reason, settled_nav, shares, cash, residue, updated_seq)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12)
		ON CONFLICT (request_id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			settled_nav = EXCLUDED.settled_nav,
			shares = EXCLUDED.shares,
			cash = EXCLUDED.cash,
			residue = EXCLUDED.residue,
			updated_seq = EXCLUDED.updated_seq
	`, req.RequestID, req.InvestorID, req.Kind.String(), req.Amount,
		req.SubmissionSeq, req.Status.String(), req.Reason,
		req.SettledNav, req.Shares, req.Cash, req.Residue, seq)
	return err
}

func applySettlementItem(ctx context.Context, tx *sql.Tx, seq int64, item investor.SettlementItem) error {
	if !item.Settled {
		return nil
	}

	req := item.Request
	sharesDelta := item.Shares
	payout := int64(0)
	principal := int64(0)
	if req.Kind == investor.KindRedeem {
		sharesDelta = -item.Shares
		payout = item.Cash
	} else {
		principal = item.Cash
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.investors (investor_id, shares, residue, payout, principal, updated_seq)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (investor_id) DO UPDATE SET
			shares = projections.investors.shares + $2,
			residue = projections.investors.residue + $3,
			payout = projections.investors.payout + $4,
			principal = projections.investors.principal + $5,
			updated_seq = $6
	`, req.InvestorID, sharesDelta, item.Residue, payout, principal, seq)
	return err
}

func insertNavPoint(ctx context.Context, tx *sql.Tx, snap *nav.Snapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.nav_history
			(sequence, nav_per_share, gross_value, net_value, shares_outstanding, timestamp_us)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO NOTHING
	`, snap.Sequence, snap.NavPerShare, snap.GrossValue, snap.NetValue,
		snap.SharesOutstanding, snap.TimestampUs)
	return err
}

// Rebuild truncates the derived tables and refolds what can be derived
// from fund_log. Balances come from the journal, the NAV series from
// the persisted snapshots. Request and investor rows refold as events
// stream back through the worker during replay.
func Rebuild(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.requests`,
		`TRUNCATE projections.investors`,
		`TRUNCATE projections.nav_history`,
		`DELETE FROM projections.watermark WHERE projection = 'main'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, updated_seq)
		SELECT debit_account, MIN(asset_id), SUM(amount), MAX(sequence)
		FROM fund_log.journal
		GROUP BY debit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = EXCLUDED.balance, updated_seq = EXCLUDED.updated_seq
	`); err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, updated_seq)
		SELECT credit_account, MIN(asset_id), -SUM(amount), MAX(sequence)
		FROM fund_log.journal
		GROUP BY credit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    updated_seq = GREATEST(projections.balances.updated_seq, EXCLUDED.updated_seq)
	`); err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.nav_history
			(sequence, nav_per_share, gross_value, net_value, shares_outstanding, timestamp_us)
		SELECT sequence, nav_per_share, gross_value, net_value, shares_outstanding, timestamp_us
		FROM fund_log.nav_snapshots
		ON CONFLICT (sequence) DO NOTHING
	`); err != nil {
		return fmt.Errorf("rebuild nav history: %w", err)
	}

	return nil
}
