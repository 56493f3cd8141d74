package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for
// recovery. Snapshots contain ledger balances, holdings, prices, the
// investor request queue, sequence cursors, the idempotency LRU and
// the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64            `json:"sequence"`
	StateHash       []byte           `json:"state_hash"`
	Balances        []BalanceSnap    `json:"balances"`
	Holdings        map[string]int64 `json:"holdings"` // Asset -> quantity
	HighWaterMark   int64            `json:"high_water_mark"`
	LastNav         *NavRow          `json:"last_nav,omitempty"`
	Prices          []PriceSnap      `json:"prices"`
	Requests        []RequestSnap    `json:"requests"`
	NextRequestSeq  int64            `json:"next_request_seq"`
	Accounts        []AccountSnap    `json:"accounts"`
	SequenceState   map[string]int64 `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string         `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time        `json:"created_at"`
}

// BalanceSnap is one serializable ledger balance. It carries the raw
// account key fields rather than the rendered path so restore is exact
// even for system accounts, whose path drops the entity name.
type BalanceSnap struct {
	Scope    uint8  `json:"scope"`
	EntityID []byte `json:"entity_id"`
	SubType  uint8  `json:"sub_type"`
	AssetID  uint16 `json:"asset_id"`
	Balance  int64  `json:"balance"`
}

// PriceSnap is a serializable oracle price.
type PriceSnap struct {
	Asset       string `json:"asset"`
	Price       int64  `json:"price"`
	TimestampUs int64  `json:"timestamp_us"`
}

// RequestSnap is a serializable investor request.
type RequestSnap struct {
	RequestID     string `json:"request_id"`
	InvestorID    string `json:"investor_id"`
	Kind          int32  `json:"kind"`
	Amount        int64  `json:"amount"`
	SubmissionSeq int64  `json:"submission_seq"`
	TimestampUs   int64  `json:"timestamp_us"`
	Status        int32  `json:"status"`
	Reason        string `json:"reason,omitempty"`
	SettledNav    int64  `json:"settled_nav,omitempty"`
	SnapshotSeq   int64  `json:"snapshot_seq,omitempty"`
	Shares        int64  `json:"shares,omitempty"`
	Cash          int64  `json:"cash,omitempty"`
	Residue       int64  `json:"residue,omitempty"`
}

// AccountSnap is a serializable investor account.
type AccountSnap struct {
	InvestorID string `json:"investor_id"`
	Principal  int64  `json:"principal"`
	Settled    int64  `json:"settled"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying events from the snapshot
// sequence forward before being trusted for restarts.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO fund_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart the caller restores it then replays events from
// snapshot.sequence+1. A nil result means cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM fund_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE fund_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay —
// warm restart replays from the snapshot, cold restart replays all.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, partition, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM fund_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Partition,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM fund_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
