package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/fund"
	"FundLedger/internal/investor"
	"FundLedger/internal/ledger"
	"FundLedger/internal/nav"
	"FundLedger/internal/observability"
	"FundLedger/internal/oracle"
)

// FundCore is the single-threaded event processor. Every inbound event
// flows through the same pipeline: dedup, sequence validation, dispatch
// into the fund aggregate, state hashing, emit.
type FundCore struct {
	sequence          int64
	hasher            *StateHasher
	fund              *fund.FundAccount
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one applied event plus everything downstream consumers
// need: the journal batches to persist, and the typed results the
// projection workers fold into their tables.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batches    []*ledger.Batch
	Snapshot   *nav.Snapshot     // Set for settled valuation ticks
	Request    *investor.Request // Set for subscription/redemption events
	Price      *oracle.AssetPrice
	Settlement *investor.SettlementPlan // Set for settled valuation ticks
	StateDelta []byte
}

func NewFundCore(
	startSequence int64,
	fundAccount *fund.FundAccount,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
) *FundCore {
	return &FundCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		fund:              fundAccount,
		idempotency:       NewIdempotencyChecker(lruCapacity, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline.
func (c *FundCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	partition := evt.Partition()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation. Price partitions tolerate gaps;
	// request and tick partitions are strict.
	if err := c.sequenceValidator.Validate(partition, evt.SourceSequence(), isDuplicate); err != nil {
		c.rejectEvent(eventType, "sequence")
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		c.rejectEvent(eventType, "duplicate")
		return nil
	}

	// Step 3: Dispatch into the fund aggregate
	output, err := c.dispatchEvent(evt)
	if err != nil {
		return err
	}
	if output == nil {
		// Consumed without state change (stale price). Marked processed
		// so a redelivery is deduped instead of re-validated.
		c.idempotency.MarkProcessed(eventType, idempotencyKey)
		return nil
	}

	// Step 4: State digest and hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(output)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: unmarshalable event %T: %v", evt, err))
	}

	output.Envelope = &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Partition:      partition,
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output.StateDelta = stateDigest
	c.sequence++

	// Step 5: Post-checks. A violated ledger invariant means corrupted
	// state; continuing would persist it.
	if c.sequence%1000 == 0 {
		if err := c.fund.Validate(); err != nil {
			panic(fmt.Sprintf("FATAL: ledger invariant violated at seq %d: %v", c.sequence, err))
		}
	}

	// Step 6: Emit. Persistence uses a BLOCKING send — the core stalls
	// until the persistence worker drains, so no event is lost.
	// Projections use a NON-BLOCKING send and can rebuild from the log.
	c.persistChan <- *output

	select {
	case c.projectionChan <- *output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	// Step 7: Mark processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
	}

	return nil
}

// ReplayEvent reapplies a persisted event during startup recovery.
// The idempotency tiers are skipped — a replayed event exists in the
// log by definition, so the DB tier would flag every one of them as a
// duplicate — and nothing is re-emitted downstream: replay rebuilds
// the in-memory state, the hash chain and the dedup LRU only.
func (c *FundCore) ReplayEvent(evt event.Event) error {
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	if err := c.sequenceValidator.Validate(evt.Partition(), evt.SourceSequence(), false); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	output, err := c.dispatchEvent(evt)
	if err != nil {
		return err
	}
	if output == nil {
		// Stale prices never got an envelope, so a logged event that
		// dispatches to nothing means the log and the code disagree.
		return fmt.Errorf("replayed %s %s produced no state change", eventType, idempotencyKey)
	}

	c.hasher.ComputeHash(c.sequence, c.computeStateDigest(output))
	c.sequence++

	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	return nil
}

func (c *FundCore) dispatchEvent(evt event.Event) (*CoreOutput, error) {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		return c.handlePriceUpdate(e)
	case *event.SubscriptionRequested:
		return c.handleSubscriptionRequested(e)
	case *event.RedemptionRequested:
		return c.handleRedemptionRequested(e)
	case *event.ValuationTick:
		return c.handleValuationTick(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// handlePriceUpdate feeds the oracle. Stale observations are consumed
// without an envelope — the prior price stays authoritative and the
// event log records nothing. Invalid prices are hard rejections.
func (c *FundCore) handlePriceUpdate(evt *event.PriceUpdate) (*CoreOutput, error) {
	err := c.fund.SubmitPrice(evt.Asset, evt.Price, evt.TimestampUs)
	if errors.Is(err, oracle.ErrStaleUpdate) {
		if c.metrics != nil {
			c.metrics.PricesStale.WithLabelValues(evt.Asset).Inc()
		}
		return nil, nil
	}
	if err != nil {
		c.rejectEvent(evt.EventType().String(), "invalid_price")
		return nil, fmt.Errorf("price update rejected: %w", err)
	}

	if c.metrics != nil {
		c.metrics.PricesApplied.WithLabelValues(evt.Asset).Inc()
	}

	return &CoreOutput{
		Price: &oracle.AssetPrice{Asset: evt.Asset, Price: evt.Price, TimestampUs: evt.TimestampUs},
	}, nil
}

// handleSubscriptionRequested queues the request. A below-minimum
// request is recorded with status Rejected and still gets an envelope —
// the rejection is part of fund history, not a processing failure.
func (c *FundCore) handleSubscriptionRequested(evt *event.SubscriptionRequested) (*CoreOutput, error) {
	req, err := c.fund.SubmitSubscription(evt.RequestID, evt.InvestorID, evt.Amount, evt.TimestampUs)
	return c.requestOutcome("subscribe", req, err)
}

// handleRedemptionRequested queues the request; share sufficiency is
// checked at settlement, not here, because the balance can change
// before the tick.
func (c *FundCore) handleRedemptionRequested(evt *event.RedemptionRequested) (*CoreOutput, error) {
	req, err := c.fund.SubmitRedemption(evt.RequestID, evt.InvestorID, evt.Shares, evt.TimestampUs)
	return c.requestOutcome("redeem", req, err)
}

func (c *FundCore) requestOutcome(kind string, req *investor.Request, err error) (*CoreOutput, error) {
	if errors.Is(err, investor.ErrBelowMinimum) {
		if c.metrics != nil {
			c.metrics.RequestsRejected.WithLabelValues(kind, "below_minimum").Inc()
		}
		return &CoreOutput{Request: req}, nil
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.RequestsRejected.WithLabelValues(kind, "duplicate").Inc()
		}
		return nil, fmt.Errorf("request rejected: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RequestsAccepted.WithLabelValues(kind).Inc()
		c.metrics.RequestsPending.Set(float64(c.fund.Investors().PendingCount()))
	}
	return &CoreOutput{Request: req}, nil
}

// handleValuationTick runs the atomic valuation/settlement cycle. A
// failed tick (missing price) consumes no requests and emits nothing;
// the operator issues a fresh tick once the feed recovers.
func (c *FundCore) handleValuationTick(evt *event.ValuationTick) (*CoreOutput, error) {
	tickStart := time.Now()

	result, err := c.fund.Tick(evt.ElapsedUs, evt.TimestampUs, c.sequence, evt.TickID)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, nav.ErrMissingPrice):
			reason = "missing_price"
		case errors.Is(err, nav.ErrZeroShares):
			reason = "zero_shares"
		case errors.Is(err, fund.ErrTickInProgress):
			reason = "in_progress"
		}
		if c.metrics != nil {
			c.metrics.TicksRejected.WithLabelValues(reason).Inc()
		}
		c.rejectEvent(evt.EventType().String(), reason)
		return nil, fmt.Errorf("valuation tick %s: %w", evt.TickID, err)
	}

	if c.metrics != nil {
		c.recordTickMetrics(result, time.Since(tickStart))
	}

	snap := result.Snapshot
	plan := result.Plan
	return &CoreOutput{
		Batches:    result.Batches,
		Snapshot:   &snap,
		Settlement: &plan,
	}, nil
}

func (c *FundCore) recordTickMetrics(result *fund.TickResult, elapsed time.Duration) {
	m := c.metrics
	m.TicksSettled.Inc()
	m.TickDuration.Observe(elapsed.Seconds())
	m.NavPerShare.Set(float64(result.Snapshot.NavPerShare))
	m.GrossFundValue.Set(float64(result.Snapshot.GrossValue))
	m.SharesOutstanding.Set(float64(result.Snapshot.SharesOutstanding))
	m.HighWaterMark.Set(float64(result.Snapshot.HighWaterMark))
	m.FeesAccrued.WithLabelValues("admin").Add(float64(result.Snapshot.AdminFee))
	m.FeesAccrued.WithLabelValues("mgmt").Add(float64(result.Snapshot.MgmtFee))
	m.FeesAccrued.WithLabelValues("perf").Add(float64(result.Snapshot.PerfFee))
	m.RequestsPending.Set(float64(c.fund.Investors().PendingCount()))

	for _, item := range result.Plan.Items {
		kind := "subscribe"
		if item.Request.Kind == investor.KindRedeem {
			kind = "redeem"
		}
		if item.Settled {
			m.RequestsSettled.WithLabelValues(kind).Inc()
			if item.Residue > 0 {
				m.ResiduePaid.Add(float64(item.Residue))
			}
		} else {
			m.RequestsRejected.WithLabelValues(kind, "settlement").Inc()
		}
	}

	for _, batch := range result.Batches {
		for _, j := range batch.Journals {
			m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
}

func (c *FundCore) rejectEvent(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// getEventTimestamp extracts the versioned timestamp from the event.
// The core never calls time.Now() for event timestamps — replay must
// produce byte-identical envelopes.
func (c *FundCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		return time.UnixMicro(e.TimestampUs)
	case *event.SubscriptionRequested:
		return time.UnixMicro(e.TimestampUs)
	case *event.RedemptionRequested:
		return time.UnixMicro(e.TimestampUs)
	case *event.ValuationTick:
		return time.UnixMicro(e.TimestampUs)
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T", evt))
	}
}

// computeStateDigest builds the canonical bytes for the state hash:
// every account touched by the event, sorted by path, with its
// post-event balance, plus the event-specific result bytes.
func (c *FundCore) computeStateDigest(output *CoreOutput) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	for _, batch := range output.Batches {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	tracker := c.fund.Balances()
	digest := make([]byte, 0, len(accounts)*64+96)

	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, tracker.GetBalance(key))
	}

	// Event-specific result bytes so state-only events (prices,
	// queued requests) still move the hash chain.
	if output.Price != nil {
		digest = append(digest, []byte(output.Price.Asset)...)
		digest = appendInt64LE(digest, output.Price.Price)
		digest = appendInt64LE(digest, output.Price.TimestampUs)
	}
	if output.Request != nil {
		digest = append(digest, output.Request.RequestID[:]...)
		digest = append(digest, byte(output.Request.Kind), byte(output.Request.Status))
		digest = appendInt64LE(digest, output.Request.Amount)
		digest = appendInt64LE(digest, output.Request.SubmissionSeq)
	}
	if output.Snapshot != nil {
		digest = appendInt64LE(digest, output.Snapshot.GrossValue)
		digest = appendInt64LE(digest, output.Snapshot.NetValue)
		digest = appendInt64LE(digest, output.Snapshot.SharesOutstanding)
		digest = appendInt64LE(digest, output.Snapshot.NavPerShare)
		digest = appendInt64LE(digest, output.Snapshot.HighWaterMark)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Fund            *fund.State
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state. On warm
// restart the caller loads the latest snapshot, restores, then replays
// the event log tail.
func (c *FundCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	if snap.Fund != nil {
		c.fund.RestoreState(snap.Fund)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys so a warm restart avoids
// cold-path DB lookups for recently processed events.
func (c *FundCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *FundCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *FundCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Fund exposes the aggregate for queries.
func (c *FundCore) Fund() *fund.FundAccount {
	return c.fund
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *FundCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Fund:            c.fund.SnapshotState(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
