package core

import (
	"fmt"
	"strings"
)

// SequenceValidator validates source sequences per partition.
// Price partitions ("price:<asset>") tolerate gaps — a missed quote is
// not an error — but regressions are silently ignored as stale.
// Request and tick partitions are strict: every sequence, in order.
// Not thread-safe — only accessed from the single-threaded core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence

	gaps       map[string]int64
	outOfOrder map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		gaps:            make(map[string]int64),
		outOfOrder:      make(map[string]int64),
	}
}

// IsPricePartition reports whether a partition carries price updates.
func IsPricePartition(partition string) bool {
	return strings.HasPrefix(partition, "price:")
}

// Validate checks source sequence ordering for one partition.
func (sv *SequenceValidator) Validate(partition string, sourceSequence int64, isDuplicate bool) error {
	if IsPricePartition(partition) {
		return sv.validatePriceSequence(partition, sourceSequence)
	}

	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			// Already processed — expected on redelivery
			return nil
		}
		sv.outOfOrder[partition]++
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	// sourceSequence > expected — gap detected
	sv.gaps[partition]++
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

func (sv *SequenceValidator) validatePriceSequence(partition string, sourceSequence int64) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		// Stale — the oracle's timestamp check is the real guard
		return nil
	}

	if sourceSequence > expected {
		sv.gaps[partition]++
	}

	sv.expectedNextSeq[partition] = sourceSequence + 1
	return nil
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition initializes an expected sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns a copy of all partition cursors (for snapshots)
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// Gaps returns how many gaps a partition has seen
func (sv *SequenceValidator) Gaps(partition string) int64 {
	return sv.gaps[partition]
}

// OutOfOrder returns how many out-of-order events a partition has seen
func (sv *SequenceValidator) OutOfOrder(partition string) int64 {
	return sv.outOfOrder[partition]
}
