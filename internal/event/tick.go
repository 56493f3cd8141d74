package event

import "fmt"

// ValuationTick drives one atomic valuation and settlement cycle.
// ElapsedUs is the time since the previous tick for fee proration;
// both timestamps are versioned inputs carried by the event.
type ValuationTick struct {
	TickID      string
	ElapsedUs   int64
	TimestampUs int64
	Sequence    int64
}

func (t *ValuationTick) IdempotencyKey() string {
	return fmt.Sprintf("tick:%s", t.TickID)
}

func (t *ValuationTick) EventType() EventType {
	return EventTypeValuationTick
}

func (t *ValuationTick) Partition() string {
	return "ticks"
}

func (t *ValuationTick) SourceSequence() int64 {
	return t.Sequence
}
