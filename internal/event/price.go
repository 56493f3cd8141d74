package event

import "fmt"

// PriceUpdate carries one external asset price observation.
// Price is quote-scaled fixed-point; TimestampUs is the observation
// time in epoch microseconds, a versioned input, not wall-clock.
type PriceUpdate struct {
	UpdateID    string
	Asset       string
	Price       int64
	TimestampUs int64
	Sequence    int64
}

func (p *PriceUpdate) IdempotencyKey() string {
	return p.UpdateID
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

// Partition isolates each asset's price feed: gaps within a feed are
// tolerated (a missed quote is not an error), regressions are not.
func (p *PriceUpdate) Partition() string {
	return fmt.Sprintf("price:%s", p.Asset)
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.Sequence
}
