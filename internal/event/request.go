package event

import "github.com/google/uuid"

// SubscriptionRequested queues an investor cash subscription.
// Amount is in quote units; shares are minted at the NAV of the
// settling valuation tick, never at submission time.
type SubscriptionRequested struct {
	RequestID   uuid.UUID
	InvestorID  uuid.UUID
	Amount      int64
	TimestampUs int64
	Sequence    int64
}

func (s *SubscriptionRequested) IdempotencyKey() string {
	return s.RequestID.String()
}

func (s *SubscriptionRequested) EventType() EventType {
	return EventTypeSubscriptionRequested
}

func (s *SubscriptionRequested) Partition() string {
	return "requests"
}

func (s *SubscriptionRequested) SourceSequence() int64 {
	return s.Sequence
}

// RedemptionRequested queues an investor share redemption.
// Shares is in share units; the payout is priced at the NAV of the
// settling valuation tick.
type RedemptionRequested struct {
	RequestID   uuid.UUID
	InvestorID  uuid.UUID
	Shares      int64
	TimestampUs int64
	Sequence    int64
}

func (r *RedemptionRequested) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *RedemptionRequested) EventType() EventType {
	return EventTypeRedemptionRequested
}

func (r *RedemptionRequested) Partition() string {
	return "requests"
}

func (r *RedemptionRequested) SourceSequence() int64 {
	return r.Sequence
}
