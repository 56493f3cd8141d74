package investor

import "github.com/google/uuid"

// RequestKind discriminates subscriptions from redemptions
type RequestKind int32

const (
	KindSubscribe RequestKind = iota
	KindRedeem
)

func (k RequestKind) String() string {
	switch k {
	case KindSubscribe:
		return "subscribe"
	case KindRedeem:
		return "redeem"
	default:
		return "unknown"
	}
}

// RequestStatus is the lifecycle state of a queued request
type RequestStatus int32

const (
	StatusPending RequestStatus = iota
	StatusSettled
	StatusRejected
)

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSettled:
		return "settled"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Request is one queued investor action. Amount is quote units for
// subscriptions and share units for redemptions. SubmissionSeq is the
// global FIFO position; settlement honors it strictly across investors.
type Request struct {
	RequestID     uuid.UUID
	InvestorID    uuid.UUID
	Kind          RequestKind
	Amount        int64
	SubmissionSeq int64
	TimestampUs   int64

	Status RequestStatus
	Reason string

	// Populated at settlement
	SettledNav  int64
	SnapshotSeq int64
	Shares      int64 // Minted (subscribe) or burned (redeem)
	Cash        int64 // Cost of shares (subscribe) or payout (redeem)
	Residue     int64 // Subscription truncation refund
}
