package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"FundLedger/internal/event"
	"FundLedger/internal/fixedpoint"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string)
// into a typed event.Event. The ingestion shell validates, parses and
// converts raw events before they reach the single-threaded core; the
// core itself never sees strings or decimals.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	case "SubscriptionRequested":
		return parseSubscriptionRequested(raw.Data)
	case "RedemptionRequested":
		return parseRedemptionRequested(raw.Data)
	case "ValuationTick":
		return parseValuationTick(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// parseQuoteAmount converts a decimal string ("1850.25") to a
// quote-scaled int64. Decimal arithmetic stops at this boundary;
// everything past it is fixed-point.
func parseQuoteAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q: %w", s, err)
	}

	scaled := d.Shift(int32(fixedpoint.QuoteConfig.DecimalPrecision))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%q exceeds %d decimal places", s, fixedpoint.QuoteConfig.DecimalPrecision)
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%q out of range", s)
	}
	return bi.Int64(), nil
}

// parseQuantity converts a decimal string to a quantity-scaled int64.
func parseQuantity(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q: %w", s, err)
	}

	scaled := d.Shift(int32(fixedpoint.QuantityConfig.DecimalPrecision))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%q exceeds %d decimal places", s, fixedpoint.QuantityConfig.DecimalPrecision)
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%q out of range", s)
	}
	return bi.Int64(), nil
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers; monetary
// values arrive as decimal strings.

type priceUpdateJSON struct {
	UpdateID    string `json:"update_id"`
	Asset       string `json:"asset"`
	Price       string `json:"price"` // Decimal string, quote currency
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	if j.UpdateID == "" {
		return nil, fmt.Errorf("parse PriceUpdate: missing update_id")
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("parse PriceUpdate: missing asset")
	}

	price, err := parseQuoteAmount(j.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}

	return &event.PriceUpdate{
		UpdateID:    j.UpdateID,
		Asset:       j.Asset,
		Price:       price,
		TimestampUs: j.TimestampUs,
		Sequence:    j.Sequence,
	}, nil
}

type subscriptionJSON struct {
	RequestID   string `json:"request_id"`
	InvestorID  string `json:"investor_id"`
	Amount      string `json:"amount"` // Decimal string, quote currency
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseSubscriptionRequested(data []byte) (*event.SubscriptionRequested, error) {
	var j subscriptionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SubscriptionRequested: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	investorID, err := uuid.Parse(j.InvestorID)
	if err != nil {
		return nil, fmt.Errorf("parse investor_id: %w", err)
	}
	amount, err := parseQuoteAmount(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	return &event.SubscriptionRequested{
		RequestID:   requestID,
		InvestorID:  investorID,
		Amount:      amount,
		TimestampUs: j.TimestampUs,
		Sequence:    j.Sequence,
	}, nil
}

type redemptionJSON struct {
	RequestID   string `json:"request_id"`
	InvestorID  string `json:"investor_id"`
	Shares      int64  `json:"shares"` // Share units (already scaled)
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRedemptionRequested(data []byte) (*event.RedemptionRequested, error) {
	var j redemptionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RedemptionRequested: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	investorID, err := uuid.Parse(j.InvestorID)
	if err != nil {
		return nil, fmt.Errorf("parse investor_id: %w", err)
	}

	return &event.RedemptionRequested{
		RequestID:   requestID,
		InvestorID:  investorID,
		Shares:      j.Shares,
		TimestampUs: j.TimestampUs,
		Sequence:    j.Sequence,
	}, nil
}

type valuationTickJSON struct {
	TickID      string `json:"tick_id"`
	ElapsedUs   int64  `json:"elapsed_us"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseValuationTick(data []byte) (*event.ValuationTick, error) {
	var j valuationTickJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ValuationTick: %w", err)
	}
	if j.TickID == "" {
		return nil, fmt.Errorf("parse ValuationTick: missing tick_id")
	}
	if j.ElapsedUs < 0 {
		return nil, fmt.Errorf("parse ValuationTick: negative elapsed_us %d", j.ElapsedUs)
	}

	return &event.ValuationTick{
		TickID:      j.TickID,
		ElapsedUs:   j.ElapsedUs,
		TimestampUs: j.TimestampUs,
		Sequence:    j.Sequence,
	}, nil
}
