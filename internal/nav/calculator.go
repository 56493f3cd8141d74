package nav

import (
	"errors"
	"fmt"

	"FundLedger/internal/fixedpoint"
	"FundLedger/internal/oracle"
)

var (
	// ErrMissingPrice means a held asset has no price in the valuation view.
	ErrMissingPrice = errors.New("missing price for held asset")
	// ErrZeroShares means value exists but no shares and no seed NAV to
	// price the first subscription against.
	ErrZeroShares = errors.New("no shares outstanding and no seed nav")
)

// FeeSchedule holds the fund's fee rates in integer basis points.
// Immutable after startup.
type FeeSchedule struct {
	AdminFeeBps  int64
	MgmtFeeBps   int64
	PerfFeeBps   int64
	ManagerBasis int64 // Initial high-water-mark, quote-scaled
}

// Snapshot is one immutable valuation result.
type Snapshot struct {
	Sequence          int64
	GrossValue        int64
	NetValue          int64
	SharesOutstanding int64
	NavPerShare       int64
	AdminFee          int64
	MgmtFee           int64
	PerfFee           int64
	HighWaterMark     int64 // After this valuation
	TimestampUs       int64
}

// ComputeInput carries everything one valuation reads. The calculator
// is pure: same input, same snapshot.
type ComputeInput struct {
	Holdings          map[string]int64 // asset -> quantity (quote asset in quote units)
	Prices            oracle.PriceView
	Fees              FeeSchedule
	SharesOutstanding int64
	HighWaterMark     int64
	ElapsedUs         int64 // Since previous tick, for fee proration
	Sequence          int64
	TimestampUs       int64
}

// Calculator values holdings and accrues fees.
type Calculator struct {
	quoteAsset string
	shareScale int64
	qtyScale   int64
	seedNav    int64 // NAV used while no shares are outstanding
}

func NewCalculator(quoteAsset string, shareScale, seedNav int64) *Calculator {
	return &Calculator{
		quoteAsset: quoteAsset,
		shareScale: shareScale,
		qtyScale:   fixedpoint.QuantityConfig.Scale,
		seedNav:    seedNav,
	}
}

// Compute produces the valuation snapshot for one tick.
//
// Every division truncates toward zero: management and admin fees are
// prorated over elapsed time on a 365-day basis, the performance fee is
// charged only on per-share value above the high-water-mark, and total
// fees are clamped so net value never goes negative.
func (c *Calculator) Compute(in ComputeInput) (Snapshot, error) {
	gross, err := c.grossValue(in.Holdings, in.Prices)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Sequence:          in.Sequence,
		GrossValue:        gross,
		SharesOutstanding: in.SharesOutstanding,
		HighWaterMark:     in.HighWaterMark,
		TimestampUs:       in.TimestampUs,
	}

	if in.SharesOutstanding == 0 {
		// Nothing to charge fees against. The seed NAV prices the
		// first subscriptions.
		if c.seedNav == 0 && gross != 0 {
			return Snapshot{}, fmt.Errorf("%w: gross value %d", ErrZeroShares, gross)
		}
		snap.NetValue = gross
		snap.NavPerShare = c.seedNav
		return snap, nil
	}

	adminFee := fixedpoint.ProrateFee(gross, in.Fees.AdminFeeBps, in.ElapsedUs)
	mgmtFee := fixedpoint.ProrateFee(gross, in.Fees.MgmtFeeBps, in.ElapsedUs)

	navBeforeFees := fixedpoint.NavPerShare(gross, in.SharesOutstanding, c.shareScale)
	perfFee := fixedpoint.PerformanceFee(
		navBeforeFees, in.HighWaterMark, in.SharesOutstanding, c.shareScale, in.Fees.PerfFeeBps)

	// Clamp so fees never exceed gross value: performance first, then
	// management, then admin.
	remaining := gross
	if perfFee > remaining {
		perfFee = remaining
	}
	remaining -= perfFee
	if mgmtFee > remaining {
		mgmtFee = remaining
	}
	remaining -= mgmtFee
	if adminFee > remaining {
		adminFee = remaining
	}

	snap.AdminFee = adminFee
	snap.MgmtFee = mgmtFee
	snap.PerfFee = perfFee
	snap.NetValue = gross - adminFee - mgmtFee - perfFee
	snap.NavPerShare = fixedpoint.NavPerShare(snap.NetValue, in.SharesOutstanding, c.shareScale)

	if navBeforeFees > snap.HighWaterMark {
		snap.HighWaterMark = navBeforeFees
	}

	return snap, nil
}

func (c *Calculator) grossValue(holdings map[string]int64, prices oracle.PriceView) (int64, error) {
	var gross int64
	for asset, qty := range holdings {
		if qty == 0 {
			continue
		}
		if asset == c.quoteAsset {
			// Cash values at par.
			gross += qty
			continue
		}
		p, ok := prices[asset]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingPrice, asset)
		}
		gross += fixedpoint.ComputeHoldingValue(qty, p.Price, c.qtyScale)
	}
	return gross, nil
}
