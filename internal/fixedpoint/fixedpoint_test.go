package fixedpoint

import (
	"math"
	"testing"
)

func TestComputeHoldingValue(t *testing.T) {
	// 2.5 units (qty scale 1e6) at price 1200.00 (quote scale 100) = 3000.00
	got := ComputeHoldingValue(2_500_000, 120_000, QuantityConfig.Scale)
	if got != 300_000 {
		t.Errorf("holding value = %d, want 300000", got)
	}
}

func TestComputeHoldingValueTruncates(t *testing.T) {
	// 1/3 unit at price 1.00 -> 0.333... truncates to 0.33
	got := ComputeHoldingValue(333_333, 100, QuantityConfig.Scale)
	if got != 33 {
		t.Errorf("holding value = %d, want 33", got)
	}
}

func TestComputeHoldingValueLargeNoOverflow(t *testing.T) {
	// Near int64 max quantity times a large price must not wrap.
	qty := int64(math.MaxInt64 / 1000)
	got := ComputeHoldingValue(qty, 1_000_000, QuantityConfig.Scale)
	if got <= 0 {
		t.Errorf("holding value overflowed: %d", got)
	}
}

func TestNavPerShareTruncates(t *testing.T) {
	// net 1000.00 over 3 shares (scale 1) = 333.33 truncated
	got := NavPerShare(100_000, 3, 1)
	if got != 33_333 {
		t.Errorf("nav per share = %d, want 33333", got)
	}
}

func TestPerformanceFee(t *testing.T) {
	// Gross 110000.00, 1000 shares (scale 1), nav before fees 110.00,
	// hwm 100.00, 20% fee: gain 10.00 * 1000 shares * 20% = 2000.00
	navBefore := NavPerShare(11_000_000, 1000, 1)
	if navBefore != 11_000 {
		t.Fatalf("nav before fees = %d, want 11000", navBefore)
	}

	fee := PerformanceFee(navBefore, 10_000, 1000, 1, 2000)
	if fee != 200_000 {
		t.Errorf("performance fee = %d, want 200000", fee)
	}
}

func TestPerformanceFeeBelowHighWaterMark(t *testing.T) {
	fee := PerformanceFee(9_000, 10_000, 1000, 1, 2000)
	if fee != 0 {
		t.Errorf("performance fee = %d, want 0 below high-water-mark", fee)
	}
}

func TestProrateFee(t *testing.T) {
	// 1% admin fee on 100000.00 over a full year = 1000.00
	fee := ProrateFee(10_000_000, 100, YearMicros)
	if fee != 100_000 {
		t.Errorf("full-year fee = %d, want 100000", fee)
	}

	// Half a year accrues half, truncated.
	half := ProrateFee(10_000_000, 100, YearMicros/2)
	if half != 50_000 {
		t.Errorf("half-year fee = %d, want 50000", half)
	}

	// Zero elapsed accrues nothing.
	if got := ProrateFee(10_000_000, 100, 0); got != 0 {
		t.Errorf("zero-elapsed fee = %d, want 0", got)
	}
}

func TestSharesForAmountAndBack(t *testing.T) {
	// 500.00 at nav 108.00 with whole-share precision buys 4 shares;
	// the 68.00 difference is the caller's residue to refund.
	shares := SharesForAmount(50_000, 10_800, 1)
	if shares != 4 {
		t.Fatalf("shares = %d, want 4", shares)
	}

	cost := AmountForShares(shares, 10_800, 1)
	if cost != 43_200 {
		t.Errorf("cost = %d, want 43200", cost)
	}
	if residue := 50_000 - cost; residue != 6_800 {
		t.Errorf("residue = %d, want 6800", residue)
	}
}

func TestDivideInt128RoundingModes(t *testing.T) {
	num := MultiplyInt128(7, 1)
	defer putInt128(num)

	if got := DivideInt128(num, 2, RoundDown); got != 3 {
		t.Errorf("RoundDown 7/2 = %d, want 3", got)
	}
	if got := DivideInt128(num, 2, RoundUp); got != 4 {
		t.Errorf("RoundUp 7/2 = %d, want 4", got)
	}
	if got := DivideInt128(num, 2, RoundHalfEven); got != 4 {
		t.Errorf("RoundHalfEven 7/2 = %d, want 4", got)
	}
}

func TestApplyBps(t *testing.T) {
	if got := ApplyBps(10_000, 2000); got != 2_000 {
		t.Errorf("20%% of 100.00 = %d, want 2000", got)
	}
	if got := ApplyBps(10_000, 0); got != 0 {
		t.Errorf("0 bps = %d, want 0", got)
	}
}
