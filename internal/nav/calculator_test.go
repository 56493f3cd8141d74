package nav_test

import (
	"errors"
	"testing"

	"FundLedger/internal/fixedpoint"
	"FundLedger/internal/nav"
	"FundLedger/internal/oracle"
)

func TestCompute_PerformanceFeeAboveHighWaterMark(t *testing.T) {
	// 1000 whole shares at gross 110000.00, hwm 100.00, 20% performance
	// fee: fee 2000.00, net 108000.00, nav 108.00.
	calc := nav.NewCalculator("USD", 1, 0)

	snap, err := calc.Compute(nav.ComputeInput{
		Holdings:          map[string]int64{"USD": 11_000_000},
		Prices:            oracle.PriceView{},
		Fees:              nav.FeeSchedule{PerfFeeBps: 2000},
		SharesOutstanding: 1000,
		HighWaterMark:     10_000,
		ElapsedUs:         3600 * 1_000_000,
		Sequence:          7,
		TimestampUs:       1_000,
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if snap.GrossValue != 11_000_000 {
		t.Errorf("gross = %d, want 11_000_000", snap.GrossValue)
	}
	if snap.PerfFee != 200_000 {
		t.Errorf("perf fee = %d, want 200_000", snap.PerfFee)
	}
	if snap.NetValue != 10_800_000 {
		t.Errorf("net = %d, want 10_800_000", snap.NetValue)
	}
	if snap.NavPerShare != 10_800 {
		t.Errorf("nav = %d, want 10_800", snap.NavPerShare)
	}
	// High-water-mark advances to the pre-fee per-share value.
	if snap.HighWaterMark != 11_000 {
		t.Errorf("hwm = %d, want 11_000", snap.HighWaterMark)
	}
}

func TestCompute_NoPerformanceFeeBelowHighWaterMark(t *testing.T) {
	calc := nav.NewCalculator("USD", 1, 0)

	snap, err := calc.Compute(nav.ComputeInput{
		Holdings:          map[string]int64{"USD": 9_000_000},
		Prices:            oracle.PriceView{},
		Fees:              nav.FeeSchedule{PerfFeeBps: 2000},
		SharesOutstanding: 1000,
		HighWaterMark:     10_000,
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if snap.PerfFee != 0 {
		t.Errorf("perf fee = %d, want 0", snap.PerfFee)
	}
	// High-water-mark never ratchets down.
	if snap.HighWaterMark != 10_000 {
		t.Errorf("hwm = %d, want 10_000", snap.HighWaterMark)
	}
}

func TestCompute_ValuesHoldingsFromPriceView(t *testing.T) {
	calc := nav.NewCalculator("USD", 1, 0)

	snap, err := calc.Compute(nav.ComputeInput{
		Holdings: map[string]int64{
			"USD": 50_000,     // 500.00 cash at par
			"ETH": 2_000_000,  // 2 ETH
		},
		Prices: oracle.PriceView{
			"ETH": {Asset: "ETH", Price: 120_000, TimestampUs: 1_000}, // 1200.00
		},
		SharesOutstanding: 10,
		HighWaterMark:     10_000,
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	// 500.00 + 2400.00 = 2900.00
	if snap.GrossValue != 290_000 {
		t.Errorf("gross = %d, want 290_000", snap.GrossValue)
	}
}

func TestCompute_MissingPrice(t *testing.T) {
	calc := nav.NewCalculator("USD", 1, 0)

	_, err := calc.Compute(nav.ComputeInput{
		Holdings:          map[string]int64{"ETH": 2_000_000},
		Prices:            oracle.PriceView{},
		SharesOutstanding: 10,
	})
	if !errors.Is(err, nav.ErrMissingPrice) {
		t.Errorf("got %v, want ErrMissingPrice", err)
	}
}

func TestCompute_ZeroQuantityHoldingNeedsNoPrice(t *testing.T) {
	calc := nav.NewCalculator("USD", 1, 0)

	_, err := calc.Compute(nav.ComputeInput{
		Holdings:          map[string]int64{"USD": 1_000, "LTC": 0},
		Prices:            oracle.PriceView{},
		SharesOutstanding: 10,
	})
	if err != nil {
		t.Errorf("zero-quantity holding should not require a price: %v", err)
	}
}

func TestCompute_TimeProratedFees(t *testing.T) {
	calc := nav.NewCalculator("USD", 1, 0)

	// 1% admin over half a year on 100000.00 = 500.00; mgmt 0.
	snap, err := calc.Compute(nav.ComputeInput{
		Holdings:          map[string]int64{"USD": 10_000_000},
		Prices:            oracle.PriceView{},
		Fees:              nav.FeeSchedule{AdminFeeBps: 100},
		SharesOutstanding: 1000,
		HighWaterMark:     10_000,
		ElapsedUs:         fixedpoint.YearMicros / 2,
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if snap.AdminFee != 50_000 {
		t.Errorf("admin fee = %d, want 50_000", snap.AdminFee)
	}
	if snap.MgmtFee != 0 {
		t.Errorf("mgmt fee = %d, want 0", snap.MgmtFee)
	}
	if snap.NetValue != 9_950_000 {
		t.Errorf("net = %d, want 9_950_000", snap.NetValue)
	}
}

func TestCompute_FeesClampedToGross(t *testing.T) {
	calc := nav.NewCalculator("USD", 1, 0)

	// Absurd schedule: fees would exceed gross without the clamp.
	snap, err := calc.Compute(nav.ComputeInput{
		Holdings:          map[string]int64{"USD": 1_000},
		Prices:            oracle.PriceView{},
		Fees:              nav.FeeSchedule{AdminFeeBps: 10_000, MgmtFeeBps: 10_000, PerfFeeBps: 10_000},
		SharesOutstanding: 1,
		HighWaterMark:     0,
		ElapsedUs:         fixedpoint.YearMicros * 2,
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	total := snap.AdminFee + snap.MgmtFee + snap.PerfFee
	if total > snap.GrossValue {
		t.Errorf("fees %d exceed gross %d", total, snap.GrossValue)
	}
	if snap.NetValue < 0 {
		t.Errorf("net value went negative: %d", snap.NetValue)
	}
	if snap.NetValue != snap.GrossValue-total {
		t.Errorf("net %d != gross %d - fees %d", snap.NetValue, snap.GrossValue, total)
	}
}

func TestCompute_ZeroSharesUsesSeedNav(t *testing.T) {
	calc := nav.NewCalculator("USD", 1, 10_000)

	snap, err := calc.Compute(nav.ComputeInput{
		Holdings:          map[string]int64{},
		Prices:            oracle.PriceView{},
		Fees:              nav.FeeSchedule{AdminFeeBps: 100, PerfFeeBps: 2000},
		SharesOutstanding: 0,
		ElapsedUs:         fixedpoint.YearMicros,
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if snap.NavPerShare != 10_000 {
		t.Errorf("nav = %d, want seed 10_000", snap.NavPerShare)
	}
	if snap.AdminFee != 0 || snap.MgmtFee != 0 || snap.PerfFee != 0 {
		t.Errorf("no fees should accrue with zero shares: %+v", snap)
	}
}

func TestCompute_ZeroSharesNoSeedWithValue_Fails(t *testing.T) {
	calc := nav.NewCalculator("USD", 1, 0)

	_, err := calc.Compute(nav.ComputeInput{
		Holdings:          map[string]int64{"USD": 5_000},
		Prices:            oracle.PriceView{},
		SharesOutstanding: 0,
	})
	if !errors.Is(err, nav.ErrZeroShares) {
		t.Errorf("got %v, want ErrZeroShares", err)
	}
}

func TestCompute_NavTruncatesTowardZero(t *testing.T) {
	calc := nav.NewCalculator("USD", 1, 0)

	// 1000.00 over 3 shares = 333.333... truncates to 333.33.
	snap, err := calc.Compute(nav.ComputeInput{
		Holdings:          map[string]int64{"USD": 100_000},
		Prices:            oracle.PriceView{},
		SharesOutstanding: 3,
		HighWaterMark:     50_000,
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if snap.NavPerShare != 33_333 {
		t.Errorf("nav = %d, want 33_333", snap.NavPerShare)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	calc := nav.NewCalculator("USD", 10_000, 0)

	in := nav.ComputeInput{
		Holdings: map[string]int64{
			"USD": 123_457,
			"ETH": 3_141_592,
			"BTC": 271_828,
		},
		Prices: oracle.PriceView{
			"ETH": {Asset: "ETH", Price: 119_003, TimestampUs: 9},
			"BTC": {Asset: "BTC", Price: 2_999_999, TimestampUs: 9},
		},
		Fees:              nav.FeeSchedule{AdminFeeBps: 100, PerfFeeBps: 2000},
		SharesOutstanding: 7_777_777,
		HighWaterMark:     10_123,
		ElapsedUs:         86_400_000_000,
	}

	first, err := calc.Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := calc.Compute(in)
		if err != nil {
			t.Fatalf("Compute failed on repeat: %v", err)
		}
		if again != first {
			t.Fatalf("computation not deterministic: %+v vs %+v", again, first)
		}
	}
}
