package fixedpoint

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	QuoteConfig    = DecimalConfig{DecimalPrecision: 2, Scale: 100}       // 0.01 quote currency
	QuantityConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001 asset units
)

const (
	// BpsDenominator converts integer basis points to a rate.
	BpsDenominator = 10_000

	// YearMicros is 365 days in microseconds, the annualization basis
	// for time-prorated fee accrual.
	YearMicros = int64(365) * 24 * 60 * 60 * 1_000_000
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncate toward zero (default for valuations)
	RoundHalfEven
	RoundUp
)

// DivideInt128 performs numerator / denominator with rounding.
// RoundDown truncates toward zero, which is the policy for every
// valuation and settlement division: value may be left behind as an
// explicit residue, never created.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.CmpAbs(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// ComputeHoldingValue converts an asset quantity at a price into quote units:
// quantity * price / qtyScale, truncated.
func ComputeHoldingValue(quantity, price, qtyScale int64) int64 {
	raw := MultiplyInt128(quantity, price)
	result := DivideInt128(raw, qtyScale, RoundDown)
	putInt128(raw)
	return result
}

// ProrateFee computes a time-prorated fee:
// base * rateBps / 10000 * elapsedMicros / year, truncated once at the end.
func ProrateFee(base, rateBps, elapsedMicros int64) int64 {
	if base <= 0 || rateBps <= 0 || elapsedMicros <= 0 {
		return 0
	}
	raw := MultiplyInt128(base, rateBps)
	raw.Mul(raw, big.NewInt(elapsedMicros))

	denominator := getInt128()
	denominator.Mul(big.NewInt(BpsDenominator), big.NewInt(YearMicros))

	quotient := getInt128()
	quotient.Quo(raw, denominator)
	result := quotient.Int64()

	putInt128(raw)
	putInt128(denominator)
	putInt128(quotient)

	return result
}

// ApplyBps computes base * rateBps / 10000, truncated.
func ApplyBps(base, rateBps int64) int64 {
	if base <= 0 || rateBps <= 0 {
		return 0
	}
	raw := MultiplyInt128(base, rateBps)
	result := DivideInt128(raw, BpsDenominator, RoundDown)
	putInt128(raw)
	return result
}

// NavPerShare computes netValue * shareScale / sharesOutstanding, truncated.
// Truncation keeps the per-share figure conservative: the fractional
// remainder stays in the fund rather than being minted away.
func NavPerShare(netValue, sharesOutstanding, shareScale int64) int64 {
	raw := MultiplyInt128(netValue, shareScale)
	result := DivideInt128(raw, sharesOutstanding, RoundDown)
	putInt128(raw)
	return result
}

// SharesForAmount computes how many share units a subscription amount buys
// at a given NAV: amount * shareScale / navPerShare, truncated.
func SharesForAmount(amount, navPerShare, shareScale int64) int64 {
	raw := MultiplyInt128(amount, shareScale)
	result := DivideInt128(raw, navPerShare, RoundDown)
	putInt128(raw)
	return result
}

// AmountForShares computes the quote value of share units at a given NAV:
// shares * navPerShare / shareScale, truncated.
func AmountForShares(shares, navPerShare, shareScale int64) int64 {
	raw := MultiplyInt128(shares, navPerShare)
	result := DivideInt128(raw, shareScale, RoundDown)
	putInt128(raw)
	return result
}

// PerformanceFee computes the fee charged on per-share appreciation above
// the high-water-mark: (navBefore - hwm) * shares / shareScale * bps / 10000,
// truncated, floored at zero.
func PerformanceFee(navBeforeFees, highWaterMark, sharesOutstanding, shareScale, rateBps int64) int64 {
	gain := navBeforeFees - highWaterMark
	if gain <= 0 || rateBps <= 0 || sharesOutstanding <= 0 {
		return 0
	}
	raw := MultiplyInt128(gain, sharesOutstanding)
	raw.Mul(raw, big.NewInt(rateBps))

	denominator := getInt128()
	denominator.Mul(big.NewInt(shareScale), big.NewInt(BpsDenominator))

	quotient := getInt128()
	quotient.Quo(raw, denominator)
	result := quotient.Int64()

	putInt128(raw)
	putInt128(denominator)
	putInt128(quotient)

	return result
}
