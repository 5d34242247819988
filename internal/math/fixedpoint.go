package math

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
	// QuoteConfig is the unit-of-account precision used for all amounts.
	// All deposited assets convert to this at a fixed 1:1 rate.
	QuoteConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001

	// ShareConfig is the precision used for proportional-claim math.
	// Scale-up happens BEFORE the divide so truncation never biases
	// toward the protocol.
	ShareConfig = DecimalConfig{DecimalPrecision: 12, Scale: 1_000_000_000_000}
)

// Pooled big.Int for intermediate calculations
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	intPool.Put(v)
}

// MulDiv computes a * b / den using a big.Int intermediate to prevent
// int64 overflow. Truncates toward zero.
func MulDiv(a, b, den int64) int64 {
	num := getInt()
	num.Mul(big.NewInt(a), big.NewInt(b))
	num.Quo(num, big.NewInt(den))
	result := num.Int64()
	putInt(num)
	return result
}

// ProportionalShare computes the asset amount a provider is owed when
// redeeming `redeemed` of `ownedBefore` tokens against `depositedBefore`
// of backing assets:
//
//	share = redeemed * SCALE / ownedBefore
//	assetToReturn = depositedBefore * share / SCALE
//
// The scale-up-then-divide order is load-bearing: dividing first would
// truncate the ratio and systematically short the provider.
func ProportionalShare(depositedBefore, redeemed, ownedBefore int64) int64 {
	if ownedBefore <= 0 || redeemed <= 0 {
		return 0
	}

	share := getInt()
	share.Mul(big.NewInt(redeemed), big.NewInt(ShareConfig.Scale))
	share.Quo(share, big.NewInt(ownedBefore))

	out := getInt()
	out.Mul(big.NewInt(depositedBefore), share)
	out.Quo(out, big.NewInt(ShareConfig.Scale))

	result := out.Int64()
	putInt(share)
	putInt(out)
	return result
}

// PercentOf returns amount * percent / 100.
func PercentOf(amount, percent int64) int64 {
	return MulDiv(amount, percent, 100)
}

// ClampSub subtracts b from a, clamping the result at zero.
func ClampSub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}

// MinInt64 returns the smaller of a and b.
func MinInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
