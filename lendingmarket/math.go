package lendingmarket

import "math/big"

// ray is the 10^27 fixed-point scale used by the ray helpers below. The
// lending pool state keeps its ratios, interest rates and liquidation
// thresholds as big.Rat, not as ray-scaled integers.
var ray = newRay()

func newRay() *big.Int {
	r := big.NewInt(10)
	return r.Exp(r, big.NewInt(27), nil)
}

// rayOfRat scales a big.Rat up into a ray-fixed-point big.Int, truncating
// toward zero.
func rayOfRat(r *big.Rat) *big.Int {
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	return truncRatToZero(scaled)
}

// ratOfRay converts a ray-fixed-point big.Int back to a big.Rat.
func ratOfRay(v *big.Int) *big.Rat {
	return new(big.Rat).SetFrac(v, ray)
}

func truncRatToZero(r *big.Rat) *big.Int {
	q := new(big.Int)
	q.Quo(r.Num(), r.Denom())
	return q
}

// rayMul multiplies two ray-scaled values, truncating toward zero.
func rayMul(a, b *big.Int) *big.Int {
	prod := new(big.Int).Mul(a, b)
	return prod.Quo(prod, ray)
}

// rayDiv divides two ray-scaled values, truncating toward zero.
func rayDiv(a, b *big.Int) *big.Int {
	num := new(big.Int).Mul(a, ray)
	return num.Quo(num, b)
}

// mulRatToZero computes amount*ratio truncated toward zero, where ratio is
// an arbitrary-precision big.Rat (not necessarily ray-scaled). This is the
// primitive behind every amount<->unit conversion in the pool state.
func mulRatToZero(amount *big.Int, ratio *big.Rat) *big.Int {
	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(amount), ratio)
	return truncRatToZero(scaled)
}

// divRatToZero computes amount/ratio truncated toward zero.
func divRatToZero(amount *big.Int, ratio *big.Rat) *big.Int {
	scaled := new(big.Rat).Quo(new(big.Rat).SetInt(amount), ratio)
	return truncRatToZero(scaled)
}

// truncTo17Decimals truncates a ray-scaled value (27 implied decimals) down
// to 17 decimals of precision, by zeroing its trailing 10 ray-decimal
// digits. This mirrors the blueprint's rounding of total_loan_unit to 17
// decimal places after every repayment (a non-positive loan delta), which
// keeps compounding interest from drifting the unit ratio via
// sub-dust residue.
func truncTo17Decimals(v *big.Int) *big.Int {
	tenPow10 := new(big.Int).Exp(big.NewInt(10), big.NewInt(10), nil)
	q := new(big.Int).Quo(v, tenPow10)
	return q.Mul(q, tenPow10)
}

// halfUpToEven rounds a big.Rat to the nearest integer, breaking exact
// midpoint ties to the nearest even integer. Used only for the flash-loan
// fee split between the protocol and the liquidity pool, per spec §5.2.
func halfUpToEven(r *big.Rat) *big.Int {
	floor := new(big.Int).Quo(r.Num(), r.Denom())
	// Exact only when r.Denom() divides r.Num() evenly; reconstruct the
	// remainder to test for a midpoint.
	rem := new(big.Rat).Sub(r, new(big.Rat).SetInt(floor))
	half := big.NewRat(1, 2)
	switch rem.Cmp(half) {
	case -1:
		return floor
	case 1:
		return floor.Add(floor, big.NewInt(1))
	default:
		// exact midpoint: round to even
		if floor.Bit(0) == 0 {
			return floor
		}
		return floor.Add(floor, big.NewInt(1))
	}
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
