package lendingmarket

import (
	"fmt"
	"math/big"
)

// Breakpoint is one vertex of a piecewise-linear utilization/interest-rate
// curve: at UtilizationRate the borrow interest rate (annualized) is
// InterestRate. Both are expressed as big.Rat fractions (0.8 == 80%).
type Breakpoint struct {
	UtilizationRate *big.Rat
	InterestRate    *big.Rat
}

// InterestStrategy is the per-pool piecewise-linear interest rate curve
// (spec §4.1). A pool's borrow APR is looked up by utilization, linearly
// interpolated between the two bracketing breakpoints.
type InterestStrategy struct {
	breakpoints []Breakpoint
}

// NewInterestStrategy constructs a strategy from an initial set of
// breakpoints, validating them the same way SetBreakpoints does.
func NewInterestStrategy(breakpoints []Breakpoint) (*InterestStrategy, error) {
	s := &InterestStrategy{}
	if err := s.SetBreakpoints(breakpoints); err != nil {
		return nil, err
	}
	return s, nil
}

// SetBreakpoints replaces the curve wholesale. Breakpoints must be supplied
// in strictly increasing utilization order, the first must start at
// utilization 0, the last must not exceed utilization 1, and every rate
// must be non-negative.
func (s *InterestStrategy) SetBreakpoints(breakpoints []Breakpoint) error {
	if len(breakpoints) < 2 {
		return fmt.Errorf("%w: at least two breakpoints are required", ErrInvalidBreakpoint)
	}
	zero := big.NewRat(0, 1)
	one := big.NewRat(1, 1)
	if breakpoints[0].UtilizationRate.Cmp(zero) != 0 {
		return fmt.Errorf("%w: first breakpoint must be at utilization 0", ErrInvalidBreakpoint)
	}
	prev := breakpoints[0].UtilizationRate
	for i, bp := range breakpoints {
		if bp.UtilizationRate.Sign() < 0 || bp.UtilizationRate.Cmp(one) > 0 {
			return fmt.Errorf("%w: utilization must be within [0,1]", ErrInvalidBreakpoint)
		}
		if bp.InterestRate.Sign() < 0 {
			return fmt.Errorf("%w: interest rate must be non-negative", ErrInvalidBreakpoint)
		}
		if i > 0 && bp.UtilizationRate.Cmp(prev) <= 0 {
			return fmt.Errorf("%w: utilization breakpoints must strictly increase", ErrInvalidBreakpoint)
		}
		prev = bp.UtilizationRate
	}

	cloned := make([]Breakpoint, len(breakpoints))
	for i, bp := range breakpoints {
		cloned[i] = Breakpoint{
			UtilizationRate: new(big.Rat).Set(bp.UtilizationRate),
			InterestRate:    new(big.Rat).Set(bp.InterestRate),
		}
	}
	s.breakpoints = cloned
	return nil
}

// Breakpoints returns a defensive copy of the current curve.
func (s *InterestStrategy) Breakpoints() []Breakpoint {
	out := make([]Breakpoint, len(s.breakpoints))
	for i, bp := range s.breakpoints {
		out[i] = Breakpoint{
			UtilizationRate: new(big.Rat).Set(bp.UtilizationRate),
			InterestRate:    new(big.Rat).Set(bp.InterestRate),
		}
	}
	return out
}

// GetInterestRate returns the annualized borrow rate for the given
// utilization, linearly interpolated between bracketing breakpoints.
// Utilization beyond the last breakpoint is clamped to the final rate.
func (s *InterestStrategy) GetInterestRate(utilization *big.Rat) *big.Rat {
	bps := s.breakpoints
	if utilization.Cmp(bps[0].UtilizationRate) <= 0 {
		return new(big.Rat).Set(bps[0].InterestRate)
	}
	last := bps[len(bps)-1]
	if utilization.Cmp(last.UtilizationRate) >= 0 {
		return new(big.Rat).Set(last.InterestRate)
	}
	for i := 1; i < len(bps); i++ {
		lo, hi := bps[i-1], bps[i]
		if utilization.Cmp(hi.UtilizationRate) <= 0 {
			// linear interpolation: lo.rate + (u-lo.u)/(hi.u-lo.u) * (hi.rate-lo.rate)
			uSpan := new(big.Rat).Sub(hi.UtilizationRate, lo.UtilizationRate)
			uOffset := new(big.Rat).Sub(utilization, lo.UtilizationRate)
			rateSpan := new(big.Rat).Sub(hi.InterestRate, lo.InterestRate)
			frac := new(big.Rat).Quo(uOffset, uSpan)
			delta := new(big.Rat).Mul(frac, rateSpan)
			return delta.Add(delta, lo.InterestRate)
		}
	}
	// unreachable given the clamp above
	return new(big.Rat).Set(last.InterestRate)
}
