package lendingmarket

import (
	"math/big"
)

// CDPLookup resolves a CDP by id, letting the health checker walk a
// delegatee CDP's link back to its delegator without depending on the
// coordinator's full store surface.
type CDPLookup interface {
	GetCDP(id uint64) (*CDP, error)
}

// PoolLookup resolves a pool state by resource.
type PoolLookup interface {
	GetPool(resource string) (*PoolState, error)
}

// collateralPosition is one resource's contribution to a CDP's
// collateral, expressed both in pool units and in discounted value.
type collateralPosition struct {
	Resource         string
	AssetKey         AssetKey
	Units            *big.Int
	Amount           *big.Int
	Value            *big.Rat
	LiquidationBonus *big.Rat
}

// loanPosition is one resource's contribution to a CDP's debt.
type loanPosition struct {
	Resource        string
	AssetKey        AssetKey
	Units           *big.Int
	Amount          *big.Int
	Value           *big.Rat
	LoanCloseFactor *big.Rat
}

// HealthResult is the outcome of evaluating a CDP's collateralization.
// LTVIsInfinite marks the blueprint's Decimal::MAX sentinel: zero
// discounted collateral backing a non-zero loan, which is refinanceable
// rather than liquidatable in the ordinary sense (there is nothing left to
// seize).
type HealthResult struct {
	TotalLoanValue                 *big.Rat
	TotalDiscountedCollateralValue *big.Rat
	LTV                            *big.Rat
	LTVIsInfinite                  bool
}

// HealthChecker evaluates a CDP's collateralization against the
// cross-asset liquidation threshold matrix, aggregating a delegator's
// exposure to every CDP that delegates against its collateral. Grounded
// on the blueprint's CDPHealthChecker (cdp_health_checker.rs).
type HealthChecker struct {
	threshold *LiquidationThreshold
	pools     PoolLookup
	cdps      CDPLookup
	now       int64
}

// NewHealthChecker constructs a checker bound to a point in time: callers
// evaluate a coherent snapshot of the CDP graph, not a moving target.
func NewHealthChecker(threshold *LiquidationThreshold, pools PoolLookup, cdps CDPLookup, now int64) *HealthChecker {
	return &HealthChecker{threshold: threshold, pools: pools, cdps: cdps, now: now}
}

func (h *HealthChecker) loadCollateral(cdp *CDP) ([]collateralPosition, error) {
	out := make([]collateralPosition, 0, len(cdp.Collaterals))
	for resource, units := range cdp.Collaterals {
		p, err := h.pools.GetPool(resource)
		if err != nil {
			return nil, err
		}
		ratio, err := p.Vault.GetPoolUnitRatio()
		if err != nil {
			return nil, err
		}
		amount := mulRatToZero(units, ratio)
		price, err := p.GetValidPrice(h.now)
		if err != nil {
			return nil, err
		}
		value := new(big.Rat).Mul(new(big.Rat).SetInt(amount), price)
		out = append(out, collateralPosition{
			Resource:         resource,
			AssetKey:         p.AssetKey,
			Units:            units,
			Amount:           amount,
			Value:            value,
			LiquidationBonus: p.Config.LiquidationBonusRate,
		})
	}
	return out, nil
}

// loanPositionsFor computes the loan positions attributable directly to
// cdp's own Loans map (not any delegatee's).
func (h *HealthChecker) loanPositionsFor(loans map[string]*big.Int) ([]loanPosition, error) {
	out := make([]loanPosition, 0, len(loans))
	for resource, units := range loans {
		p, err := h.pools.GetPool(resource)
		if err != nil {
			return nil, err
		}
		ratio := p.GetLoanUnitRatio()
		amount := mulRatToZero(units, ratio)
		price, err := p.GetValidPrice(h.now)
		if err != nil {
			return nil, err
		}
		value := new(big.Rat).Mul(new(big.Rat).SetInt(amount), price)
		out = append(out, loanPosition{
			Resource:        resource,
			AssetKey:        p.AssetKey,
			Units:           units,
			Amount:          amount,
			Value:           value,
			LoanCloseFactor: p.Config.LoanCloseFactor,
		})
	}
	return out, nil
}

// aggregateLoans collects every loan a CDP is liable for: its own Loans,
// plus — when it is a delegator — every delegatee's DelegateeLoans
// recorded against it. A delegatee's own direct Loans (against its own
// collateral, if any) are evaluated separately by the caller; delegation
// depth is capped at 1 so a delegatee never itself has delegatees.
func (h *HealthChecker) aggregateLoans(cdp *CDP) ([]loanPosition, error) {
	direct, err := h.loanPositionsFor(cdp.Loans)
	if err != nil {
		return nil, err
	}
	if len(cdp.DelegateeLoans) == 0 {
		return direct, nil
	}
	byResource := make(map[string]*big.Int)
	for _, m := range cdp.DelegateeLoans {
		for resource, units := range m {
			cur, ok := byResource[resource]
			if !ok {
				cur = big.NewInt(0)
			}
			byResource[resource] = new(big.Int).Add(cur, units)
		}
	}
	delegated, err := h.loanPositionsFor(byResource)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]loanPosition, len(direct)+len(delegated))
	for _, lp := range direct {
		merged[lp.Resource] = lp
	}
	for _, lp := range delegated {
		if existing, ok := merged[lp.Resource]; ok {
			existing.Units = new(big.Int).Add(existing.Units, lp.Units)
			existing.Amount = new(big.Int).Add(existing.Amount, lp.Amount)
			existing.Value = new(big.Rat).Add(existing.Value, lp.Value)
			merged[lp.Resource] = existing
		} else {
			merged[lp.Resource] = lp
		}
	}
	out := make([]loanPosition, 0, len(merged))
	for _, lp := range merged {
		out = append(out, lp)
	}
	return out, nil
}

// evaluate computes the aggregated loan value, discounted collateral
// value, and LTV for cdp, combining a delegatee's own collateral with its
// delegator's collateral when cdp is a delegatee.
func (h *HealthChecker) evaluate(cdp *CDP) (*HealthResult, error) {
	collateral, err := h.loadCollateral(cdp)
	if err != nil {
		return nil, err
	}

	var loans []loanPosition
	if cdp.IsDelegatee() {
		delegator, err := h.cdps.GetCDP(cdp.Type.DelegatorID)
		if err != nil {
			return nil, err
		}
		delegatorCollateral, err := h.loadCollateral(delegator)
		if err != nil {
			return nil, err
		}
		collateral = append(collateral, delegatorCollateral...)

		// A delegatee's debt lives on its delegator's DelegateeLoans map,
		// keyed by the delegatee's own id — Coordinator.Borrow records it
		// there rather than on the delegatee's own Loans map, mirroring the
		// blueprint's single owning KVStore entry per delegator.
		own := cdp.Loans
		if delegated, ok := delegator.DelegateeLoans[cdp.ID]; ok {
			merged := make(map[string]*big.Int, len(own)+len(delegated))
			for resource, units := range own {
				merged[resource] = units
			}
			for resource, units := range delegated {
				if cur, ok := merged[resource]; ok {
					merged[resource] = new(big.Int).Add(cur, units)
				} else {
					merged[resource] = units
				}
			}
			own = merged
		}
		loans, err = h.loanPositionsFor(own)
		if err != nil {
			return nil, err
		}
	} else {
		loans, err = h.aggregateLoans(cdp)
		if err != nil {
			return nil, err
		}
	}

	totalLoanValue := big.NewRat(0, 1)
	for _, lp := range loans {
		totalLoanValue.Add(totalLoanValue, lp.Value)
	}

	if len(loans) == 0 {
		return &HealthResult{
			TotalLoanValue:                 totalLoanValue,
			TotalDiscountedCollateralValue: big.NewRat(0, 1),
			LTV:                            big.NewRat(0, 1),
		}, nil
	}

	// Each loan resource sees a possibly different discount on the same
	// collateral basket (the threshold matrix is keyed per collateral/loan
	// pair), so the aggregate discounted collateral value is the
	// loan-value-weighted average of the per-loan discounted totals.
	weighted := big.NewRat(0, 1)
	for _, lp := range loans {
		perLoanCollateral := big.NewRat(0, 1)
		for _, cp := range collateral {
			ratio := h.threshold.GetRatio(cp.AssetKey, lp.AssetKey)
			if cp.LiquidationBonus != nil {
				ceiling := new(big.Rat).Sub(big.NewRat(1, 1), cp.LiquidationBonus)
				if ratio.Cmp(ceiling) > 0 {
					ratio = ceiling
				}
			}
			perLoanCollateral.Add(perLoanCollateral, new(big.Rat).Mul(ratio, cp.Value))
		}
		weighted.Add(weighted, new(big.Rat).Mul(lp.Value, perLoanCollateral))
	}

	result := &HealthResult{TotalLoanValue: totalLoanValue}
	if totalLoanValue.Sign() == 0 {
		result.TotalDiscountedCollateralValue = big.NewRat(0, 1)
		result.LTV = big.NewRat(0, 1)
		return result, nil
	}

	discounted := new(big.Rat).Quo(weighted, totalLoanValue)
	result.TotalDiscountedCollateralValue = discounted

	if discounted.Sign() == 0 {
		result.LTVIsInfinite = true
		return result, nil
	}
	result.LTV = new(big.Rat).Quo(totalLoanValue, discounted)
	return result, nil
}

// CheckCDP returns ErrUnhealthyPosition unless cdp's loan-to-value ratio
// is strictly below 1, and (for a delegatee) also within its own
// max_loan_value / max_loan_value_ratio caps.
func (h *HealthChecker) CheckCDP(cdp *CDP) error {
	result, err := h.evaluate(cdp)
	if err != nil {
		return err
	}
	if result.LTVIsInfinite {
		return ErrUnhealthyPosition
	}
	if result.LTV.Cmp(big.NewRat(1, 1)) >= 0 {
		return ErrUnhealthyPosition
	}
	if cdp.IsDelegatee() {
		if cdp.Type.MaxLoanValue != nil && result.TotalLoanValue.Cmp(cdp.Type.MaxLoanValue) > 0 {
			return ErrDelegateeLoanCapExceeded
		}
		if cdp.Type.MaxLoanValueRatio != nil {
			cap := new(big.Rat).Mul(cdp.Type.MaxLoanValueRatio, result.TotalDiscountedCollateralValue)
			if result.TotalLoanValue.Cmp(cap) > 0 {
				return ErrDelegateeLoanCapExceeded
			}
		}
	}
	return nil
}

// CanLiquidate reports whether cdp's LTV has reached or exceeded 1.
func (h *HealthChecker) CanLiquidate(cdp *CDP) (bool, error) {
	result, err := h.evaluate(cdp)
	if err != nil {
		return false, err
	}
	if result.LTVIsInfinite {
		return true, nil
	}
	return result.LTV.Cmp(big.NewRat(1, 1)) >= 0, nil
}

// CanRefinance reports whether cdp has outstanding debt but zero
// discounted collateral backing it — the blueprint's Decimal::MAX LTV
// sentinel — making liquidation (seizing collateral) impossible and
// refinancing the only path to resolving the position.
func (h *HealthChecker) CanRefinance(cdp *CDP) (bool, error) {
	result, err := h.evaluate(cdp)
	if err != nil {
		return false, err
	}
	return result.LTVIsInfinite, nil
}

// SelfClosableLoanValue returns the maximum value of resource that may be
// repaid on cdp's behalf during a liquidation: the loan's own value scaled
// by its pool's loan_close_factor. This is the only place
// loan_close_factor is applied — the repayment path itself must not also
// discount the maximum repayable amount, which would apply the factor
// twice.
func (h *HealthChecker) SelfClosableLoanValue(cdp *CDP, resource string) (*big.Rat, error) {
	units, ok := cdp.Loans[resource]
	if !ok {
		return big.NewRat(0, 1), nil
	}
	p, err := h.pools.GetPool(resource)
	if err != nil {
		return nil, err
	}
	ratio := p.GetLoanUnitRatio()
	amount := mulRatToZero(units, ratio)
	price, err := p.GetValidPrice(h.now)
	if err != nil {
		return nil, err
	}
	value := new(big.Rat).Mul(new(big.Rat).SetInt(amount), price)
	return new(big.Rat).Mul(value, p.Config.LoanCloseFactor), nil
}
