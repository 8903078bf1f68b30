package lendingmarket

import (
	"fmt"
	"math/big"
)

// AssetKey identifies a resource for liquidation-threshold lookup purposes:
// both its specific resource address and its broader asset type (e.g.
// "stablecoin", "lsu"), since overrides can be scoped to either.
type AssetKey struct {
	Resource string
	Type     string
}

type assetPair struct {
	Collateral string
	Loan       string
}

// LiquidationThreshold is the cross-asset discount matrix used by the
// health checker to convert a unit of collateral value into the fraction
// of it that counts toward a loan's collateralization (spec §4.2). Lookups
// fall back from the most specific override to a market-wide default.
type LiquidationThreshold struct {
	defaultValue    *big.Rat
	byCollateral    map[string]*big.Rat
	byLoan          map[string]*big.Rat
	byPair          map[assetPair]*big.Rat
}

// NewLiquidationThreshold constructs a matrix with the given market-wide
// default ratio, which must lie in (0, 1].
func NewLiquidationThreshold(defaultValue *big.Rat) (*LiquidationThreshold, error) {
	if err := validateRatio(defaultValue); err != nil {
		return nil, err
	}
	return &LiquidationThreshold{
		defaultValue: new(big.Rat).Set(defaultValue),
		byCollateral: make(map[string]*big.Rat),
		byLoan:       make(map[string]*big.Rat),
		byPair:       make(map[assetPair]*big.Rat),
	}, nil
}

func validateRatio(r *big.Rat) error {
	if r == nil || r.Sign() <= 0 || r.Cmp(big.NewRat(1, 1)) > 0 {
		return fmt.Errorf("%w: liquidation threshold ratio must be in (0,1]", ErrInvalidRatio)
	}
	return nil
}

// SetDefault replaces the market-wide fallback ratio.
func (t *LiquidationThreshold) SetDefault(value *big.Rat) error {
	if err := validateRatio(value); err != nil {
		return err
	}
	t.defaultValue = new(big.Rat).Set(value)
	return nil
}

// SetCollateralTypeOverride sets the ratio used whenever the collateral
// asset's type matches collateralType, regardless of the loan asset.
func (t *LiquidationThreshold) SetCollateralTypeOverride(collateralType string, value *big.Rat) error {
	if err := validateRatio(value); err != nil {
		return err
	}
	t.byCollateral[collateralType] = new(big.Rat).Set(value)
	return nil
}

// SetLoanTypeOverride sets the ratio used whenever the loan asset's type
// matches loanType, regardless of the collateral asset.
func (t *LiquidationThreshold) SetLoanTypeOverride(loanType string, value *big.Rat) error {
	if err := validateRatio(value); err != nil {
		return err
	}
	t.byLoan[loanType] = new(big.Rat).Set(value)
	return nil
}

// SetPairOverride sets the ratio used for the exact (collateral, loan)
// resource pair, taking precedence over every other override.
func (t *LiquidationThreshold) SetPairOverride(collateralResource, loanResource string, value *big.Rat) error {
	if err := validateRatio(value); err != nil {
		return err
	}
	t.byPair[assetPair{Collateral: collateralResource, Loan: loanResource}] = new(big.Rat).Set(value)
	return nil
}

// GetRatio resolves the liquidation threshold ratio for a specific
// collateral/loan pair, preferring (in order) an exact resource-pair
// override, a collateral-type override, a loan-type override, and finally
// the market-wide default.
func (t *LiquidationThreshold) GetRatio(collateral, loan AssetKey) *big.Rat {
	if v, ok := t.byPair[assetPair{Collateral: collateral.Resource, Loan: loan.Resource}]; ok {
		return new(big.Rat).Set(v)
	}
	if v, ok := t.byCollateral[collateral.Type]; ok {
		return new(big.Rat).Set(v)
	}
	if v, ok := t.byLoan[loan.Type]; ok {
		return new(big.Rat).Set(v)
	}
	return new(big.Rat).Set(t.defaultValue)
}
