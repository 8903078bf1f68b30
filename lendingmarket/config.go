package lendingmarket

import (
	"fmt"
	"math/big"
)

// PoolConfig holds the per-pool economic parameters, grounded on the
// blueprint's pool_config module but renamed to the spec's vocabulary and
// extended with the protocol's flash-loan and liquidation fee splits.
type PoolConfig struct {
	ProtocolFeeRate           *big.Rat `toml:"protocol_fee_rate"`
	ProtocolFlashloanFeeRate  *big.Rat `toml:"protocol_flashloan_fee_rate"`
	ProtocolLiquidationFeeRate *big.Rat `toml:"protocol_liquidation_fee_rate"`
	FlashloanFeeRate          *big.Rat `toml:"flashloan_fee_rate"`
	LiquidationBonusRate      *big.Rat `toml:"liquidation_bonus_rate"`
	LoanCloseFactor           *big.Rat `toml:"loan_close_factor"`

	DepositLimit      *big.Int `toml:"deposit_limit"`
	BorrowLimit       *big.Int `toml:"borrow_limit"`
	UtilizationLimit  *big.Rat `toml:"utilization_limit"`

	InterestUpdatePeriodMinutes int64 `toml:"interest_update_period_minutes"`
	PriceUpdatePeriodMinutes    int64 `toml:"price_update_period_minutes"`
	PriceExpirationPeriodSeconds int64 `toml:"price_expiration_period_seconds"`
}

// Check validates internal consistency of the config without reference to
// any other pool. Mirrors pool_config.rs's check().
func (c *PoolConfig) Check() error {
	rates := []struct {
		name string
		v    *big.Rat
	}{
		{"protocol_fee_rate", c.ProtocolFeeRate},
		{"protocol_flashloan_fee_rate", c.ProtocolFlashloanFeeRate},
		{"protocol_liquidation_fee_rate", c.ProtocolLiquidationFeeRate},
		{"flashloan_fee_rate", c.FlashloanFeeRate},
		{"liquidation_bonus_rate", c.LiquidationBonusRate},
		{"loan_close_factor", c.LoanCloseFactor},
	}
	one := big.NewRat(1, 1)
	for _, r := range rates {
		if r.v == nil || r.v.Sign() < 0 || r.v.Cmp(one) > 0 {
			return fmt.Errorf("%w: %s must be within [0,1]", ErrInvalidConfig, r.name)
		}
	}
	if c.UtilizationLimit != nil && (c.UtilizationLimit.Sign() < 0 || c.UtilizationLimit.Cmp(one) > 0) {
		return fmt.Errorf("%w: utilization_limit must be within [0,1]", ErrInvalidConfig)
	}
	if c.DepositLimit != nil && c.DepositLimit.Sign() < 0 {
		return fmt.Errorf("%w: deposit_limit must be non-negative", ErrInvalidConfig)
	}
	if c.BorrowLimit != nil && c.BorrowLimit.Sign() < 0 {
		return fmt.Errorf("%w: borrow_limit must be non-negative", ErrInvalidConfig)
	}
	if c.InterestUpdatePeriodMinutes <= 0 {
		return fmt.Errorf("%w: interest_update_period_minutes must be positive", ErrInvalidConfig)
	}
	if c.PriceUpdatePeriodMinutes <= 0 {
		return fmt.Errorf("%w: price_update_period_minutes must be positive", ErrInvalidConfig)
	}
	if c.PriceExpirationPeriodSeconds <= 0 {
		return fmt.Errorf("%w: price_expiration_period_seconds must be positive", ErrInvalidConfig)
	}
	return nil
}

// Update applies a partial set of field changes, re-validating the result.
// The zero value of each pointer field means "leave unchanged".
func (c *PoolConfig) Update(patch PoolConfig) error {
	merged := *c
	if patch.ProtocolFeeRate != nil {
		merged.ProtocolFeeRate = patch.ProtocolFeeRate
	}
	if patch.ProtocolFlashloanFeeRate != nil {
		merged.ProtocolFlashloanFeeRate = patch.ProtocolFlashloanFeeRate
	}
	if patch.ProtocolLiquidationFeeRate != nil {
		merged.ProtocolLiquidationFeeRate = patch.ProtocolLiquidationFeeRate
	}
	if patch.FlashloanFeeRate != nil {
		merged.FlashloanFeeRate = patch.FlashloanFeeRate
	}
	if patch.LiquidationBonusRate != nil {
		merged.LiquidationBonusRate = patch.LiquidationBonusRate
	}
	if patch.LoanCloseFactor != nil {
		merged.LoanCloseFactor = patch.LoanCloseFactor
	}
	if patch.DepositLimit != nil {
		merged.DepositLimit = patch.DepositLimit
	}
	if patch.BorrowLimit != nil {
		merged.BorrowLimit = patch.BorrowLimit
	}
	if patch.UtilizationLimit != nil {
		merged.UtilizationLimit = patch.UtilizationLimit
	}
	if patch.InterestUpdatePeriodMinutes != 0 {
		merged.InterestUpdatePeriodMinutes = patch.InterestUpdatePeriodMinutes
	}
	if patch.PriceUpdatePeriodMinutes != 0 {
		merged.PriceUpdatePeriodMinutes = patch.PriceUpdatePeriodMinutes
	}
	if patch.PriceExpirationPeriodSeconds != 0 {
		merged.PriceExpirationPeriodSeconds = patch.PriceExpirationPeriodSeconds
	}
	if err := merged.Check(); err != nil {
		return err
	}
	*c = merged
	return nil
}

// CheckDepositLimit reports whether supplying additional liquidity would
// push the pool's total deposits past its configured cap.
func (c *PoolConfig) CheckDepositLimit(totalAfter *big.Int) error {
	if c.DepositLimit == nil {
		return nil
	}
	if totalAfter.Cmp(c.DepositLimit) > 0 {
		return ErrDepositLimitExceeded
	}
	return nil
}

// CheckBorrowLimit reports whether a new total borrowed amount would
// exceed the pool's configured cap.
func (c *PoolConfig) CheckBorrowLimit(totalAfter *big.Int) error {
	if c.BorrowLimit == nil {
		return nil
	}
	if totalAfter.Cmp(c.BorrowLimit) > 0 {
		return ErrBorrowLimitExceeded
	}
	return nil
}

// CheckUtilizationLimit reports whether utilization = borrowed/(available+borrowed)
// exceeds the pool's configured ceiling.
func (c *PoolConfig) CheckUtilizationLimit(available, borrowed *big.Int) error {
	if c.UtilizationLimit == nil {
		return nil
	}
	total := new(big.Int).Add(available, borrowed)
	if total.Sign() == 0 {
		return nil
	}
	utilization := new(big.Rat).SetFrac(borrowed, total)
	if utilization.Cmp(c.UtilizationLimit) > 0 {
		return ErrUtilizationLimitExceeded
	}
	return nil
}

// MarketConfig holds market-wide (not per-pool) parameters.
type MarketConfig struct {
	MaxCDPPosition int `toml:"max_cdp_position"`
}

// Check validates the market configuration.
func (c *MarketConfig) Check() error {
	if c.MaxCDPPosition <= 0 {
		return fmt.Errorf("%w: max_cdp_position must be positive", ErrInvalidConfig)
	}
	return nil
}

// DefaultMarketConfig mirrors the blueprint's default cardinality cap.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{MaxCDPPosition: 10}
}
