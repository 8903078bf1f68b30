// Package pool specifies the single-resource pool primitive the lending
// pool state is built on top of (spec §1, out of scope: "the single-resource
// pool primitive that holds liquidity buckets"). It mints pool-unit shares
// pro-rata to the pool's combined available-plus-borrowed liquidity and
// tracks how much of that liquidity is currently on loan.
package pool

import (
	"errors"
	"math/big"
)

var (
	// ErrResourceMismatch is returned when a bucket or unit amount does not
	// belong to the pool it is presented to.
	ErrResourceMismatch = errors.New("pool: resource address mismatch")
	// ErrInsufficientLiquidity is returned when a withdrawal or redemption
	// exceeds the pool's available (not-on-loan) liquidity.
	ErrInsufficientLiquidity = errors.New("pool: insufficient liquidity")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("pool: amount must be positive")
)

// DepositKind distinguishes liquidity returning from a loan (does not
// generate LP yield on its own, it settles a prior withdrawal) from
// liquidity newly supplied to LPs (protocol fees, flash-loan LP shares).
type DepositKind int

const (
	FromTemporaryUse DepositKind = iota
	LiquiditySupply
)

// WithdrawKind mirrors DepositKind for the withdrawal side: TemporaryUse
// marks liquidity leaving for a loan or flash loan (expected to return),
// LiquidityWithdrawal marks a permanent removal (protocol fee retention).
type WithdrawKind int

const (
	TemporaryUse WithdrawKind = iota
	LiquidityWithdrawal
)

// RoundingMode controls how fractional unit/amount conversions truncate.
// Every rounding favors the pool over the individual caller, per spec §9.
type RoundingMode int

const (
	ToZero RoundingMode = iota
	ToNearestMidpointToEven
)

// SingleResourcePool is the liquidity primitive a LendingPoolState wraps.
type SingleResourcePool interface {
	// Contribute deposits amount of the underlying resource and mints
	// pool units proportional to the current unit ratio.
	Contribute(amount *big.Int) (poolUnits *big.Int, err error)

	// Redeem burns poolUnits and returns the corresponding amount of the
	// underlying resource, rounded ToZero.
	Redeem(poolUnits *big.Int) (amount *big.Int, err error)

	// ProtectedDeposit returns liquidity to the pool without minting units.
	ProtectedDeposit(amount *big.Int, kind DepositKind) error

	// ProtectedWithdraw removes liquidity from the pool without burning
	// units, for use by the lending pool state's borrow/fee-skim paths.
	ProtectedWithdraw(amount *big.Int, kind WithdrawKind, rounding RoundingMode) (*big.Int, error)

	// GetPoolUnitRatio returns (available+borrowed)/totalUnits, or 1 when
	// no units have been minted yet.
	GetPoolUnitRatio() (*big.Rat, error)

	// GetPooledAmount returns the liquidity actually held by the pool and
	// the liquidity currently out on loan (including accrued interest
	// credited via IncreaseExternalLiquidity).
	GetPooledAmount() (available, borrowed *big.Int, err error)

	// IncreaseExternalLiquidity informs the pool that `amount` of value has
	// accrued to borrowers' debt (and therefore to LPs' claim) without any
	// tokens moving. The borrowed amount rises and so does the pool-unit
	// ratio: existing pool-unit holders' claim grows.
	IncreaseExternalLiquidity(amount *big.Int) error
}

// Snapshotter is implemented by SingleResourcePool implementations that
// support point-in-time rollback, used by the lending market's in-memory
// store to give its Transaction wrapper all-or-nothing semantics.
type Snapshotter interface {
	Snapshot() any
	Restore(any)
}
