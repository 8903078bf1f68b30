package lendingmarket

import (
	"fmt"
	"math/big"

	"github.com/weftfinance/lending-market/ledger"
	"github.com/weftfinance/lending-market/oracle"
	"github.com/weftfinance/lending-market/pool"
)

const minutesPerYear = 525600

// PoolState is the per-asset lending pool: a SingleResourcePool wrapped
// with loan-unit accounting, an interest curve, a cached oracle price, and
// the economic configuration that governs it. Grounded on the blueprint's
// LendingPoolState module (pool_state.rs), generalized from its
// hard-coded XRD/pool pairing to an arbitrary resource.
type PoolState struct {
	Resource ledger.ResourceAddress
	AssetKey AssetKey

	Vault   pool.SingleResourcePool
	Interest *InterestStrategy
	Config  PoolConfig
	Status  *OperatingStatus

	ledgerImpl     ledger.Ledger
	vaultAccount   ledger.AccountAddress
	reserveAccount ledger.AccountAddress
	priceFeed      oracle.Feed
	sink           EventSink

	totalLoan     *big.Int // underlying-unit debt principal+interest outstanding
	totalLoanUnit *big.Int // loan units

	cachedPrice          *big.Rat
	cachedPriceTimestamp int64
	lastUpdate           int64

	reserveBalance *big.Int
}

// NewPoolState constructs a pool state for resource, seeding its cached
// price from feed immediately (the blueprint does the same at pool
// creation so the very first operation isn't debounced against a zero
// timestamp).
func NewPoolState(
	resource ledger.ResourceAddress,
	assetKey AssetKey,
	vault pool.SingleResourcePool,
	interest *InterestStrategy,
	cfg PoolConfig,
	l ledger.Ledger,
	vaultAccount, reserveAccount ledger.AccountAddress,
	feed oracle.Feed,
	sink EventSink,
	now int64,
) (*PoolState, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	reading, err := feed.GetPrice(string(resource))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if sink == nil {
		sink = NoopEventSink{}
	}
	return &PoolState{
		Resource:             resource,
		AssetKey:             assetKey,
		Vault:                vault,
		Interest:             interest,
		Config:               cfg,
		Status:               NewOperatingStatus(),
		ledgerImpl:           l,
		vaultAccount:         vaultAccount,
		reserveAccount:       reserveAccount,
		priceFeed:            feed,
		sink:                 sink,
		totalLoan:            big.NewInt(0),
		totalLoanUnit:        big.NewInt(0),
		cachedPrice:          reading.Price,
		cachedPriceTimestamp: reading.Timestamp,
		lastUpdate:           now,
		reserveBalance:       big.NewInt(0),
	}, nil
}

// GetLoanUnitRatio returns total_loan/total_loan_unit, or 1 if no loan
// units have been minted yet.
func (p *PoolState) GetLoanUnitRatio() *big.Rat {
	if isZero(p.totalLoanUnit) {
		return big.NewRat(1, 1)
	}
	return new(big.Rat).SetFrac(p.totalLoan, p.totalLoanUnit)
}

// TotalLoan returns the pool's outstanding debt (principal plus accrued
// interest not yet skimmed).
func (p *PoolState) TotalLoan() *big.Int { return new(big.Int).Set(p.totalLoan) }

// TotalLoanUnit returns the sum of every borrower's loan units.
func (p *PoolState) TotalLoanUnit() *big.Int { return new(big.Int).Set(p.totalLoanUnit) }

// updateLoanUnit applies a signed delta to the loan ledger: positive for a
// new borrow, negative for a repayment. It returns the unit delta (same
// sign as amount) the caller should apply to the borrower's own loan unit
// balance. Mirrors pool_state.rs's _update_loan_unit, including the
// 17-decimal truncation of total_loan_unit whenever the delta is
// non-positive, which prevents residual dust from a full repayment
// compounding into the unit ratio.
func (p *PoolState) updateLoanUnit(amount *big.Int) (*big.Int, error) {
	ratio := p.GetLoanUnitRatio()
	unit := divRatToZero(amount, ratio)

	p.totalLoan = new(big.Int).Add(p.totalLoan, amount)
	p.totalLoanUnit = new(big.Int).Add(p.totalLoanUnit, unit)

	if amount.Sign() <= 0 {
		p.totalLoanUnit = truncTo17Decimals(p.totalLoanUnit)
	}

	if p.totalLoan.Sign() < 0 || p.totalLoanUnit.Sign() < 0 {
		return nil, fmt.Errorf("%w: loan unit update would drive total loan negative", ErrInvalidAmount)
	}
	return unit, nil
}

// WithdrawForBorrow moves amount out of the pool's vault for a new loan,
// returning the loan units the borrower is credited with.
func (p *PoolState) WithdrawForBorrow(borrower ledger.AccountAddress, amount *big.Int) (*big.Int, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return nil, err
	}
	if _, err := p.Vault.ProtectedWithdraw(amount, pool.TemporaryUse, pool.ToZero); err != nil {
		return nil, err
	}
	unit, err := p.updateLoanUnit(amount)
	if err != nil {
		return nil, err
	}
	if err := ledger.MoveBetweenVaults(p.ledgerImpl, p.vaultAccount, borrower, p.Resource, amount); err != nil {
		return nil, err
	}
	return unit, nil
}

// DepositForRepay returns amount to the pool's vault from a repayment,
// returning the (negative) loan unit delta the borrower's
// balance should be reduced by.
func (p *PoolState) DepositForRepay(payer ledger.AccountAddress, amount *big.Int) (*big.Int, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return nil, err
	}
	if err := ledger.MoveBetweenVaults(p.ledgerImpl, payer, p.vaultAccount, p.Resource, amount); err != nil {
		return nil, err
	}
	if err := p.Vault.ProtectedDeposit(amount, pool.FromTemporaryUse); err != nil {
		return nil, err
	}
	return p.updateLoanUnit(new(big.Int).Neg(amount))
}

// CachedPrice returns the last price observation accepted into the pool's
// cache, without checking staleness. Most callers want GetValidPrice.
func (p *PoolState) CachedPrice() (*big.Rat, int64) {
	return new(big.Rat).Set(p.cachedPrice), p.cachedPriceTimestamp
}

// GetValidPrice returns the cached price, rejecting it with ErrPriceStale
// if it is older than the pool's configured expiration period. This
// resolves the open question of whether a stale price should be trusted:
// it must not be.
func (p *PoolState) GetValidPrice(now int64) (*big.Rat, error) {
	age := now - p.cachedPriceTimestamp
	if age > p.Config.PriceExpirationPeriodSeconds {
		return nil, fmt.Errorf("%w: price is %ds old, expiration is %ds", ErrPriceStale, age, p.Config.PriceExpirationPeriodSeconds)
	}
	return new(big.Rat).Set(p.cachedPrice), nil
}

// UpdateInterestAndPrice accrues interest since the last update and
// refreshes the cached oracle price if the configured period has elapsed.
// Debounced exactly as pool_state.rs's update_interest_and_price: updates
// of less than two whole minutes since the last call are skipped entirely.
// Past that floor, interest accrues on every call; the price refresh is
// gated by PriceUpdatePeriodMinutes, and InterestUpdatePeriodMinutes is
// not consulted here.
func (p *PoolState) UpdateInterestAndPrice(now int64) error {
	periodMinutes := (now - p.lastUpdate) / 60
	if periodMinutes <= 1 {
		return nil
	}

	if periodMinutes >= p.Config.PriceUpdatePeriodMinutes {
		reading, err := p.priceFeed.GetPrice(string(p.Resource))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
		}
		p.cachedPrice = reading.Price
		p.cachedPriceTimestamp = reading.Timestamp
		p.sink.PoolUpdated(LendingPoolUpdatedEvent{Resource: string(p.Resource), Type: EventPrice, Timestamp: now})
	}

	if p.totalLoan.Sign() > 0 {
		available, borrowed, err := p.Vault.GetPooledAmount()
		if err != nil {
			return err
		}
		utilization := utilizationOf(available, borrowed)
		annualRate := p.Interest.GetInterestRate(utilization)
		minuteRate := new(big.Rat).Add(big.NewRat(1, 1), new(big.Rat).Quo(annualRate, big.NewRat(minutesPerYear, 1)))

		growth := ratPow(minuteRate, periodMinutes)
		newTotalLoan := truncRatToZero(new(big.Rat).Mul(new(big.Rat).SetInt(p.totalLoan), growth))
		accrued := new(big.Int).Sub(newTotalLoan, p.totalLoan)

		if accrued.Sign() > 0 {
			if err := p.Vault.IncreaseExternalLiquidity(accrued); err != nil {
				return err
			}
			fee := truncRatToZero(new(big.Rat).Mul(new(big.Rat).SetInt(accrued), p.Config.ProtocolFeeRate))
			if fee.Sign() > 0 {
				withdrawn, err := p.Vault.ProtectedWithdraw(fee, pool.LiquidityWithdrawal, pool.ToZero)
				if err != nil {
					return err
				}
				if err := ledger.MoveBetweenVaults(p.ledgerImpl, p.vaultAccount, p.reserveAccount, p.Resource, withdrawn); err != nil {
					return err
				}
				p.reserveBalance = new(big.Int).Add(p.reserveBalance, withdrawn)
			}
			p.sink.PoolUpdated(LendingPoolUpdatedEvent{Resource: string(p.Resource), Type: EventInterest, Timestamp: now})
		}
		p.totalLoan = newTotalLoan
	}

	p.lastUpdate = now
	return nil
}

// CollectReserve withdraws the pool's accumulated protocol fee reserve to
// the given recipient, zeroing the pool's reserve balance.
func (p *PoolState) CollectReserve(to ledger.AccountAddress) (*big.Int, error) {
	amount := p.reserveBalance
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := ledger.MoveBetweenVaults(p.ledgerImpl, p.reserveAccount, to, p.Resource, amount); err != nil {
		return nil, err
	}
	p.reserveBalance = big.NewInt(0)
	return amount, nil
}

// poolStateSnapshot captures PoolState's own mutable fields, separate from
// its Vault, which snapshots itself if it implements pool.Snapshotter.
type poolStateSnapshot struct {
	totalLoan            *big.Int
	totalLoanUnit        *big.Int
	cachedPrice          *big.Rat
	cachedPriceTimestamp int64
	lastUpdate           int64
	reserveBalance       *big.Int
	vaultSnapshot        any
	config               PoolConfig
}

// Snapshot captures the pool's current state for transactional rollback.
func (p *PoolState) Snapshot() any {
	snap := poolStateSnapshot{
		totalLoan:            new(big.Int).Set(p.totalLoan),
		totalLoanUnit:        new(big.Int).Set(p.totalLoanUnit),
		cachedPrice:          new(big.Rat).Set(p.cachedPrice),
		cachedPriceTimestamp: p.cachedPriceTimestamp,
		lastUpdate:           p.lastUpdate,
		reserveBalance:       new(big.Int).Set(p.reserveBalance),
		config:               p.Config,
	}
	if s, ok := p.Vault.(pool.Snapshotter); ok {
		snap.vaultSnapshot = s.Snapshot()
	}
	return snap
}

// Restore replaces the pool's state with a previously captured Snapshot.
func (p *PoolState) Restore(snap any) {
	s := snap.(poolStateSnapshot)
	p.totalLoan = s.totalLoan
	p.totalLoanUnit = s.totalLoanUnit
	p.cachedPrice = s.cachedPrice
	p.cachedPriceTimestamp = s.cachedPriceTimestamp
	p.lastUpdate = s.lastUpdate
	p.reserveBalance = s.reserveBalance
	p.Config = s.config
	if s.vaultSnapshot != nil {
		if restorer, ok := p.Vault.(pool.Snapshotter); ok {
			restorer.Restore(s.vaultSnapshot)
		}
	}
}

func utilizationOf(available, borrowed *big.Int) *big.Rat {
	total := new(big.Int).Add(available, borrowed)
	if total.Sign() == 0 {
		return big.NewRat(0, 1)
	}
	return new(big.Rat).SetFrac(borrowed, total)
}

// ratPow raises base to a non-negative integer exponent via big.Rat
// arithmetic, used for the compounding minute_interest_rate^period.
func ratPow(base *big.Rat, exp int64) *big.Rat {
	result := big.NewRat(1, 1)
	b := new(big.Rat).Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			result.Mul(result, b)
		}
		b.Mul(b, b)
		exp >>= 1
	}
	return result
}
