package pool

import (
	"math/big"
	"sync"

	"github.com/weftfinance/lending-market/ledger"
)

// Simple is a reference SingleResourcePool implementation. It keeps its own
// available/borrowed bookkeeping rather than moving tokens itself — the
// lending pool state is responsible for shuttling the underlying resource
// into and out of its vault via ledger.Ledger, and calls Simple's methods in
// lockstep to keep the unit accounting consistent with those transfers.
type Simple struct {
	mu        sync.Mutex
	resource  ledger.ResourceAddress
	available *big.Int
	borrowed  *big.Int
	poolUnits *big.Int
}

// NewSimple constructs an empty pool for the given resource.
func NewSimple(resource ledger.ResourceAddress) *Simple {
	return &Simple{
		resource:  resource,
		available: big.NewInt(0),
		borrowed:  big.NewInt(0),
		poolUnits: big.NewInt(0),
	}
}

func (p *Simple) unitRatioLocked() *big.Rat {
	if p.poolUnits.Sign() == 0 {
		return big.NewRat(1, 1)
	}
	pooled := new(big.Int).Add(p.available, p.borrowed)
	return new(big.Rat).SetFrac(pooled, p.poolUnits)
}

func truncToZero(r *big.Rat) *big.Int {
	q := new(big.Int)
	q.Quo(r.Num(), r.Denom())
	return q
}

func (p *Simple) Contribute(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ratio := p.unitRatioLocked()
	units := truncToZero(new(big.Rat).Quo(new(big.Rat).SetInt(amount), ratio))
	if units.Sign() <= 0 {
		units = big.NewInt(1)
	}
	p.available.Add(p.available, amount)
	p.poolUnits.Add(p.poolUnits, units)
	return new(big.Int).Set(units), nil
}

func (p *Simple) Redeem(poolUnits *big.Int) (*big.Int, error) {
	if poolUnits == nil || poolUnits.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if poolUnits.Cmp(p.poolUnits) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	ratio := p.unitRatioLocked()
	amount := truncToZero(new(big.Rat).Mul(new(big.Rat).SetInt(poolUnits), ratio))
	if amount.Cmp(p.available) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	p.available.Sub(p.available, amount)
	p.poolUnits.Sub(p.poolUnits, poolUnits)
	return amount, nil
}

func (p *Simple) ProtectedDeposit(amount *big.Int, kind DepositKind) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.available.Add(p.available, amount)
	if kind == FromTemporaryUse {
		p.borrowed.Sub(p.borrowed, amount)
		if p.borrowed.Sign() < 0 {
			p.borrowed.SetInt64(0)
		}
	}
	return nil
}

func (p *Simple) ProtectedWithdraw(amount *big.Int, kind WithdrawKind, _ RoundingMode) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount.Cmp(p.available) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	p.available.Sub(p.available, amount)
	if kind == TemporaryUse {
		p.borrowed.Add(p.borrowed, amount)
	}
	return new(big.Int).Set(amount), nil
}

func (p *Simple) GetPoolUnitRatio() (*big.Rat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unitRatioLocked(), nil
}

func (p *Simple) GetPooledAmount() (available, borrowed *big.Int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.available), new(big.Int).Set(p.borrowed), nil
}

// simpleSnapshot captures Simple's mutable state for transactional
// rollback, mirroring ledger.InMemory's Snapshot/Restore pair.
type simpleSnapshot struct {
	available *big.Int
	borrowed  *big.Int
	poolUnits *big.Int
}

// Snapshot captures the pool's current bookkeeping.
func (p *Simple) Snapshot() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return simpleSnapshot{
		available: new(big.Int).Set(p.available),
		borrowed:  new(big.Int).Set(p.borrowed),
		poolUnits: new(big.Int).Set(p.poolUnits),
	}
}

// Restore replaces the pool's bookkeeping with a previously captured
// Snapshot. Panics if snap was not produced by Snapshot, which would be a
// programming error in the caller.
func (p *Simple) Restore(snap any) {
	s := snap.(simpleSnapshot)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = s.available
	p.borrowed = s.borrowed
	p.poolUnits = s.poolUnits
}

func (p *Simple) IncreaseExternalLiquidity(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.borrowed.Add(p.borrowed, amount)
	return nil
}
