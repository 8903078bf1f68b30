package lendingmarket

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/weftfinance/lending-market/ledger"
	"github.com/weftfinance/lending-market/oracle"
	"github.com/weftfinance/lending-market/pool"
)

// Metrics receives a sample for every Coordinator operation. The
// observability/metrics package implements this against Prometheus; tests
// and the default construction path use NoopMetrics.
type Metrics interface {
	ObserveOperation(name string, err error, duration time.Duration)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) ObserveOperation(string, error, time.Duration) {}

// Clock abstracts the current time so tests can drive the debounced
// interest/price update logic deterministically.
type Clock func() int64

// Coordinator is the lending market's single entry point: every public
// operation from spec §6 is a method here, each validated against the
// operating status gates, the relevant pool's economic limits, and (where
// collateral is at stake) the health checker, before being applied
// atomically via the Store.
type Coordinator struct {
	store     Store
	ledger    ledger.Ledger
	threshold *LiquidationThreshold
	sink      EventSink
	metrics   Metrics
	logger    *slog.Logger
	clock     Clock

	termMu       sync.Mutex
	flashLoans   map[uint64]*flashLoanTerm
	liquidations map[uint64]*liquidationTerm
	nextTermID   uint64
}

func (c *Coordinator) allocateTermID() uint64 {
	c.termMu.Lock()
	defer c.termMu.Unlock()
	id := c.nextTermID
	c.nextTermID++
	return id
}

// NewCoordinator wires a Coordinator against its store and external
// collaborators. sink, metrics, and logger default to no-ops when nil so
// callers can opt into observability incrementally.
func NewCoordinator(store Store, l ledger.Ledger, threshold *LiquidationThreshold, sink EventSink, metrics Metrics, logger *slog.Logger, clock Clock) *Coordinator {
	if sink == nil {
		sink = NoopEventSink{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	return &Coordinator{
		store:        store,
		ledger:       l,
		threshold:    threshold,
		sink:         sink,
		metrics:      metrics,
		logger:       logger,
		clock:        clock,
		flashLoans:   make(map[uint64]*flashLoanTerm),
		liquidations: make(map[uint64]*liquidationTerm),
		nextTermID:   1,
	}
}

func (c *Coordinator) observe(name string, start time.Time, err error) {
	c.metrics.ObserveOperation(name, err, time.Since(start))
	if err != nil {
		c.logger.Warn("operation failed", "op", name, "err", err)
	} else {
		c.logger.Debug("operation ok", "op", name)
	}
}

func (c *Coordinator) healthChecker() *HealthChecker {
	return NewHealthChecker(c.threshold, c.store, c.store, c.clock())
}

func (c *Coordinator) refreshPool(resource string) (*PoolState, error) {
	p, err := c.store.GetPool(resource)
	if err != nil {
		return nil, err
	}
	if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Coordinator) checkOperation(p *PoolState, op OperationKind) error {
	status, err := c.store.GetMarketStatus()
	if err != nil {
		return err
	}
	if err := status.Check(op); err != nil {
		return err
	}
	return p.Status.Check(op)
}

// CreatePool registers a new lending pool for resource. vaultAccount and
// reserveAccount are the ledger accounts the pool uses as its internal
// vault and protocol-fee reserve.
func (c *Coordinator) CreatePool(
	ctx context.Context,
	resource string,
	assetKey AssetKey,
	cfg PoolConfig,
	interest *InterestStrategy,
	feed oracle.Feed,
	vaultAccount, reserveAccount ledger.AccountAddress,
) (err error) {
	start := time.Now()
	defer func() { c.observe("create_pool", start, err) }()

	if _, getErr := c.store.GetPool(resource); getErr == nil {
		return ErrPoolExists
	}
	vault := pool.NewSimple(ledger.ResourceAddress(resource))
	ps, err := NewPoolState(ledger.ResourceAddress(resource), assetKey, vault, interest, cfg, c.ledger, vaultAccount, reserveAccount, feed, c.sink, c.clock())
	if err != nil {
		return err
	}
	return c.store.Transaction(func(tx Store) error {
		return tx.PutPool(resource, ps)
	})
}

// UpdatePoolConfig applies a partial configuration change to an existing
// pool.
func (c *Coordinator) UpdatePoolConfig(ctx context.Context, resource string, patch PoolConfig) (err error) {
	start := time.Now()
	defer func() { c.observe("update_pool_config", start, err) }()

	return c.store.Transaction(func(tx Store) error {
		p, err := tx.GetPool(resource)
		if err != nil {
			return err
		}
		return p.Config.Update(patch)
	})
}

// UpdateLiquidationThreshold mutates the market-wide cross-asset discount
// matrix in place via mutator, inside the store's transaction scope so a
// concurrent health check never observes a half-updated matrix.
func (c *Coordinator) UpdateLiquidationThreshold(ctx context.Context, mutator func(*LiquidationThreshold) error) (err error) {
	start := time.Now()
	defer func() { c.observe("update_liquidation_threshold", start, err) }()
	return c.store.Transaction(func(tx Store) error {
		return mutator(c.threshold)
	})
}

// SetInterestStrategy replaces a pool's interest rate curve.
func (c *Coordinator) SetInterestStrategy(ctx context.Context, resource string, breakpoints []Breakpoint) (err error) {
	start := time.Now()
	defer func() { c.observe("set_interest_strategy", start, err) }()
	return c.store.Transaction(func(tx Store) error {
		p, err := tx.GetPool(resource)
		if err != nil {
			return err
		}
		return p.Interest.SetBreakpoints(breakpoints)
	})
}

// UpdateMarketConfig applies a new market-wide configuration.
func (c *Coordinator) UpdateMarketConfig(ctx context.Context, cfg MarketConfig) (err error) {
	start := time.Now()
	defer func() { c.observe("update_market_config", start, err) }()
	if err = cfg.Check(); err != nil {
		return err
	}
	return c.store.PutMarketConfig(cfg)
}

// UpdateOperatingStatus toggles one operation's gate, market-wide if
// resource is empty, otherwise for that specific pool. asAdmin pins the
// change against moderator override per spec §4.5.
func (c *Coordinator) UpdateOperatingStatus(ctx context.Context, resource string, op OperationKind, enabled, asAdmin bool) (err error) {
	start := time.Now()
	defer func() { c.observe("update_operating_status", start, err) }()
	return c.store.Transaction(func(tx Store) error {
		if resource == "" {
			status, err := tx.GetMarketStatus()
			if err != nil {
				return err
			}
			return status.Update(op, enabled, asAdmin)
		}
		p, err := tx.GetPool(resource)
		if err != nil {
			return err
		}
		return p.Status.Update(op, enabled, asAdmin)
	})
}

// CollectReserve withdraws a pool's accumulated protocol fee reserve.
func (c *Coordinator) CollectReserve(ctx context.Context, resource string, to ledger.AccountAddress) (amount *big.Int, err error) {
	start := time.Now()
	defer func() { c.observe("collect_reserve", start, err) }()
	err = c.store.Transaction(func(tx Store) error {
		p, err := tx.GetPool(resource)
		if err != nil {
			return err
		}
		amount, err = p.CollectReserve(to)
		return err
	})
	return amount, err
}

// CreateCDP mints a new standard collateralized debt position for owner.
func (c *Coordinator) CreateCDP(ctx context.Context, owner string, name, description, keyImageURL string) (cdp *CDP, err error) {
	start := time.Now()
	defer func() { c.observe("create_cdp", start, err) }()
	err = c.store.Transaction(func(tx Store) error {
		id, err := tx.NextCDPID()
		if err != nil {
			return err
		}
		cdp = NewCDP(id, owner, c.clock())
		cdp.Name, cdp.Description, cdp.KeyImageURL = name, description, keyImageURL
		return tx.PutCDP(cdp)
	})
	if err == nil {
		c.sink.CDPUpdated(CDPUpdatedEvent{CDPID: cdp.ID, Timestamp: c.clock()})
	}
	return cdp, err
}

// CreateDelegateeCDP mints a new CDP that borrows against delegatorID's
// collateral. Rejected if delegatorID is itself a delegatee, enforcing the
// depth-1 delegation cap.
func (c *Coordinator) CreateDelegateeCDP(ctx context.Context, owner string, delegatorID uint64, maxLoanValue, maxLoanValueRatio *big.Rat) (cdp *CDP, err error) {
	start := time.Now()
	defer func() { c.observe("create_delegatee_cdp", start, err) }()
	err = c.store.Transaction(func(tx Store) error {
		delegator, err := tx.GetCDP(delegatorID)
		if err != nil {
			return err
		}
		if delegator.IsDelegatee() {
			return ErrMaxDelegateeDepthExceeded
		}
		delegatorWrapper := NewCDPWrapper(delegator, nil)
		if err := delegatorWrapper.IncreaseDelegateeCount(); err != nil {
			return err
		}

		id, err := tx.NextCDPID()
		if err != nil {
			return err
		}
		cdp = NewCDP(id, owner, c.clock())
		cdp.Type = CDPType{
			Kind:              CDPDelegatee,
			DelegatorID:       delegatorID,
			DelegateeIndex:    delegator.DelegateeCount,
			MaxLoanValue:      maxLoanValue,
			MaxLoanValueRatio: maxLoanValueRatio,
		}
		if err := tx.PutCDP(delegator); err != nil {
			return err
		}
		return tx.PutCDP(cdp)
	})
	return cdp, err
}

// marketCfg is a small helper used by operations that need the current
// MarketConfig for CDP cardinality checks.
func (c *Coordinator) marketCfg() (MarketConfig, error) {
	return c.store.GetMarketConfig()
}

// Contribute supplies amount of resource's underlying asset into its pool,
// minting pool units credited to depositor.
func (c *Coordinator) Contribute(ctx context.Context, depositor ledger.AccountAddress, resource string, amount *big.Int) (units *big.Int, err error) {
	start := time.Now()
	defer func() { c.observe("contribute", start, err) }()

	if err = ledger.RequirePositive(amount); err != nil {
		return nil, err
	}
	err = c.store.Transaction(func(tx Store) error {
		p, err := tx.GetPool(resource)
		if err != nil {
			return err
		}
		if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
			return err
		}
		if err := c.checkOperation(p, OpContribute); err != nil {
			return err
		}
		available, borrowed, err := p.Vault.GetPooledAmount()
		if err != nil {
			return err
		}
		totalAfter := new(big.Int).Add(new(big.Int).Add(available, borrowed), amount)
		if err := p.Config.CheckDepositLimit(totalAfter); err != nil {
			return err
		}
		if err := ledger.MoveBetweenVaults(c.ledger, depositor, p.vaultAccountPublic(), p.Resource, amount); err != nil {
			return err
		}
		units, err = p.Vault.Contribute(amount)
		return err
	})
	if err == nil {
		c.sink.PoolUpdated(LendingPoolUpdatedEvent{Resource: resource, Type: EventDeposit, Timestamp: c.clock()})
	}
	return units, err
}

// Redeem burns poolUnits of resource's pool, returning the underlying
// asset to recipient.
func (c *Coordinator) Redeem(ctx context.Context, recipient ledger.AccountAddress, resource string, poolUnits *big.Int) (amount *big.Int, err error) {
	start := time.Now()
	defer func() { c.observe("redeem", start, err) }()

	err = c.store.Transaction(func(tx Store) error {
		p, err := tx.GetPool(resource)
		if err != nil {
			return err
		}
		if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
			return err
		}
		if err := c.checkOperation(p, OpRedeem); err != nil {
			return err
		}
		amount, err = p.Vault.Redeem(poolUnits)
		if err != nil {
			return err
		}
		return ledger.MoveBetweenVaults(c.ledger, p.vaultAccountPublic(), recipient, p.Resource, amount)
	})
	if err == nil {
		c.sink.PoolUpdated(LendingPoolUpdatedEvent{Resource: resource, Type: EventDeposit, Timestamp: c.clock()})
	}
	return amount, err
}

// AddCollateral adds poolUnits of resource to cdpID's collateral basket.
// The units are recorded on the CDP only: no ledger balance or pool-unit
// holding of any account is debited or moved into a vault. A caller
// wanting to post freshly contributed liquidity as collateral first calls
// Contribute, then AddCollateral.
func (c *Coordinator) AddCollateral(ctx context.Context, cdpID uint64, resource string, poolUnits *big.Int) (err error) {
	start := time.Now()
	defer func() { c.observe("add_collateral", start, err) }()

	if err = ledger.RequirePositive(poolUnits); err != nil {
		return err
	}
	err = c.store.Transaction(func(tx Store) error {
		p, err := tx.GetPool(resource)
		if err != nil {
			return err
		}
		if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
			return err
		}
		if err := c.checkOperation(p, OpAddCollateral); err != nil {
			return err
		}
		cdp, err := tx.GetCDP(cdpID)
		if err != nil {
			return err
		}
		w := NewCDPWrapper(cdp, mcfgPtr(tx))
		current := cdp.Collaterals[resource]
		if current == nil {
			current = big.NewInt(0)
		}
		w.SetCollateral(resource, new(big.Int).Add(current, poolUnits))
		if err := w.Save(c.clock()); err != nil {
			return err
		}
		return tx.PutCDP(cdp)
	})
	if err == nil {
		c.sink.CDPUpdated(CDPUpdatedEvent{CDPID: cdpID, Timestamp: c.clock()})
		c.sink.PoolUpdated(LendingPoolUpdatedEvent{Resource: resource, Type: EventCollateral, Timestamp: c.clock()})
	}
	return err
}

// RemoveCollateral withdraws poolUnits of resource from cdpID's collateral
// basket, rejecting the operation if doing so would leave the CDP
// undercollateralized.
func (c *Coordinator) RemoveCollateral(ctx context.Context, cdpID uint64, resource string, poolUnits *big.Int) (err error) {
	start := time.Now()
	defer func() { c.observe("remove_collateral", start, err) }()

	if err = ledger.RequirePositive(poolUnits); err != nil {
		return err
	}
	err = c.store.Transaction(func(tx Store) error {
		p, err := tx.GetPool(resource)
		if err != nil {
			return err
		}
		if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
			return err
		}
		if err := c.checkOperation(p, OpRemoveCollateral); err != nil {
			return err
		}
		cdp, err := tx.GetCDP(cdpID)
		if err != nil {
			return err
		}
		current := cdp.Collaterals[resource]
		if current == nil || current.Cmp(poolUnits) < 0 {
			return ErrInsufficientCollateral
		}
		w := NewCDPWrapper(cdp, mcfgPtr(tx))
		w.SetCollateral(resource, new(big.Int).Sub(current, poolUnits))

		if err := c.healthChecker().CheckCDP(cdp); err != nil {
			return err
		}
		if err := w.Save(c.clock()); err != nil {
			return err
		}
		return tx.PutCDP(cdp)
	})
	if err == nil {
		c.sink.CDPUpdated(CDPUpdatedEvent{CDPID: cdpID, Timestamp: c.clock()})
		c.sink.PoolUpdated(LendingPoolUpdatedEvent{Resource: resource, Type: EventCollateral, Timestamp: c.clock()})
	}
	return err
}

// Borrow draws amount of resource against cdpID, rejecting the draw if the
// resulting position would be unhealthy.
func (c *Coordinator) Borrow(ctx context.Context, cdpID uint64, recipient ledger.AccountAddress, resource string, amount *big.Int) (err error) {
	start := time.Now()
	defer func() { c.observe("borrow", start, err) }()

	if err = ledger.RequirePositive(amount); err != nil {
		return err
	}
	err = c.store.Transaction(func(tx Store) (txErr error) {
		p, err := tx.GetPool(resource)
		if err != nil {
			return err
		}
		if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
			return err
		}
		if err := c.checkOperation(p, OpBorrow); err != nil {
			return err
		}
		available, borrowed, err := p.Vault.GetPooledAmount()
		if err != nil {
			return err
		}
		if err := p.Config.CheckBorrowLimit(new(big.Int).Add(borrowed, amount)); err != nil {
			return err
		}
		if err := p.Config.CheckUtilizationLimit(new(big.Int).Sub(available, amount), new(big.Int).Add(borrowed, amount)); err != nil {
			return err
		}

		cdp, err := tx.GetCDP(cdpID)
		if err != nil {
			return err
		}

		unit, err := p.WithdrawForBorrow(recipient, amount)
		if err != nil {
			return err
		}
		// The store's rollback does not cover ledger balances, so a borrow
		// rejected from here on hands the withdrawn funds back to the vault.
		defer func() {
			if txErr != nil {
				if undoErr := ledger.MoveBetweenVaults(c.ledger, recipient, p.vaultAccountPublic(), p.Resource, amount); undoErr != nil {
					txErr = errors.Join(txErr, undoErr)
				}
			}
		}()

		w := NewCDPWrapper(cdp, mcfgPtr(tx))
		if cdp.IsDelegatee() {
			delegator, err := tx.GetCDP(cdp.Type.DelegatorID)
			if err != nil {
				return err
			}
			dw := NewCDPWrapper(delegator, mcfgPtr(tx))
			current := delegator.DelegateeLoans[cdp.ID][resource]
			if current == nil {
				current = big.NewInt(0)
			}
			dw.SetDelegateeLoan(cdp.ID, resource, new(big.Int).Add(current, unit))
			if err := c.healthChecker().CheckCDP(cdp); err != nil {
				return err
			}
			if err := dw.Save(c.clock()); err != nil {
				return err
			}
			if err := tx.PutCDP(delegator); err != nil {
				return err
			}
		} else {
			current := cdp.Loans[resource]
			if current == nil {
				current = big.NewInt(0)
			}
			w.SetLoan(resource, new(big.Int).Add(current, unit))
			if err := c.healthChecker().CheckCDP(cdp); err != nil {
				return err
			}
		}
		if err := w.Save(c.clock()); err != nil {
			return err
		}
		return tx.PutCDP(cdp)
	})
	if err == nil {
		c.sink.CDPUpdated(CDPUpdatedEvent{CDPID: cdpID, Timestamp: c.clock()})
		c.sink.PoolUpdated(LendingPoolUpdatedEvent{Resource: resource, Type: EventLoan, Timestamp: c.clock()})
	}
	return err
}

// Repay returns amount of resource on cdpID's behalf, drawn from payer.
func (c *Coordinator) Repay(ctx context.Context, cdpID uint64, payer ledger.AccountAddress, resource string, amount *big.Int) (err error) {
	start := time.Now()
	defer func() { c.observe("repay", start, err) }()

	if err = ledger.RequirePositive(amount); err != nil {
		return err
	}
	err = c.store.Transaction(func(tx Store) error {
		p, err := tx.GetPool(resource)
		if err != nil {
			return err
		}
		if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
			return err
		}
		if err := c.checkOperation(p, OpRepay); err != nil {
			return err
		}
		cdp, err := tx.GetCDP(cdpID)
		if err != nil {
			return err
		}
		owed := cdp.Loans[resource]
		if owed == nil || owed.Sign() == 0 {
			return ErrInsufficientLoan
		}
		ratio := p.GetLoanUnitRatio()
		owedAmount := mulRatToZero(owed, ratio)
		if amount.Cmp(owedAmount) > 0 {
			amount = owedAmount
		}
		unitDelta, err := p.DepositForRepay(payer, amount)
		if err != nil {
			return err
		}
		newOwed := new(big.Int).Add(owed, unitDelta) // unitDelta is negative
		if newOwed.Sign() < 0 {
			newOwed = big.NewInt(0)
		}
		w := NewCDPWrapper(cdp, mcfgPtr(tx))
		w.SetLoan(resource, newOwed)
		if err := w.Save(c.clock()); err != nil {
			return err
		}
		return tx.PutCDP(cdp)
	})
	if err == nil {
		c.sink.CDPUpdated(CDPUpdatedEvent{CDPID: cdpID, Timestamp: c.clock()})
		c.sink.PoolUpdated(LendingPoolUpdatedEvent{Resource: resource, Type: EventLoan, Timestamp: c.clock()})
	}
	return err
}

// ListPools returns every pool currently registered with the market, after
// refreshing each one's accrued interest and cached price.
func (c *Coordinator) ListPools(ctx context.Context) ([]*PoolState, error) {
	pools, err := c.store.ListPools()
	if err != nil {
		return nil, err
	}
	for _, p := range pools {
		if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
			return nil, err
		}
	}
	return pools, nil
}

// GetPool returns a single pool by resource, after refreshing it.
func (c *Coordinator) GetPool(ctx context.Context, resource string) (*PoolState, error) {
	return c.refreshPool(resource)
}

// GetCDP returns a CDP by id, with no side effects beyond the lookup.
func (c *Coordinator) GetCDP(ctx context.Context, id uint64) (*CDP, error) {
	return c.store.GetCDP(id)
}

func mcfgPtr(tx Store) *MarketConfig {
	cfg, err := tx.GetMarketConfig()
	if err != nil {
		return nil
	}
	return &cfg
}

// vaultAccountPublic exposes PoolState's otherwise-private vault account so
// the coordinator can move real tokens alongside the pool's own bookkeeping
// calls, without making the field itself exported and mutable from
// outside this module.
func (p *PoolState) vaultAccountPublic() ledger.AccountAddress { return p.vaultAccount }
