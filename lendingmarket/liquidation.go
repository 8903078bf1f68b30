package lendingmarket

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/weftfinance/lending-market/ledger"
)

// Repayment is one resource/amount pair a liquidator offers to repay on a
// CDP's behalf during liquidation.
type Repayment struct {
	Resource string
	Amount   *big.Int
}

// liquidationTerm stands in for the blueprint's liquidation term NFT: the
// receipt StartLiquidation hands back, redeemed by EndLiquidation for the
// seized collateral it entitles the holder to.
type liquidationTerm struct {
	ID             uint64
	CDPID          uint64
	Liquidator     ledger.AccountAddress
	SeizeRemaining *big.Rat // USD value repaid that has not yet been compensated with collateral
}

func (c *Coordinator) activeLiquidation(cdpID uint64) *liquidationTerm {
	c.termMu.Lock()
	defer c.termMu.Unlock()
	for _, t := range c.liquidations {
		if t.CDPID == cdpID {
			return t
		}
	}
	return nil
}

// repayOnBehalf repays up to the lesser of the requested amount, the
// CDP's outstanding debt, and the loan's self-closable cap (loan value *
// loan_close_factor, the only place that factor is applied) for a single
// resource, inside an already-open store transaction. It returns the USD
// value actually repaid.
func (c *Coordinator) repayOnBehalf(tx Store, cdp *CDP, liquidator ledger.AccountAddress, r Repayment) (*big.Rat, error) {
	owed := cdp.Loans[r.Resource]
	if owed == nil || owed.Sign() == 0 {
		return big.NewRat(0, 1), nil
	}
	p, err := tx.GetPool(r.Resource)
	if err != nil {
		return nil, err
	}
	closable, err := c.healthChecker().SelfClosableLoanValue(cdp, r.Resource)
	if err != nil {
		return nil, err
	}
	price, err := p.GetValidPrice(c.clock())
	if err != nil {
		return nil, err
	}
	closableAmount := truncRatToZero(new(big.Rat).Quo(closable, price))

	ratio := p.GetLoanUnitRatio()
	owedAmount := mulRatToZero(owed, ratio)

	amount := r.Amount
	if amount.Cmp(owedAmount) > 0 {
		amount = owedAmount
	}
	if amount.Cmp(closableAmount) > 0 {
		amount = closableAmount
	}
	if amount.Sign() <= 0 {
		return big.NewRat(0, 1), nil
	}

	unitDelta, err := p.DepositForRepay(liquidator, amount)
	if err != nil {
		return nil, err
	}
	newOwed := new(big.Int).Add(owed, unitDelta)
	if newOwed.Sign() < 0 {
		newOwed = big.NewInt(0)
	}
	NewCDPWrapper(cdp, mcfgPtr(tx)).SetLoan(r.Resource, newOwed)

	value := new(big.Rat).Mul(new(big.Rat).SetInt(amount), price)
	return value, nil
}

// seizeCollateral reduces cdp's collateral positions to cover targetValue
// (the repaid value, in USD), paying each pool's collateral out at (1 + that
// pool's liquidation bonus) times the value it covers, and walking
// resources in a deterministic order so repeated partial seizures during a
// single EndLiquidation are reproducible. It returns the USD value of the
// collateral actually seized, which covers less than targetValue if the
// CDP runs out of collateral.
func (c *Coordinator) seizeCollateral(tx Store, cdp *CDP, liquidator ledger.AccountAddress, targetValue *big.Rat) (*big.Rat, error) {
	resources := make([]string, 0, len(cdp.Collaterals))
	for r := range cdp.Collaterals {
		resources = append(resources, r)
	}
	sort.Strings(resources)

	seized := big.NewRat(0, 1)
	remaining := new(big.Rat).Set(targetValue)

	for _, resource := range resources {
		if remaining.Sign() <= 0 {
			break
		}
		units := cdp.Collaterals[resource]
		p, err := tx.GetPool(resource)
		if err != nil {
			return nil, err
		}
		ratio, err := p.Vault.GetPoolUnitRatio()
		if err != nil {
			return nil, err
		}
		price, err := p.GetValidPrice(c.clock())
		if err != nil {
			return nil, err
		}
		bonus := new(big.Rat).Add(big.NewRat(1, 1), p.Config.LiquidationBonusRate)

		heldAmount := mulRatToZero(units, ratio)
		heldValue := new(big.Rat).Mul(new(big.Rat).SetInt(heldAmount), price)
		coverableValue := new(big.Rat).Quo(heldValue, bonus)

		takeValue := remaining
		if coverableValue.Cmp(remaining) < 0 {
			takeValue = coverableValue
		}

		takeAmount := truncRatToZero(new(big.Rat).Quo(new(big.Rat).Mul(takeValue, bonus), price))
		takeUnits := divRatToZero(takeAmount, ratio)
		if takeUnits.Cmp(units) > 0 {
			takeUnits = units
			takeAmount = mulRatToZero(takeUnits, ratio)
		}
		if takeUnits.Sign() <= 0 {
			continue
		}

		redeemed, err := p.Vault.Redeem(takeUnits)
		if err != nil {
			return nil, err
		}
		if err := ledger.MoveBetweenVaults(c.ledger, p.vaultAccountPublic(), liquidator, p.Resource, redeemed); err != nil {
			return nil, err
		}

		NewCDPWrapper(cdp, mcfgPtr(tx)).SetCollateral(resource, new(big.Int).Sub(units, takeUnits))

		redeemedValue := new(big.Rat).Mul(new(big.Rat).SetInt(redeemed), price)
		seized.Add(seized, redeemedValue)
		remaining.Sub(remaining, new(big.Rat).Quo(redeemedValue, bonus))
	}
	return seized, nil
}

// StartLiquidation repays as much of a liquidatable CDP's debt as the
// liquidator offers (capped at each loan's self-closable amount) and
// opens a liquidation term entitling the liquidator to seize the
// corresponding bonus-inflated collateral value via EndLiquidation.
func (c *Coordinator) StartLiquidation(ctx context.Context, cdpID uint64, liquidator ledger.AccountAddress, repayments []Repayment) (termID uint64, err error) {
	start := time.Now()
	defer func() { c.observe("start_liquidation", start, err) }()

	if c.activeLiquidation(cdpID) != nil {
		return 0, ErrLiquidationAlreadyStarted
	}

	var repaidValue *big.Rat
	err = c.store.Transaction(func(tx Store) error {
		cdp, err := tx.GetCDP(cdpID)
		if err != nil {
			return err
		}
		for _, resource := range loanResources(cdp) {
			p, err := tx.GetPool(resource)
			if err != nil {
				return err
			}
			if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
				return err
			}
			if err := c.checkOperation(p, OpLiquidation); err != nil {
				return err
			}
		}

		liquidatable, err := c.healthChecker().CanLiquidate(cdp)
		if err != nil {
			return err
		}
		if !liquidatable {
			return ErrCDPNotLiquidatable
		}

		repaidValue = big.NewRat(0, 1)
		for _, r := range repayments {
			v, err := c.repayOnBehalf(tx, cdp, liquidator, r)
			if err != nil {
				return err
			}
			repaidValue.Add(repaidValue, v)
		}
		return tx.PutCDP(cdp)
	})
	if err != nil {
		return 0, err
	}

	termID = c.allocateTermID()
	term := &liquidationTerm{ID: termID, CDPID: cdpID, Liquidator: liquidator, SeizeRemaining: repaidValue}
	c.termMu.Lock()
	c.liquidations[termID] = term
	c.termMu.Unlock()
	return termID, nil
}

// EndLiquidation redeems a liquidation term for the bonus-inflated
// collateral value it entitles its holder to, closing out the term.
func (c *Coordinator) EndLiquidation(ctx context.Context, termID uint64) (seized *big.Rat, err error) {
	start := time.Now()
	defer func() { c.observe("end_liquidation", start, err) }()

	c.termMu.Lock()
	term, ok := c.liquidations[termID]
	c.termMu.Unlock()
	if !ok {
		return nil, ErrLiquidationNotStarted
	}

	err = c.store.Transaction(func(tx Store) error {
		cdp, err := tx.GetCDP(term.CDPID)
		if err != nil {
			return err
		}
		seized, err = c.seizeCollateral(tx, cdp, term.Liquidator, term.SeizeRemaining)
		if err != nil {
			return err
		}
		return tx.PutCDP(cdp)
	})
	if err != nil {
		return nil, err
	}

	c.termMu.Lock()
	delete(c.liquidations, termID)
	c.termMu.Unlock()
	c.sink.CDPLiquidated(CDPLiquidatedEvent{CDPID: term.CDPID, Fast: false, Timestamp: c.clock()})
	return seized, nil
}

// FastLiquidation fuses StartLiquidation and EndLiquidation into a single
// call for liquidators that don't need the two-phase split (e.g. they are
// not composing the repayment with a flash loan in between).
func (c *Coordinator) FastLiquidation(ctx context.Context, cdpID uint64, liquidator ledger.AccountAddress, repayments []Repayment) (seized *big.Rat, err error) {
	start := time.Now()
	defer func() { c.observe("fast_liquidation", start, err) }()

	termID, err := c.StartLiquidation(ctx, cdpID, liquidator, repayments)
	if err != nil {
		return nil, err
	}
	seized, err = c.EndLiquidation(ctx, termID)
	if err == nil {
		c.sink.CDPLiquidated(CDPLiquidatedEvent{CDPID: cdpID, Fast: true, Timestamp: c.clock()})
	}
	return seized, err
}

// Refinance lets a third party repay debt on a CDP that has no discounted
// collateral left to back it (LTV at the blueprint's Decimal::MAX
// sentinel), making ordinary liquidation impossible since there is
// nothing left to seize. It is the ordinary repay path with no
// liquidation bonus and no self-closable cap, mirroring
// lending_market.rs's refinance, which calls the same _repay_internal
// helper as repay. Payments are capped at each loan's outstanding amount,
// exactly like Repay; any debt left unpaid simply remains outstanding for
// a future repay or refinance call.
func (c *Coordinator) Refinance(ctx context.Context, cdpID uint64, payer ledger.AccountAddress, payments []Repayment) (err error) {
	start := time.Now()
	defer func() { c.observe("refinance", start, err) }()

	var paidResources []string
	err = c.store.Transaction(func(tx Store) error {
		cdp, err := tx.GetCDP(cdpID)
		if err != nil {
			return err
		}
		for _, resource := range loanResources(cdp) {
			p, err := tx.GetPool(resource)
			if err != nil {
				return err
			}
			if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
				return err
			}
			if err := c.checkOperation(p, OpRefinance); err != nil {
				return err
			}
		}

		refinanceable, err := c.healthChecker().CanRefinance(cdp)
		if err != nil {
			return err
		}
		if !refinanceable {
			return ErrCDPNotRefinanceable
		}

		w := NewCDPWrapper(cdp, mcfgPtr(tx))
		for _, payment := range payments {
			if err := ledger.RequirePositive(payment.Amount); err != nil {
				return err
			}
			owed := cdp.Loans[payment.Resource]
			if owed == nil || owed.Sign() == 0 {
				continue
			}
			p, err := tx.GetPool(payment.Resource)
			if err != nil {
				return err
			}
			ratio := p.GetLoanUnitRatio()
			owedAmount := mulRatToZero(owed, ratio)
			amount := payment.Amount
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
			w.SetLoan(payment.Resource, newOwed)
			paidResources = append(paidResources, payment.Resource)
		}
		if err := w.Save(c.clock()); err != nil {
			return err
		}
		return tx.PutCDP(cdp)
	})
	if err == nil {
		c.sink.CDPUpdated(CDPUpdatedEvent{CDPID: cdpID, Timestamp: c.clock()})
		for _, resource := range paidResources {
			c.sink.PoolUpdated(LendingPoolUpdatedEvent{Resource: resource, Type: EventLoan, Timestamp: c.clock()})
		}
	}
	return err
}

func loanResources(cdp *CDP) []string {
	out := make([]string, 0, len(cdp.Loans))
	for r := range cdp.Loans {
		out = append(out, r)
	}
	return out
}
