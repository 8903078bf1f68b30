package lendingmarket

import (
	"context"
	"math/big"
	"time"

	"github.com/weftfinance/lending-market/ledger"
	"github.com/weftfinance/lending-market/pool"
)

// FlashLoanRequest is one resource/amount pair within a batch flash loan.
type FlashLoanRequest struct {
	Resource string
	Amount   *big.Int
}

type flashLoanItem struct {
	Resource    string
	Principal   *big.Int
	ProtocolFee *big.Int
	PoolFee     *big.Int
}

// flashLoanTerm stands in for the blueprint's non-depositable term NFT: a
// receipt that TakeBatchFlashLoan hands back and RepayBatchFlashLoan must
// be called with before the transaction's end, or (in this Go port,
// lacking an enclosing ledger transaction to enforce that atomically) the
// loan simply remains outstanding and the pool's "borrowed" accounting
// continues to reflect it until repaid.
type flashLoanTerm struct {
	ID       uint64
	Borrower ledger.AccountAddress
	Items    []flashLoanItem
}

// TakeBatchFlashLoan withdraws every requested resource's principal from
// its pool to borrower and returns a term id identifying the batch. The
// fee due on repayment is split between the pool's liquidity providers and
// the protocol reserve according to each pool's flashloan_fee_rate and
// protocol_flashloan_fee_rate.
func (c *Coordinator) TakeBatchFlashLoan(ctx context.Context, borrower ledger.AccountAddress, requests []FlashLoanRequest) (termID uint64, err error) {
	start := time.Now()
	defer func() { c.observe("take_batch_flashloan", start, err) }()

	if len(requests) == 0 {
		return 0, ErrInvalidAmount
	}
	term := &flashLoanTerm{Borrower: borrower}
	err = c.store.Transaction(func(tx Store) error {
		for _, req := range requests {
			if err := ledger.RequirePositive(req.Amount); err != nil {
				return err
			}
			p, err := tx.GetPool(req.Resource)
			if err != nil {
				return err
			}
			if err := p.UpdateInterestAndPrice(c.clock()); err != nil {
				return err
			}
			if err := c.checkOperation(p, OpFlashloan); err != nil {
				return err
			}
			withdrawn, err := p.Vault.ProtectedWithdraw(req.Amount, pool.TemporaryUse, pool.ToZero)
			if err != nil {
				return err
			}
			if err := ledger.MoveBetweenVaults(c.ledger, p.vaultAccountPublic(), borrower, p.Resource, withdrawn); err != nil {
				return err
			}

			fee := truncRatToZero(new(big.Rat).Mul(new(big.Rat).SetInt(req.Amount), p.Config.FlashloanFeeRate))
			protocolFee := halfUpToEven(new(big.Rat).Mul(new(big.Rat).SetInt(fee), p.Config.ProtocolFlashloanFeeRate))
			poolFee := new(big.Int).Sub(fee, protocolFee)

			term.Items = append(term.Items, flashLoanItem{
				Resource:    req.Resource,
				Principal:   req.Amount,
				ProtocolFee: protocolFee,
				PoolFee:     poolFee,
			})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	term.ID = c.allocateTermID()
	c.termMu.Lock()
	c.flashLoans[term.ID] = term
	c.termMu.Unlock()
	return term.ID, nil
}

// RepayBatchFlashLoan settles termID: payer must supply principal plus fee
// for every resource in the batch. On success the term is consumed and
// cannot be repaid a second time.
func (c *Coordinator) RepayBatchFlashLoan(ctx context.Context, termID uint64, payer ledger.AccountAddress) (err error) {
	start := time.Now()
	defer func() { c.observe("repay_batch_flashloan", start, err) }()

	c.termMu.Lock()
	term, ok := c.flashLoans[termID]
	c.termMu.Unlock()
	if !ok {
		return ErrFlashLoanTermMismatch
	}

	err = c.store.Transaction(func(tx Store) error {
		for _, item := range term.Items {
			p, err := tx.GetPool(item.Resource)
			if err != nil {
				return err
			}
			toVault := new(big.Int).Add(item.Principal, item.PoolFee)

			if err := ledger.MoveBetweenVaults(c.ledger, payer, p.vaultAccountPublic(), p.Resource, toVault); err != nil {
				return err
			}
			if err := p.Vault.ProtectedDeposit(toVault, pool.FromTemporaryUse); err != nil {
				return err
			}
			if item.ProtocolFee.Sign() > 0 {
				if err := ledger.MoveBetweenVaults(c.ledger, payer, p.reserveAccountPublic(), p.Resource, item.ProtocolFee); err != nil {
					return err
				}
				p.creditReserve(item.ProtocolFee)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.termMu.Lock()
	delete(c.flashLoans, termID)
	c.termMu.Unlock()
	for _, item := range term.Items {
		c.sink.PoolUpdated(LendingPoolUpdatedEvent{Resource: item.Resource, Type: EventDeposit, Timestamp: c.clock()})
	}
	return nil
}

func (p *PoolState) reserveAccountPublic() ledger.AccountAddress { return p.reserveAccount }

func (p *PoolState) creditReserve(amount *big.Int) {
	p.reserveBalance = new(big.Int).Add(p.reserveBalance, amount)
}
