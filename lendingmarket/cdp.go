package lendingmarket

import (
	"fmt"
	"math/big"
)

// CDPTypeKind distinguishes a standalone borrowing position from one that
// borrows against another CDP's collateral.
type CDPTypeKind int

const (
	CDPStandard CDPTypeKind = iota
	CDPDelegatee
)

// CDPType carries the delegation metadata for a delegatee CDP. Delegation
// depth is capped at 1: a CDP that is itself a delegatee cannot also be a
// delegator (spec open question resolution), so DelegatorID always refers
// to a standard CDP.
type CDPType struct {
	Kind              CDPTypeKind
	DelegatorID       uint64
	DelegateeIndex    int
	MaxLoanValue      *big.Rat // optional cap on this delegatee's loan value; nil means uncapped
	MaxLoanValueRatio *big.Rat // optional cap on this delegatee's loan value as a fraction of the discounted collateral value it borrows against; nil means uncapped
}

// CDP is a collateralized debt position: a bundle of collateral (held as
// pool units of one or more resources) securing loans (held as loan units
// of one or more resources), optionally linked into a delegator/delegatee
// relationship with another CDP.
type CDP struct {
	ID    uint64
	Owner string

	Type CDPType

	// Collaterals maps a resource to the pool units of it held as
	// collateral.
	Collaterals map[string]*big.Int
	// Loans maps a resource to the loan units owed directly by this CDP.
	Loans map[string]*big.Int
	// DelegateeLoans maps a delegatee CDP id to that delegatee's loan
	// units by resource, present only on a delegator CDP.
	DelegateeLoans map[uint64]map[string]*big.Int

	DelegateeCount int

	Name         string
	Description  string
	KeyImageURL  string
	MintedAt     int64
	UpdatedAt    int64
}

// NewCDP constructs a standard, empty CDP.
func NewCDP(id uint64, owner string, now int64) *CDP {
	return &CDP{
		ID:             id,
		Owner:          owner,
		Type:           CDPType{Kind: CDPStandard},
		Collaterals:    make(map[string]*big.Int),
		Loans:          make(map[string]*big.Int),
		DelegateeLoans: make(map[uint64]map[string]*big.Int),
		MintedAt:       now,
		UpdatedAt:      now,
	}
}

// IsDelegatee reports whether this CDP borrows against another CDP's
// collateral.
func (c *CDP) IsDelegatee() bool { return c.Type.Kind == CDPDelegatee }

// IsDelegator reports whether any other CDP currently delegates to this
// one.
func (c *CDP) IsDelegator() bool { return c.DelegateeCount > 0 }

// CDPWrapper batches mutations to a CDP and enforces its structural
// invariants — cardinality caps, delegation depth, and the updated-at
// bookkeeping — on save, mirroring the blueprint's pattern of collecting
// deltas against a loaded KeyValueEntry before a single write-back.
type CDPWrapper struct {
	cdp       *CDP
	marketCfg *MarketConfig
}

// NewCDPWrapper wraps cdp for mutation against the given market
// configuration's limits.
func NewCDPWrapper(cdp *CDP, marketCfg *MarketConfig) *CDPWrapper {
	return &CDPWrapper{cdp: cdp, marketCfg: marketCfg}
}

// CDP returns the wrapped position.
func (w *CDPWrapper) CDP() *CDP { return w.cdp }

// UpdateCDPType changes the CDP's standard/delegatee classification. A CDP
// that is currently a delegator (has delegatees) may not become a
// delegatee: delegation depth is capped at 1.
func (w *CDPWrapper) UpdateCDPType(t CDPType) error {
	if t.Kind == CDPDelegatee && w.cdp.IsDelegator() {
		return ErrMaxDelegateeDepthExceeded
	}
	w.cdp.Type = t
	return nil
}

// UpdateDelegateeInfo replaces the optional loan-value caps on a delegatee
// CDP without touching its delegator linkage.
func (w *CDPWrapper) UpdateDelegateeInfo(maxLoanValue, maxLoanValueRatio *big.Rat) error {
	if w.cdp.Type.Kind != CDPDelegatee {
		return fmt.Errorf("%w: cdp is not a delegatee", ErrInvalidConfig)
	}
	w.cdp.Type.MaxLoanValue = maxLoanValue
	w.cdp.Type.MaxLoanValueRatio = maxLoanValueRatio
	return nil
}

// IncreaseDelegateeCount records a new delegatee linking to this CDP as
// its delegator. Rejected if this CDP is itself a delegatee.
func (w *CDPWrapper) IncreaseDelegateeCount() error {
	if w.cdp.IsDelegatee() {
		return ErrMaxDelegateeDepthExceeded
	}
	w.cdp.DelegateeCount++
	return nil
}

// DecreaseDelegateeCount undoes IncreaseDelegateeCount.
func (w *CDPWrapper) DecreaseDelegateeCount() {
	if w.cdp.DelegateeCount > 0 {
		w.cdp.DelegateeCount--
	}
}

// SetCollateral sets (or, if zero, removes) the pool-unit balance for a
// collateral resource.
func (w *CDPWrapper) SetCollateral(resource string, units *big.Int) {
	if units.Sign() == 0 {
		delete(w.cdp.Collaterals, resource)
		return
	}
	w.cdp.Collaterals[resource] = units
}

// SetLoan sets (or, if zero, removes) the loan-unit balance for a loan
// resource.
func (w *CDPWrapper) SetLoan(resource string, units *big.Int) {
	if units.Sign() == 0 {
		delete(w.cdp.Loans, resource)
		return
	}
	w.cdp.Loans[resource] = units
}

// SetDelegateeLoan sets (or, if zero, removes) a delegatee's loan-unit
// balance for a resource, recorded on the delegator CDP.
func (w *CDPWrapper) SetDelegateeLoan(delegateeID uint64, resource string, units *big.Int) {
	m, ok := w.cdp.DelegateeLoans[delegateeID]
	if !ok {
		if units.Sign() == 0 {
			return
		}
		m = make(map[string]*big.Int)
		w.cdp.DelegateeLoans[delegateeID] = m
	}
	if units.Sign() == 0 {
		delete(m, resource)
		if len(m) == 0 {
			delete(w.cdp.DelegateeLoans, delegateeID)
		}
		return
	}
	m[resource] = units
}

// Save validates the CDP's cardinality against the market's
// max_cdp_position cap (collaterals plus direct loans, mirroring the
// blueprint's save_cdp position-count check) and bumps UpdatedAt.
func (w *CDPWrapper) Save(now int64) error {
	positionCount := len(w.cdp.Collaterals) + len(w.cdp.Loans)
	if w.marketCfg != nil && positionCount > w.marketCfg.MaxCDPPosition {
		return ErrMaxCDPPositionExceeded
	}
	w.cdp.UpdatedAt = now
	return nil
}
