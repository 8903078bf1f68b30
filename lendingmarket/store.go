package lendingmarket

import "math/big"

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Store is the persistence surface the Coordinator depends on: market
// configuration, the operating status gates, every pool, and every CDP.
// Implementations must make Transaction atomic — either every mutation
// performed by fn is retained, or none are — since the coordinator relies
// on this to give two-phase operations (flash loans, liquidation) and
// multi-pool operations (borrow against several collaterals) all-or-
// nothing semantics without a ledger-enforced transaction boundary.
type Store interface {
	PoolLookup
	CDPLookup

	GetMarketConfig() (MarketConfig, error)
	PutMarketConfig(MarketConfig) error

	GetMarketStatus() (*OperatingStatus, error)

	PutPool(resource string, p *PoolState) error
	ListPools() ([]*PoolState, error)

	PutCDP(cdp *CDP) error
	NextCDPID() (uint64, error)

	// Transaction runs fn against this same Store. If fn returns an error,
	// every mutation made during fn is rolled back before Transaction
	// returns that error.
	Transaction(fn func(Store) error) error
}

func cloneCDP(c *CDP) *CDP {
	clone := &CDP{
		ID:             c.ID,
		Owner:          c.Owner,
		Type:           c.Type,
		Collaterals:    make(map[string]*big.Int, len(c.Collaterals)),
		Loans:          make(map[string]*big.Int, len(c.Loans)),
		DelegateeLoans: make(map[uint64]map[string]*big.Int, len(c.DelegateeLoans)),
		DelegateeCount: c.DelegateeCount,
		Name:           c.Name,
		Description:    c.Description,
		KeyImageURL:    c.KeyImageURL,
		MintedAt:       c.MintedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	for k, v := range c.Collaterals {
		clone.Collaterals[k] = cloneBigInt(v)
	}
	for k, v := range c.Loans {
		clone.Loans[k] = cloneBigInt(v)
	}
	for delegatee, m := range c.DelegateeLoans {
		cm := make(map[string]*big.Int, len(m))
		for k, v := range m {
			cm[k] = cloneBigInt(v)
		}
		clone.DelegateeLoans[delegatee] = cm
	}
	return clone
}
