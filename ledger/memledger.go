package ledger

import (
	"math/big"
	"sync"
)

// InMemory is a reference Ledger implementation backed by a map of
// balances. It is safe for concurrent use and is suitable for tests and for
// running the lending market service without an external token layer.
type InMemory struct {
	mu       sync.Mutex
	balances map[AccountAddress]map[ResourceAddress]*big.Int
}

// NewInMemory constructs an empty in-memory ledger.
func NewInMemory() *InMemory {
	return &InMemory{balances: make(map[AccountAddress]map[ResourceAddress]*big.Int)}
}

// Fund seeds account with amount of res. Intended for test setup only; it
// bypasses the Credit accounting path deliberately since it represents
// balances that exist before the lending market is involved.
func (m *InMemory) Fund(account AccountAddress, res ResourceAddress, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(account, res, amount)
}

func (m *InMemory) addLocked(account AccountAddress, res ResourceAddress, amount *big.Int) {
	holdings, ok := m.balances[account]
	if !ok {
		holdings = make(map[ResourceAddress]*big.Int)
		m.balances[account] = holdings
	}
	current, ok := holdings[res]
	if !ok {
		current = big.NewInt(0)
	}
	holdings[res] = new(big.Int).Add(current, amount)
}

func (m *InMemory) BalanceOf(account AccountAddress, res ResourceAddress) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	holdings, ok := m.balances[account]
	if !ok {
		return big.NewInt(0), nil
	}
	bal, ok := holdings[res]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (m *InMemory) Credit(account AccountAddress, res ResourceAddress, amount *big.Int) error {
	if err := RequirePositive(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(account, res, amount)
	return nil
}

func (m *InMemory) Debit(account AccountAddress, res ResourceAddress, amount *big.Int) error {
	if err := RequirePositive(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	holdings, ok := m.balances[account]
	if !ok {
		return ErrInsufficientBalance
	}
	current, ok := holdings[res]
	if !ok || current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	holdings[res] = new(big.Int).Sub(current, amount)
	return nil
}

func (m *InMemory) Transfer(from, to AccountAddress, res ResourceAddress, amount *big.Int) error {
	if err := RequirePositive(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	holdings, ok := m.balances[from]
	if !ok {
		return ErrInsufficientBalance
	}
	current, ok := holdings[res]
	if !ok || current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	holdings[res] = new(big.Int).Sub(current, amount)
	m.addLocked(to, res, amount)
	return nil
}

// Snapshot returns a deep copy of the current balances, used by the
// in-memory store to implement transactional rollback.
func (m *InMemory) Snapshot() map[AccountAddress]map[ResourceAddress]*big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[AccountAddress]map[ResourceAddress]*big.Int, len(m.balances))
	for acct, holdings := range m.balances {
		cloned := make(map[ResourceAddress]*big.Int, len(holdings))
		for res, bal := range holdings {
			cloned[res] = new(big.Int).Set(bal)
		}
		out[acct] = cloned
	}
	return out
}

// Restore replaces the current balances with a previously captured
// Snapshot.
func (m *InMemory) Restore(snapshot map[AccountAddress]map[ResourceAddress]*big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = snapshot
}
