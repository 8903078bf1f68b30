// Package ledger specifies the external resource layer the lending market
// depends on. The lending market never holds funds itself: every fungible
// balance it manipulates — pool liquidity, collateral, reserves, fees — is
// ultimately a debit or credit against accounts kept by this collaborator.
//
// A production deployment backs this interface with the real token ledger
// (mint/burn of fungible and non-fungible resources, proof verification).
// InMemory, in this package, is a reference implementation used by tests and
// by the standalone service binary.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
)

// AccountAddress identifies a holder of fungible balances: a user wallet, or
// one of the lending market's own internal vaults (per-pool liquidity,
// collateral custody, or reserve retention).
type AccountAddress string

// ResourceAddress identifies a fungible resource: an asset listed on the
// market, or the pool-unit resource minted against it.
type ResourceAddress string

var (
	// ErrInsufficientBalance is returned when a debit exceeds the holder's
	// balance for the given resource.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrUnknownAccount is returned by implementations that require accounts
	// to be provisioned before use.
	ErrUnknownAccount = errors.New("ledger: unknown account")
	// ErrInvalidAmount is returned for non-positive amounts where a positive
	// amount is required.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Ledger is the minimal fungible-balance surface the lending market requires
// from the external resource layer. Amounts are always non-negative
// big.Int base units; the lending market is responsible for all unit/ratio
// math above this line.
type Ledger interface {
	// BalanceOf returns the current balance of res held by account. Unknown
	// accounts are treated as holding zero of every resource.
	BalanceOf(account AccountAddress, res ResourceAddress) (*big.Int, error)

	// Credit increases account's balance of res by amount, minting the
	// amount into existence. Used for interest accrual and liquidation
	// bonuses funded by the protocol rather than moved from another holder.
	Credit(account AccountAddress, res ResourceAddress, amount *big.Int) error

	// Debit decreases account's balance of res by amount. Returns
	// ErrInsufficientBalance if the holder does not have enough.
	Debit(account AccountAddress, res ResourceAddress, amount *big.Int) error

	// Transfer moves amount of res from one account to another atomically
	// with respect to the caller's transaction scope.
	Transfer(from, to AccountAddress, res ResourceAddress, amount *big.Int) error
}

// RequirePositive validates that amount is a positive, non-nil big.Int.
func RequirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// MoveBetweenVaults is a convenience used throughout the lending market to
// shuttle balances between its own internal vaults (liquidity, collateral,
// reserve) without exposing Transfer's two-address signature at every call
// site.
func MoveBetweenVaults(l Ledger, from, to AccountAddress, res ResourceAddress, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := RequirePositive(amount); err != nil {
		return err
	}
	if err := l.Transfer(from, to, res, amount); err != nil {
		return fmt.Errorf("ledger: move %s->%s: %w", from, to, err)
	}
	return nil
}
