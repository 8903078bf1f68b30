package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryCreditAndBalanceOf(t *testing.T) {
	l := NewInMemory()
	require.NoError(t, l.Credit("alice", "usdc", big.NewInt(100)))
	bal, err := l.BalanceOf("alice", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), bal)
}

func TestInMemoryBalanceOfUnknownAccountIsZero(t *testing.T) {
	l := NewInMemory()
	bal, err := l.BalanceOf("nobody", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), bal)
}

func TestInMemoryDebitInsufficientBalance(t *testing.T) {
	l := NewInMemory()
	l.Fund("alice", "usdc", big.NewInt(10))
	err := l.Debit("alice", "usdc", big.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestInMemoryTransferMovesBalanceAtomically(t *testing.T) {
	l := NewInMemory()
	l.Fund("alice", "usdc", big.NewInt(100))
	require.NoError(t, l.Transfer("alice", "bob", "usdc", big.NewInt(40)))

	aliceBal, err := l.BalanceOf("alice", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(60), aliceBal)

	bobBal, err := l.BalanceOf("bob", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(40), bobBal)
}

func TestInMemoryTransferInsufficientBalanceLeavesBothUntouched(t *testing.T) {
	l := NewInMemory()
	l.Fund("alice", "usdc", big.NewInt(10))
	err := l.Transfer("alice", "bob", "usdc", big.NewInt(20))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	aliceBal, err := l.BalanceOf("alice", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), aliceBal)

	bobBal, err := l.BalanceOf("bob", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), bobBal)
}

func TestInMemorySnapshotAndRestore(t *testing.T) {
	l := NewInMemory()
	l.Fund("alice", "usdc", big.NewInt(100))
	snap := l.Snapshot()

	require.NoError(t, l.Debit("alice", "usdc", big.NewInt(100)))
	bal, err := l.BalanceOf("alice", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), bal)

	l.Restore(snap)
	bal, err = l.BalanceOf("alice", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), bal)
}

func TestCreditAndDebitRejectNonPositiveAmounts(t *testing.T) {
	l := NewInMemory()
	require.ErrorIs(t, l.Credit("alice", "usdc", big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, l.Debit("alice", "usdc", big.NewInt(-1)), ErrInvalidAmount)
}

func TestRequirePositive(t *testing.T) {
	require.NoError(t, RequirePositive(big.NewInt(1)))
	require.ErrorIs(t, RequirePositive(big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, RequirePositive(nil), ErrInvalidAmount)
}

func TestMoveBetweenVaultsSkipsZeroAmount(t *testing.T) {
	l := NewInMemory()
	require.NoError(t, MoveBetweenVaults(l, "a", "b", "usdc", big.NewInt(0)))
	require.NoError(t, MoveBetweenVaults(l, "a", "b", "usdc", nil))
}

func TestMoveBetweenVaultsWrapsTransferError(t *testing.T) {
	l := NewInMemory()
	err := MoveBetweenVaults(l, "a", "b", "usdc", big.NewInt(10))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}
