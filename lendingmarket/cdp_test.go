package lendingmarket

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCDPIsStandardAndEmpty(t *testing.T) {
	cdp := NewCDP(1, "alice", 100)
	require.False(t, cdp.IsDelegatee())
	require.False(t, cdp.IsDelegator())
	require.Empty(t, cdp.Collaterals)
	require.Empty(t, cdp.Loans)
}

func TestUpdateCDPTypeRejectsDelegationOnADelegator(t *testing.T) {
	cdp := NewCDP(1, "alice", 100)
	w := NewCDPWrapper(cdp, nil)
	require.NoError(t, w.IncreaseDelegateeCount())

	err := w.UpdateCDPType(CDPType{Kind: CDPDelegatee, DelegatorID: 2})
	require.ErrorIs(t, err, ErrMaxDelegateeDepthExceeded)
}

func TestIncreaseDelegateeCountRejectsOnADelegatee(t *testing.T) {
	cdp := NewCDP(2, "bob", 100)
	cdp.Type = CDPType{Kind: CDPDelegatee, DelegatorID: 1}
	w := NewCDPWrapper(cdp, nil)

	err := w.IncreaseDelegateeCount()
	require.ErrorIs(t, err, ErrMaxDelegateeDepthExceeded)
}

func TestSetCollateralRemovesOnZero(t *testing.T) {
	cdp := NewCDP(1, "alice", 100)
	w := NewCDPWrapper(cdp, nil)
	w.SetCollateral("eth", big.NewInt(10))
	require.Equal(t, big.NewInt(10), cdp.Collaterals["eth"])

	w.SetCollateral("eth", big.NewInt(0))
	_, ok := cdp.Collaterals["eth"]
	require.False(t, ok)
}

func TestSetDelegateeLoanCleansUpEmptyMaps(t *testing.T) {
	cdp := NewCDP(1, "alice", 100)
	w := NewCDPWrapper(cdp, nil)
	w.SetDelegateeLoan(2, "usdc", big.NewInt(5))
	require.Equal(t, big.NewInt(5), cdp.DelegateeLoans[2]["usdc"])

	w.SetDelegateeLoan(2, "usdc", big.NewInt(0))
	_, ok := cdp.DelegateeLoans[2]
	require.False(t, ok, "delegatee loan map should be pruned once empty")
}

func TestSaveEnforcesMaxCDPPosition(t *testing.T) {
	cdp := NewCDP(1, "alice", 100)
	w := NewCDPWrapper(cdp, &MarketConfig{MaxCDPPosition: 1})
	w.SetCollateral("eth", big.NewInt(1))
	w.SetLoan("usdc", big.NewInt(1))

	err := w.Save(200)
	require.ErrorIs(t, err, ErrMaxCDPPositionExceeded)
}

func TestSaveBumpsUpdatedAt(t *testing.T) {
	cdp := NewCDP(1, "alice", 100)
	cfg := DefaultMarketConfig()
	w := NewCDPWrapper(cdp, &cfg)
	require.NoError(t, w.Save(200))
	require.Equal(t, int64(200), cdp.UpdatedAt)
}
