package lendingmarket

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftfinance/lending-market/ledger"
	"github.com/weftfinance/lending-market/oracle"
)

type coordinatorTestMarket struct {
	coordinator *Coordinator
	ledger      *ledger.InMemory
	feed        *oracle.Static
	threshold   *LiquidationThreshold
}

func newCoordinatorTestMarket(t *testing.T) *coordinatorTestMarket {
	t.Helper()
	l := ledger.NewInMemory()
	feed := oracle.NewStatic()
	threshold, err := NewLiquidationThreshold(big.NewRat(8, 10))
	require.NoError(t, err)
	store := NewMemStore(DefaultMarketConfig())
	coordinator := NewCoordinator(store, l, threshold, nil, nil, nil, func() int64 { return 0 })
	return &coordinatorTestMarket{coordinator: coordinator, ledger: l, feed: feed, threshold: threshold}
}

// testPoolConfig is validPoolConfig with its limits widened: the fixture's
// defaults are sized for single-pool config tests, but coordinator tests
// layer an LP seed deposit on top of CDP-owner deposits in the same pool.
func testPoolConfig() PoolConfig {
	cfg := validPoolConfig()
	cfg.DepositLimit = big.NewInt(10_000_000)
	cfg.BorrowLimit = big.NewInt(8_000_000)
	return cfg
}

func (m *coordinatorTestMarket) createPool(t *testing.T, ctx context.Context, resource, assetType string, price *big.Rat) {
	t.Helper()
	m.feed.Set(resource, price, 0)
	require.NoError(t, m.coordinator.CreatePool(
		ctx, resource,
		AssetKey{Resource: resource, Type: assetType},
		testPoolConfig(),
		mustInterestStrategy(t),
		m.feed,
		ledger.AccountAddress("vault:"+resource),
		ledger.AccountAddress("reserve:"+resource),
	))
}

func TestCreatePoolRejectsDuplicateResource(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "usdc", "stablecoin", big.NewRat(1, 1))

	err := m.coordinator.CreatePool(
		ctx, "usdc",
		AssetKey{Resource: "usdc", Type: "stablecoin"},
		validPoolConfig(), mustInterestStrategy(t), m.feed,
		ledger.AccountAddress("vault:usdc"), ledger.AccountAddress("reserve:usdc"),
	)
	require.ErrorIs(t, err, ErrPoolExists)
}

func TestContributeMintsUnitsAndMovesLedgerBalance(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "usdc", "stablecoin", big.NewRat(1, 1))
	m.ledger.Fund("alice", "usdc", big.NewInt(1000))

	units, err := m.coordinator.Contribute(ctx, "alice", "usdc", big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), units)

	balance, err := m.ledger.BalanceOf("alice", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), balance)

	vaultBalance, err := m.ledger.BalanceOf("vault:usdc", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), vaultBalance)
}

func TestRedeemReturnsUnderlyingAndBurnsUnits(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "usdc", "stablecoin", big.NewRat(1, 1))
	m.ledger.Fund("alice", "usdc", big.NewInt(1000))
	_, err := m.coordinator.Contribute(ctx, "alice", "usdc", big.NewInt(1000))
	require.NoError(t, err)

	amount, err := m.coordinator.Redeem(ctx, "alice", "usdc", big.NewInt(400))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), amount)

	balance, err := m.ledger.BalanceOf("alice", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), balance)
}

func TestCreateCDPThenAddCollateralAndBorrowHealthyPosition(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "eth", "volatile", big.NewRat(2000, 1))
	m.createPool(t, ctx, "usdc", "stablecoin", big.NewRat(1, 1))

	m.ledger.Fund("lp", "eth", big.NewInt(1_000_000))
	m.ledger.Fund("lp", "usdc", big.NewInt(1_000_000))
	_, err := m.coordinator.Contribute(ctx, "lp", "eth", big.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = m.coordinator.Contribute(ctx, "lp", "usdc", big.NewInt(1_000_000))
	require.NoError(t, err)

	cdp, err := m.coordinator.CreateCDP(ctx, "alice", "my-cdp", "", "")
	require.NoError(t, err)

	m.ledger.Fund("alice", "eth", big.NewInt(10))
	_, err = m.coordinator.Contribute(ctx, "alice", "eth", big.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, m.coordinator.AddCollateral(ctx, cdp.ID, "eth", big.NewInt(10)))

	require.NoError(t, m.coordinator.Borrow(ctx, cdp.ID, "alice", "usdc", big.NewInt(1000)))

	got, err := m.coordinator.GetCDP(ctx, cdp.ID)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), got.Loans["usdc"])

	balance, err := m.ledger.BalanceOf("alice", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), balance)
}

func TestBorrowRejectsUnhealthyPositionAndRollsBack(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "eth", "volatile", big.NewRat(1, 1))
	m.createPool(t, ctx, "usdc", "stablecoin", big.NewRat(1, 1))

	m.ledger.Fund("lp", "eth", big.NewInt(1_000_000))
	m.ledger.Fund("lp", "usdc", big.NewInt(1_000_000))
	_, err := m.coordinator.Contribute(ctx, "lp", "eth", big.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = m.coordinator.Contribute(ctx, "lp", "usdc", big.NewInt(1_000_000))
	require.NoError(t, err)

	cdp, err := m.coordinator.CreateCDP(ctx, "alice", "", "", "")
	require.NoError(t, err)
	m.ledger.Fund("alice", "eth", big.NewInt(100))
	_, err = m.coordinator.Contribute(ctx, "alice", "eth", big.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, m.coordinator.AddCollateral(ctx, cdp.ID, "eth", big.NewInt(100)))

	// $100 of collateral, discounted at 0.8, backs at most $80 of debt.
	err = m.coordinator.Borrow(ctx, cdp.ID, "alice", "usdc", big.NewInt(200))
	require.ErrorIs(t, err, ErrUnhealthyPosition)

	got, err := m.coordinator.GetCDP(ctx, cdp.ID)
	require.NoError(t, err)
	require.Nil(t, got.Loans["usdc"], "a failed borrow must leave the CDP's loan ledger untouched")

	balance, err := m.ledger.BalanceOf("alice", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), balance, "a failed borrow must not move any funds")
}

func TestRemoveCollateralRejectsWhenItWouldUndercollateralize(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "eth", "volatile", big.NewRat(2000, 1))
	m.createPool(t, ctx, "usdc", "stablecoin", big.NewRat(1, 1))
	m.ledger.Fund("lp", "eth", big.NewInt(1_000_000))
	m.ledger.Fund("lp", "usdc", big.NewInt(1_000_000))
	_, err := m.coordinator.Contribute(ctx, "lp", "eth", big.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = m.coordinator.Contribute(ctx, "lp", "usdc", big.NewInt(1_000_000))
	require.NoError(t, err)

	cdp, err := m.coordinator.CreateCDP(ctx, "alice", "", "", "")
	require.NoError(t, err)
	m.ledger.Fund("alice", "eth", big.NewInt(10))
	_, err = m.coordinator.Contribute(ctx, "alice", "eth", big.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, m.coordinator.AddCollateral(ctx, cdp.ID, "eth", big.NewInt(10)))
	require.NoError(t, m.coordinator.Borrow(ctx, cdp.ID, "alice", "usdc", big.NewInt(15000)))

	err = m.coordinator.RemoveCollateral(ctx, cdp.ID, "eth", big.NewInt(9))
	require.Error(t, err)

	got, err := m.coordinator.GetCDP(ctx, cdp.ID)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), got.Collaterals["eth"], "a rejected withdrawal must not partially apply")
}

func TestRepayClampsToOutstandingDebt(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "eth", "volatile", big.NewRat(2000, 1))
	m.createPool(t, ctx, "usdc", "stablecoin", big.NewRat(1, 1))
	m.ledger.Fund("lp", "eth", big.NewInt(1_000_000))
	m.ledger.Fund("lp", "usdc", big.NewInt(1_000_000))
	_, err := m.coordinator.Contribute(ctx, "lp", "eth", big.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = m.coordinator.Contribute(ctx, "lp", "usdc", big.NewInt(1_000_000))
	require.NoError(t, err)

	cdp, err := m.coordinator.CreateCDP(ctx, "alice", "", "", "")
	require.NoError(t, err)
	m.ledger.Fund("alice", "eth", big.NewInt(10))
	_, err = m.coordinator.Contribute(ctx, "alice", "eth", big.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, m.coordinator.AddCollateral(ctx, cdp.ID, "eth", big.NewInt(10)))
	require.NoError(t, m.coordinator.Borrow(ctx, cdp.ID, "alice", "usdc", big.NewInt(1000)))

	m.ledger.Fund("alice", "usdc", big.NewInt(10_000))
	require.NoError(t, m.coordinator.Repay(ctx, cdp.ID, "alice", "usdc", big.NewInt(5000)))

	got, err := m.coordinator.GetCDP(ctx, cdp.ID)
	require.NoError(t, err)
	require.Nil(t, got.Loans["usdc"])

	balance, err := m.ledger.BalanceOf("alice", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10_000), balance, "repaying more than owed must only ever draw the outstanding amount")
}

func TestDelegateeBorrowRecordsDebtOnDelegatorAndChecksCombinedHealth(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "eth", "volatile", big.NewRat(2000, 1))
	m.createPool(t, ctx, "usdc", "stablecoin", big.NewRat(1, 1))
	m.ledger.Fund("lp", "eth", big.NewInt(1_000_000))
	m.ledger.Fund("lp", "usdc", big.NewInt(1_000_000))
	_, err := m.coordinator.Contribute(ctx, "lp", "eth", big.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = m.coordinator.Contribute(ctx, "lp", "usdc", big.NewInt(1_000_000))
	require.NoError(t, err)

	delegator, err := m.coordinator.CreateCDP(ctx, "alice", "", "", "")
	require.NoError(t, err)
	m.ledger.Fund("alice", "eth", big.NewInt(10))
	_, err = m.coordinator.Contribute(ctx, "alice", "eth", big.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, m.coordinator.AddCollateral(ctx, delegator.ID, "eth", big.NewInt(10)))

	delegatee, err := m.coordinator.CreateDelegateeCDP(ctx, "bob", delegator.ID, nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.coordinator.Borrow(ctx, delegatee.ID, "bob", "usdc", big.NewInt(1000)))

	gotDelegator, err := m.coordinator.GetCDP(ctx, delegator.ID)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), gotDelegator.DelegateeLoans[delegatee.ID]["usdc"])

	gotDelegatee, err := m.coordinator.GetCDP(ctx, delegatee.ID)
	require.NoError(t, err)
	require.Nil(t, gotDelegatee.Loans["usdc"], "delegatee debt is recorded on the delegator, not the delegatee itself")

	balance, err := m.ledger.BalanceOf("bob", "usdc")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), balance)
}

func TestCreateDelegateeCDPRejectsDelegateeOfADelegatee(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "eth", "volatile", big.NewRat(2000, 1))
	delegator, err := m.coordinator.CreateCDP(ctx, "alice", "", "", "")
	require.NoError(t, err)
	delegatee, err := m.coordinator.CreateDelegateeCDP(ctx, "bob", delegator.ID, nil, nil)
	require.NoError(t, err)

	_, err = m.coordinator.CreateDelegateeCDP(ctx, "carol", delegatee.ID, nil, nil)
	require.ErrorIs(t, err, ErrMaxDelegateeDepthExceeded)
}

func TestUpdateOperatingStatusBlocksBorrowMarketWide(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "eth", "volatile", big.NewRat(2000, 1))
	m.createPool(t, ctx, "usdc", "stablecoin", big.NewRat(1, 1))
	m.ledger.Fund("lp", "eth", big.NewInt(1_000_000))
	m.ledger.Fund("lp", "usdc", big.NewInt(1_000_000))
	_, err := m.coordinator.Contribute(ctx, "lp", "eth", big.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = m.coordinator.Contribute(ctx, "lp", "usdc", big.NewInt(1_000_000))
	require.NoError(t, err)

	cdp, err := m.coordinator.CreateCDP(ctx, "alice", "", "", "")
	require.NoError(t, err)
	m.ledger.Fund("alice", "eth", big.NewInt(10))
	_, err = m.coordinator.Contribute(ctx, "alice", "eth", big.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, m.coordinator.AddCollateral(ctx, cdp.ID, "eth", big.NewInt(10)))

	require.NoError(t, m.coordinator.UpdateOperatingStatus(ctx, "", OpBorrow, false, false))

	err = m.coordinator.Borrow(ctx, cdp.ID, "alice", "usdc", big.NewInt(1000))
	require.ErrorIs(t, err, ErrOperationDisabled)
}

func TestListPoolsAndGetPoolReturnRefreshedState(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "eth", "volatile", big.NewRat(2000, 1))
	m.createPool(t, ctx, "usdc", "stablecoin", big.NewRat(1, 1))

	pools, err := m.coordinator.ListPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 2)

	got, err := m.coordinator.GetPool(ctx, "eth")
	require.NoError(t, err)
	require.Equal(t, ledger.ResourceAddress("eth"), got.Resource)
}

func TestAddCollateralAndRemoveCollateralFireEventCollateral(t *testing.T) {
	l := ledger.NewInMemory()
	feed := oracle.NewStatic()
	threshold, err := NewLiquidationThreshold(big.NewRat(8, 10))
	require.NoError(t, err)
	store := NewMemStore(DefaultMarketConfig())
	sink := &RecordingEventSink{}
	coordinator := NewCoordinator(store, l, threshold, sink, nil, nil, func() int64 { return 0 })

	ctx := context.Background()
	feed.Set("eth", big.NewRat(2000, 1), 0)
	require.NoError(t, coordinator.CreatePool(
		ctx, "eth", AssetKey{Resource: "eth", Type: "volatile"},
		testPoolConfig(), mustInterestStrategy(t), feed,
		ledger.AccountAddress("vault:eth"), ledger.AccountAddress("reserve:eth"),
	))

	cdp, err := coordinator.CreateCDP(ctx, "alice", "", "", "")
	require.NoError(t, err)
	l.Fund("alice", "eth", big.NewInt(10))
	_, err = coordinator.Contribute(ctx, "alice", "eth", big.NewInt(10))
	require.NoError(t, err)

	require.NoError(t, coordinator.AddCollateral(ctx, cdp.ID, "eth", big.NewInt(10)))
	require.NoError(t, coordinator.RemoveCollateral(ctx, cdp.ID, "eth", big.NewInt(5)))

	var count int
	for _, e := range sink.PoolEvents {
		if e.Type == EventCollateral {
			count++
		}
	}
	require.Equal(t, 2, count, "both AddCollateral and RemoveCollateral must fire EventCollateral")
}

func TestCollectReserveWithdrawsAccumulatedProtocolFee(t *testing.T) {
	m := newCoordinatorTestMarket(t)
	ctx := context.Background()
	m.createPool(t, ctx, "eth", "volatile", big.NewRat(2000, 1))
	cfg := testPoolConfig()
	cfg.ProtocolFeeRate = big.NewRat(1, 10)
	m.feed.Set("usdc", big.NewRat(1, 1), 0)
	require.NoError(t, m.coordinator.CreatePool(
		ctx, "usdc", AssetKey{Resource: "usdc", Type: "stablecoin"},
		cfg, mustInterestStrategy(t), m.feed,
		ledger.AccountAddress("vault:usdc"), ledger.AccountAddress("reserve:usdc"),
	))
	m.ledger.Fund("lp", "eth", big.NewInt(1_000_000))
	m.ledger.Fund("lp", "usdc", big.NewInt(1_000_000))
	_, err := m.coordinator.Contribute(ctx, "lp", "eth", big.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = m.coordinator.Contribute(ctx, "lp", "usdc", big.NewInt(1_000_000))
	require.NoError(t, err)

	cdp, err := m.coordinator.CreateCDP(ctx, "alice", "", "", "")
	require.NoError(t, err)
	m.ledger.Fund("alice", "eth", big.NewInt(200))
	_, err = m.coordinator.Contribute(ctx, "alice", "eth", big.NewInt(200))
	require.NoError(t, err)
	require.NoError(t, m.coordinator.AddCollateral(ctx, cdp.ID, "eth", big.NewInt(200)))
	require.NoError(t, m.coordinator.Borrow(ctx, cdp.ID, "alice", "usdc", big.NewInt(300_000)))

	m.coordinator.clock = func() int64 { return int64(cfg.InterestUpdatePeriodMinutes) * 10 * 60 }
	_, err = m.coordinator.GetPool(ctx, "usdc")
	require.NoError(t, err)

	amount, err := m.coordinator.CollectReserve(ctx, "usdc", "treasury")
	require.NoError(t, err)
	require.True(t, amount.Sign() > 0, "accrued interest on an outstanding borrow must leave a collectible protocol fee")
}
