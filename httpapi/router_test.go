package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftfinance/lending-market/lendingmarket"
	"github.com/weftfinance/lending-market/ledger"
	"github.com/weftfinance/lending-market/oracle"
)

func newTestServer(t *testing.T) (*Server, *ledger.InMemory) {
	t.Helper()
	l := ledger.NewInMemory()
	feed := oracle.NewStatic()
	feed.Set("usdc", big.NewRat(1, 1), 0)
	threshold, err := lendingmarket.NewLiquidationThreshold(big.NewRat(8, 10))
	require.NoError(t, err)
	store := lendingmarket.NewMemStore(lendingmarket.DefaultMarketConfig())
	coordinator := lendingmarket.NewCoordinator(store, l, threshold, nil, nil, nil, func() int64 { return 0 })

	interest, err := lendingmarket.NewInterestStrategy([]lendingmarket.Breakpoint{
		{UtilizationRate: big.NewRat(0, 1), InterestRate: big.NewRat(1, 100)},
		{UtilizationRate: big.NewRat(1, 1), InterestRate: big.NewRat(20, 100)},
	})
	require.NoError(t, err)
	cfg := lendingmarket.PoolConfig{
		ProtocolFeeRate:              big.NewRat(0, 1),
		ProtocolFlashloanFeeRate:     big.NewRat(0, 1),
		ProtocolLiquidationFeeRate:   big.NewRat(0, 1),
		FlashloanFeeRate:             big.NewRat(0, 1),
		LiquidationBonusRate:         big.NewRat(5, 100),
		LoanCloseFactor:              big.NewRat(1, 2),
		DepositLimit:                 big.NewInt(1_000_000_000),
		BorrowLimit:                  big.NewInt(1_000_000_000),
		UtilizationLimit:             big.NewRat(99, 100),
		InterestUpdatePeriodMinutes:  60,
		PriceUpdatePeriodMinutes:     5,
		PriceExpirationPeriodSeconds: 300,
	}
	require.NoError(t, coordinator.CreatePool(
		context.Background(), "usdc", lendingmarket.AssetKey{Resource: "usdc", Type: "stablecoin"},
		cfg, interest, feed,
		ledger.AccountAddress("vault:usdc"), ledger.AccountAddress("reserve:usdc"),
	))

	return NewServer(coordinator, nil, nil, nil), l
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestListPoolsReturnsSeededPool(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s.Router(), http.MethodGet, "/v1/lending/pools", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var views []poolView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, "usdc", views[0].Resource)
}

func TestGetPoolUnknownResourceReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s.Router(), http.MethodGet, "/v1/lending/pools/eth", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreatePoolIsIntentionallyNotImplemented(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s.Router(), http.MethodPost, "/v1/lending/pools", map[string]string{"resource": "eth"})
	require.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestCreateCDPThenContributeAndAddCollateralOverHTTP(t *testing.T) {
	s, l := newTestServer(t)
	router := s.Router()

	w := doJSON(t, router, http.MethodPost, "/v1/lending/cdps", map[string]string{"owner": "alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]uint64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	cdpID := created["id"]

	l.Fund("lp", "usdc", big.NewInt(10_000))
	w = doJSON(t, router, http.MethodPost, "/v1/lending/pools/usdc/contribute", map[string]string{"account": "lp", "amount": "10000"})
	require.Equal(t, http.StatusOK, w.Code)

	l.Fund("alice", "usdc", big.NewInt(100))
	w = doJSON(t, router, http.MethodPost, "/v1/lending/pools/usdc/contribute", map[string]string{"account": "alice", "amount": "100"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/lending/cdps/"+itoa(cdpID)+"/collateral", map[string]string{"resource": "usdc", "pool_units": "100"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/lending/cdps/"+itoa(cdpID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view cdpView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, "100", view.Collaterals["usdc"])
}

func TestIdempotencyKeyReplaysCachedResponse(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	body, err := json.Marshal(map[string]string{"owner": "alice"})
	require.NoError(t, err)

	req1 := httptest.NewRequest(http.MethodPost, "/v1/lending/cdps", bytes.NewReader(body))
	req1.Header.Set("Idempotency-Key", "fixed-key")
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusCreated, w1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/lending/cdps", bytes.NewReader(body))
	req2.Header.Set("Idempotency-Key", "fixed-key")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusCreated, w2.Code)
	require.Equal(t, "true", w2.Header().Get("Idempotency-Replayed"))
	require.Equal(t, w1.Body.String(), w2.Body.String(), "a replayed idempotent request must not mint a second cdp")
}

func itoa(v uint64) string {
	return big.NewInt(0).SetUint64(v).String()
}
