package httpapi

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weftfinance/lending-market/ledger"
	"github.com/weftfinance/lending-market/lendingmarket"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lendingmarket.ErrInvalidAmount),
		errors.Is(err, lendingmarket.ErrInvalidConfig),
		errors.Is(err, lendingmarket.ErrInvalidRatio),
		errors.Is(err, lendingmarket.ErrInvalidBreakpoint):
		status = http.StatusBadRequest
	case errors.Is(err, lendingmarket.ErrPoolNotFound),
		errors.Is(err, lendingmarket.ErrCDPNotFound),
		errors.Is(err, lendingmarket.ErrMarketNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lendingmarket.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, lendingmarket.ErrOperationDisabled),
		errors.Is(err, lendingmarket.ErrCircuitBreakerOpen),
		errors.Is(err, lendingmarket.ErrUnhealthyPosition),
		errors.Is(err, lendingmarket.ErrCDPNotLiquidatable),
		errors.Is(err, lendingmarket.ErrCDPNotRefinanceable),
		errors.Is(err, lendingmarket.ErrDepositLimitExceeded),
		errors.Is(err, lendingmarket.ErrBorrowLimitExceeded),
		errors.Is(err, lendingmarket.ErrUtilizationLimitExceeded),
		errors.Is(err, lendingmarket.ErrMaxCDPPositionExceeded),
		errors.Is(err, lendingmarket.ErrMaxDelegateeDepthExceeded),
		errors.Is(err, lendingmarket.ErrDelegateeLoanCapExceeded),
		errors.Is(err, lendingmarket.ErrInsufficientCollateral),
		errors.Is(err, lendingmarket.ErrInsufficientLoan),
		errors.Is(err, lendingmarket.ErrLiquidationAlreadyStarted),
		errors.Is(err, lendingmarket.ErrLiquidationNotStarted),
		errors.Is(err, lendingmarket.ErrFlashLoanTermMismatch),
		errors.Is(err, lendingmarket.ErrFlashLoanNotRepaid),
		errors.Is(err, lendingmarket.ErrPriceStale),
		errors.Is(err, lendingmarket.ErrPriceUnavailable):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseBigInt(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

func parseCDPID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

type amountRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type poolView struct {
	Resource      string `json:"resource"`
	AssetType     string `json:"asset_type"`
	Available     string `json:"available"`
	Borrowed      string `json:"borrowed"`
	TotalLoan     string `json:"total_loan"`
	TotalLoanUnit string `json:"total_loan_unit"`
	Price         string `json:"price"`
	PriceAsOf     int64  `json:"price_as_of"`
}

func toPoolView(p *lendingmarket.PoolState) (poolView, error) {
	available, borrowed, err := p.Vault.GetPooledAmount()
	if err != nil {
		return poolView{}, err
	}
	price, ts := p.CachedPrice()
	priceStr := ""
	if price != nil {
		priceStr = price.RatString()
	}
	return poolView{
		Resource:      string(p.Resource),
		AssetType:     p.AssetKey.Type,
		Available:     available.String(),
		Borrowed:      borrowed.String(),
		TotalLoan:     p.TotalLoan().String(),
		TotalLoanUnit: p.TotalLoanUnit().String(),
		Price:         priceStr,
		PriceAsOf:     ts,
	}, nil
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.coordinator.ListPools(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]poolView, 0, len(pools))
	for _, p := range pools {
		v, err := toPoolView(p)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	p, err := s.coordinator.GetPool(r.Context(), resource)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := toPoolView(p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "pool creation requires operator-supplied oracle/ledger wiring; use the admin CLI"})
}

func (s *Server) handleUpdatePoolConfig(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	var patch lendingmarket.PoolConfig
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, lendingmarket.ErrInvalidConfig)
		return
	}
	if err := s.coordinator.UpdatePoolConfig(r.Context(), resource, patch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleUpdateOperatingStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resource string `json:"resource"`
		Op       int    `json:"operation"`
		Enabled  bool   `json:"enabled"`
		AsAdmin  bool   `json:"as_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidConfig)
		return
	}
	if err := s.coordinator.UpdateOperatingStatus(r.Context(), req.Resource, lendingmarket.OperationKind(req.Op), req.Enabled, req.AsAdmin); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleCollectReserve(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	var req struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidConfig)
		return
	}
	amount, err := s.coordinator.CollectReserve(r.Context(), resource, ledger.AccountAddress(req.To))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	amount, ok := parseBigInt(req.Amount)
	if !ok {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	units, err := s.coordinator.Contribute(r.Context(), ledger.AccountAddress(req.Account), resource, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pool_units": units.String()})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	units, ok := parseBigInt(req.Amount)
	if !ok {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	amount, err := s.coordinator.Redeem(r.Context(), ledger.AccountAddress(req.Account), resource, units)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) handleCreateCDP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner       string `json:"owner"`
		Name        string `json:"name"`
		Description string `json:"description"`
		KeyImageURL string `json:"key_image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidConfig)
		return
	}
	cdp, err := s.coordinator.CreateCDP(r.Context(), req.Owner, req.Name, req.Description, req.KeyImageURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": cdp.ID})
}

func (s *Server) handleCreateDelegateeCDP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner             string `json:"owner"`
		DelegatorID       uint64 `json:"delegator_id"`
		MaxLoanValue      string `json:"max_loan_value,omitempty"`
		MaxLoanValueRatio string `json:"max_loan_value_ratio,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidConfig)
		return
	}
	var maxLoanValue, maxLoanValueRatio *big.Rat
	if req.MaxLoanValue != "" {
		maxLoanValue, _ = new(big.Rat).SetString(req.MaxLoanValue)
	}
	if req.MaxLoanValueRatio != "" {
		maxLoanValueRatio, _ = new(big.Rat).SetString(req.MaxLoanValueRatio)
	}
	cdp, err := s.coordinator.CreateDelegateeCDP(r.Context(), req.Owner, req.DelegatorID, maxLoanValue, maxLoanValueRatio)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": cdp.ID})
}

type cdpView struct {
	ID             uint64                       `json:"id"`
	Owner          string                       `json:"owner"`
	Kind           lendingmarket.CDPTypeKind    `json:"kind"`
	DelegatorID    uint64                       `json:"delegator_id,omitempty"`
	Collaterals    map[string]string            `json:"collaterals"`
	Loans          map[string]string            `json:"loans"`
	DelegateeLoans map[uint64]map[string]string `json:"delegatee_loans,omitempty"`
	Name           string                       `json:"name,omitempty"`
	Description    string                       `json:"description,omitempty"`
}

func toCDPView(cdp *lendingmarket.CDP) cdpView {
	v := cdpView{
		ID:          cdp.ID,
		Owner:       cdp.Owner,
		Kind:        cdp.Type.Kind,
		DelegatorID: cdp.Type.DelegatorID,
		Collaterals: make(map[string]string, len(cdp.Collaterals)),
		Loans:       make(map[string]string, len(cdp.Loans)),
		Name:        cdp.Name,
		Description: cdp.Description,
	}
	for k, amount := range cdp.Collaterals {
		v.Collaterals[k] = amount.String()
	}
	for k, amount := range cdp.Loans {
		v.Loans[k] = amount.String()
	}
	if len(cdp.DelegateeLoans) > 0 {
		v.DelegateeLoans = make(map[uint64]map[string]string, len(cdp.DelegateeLoans))
		for delegatee, loans := range cdp.DelegateeLoans {
			m := make(map[string]string, len(loans))
			for k, amount := range loans {
				m[k] = amount.String()
			}
			v.DelegateeLoans[delegatee] = m
		}
	}
	return v
}

func (s *Server) handleGetCDP(w http.ResponseWriter, r *http.Request) {
	id, err := parseCDPID(r)
	if err != nil {
		writeError(w, lendingmarket.ErrCDPNotFound)
		return
	}
	cdp, err := s.coordinator.GetCDP(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCDPView(cdp))
}

func (s *Server) handleAddCollateral(w http.ResponseWriter, r *http.Request) {
	id, err := parseCDPID(r)
	if err != nil {
		writeError(w, lendingmarket.ErrCDPNotFound)
		return
	}
	var req struct {
		Resource  string `json:"resource"`
		PoolUnits string `json:"pool_units"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	units, ok := parseBigInt(req.PoolUnits)
	if !ok {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	if err := s.coordinator.AddCollateral(r.Context(), id, req.Resource, units); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveCollateral(w http.ResponseWriter, r *http.Request) {
	id, err := parseCDPID(r)
	if err != nil {
		writeError(w, lendingmarket.ErrCDPNotFound)
		return
	}
	var req struct {
		Resource  string `json:"resource"`
		PoolUnits string `json:"pool_units"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	units, ok := parseBigInt(req.PoolUnits)
	if !ok {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	if err := s.coordinator.RemoveCollateral(r.Context(), id, req.Resource, units); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	id, err := parseCDPID(r)
	if err != nil {
		writeError(w, lendingmarket.ErrCDPNotFound)
		return
	}
	var req struct {
		Resource  string `json:"resource"`
		Amount    string `json:"amount"`
		Recipient string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	amount, ok := parseBigInt(req.Amount)
	if !ok {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	if err := s.coordinator.Borrow(r.Context(), id, ledger.AccountAddress(req.Recipient), req.Resource, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "borrowed"})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	id, err := parseCDPID(r)
	if err != nil {
		writeError(w, lendingmarket.ErrCDPNotFound)
		return
	}
	var req struct {
		Resource string `json:"resource"`
		Amount   string `json:"amount"`
		Payer    string `json:"payer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	amount, ok := parseBigInt(req.Amount)
	if !ok {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	if err := s.coordinator.Repay(r.Context(), id, ledger.AccountAddress(req.Payer), req.Resource, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "repaid"})
}

func (s *Server) handleRefinance(w http.ResponseWriter, r *http.Request) {
	id, err := parseCDPID(r)
	if err != nil {
		writeError(w, lendingmarket.ErrCDPNotFound)
		return
	}
	var req struct {
		Payer      string `json:"payer"`
		Repayments []struct {
			Resource string `json:"resource"`
			Amount   string `json:"amount"`
		} `json:"repayments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	repayments, ok := decodeRepayments(req.Repayments)
	if !ok {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	if err := s.coordinator.Refinance(r.Context(), id, ledger.AccountAddress(req.Payer), repayments); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refinanced"})
}

func decodeRequests(raw []struct {
	Resource string `json:"resource"`
	Amount   string `json:"amount"`
}) ([]lendingmarket.FlashLoanRequest, bool) {
	out := make([]lendingmarket.FlashLoanRequest, 0, len(raw))
	for _, item := range raw {
		amount, ok := parseBigInt(item.Amount)
		if !ok {
			return nil, false
		}
		out = append(out, lendingmarket.FlashLoanRequest{Resource: item.Resource, Amount: amount})
	}
	return out, true
}

func (s *Server) handleTakeFlashLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Borrower string `json:"borrower"`
		Requests []struct {
			Resource string `json:"resource"`
			Amount   string `json:"amount"`
		} `json:"requests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	requests, ok := decodeRequests(req.Requests)
	if !ok {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	termID, err := s.coordinator.TakeBatchFlashLoan(r.Context(), ledger.AccountAddress(req.Borrower), requests)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"term_id": termID})
}

func (s *Server) handleRepayFlashLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TermID uint64 `json:"term_id"`
		Payer  string `json:"payer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	if err := s.coordinator.RepayBatchFlashLoan(r.Context(), req.TermID, ledger.AccountAddress(req.Payer)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "repaid"})
}

func decodeRepayments(raw []struct {
	Resource string `json:"resource"`
	Amount   string `json:"amount"`
}) ([]lendingmarket.Repayment, bool) {
	out := make([]lendingmarket.Repayment, 0, len(raw))
	for _, item := range raw {
		amount, ok := parseBigInt(item.Amount)
		if !ok {
			return nil, false
		}
		out = append(out, lendingmarket.Repayment{Resource: item.Resource, Amount: amount})
	}
	return out, true
}

func (s *Server) handleStartLiquidation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CDPID      uint64 `json:"cdp_id"`
		Liquidator string `json:"liquidator"`
		Repayments []struct {
			Resource string `json:"resource"`
			Amount   string `json:"amount"`
		} `json:"repayments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	repayments, ok := decodeRepayments(req.Repayments)
	if !ok {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	termID, err := s.coordinator.StartLiquidation(r.Context(), req.CDPID, ledger.AccountAddress(req.Liquidator), repayments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"term_id": termID})
}

func (s *Server) handleEndLiquidation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TermID uint64 `json:"term_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	seized, err := s.coordinator.EndLiquidation(r.Context(), req.TermID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"seized_value": seized.RatString()})
}

func (s *Server) handleFastLiquidation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CDPID      uint64 `json:"cdp_id"`
		Liquidator string `json:"liquidator"`
		Repayments []struct {
			Resource string `json:"resource"`
			Amount   string `json:"amount"`
		} `json:"repayments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	repayments, ok := decodeRepayments(req.Repayments)
	if !ok {
		writeError(w, lendingmarket.ErrInvalidAmount)
		return
	}
	seized, err := s.coordinator.FastLiquidation(r.Context(), req.CDPID, ledger.AccountAddress(req.Liquidator), repayments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"seized_value": seized.RatString()})
}
