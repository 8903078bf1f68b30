package lendingmarket

import "errors"

// Sentinel errors returned by the lending market's coordinator and the
// components it composes. Callers are expected to match with errors.Is;
// HTTP and other transport adapters translate these into status codes.
var (
	// Input validation.
	ErrInvalidAmount     = errors.New("lendingmarket: amount must be positive")
	ErrInvalidBreakpoint = errors.New("lendingmarket: interest rate breakpoints are not monotonic")
	ErrInvalidRatio      = errors.New("lendingmarket: ratio out of range")
	ErrInvalidConfig     = errors.New("lendingmarket: invalid pool or market configuration")

	// State / lookup.
	ErrPoolNotFound   = errors.New("lendingmarket: pool not found")
	ErrCDPNotFound    = errors.New("lendingmarket: cdp not found")
	ErrMarketNotFound = errors.New("lendingmarket: market not found")
	ErrPoolExists     = errors.New("lendingmarket: pool already exists for resource")

	// Operating status.
	ErrOperationDisabled  = errors.New("lendingmarket: operation disabled by operating status")
	ErrCircuitBreakerOpen = errors.New("lendingmarket: circuit breaker is open")

	// Limits.
	ErrDepositLimitExceeded      = errors.New("lendingmarket: deposit limit exceeded")
	ErrBorrowLimitExceeded       = errors.New("lendingmarket: borrow limit exceeded")
	ErrUtilizationLimitExceeded  = errors.New("lendingmarket: utilization limit exceeded")
	ErrMaxCDPPositionExceeded    = errors.New("lendingmarket: cdp position count exceeds market maximum")
	ErrMaxDelegateeDepthExceeded = errors.New("lendingmarket: a delegatee cdp cannot itself delegate")

	// Solvency / health.
	ErrUnhealthyPosition    = errors.New("lendingmarket: operation would leave the cdp undercollateralized")
	ErrCDPNotLiquidatable   = errors.New("lendingmarket: cdp does not meet the liquidation threshold")
	ErrCDPNotRefinanceable  = errors.New("lendingmarket: cdp is not eligible for refinancing")
	ErrDelegateeLoanCapExceeded = errors.New("lendingmarket: borrow exceeds delegatee max loan value")
	ErrInsufficientCollateral = errors.New("lendingmarket: insufficient collateral position")
	ErrInsufficientLoan       = errors.New("lendingmarket: insufficient loan position")

	// Liquidation.
	ErrLiquidationAlreadyStarted = errors.New("lendingmarket: liquidation already in progress for this cdp")
	ErrLiquidationNotStarted     = errors.New("lendingmarket: no liquidation in progress for this cdp")
	ErrLiquidationTermMismatch   = errors.New("lendingmarket: liquidation term token does not match the cdp")

	// Flash loans.
	ErrFlashLoanTermMismatch   = errors.New("lendingmarket: flash loan term token does not match this request")
	ErrFlashLoanNotRepaid      = errors.New("lendingmarket: flash loan repayment is short of principal plus fee")
	ErrFlashLoanAlreadyRepaid  = errors.New("lendingmarket: flash loan term has already been repaid")

	// Oracle.
	ErrPriceUnavailable = errors.New("lendingmarket: price unavailable for resource")
	ErrPriceStale       = errors.New("lendingmarket: price is older than the pool's price expiration period")

	// Authorization.
	ErrUnauthorized  = errors.New("lendingmarket: caller is not authorized for this operation")
	ErrInvalidCDPProof = errors.New("lendingmarket: cdp proof does not match the claimed cdp")
)
