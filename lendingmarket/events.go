package lendingmarket

import "math/big"

// EventType classifies the kind of state change a pool-level event
// describes, mirroring the accrual categories tracked internally by
// PoolState.UpdateInterestAndPrice.
type EventType int

const (
	EventDeposit EventType = iota
	EventLoan
	EventCollateral
	EventInterest
	EventPrice
)

// LendingPoolUpdatedEvent is emitted whenever a pool's accounting changes:
// a contribute/redeem, a loan-unit delta, a collateral-unit delta, an
// interest accrual, or a price refresh.
type LendingPoolUpdatedEvent struct {
	Resource  string
	Type      EventType
	Timestamp int64
}

// CDPUpdatedEvent is emitted whenever a CDP's collateral, loan, or
// delegation metadata changes.
type CDPUpdatedEvent struct {
	CDPID     uint64
	Timestamp int64
}

// CDPLiquidatedEvent is emitted at the end of a liquidation, and once
// more (with Fast set) when that end is part of a fast (fused)
// liquidation. Starting a liquidation emits none.
type CDPLiquidatedEvent struct {
	CDPID             uint64
	LoanResource      string
	CollateralResource string
	RepaidAmount      *big.Int
	SeizedAmount      *big.Int
	Fast              bool
	Timestamp         int64
}

// EventSink receives every event the coordinator emits. A production
// deployment wires this to a real event bus; tests and the standalone
// binary can use a simple in-memory recorder.
type EventSink interface {
	PoolUpdated(LendingPoolUpdatedEvent)
	CDPUpdated(CDPUpdatedEvent)
	CDPLiquidated(CDPLiquidatedEvent)
}

// NoopEventSink discards every event. Useful as a zero-value default so
// callers aren't forced to wire a sink before they care about one.
type NoopEventSink struct{}

func (NoopEventSink) PoolUpdated(LendingPoolUpdatedEvent)         {}
func (NoopEventSink) CDPUpdated(CDPUpdatedEvent)                  {}
func (NoopEventSink) CDPLiquidated(CDPLiquidatedEvent)            {}

// RecordingEventSink accumulates every event it receives, for use in
// tests that assert on emitted events.
type RecordingEventSink struct {
	PoolEvents        []LendingPoolUpdatedEvent
	CDPEvents         []CDPUpdatedEvent
	LiquidationEvents []CDPLiquidatedEvent
}

func (r *RecordingEventSink) PoolUpdated(e LendingPoolUpdatedEvent) {
	r.PoolEvents = append(r.PoolEvents, e)
}

func (r *RecordingEventSink) CDPUpdated(e CDPUpdatedEvent) {
	r.CDPEvents = append(r.CDPEvents, e)
}

func (r *RecordingEventSink) CDPLiquidated(e CDPLiquidatedEvent) {
	r.LiquidationEvents = append(r.LiquidationEvents, e)
}
