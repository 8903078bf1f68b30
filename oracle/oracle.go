// Package oracle specifies the price feed the lending market treats as a
// trusted collaborator (spec §6: "the price feed is treated as a trusted
// oracle", consensus over prices is explicitly out of scope).
package oracle

import (
	"errors"
	"math/big"
)

// ErrPriceUnavailable is returned when the feed has no reading for a
// resource, mirroring the blueprint's `get_price` returning `None`.
var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// Reading is a single price observation.
type Reading struct {
	Price     *big.Rat
	Timestamp int64 // seconds since epoch
}

// Feed is the external price oracle contract consumed by the lending pool
// state. A nil, missing, or explicitly absent reading must fail the calling
// operation — there is no fallback price.
type Feed interface {
	GetPrice(res string) (Reading, error)
}

// Static is a reference Feed implementation holding fixed-but-mutable
// prices, useful for tests and for operating a standalone deployment
// against admin-pushed prices instead of a live oracle network.
type Static struct {
	prices map[string]Reading
}

// NewStatic constructs an empty Static feed.
func NewStatic() *Static {
	return &Static{prices: make(map[string]Reading)}
}

// Set records a price observation for res, overwriting any prior reading.
func (s *Static) Set(res string, price *big.Rat, timestamp int64) {
	s.prices[res] = Reading{Price: new(big.Rat).Set(price), Timestamp: timestamp}
}

// GetPrice implements Feed.
func (s *Static) GetPrice(res string) (Reading, error) {
	reading, ok := s.prices[res]
	if !ok {
		return Reading{}, ErrPriceUnavailable
	}
	return Reading{Price: new(big.Rat).Set(reading.Price), Timestamp: reading.Timestamp}, nil
}
