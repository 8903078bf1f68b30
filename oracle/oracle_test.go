package oracle

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticGetPriceUnavailableBeforeSet(t *testing.T) {
	s := NewStatic()
	_, err := s.GetPrice("eth")
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestStaticSetAndGetPrice(t *testing.T) {
	s := NewStatic()
	s.Set("eth", big.NewRat(2000, 1), 1000)

	reading, err := s.GetPrice("eth")
	require.NoError(t, err)
	require.Equal(t, 0, reading.Price.Cmp(big.NewRat(2000, 1)))
	require.Equal(t, int64(1000), reading.Timestamp)
}

func TestStaticSetOverwritesPriorReading(t *testing.T) {
	s := NewStatic()
	s.Set("eth", big.NewRat(2000, 1), 1000)
	s.Set("eth", big.NewRat(2500, 1), 2000)

	reading, err := s.GetPrice("eth")
	require.NoError(t, err)
	require.Equal(t, 0, reading.Price.Cmp(big.NewRat(2500, 1)))
	require.Equal(t, int64(2000), reading.Timestamp)
}

func TestStaticGetPriceReturnsDefensiveCopy(t *testing.T) {
	s := NewStatic()
	price := big.NewRat(2000, 1)
	s.Set("eth", price, 0)
	price.SetInt64(1)

	reading, err := s.GetPrice("eth")
	require.NoError(t, err)
	require.Equal(t, 0, reading.Price.Cmp(big.NewRat(2000, 1)), "mutating the caller's original *big.Rat must not affect the stored reading")

	reading.Price.SetInt64(1)
	reading2, err := s.GetPrice("eth")
	require.NoError(t, err)
	require.Equal(t, 0, reading2.Price.Cmp(big.NewRat(2000, 1)), "mutating a returned reading must not affect the next read")
}
