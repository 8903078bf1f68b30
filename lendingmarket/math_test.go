package lendingmarket

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRayMulDiv(t *testing.T) {
	one := new(big.Int).Set(ray)
	half := rayDiv(one, new(big.Int).Mul(ray, big.NewInt(2)))
	require.Equal(t, new(big.Int).Quo(ray, big.NewInt(2)), half)

	// rayMul(rayDiv(x, y), y) recovers x up to truncation.
	x := new(big.Int).Mul(ray, big.NewInt(7))
	y := big.NewInt(3)
	recovered := rayMul(rayDiv(x, y), y)
	diff := new(big.Int).Sub(x, recovered)
	require.True(t, diff.CmpAbs(big.NewInt(1)) <= 0)
}

func TestMulDivRatToZeroTruncatesTowardZero(t *testing.T) {
	amount := big.NewInt(10)
	ratio := big.NewRat(1, 3)
	// 10/3 = 3.33..., truncated toward zero is 3.
	require.Equal(t, big.NewInt(3), mulRatToZero(amount, ratio))

	require.Equal(t, big.NewInt(30), divRatToZero(big.NewInt(10), big.NewRat(1, 3)))
}

func TestTruncTo17DecimalsZeroesTrailingRayDigits(t *testing.T) {
	tenPow10 := new(big.Int).Exp(big.NewInt(10), big.NewInt(10), nil)
	v := new(big.Int).Add(new(big.Int).Mul(big.NewInt(123), tenPow10), big.NewInt(9999999))
	got := truncTo17Decimals(v)
	require.Equal(t, new(big.Int).Mul(big.NewInt(123), tenPow10), got)
}

func TestHalfUpToEvenRoundsMidpointToEven(t *testing.T) {
	require.Equal(t, big.NewInt(2), halfUpToEven(big.NewRat(5, 2))) // 2.5 -> 2
	require.Equal(t, big.NewInt(4), halfUpToEven(big.NewRat(7, 2))) // 3.5 -> 4
	require.Equal(t, big.NewInt(3), halfUpToEven(big.NewRat(10, 3)))
	require.Equal(t, big.NewInt(3), halfUpToEven(big.NewRat(11, 4))) // 2.75 -> 3
}

func TestIsZeroAndZeroIfNil(t *testing.T) {
	require.True(t, isZero(nil))
	require.True(t, isZero(big.NewInt(0)))
	require.False(t, isZero(big.NewInt(1)))

	require.Equal(t, big.NewInt(0), zeroIfNil(nil))
	require.Equal(t, big.NewInt(5), zeroIfNil(big.NewInt(5)))
}
