package view

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestGBP(t *testing.T) {
	require.Equal(t, "£0.00", GBP(decimal.Zero))
	require.Equal(t, "£1,234.56", GBP(decimal.RequireFromString("1234.56")))
	require.Equal(t, "£25.50", GBP(decimal.RequireFromString("25.5")))
	require.Equal(t, "-£99.99", GBP(decimal.RequireFromString("-99.99")))
	require.Equal(t, "£0.01", GBP(decimal.RequireFromString("0.005")))
}

func TestGBPKeepsPenceExactAtLargeMagnitudes(t *testing.T) {
	// 2^53+1 is not representable as a float64; the fixed-point path
	// must still render every digit.
	require.Equal(t, "£9,007,199,254,740,993.12",
		GBP(decimal.RequireFromString("9007199254740993.12")))
}
