package nanorpc

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"1":   "1",
		"42":  "42",
		"1k":  "1000000000000000000000000000",
		"15K": "15000000000000000000000000000",
		"2m":  "2000000000000000000000000000000",
		"3M":  "3000000000000000000000000000000",
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		require.True(t, got.Equal(decimal.RequireFromString(want)), "%s -> %s", in, got)
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []string{"", "1.5M", "1,5k", "k", "-3k", "0", "12x", "abc"} {
		_, err := ParseAmount(in)
		require.Error(t, err, in)
	}
}

func TestFormatMrai(t *testing.T) {
	require.Equal(t, "2 Mrai", FormatMrai(decimal.RequireFromString("2000000000000000000000000000000")))
	require.Equal(t, "0.5 Mrai", FormatMrai(decimal.RequireFromString("500000000000000000000000000000")))
	require.Equal(t, "0.000000000000000000000000000001 Mrai", FormatMrai(decimal.NewFromInt(1)))
}
