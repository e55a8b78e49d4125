package mixer

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sum(parts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range parts {
		total = total.Add(p)
	}
	return total
}

func TestSplitSumsToTotal(t *testing.T) {
	totals := []string{"1", "2", "7", "800", "1000", "123456789", "1000000000000000000000000000000000"}
	for _, total := range totals {
		for _, slots := range []int{1, 2, 3, 6, 11} {
			for seed := int64(0); seed < 20; seed++ {
				t.Run(fmt.Sprintf("%s/%d/%d", total, slots, seed), func(t *testing.T) {
					parts, err := Split(NewRandom(seed), amt(total), slots, 5)
					require.NoError(t, err)
					require.Len(t, parts, slots)
					require.True(t, sum(parts).Equal(amt(total)), "parts %v", parts)
					for _, p := range parts {
						require.False(t, p.IsNegative())
						require.True(t, p.IsInteger())
					}
				})
			}
		}
	}
}

func TestSplitZero(t *testing.T) {
	parts, err := Split(NewRandom(1), decimal.Zero, 4, 4)
	require.NoError(t, err)
	require.Len(t, parts, 4)
	for _, p := range parts {
		require.True(t, p.IsZero())
	}
}

func TestSplitSingleSlot(t *testing.T) {
	parts, err := Split(NewRandom(3), amt("999"), 1, 5)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.True(t, parts[0].Equal(amt("999")))
}

func TestSplitDeterministic(t *testing.T) {
	a, err := Split(NewRandom(42), amt("1000"), 6, 5)
	require.NoError(t, err)
	b, err := Split(NewRandom(42), amt("1000"), 6, 5)
	require.NoError(t, err)

	for i := range a {
		require.True(t, a[i].Equal(b[i]))
	}
}

func TestSplitRejectsBadInput(t *testing.T) {
	_, err := Split(NewRandom(1), amt("10"), 0, 5)
	require.ErrorIs(t, err, ErrInvariantViolation)

	_, err = Split(NewRandom(1), amt("10"), 3, 0)
	require.ErrorIs(t, err, ErrInvariantViolation)

	_, err = Split(NewRandom(1), amt("-10"), 3, 5)
	require.ErrorIs(t, err, ErrInvariantViolation)

	_, err = Split(NewRandom(1), amt("10.5"), 3, 5)
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestDeriveSessionRandom(t *testing.T) {
	draw := func(r Random) []int {
		out := make([]int, 8)
		for i := range out {
			out[i] = r.IntN(1 << 30)
		}
		return out
	}

	r1, err := DeriveSessionRandom([]byte("secret"), "session-a")
	require.NoError(t, err)
	r2, err := DeriveSessionRandom([]byte("secret"), "session-a")
	require.NoError(t, err)
	r3, err := DeriveSessionRandom([]byte("secret"), "session-b")
	require.NoError(t, err)

	first := draw(r1)
	require.Equal(t, first, draw(r2))
	require.NotEqual(t, first, draw(r3))

	_, err = DeriveSessionRandom(nil, "session-a")
	require.Error(t, err)
}
