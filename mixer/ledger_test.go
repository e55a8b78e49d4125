package mixer

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBalanceLedgerTrack(t *testing.T) {
	l := NewBalanceLedger()
	require.NoError(t, l.Track("b", amt("0")))
	require.NoError(t, l.Track("a", amt("10")))
	require.NoError(t, l.Track("c", amt("5")))

	require.Equal(t, []AccountID{"b", "a", "c"}, l.Accounts())
	require.True(t, l.Tracks("a"))
	require.False(t, l.Tracks("d"))
	require.True(t, l.Balance("d").IsZero())

	err := l.Track("a", amt("1"))
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.True(t, l.Balance("a").Equal(amt("10")))

	require.ErrorIs(t, l.Track("d", amt("-1")), ErrInvariantViolation)
}

func TestBalanceLedgerWithdraw(t *testing.T) {
	l := NewBalanceLedger()
	require.NoError(t, l.Track("a", amt("10")))
	require.NoError(t, l.Track("b", amt("0")))

	require.NoError(t, l.Withdraw("a", amt("4")))
	require.NoError(t, l.Deposit("b", amt("4")))
	require.True(t, l.Balance("a").Equal(amt("6")))
	require.True(t, l.Balance("b").Equal(amt("4")))

	err := l.Withdraw("a", amt("7"))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.True(t, l.Balance("a").Equal(amt("6")))

	require.ErrorIs(t, l.Withdraw("x", amt("1")), ErrInvariantViolation)
	require.ErrorIs(t, l.Deposit("x", amt("1")), ErrInvariantViolation)
	require.ErrorIs(t, l.Deposit("a", amt("-1")), ErrInvariantViolation)

	require.NoError(t, l.Withdraw("a", amt("6")))
	require.True(t, l.Balance("a").IsZero())
}

func TestBalanceLedgerConservation(t *testing.T) {
	l := NewBalanceLedger()
	require.NoError(t, l.Track("a", amt("1000000000000000000000000000000")))
	require.NoError(t, l.Track("b", amt("0")))

	require.NoError(t, l.AssertConserved(amt("1000000000000000000000000000000")))

	require.NoError(t, l.Withdraw("a", amt("333333333333333333333333333333")))
	require.ErrorIs(t, l.AssertConserved(amt("1000000000000000000000000000000")), ErrInvariantViolation)

	require.NoError(t, l.Deposit("b", amt("333333333333333333333333333333")))
	require.NoError(t, l.AssertConserved(amt("1000000000000000000000000000000")))
}

func TestBalanceLedgerSnapshotIsCopy(t *testing.T) {
	l := NewBalanceLedger()
	require.NoError(t, l.Track("a", amt("10")))

	snap := l.Snapshot()
	require.NoError(t, l.Withdraw("a", amt("3")))

	require.True(t, snap["a"].Equal(amt("10")))
	require.True(t, l.Balance("a").Equal(amt("7")))
}
