package mixer

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceLedger mirrors the believed balance of every account taking part
// in one session. It is owned by a single session and is not safe for
// concurrent use.
type BalanceLedger struct {
	balances map[AccountID]decimal.Decimal
	order    []AccountID
}

// NewBalanceLedger creates an empty ledger.
func NewBalanceLedger() *BalanceLedger {
	return &BalanceLedger{
		balances: make(map[AccountID]decimal.Decimal),
	}
}

// Track registers an account with an initial balance. Accounts are iterated
// in registration order. Tracking an account twice is an invariant violation.
func (l *BalanceLedger) Track(account AccountID, initial decimal.Decimal) error {
	if _, exists := l.balances[account]; exists {
		return invariantf("account %s already tracked", account)
	}
	if initial.IsNegative() {
		return invariantf("negative initial balance %s for %s", initial, account)
	}

	l.balances[account] = initial
	l.order = append(l.order, account)
	return nil
}

// Tracks reports whether the account is part of the ledger.
func (l *BalanceLedger) Tracks(account AccountID) bool {
	_, ok := l.balances[account]
	return ok
}

// Balance returns the tracked balance, zero for untracked accounts.
func (l *BalanceLedger) Balance(account AccountID) decimal.Decimal {
	return l.balances[account]
}

// Accounts returns the tracked accounts in registration order.
func (l *BalanceLedger) Accounts() []AccountID {
	out := make([]AccountID, len(l.order))
	copy(out, l.order)
	return out
}

// Deposit credits an amount to a tracked account.
func (l *BalanceLedger) Deposit(account AccountID, amount decimal.Decimal) error {
	balance, ok := l.balances[account]
	if !ok {
		return invariantf("deposit to untracked account %s", account)
	}
	if amount.IsNegative() {
		return invariantf("negative deposit %s to %s", amount, account)
	}

	l.balances[account] = balance.Add(amount)
	return nil
}

// Withdraw debits an amount from a tracked account. It fails with
// ErrInsufficientBalance rather than letting the balance go negative.
func (l *BalanceLedger) Withdraw(account AccountID, amount decimal.Decimal) error {
	balance, ok := l.balances[account]
	if !ok {
		return invariantf("withdraw from untracked account %s", account)
	}
	if amount.IsNegative() {
		return invariantf("negative withdrawal %s from %s", amount, account)
	}
	if amount.GreaterThan(balance) {
		return fmt.Errorf("%w: %s holds %s, cannot withdraw %s", ErrInsufficientBalance, account, balance, amount)
	}

	l.balances[account] = balance.Sub(amount)
	return nil
}

// Total returns the sum of all tracked balances.
func (l *BalanceLedger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, balance := range l.balances {
		total = total.Add(balance)
	}
	return total
}

// AssertConserved fails with ErrInvariantViolation if the ledger total is not
// the expected total.
func (l *BalanceLedger) AssertConserved(expected decimal.Decimal) error {
	total := l.Total()
	if !total.Equal(expected) {
		return invariantf("ledger total %s, expected %s", total, expected)
	}
	return nil
}

// Snapshot returns a copy of all balances.
func (l *BalanceLedger) Snapshot() map[AccountID]decimal.Decimal {
	out := make(map[AccountID]decimal.Decimal, len(l.balances))
	for account, balance := range l.balances {
		out[account] = balance
	}
	return out
}

// set overwrites a tracked balance. Only used to restore a snapshot.
func (l *BalanceLedger) set(account AccountID, balance decimal.Decimal) {
	l.balances[account] = balance
}
