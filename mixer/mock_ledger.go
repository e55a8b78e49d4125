package mixer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type mockAccount struct {
	confirmed decimal.Decimal
	pending   decimal.Decimal
}

// MockLedger is an in-memory LedgerClient for tests and dry runs. Sends
// debit the source immediately and credit the destination as pending until
// ReceivePending is called, like a node that needs a receive block.
type MockLedger struct {
	mu       sync.Mutex
	accounts map[AccountID]*mockAccount
	order    []AccountID
	created  int
	sends    int
	settle   bool
	confirm  ConfirmConfig

	sendHook           func(seq int, source, destination AccountID, amount decimal.Decimal) error
	sendAndConfirmFunc func(ctx context.Context, source, destination AccountID, amount decimal.Decimal) error
}

// NewMockLedger creates an empty mock ledger that settles every send.
func NewMockLedger() *MockLedger {
	m := &MockLedger{
		accounts: make(map[AccountID]*mockAccount),
		settle:   true,
		confirm: ConfirmConfig{
			PollInterval: time.Millisecond,
			Timeout:      time.Second,
		},
	}
	m.sendAndConfirmFunc = func(ctx context.Context, source, destination AccountID, amount decimal.Decimal) error {
		return SendAndConfirm(ctx, m, source, destination, amount, m.ConfirmConfig())
	}
	return m
}

// Fund creates the account if needed and adds amount to its confirmed balance.
func (m *MockLedger) Fund(account AccountID, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.account(account)
	acc.confirmed = acc.confirmed.Add(amount)
}

// account returns the entry for id, creating it. Caller holds mu.
func (m *MockLedger) account(id AccountID) *mockAccount {
	acc, ok := m.accounts[id]
	if !ok {
		acc = &mockAccount{}
		m.accounts[id] = acc
		m.order = append(m.order, id)
	}
	return acc
}

// SetConfirmConfig changes the settlement wait used by SendAndConfirm.
func (m *MockLedger) SetConfirmConfig(cfg ConfirmConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirm = cfg
}

// ConfirmConfig returns the settlement wait used by SendAndConfirm.
func (m *MockLedger) ConfirmConfig() ConfirmConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirm
}

// SetSettle controls whether ReceivePending confirms pending amounts. With
// settling disabled every SendAndConfirm ends in ErrConfirmationTimeout.
func (m *MockLedger) SetSettle(settle bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settle = settle
}

// SetSendHook installs a function called before every Send with the 1-based
// send count. A non-nil return fails the send without moving funds.
func (m *MockLedger) SetSendHook(fn func(seq int, source, destination AccountID, amount decimal.Decimal) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendHook = fn
}

// SetSendAndConfirmFunc replaces the SendAndConfirm implementation.
func (m *MockLedger) SetSendAndConfirmFunc(fn func(ctx context.Context, source, destination AccountID, amount decimal.Decimal) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendAndConfirmFunc = fn
}

// SendCount returns the number of sends attempted, including failed ones.
func (m *MockLedger) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends
}

// CreateAccount implements LedgerClient.
func (m *MockLedger) CreateAccount(ctx context.Context) (AccountID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.created++
	id := AccountID(fmt.Sprintf("mock_mix_%04d", m.created))
	m.account(id)
	return id, nil
}

// DeleteAccount implements LedgerClient. Unknown accounts report false.
func (m *MockLedger) DeleteAccount(ctx context.Context, account AccountID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account]; !ok {
		return false, nil
	}
	delete(m.accounts, account)
	m.order = slices.DeleteFunc(m.order, func(id AccountID) bool { return id == account })
	return true, nil
}

// AccountBalance implements LedgerClient.
func (m *MockLedger) AccountBalance(ctx context.Context, account AccountID) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[account]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: unknown account %s", ErrLedgerUnavailable, account)
	}
	return acc.confirmed, acc.pending, nil
}

// Send implements LedgerClient.
func (m *MockLedger) Send(ctx context.Context, source, destination AccountID, amount decimal.Decimal) (TransferHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sends++
	if m.sendHook != nil {
		if err := m.sendHook(m.sends, source, destination, amount); err != nil {
			return "", err
		}
	}

	src, ok := m.accounts[source]
	if !ok {
		return "", fmt.Errorf("%w: unknown source %s", ErrLedgerUnavailable, source)
	}
	dst, ok := m.accounts[destination]
	if !ok {
		return "", fmt.Errorf("%w: unknown destination %s", ErrLedgerUnavailable, destination)
	}
	if amount.GreaterThan(src.confirmed) {
		return "", fmt.Errorf("%w: %s holds %s, cannot send %s", ErrInsufficientRemoteBalance, source, src.confirmed, amount)
	}

	src.confirmed = src.confirmed.Sub(amount)
	dst.pending = dst.pending.Add(amount)
	return TransferHandle(fmt.Sprintf("mock_block_%06d", m.sends)), nil
}

// ReceivePending implements LedgerClient.
func (m *MockLedger) ReceivePending(ctx context.Context, account AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[account]
	if !ok {
		return fmt.Errorf("%w: unknown account %s", ErrLedgerUnavailable, account)
	}
	if !m.settle {
		return nil
	}
	acc.confirmed = acc.confirmed.Add(acc.pending)
	acc.pending = decimal.Zero
	return nil
}

// SendAndConfirm implements LedgerClient.
func (m *MockLedger) SendAndConfirm(ctx context.Context, source, destination AccountID, amount decimal.Decimal) error {
	m.mu.Lock()
	fn := m.sendAndConfirmFunc
	m.mu.Unlock()

	return fn(ctx, source, destination, amount)
}

// ListAccounts returns every known account in creation order.
func (m *MockLedger) ListAccounts(ctx context.Context) ([]AccountID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order), nil
}

// Balances returns the confirmed balance of every known account.
func (m *MockLedger) Balances() map[AccountID]decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[AccountID]decimal.Decimal, len(m.accounts))
	for id, acc := range m.accounts {
		out[id] = acc.confirmed
	}
	return out
}
