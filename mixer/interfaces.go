package mixer

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// AccountID is an opaque handle to a ledger account.
type AccountID string

// TransferHandle identifies a submitted transfer on the remote ledger.
type TransferHandle string

// Settler is the subset of LedgerClient needed to submit a transfer and wait
// for it to settle on the recipient side.
type Settler interface {
	// AccountBalance returns the confirmed and pending amounts of an account.
	AccountBalance(ctx context.Context, account AccountID) (confirmed, pending decimal.Decimal, err error)

	// Send submits a transfer. Fails with ErrLedgerUnavailable or
	// ErrInsufficientRemoteBalance.
	Send(ctx context.Context, source, destination AccountID, amount decimal.Decimal) (TransferHandle, error)

	// ReceivePending confirms any pending incoming transfers into the account.
	ReceivePending(ctx context.Context, account AccountID) error
}

// LedgerClient is the remote ledger the mixer drives. Implementations must
// make concurrent calls safe when shared between sessions.
type LedgerClient interface {
	Settler

	// CreateAccount creates an ephemeral account. Fails with
	// ErrLedgerUnavailable on connection or node errors.
	CreateAccount(ctx context.Context) (AccountID, error)

	// DeleteAccount removes an account. The caller guarantees a zero balance.
	DeleteAccount(ctx context.Context, account AccountID) (bool, error)

	// SendAndConfirm sends and polls until the transfer settles or the
	// confirmation bound elapses (ErrConfirmationTimeout).
	SendAndConfirm(ctx context.Context, source, destination AccountID, amount decimal.Decimal) error
}

// Random is the randomness source used for allocation and account selection.
type Random interface {
	// IntN returns a uniform integer in [0, n). Panics if n <= 0.
	IntN(n int) int

	// BigIntN returns a uniform integer in [0, n). n must be positive.
	BigIntN(n *big.Int) *big.Int
}
