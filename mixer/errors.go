package mixer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned by BalanceLedger.Withdraw when the
	// amount exceeds the tracked balance. It indicates a bug in the caller.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvariantViolation marks a broken accounting invariant.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrTransferFailed marks a remote transfer that did not complete and
	// whose ledger update was rolled back.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrLedgerUnavailable is returned by ledger clients on connection or
	// node errors.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrInsufficientRemoteBalance is returned by ledger clients when the
	// node rejects a send for lack of funds.
	ErrInsufficientRemoteBalance = errors.New("insufficient remote balance")

	// ErrConfirmationTimeout is returned when a sent transfer did not settle
	// within the configured bound.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrNonZeroBalance is returned when an account cannot be deleted because
	// it still holds value.
	ErrNonZeroBalance = errors.New("account balance is not zero")

	// ErrInvalidParams is returned for rejected session parameters.
	ErrInvalidParams = errors.New("invalid session parameters")
)

// TransferError reports a transfer that was rolled back.
type TransferError struct {
	Transfer Transfer
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed: #%d %s -> %s (%s): %v",
		e.Transfer.Seq, e.Transfer.From, e.Transfer.To, e.Transfer.Amount, e.Err)
}

// Unwrap exposes both ErrTransferFailed and the ledger client's cause.
func (e *TransferError) Unwrap() []error {
	return []error{ErrTransferFailed, e.Err}
}

// NonZeroBalanceError is returned by teardown when a mix account still holds
// value either in the ledger or remotely.
type NonZeroBalanceError struct {
	Account   AccountID
	Ledger    decimal.Decimal
	Confirmed decimal.Decimal
	Pending   decimal.Decimal
}

func (e *NonZeroBalanceError) Error() string {
	return fmt.Sprintf("account %s not empty: ledger=%s confirmed=%s pending=%s",
		e.Account, e.Ledger, e.Confirmed, e.Pending)
}

func (e *NonZeroBalanceError) Unwrap() error {
	return ErrNonZeroBalance
}

// SessionError is returned by RunSession on any failure. LiveAccounts lists
// the mix accounts that were created and not deleted; they may hold funds.
// Balances is the session ledger at the time of the failure, with any failed
// transfer already rolled back.
type SessionError struct {
	SessionID     string
	Phase         Phase
	TransferCount int
	LiveAccounts  []AccountID
	Balances      map[AccountID]decimal.Decimal
	Err           error
}

func (e *SessionError) Error() string {
	live := make([]string, len(e.LiveAccounts))
	for i, acc := range e.LiveAccounts {
		live[i] = string(acc)
	}
	return fmt.Sprintf("session %s aborted in %s after %d transfers (live accounts: [%s]): %v",
		e.SessionID, e.Phase, e.TransferCount, strings.Join(live, ", "), e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
