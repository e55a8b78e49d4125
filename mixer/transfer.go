package mixer

import (
	"context"

	"github.com/shopspring/decimal"
)

// Transfer is one value-moving step of a session.
type Transfer struct {
	Seq    int             `json:"seq"`
	From   AccountID       `json:"from"`
	To     AccountID       `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferOutcome tags how a transfer call ended.
type TransferOutcome int

const (
	// TransferApplied means the remote transfer settled and the ledger keeps
	// the optimistic update.
	TransferApplied TransferOutcome = iota
	// TransferRolledBack means the remote call failed and the ledger was
	// restored to its state before the call.
	TransferRolledBack
	// TransferRejected means preconditions failed; nothing was changed and
	// nothing was submitted.
	TransferRejected
)

func (o TransferOutcome) String() string {
	switch o {
	case TransferApplied:
		return "applied"
	case TransferRolledBack:
		return "rolled-back"
	case TransferRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// preparedTransfer holds what is needed to undo an optimistic update.
type preparedTransfer struct {
	transfer      Transfer
	fromBefore    decimal.Decimal
	toBefore      decimal.Decimal
	counterBefore int
}

// prepare validates the transfer and applies it to the ledger.
func (s *session) prepare(from, to AccountID, amount decimal.Decimal) (*preparedTransfer, error) {
	if !amount.IsPositive() || !amount.IsInteger() {
		return nil, invariantf("transfer amount %s from %s to %s", amount, from, to)
	}
	if from == to {
		return nil, invariantf("self transfer on %s", from)
	}
	if !s.ledger.Tracks(from) || !s.ledger.Tracks(to) {
		return nil, invariantf("transfer %s -> %s involves an untracked account", from, to)
	}

	p := &preparedTransfer{
		fromBefore:    s.ledger.Balance(from),
		toBefore:      s.ledger.Balance(to),
		counterBefore: s.counter,
	}

	if err := s.ledger.Withdraw(from, amount); err != nil {
		return nil, err
	}
	if err := s.ledger.Deposit(to, amount); err != nil {
		s.ledger.set(from, p.fromBefore)
		return nil, err
	}

	s.counter++
	p.transfer = Transfer{Seq: s.counter, From: from, To: to, Amount: amount}
	return p, nil
}

// rollback restores both balances and the counter to their prepared snapshot.
func (s *session) rollback(p *preparedTransfer) {
	s.ledger.set(p.transfer.From, p.fromBefore)
	s.ledger.set(p.transfer.To, p.toBefore)
	s.counter = p.counterBefore
}

// transfer moves amount from one session account to another: the ledger is
// updated first, then exactly one remote transfer is submitted and awaited.
// A remote failure restores the ledger and returns a *TransferError.
//
// Cancellation is only observed before the transfer starts; once submitted,
// the settlement wait runs to completion or to its own timeout.
func (s *session) transfer(ctx context.Context, from, to AccountID, amount decimal.Decimal) (TransferOutcome, error) {
	if err := ctx.Err(); err != nil {
		return TransferRejected, err
	}

	p, err := s.prepare(from, to, amount)
	if err != nil {
		return TransferRejected, err
	}

	if err := s.client.SendAndConfirm(context.WithoutCancel(ctx), from, to, amount); err != nil {
		s.rollback(p)
		s.log.Warn("Transfer rolled back", "seq", p.transfer.Seq, "from", from, "to", to, "amount", amount.String(), "err", err)
		s.emit(Event{Kind: EventTransferRolledBack, Transfer: &p.transfer, Err: err.Error()})
		return TransferRolledBack, &TransferError{Transfer: p.transfer, Err: err}
	}

	s.transfers = append(s.transfers, p.transfer)
	s.log.Debug("Transfer applied", "seq", p.transfer.Seq, "from", from, "to", to, "amount", amount.String())
	s.emit(Event{Kind: EventTransferApplied, Transfer: &p.transfer})

	if err := s.ledger.AssertConserved(s.params.FundingAmount); err != nil {
		return TransferApplied, err
	}
	return TransferApplied, nil
}
