package mixer

import (
	"context"

	"github.com/shopspring/decimal"
)

// fanOut splits the current balance of from across dests and sends every
// non-zero share. A destination equal to from keeps its share in place.
func (s *session) fanOut(ctx context.Context, from AccountID, dests []AccountID) error {
	if len(dests) == 0 {
		return nil
	}

	shares, err := Split(s.rng, s.ledger.Balance(from), len(dests), s.params.NumMixAccounts)
	if err != nil {
		return err
	}

	for i, share := range shares {
		if !share.IsPositive() || dests[i] == from {
			continue
		}
		if _, err := s.transfer(ctx, from, dests[i], share); err != nil {
			return err
		}
	}
	return nil
}

// fanIn collects the balances of froms into to, in order. With a non-nil
// limit, the last transfer is trimmed so that the total sent reaches the
// limit exactly and no further transfers are issued. Returns the total sent.
func (s *session) fanIn(ctx context.Context, froms []AccountID, to AccountID, limit *decimal.Decimal) (decimal.Decimal, error) {
	sent := decimal.Zero

	for _, from := range froms {
		if limit != nil && sent.GreaterThanOrEqual(*limit) {
			break
		}

		balance := s.ledger.Balance(from)
		if from == to || !balance.IsPositive() {
			continue
		}

		amount := balance
		if limit != nil && sent.Add(balance).GreaterThan(*limit) {
			amount = limit.Sub(sent)
		}

		if _, err := s.transfer(ctx, from, to, amount); err != nil {
			return sent, err
		}
		sent = sent.Add(amount)

		if limit != nil && sent.GreaterThan(*limit) {
			return sent, invariantf("fan-in to %s sent %s over cap %s", to, sent, *limit)
		}
	}

	return sent, nil
}
