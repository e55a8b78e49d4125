package mixer

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// SweepResult reports what Sweep moved.
type SweepResult struct {
	Recovered decimal.Decimal `json:"recovered"`
	Deleted   []AccountID     `json:"deleted"`
}

// Sweep recovers funds stranded in accounts left by an aborted session:
// each account has its pending amounts received, its whole confirmed balance
// sent to "to", and is then deleted. Sweep stops at the first failure and
// reports what was done until then.
func (m *Mixer) Sweep(ctx context.Context, accounts []AccountID, to AccountID) (*SweepResult, error) {
	return m.sweep(ctx, accounts, to, true)
}

// Collect moves every listed account's balance into "to" like Sweep but
// keeps the accounts. Use it on wallets that hold accounts other than mix
// accounts.
func (m *Mixer) Collect(ctx context.Context, accounts []AccountID, to AccountID) (*SweepResult, error) {
	return m.sweep(ctx, accounts, to, false)
}

func (m *Mixer) sweep(ctx context.Context, accounts []AccountID, to AccountID, remove bool) (*SweepResult, error) {
	result := &SweepResult{Recovered: decimal.Zero}

	for _, acc := range accounts {
		if acc == to {
			continue
		}

		balance, err := settlePending(ctx, m.client, acc, m.confirm)
		if err != nil {
			return result, fmt.Errorf("settling %s: %w", acc, err)
		}

		if balance.IsPositive() {
			if err := m.client.SendAndConfirm(context.WithoutCancel(ctx), acc, to, balance); err != nil {
				return result, fmt.Errorf("sweeping %s from %s: %w", balance, acc, err)
			}
			result.Recovered = result.Recovered.Add(balance)
			m.log.Info("Swept account", "account", acc, "to", to, "amount", balance.String())
		}

		if !remove {
			continue
		}
		if err := deleteEmptyAccount(ctx, m.client, acc, decimal.Zero); err != nil {
			return result, err
		}
		result.Deleted = append(result.Deleted, acc)
	}

	return result, nil
}
