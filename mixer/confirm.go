package mixer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ConfirmConfig bounds the settlement wait after a send.
type ConfirmConfig struct {
	// PollInterval is the fixed delay between balance polls.
	PollInterval time.Duration

	// Timeout is the total time to wait before failing with
	// ErrConfirmationTimeout.
	Timeout time.Duration
}

// DefaultConfirmConfig matches a node that needs local proof of work for
// both the send and the receive block.
func DefaultConfirmConfig() ConfirmConfig {
	return ConfirmConfig{
		PollInterval: time.Second,
		Timeout:      20 * time.Second,
	}
}

// SendAndConfirm submits exactly one transfer and then polls the recipient
// until its pending amount clears. Pending incoming transfers are received as
// they appear. A recipient that never showed a pending amount counts as
// settled only once its confirmed balance has grown by amount, so a send the
// node has not surfaced yet is not mistaken for a settled one.
// Polling stops with ErrConfirmationTimeout once cfg.Timeout has elapsed; the
// transfer is never re-submitted.
func SendAndConfirm(ctx context.Context, s Settler, source, destination AccountID, amount decimal.Decimal, cfg ConfirmConfig) error {
	before, _, err := s.AccountBalance(ctx, destination)
	if err != nil {
		return err
	}
	target := before.Add(amount)

	if _, err := s.Send(ctx, source, destination, amount); err != nil {
		return err
	}

	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	sawPending := false
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s to settle: %w", destination, ctx.Err())
		case <-deadline.C:
			return fmt.Errorf("%w: %s -> %s (%s) not settled after %s",
				ErrConfirmationTimeout, source, destination, amount, cfg.Timeout)
		case <-ticker.C:
		}

		confirmed, pending, err := s.AccountBalance(ctx, destination)
		if err != nil {
			return err
		}

		if pending.IsPositive() {
			sawPending = true
			if err := s.ReceivePending(ctx, destination); err != nil {
				return err
			}
			continue
		}

		if sawPending || confirmed.GreaterThanOrEqual(target) {
			return nil
		}
	}
}

// settlePending receives pending transfers into account until nothing is
// pending, and returns the confirmed balance.
func settlePending(ctx context.Context, s Settler, account AccountID, cfg ConfirmConfig) (decimal.Decimal, error) {
	deadline := time.Now().Add(cfg.Timeout)
	for {
		confirmed, pending, err := s.AccountBalance(ctx, account)
		if err != nil {
			return decimal.Zero, err
		}
		if !pending.IsPositive() {
			return confirmed, nil
		}
		if time.Now().After(deadline) {
			return confirmed, fmt.Errorf("%w: %s still has %s pending", ErrConfirmationTimeout, account, pending)
		}

		if err := s.ReceivePending(ctx, account); err != nil {
			return confirmed, err
		}

		select {
		case <-ctx.Done():
			return confirmed, ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
