package mixer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// session is the state of one RunSession call.
type session struct {
	id      string
	params  SessionParams
	client  LedgerClient
	rng     Random
	log     *slog.Logger
	onEvent EventHandler
	started time.Time

	ledger      *BalanceLedger
	phase       Phase
	counter     int
	transfers   []Transfer
	mixAccounts []AccountID
	live        []AccountID
}

type phaseStep struct {
	phase Phase
	run   func(context.Context) error
}

func (s *session) run(ctx context.Context) (*SessionResult, error) {
	s.log.Info("Starting session",
		"origin", s.params.Origin,
		"destination", s.params.Destination,
		"requested", s.params.RequestedAmount.String(),
		"funding", s.params.FundingAmount.String(),
		"mix_accounts", s.params.NumMixAccounts,
		"rounds", s.params.NumRounds,
	)
	s.emit(Event{Kind: EventSessionStarted})

	steps := []phaseStep{
		{PhaseProvision, s.provision},
		{PhaseInitialFanOut, s.initialFanOut},
		{PhaseMixing, s.mix},
		{PhaseConsolidation, s.consolidate},
		{PhaseVerify, s.verify},
		{PhaseTeardown, s.teardown},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(step.phase, fmt.Errorf("session canceled: %w", err))
		}

		s.phase = step.phase
		s.log.Info("Entering phase", "phase", step.phase)
		s.emit(Event{Kind: EventPhaseStarted})

		if err := step.run(ctx); err != nil {
			return nil, s.fail(step.phase, err)
		}
	}

	s.phase = PhaseDone
	result := &SessionResult{
		SessionID:               s.id,
		TransferCount:           s.counter,
		FinalOriginBalance:      s.ledger.Balance(s.params.Origin),
		FinalDestinationBalance: s.ledger.Balance(s.params.Destination),
		MixAccounts:             slices.Clone(s.mixAccounts),
		Transfers:               slices.Clone(s.transfers),
		Duration:                time.Since(s.started),
	}

	s.log.Info("Session completed",
		"transfers", result.TransferCount,
		"origin_balance", result.FinalOriginBalance.String(),
		"destination_balance", result.FinalDestinationBalance.String(),
		"duration", result.Duration,
	)
	s.emit(Event{Kind: EventSessionCompleted})
	return result, nil
}

func (s *session) fail(phase Phase, err error) error {
	s.log.Error("Session aborted", "phase", phase, "transfers", s.counter, "live_accounts", s.live, "err", err)
	s.emit(Event{Kind: EventSessionFailed, Accounts: slices.Clone(s.live), Err: err.Error()})

	return &SessionError{
		SessionID:     s.id,
		Phase:         phase,
		TransferCount: s.counter,
		LiveAccounts:  slices.Clone(s.live),
		Balances:      s.ledger.Snapshot(),
		Err:           err,
	}
}

func (s *session) emit(ev Event) {
	if s.onEvent == nil {
		return
	}
	ev.SessionID = s.id
	ev.Phase = s.phase
	ev.Time = time.Now()
	s.onEvent(ev)
}

// provision checks the origin can cover the funding, creates the mix
// accounts and seeds the ledger.
func (s *session) provision(ctx context.Context) error {
	confirmed, _, err := s.client.AccountBalance(ctx, s.params.Origin)
	if err != nil {
		return fmt.Errorf("reading origin balance: %w", err)
	}
	if confirmed.LessThan(s.params.FundingAmount) {
		return fmt.Errorf("%w: origin %s holds %s, funding needs %s",
			ErrInsufficientRemoteBalance, s.params.Origin, confirmed, s.params.FundingAmount)
	}

	for i := 0; i < s.params.NumMixAccounts; i++ {
		acc, err := s.client.CreateAccount(ctx)
		if err != nil {
			return fmt.Errorf("creating mix account %d: %w", i, err)
		}
		s.mixAccounts = append(s.mixAccounts, acc)
		s.live = append(s.live, acc)
	}
	s.log.Info("Created mix accounts", "accounts", s.mixAccounts)
	s.emit(Event{Kind: EventAccountsProvisioned, Accounts: slices.Clone(s.mixAccounts)})

	for _, acc := range s.mixAccounts {
		if err := s.ledger.Track(acc, decimal.Zero); err != nil {
			return err
		}
	}
	if err := s.ledger.Track(s.params.Origin, s.params.FundingAmount); err != nil {
		return err
	}
	return s.ledger.Track(s.params.Destination, decimal.Zero)
}

// initialFanOut spreads the funding over between 2 and n picks of mix
// accounts. Picks may repeat.
func (s *session) initialFanOut(ctx context.Context) error {
	n := len(s.mixAccounts)
	k := 2 + s.rng.IntN(n-1)

	recipients := make([]AccountID, k)
	for i := range recipients {
		recipients[i] = s.mixAccounts[s.rng.IntN(n)]
	}
	s.log.Debug("Initial fan-out", "recipients", recipients)

	return s.fanOut(ctx, s.params.Origin, recipients)
}

// mix runs the configured rounds. Each round visits every ledger account in
// registration order and fans its current balance into the mix accounts and
// the origin.
func (s *session) mix(ctx context.Context) error {
	pool := append(slices.Clone(s.mixAccounts), s.params.Origin)

	for round := 1; round <= s.params.NumRounds; round++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("session canceled before round %d: %w", round, err)
		}
		s.log.Debug("Mixing round", "round", round, "rounds", s.params.NumRounds)

		for _, acc := range s.ledger.Accounts() {
			if !s.ledger.Balance(acc).IsPositive() {
				continue
			}
			if err := s.fanOut(ctx, acc, pool); err != nil {
				return fmt.Errorf("round %d: %w", round, err)
			}
		}
	}
	return nil
}

// consolidate pays the destination and returns the rest to the origin.
func (s *session) consolidate(ctx context.Context) error {
	if s.ledger.Balance(s.params.Origin).IsPositive() {
		if err := s.fanOut(ctx, s.params.Origin, s.mixAccounts); err != nil {
			return err
		}
	}

	if !s.params.MultiSourceFinalHop {
		carrier := s.mixAccounts[s.rng.IntN(len(s.mixAccounts))]
		s.log.Debug("Collecting into carrier", "carrier", carrier)
		if _, err := s.fanIn(ctx, s.ledger.Accounts(), carrier, nil); err != nil {
			return err
		}
	}

	requested := s.params.RequestedAmount
	sources := append(slices.Clone(s.mixAccounts), s.params.Origin)
	if _, err := s.fanIn(ctx, sources, s.params.Destination, &requested); err != nil {
		return err
	}

	_, err := s.fanIn(ctx, s.mixAccounts, s.params.Origin, nil)
	return err
}

// verify checks the final ledger against the session's contract.
func (s *session) verify(context.Context) error {
	origin := s.ledger.Balance(s.params.Origin)
	destination := s.ledger.Balance(s.params.Destination)
	wantOrigin := s.params.FundingAmount.Sub(s.params.RequestedAmount)

	if !destination.Equal(s.params.RequestedAmount) {
		return invariantf("destination holds %s, expected %s", destination, s.params.RequestedAmount)
	}
	if !origin.Equal(wantOrigin) {
		return invariantf("origin holds %s, expected %s", origin, wantOrigin)
	}
	for _, acc := range s.mixAccounts {
		if balance := s.ledger.Balance(acc); !balance.IsZero() {
			return invariantf("mix account %s still holds %s", acc, balance)
		}
	}
	return s.ledger.AssertConserved(s.params.FundingAmount)
}

// teardown deletes the mix accounts, stopping at the first that is not empty.
func (s *session) teardown(ctx context.Context) error {
	for len(s.live) > 0 {
		acc := s.live[0]
		if err := deleteEmptyAccount(ctx, s.client, acc, s.ledger.Balance(acc)); err != nil {
			return err
		}
		s.live = s.live[1:]
		s.log.Debug("Deleted mix account", "account", acc)
		s.emit(Event{Kind: EventAccountDeleted, Accounts: []AccountID{acc}})
	}
	return nil
}
