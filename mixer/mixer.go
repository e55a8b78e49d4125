package mixer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionParams configures one mixing session.
type SessionParams struct {
	// ID names the session in logs, events and seed derivation. A random
	// UUID is assigned when empty.
	ID string `json:"id"`

	Origin      AccountID `json:"origin"`
	Destination AccountID `json:"destination"`

	// RequestedAmount is delivered to Destination.
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	// FundingAmount is taken from Origin; the excess over RequestedAmount
	// returns to Origin at the end of the session.
	FundingAmount decimal.Decimal `json:"funding_amount"`

	NumMixAccounts int `json:"num_mix_accounts"`
	NumRounds      int `json:"num_rounds"`

	// MultiSourceFinalHop lets the destination receive from several mix
	// accounts instead of a single carrier.
	MultiSourceFinalHop bool `json:"multi_source_final_hop"`
}

// Validate checks the parameters before any remote call is made.
func (p SessionParams) Validate() error {
	switch {
	case p.Origin == "" || p.Destination == "":
		return fmt.Errorf("%w: origin and destination are required", ErrInvalidParams)
	case p.Origin == p.Destination:
		return fmt.Errorf("%w: origin and destination are the same account", ErrInvalidParams)
	case !p.RequestedAmount.IsPositive() || !p.RequestedAmount.IsInteger():
		return fmt.Errorf("%w: requested amount %s must be a positive integer", ErrInvalidParams, p.RequestedAmount)
	case !p.FundingAmount.IsInteger() || p.FundingAmount.LessThan(p.RequestedAmount):
		return fmt.Errorf("%w: funding amount %s must be an integer of at least %s", ErrInvalidParams, p.FundingAmount, p.RequestedAmount)
	case p.NumMixAccounts < 2:
		return fmt.Errorf("%w: need at least 2 mix accounts, got %d", ErrInvalidParams, p.NumMixAccounts)
	case p.NumRounds < 1:
		return fmt.Errorf("%w: need at least 1 round, got %d", ErrInvalidParams, p.NumRounds)
	}
	return nil
}

// SessionResult summarizes a completed session.
type SessionResult struct {
	SessionID               string          `json:"session_id"`
	TransferCount           int             `json:"transfer_count"`
	FinalOriginBalance      decimal.Decimal `json:"final_origin_balance"`
	FinalDestinationBalance decimal.Decimal `json:"final_destination_balance"`
	MixAccounts             []AccountID     `json:"mix_accounts"`
	Transfers               []Transfer      `json:"transfers"`
	Duration                time.Duration   `json:"duration"`
}

// Mixer runs sessions against a LedgerClient. A Mixer holds no per-session
// state and may run several sessions concurrently if the client allows it.
type Mixer struct {
	client    LedgerClient
	log       *slog.Logger
	onEvent   EventHandler
	confirm   ConfirmConfig
	newRandom func(sessionID string) (Random, error)
}

// Option configures a Mixer.
type Option func(*Mixer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Mixer) {
		m.log = log
	}
}

// WithRandom makes every session draw from rng. Intended for tests and
// replays; rng is not safe for concurrent sessions.
func WithRandom(rng Random) Option {
	return func(m *Mixer) {
		m.newRandom = func(string) (Random, error) { return rng, nil }
	}
}

// WithSeedSecret derives each session's randomness from secret and the
// session ID.
func WithSeedSecret(secret []byte) Option {
	return func(m *Mixer) {
		m.newRandom = func(sessionID string) (Random, error) {
			return DeriveSessionRandom(secret, sessionID)
		}
	}
}

// WithEventHandler registers a progress callback.
func WithEventHandler(h EventHandler) Option {
	return func(m *Mixer) {
		m.onEvent = h
	}
}

// WithConfirmConfig bounds the wait for pending amounts when sweeping.
func WithConfirmConfig(cfg ConfirmConfig) Option {
	return func(m *Mixer) {
		m.confirm = cfg
	}
}

// NewMixer creates a Mixer driving client.
func NewMixer(client LedgerClient, opts ...Option) *Mixer {
	m := &Mixer{
		client:  client,
		log:     slog.Default(),
		confirm: DefaultConfirmConfig(),
		newRandom: func(string) (Random, error) {
			return NewCryptoSeededRandom()
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunSession moves params.RequestedAmount from the origin to the destination
// through freshly created mix accounts, returning any unused funding to the
// origin, and deletes the mix accounts afterwards.
//
// Cancelling ctx aborts the session at the next transfer or phase boundary;
// a transfer that has been submitted is always awaited first. On failure the
// returned error is a *SessionError listing the mix accounts left alive.
func (m *Mixer) RunSession(ctx context.Context, params SessionParams) (*SessionResult, error) {
	if params.ID == "" {
		params.ID = uuid.NewString()
	}

	if err := params.Validate(); err != nil {
		return nil, &SessionError{SessionID: params.ID, Phase: PhaseProvision, Err: err}
	}

	rng, err := m.newRandom(params.ID)
	if err != nil {
		return nil, &SessionError{SessionID: params.ID, Phase: PhaseProvision, Err: fmt.Errorf("seeding session: %w", err)}
	}

	s := &session{
		id:      params.ID,
		params:  params,
		client:  m.client,
		rng:     rng,
		log:     m.log.With("session", params.ID),
		onEvent: m.onEvent,
		ledger:  NewBalanceLedger(),
		started: time.Now(),
	}

	return s.run(ctx)
}

// Teardown deletes accounts left behind by an aborted session. Each account
// must hold nothing, confirmed or pending; the first non-empty account stops
// the teardown with a *NonZeroBalanceError. Returns the accounts that were
// not deleted.
func (m *Mixer) Teardown(ctx context.Context, accounts []AccountID) ([]AccountID, error) {
	remaining := slices.Clone(accounts)
	for len(remaining) > 0 {
		acc := remaining[0]
		if err := deleteEmptyAccount(ctx, m.client, acc, decimal.Zero); err != nil {
			return remaining, err
		}
		m.log.Info("Deleted account", "account", acc)
		remaining = remaining[1:]
	}
	return nil, nil
}

// deleteEmptyAccount deletes acc after checking that both the ledger view and
// the remote balance are zero.
func deleteEmptyAccount(ctx context.Context, client LedgerClient, acc AccountID, ledgerBalance decimal.Decimal) error {
	confirmed, pending, err := client.AccountBalance(ctx, acc)
	if err != nil {
		return fmt.Errorf("reading balance of %s: %w", acc, err)
	}

	if !ledgerBalance.IsZero() || !confirmed.IsZero() || !pending.IsZero() {
		return &NonZeroBalanceError{
			Account:   acc,
			Ledger:    ledgerBalance,
			Confirmed: confirmed,
			Pending:   pending,
		}
	}

	deleted, err := client.DeleteAccount(ctx, acc)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", acc, err)
	}
	if !deleted {
		return fmt.Errorf("%w: node refused to delete %s", ErrLedgerUnavailable, acc)
	}
	return nil
}
