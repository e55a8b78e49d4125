package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/flashbots/ledgermix/mixer"
	"github.com/shopspring/decimal"
)

const (
	// Origin is the funded account used by default test sessions.
	Origin mixer.AccountID = "test_origin"

	// Destination is the receiving account used by default test sessions.
	Destination mixer.AccountID = "test_destination"
)

// ParamsOption modifies SessionParams built by NewTestParams.
type ParamsOption func(*mixer.SessionParams)

// WithID sets the session ID.
func WithID(id string) ParamsOption {
	return func(p *mixer.SessionParams) {
		p.ID = id
	}
}

// WithAccounts sets origin and destination.
func WithAccounts(origin, destination mixer.AccountID) ParamsOption {
	return func(p *mixer.SessionParams) {
		p.Origin = origin
		p.Destination = destination
	}
}

// WithAmounts sets requested and funding amounts in raw units.
func WithAmounts(requested, funding int64) ParamsOption {
	return func(p *mixer.SessionParams) {
		p.RequestedAmount = decimal.NewFromInt(requested)
		p.FundingAmount = decimal.NewFromInt(funding)
	}
}

// WithMixAccounts sets the number of mix accounts.
func WithMixAccounts(n int) ParamsOption {
	return func(p *mixer.SessionParams) {
		p.NumMixAccounts = n
	}
}

// WithRounds sets the number of mixing rounds.
func WithRounds(n int) ParamsOption {
	return func(p *mixer.SessionParams) {
		p.NumRounds = n
	}
}

// WithMultiSourceFinalHop enables delivery from several mix accounts.
func WithMultiSourceFinalHop() ParamsOption {
	return func(p *mixer.SessionParams) {
		p.MultiSourceFinalHop = true
	}
}

// NewTestParams returns valid session parameters: 800 of 1000 raw from
// Origin to Destination over 4 mix accounts and 2 rounds.
func NewTestParams(options ...ParamsOption) mixer.SessionParams {
	params := mixer.SessionParams{
		Origin:          Origin,
		Destination:     Destination,
		RequestedAmount: decimal.NewFromInt(800),
		FundingAmount:   decimal.NewFromInt(1000),
		NumMixAccounts:  4,
		NumRounds:       2,
	}

	for _, option := range options {
		option(&params)
	}

	return params
}

// NewFundedLedger returns a MockLedger with fast confirmation where each
// params' origin holds its funding amount and each destination exists with
// a zero balance.
func NewFundedLedger(params ...mixer.SessionParams) *mixer.MockLedger {
	ledger := mixer.NewMockLedger()
	ledger.SetConfirmConfig(mixer.ConfirmConfig{
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
	})

	for _, p := range params {
		ledger.Fund(p.Origin, p.FundingAmount)
		ledger.Fund(p.Destination, decimal.Zero)
	}
	return ledger
}

// SeededMixerOptions returns mixer options with a quiet logger and
// randomness derived from name, so runs are reproducible per test.
func SeededMixerOptions(name string) []mixer.Option {
	return []mixer.Option{
		mixer.WithLogger(QuietLogger()),
		mixer.WithSeedSecret([]byte(fmt.Sprintf("testutil/%s", name))),
	}
}

// QuietLogger discards everything below error level.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
