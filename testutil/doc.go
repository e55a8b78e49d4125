/*
Package testutil provides fixtures for tests of the daemon and ledger adapters.

Session parameters are built with functional options over valid defaults:

	params := testutil.NewTestParams(
	    testutil.WithID("session-a"),
	    testutil.WithAmounts(500, 700),
	    testutil.WithMixAccounts(3),
	)

NewFundedLedger prepares a mixer.MockLedger holding the funding of each
given session on its origin, with millisecond confirmation polling:

	ledger := testutil.NewFundedLedger(params)
	m := mixer.NewMixer(ledger, testutil.SeededMixerOptions(t.Name())...)

Tests inside package mixer cannot import testutil and use their own helpers.
*/
package testutil
