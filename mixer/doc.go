// Package mixer implements the orchestration engine that routes a ledger
// transfer through a rotating set of ephemeral intermediary accounts before
// it reaches its final destination.
//
// # Session Workflow
//
// A session moves value from an origin account to a destination account
// through the following sequential phases:
//
//  1. Provision: the origin's remote balance is checked, ephemeral mix
//     accounts are created and the balance ledger is initialized with
//     origin = funding amount and every other account at zero.
//
//  2. Initial fan-out: between 2 and N mix accounts (sampled with
//     replacement) receive a random partition of the funding amount.
//
//  3. Mixing rounds: in every round, each account holding a positive balance
//     (the origin included) splits its balance across all mix accounts plus
//     the origin. Value may flow back through the origin.
//
//  4. Consolidation: stray origin balance is moved into the mix accounts,
//     balances are optionally collected into a single carrier account, the
//     destination receives exactly the requested amount and the surplus is
//     returned to the origin.
//
//  5. Verify: origin must hold funding - requested and the destination must
//     hold requested.
//
//  6. Teardown: each mix account is deleted only after both its ledger entry
//     and its remote balance are confirmed to be zero.
//
// # Accounting
//
// The BalanceLedger is the sole source of balance state used for routing
// decisions. Every transfer is applied to it optimistically before the remote
// call and restored bit-for-bit if the remote call fails. After every applied
// transfer the ledger total is checked against the funding amount.
//
// # Failures
//
// Any failure aborts the session. Mix accounts that were already created are
// left in place so that funds still held remotely stay reachable; the
// returned *SessionError lists them together with the number of completed
// transfers. Sweep and Mixer.Teardown support the manual recovery pass.
//
// # Randomness
//
// All routing randomness comes from a Random source. NewRandom gives a
// seeded source for tests and replays, DeriveSessionRandom derives a
// per-session source from an operator secret.
package mixer
