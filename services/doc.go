/*
# Ledgermix Services Package

The services package runs mixing sessions as a long-lived daemon and exposes
them over HTTP.

## Components

### SessionManager (`manager.go`)

  - Runs each session in its own goroutine through a `mixer.Mixer`
  - Allows one session per origin account at a time (`Locker`)
  - Folds mixer events into a `SessionRecord` and journals every change
  - Forwards events to a `Publisher`
  - `Cancel` aborts at the next transfer boundary, `Recover` sweeps the live
    mix accounts of a failed or canceled session back into its origin
  - `Reconcile` marks sessions orphaned by a restart as failed

### Journal (`journal.go`, `postgres_journal.go`)

  - `InMemoryJournal` for tests and throwaway daemons
  - `PostgresJournal` keeps records across restarts so that stranded mix
    accounts can still be recovered

### Locker (`locker.go`)

  - `LocalLocker` guards origins inside one process
  - `RedisLocker` guards origins across daemons, with background extension

### Publisher (`publisher.go`)

  - `LogPublisher` logs events
  - `AMQPPublisher` publishes JSON events to a topic exchange with routing key
    `session.<kind>`

### HTTP API (`handlers.go`)

  - `POST /sessions` - Start a session (202 with the pending record)
  - `GET /sessions` - List sessions, optionally `?state=`
  - `GET /sessions/stats` - Session counters
  - `GET /sessions/{id}` - Get one session
  - `DELETE /sessions/{id}` - Cancel a running session
  - `POST /sessions/{id}/recover` - Sweep live mix accounts (basic auth when an admin token is set)

Amounts in requests are raw integers or carry a `k` (krai) or `M` (Mrai)
suffix.
*/
package services
