package services

import (
	"errors"
	"slices"
	"time"

	"github.com/flashbots/ledgermix/mixer"
)

var (
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotRunning is returned when cancelling a finished session.
	ErrSessionNotRunning = errors.New("session not running")

	// ErrNothingToRecover is returned by Recover for sessions without live
	// mix accounts.
	ErrNothingToRecover = errors.New("session has no live accounts")

	// ErrLocked is returned when the origin account is already used by
	// another session.
	ErrLocked = errors.New("origin account is busy")

	// ErrSessionActive is returned by Recover while the session goroutine
	// still owns its accounts.
	ErrSessionActive = errors.New("session is still running")

	// ErrSessionExists is returned by Start for a reused session ID.
	ErrSessionExists = errors.New("session already exists")

	// ErrDraining is returned by Start while the manager is shutting down.
	ErrDraining = errors.New("session manager is draining")

	// ErrLockLost fails a session whose origin lock expired while it ran.
	ErrLockLost = errors.New("origin lock lost")
)

// SessionState is the lifecycle state of a daemon-managed session.
type SessionState string

const (
	StatePending   SessionState = "pending"
	StateRunning   SessionState = "running"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
	StateCanceled  SessionState = "canceled"
	StateRecovered SessionState = "recovered"
)

// Terminal reports whether the session goroutine has finished.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled, StateRecovered:
		return true
	default:
		return false
	}
}

// SessionRecord is the journaled view of a session.
type SessionRecord struct {
	ID            string               `json:"id"`
	Params        mixer.SessionParams  `json:"params"`
	State         SessionState         `json:"state"`
	Phase         mixer.Phase          `json:"phase"`
	TransferCount int                  `json:"transfer_count"`
	MixAccounts   []mixer.AccountID    `json:"mix_accounts,omitempty"`
	LiveAccounts  []mixer.AccountID    `json:"live_accounts,omitempty"`
	Result        *mixer.SessionResult `json:"result,omitempty"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func (r *SessionRecord) clone() *SessionRecord {
	c := *r
	c.MixAccounts = slices.Clone(r.MixAccounts)
	c.LiveAccounts = slices.Clone(r.LiveAccounts)
	return &c
}

// StartSessionRequest is the body of POST /sessions. Amounts accept the
// k (krai) and M (Mrai) suffixes; InitialAmount defaults to Amount.
type StartSessionRequest struct {
	ID                  string `json:"id,omitempty"`
	Origin              string `json:"origin"`
	Destination         string `json:"destination"`
	Amount              string `json:"amount"`
	InitialAmount       string `json:"initial_amount,omitempty"`
	NumMixAccounts      int    `json:"num_mix_accounts,omitempty"`
	NumRounds           int    `json:"num_rounds,omitempty"`
	MultiSourceFinalHop *bool  `json:"multi_source_final_hop,omitempty"`
}

// SessionListResponse is the body of GET /sessions.
type SessionListResponse struct {
	Sessions []*SessionRecord `json:"sessions"`
	Active   int64            `json:"active"`
}

// RecoverResponse is the body of POST /sessions/{id}/recover.
type RecoverResponse struct {
	Session *SessionRecord     `json:"session"`
	Sweep   *mixer.SweepResult `json:"sweep"`
}
