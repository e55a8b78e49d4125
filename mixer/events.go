package mixer

import "time"

// EventKind names a session progress event.
type EventKind string

const (
	EventSessionStarted      EventKind = "session_started"
	EventPhaseStarted        EventKind = "phase_started"
	EventAccountsProvisioned EventKind = "accounts_provisioned"
	EventTransferApplied     EventKind = "transfer_applied"
	EventTransferRolledBack  EventKind = "transfer_rolled_back"
	EventAccountDeleted      EventKind = "account_deleted"
	EventSessionCompleted    EventKind = "session_completed"
	EventSessionFailed       EventKind = "session_failed"
)

// Event reports session progress to an EventHandler.
type Event struct {
	SessionID string      `json:"session_id"`
	Kind      EventKind   `json:"kind"`
	Phase     Phase       `json:"phase"`
	Transfer  *Transfer   `json:"transfer,omitempty"`
	Accounts  []AccountID `json:"accounts,omitempty"`
	Err       string      `json:"error,omitempty"`
	Time      time.Time   `json:"time"`
}

// EventHandler receives events synchronously from the session goroutine.
// Handlers must not block for long.
type EventHandler func(Event)
