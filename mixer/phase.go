package mixer

import "fmt"

// Phase is a step of the session state machine. Phases run strictly in
// order and none is re-entered.
type Phase int

const (
	PhaseProvision Phase = iota
	PhaseInitialFanOut
	PhaseMixing
	PhaseConsolidation
	PhaseVerify
	PhaseTeardown
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseProvision:
		return "provision"
	case PhaseInitialFanOut:
		return "initial-fan-out"
	case PhaseMixing:
		return "mixing"
	case PhaseConsolidation:
		return "consolidation"
	case PhaseVerify:
		return "verify"
	case PhaseTeardown:
		return "teardown"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// IsAfter reports whether p comes later in the session than p2.
func (p Phase) IsAfter(p2 Phase) bool {
	return p > p2
}

// Advance returns the next phase. PhaseDone is terminal.
func (p Phase) Advance() Phase {
	if p >= PhaseDone {
		return PhaseDone
	}
	return p + 1
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for candidate := PhaseProvision; candidate <= PhaseDone; candidate++ {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(text))
}
