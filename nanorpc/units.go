package nanorpc

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// KraiRaw is the number of raw units in one krai.
	KraiRaw = decimal.New(1, 27)
	// MraiRaw is the number of raw units in one Mrai.
	MraiRaw = decimal.New(1, 30)
)

// ParseAmount converts a user supplied amount into raw units. A trailing k
// or K means krai, m or M means Mrai, and no suffix means raw. Only whole
// numbers are accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	if strings.ContainsAny(s, ".,") {
		return decimal.Zero, fmt.Errorf("amount %q: units must be integers", s)
	}

	unit := decimal.New(1, 0)
	digits := s
	switch s[len(s)-1] {
	case 'k', 'K':
		unit = KraiRaw
		digits = s[:len(s)-1]
	case 'm', 'M':
		unit = MraiRaw
		digits = s[:len(s)-1]
	}

	for _, r := range digits {
		if r < '0' || r > '9' {
			return decimal.Zero, fmt.Errorf("amount %q: expected digits with an optional k or M suffix", s)
		}
	}
	if digits == "" {
		return decimal.Zero, fmt.Errorf("amount %q: missing number", s)
	}

	n, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", s, err)
	}
	if !n.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount %q must be positive", s)
	}
	return n.Mul(unit), nil
}

// FormatMrai renders a raw amount in Mrai for display.
func FormatMrai(raw decimal.Decimal) string {
	return raw.Shift(-30).String() + " Mrai"
}
