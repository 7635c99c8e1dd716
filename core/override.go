package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Override is a per-field tagged value: Auto (derive it) or Manual(amount).
// The zero value is Auto.
type Override struct {
	manual bool
	amount decimal.Decimal
}

// Auto returns an override that keeps the derived value.
func Auto() Override { return Override{} }

// Manual returns an override that replaces the derived value with amount.
func Manual(amount decimal.Decimal) Override {
	return Override{manual: true, amount: amount}
}

func (o Override) IsManual() bool { return o.manual }

// Amount returns the manual amount and whether one is set.
func (o Override) Amount() (decimal.Decimal, bool) {
	return o.amount, o.manual
}

// Resolve returns the manual amount, or derived when the override is Auto.
func (o Override) Resolve(derived decimal.Decimal) decimal.Decimal {
	if o.manual {
		return o.amount
	}
	return derived
}

// String renders "auto" or "manual:<amount>".
func (o Override) String() string {
	if !o.manual {
		return "auto"
	}
	return "manual:" + o.amount.String()
}

// ParseOverride parses "auto", "" or "manual:<amount>".
func ParseOverride(s string) (Override, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return Auto(), nil
	}
	raw, ok := strings.CutPrefix(strings.ToLower(s), "manual:")
	if !ok {
		return Override{}, fmt.Errorf("override %q: expected auto or manual:<amount>", s)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Override{}, fmt.Errorf("override %q: %w", s, err)
	}
	return Manual(amount), nil
}

func (o Override) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Override) UnmarshalText(b []byte) error {
	parsed, err := ParseOverride(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// MarshalJSON is explicit so that value receivers encode as strings.
func (o Override) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Override) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return o.UnmarshalText([]byte(s))
}
