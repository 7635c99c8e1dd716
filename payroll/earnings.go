package payroll

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// EARNINGS DECOMPOSER
// =============================================================================

// Decompose splits a target gross into the fixed salary structure.
//
//	basic      = round(GS × basicPercent)
//	hra        = round(basic × hraPercent)
//	conveyance = round(basic × conveyancePercent)
//	special    = configured amount
//	other      = GS − (basic + hra + conveyance + special)
//
// Other is the balancing term and never goes negative. When the fixed
// components exceed GS they are capped downward, conveyance first, then HRA,
// then the special allowance. Manual components are never capped; if they
// alone exceed GS the request is rejected.
func Decompose(gross decimal.Decimal, cfg policy.Config, ov Overrides) (Earnings, error) {
	if !gross.IsPositive() {
		return Earnings{}, core.Invalid("targetGross", "positive", gross.String(), "target gross must be positive")
	}

	e := Earnings{
		Basic: ov.Basic.Resolve(core.MulRound(gross, cfg.BasicPercent)),
	}
	e.HRA = ov.HRA.Resolve(core.MulRound(e.Basic, cfg.HRAPercent))
	e.Conveyance = ov.Conveyance.Resolve(core.MulRound(e.Basic, cfg.ConveyancePercent))
	e.SpecialAllowance = ov.SpecialAllowance.Resolve(cfg.SpecialAllowance)

	manual := []struct {
		field string
		ov    core.Override
		value decimal.Decimal
	}{
		{"overrides.basic", ov.Basic, e.Basic},
		{"overrides.hra", ov.HRA, e.HRA},
		{"overrides.conveyance", ov.Conveyance, e.Conveyance},
		{"overrides.specialAllowance", ov.SpecialAllowance, e.SpecialAllowance},
	}
	for _, m := range manual {
		if m.ov.IsManual() && m.value.IsNegative() {
			return Earnings{}, core.Invalid(m.field, "non_negative", m.value.String(), "manual component must not be negative")
		}
	}

	if other, ok := ov.OtherAllowance.Amount(); ok {
		if other.IsNegative() {
			return Earnings{}, core.Invalid("overrides.otherAllowance", "non_negative", other.String(), "manual component must not be negative")
		}
		e.OtherAllowance = other
		e.Gross = e.Sum()
		return e, nil
	}

	fixed := core.Sum(e.Basic, e.HRA, e.Conveyance, e.SpecialAllowance)
	if excess := fixed.Sub(gross); excess.IsPositive() {
		e.Capped = true
		excess = capDown(&e.Conveyance, ov.Conveyance, excess)
		excess = capDown(&e.HRA, ov.HRA, excess)
		excess = capDown(&e.SpecialAllowance, ov.SpecialAllowance, excess)
		if excess.IsPositive() {
			var fields []string
			for _, m := range manual {
				if m.ov.IsManual() {
					fields = append(fields, m.field)
				}
			}
			return Earnings{}, core.Invalid(strings.Join(fields, ","), "components_exceed_gross", excess.String(),
				"manual components exceed the target gross")
		}
	}

	e.OtherAllowance = gross.Sub(core.Sum(e.Basic, e.HRA, e.Conveyance, e.SpecialAllowance))
	e.Gross = e.Sum()
	return e, nil
}

// capDown reduces an automatic component by up to excess and returns what is
// left to remove.
func capDown(component *decimal.Decimal, ov core.Override, excess decimal.Decimal) decimal.Decimal {
	if ov.IsManual() || !excess.IsPositive() {
		return excess
	}
	cut := decimal.Min(*component, excess)
	*component = component.Sub(cut)
	return excess.Sub(cut)
}
