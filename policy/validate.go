package policy

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
)

// Validate checks the internal consistency of a policy. It returns the first
// violation as a *core.ValidationError naming the offending field.
func (c Config) Validate() error {
	one := decimal.NewFromInt(1)
	if !c.BasicPercent.IsPositive() || c.BasicPercent.GreaterThan(one) {
		return core.Invalid("basicPercent", "range", c.BasicPercent.String(), "must be in (0, 1]")
	}

	rates := []struct {
		field string
		value decimal.Decimal
	}{
		{"hraPercent", c.HRAPercent},
		{"conveyancePercent", c.ConveyancePercent},
		{"specialAllowance", c.SpecialAllowance},
		{"pf.rate", c.PF.Rate},
		{"pf.cap", c.PF.Cap},
		{"pf.adminRate", c.PF.AdminRate},
		{"esi.employeeRate", c.ESI.EmployeeRate},
		{"esi.employerRate", c.ESI.EmployerRate},
		{"esi.grossCeiling", c.ESI.GrossCeiling},
		{"lwf.employeeRate", c.LWF.EmployeeRate},
		{"lwf.employerRate", c.LWF.EmployerRate},
		{"bonus.rate", c.Bonus.Rate},
		{"bonus.floor", c.Bonus.Floor},
		{"gratuity.accrualRate", c.Gratuity.AccrualRate},
		{"tds.standardDeduction", c.TDS.StandardDeduction},
	}
	for _, r := range rates {
		if r.value.IsNegative() {
			return core.Invalid(r.field, "non_negative", r.value.String(), "must not be negative")
		}
	}

	if c.ProfessionalTax == nil {
		return core.Invalid("professionalTax", "required", "", "a fixed or slab professional tax is required")
	}
	switch pt := c.ProfessionalTax.(type) {
	case FixedPT:
		if pt.Value.IsNegative() {
			return core.Invalid("professionalTax.amount", "non_negative", pt.Value.String(), "must not be negative")
		}
	case SlabPT:
		for i, s := range pt.Slabs {
			if s.Amount.IsNegative() {
				return core.Invalid(fmt.Sprintf("professionalTax.slabs[%d].amount", i), "non_negative", s.Amount.String(), "must not be negative")
			}
			if i > 0 && !s.Threshold.GreaterThan(pt.Slabs[i-1].Threshold) {
				return core.Invalid(fmt.Sprintf("professionalTax.slabs[%d].threshold", i), "ascending", s.Threshold.String(), "thresholds must be strictly ascending")
			}
		}
	}

	for i, b := range c.TDS.Bands {
		if b.Rate.IsNegative() {
			return core.Invalid(fmt.Sprintf("tds.bands[%d].rate", i), "non_negative", b.Rate.String(), "must not be negative")
		}
		if i > 0 && !b.From.GreaterThan(c.TDS.Bands[i-1].From) {
			return core.Invalid(fmt.Sprintf("tds.bands[%d].from", i), "ascending", b.From.String(), "bands must be strictly ascending")
		}
	}

	if c.Gratuity.WageDays.IsZero() && c.Gratuity.EligibilityYears > 0 {
		return core.Invalid("gratuity.wageDays", "positive", "0", "required when gratuity payout is enabled")
	}
	if !c.FNF.LeaveEncashmentDivisor.IsPositive() {
		return core.Invalid("fnf.leaveEncashmentDivisor", "positive", c.FNF.LeaveEncashmentDivisor.String(), "must be positive")
	}

	return c.validateSalesBands()
}

func (c Config) validateSalesBands() error {
	byRole := make(map[core.Role][]SalesIncentivePolicy)
	for i, sp := range c.SalesPolicies {
		field := fmt.Sprintf("salesPolicies[%d]", i)
		if sp.Role == "" {
			return core.Invalid(field+".role", "required", "", "role is required")
		}
		if sp.MinSales < 0 {
			return core.Invalid(field+".minSales", "non_negative", fmt.Sprint(sp.MinSales), "must not be negative")
		}
		if sp.MaxSales != nil && *sp.MaxSales < sp.MinSales {
			return core.Invalid(field+".maxSales", "range", fmt.Sprint(*sp.MaxSales), "must be >= minSales")
		}
		if sp.NPLRatioThreshold.GreaterThan(sp.NormalRatioThreshold) {
			return core.Invalid(field+".nplRatioThreshold", "ordering", sp.NPLRatioThreshold.String(), "must not exceed normalRatioThreshold")
		}
		if sp.SupportiveSplitPercent.IsNegative() || sp.SupportiveSplitPercent.GreaterThan(decimal.NewFromInt(1)) {
			return core.Invalid(field+".supportiveSplitPercent", "range", sp.SupportiveSplitPercent.String(), "must be in [0, 1]")
		}
		if sp.UnlockSequenceRule.Lag < 0 {
			return core.Invalid(field+".unlockSequenceRule", "non_negative", fmt.Sprint(sp.UnlockSequenceRule.Lag), "lag must not be negative")
		}
		byRole[sp.Role] = append(byRole[sp.Role], sp)
	}

	for role, bands := range byRole {
		sort.Slice(bands, func(i, j int) bool { return bands[i].MinSales < bands[j].MinSales })
		for i := 1; i < len(bands); i++ {
			prev := bands[i-1]
			// Unlock timing must not depend on the band, or a deal could be
			// released twice (or never) as the sales count moves between bands.
			if bands[i].UnlockSequenceRule != prev.UnlockSequenceRule {
				return core.Invalid("salesPolicies", "uniform_unlock_rule", string(role), "all bands of a role must share one unlock sequence rule")
			}
			if prev.MaxSales == nil || *prev.MaxSales >= bands[i].MinSales {
				return core.Invalid("salesPolicies", "overlap", string(role), "sales bands of a role must not overlap")
			}
		}
	}
	return nil
}
