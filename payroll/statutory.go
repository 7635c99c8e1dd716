package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// STATUTORY DEDUCTIONS
// =============================================================================

// ComputeStatutory derives the employee deductions (all except attendance)
// and the employer-side cost from the rounded earnings.
//
// variablePay is the incentive and reward paid in the month; it is annualized
// together with gross for TDS.
func ComputeStatutory(e Earnings, cat core.Category, variablePay decimal.Decimal, cfg policy.Config, ov Overrides) (Deductions, EmployerCost, error) {
	if floor := cfg.MinimumWageFor(cat); e.Gross.LessThan(floor) {
		return Deductions{}, EmployerCost{}, core.Invalid("grossSalary", "minimum_wage", e.Gross.String(),
			"gross is below the minimum wage of "+floor.String()+" for category "+string(cat))
	}

	pf := PF(e.Basic, cfg.PF)
	esiEmployee, esiEmployer := ESI(e.Gross, cfg.ESI)

	d := Deductions{
		PF:              ov.PF.Resolve(pf),
		ESI:             ov.ESI.Resolve(esiEmployee),
		LWF:             ov.LWF.Resolve(core.MulRound(e.Gross, cfg.LWF.EmployeeRate)),
		ProfessionalTax: ov.ProfessionalTax.Resolve(cfg.ProfessionalTax.Amount(e.Gross)),
		TDS:             ov.TDS.Resolve(cfg.TDS.MonthlyTax(e.Gross.Add(variablePay).Mul(core.Twelve))),
		Attendance:      decimal.Zero,
	}

	checks := []struct {
		field string
		value decimal.Decimal
	}{
		{"pf", d.PF}, {"esi", d.ESI}, {"lwf", d.LWF}, {"professionalTax", d.ProfessionalTax}, {"tds", d.TDS},
	}
	for _, c := range checks {
		if c.value.IsNegative() {
			return Deductions{}, EmployerCost{}, core.Invalid(c.field, "non_negative", c.value.String(), "deduction must not be negative")
		}
	}

	emp := EmployerCost{
		PF:       pf,
		PFAdmin:  core.MulRound(e.Basic, cfg.PF.AdminRate),
		ESI:      esiEmployer,
		LWF:      core.MulRound(e.Gross, cfg.LWF.EmployerRate),
		Bonus:    Bonus(cfg.MinimumWageFor(cat), cfg.Bonus),
		Gratuity: core.MulRound(e.Basic, cfg.Gratuity.AccrualRate),
	}
	emp.StatutoryCost = core.Sum(emp.PF, emp.PFAdmin, emp.ESI, emp.LWF, emp.Bonus, emp.Gratuity)
	return d, emp, nil
}

// PF is the employee (and matching employer) provident fund contribution:
// round(basic × rate), capped at the ceiling when the policy is capped.
func PF(basic decimal.Decimal, cfg policy.PFConfig) decimal.Decimal {
	amount := core.MulRound(basic, cfg.Rate)
	if cfg.Capped && amount.GreaterThan(cfg.Cap) {
		return cfg.Cap
	}
	return amount
}

// ESI applies only when gross is at or below the ceiling.
func ESI(gross decimal.Decimal, cfg policy.ESIConfig) (employee, employer decimal.Decimal) {
	if gross.GreaterThan(cfg.GrossCeiling) {
		return decimal.Zero, decimal.Zero
	}
	return core.MulRound(gross, cfg.EmployeeRate), core.MulRound(gross, cfg.EmployerRate)
}

// Bonus is the statutory bonus accrual: max(round(minimumWage × rate), floor).
func Bonus(minimumWage decimal.Decimal, cfg policy.BonusConfig) decimal.Decimal {
	return decimal.Max(core.MulRound(minimumWage, cfg.Rate), cfg.Floor)
}
