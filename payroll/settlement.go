package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// SETTLEMENT AGGREGATOR
// =============================================================================

// ComputePayroll produces the payroll record of one employee for one period.
//
// deals are the employee's owned and co-owned deals (plus the rest of each
// owner's sequence needed for unlock), read together with in.Ownership.
// A Previous result that is locked makes this fail with LockedPeriodError;
// corrections to locked results go through a new revision instead.
func ComputePayroll(in Input, cfg policy.Config, deals []incentive.Deal) (Result, error) {
	if in.Previous != nil && in.Previous.Locked() {
		return Result{}, &core.LockedPeriodError{
			EmployeeID: in.Employee.ID,
			Period:     in.Period,
			Revision:   in.Previous.Revision,
		}
	}
	return compute(in, cfg, deals, in.Period.Days())
}

func compute(in Input, cfg policy.Config, deals []incentive.Deal, workable int) (Result, error) {
	if err := validateInput(in); err != nil {
		return Result{}, err
	}
	if in.Employee.BasicPercent != nil {
		cfg = cfg.WithBasicPercent(*in.Employee.BasicPercent)
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	earnings, err := Decompose(in.TargetGross, cfg, in.Overrides)
	if err != nil {
		return Result{}, err
	}

	attendance, summary, err := prorate(earnings.Gross, in.Period, in.Attendance, workable)
	if err != nil {
		return Result{}, err
	}

	inc, err := incentive.Evaluate(incentive.Input{
		EmployeeID:    in.Employee.ID,
		Role:          in.Employee.Role,
		Period:        in.Period,
		Basic:         earnings.Basic,
		Deals:         deals,
		Ownership:     in.Ownership,
		LockedPeriods: in.LockedPeriods,
		Released:      in.Released,
	}, cfg)
	if err != nil {
		return Result{}, err
	}
	variable := inc.Payable.Add(inc.PerformanceReward)

	deductions, employer, err := ComputeStatutory(earnings, in.Employee.Category, variable, cfg, in.Overrides)
	if err != nil {
		return Result{}, err
	}
	deductions.Attendance = attendance

	net, floored := NetPayable(earnings.Gross, variable, deductions)

	r := Result{
		EmployeeID:    in.Employee.ID,
		Period:        in.Period,
		PolicyID:      cfg.ID,
		PolicyVersion: cfg.Version,
		Revision:      1,
		Status:        StatusDraft,
		Earnings:      earnings,
		Deductions:    deductions,
		EmployerCost:  employer,
		Incentives: Incentives{
			Amount:            inc.Payable,
			PerformanceReward: inc.PerformanceReward,
			Pending:           inc.Pending,
			SalesCount:        inc.SalesCount,
			Lines:             inc.Lines,
		},
		Attendance: summary,
		TotalCTC:   core.Sum(earnings.Gross, variable, employer.StatutoryCost),
		NetPayable: net,
		NetFloored: floored,
	}
	if prev := in.Previous; prev != nil {
		r.ID = prev.ID
		r.Revision = prev.Revision
		r.Supersedes = prev.Supersedes
	}
	return r, nil
}

// NetPayable = gross + variable − deductions, floored at zero. The flag
// reports whether the floor was applied.
func NetPayable(gross, variable decimal.Decimal, d Deductions) (decimal.Decimal, bool) {
	net := gross.Add(variable).Sub(d.Total())
	if net.IsNegative() {
		return decimal.Zero, true
	}
	return net, false
}

func validateInput(in Input) error {
	if in.Employee.ID == "" {
		return core.Invalid("employee.id", "required", "", "employee id is required")
	}
	if !in.Employee.Category.Valid() {
		return core.Invalid("employee.category", "oneof", string(in.Employee.Category), "category must be skilled or unskilled")
	}
	if !in.Period.Valid() {
		return core.Invalid("period", "valid", in.Period.String(), "period must have a year and a month 1-12")
	}
	return nil
}
