package payroll

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// FULL & FINAL SETTLEMENT
// =============================================================================

// FNFInput describes an exit. Attendance covers the final period up to the
// last working day.
type FNFInput struct {
	Employee        Employee        `json:"employee"`
	ResignationDate time.Time       `json:"resignation_date"`
	LastWorkingDate time.Time       `json:"last_working_date"`
	TargetGross     decimal.Decimal `json:"target_gross"`
	Attendance      Attendance      `json:"attendance"`
	Overrides       Overrides       `json:"overrides"`

	LeaveBalanceDays      decimal.Decimal `json:"leave_balance_days"`
	PendingReimbursements decimal.Decimal `json:"pending_reimbursements"`
	UnreturnedAssetValue  decimal.Decimal `json:"unreturned_asset_value"`
	AdvanceBalance        decimal.Decimal `json:"advance_balance"`

	Ownership     map[core.DealID]core.EmployeeID      `json:"-"`
	LockedPeriods []incentive.LockedPeriod             `json:"-"`
	Released      map[incentive.ReleaseKey]core.Period `json:"-"`
}

type Dues struct {
	LeaveDays             decimal.Decimal `json:"leave_days"`
	LeaveEncashment       decimal.Decimal `json:"leave_encashment"`
	PendingReimbursements decimal.Decimal `json:"pending_reimbursements"`
	GratuityYears         int             `json:"gratuity_years"`
	Gratuity              decimal.Decimal `json:"gratuity"`
	TotalPayable          decimal.Decimal `json:"total_payable"`
}

type Recoveries struct {
	NoticePeriodDays int             `json:"notice_period_days"`
	ServedDays       int             `json:"served_days"`
	ShortfallDays    int             `json:"shortfall_days"`
	NoticeShortfall  decimal.Decimal `json:"notice_shortfall"`
	UnreturnedAssets decimal.Decimal `json:"unreturned_assets"`
	AdvanceBalance   decimal.Decimal `json:"advance_balance"`
	TotalRecoverable decimal.Decimal `json:"total_recoverable"`
}

// FNFResult is the exit settlement. When recoveries exceed what is owed,
// NetAmount is zero, RecoverableFromEmployee is set and Shortfall carries the
// amount the employee owes.
type FNFResult struct {
	ID              string          `json:"id,omitempty"`
	EmployeeID      core.EmployeeID `json:"employee_id"`
	ResignationDate time.Time       `json:"resignation_date"`
	LastWorkingDate time.Time       `json:"last_working_date"`
	Status          FNFStatus       `json:"status"`

	FinalPayroll Result     `json:"final_payroll"`
	Dues         Dues       `json:"dues"`
	Recoveries   Recoveries `json:"recoveries"`

	NetAmount               decimal.Decimal `json:"net_amount"`
	RecoverableFromEmployee bool            `json:"recoverable_from_employee"`
	Shortfall               decimal.Decimal `json:"shortfall"`
}

// ComputeFNF settles an exiting employee: the prorated final payroll plus
// dues, minus recoveries.
func ComputeFNF(in FNFInput, cfg policy.Config, deals []incentive.Deal) (FNFResult, error) {
	if in.ResignationDate.IsZero() {
		return FNFResult{}, core.Invalid("resignationDate", "required", "", "resignation date is required")
	}
	if in.LastWorkingDate.IsZero() {
		return FNFResult{}, core.Invalid("lastWorkingDate", "required", "", "last working date is required")
	}
	if in.LastWorkingDate.Before(in.ResignationDate) {
		return FNFResult{}, core.Invalid("lastWorkingDate", "after_resignation", in.LastWorkingDate.Format(time.DateOnly),
			"last working date is before the resignation date")
	}
	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"leaveBalanceDays", in.LeaveBalanceDays},
		{"pendingReimbursements", in.PendingReimbursements},
		{"unreturnedAssetValue", in.UnreturnedAssetValue},
		{"advanceBalance", in.AdvanceBalance},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return FNFResult{}, core.Invalid(a.field, "non_negative", a.value.String(), "amount must not be negative")
		}
	}

	lwd := in.LastWorkingDate.UTC()
	period := core.PeriodOf(lwd)
	final, err := compute(Input{
		Employee:      in.Employee,
		Period:        period,
		TargetGross:   in.TargetGross,
		Attendance:    in.Attendance,
		Overrides:     in.Overrides,
		Ownership:     in.Ownership,
		LockedPeriods: in.LockedPeriods,
		Released:      in.Released,
	}, cfg, deals, lwd.Day())
	if err != nil {
		return FNFResult{}, err
	}

	dues := computeDues(in, final.Earnings.Basic, cfg)
	recoveries := computeRecoveries(in, final.Earnings.Gross, period, cfg.FNF)
	net, shortfall, owed := Settle(final.NetPayable, dues.TotalPayable, recoveries.TotalRecoverable)

	return FNFResult{
		EmployeeID:              in.Employee.ID,
		ResignationDate:         in.ResignationDate,
		LastWorkingDate:         in.LastWorkingDate,
		Status:                  FNFInitiated,
		FinalPayroll:            final,
		Dues:                    dues,
		Recoveries:              recoveries,
		NetAmount:               net,
		RecoverableFromEmployee: owed,
		Shortfall:               shortfall,
	}, nil
}

// Settle clamps finalNet + dues − recoveries at zero. When the raw amount is
// negative the employee owes the difference.
func Settle(finalNet, dues, recoveries decimal.Decimal) (net, shortfall decimal.Decimal, owed bool) {
	raw := finalNet.Add(dues).Sub(recoveries)
	if raw.IsNegative() {
		return decimal.Zero, raw.Neg(), true
	}
	return raw, decimal.Zero, false
}

func computeDues(in FNFInput, basic decimal.Decimal, cfg policy.Config) Dues {
	d := Dues{
		LeaveDays:             in.LeaveBalanceDays,
		LeaveEncashment:       core.Round(in.LeaveBalanceDays.Mul(basic).Div(cfg.FNF.LeaveEncashmentDivisor)),
		PendingReimbursements: in.PendingReimbursements,
		Gratuity:              decimal.Zero,
	}

	if !in.Employee.JoinDate.IsZero() {
		d.GratuityYears = core.CompletedYears(in.Employee.JoinDate, in.LastWorkingDate)
		g := cfg.Gratuity
		if g.EligibilityYears > 0 && d.GratuityYears >= g.EligibilityYears {
			wages := basic.Mul(g.DaysPerYear).Mul(core.Int(int64(d.GratuityYears)))
			d.Gratuity = core.Round(wages.Div(g.WageDays))
		}
	}

	d.TotalPayable = core.Sum(d.LeaveEncashment, d.PendingReimbursements, d.Gratuity)
	return d
}

func computeRecoveries(in FNFInput, gross decimal.Decimal, p core.Period, cfg policy.FNFConfig) Recoveries {
	r := Recoveries{
		NoticePeriodDays: cfg.NoticePeriodDays,
		ServedDays:       core.DaysBetween(in.ResignationDate, in.LastWorkingDate),
		UnreturnedAssets: in.UnreturnedAssetValue,
		AdvanceBalance:   in.AdvanceBalance,
		NoticeShortfall:  decimal.Zero,
	}
	if r.ServedDays < r.NoticePeriodDays {
		r.ShortfallDays = r.NoticePeriodDays - r.ServedDays
		r.NoticeShortfall = core.Round(gross.Mul(core.Int(int64(r.ShortfallDays))).Div(core.Int(int64(p.Days()))))
	}
	r.TotalRecoverable = core.Sum(r.NoticeShortfall, r.UnreturnedAssets, r.AdvanceBalance)
	return r
}
