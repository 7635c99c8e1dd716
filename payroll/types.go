/*
Package payroll turns a target gross, a statutory policy, attendance and
incentive data into an itemized salary record, and at exit into a Full &
Final settlement.

PURPOSE:
  This is the settlement engine proper. Data flows bottom-up:

    policy.Config ─▶ Decompose ─▶ ComputeStatutory ─▶ Prorate
                                        ▲                 │
                          incentive.Evaluate ─────────────┤
                                                          ▼
                                          ComputePayroll / ComputeFNF

KEY INVARIANTS:
  - Gross == Basic + HRA + Conveyance + SpecialAllowance + OtherAllowance
  - NetPayable == Gross + Incentive + Reward - (PF + ESI + LWF + TDS + PT
    + Attendance), floored at zero
  - Every intermediate amount is rounded half-up to the currency unit at
    the step where it is defined
  - Pure: no I/O, no clock, no shared state. Identical inputs produce a
    byte-identical JSON encoding of the Result.
  - A locked Result is never recomputed (LockedPeriodError)

SEE ALSO:
  - earnings.go, statutory.go, attendance.go: the components
  - settlement.go: ComputePayroll
  - fnf.go: ComputeFNF
  - lifecycle.go: draft → locked → superseded, FNF initiated → approved → paid
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/incentive"
)

// =============================================================================
// INPUT
// =============================================================================

// Employee is the master data slice the engine needs.
type Employee struct {
	ID       core.EmployeeID `json:"id"`
	Role     core.Role       `json:"role"`
	Category core.Category   `json:"category"`

	// BasicPercent overrides the policy's basic percentage when set.
	BasicPercent *decimal.Decimal `json:"basic_percent,omitempty"`
	JoinDate     time.Time        `json:"join_date,omitempty"`
}

type Attendance struct {
	PresentDays     int `json:"present_days"`
	LateArrivals    int `json:"late_arrivals"`
	EarlyDepartures int `json:"early_departures"`

	// ClampExcess accepts PresentDays above the month length and treats the
	// month as fully attended. Without it the excess is a validation error.
	ClampExcess bool `json:"clamp_excess,omitempty"`
}

// FullAttendance returns an attendance record with every day present.
func FullAttendance(p core.Period) Attendance {
	return Attendance{PresentDays: p.Days()}
}

// Overrides replace derived components. Manual values bypass derivation but
// still flow into every total.
type Overrides struct {
	Basic            core.Override `json:"basic"`
	HRA              core.Override `json:"hra"`
	Conveyance       core.Override `json:"conveyance"`
	SpecialAllowance core.Override `json:"special_allowance"`
	OtherAllowance   core.Override `json:"other_allowance"`
	PF               core.Override `json:"pf"`
	ESI              core.Override `json:"esi"`
	LWF              core.Override `json:"lwf"`
	ProfessionalTax  core.Override `json:"professional_tax"`
	TDS              core.Override `json:"tds"`
}

// Input is one payroll calculation request.
type Input struct {
	Employee    Employee        `json:"employee"`
	Period      core.Period     `json:"period"`
	TargetGross decimal.Decimal `json:"target_gross"`
	Attendance  Attendance      `json:"attendance"`
	Overrides   Overrides       `json:"overrides"`

	// Ownership is the current-owner snapshot of the deals, read in the same
	// transaction as the deals themselves.
	Ownership     map[core.DealID]core.EmployeeID `json:"-"`
	LockedPeriods []incentive.LockedPeriod        `json:"-"`

	// Released is the employee's release ledger; see incentive.Input.
	Released map[incentive.ReleaseKey]core.Period `json:"-"`

	// Previous is the stored result for the same employee and period, if any.
	Previous *Result `json:"-"`
}

// =============================================================================
// RESULT
// =============================================================================

type Earnings struct {
	Basic            decimal.Decimal `json:"basic_salary"`
	HRA              decimal.Decimal `json:"hra"`
	Conveyance       decimal.Decimal `json:"conveyance"`
	SpecialAllowance decimal.Decimal `json:"special_allowance"`
	OtherAllowance   decimal.Decimal `json:"other_allowance"`
	Gross            decimal.Decimal `json:"gross_salary"`

	// Capped is set when fixed components had to be reduced to fit the target gross.
	Capped bool `json:"capped,omitempty"`
}

// Sum returns the component total; it always equals Gross.
func (e Earnings) Sum() decimal.Decimal {
	return core.Sum(e.Basic, e.HRA, e.Conveyance, e.SpecialAllowance, e.OtherAllowance)
}

type Deductions struct {
	PF              decimal.Decimal `json:"pf"`
	ESI             decimal.Decimal `json:"esi"`
	LWF             decimal.Decimal `json:"lwf"`
	ProfessionalTax decimal.Decimal `json:"professional_tax"`
	TDS             decimal.Decimal `json:"tds"`
	Attendance      decimal.Decimal `json:"attendance_deduction"`
}

func (d Deductions) Total() decimal.Decimal {
	return core.Sum(d.PF, d.ESI, d.LWF, d.ProfessionalTax, d.TDS, d.Attendance)
}

// EmployerCost is reported for CTC only; none of it is deducted from net pay.
type EmployerCost struct {
	PF            decimal.Decimal `json:"pf"`
	PFAdmin       decimal.Decimal `json:"pf_admin"`
	ESI           decimal.Decimal `json:"esi"`
	LWF           decimal.Decimal `json:"lwf"`
	Bonus         decimal.Decimal `json:"bonus"`
	Gratuity      decimal.Decimal `json:"gratuity"`
	StatutoryCost decimal.Decimal `json:"statutory_cost"`
}

type Incentives struct {
	Amount            decimal.Decimal  `json:"incentive_amount"`
	PerformanceReward decimal.Decimal  `json:"performance_reward"`
	Pending           decimal.Decimal  `json:"pending"`
	SalesCount        int              `json:"sales_count"`
	Lines             []incentive.Line `json:"lines"`
}

type AttendanceSummary struct {
	DaysInMonth int             `json:"days_in_month"`
	PresentDays int             `json:"present_days"`
	AbsentDays  int             `json:"absent_days"`
	PenaltyDays decimal.Decimal `json:"penalty_days"`
	DailyRate   decimal.Decimal `json:"daily_rate"`
}

// Result is the canonical payroll record of one employee for one period.
type Result struct {
	ID            string          `json:"id,omitempty"`
	EmployeeID    core.EmployeeID `json:"employee_id"`
	Period        core.Period     `json:"period"`
	PolicyID      core.PolicyID   `json:"policy_id"`
	PolicyVersion int             `json:"policy_version"`
	Revision      int             `json:"revision"`
	Supersedes    string          `json:"supersedes,omitempty"`
	Status        Status          `json:"status"`

	Earnings     Earnings          `json:"earnings"`
	Deductions   Deductions        `json:"deductions"`
	EmployerCost EmployerCost      `json:"employer_cost"`
	Incentives   Incentives        `json:"incentives"`
	Attendance   AttendanceSummary `json:"attendance"`

	TotalCTC   decimal.Decimal `json:"total_ctc"`
	NetPayable decimal.Decimal `json:"net_payable"`
	NetFloored bool            `json:"net_floored,omitempty"`
}

func (r Result) Locked() bool { return r.Status == StatusLocked || r.Status == StatusSuperseded }
