package payroll_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march2025 = core.NewPeriod(2025, time.March)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func employee(id string) payroll.Employee {
	return payroll.Employee{ID: core.EmployeeID(id), Role: "engineer", Category: core.CategorySkilled}
}

func input(gross string, p core.Period) payroll.Input {
	return payroll.Input{
		Employee:    employee("emp-1"),
		Period:      p,
		TargetGross: dec(gross),
		Attendance:  payroll.FullAttendance(p),
	}
}

func salesConfig() policy.Config {
	cfg := policy.Default()
	cfg.SalesPolicies = []policy.SalesIncentivePolicy{{
		Role:                   "sales",
		MinSales:               0,
		NormalIncentiveRate:    dec("0.01"),
		NPLIncentiveRate:       dec("0.005"),
		NormalRatioThreshold:   dec("0.005"),
		NPLRatioThreshold:      dec("0.0025"),
		SalaryRewardPercent:    dec("0.10"),
		SalaryRewardThreshold:  3,
		SupportiveSplitPercent: dec("0.40"),
	}}
	return cfg
}

func deal(id, owner string, day int) incentive.Deal {
	return incentive.Deal{
		ID:       core.DealID(id),
		Owner:    core.EmployeeID(owner),
		Value:    dec("100000"),
		CV:       dec("10000000"),
		Type:     incentive.DealNormal,
		ClosedAt: time.Date(2025, time.March, day, 10, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// REFERENCE PAYSLIP
// =============================================================================

func TestComputePayroll_ReferencePayslip(t *testing.T) {
	// GIVEN: GS 35000 under the default policy, full attendance, no sales role
	// WHEN: Computing March 2025
	// THEN: Every component matches the reference breakdown

	res, err := payroll.ComputePayroll(input("35000", march2025), policy.Default(), nil)
	require.NoError(t, err)

	assertDec(t, "17500", res.Earnings.Basic, "basic")
	assertDec(t, "8750", res.Earnings.HRA, "hra")
	assertDec(t, "2625", res.Earnings.Conveyance, "conveyance")
	assertDec(t, "100", res.Earnings.SpecialAllowance, "special")
	assertDec(t, "6025", res.Earnings.OtherAllowance, "other")
	assertDec(t, "35000", res.Earnings.Gross, "gross")
	assert.False(t, res.Earnings.Capped)

	assertDec(t, "1800", res.Deductions.PF, "pf")
	assertDec(t, "0", res.Deductions.ESI, "esi")
	assertDec(t, "70", res.Deductions.LWF, "lwf")
	assertDec(t, "200", res.Deductions.ProfessionalTax, "pt")
	assertDec(t, "500", res.Deductions.TDS, "tds")
	assertDec(t, "0", res.Deductions.Attendance, "attendance")

	assertDec(t, "1800", res.EmployerCost.PF, "employer pf")
	assertDec(t, "88", res.EmployerCost.PFAdmin, "pf admin")
	assertDec(t, "140", res.EmployerCost.LWF, "employer lwf")
	assertDec(t, "1000", res.EmployerCost.Bonus, "bonus")
	assertDec(t, "842", res.EmployerCost.Gratuity, "gratuity")
	assertDec(t, "3870", res.EmployerCost.StatutoryCost, "statutory cost")

	assertDec(t, "32430", res.NetPayable, "net")
	assertDec(t, "38870", res.TotalCTC, "ctc")
	assert.Equal(t, payroll.StatusDraft, res.Status)
	assert.Equal(t, 1, res.Revision)
	assert.Empty(t, res.Incentives.Lines)
}

func TestComputePayroll_GrossEqualsComponentSum(t *testing.T) {
	for _, gross := range []string{"12000", "12001", "21000", "35000", "35001", "99999", "250000"} {
		res, err := payroll.ComputePayroll(input(gross, march2025), policy.Default(), nil)
		require.NoError(t, err, gross)
		assert.True(t, res.Earnings.Sum().Equal(res.Earnings.Gross), "gross %s", gross)
		assert.True(t, res.Earnings.Gross.Equal(dec(gross)), "gross %s", gross)
		assert.False(t, res.Earnings.OtherAllowance.IsNegative(), "gross %s", gross)
	}
}

func TestComputePayroll_NetPayableFormula(t *testing.T) {
	cfg := salesConfig()
	in := input("35000", march2025)
	in.Employee.Role = "sales"
	in.Attendance.LateArrivals = 3
	deals := []incentive.Deal{deal("d1", "emp-1", 3), deal("d2", "emp-1", 10), deal("d3", "emp-1", 20)}

	res, err := payroll.ComputePayroll(in, cfg, deals)
	require.NoError(t, err)

	want := res.Earnings.Gross.
		Add(res.Incentives.Amount).
		Add(res.Incentives.PerformanceReward).
		Sub(res.Deductions.Total())
	assert.True(t, want.Equal(res.NetPayable), "net %s != %s", res.NetPayable, want)
}

// =============================================================================
// STATUTORY BOUNDARIES
// =============================================================================

func TestComputePayroll_ESICeilingIsInclusive(t *testing.T) {
	// GIVEN: ESI applies to gross <= 21000
	// WHEN: Gross is exactly 21000, then 21001
	// THEN: ESI is deducted at 21000 and not at 21001

	at, err := payroll.ComputePayroll(input("21000", march2025), policy.Default(), nil)
	require.NoError(t, err)
	assertDec(t, "158", at.Deductions.ESI, "esi at ceiling")
	assertDec(t, "683", at.EmployerCost.ESI, "employer esi at ceiling")

	above, err := payroll.ComputePayroll(input("21001", march2025), policy.Default(), nil)
	require.NoError(t, err)
	assertDec(t, "0", above.Deductions.ESI, "esi above ceiling")
	assertDec(t, "0", above.EmployerCost.ESI, "employer esi above ceiling")
}

func TestPF_CapAppliesOnlyAboveCeiling(t *testing.T) {
	cfg := policy.Default().PF
	assertDec(t, "1200", payroll.PF(dec("10000"), cfg), "below cap")
	assertDec(t, "1800", payroll.PF(dec("15000"), cfg), "at cap")
	assertDec(t, "1800", payroll.PF(dec("40000"), cfg), "above cap")

	cfg.Capped = false
	assertDec(t, "4800", payroll.PF(dec("40000"), cfg), "uncapped")
}

func TestComputePayroll_BelowMinimumWage_ValidationError(t *testing.T) {
	// GIVEN: Skilled minimum wage is 12000
	// WHEN: Gross 11000 for a skilled employee
	// THEN: ValidationError names grossSalary; unskilled at the same gross passes

	_, err := payroll.ComputePayroll(input("11000", march2025), policy.Default(), nil)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "grossSalary", vErr.Field)
	assert.Equal(t, "minimum_wage", vErr.Rule)

	in := input("11000", march2025)
	in.Employee.Category = core.CategoryUnskilled
	_, err = payroll.ComputePayroll(in, policy.Default(), nil)
	assert.NoError(t, err)
}

func TestComputePayroll_NegativeManualDeduction_ValidationError(t *testing.T) {
	in := input("35000", march2025)
	in.Overrides.TDS = core.Manual(dec("-1"))

	_, err := payroll.ComputePayroll(in, policy.Default(), nil)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "tds", vErr.Field)
}

func TestComputePayroll_ManualOverridesFlowIntoTotals(t *testing.T) {
	in := input("35000", march2025)
	in.Overrides.ProfessionalTax = core.Manual(dec("0"))
	in.Overrides.PF = core.Manual(dec("1000"))

	res, err := payroll.ComputePayroll(in, policy.Default(), nil)
	require.NoError(t, err)
	assertDec(t, "0", res.Deductions.ProfessionalTax, "pt")
	assertDec(t, "1000", res.Deductions.PF, "pf")
	// 35000 - (1000 + 70 + 0 + 500)
	assertDec(t, "33430", res.NetPayable, "net")
	// employer PF stays derived
	assertDec(t, "1800", res.EmployerCost.PF, "employer pf")
}

func TestComputePayroll_NetFlooredAtZero(t *testing.T) {
	in := input("35000", march2025)
	in.Overrides.TDS = core.Manual(dec("50000"))

	res, err := payroll.ComputePayroll(in, policy.Default(), nil)
	require.NoError(t, err)
	assertDec(t, "0", res.NetPayable, "net")
	assert.True(t, res.NetFloored)
}

func TestComputePayroll_EmployeeBasicPercentOverride(t *testing.T) {
	in := input("40000", march2025)
	pct := dec("0.40")
	in.Employee.BasicPercent = &pct

	res, err := payroll.ComputePayroll(in, policy.Default(), nil)
	require.NoError(t, err)
	assertDec(t, "16000", res.Earnings.Basic, "basic")
	assertDec(t, "8000", res.Earnings.HRA, "hra")
}

// =============================================================================
// INCENTIVES IN PAYROLL
// =============================================================================

func TestComputePayroll_WithIncentiveAndReward(t *testing.T) {
	// GIVEN: A sales employee with three normal-tier deals in March
	// WHEN: Computing March payroll
	// THEN: 1% of each deal is payable, the reward threshold (3) is met and
	//       TDS includes the variable pay

	in := input("35000", march2025)
	in.Employee.Role = "sales"
	deals := []incentive.Deal{deal("d1", "emp-1", 3), deal("d2", "emp-1", 10), deal("d3", "emp-1", 20)}

	res, err := payroll.ComputePayroll(in, salesConfig(), deals)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Incentives.SalesCount)
	assertDec(t, "3000", res.Incentives.Amount, "incentive")
	assertDec(t, "1750", res.Incentives.PerformanceReward, "reward")
	assertDec(t, "738", res.Deductions.TDS, "tds")
	assertDec(t, "36942", res.NetPayable, "net")
	assertDec(t, "43620", res.TotalCTC, "ctc")
}

func TestComputePayroll_NoMatchingBand_PolicyNotFound(t *testing.T) {
	cfg := salesConfig()
	cfg.SalesPolicies[0].MinSales = 5

	in := input("35000", march2025)
	in.Employee.Role = "sales"

	_, err := payroll.ComputePayroll(in, cfg, []incentive.Deal{deal("d1", "emp-1", 3)})
	var pErr *core.PolicyNotFoundError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, 1, pErr.SalesCount)
}

func TestComputePayroll_StaleOwnership_InconsistentState(t *testing.T) {
	in := input("35000", march2025)
	in.Employee.Role = "sales"
	in.Ownership = map[core.DealID]core.EmployeeID{"d1": "emp-2"}

	_, err := payroll.ComputePayroll(in, salesConfig(), []incentive.Deal{deal("d1", "emp-1", 3)})
	assert.ErrorIs(t, err, core.ErrInconsistentState)
}

// =============================================================================
// LOCKING AND DETERMINISM
// =============================================================================

func TestComputePayroll_LockedPrevious_Rejected(t *testing.T) {
	// GIVEN: March is computed and locked
	// WHEN: Recomputing March with corrected attendance
	// THEN: LockedPeriodError; the locked result is untouched

	ctx := context.Background()
	first, err := payroll.ComputePayroll(input("35000", march2025), policy.Default(), nil)
	require.NoError(t, err)
	locked, err := first.Lock(ctx)
	require.NoError(t, err)

	in := input("35000", march2025)
	in.Attendance.PresentDays = 20
	in.Previous = &locked

	_, err = payroll.ComputePayroll(in, policy.Default(), nil)
	var lErr *core.LockedPeriodError
	require.ErrorAs(t, err, &lErr)
	assert.Equal(t, core.EmployeeID("emp-1"), lErr.EmployeeID)
	assert.Equal(t, march2025, lErr.Period)
	assert.Equal(t, payroll.StatusLocked, locked.Status)
	assertDec(t, "32430", locked.NetPayable, "locked net")
}

func TestComputePayroll_DraftPreviousKeepsRevision(t *testing.T) {
	prev := payroll.Result{ID: "r-1", Revision: 2, Supersedes: "r-0", Status: payroll.StatusDraft}
	in := input("35000", march2025)
	in.Previous = &prev

	res, err := payroll.ComputePayroll(in, policy.Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, "r-1", res.ID)
	assert.Equal(t, 2, res.Revision)
	assert.Equal(t, "r-0", res.Supersedes)
}

func TestComputePayroll_ConcurrentCallsAreByteIdentical(t *testing.T) {
	cfg := salesConfig()
	cfg.SalesPolicies[0].UnlockSequenceRule = policy.UnlockRule{Lag: 1}
	in := input("35000", march2025)
	in.Employee.Role = "sales"
	in.Attendance.LateArrivals = 1
	deals := []incentive.Deal{deal("d3", "emp-1", 20), deal("d1", "emp-1", 3), deal("d2", "emp-1", 10)}

	const workers = 16
	out := make([][]byte, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := payroll.ComputePayroll(in, cfg, deals)
			if err != nil {
				return
			}
			out[i], _ = json.Marshal(res)
		}(i)
	}
	wg.Wait()

	require.NotEmpty(t, out[0])
	for i := 1; i < workers; i++ {
		assert.Equal(t, string(out[0]), string(out[i]), "worker %d", i)
	}
}

func TestComputePayroll_InvalidEmployee(t *testing.T) {
	in := input("35000", march2025)
	in.Employee.Category = "contractor"

	_, err := payroll.ComputePayroll(in, policy.Default(), nil)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "employee.category", vErr.Field)
}
