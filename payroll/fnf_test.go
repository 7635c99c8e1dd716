package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/policy"
)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func fnfInput() payroll.FNFInput {
	emp := employee("emp-9")
	emp.JoinDate = date(2019, time.January, 1)
	return payroll.FNFInput{
		Employee:             emp,
		ResignationDate:      date(2025, time.March, 1),
		LastWorkingDate:      date(2025, time.March, 20),
		TargetGross:          dec("31000"),
		Attendance:           payroll.Attendance{PresentDays: 20},
		LeaveBalanceDays:     dec("10"),
		UnreturnedAssetValue: dec("2000"),
	}
}

// =============================================================================
// SETTLE
// =============================================================================

func TestSettle_ReferenceScenario(t *testing.T) {
	// GIVEN: Final net 30000, dues 12000, recoveries 5000
	// WHEN: Settling
	// THEN: 37000, nothing owed by the employee

	net, shortfall, owed := payroll.Settle(dec("30000"), dec("12000"), dec("5000"))
	assertDec(t, "37000", net, "net")
	assertDec(t, "0", shortfall, "shortfall")
	assert.False(t, owed)
}

func TestSettle_RecoveriesExceedPayable_FlaggedNotTruncated(t *testing.T) {
	net, shortfall, owed := payroll.Settle(dec("1000"), dec("0"), dec("5000"))
	assertDec(t, "0", net, "net")
	assertDec(t, "4000", shortfall, "shortfall")
	assert.True(t, owed)
}

// =============================================================================
// COMPUTE FNF
// =============================================================================

func TestComputeFNF_FullSettlement(t *testing.T) {
	// GIVEN: GS 31000, exit on March 20 after 19 days of a 30 day notice,
	//        6 completed years, 10 leave days, an unreturned laptop (2000)
	// WHEN: Computing the FNF
	// THEN: Final payroll is prorated to the 20th and dues/recoveries apply

	res, err := payroll.ComputeFNF(fnfInput(), policy.Default(), nil)
	require.NoError(t, err)

	final := res.FinalPayroll
	assert.Equal(t, march2025, final.Period)
	assert.Equal(t, 11, final.Attendance.AbsentDays)
	assertDec(t, "11000", final.Deductions.Attendance, "attendance")
	assertDec(t, "17638", final.NetPayable, "final net")

	assertDec(t, "5167", res.Dues.LeaveEncashment, "leave encashment")
	assert.Equal(t, 6, res.Dues.GratuityYears)
	assertDec(t, "53654", res.Dues.Gratuity, "gratuity")
	assertDec(t, "58821", res.Dues.TotalPayable, "dues")

	assert.Equal(t, 19, res.Recoveries.ServedDays)
	assert.Equal(t, 11, res.Recoveries.ShortfallDays)
	assertDec(t, "11000", res.Recoveries.NoticeShortfall, "notice shortfall")
	assertDec(t, "13000", res.Recoveries.TotalRecoverable, "recoveries")

	assertDec(t, "63459", res.NetAmount, "net")
	assert.False(t, res.RecoverableFromEmployee)
	assert.Equal(t, payroll.FNFInitiated, res.Status)
}

func TestComputeFNF_NoGratuityBeforeEligibility(t *testing.T) {
	in := fnfInput()
	in.Employee.JoinDate = date(2021, time.June, 1)

	res, err := payroll.ComputeFNF(in, policy.Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Dues.GratuityYears)
	assertDec(t, "0", res.Dues.Gratuity, "gratuity")
}

func TestComputeFNF_PresentDaysAfterLastWorkingDay_ValidationError(t *testing.T) {
	in := fnfInput()
	in.Attendance.PresentDays = 21

	_, err := payroll.ComputeFNF(in, policy.Default(), nil)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "attendance.presentDays", vErr.Field)
}

func TestComputeFNF_LastWorkingDateBeforeResignation(t *testing.T) {
	in := fnfInput()
	in.LastWorkingDate = date(2025, time.February, 20)

	_, err := payroll.ComputeFNF(in, policy.Default(), nil)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "lastWorkingDate", vErr.Field)
}

func TestComputeFNF_LargeAdvance_RecoverableFromEmployee(t *testing.T) {
	in := fnfInput()
	in.Employee.JoinDate = time.Time{}
	in.LeaveBalanceDays = dec("0")
	in.AdvanceBalance = dec("100000")

	res, err := payroll.ComputeFNF(in, policy.Default(), nil)
	require.NoError(t, err)
	assertDec(t, "0", res.NetAmount, "net")
	assert.True(t, res.RecoverableFromEmployee)
	// 100000 + 11000 + 2000 - 17638
	assertDec(t, "95362", res.Shortfall, "shortfall")
}

func TestComputeFNF_FullNoticeServed_NoShortfall(t *testing.T) {
	in := fnfInput()
	in.ResignationDate = date(2025, time.February, 15)

	res, err := payroll.ComputeFNF(in, policy.Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Recoveries.ShortfallDays)
	assertDec(t, "0", res.Recoveries.NoticeShortfall, "notice shortfall")
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestResultLifecycle(t *testing.T) {
	ctx := context.Background()
	draft := payroll.Result{EmployeeID: "emp-1", Period: march2025, Status: payroll.StatusDraft}

	assert.True(t, draft.CanTransition(payroll.EventLock))
	assert.False(t, draft.CanTransition(payroll.EventSupersede))

	locked, err := draft.Lock(ctx)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusLocked, locked.Status)
	assert.Equal(t, payroll.StatusDraft, draft.Status, "receiver is not mutated")

	_, err = locked.Lock(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	superseded, err := locked.Supersede(ctx)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusSuperseded, superseded.Status)
	assert.True(t, superseded.Locked())
}

func TestFNFLifecycle(t *testing.T) {
	ctx := context.Background()
	f := payroll.FNFResult{EmployeeID: "emp-9", Status: payroll.FNFInitiated}

	_, err := f.MarkPaid(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "cannot pay before approval")

	approved, err := f.Approve(ctx)
	require.NoError(t, err)
	paid, err := approved.MarkPaid(ctx)
	require.NoError(t, err)
	assert.Equal(t, payroll.FNFPaid, paid.Status)

	_, err = paid.Approve(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}
