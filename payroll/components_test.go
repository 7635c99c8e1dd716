package payroll_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// EARNINGS DECOMPOSER
// =============================================================================

func TestDecompose_FixedComponentsExceedGross_CappedDownward(t *testing.T) {
	// GIVEN: A 3000 special allowance pushes fixed components to 12900
	// WHEN: Decomposing a 12000 gross
	// THEN: Conveyance absorbs the 900 excess, other is zero, sum still equals gross

	cfg := policy.Default()
	cfg.SpecialAllowance = dec("3000")

	e, err := payroll.Decompose(dec("12000"), cfg, payroll.Overrides{})
	require.NoError(t, err)

	assert.True(t, e.Capped)
	assertDec(t, "6000", e.Basic, "basic")
	assertDec(t, "3000", e.HRA, "hra")
	assertDec(t, "0", e.Conveyance, "conveyance")
	assertDec(t, "3000", e.SpecialAllowance, "special")
	assertDec(t, "0", e.OtherAllowance, "other")
	assertDec(t, "12000", e.Gross, "gross")
}

func TestDecompose_CapFallsThroughToHRA(t *testing.T) {
	cfg := policy.Default()
	cfg.SpecialAllowance = dec("4000")

	// fixed = 6000 + 3000 + 900 + 4000 = 13900, excess 1900
	e, err := payroll.Decompose(dec("12000"), cfg, payroll.Overrides{})
	require.NoError(t, err)

	assertDec(t, "0", e.Conveyance, "conveyance")
	assertDec(t, "2000", e.HRA, "hra")
	assertDec(t, "0", e.OtherAllowance, "other")
	assert.True(t, e.Sum().Equal(dec("12000")))
}

func TestDecompose_ManualComponentsExceedGross_ValidationError(t *testing.T) {
	ov := payroll.Overrides{Basic: core.Manual(dec("13000"))}

	_, err := payroll.Decompose(dec("12000"), policy.Default(), ov)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "overrides.basic", vErr.Field)
	assert.Equal(t, "components_exceed_gross", vErr.Rule)
}

func TestDecompose_ManualOtherAllowanceDefinesGross(t *testing.T) {
	ov := payroll.Overrides{OtherAllowance: core.Manual(dec("500"))}

	e, err := payroll.Decompose(dec("35000"), policy.Default(), ov)
	require.NoError(t, err)
	assertDec(t, "500", e.OtherAllowance, "other")
	assertDec(t, "29475", e.Gross, "gross")
}

func TestDecompose_RoundsHalfUpPerStep(t *testing.T) {
	// basic = round(35001 × 0.5) = round(17500.5) = 17501
	// hra   = round(17501 × 0.5) = round(8750.5) = 8751
	e, err := payroll.Decompose(dec("35001"), policy.Default(), payroll.Overrides{})
	require.NoError(t, err)
	assertDec(t, "17501", e.Basic, "basic")
	assertDec(t, "8751", e.HRA, "hra")
	assertDec(t, "2625", e.Conveyance, "conveyance") // 2625.15
}

func TestDecompose_NonPositiveGross(t *testing.T) {
	_, err := payroll.Decompose(dec("0"), policy.Default(), payroll.Overrides{})
	assert.ErrorIs(t, err, core.ErrValidation)
}

// =============================================================================
// ATTENDANCE PRORATOR
// =============================================================================

func TestProrate_FullAttendance_NoDeduction(t *testing.T) {
	for _, p := range []core.Period{
		core.NewPeriod(2024, time.February),
		core.NewPeriod(2025, time.February),
		core.NewPeriod(2025, time.April),
		core.NewPeriod(2025, time.July),
	} {
		d, s, err := payroll.Prorate(dec("35000"), p, payroll.FullAttendance(p))
		require.NoError(t, err)
		assertDec(t, "0", d, p.String())
		assert.Equal(t, 0, s.AbsentDays)
	}
}

func TestProrate_CalendarDaysIncludingLeapYear(t *testing.T) {
	_, leap, err := payroll.Prorate(dec("29000"), core.NewPeriod(2024, time.February), payroll.Attendance{PresentDays: 29})
	require.NoError(t, err)
	assert.Equal(t, 29, leap.DaysInMonth)
	assertDec(t, "1000", leap.DailyRate, "leap daily rate")

	_, common, err := payroll.Prorate(dec("28000"), core.NewPeriod(2025, time.February), payroll.Attendance{PresentDays: 28})
	require.NoError(t, err)
	assert.Equal(t, 28, common.DaysInMonth)
	assertDec(t, "1000", common.DailyRate, "daily rate")
}

func TestProrate_AbsenceAndQuarterDayPenalties(t *testing.T) {
	// GIVEN: July (31 days), gross 31000, 1 absent day, 2 late + 2 early
	// WHEN: Prorating
	// THEN: 1 + 4 × 0.25 = 2 days lost = 2000

	p := core.NewPeriod(2025, time.July)
	d, s, err := payroll.Prorate(dec("31000"), p, payroll.Attendance{PresentDays: 30, LateArrivals: 2, EarlyDepartures: 2})
	require.NoError(t, err)
	assertDec(t, "2000", d, "deduction")
	assertDec(t, "1", s.PenaltyDays, "penalty days")
	assert.Equal(t, 1, s.AbsentDays)
}

func TestProrate_ExcessPresentDays(t *testing.T) {
	p := core.NewPeriod(2025, time.April)

	_, _, err := payroll.Prorate(dec("30000"), p, payroll.Attendance{PresentDays: 31})
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "attendance.presentDays", vErr.Field)

	d, s, err := payroll.Prorate(dec("30000"), p, payroll.Attendance{PresentDays: 31, ClampExcess: true})
	require.NoError(t, err)
	assertDec(t, "0", d, "clamped deduction")
	assert.Equal(t, 30, s.PresentDays)
}

func TestProrate_DeductionCappedAtGross(t *testing.T) {
	p := core.NewPeriod(2025, time.April)
	d, _, err := payroll.Prorate(dec("30000"), p, payroll.Attendance{PresentDays: 0, LateArrivals: 10})
	require.NoError(t, err)
	assertDec(t, "30000", d, "deduction")
}

func TestProrate_NegativeCounts(t *testing.T) {
	_, _, err := payroll.Prorate(dec("30000"), march2025, payroll.Attendance{PresentDays: 31, EarlyDepartures: -1})
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "attendance.earlyDepartures", vErr.Field)
}

// =============================================================================
// STATUTORY HELPERS
// =============================================================================

func TestBonus_GreaterOfRateAndFloor(t *testing.T) {
	cfg := policy.Default().Bonus
	assertDec(t, "1000", payroll.Bonus(dec("12000"), cfg), "rate wins")
	assertDec(t, "583", payroll.Bonus(dec("5000"), cfg), "floor wins")
}

func TestESI_ZeroAboveCeiling(t *testing.T) {
	emp, er := payroll.ESI(dec("25000"), policy.Default().ESI)
	assert.True(t, emp.IsZero())
	assert.True(t, er.IsZero())
}
