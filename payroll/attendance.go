package payroll

import (
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
)

// PenaltyPerEvent is the fraction of a day lost per late arrival or early departure.
var PenaltyPerEvent = core.Quarter

// Prorate converts attendance counts into a deduction against gross.
//
//	dailyRate  = gross / daysInMonth   (calendar days)
//	penalty    = 0.25 × (late + early)
//	absent     = daysInMonth − present
//	deduction  = round(dailyRate × (absent + penalty)), capped at gross
func Prorate(gross decimal.Decimal, p core.Period, att Attendance) (decimal.Decimal, AttendanceSummary, error) {
	return prorate(gross, p, att, p.Days())
}

// prorate limits countable present days to workable (the last working day in
// FNF). Days after workable are absent.
func prorate(gross decimal.Decimal, p core.Period, att Attendance, workable int) (decimal.Decimal, AttendanceSummary, error) {
	counts := []struct {
		field string
		value int
	}{
		{"attendance.presentDays", att.PresentDays},
		{"attendance.lateArrivals", att.LateArrivals},
		{"attendance.earlyDepartures", att.EarlyDepartures},
	}
	for _, c := range counts {
		if c.value < 0 {
			return decimal.Zero, AttendanceSummary{}, core.Invalid(c.field, "non_negative", strconv.Itoa(c.value), "count must not be negative")
		}
	}

	days := p.Days()
	present := att.PresentDays
	if present > workable {
		if !att.ClampExcess {
			return decimal.Zero, AttendanceSummary{}, core.Invalid("attendance.presentDays", "max_days", strconv.Itoa(present),
				"present days exceed the "+strconv.Itoa(workable)+" days available in "+p.String())
		}
		present = workable
	}

	summary := AttendanceSummary{
		DaysInMonth: days,
		PresentDays: present,
		AbsentDays:  days - present,
		PenaltyDays: PenaltyPerEvent.Mul(core.Int(int64(att.LateArrivals + att.EarlyDepartures))),
		DailyRate:   gross.Div(core.Int(int64(days))),
	}

	lost := core.Int(int64(summary.AbsentDays)).Add(summary.PenaltyDays)
	deduction := core.Round(gross.Mul(lost).Div(core.Int(int64(days))))
	return decimal.Min(core.NonNegative(deduction), gross), summary, nil
}
