/*
Package core provides the shared primitives of the settlement engine.

PURPOSE:
  Every component of the engine (earnings, statutory deductions, attendance,
  incentives, settlement) speaks the same small vocabulary: money amounts
  rounded to the currency unit, payroll periods, typed identifiers, the
  error taxonomy and the per-field override value. Keeping them in one
  package stops the components from drifting apart on rounding or on what
  a "period" means.

KEY CONCEPTS IN THIS FILE (types.go):
  - EmployeeID / DealID / PolicyID: type-safe identifiers
  - Category: minimum-wage category of an employee
  - Period: a payroll month (year + month)

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Rounding is part of the contract: Round() is half-up to the unit and
     every component rounds at the step where it is defined
  3. Determinism: nothing here reads the clock

SEE ALSO:
  - money.go: rounding and clamping helpers
  - errors.go: ValidationError, PolicyNotFoundError, LockedPeriodError, ...
  - override.go: Auto | Manual(amount) tagged value
*/
package core

import (
	"fmt"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type DealID string
type PolicyID string
type Role string

// Category selects the statutory minimum-wage floor for an employee.
type Category string

const (
	CategorySkilled   Category = "skilled"
	CategoryUnskilled Category = "unskilled"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategorySkilled || c == CategoryUnskilled
}

// =============================================================================
// PERIOD - A payroll month
// =============================================================================

// Period identifies one payroll month. The zero value is invalid.
type Period struct {
	Year  int        `json:"year" yaml:"year"`
	Month time.Month `json:"month" yaml:"month"`
}

// NewPeriod returns the period for the given year and month.
func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// PeriodOf returns the payroll period containing t (evaluated in UTC).
func PeriodOf(t time.Time) Period {
	u := t.UTC()
	return Period{Year: u.Year(), Month: u.Month()}
}

// Valid reports whether the period has a real month and a positive year.
func (p Period) Valid() bool {
	return p.Year > 0 && p.Month >= time.January && p.Month <= time.December
}

// Start returns the first instant of the period (UTC).
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following period (exclusive bound).
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Contains reports whether t falls inside [Start, End).
func (p Period) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(p.Start()) && u.Before(p.End())
}

// Days returns the number of calendar days in the period, leap years included.
func (p Period) Days() int {
	return DaysInMonth(p.Year, p.Month)
}

func (p Period) Next() Period     { return PeriodOf(p.End()) }
func (p Period) Previous() Period { return PeriodOf(p.Start().AddDate(0, -1, 0)) }

func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

func (p Period) After(other Period) bool { return other.Before(p) }

// String renders the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// ParsePeriod parses the YYYY-MM form produced by String.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return PeriodOf(t), nil
}

// DaysInMonth returns the calendar days of month in year.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DaysBetween returns whole calendar days from a to b (negative if b is before a).
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// CompletedYears returns full years elapsed from start to end.
func CompletedYears(start, end time.Time) int {
	years := end.Year() - start.Year()
	anniversary := start.AddDate(years, 0, 0)
	if anniversary.After(end) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
