/*
Package policy holds the statutory and sales-incentive configuration the
settlement engine evaluates against.

PURPOSE:
  Policy is data, not code branches. Slab tables, rates, ceilings and the
  sales incentive bands are explicit structures passed into the engine, so
  a policy change never requires recompiling calculation logic.

KEY CONCEPTS:
  - Config: one versioned, effective-dated policy for an organization.
    Immutable once referenced by a locked payroll result.
  - ProfessionalTax: tagged variant, FixedPT | SlabPT
  - TaxBands: cumulative marginal TDS bands on annualized income
  - SalesIncentivePolicy: per-role band keyed by [MinSales, MaxSales]

LOADING:
  Config values are built in Go (Default) or parsed from YAML/JSON
  documents by the factory package.

SEE ALSO:
  - tax.go: ProfessionalTax variant and TDS bands
  - sales.go: incentive bands and unlock rule
  - factory/policy.go: document format
*/
package policy

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
)

// =============================================================================
// CONFIG - Statutory + incentive policy for one organization version
// =============================================================================

type Config struct {
	ID            core.PolicyID
	Name          string
	Version       int
	EffectiveFrom time.Time

	// Earnings structure
	BasicPercent      decimal.Decimal // fraction of gross allocated to basic
	HRAPercent        decimal.Decimal // fraction of basic
	ConveyancePercent decimal.Decimal // fraction of basic
	SpecialAllowance  decimal.Decimal // fixed amount

	PF              PFConfig
	ESI             ESIConfig
	LWF             LWFConfig
	ProfessionalTax ProfessionalTax
	TDS             TDSConfig
	Bonus           BonusConfig
	Gratuity        GratuityConfig
	FNF             FNFConfig

	// MinimumWage is the statutory monthly floor per employee category.
	MinimumWage map[core.Category]decimal.Decimal

	SalesPolicies []SalesIncentivePolicy
}

type PFConfig struct {
	Rate      decimal.Decimal
	Cap       decimal.Decimal
	Capped    bool
	AdminRate decimal.Decimal
}

type ESIConfig struct {
	EmployeeRate decimal.Decimal
	EmployerRate decimal.Decimal
	GrossCeiling decimal.Decimal // inclusive
}

type LWFConfig struct {
	EmployeeRate decimal.Decimal
	EmployerRate decimal.Decimal
}

// BonusConfig: statutory bonus accrues at Rate of the category minimum wage,
// or Floor, whichever is greater.
type BonusConfig struct {
	Rate  decimal.Decimal
	Floor decimal.Decimal
}

// GratuityConfig covers both the monthly employer accrual and the exit payout.
type GratuityConfig struct {
	AccrualRate      decimal.Decimal // fraction of basic, monthly employer cost
	EligibilityYears int
	DaysPerYear      decimal.Decimal // 15 days' wages per completed year
	WageDays         decimal.Decimal // divisor turning monthly basic into a daily wage
}

type FNFConfig struct {
	NoticePeriodDays       int
	LeaveEncashmentDivisor decimal.Decimal
}

// MinimumWageFor returns the floor for a category, zero when unset.
func (c Config) MinimumWageFor(cat core.Category) decimal.Decimal {
	if w, ok := c.MinimumWage[cat]; ok {
		return w
	}
	return decimal.Zero
}

// WithBasicPercent returns a copy using an employee-specific basic percentage.
func (c Config) WithBasicPercent(pct decimal.Decimal) Config {
	c.BasicPercent = pct
	return c
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the reference policy: 50% basic, PF capped at 1800,
// ESI ceiling 21000, LWF 0.2%, Maharashtra-style PT slabs and the
// new-regime income tax bands.
func Default() Config {
	return Config{
		ID:                "default",
		Name:              "Default statutory policy",
		Version:           1,
		BasicPercent:      core.MustDecimal("0.50"),
		HRAPercent:        core.MustDecimal("0.50"),
		ConveyancePercent: core.MustDecimal("0.15"),
		SpecialAllowance:  core.Int(100),
		PF: PFConfig{
			Rate:      core.MustDecimal("0.12"),
			Cap:       core.Int(1800),
			Capped:    true,
			AdminRate: core.MustDecimal("0.005"),
		},
		ESI: ESIConfig{
			EmployeeRate: core.MustDecimal("0.0075"),
			EmployerRate: core.MustDecimal("0.0325"),
			GrossCeiling: core.Int(21000),
		},
		LWF: LWFConfig{
			EmployeeRate: core.MustDecimal("0.002"),
			EmployerRate: core.MustDecimal("0.004"),
		},
		ProfessionalTax: SlabPT{Slabs: []Slab{
			{Threshold: core.Int(0), Amount: core.Int(0)},
			{Threshold: core.Int(7500), Amount: core.Int(175)},
			{Threshold: core.Int(10000), Amount: core.Int(200)},
		}},
		TDS: TDSConfig{Bands: []TaxBand{
			{From: core.Int(0), Rate: decimal.Zero},
			{From: core.Int(300000), Rate: core.MustDecimal("0.05")},
			{From: core.Int(700000), Rate: core.MustDecimal("0.10")},
			{From: core.Int(1000000), Rate: core.MustDecimal("0.15")},
			{From: core.Int(1200000), Rate: core.MustDecimal("0.20")},
			{From: core.Int(1500000), Rate: core.MustDecimal("0.30")},
		}},
		Bonus: BonusConfig{
			Rate:  core.MustDecimal("0.0833"),
			Floor: core.Int(583),
		},
		Gratuity: GratuityConfig{
			AccrualRate:      core.MustDecimal("0.0481"),
			EligibilityYears: 5,
			DaysPerYear:      core.Int(15),
			WageDays:         core.Int(26),
		},
		FNF: FNFConfig{
			NoticePeriodDays:       30,
			LeaveEncashmentDivisor: core.Int(30),
		},
		MinimumWage: map[core.Category]decimal.Decimal{
			core.CategorySkilled:   core.Int(12000),
			core.CategoryUnskilled: core.Int(10000),
		},
	}
}
