package policy

import (
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
)

// =============================================================================
// PROFESSIONAL TAX - Tagged variant: FixedPT | SlabPT
// =============================================================================

// ProfessionalTax computes the monthly professional tax for a gross salary.
// Only FixedPT and SlabPT implement it.
type ProfessionalTax interface {
	Mode() PTMode
	Amount(gross decimal.Decimal) decimal.Decimal
	sealed()
}

type PTMode string

const (
	PTModeFixed PTMode = "fixed"
	PTModeSlab  PTMode = "slab"
)

// FixedPT charges the same amount regardless of gross.
type FixedPT struct {
	Value decimal.Decimal
}

func (FixedPT) Mode() PTMode                             { return PTModeFixed }
func (f FixedPT) Amount(decimal.Decimal) decimal.Decimal { return f.Value }
func (FixedPT) sealed()                                  {}

// Slab is one step of a state professional-tax table.
type Slab struct {
	Threshold decimal.Decimal
	Amount    decimal.Decimal
}

// SlabPT picks the highest threshold not exceeding gross.
// Slabs must be sorted ascending by Threshold (see Validate).
type SlabPT struct {
	Slabs []Slab
}

func (SlabPT) Mode() PTMode { return PTModeSlab }
func (SlabPT) sealed()      {}

func (s SlabPT) Amount(gross decimal.Decimal) decimal.Decimal {
	amount := decimal.Zero
	for _, slab := range s.Slabs {
		if slab.Threshold.GreaterThan(gross) {
			break
		}
		amount = slab.Amount
	}
	return amount
}

// =============================================================================
// TDS - Cumulative marginal bands on annualized income
// =============================================================================

// TaxBand taxes the slice of income from From up to the next band's From at Rate.
type TaxBand struct {
	From decimal.Decimal
	Rate decimal.Decimal
}

type TDSConfig struct {
	Bands             []TaxBand // ascending by From
	StandardDeduction decimal.Decimal
}

// AnnualTax applies the bands cumulatively: each band only taxes the portion
// of income that falls inside it. Flat-rate-on-total is never used.
func (t TDSConfig) AnnualTax(annualIncome decimal.Decimal) decimal.Decimal {
	taxable := core.NonNegative(annualIncome.Sub(t.StandardDeduction))
	tax := decimal.Zero
	for i, band := range t.Bands {
		if !taxable.GreaterThan(band.From) {
			break
		}
		upper := taxable
		if i+1 < len(t.Bands) && t.Bands[i+1].From.LessThan(upper) {
			upper = t.Bands[i+1].From
		}
		tax = tax.Add(upper.Sub(band.From).Mul(band.Rate))
	}
	return tax
}

// MonthlyTax returns the rounded monthly withholding for an annual income.
func (t TDSConfig) MonthlyTax(annualIncome decimal.Decimal) decimal.Decimal {
	return core.Round(t.AnnualTax(annualIncome).Div(core.Twelve))
}
