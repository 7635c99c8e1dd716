/*
Package factory converts policy documents into policy.Config.

PURPOSE:
  Statutory and incentive rules change by organization, state and year.
  They are written as YAML (or JSON) documents, versioned and effective
  dated, and converted here into the typed policy.Config the engine reads.
  No engine code changes when a rate or a slab changes.

DOCUMENT SCHEMA (YAML):
  id: acme-2025
  name: ACME payroll policy
  version: 3
  effective_from: 2025-04-01
  earnings:
    basic_percent: 0.50
    hra_percent: 0.50
    conveyance_percent: 0.15
    special_allowance: 100
  pf: {rate: 0.12, cap: 1800, capped: true, admin_rate: 0.005}
  professional_tax:
    mode: slab              # or: fixed, with amount: 200
    slabs:
      - {threshold: 0, amount: 0}
      - {threshold: 10000, amount: 200}
  sales_policies:
    - role: sales
      min_sales: 0
      max_sales: 5          # omit for unbounded
      unlock_sequence_rule: N+1   # or: immediate
      ...

KEY FEATURES:
  - Omitted sections fall back to policy.Default()
  - The converted config is validated before it is returned
  - ToDocument is the inverse, used by stores to persist a policy

SEE ALSO:
  - policy/config.go: Config
  - policy/validate.go: consistency rules
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/policy"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// PolicyDocument is the serialized form of a policy.
type PolicyDocument struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Version       int    `json:"version" yaml:"version"`
	EffectiveFrom string `json:"effective_from,omitempty" yaml:"effective_from,omitempty"` // YYYY-MM-DD

	Earnings        *EarningsDoc `json:"earnings,omitempty" yaml:"earnings,omitempty"`
	PF              *PFDoc       `json:"pf,omitempty" yaml:"pf,omitempty"`
	ESI             *ESIDoc      `json:"esi,omitempty" yaml:"esi,omitempty"`
	LWF             *LWFDoc      `json:"lwf,omitempty" yaml:"lwf,omitempty"`
	ProfessionalTax *PTDoc       `json:"professional_tax,omitempty" yaml:"professional_tax,omitempty"`
	TDS             *TDSDoc      `json:"tds,omitempty" yaml:"tds,omitempty"`
	Bonus           *BonusDoc    `json:"bonus,omitempty" yaml:"bonus,omitempty"`
	Gratuity        *GratuityDoc `json:"gratuity,omitempty" yaml:"gratuity,omitempty"`
	FNF             *FNFDoc      `json:"fnf,omitempty" yaml:"fnf,omitempty"`

	MinimumWage   map[string]decimal.Decimal `json:"minimum_wage,omitempty" yaml:"minimum_wage,omitempty"`
	SalesPolicies []SalesPolicyDoc           `json:"sales_policies,omitempty" yaml:"sales_policies,omitempty"`
}

type EarningsDoc struct {
	BasicPercent      decimal.Decimal `json:"basic_percent" yaml:"basic_percent"`
	HRAPercent        decimal.Decimal `json:"hra_percent" yaml:"hra_percent"`
	ConveyancePercent decimal.Decimal `json:"conveyance_percent" yaml:"conveyance_percent"`
	SpecialAllowance  decimal.Decimal `json:"special_allowance" yaml:"special_allowance"`
}

type PFDoc struct {
	Rate      decimal.Decimal `json:"rate" yaml:"rate"`
	Cap       decimal.Decimal `json:"cap" yaml:"cap"`
	Capped    bool            `json:"capped" yaml:"capped"`
	AdminRate decimal.Decimal `json:"admin_rate" yaml:"admin_rate"`
}

type ESIDoc struct {
	EmployeeRate decimal.Decimal `json:"employee_rate" yaml:"employee_rate"`
	EmployerRate decimal.Decimal `json:"employer_rate" yaml:"employer_rate"`
	GrossCeiling decimal.Decimal `json:"gross_ceiling" yaml:"gross_ceiling"`
}

type LWFDoc struct {
	EmployeeRate decimal.Decimal `json:"employee_rate" yaml:"employee_rate"`
	EmployerRate decimal.Decimal `json:"employer_rate" yaml:"employer_rate"`
}

// PTDoc is the tagged professional tax: mode "fixed" uses Amount, mode
// "slab" uses Slabs.
type PTDoc struct {
	Mode   string           `json:"mode" yaml:"mode"`
	Amount *decimal.Decimal `json:"amount,omitempty" yaml:"amount,omitempty"`
	Slabs  []SlabDoc        `json:"slabs,omitempty" yaml:"slabs,omitempty"`
}

type SlabDoc struct {
	Threshold decimal.Decimal `json:"threshold" yaml:"threshold"`
	Amount    decimal.Decimal `json:"amount" yaml:"amount"`
}

type TDSDoc struct {
	StandardDeduction decimal.Decimal `json:"standard_deduction" yaml:"standard_deduction"`
	Bands             []BandDoc       `json:"bands" yaml:"bands"`
}

type BandDoc struct {
	From decimal.Decimal `json:"from" yaml:"from"`
	Rate decimal.Decimal `json:"rate" yaml:"rate"`
}

type BonusDoc struct {
	Rate  decimal.Decimal `json:"rate" yaml:"rate"`
	Floor decimal.Decimal `json:"floor" yaml:"floor"`
}

type GratuityDoc struct {
	AccrualRate      decimal.Decimal `json:"accrual_rate" yaml:"accrual_rate"`
	EligibilityYears int             `json:"eligibility_years" yaml:"eligibility_years"`
	DaysPerYear      decimal.Decimal `json:"days_per_year" yaml:"days_per_year"`
	WageDays         decimal.Decimal `json:"wage_days" yaml:"wage_days"`
}

type FNFDoc struct {
	NoticePeriodDays       int             `json:"notice_period_days" yaml:"notice_period_days"`
	LeaveEncashmentDivisor decimal.Decimal `json:"leave_encashment_divisor" yaml:"leave_encashment_divisor"`
}

type SalesPolicyDoc struct {
	Role                   string          `json:"role" yaml:"role"`
	MinSales               int             `json:"min_sales" yaml:"min_sales"`
	MaxSales               *int            `json:"max_sales,omitempty" yaml:"max_sales,omitempty"`
	NormalIncentiveRate    decimal.Decimal `json:"normal_incentive_rate" yaml:"normal_incentive_rate"`
	NPLIncentiveRate       decimal.Decimal `json:"npl_incentive_rate" yaml:"npl_incentive_rate"`
	NormalRatioThreshold   decimal.Decimal `json:"normal_ratio_threshold" yaml:"normal_ratio_threshold"`
	NPLRatioThreshold      decimal.Decimal `json:"npl_ratio_threshold" yaml:"npl_ratio_threshold"`
	SalaryRewardPercent    decimal.Decimal `json:"salary_reward_percent" yaml:"salary_reward_percent"`
	SalaryRewardThreshold  int             `json:"salary_reward_threshold" yaml:"salary_reward_threshold"`
	SupportiveSplitPercent decimal.Decimal `json:"supportive_split_percent" yaml:"supportive_split_percent"`
	UnlockSequenceRule     string          `json:"unlock_sequence_rule,omitempty" yaml:"unlock_sequence_rule,omitempty"`
	OwnershipDays          int             `json:"ownership_days,omitempty" yaml:"ownership_days,omitempty"`
	MonthEndLocking        bool            `json:"month_end_locking,omitempty" yaml:"month_end_locking,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat picks JSON when the payload starts with '{', YAML otherwise.
func DetectFormat(data []byte) Format {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return FormatJSON
	}
	return FormatYAML
}

// PolicyFactory converts documents to policy.Config.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// Parse decodes and converts a policy document in the given format.
func (f *PolicyFactory) Parse(data []byte, format Format) (policy.Config, error) {
	var doc PolicyDocument
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return policy.Config{}, fmt.Errorf("failed to parse policy JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return policy.Config{}, fmt.Errorf("failed to parse policy YAML: %w", err)
		}
	default:
		return policy.Config{}, fmt.Errorf("unsupported policy format %q", format)
	}
	return f.FromDocument(doc)
}

// FromDocument converts a decoded document and validates the result.
func (f *PolicyFactory) FromDocument(doc PolicyDocument) (policy.Config, error) {
	if strings.TrimSpace(doc.ID) == "" {
		return policy.Config{}, core.Invalid("id", "required", "", "policy id is required")
	}

	cfg := policy.Default()
	cfg.ID = core.PolicyID(doc.ID)
	cfg.Name = doc.Name
	cfg.Version = doc.Version
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if doc.EffectiveFrom != "" {
		t, err := time.Parse(time.DateOnly, doc.EffectiveFrom)
		if err != nil {
			return policy.Config{}, core.Invalid("effective_from", "date", doc.EffectiveFrom, "expected YYYY-MM-DD")
		}
		cfg.EffectiveFrom = t
	}

	if e := doc.Earnings; e != nil {
		cfg.BasicPercent = e.BasicPercent
		cfg.HRAPercent = e.HRAPercent
		cfg.ConveyancePercent = e.ConveyancePercent
		cfg.SpecialAllowance = e.SpecialAllowance
	}
	if p := doc.PF; p != nil {
		cfg.PF = policy.PFConfig{Rate: p.Rate, Cap: p.Cap, Capped: p.Capped, AdminRate: p.AdminRate}
	}
	if e := doc.ESI; e != nil {
		cfg.ESI = policy.ESIConfig{EmployeeRate: e.EmployeeRate, EmployerRate: e.EmployerRate, GrossCeiling: e.GrossCeiling}
	}
	if l := doc.LWF; l != nil {
		cfg.LWF = policy.LWFConfig{EmployeeRate: l.EmployeeRate, EmployerRate: l.EmployerRate}
	}
	if doc.ProfessionalTax != nil {
		pt, err := parseProfessionalTax(*doc.ProfessionalTax)
		if err != nil {
			return policy.Config{}, err
		}
		cfg.ProfessionalTax = pt
	}
	if t := doc.TDS; t != nil {
		cfg.TDS = policy.TDSConfig{StandardDeduction: t.StandardDeduction}
		for _, b := range t.Bands {
			cfg.TDS.Bands = append(cfg.TDS.Bands, policy.TaxBand{From: b.From, Rate: b.Rate})
		}
	}
	if b := doc.Bonus; b != nil {
		cfg.Bonus = policy.BonusConfig{Rate: b.Rate, Floor: b.Floor}
	}
	if g := doc.Gratuity; g != nil {
		cfg.Gratuity = policy.GratuityConfig{
			AccrualRate:      g.AccrualRate,
			EligibilityYears: g.EligibilityYears,
			DaysPerYear:      g.DaysPerYear,
			WageDays:         g.WageDays,
		}
	}
	if n := doc.FNF; n != nil {
		cfg.FNF = policy.FNFConfig{NoticePeriodDays: n.NoticePeriodDays, LeaveEncashmentDivisor: n.LeaveEncashmentDivisor}
	}
	if len(doc.MinimumWage) > 0 {
		cfg.MinimumWage = make(map[core.Category]decimal.Decimal, len(doc.MinimumWage))
		for cat, wage := range doc.MinimumWage {
			c := core.Category(cat)
			if !c.Valid() {
				return policy.Config{}, core.Invalid("minimum_wage."+cat, "oneof", cat, "category must be skilled or unskilled")
			}
			cfg.MinimumWage[c] = wage
		}
	}

	for i, sp := range doc.SalesPolicies {
		rule, err := ParseUnlockRule(sp.UnlockSequenceRule)
		if err != nil {
			return policy.Config{}, core.Invalid(fmt.Sprintf("sales_policies[%d].unlock_sequence_rule", i), "format",
				sp.UnlockSequenceRule, err.Error())
		}
		cfg.SalesPolicies = append(cfg.SalesPolicies, policy.SalesIncentivePolicy{
			Role:                   core.Role(sp.Role),
			MinSales:               sp.MinSales,
			MaxSales:               sp.MaxSales,
			NormalIncentiveRate:    sp.NormalIncentiveRate,
			NPLIncentiveRate:       sp.NPLIncentiveRate,
			NormalRatioThreshold:   sp.NormalRatioThreshold,
			NPLRatioThreshold:      sp.NPLRatioThreshold,
			SalaryRewardPercent:    sp.SalaryRewardPercent,
			SalaryRewardThreshold:  sp.SalaryRewardThreshold,
			SupportiveSplitPercent: sp.SupportiveSplitPercent,
			UnlockSequenceRule:     rule,
			OwnershipDays:          sp.OwnershipDays,
			MonthEndLocking:        sp.MonthEndLocking,
		})
	}

	if err := cfg.Validate(); err != nil {
		return policy.Config{}, err
	}
	return cfg, nil
}

// ToDocument converts a Config back to its document form. Every section is
// written out, so the document does not depend on future defaults.
func (f *PolicyFactory) ToDocument(cfg policy.Config) PolicyDocument {
	doc := PolicyDocument{
		ID:      string(cfg.ID),
		Name:    cfg.Name,
		Version: cfg.Version,
		Earnings: &EarningsDoc{
			BasicPercent:      cfg.BasicPercent,
			HRAPercent:        cfg.HRAPercent,
			ConveyancePercent: cfg.ConveyancePercent,
			SpecialAllowance:  cfg.SpecialAllowance,
		},
		PF:       &PFDoc{Rate: cfg.PF.Rate, Cap: cfg.PF.Cap, Capped: cfg.PF.Capped, AdminRate: cfg.PF.AdminRate},
		ESI:      &ESIDoc{EmployeeRate: cfg.ESI.EmployeeRate, EmployerRate: cfg.ESI.EmployerRate, GrossCeiling: cfg.ESI.GrossCeiling},
		LWF:      &LWFDoc{EmployeeRate: cfg.LWF.EmployeeRate, EmployerRate: cfg.LWF.EmployerRate},
		TDS:      &TDSDoc{StandardDeduction: cfg.TDS.StandardDeduction},
		Bonus:    &BonusDoc{Rate: cfg.Bonus.Rate, Floor: cfg.Bonus.Floor},
		Gratuity: &GratuityDoc{
			AccrualRate:      cfg.Gratuity.AccrualRate,
			EligibilityYears: cfg.Gratuity.EligibilityYears,
			DaysPerYear:      cfg.Gratuity.DaysPerYear,
			WageDays:         cfg.Gratuity.WageDays,
		},
		FNF: &FNFDoc{NoticePeriodDays: cfg.FNF.NoticePeriodDays, LeaveEncashmentDivisor: cfg.FNF.LeaveEncashmentDivisor},
	}
	if !cfg.EffectiveFrom.IsZero() {
		doc.EffectiveFrom = cfg.EffectiveFrom.Format(time.DateOnly)
	}

	switch pt := cfg.ProfessionalTax.(type) {
	case policy.FixedPT:
		amount := pt.Value
		doc.ProfessionalTax = &PTDoc{Mode: string(policy.PTModeFixed), Amount: &amount}
	case policy.SlabPT:
		doc.ProfessionalTax = &PTDoc{Mode: string(policy.PTModeSlab)}
		for _, s := range pt.Slabs {
			doc.ProfessionalTax.Slabs = append(doc.ProfessionalTax.Slabs, SlabDoc{Threshold: s.Threshold, Amount: s.Amount})
		}
	}

	for _, b := range cfg.TDS.Bands {
		doc.TDS.Bands = append(doc.TDS.Bands, BandDoc{From: b.From, Rate: b.Rate})
	}
	if len(cfg.MinimumWage) > 0 {
		doc.MinimumWage = make(map[string]decimal.Decimal, len(cfg.MinimumWage))
		for cat, wage := range cfg.MinimumWage {
			doc.MinimumWage[string(cat)] = wage
		}
	}
	for _, sp := range cfg.SalesPolicies {
		doc.SalesPolicies = append(doc.SalesPolicies, SalesPolicyDoc{
			Role:                   string(sp.Role),
			MinSales:               sp.MinSales,
			MaxSales:               sp.MaxSales,
			NormalIncentiveRate:    sp.NormalIncentiveRate,
			NPLIncentiveRate:       sp.NPLIncentiveRate,
			NormalRatioThreshold:   sp.NormalRatioThreshold,
			NPLRatioThreshold:      sp.NPLRatioThreshold,
			SalaryRewardPercent:    sp.SalaryRewardPercent,
			SalaryRewardThreshold:  sp.SalaryRewardThreshold,
			SupportiveSplitPercent: sp.SupportiveSplitPercent,
			UnlockSequenceRule:     FormatUnlockRule(sp.UnlockSequenceRule),
			OwnershipDays:          sp.OwnershipDays,
			MonthEndLocking:        sp.MonthEndLocking,
		})
	}
	return doc
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseProfessionalTax(d PTDoc) (policy.ProfessionalTax, error) {
	switch policy.PTMode(strings.ToLower(d.Mode)) {
	case policy.PTModeFixed:
		if d.Amount == nil {
			return nil, core.Invalid("professional_tax.amount", "required", "", "fixed professional tax needs an amount")
		}
		return policy.FixedPT{Value: *d.Amount}, nil
	case policy.PTModeSlab:
		if len(d.Slabs) == 0 {
			return nil, core.Invalid("professional_tax.slabs", "required", "", "slab professional tax needs at least one slab")
		}
		slabs := make([]policy.Slab, 0, len(d.Slabs))
		for _, s := range d.Slabs {
			slabs = append(slabs, policy.Slab{Threshold: s.Threshold, Amount: s.Amount})
		}
		return policy.SlabPT{Slabs: slabs}, nil
	default:
		return nil, core.Invalid("professional_tax.mode", "oneof", d.Mode, "mode must be fixed or slab")
	}
}

// ParseUnlockRule accepts "", "immediate", "N" and "N+k".
func ParseUnlockRule(s string) (policy.UnlockRule, error) {
	s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	switch s {
	case "", "IMMEDIATE", "N":
		return policy.UnlockRule{}, nil
	}
	raw, ok := strings.CutPrefix(s, "N+")
	if !ok {
		return policy.UnlockRule{}, fmt.Errorf("expected immediate or N+<lag>")
	}
	lag, err := strconv.Atoi(raw)
	if err != nil || lag < 0 {
		return policy.UnlockRule{}, fmt.Errorf("lag %q is not a non-negative integer", raw)
	}
	return policy.UnlockRule{Lag: lag}, nil
}

func FormatUnlockRule(r policy.UnlockRule) string {
	if r.Immediate() {
		return "immediate"
	}
	return "N+" + strconv.Itoa(r.Lag)
}
