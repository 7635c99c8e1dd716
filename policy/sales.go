package policy

import (
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
)

// =============================================================================
// SALES INCENTIVE POLICY - One band of a role's incentive table
// =============================================================================

// SalesIncentivePolicy applies to employees of Role whose period sales count
// falls inside [MinSales, MaxSales]. A nil MaxSales is unbounded.
type SalesIncentivePolicy struct {
	Role     core.Role
	MinSales int
	MaxSales *int

	NormalIncentiveRate decimal.Decimal
	NPLIncentiveRate    decimal.Decimal

	// Revenue-ratio tier boundaries. The normal tier needs a ratio strictly
	// above NormalRatioThreshold; the NPL tier includes its boundary.
	NormalRatioThreshold decimal.Decimal
	NPLRatioThreshold    decimal.Decimal

	SalaryRewardPercent   decimal.Decimal // fraction of basic
	SalaryRewardThreshold int             // 0 disables the reward

	SupportiveSplitPercent decimal.Decimal // co-owner share of a deal's incentive

	UnlockSequenceRule UnlockRule
	OwnershipDays      int
	MonthEndLocking    bool
}

// UnlockRule releases the incentive of the Nth deal once deal N+Lag has
// closed. Lag 0 releases immediately.
type UnlockRule struct {
	Lag int
}

// Immediate reports whether deals unlock on their own close.
func (u UnlockRule) Immediate() bool { return u.Lag <= 0 }

// Matches reports whether count falls within the band.
func (s SalesIncentivePolicy) Matches(count int) bool {
	if count < s.MinSales {
		return false
	}
	return s.MaxSales == nil || count <= *s.MaxSales
}

// HasSalesPolicy reports whether any band is configured for role.
// Roles without bands earn no incentive at all.
func (c Config) HasSalesPolicy(role core.Role) bool {
	for _, sp := range c.SalesPolicies {
		if sp.Role == role {
			return true
		}
	}
	return false
}

// SalesPolicyFor returns the band of role matching count.
// A missing band is a PolicyNotFoundError, never a silent zero.
func (c Config) SalesPolicyFor(role core.Role, count int) (SalesIncentivePolicy, error) {
	for _, sp := range c.SalesPolicies {
		if sp.Role == role && sp.Matches(count) {
			return sp, nil
		}
	}
	return SalesIncentivePolicy{}, &core.PolicyNotFoundError{Role: role, SalesCount: count}
}

// OwnershipWindow returns the longest ownership window configured for role,
// zero when ownership never lapses.
func (c Config) OwnershipWindow(role core.Role) int {
	days := 0
	for _, sp := range c.SalesPolicies {
		if sp.Role == role && sp.OwnershipDays > days {
			days = sp.OwnershipDays
		}
	}
	return days
}

// MonthEndLocking reports whether any band of role counts late deals toward
// the period they roll into. Payout rolls forward either way.
func (c Config) MonthEndLocking(role core.Role) bool {
	for _, sp := range c.SalesPolicies {
		if sp.Role == role && sp.MonthEndLocking {
			return true
		}
	}
	return false
}
