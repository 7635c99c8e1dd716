package incentive

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// EVALUATION
// =============================================================================

// Input is everything Evaluate needs; it is read-only during evaluation.
type Input struct {
	EmployeeID core.EmployeeID
	Role       core.Role
	Period     core.Period
	Basic      decimal.Decimal // for the salary reward

	Deals []Deal

	// Ownership is the current-owner snapshot read alongside Deals. Nil means
	// Deal.Owner is authoritative.
	Ownership map[core.DealID]core.EmployeeID

	LockedPeriods []LockedPeriod

	// Released maps the employee's shares already posted as released to the
	// period that paid them. Nil means no release ledger is kept: a release
	// point is then paid in its own period even if that period is locked.
	Released map[ReleaseKey]core.Period
}

// Evaluate computes payable and pending incentive plus the salary reward.
func Evaluate(in Input, cfg policy.Config) (Result, error) {
	if !cfg.HasSalesPolicy(in.Role) {
		return Empty(), nil
	}

	owners, err := resolveOwners(in.Deals, in.Ownership)
	if err != nil {
		return Result{}, err
	}

	arena := BuildArena(in.Deals, owners, in.LockedPeriods, cfg.MonthEndLocking(in.Role))

	bands := map[core.Period]policy.SalesIncentivePolicy{}
	bandIn := func(p core.Period) (policy.SalesIncentivePolicy, error) {
		if b, ok := bands[p]; ok {
			return b, nil
		}
		b, err := cfg.SalesPolicyFor(in.Role, arena.SalesIn(in.EmployeeID, p))
		if err != nil {
			return policy.SalesIncentivePolicy{}, err
		}
		bands[p] = b
		return b, nil
	}

	salesCount := arena.SalesIn(in.EmployeeID, in.Period)
	band, err := bandIn(in.Period)
	if err != nil {
		return Result{}, err
	}

	res := Empty()
	res.SalesCount = salesCount

	for _, d := range in.Deals {
		owner := owners[d.ID]
		var share Share
		switch {
		case owner == in.EmployeeID:
			share = SharePrimary
		case d.CoOwner == in.EmployeeID && d.CoOwner != owner:
			share = ShareSupportive
		default:
			continue
		}

		closer, pos, _ := arena.Position(d.ID)
		e := arena.entryAt(closer, pos)
		if !e.counted.Before(in.Period.End()) {
			continue // closes after this period
		}

		closedIn := core.PeriodOf(e.counted)
		lineBand, err := bandIn(closedIn)
		if err != nil {
			return Result{}, err
		}
		line := buildLine(d, owner, pos, share, lineBand)
		line.ClosedIn = closedIn

		at, unlocked := arena.ReleasePoint(closer, pos, unlockLag(lineBand.UnlockSequenceRule.Lag))
		status, releasedIn := in.releaseStatus(arena, ReleaseKey{Deal: d.ID, Share: share}, at, unlocked)
		line.Status = status
		line.ReleasedIn = releasedIn
		switch status {
		case LineReleased:
			res.Payable = res.Payable.Add(line.Amount)
		case LinePending:
			res.Pending = res.Pending.Add(line.Amount)
		}
		res.Lines = append(res.Lines, line)
	}

	sort.Slice(res.Lines, func(i, j int) bool {
		a, b := res.Lines[i], res.Lines[j]
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.Share < b.Share
	})

	if band.SalaryRewardThreshold > 0 && salesCount >= band.SalaryRewardThreshold {
		res.PerformanceReward = core.MulRound(in.Basic, band.SalaryRewardPercent)
	}
	return res, nil
}

// releaseStatus places one share in exactly one period. A posted release
// wins; otherwise the release point pays in the first open period holding it.
func (in Input) releaseStatus(a *Arena, key ReleaseKey, at time.Time, unlocked bool) (LineStatus, *core.Period) {
	if in.Released != nil {
		if p, ok := in.Released[key]; ok {
			if p == in.Period {
				return LineReleased, &p
			}
			return LinePaid, &p
		}
	}
	if !unlocked || !at.Before(in.Period.End()) {
		return LinePending, nil
	}

	payout := core.PeriodOf(at)
	if in.Released != nil {
		payout = a.FirstOpen(payout)
	}
	switch {
	case payout == in.Period:
		return LineReleased, &payout
	case payout.Before(in.Period):
		return LinePaid, &payout
	default:
		return LinePending, nil
	}
}

// resolveOwners validates deals and returns the current owner of each.
func resolveOwners(deals []Deal, snapshot map[core.DealID]core.EmployeeID) (map[core.DealID]core.EmployeeID, error) {
	owners := make(map[core.DealID]core.EmployeeID, len(deals))
	for i, d := range deals {
		field := fmt.Sprintf("deals[%d]", i)
		if d.ID == "" {
			return nil, core.Invalid(field+".id", "required", "", "deal id is required")
		}
		if _, dup := owners[d.ID]; dup {
			return nil, core.Invalid(field+".id", "unique", string(d.ID), "deal appears twice")
		}
		if !d.CV.IsPositive() {
			return nil, core.Invalid(field+".cv", "positive", d.CV.String(), "consideration value must be positive")
		}
		if d.Value.IsNegative() {
			return nil, core.Invalid(field+".value", "non_negative", d.Value.String(), "deal value must not be negative")
		}
		if d.ClosedAt.IsZero() {
			return nil, core.Invalid(field+".closedAt", "required", "", "close timestamp is required")
		}

		owner := d.Owner
		if snapshot != nil {
			current, ok := snapshot[d.ID]
			if !ok {
				return nil, &core.InconsistentStateError{DealID: d.ID, Claimed: d.Owner, Current: ""}
			}
			if current != d.Owner {
				return nil, &core.InconsistentStateError{DealID: d.ID, Claimed: d.Owner, Current: current}
			}
			owner = current
		}
		owners[d.ID] = owner
	}
	return owners, nil
}

func buildLine(d Deal, owner core.EmployeeID, pos int, share Share, band policy.SalesIncentivePolicy) Line {
	tier, rate := RateFor(d, band)
	dealAmount := core.MulRound(d.Value, rate)

	amount := dealAmount
	if d.CoOwner != "" && d.CoOwner != owner {
		supportive := core.MulRound(dealAmount, band.SupportiveSplitPercent)
		if share == ShareSupportive {
			amount = supportive
		} else {
			amount = dealAmount.Sub(supportive)
		}
	}

	return Line{
		DealID:     d.ID,
		Owner:      owner,
		Index:      pos + 1,
		Share:      share,
		Tier:       tier,
		Rate:       rate,
		DealAmount: dealAmount,
		Amount:     amount,
	}
}

// RateFor selects the incentive tier of a deal from its revenue ratio
// (value / CV). A ratio exactly on a threshold takes the higher tier. NPL-type
// deals never earn more than the NPL rate.
func RateFor(d Deal, band policy.SalesIncentivePolicy) (Tier, decimal.Decimal) {
	// value/CV >= t  <=>  value >= t*CV for positive CV; avoids division rounding.
	switch {
	case d.Value.GreaterThanOrEqual(band.NormalRatioThreshold.Mul(d.CV)) && d.Type != DealNPL:
		return TierNormal, band.NormalIncentiveRate
	case d.Value.GreaterThanOrEqual(band.NPLRatioThreshold.Mul(d.CV)):
		return TierNPL, band.NPLIncentiveRate
	default:
		return TierNone, decimal.Zero
	}
}
