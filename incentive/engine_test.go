package incentive_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func band() policy.SalesIncentivePolicy {
	return policy.SalesIncentivePolicy{
		Role:                   "sales",
		NormalIncentiveRate:    dec("0.01"),
		NPLIncentiveRate:       dec("0.005"),
		NormalRatioThreshold:   dec("0.005"),
		NPLRatioThreshold:      dec("0.0025"),
		SalaryRewardPercent:    dec("0.10"),
		SalaryRewardThreshold:  3,
		SupportiveSplitPercent: dec("0.40"),
	}
}

func config(mutate func(*policy.SalesIncentivePolicy)) policy.Config {
	b := band()
	if mutate != nil {
		mutate(&b)
	}
	cfg := policy.Default()
	cfg.SalesPolicies = []policy.SalesIncentivePolicy{b}
	return cfg
}

func at(m time.Month, d int) time.Time { return time.Date(2025, m, d, 12, 0, 0, 0, time.UTC) }

func deal(id, owner string, closed time.Time) incentive.Deal {
	return incentive.Deal{
		ID:       core.DealID(id),
		Owner:    core.EmployeeID(owner),
		Value:    dec("100000"),
		CV:       dec("10000000"),
		Type:     incentive.DealNormal,
		ClosedAt: closed,
	}
}

func evaluate(t *testing.T, cfg policy.Config, emp string, p core.Period, deals []incentive.Deal) incentive.Result {
	t.Helper()
	res, err := incentive.Evaluate(incentive.Input{
		EmployeeID: core.EmployeeID(emp),
		Role:       "sales",
		Period:     p,
		Basic:      dec("17500"),
		Deals:      deals,
	}, cfg)
	require.NoError(t, err)
	return res
}

// =============================================================================
// TIERING
// =============================================================================

func TestRateFor_ExactThresholds(t *testing.T) {
	// GIVEN: CV 1,000,000, normal tier from 0.5%, NPL tier from 0.25%
	// WHEN: Deal values sit exactly on and around each threshold
	// THEN: A ratio on a threshold selects the higher tier

	cases := []struct {
		name  string
		value string
		typ   incentive.DealType
		tier  incentive.Tier
		rate  string
	}{
		{"just above normal", "5001", incentive.DealNormal, incentive.TierNormal, "0.01"},
		{"exactly normal threshold", "5000", incentive.DealNormal, incentive.TierNormal, "0.01"},
		{"just below normal", "4999", incentive.DealNormal, incentive.TierNPL, "0.005"},
		{"between thresholds", "3000", incentive.DealNormal, incentive.TierNPL, "0.005"},
		{"exactly npl threshold", "2500", incentive.DealNormal, incentive.TierNPL, "0.005"},
		{"just below npl", "2499", incentive.DealNormal, incentive.TierNone, "0"},
		{"npl deal with high ratio", "9000", incentive.DealNPL, incentive.TierNPL, "0.005"},
		{"npl deal exactly normal threshold", "5000", incentive.DealNPL, incentive.TierNPL, "0.005"},
		{"zero value", "0", incentive.DealNormal, incentive.TierNone, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := incentive.Deal{Value: dec(tc.value), CV: dec("1000000"), Type: tc.typ}
			tier, rate := incentive.RateFor(d, band())
			assert.Equal(t, tc.tier, tier)
			assert.True(t, dec(tc.rate).Equal(rate), "rate %s", rate)
		})
	}
}

// =============================================================================
// BANDS AND REWARD
// =============================================================================

func TestEvaluate_RoleWithoutPolicies_NoIncentive(t *testing.T) {
	res, err := incentive.Evaluate(incentive.Input{
		EmployeeID: "emp-1",
		Role:       "engineer",
		Period:     core.NewPeriod(2025, time.March),
		Deals:      []incentive.Deal{deal("d1", "emp-1", at(time.March, 2))},
	}, config(nil))
	require.NoError(t, err)
	assert.True(t, res.Payable.IsZero())
	assert.Empty(t, res.Lines)
}

func TestEvaluate_NoMatchingBand_PolicyNotFound(t *testing.T) {
	max := 2
	cfg := config(func(b *policy.SalesIncentivePolicy) { b.MaxSales = &max })
	deals := []incentive.Deal{
		deal("d1", "emp-1", at(time.March, 2)),
		deal("d2", "emp-1", at(time.March, 3)),
		deal("d3", "emp-1", at(time.March, 4)),
	}

	_, err := incentive.Evaluate(incentive.Input{
		EmployeeID: "emp-1", Role: "sales", Period: core.NewPeriod(2025, time.March), Deals: deals,
	}, cfg)
	var pErr *core.PolicyNotFoundError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, 3, pErr.SalesCount)
}

func TestEvaluate_RewardThreshold(t *testing.T) {
	march := core.NewPeriod(2025, time.March)
	two := []incentive.Deal{deal("d1", "emp-1", at(time.March, 2)), deal("d2", "emp-1", at(time.March, 3))}

	res := evaluate(t, config(nil), "emp-1", march, two)
	assert.True(t, res.PerformanceReward.IsZero(), "2 sales is below the threshold")

	three := append(two, deal("d3", "emp-1", at(time.March, 4)))
	res = evaluate(t, config(nil), "emp-1", march, three)
	assert.True(t, dec("1750").Equal(res.PerformanceReward))
	assert.True(t, dec("3000").Equal(res.Payable))
}

// =============================================================================
// CO-OWNERSHIP
// =============================================================================

func TestEvaluate_SupportiveSplit(t *testing.T) {
	// GIVEN: emp-1 owns a deal co-owned by emp-2, split 40% supportive
	// WHEN: Evaluating both employees
	// THEN: 600 to the owner, 400 to the co-owner, summing to the deal amount

	march := core.NewPeriod(2025, time.March)
	d := deal("d1", "emp-1", at(time.March, 5))
	d.CoOwner = "emp-2"
	deals := []incentive.Deal{d}

	owner := evaluate(t, config(nil), "emp-1", march, deals)
	support := evaluate(t, config(nil), "emp-2", march, deals)

	assert.True(t, dec("600").Equal(owner.Payable))
	assert.True(t, dec("400").Equal(support.Payable))
	require.Len(t, support.Lines, 1)
	assert.Equal(t, incentive.ShareSupportive, support.Lines[0].Share)
	assert.True(t, dec("1000").Equal(support.Lines[0].DealAmount))
	assert.Equal(t, 0, support.SalesCount, "supportive deals do not count toward the band")
}

// =============================================================================
// UNLOCK SEQUENCE
// =============================================================================

func TestEvaluate_UnlockNAfterNPlusOne_ReleasedExactlyOnce(t *testing.T) {
	// GIVEN: Lag 1 and one deal per month January..April
	// WHEN: Evaluating every month January..May
	// THEN: Each deal's incentive is released in exactly one period, the one
	//       in which the next deal closes; the last deal stays pending

	cfg := config(func(b *policy.SalesIncentivePolicy) { b.UnlockSequenceRule = policy.UnlockRule{Lag: 1} })
	deals := []incentive.Deal{
		deal("d1", "emp-1", at(time.January, 10)),
		deal("d2", "emp-1", at(time.February, 10)),
		deal("d3", "emp-1", at(time.March, 10)),
		deal("d4", "emp-1", at(time.April, 10)),
	}

	released := map[core.DealID][]core.Period{}
	for m := time.January; m <= time.May; m++ {
		p := core.NewPeriod(2025, m)
		res := evaluate(t, cfg, "emp-1", p, deals)
		sum := decimal.Zero
		for _, l := range res.Lines {
			if l.Status == incentive.LineReleased {
				released[l.DealID] = append(released[l.DealID], p)
				sum = sum.Add(l.Amount)
			}
		}
		assert.True(t, sum.Equal(res.Payable), "payable equals released lines in %s", p)
	}

	assert.Equal(t, []core.Period{core.NewPeriod(2025, time.February)}, released["d1"])
	assert.Equal(t, []core.Period{core.NewPeriod(2025, time.March)}, released["d2"])
	assert.Equal(t, []core.Period{core.NewPeriod(2025, time.April)}, released["d3"])
	assert.Empty(t, released["d4"])

	may := evaluate(t, cfg, "emp-1", core.NewPeriod(2025, time.May), deals)
	assert.True(t, dec("1000").Equal(may.Pending), "d4 is still pending")
}

func TestEvaluate_UnlockWithinSamePeriod(t *testing.T) {
	cfg := config(func(b *policy.SalesIncentivePolicy) { b.UnlockSequenceRule = policy.UnlockRule{Lag: 1} })
	march := core.NewPeriod(2025, time.March)
	deals := []incentive.Deal{
		deal("d2", "emp-1", at(time.March, 20)),
		deal("d1", "emp-1", at(time.March, 5)),
	}

	res := evaluate(t, cfg, "emp-1", march, deals)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, core.DealID("d1"), res.Lines[0].DealID, "lines follow arena order")
	assert.Equal(t, incentive.LineReleased, res.Lines[0].Status)
	assert.Equal(t, incentive.LinePending, res.Lines[1].Status)
	assert.True(t, dec("1000").Equal(res.Payable))
	assert.True(t, dec("1000").Equal(res.Pending))
}

func TestEvaluate_TransferredDealKeepsItsSlot(t *testing.T) {
	// GIVEN: Lag 1; emp-1 closed d1 and d2 in January, d2 was later moved to
	//        the pool, and emp-1 closed d3 in March
	// WHEN: Evaluating March for emp-1
	// THEN: d1 stays released in January (d2 still unlocks it); d3 is the
	//       only pending line and nothing is payable

	cfg := config(func(b *policy.SalesIncentivePolicy) { b.UnlockSequenceRule = policy.UnlockRule{Lag: 1} })
	d2 := deal("d2", "pool", at(time.January, 5))
	d2.ClosedBy = "emp-1"
	deals := []incentive.Deal{
		deal("d1", "emp-1", at(time.January, 2)),
		d2,
		deal("d3", "emp-1", at(time.March, 5)),
	}

	res := evaluate(t, cfg, "emp-1", core.NewPeriod(2025, time.March), deals)
	assert.True(t, res.Payable.IsZero(), "payable %s", res.Payable)
	assert.True(t, dec("1000").Equal(res.Pending))
	require.Len(t, res.Lines, 2)

	assert.Equal(t, core.DealID("d1"), res.Lines[0].DealID)
	assert.Equal(t, incentive.LinePaid, res.Lines[0].Status)
	require.NotNil(t, res.Lines[0].ReleasedIn)
	assert.Equal(t, core.NewPeriod(2025, time.January), *res.Lines[0].ReleasedIn)
	assert.Equal(t, 3, res.Lines[1].Index, "d3 keeps the third slot")
	assert.Equal(t, incentive.LinePending, res.Lines[1].Status)
}

func TestEvaluate_ReleaseLedgerDecidesThePeriod(t *testing.T) {
	// GIVEN: d1 unlocks in January but the ledger shows it paid in February
	// WHEN: Evaluating January and February
	// THEN: January reports it paid elsewhere, February pays it

	cfg := config(nil)
	deals := []incentive.Deal{deal("d1", "emp-1", at(time.January, 10))}
	feb := core.NewPeriod(2025, time.February)
	released := map[incentive.ReleaseKey]core.Period{{Deal: "d1", Share: incentive.SharePrimary}: feb}

	eval := func(p core.Period) incentive.Result {
		res, err := incentive.Evaluate(incentive.Input{
			EmployeeID: "emp-1", Role: "sales", Period: p, Deals: deals, Released: released,
		}, cfg)
		require.NoError(t, err)
		return res
	}

	jan := eval(core.NewPeriod(2025, time.January))
	assert.True(t, jan.Payable.IsZero())
	require.Len(t, jan.Lines, 1)
	assert.Equal(t, incentive.LinePaid, jan.Lines[0].Status)

	assert.True(t, dec("1000").Equal(eval(feb).Payable))
}

func TestEvaluate_BandPinnedToClosePeriod(t *testing.T) {
	// GIVEN: 1% for up to one sale a month, 2% from two; lag 1; one January
	//        deal and two February deals
	// WHEN: Evaluating February
	// THEN: d1 is released at its January rate; d2 at the February rate

	low := band()
	low.UnlockSequenceRule = policy.UnlockRule{Lag: 1}
	one := 1
	low.MaxSales = &one
	high := low
	high.MinSales = 2
	high.MaxSales = nil
	high.NormalIncentiveRate = dec("0.02")
	cfg := policy.Default()
	cfg.SalesPolicies = []policy.SalesIncentivePolicy{low, high}

	deals := []incentive.Deal{
		deal("d1", "emp-1", at(time.January, 10)),
		deal("d2", "emp-1", at(time.February, 3)),
		deal("d3", "emp-1", at(time.February, 17)),
	}

	jan := evaluate(t, cfg, "emp-1", core.NewPeriod(2025, time.January), deals)
	assert.True(t, dec("1000").Equal(jan.Pending))

	feb := evaluate(t, cfg, "emp-1", core.NewPeriod(2025, time.February), deals)
	amounts := map[core.DealID]decimal.Decimal{}
	for _, l := range feb.Lines {
		amounts[l.DealID] = l.Amount
	}
	assert.True(t, dec("1000").Equal(amounts["d1"]), "d1 %s", amounts["d1"])
	assert.True(t, dec("2000").Equal(amounts["d2"]), "d2 %s", amounts["d2"])
	assert.True(t, dec("3000").Equal(feb.Payable))
	assert.True(t, dec("2000").Equal(feb.Pending))
}

// =============================================================================
// MONTH-END LOCKING
// =============================================================================

func TestEvaluate_LateDealRollsIntoNextOpenPeriod(t *testing.T) {
	// GIVEN: February was locked on March 1; a deal closed Feb 27 reaches
	//        payroll on March 2
	// WHEN: Evaluating February and March
	// THEN: The deal counts in March, never in February

	cfg := config(func(b *policy.SalesIncentivePolicy) { b.MonthEndLocking = true })
	feb := core.NewPeriod(2025, time.February)
	march := core.NewPeriod(2025, time.March)

	late := deal("d1", "emp-1", at(time.February, 27))
	late.RecordedAt = at(time.March, 2)
	locks := []incentive.LockedPeriod{{Period: feb, LockedAt: at(time.March, 1)}}

	eval := func(p core.Period) incentive.Result {
		res, err := incentive.Evaluate(incentive.Input{
			EmployeeID: "emp-1", Role: "sales", Period: p, Deals: []incentive.Deal{late}, LockedPeriods: locks,
		}, cfg)
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, 0, eval(feb).SalesCount)
	assert.True(t, eval(feb).Payable.IsZero())

	res := eval(march)
	assert.Equal(t, 1, res.SalesCount)
	assert.True(t, dec("1000").Equal(res.Payable))
	require.Len(t, res.Lines, 1)
	assert.Equal(t, march, res.Lines[0].ClosedIn)
}

func TestEvaluate_LateDealWithoutMonthEndLocking_PaidInNextOpenPeriod(t *testing.T) {
	// GIVEN: No month-end locking; January was locked on February 1 and a
	//        deal closed January 28 reaches payroll on February 3
	// WHEN: Evaluating January and February
	// THEN: It counts toward January sales but is paid in February

	cfg := config(nil)
	jan := core.NewPeriod(2025, time.January)
	feb := core.NewPeriod(2025, time.February)

	late := deal("late", "emp-1", at(time.January, 28))
	late.RecordedAt = at(time.February, 3)
	locks := []incentive.LockedPeriod{{Period: jan, LockedAt: at(time.February, 1)}}

	eval := func(p core.Period) incentive.Result {
		res, err := incentive.Evaluate(incentive.Input{
			EmployeeID: "emp-1", Role: "sales", Period: p, Deals: []incentive.Deal{late}, LockedPeriods: locks,
		}, cfg)
		require.NoError(t, err)
		return res
	}

	janRes := eval(jan)
	assert.Equal(t, 1, janRes.SalesCount)
	assert.True(t, janRes.Payable.IsZero())

	febRes := eval(feb)
	assert.Equal(t, 0, febRes.SalesCount)
	assert.True(t, dec("1000").Equal(febRes.Payable))
	require.Len(t, febRes.Lines, 1)
	assert.Equal(t, jan, febRes.Lines[0].ClosedIn)
	assert.Equal(t, incentive.LineReleased, febRes.Lines[0].Status)
}

func TestEvaluate_DealRecordedBeforeLock_StaysInItsPeriod(t *testing.T) {
	cfg := config(func(b *policy.SalesIncentivePolicy) { b.MonthEndLocking = true })
	feb := core.NewPeriod(2025, time.February)

	d := deal("d1", "emp-1", at(time.February, 27))
	res, err := incentive.Evaluate(incentive.Input{
		EmployeeID: "emp-1", Role: "sales", Period: feb, Deals: []incentive.Deal{d},
		LockedPeriods: []incentive.LockedPeriod{{Period: feb, LockedAt: at(time.March, 1)}},
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SalesCount)
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func TestEvaluate_InvalidDeals(t *testing.T) {
	march := core.NewPeriod(2025, time.March)
	zeroCV := deal("d1", "emp-1", at(time.March, 2))
	zeroCV.CV = decimal.Zero

	_, err := incentive.Evaluate(incentive.Input{
		EmployeeID: "emp-1", Role: "sales", Period: march, Deals: []incentive.Deal{zeroCV},
	}, config(nil))
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "deals[0].cv", vErr.Field)

	dup := deal("d1", "emp-1", at(time.March, 2))
	_, err = incentive.Evaluate(incentive.Input{
		EmployeeID: "emp-1", Role: "sales", Period: march, Deals: []incentive.Deal{dup, dup},
	}, config(nil))
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "unique", vErr.Rule)
}

func TestEvaluate_MissingOwnershipSnapshot_InconsistentState(t *testing.T) {
	_, err := incentive.Evaluate(incentive.Input{
		EmployeeID: "emp-1", Role: "sales", Period: core.NewPeriod(2025, time.March),
		Deals:     []incentive.Deal{deal("d1", "emp-1", at(time.March, 2))},
		Ownership: map[core.DealID]core.EmployeeID{},
	}, config(nil))
	var sErr *core.InconsistentStateError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, core.DealID("d1"), sErr.DealID)
}
