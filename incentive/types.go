/*
Package incentive evaluates an employee's closed deals against the
applicable sales incentive policy.

PURPOSE:
  Produces the incentive that is payable in a period, the incentive still
  pending behind the unlock sequence rule, and the salary-reward bonus.

KEY CONCEPTS:
  - Deal: one closed sale (value, CV, type, owner, optional co-owner)
  - Arena: per-closer, append-only, time-ordered sequence of deals. The
    unlock rule is an index relation inside it (deal N waits for N+Lag),
    never a live object graph. A transferred deal keeps its slot.
  - Effective close: a deal recorded after its period was locked is paid
    from the next open period. With month-end locking it also counts
    toward that period's sales; without, it counts where it closed.
  - Release point: effective close of deal N+Lag (or N when Lag is 0).
    The incentive is payable in exactly one period: the one recorded in
    the release ledger, else the first open period holding that point.
  - Band: a deal's rate comes from the band of the period it counts in,
    so a pending incentive keeps its amount until it is released.

OWNERSHIP:
  Ownership transfers are done elsewhere. The engine reads the current
  owner from the snapshot it is given and fails with
  InconsistentStateError when a deal claims someone else.

SEE ALSO:
  - arena.go: sequence ordering and release points
  - engine.go: Evaluate
  - policy/sales.go: band definitions
*/
package incentive

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
)

// =============================================================================
// DEAL
// =============================================================================

type DealType string

const (
	DealNormal DealType = "normal"
	DealNPL    DealType = "npl"
)

// Deal is a closed sale as supplied by the sales system.
type Deal struct {
	ID       core.DealID     `json:"id"`
	Owner    core.EmployeeID `json:"owner"`
	CoOwner  core.EmployeeID `json:"co_owner,omitempty"`
	Value    decimal.Decimal `json:"value"`
	CV       decimal.Decimal `json:"cv"`
	Type     DealType        `json:"type"`
	Sequence int             `json:"sequence"`

	// ClosedAt is the creation timestamp of the closed deal.
	ClosedAt time.Time `json:"closed_at"`
	// RecordedAt is when the deal reached payroll. Zero means ClosedAt.
	RecordedAt time.Time `json:"recorded_at,omitempty"`
	// ClosedBy is the owner when the deal closed. Zero means Owner.
	ClosedBy core.EmployeeID `json:"closed_by,omitempty"`
}

func (d Deal) closer() core.EmployeeID {
	if d.ClosedBy == "" {
		return d.Owner
	}
	return d.ClosedBy
}

func (d Deal) recordedAt() time.Time {
	if d.RecordedAt.IsZero() {
		return d.ClosedAt
	}
	return d.RecordedAt
}

// LockedPeriod records when a payroll period was closed.
type LockedPeriod struct {
	Period   core.Period `json:"period"`
	LockedAt time.Time   `json:"locked_at"`
}

// =============================================================================
// RESULT
// =============================================================================

type Tier string

const (
	TierNormal Tier = "normal"
	TierNPL    Tier = "npl"
	TierNone   Tier = "none"
)

type Share string

const (
	SharePrimary    Share = "primary"
	ShareSupportive Share = "supportive"
)

type LineStatus string

const (
	// LineReleased: payable in the evaluated period.
	LineReleased LineStatus = "released"
	// LinePending: closed, waiting on the unlock rule.
	LinePending LineStatus = "pending"
	// LinePaid: released in another period (ReleasedIn).
	LinePaid LineStatus = "paid"
)

// ReleaseKey identifies one employee share of a deal in the release ledger.
type ReleaseKey struct {
	Deal  core.DealID
	Share Share
}

// Line is the employee's share of one deal.
type Line struct {
	DealID     core.DealID     `json:"deal_id"`
	Owner      core.EmployeeID `json:"owner"`
	Index      int             `json:"index"` // 1-based position in the closer's arena
	Share      Share           `json:"share"`
	Tier       Tier            `json:"tier"`
	Rate       decimal.Decimal `json:"rate"`
	DealAmount decimal.Decimal `json:"deal_amount"`
	Amount     decimal.Decimal `json:"amount"`
	ClosedIn   core.Period     `json:"closed_in"`
	ReleasedIn *core.Period    `json:"released_in,omitempty"`
	Status     LineStatus      `json:"status"`
}

// Result is the incentive outcome of one employee in one period.
type Result struct {
	SalesCount        int             `json:"sales_count"`
	Payable           decimal.Decimal `json:"payable"`
	Pending           decimal.Decimal `json:"pending"`
	PerformanceReward decimal.Decimal `json:"performance_reward"`
	Lines             []Line          `json:"lines"`
}

// Empty is the result for roles without sales policies.
func Empty() Result {
	return Result{Payable: decimal.Zero, Pending: decimal.Zero, PerformanceReward: decimal.Zero, Lines: []Line{}}
}
