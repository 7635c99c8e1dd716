/*
store.go - Persistence interface for payroll runs

PURPOSE:
  Defines the boundary between the payrun service and the database. The
  engine itself is pure; everything that must be read and written atomically
  (lock check, ownership snapshot, result revisions, ledger postings) goes
  through this interface inside WithTx.

KEY INTERFACES:
  Store:   employees, policies, deals + ownership, results, locked periods,
           incentive ledger, FNF settlements
  TxStore: Store plus WithTx for read-check-write sequences

APPEND-ONLY PARTS:
  - incentive ledger: no update, no delete; idempotency key per entry
  - payroll results: a locked result is only ever moved to superseded, a
    correction is a new row with Revision+1

IMPLEMENTATIONS:
  - store/sqlite: SQLite (WAL) implementation
  - store/memory: in-memory implementation for tests and dev

SEE ALSO:
  - service.go: the operations built on it
*/
package payrun

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// RECORDS
// =============================================================================

// EmployeeRecord is the employee master data the service keeps.
type EmployeeRecord struct {
	ID           core.EmployeeID  `json:"id"`
	Name         string           `json:"name"`
	Role         core.Role        `json:"role"`
	Category     core.Category    `json:"category"`
	BasicPercent *decimal.Decimal `json:"basic_percent,omitempty"`
	JoinDate     time.Time        `json:"join_date"`
	PolicyID     core.PolicyID    `json:"policy_id"`
	TargetGross  decimal.Decimal  `json:"target_gross"`

	// Exit balances, consumed by FNF.
	LeaveBalanceDays      decimal.Decimal `json:"leave_balance_days"`
	PendingReimbursements decimal.Decimal `json:"pending_reimbursements"`
	UnreturnedAssetValue  decimal.Decimal `json:"unreturned_asset_value"`
	AdvanceBalance        decimal.Decimal `json:"advance_balance"`
}

func (e EmployeeRecord) Employee() payroll.Employee {
	return payroll.Employee{
		ID:           e.ID,
		Role:         e.Role,
		Category:     e.Category,
		BasicPercent: e.BasicPercent,
		JoinDate:     e.JoinDate,
	}
}

type LedgerKind string

const (
	// LedgerPending: incentive earned but held by the unlock rule.
	LedgerPending LedgerKind = "pending"
	// LedgerReleased: incentive paid out in Period.
	LedgerReleased LedgerKind = "released"
)

// LedgerEntry is one line of the running incentive ledger.
type LedgerEntry struct {
	ID             string          `json:"id"`
	EmployeeID     core.EmployeeID `json:"employee_id"`
	DealID         core.DealID     `json:"deal_id"`
	Share          incentive.Share `json:"share"`
	Kind           LedgerKind      `json:"kind"`
	Period         core.Period     `json:"period"`
	Amount         decimal.Decimal `json:"amount"`
	ResultID       string          `json:"result_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// LedgerKey is the idempotency key of a ledger entry. Each share of a deal
// is recorded at most once as pending and at most once as released.
func LedgerKey(kind LedgerKind, emp core.EmployeeID, deal core.DealID, share incentive.Share) string {
	return fmt.Sprintf("%s/%s/%s/%s", kind, emp, deal, share)
}

// Transfer moves a deal from one owner to another. From must be the current
// owner at the time the transfer is applied.
type Transfer struct {
	DealID core.DealID     `json:"deal_id"`
	From   core.EmployeeID `json:"from"`
	To     core.EmployeeID `json:"to"`
	At     time.Time       `json:"at"`
	Reason string          `json:"reason"`
}

// =============================================================================
// STORE
// =============================================================================

// Store persists everything the payrun service reads and writes.
// Missing records are reported as core.ErrNotFound.
type Store interface {
	SavePolicy(ctx context.Context, cfg policy.Config) error
	GetPolicy(ctx context.Context, id core.PolicyID) (policy.Config, error)

	SaveEmployee(ctx context.Context, emp EmployeeRecord) error
	GetEmployee(ctx context.Context, id core.EmployeeID) (EmployeeRecord, error)
	ListEmployees(ctx context.Context) ([]EmployeeRecord, error)

	// SaveDeal inserts a deal; its Owner becomes the current owner.
	SaveDeal(ctx context.Context, d incentive.Deal) error
	// DealsByOwner returns the deals currently owned by any of owners.
	DealsByOwner(ctx context.Context, owners ...core.EmployeeID) ([]incentive.Deal, error)
	DealsByCoOwner(ctx context.Context, coOwner core.EmployeeID) ([]incentive.Deal, error)
	// DealsClosedBy returns every deal closed by any of closers, whoever owns
	// it now.
	DealsClosedBy(ctx context.Context, closers ...core.EmployeeID) ([]incentive.Deal, error)
	ListDeals(ctx context.Context) ([]incentive.Deal, error)
	// Ownership returns the current owner of each deal that exists.
	Ownership(ctx context.Context, ids []core.DealID) (map[core.DealID]core.EmployeeID, error)
	// TransferDeal fails with InconsistentStateError if t.From is not the
	// current owner.
	TransferDeal(ctx context.Context, t Transfer) error

	// SaveResult inserts or replaces the result with the same ID.
	SaveResult(ctx context.Context, r payroll.Result) error
	// CurrentResult returns the highest revision for employee and period.
	CurrentResult(ctx context.Context, emp core.EmployeeID, p core.Period) (payroll.Result, error)
	ResultHistory(ctx context.Context, emp core.EmployeeID, p core.Period) ([]payroll.Result, error)

	// LockPeriod records the lock; locking an already locked period keeps
	// the original lock time.
	LockPeriod(ctx context.Context, l incentive.LockedPeriod) error
	LockedPeriods(ctx context.Context) ([]incentive.LockedPeriod, error)

	// AppendLedger returns ErrDuplicateIdempotencyKey if the key exists.
	AppendLedger(ctx context.Context, e LedgerEntry) error
	LedgerExists(ctx context.Context, idempotencyKey string) (bool, error)
	Ledger(ctx context.Context, emp core.EmployeeID) ([]LedgerEntry, error)

	SaveFNF(ctx context.Context, f payroll.FNFResult) error
	GetFNF(ctx context.Context, emp core.EmployeeID) (payroll.FNFResult, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
