/*
Package sqlite provides a SQLite-backed implementation of payrun.TxStore.

PURPOSE:
  Persists policies, employees, deals, payroll results (all revisions), the
  incentive ledger, locked periods and FNF settlements.

APPEND-ONLY ENFORCEMENT:
  - incentive_ledger: INSERT only; idempotency_key is UNIQUE
  - payroll_results: a row is only updated in place for its lifecycle
    status; corrections insert a new revision row
  - deal_transfers: INSERT only; history of ownership moves

KEY TABLES:
  policies:         policy documents (JSON, see factory.PolicyDocument)
  employees:        master data and exit balances
  deals:            closed deals; owner is the current owner, closed_by the owner at close
  deal_transfers:   ownership history
  payroll_results:  one row per (employee, period, revision)
  locked_periods:   month-end locks
  incentive_ledger: running released / pending ledger
  fnf_settlements:  one row per exiting employee

CONCURRENCY:
  sync.RWMutex around the handle plus a single connection. WithTx holds the
  write lock for the duration of the transaction.

WAL MODE:
  Opened with WAL (Write-Ahead Logging): readers do not block the writer.

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := payrun.NewService(store, logger)

SEE ALSO:
  - payrun/store.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/payrun"
	"github.com/warp/settlement-engine/policy"
)

// Store implements payrun.TxStore using SQLite.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	policies *factory.PolicyFactory
}

var _ payrun.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	store, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an already opened handle and runs the migrations.
func NewWithDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db, policies: factory.NewPolicyFactory()}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		document_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		category TEXT NOT NULL,
		basic_percent TEXT,
		join_date TEXT,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		target_gross TEXT NOT NULL,
		leave_balance_days TEXT NOT NULL,
		pending_reimbursements TEXT NOT NULL,
		unreturned_asset_value TEXT NOT NULL,
		advance_balance TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		co_owner TEXT,
		value TEXT NOT NULL,
		cv TEXT NOT NULL,
		deal_type TEXT NOT NULL,
		sequence INTEGER NOT NULL DEFAULT 0,
		closed_at TEXT NOT NULL,
		recorded_at TEXT,
		closed_by TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deals_owner ON deals(owner, closed_at);
	CREATE INDEX IF NOT EXISTS idx_deals_closed_by ON deals(closed_by, closed_at);
	CREATE INDEX IF NOT EXISTS idx_deals_co_owner ON deals(co_owner) WHERE co_owner IS NOT NULL;

	-- Ownership history (append-only)
	CREATE TABLE IF NOT EXISTS deal_transfers (
		deal_id TEXT NOT NULL REFERENCES deals(id),
		from_owner TEXT NOT NULL,
		to_owner TEXT NOT NULL,
		transferred_at TEXT NOT NULL,
		reason TEXT
	);

	CREATE TABLE IF NOT EXISTS payroll_results (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		status TEXT NOT NULL,
		supersedes TEXT,
		net_payable TEXT NOT NULL,
		result_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (employee_id, year, month, revision)
	);

	CREATE TABLE IF NOT EXISTS locked_periods (
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		locked_at TEXT NOT NULL,
		PRIMARY KEY (year, month)
	);

	-- Incentive ledger (append-only)
	CREATE TABLE IF NOT EXISTS incentive_ledger (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		deal_id TEXT NOT NULL,
		share TEXT NOT NULL,
		kind TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		amount TEXT NOT NULL,
		result_id TEXT,
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_employee ON incentive_ledger(employee_id);

	CREATE TABLE IF NOT EXISTS fnf_settlements (
		employee_id TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		status TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		result_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (payrun.TxStore interface)
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payrun.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx, policies: s.policies}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs every payrun.Store operation against one querier. The Store
// methods below wrap it with the mutex and the plain handle.
type txStore struct {
	q        querier
	policies *factory.PolicyFactory
}

func (s *Store) direct() *txStore {
	return &txStore{q: s.db, policies: s.policies}
}

func (s *Store) SavePolicy(ctx context.Context, cfg policy.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SavePolicy(ctx, cfg)
}

func (s *Store) GetPolicy(ctx context.Context, id core.PolicyID) (policy.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetPolicy(ctx, id)
}

func (s *Store) SaveEmployee(ctx context.Context, emp payrun.EmployeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SaveEmployee(ctx, emp)
}

func (s *Store) GetEmployee(ctx context.Context, id core.EmployeeID) (payrun.EmployeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetEmployee(ctx, id)
}

func (s *Store) ListEmployees(ctx context.Context) ([]payrun.EmployeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListEmployees(ctx)
}

func (s *Store) SaveDeal(ctx context.Context, d incentive.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SaveDeal(ctx, d)
}

func (s *Store) DealsByOwner(ctx context.Context, owners ...core.EmployeeID) ([]incentive.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().DealsByOwner(ctx, owners...)
}

func (s *Store) DealsByCoOwner(ctx context.Context, coOwner core.EmployeeID) ([]incentive.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().DealsByCoOwner(ctx, coOwner)
}

func (s *Store) DealsClosedBy(ctx context.Context, closers ...core.EmployeeID) ([]incentive.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().DealsClosedBy(ctx, closers...)
}

func (s *Store) ListDeals(ctx context.Context) ([]incentive.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListDeals(ctx)
}

func (s *Store) Ownership(ctx context.Context, ids []core.DealID) (map[core.DealID]core.EmployeeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().Ownership(ctx, ids)
}

// TransferDeal runs in its own transaction so the compare and the update
// cannot interleave with another writer.
func (s *Store) TransferDeal(ctx context.Context, t payrun.Transfer) error {
	return s.WithTx(ctx, func(st payrun.Store) error { return st.TransferDeal(ctx, t) })
}

func (s *Store) SaveResult(ctx context.Context, r payroll.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SaveResult(ctx, r)
}

func (s *Store) CurrentResult(ctx context.Context, emp core.EmployeeID, p core.Period) (payroll.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().CurrentResult(ctx, emp, p)
}

func (s *Store) ResultHistory(ctx context.Context, emp core.EmployeeID, p core.Period) ([]payroll.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ResultHistory(ctx, emp, p)
}

func (s *Store) LockPeriod(ctx context.Context, l incentive.LockedPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().LockPeriod(ctx, l)
}

func (s *Store) LockedPeriods(ctx context.Context) ([]incentive.LockedPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().LockedPeriods(ctx)
}

func (s *Store) AppendLedger(ctx context.Context, e payrun.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().AppendLedger(ctx, e)
}

func (s *Store) LedgerExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().LedgerExists(ctx, key)
}

func (s *Store) Ledger(ctx context.Context, emp core.EmployeeID) ([]payrun.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().Ledger(ctx, emp)
}

func (s *Store) SaveFNF(ctx context.Context, f payroll.FNFResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SaveFNF(ctx, f)
}

func (s *Store) GetFNF(ctx context.Context, emp core.EmployeeID) (payroll.FNFResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetFNF(ctx, emp)
}

// Transfers returns the ownership history of a deal, oldest first.
func (s *Store) Transfers(ctx context.Context, dealID core.DealID) ([]payrun.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT deal_id, from_owner, to_owner, transferred_at, reason
		FROM deal_transfers WHERE deal_id = ? ORDER BY rowid`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payrun.Transfer
	for rows.Next() {
		var t payrun.Transfer
		var at string
		var reason sql.NullString
		if err := rows.Scan(&t.DealID, &t.From, &t.To, &at, &reason); err != nil {
			return nil, err
		}
		t.At, _ = time.Parse(time.RFC3339Nano, at)
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// POLICY STORE
// =============================================================================

func (ts *txStore) SavePolicy(ctx context.Context, cfg policy.Config) error {
	doc, err := json.Marshal(ts.policies.ToDocument(cfg))
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	_, err = ts.q.ExecContext(ctx, `
		INSERT INTO policies (id, name, version, document_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			document_json = excluded.document_json,
			updated_at = excluded.updated_at
	`, cfg.ID, cfg.Name, cfg.Version, string(doc), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (ts *txStore) GetPolicy(ctx context.Context, id core.PolicyID) (policy.Config, error) {
	var doc string
	err := ts.q.QueryRowContext(ctx, `SELECT document_json FROM policies WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Config{}, fmt.Errorf("policy %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return policy.Config{}, fmt.Errorf("failed to get policy: %w", err)
	}
	return ts.policies.Parse([]byte(doc), factory.FormatJSON)
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

const employeeColumns = `id, name, role, category, basic_percent, join_date, policy_id, target_gross,
	leave_balance_days, pending_reimbursements, unreturned_asset_value, advance_balance`

func (ts *txStore) SaveEmployee(ctx context.Context, e payrun.EmployeeRecord) error {
	var basic sql.NullString
	if e.BasicPercent != nil {
		basic = nullString(e.BasicPercent.String())
	}
	var join sql.NullString
	if !e.JoinDate.IsZero() {
		join = nullString(e.JoinDate.UTC().Format(time.RFC3339))
	}
	_, err := ts.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Name, e.Role, e.Category, basic, join, e.PolicyID, e.TargetGross.String(),
		e.LeaveBalanceDays.String(), e.PendingReimbursements.String(),
		e.UnreturnedAssetValue.String(), e.AdvanceBalance.String())
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (ts *txStore) GetEmployee(ctx context.Context, id core.EmployeeID) (payrun.EmployeeRecord, error) {
	rows, err := ts.q.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	if err != nil {
		return payrun.EmployeeRecord{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return payrun.EmployeeRecord{}, err
		}
		return payrun.EmployeeRecord{}, fmt.Errorf("employee %s: %w", id, core.ErrNotFound)
	}
	return scanEmployee(rows)
}

func (ts *txStore) ListEmployees(ctx context.Context) ([]payrun.EmployeeRecord, error) {
	rows, err := ts.q.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payrun.EmployeeRecord
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmployee(rows *sql.Rows) (payrun.EmployeeRecord, error) {
	var (
		e                               payrun.EmployeeRecord
		basic, join                     sql.NullString
		gross, leave, reimb, asset, adv string
	)
	if err := rows.Scan(&e.ID, &e.Name, &e.Role, &e.Category, &basic, &join, &e.PolicyID, &gross,
		&leave, &reimb, &asset, &adv); err != nil {
		return payrun.EmployeeRecord{}, err
	}
	if basic.Valid {
		d, err := decimal.NewFromString(basic.String)
		if err != nil {
			return payrun.EmployeeRecord{}, fmt.Errorf("employee %s basic_percent: %w", e.ID, err)
		}
		e.BasicPercent = &d
	}
	if join.Valid {
		e.JoinDate, _ = time.Parse(time.RFC3339, join.String)
	}
	var err error
	if e.TargetGross, err = parseDecimal(gross); err != nil {
		return payrun.EmployeeRecord{}, err
	}
	if e.LeaveBalanceDays, err = parseDecimal(leave); err != nil {
		return payrun.EmployeeRecord{}, err
	}
	if e.PendingReimbursements, err = parseDecimal(reimb); err != nil {
		return payrun.EmployeeRecord{}, err
	}
	if e.UnreturnedAssetValue, err = parseDecimal(asset); err != nil {
		return payrun.EmployeeRecord{}, err
	}
	if e.AdvanceBalance, err = parseDecimal(adv); err != nil {
		return payrun.EmployeeRecord{}, err
	}
	return e, nil
}

// =============================================================================
// DEAL STORE
// =============================================================================

const dealColumns = `id, owner, co_owner, value, cv, deal_type, sequence, closed_at, recorded_at, closed_by`

func (ts *txStore) SaveDeal(ctx context.Context, d incentive.Deal) error {
	closedBy := d.ClosedBy
	if closedBy == "" {
		closedBy = d.Owner
	}
	var recorded sql.NullString
	if !d.RecordedAt.IsZero() {
		recorded = nullString(d.RecordedAt.UTC().Format(time.RFC3339Nano))
	}
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO deals (`+dealColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Owner, nullString(string(d.CoOwner)), d.Value.String(), d.CV.String(), d.Type, d.Sequence,
		d.ClosedAt.UTC().Format(time.RFC3339Nano), recorded, closedBy)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("deal %s already recorded: %w", d.ID, core.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("failed to save deal: %w", err)
	}
	return nil
}

func (ts *txStore) DealsByOwner(ctx context.Context, owners ...core.EmployeeID) ([]incentive.Deal, error) {
	if len(owners) == 0 {
		return nil, nil
	}
	args := make([]any, len(owners))
	for i, o := range owners {
		args[i] = o
	}
	return ts.queryDeals(ctx, `SELECT `+dealColumns+` FROM deals WHERE owner IN (`+placeholders(len(owners))+`)
		ORDER BY closed_at, id`, args...)
}

func (ts *txStore) DealsByCoOwner(ctx context.Context, coOwner core.EmployeeID) ([]incentive.Deal, error) {
	return ts.queryDeals(ctx, `SELECT `+dealColumns+` FROM deals WHERE co_owner = ? ORDER BY closed_at, id`, coOwner)
}

func (ts *txStore) DealsClosedBy(ctx context.Context, closers ...core.EmployeeID) ([]incentive.Deal, error) {
	if len(closers) == 0 {
		return nil, nil
	}
	args := make([]any, len(closers))
	for i, c := range closers {
		args[i] = c
	}
	return ts.queryDeals(ctx, `SELECT `+dealColumns+` FROM deals WHERE closed_by IN (`+placeholders(len(closers))+`)
		ORDER BY closed_at, id`, args...)
}

func (ts *txStore) ListDeals(ctx context.Context) ([]incentive.Deal, error) {
	return ts.queryDeals(ctx, `SELECT `+dealColumns+` FROM deals ORDER BY closed_at, id`)
}

func (ts *txStore) Ownership(ctx context.Context, ids []core.DealID) (map[core.DealID]core.EmployeeID, error) {
	out := make(map[core.DealID]core.EmployeeID, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := ts.q.QueryContext(ctx, `SELECT id, owner FROM deals WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id core.DealID
		var owner core.EmployeeID
		if err := rows.Scan(&id, &owner); err != nil {
			return nil, err
		}
		out[id] = owner
	}
	return out, rows.Err()
}

func (ts *txStore) TransferDeal(ctx context.Context, t payrun.Transfer) error {
	res, err := ts.q.ExecContext(ctx, `UPDATE deals SET owner = ? WHERE id = ? AND owner = ?`, t.To, t.DealID, t.From)
	if err != nil {
		return fmt.Errorf("failed to transfer deal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		owners, err := ts.Ownership(ctx, []core.DealID{t.DealID})
		if err != nil {
			return err
		}
		current, ok := owners[t.DealID]
		if !ok {
			return fmt.Errorf("deal %s: %w", t.DealID, core.ErrNotFound)
		}
		return &core.InconsistentStateError{DealID: t.DealID, Claimed: t.From, Current: current}
	}
	_, err = ts.q.ExecContext(ctx, `
		INSERT INTO deal_transfers (deal_id, from_owner, to_owner, transferred_at, reason)
		VALUES (?, ?, ?, ?, ?)
	`, t.DealID, t.From, t.To, t.At.UTC().Format(time.RFC3339Nano), nullString(t.Reason))
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

func (ts *txStore) queryDeals(ctx context.Context, query string, args ...any) ([]incentive.Deal, error) {
	rows, err := ts.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deals: %w", err)
	}
	defer rows.Close()

	var out []incentive.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDeal(rows *sql.Rows) (incentive.Deal, error) {
	var (
		d                 incentive.Deal
		coOwner, recorded sql.NullString
		value, cv, closed string
	)
	if err := rows.Scan(&d.ID, &d.Owner, &coOwner, &value, &cv, &d.Type, &d.Sequence, &closed, &recorded, &d.ClosedBy); err != nil {
		return incentive.Deal{}, err
	}
	d.CoOwner = core.EmployeeID(coOwner.String)

	var err error
	if d.Value, err = parseDecimal(value); err != nil {
		return incentive.Deal{}, err
	}
	if d.CV, err = parseDecimal(cv); err != nil {
		return incentive.Deal{}, err
	}
	if d.ClosedAt, err = time.Parse(time.RFC3339Nano, closed); err != nil {
		return incentive.Deal{}, fmt.Errorf("deal %s closed_at: %w", d.ID, err)
	}
	if recorded.Valid {
		if d.RecordedAt, err = time.Parse(time.RFC3339Nano, recorded.String); err != nil {
			return incentive.Deal{}, fmt.Errorf("deal %s recorded_at: %w", d.ID, err)
		}
	}
	return d, nil
}

// =============================================================================
// RESULT STORE
// =============================================================================

func (ts *txStore) SaveResult(ctx context.Context, r payroll.Result) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = ts.q.ExecContext(ctx, `
		INSERT INTO payroll_results
		(id, employee_id, year, month, revision, status, supersedes, net_payable, result_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			net_payable = excluded.net_payable,
			result_json = excluded.result_json,
			updated_at = excluded.updated_at
	`, r.ID, r.EmployeeID, r.Period.Year, int(r.Period.Month), r.Revision, r.Status,
		nullString(r.Supersedes), r.NetPayable.String(), string(body), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("revision %d of %s/%s exists: %w", r.Revision, r.EmployeeID, r.Period, core.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (ts *txStore) CurrentResult(ctx context.Context, emp core.EmployeeID, p core.Period) (payroll.Result, error) {
	var body string
	err := ts.q.QueryRowContext(ctx, `
		SELECT result_json FROM payroll_results
		WHERE employee_id = ? AND year = ? AND month = ?
		ORDER BY revision DESC LIMIT 1
	`, emp, p.Year, int(p.Month)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Result{}, fmt.Errorf("payroll %s/%s: %w", emp, p, core.ErrNotFound)
	}
	if err != nil {
		return payroll.Result{}, fmt.Errorf("failed to get result: %w", err)
	}
	var r payroll.Result
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return payroll.Result{}, fmt.Errorf("failed to decode result: %w", err)
	}
	return r, nil
}

func (ts *txStore) ResultHistory(ctx context.Context, emp core.EmployeeID, p core.Period) ([]payroll.Result, error) {
	rows, err := ts.q.QueryContext(ctx, `
		SELECT result_json FROM payroll_results
		WHERE employee_id = ? AND year = ? AND month = ?
		ORDER BY revision
	`, emp, p.Year, int(p.Month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.Result
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r payroll.Result
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// LOCKED PERIODS
// =============================================================================

func (ts *txStore) LockPeriod(ctx context.Context, l incentive.LockedPeriod) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO locked_periods (year, month, locked_at) VALUES (?, ?, ?)
	`, l.Period.Year, int(l.Period.Month), l.LockedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to lock period: %w", err)
	}
	return nil
}

func (ts *txStore) LockedPeriods(ctx context.Context) ([]incentive.LockedPeriod, error) {
	rows, err := ts.q.QueryContext(ctx, `SELECT year, month, locked_at FROM locked_periods ORDER BY year, month`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []incentive.LockedPeriod
	for rows.Next() {
		var year, month int
		var at string
		if err := rows.Scan(&year, &month, &at); err != nil {
			return nil, err
		}
		lockedAt, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("locked_at %q: %w", at, err)
		}
		out = append(out, incentive.LockedPeriod{Period: core.NewPeriod(year, time.Month(month)), LockedAt: lockedAt})
	}
	return out, rows.Err()
}

// =============================================================================
// INCENTIVE LEDGER (append-only)
// =============================================================================

func (ts *txStore) AppendLedger(ctx context.Context, e payrun.LedgerEntry) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO incentive_ledger
		(id, employee_id, deal_id, share, kind, year, month, amount, result_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.EmployeeID, e.DealID, e.Share, e.Kind, e.Period.Year, int(e.Period.Month),
		e.Amount.String(), nullString(e.ResultID), e.IdempotencyKey, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (ts *txStore) LedgerExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := ts.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM incentive_ledger WHERE idempotency_key = ?`, key).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (ts *txStore) Ledger(ctx context.Context, emp core.EmployeeID) ([]payrun.LedgerEntry, error) {
	rows, err := ts.q.QueryContext(ctx, `
		SELECT id, employee_id, deal_id, share, kind, year, month, amount, result_id, idempotency_key, created_at
		FROM incentive_ledger WHERE employee_id = ? ORDER BY rowid
	`, emp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payrun.LedgerEntry
	for rows.Next() {
		var (
			e           payrun.LedgerEntry
			year, month int
			amount, at  string
			resultID    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.DealID, &e.Share, &e.Kind, &year, &month,
			&amount, &resultID, &e.IdempotencyKey, &at); err != nil {
			return nil, err
		}
		e.Period = core.NewPeriod(year, time.Month(month))
		e.ResultID = resultID.String
		if e.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// FNF STORE
// =============================================================================

func (ts *txStore) SaveFNF(ctx context.Context, f payroll.FNFResult) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode fnf: %w", err)
	}
	_, err = ts.q.ExecContext(ctx, `
		INSERT INTO fnf_settlements (employee_id, id, status, net_amount, result_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			net_amount = excluded.net_amount,
			result_json = excluded.result_json,
			updated_at = excluded.updated_at
	`, f.EmployeeID, f.ID, f.Status, f.NetAmount.String(), string(body), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save fnf: %w", err)
	}
	return nil
}

func (ts *txStore) GetFNF(ctx context.Context, emp core.EmployeeID) (payroll.FNFResult, error) {
	var body string
	err := ts.q.QueryRowContext(ctx, `SELECT result_json FROM fnf_settlements WHERE employee_id = ?`, emp).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.FNFResult{}, fmt.Errorf("fnf %s: %w", emp, core.ErrNotFound)
	}
	if err != nil {
		return payroll.FNFResult{}, fmt.Errorf("failed to get fnf: %w", err)
	}
	var f payroll.FNFResult
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		return payroll.FNFResult{}, fmt.Errorf("failed to decode fnf: %w", err)
	}
	return f, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}
