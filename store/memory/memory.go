// Package memory provides an in-memory payrun.TxStore (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/payrun"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex
	st *state
}

type resultKey struct {
	Employee core.EmployeeID
	Period   core.Period
}

type state struct {
	policies   map[core.PolicyID]policy.Config
	employees  map[core.EmployeeID]payrun.EmployeeRecord
	deals      map[core.DealID]incentive.Deal
	transfers  []payrun.Transfer
	results    map[resultKey][]payroll.Result // ordered by revision
	locks      map[core.Period]incentive.LockedPeriod
	ledger     []payrun.LedgerEntry
	ledgerKeys map[string]bool
	fnf        map[core.EmployeeID]payroll.FNFResult
}

func newState() *state {
	return &state{
		policies:   make(map[core.PolicyID]policy.Config),
		employees:  make(map[core.EmployeeID]payrun.EmployeeRecord),
		deals:      make(map[core.DealID]incentive.Deal),
		results:    make(map[resultKey][]payroll.Result),
		locks:      make(map[core.Period]incentive.LockedPeriod),
		ledgerKeys: make(map[string]bool),
		fnf:        make(map[core.EmployeeID]payroll.FNFResult),
	}
}

func New() *Store {
	return &Store{st: newState()}
}

var _ payrun.TxStore = (*Store)(nil)

// WithTx runs fn under the write lock. On error the state is restored from
// a snapshot taken before fn ran.
func (m *Store) WithTx(_ context.Context, fn func(payrun.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.st.clone()
	if err := fn(&view{st: m.st}); err != nil {
		m.st = snap
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.policies {
		c.policies[k] = v
	}
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.deals {
		c.deals[k] = v
	}
	c.transfers = append([]payrun.Transfer(nil), s.transfers...)
	for k, v := range s.results {
		c.results[k] = append([]payroll.Result(nil), v...)
	}
	for k, v := range s.locks {
		c.locks[k] = v
	}
	c.ledger = append([]payrun.LedgerEntry(nil), s.ledger...)
	for k, v := range s.ledgerKeys {
		c.ledgerKeys[k] = v
	}
	for k, v := range s.fnf {
		c.fnf[k] = v
	}
	return c
}

// Transfers returns the ownership transfer history.
func (m *Store) Transfers() []payrun.Transfer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payrun.Transfer(nil), m.st.transfers...)
}

// =============================================================================
// LOCKED ACCESSORS - Store methods take the lock and delegate to the view
// =============================================================================

func (m *Store) read() *view {
	return &view{st: m.st}
}

func (m *Store) SavePolicy(ctx context.Context, cfg policy.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SavePolicy(ctx, cfg)
}

func (m *Store) GetPolicy(ctx context.Context, id core.PolicyID) (policy.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPolicy(ctx, id)
}

func (m *Store) SaveEmployee(ctx context.Context, emp payrun.EmployeeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveEmployee(ctx, emp)
}

func (m *Store) GetEmployee(ctx context.Context, id core.EmployeeID) (payrun.EmployeeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetEmployee(ctx, id)
}

func (m *Store) ListEmployees(ctx context.Context) ([]payrun.EmployeeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListEmployees(ctx)
}

func (m *Store) SaveDeal(ctx context.Context, d incentive.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveDeal(ctx, d)
}

func (m *Store) DealsByOwner(ctx context.Context, owners ...core.EmployeeID) ([]incentive.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().DealsByOwner(ctx, owners...)
}

func (m *Store) DealsByCoOwner(ctx context.Context, coOwner core.EmployeeID) ([]incentive.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().DealsByCoOwner(ctx, coOwner)
}

func (m *Store) DealsClosedBy(ctx context.Context, closers ...core.EmployeeID) ([]incentive.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().DealsClosedBy(ctx, closers...)
}

func (m *Store) ListDeals(ctx context.Context) ([]incentive.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListDeals(ctx)
}

func (m *Store) Ownership(ctx context.Context, ids []core.DealID) (map[core.DealID]core.EmployeeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Ownership(ctx, ids)
}

func (m *Store) TransferDeal(ctx context.Context, t payrun.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().TransferDeal(ctx, t)
}

func (m *Store) SaveResult(ctx context.Context, r payroll.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveResult(ctx, r)
}

func (m *Store) CurrentResult(ctx context.Context, emp core.EmployeeID, p core.Period) (payroll.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CurrentResult(ctx, emp, p)
}

func (m *Store) ResultHistory(ctx context.Context, emp core.EmployeeID, p core.Period) ([]payroll.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ResultHistory(ctx, emp, p)
}

func (m *Store) LockPeriod(ctx context.Context, l incentive.LockedPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().LockPeriod(ctx, l)
}

func (m *Store) LockedPeriods(ctx context.Context) ([]incentive.LockedPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LockedPeriods(ctx)
}

func (m *Store) AppendLedger(ctx context.Context, e payrun.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendLedger(ctx, e)
}

func (m *Store) LedgerExists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LedgerExists(ctx, key)
}

func (m *Store) Ledger(ctx context.Context, emp core.EmployeeID) ([]payrun.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Ledger(ctx, emp)
}

func (m *Store) SaveFNF(ctx context.Context, f payroll.FNFResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveFNF(ctx, f)
}

func (m *Store) GetFNF(ctx context.Context, emp core.EmployeeID) (payroll.FNFResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetFNF(ctx, emp)
}

// =============================================================================
// VIEW - Unlocked operations; caller holds the lock
// =============================================================================

type view struct {
	st *state
}

func (v *view) SavePolicy(_ context.Context, cfg policy.Config) error {
	v.st.policies[cfg.ID] = cfg
	return nil
}

func (v *view) GetPolicy(_ context.Context, id core.PolicyID) (policy.Config, error) {
	cfg, ok := v.st.policies[id]
	if !ok {
		return policy.Config{}, fmt.Errorf("policy %s: %w", id, core.ErrNotFound)
	}
	return cfg, nil
}

func (v *view) SaveEmployee(_ context.Context, emp payrun.EmployeeRecord) error {
	v.st.employees[emp.ID] = emp
	return nil
}

func (v *view) GetEmployee(_ context.Context, id core.EmployeeID) (payrun.EmployeeRecord, error) {
	emp, ok := v.st.employees[id]
	if !ok {
		return payrun.EmployeeRecord{}, fmt.Errorf("employee %s: %w", id, core.ErrNotFound)
	}
	return emp, nil
}

func (v *view) ListEmployees(_ context.Context) ([]payrun.EmployeeRecord, error) {
	out := make([]payrun.EmployeeRecord, 0, len(v.st.employees))
	for _, e := range v.st.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) SaveDeal(_ context.Context, d incentive.Deal) error {
	if _, exists := v.st.deals[d.ID]; exists {
		return fmt.Errorf("deal %s already recorded: %w", d.ID, core.ErrDuplicateIdempotencyKey)
	}
	if d.ClosedBy == "" {
		d.ClosedBy = d.Owner
	}
	v.st.deals[d.ID] = d
	return nil
}

func (v *view) DealsByOwner(_ context.Context, owners ...core.EmployeeID) ([]incentive.Deal, error) {
	want := make(map[core.EmployeeID]bool, len(owners))
	for _, o := range owners {
		want[o] = true
	}
	return v.filterDeals(func(d incentive.Deal) bool { return want[d.Owner] }), nil
}

func (v *view) DealsByCoOwner(_ context.Context, coOwner core.EmployeeID) ([]incentive.Deal, error) {
	return v.filterDeals(func(d incentive.Deal) bool { return d.CoOwner == coOwner }), nil
}

func (v *view) DealsClosedBy(_ context.Context, closers ...core.EmployeeID) ([]incentive.Deal, error) {
	want := make(map[core.EmployeeID]bool, len(closers))
	for _, c := range closers {
		want[c] = true
	}
	return v.filterDeals(func(d incentive.Deal) bool { return want[d.ClosedBy] }), nil
}

func (v *view) ListDeals(_ context.Context) ([]incentive.Deal, error) {
	return v.filterDeals(func(incentive.Deal) bool { return true }), nil
}

func (v *view) filterDeals(keep func(incentive.Deal) bool) []incentive.Deal {
	var out []incentive.Deal
	for _, d := range v.st.deals {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ClosedAt.Equal(out[j].ClosedAt) {
			return out[i].ClosedAt.Before(out[j].ClosedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *view) Ownership(_ context.Context, ids []core.DealID) (map[core.DealID]core.EmployeeID, error) {
	out := make(map[core.DealID]core.EmployeeID, len(ids))
	for _, id := range ids {
		if d, ok := v.st.deals[id]; ok {
			out[id] = d.Owner
		}
	}
	return out, nil
}

func (v *view) TransferDeal(_ context.Context, t payrun.Transfer) error {
	d, ok := v.st.deals[t.DealID]
	if !ok {
		return fmt.Errorf("deal %s: %w", t.DealID, core.ErrNotFound)
	}
	if d.Owner != t.From {
		return &core.InconsistentStateError{DealID: t.DealID, Claimed: t.From, Current: d.Owner}
	}
	d.Owner = t.To
	v.st.deals[t.DealID] = d
	v.st.transfers = append(v.st.transfers, t)
	return nil
}

func (v *view) SaveResult(_ context.Context, r payroll.Result) error {
	k := resultKey{Employee: r.EmployeeID, Period: r.Period}
	revs := v.st.results[k]
	for i := range revs {
		if revs[i].ID == r.ID {
			revs[i] = r
			return nil
		}
	}
	revs = append(revs, r)
	sort.Slice(revs, func(i, j int) bool { return revs[i].Revision < revs[j].Revision })
	v.st.results[k] = revs
	return nil
}

func (v *view) CurrentResult(_ context.Context, emp core.EmployeeID, p core.Period) (payroll.Result, error) {
	revs := v.st.results[resultKey{Employee: emp, Period: p}]
	if len(revs) == 0 {
		return payroll.Result{}, fmt.Errorf("payroll %s/%s: %w", emp, p, core.ErrNotFound)
	}
	return revs[len(revs)-1], nil
}

func (v *view) ResultHistory(_ context.Context, emp core.EmployeeID, p core.Period) ([]payroll.Result, error) {
	return append([]payroll.Result(nil), v.st.results[resultKey{Employee: emp, Period: p}]...), nil
}

func (v *view) LockPeriod(_ context.Context, l incentive.LockedPeriod) error {
	if _, locked := v.st.locks[l.Period]; !locked {
		v.st.locks[l.Period] = l
	}
	return nil
}

func (v *view) LockedPeriods(_ context.Context) ([]incentive.LockedPeriod, error) {
	out := make([]incentive.LockedPeriod, 0, len(v.st.locks))
	for _, l := range v.st.locks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out, nil
}

func (v *view) AppendLedger(_ context.Context, e payrun.LedgerEntry) error {
	if v.st.ledgerKeys[e.IdempotencyKey] {
		return core.ErrDuplicateIdempotencyKey
	}
	v.st.ledger = append(v.st.ledger, e)
	v.st.ledgerKeys[e.IdempotencyKey] = true
	return nil
}

func (v *view) LedgerExists(_ context.Context, key string) (bool, error) {
	return v.st.ledgerKeys[key], nil
}

func (v *view) Ledger(_ context.Context, emp core.EmployeeID) ([]payrun.LedgerEntry, error) {
	var out []payrun.LedgerEntry
	for _, e := range v.st.ledger {
		if e.EmployeeID == emp {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *view) SaveFNF(_ context.Context, f payroll.FNFResult) error {
	v.st.fnf[f.EmployeeID] = f
	return nil
}

func (v *view) GetFNF(_ context.Context, emp core.EmployeeID) (payroll.FNFResult, error) {
	f, ok := v.st.fnf[emp]
	if !ok {
		return payroll.FNFResult{}, fmt.Errorf("fnf %s: %w", emp, core.ErrNotFound)
	}
	return f, nil
}
