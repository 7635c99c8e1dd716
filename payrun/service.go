package payrun

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/policy"
)

// Service runs payroll against a TxStore. Every operation that reads state
// and writes a decision does both inside one WithTx call.
type Service struct {
	store     TxStore
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
	poolOwner core.EmployeeID
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// WithPoolOwner sets the holder that stale deals are transferred to.
func WithPoolOwner(id core.EmployeeID) Option { return func(s *Service) { s.poolOwner = id } }

func NewService(store TxStore, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store: store,
		log:   log.Named("payrun"),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store exposes the underlying store for read-only callers (API lookups).
func (s *Service) Store() TxStore { return s.store }

// CalculateRequest asks for one employee's payroll in one period.
// TargetGross nil means the employee's stored target gross. Attendance nil
// means full attendance.
type CalculateRequest struct {
	EmployeeID  core.EmployeeID
	Period      core.Period
	TargetGross *decimal.Decimal
	Attendance  *payroll.Attendance
	Overrides   payroll.Overrides
}

// =============================================================================
// MASTER DATA
// =============================================================================

func (s *Service) SavePolicy(ctx context.Context, cfg policy.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.store.SavePolicy(ctx, cfg); err != nil {
		return fmt.Errorf("save policy %s: %w", cfg.ID, err)
	}
	s.log.Info("policy saved", zap.String("policy_id", string(cfg.ID)), zap.Int("version", cfg.Version))
	return nil
}

func (s *Service) SaveEmployee(ctx context.Context, emp EmployeeRecord) error {
	if err := validateEmployee(emp); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(st Store) error {
		if _, err := st.GetPolicy(ctx, emp.PolicyID); err != nil {
			return fmt.Errorf("employee %s policy %s: %w", emp.ID, emp.PolicyID, err)
		}
		return st.SaveEmployee(ctx, emp)
	})
}

// RecordDeal stores a closed deal. RecordedAt defaults to now so that deals
// arriving after a month-end lock roll into the next open period.
func (s *Service) RecordDeal(ctx context.Context, d incentive.Deal) (incentive.Deal, error) {
	if err := validateDeal(d); err != nil {
		return incentive.Deal{}, err
	}
	if d.Type == "" {
		d.Type = incentive.DealNormal
	}
	if d.RecordedAt.IsZero() {
		d.RecordedAt = s.now().UTC()
	}
	if d.ClosedBy == "" {
		d.ClosedBy = d.Owner
	}
	err := s.store.WithTx(ctx, func(st Store) error {
		if _, err := st.GetEmployee(ctx, d.Owner); err != nil {
			return fmt.Errorf("deal %s owner %s: %w", d.ID, d.Owner, err)
		}
		return st.SaveDeal(ctx, d)
	})
	if err != nil {
		return incentive.Deal{}, err
	}
	s.log.Info("deal recorded", zap.String("deal_id", string(d.ID)), zap.String("owner", string(d.Owner)))
	return d, nil
}

// =============================================================================
// PAYROLL
// =============================================================================

// Calculate computes and stores the draft payroll of one employee. A locked
// result for the same period is never touched; use Correct.
func (s *Service) Calculate(ctx context.Context, req CalculateRequest) (payroll.Result, error) {
	var out payroll.Result
	err := s.store.WithTx(ctx, func(st Store) error {
		prev, err := currentResult(ctx, st, req.EmployeeID, req.Period)
		if err != nil {
			return err
		}

		in, cfg, deals, err := s.prepare(ctx, st, req)
		if err != nil {
			return err
		}
		in.Previous = prev

		res, err := payroll.ComputePayroll(in, cfg, deals)
		if err != nil {
			return err
		}
		if res.ID == "" {
			res.ID = s.newID()
		}
		if err := st.SaveResult(ctx, res); err != nil {
			return fmt.Errorf("save result: %w", err)
		}
		if err := s.postLedger(ctx, st, res); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		s.logFailure("calculate", req.EmployeeID, req.Period, err)
		return payroll.Result{}, err
	}
	s.log.Info("payroll calculated",
		zap.String("employee_id", string(out.EmployeeID)),
		zap.Stringer("period", out.Period),
		zap.Int("revision", out.Revision),
		zap.String("net_payable", out.NetPayable.String()))
	return out, nil
}

// Lock freezes the current draft result of an employee.
func (s *Service) Lock(ctx context.Context, emp core.EmployeeID, p core.Period) (payroll.Result, error) {
	var out payroll.Result
	err := s.store.WithTx(ctx, func(st Store) error {
		cur, err := st.CurrentResult(ctx, emp, p)
		if err != nil {
			return fmt.Errorf("payroll %s/%s: %w", emp, p, err)
		}
		locked, err := cur.Lock(ctx)
		if err != nil {
			return err
		}
		out = locked
		return st.SaveResult(ctx, locked)
	})
	if err != nil {
		s.logFailure("lock", emp, p, err)
		return payroll.Result{}, err
	}
	s.log.Info("payroll locked", zap.String("employee_id", string(emp)), zap.Stringer("period", p), zap.Int("revision", out.Revision))
	return out, nil
}

// Correct recomputes a locked period as a new draft revision. The locked
// result moves to superseded; its figures are kept as they were.
func (s *Service) Correct(ctx context.Context, req CalculateRequest) (payroll.Result, error) {
	var out payroll.Result
	err := s.store.WithTx(ctx, func(st Store) error {
		cur, err := st.CurrentResult(ctx, req.EmployeeID, req.Period)
		if err != nil {
			return fmt.Errorf("payroll %s/%s: %w", req.EmployeeID, req.Period, err)
		}
		if !cur.CanTransition(payroll.EventSupersede) {
			return fmt.Errorf("%w: correction needs a locked result, %s/%s is %s",
				core.ErrInvalidTransition, req.EmployeeID, req.Period, cur.Status)
		}

		in, cfg, deals, err := s.prepare(ctx, st, req)
		if err != nil {
			return err
		}
		res, err := payroll.ComputePayroll(in, cfg, deals)
		if err != nil {
			return err
		}
		res.ID = s.newID()
		res.Revision = cur.Revision + 1
		res.Supersedes = cur.ID

		old, err := cur.Supersede(ctx)
		if err != nil {
			return err
		}
		if err := st.SaveResult(ctx, old); err != nil {
			return fmt.Errorf("supersede revision %d: %w", cur.Revision, err)
		}
		if err := st.SaveResult(ctx, res); err != nil {
			return fmt.Errorf("save revision %d: %w", res.Revision, err)
		}
		if err := s.postLedger(ctx, st, res); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		s.logFailure("correct", req.EmployeeID, req.Period, err)
		return payroll.Result{}, err
	}
	s.log.Info("payroll corrected",
		zap.String("employee_id", string(out.EmployeeID)),
		zap.Stringer("period", out.Period),
		zap.Int("revision", out.Revision),
		zap.String("supersedes", out.Supersedes))
	return out, nil
}

// LockPeriod closes a month: the period is recorded as locked (deals
// recorded later roll forward) and every draft result in it is locked.
// It returns the number of results locked.
func (s *Service) LockPeriod(ctx context.Context, p core.Period) (int, error) {
	if !p.Valid() {
		return 0, core.Invalid("period", "valid", p.String(), "period must have a year and a month 1-12")
	}
	locked := 0
	err := s.store.WithTx(ctx, func(st Store) error {
		if err := st.LockPeriod(ctx, incentive.LockedPeriod{Period: p, LockedAt: s.now().UTC()}); err != nil {
			return fmt.Errorf("lock period %s: %w", p, err)
		}
		employees, err := st.ListEmployees(ctx)
		if err != nil {
			return err
		}
		for _, emp := range employees {
			cur, err := st.CurrentResult(ctx, emp.ID, p)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !cur.CanTransition(payroll.EventLock) {
				continue
			}
			next, err := cur.Lock(ctx)
			if err != nil {
				return err
			}
			if err := st.SaveResult(ctx, next); err != nil {
				return err
			}
			locked++
		}
		return nil
	})
	if err != nil {
		s.log.Error("period lock failed", zap.Stringer("period", p), zap.Error(err))
		return 0, err
	}
	s.log.Info("period locked", zap.Stringer("period", p), zap.Int("results_locked", locked))
	return locked, nil
}

// PeriodLocked reports whether the month-end lock has been applied to p.
func (s *Service) PeriodLocked(ctx context.Context, p core.Period) (bool, error) {
	locks, err := s.store.LockedPeriods(ctx)
	if err != nil {
		return false, err
	}
	for _, l := range locks {
		if l.Period == p {
			return true, nil
		}
	}
	return false, nil
}

// GetResult returns the current revision and GetHistory every revision.
func (s *Service) GetResult(ctx context.Context, emp core.EmployeeID, p core.Period) (payroll.Result, error) {
	return s.store.CurrentResult(ctx, emp, p)
}

func (s *Service) GetHistory(ctx context.Context, emp core.EmployeeID, p core.Period) ([]payroll.Result, error) {
	return s.store.ResultHistory(ctx, emp, p)
}

func (s *Service) IncentiveLedger(ctx context.Context, emp core.EmployeeID) ([]LedgerEntry, error) {
	if _, err := s.store.GetEmployee(ctx, emp); err != nil {
		return nil, err
	}
	return s.store.Ledger(ctx, emp)
}

// =============================================================================
// FULL & FINAL SETTLEMENT
// =============================================================================

// FNFRequest is the exit of one employee. Attendance nil means every day up
// to the last working day was attended.
type FNFRequest struct {
	EmployeeID      core.EmployeeID
	ResignationDate time.Time
	LastWorkingDate time.Time
	Attendance      *payroll.Attendance
	Overrides       payroll.Overrides
}

func (s *Service) ComputeFNF(ctx context.Context, emp core.EmployeeID, resignation, lastWorking time.Time) (payroll.FNFResult, error) {
	return s.Settle(ctx, FNFRequest{EmployeeID: emp, ResignationDate: resignation, LastWorkingDate: lastWorking})
}

// Settle computes and stores the FNF of an employee. An initiated FNF may
// be recomputed; an approved or paid one may not.
func (s *Service) Settle(ctx context.Context, req FNFRequest) (payroll.FNFResult, error) {
	var out payroll.FNFResult
	err := s.store.WithTx(ctx, func(st Store) error {
		existing, err := st.GetFNF(ctx, req.EmployeeID)
		switch {
		case errors.Is(err, core.ErrNotFound):
		case err != nil:
			return err
		case existing.Status != payroll.FNFInitiated:
			return fmt.Errorf("%w: fnf for %s is already %s", core.ErrInvalidTransition, req.EmployeeID, existing.Status)
		}

		lwd := req.LastWorkingDate.UTC()
		calc := CalculateRequest{EmployeeID: req.EmployeeID, Period: core.PeriodOf(lwd), Overrides: req.Overrides}
		in, cfg, deals, err := s.prepare(ctx, st, calc)
		if err != nil {
			return err
		}
		rec, err := st.GetEmployee(ctx, req.EmployeeID)
		if err != nil {
			return err
		}

		att := payroll.Attendance{PresentDays: lwd.Day()}
		if req.Attendance != nil {
			att = *req.Attendance
		}
		res, err := payroll.ComputeFNF(payroll.FNFInput{
			Employee:              in.Employee,
			ResignationDate:       req.ResignationDate,
			LastWorkingDate:       req.LastWorkingDate,
			TargetGross:           in.TargetGross,
			Attendance:            att,
			Overrides:             req.Overrides,
			LeaveBalanceDays:      rec.LeaveBalanceDays,
			PendingReimbursements: rec.PendingReimbursements,
			UnreturnedAssetValue:  rec.UnreturnedAssetValue,
			AdvanceBalance:        rec.AdvanceBalance,
			Ownership:             in.Ownership,
			LockedPeriods:         in.LockedPeriods,
			Released:              in.Released,
		}, cfg, deals)
		if err != nil {
			return err
		}
		res.ID = existing.ID
		if res.ID == "" {
			res.ID = s.newID()
		}
		res.FinalPayroll.ID = s.newID()
		out = res
		return st.SaveFNF(ctx, res)
	})
	if err != nil {
		s.log.Warn("fnf failed", zap.String("employee_id", string(req.EmployeeID)), zap.Error(err))
		return payroll.FNFResult{}, err
	}
	s.log.Info("fnf computed",
		zap.String("employee_id", string(out.EmployeeID)),
		zap.String("net_amount", out.NetAmount.String()),
		zap.Bool("recoverable", out.RecoverableFromEmployee))
	return out, nil
}

func (s *Service) ApproveFNF(ctx context.Context, emp core.EmployeeID) (payroll.FNFResult, error) {
	return s.transitionFNF(ctx, emp, payroll.EventApprove)
}

func (s *Service) MarkFNFPaid(ctx context.Context, emp core.EmployeeID) (payroll.FNFResult, error) {
	return s.transitionFNF(ctx, emp, payroll.EventPay)
}

func (s *Service) GetFNF(ctx context.Context, emp core.EmployeeID) (payroll.FNFResult, error) {
	return s.store.GetFNF(ctx, emp)
}

func (s *Service) transitionFNF(ctx context.Context, emp core.EmployeeID, event string) (payroll.FNFResult, error) {
	var out payroll.FNFResult
	err := s.store.WithTx(ctx, func(st Store) error {
		cur, err := st.GetFNF(ctx, emp)
		if err != nil {
			return fmt.Errorf("fnf %s: %w", emp, err)
		}
		next, err := cur.Transition(ctx, event)
		if err != nil {
			return err
		}
		out = next
		return st.SaveFNF(ctx, next)
	})
	if err != nil {
		return payroll.FNFResult{}, err
	}
	s.log.Info("fnf transitioned", zap.String("employee_id", string(emp)), zap.String("status", string(out.Status)))
	return out, nil
}

// =============================================================================
// OWNERSHIP TRANSFER
// =============================================================================

// TransferStaleDeals moves deals whose incentive was never released to the
// pool holder once the owner's role ownership window has passed since close.
// Each transfer is its own transaction; a deal moved concurrently by someone
// else is skipped. It returns the number of deals moved.
func (s *Service) TransferStaleDeals(ctx context.Context, now time.Time) (int, error) {
	if s.poolOwner == "" {
		s.log.Debug("no pool owner configured, skipping ownership transfer")
		return 0, nil
	}
	deals, err := s.store.ListDeals(ctx)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, d := range deals {
		if d.Owner == s.poolOwner {
			continue
		}
		transferred := false
		err := s.store.WithTx(ctx, func(st Store) error {
			stale, err := s.isStale(ctx, st, d, now)
			if err != nil || !stale {
				return err
			}
			err = st.TransferDeal(ctx, Transfer{
				DealID: d.ID,
				From:   d.Owner,
				To:     s.poolOwner,
				At:     now.UTC(),
				Reason: "ownership window elapsed",
			})
			transferred = err == nil
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, core.ErrInconsistentState), errors.Is(err, core.ErrNotFound):
			s.log.Warn("deal transfer skipped", zap.String("deal_id", string(d.ID)), zap.Error(err))
			continue
		default:
			return moved, fmt.Errorf("transfer deal %s: %w", d.ID, err)
		}
		if transferred {
			moved++
			s.log.Info("deal transferred to pool",
				zap.String("deal_id", string(d.ID)),
				zap.String("from", string(d.Owner)),
				zap.String("to", string(s.poolOwner)))
		}
	}
	return moved, nil
}

func (s *Service) isStale(ctx context.Context, st Store, d incentive.Deal, now time.Time) (bool, error) {
	emp, err := st.GetEmployee(ctx, d.Owner)
	if err != nil {
		return false, err
	}
	cfg, err := st.GetPolicy(ctx, emp.PolicyID)
	if err != nil {
		return false, err
	}
	window := cfg.OwnershipWindow(emp.Role)
	if window <= 0 || core.DaysBetween(d.ClosedAt, now) <= window {
		return false, nil
	}
	released, err := st.LedgerExists(ctx, LedgerKey(LedgerReleased, d.Owner, d.ID, incentive.SharePrimary))
	if err != nil {
		return false, err
	}
	return !released, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// prepare loads everything one computation reads. Must run inside WithTx so
// the deals and the ownership snapshot are consistent.
func (s *Service) prepare(ctx context.Context, st Store, req CalculateRequest) (payroll.Input, policy.Config, []incentive.Deal, error) {
	rec, err := st.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return payroll.Input{}, policy.Config{}, nil, fmt.Errorf("employee %s: %w", req.EmployeeID, err)
	}
	cfg, err := st.GetPolicy(ctx, rec.PolicyID)
	if err != nil {
		return payroll.Input{}, policy.Config{}, nil, fmt.Errorf("policy %s: %w", rec.PolicyID, err)
	}

	deals, err := s.relevantDeals(ctx, st, rec.ID)
	if err != nil {
		return payroll.Input{}, policy.Config{}, nil, err
	}
	ids := make([]core.DealID, len(deals))
	for i, d := range deals {
		ids[i] = d.ID
	}
	ownership, err := st.Ownership(ctx, ids)
	if err != nil {
		return payroll.Input{}, policy.Config{}, nil, err
	}
	locks, err := st.LockedPeriods(ctx)
	if err != nil {
		return payroll.Input{}, policy.Config{}, nil, err
	}
	released, err := releaseLedger(ctx, st, rec.ID)
	if err != nil {
		return payroll.Input{}, policy.Config{}, nil, err
	}

	gross := rec.TargetGross
	if req.TargetGross != nil {
		gross = *req.TargetGross
	}
	att := payroll.FullAttendance(req.Period)
	if req.Attendance != nil {
		att = *req.Attendance
	}
	return payroll.Input{
		Employee:      rec.Employee(),
		Period:        req.Period,
		TargetGross:   gross,
		Attendance:    att,
		Overrides:     req.Overrides,
		Ownership:     ownership,
		LockedPeriods: locks,
		Released:      released,
	}, cfg, deals, nil
}

// relevantDeals returns the deals the employee owns or co-owns, plus the
// full sequence of everyone who closed one of them (unlock order depends on
// it, and a transferred deal stays in its closer's sequence).
func (s *Service) relevantDeals(ctx context.Context, st Store, emp core.EmployeeID) ([]incentive.Deal, error) {
	owned, err := st.DealsByOwner(ctx, emp)
	if err != nil {
		return nil, err
	}
	coOwned, err := st.DealsByCoOwner(ctx, emp)
	if err != nil {
		return nil, err
	}

	closers := []core.EmployeeID{emp}
	seen := map[core.EmployeeID]bool{emp: true}
	for _, d := range append(owned, coOwned...) {
		c := d.ClosedBy
		if c == "" {
			c = d.Owner
		}
		if !seen[c] {
			seen[c] = true
			closers = append(closers, c)
		}
	}
	sequences, err := st.DealsClosedBy(ctx, closers...)
	if err != nil {
		return nil, err
	}

	byID := make(map[core.DealID]incentive.Deal)
	for _, set := range [][]incentive.Deal{owned, coOwned, sequences} {
		for _, d := range set {
			byID[d.ID] = d
		}
	}
	deals := make([]incentive.Deal, 0, len(byID))
	for _, d := range byID {
		deals = append(deals, d)
	}
	sort.Slice(deals, func(i, j int) bool { return deals[i].ID < deals[j].ID })
	return deals, nil
}

// releaseLedger maps each share already released to the employee to the
// period that paid it.
func releaseLedger(ctx context.Context, st Store, emp core.EmployeeID) (map[incentive.ReleaseKey]core.Period, error) {
	entries, err := st.Ledger(ctx, emp)
	if err != nil {
		return nil, fmt.Errorf("ledger %s: %w", emp, err)
	}
	out := make(map[incentive.ReleaseKey]core.Period)
	for _, e := range entries {
		if e.Kind == LedgerReleased {
			out[incentive.ReleaseKey{Deal: e.DealID, Share: e.Share}] = e.Period
		}
	}
	return out, nil
}

// postLedger appends one entry per released or pending incentive line not
// yet recorded. Recalculations hit existing keys and add nothing.
func (s *Service) postLedger(ctx context.Context, st Store, res payroll.Result) error {
	for _, line := range res.Incentives.Lines {
		var kind LedgerKind
		switch line.Status {
		case incentive.LineReleased:
			kind = LedgerReleased
		case incentive.LinePending:
			kind = LedgerPending
		default:
			continue
		}
		key := LedgerKey(kind, res.EmployeeID, line.DealID, line.Share)
		exists, err := st.LedgerExists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		err = st.AppendLedger(ctx, LedgerEntry{
			ID:             s.newID(),
			EmployeeID:     res.EmployeeID,
			DealID:         line.DealID,
			Share:          line.Share,
			Kind:           kind,
			Period:         res.Period,
			Amount:         line.Amount,
			ResultID:       res.ID,
			IdempotencyKey: key,
			CreatedAt:      s.now().UTC(),
		})
		if err != nil && !errors.Is(err, core.ErrDuplicateIdempotencyKey) {
			return fmt.Errorf("ledger %s: %w", key, err)
		}
	}
	return nil
}

func currentResult(ctx context.Context, st Store, emp core.EmployeeID, p core.Period) (*payroll.Result, error) {
	cur, err := st.CurrentResult(ctx, emp, p)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cur, nil
}

func (s *Service) logFailure(op string, emp core.EmployeeID, p core.Period, err error) {
	fields := []zap.Field{zap.String("op", op), zap.String("employee_id", string(emp)), zap.Stringer("period", p), zap.Error(err)}
	if core.IsClientError(err) || core.IsConflict(err) || core.IsNotFound(err) {
		s.log.Warn("payroll rejected", fields...)
		return
	}
	s.log.Error("payroll failed", fields...)
}

func validateEmployee(e EmployeeRecord) error {
	switch {
	case e.ID == "":
		return core.Invalid("id", "required", "", "employee id is required")
	case !e.Category.Valid():
		return core.Invalid("category", "oneof", string(e.Category), "category must be skilled or unskilled")
	case e.PolicyID == "":
		return core.Invalid("policy_id", "required", "", "policy id is required")
	case e.TargetGross.IsNegative():
		return core.Invalid("target_gross", "non_negative", e.TargetGross.String(), "target gross must not be negative")
	}
	return nil
}

func validateDeal(d incentive.Deal) error {
	switch {
	case d.ID == "":
		return core.Invalid("id", "required", "", "deal id is required")
	case d.Owner == "":
		return core.Invalid("owner", "required", "", "deal owner is required")
	case !d.CV.IsPositive():
		return core.Invalid("cv", "positive", d.CV.String(), "consideration value must be positive")
	case d.Value.IsNegative():
		return core.Invalid("value", "non_negative", d.Value.String(), "deal value must not be negative")
	case d.ClosedAt.IsZero():
		return core.Invalid("closed_at", "required", "", "close timestamp is required")
	case d.Type != "" && d.Type != incentive.DealNormal && d.Type != incentive.DealNPL:
		return core.Invalid("type", "oneof", string(d.Type), "deal type must be normal or npl")
	}
	return nil
}
