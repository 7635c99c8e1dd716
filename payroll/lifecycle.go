package payroll

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/warp/settlement-engine/core"
)

// =============================================================================
// LIFECYCLE - draft → locked → superseded, initiated → approved → paid
// =============================================================================

type Status string

const (
	StatusDraft      Status = "draft"
	StatusLocked     Status = "locked"
	StatusSuperseded Status = "superseded"
)

type FNFStatus string

const (
	FNFInitiated FNFStatus = "initiated"
	FNFApproved  FNFStatus = "approved"
	FNFPaid      FNFStatus = "paid"
)

const (
	EventLock      = "lock"
	EventSupersede = "supersede"
	EventApprove   = "approve"
	EventPay       = "pay"
)

func resultMachine(current Status) *fsm.FSM {
	return fsm.NewFSM(
		string(current),
		fsm.Events{
			// draft → locked (period closed, result frozen)
			{Name: EventLock, Src: []string{string(StatusDraft)}, Dst: string(StatusLocked)},
			// locked → superseded (a correction revision replaced it)
			{Name: EventSupersede, Src: []string{string(StatusLocked)}, Dst: string(StatusSuperseded)},
		},
		fsm.Callbacks{},
	)
}

func fnfMachine(current FNFStatus) *fsm.FSM {
	return fsm.NewFSM(
		string(current),
		fsm.Events{
			{Name: EventApprove, Src: []string{string(FNFInitiated)}, Dst: string(FNFApproved)},
			{Name: EventPay, Src: []string{string(FNFApproved)}, Dst: string(FNFPaid)},
		},
		fsm.Callbacks{},
	)
}

// Transition returns a copy of r moved by event. The receiver is untouched.
func (r Result) Transition(ctx context.Context, event string) (Result, error) {
	next, err := fire(ctx, resultMachine(r.Status), event)
	if err != nil {
		return Result{}, fmt.Errorf("payroll %s/%s: %w", r.EmployeeID, r.Period, err)
	}
	r.Status = Status(next)
	return r, nil
}

func (r Result) Lock(ctx context.Context) (Result, error) { return r.Transition(ctx, EventLock) }

func (r Result) Supersede(ctx context.Context) (Result, error) {
	return r.Transition(ctx, EventSupersede)
}

// CanTransition reports whether event is allowed from the current status.
func (r Result) CanTransition(event string) bool {
	return resultMachine(r.Status).Can(event)
}

// Transition returns a copy of f moved by event.
func (f FNFResult) Transition(ctx context.Context, event string) (FNFResult, error) {
	next, err := fire(ctx, fnfMachine(f.Status), event)
	if err != nil {
		return FNFResult{}, fmt.Errorf("fnf %s: %w", f.EmployeeID, err)
	}
	f.Status = FNFStatus(next)
	return f, nil
}

func (f FNFResult) Approve(ctx context.Context) (FNFResult, error) {
	return f.Transition(ctx, EventApprove)
}

func (f FNFResult) MarkPaid(ctx context.Context) (FNFResult, error) {
	return f.Transition(ctx, EventPay)
}

func fire(ctx context.Context, m *fsm.FSM, event string) (string, error) {
	from := m.Current()
	if err := m.Event(ctx, event); err != nil {
		return "", fmt.Errorf("%w: %s from %s: %v", core.ErrInvalidTransition, event, from, err)
	}
	return m.Current(), nil
}
