package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/payrun"
	"github.com/warp/settlement-engine/store/memory"
)

var march2025 = core.NewPeriod(2025, time.March)

func deal(id, owner string, day int) incentive.Deal {
	return incentive.Deal{
		ID:       core.DealID(id),
		Owner:    core.EmployeeID(owner),
		Value:    decimal.NewFromInt(100000),
		CV:       decimal.NewFromInt(10000000),
		ClosedAt: time.Date(2025, time.March, day, 10, 0, 0, 0, time.UTC),
	}
}

func TestWithTx_RestoresSnapshotOnError(t *testing.T) {
	// GIVEN: A store holding one deal
	// WHEN: A transaction transfers it, appends to the ledger, then fails
	// THEN: Neither write is visible afterwards

	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.SaveDeal(ctx, deal("d1", "rep-1", 3)))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(st payrun.Store) error {
		require.NoError(t, st.TransferDeal(ctx, payrun.Transfer{DealID: "d1", From: "rep-1", To: "pool"}))
		require.NoError(t, st.AppendLedger(ctx, payrun.LedgerEntry{EmployeeID: "rep-1", IdempotencyKey: "k1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	owners, err := m.Ownership(ctx, []core.DealID{"d1"})
	require.NoError(t, err)
	assert.Equal(t, core.EmployeeID("rep-1"), owners["d1"])

	exists, err := m.LedgerExists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, m.Transfers())
}

func TestTransferDeal_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.SaveDeal(ctx, deal("d1", "rep-1", 3)))

	require.NoError(t, m.TransferDeal(ctx, payrun.Transfer{DealID: "d1", From: "rep-1", To: "pool"}))

	err := m.TransferDeal(ctx, payrun.Transfer{DealID: "d1", From: "rep-1", To: "rep-2"})
	var stale *core.InconsistentStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, core.EmployeeID("pool"), stale.Current)

	owned, err := m.DealsByOwner(ctx, "pool")
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	closed, err := m.DealsClosedBy(ctx, "rep-1")
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, core.EmployeeID("pool"), closed[0].Owner)
	assert.Equal(t, core.EmployeeID("rep-1"), closed[0].ClosedBy)
}

func TestResults_CurrentIsHighestRevision(t *testing.T) {
	ctx := context.Background()
	m := memory.New()

	r2 := payroll.Result{ID: "r2", EmployeeID: "emp-1", Period: march2025, Revision: 2, Status: payroll.StatusDraft}
	r1 := payroll.Result{ID: "r1", EmployeeID: "emp-1", Period: march2025, Revision: 1, Status: payroll.StatusSuperseded}
	require.NoError(t, m.SaveResult(ctx, r2))
	require.NoError(t, m.SaveResult(ctx, r1))

	cur, err := m.CurrentResult(ctx, "emp-1", march2025)
	require.NoError(t, err)
	assert.Equal(t, "r2", cur.ID)

	history, err := m.ResultHistory(ctx, "emp-1", march2025)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "r1", history[0].ID)
}

func TestLedger_DuplicateKeyRejected(t *testing.T) {
	ctx := context.Background()
	m := memory.New()

	e := payrun.LedgerEntry{ID: "l1", EmployeeID: "rep-1", IdempotencyKey: "released/rep-1/d1/primary"}
	require.NoError(t, m.AppendLedger(ctx, e))
	assert.ErrorIs(t, m.AppendLedger(ctx, e), core.ErrDuplicateIdempotencyKey)

	entries, err := m.Ledger(ctx, "rep-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
