/*
scenarios.go - Demo scenario loaders for demonstrations

PURPOSE:

	Provides pre-built scenarios that populate an empty database with
	realistic data for demos and manual testing. Each scenario creates a
	policy, employees and deals that exercise a specific feature.

AVAILABLE SCENARIOS:

	sales-team:      Two reps on an N+1 unlock rule, one co-owned deal
	exit-settlement: Long-tenured employee with leave, advance and assets

HOW SCENARIOS WORK:
 1. Create the policy from its YAML document via the factory
 2. Create employees
 3. Record deals through the service (same validation as the API)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "sales-team"}

NOTE:

	Scenarios do not reset the database. Loading one twice fails on the
	duplicate deal ids. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: service-backed handlers the scenarios feed
  - factory/policy.go: policy document schema
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/payrun"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "sales-team",
			Name:        "Sales Team",
			Description: "Two reps with N+1 unlock, a co-owned deal and an NPL deal in March 2025",
		},
		load: loadSalesTeamScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "exit-settlement",
			Name:        "Exit Settlement",
			Description: "Employee with six years of service, leave balance, an advance and an unreturned laptop",
		},
		load: loadExitSettlementScenario,
	},
}

const demoPolicyYAML = `
id: demo-2025
name: Demo Policy 2025
version: 1
effective_from: "2025-01-01"
professional_tax:
  mode: fixed
  amount: 200
sales_policies:
  - role: sales
    min_sales: 0
    max_sales: 4
    normal_incentive_rate: 0.01
    npl_incentive_rate: 0.005
    normal_ratio_threshold: 0.005
    npl_ratio_threshold: 0.0025
    supportive_split_percent: 0.4
    unlock_sequence_rule: N+1
    ownership_days: 60
  - role: sales
    min_sales: 5
    normal_incentive_rate: 0.015
    npl_incentive_rate: 0.0075
    normal_ratio_threshold: 0.005
    npl_ratio_threshold: 0.0025
    salary_reward_percent: 0.10
    salary_reward_threshold: 5
    supportive_split_percent: 0.4
    unlock_sequence_rule: N+1
    ownership_days: 60
`

// =============================================================================
// HANDLERS
// =============================================================================

// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, out)
}

// LoadScenario seeds the database with one scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	for _, s := range scenarios {
		if s.ID != req.ScenarioID {
			continue
		}
		if err := s.load(r.Context(), h); err != nil {
			h.writeServiceError(w, "Failed to load scenario", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": s.ID})
		return
	}
	writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
}

// =============================================================================
// LOADERS
// =============================================================================

func loadSalesTeamScenario(ctx context.Context, h *Handler) error {
	if err := h.ensureDemoPolicy(ctx); err != nil {
		return err
	}

	reps := []payrun.EmployeeRecord{
		demoEmployee("rep-asha", "Asha Rao", "sales", 30000, time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC)),
		demoEmployee("rep-vikram", "Vikram Shah", "sales", 28000, time.Date(2024, time.February, 12, 0, 0, 0, 0, time.UTC)),
	}
	for _, e := range reps {
		if err := h.svc.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}

	march := func(day int) time.Time { return time.Date(2025, time.March, day, 11, 0, 0, 0, time.UTC) }
	deals := []incentive.Deal{
		{ID: "deal-1001", Owner: "rep-asha", Value: decimal.NewFromInt(120000), CV: decimal.NewFromInt(10000000), ClosedAt: march(4)},
		{ID: "deal-1002", Owner: "rep-asha", CoOwner: "rep-vikram", Value: decimal.NewFromInt(90000), CV: decimal.NewFromInt(8000000), ClosedAt: march(11)},
		{ID: "deal-1003", Owner: "rep-asha", Value: decimal.NewFromInt(40000), CV: decimal.NewFromInt(6000000), Type: incentive.DealNPL, ClosedAt: march(19)},
		{ID: "deal-2001", Owner: "rep-vikram", Value: decimal.NewFromInt(75000), CV: decimal.NewFromInt(7000000), ClosedAt: march(7)},
	}
	for _, d := range deals {
		d.RecordedAt = d.ClosedAt
		if _, err := h.svc.RecordDeal(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func loadExitSettlementScenario(ctx context.Context, h *Handler) error {
	if err := h.ensureDemoPolicy(ctx); err != nil {
		return err
	}
	e := demoEmployee("emp-leaving", "Meera Iyer", "operations", 45000, time.Date(2019, time.January, 7, 0, 0, 0, 0, time.UTC))
	e.LeaveBalanceDays = decimal.NewFromInt(12)
	e.AdvanceBalance = decimal.NewFromInt(5000)
	e.UnreturnedAssetValue = decimal.NewFromInt(18000)
	e.PendingReimbursements = decimal.NewFromInt(2300)
	return h.svc.SaveEmployee(ctx, e)
}

// ensureDemoPolicy stores the demo policy unless it already exists.
func (h *Handler) ensureDemoPolicy(ctx context.Context) error {
	_, err := h.svc.Store().GetPolicy(ctx, "demo-2025")
	if err == nil {
		return nil
	}
	if !core.IsNotFound(err) {
		return err
	}
	cfg, err := h.policies.Parse([]byte(demoPolicyYAML), factory.FormatYAML)
	if err != nil {
		return fmt.Errorf("demo policy: %w", err)
	}
	return h.svc.SavePolicy(ctx, cfg)
}

func demoEmployee(id, name, role string, gross int64, joined time.Time) payrun.EmployeeRecord {
	return payrun.EmployeeRecord{
		ID:          core.EmployeeID(id),
		Name:        name,
		Role:        core.Role(role),
		Category:    core.CategorySkilled,
		JoinDate:    joined,
		PolicyID:    "demo-2025",
		TargetGross: decimal.NewFromInt(gross),
	}
}
