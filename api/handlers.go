/*
handlers.go - HTTP handlers for the settlement engine

PURPOSE:
  Thin HTTP layer over payrun.Service. Handlers decode and validate the
  request, call one service operation and map the outcome to a status code.

ENDPOINTS:
  Payroll:
    POST /api/payroll/calculate                         Compute (or recompute) a draft
    POST /api/payroll/correct                           Supersede a locked result
    GET  /api/payroll/{employee}/{year}/{month}         Current revision
    GET  /api/payroll/{employee}/{year}/{month}/history All revisions
    POST /api/payroll/{employee}/{year}/{month}/lock    Lock one result

  Periods:
    POST /api/periods/{year}/{month}/lock               Month-end lock

  FNF:
    POST /api/fnf                                       Compute settlement
    GET  /api/fnf/{employee}                            Current settlement
    POST /api/fnf/{employee}/approve
    POST /api/fnf/{employee}/pay

  Master data:
    POST /api/employees, GET /api/employees, GET /api/employees/{id}
    GET  /api/employees/{id}/incentive-ledger
    POST /api/deals
    POST /api/policies (JSON or YAML), GET /api/policies/{id}

  Admin:
    POST /api/admin/transfers                           Run ownership transfer now

ERROR MAPPING:
  core.IsClientError -> 400 (validation, invalid lifecycle transition)
  core.IsNotFound    -> 404 (missing employee, policy, result)
  core.IsConflict    -> 409 (locked period, stale ownership, duplicate)
  anything else      -> 500

SEE ALSO:
  - dto.go: request bodies
  - server.go: route wiring
  - payrun/service.go: the operations
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/payrun"
	"github.com/warp/settlement-engine/policy"
)

const maxPolicyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc      *payrun.Service
	policies *factory.PolicyFactory
	validate *validator.Validate
	log      *zap.Logger
	now      func() time.Time
}

func NewHandler(svc *payrun.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		svc:      svc,
		policies: factory.NewPolicyFactory(),
		validate: newValidator(),
		log:      log.Named("api"),
		now:      time.Now,
	}
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// CalculatePayroll computes the draft payroll of one employee.
// POST /api/payroll/calculate
func (h *Handler) CalculatePayroll(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Calculate(r.Context(), req.toService())
	if err != nil {
		h.writeServiceError(w, "Failed to calculate payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CorrectPayroll issues a new revision of a locked result.
// POST /api/payroll/correct
func (h *Handler) CorrectPayroll(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Correct(r.Context(), req.toService())
	if err != nil {
		h.writeServiceError(w, "Failed to correct payroll", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetPayroll returns the current revision.
// GET /api/payroll/{employee}/{year}/{month}
func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetResult(r.Context(), core.EmployeeID(chi.URLParam(r, "employee")), period)
	if err != nil {
		h.writeServiceError(w, "Failed to get payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetPayrollHistory returns every revision, oldest first.
// GET /api/payroll/{employee}/{year}/{month}/history
func (h *Handler) GetPayrollHistory(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	history, err := h.svc.GetHistory(r.Context(), core.EmployeeID(chi.URLParam(r, "employee")), period)
	if err != nil {
		h.writeServiceError(w, "Failed to get payroll history", err)
		return
	}
	if len(history) == 0 {
		writeError(w, http.StatusNotFound, "Payroll not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// LockPayroll locks one employee's result.
// POST /api/payroll/{employee}/{year}/{month}/lock
func (h *Handler) LockPayroll(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Lock(r.Context(), core.EmployeeID(chi.URLParam(r, "employee")), period)
	if err != nil {
		h.writeServiceError(w, "Failed to lock payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LockPeriod runs the month-end lock for every employee.
// POST /api/periods/{year}/{month}/lock
func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	n, err := h.svc.LockPeriod(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, "Failed to lock period", err)
		return
	}
	writeJSON(w, http.StatusOK, PeriodLockDTO{Period: period, ResultsLocked: n})
}

// =============================================================================
// FNF HANDLERS
// =============================================================================

// SettleFNF computes the full and final settlement of an exiting employee.
// POST /api/fnf
func (h *Handler) SettleFNF(w http.ResponseWriter, r *http.Request) {
	var req FNFRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Settle(r.Context(), req.toService())
	if err != nil {
		h.writeServiceError(w, "Failed to compute settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/fnf/{employee}
func (h *Handler) GetFNF(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetFNF(r.Context(), core.EmployeeID(chi.URLParam(r, "employee")))
	if err != nil {
		h.writeServiceError(w, "Failed to get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/fnf/{employee}/approve
func (h *Handler) ApproveFNF(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ApproveFNF(r.Context(), core.EmployeeID(chi.URLParam(r, "employee")))
	if err != nil {
		h.writeServiceError(w, "Failed to approve settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/fnf/{employee}/pay
func (h *Handler) PayFNF(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.MarkFNFPaid(r.Context(), core.EmployeeID(chi.URLParam(r, "employee")))
	if err != nil {
		h.writeServiceError(w, "Failed to mark settlement paid", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// CreateEmployee stores employee master data.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec := req.toRecord()
	if err := h.svc.SaveEmployee(r.Context(), rec); err != nil {
		h.writeServiceError(w, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GET /api/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	emps, err := h.svc.Store().ListEmployees(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list employees", err)
		return
	}
	if emps == nil {
		emps = []payrun.EmployeeRecord{}
	}
	writeJSON(w, http.StatusOK, emps)
}

// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.svc.Store().GetEmployee(r.Context(), core.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

// GetIncentiveLedger returns the pending and released incentive lines.
// GET /api/employees/{id}/incentive-ledger
func (h *Handler) GetIncentiveLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.IncentiveLedger(r.Context(), core.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "Failed to get incentive ledger", err)
		return
	}
	if entries == nil {
		entries = []payrun.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// RecordDeal stores a closed deal.
// POST /api/deals
func (h *Handler) RecordDeal(w http.ResponseWriter, r *http.Request) {
	var req RecordDealRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.svc.RecordDeal(r.Context(), req.toDeal())
	if err != nil {
		h.writeServiceError(w, "Failed to record deal", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// CreatePolicy accepts a policy document as JSON or YAML.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPolicyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	cfg, err := h.policies.Parse(body, factory.DetectFormat(body))
	if err != nil {
		if core.IsClientError(err) {
			h.writeServiceError(w, "Invalid policy configuration", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid policy configuration", err)
		return
	}
	if err := h.svc.SavePolicy(r.Context(), cfg); err != nil {
		h.writeServiceError(w, "Failed to create policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.policyDTO(cfg))
}

// GET /api/policies/{id}
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Store().GetPolicy(r.Context(), core.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, h.policyDTO(cfg))
}

func (h *Handler) policyDTO(cfg policy.Config) PolicyDTO {
	dto := PolicyDTO{
		ID:       string(cfg.ID),
		Name:     cfg.Name,
		Version:  cfg.Version,
		Document: h.policies.ToDocument(cfg),
	}
	if !cfg.EffectiveFrom.IsZero() {
		dto.EffectiveFrom = cfg.EffectiveFrom.Format(time.DateOnly)
	}
	return dto
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunTransfers moves stale deals to the pool owner immediately.
// POST /api/admin/transfers
func (h *Handler) RunTransfers(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.TransferStaleDeals(r.Context(), h.now())
	if err != nil {
		h.writeServiceError(w, "Failed to transfer deals", err)
		return
	}
	writeJSON(w, http.StatusOK, TransferRunDTO{DealsMoved: n})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body and validates it. On failure the response has
// been written and false is returned.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  "Request validation failed",
				Fields: fieldDetails(verrs),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func periodParam(w http.ResponseWriter, r *http.Request) (core.Period, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return core.Period{}, false
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month", fmt.Errorf("month %q", chi.URLParam(r, "month")))
		return core.Period{}, false
	}
	return core.NewPeriod(year, time.Month(month)), true
}

// writeServiceError maps a service error onto a status code.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   message,
			Field:   verr.Field,
			Rule:    verr.Rule,
			Details: verr.Error(),
		})
	case core.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case core.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
