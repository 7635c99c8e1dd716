/*
dto.go - Request and response bodies of the HTTP API

PURPOSE:
  Defines the JSON accepted by the API and the conversion into service
  requests. Payroll results and FNF settlements are returned as-is; their
  JSON form is defined next to the types in package payroll.

NAMING CONVENTION:
  - *Request: request bodies from clients
  - *DTO:     response types that differ from the domain type

VALIDATION:
  Request shape (required fields, enums, date formats) is checked with
  validator/v10 struct tags before anything reaches the service. Business
  rules (minimum wage, policy bounds, lifecycle) stay in the domain and
  come back as core.ValidationError.

SEE ALSO:
  - handlers.go: uses these types
  - payroll/types.go: Result, Attendance, Overrides
*/
package api

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/incentive"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/payrun"
)

// =============================================================================
// PAYROLL
// =============================================================================

// CalculateRequest is the body of POST /api/payroll/calculate and
// POST /api/payroll/correct.
type CalculateRequest struct {
	EmployeeID  string              `json:"employee_id" validate:"required"`
	Year        int                 `json:"year" validate:"required,gte=2000,lte=2100"`
	Month       int                 `json:"month" validate:"required,min=1,max=12"`
	TargetGross *decimal.Decimal    `json:"target_gross,omitempty"`
	Attendance  *payroll.Attendance `json:"attendance,omitempty"`
	Overrides   payroll.Overrides   `json:"overrides"`
}

func (r CalculateRequest) toService() payrun.CalculateRequest {
	return payrun.CalculateRequest{
		EmployeeID:  core.EmployeeID(r.EmployeeID),
		Period:      core.NewPeriod(r.Year, time.Month(r.Month)),
		TargetGross: r.TargetGross,
		Attendance:  r.Attendance,
		Overrides:   r.Overrides,
	}
}

// =============================================================================
// FULL AND FINAL SETTLEMENT
// =============================================================================

type FNFRequest struct {
	EmployeeID      string              `json:"employee_id" validate:"required"`
	ResignationDate string              `json:"resignation_date" validate:"required,datetime=2006-01-02"`
	LastWorkingDate string              `json:"last_working_date" validate:"required,datetime=2006-01-02"`
	Attendance      *payroll.Attendance `json:"attendance,omitempty"`
	Overrides       payroll.Overrides   `json:"overrides"`
}

// toService assumes the dates passed validation.
func (r FNFRequest) toService() payrun.FNFRequest {
	resignation, _ := time.Parse(time.DateOnly, r.ResignationDate)
	lwd, _ := time.Parse(time.DateOnly, r.LastWorkingDate)
	return payrun.FNFRequest{
		EmployeeID:      core.EmployeeID(r.EmployeeID),
		ResignationDate: resignation,
		LastWorkingDate: lwd,
		Attendance:      r.Attendance,
		Overrides:       r.Overrides,
	}
}

// =============================================================================
// MASTER DATA
// =============================================================================

type CreateEmployeeRequest struct {
	ID           string           `json:"id" validate:"required,max=64"`
	Name         string           `json:"name" validate:"required"`
	Role         string           `json:"role"`
	Category     string           `json:"category" validate:"required,oneof=skilled unskilled"`
	BasicPercent *decimal.Decimal `json:"basic_percent,omitempty"`
	JoinDate     string           `json:"join_date" validate:"required,datetime=2006-01-02"`
	PolicyID     string           `json:"policy_id" validate:"required"`
	TargetGross  decimal.Decimal  `json:"target_gross"`

	LeaveBalanceDays      decimal.Decimal `json:"leave_balance_days"`
	PendingReimbursements decimal.Decimal `json:"pending_reimbursements"`
	UnreturnedAssetValue  decimal.Decimal `json:"unreturned_asset_value"`
	AdvanceBalance        decimal.Decimal `json:"advance_balance"`
}

func (r CreateEmployeeRequest) toRecord() payrun.EmployeeRecord {
	joined, _ := time.Parse(time.DateOnly, r.JoinDate)
	return payrun.EmployeeRecord{
		ID:                    core.EmployeeID(r.ID),
		Name:                  r.Name,
		Role:                  core.Role(r.Role),
		Category:              core.Category(r.Category),
		BasicPercent:          r.BasicPercent,
		JoinDate:              joined,
		PolicyID:              core.PolicyID(r.PolicyID),
		TargetGross:           r.TargetGross,
		LeaveBalanceDays:      r.LeaveBalanceDays,
		PendingReimbursements: r.PendingReimbursements,
		UnreturnedAssetValue:  r.UnreturnedAssetValue,
		AdvanceBalance:        r.AdvanceBalance,
	}
}

// RecordDealRequest is a closed deal pushed by the sales system.
type RecordDealRequest struct {
	ID       string          `json:"id" validate:"required"`
	Owner    string          `json:"owner" validate:"required"`
	CoOwner  string          `json:"co_owner,omitempty" validate:"omitempty,nefield=Owner"`
	Value    decimal.Decimal `json:"value"`
	CV       decimal.Decimal `json:"cv"`
	Type     string          `json:"type,omitempty" validate:"omitempty,oneof=normal npl"`
	ClosedAt time.Time       `json:"closed_at" validate:"required"`
}

func (r RecordDealRequest) toDeal() incentive.Deal {
	return incentive.Deal{
		ID:       core.DealID(r.ID),
		Owner:    core.EmployeeID(r.Owner),
		CoOwner:  core.EmployeeID(r.CoOwner),
		Value:    r.Value,
		CV:       r.CV,
		Type:     incentive.DealType(r.Type),
		ClosedAt: r.ClosedAt,
	}
}

// =============================================================================
// RESPONSES
// =============================================================================

type PolicyDTO struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Version       int                    `json:"version"`
	EffectiveFrom string                 `json:"effective_from,omitempty"`
	Document      factory.PolicyDocument `json:"document"`
}

type PeriodLockDTO struct {
	Period        core.Period `json:"period"`
	ResultsLocked int         `json:"results_locked"`
}

type TransferRunDTO struct {
	DealsMoved int `json:"deals_moved"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Field   string        `json:"field,omitempty"`
	Rule    string        `json:"rule,omitempty"`
	Details string        `json:"details,omitempty"`
	Fields  []FieldDetail `json:"fields,omitempty"`
}

type FieldDetail struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// =============================================================================
// VALIDATION
// =============================================================================

// newValidator reports errors under the JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func fieldDetails(errs validator.ValidationErrors) []FieldDetail {
	out := make([]FieldDetail, 0, len(errs))
	for _, e := range errs {
		out = append(out, FieldDetail{Field: e.Field(), Rule: e.Tag(), Message: validationMessage(e)})
	}
	return out
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "datetime":
		return "Must be a date in " + e.Param() + " format"
	case "min", "gte":
		return "Must be at least " + e.Param()
	case "max", "lte":
		if e.Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		return "Must be at most " + e.Param()
	case "nefield":
		return "Must differ from " + e.Param()
	default:
		return "Invalid value"
	}
}
