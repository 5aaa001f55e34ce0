/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's documents from the wire contract.

NAMING CONVENTION:
  - *DTO:  Response types returned to clients
  - *Body: Request body types from clients
  - Field names are snake_case on the wire

NUMERIC INPUT:
  Day counts in adjustment and working-day bodies are kept as raw JSON so
  that numbers, numeric strings, "" and null can be told apart
  (generic.ParseDays).

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

// SubmitRequestBody is the body of POST /requests and PATCH /requests/{id}.
type SubmitRequestBody struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Note      string `json:"note"`
}

// AdjustBalanceBody is the body of POST /balances/{userID}/adjust.
type AdjustBalanceBody struct {
	AssignedAnnual json.RawMessage `json:"assigned_annual"`
	CarriedOver    json.RawMessage `json:"carried_over"`
	DeltaExtra     json.RawMessage `json:"delta_extra"`
	Comment        string          `json:"comment"`
}

// ReplaceHolidaysBody is the body of PUT /holidays. Non-string dates are
// dropped like any other invalid date.
type ReplaceHolidaysBody struct {
	Year  json.RawMessage `json:"year"`
	Dates []any           `json:"dates"`
}

type CreateDepartmentBody struct {
	Name      string `json:"name"`
	ManagerID string `json:"manager_id"`
}

// WorkingDaysBody is the body of PUT /users/{userID}/working-days.
type WorkingDaysBody struct {
	WorkingDays json.RawMessage `json:"working_days"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type MeDTO struct {
	UID          string  `json:"uid"`
	Email        string  `json:"email"`
	Role         string  `json:"role"`
	DepartmentID *string `json:"department_id"`
	DisplayName  *string `json:"display_name"`
}

// RequestDTO represents a leave request in API responses.
type RequestDTO struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	UserEmail       string     `json:"user_email"`
	UserDisplayName *string    `json:"user_display_name"`
	UserRole        string     `json:"user_role"`
	DepartmentID    *string    `json:"department_id"`
	Type            string     `json:"type"`
	StartDate       string     `json:"start_date"`
	EndDate         string     `json:"end_date"`
	Status          string     `json:"status"`
	ApproverID      *string    `json:"approver_id"`
	ApprovedAt      *time.Time `json:"approved_at"`
	Note            *string    `json:"note"`
	ConsumedDays    int        `json:"consumed_days"`
	EstimatedDays   *int       `json:"estimated_days,omitempty"`
	WorkingDays     []int      `json:"working_days,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type AdjustmentMarkDTO struct {
	Delta   int       `json:"delta"`
	Comment *string   `json:"comment"`
	By      string    `json:"by"`
	At      time.Time `json:"at"`
}

// BalanceDTO represents an employee balance.
type BalanceDTO struct {
	UserID         string             `json:"user_id"`
	AssignedAnnual int                `json:"assigned_annual"`
	CarriedOver    int                `json:"carried_over"`
	Extra          int                `json:"extra"`
	Consumed       int                `json:"consumed"`
	Available      int                `json:"available"`
	LastAdjustment *AdjustmentMarkDTO `json:"last_adjustment,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// EmployeeBalanceDTO is a balance listed with its directory entry.
type EmployeeBalanceDTO struct {
	BalanceDTO
	Email        string  `json:"email"`
	DisplayName  *string `json:"display_name"`
	DepartmentID *string `json:"department_id"`
}

type AdjustmentDTO struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	DeltaExtra     int       `json:"delta_extra"`
	Comment        *string   `json:"comment"`
	AssignedAnnual int       `json:"assigned_annual"`
	CarriedOver    int       `json:"carried_over"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type HolidayDTO struct {
	Year int    `json:"year"`
	Date string `json:"date"`
}

type DepartmentDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ManagerID *string   `json:"manager_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PersonDTO struct {
	UserID       string  `json:"user_id"`
	Email        string  `json:"email"`
	DisplayName  *string `json:"display_name"`
	Role         *string `json:"role"`
	DepartmentID *string `json:"department_id"`
	WorkingDays  []int   `json:"working_days"`
}

// ItemsResponse wraps every list response.
type ItemsResponse[T any] struct {
	Items []T `json:"items"`
}

// ErrorResponse carries a stable error code and optional detail.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toRequestDTO(r generic.Request) RequestDTO {
	return RequestDTO{
		ID:              r.ID,
		UserID:          r.EmployeeID,
		UserEmail:       r.Requester.Email,
		UserDisplayName: optional(r.Requester.DisplayName),
		UserRole:        r.Requester.Role,
		DepartmentID:    optional(r.Requester.DepartmentID),
		Type:            r.Resource.String(),
		StartDate:       r.Start.String(),
		EndDate:         r.End.String(),
		Status:          string(r.Status),
		ApproverID:      optional(r.ApproverID),
		ApprovedAt:      r.ApprovedAt,
		Note:            optional(r.Note),
		ConsumedDays:    r.ConsumedDays,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toBalanceDTO(b generic.Balance) BalanceDTO {
	dto := BalanceDTO{
		UserID:         b.EmployeeID,
		AssignedAnnual: b.AssignedAnnual,
		CarriedOver:    b.CarriedOver,
		Extra:          b.Extra,
		Consumed:       b.Consumed,
		Available:      b.Available,
		UpdatedAt:      b.UpdatedAt,
	}
	if m := b.LastAdjustment; m != nil {
		dto.LastAdjustment = &AdjustmentMarkDTO{Delta: m.Delta, Comment: optional(m.Comment), By: m.By, At: m.At}
	}
	return dto
}

func toEmployeeBalanceDTO(eb timeoff.EmployeeBalance) EmployeeBalanceDTO {
	return EmployeeBalanceDTO{
		BalanceDTO:   toBalanceDTO(eb.Balance),
		Email:        eb.Person.Email,
		DisplayName:  optional(eb.Person.DisplayName),
		DepartmentID: optional(eb.Person.DepartmentID),
	}
}

func toAdjustmentDTO(a generic.BalanceAdjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:             a.ID,
		UserID:         a.EmployeeID,
		DeltaExtra:     a.DeltaExtra,
		Comment:        optional(a.Comment),
		AssignedAnnual: a.AssignedAnnual,
		CarriedOver:    a.CarriedOver,
		CreatedBy:      a.CreatedBy,
		CreatedAt:      a.CreatedAt,
	}
}

func toDepartmentDTO(d generic.Department) DepartmentDTO {
	return DepartmentDTO{
		ID:        d.ID,
		Name:      d.Name,
		ManagerID: optional(d.ManagerID),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func toPersonDTO(p timeoff.PersonView) PersonDTO {
	return PersonDTO{
		UserID:       p.UID,
		Email:        p.Email,
		DisplayName:  optional(p.DisplayName),
		Role:         optional(string(p.Role)),
		DepartmentID: optional(p.DepartmentID),
		WorkingDays:  []int(p.WorkingDays),
	}
}

// mapSlice converts every element of in with fn.
func mapSlice[T, U any](in []T, fn func(T) U) []U {
	out := make([]U, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}
