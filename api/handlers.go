/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes timeoff.Service over REST. Handles HTTP request/response and
  JSON serialization; every rule lives in the service.

ENDPOINTS:
  Requests:
    GET    /requests                       Role-scoped listing with estimates
    POST   /requests                       Submit
    PATCH  /requests/{id}                  Edit (approved -> pending)
    POST   /requests/{id}/approve          Approve, consumes days
    POST   /requests/{id}/reject           Reject
    GET    /requests/{id}/estimate         Consumable days of a pending request

  Balances:
    GET    /balances                       Role-scoped balances
    GET    /balances/{userID}              One balance
    POST   /balances/{userID}/adjust       Manual adjustment
    GET    /balances/{userID}/adjustments  Audit trail

  Calendar & settings:
    GET    /calendar                       Requests intersecting a window
    GET    /holidays?year=                 Holidays of a year
    PUT    /holidays                       Replace a year's holidays
    GET    /departments                    List departments
    POST   /departments                    Create department
    GET    /users                          Directory with working days
    PUT    /users/{userID}/working-days    Set working days

ERROR HANDLING:
  Errors are returned as {"error": "<code>"} with:
  - 400: validation, overlap, invalid_state, invalid_argument
  - 403: forbidden
  - 404: not_found
  - 409: conflict (concurrent modification, safe to retry)
  - 500: "<operation>_error", details logged only

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *timeoff.Service

	// Ping reports store health; nil means always healthy.
	Ping func(ctx context.Context) error
}

func NewHandler(svc *timeoff.Service) *Handler {
	return &Handler{Service: svc}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	writeJSON(w, http.StatusOK, MeDTO{
		UID:          actor.UID,
		Email:        actor.Email,
		Role:         string(actor.Role),
		DepartmentID: optional(actor.DepartmentID),
		DisplayName:  optional(actor.DisplayName),
	})
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	views, err := h.Service.ListRequests(r.Context(), mustActor(r), timeoff.RequestQuery{
		EmployeeID:   strings.TrimSpace(q.Get("user_id")),
		DepartmentID: strings.TrimSpace(q.Get("department_id")),
		Status:       generic.RequestStatus(strings.TrimSpace(q.Get("status"))),
	})
	if err != nil {
		writeServiceError(w, r, "requests_list", err)
		return
	}

	items := make([]RequestDTO, 0, len(views))
	for _, v := range views {
		dto := toRequestDTO(v.Request)
		dto.EstimatedDays = v.EstimatedDays
		items = append(items, dto)
	}
	writeJSON(w, http.StatusOK, ItemsResponse[RequestDTO]{Items: items})
}

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	req, err := h.Service.Submit(r.Context(), mustActor(r), timeoff.SubmitInput{
		Start: body.StartDate,
		End:   body.EndDate,
		Note:  body.Note,
	})
	if err != nil {
		writeServiceError(w, r, "requests_create", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (h *Handler) EditRequest(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	req, err := h.Service.Edit(r.Context(), mustActor(r), chi.URLParam(r, "id"), timeoff.EditInput{
		Start: body.StartDate,
		End:   body.EndDate,
		Note:  body.Note,
	})
	if err != nil {
		writeServiceError(w, r, "requests_update", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "request": toRequestDTO(req)})
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	days, err := h.Service.Approve(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "requests_approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "consumed_days": days})
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Reject(r.Context(), mustActor(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "requests_reject", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) EstimateRequest(w http.ResponseWriter, r *http.Request) {
	days, err := h.Service.Estimate(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "requests_estimate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"estimated_days": days})
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Service.Balances(r.Context(), mustActor(r))
	if err != nil {
		writeServiceError(w, r, "balances_list", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemsResponse[EmployeeBalanceDTO]{Items: mapSlice(balances, toEmployeeBalanceDTO)})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.Balance(r.Context(), mustActor(r), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, "balances_get", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]BalanceDTO{"balance": toBalanceDTO(b)})
}

// AdjustBalance checks permissions before parsing the numeric fields, so a
// caller without rights always gets forbidden.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	userID := chi.URLParam(r, "userID")
	if err := h.Service.AuthorizeAdjustment(r.Context(), actor, userID); err != nil {
		writeServiceError(w, r, "balances_adjust", err)
		return
	}

	var body AdjustBalanceBody
	if !decodeBody(w, r, &body) {
		return
	}
	adj, err := parseAdjustment(body)
	if err != nil {
		writeServiceError(w, r, "balances_adjust", err)
		return
	}

	b, err := h.Service.AdjustBalance(r.Context(), actor, userID, adj)
	if err != nil {
		writeServiceError(w, r, "balances_adjust", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "balance": toBalanceDTO(b)})
}

func parseAdjustment(body AdjustBalanceBody) (generic.ManualAdjustment, error) {
	var (
		adj generic.ManualAdjustment
		err error
	)
	if adj.AssignedAnnual, err = generic.ParseDays("assigned_annual", body.AssignedAnnual); err != nil {
		return adj, err
	}
	if adj.CarriedOver, err = generic.ParseDays("carried_over", body.CarriedOver); err != nil {
		return adj, err
	}
	if adj.DeltaExtra, err = generic.ParseDays("delta_extra", body.DeltaExtra); err != nil {
		return adj, err
	}
	adj.Comment = body.Comment
	return adj, nil
}

func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.Adjustments(r.Context(), mustActor(r), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, "balances_adjustments_list", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemsResponse[AdjustmentDTO]{Items: mapSlice(items, toAdjustmentDTO)})
}

// =============================================================================
// CALENDAR & SETTINGS HANDLERS
// =============================================================================

func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := timeoff.CalendarQuery{
		From:           q.Get("from"),
		To:             q.Get("to"),
		IncludePending: strings.TrimSpace(q.Get("include_pending")) == "1",
	}
	if list := strings.TrimSpace(q.Get("department_ids")); list != "" {
		for _, id := range strings.Split(list, ",") {
			if id = strings.TrimSpace(id); id != "" {
				query.DepartmentIDs = append(query.DepartmentIDs, id)
			}
		}
	} else if id := strings.TrimSpace(q.Get("department_id")); id != "" {
		query.DepartmentIDs = []string{id}
	}

	entries, err := h.Service.CalendarView(r.Context(), mustActor(r), query)
	if err != nil {
		writeServiceError(w, r, "calendar", err)
		return
	}
	items := make([]RequestDTO, 0, len(entries))
	for _, e := range entries {
		dto := toRequestDTO(e.Request)
		dto.WorkingDays = []int(e.WorkingDays)
		items = append(items, dto)
	}
	writeJSON(w, http.StatusOK, ItemsResponse[RequestDTO]{Items: items})
}

func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	holidays, err := h.Service.Holidays(r.Context(), year)
	if err != nil {
		writeServiceError(w, r, "holidays_list", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemsResponse[HolidayDTO]{Items: mapSlice(holidays, func(hd generic.Holiday) HolidayDTO {
		return HolidayDTO{Year: hd.Year, Date: hd.Date.String()}
	})})
}

func (h *Handler) ReplaceHolidays(w http.ResponseWriter, r *http.Request) {
	var body ReplaceHolidaysBody
	if !decodeBody(w, r, &body) {
		return
	}
	dates := make([]string, 0, len(body.Dates))
	for _, d := range body.Dates {
		if s, ok := d.(string); ok {
			dates = append(dates, s)
		}
	}

	count, err := h.Service.ReplaceHolidays(r.Context(), mustActor(r), parseYear(body.Year), dates)
	if err != nil {
		writeServiceError(w, r, "holidays_update", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": count})
}

// parseYear accepts a JSON number or numeric string; anything else is 0.
func parseYear(raw json.RawMessage) int {
	d, err := generic.ParseDays("year", raw)
	if err != nil || !d.Set || !d.Value.IsInteger() {
		return 0
	}
	return int(d.Value.IntPart())
}

func (h *Handler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.Service.Departments(r.Context())
	if err != nil {
		writeServiceError(w, r, "departments_list", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemsResponse[DepartmentDTO]{Items: mapSlice(departments, toDepartmentDTO)})
}

func (h *Handler) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	var body CreateDepartmentBody
	if !decodeBody(w, r, &body) {
		return
	}
	d, err := h.Service.CreateDepartment(r.Context(), mustActor(r), body.Name, body.ManagerID)
	if err != nil {
		writeServiceError(w, r, "departments_create", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": d.ID})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	people, err := h.Service.People(r.Context(), mustActor(r))
	if err != nil {
		writeServiceError(w, r, "users_list", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemsResponse[PersonDTO]{Items: mapSlice(people, toPersonDTO)})
}

func (h *Handler) SetWorkingDays(w http.ResponseWriter, r *http.Request) {
	var body WorkingDaysBody
	if !decodeBody(w, r, &body) {
		return
	}
	days, err := h.Service.SetWorkingDays(r.Context(), mustActor(r), chi.URLParam(r, "userID"), parseWorkingDays(body.WorkingDays))
	if err != nil {
		writeServiceError(w, r, "users_working_days", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "working_days": []int(days)})
}

// parseWorkingDays keeps the numeric entries of a JSON array. A value
// that is not an array yields nothing.
func parseWorkingDays(raw json.RawMessage) []decimal.Decimal {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	values := make([]decimal.Decimal, 0, len(entries))
	for _, e := range entries {
		d, err := generic.ParseDays("working_days", e)
		if err != nil || !d.Set {
			continue
		}
		values = append(values, d.Value)
	}
	return values
}

// =============================================================================
// HELPERS
// =============================================================================

func mustActor(r *http.Request) timeoff.Actor {
	actor, _ := ActorFrom(r.Context())
	return actor
}

// decodeBody reads a JSON body into dst. An empty body leaves dst zero.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_payload", Details: err.Error()})
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeCode(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, ErrorResponse{Error: code})
}

// writeServiceError maps an engine error to its HTTP status. Errors without
// a code are logged and reported as "<op>_error".
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := generic.Code(err)
	status := http.StatusBadRequest
	switch code {
	case "internal":
		hlog.FromRequest(r).Error().Err(err).Str("op", op).Msg("request failed")
		writeCode(w, http.StatusInternalServerError, op+"_error")
		return
	case generic.ErrNotFound.Error():
		status = http.StatusNotFound
	case generic.ErrForbidden.Error():
		status = http.StatusForbidden
	case generic.ErrConcurrentModification.Error():
		hlog.FromRequest(r).Warn().Err(err).Str("op", op).Msg("concurrent modification")
		status = http.StatusConflict
	}

	resp := ErrorResponse{Error: code}
	if detail := err.Error(); detail != code {
		resp.Details = detail
	}
	writeJSON(w, status, resp)
}
