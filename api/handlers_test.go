/*
handlers_test.go - HTTP tests for the leave API

Tests for:
- Authentication codes (missing/invalid token, domain, unknown user)
- Request lifecycle over HTTP (submit, approve, edit, reject, estimate)
- Error mapping (400/403/404)
- Balance adjustments, holidays, departments and working days
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic/store"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testSecret = "test-secret"

var (
	chief   = timeoff.Person{UID: "u-chief", Email: "chief@example.com", DisplayName: "Chief", Role: timeoff.RoleChief}
	admin   = timeoff.Person{UID: "u-admin", Email: "admin@example.com", Role: timeoff.RoleSystemAdmin}
	engLead = timeoff.Person{UID: "u-eng-lead", Email: "marta@example.com", DisplayName: "Marta", Role: timeoff.RoleManager, DepartmentID: "eng"}
	opsLead = timeoff.Person{UID: "u-ops-lead", Email: "oscar@example.com", Role: timeoff.RoleManager, DepartmentID: "ops"}
	ana     = timeoff.Person{UID: "u-ana", Email: "ana@example.com", DisplayName: "Ana", Role: timeoff.RoleEmployee, DepartmentID: "eng"}
	bea     = timeoff.Person{UID: "u-bea", Email: "bea@example.com", Role: timeoff.RoleEmployee, DepartmentID: "eng"}
)

type testServer struct {
	router  http.Handler
	handler *Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := timeoff.NewStaticDirectory(chief, admin, engLead, opsLead, ana, bea)
	h := NewHandler(timeoff.NewService(store.NewTxMemory(), dir))
	auth := &Authenticator{Secret: testSecret, AllowedDomain: "example.com", Directory: dir}
	return &testServer{
		router:  NewRouter(h, auth, RouterOptions{Logger: zerolog.Nop()}),
		handler: h,
	}
}

func token(t *testing.T, uid, email string) string {
	t.Helper()
	tok, err := SignToken(testSecret, uid, email, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends body as JSON on behalf of who (nil = anonymous) and decodes
// the response into out when given.
func (s *testServer) do(t *testing.T, who *timeoff.Person, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, who.UID, who.Email))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (s *testServer) errorCode(t *testing.T, who *timeoff.Person, method, path string, body any) (int, string) {
	t.Helper()
	var resp ErrorResponse
	status := s.do(t, who, method, path, body, &resp)
	return status, resp.Error
}

func (s *testServer) submit(t *testing.T, who timeoff.Person, start, end string) string {
	t.Helper()
	var resp map[string]string
	status := s.do(t, &who, http.MethodPost, "/requests", SubmitRequestBody{StartDate: start, EndDate: end}, &resp)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, resp["id"])
	return resp["id"]
}

func (s *testServer) balance(t *testing.T, who timeoff.Person) BalanceDTO {
	t.Helper()
	var resp map[string]BalanceDTO
	status := s.do(t, &chief, http.MethodGet, "/balances/"+who.UID, nil, &resp)
	require.Equal(t, http.StatusOK, status)
	return resp["balance"]
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestHealth_IsPublic(t *testing.T) {
	s := newTestServer(t)

	var resp map[string]bool
	assert.Equal(t, http.StatusOK, s.do(t, nil, http.MethodGet, "/health", nil, &resp))
	assert.True(t, resp["ok"])

	// A failing store probe reports unavailable
	s.handler.Ping = func(context.Context) error { return errors.New("down") }
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, nil, http.MethodGet, "/health", nil, &resp))
	assert.False(t, resp["ok"])
}

func TestAuth_Codes(t *testing.T) {
	s := newTestServer(t)

	send := func(header string) (int, string) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		var resp ErrorResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		return rec.Code, resp.Error
	}

	other, err := SignToken("other-secret", "u-ana", "ana@example.com", time.Hour)
	require.NoError(t, err)
	expired, err := SignToken(testSecret, "u-ana", "ana@example.com", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"no header", "", http.StatusUnauthorized, "missing_token"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "missing_token"},
		{"garbage", "Bearer nope", http.StatusUnauthorized, "invalid_token"},
		{"wrong secret", "Bearer " + other, http.StatusUnauthorized, "invalid_token"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "invalid_token"},
		{"no email", "Bearer " + token(t, "u-ana", ""), http.StatusUnauthorized, "invalid_token"},
		{"foreign domain", "Bearer " + token(t, "u-x", "ana@other.org"), http.StatusForbidden, "domain_not_allowed"},
		{"not in directory", "Bearer " + token(t, "u-x", "ghost@example.com"), http.StatusForbidden, "user_not_allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := send(tt.header)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestMe(t *testing.T) {
	s := newTestServer(t)

	// Email matching is case-insensitive; the directory supplies the role
	upper := timeoff.Person{UID: "u-ana", Email: "ANA@Example.com"}
	var me MeDTO
	require.Equal(t, http.StatusOK, s.do(t, &upper, http.MethodGet, "/me", nil, &me))
	assert.Equal(t, "u-ana", me.UID)
	assert.Equal(t, "ana@example.com", me.Email)
	assert.Equal(t, "empleado", me.Role)
	require.NotNil(t, me.DepartmentID)
	assert.Equal(t, "eng", *me.DepartmentID)
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestRequests_SubmitApproveEdit(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: Ana requests Monday to Friday
	id := s.submit(t, ana, "2025-03-10", "2025-03-14")

	// WHEN: Her manager asks for an estimate and approves
	var est map[string]int
	require.Equal(t, http.StatusOK, s.do(t, &engLead, http.MethodGet, "/requests/"+id+"/estimate", nil, &est))
	assert.Equal(t, 5, est["estimated_days"])

	var approved map[string]any
	require.Equal(t, http.StatusOK, s.do(t, &engLead, http.MethodPost, "/requests/"+id+"/approve", nil, &approved))
	assert.Equal(t, true, approved["ok"])
	assert.Equal(t, float64(5), approved["consumed_days"])

	// THEN: Five days are consumed
	b := s.balance(t, ana)
	assert.Equal(t, 5, b.Consumed)
	assert.Equal(t, 17, b.Available)

	// AND: Approving again is an invalid state
	status, code := s.errorCode(t, &engLead, http.MethodPost, "/requests/"+id+"/approve", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_state", code)

	// WHEN: Ana shortens the approved request
	var edited struct {
		OK      bool       `json:"ok"`
		Request RequestDTO `json:"request"`
	}
	require.Equal(t, http.StatusOK, s.do(t, &ana, http.MethodPatch, "/requests/"+id, map[string]string{"end_date": "2025-03-12"}, &edited))

	// THEN: It returns to pending and the days are refunded
	assert.True(t, edited.OK)
	assert.Equal(t, "pending", edited.Request.Status)
	assert.Equal(t, "2025-03-12", edited.Request.EndDate)
	assert.Equal(t, 0, edited.Request.ConsumedDays)
	assert.Equal(t, 22, s.balance(t, ana).Available)

	// AND: Rejection is final
	var ok map[string]bool
	require.Equal(t, http.StatusOK, s.do(t, &chief, http.MethodPost, "/requests/"+id+"/reject", nil, &ok))
	status, code = s.errorCode(t, &ana, http.MethodPatch, "/requests/"+id, map[string]string{"note": "again"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_state", code)
}

func TestRequests_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, ana, "2025-03-10", "2025-03-14")

	tests := []struct {
		name   string
		who    timeoff.Person
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"invalid dates", ana, http.MethodPost, "/requests", SubmitRequestBody{StartDate: "10/03/2025", EndDate: "2025-03-14"}, http.StatusBadRequest, "invalid_dates"},
		{"reversed range", ana, http.MethodPost, "/requests", SubmitRequestBody{StartDate: "2025-03-14", EndDate: "2025-03-10"}, http.StatusBadRequest, "invalid_range"},
		{"overlap", ana, http.MethodPost, "/requests", SubmitRequestBody{StartDate: "2025-03-14", EndDate: "2025-03-17"}, http.StatusBadRequest, "overlap"},
		{"malformed body", ana, http.MethodPost, "/requests", `{"start_date":`, http.StatusBadRequest, "invalid_payload"},
		{"other department", opsLead, http.MethodPost, "/requests/" + id + "/approve", nil, http.StatusForbidden, "forbidden"},
		{"admin cannot approve", admin, http.MethodPost, "/requests/" + id + "/reject", nil, http.StatusForbidden, "forbidden"},
		{"colleague cannot edit", bea, http.MethodPatch, "/requests/" + id, map[string]string{"note": "x"}, http.StatusForbidden, "forbidden"},
		{"unknown request", chief, http.MethodPost, "/requests/missing/approve", nil, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := s.errorCode(t, &tt.who, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}

	// Nothing above touched the balance
	assert.Equal(t, 22, s.balance(t, ana).Available)
}

func TestRequests_ListScoping(t *testing.T) {
	s := newTestServer(t)
	s.submit(t, ana, "2025-03-10", "2025-03-11")
	s.submit(t, bea, "2025-03-12", "2025-03-13")

	var mine ItemsResponse[RequestDTO]
	require.Equal(t, http.StatusOK, s.do(t, &ana, http.MethodGet, "/requests", nil, &mine))
	require.Len(t, mine.Items, 1)
	assert.Equal(t, "u-ana", mine.Items[0].UserID)
	require.NotNil(t, mine.Items[0].EstimatedDays)
	assert.Equal(t, 2, *mine.Items[0].EstimatedDays)

	var dept ItemsResponse[RequestDTO]
	require.Equal(t, http.StatusOK, s.do(t, &engLead, http.MethodGet, "/requests", nil, &dept))
	assert.Len(t, dept.Items, 2)

	var other ItemsResponse[RequestDTO]
	require.Equal(t, http.StatusOK, s.do(t, &opsLead, http.MethodGet, "/requests", nil, &other))
	assert.Empty(t, other.Items)
}

func TestCalendar(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, ana, "2025-03-10", "2025-03-11")
	s.submit(t, bea, "2025-03-20", "2025-03-21")
	require.Equal(t, http.StatusOK, s.do(t, &engLead, http.MethodPost, "/requests/"+id+"/approve", nil, nil))

	// Approved only by default
	var approved ItemsResponse[RequestDTO]
	require.Equal(t, http.StatusOK, s.do(t, &chief, http.MethodGet, "/calendar?from=2025-03-01&to=2025-03-31", nil, &approved))
	require.Len(t, approved.Items, 1)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, approved.Items[0].WorkingDays)

	var all ItemsResponse[RequestDTO]
	require.Equal(t, http.StatusOK, s.do(t, &chief, http.MethodGet, "/calendar?from=2025-03-01&to=2025-03-31&include_pending=1", nil, &all))
	assert.Len(t, all.Items, 2)

	status, code := s.errorCode(t, &chief, http.MethodGet, "/calendar?from=2025-03-01&to=march", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_dates", code)
}

// =============================================================================
// BALANCES
// =============================================================================

func TestAdjustBalance(t *testing.T) {
	s := newTestServer(t)

	// Permission is checked before the numeric fields are parsed
	status, code := s.errorCode(t, &bea, http.MethodPost, "/balances/u-ana/adjust", map[string]any{"delta_extra": "abc"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", code)

	status, code = s.errorCode(t, &engLead, http.MethodPost, "/balances/u-ana/adjust", map[string]any{"delta_extra": "abc", "comment": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", code)

	status, code = s.errorCode(t, &engLead, http.MethodPost, "/balances/u-ana/adjust", map[string]any{"delta_extra": 2})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "missing_comment", code)

	// GIVEN: A manager grants extra days and sets carried-over as a string
	var resp struct {
		OK      bool       `json:"ok"`
		Balance BalanceDTO `json:"balance"`
	}
	status = s.do(t, &engLead, http.MethodPost, "/balances/u-ana/adjust", map[string]any{
		"carried_over": "2.5",
		"delta_extra":  2,
		"comment":      "overtime",
	}, &resp)
	require.Equal(t, http.StatusOK, status)

	// THEN: Values are rounded half-up and the balance stays consistent
	assert.True(t, resp.OK)
	assert.Equal(t, 3, resp.Balance.CarriedOver)
	assert.Equal(t, 2, resp.Balance.Extra)
	assert.Equal(t, 27, resp.Balance.Available)
	require.NotNil(t, resp.Balance.LastAdjustment)
	assert.Equal(t, "marta@example.com", resp.Balance.LastAdjustment.By)

	// AND: The audit trail records it
	var trail ItemsResponse[AdjustmentDTO]
	require.Equal(t, http.StatusOK, s.do(t, &ana, http.MethodGet, "/balances/u-ana/adjustments", nil, &trail))
	require.Len(t, trail.Items, 1)
	assert.Equal(t, 2, trail.Items[0].DeltaExtra)
	assert.Equal(t, 3, trail.Items[0].CarriedOver)
}

func TestBalances_Scoping(t *testing.T) {
	s := newTestServer(t)

	var mine ItemsResponse[EmployeeBalanceDTO]
	require.Equal(t, http.StatusOK, s.do(t, &ana, http.MethodGet, "/balances", nil, &mine))
	require.Len(t, mine.Items, 1)
	assert.Equal(t, "u-ana", mine.Items[0].UserID)
	assert.Equal(t, 22, mine.Items[0].Available)

	status, code := s.errorCode(t, &ana, http.MethodGet, "/balances/u-bea", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", code)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestHolidays(t *testing.T) {
	s := newTestServer(t)

	status, code := s.errorCode(t, &engLead, http.MethodPut, "/holidays", map[string]any{"year": 2025, "dates": []string{"2025-01-01"}})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", code)

	status, code = s.errorCode(t, &chief, http.MethodPut, "/holidays", map[string]any{"year": "soon", "dates": []string{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_year", code)

	// Non-string and invalid dates are dropped
	var resp map[string]any
	status = s.do(t, &chief, http.MethodPut, "/holidays", map[string]any{
		"year":  "2025",
		"dates": []any{"2025-12-25", 42, "bad", "2025-01-01", "2025-12-25"},
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), resp["count"])

	var list ItemsResponse[HolidayDTO]
	require.Equal(t, http.StatusOK, s.do(t, &ana, http.MethodGet, "/holidays?year=2025", nil, &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, "2025-01-01", list.Items[0].Date)
	assert.Equal(t, 2025, list.Items[0].Year)
}

func TestDepartments(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.errorCode(t, &ana, http.MethodPost, "/departments", CreateDepartmentBody{Name: "Sales"})
	assert.Equal(t, http.StatusForbidden, status)

	status, code := s.errorCode(t, &admin, http.MethodPost, "/departments", CreateDepartmentBody{Name: " "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "missing_name", code)

	var created map[string]string
	require.Equal(t, http.StatusCreated, s.do(t, &admin, http.MethodPost, "/departments", CreateDepartmentBody{Name: "Sales"}, &created))
	assert.NotEmpty(t, created["id"])

	var list ItemsResponse[DepartmentDTO]
	require.Equal(t, http.StatusOK, s.do(t, &ana, http.MethodGet, "/departments", nil, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Sales", list.Items[0].Name)
	assert.Nil(t, list.Items[0].ManagerID)
}

func TestWorkingDays(t *testing.T) {
	s := newTestServer(t)

	status, code := s.errorCode(t, &engLead, http.MethodPut, "/users/u-ana/working-days", map[string]any{"working_days": "weekdays"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_working_days", code)

	status, _ = s.errorCode(t, &opsLead, http.MethodPut, "/users/u-ana/working-days", map[string]any{"working_days": []int{1}})
	assert.Equal(t, http.StatusForbidden, status)

	// GIVEN: Ana works Monday, Tuesday and Wednesday
	var resp struct {
		OK          bool  `json:"ok"`
		WorkingDays []int `json:"working_days"`
	}
	status = s.do(t, &engLead, http.MethodPut, "/users/u-ana/working-days", map[string]any{
		"working_days": []any{3, "1", 2, 9, "x"},
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []int{1, 2, 3}, resp.WorkingDays)

	// THEN: A full-week request is estimated at three days
	id := s.submit(t, ana, "2025-03-10", "2025-03-16")
	var est map[string]int
	require.Equal(t, http.StatusOK, s.do(t, &ana, http.MethodGet, "/requests/"+id+"/estimate", nil, &est))
	assert.Equal(t, 3, est["estimated_days"])

	// AND: The user listing shows the pattern
	var users ItemsResponse[PersonDTO]
	require.Equal(t, http.StatusOK, s.do(t, &engLead, http.MethodGet, "/users", nil, &users))
	for _, u := range users.Items {
		if u.UserID == "u-ana" {
			assert.Equal(t, []int{1, 2, 3}, u.WorkingDays)
		}
	}
}
