// Package timeoff implements the leave request lifecycle on top of the
// generic engine: day counting, overlap exclusion, approval authority and
// the role-scoped operations exposed to callers.
package timeoff

import (
	"strings"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// TIME-OFF RESOURCE TYPE
// =============================================================================

// ResourceVacation is the only leave kind requests draw from today.
const ResourceVacation generic.ResourceKind = "vacation"

// =============================================================================
// ROLES & ACTORS
// =============================================================================

// Role is the organizational role of a directory entry. Values match the
// users file.
type Role string

const (
	RoleEmployee    Role = "empleado"
	RoleManager     Role = "responsable"
	RoleChief       Role = "jefe"
	RoleSystemAdmin Role = "admin_sistema"
)

// CanSubmit reports whether the role may create leave requests.
func (r Role) CanSubmit() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleChief, RoleSystemAdmin:
		return true
	}
	return false
}

// IsManagerOrAbove is true for roles a manager may not approve.
func (r Role) IsManagerOrAbove() bool {
	return r == RoleManager || r == RoleChief || r == RoleSystemAdmin
}

// IsOrgWide is true for roles that see every department.
func (r Role) IsOrgWide() bool {
	return r == RoleChief || r == RoleSystemAdmin
}

// Actor is the resolved caller of an operation.
type Actor struct {
	UID          string
	Email        string
	Role         Role
	DepartmentID string
	DisplayName  string
}

// Snapshot freezes the actor's metadata onto a new request.
func (a Actor) Snapshot() generic.Snapshot {
	return generic.Snapshot{
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		Role:         string(a.Role),
		DepartmentID: a.DepartmentID,
	}
}

// =============================================================================
// OPERATION INPUTS
// =============================================================================

// SubmitInput carries the dates as YYYY-MM-DD strings.
type SubmitInput struct {
	Start string
	End   string
	Note  string
}

// EditInput fields left empty keep the stored value.
type EditInput struct {
	Start string
	End   string
	Note  string
}

// RequestQuery filters ListRequests. EmployeeID and DepartmentID apply to
// org-wide roles only; other roles are scoped automatically.
type RequestQuery struct {
	EmployeeID   string
	DepartmentID string
	Status       generic.RequestStatus
}

// CalendarQuery selects requests intersecting [From, To].
type CalendarQuery struct {
	From           string
	To             string
	DepartmentIDs  []string
	IncludePending bool
}

// ListLimit caps the number of requests a listing returns.
const ListLimit = 500

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
