package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// APPROVAL AUTHORITY
// =============================================================================

// CanApprove decides whether actor may approve or reject req, given the
// requester's role. Rules, first match wins:
//
//  1. admin_sistema never approves (segregation of duties)
//  2. jefe approves anything
//  3. responsable approves only requests that are not their own, whose
//     requester is not responsable, jefe or admin_sistema, and whose
//     department equals theirs (both non-empty)
//  4. everyone else is denied
func CanApprove(actor Actor, req generic.Request, requesterRole Role) bool {
	switch actor.Role {
	case RoleSystemAdmin:
		return false
	case RoleChief:
		return true
	case RoleManager:
		if req.EmployeeID != "" && req.EmployeeID == actor.UID {
			return false
		}
		if requesterRole.IsManagerOrAbove() {
			return false
		}
		dept := req.Requester.DepartmentID
		return dept != "" && actor.DepartmentID != "" && dept == actor.DepartmentID
	default:
		return false
	}
}

// RequesterRole returns the role frozen on the request. Requests without
// a snapshot role fall back to the directory entry of the snapshot email;
// an unknown requester has no role.
func RequesterRole(ctx context.Context, dir Directory, req generic.Request) (Role, error) {
	if req.Requester.Role != "" {
		return Role(req.Requester.Role), nil
	}
	if dir == nil || req.Requester.Email == "" {
		return "", nil
	}
	person, err := dir.ByEmail(ctx, req.Requester.Email)
	if err != nil {
		return "", fmt.Errorf("resolve requester %s: %w", req.Requester.Email, err)
	}
	if person == nil {
		return "", nil
	}
	return person.Role, nil
}
