package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// HasOverlap reports whether any pending or approved request of the
// employee, other than excludeID, intersects p. Rejected requests never
// block.
func HasOverlap(ctx context.Context, requests generic.RequestStore, employeeID string, p generic.Period, excludeID string) (bool, error) {
	active, err := requests.ListRequests(ctx, generic.RequestFilter{
		EmployeeID: employeeID,
		Statuses:   generic.ActiveStatuses(),
	})
	if err != nil {
		return false, fmt.Errorf("load active requests %s: %w", employeeID, err)
	}

	for _, r := range active {
		if excludeID != "" && r.ID == excludeID {
			continue
		}
		if !r.Status.IsActive() || r.Start.IsZero() || r.End.IsZero() {
			continue
		}
		if r.Period().Overlaps(p) {
			return true, nil
		}
	}
	return false, nil
}

// ensureNoOverlap turns a positive overlap check into an OverlapError.
func ensureNoOverlap(ctx context.Context, requests generic.RequestStore, employeeID string, p generic.Period, excludeID string) error {
	overlap, err := HasOverlap(ctx, requests, employeeID, p, excludeID)
	if err != nil {
		return err
	}
	if overlap {
		return &generic.OverlapError{EmployeeID: employeeID, Period: p}
	}
	return nil
}
