/*
request.go - Leave request document

PURPOSE:
  The persisted shape of a leave request. Behavior (submission, edits,
  approval) lives in timeoff/request.go; this file only defines the
  document and the invariants every store must round-trip.

STATE MACHINE:

      submit          approve
    ─────────▶ pending ───────▶ approved
                  │  ▲             │
           reject │  └─── edit ────┘
                  ▼
              rejected (terminal)

INVARIANTS:
  - Start <= End
  - ConsumedDays == 0 unless Status == approved
  - Requests are never deleted

SNAPSHOT:
  Requester metadata (email, role, department, display name) is copied
  onto the request at submission. It is not re-resolved when the
  directory changes later; approval authority reads the snapshot.

SEE ALSO:
  - timeoff/request.go: Lifecycle transitions
  - store.go: RequestStore contract
*/
package generic

import (
	"sort"
	"time"
)

// =============================================================================
// REQUEST - A leave request
// =============================================================================

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// IsActive reports whether requests in this status block overlapping ones.
func (s RequestStatus) IsActive() bool {
	return s == StatusPending || s == StatusApproved
}

// ActiveStatuses are the statuses that take part in overlap checks.
func ActiveStatuses() []RequestStatus {
	return []RequestStatus{StatusPending, StatusApproved}
}

// Snapshot is requester metadata frozen at submission time.
type Snapshot struct {
	Email        string
	DisplayName  string
	Role         string
	DepartmentID string
}

type Request struct {
	ID           string
	EmployeeID   string
	Requester    Snapshot
	Resource     ResourceKind
	Start        TimePoint
	End          TimePoint
	Status       RequestStatus
	ApproverID   string // approver email
	ApprovedAt   *time.Time
	Note         string
	ConsumedDays int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Period returns the request's inclusive date range.
func (r Request) Period() Period {
	return Period{Start: r.Start, End: r.End}
}

// RequestFilter selects requests by equality and inclusion predicates.
// Empty fields do not filter. Results are newest first.
type RequestFilter struct {
	EmployeeID    string
	DepartmentIDs []string
	Statuses      []RequestStatus
	Limit         int
}

// Matches applies the filter to a single request; stores without a query
// language use it to scan.
func (f RequestFilter) Matches(r Request) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if len(f.DepartmentIDs) > 0 && !containsString(f.DepartmentIDs, r.Requester.DepartmentID) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NewestFirst orders requests by CreatedAt descending (ties by id) and
// truncates to limit when it is positive.
func NewestFirst(requests []Request, limit int) []Request {
	sort.Slice(requests, func(i, j int) bool {
		if requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].ID > requests[j].ID
		}
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})
	if limit > 0 && len(requests) > limit {
		requests = requests[:limit]
	}
	return requests
}
