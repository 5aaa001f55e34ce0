package timeoff

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// BALANCES - Role-scoped reads and manual adjustments
// =============================================================================

// EmployeeBalance pairs a directory entry with its balance.
type EmployeeBalance struct {
	Person  Person
	Balance generic.Balance
}

// Balances returns the balance of every person the actor may see. People
// without a uid have no balance and are skipped. Missing balances are
// created with the default entitlement.
func (s *Service) Balances(ctx context.Context, actor Actor) ([]EmployeeBalance, error) {
	people, err := s.scopePeople(ctx, actor)
	if err != nil {
		return nil, err
	}

	out := make([]EmployeeBalance, 0, len(people))
	for _, p := range people {
		var b generic.Balance
		err := s.Store.WithTx(ctx, func(tx generic.Store) error {
			var err error
			b, err = s.ledger(tx).GetOrInit(ctx, p.UID)
			return err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, EmployeeBalance{Person: p, Balance: b})
	}
	return out, nil
}

// Balance returns one employee's balance, creating it when absent.
// Errors: missing_user, forbidden (empleado reading someone else).
func (s *Service) Balance(ctx context.Context, actor Actor, employeeID string) (generic.Balance, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return generic.Balance{}, generic.ErrMissingUser
	}
	if actor.Role == RoleEmployee && employeeID != actor.UID {
		return generic.Balance{}, generic.ErrForbidden
	}

	var b generic.Balance
	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		var err error
		b, err = s.ledger(tx).GetOrInit(ctx, employeeID)
		return err
	})
	return b, err
}

// AdjustBalance applies a manual correction. admin_sistema and jefe may
// adjust anyone; responsable only members of their own department.
// Errors: forbidden, missing_user, invalid_argument, missing_comment.
func (s *Service) AdjustBalance(ctx context.Context, actor Actor, employeeID string, adj generic.ManualAdjustment) (generic.Balance, error) {
	if err := s.AuthorizeAdjustment(ctx, actor, employeeID); err != nil {
		return generic.Balance{}, err
	}
	employeeID = strings.TrimSpace(employeeID)

	adj.Actor = actor.Email
	var b generic.Balance
	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		var err error
		b, err = s.ledger(tx).ApplyManualAdjustment(ctx, employeeID, adj)
		return err
	})
	return b, err
}

// AuthorizeAdjustment runs the permission checks of AdjustBalance alone,
// so transports can reject a caller before parsing the numeric input.
// Errors: forbidden, missing_user.
func (s *Service) AuthorizeAdjustment(ctx context.Context, actor Actor, employeeID string) error {
	if !actor.Role.IsManagerOrAbove() {
		return generic.ErrForbidden
	}
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return generic.ErrMissingUser
	}
	return s.ensureManages(ctx, actor, employeeID)
}

// Adjustments returns the audit trail of an employee, newest first.
// empleado may read only their own; responsable only their department.
// Errors: missing_user, forbidden.
func (s *Service) Adjustments(ctx context.Context, actor Actor, employeeID string) ([]generic.BalanceAdjustment, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, generic.ErrMissingUser
	}
	if actor.Role == RoleEmployee && employeeID != actor.UID {
		return nil, generic.ErrForbidden
	}
	if err := s.ensureManages(ctx, actor, employeeID); err != nil {
		return nil, err
	}
	items, err := s.ledger(s.Store).Adjustments(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("list adjustments %s: %w", employeeID, err)
	}
	return items, nil
}

// =============================================================================
// SCOPING HELPERS
// =============================================================================

// ensureManages rejects a responsable acting on someone outside their
// department. Other roles pass.
func (s *Service) ensureManages(ctx context.Context, actor Actor, employeeID string) error {
	if actor.Role != RoleManager {
		return nil
	}
	if actor.DepartmentID == "" || s.Directory == nil {
		return generic.ErrForbidden
	}
	target, err := s.Directory.ByUID(ctx, employeeID)
	if err != nil {
		return fmt.Errorf("resolve employee %s: %w", employeeID, err)
	}
	if target == nil || target.DepartmentID != actor.DepartmentID {
		return generic.ErrForbidden
	}
	return nil
}

// scopePeople lists the directory entries visible to the actor: empleado
// sees themself, responsable their department, jefe and admin_sistema
// everyone. Unknown roles see only themselves. Entries without a uid are
// dropped.
func (s *Service) scopePeople(ctx context.Context, actor Actor) ([]Person, error) {
	if s.Directory == nil {
		return []Person{}, nil
	}
	everyone, err := s.Directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}

	visible := make([]Person, 0, len(everyone))
	for _, p := range everyone {
		if p.UID == "" {
			continue
		}
		switch {
		case actor.Role.IsOrgWide():
		case actor.Role == RoleManager:
			if actor.DepartmentID == "" || p.DepartmentID != actor.DepartmentID {
				continue
			}
		default:
			if normalizeEmail(p.Email) != normalizeEmail(actor.Email) {
				continue
			}
		}
		visible = append(visible, p)
	}
	return visible, nil
}
