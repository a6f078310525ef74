package cases

import (
	"context"
	"errors"
	"fmt"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/auth"
)

// Access answers case visibility questions for a caller.
type Access struct {
	store Store
}

func NewAccess(store Store) *Access {
	return &Access{store: store}
}

// Check loads the case and confirms caller may reach it. Cases outside the
// organization and cases the caller may not see both yield ErrForbidden.
func (a *Access) Check(ctx context.Context, orgID string, caller auth.Profile, caseID string) (Case, error) {
	c, err := a.store.GetCase(ctx, orgID, caseID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Case{}, apperr.ErrForbidden
	}
	if err != nil {
		return Case{}, err
	}
	switch {
	case caller.Role == auth.RoleAdminFirma:
		return c, nil
	case caller.Role.IsStaff():
		if c.AssignedTo(caller.ID) {
			return c, nil
		}
	case caller.Role == auth.RoleCliente:
		linked, err := a.store.IsClientLinked(ctx, orgID, caseID, caller.ID)
		if err != nil {
			return Case{}, err
		}
		if linked {
			return c, nil
		}
	}
	return Case{}, apperr.ErrForbidden
}

// Scope returns the cases caller may list in orgID.
func (a *Access) Scope(ctx context.Context, orgID string, caller auth.Profile) (Scope, error) {
	var (
		ids []string
		err error
	)
	switch {
	case caller.Role == auth.RoleAdminFirma:
		return Scope{All: true}, nil
	case caller.Role.IsStaff():
		ids, err = a.store.AssignedCaseIDs(ctx, orgID, caller.ID)
	case caller.Role == auth.RoleCliente:
		ids, err = a.store.LinkedCaseIDs(ctx, orgID, caller.ID)
	}
	if err != nil {
		return Scope{}, err
	}
	return Scope{CaseIDs: ids}, nil
}

// MemberChecker reports org staff membership for assignee ids.
type MemberChecker interface {
	IsStaffMember(ctx context.Context, orgID, profileID string) (bool, error)
}

// CheckAssignee rejects a profile assigned to field unless it is active staff
// of orgID. A nil id leaves the assignment empty and passes.
func CheckAssignee(ctx context.Context, m MemberChecker, orgID, field string, profileID *string) error {
	if profileID == nil {
		return nil
	}
	ok, err := m.IsStaffMember(ctx, orgID, *profileID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a member of the organization", apperr.ErrInvalidInput, field)
	}
	return nil
}
