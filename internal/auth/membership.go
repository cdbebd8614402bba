package auth

import (
	"context"
	"errors"
)

// ResolveRole returns the user's role on the tenant. ok is false when there is
// no active membership.
func (s *Service) ResolveRole(ctx context.Context, userID, tenantID string) (Role, bool, error) {
	role, ok, err := s.resolveRole(ctx, s.store, userID, tenantID)
	return role, ok, wrapInternal(err)
}

func (s *Service) resolveRole(ctx context.Context, q Store, userID, tenantID string) (Role, bool, error) {
	m, err := q.Memberships().Find(ctx, userID, tenantID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !m.IsActive {
		return "", false, nil
	}
	return m.Role, true, nil
}

// ClientOf returns the user when they hold an active CLIENT membership on the
// tenant. ok is false otherwise.
func (s *Service) ClientOf(ctx context.Context, userID, tenantID string) (*User, bool, error) {
	role, ok, err := s.resolveRole(ctx, s.store, userID, tenantID)
	if err != nil || !ok || role != RoleClient {
		return nil, false, wrapInternal(err)
	}
	u, err := s.store.Users().Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapInternal(err)
	}
	return u, true, nil
}

var errNotMember = accessDenied("you are not a member of this company")

// Authorize checks that the user's active role on the tenant is allowed perm.
// A missing membership is AccessDenied, never NotFound.
func (s *Service) Authorize(ctx context.Context, userID, tenantID string, perm Permission) (*Membership, error) {
	return s.authorize(ctx, s.store, userID, tenantID, perm)
}

func (s *Service) authorize(ctx context.Context, q Store, userID, tenantID string, perm Permission) (*Membership, error) {
	m, err := q.Memberships().Find(ctx, userID, tenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, errNotMember
	}
	if err != nil {
		return nil, wrapInternal(err)
	}
	if !m.IsActive {
		return nil, errNotMember
	}
	if !perm.Allows(m.Role) {
		return nil, ErrAccessDenied
	}
	return m, nil
}

// CheckEmployeeProfileAccess gates the employee profile collaborator.
func (s *Service) CheckEmployeeProfileAccess(ctx context.Context, p Principal, tenantID string) (*Membership, error) {
	return s.Authorize(ctx, p.User.ID, tenantID, PermViewEmployeeProfile)
}

// CheckClientProfileAccess gates the participant profile collaborator.
func (s *Service) CheckClientProfileAccess(ctx context.Context, p Principal, tenantID string) (*Membership, error) {
	return s.Authorize(ctx, p.User.ID, tenantID, PermViewClientProfile)
}
