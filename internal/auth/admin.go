package auth

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/auxora-tech/casa-saas/internal/ids"
)

// AddEmployeeInput is the admin-add payload. Without a password the employee
// gets an invite link instead.
type AddEmployeeInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	FirstName string `json:"first_name" validate:"required,max=150"`
	LastName  string `json:"last_name" validate:"required,max=150"`
	Password  string `json:"password" validate:"max=128"`
	Role      string `json:"role" validate:"omitempty,max=32"`
}

// EmployeeAdded is the result of AdminAddEmployee.
type EmployeeAdded struct {
	User       *User       `json:"user"`
	Membership *Membership `json:"membership"`
	InviteSent bool        `json:"invite_sent"`
	Delivered  bool        `json:"delivered"`
}

// EmployeeEntry is one row of an employee listing.
type EmployeeEntry struct {
	MemberView
	IsCurrentUser bool `json:"is_current_user"`
}

// EmployeeList is the result of AdminListEmployees.
type EmployeeList struct {
	Employees   []EmployeeEntry `json:"employees"`
	TotalCount  int             `json:"total_count"`
	RoleSummary map[Role]int    `json:"role_summary"`
}

// InviteInput asks for an invite link to join a tenant with a role.
type InviteInput struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Role  string `json:"role" validate:"required,max=32"`
}

// InviteResult reports an issued invite.
type InviteResult struct {
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	Delivered bool   `json:"delivered"`
}

func parseEmployeeRole(raw string) (Role, error) {
	if strings.TrimSpace(raw) == "" {
		return RoleEmployee, nil
	}
	role, ok := ParseRole(raw)
	if !ok || !slices.Contains(assignableEmployeeRoles, role) {
		return "", fieldError("role", "must be one of: EMPLOYEE, SUPPORT_WORKER, MANAGER, ADMIN")
	}
	return role, nil
}

// AdminAddEmployee adds a staff member to the tenant. An existing user without
// a membership on the tenant gains one; an existing membership is a Conflict.
func (s *Service) AdminAddEmployee(ctx context.Context, actor Principal, tenantID string, in AddEmployeeInput, rc RequestContext) (*EmployeeAdded, error) {
	if _, err := s.authorize(ctx, s.store, actor.User.ID, tenantID, PermManageEmployees); err != nil {
		return nil, err
	}
	nu := NewUserInput{Email: in.Email, FirstName: in.FirstName, LastName: in.LastName, Password: in.Password}
	nu.normalize()
	in.Email = nu.Email
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	if err := nu.validate(); err != nil {
		return nil, err
	}
	role, err := parseEmployeeRole(in.Role)
	if err != nil {
		return nil, err
	}
	hash, err := s.hashOptional(nu.Password)
	if err != nil {
		return nil, err
	}

	res := &EmployeeAdded{}
	var (
		invite     *MagicLinkToken
		tenantName string
		raced      bool
	)
	err = s.store.WithinTx(ctx, func(tx Store) error {
		tenant, err := tx.Tenants().Find(ctx, tenantID)
		if errors.Is(err, ErrNotFound) {
			return notFound("company not found")
		}
		if err != nil {
			return err
		}
		tenantName = tenant.Name

		user, err := tx.Users().FindByEmail(ctx, nu.Email)
		switch {
		case err == nil:
			existing, err := tx.Memberships().Find(ctx, user.ID, tenantID)
			if err == nil {
				return &Error{Kind: KindConflict, Message: "user already exists with role: " + string(existing.Role)}
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		case errors.Is(err, ErrNotFound):
			user, err = s.insertUser(ctx, tx, nu, hash, true, false)
			if errors.Is(err, ErrConflict) {
				raced = true
			}
			if err != nil {
				return err
			}
		default:
			return err
		}
		res.User = user

		now := s.now().UTC()
		m := &Membership{ID: ids.NewAt(now), UserID: user.ID, TenantID: tenantID, Role: role, IsActive: true, JoinedAt: now}
		if err := tx.Memberships().Create(ctx, m); err != nil {
			return err
		}
		res.Membership = m

		if !user.HasPassword() {
			invite, err = s.links.Issue(ctx, tx, IssueParams{
				Email:    user.Email,
				UserID:   user.ID,
				Purpose:  PurposeInvite,
				Request:  rc,
				Metadata: inviteMetadata(tenantID, role, actor.User.ID),
			})
			return err
		}
		return nil
	})
	if raced {
		return nil, &Error{Kind: KindConflict, Message: "a user with this email already exists"}
	}
	if err != nil {
		return nil, wrapInternal(err)
	}
	if invite != nil {
		res.InviteSent = true
		res.Delivered = s.deliver(ctx, invite, res.User.FirstName, tenantName)
	}
	s.audit(ctx, actor.User.ID, ActionEmployeeAdded, "employee added", rc, map[string]any{
		"tenant_id": tenantID,
		"user_id":   res.User.ID,
		"role":      string(role),
	})
	return res, nil
}

func inviteMetadata(tenantID string, role Role, invitedBy string) map[string]string {
	return map[string]string{metaTenantID: tenantID, metaRole: string(role), metaInvitedBy: invitedBy}
}

// AdminListEmployees lists staff memberships of the tenant with a per-role summary.
func (s *Service) AdminListEmployees(ctx context.Context, actor Principal, tenantID string) (*EmployeeList, error) {
	if _, err := s.authorize(ctx, s.store, actor.User.ID, tenantID, PermListEmployees); err != nil {
		return nil, err
	}
	members, err := s.store.Memberships().ListForTenant(ctx, tenantID, listedEmployeeRoles)
	if err != nil {
		return nil, wrapInternal(err)
	}
	out := &EmployeeList{
		Employees:   make([]EmployeeEntry, 0, len(members)),
		RoleSummary: make(map[Role]int, len(listedEmployeeRoles)),
	}
	for _, r := range listedEmployeeRoles {
		out.RoleSummary[r] = 0
	}
	for _, m := range members {
		out.Employees = append(out.Employees, EmployeeEntry{MemberView: m, IsCurrentUser: m.UserID == actor.User.ID})
		out.RoleSummary[m.Role]++
	}
	out.TotalCount = len(out.Employees)
	return out, nil
}

var errSelfModification = accessDenied("you cannot modify your own membership")

// AdminUpdateEmployee changes the role or active flag of another member of the tenant.
func (s *Service) AdminUpdateEmployee(ctx context.Context, actor Principal, tenantID, targetUserID string, patch MembershipPatch, rc RequestContext) (*Membership, error) {
	if actor.User.ID == targetUserID {
		return nil, errSelfModification
	}
	if _, err := s.authorize(ctx, s.store, actor.User.ID, tenantID, PermManageEmployees); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, validationError(map[string]string{
			"role":      "provide role or is_active",
			"is_active": "provide role or is_active",
		})
	}
	if patch.Role != nil {
		role, err := parseEmployeeRole(string(*patch.Role))
		if err != nil {
			return nil, err
		}
		patch.Role = &role
	}

	var before, after Membership
	err := s.store.WithinTx(ctx, func(tx Store) error {
		m, err := tx.Memberships().Find(ctx, targetUserID, tenantID)
		if errors.Is(err, ErrNotFound) {
			return notFound("employee not found")
		}
		if err != nil {
			return err
		}
		before = *m
		after = ApplyMembershipPatch(before, patch, s.now().UTC())
		return tx.Memberships().Update(ctx, &after)
	})
	if err != nil {
		return nil, wrapInternal(err)
	}
	s.audit(ctx, actor.User.ID, ActionEmployeeUpdated, "employee membership updated", rc, map[string]any{
		"tenant_id":     tenantID,
		"user_id":       targetUserID,
		"old_role":      string(before.Role),
		"new_role":      string(after.Role),
		"old_is_active": before.IsActive,
		"new_is_active": after.IsActive,
	})
	return &after, nil
}

// AdminInviteMember issues an invite link for the tenant. Accepting it creates
// or reactivates the membership.
func (s *Service) AdminInviteMember(ctx context.Context, actor Principal, tenantID string, in InviteInput, rc RequestContext) (*InviteResult, error) {
	if _, err := s.authorize(ctx, s.store, actor.User.ID, tenantID, PermInviteMembers); err != nil {
		return nil, err
	}
	in.Email = NormalizeEmail(in.Email)
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	role, ok := ParseRole(in.Role)
	if !ok || role == RoleOwner {
		return nil, fieldError("role", "unknown role")
	}
	if err := s.limiter.Check(ctx, LimitMagicLink, in.Email, rc.IPAddress); err != nil {
		return nil, err
	}

	var (
		tok        *MagicLinkToken
		tenantName string
		firstName  string
	)
	err := s.store.WithinTx(ctx, func(tx Store) error {
		tenant, err := tx.Tenants().Find(ctx, tenantID)
		if errors.Is(err, ErrNotFound) {
			return notFound("company not found")
		}
		if err != nil {
			return err
		}
		tenantName = tenant.Name
		userID := ""
		user, err := tx.Users().FindByEmail(ctx, in.Email)
		switch {
		case err == nil:
			userID, firstName = user.ID, user.FirstName
			if m, err := tx.Memberships().Find(ctx, user.ID, tenantID); err == nil && m.IsActive {
				return &Error{Kind: KindConflict, Message: "user is already a member with role: " + string(m.Role)}
			} else if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
		tok, err = s.links.Issue(ctx, tx, IssueParams{
			Email:    in.Email,
			UserID:   userID,
			Purpose:  PurposeInvite,
			Request:  rc,
			Metadata: inviteMetadata(tenantID, role, actor.User.ID),
		})
		return err
	})
	if err != nil {
		return nil, wrapInternal(err)
	}
	delivered := s.deliver(ctx, tok, firstName, tenantName)
	s.audit(ctx, actor.User.ID, ActionMemberInvited, "member invited", rc, map[string]any{
		"tenant_id": tenantID,
		"email":     in.Email,
		"role":      string(role),
	})
	return &InviteResult{Email: in.Email, Role: role, Delivered: delivered}, nil
}

// CreateTenantInput names a new company.
type CreateTenantInput struct {
	Name string `json:"name" validate:"required,max=200"`
}

// CreateTenant creates a company and makes the creator its ADMIN.
func (s *Service) CreateTenant(ctx context.Context, actor Principal, in CreateTenantInput, rc RequestContext) (*MembershipView, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	var view *MembershipView
	err := s.store.WithinTx(ctx, func(tx Store) error {
		now := s.now().UTC()
		t := &Tenant{ID: ids.NewAt(now), Name: in.Name, CreatedAt: now}
		if err := tx.Tenants().Create(ctx, t); err != nil {
			return err
		}
		m := &Membership{ID: ids.NewAt(now), UserID: actor.User.ID, TenantID: t.ID, Role: RoleAdmin, IsActive: true, JoinedAt: now}
		if err := tx.Memberships().Create(ctx, m); err != nil {
			return err
		}
		view = &MembershipView{Membership: *m, TenantName: t.Name}
		return nil
	})
	if errors.Is(err, ErrConflict) {
		return nil, &Error{Kind: KindConflict, Message: "a company with this name already exists"}
	}
	if err != nil {
		return nil, wrapInternal(err)
	}
	s.audit(ctx, actor.User.ID, ActionTenantCreated, "company created", rc, map[string]any{"tenant_id": view.TenantID})
	return view, nil
}
