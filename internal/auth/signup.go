package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/auxora-tech/casa-saas/internal/ids"
)

// Portal selects which signup and signin variant applies.
type Portal string

const (
	// PortalClient signs participants into the default tenant as CLIENT.
	PortalClient Portal = "client"
	// PortalEmployee signs staff into the default tenant.
	PortalEmployee Portal = "employee"
	// PortalCompany creates a new tenant with the signer as ADMIN. Signin through it accepts any role.
	PortalCompany Portal = "company"
)

// SignupInput is the payload of every signup variant. CompanyName is only used by PortalCompany.
type SignupInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,max=128"`
	FirstName   string `json:"first_name" validate:"required,max=150"`
	LastName    string `json:"last_name" validate:"required,max=150"`
	CompanyName string `json:"company_name" validate:"max=200"`
}

func (p Portal) signupRole() (Role, bool) {
	switch p {
	case PortalClient:
		return RoleClient, true
	case PortalEmployee:
		return RoleEmployee, true
	case PortalCompany:
		return RoleAdmin, true
	}
	return "", false
}

// Conflict messages depend on the role the existing account already holds.
var (
	errExistingClient = &Error{
		Kind:    KindConflict,
		Message: "you are already registered as a client, please sign in through the client portal",
		Action:  "signin_client",
	}
	errExistingStaff = &Error{
		Kind:    KindConflict,
		Message: "you are registered as staff, please use the staff portal to sign in",
		Action:  "signin_staff",
	}
	errExistingAccount = &Error{
		Kind:    KindConflict,
		Message: "an account with this email already exists, please sign in",
		Action:  "signin",
	}
)

var errCompanyTaken = fieldError("company_name", "a company with this name already exists")

// Signup creates user, tenant membership and a first session in one transaction.
// A second signup for the same email, concurrent or not, gets a Conflict.
func (s *Service) Signup(ctx context.Context, portal Portal, in SignupInput, rc RequestContext) (*AuthResult, error) {
	res, err := s.signup(ctx, portal, in, rc)
	if err != nil {
		if KindOf(err) != KindValidation {
			s.audit(ctx, "", ActionSignup, "signup rejected", rc, map[string]any{
				"portal": string(portal),
				"kind":   string(KindOf(err)),
			})
		}
		return nil, err
	}
	s.audit(ctx, res.User.ID, ActionSignup, "user signed up", rc, map[string]any{"portal": string(portal)})
	s.attempt(ctx, res.User.Email, AttemptPassword, rc, nil)
	return res, nil
}

func (s *Service) signup(ctx context.Context, portal Portal, in SignupInput, rc RequestContext) (*AuthResult, error) {
	role, ok := portal.signupRole()
	if !ok {
		return nil, fieldError("portal", "unknown signup portal")
	}
	nu := NewUserInput{Email: in.Email, FirstName: in.FirstName, LastName: in.LastName, Password: in.Password}
	nu.normalize()
	in.Email, in.FirstName, in.LastName = nu.Email, nu.FirstName, nu.LastName
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	if portal == PortalCompany && in.CompanyName == "" {
		return nil, fieldError("company_name", "this field is required")
	}
	if err := nu.validate(); err != nil {
		return nil, err
	}
	if err := s.limiter.Check(ctx, LimitSignup, in.Email, rc.IPAddress); err != nil {
		return nil, err
	}
	hash, err := s.hashOptional(in.Password)
	if err != nil {
		return nil, err
	}

	var (
		result      *AuthResult
		emailRaced  bool
		companyRace bool
	)
	err = s.store.WithinTx(ctx, func(tx Store) error {
		existing, err := tx.Users().FindByEmail(ctx, in.Email)
		if err == nil {
			if portal == PortalCompany {
				return errExistingAccount
			}
			tenant, err := s.defaultTenantTx(ctx, tx)
			if err != nil {
				return err
			}
			return s.existingAccountError(ctx, tx, existing, tenant.ID)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		tenant, err := s.signupTenant(ctx, tx, portal, in.CompanyName)
		if errors.Is(err, ErrConflict) {
			companyRace = true
			return err
		}
		if err != nil {
			return err
		}

		user, err := s.insertUser(ctx, tx, nu, hash, true, false)
		if errors.Is(err, ErrConflict) {
			emailRaced = true
			return err
		}
		if err != nil {
			return err
		}
		now := s.now().UTC()
		m := &Membership{
			ID:       ids.NewAt(now),
			UserID:   user.ID,
			TenantID: tenant.ID,
			Role:     role,
			IsActive: true,
			JoinedAt: now,
		}
		if err := tx.Memberships().Create(ctx, m); err != nil {
			return err
		}
		result, err = s.newAuthResult(ctx, tx, user, rc)
		return err
	})
	switch {
	case emailRaced:
		return nil, s.existingAccountAfterRace(ctx, portal, in.Email)
	case companyRace:
		return nil, errCompanyTaken
	case err != nil:
		return nil, wrapInternal(err)
	}
	if portal == PortalCompany {
		result.Redirect = "/dashboard"
	}
	return result, nil
}

// signupTenant resolves the tenant the new membership belongs to.
func (s *Service) signupTenant(ctx context.Context, tx Store, portal Portal, companyName string) (*Tenant, error) {
	if portal != PortalCompany {
		return s.defaultTenantTx(ctx, tx)
	}
	t := &Tenant{ID: ids.New(), Name: companyName, CreatedAt: s.now().UTC()}
	if err := tx.Tenants().Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// existingAccountError picks the conflict message from the role the existing
// user already holds on the tenant.
func (s *Service) existingAccountError(ctx context.Context, q Store, user *User, tenantID string) error {
	m, err := q.Memberships().Find(ctx, user.ID, tenantID)
	if errors.Is(err, ErrNotFound) {
		return errExistingAccount
	}
	if err != nil {
		return err
	}
	switch {
	case !m.IsActive:
		return errExistingAccount
	case m.Role.IsClient():
		return errExistingClient
	default:
		return errExistingStaff
	}
}

// existingAccountAfterRace re-reads committed state after losing the email
// uniqueness race and returns the same conflict a sequential retry would get.
func (s *Service) existingAccountAfterRace(ctx context.Context, portal Portal, email string) error {
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return errExistingAccount
	}
	if portal == PortalCompany {
		return errExistingAccount
	}
	tenant, err := s.store.Tenants().FindByName(ctx, s.defaultTenant)
	if err != nil {
		return errExistingAccount
	}
	if err := s.existingAccountError(ctx, s.store, user, tenant.ID); err != nil {
		return err
	}
	return errExistingAccount
}
