package auth

import (
	"context"
	"errors"
	"slices"
)

// SigninInput is the password signin payload.
type SigninInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

var (
	errUseStaffPortal = &Error{
		Kind:    KindAccessDenied,
		Message: "this account is registered as staff, please use the staff portal",
		Action:  "signin_staff",
	}
	errUseClientPortal = &Error{
		Kind:    KindAccessDenied,
		Message: "this account is registered as a client, please use the client portal",
		Action:  "signin_client",
	}
	errNoPortalAccess = accessDenied("you do not have access to this portal")
)

// Signin authenticates with email and password and opens a session. The
// client and employee portals additionally require a matching role on the
// default tenant; PortalCompany accepts any membership.
func (s *Service) Signin(ctx context.Context, portal Portal, in SigninInput, rc RequestContext) (*AuthResult, error) {
	in.Email = NormalizeEmail(in.Email)
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	res, err := s.signin(ctx, portal, in, rc)
	s.attempt(ctx, in.Email, AttemptPassword, rc, err)
	if err != nil {
		actor := ""
		if res != nil && res.User != nil {
			actor = res.User.ID
		}
		s.audit(ctx, actor, ActionSigninFailed, "signin failed", rc, map[string]any{
			"portal": string(portal),
			"reason": failureReason(err),
		})
		return nil, publicError(err)
	}
	s.audit(ctx, res.User.ID, ActionSignin, "user signed in", rc, map[string]any{"portal": string(portal)})
	return res, nil
}

// signin returns a partial result carrying only the user on failures after the
// password check, so the failure can be attributed in the audit log.
func (s *Service) signin(ctx context.Context, portal Portal, in SigninInput, rc RequestContext) (*AuthResult, error) {
	user, reason, err := s.authenticate(ctx, in.Email, in.Password)
	if err != nil {
		return nil, wrapInternal(err)
	}
	if user == nil {
		return nil, &Error{Kind: KindInvalidCredentials, Message: ErrInvalidCredentials.Message, Err: errors.New(reason)}
	}
	partial := &AuthResult{User: user}
	if !user.IsActive {
		return partial, errAccountInactive
	}
	if err := s.checkPortal(ctx, portal, user); err != nil {
		return partial, err
	}
	var result *AuthResult
	err = s.store.WithinTx(ctx, func(tx Store) error {
		var err error
		result, err = s.newAuthResult(ctx, tx, user, rc)
		return err
	})
	if err != nil {
		return partial, wrapInternal(err)
	}
	return result, nil
}

// checkPortal verifies the user's default tenant role fits the portal.
func (s *Service) checkPortal(ctx context.Context, portal Portal, user *User) error {
	if portal == PortalCompany {
		return nil
	}
	tenant, err := s.store.Tenants().FindByName(ctx, s.defaultTenant)
	if errors.Is(err, ErrNotFound) {
		return errNoPortalAccess
	}
	if err != nil {
		return wrapInternal(err)
	}
	role, ok, err := s.resolveRole(ctx, s.store, user.ID, tenant.ID)
	if err != nil {
		return wrapInternal(err)
	}
	if !ok {
		return errNoPortalAccess
	}
	switch portal {
	case PortalClient:
		if role.IsClient() {
			return nil
		}
		return errUseStaffPortal
	case PortalEmployee:
		if slices.Contains(staffPortalRoles, role) {
			return nil
		}
		if role.IsClient() {
			return errUseClientPortal
		}
		return errNoPortalAccess
	}
	return fieldError("portal", "unknown signin portal")
}

// publicError strips server side detail from credential failures.
func publicError(err error) error {
	if KindOf(err) == KindInvalidCredentials {
		return ErrInvalidCredentials
	}
	return err
}
