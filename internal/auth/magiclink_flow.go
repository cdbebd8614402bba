package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/auxora-tech/casa-saas/internal/ids"
)

// MagicLinkRequest asks for a login or register link. Names are used when a
// register request creates the account.
type MagicLinkRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Purpose   string `json:"purpose" validate:"required,oneof=login register"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
}

// MagicLinkIssued is returned for every accepted request, whether or not the
// email is registered.
type MagicLinkIssued struct {
	Message   string    `json:"message"`
	Delivered bool      `json:"delivered"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

const magicLinkAccepted = "if the email can be used, a link has been sent to it"

// RequestMagicLink issues a token and hands it to the notifier. Unknown emails
// on login get the same response without a token. A notifier failure keeps the
// token and reports delivered=false.
func (s *Service) RequestMagicLink(ctx context.Context, req MagicLinkRequest, rc RequestContext) (*MagicLinkIssued, error) {
	req.Email = NormalizeEmail(req.Email)
	req.Purpose = strings.ToLower(strings.TrimSpace(req.Purpose))
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := validateInput(&req); err != nil {
		return nil, err
	}
	purpose, _ := ParsePurpose(req.Purpose)
	if err := s.limiter.Check(ctx, LimitMagicLink, req.Email, rc.IPAddress); err != nil {
		s.attempt(ctx, req.Email, AttemptMagicLink, rc, err)
		return nil, err
	}

	var (
		tok        *MagicLinkToken
		firstName  string
		tenantName string
		skipped    string
	)
	err := s.store.WithinTx(ctx, func(tx Store) error {
		user, err := tx.Users().FindByEmail(ctx, req.Email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if user != nil {
			firstName = user.FirstName
		}

		switch purpose {
		case PurposeLogin:
			if user == nil {
				skipped = "unknown_email"
				return nil
			}
			if !user.IsActive && user.EmailVerified {
				skipped = "inactive"
				return nil
			}
		case PurposeRegister:
			switch {
			case user == nil:
				if req.FirstName == "" || req.LastName == "" {
					return validationError(map[string]string{
						"first_name": "this field is required",
						"last_name":  "this field is required",
					})
				}
				var tenant *Tenant
				user, tenant, err = s.registerPending(ctx, tx, req)
				if err != nil {
					return err
				}
				firstName, tenantName = user.FirstName, tenant.Name
			case user.EmailVerified:
				// Already registered: send a login link instead of revealing that.
				purpose = PurposeLogin
			}
		}

		userID := ""
		if user != nil {
			userID = user.ID
		}
		tok, err = s.links.Issue(ctx, tx, IssueParams{
			Email:   req.Email,
			UserID:  userID,
			Purpose: purpose,
			Request: rc,
		})
		return err
	})
	if errors.Is(err, ErrConflict) {
		// Lost a concurrent register race; the winner's link is on its way.
		return &MagicLinkIssued{Message: magicLinkAccepted, Delivered: true}, nil
	}
	if err != nil {
		return nil, wrapInternal(err)
	}
	if tok == nil {
		s.attempt(ctx, req.Email, AttemptMagicLink, rc, &Error{Kind: KindInvalidCredentials, Err: errors.New(skipped)})
		return &MagicLinkIssued{Message: magicLinkAccepted, Delivered: true}, nil
	}

	delivered := s.deliver(ctx, tok, firstName, tenantName)
	s.audit(ctx, tok.UserID, ActionMagicLinkIssued, "magic link issued", rc, map[string]any{
		"purpose":   string(tok.Purpose),
		"token_id":  tok.ID,
		"delivered": delivered,
	})
	out := &MagicLinkIssued{Message: magicLinkAccepted, Delivered: delivered, ExpiresAt: tok.ExpiresAt}
	if !delivered {
		out.Message = "the link was created but the email could not be delivered, please try again shortly"
	}
	return out, nil
}

// registerPending creates an inactive passwordless account with a CLIENT
// membership on the default tenant, activated when the register link is verified.
func (s *Service) registerPending(ctx context.Context, tx Store, req MagicLinkRequest) (*User, *Tenant, error) {
	user, err := s.insertUser(ctx, tx, NewUserInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, "", false, false)
	if err != nil {
		return nil, nil, err
	}
	tenant, err := s.defaultTenantTx(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	m := &Membership{ID: ids.NewAt(now), UserID: user.ID, TenantID: tenant.ID, Role: RoleClient, IsActive: true, JoinedAt: now}
	if err := tx.Memberships().Create(ctx, m); err != nil {
		return nil, nil, err
	}
	return user, tenant, nil
}

var errCheckEmail = &Error{
	Kind:    KindEmailUnverified,
	Message: "please verify your email address, we have sent you a new verification link",
	Action:  "check_email",
}

// VerifyMagicLink consumes a token and runs its purpose handler in one
// transaction. Any failure rolls the consumption back so the link can be retried.
func (s *Service) VerifyMagicLink(ctx context.Context, token string, rc RequestContext) (*AuthResult, error) {
	var (
		result     *AuthResult
		tok        *MagicLinkToken
		unverified *User
	)
	err := s.store.WithinTx(ctx, func(tx Store) error {
		var err error
		tok, err = s.links.Lookup(ctx, tx, token)
		if err != nil {
			return err
		}
		handler, ok := s.verifiers[tok.Purpose]
		if !ok {
			return internal(errors.New("no handler for purpose " + string(tok.Purpose)))
		}
		if err := s.links.Consume(ctx, tx, tok); err != nil {
			return err
		}
		result, err = handler(ctx, tx, tok, rc)
		if KindOf(err) == KindEmailUnverified {
			unverified, _ = s.tokenUser(ctx, tx, tok)
		}
		return err
	})

	email := ""
	if tok != nil {
		email = tok.Email
	}
	if err != nil {
		s.attempt(ctx, email, AttemptMagicLink, rc, err)
		s.audit(ctx, "", ActionMagicLinkFailed, "magic link verification failed", rc, map[string]any{
			"reason": failureReason(err),
		})
		if unverified != nil {
			return nil, s.resendVerification(ctx, unverified, rc)
		}
		return nil, wrapInternal(err)
	}
	s.attempt(ctx, email, AttemptMagicLink, rc, nil)
	s.audit(ctx, result.User.ID, ActionMagicLinkVerified, "magic link verified", rc, map[string]any{
		"purpose":  string(tok.Purpose),
		"token_id": tok.ID,
	})
	return result, nil
}

// resendVerification issues a fresh register token after a login link was used
// by an unverified account.
func (s *Service) resendVerification(ctx context.Context, user *User, rc RequestContext) error {
	var tok *MagicLinkToken
	err := s.store.WithinTx(ctx, func(tx Store) error {
		var err error
		tok, err = s.links.Issue(ctx, tx, IssueParams{Email: user.Email, UserID: user.ID, Purpose: PurposeRegister, Request: rc})
		return err
	})
	if err != nil {
		return wrapInternal(err)
	}
	s.deliver(ctx, tok, user.FirstName, "")
	return errCheckEmail
}

func (s *Service) tokenUser(ctx context.Context, tx Store, tok *MagicLinkToken) (*User, error) {
	var (
		user *User
		err  error
	)
	if tok.UserID != "" {
		user, err = tx.Users().Find(ctx, tok.UserID)
	} else {
		user, err = tx.Users().FindByEmail(ctx, tok.Email)
	}
	if errors.Is(err, ErrNotFound) {
		return nil, errLinkInvalid
	}
	return user, err
}

func (s *Service) verifyLogin(ctx context.Context, tx Store, tok *MagicLinkToken, rc RequestContext) (*AuthResult, error) {
	user, err := s.tokenUser(ctx, tx, tok)
	if err != nil {
		return nil, err
	}
	if !user.EmailVerified {
		return nil, errCheckEmail
	}
	if !user.IsActive {
		return nil, errAccountInactive
	}
	return s.newAuthResult(ctx, tx, user, rc)
}

func (s *Service) verifyRegister(ctx context.Context, tx Store, tok *MagicLinkToken, rc RequestContext) (*AuthResult, error) {
	user, err := s.tokenUser(ctx, tx, tok)
	if err != nil {
		return nil, err
	}
	user.EmailVerified = true
	user.IsActive = true
	user.UpdatedAt = s.now().UTC()
	if err := tx.Users().Update(ctx, user); err != nil {
		return nil, err
	}
	res, err := s.newAuthResult(ctx, tx, user, rc)
	if err != nil {
		return nil, err
	}
	res.Onboarding = true
	res.Redirect = "/onboarding"
	return res, nil
}

func (s *Service) verifyInvite(ctx context.Context, tx Store, tok *MagicLinkToken, rc RequestContext) (*AuthResult, error) {
	tenantID := tok.Metadata[metaTenantID]
	role, ok := ParseRole(tok.Metadata[metaRole])
	if tenantID == "" || !ok {
		return nil, errLinkInvalid
	}
	if _, err := tx.Tenants().Find(ctx, tenantID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errLinkInvalid
		}
		return nil, err
	}

	now := s.now().UTC()
	user, err := tx.Users().FindByEmail(ctx, tok.Email)
	switch {
	case errors.Is(err, ErrNotFound):
		user, err = s.insertUser(ctx, tx, NewUserInput{Email: tok.Email}, "", true, true)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case !user.IsActive && user.EmailVerified:
		return nil, errAccountInactive
	default:
		user.IsActive = true
		user.EmailVerified = true
		user.UpdatedAt = now
		if err := tx.Users().Update(ctx, user); err != nil {
			return nil, err
		}
	}

	m, err := tx.Memberships().Find(ctx, user.ID, tenantID)
	switch {
	case errors.Is(err, ErrNotFound):
		m = &Membership{ID: ids.NewAt(now), UserID: user.ID, TenantID: tenantID, Role: role, IsActive: true, JoinedAt: now}
		if err := tx.Memberships().Create(ctx, m); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		active := true
		updated := ApplyMembershipPatch(*m, MembershipPatch{Role: &role, IsActive: &active}, now)
		if err := tx.Memberships().Update(ctx, &updated); err != nil {
			return nil, err
		}
	}

	res, err := s.newAuthResult(ctx, tx, user, rc)
	if err != nil {
		return nil, err
	}
	res.Onboarding = user.FirstName == ""
	res.Redirect = "/dashboard"
	return res, nil
}
