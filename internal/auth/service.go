package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auxora-tech/casa-saas/internal/ids"
	"github.com/auxora-tech/casa-saas/internal/obs"
)

// DefaultTenantName is the company client and employee portals sign into.
const DefaultTenantName = "Casa Community Pty Ltd"

// TemplateData is handed to the Notifier to render a message.
type TemplateData struct {
	Link       string
	FirstName  string
	TenantName string
	ExpiresAt  time.Time
}

// Notifier delivers magic-link messages. It reports delivery success and never
// panics or blocks indefinitely on ordinary delivery failures.
type Notifier interface {
	Send(ctx context.Context, recipient string, kind Purpose, data TemplateData) bool
}

// Auditor records audit entries and login attempts. Implementations swallow
// their own failures.
type Auditor interface {
	Record(ctx context.Context, e AuditEntry)
	RecordLoginAttempt(ctx context.Context, a LoginAttempt)
}

// Principal is an authenticated caller.
type Principal struct {
	User      User
	SessionID string
}

// AuthResult is returned by every flow that ends in a new session.
type AuthResult struct {
	User        *User            `json:"user"`
	Tokens      TokenPair        `json:"tokens"`
	SessionID   string           `json:"session_id"`
	Memberships []MembershipView `json:"memberships"`
	Onboarding  bool             `json:"onboarding,omitempty"`
	Redirect    string           `json:"redirect,omitempty"`
}

type verifyHandler func(ctx context.Context, tx Store, tok *MagicLinkToken, rc RequestContext) (*AuthResult, error)

// Service composes the credential store, magic links, rate limiting, tokens,
// memberships, sessions and audit into the authentication flows.
type Service struct {
	store         Store
	tokens        *TokenIssuer
	limiter       *RateLimiter
	hasher        *Hasher
	links         *MagicLinks
	notifier      Notifier
	auditor       Auditor
	logger        *zap.Logger
	now           func() time.Time
	frontendURL   string
	defaultTenant string
	verifiers     map[Purpose]verifyHandler
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithNotifier sets the magic-link delivery channel.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithAuditor sets the audit sink.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.auditor = a
		}
		return nil
	}
}

// WithHasher overrides the password hasher, e.g. with a low bcrypt cost in tests.
func WithHasher(h *Hasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithLogger sets the logger used for operational messages.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithFrontendURL sets the base URL magic links point at.
func WithFrontendURL(u string) ServiceOption {
	return func(s *Service) error {
		s.frontendURL = strings.TrimSpace(u)
		return nil
	}
}

// WithDefaultTenant overrides the portal tenant name.
func WithDefaultTenant(name string) ServiceOption {
	return func(s *Service) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("auth: default tenant name is empty")
		}
		s.defaultTenant = name
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *TokenIssuer, limiter *RateLimiter, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil || limiter == nil {
		return nil, errors.New("auth: store, token issuer and rate limiter are required")
	}
	s := &Service{
		store:         store,
		tokens:        tokens,
		limiter:       limiter,
		hasher:        NewHasher(0),
		notifier:      discardNotifier{},
		auditor:       discardAuditor{},
		logger:        obs.Logger(),
		now:           time.Now,
		frontendURL:   "http://localhost:3000",
		defaultTenant: DefaultTenantName,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.links = NewMagicLinks(s.frontendURL, s.now)
	s.verifiers = map[Purpose]verifyHandler{
		PurposeLogin:    s.verifyLogin,
		PurposeRegister: s.verifyRegister,
		PurposeInvite:   s.verifyInvite,
	}
	for _, p := range Purposes() {
		if s.verifiers[p] == nil {
			return nil, fmt.Errorf("auth: no verification handler for purpose %q", p)
		}
	}
	return s, nil
}

// EnsureDefaultTenant creates the portal tenant if it does not exist yet.
func (s *Service) EnsureDefaultTenant(ctx context.Context) (*Tenant, error) {
	var tenant *Tenant
	err := s.store.WithinTx(ctx, func(tx Store) error {
		var err error
		tenant, err = s.defaultTenantTx(ctx, tx)
		return err
	})
	return tenant, err
}

// defaultTenantTx looks up the portal tenant, creating it on first use.
func (s *Service) defaultTenantTx(ctx context.Context, tx Store) (*Tenant, error) {
	t, err := tx.Tenants().FindByName(ctx, s.defaultTenant)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	t = &Tenant{ID: ids.New(), Name: s.defaultTenant, CreatedAt: s.now().UTC()}
	if err := tx.Tenants().Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// AuthenticateToken resolves a bearer access token to a Principal. The session the
// token was minted for must still be active and the user must be active.
func (s *Service) AuthenticateToken(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.Validate(ctx, accessToken, TokenTypeAccess)
	if err != nil {
		return Principal{}, err
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrTokenRevoked
	}
	if err != nil {
		return Principal{}, wrapInternal(err)
	}
	if !user.IsActive {
		return Principal{}, errAccountInactive
	}
	sess, err := s.store.Sessions().Find(ctx, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrTokenRevoked
	}
	if err != nil {
		return Principal{}, wrapInternal(err)
	}
	if !sess.IsActive || sess.UserID != user.ID {
		return Principal{}, ErrTokenRevoked
	}
	return Principal{User: *user, SessionID: sess.ID}, nil
}

var errAccountInactive = &Error{
	Kind:    KindAccountInactive,
	Message: "this account is inactive, please contact support",
}

// newAuthResult opens a session and mints tokens inside tx.
func (s *Service) newAuthResult(ctx context.Context, tx Store, user *User, rc RequestContext) (*AuthResult, error) {
	sess, err := s.openSession(ctx, tx, user, rc)
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.Issue(user, sess.ID)
	if err != nil {
		return nil, err
	}
	memberships, err := tx.Memberships().ListForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Tokens: pair, SessionID: sess.ID, Memberships: activeOnly(memberships)}, nil
}

func activeOnly(in []MembershipView) []MembershipView {
	out := make([]MembershipView, 0, len(in))
	for _, m := range in {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out
}

func (s *Service) audit(ctx context.Context, actorID, action, description string, rc RequestContext, meta map[string]any) {
	s.auditor.Record(ctx, AuditEntry{
		ID:          ids.New(),
		ActorID:     actorID,
		Action:      action,
		Description: description,
		IPAddress:   rc.IPAddress,
		Metadata:    meta,
		CreatedAt:   s.now().UTC(),
	})
}

func (s *Service) attempt(ctx context.Context, email string, typ AttemptType, rc RequestContext, failure error) {
	a := LoginAttempt{
		ID:          ids.New(),
		Email:       email,
		IPAddress:   rc.IPAddress,
		UserAgent:   rc.UserAgent,
		AttemptType: typ,
		Success:     failure == nil,
		CreatedAt:   s.now().UTC(),
	}
	outcome := "success"
	if failure != nil {
		a.FailureReason = failureReason(failure)
		outcome = string(KindOf(failure))
	}
	obs.AuthEvents.WithLabelValues(string(typ), outcome).Inc()
	s.auditor.RecordLoginAttempt(ctx, a)
}

// failureReason is the server side reason stored with a failed attempt. It may
// name details the caller never sees.
func failureReason(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal"
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

// deliver hands a freshly issued token to the notifier.
func (s *Service) deliver(ctx context.Context, tok *MagicLinkToken, firstName, tenantName string) bool {
	ok := s.notifier.Send(ctx, tok.Email, tok.Purpose, TemplateData{
		Link:       s.links.URL(tok),
		FirstName:  firstName,
		TenantName: tenantName,
		ExpiresAt:  tok.ExpiresAt,
	})
	if !ok {
		s.logger.Warn("magic link delivery failed",
			zap.String("purpose", string(tok.Purpose)),
			zap.String("token_id", tok.ID),
		)
	}
	return ok
}

type discardNotifier struct{}

func (discardNotifier) Send(context.Context, string, Purpose, TemplateData) bool { return false }

type discardAuditor struct{}

func (discardAuditor) Record(context.Context, AuditEntry) {}
func (discardAuditor) RecordLoginAttempt(context.Context, LoginAttempt) {}
