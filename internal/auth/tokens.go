package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// RevocationList is the persisted set of refresh token ids that must be rejected.
type RevocationList interface {
	// Revoke adds jti to the set until the given time and reports whether this call added it.
	Revoke(ctx context.Context, jti string, until time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Claims are the JWT claims minted for access and refresh tokens.
type Claims struct {
	TokenType string `json:"token_type"`
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access"`
	RefreshToken     string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenIssuer mints and validates HS256 session tokens.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	revoked    RevocationList
}

// IssuerOption configures TokenIssuer behavior.
type IssuerOption func(*TokenIssuer) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) IssuerOption {
	return func(t *TokenIssuer) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(t *TokenIssuer) error {
		if ttl > 0 {
			t.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(t *TokenIssuer) error {
		if ttl > 0 {
			t.refreshTTL = ttl
		}
		return nil
	}
}

// WithTokenClock overrides the time source used for iat/exp and validation.
func WithTokenClock(fn func() time.Time) IssuerOption {
	return func(t *TokenIssuer) error {
		if fn != nil {
			t.now = fn
		}
		return nil
	}
}

// NewTokenIssuer constructs a TokenIssuer signing with secret.
func NewTokenIssuer(secret string, revoked RevocationList, opts ...IssuerOption) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if revoked == nil {
		return nil, errors.New("auth: revocation list is required")
	}
	t := &TokenIssuer{
		secret:     []byte(secret),
		issuer:     "casa-saas",
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
		revoked:    revoked,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Issue mints an access/refresh pair bound to the session.
func (t *TokenIssuer) Issue(user *User, sessionID string) (TokenPair, error) {
	access, accessExp, err := t.sign(user, sessionID, TokenTypeAccess, t.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := t.sign(user, sessionID, TokenTypeRefresh, t.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (t *TokenIssuer) sign(user *User, sessionID, tokenType string, ttl time.Duration) (string, time.Time, error) {
	now := t.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		TokenType: tokenType,
		SessionID: sessionID,
		Email:     user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// parse verifies signature, issuer, expiry and token type without consulting the revocation list.
func (t *TokenIssuer) parse(raw, tokenType string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenMalformed
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, &Error{Kind: KindTokenExpired, Message: ErrTokenExpired.Message, Err: err}
		}
		return nil, &Error{Kind: KindTokenMalformed, Message: ErrTokenMalformed.Message, Err: err}
	}
	if claims.TokenType != tokenType || claims.Subject == "" || claims.ID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// Validate returns the claims of a token of the given type. Refresh tokens are
// also checked against the revocation list.
func (t *TokenIssuer) Validate(ctx context.Context, raw, tokenType string) (*Claims, error) {
	claims, err := t.parse(raw, tokenType)
	if err != nil {
		return nil, err
	}
	if tokenType != TokenTypeRefresh {
		return claims, nil
	}
	revoked, err := t.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, dependencyFailure("token store unavailable", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Rotate consumes a refresh token. Only the first caller for a given token id
// succeeds; every later use fails with TokenRevoked.
func (t *TokenIssuer) Rotate(ctx context.Context, raw string) (*Claims, error) {
	claims, err := t.parse(raw, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	added, err := t.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, dependencyFailure("token store unavailable", err)
	}
	if !added {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Blacklist revokes a refresh token. Revoking an already revoked token is a no-op.
// An expired token needs no revocation and yields nil claims.
func (t *TokenIssuer) Blacklist(ctx context.Context, raw string) (*Claims, error) {
	claims, err := t.parse(raw, TokenTypeRefresh)
	if KindOf(err) == KindTokenExpired {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := t.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, dependencyFailure("token store unavailable", err)
	}
	return claims, nil
}
