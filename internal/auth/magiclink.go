package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/auxora-tech/casa-saas/internal/ids"
)

// Purpose is the closed set of magic-link purposes.
type Purpose string

const (
	PurposeLogin    Purpose = "login"
	PurposeRegister Purpose = "register"
	PurposeInvite   Purpose = "invite"
)

// Purposes lists every purpose; each must have a TTL and a verification handler.
func Purposes() []Purpose {
	return []Purpose{PurposeLogin, PurposeRegister, PurposeInvite}
}

var purposeTTL = map[Purpose]time.Duration{
	PurposeLogin:    15 * time.Minute,
	PurposeRegister: 24 * time.Hour,
	PurposeInvite:   48 * time.Hour,
}

// TTL returns the validity window of tokens issued for p.
func (p Purpose) TTL() (time.Duration, bool) {
	ttl, ok := purposeTTL[p]
	return ttl, ok
}

// ParsePurpose validates a purpose tag.
func ParsePurpose(s string) (Purpose, bool) {
	p := Purpose(strings.ToLower(strings.TrimSpace(s)))
	_, ok := purposeTTL[p]
	return p, ok
}

// Metadata keys used by invite tokens.
const (
	metaTenantID  = "tenant_id"
	metaRole      = "role"
	metaInvitedBy = "invited_by"
)

// MagicLinkToken is a single-use, purpose scoped credential. Token holds the
// plaintext only right after issuance; the store keeps TokenHash.
type MagicLinkToken struct {
	ID                string
	UserID            string
	Email             string
	Token             string
	TokenHash         string
	Purpose           Purpose
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Metadata          map[string]string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ConsumedAt        *time.Time
}

// IsValid reports whether the token is unconsumed and not past its expiry.
func (t *MagicLinkToken) IsValid(now time.Time) bool {
	return t.ConsumedAt == nil && !now.After(t.ExpiresAt)
}

// errLinkInvalid is the user facing failure for used or expired links.
var errLinkInvalid = &Error{Kind: KindTokenExpired, Message: "this link is invalid or has expired"}

var errLinkNotFound = &Error{Kind: KindNotFound, Message: "this link is invalid or has expired"}

const magicTokenBytes = 32

// HashMagicToken returns the lookup key stored for a plaintext token.
func HashMagicToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MagicLinks issues and looks up magic-link tokens.
type MagicLinks struct {
	now     func() time.Time
	entropy io.Reader
	baseURL string
}

// NewMagicLinks returns an engine that builds verification URLs under baseURL.
func NewMagicLinks(baseURL string, now func() time.Time) *MagicLinks {
	if now == nil {
		now = time.Now
	}
	return &MagicLinks{now: now, entropy: rand.Reader, baseURL: strings.TrimRight(baseURL, "/")}
}

// IssueParams describes a token to issue.
type IssueParams struct {
	Email    string
	UserID   string
	Purpose  Purpose
	Request  RequestContext
	Metadata map[string]string
}

// Issue invalidates live tokens for (email, purpose) and persists a new one.
// It must run inside a transaction.
func (m *MagicLinks) Issue(ctx context.Context, tx Store, p IssueParams) (*MagicLinkToken, error) {
	ttl, ok := p.Purpose.TTL()
	if !ok {
		return nil, fmt.Errorf("magic link: unknown purpose %q", p.Purpose)
	}
	email := NormalizeEmail(p.Email)
	links := tx.MagicLinks()
	if err := links.LockIssuance(ctx, email, p.Purpose); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if _, err := links.InvalidateLive(ctx, email, p.Purpose, now); err != nil {
		return nil, err
	}
	raw, err := m.newToken()
	if err != nil {
		return nil, err
	}
	tok := &MagicLinkToken{
		ID:                ids.NewAt(now),
		UserID:            p.UserID,
		Email:             email,
		Token:             raw,
		TokenHash:         HashMagicToken(raw),
		Purpose:           p.Purpose,
		IPAddress:         p.Request.IPAddress,
		UserAgent:         p.Request.UserAgent,
		DeviceFingerprint: p.Request.DeviceFingerprint,
		Metadata:          p.Metadata,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}
	if err := links.Create(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Lookup resolves a plaintext token to its live row. It does not consume it.
func (m *MagicLinks) Lookup(ctx context.Context, tx Store, raw string) (*MagicLinkToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fieldError("token", "this field is required")
	}
	tok, err := tx.MagicLinks().FindByHash(ctx, HashMagicToken(raw))
	if errors.Is(err, ErrNotFound) {
		return nil, errLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	if !tok.IsValid(m.now()) {
		reason := "expired"
		if tok.ConsumedAt != nil {
			reason = "already_used"
		}
		return tok, &Error{Kind: KindTokenExpired, Message: errLinkInvalid.Message, Err: errors.New(reason)}
	}
	return tok, nil
}

// Consume marks the token used. A token consumed or superseded concurrently fails with TokenExpired.
func (m *MagicLinks) Consume(ctx context.Context, tx Store, tok *MagicLinkToken) error {
	now := m.now().UTC()
	err := tx.MagicLinks().Consume(ctx, tok.ID, now)
	if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrNotFound) {
		return &Error{Kind: KindTokenExpired, Message: errLinkInvalid.Message, Err: errors.New("consumed concurrently")}
	}
	if err != nil {
		return err
	}
	tok.ConsumedAt = &now
	return nil
}

// URL builds the verification link delivered to the user.
func (m *MagicLinks) URL(tok *MagicLinkToken) string {
	q := url.Values{}
	q.Set("token", tok.Token)
	q.Set("action", string(tok.Purpose))
	return m.baseURL + "/auth/verify?" + q.Encode()
}

func (m *MagicLinks) newToken() (string, error) {
	buf := make([]byte, magicTokenBytes)
	if _, err := io.ReadFull(m.entropy, buf); err != nil {
		return "", fmt.Errorf("magic link entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
