// Package signature tracks service agreements sent through e-signature
// providers and applies their signed webhook callbacks.
package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Provider identifies an e-signature vendor.
type Provider string

const (
	ProviderZohoSign Provider = "zoho_sign"
	ProviderPandaDoc Provider = "pandadoc"
)

// Status is the lifecycle state of an agreement.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusSent       Status = "SENT"
	StatusSigned     Status = "SIGNED"
	StatusDeclined   Status = "DECLINED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusSigned || s == StatusDeclined }

var (
	ErrNotFound        = errors.New("agreement not found")
	ErrConflict        = errors.New("agreement already exists or changed concurrently")
	ErrBadSignature    = errors.New("invalid webhook signature")
	ErrMalformed       = errors.New("malformed webhook payload")
	ErrMissingDocument = errors.New("webhook payload has no document id")
)

// SignerRole is the party a signature belongs to.
type SignerRole string

const (
	SignerCasaRep  SignerRole = "casa_rep"
	SignerClient   SignerRole = "client"
	SignerGuardian SignerRole = "guardian"
)

// Agreement is a service agreement tracked against a provider document.
type Agreement struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	ClientID         string            `json:"client_id"`
	Provider         Provider          `json:"provider"`
	DocumentID       string            `json:"document_id"`
	ClientEmail      string            `json:"client_email,omitempty"`
	GuardianEmail    string            `json:"guardian_email,omitempty"`
	Status           Status            `json:"status"`
	FieldValues      map[string]string `json:"field_values,omitempty"`
	SignedAt         *time.Time        `json:"signed_at,omitempty"`
	CasaRepSignedAt  *time.Time        `json:"casa_rep_signed_at,omitempty"`
	ClientSignedAt   *time.Time        `json:"client_signed_at,omitempty"`
	GuardianSignedAt *time.Time        `json:"guardian_signed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// RoleOf maps a signer to a party of the agreement. Registered emails win,
// then the provider's role label, then a casa or admin mailbox.
func (a *Agreement) RoleOf(s Signer) (SignerRole, bool) {
	email := normalizeEmail(s.Email)
	switch {
	case email != "" && email == a.ClientEmail:
		return SignerClient, true
	case email != "" && email == a.GuardianEmail:
		return SignerGuardian, true
	}
	label := strings.ToLower(s.Role)
	switch {
	case strings.Contains(label, "guardian"):
		return SignerGuardian, true
	case strings.Contains(label, "client"), strings.Contains(label, "participant"):
		return SignerClient, true
	case strings.Contains(label, "casa"), strings.Contains(label, "representative"):
		return SignerCasaRep, true
	}
	if strings.Contains(email, "casa") || strings.Contains(email, "admin") {
		return SignerCasaRep, true
	}
	return "", false
}

// markSigned stamps at on the role's signature date unless it is already set.
func (a *Agreement) markSigned(role SignerRole, at time.Time) {
	var slot **time.Time
	switch role {
	case SignerCasaRep:
		slot = &a.CasaRepSignedAt
	case SignerClient:
		slot = &a.ClientSignedAt
	case SignerGuardian:
		slot = &a.GuardianSignedAt
	default:
		return
	}
	if *slot == nil {
		t := at
		*slot = &t
	}
}

// Store persists agreements.
type Store interface {
	// Create fails with ErrConflict when (provider, document) is already tracked.
	Create(ctx context.Context, a *Agreement) error
	Find(ctx context.Context, id string) (*Agreement, error)
	FindByDocument(ctx context.Context, provider Provider, documentID string) (*Agreement, error)
	// Update writes a only if its stored status still equals from, else ErrConflict.
	Update(ctx context.Context, a *Agreement, from Status) error
}

// VerifySignature checks a hex HMAC-SHA256 of body under secret in constant time.
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
