package auth

import (
	"context"
	"time"
)

// Store bundles the persistence concerns of the auth core. WithinTx runs fn
// against a transactional view; any error rolls every write back.
type Store interface {
	Users() UserStore
	Tenants() TenantStore
	Memberships() MembershipStore
	MagicLinks() MagicLinkStore
	Sessions() SessionStore
	LoginAttempts() LoginAttemptStore
	Audit() AuditStore
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// UserStore persists credential records. Emails are stored normalised.
type UserStore interface {
	// Create fails with ErrConflict when the email is taken.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
}

// TenantStore persists companies.
type TenantStore interface {
	// Create fails with ErrConflict when the name is taken.
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	FindByName(ctx context.Context, name string) (*Tenant, error)
}

// MembershipStore persists (user, tenant, role) rows, at most one per pair.
type MembershipStore interface {
	// Create fails with ErrConflict when the pair already has a row.
	Create(ctx context.Context, m *Membership) error
	// Find returns the row for the pair regardless of its active flag.
	Find(ctx context.Context, userID, tenantID string) (*Membership, error)
	Update(ctx context.Context, m *Membership) error
	ListForUser(ctx context.Context, userID string) ([]MembershipView, error)
	// ListForTenant returns members holding one of roles, oldest first.
	ListForTenant(ctx context.Context, tenantID string, roles []Role) ([]MemberView, error)
}

// MagicLinkStore persists magic-link tokens by hash.
type MagicLinkStore interface {
	// LockIssuance serialises issuance for (email, purpose) until the transaction ends.
	LockIssuance(ctx context.Context, email string, purpose Purpose) error
	// InvalidateLive marks every unconsumed token for (email, purpose) consumed at.
	InvalidateLive(ctx context.Context, email string, purpose Purpose, at time.Time) (int64, error)
	Create(ctx context.Context, t *MagicLinkToken) error
	FindByHash(ctx context.Context, hash string) (*MagicLinkToken, error)
	// Consume sets consumed_at only if the token is still live, else ErrTokenExpired.
	Consume(ctx context.Context, id string, at time.Time) error
}

// SessionStore persists device sessions. Rows are never deleted.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	// ListActive returns active sessions, most recent activity first.
	ListActive(ctx context.Context, userID string) ([]Session, error)
	// Deactivate fails with ErrNotFound unless the session is owned by userID and active.
	Deactivate(ctx context.Context, userID, sessionID string) error
	DeactivateDevice(ctx context.Context, userID, fingerprint string) (int64, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
}

// LoginAttemptStore appends authentication events.
type LoginAttemptStore interface {
	Append(ctx context.Context, a *LoginAttempt) error
}

// AuditStore appends audit entries.
type AuditStore interface {
	Append(ctx context.Context, e *AuditEntry) error
}
