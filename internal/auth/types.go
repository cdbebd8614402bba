package auth

import "time"

// User is a credential record. An empty PasswordHash marks a passwordless account.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	PasswordHash  string    `json:"-"`
	IsActive      bool      `json:"is_active"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasPassword reports whether password authentication is possible for the user.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// Tenant is a company that owns memberships.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership binds a user to a tenant with exactly one role.
type Membership struct {
	ID       string     `json:"id"`
	UserID   string     `json:"user_id"`
	TenantID string     `json:"tenant_id"`
	Role     Role       `json:"role"`
	IsActive bool       `json:"is_active"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// MembershipView is a membership joined with its tenant name.
type MembershipView struct {
	Membership
	TenantName string `json:"tenant_name"`
}

// MemberView is a membership joined with its user, used for employee listings.
type MemberView struct {
	Membership
	User User `json:"user"`
}

// Session is an authenticated device context.
type Session struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	IPAddress         string    `json:"ip_address"`
	UserAgent         string    `json:"user_agent"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// AttemptType classifies a LoginAttempt.
type AttemptType string

const (
	AttemptPassword  AttemptType = "password"
	AttemptMagicLink AttemptType = "magic_link"
	AttemptRefresh   AttemptType = "refresh"
)

// LoginAttempt is an append-only authentication event.
type LoginAttempt struct {
	ID            string
	Email         string
	IPAddress     string
	UserAgent     string
	AttemptType   AttemptType
	Success       bool
	FailureReason string
	CreatedAt     time.Time
}

// AuditEntry is an append-only record of a security relevant action.
type AuditEntry struct {
	ID          string
	ActorID     string
	Action      string
	Description string
	IPAddress   string
	RequestID   string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// RequestContext describes where a request came from.
type RequestContext struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
}

// Audit action names.
const (
	ActionSignup            = "auth.signup"
	ActionSignin            = "auth.signin"
	ActionSigninFailed      = "auth.signin_failed"
	ActionMagicLinkIssued   = "auth.magic_link_issued"
	ActionMagicLinkVerified = "auth.magic_link_verified"
	ActionMagicLinkFailed   = "auth.magic_link_failed"
	ActionTokenRefreshed    = "auth.token_refreshed"
	ActionLogout            = "auth.logout"
	ActionSessionRevoked    = "auth.session_revoked"
	ActionTenantCreated     = "tenant.created"
	ActionEmployeeAdded     = "tenant.employee_added"
	ActionEmployeeUpdated   = "tenant.employee_updated"
	ActionMemberInvited     = "tenant.member_invited"
)
