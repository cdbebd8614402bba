// Package memory is an in-process implementation of the auth persistence
// interfaces. Transactions are serialised and copy-on-write, so a failed
// transaction leaves no trace.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/auxora-tech/casa-saas/internal/auth"
)

type state struct {
	users       map[string]auth.User
	tenants     map[string]auth.Tenant
	memberships map[string]auth.Membership
	links       map[string]auth.MagicLinkToken
	sessions    map[string]auth.Session
	attempts    []auth.LoginAttempt
	audit       []auth.AuditEntry
}

func newState() *state {
	return &state{
		users:       map[string]auth.User{},
		tenants:     map[string]auth.Tenant{},
		memberships: map[string]auth.Membership{},
		links:       map[string]auth.MagicLinkToken{},
		sessions:    map[string]auth.Session{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:       make(map[string]auth.User, len(s.users)),
		tenants:     make(map[string]auth.Tenant, len(s.tenants)),
		memberships: make(map[string]auth.Membership, len(s.memberships)),
		links:       make(map[string]auth.MagicLinkToken, len(s.links)),
		sessions:    make(map[string]auth.Session, len(s.sessions)),
		attempts:    append([]auth.LoginAttempt(nil), s.attempts...),
		audit:       append([]auth.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

type backend struct {
	mu   sync.Mutex
	data *state
}

// Store implements auth.Store in memory.
type Store struct {
	b  *backend
	tx *state
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{b: &backend{data: newState()}}
}

// exec runs fn against the transaction snapshot, or under the lock in autocommit mode.
func (s *Store) exec(fn func(*state) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return fn(s.b.data)
}

// WithinTx runs fn on a private copy and publishes it only if fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx auth.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	snapshot := s.b.data.clone()
	if err := fn(&Store{b: s.b, tx: snapshot}); err != nil {
		return err
	}
	s.b.data = snapshot
	return nil
}

func (s *Store) Users() auth.UserStore                 { return users{s} }
func (s *Store) Tenants() auth.TenantStore             { return tenants{s} }
func (s *Store) Memberships() auth.MembershipStore     { return memberships{s} }
func (s *Store) MagicLinks() auth.MagicLinkStore       { return links{s} }
func (s *Store) Sessions() auth.SessionStore           { return sessions{s} }
func (s *Store) LoginAttempts() auth.LoginAttemptStore { return attempts{s} }
func (s *Store) Audit() auth.AuditStore                { return auditLog{s} }

// LoginAttemptsFor returns recorded attempts for email, oldest first.
func (s *Store) LoginAttemptsFor(email string) []auth.LoginAttempt {
	var out []auth.LoginAttempt
	_ = s.exec(func(st *state) error {
		for _, a := range st.attempts {
			if a.Email == email {
				out = append(out, a)
			}
		}
		return nil
	})
	return out
}

// AuditEntries returns every audit entry with the given action.
func (s *Store) AuditEntries(action string) []auth.AuditEntry {
	var out []auth.AuditEntry
	_ = s.exec(func(st *state) error {
		for _, e := range st.audit {
			if action == "" || e.Action == action {
				out = append(out, e)
			}
		}
		return nil
	})
	return out
}

// CountUsers returns the number of stored users.
func (s *Store) CountUsers() int {
	n := 0
	_ = s.exec(func(st *state) error { n = len(st.users); return nil })
	return n
}

// CountMemberships returns the number of stored memberships.
func (s *Store) CountMemberships() int {
	n := 0
	_ = s.exec(func(st *state) error { n = len(st.memberships); return nil })
	return n
}

type users struct{ s *Store }

func (u users) Create(_ context.Context, user *auth.User) error {
	return u.s.exec(func(st *state) error {
		for _, existing := range st.users {
			if existing.Email == user.Email {
				return auth.ErrConflict
			}
		}
		st.users[user.ID] = *user
		return nil
	})
}

func (u users) Find(_ context.Context, id string) (*auth.User, error) {
	var out *auth.User
	err := u.s.exec(func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return auth.ErrNotFound
		}
		out = &user
		return nil
	})
	return out, err
}

func (u users) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	email = strings.ToLower(email)
	var out *auth.User
	err := u.s.exec(func(st *state) error {
		for _, user := range st.users {
			if user.Email == email {
				user := user
				out = &user
				return nil
			}
		}
		return auth.ErrNotFound
	})
	return out, err
}

func (u users) Update(_ context.Context, user *auth.User) error {
	return u.s.exec(func(st *state) error {
		if _, ok := st.users[user.ID]; !ok {
			return auth.ErrNotFound
		}
		st.users[user.ID] = *user
		return nil
	})
}

type tenants struct{ s *Store }

func (t tenants) Create(_ context.Context, tenant *auth.Tenant) error {
	return t.s.exec(func(st *state) error {
		for _, existing := range st.tenants {
			if existing.Name == tenant.Name {
				return auth.ErrConflict
			}
		}
		st.tenants[tenant.ID] = *tenant
		return nil
	})
}

func (t tenants) Find(_ context.Context, id string) (*auth.Tenant, error) {
	var out *auth.Tenant
	err := t.s.exec(func(st *state) error {
		tenant, ok := st.tenants[id]
		if !ok {
			return auth.ErrNotFound
		}
		out = &tenant
		return nil
	})
	return out, err
}

func (t tenants) FindByName(_ context.Context, name string) (*auth.Tenant, error) {
	var out *auth.Tenant
	err := t.s.exec(func(st *state) error {
		for _, tenant := range st.tenants {
			if tenant.Name == name {
				tenant := tenant
				out = &tenant
				return nil
			}
		}
		return auth.ErrNotFound
	})
	return out, err
}

type memberships struct{ s *Store }

func pairKey(userID, tenantID string) string { return userID + "/" + tenantID }

func (m memberships) Create(_ context.Context, mem *auth.Membership) error {
	return m.s.exec(func(st *state) error {
		key := pairKey(mem.UserID, mem.TenantID)
		if _, ok := st.memberships[key]; ok {
			return auth.ErrConflict
		}
		st.memberships[key] = *mem
		return nil
	})
}

func (m memberships) Find(_ context.Context, userID, tenantID string) (*auth.Membership, error) {
	var out *auth.Membership
	err := m.s.exec(func(st *state) error {
		mem, ok := st.memberships[pairKey(userID, tenantID)]
		if !ok {
			return auth.ErrNotFound
		}
		out = &mem
		return nil
	})
	return out, err
}

func (m memberships) Update(_ context.Context, mem *auth.Membership) error {
	return m.s.exec(func(st *state) error {
		key := pairKey(mem.UserID, mem.TenantID)
		if _, ok := st.memberships[key]; !ok {
			return auth.ErrNotFound
		}
		st.memberships[key] = *mem
		return nil
	})
}

func (m memberships) ListForUser(_ context.Context, userID string) ([]auth.MembershipView, error) {
	var out []auth.MembershipView
	err := m.s.exec(func(st *state) error {
		for _, mem := range st.memberships {
			if mem.UserID == userID {
				out = append(out, auth.MembershipView{Membership: mem, TenantName: st.tenants[mem.TenantID].Name})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, err
}

func (m memberships) ListForTenant(_ context.Context, tenantID string, roles []auth.Role) ([]auth.MemberView, error) {
	allowed := make(map[auth.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	var out []auth.MemberView
	err := m.s.exec(func(st *state) error {
		for _, mem := range st.memberships {
			if mem.TenantID != tenantID || !allowed[mem.Role] {
				continue
			}
			out = append(out, auth.MemberView{Membership: mem, User: st.users[mem.UserID]})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, err
}

type links struct{ s *Store }

// LockIssuance is a no-op: memory transactions are already serialised.
func (l links) LockIssuance(context.Context, string, auth.Purpose) error { return nil }

func (l links) InvalidateLive(_ context.Context, email string, purpose auth.Purpose, at time.Time) (int64, error) {
	var n int64
	err := l.s.exec(func(st *state) error {
		for id, tok := range st.links {
			if tok.Email == email && tok.Purpose == purpose && tok.ConsumedAt == nil {
				t := at
				tok.ConsumedAt = &t
				st.links[id] = tok
				n++
			}
		}
		return nil
	})
	return n, err
}

func (l links) Create(_ context.Context, tok *auth.MagicLinkToken) error {
	return l.s.exec(func(st *state) error {
		for _, existing := range st.links {
			if existing.TokenHash == tok.TokenHash {
				return auth.ErrConflict
			}
		}
		stored := *tok
		stored.Token = ""
		st.links[tok.ID] = stored
		return nil
	})
}

func (l links) FindByHash(_ context.Context, hash string) (*auth.MagicLinkToken, error) {
	var out *auth.MagicLinkToken
	err := l.s.exec(func(st *state) error {
		for _, tok := range st.links {
			if tok.TokenHash == hash {
				tok := tok
				out = &tok
				return nil
			}
		}
		return auth.ErrNotFound
	})
	return out, err
}

func (l links) Consume(_ context.Context, id string, at time.Time) error {
	return l.s.exec(func(st *state) error {
		tok, ok := st.links[id]
		if !ok {
			return auth.ErrNotFound
		}
		if tok.ConsumedAt != nil || at.After(tok.ExpiresAt) {
			return auth.ErrTokenExpired
		}
		t := at
		tok.ConsumedAt = &t
		st.links[id] = tok
		return nil
	})
}

type sessions struct{ s *Store }

func (ss sessions) Create(_ context.Context, sess *auth.Session) error {
	return ss.s.exec(func(st *state) error {
		if _, ok := st.sessions[sess.ID]; ok {
			return auth.ErrConflict
		}
		st.sessions[sess.ID] = *sess
		return nil
	})
}

func (ss sessions) Find(_ context.Context, id string) (*auth.Session, error) {
	var out *auth.Session
	err := ss.s.exec(func(st *state) error {
		sess, ok := st.sessions[id]
		if !ok {
			return auth.ErrNotFound
		}
		out = &sess
		return nil
	})
	return out, err
}

func (ss sessions) ListActive(_ context.Context, userID string) ([]auth.Session, error) {
	var out []auth.Session
	err := ss.s.exec(func(st *state) error {
		for _, sess := range st.sessions {
			if sess.UserID == userID && sess.IsActive {
				out = append(out, sess)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, err
}

func (ss sessions) Deactivate(_ context.Context, userID, sessionID string) error {
	return ss.s.exec(func(st *state) error {
		sess, ok := st.sessions[sessionID]
		if !ok || sess.UserID != userID || !sess.IsActive {
			return auth.ErrNotFound
		}
		sess.IsActive = false
		st.sessions[sessionID] = sess
		return nil
	})
}

func (ss sessions) DeactivateDevice(_ context.Context, userID, fingerprint string) (int64, error) {
	var n int64
	err := ss.s.exec(func(st *state) error {
		for id, sess := range st.sessions {
			if sess.UserID == userID && sess.DeviceFingerprint == fingerprint && sess.IsActive {
				sess.IsActive = false
				st.sessions[id] = sess
				n++
			}
		}
		return nil
	})
	return n, err
}

func (ss sessions) Touch(_ context.Context, sessionID string, at time.Time) error {
	return ss.s.exec(func(st *state) error {
		sess, ok := st.sessions[sessionID]
		if !ok {
			return auth.ErrNotFound
		}
		sess.LastActivityAt = at
		st.sessions[sessionID] = sess
		return nil
	})
}

type attempts struct{ s *Store }

func (a attempts) Append(_ context.Context, attempt *auth.LoginAttempt) error {
	return a.s.exec(func(st *state) error {
		st.attempts = append(st.attempts, *attempt)
		return nil
	})
}

type auditLog struct{ s *Store }

func (a auditLog) Append(_ context.Context, e *auth.AuditEntry) error {
	return a.s.exec(func(st *state) error {
		st.audit = append(st.audit, *e)
		return nil
	})
}
