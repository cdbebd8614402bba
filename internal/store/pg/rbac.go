package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/auxora-tech/casa-saas/internal/auth"
)

type tenants struct{ q querier }

func (s tenants) Create(ctx context.Context, t *auth.Tenant) error {
	_, err := s.q.ExecContext(ctx, `insert into tenants (id, name, created_at) values ($1, $2, $3)`, t.ID, t.Name, t.CreatedAt)
	return mapWriteErr(err, auth.ErrConflict)
}

func (s tenants) Find(ctx context.Context, id string) (*auth.Tenant, error) {
	return s.scan(s.q.QueryRowContext(ctx, `select id, name, created_at from tenants where id = $1`, id))
}

func (s tenants) FindByName(ctx context.Context, name string) (*auth.Tenant, error) {
	return s.scan(s.q.QueryRowContext(ctx, `select id, name, created_at from tenants where name = $1`, name))
}

func (tenants) scan(row *sql.Row) (*auth.Tenant, error) {
	var t auth.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type memberships struct{ q querier }

const membershipColumns = `m.id, m.user_id, m.tenant_id, m.role, m.is_active, m.joined_at, m.left_at`

func scanMembership(dest *auth.Membership, extra ...any) []any {
	return append([]any{&dest.ID, &dest.UserID, &dest.TenantID, &dest.Role, &dest.IsActive, &dest.JoinedAt}, extra...)
}

func (s memberships) Create(ctx context.Context, m *auth.Membership) error {
	_, err := s.q.ExecContext(ctx, `
		insert into memberships (id, user_id, tenant_id, role, is_active, joined_at, left_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.UserID, m.TenantID, string(m.Role), m.IsActive, m.JoinedAt, nullTime(m.LeftAt))
	return mapWriteErr(err, auth.ErrConflict)
}

func (s memberships) Find(ctx context.Context, userID, tenantID string) (*auth.Membership, error) {
	var (
		m    auth.Membership
		left sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `
		select `+membershipColumns+`
		from memberships m
		where m.user_id = $1 and m.tenant_id = $2
	`, userID, tenantID).Scan(scanMembership(&m, &left)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.LeftAt = timePtr(left)
	return &m, nil
}

func (s memberships) Update(ctx context.Context, m *auth.Membership) error {
	res, err := s.q.ExecContext(ctx, `
		update memberships set role = $2, is_active = $3, left_at = $4
		where id = $1
	`, m.ID, string(m.Role), m.IsActive, nullTime(m.LeftAt))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s memberships) ListForUser(ctx context.Context, userID string) ([]auth.MembershipView, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+membershipColumns+`, t.name
		from memberships m
		join tenants t on t.id = m.tenant_id
		where m.user_id = $1
		order by m.joined_at, m.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.MembershipView
	for rows.Next() {
		var (
			v    auth.MembershipView
			left sql.NullTime
		)
		if err := rows.Scan(scanMembership(&v.Membership, &left, &v.TenantName)...); err != nil {
			return nil, err
		}
		v.LeftAt = timePtr(left)
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s memberships) ListForTenant(ctx context.Context, tenantID string, roles []auth.Role) ([]auth.MemberView, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	args := []any{tenantID}
	placeholders := make([]string, 0, len(roles))
	for _, r := range roles {
		args = append(args, string(r))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	rows, err := s.q.QueryContext(ctx, `
		select `+membershipColumns+`, `+prefixed("u", userColumns)+`
		from memberships m
		join users u on u.id = m.user_id
		where m.tenant_id = $1 and m.role in (`+strings.Join(placeholders, ", ")+`)
		order by m.joined_at, m.id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.MemberView
	for rows.Next() {
		var (
			v    auth.MemberView
			left sql.NullTime
		)
		u := &v.User
		dest := scanMembership(&v.Membership, &left,
			&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.IsActive, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		v.LeftAt = timePtr(left)
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
