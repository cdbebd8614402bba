package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/auxora-tech/casa-saas/internal/auth"
)

type users struct{ q querier }

const userColumns = `id, email, first_name, last_name, password_hash, is_active, email_verified, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.IsActive, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s users) Create(ctx context.Context, u *auth.User) error {
	_, err := s.q.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.IsActive, u.EmailVerified, u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err, auth.ErrConflict)
}

func (s users) Find(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (s users) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = lower($1)`, email))
}

func (s users) Update(ctx context.Context, u *auth.User) error {
	res, err := s.q.ExecContext(ctx, `
		update users
		set email = $2, first_name = $3, last_name = $4, password_hash = $5,
		    is_active = $6, email_verified = $7, updated_at = $8
		where id = $1
	`, u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.IsActive, u.EmailVerified, u.UpdatedAt)
	if err != nil {
		return mapWriteErr(err, auth.ErrConflict)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
