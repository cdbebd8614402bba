package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/auxora-tech/casa-saas/internal/auth"
)

type magicLinks struct{ q querier }

// LockIssuance takes a transaction scoped advisory lock on (email, purpose).
func (s magicLinks) LockIssuance(ctx context.Context, email string, purpose auth.Purpose) error {
	_, err := s.q.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, "magic_link:"+string(purpose)+":"+email)
	return err
}

func (s magicLinks) InvalidateLive(ctx context.Context, email string, purpose auth.Purpose, at time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		update magic_link_tokens set consumed_at = $3
		where email = $1 and purpose = $2 and consumed_at is null
	`, email, string(purpose), at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s magicLinks) Create(ctx context.Context, t *auth.MagicLinkToken) error {
	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		insert into magic_link_tokens
			(id, user_id, email, token_hash, purpose, ip_address, user_agent, device_fingerprint, metadata, created_at, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, nullIfEmpty(t.UserID), t.Email, t.TokenHash, string(t.Purpose),
		t.IPAddress, t.UserAgent, t.DeviceFingerprint, meta, t.CreatedAt, t.ExpiresAt)
	return mapWriteErr(err, auth.ErrConflict)
}

func (s magicLinks) FindByHash(ctx context.Context, hash string) (*auth.MagicLinkToken, error) {
	var (
		t        auth.MagicLinkToken
		userID   sql.NullString
		meta     []byte
		consumed sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `
		select id, user_id, email, token_hash, purpose, ip_address, user_agent, device_fingerprint,
		       metadata, created_at, expires_at, consumed_at
		from magic_link_tokens
		where token_hash = $1
	`, hash).Scan(&t.ID, &userID, &t.Email, &t.TokenHash, &t.Purpose, &t.IPAddress, &t.UserAgent,
		&t.DeviceFingerprint, &meta, &t.CreatedAt, &t.ExpiresAt, &consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.UserID = userID.String
	t.ConsumedAt = timePtr(consumed)
	if t.Metadata, err = decodeJSON[string](meta); err != nil {
		return nil, err
	}
	return &t, nil
}

// Consume sets consumed_at only while the token is live, so two racing
// verifications cannot both succeed.
func (s magicLinks) Consume(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update magic_link_tokens set consumed_at = $2
		where id = $1 and consumed_at is null and expires_at >= $2
	`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrTokenExpired
	}
	return nil
}
