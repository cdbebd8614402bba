package pg

import (
	"context"
	"time"

	"github.com/auxora-tech/casa-saas/internal/auth"
)

type sessions struct{ q querier }

const sessionColumns = `id, user_id, device_fingerprint, ip_address, user_agent, is_active, created_at, last_activity_at`

func (s sessions) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.q.ExecContext(ctx, `
		insert into sessions (`+sessionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.UserID, sess.DeviceFingerprint, sess.IPAddress, sess.UserAgent, sess.IsActive, sess.CreatedAt, sess.LastActivityAt)
	return mapWriteErr(err, auth.ErrConflict)
}

func (s sessions) Find(ctx context.Context, id string) (*auth.Session, error) {
	rows, err := s.q.QueryContext(ctx, `select `+sessionColumns+` from sessions where id = $1`, id)
	if err != nil {
		return nil, err
	}
	list, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, auth.ErrNotFound
	}
	return &list[0], nil
}

func (s sessions) ListActive(ctx context.Context, userID string) ([]auth.Session, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+sessionColumns+`
		from sessions
		where user_id = $1 and is_active
		order by last_activity_at desc, id desc
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

func (s sessions) Deactivate(ctx context.Context, userID, sessionID string) error {
	res, err := s.q.ExecContext(ctx, `
		update sessions set is_active = false
		where id = $1 and user_id = $2 and is_active
	`, sessionID, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s sessions) DeactivateDevice(ctx context.Context, userID, fingerprint string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		update sessions set is_active = false
		where user_id = $1 and device_fingerprint = $2 and is_active
	`, userID, fingerprint)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s sessions) Touch(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `update sessions set last_activity_at = $2 where id = $1`, sessionID, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanSessions(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close() error
}) ([]auth.Session, error) {
	defer rows.Close()
	var result []auth.Session
	for rows.Next() {
		var s auth.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.DeviceFingerprint, &s.IPAddress, &s.UserAgent, &s.IsActive, &s.CreatedAt, &s.LastActivityAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
