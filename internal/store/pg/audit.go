package pg

import (
	"context"

	"github.com/auxora-tech/casa-saas/internal/auth"
)

type loginAttempts struct{ q querier }

func (s loginAttempts) Append(ctx context.Context, a *auth.LoginAttempt) error {
	_, err := s.q.ExecContext(ctx, `
		insert into login_attempts (id, email, ip_address, user_agent, attempt_type, success, failure_reason, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.Email, a.IPAddress, a.UserAgent, string(a.AttemptType), a.Success, a.FailureReason, a.CreatedAt)
	return err
}

type auditLog struct{ q querier }

func (s auditLog) Append(ctx context.Context, e *auth.AuditEntry) error {
	meta, err := encodeJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		insert into audit_log (id, actor_id, action, description, ip_address, request_id, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, nullIfEmpty(e.ActorID), e.Action, e.Description, e.IPAddress, e.RequestID, meta, e.CreatedAt)
	return err
}
