// Package audit persists audit entries and login attempts. Writes are best
// effort: a failing sink is logged and counted, never surfaced to callers.
package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auxora-tech/casa-saas/internal/auth"
	"github.com/auxora-tech/casa-saas/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

const defaultWriteTimeout = 2 * time.Second

// Sink is the subset of auth.Store the recorder writes to.
type Sink interface {
	Audit() auth.AuditStore
	LoginAttempts() auth.LoginAttemptStore
}

// Recorder implements auth.Auditor.
type Recorder struct {
	sink    Sink
	logger  *zap.Logger
	timeout time.Duration
}

var _ auth.Auditor = (*Recorder)(nil)

// NewRecorder writes to sink. A nil logger uses the process logger.
func NewRecorder(sink Sink, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = obs.Logger()
	}
	return &Recorder{sink: sink, logger: logger.Named("audit"), timeout: defaultWriteTimeout}
}

// Record enriches e with the request id and acting user from ctx and stores it.
func (r *Recorder) Record(ctx context.Context, e auth.AuditEntry) {
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	if e.ActorID == "" {
		if userID, ok := auth.UserIDFromContext(ctx); ok {
			e.ActorID = userID
		}
	}
	r.logger.Info(e.Action,
		zap.String("type", "audit"),
		zap.String("actor_id", e.ActorID),
		zap.String("request_id", e.RequestID),
		zap.String("ip", e.IPAddress),
		zap.String("description", e.Description),
		zap.Any("fields", e.Metadata),
	)

	wctx, cancel := r.writeContext(ctx)
	defer cancel()
	if err := r.sink.Audit().Append(wctx, &e); err != nil {
		r.failed("audit_log", e.Action, err)
	}
}

// RecordLoginAttempt stores a. Failed attempts are also logged at warn level.
func (r *Recorder) RecordLoginAttempt(ctx context.Context, a auth.LoginAttempt) {
	if !a.Success {
		r.logger.Warn("authentication failed",
			zap.String("type", string(a.AttemptType)),
			zap.String("email", a.Email),
			zap.String("ip", a.IPAddress),
			zap.String("reason", a.FailureReason),
			zap.String("request_id", RequestIDFromContext(ctx)),
		)
	}
	wctx, cancel := r.writeContext(ctx)
	defer cancel()
	if err := r.sink.LoginAttempts().Append(wctx, &a); err != nil {
		r.failed("login_attempts", string(a.AttemptType), err)
	}
}

// writeContext detaches from the request so a client disconnect does not drop the entry.
func (r *Recorder) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

func (r *Recorder) failed(table, action string, err error) {
	obs.AuditWriteFailures.Inc()
	r.logger.Error("audit write failed",
		zap.String("table", table),
		zap.String("action", action),
		zap.Error(err),
	)
}
