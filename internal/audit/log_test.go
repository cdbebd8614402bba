package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/auxora-tech/casa-saas/internal/auth"
	"github.com/auxora-tech/casa-saas/internal/obs"
	"github.com/auxora-tech/casa-saas/internal/store/memory"
)

func TestRecordEnrichesFromContext(t *testing.T) {
	store := memory.New()
	core, logs := observer.New(zap.InfoLevel)
	rec := NewRecorder(store, zap.New(core))

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{User: auth.User{ID: "user-42"}})

	rec.Record(ctx, auth.AuditEntry{ID: "a1", Action: auth.ActionLogout, Metadata: map[string]any{"foo": "bar"}})

	entries := store.AuditEntries(auth.ActionLogout)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].RequestID != "req-123" || entries[0].ActorID != "user-42" {
		t.Fatalf("entry not enriched: %+v", entries[0])
	}
	if logs.FilterMessage(auth.ActionLogout).Len() != 1 {
		t.Fatalf("expected audit log line")
	}
}

var errDiskFull = errors.New("disk full")

type failingSink struct{}

func (failingSink) Audit() auth.AuditStore                { return failingAudit{} }
func (failingSink) LoginAttempts() auth.LoginAttemptStore { return failingAttempts{} }

type failingAudit struct{}

func (failingAudit) Append(context.Context, *auth.AuditEntry) error { return errDiskFull }

type failingAttempts struct{}

func (failingAttempts) Append(context.Context, *auth.LoginAttempt) error { return errDiskFull }

func TestFailedWritesAreSwallowedAndCounted(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := NewRecorder(failingSink{}, zap.New(core))
	before := testutil.ToFloat64(obs.AuditWriteFailures)

	rec.Record(context.Background(), auth.AuditEntry{Action: auth.ActionSignin})
	rec.RecordLoginAttempt(context.Background(), auth.LoginAttempt{Email: "a@example.com", AttemptType: auth.AttemptPassword, FailureReason: "bad_password"})

	if got := testutil.ToFloat64(obs.AuditWriteFailures) - before; got != 2 {
		t.Fatalf("expected 2 failures counted, got %v", got)
	}
	if logs.FilterMessage("audit write failed").Len() != 2 {
		t.Fatalf("expected failures to be logged")
	}
	if logs.FilterMessage("authentication failed").Len() != 1 {
		t.Fatalf("expected failed attempt warning")
	}
}
