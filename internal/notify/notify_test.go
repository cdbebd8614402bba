package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/auxora-tech/casa-saas/internal/audit"
	"github.com/auxora-tech/casa-saas/internal/auth"
	"github.com/auxora-tech/casa-saas/internal/obs"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaNotifierPublishesEmail(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifier(w, "casa.notifications.email", DefaultBreakerConfig("notify-test-ok"), zap.NewNop())
	expires := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	ctx := audit.WithRequestID(context.Background(), "req-9")
	ok := n.Send(ctx, "a@example.com", auth.PurposeInvite, auth.TemplateData{
		Link:       "http://localhost:3000/auth/verify?token=x&action=invite",
		FirstName:  "Ana",
		TenantName: "Acme",
		ExpiresAt:  expires,
	})
	if !ok {
		t.Fatalf("expected delivery")
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "casa.notifications.email" || string(msg.Key) != "a@example.com" {
		t.Fatalf("unexpected message routing: %s %s", msg.Topic, msg.Key)
	}
	var email Email
	if err := json.Unmarshal(msg.Value, &email); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if email.Subject != "You're invited to join Acme" || email.RequestID != "req-9" || !email.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected email: %+v", email)
	}
}

func TestKafkaNotifierReportsFailureAndTrips(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	cfg := DefaultBreakerConfig("notify-test-trip")
	cfg.MinRequests = 2
	n := NewKafkaNotifier(w, "topic", cfg, zap.NewNop())

	before := testutil.ToFloat64(obs.Notifications.WithLabelValues("login", "breaker_open"))
	for i := 0; i < 2; i++ {
		if n.Send(context.Background(), "a@example.com", auth.PurposeLogin, auth.TemplateData{}) {
			t.Fatalf("send %d should fail", i)
		}
	}
	if n.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker open, got %s", n.State())
	}
	if n.Send(context.Background(), "a@example.com", auth.PurposeLogin, auth.TemplateData{}) {
		t.Fatalf("send through open breaker should fail")
	}
	if got := testutil.ToFloat64(obs.Notifications.WithLabelValues("login", "breaker_open")) - before; got != 1 {
		t.Fatalf("expected one breaker_open outcome, got %v", got)
	}
	if got := testutil.ToFloat64(obs.BreakerState.WithLabelValues("notify-test-trip")); got != 2 {
		t.Fatalf("expected breaker gauge 2, got %v", got)
	}
}

func TestSendSurvivesCancelledRequest(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifier(w, "topic", DefaultBreakerConfig("notify-test-cancel"), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !n.Send(ctx, "a@example.com", auth.PurposeRegister, auth.TemplateData{}) {
		t.Fatalf("expected delivery despite cancelled request context")
	}
}

func TestLogNotifierAlwaysSucceeds(t *testing.T) {
	n := NewLogNotifier(zap.NewNop())
	if !n.Send(context.Background(), "a@example.com", auth.PurposeLogin, auth.TemplateData{Link: "x"}) {
		t.Fatalf("log notifier must succeed")
	}
}
