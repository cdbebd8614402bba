// Package notify delivers magic-link emails. The Kafka notifier publishes
// an email request for the mailer service; the log notifier is used when no
// broker is configured.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/auxora-tech/casa-saas/internal/audit"
	"github.com/auxora-tech/casa-saas/internal/auth"
	"github.com/auxora-tech/casa-saas/internal/obs"
)

const defaultSendTimeout = 5 * time.Second

var subjects = map[auth.Purpose]string{
	auth.PurposeLogin:    "Your secure login link",
	auth.PurposeRegister: "Verify your email to get started",
	auth.PurposeInvite:   "You're invited to join a team",
}

// Email is the message published for the mailer.
type Email struct {
	Kind       auth.Purpose `json:"kind"`
	Recipient  string       `json:"recipient"`
	Subject    string       `json:"subject"`
	Link       string       `json:"link"`
	FirstName  string       `json:"first_name,omitempty"`
	TenantName string       `json:"tenant_name,omitempty"`
	ExpiresAt  time.Time    `json:"expires_at"`
	RequestID  string       `json:"request_id,omitempty"`
}

// NewEmail renders the message for a purpose.
func NewEmail(recipient string, kind auth.Purpose, data auth.TemplateData) Email {
	subject := subjects[kind]
	if kind == auth.PurposeInvite && data.TenantName != "" {
		subject = fmt.Sprintf("You're invited to join %s", data.TenantName)
	}
	return Email{
		Kind:       kind,
		Recipient:  recipient,
		Subject:    subject,
		Link:       data.Link,
		FirstName:  data.FirstName,
		TenantName: data.TenantName,
		ExpiresAt:  data.ExpiresAt,
	}
}

// MessageWriter is the part of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BreakerConfig tunes the circuit breaker around the writer.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig trips at half of at least five requests failing.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// KafkaNotifier implements auth.Notifier by publishing Email messages.
type KafkaNotifier struct {
	writer  MessageWriter
	topic   string
	breaker *gobreaker.CircuitBreaker[struct{}]
	timeout time.Duration
	logger  *zap.Logger
}

var _ auth.Notifier = (*KafkaNotifier)(nil)

// NewKafkaWriter builds a synchronous writer that waits for all replicas.
// Messages carry their topic, so the writer has none.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
}

// NewKafkaNotifier publishes to topic through w.
func NewKafkaNotifier(w MessageWriter, topic string, cfg BreakerConfig, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = obs.Logger()
	}
	logger = logger.Named("notify")
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			obs.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	obs.BreakerState.WithLabelValues(cfg.Name).Set(0)
	return &KafkaNotifier{
		writer:  w,
		topic:   topic,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		timeout: defaultSendTimeout,
		logger:  logger,
	}
}

// Send publishes the email keyed by recipient. It reports false when the
// write fails, times out or the breaker is open.
func (n *KafkaNotifier) Send(ctx context.Context, recipient string, kind auth.Purpose, data auth.TemplateData) bool {
	email := NewEmail(recipient, kind, data)
	email.RequestID = audit.RequestIDFromContext(ctx)
	payload, err := json.Marshal(email)
	if err != nil {
		n.result(kind, "failed", err)
		return false
	}
	msg := kafka.Message{
		Topic: n.topic,
		Key:   []byte(recipient),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("email." + string(kind))},
			{Key: "source", Value: []byte("casa-auth")},
		},
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	_, err = n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.writer.WriteMessages(sendCtx, msg)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		n.result(kind, "breaker_open", err)
		return false
	case err != nil:
		n.result(kind, "failed", err)
		return false
	}
	n.result(kind, "sent", nil)
	return true
}

func (n *KafkaNotifier) result(kind auth.Purpose, outcome string, err error) {
	obs.Notifications.WithLabelValues(string(kind), outcome).Inc()
	if err != nil {
		n.logger.Error("notification not delivered",
			zap.String("kind", string(kind)),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	}
}

// State returns the breaker state.
func (n *KafkaNotifier) State() gobreaker.State { return n.breaker.State() }

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error { return n.writer.Close() }

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// LogNotifier writes the message to the log instead of delivering it.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier logs through logger, or the process logger when nil.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = obs.Logger()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// Send always succeeds.
func (n *LogNotifier) Send(_ context.Context, recipient string, kind auth.Purpose, data auth.TemplateData) bool {
	email := NewEmail(recipient, kind, data)
	n.logger.Info("magic link",
		zap.String("kind", string(kind)),
		zap.String("recipient", recipient),
		zap.String("subject", email.Subject),
		zap.String("link", email.Link),
		zap.Time("expires_at", email.ExpiresAt),
	)
	obs.Notifications.WithLabelValues(string(kind), "logged").Inc()
	return true
}
