package signature

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auxora-tech/casa-saas/internal/ids"
	"github.com/auxora-tech/casa-saas/internal/obs"
)

// Outcome describes what a webhook did to the tracked agreement.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeTerminal        Outcome = "terminal"
	OutcomeUnknownDocument Outcome = "unknown_document"
)

// ErrInvalid reports a bad registration request.
var ErrInvalid = errors.New("invalid agreement")

var eventTarget = map[EventKind]Status{
	EventSent:      StatusSent,
	EventCompleted: StatusSigned,
	EventDeclined:  StatusDeclined,
}

// Processor applies provider events to agreements.
type Processor struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor) error

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) error {
		if now == nil {
			return errors.New("signature: clock must not be nil")
		}
		p.now = now
		return nil
	}
}

// WithLogger sets the logger used for webhook outcomes.
func WithLogger(l *zap.Logger) ProcessorOption {
	return func(p *Processor) error {
		if l != nil {
			p.logger = l
		}
		return nil
	}
}

// NewProcessor builds a processor over store.
func NewProcessor(store Store, opts ...ProcessorOption) (*Processor, error) {
	if store == nil {
		return nil, errors.New("signature: store is required")
	}
	p := &Processor{store: store, now: time.Now, logger: obs.Logger()}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// RegisterInput describes a document handed to a provider. ClientEmail is
// filled from the client's account, never from the request body.
type RegisterInput struct {
	TenantID      string   `json:"-"`
	ClientID      string   `json:"client_id"`
	ClientEmail   string   `json:"-"`
	GuardianEmail string   `json:"guardian_email"`
	Provider      Provider `json:"provider"`
	DocumentID    string   `json:"document_id"`
}

// Register starts tracking a provider document as NOT_STARTED.
func (p *Processor) Register(ctx context.Context, in RegisterInput) (*Agreement, error) {
	in.DocumentID = strings.TrimSpace(in.DocumentID)
	in.ClientEmail = normalizeEmail(in.ClientEmail)
	in.GuardianEmail = normalizeEmail(in.GuardianEmail)
	switch {
	case in.Provider != ProviderZohoSign && in.Provider != ProviderPandaDoc:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalid, in.Provider)
	case in.DocumentID == "":
		return nil, fmt.Errorf("%w: document_id is required", ErrInvalid)
	case in.ClientID == "":
		return nil, fmt.Errorf("%w: client_id is required", ErrInvalid)
	case in.GuardianEmail != "" && !strings.Contains(in.GuardianEmail, "@"):
		return nil, fmt.Errorf("%w: guardian_email is not an email address", ErrInvalid)
	case in.GuardianEmail != "" && in.GuardianEmail == in.ClientEmail:
		return nil, fmt.Errorf("%w: guardian_email must differ from the client's", ErrInvalid)
	}
	now := p.now().UTC()
	a := &Agreement{
		ID:            ids.NewAt(now),
		TenantID:      in.TenantID,
		ClientID:      in.ClientID,
		Provider:      in.Provider,
		DocumentID:    in.DocumentID,
		ClientEmail:   in.ClientEmail,
		GuardianEmail: in.GuardianEmail,
		Status:        StatusNotStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns an agreement by id.
func (p *Processor) Get(ctx context.Context, id string) (*Agreement, error) {
	return p.store.Find(ctx, id)
}

// stampSigners records who signed. Signers that map to no party are logged
// and skipped.
func (p *Processor) stampSigners(a *Agreement, signers []Signer, at time.Time) {
	for _, s := range signers {
		if !s.Completed {
			continue
		}
		role, ok := a.RoleOf(s)
		if !ok {
			p.logger.Warn("unmatched signer", zap.String("agreement_id", a.ID), zap.String("role", s.Role))
			continue
		}
		a.markSigned(role, at)
	}
}

// Handle applies ev. Events for unknown documents are acknowledged without
// changes, and SIGNED or DECLINED agreements never move again.
func (p *Processor) Handle(ctx context.Context, ev Event) (Outcome, error) {
	outcome, err := p.handle(ctx, ev)
	result := string(outcome)
	if err != nil {
		result = "error"
	}
	obs.WebhookEvents.WithLabelValues(string(ev.Provider), result).Inc()
	fields := []zap.Field{
		zap.String("provider", string(ev.Provider)),
		zap.String("event", ev.Name),
		zap.String("document_id", ev.DocumentID),
		zap.String("outcome", result),
	}
	if err != nil {
		p.logger.Error("signature webhook failed", append(fields, zap.Error(err))...)
	} else {
		p.logger.Info("signature webhook", fields...)
	}
	return outcome, err
}

func (p *Processor) handle(ctx context.Context, ev Event) (Outcome, error) {
	target, ok := eventTarget[ev.Kind]
	for attempt := 0; attempt < 2; attempt++ {
		a, err := p.store.FindByDocument(ctx, ev.Provider, ev.DocumentID)
		if errors.Is(err, ErrNotFound) {
			return OutcomeUnknownDocument, nil
		}
		if err != nil {
			return "", err
		}
		if !ok {
			return OutcomeIgnored, nil
		}
		if a.Status.Terminal() {
			return OutcomeTerminal, nil
		}
		if a.Status == target {
			return OutcomeIgnored, nil
		}
		from := a.Status
		now := p.now().UTC()
		a.Status = target
		a.UpdatedAt = now
		if target == StatusSigned {
			a.SignedAt = &now
			if len(ev.FieldValues) > 0 {
				a.FieldValues = ev.FieldValues
			}
			p.stampSigners(a, ev.Signers, now)
		}
		err = p.store.Update(ctx, a, from)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}
	return "", ErrConflict
}
