package signature

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec")
	body := []byte(`{"event":"request.completed"}`)
	sig := Sign(secret, body)
	if !VerifySignature(secret, body, sig) {
		t.Fatalf("expected valid signature")
	}
	if VerifySignature(secret, append(body, ' '), sig) {
		t.Fatalf("tampered body must fail")
	}
	if VerifySignature([]byte("other"), body, sig) {
		t.Fatalf("wrong secret must fail")
	}
	if VerifySignature(secret, body, "not-hex") {
		t.Fatalf("non hex signature must fail")
	}
	if VerifySignature(nil, body, sig) {
		t.Fatalf("empty secret must fail")
	}
}

func TestParseZohoSign(t *testing.T) {
	body := []byte(`{"event":"request.completed","requests":{"request_id":1234,"field_data":{"field_values":{"like_water":true,"energy_level":"high"}}}}`)
	ev, err := ParseZohoSign(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != EventCompleted || ev.DocumentID != "1234" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.FieldValues["like_water"] != "true" || ev.FieldValues["energy_level"] != "high" {
		t.Fatalf("unexpected field values: %v", ev.FieldValues)
	}
	if _, err := ParseZohoSign([]byte(`{"event":"request.sent","requests":{}}`)); !errors.Is(err, ErrMissingDocument) {
		t.Fatalf("expected missing document, got %v", err)
	}
	if _, err := ParseZohoSign([]byte(`{`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestParsePandaDoc(t *testing.T) {
	ev, err := ParsePandaDoc([]byte(`{"event_type":"document.declined","data":{"id":"doc-1"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != EventDeclined || ev.DocumentID != "doc-1" || ev.Provider != ProviderPandaDoc {
		t.Fatalf("unexpected event: %+v", ev)
	}
	ev, _ = ParsePandaDoc([]byte(`{"event_type":"document.viewed","data":{"id":"doc-1"}}`))
	if ev.Kind != EventOther {
		t.Fatalf("expected other, got %s", ev.Kind)
	}
}

func newTestProcessor(t *testing.T) (*Processor, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	p, err := NewProcessor(store, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p, store
}

func TestProcessorLifecycle(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProcessor(t)
	a, err := p.Register(ctx, RegisterInput{TenantID: "t1", ClientID: "u1", Provider: ProviderZohoSign, DocumentID: "req-1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a.Status != StatusNotStarted {
		t.Fatalf("expected NOT_STARTED, got %s", a.Status)
	}

	steps := []struct {
		kind    EventKind
		outcome Outcome
		status  Status
	}{
		{EventSent, OutcomeApplied, StatusSent},
		{EventSent, OutcomeIgnored, StatusSent},
		{EventOther, OutcomeIgnored, StatusSent},
		{EventCompleted, OutcomeApplied, StatusSigned},
		{EventDeclined, OutcomeTerminal, StatusSigned},
	}
	for i, step := range steps {
		got, err := p.Handle(ctx, Event{Provider: ProviderZohoSign, Kind: step.kind, DocumentID: "req-1", FieldValues: map[string]string{"k": "v"}})
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != step.outcome {
			t.Fatalf("step %d: expected %s, got %s", i, step.outcome, got)
		}
		cur, _ := p.Get(ctx, a.ID)
		if cur.Status != step.status {
			t.Fatalf("step %d: expected %s, got %s", i, step.status, cur.Status)
		}
	}
	cur, _ := p.Get(ctx, a.ID)
	if cur.SignedAt == nil || cur.FieldValues["k"] != "v" {
		t.Fatalf("signed agreement missing signed_at or fields: %+v", cur)
	}
}

func TestProcessorUnknownDocumentAcknowledged(t *testing.T) {
	p, _ := newTestProcessor(t)
	got, err := p.Handle(context.Background(), Event{Provider: ProviderPandaDoc, Kind: EventCompleted, DocumentID: "missing"})
	if err != nil || got != OutcomeUnknownDocument {
		t.Fatalf("expected unknown_document, got %s (%v)", got, err)
	}
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProcessor(t)
	in := RegisterInput{ClientID: "u1", Provider: ProviderPandaDoc, DocumentID: "d1"}
	if _, err := p.Register(ctx, in); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := p.Register(ctx, in); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := p.Register(ctx, RegisterInput{ClientID: "u1", Provider: "docusign", DocumentID: "d2"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid provider, got %v", err)
	}
}

func TestParseZohoSignActions(t *testing.T) {
	body := []byte(`{"event":"request.completed","requests":{"request_id":"req-9","actions":[
		{"action_type":"SIGN","action_status":"COMPLETED","recipient_email":" Pat@Example.com ","role":"Participant"},
		{"action_type":"SIGN","action_status":"UNOPENED","recipient_email":"gail@example.com"},
		{"action_type":"VIEW","action_status":"COMPLETED","recipient_email":"viewer@example.com"},
		{"action_type":"sign","action_status":"completed","recipient_email":"ops@casa.example"}
	]}}`)
	ev, err := ParseZohoSign(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Signer{
		{Email: "pat@example.com", Role: "Participant", Completed: true},
		{Email: "gail@example.com", Completed: false},
		{Email: "ops@casa.example", Completed: true},
	}
	if len(ev.Signers) != len(want) {
		t.Fatalf("expected %d signers, got %+v", len(want), ev.Signers)
	}
	for i := range want {
		if ev.Signers[i] != want[i] {
			t.Fatalf("signer %d: expected %+v, got %+v", i, want[i], ev.Signers[i])
		}
	}
}

func TestParsePandaDocRecipients(t *testing.T) {
	ev, err := ParsePandaDoc([]byte(`{"event_type":"document.completed","data":{"id":"doc-2","recipients":[
		{"email":"pat@example.com","role":"Client","has_completed":true},
		{"email":"gail@example.com","role":"Guardian","has_completed":false}
	]}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ev.Signers) != 2 || !ev.Signers[0].Completed || ev.Signers[1].Completed || ev.Signers[1].Role != "Guardian" {
		t.Fatalf("unexpected signers: %+v", ev.Signers)
	}
}

func TestAgreementRoleOf(t *testing.T) {
	a := &Agreement{ClientEmail: "pat@example.com", GuardianEmail: "gail@example.com"}
	cases := []struct {
		signer Signer
		role   SignerRole
		ok     bool
	}{
		{Signer{Email: "Pat@Example.com"}, SignerClient, true},
		{Signer{Email: "gail@example.com", Role: "Client"}, SignerGuardian, true},
		{Signer{Email: "someone@example.com", Role: "Legal Guardian"}, SignerGuardian, true},
		{Signer{Email: "someone@example.com", Role: "Participant"}, SignerClient, true},
		{Signer{Email: "kim@example.com", Role: "Casa Representative"}, SignerCasaRep, true},
		{Signer{Email: "admin@provider.example"}, SignerCasaRep, true},
		{Signer{Email: "stranger@example.com"}, "", false},
	}
	for _, tc := range cases {
		role, ok := a.RoleOf(tc.signer)
		if role != tc.role || ok != tc.ok {
			t.Fatalf("%+v: expected (%q, %v), got (%q, %v)", tc.signer, tc.role, tc.ok, role, ok)
		}
	}
}

func TestCompletedEventStampsSignerDates(t *testing.T) {
	ctx := context.Background()
	p, store := newTestProcessor(t)
	signedAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	full, err := p.Register(ctx, RegisterInput{
		TenantID: "t1", ClientID: "u1", ClientEmail: "Pat@Example.com", GuardianEmail: "gail@example.com",
		Provider: ProviderZohoSign, DocumentID: "req-1",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	partial, err := p.Register(ctx, RegisterInput{
		TenantID: "t1", ClientID: "u2", ClientEmail: "sam@example.com", GuardianEmail: "gus@example.com",
		Provider: ProviderZohoSign, DocumentID: "req-2",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := p.Handle(ctx, Event{Provider: ProviderZohoSign, Kind: EventCompleted, DocumentID: "req-1", Signers: []Signer{
		{Email: "ops@casa.example", Completed: true},
		{Email: "pat@example.com", Completed: true},
		{Email: "gail@example.com", Completed: true},
		{Email: "stranger@example.com", Completed: true},
	}})
	if err != nil || got != OutcomeApplied {
		t.Fatalf("expected applied, got %s (%v)", got, err)
	}
	a, _ := store.Find(ctx, full.ID)
	for name, at := range map[string]*time.Time{"casa_rep": a.CasaRepSignedAt, "client": a.ClientSignedAt, "guardian": a.GuardianSignedAt} {
		if at == nil || !at.Equal(signedAt) {
			t.Fatalf("%s signed at %v, expected %s", name, at, signedAt)
		}
	}

	_, err = p.Handle(ctx, Event{Provider: ProviderZohoSign, Kind: EventCompleted, DocumentID: "req-2", Signers: []Signer{
		{Email: "sam@example.com", Completed: true},
		{Email: "gus@example.com", Completed: false},
	}})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	a, _ = store.Find(ctx, partial.ID)
	if a.ClientSignedAt == nil || a.GuardianSignedAt != nil || a.CasaRepSignedAt != nil {
		t.Fatalf("only the client signed, got %+v", a)
	}
}

func TestRegisterValidatesGuardianEmail(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProcessor(t)
	base := RegisterInput{ClientID: "u1", ClientEmail: "pat@example.com", Provider: ProviderPandaDoc}

	in := base
	in.DocumentID, in.GuardianEmail = "d1", "not-an-email"
	if _, err := p.Register(ctx, in); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid guardian email, got %v", err)
	}
	in.DocumentID, in.GuardianEmail = "d2", " PAT@example.com"
	if _, err := p.Register(ctx, in); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected guardian to differ from client, got %v", err)
	}
	in.DocumentID, in.GuardianEmail = "d3", "Gail@Example.com "
	a, err := p.Register(ctx, in)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a.GuardianEmail != "gail@example.com" || a.ClientEmail != "pat@example.com" {
		t.Fatalf("emails not normalised: %+v", a)
	}
}
