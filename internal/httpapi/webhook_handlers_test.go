package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/auxora-tech/casa-saas/internal/auth"
	"github.com/auxora-tech/casa-saas/internal/ids"
	"github.com/auxora-tech/casa-saas/internal/obs"
	"github.com/auxora-tech/casa-saas/internal/signature"
)

func (e *testEnv) track(provider signature.Provider, documentID string) *signature.Agreement {
	e.t.Helper()
	a, err := e.agreements.Register(context.Background(), signature.RegisterInput{
		TenantID:   "tenant-1",
		ClientID:   "client-1",
		Provider:   provider,
		DocumentID: documentID,
	})
	if err != nil {
		e.t.Fatalf("register agreement: %v", err)
	}
	return a
}

func (e *testEnv) agreement(id string) *signature.Agreement {
	e.t.Helper()
	a, err := e.agreements.Get(context.Background(), id)
	if err != nil {
		e.t.Fatalf("get agreement: %v", err)
	}
	return a
}

func TestZohoSignWebhookMovesAgreementToSigned(t *testing.T) {
	env := newTestEnv(t)
	a := env.track(signature.ProviderZohoSign, "7001")

	body := []byte(`{"event":"request.completed","requests":{"request_id":7001,"field_data":{"field_values":{"ndis_number":"430000001"}}}}`)
	resp := env.do(http.MethodPost, "/v1/webhooks/zoho-sign", "", body, map[string]string{
		"X-Zoho-Signature": signature.Sign([]byte(zohoSecret), body),
	})
	expectStatus(t, resp, http.StatusOK)
	if got := decode[map[string]string](t, resp); got["status"] != string(signature.OutcomeApplied) {
		t.Fatalf("expected applied, got %v", got)
	}
	updated := env.agreement(a.ID)
	if updated.Status != signature.StatusSigned || updated.SignedAt == nil {
		t.Fatalf("expected SIGNED with signed_at, got %+v", updated)
	}
	if updated.FieldValues["ndis_number"] != "430000001" {
		t.Fatalf("expected field values to be stored, got %v", updated.FieldValues)
	}
}

func TestWebhookRejectsBadSignatureBeforeParsing(t *testing.T) {
	env := newTestEnv(t)
	a := env.track(signature.ProviderPandaDoc, "doc-1")
	before := testutil.ToFloat64(obs.WebhookEvents.WithLabelValues("pandadoc", "rejected"))

	body := []byte(`{"event_type":"document.declined","data":{"id":"doc-1"}}`)
	for _, sig := range []string{"", "zz", signature.Sign([]byte("wrong"), body)} {
		resp := env.do(http.MethodPost, "/v1/webhooks/pandadoc", "", body, map[string]string{"X-PandaDoc-Signature": sig})
		expectStatus(t, resp, http.StatusUnauthorized)
	}
	if got := env.agreement(a.ID).Status; got != signature.StatusNotStarted {
		t.Fatalf("status changed to %s by an unsigned delivery", got)
	}
	if after := testutil.ToFloat64(obs.WebhookEvents.WithLabelValues("pandadoc", "rejected")); after-before != 3 {
		t.Fatalf("expected 3 rejections counted, got %v", after-before)
	}

	// A signature for the wrong provider's secret is rejected too.
	resp := env.do(http.MethodPost, "/v1/webhooks/pandadoc", "", body, map[string]string{
		"X-PandaDoc-Signature": signature.Sign([]byte(zohoSecret), body),
	})
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestPandaDocWebhookTerminalAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	a := env.track(signature.ProviderPandaDoc, "doc-2")

	post := func(body string) string {
		t.Helper()
		raw := []byte(body)
		resp := env.do(http.MethodPost, "/v1/webhooks/pandadoc?signature="+signature.Sign([]byte(pandaSecret), raw), "", raw, nil)
		expectStatus(t, resp, http.StatusOK)
		return decode[map[string]string](t, resp)["status"]
	}

	if got := post(`{"event_type":"document.declined","data":{"id":"doc-2"}}`); got != string(signature.OutcomeApplied) {
		t.Fatalf("expected applied, got %s", got)
	}
	if got := post(`{"event_type":"document.completed","data":{"id":"doc-2"}}`); got != string(signature.OutcomeTerminal) {
		t.Fatalf("expected terminal, got %s", got)
	}
	if got := env.agreement(a.ID).Status; got != signature.StatusDeclined {
		t.Fatalf("expected DECLINED to stick, got %s", got)
	}
	if got := post(`{"event_type":"document.completed","data":{"id":"unknown"}}`); got != string(signature.OutcomeUnknownDocument) {
		t.Fatalf("expected unknown_document, got %s", got)
	}
}

func TestWebhookMalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`{not json`, `{"event_type":"document.sent","data":{}}`} {
		raw := []byte(body)
		resp := env.do(http.MethodPost, "/v1/webhooks/pandadoc", "", raw, map[string]string{
			"X-PandaDoc-Signature": signature.Sign([]byte(pandaSecret), raw),
		})
		expectStatus(t, resp, http.StatusBadRequest)
	}
}

func TestAgreementRoutesAreTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	admin := env.signup("/v1/auth/signup", "admin@sign.test", "Sign Co")
	tenantID := admin.Memberships[0].TenantID
	client := env.signup("/v1/auth/client/signup", "participant@sign.test", "")

	now := time.Now().UTC()
	err := env.store.Memberships().Create(context.Background(), &auth.Membership{
		ID: ids.NewAt(now), UserID: client.User.ID, TenantID: tenantID, Role: auth.RoleClient, IsActive: true, JoinedAt: now,
	})
	if err != nil {
		t.Fatalf("create client membership: %v", err)
	}

	base := "/v1/tenants/" + tenantID + "/agreements"
	resp := env.do(http.MethodPost, base, admin.Tokens.AccessToken, map[string]string{
		"client_id": client.User.ID, "provider": "zoho_sign", "document_id": "9001", "guardian_email": "Guardian@Sign.test",
	}, nil)
	expectStatus(t, resp, http.StatusCreated)
	created := decode[signature.Agreement](t, resp)
	if created.TenantID != tenantID || created.Status != signature.StatusNotStarted {
		t.Fatalf("unexpected agreement %+v", created)
	}
	if created.ClientEmail != "participant@sign.test" || created.GuardianEmail != "guardian@sign.test" {
		t.Fatalf("expected signer emails on the agreement, got %+v", created)
	}

	resp = env.do(http.MethodPost, base, admin.Tokens.AccessToken, map[string]string{
		"client_id": client.User.ID, "provider": "zoho_sign", "document_id": "9001",
	}, nil)
	expectStatus(t, resp, http.StatusConflict)

	resp = env.do(http.MethodPost, base, admin.Tokens.AccessToken, map[string]string{
		"client_id": admin.User.ID, "provider": "zoho_sign", "document_id": "9002",
	}, nil)
	expectStatus(t, resp, http.StatusBadRequest)

	expectStatus(t, env.do(http.MethodGet, base+"/"+created.ID, admin.Tokens.AccessToken, nil, nil), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, base+"/"+created.ID, client.Tokens.AccessToken, nil, nil), http.StatusForbidden)

	other := env.do(http.MethodPost, "/v1/tenants", admin.Tokens.AccessToken, map[string]string{"name": "Other Co"}, nil)
	expectStatus(t, other, http.StatusCreated)
	otherID := decode[auth.MembershipView](t, other).TenantID
	expectStatus(t, env.do(http.MethodGet, "/v1/tenants/"+otherID+"/agreements/"+created.ID, admin.Tokens.AccessToken, nil, nil), http.StatusNotFound)

	body := []byte(`{"event":"request.completed","requests":{"request_id":"9001","actions":[
		{"action_type":"SIGN","action_status":"COMPLETED","recipient_email":"participant@sign.test"},
		{"action_type":"SIGN","action_status":"COMPLETED","recipient_email":"guardian@sign.test"},
		{"action_type":"SIGN","action_status":"COMPLETED","recipient_email":"coordinator@casa.test"}
	]}}`)
	expectStatus(t, env.do(http.MethodPost, "/v1/webhooks/zoho-sign", "", body, map[string]string{
		"X-Zoho-Signature": signature.Sign([]byte(zohoSecret), body),
	}), http.StatusOK)
	signed := env.agreement(created.ID)
	if signed.ClientSignedAt == nil || signed.GuardianSignedAt == nil || signed.CasaRepSignedAt == nil {
		t.Fatalf("expected every party's signature date, got %+v", signed)
	}
}
