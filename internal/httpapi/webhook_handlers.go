package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/auxora-tech/casa-saas/internal/audit"
	"github.com/auxora-tech/casa-saas/internal/obs"
	"github.com/auxora-tech/casa-saas/internal/signature"
)

type webhookSource struct {
	provider signature.Provider
	header   string
	parse    func([]byte) (signature.Event, error)
}

var (
	zohoSignSource = webhookSource{
		provider: signature.ProviderZohoSign,
		header:   "X-Zoho-Signature",
		parse:    signature.ParseZohoSign,
	}
	pandaDocSource = webhookSource{
		provider: signature.ProviderPandaDoc,
		header:   "X-PandaDoc-Signature",
		parse:    signature.ParsePandaDoc,
	}
)

func (a *API) webhookRoutes(r chi.Router) {
	r.Post("/zoho-sign", a.handleWebhook(zohoSignSource))
	r.Post("/pandadoc", a.handleWebhook(pandaDocSource))
}

// handleWebhook authenticates the raw body before decoding it. Events for
// documents we do not track are acknowledged so the provider stops retrying.
func (a *API) handleWebhook(src webhookSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := string(src.provider)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			obs.WebhookEvents.WithLabelValues(provider, "rejected").Inc()
			badRequest(w, r, "unreadable body")
			return
		}

		sig := strings.TrimSpace(r.Header.Get(src.header))
		if sig == "" {
			sig = strings.TrimSpace(r.URL.Query().Get("signature"))
		}
		if !signature.VerifySignature(a.webhookSecrets[src.provider], body, sig) {
			obs.WebhookEvents.WithLabelValues(provider, "rejected").Inc()
			a.logger.Warn("webhook signature rejected",
				zap.String("provider", provider),
				zap.String("request_id", audit.RequestIDFromContext(r.Context())),
				zap.String("ip", clientIP(r)),
			)
			writeErrorBody(w, r, http.StatusUnauthorized, errorBody{Kind: "invalid_signature", Message: "signature verification failed"})
			return
		}

		ev, err := src.parse(body)
		if err != nil {
			obs.WebhookEvents.WithLabelValues(provider, "malformed").Inc()
			msg := "malformed payload"
			if errors.Is(err, signature.ErrMissingDocument) {
				msg = "payload has no document id"
			}
			badRequest(w, r, msg)
			return
		}

		outcome, err := a.agreements.Handle(r.Context(), ev)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": string(outcome)})
	}
}
