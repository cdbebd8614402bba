package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/auxora-tech/casa-saas/internal/auth"
	"github.com/auxora-tech/casa-saas/internal/signature"
)

func (a *API) tenantRoutes(r chi.Router) {
	r.Post("/", a.handleCreateTenant)
	r.Route("/{tenantID}", func(r chi.Router) {
		r.Post("/employees", a.handleAddEmployee)
		r.Get("/employees", a.handleListEmployees)
		r.Patch("/employees/{userID}", a.handleUpdateEmployee)
		r.Post("/invites", a.handleInvite)
		r.Get("/employee-profile", a.handleProfileAccess(a.auth.CheckEmployeeProfileAccess))
		r.Get("/client-profile", a.handleProfileAccess(a.auth.CheckClientProfileAccess))
		if a.agreements != nil {
			r.Post("/agreements", a.handleRegisterAgreement)
			r.Get("/agreements/{agreementID}", a.handleGetAgreement)
		}
	})
}

func (a *API) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req auth.CreateTenantInput
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	view, err := a.auth.CreateTenant(r.Context(), p, req, auth.RequestFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleAddEmployee(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req auth.AddEmployeeInput
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	res, err := a.auth.AdminAddEmployee(r.Context(), p, chi.URLParam(r, "tenantID"), req, auth.RequestFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := a.auth.AdminListEmployees(r.Context(), p, chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleUpdateEmployee(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var patch auth.MembershipPatch
	if err := decodeJSON(r, &patch); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	m, err := a.auth.AdminUpdateEmployee(r.Context(), p, chi.URLParam(r, "tenantID"), chi.URLParam(r, "userID"), patch, auth.RequestFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req auth.InviteInput
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	res, err := a.auth.AdminInviteMember(r.Context(), p, chi.URLParam(r, "tenantID"), req, auth.RequestFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

type accessCheck func(ctx context.Context, p auth.Principal, tenantID string) (*auth.Membership, error)

// handleProfileAccess answers whether the caller may open a profile area of the
// tenant and with which membership.
func (a *API) handleProfileAccess(check accessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		m, err := check(r.Context(), p, chi.URLParam(r, "tenantID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"membership": m})
	}
}

var errAgreementNotFound = &auth.Error{Kind: auth.KindNotFound, Message: "agreement not found"}

func (a *API) handleRegisterAgreement(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	if _, err := a.auth.Authorize(r.Context(), p.User.ID, tenantID, auth.PermManageAgreements); err != nil {
		writeError(w, r, err)
		return
	}
	var req signature.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	client, ok, err := a.auth.ClientOf(r.Context(), req.ClientID, tenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, &auth.Error{
			Kind:    auth.KindValidation,
			Message: "invalid input",
			Fields:  map[string]string{"client_id": "must be an active client of this company"},
		})
		return
	}
	req.TenantID = tenantID
	req.ClientEmail = client.Email
	agreement, err := a.agreements.Register(r.Context(), req)
	switch {
	case errors.Is(err, signature.ErrInvalid):
		badRequest(w, r, err.Error())
		return
	case errors.Is(err, signature.ErrConflict):
		writeError(w, r, &auth.Error{Kind: auth.KindConflict, Message: "this document is already tracked"})
		return
	case err != nil:
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, agreement)
}

func (a *API) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	if _, err := a.auth.Authorize(r.Context(), p.User.ID, tenantID, auth.PermManageAgreements); err != nil {
		writeError(w, r, err)
		return
	}
	agreement, err := a.agreements.Get(r.Context(), chi.URLParam(r, "agreementID"))
	if errors.Is(err, signature.ErrNotFound) || (err == nil && agreement.TenantID != tenantID) {
		writeError(w, r, errAgreementNotFound)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}
