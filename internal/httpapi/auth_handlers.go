package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/auxora-tech/casa-saas/internal/auth"
)

type verifyRequest struct {
	Token string `json:"token"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (a *API) authRoutes(r chi.Router) {
	r.Post("/signup", a.handleSignup(auth.PortalCompany))
	r.Post("/signin", a.handleSignin(auth.PortalCompany))
	r.Post("/client/signup", a.handleSignup(auth.PortalClient))
	r.Post("/client/signin", a.handleSignin(auth.PortalClient))
	r.Post("/employee/signup", a.handleSignup(auth.PortalEmployee))
	r.Post("/employee/signin", a.handleSignin(auth.PortalEmployee))

	r.Post("/magic-link", a.handleMagicLinkRequest)
	r.Get("/magic-link/verify", a.handleMagicLinkVerify)
	r.Post("/magic-link/verify", a.handleMagicLinkVerify)
	r.Post("/token/refresh", a.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Post("/signout", a.handleSignout)
		r.Get("/sessions", a.handleListSessions)
		r.Delete("/sessions/{sessionID}", a.handleRevokeSession)
	})
}

func (a *API) handleSignup(portal auth.Portal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.SignupInput
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, r, err.Error())
			return
		}
		res, err := a.auth.Signup(r.Context(), portal, req, auth.RequestFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func (a *API) handleSignin(portal auth.Portal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.SigninInput
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, r, err.Error())
			return
		}
		res, err := a.auth.Signin(r.Context(), portal, req, auth.RequestFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *API) handleMagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req auth.MagicLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	res, err := a.auth.RequestMagicLink(r.Context(), req, auth.RequestFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// handleMagicLinkVerify accepts the token from the emailed link's query string
// or from a JSON body posted by the frontend.
func (a *API) handleMagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if r.Method == http.MethodPost {
		var req verifyRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, r, err.Error())
			return
		}
		token = strings.TrimSpace(req.Token)
	}
	if token == "" {
		writeError(w, r, &auth.Error{Kind: auth.KindValidation, Message: "invalid input", Fields: map[string]string{"token": "is required"}})
		return
	}
	res, err := a.auth.VerifyMagicLink(r.Context(), token, auth.RequestFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	pair, err := a.auth.RefreshSession(r.Context(), req.Refresh, auth.RequestFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleSignout(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req auth.LogoutInput
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, r, err.Error())
			return
		}
	}
	res, err := a.auth.Logout(r.Context(), p, req, auth.RequestFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sessions, err := a.auth.ListActiveSessions(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.auth.RevokeSession(r.Context(), p, chi.URLParam(r, "sessionID"), auth.RequestFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := a.auth.CurrentUserProfile(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
