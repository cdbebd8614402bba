package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/auxora-tech/casa-saas/internal/audit"
	"github.com/auxora-tech/casa-saas/internal/auth"
	"github.com/auxora-tech/casa-saas/internal/obs"
)

var kindStatus = map[auth.Kind]int{
	auth.KindValidation:         http.StatusBadRequest,
	auth.KindInvalidCredentials: http.StatusUnauthorized,
	auth.KindAccountInactive:    http.StatusForbidden,
	auth.KindEmailUnverified:    http.StatusForbidden,
	auth.KindAccessDenied:       http.StatusForbidden,
	auth.KindNotFound:           http.StatusNotFound,
	auth.KindTokenExpired:       http.StatusUnauthorized,
	auth.KindTokenRevoked:       http.StatusUnauthorized,
	auth.KindTokenMalformed:     http.StatusUnauthorized,
	auth.KindRateLimited:        http.StatusTooManyRequests,
	auth.KindConflict:           http.StatusConflict,
	auth.KindDependencyFailure:  http.StatusServiceUnavailable,
	auth.KindInternal:           http.StatusInternalServerError,
}

type errorBody struct {
	Kind              string            `json:"kind"`
	Message           string            `json:"message"`
	Fields            map[string]string `json:"fields,omitempty"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
	Action            string            `json:"action,omitempty"`
}

type errorEnvelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeError renders err using the auth error taxonomy. Causes of internal
// errors are logged and never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *auth.Error
	if !errors.As(err, &ae) {
		ae = &auth.Error{Kind: auth.KindInternal, Message: "internal error", Err: err}
	}
	code, ok := kindStatus[ae.Kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	body := errorBody{
		Kind:    string(ae.Kind),
		Message: ae.Message,
		Fields:  ae.Fields,
		Action:  ae.Action,
	}
	if ae.Kind == auth.KindInternal {
		body.Message = "internal error"
	}
	if ae.RetryAfter > 0 {
		secs := int(math.Ceil(ae.RetryAfter.Seconds()))
		body.RetryAfterSeconds = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if code >= http.StatusInternalServerError {
		obs.Logger().Error("request failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("kind", string(ae.Kind)),
			zap.Error(err),
		)
	}
	writeErrorBody(w, r, code, body)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, body errorBody) {
	writeJSON(w, code, errorEnvelope{
		Error:     body,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeErrorBody(w, r, http.StatusBadRequest, errorBody{Kind: string(auth.KindValidation), Message: msg})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeErrorBody(w, r, http.StatusMethodNotAllowed, errorBody{Kind: "method_not_allowed", Message: "method not allowed"})
}

func routeNotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorBody(w, r, http.StatusNotFound, errorBody{Kind: string(auth.KindNotFound), Message: "route not found"})
}

// decodeJSON reads a single JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			return errors.New(strings.TrimPrefix(err.Error(), "json: "))
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
