package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/auxora-tech/casa-saas/internal/auth"
	"github.com/auxora-tech/casa-saas/internal/obs"
	"github.com/auxora-tech/casa-saas/internal/signature"
)

const serviceName = "casa-api"

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks every named dependency. A nil probe is always ready.
type ReadyProbe struct {
	Checks  map[string]Pinger
	Timeout time.Duration
}

// CheckError names the dependency that failed a readiness check.
type CheckError struct {
	Name string
	Err  error
}

func (e *CheckError) Error() string { return e.Name + ": " + e.Err.Error() }

func (e *CheckError) Unwrap() error { return e.Err }

// Check pings each dependency in name order and returns the first failure as
// a *CheckError.
func (rp ReadyProbe) Check(ctx context.Context) error {
	if len(rp.Checks) == 0 {
		return nil
	}
	timeout := rp.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names := make([]string, 0, len(rp.Checks))
	for name := range rp.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := rp.Checks[name].Ping(ctx); err != nil {
			return &CheckError{Name: name, Err: err}
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Option configures the API.
type Option func(*API)

// WithVersion sets the version reported by health endpoints.
func WithVersion(v string) Option { return func(a *API) { a.version = v } }

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAllowedOrigins lists the browser origins allowed by CORS.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.origins = append(a.origins, origins...) }
}

// WithMaxBodyBytes limits request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithThrottle sets the per-IP token bucket. Zero disables it.
func WithThrottle(perSecond, burst int) Option {
	return func(a *API) {
		a.throttleRPS = perSecond
		a.throttleBurst = burst
	}
}

// WithTrustedProxies sets the peers whose X-Forwarded-For header names the
// client. Without it the socket address is always used.
func WithTrustedProxies(tp TrustedProxies) Option {
	return func(a *API) { a.proxies = tp }
}

// WithAgreements enables agreement routes and signature webhooks.
func WithAgreements(p *signature.Processor) Option {
	return func(a *API) { a.agreements = p }
}

// WithWebhookSecrets sets the HMAC secrets used to verify provider callbacks.
// A provider without a secret rejects every delivery.
func WithWebhookSecrets(zoho, pandadoc string) Option {
	return func(a *API) {
		a.webhookSecrets = map[signature.Provider][]byte{
			signature.ProviderZohoSign: []byte(zoho),
			signature.ProviderPandaDoc: []byte(pandadoc),
		}
	}
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	auth       *auth.Service
	agreements *signature.Processor
	readyProbe readinessChecker
	logger     *zap.Logger
	version    string

	origins        []string
	proxies        TrustedProxies
	maxBody        int64
	throttleRPS    int
	throttleBurst  int
	webhookSecrets map[signature.Provider][]byte
}

// New builds the API around the auth service.
func New(svc *auth.Service, rp readinessChecker, opts ...Option) *API {
	a := &API{
		auth:           svc,
		readyProbe:     rp,
		logger:         obs.Logger(),
		version:        "dev",
		maxBody:        1 << 20,
		webhookSecrets: map[signature.Provider][]byte{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, WithRequestContext(a.proxies), Logging(a.logger), SecurityHeaders, CORS(a.origins), MaxBodyBytes(a.maxBody))
	r.Use(obs.Instrument)
	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1/auth", a.authRoutes)
	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/v1/me", a.handleMe)
		r.Route("/v1/tenants", a.tenantRoutes)
	})
	if a.agreements != nil {
		r.Route("/v1/webhooks", a.webhookRoutes)
	}
	return r
}

// Handler returns the root handler, throttled per client IP when configured.
func (a *API) Handler() http.Handler {
	if a.throttleRPS <= 0 || a.throttleBurst <= 0 {
		return a.router
	}
	return RateLimit(a.router, a.proxies, a.throttleBurst, a.throttleRPS)
}

// Healthz reports liveness.
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

// Ready reports whether every dependency answers.
func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		failed := "unknown"
		var ce *CheckError
		if errors.As(err, &ce) {
			failed = ce.Name
		}
		a.logger.Warn("readiness check failed", zap.String("check", failed), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"failed": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Info returns build metadata.
func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
