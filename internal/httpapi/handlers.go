package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/captcha"
	"gatehouse.dev/internal/obs"
)

const serviceName = "gatehouse"

// Pinger is satisfied by the Postgres store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe: простая проверка готовности (ping БД, если она есть).
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Services are the domain components the HTTP layer fronts.
type Services struct {
	Gateway     *auth.Gateway
	Sessions    *auth.SessionAuthority
	Permissions *auth.PermissionGraph
	Captcha     *captcha.Service
}

// API: HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string
	svc        Services
	log        *zap.Logger
	adminRole  string
	limiter    *RateLimiter
	maxBody    int64
	proxies    ProxyPolicy
}

// Option configures API.
type Option func(*API)

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// WithAdminRole names the role allowed to manage permissions.
func WithAdminRole(role string) Option {
	return func(a *API) {
		if role = strings.TrimSpace(role); role != "" {
			a.adminRole = role
		}
	}
}

// WithRateLimit sets the per-IP bucket on the public auth and captcha routes.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.limiter = NewRateLimiter(burst, perSecond)
		}
	}
}

// WithTrustedProxies lets the rate limiter read X-Forwarded-For from the
// proxies in p.
func WithTrustedProxies(p ProxyPolicy) Option {
	return func(a *API) { a.proxies = p }
}

func New(rp readinessChecker, version string, svc Services, opts ...Option) (*API, error) {
	if svc.Gateway == nil || svc.Sessions == nil || svc.Permissions == nil || svc.Captcha == nil {
		return nil, errors.New("httpapi: gateway, sessions, permissions and captcha are required")
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		log:        obs.Logger(),
		adminRole:  auth.DefaultAdminRole,
		limiter:    NewRateLimiter(10, 5),
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.limiter.proxies = a.proxies
	a.routes()
	return a, nil
}

func (a *API) routes() {
	limited := func(h http.HandlerFunc) http.Handler { return a.limiter.Wrap(h) }

	// health/ready/metrics
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("POST /api/v1/auth/login", limited(a.handleLogin))
	a.mux.HandleFunc("POST /api/v1/auth/logout", a.handleLogout)
	a.mux.Handle("GET /api/v1/auth/me", a.requireSession(http.HandlerFunc(a.handleMe)))

	a.mux.Handle("GET /api/v1/captcha/generate", limited(a.handleCaptchaGenerate))
	a.mux.Handle("POST /api/v1/captcha/verify", limited(a.handleCaptchaVerify))

	admin := func(h http.HandlerFunc) http.Handler { return a.requireSession(a.requireAdmin(h)) }
	a.mux.Handle("GET /api/v1/permissions", admin(a.handleListPermissions))
	a.mux.Handle("GET /api/v1/permissions/tree", admin(a.handlePermissionTree))
	a.mux.Handle("GET /api/v1/permissions/enabled", admin(a.handleEnabledPermissions))
	a.mux.Handle("GET /api/v1/permissions/check-code", admin(a.handleCheckCode))
	a.mux.Handle("GET /api/v1/permissions/code/{code}", admin(a.handlePermissionByCode))
	a.mux.Handle("GET /api/v1/permissions/{id}", admin(a.handleGetPermission))
	a.mux.Handle("POST /api/v1/permissions", admin(a.handleCreatePermission))
	a.mux.Handle("PUT /api/v1/permissions/{id}", admin(a.handleUpdatePermission))
	a.mux.Handle("PATCH /api/v1/permissions/{id}/enabled", admin(a.handleSetPermissionEnabled))
	a.mux.Handle("DELETE /api/v1/permissions/batch", admin(a.handleDeletePermissions))
	a.mux.Handle("DELETE /api/v1/permissions/{id}", admin(a.handleDeletePermission))

	a.mux.Handle("GET /api/v1/role-permissions/{roleId}", admin(a.handleRolePermissions))
	a.mux.Handle("GET /api/v1/role-permissions/{roleId}/ids", admin(a.handleRolePermissionIDs))
	a.mux.Handle("POST /api/v1/role-permissions/{roleId}", admin(a.handleAssignRolePermissions))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(a.log)(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// Limiter exposes the rate limiter so the owner can prune idle buckets.
func (a *API) Limiter() *RateLimiter { return a.limiter }

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.readyProbe != nil {
		if err := a.readyProbe.Check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- envelope ---

type envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	RequestID string `json:"requestId,omitempty"`
}

func writeResult(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, http.StatusOK, envelope{
		Code:      http.StatusOK,
		Message:   "success",
		Data:      data,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, envelope{
		Code:      code,
		Message:   msg,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// respondErr maps domain errors to statuses. Unknown errors are logged and
// hidden behind a generic message.
func (a *API) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, code, "internal server error")
		return
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse"`)
	}
	writeError(w, r, code, publicMessage(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrValidation),
		errors.Is(err, auth.ErrCaptchaExpired),
		errors.Is(err, auth.ErrCaptchaMismatch),
		errors.Is(err, auth.ErrTicketInvalid):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrAuthFailed), errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrCodeConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "auth: ")
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", auth.ErrValidation)
		}
		return fmt.Errorf("%w: %v", auth.ErrValidation, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", auth.ErrValidation)
	}
	return nil
}
