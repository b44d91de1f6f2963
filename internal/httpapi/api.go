// Package httpapi is the JSON HTTP surface of the account security core.
// Handlers validate and decode requests, invoke the authflow service, and
// map its errors onto the status codes clients key their behavior on.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/account"
	"gatehouse.org/internal/authflow"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/ratelimit"
	"gatehouse.org/internal/session"
)

// ReadyProbe reports backend readiness, typically a DB ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the optional API collaborators.
type Options struct {
	ReadyProbe ReadyProbe
	Version    string
	// Limiter throttles the abuse-sensitive routes by client IP. Nil
	// disables throttling.
	Limiter ratelimit.Limiter
	// DevTokenEcho echoes verification and reset tokens in responses.
	// Development only; must stay off in production.
	DevTokenEcho bool
	// RequestBurst and RequestsPerSecond configure the blanket per-IP
	// token bucket in front of the whole mux. Both must be positive;
	// zero disables it.
	RequestBurst      int
	RequestsPerSecond int
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *authflow.Service
	sessions   *session.Manager
	limiter    ratelimit.Limiter
	readyProbe ReadyProbe
	version    string
	echoTokens bool
	reqBurst   int
	reqRate    int
}

func New(svc *authflow.Service, sessions *session.Manager, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		sessions:   sessions,
		limiter:    opts.Limiter,
		readyProbe: opts.ReadyProbe,
		version:    opts.Version,
		echoTokens: opts.DevTokenEcho,
		reqBurst:   opts.RequestBurst,
		reqRate:    opts.RequestsPerSecond,
	}
	if a.limiter == nil {
		a.limiter = ratelimit.Noop{}
	}

	// Credential and token flows.
	a.mux.HandleFunc("/login", a.limited(ratelimit.CategoryLogin, post(a.handleLogin)))
	a.mux.HandleFunc("/register", post(a.handleRegister))
	a.mux.HandleFunc("/logout", post(a.handleLogout))
	a.mux.HandleFunc("/forgot-password", a.limited(ratelimit.CategoryToken, post(a.handleForgotPassword)))
	a.mux.HandleFunc("/reset-password", a.limited(ratelimit.CategoryToken, post(a.handleResetPassword)))
	a.mux.HandleFunc("/verify-email", a.limited(ratelimit.CategoryToken, post(a.handleVerifyEmail)))
	a.mux.HandleFunc("/resend-verification", a.limited(ratelimit.CategoryToken, post(a.handleResendVerification)))

	// Account-scoped routes behind the session token.
	a.mux.HandleFunc("/change-password", post(a.requireSession(a.handleChangePassword)))
	a.mux.HandleFunc("/2fa/setup", a.limited(ratelimit.CategoryTwoFactor, post(a.requireSession(a.handleTwoFactorSetup))))
	a.mux.HandleFunc("/2fa/verify", a.limited(ratelimit.CategoryTwoFactor, post(a.requireSession(a.handleTwoFactorVerify))))
	a.mux.HandleFunc("/2fa/disable", a.limited(ratelimit.CategoryTwoFactor, post(a.requireSession(a.handleTwoFactorDisable))))
	a.mux.HandleFunc("/2fa/recovery-codes", a.limited(ratelimit.CategoryTwoFactor, post(a.requireSession(a.handleRecoveryCodes))))

	// health/ready/metrics
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	if a.reqBurst > 0 && a.reqRate > 0 {
		h = RateLimit(h, a.reqBurst, a.reqRate)
	}
	h = SecurityHeaders(h)
	h = Logging(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatehouse-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// post restricts a handler to the POST method.
func post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		next(w, r)
	}
}

// limited throttles a route by client IP within a named budget category.
func (a *API) limited(category string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.limiter.Allow(r.Context(), category, clientIP(r)); err != nil {
			if errors.Is(err, ratelimit.ErrLimited) {
				writeError(w, r, http.StatusTooManyRequests, "too many requests")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		next(w, r)
	}
}

// accountView is the public projection of an account. Credential and 2FA
// secrets never appear here.
type accountView struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailVerified    bool       `json:"email_verified"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	Role             string     `json:"role"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
}

func viewOf(a *account.Account) accountView {
	return accountView{
		ID:               a.ID,
		Email:            a.Email,
		EmailVerified:    a.EmailVerified,
		TwoFactorEnabled: a.TwoFactorEnabled,
		Role:             a.Role,
		CreatedAt:        a.CreatedAt,
		LastLoginAt:      a.LastLoginAt,
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
