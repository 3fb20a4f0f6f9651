// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the paywall service.
// It exposes the catalog, payment initiation, provider callbacks and the unlock
// check with JWT authentication, rate limiting and structured JSON envelopes.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelgate/climaxpay-go/internal/auth"
	"github.com/reelgate/climaxpay-go/internal/catalog"
	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/metrics"
	"github.com/reelgate/climaxpay-go/internal/payment"
	"github.com/reelgate/climaxpay-go/internal/ratelimit"
	"github.com/reelgate/climaxpay-go/internal/storage"
	"github.com/reelgate/climaxpay-go/internal/telemetry"
)

type principalKey struct{}

const (
	// Default limits for list operations
	DefaultListLimit = 25  // Default number of items to return
	MaxListLimit     = 200 // Maximum number of items to return

	maxBodyBytes     = 1 << 20
	idempotencyTTL   = 24 * time.Hour
	rateLimitWindow  = time.Minute
	tracerName       = "climaxpay-http"
	correlationIDHdr = "X-Correlation-Id"
)

// Deps are the collaborators the HTTP layer routes to.
type Deps struct {
	Store    storage.Store
	Catalog  *catalog.Service
	Payments *payment.Service
	Issuer   *auth.Issuer
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	LoginRateLimit     int      // per client IP per minute
	InitiateRateLimit  int      // per user per minute
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Mux handles HTTP requests for the paywall service.
type Mux struct {
	mux      *http.ServeMux
	store    storage.Store
	catalog  *catalog.Service
	payments *payment.Service
	issuer   *auth.Issuer
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	loginLimit    int
	initiateLimit int

	// CORS configuration
	corsAllowedOrigins []string
}

// NewMux registers every endpoint and returns the root handler, with panic
// recovery applied outermost.
func NewMux(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewMetrics()
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(nil)
	}

	m := &Mux{
		mux:                http.NewServeMux(),
		store:              d.Store,
		catalog:            d.Catalog,
		payments:           d.Payments,
		issuer:             d.Issuer,
		limiter:            d.Limiter,
		metrics:            d.Metrics,
		logger:             d.Logger,
		loginLimit:         d.LoginRateLimit,
		initiateLimit:      d.InitiateRateLimit,
		corsAllowedOrigins: d.CORSAllowedOrigins,
	}

	// Register health endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// Accounts
	m.mux.HandleFunc("/auth/register", m.method("POST", m.withMiddleware(m.handleRegister)))
	m.mux.HandleFunc("/auth/login", m.method("POST", m.withMiddleware(m.handleLogin)))
	m.mux.HandleFunc("/me/purchases", m.method("GET", m.withMiddleware(m.requireUser(m.handlePurchases))))

	// Catalog
	m.mux.HandleFunc("/contents", m.method("GET", m.withMiddleware(m.handleListContents)))
	m.mux.HandleFunc("/contents/{id}", m.method("GET", m.withMiddleware(m.handleGetContent)))
	m.mux.HandleFunc("/contents/{id}/playback", m.method("GET", m.withMiddleware(m.requireUser(m.handlePlayback))))

	// Payments
	m.mux.HandleFunc("/payments/initiate", m.method("POST", m.withMiddleware(m.requireUser(m.handleInitiate))))
	m.mux.HandleFunc("/payments/check", m.method("GET", m.withMiddleware(m.requireUser(m.handleCheck))))
	m.mux.HandleFunc("/payments/{gateway}/callback", m.method("POST", m.withMiddleware(m.handleCallback)))
	m.mux.HandleFunc("/payments/{gateway}/webhook", m.method("POST", m.withMiddleware(m.handleCallback)))
	m.mux.HandleFunc("/payments/{transactionId}", m.method("GET", m.withMiddleware(m.requireUser(m.handleGetPayment))))

	// Administration
	m.mux.HandleFunc("/admin/contents", m.method("POST", m.withMiddleware(m.requireAdmin(m.handleCreateContent))))
	m.mux.HandleFunc("/admin/contents/{id}", m.method("PUT", m.withMiddleware(m.requireAdmin(m.handleUpdateContent))))
	m.mux.HandleFunc("/admin/payments", m.method("GET", m.withMiddleware(m.requireAdmin(m.handleListPayments))))
	m.mux.HandleFunc("/admin/payments/{transactionId}/reject", m.method("POST", m.withMiddleware(m.requireAdmin(m.handleReject))))

	return telemetry.RecoverPanics(m.mux, func(w http.ResponseWriter, r *http.Request, err error) {
		m.writeError(w, r, errordefs.New(errordefs.OTT_INTERNAL, "internal error", "").Wrap(err))
	})
}

// method ensures the HTTP method matches the expected method. Preflight
// requests pass through so the middleware can answer them.
func (m *Mux) method(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && r.Method != http.MethodOptions {
			w.Header().Set("Allow", method)
			m.writeError(w, r, errordefs.NewWithDetails(errordefs.OTT_VALIDATION, "method not allowed", "",
				map[string]any{"allowed": method}).WithStatus(http.StatusMethodNotAllowed))
			return
		}
		h(w, r)
	}
}

// statusRecorder captures the response status for logs and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withMiddleware applies common middleware to handlers: CORS, correlation id,
// request logger, optional bearer authentication, access log and metrics.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Handle CORS preflight requests
		if r.Method == http.MethodOptions {
			if origin := r.Header.Get("Origin"); origin != "" && m.originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, X-Correlation-Id")
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
				w.Header().Set("Vary", "Origin")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" && m.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Expose-Headers", correlationIDHdr)
			w.Header().Set("Vary", "Origin")
		}

		// Add correlation ID if not present
		correlationID := r.Header.Get(correlationIDHdr)
		if correlationID == "" || len(correlationID) > 128 {
			correlationID = uuid.New().String()
		}
		w.Header().Set(correlationIDHdr, correlationID)
		ctx := telemetry.WithCorrelationID(r.Context(), correlationID)
		ctx = telemetry.WithLogger(ctx, m.logger.With(slog.String("correlation_id", correlationID)))
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if authz := r.Header.Get("Authorization"); authz != "" {
			p, err := m.authenticate(authz)
			if err != nil {
				m.writeError(rec, r, err)
				m.logRequest(r, rec.status, time.Since(start), err)
				return
			}
			ctx = context.WithValue(r.Context(), principalKey{}, p)
			ctx = telemetry.WithLogger(ctx, telemetry.LoggerFrom(ctx).With(slog.String("user_id", p.UserID)))
			r = r.WithContext(ctx)
		}

		h(rec, r)

		elapsed := time.Since(start)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, path, status).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(elapsed.Seconds())
		m.logRequest(r, rec.status, elapsed, nil)
	}
}

func (m *Mux) originAllowed(origin string) bool {
	for _, allowed := range m.corsAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// authenticate validates a bearer token and returns the caller.
func (m *Mux) authenticate(header string) (auth.Principal, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return auth.Principal{}, errordefs.New(errordefs.OTT_AUTHN, "invalid Authorization header format", "")
	}
	p, err := m.issuer.Validate(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return auth.Principal{}, errordefs.New(errordefs.OTT_AUTHN, "invalid or expired access token", "").Wrap(err)
	}
	return p, nil
}

func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

// requireUser rejects anonymous callers.
func (m *Mux) requireUser(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := principalFrom(r.Context()); !ok {
			m.writeError(w, r, errordefs.New(errordefs.OTT_AUTHN, "missing Authorization header", ""))
			return
		}
		h(w, r)
	}
}

// requireAdmin rejects callers without the admin role.
func (m *Mux) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return m.requireUser(func(w http.ResponseWriter, r *http.Request) {
		if p, _ := principalFrom(r.Context()); !p.IsAdmin() {
			m.writeError(w, r, errordefs.New(errordefs.OTT_AUTHZ, "admin role required", ""))
			return
		}
		h(w, r)
	})
}

// allow applies a rate limit and writes the 429 itself when refused.
func (m *Mux) allow(w http.ResponseWriter, r *http.Request, scope, key string, limit int) bool {
	ok, retryAfter := m.limiter.Allow(r.Context(), scope, key, limit, rateLimitWindow)
	if ok {
		return true
	}
	m.metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	m.writeError(w, r, errordefs.NewWithDetails(errordefs.OTT_RATE_LIMIT, "too many requests", "",
		map[string]any{"retryAfterSeconds": retryAfter}))
	return false
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errordefs.Validation("body", "invalid JSON").Wrap(err)
	}
	return nil
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// writeError maps err onto the taxonomy and writes the error envelope.
// Internal errors are reported to Sentry and their cause is never exposed.
func (m *Mux) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errordefs.From(err)
	e.CorrelationID = telemetry.CorrelationID(r.Context())
	if e.HTTPStatus >= 500 && e.Code == errordefs.OTT_INTERNAL {
		telemetry.LoggerFrom(r.Context()).Error("request failed", "error", err, "path", r.URL.Path)
		telemetry.CaptureError(err, map[string]string{"path": r.URL.Path, "correlation_id": e.CorrelationID})
	}
	m.writeErrorDef(w, e)
}

// writeErrorDef writes an error response using the error definitions package
func (m *Mux) writeErrorDef(w http.ResponseWriter, e *errordefs.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": e})
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", ratelimit.ClientIP(r)),
	}
	logger := telemetry.LoggerFrom(r.Context())
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		logger.LogAttrs(r.Context(), slog.LevelWarn, "request completed with error", attrs...)
		return
	}
	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	}
	logger.LogAttrs(r.Context(), level, "request completed", attrs...)
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports whether the store answers.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := m.store.Ping(ctx); err != nil {
		m.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
