package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"secscan.app/internal/accounts"
	"secscan.app/internal/affiliate"
	"secscan.app/internal/auth"
	"secscan.app/internal/checkout"
	"secscan.app/internal/obs"
	"secscan.app/internal/payment"
	"secscan.app/internal/recovery"
	"secscan.app/internal/store"
	"secscan.app/internal/stream"
)

const serviceName = "secscan-api"

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing store before declaring the service ready.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Store      store.Store
	Payments   payment.Processor
	Checkout   *checkout.Service
	Affiliates *affiliate.Service
	Accounts   *accounts.Service
	Recovery   *recovery.Service
	Issuer     *auth.Issuer
	Events     *stream.Stream
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	deps       Deps

	allowedOrigins []string
	rateBurst      int
	ratePerSec     int
	maxBodyBytes   int64
	trustedProxies []netip.Prefix
}

type Option func(*API)

// WithTrustedProxies lets the rate limiter read X-Forwarded-For from these peers.
func WithTrustedProxies(proxies []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = proxies
	}
}

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithAllowedOrigins lists the browser origins allowed by CORS.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.allowedOrigins = origins }
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(rp ReadyProbe, version string, deps Deps, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		deps:         deps,
		rateBurst:    20,
		ratePerSec:   10,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	// ops
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// checkout
	a.mux.HandleFunc("/v1/payments", a.handlePayments)
	a.mux.HandleFunc("/v1/payments/status", a.handlePaymentStatus)
	a.mux.HandleFunc("/v1/payments/registration", a.handleRegistrationPayment)
	a.mux.HandleFunc("/v1/payments/public-key", a.handlePublicKey)
	a.mux.HandleFunc("/v1/coupons/", a.handleCoupon)

	// affiliates
	a.mux.HandleFunc("/v1/partners", a.handlePartners)
	a.mux.HandleFunc("/v1/master-partners", a.handleMasterPartners)
	a.mux.HandleFunc("/v1/partner/dashboard", a.requireRole(a.handlePartnerDashboard))
	a.mux.HandleFunc("/v1/master/dashboard", a.requireRole(a.handleMasterDashboard, auth.RoleMasterPartner))

	// accounts
	a.mux.HandleFunc("/v1/auth/signup", a.handleSignup)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/recovery", a.handleRecoveryRequest)
	a.mux.HandleFunc("/v1/auth/recovery/verify", a.handleRecoveryVerify)
	a.mux.HandleFunc("/v1/auth/recovery/reset", a.handleRecoveryReset)
	a.mux.HandleFunc("/v1/me/submissions", a.requireRole(a.handleMySubmissions))

	// back office
	a.mux.HandleFunc("/v1/admin/submissions", a.requireRole(a.handleAdminSubmissions, auth.RoleAdmin))
	a.mux.HandleFunc("/v1/admin/submissions/", a.requireRole(a.handleAdminSubmission, auth.RoleAdmin))
	a.mux.HandleFunc("/v1/admin/remarketing", a.requireRole(a.handleAdminRemarketing, auth.RoleAdmin))
	a.mux.HandleFunc("/v1/admin/stats", a.requireRole(a.handleAdminStats, auth.RoleAdmin))
	a.mux.HandleFunc("/v1/admin/partners", a.requireRole(a.handleAdminPartners, auth.RoleAdmin))
	a.mux.HandleFunc("/v1/admin/master-partners", a.requireRole(a.handleAdminMasterPartners, auth.RoleAdmin))
	a.mux.HandleFunc("/v1/admin/sales/paid", a.requireRole(a.handleAdminSalePaid, auth.RoleAdmin))
	a.mux.HandleFunc("/v1/admin/usages/paid", a.requireRole(a.handleAdminUsagePaid, auth.RoleAdmin))
	a.mux.HandleFunc("/v1/admin/settings/registration", a.requireRole(a.handleAdminSettings, auth.RoleAdmin))
	a.mux.HandleFunc("/v1/admin/events", a.requireRole(a.handleAdminEvents, auth.RoleAdmin))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler wraps the mux with the middleware chain. Outermost first:
// metrics, request id, logging, headers, CORS, rate limit, body limit, auth.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec, a.trustedProxies...)
	h = CORS(h, a.allowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorWith(w, r, code, msg, nil)
}

func writeErrorWith(w http.ResponseWriter, r *http.Request, code int, msg string, extra map[string]any) {
	payload := map[string]any{
		"error": msg,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
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

// internalError logs err and hides it from the client.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	obs.Logger().WithFields(logrus.Fields{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
		"error":      err.Error(),
	}).Error("internal_error")
	writeError(w, r, http.StatusInternalServerError, "internal error")
}
