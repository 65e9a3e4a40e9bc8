package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics
var (
	paymentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secscan_payments_created_total",
			Help: "PIX charges requested from the payment processor.",
		},
		[]string{"kind", "result"},
	)

	statusChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secscan_payment_status_checks_total",
			Help: "Payment status checks by processor status.",
		},
		[]string{"status"},
	)

	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secscan_webhook_deliveries_total",
			Help: "Outbound webhook deliveries by event and result.",
		},
		[]string{"event", "result"},
	)

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secscan_registrations_total",
			Help: "Partner and master-partner registrations by result.",
		},
		[]string{"kind", "result"},
	)

	initOnce sync.Once
)

// Init registers all metrics in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			paymentsCreated, statusChecks, webhookDeliveries, registrations,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// PaymentCreated counts a charge creation attempt.
func PaymentCreated(kind, result string) {
	paymentsCreated.WithLabelValues(kind, result).Inc()
}

// StatusChecked counts a status check by the processor-reported status.
func StatusChecked(status string) {
	if status == "" {
		status = "unknown"
	}
	statusChecks.WithLabelValues(status).Inc()
}

// WebhookDelivered counts a webhook attempt; result is sent, failed or skipped.
func WebhookDelivered(event, result string) {
	webhookDeliveries.WithLabelValues(event, result).Inc()
}

// Registration counts an affiliate registration outcome.
func Registration(kind, result string) {
	registrations.WithLabelValues(kind, result).Inc()
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// routes lists the static paths served by the API; anything else is labelled "other".
var routes = map[string]bool{
	"/":                               true,
	"/healthz":                        true,
	"/readyz":                         true,
	"/metrics":                        true,
	"/v1/info":                        true,
	"/v1/payments":                    true,
	"/v1/payments/status":             true,
	"/v1/payments/registration":       true,
	"/v1/payments/public-key":         true,
	"/v1/partners":                    true,
	"/v1/master-partners":             true,
	"/v1/partner/dashboard":           true,
	"/v1/master/dashboard":            true,
	"/v1/auth/signup":                 true,
	"/v1/auth/login":                  true,
	"/v1/auth/recovery":               true,
	"/v1/auth/recovery/verify":        true,
	"/v1/auth/recovery/reset":         true,
	"/v1/me/submissions":              true,
	"/v1/admin/submissions":           true,
	"/v1/admin/remarketing":           true,
	"/v1/admin/stats":                 true,
	"/v1/admin/partners":              true,
	"/v1/admin/master-partners":       true,
	"/v1/admin/sales/paid":            true,
	"/v1/admin/usages/paid":           true,
	"/v1/admin/settings/registration": true,
	"/v1/admin/events":                true,
}

// CanonicalPath maps a request path to a route label so metric label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	if routes[raw] {
		return raw
	}
	if rest, ok := strings.CutPrefix(raw, "/v1/admin/submissions/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/v1/admin/submissions/:id"
	}
	if rest, ok := strings.CutPrefix(raw, "/v1/coupons/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/v1/coupons/:code"
	}
	return "other"
}

// statusWriter records the response code for the metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
