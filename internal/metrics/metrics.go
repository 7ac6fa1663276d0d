// Package metrics provides Prometheus instrumentation for the market service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsPlaced counts bids accepted into an open session.
	BidsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_bids_placed_total",
		Help: "Total number of bids placed",
	})

	// PaymentsAttached counts payment references attached to bids.
	PaymentsAttached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_bid_payments_attached_total",
		Help: "Total number of payment references attached to bids",
	})

	// BidsConfirmed counts bids whose payment was confirmed.
	BidsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_bids_confirmed_total",
		Help: "Total number of bids confirmed",
	})

	// ConfirmLatency tracks payment confirmation latency, retries included.
	ConfirmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "market_confirm_latency_seconds",
		Help:    "Payment confirmation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// LedgerPostings counts committed ledger postings by transaction type.
	LedgerPostings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_ledger_postings_total",
		Help: "Total ledger postings committed",
	}, []string{"type"})

	// WithdrawalsConfirmed counts confirmed withdrawal requests.
	WithdrawalsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_withdrawals_confirmed_total",
		Help: "Total withdrawal requests confirmed",
	})

	// OpenSessions tracks the number of sessions currently open for bids.
	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_open_sessions",
		Help: "Number of market sessions currently open",
	})

	// Rejections counts requests rejected with a domain error, by code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_rejections_total",
		Help: "Requests rejected by error code",
	}, []string{"code"})

	// NotificationsPublished counts notification deliveries by publisher and result.
	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_notifications_published_total",
		Help: "Notification deliveries by publisher and result",
	}, []string{"publisher", "result"})

	// NotificationsDropped counts events dropped because the queue was full.
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_notifications_dropped_total",
		Help: "Notifications dropped on a full queue",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi route so ids do not become labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
