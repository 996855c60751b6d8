package metrics

import (
	"net/http"
	"strconv"
	"time"

	"ms-checkout/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_webhooks_total",
			Help: "Payment provider callbacks by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ordersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_orders_created_total",
			Help: "Orders created by kind",
		},
		[]string{"kind"},
	)

	orderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_order_transitions_total",
			Help: "Order status transitions by target status",
		},
		[]string{"status"},
	)

	fulfillmentDiscrepanciesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_fulfillment_discrepancies_total",
			Help: "Paid orders whose entitlements were not fully created",
		},
		[]string{"kind"},
	)

	streamAuthorizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_stream_authorizations_total",
			Help: "Stream authorization attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		webhooksTotal,
		ordersCreatedTotal,
		orderTransitionsTotal,
		fulfillmentDiscrepanciesTotal,
		streamAuthorizationsTotal,
	)
}

// Middleware records request metrics under the chi route pattern and logs each request.
func Middleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(status), duration.String())
		})
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordWebhook(provider, outcome string) {
	webhooksTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordOrderCreated(kind string) {
	ordersCreatedTotal.WithLabelValues(kind).Inc()
}

func RecordOrderTransition(status string) {
	orderTransitionsTotal.WithLabelValues(status).Inc()
}

func RecordFulfillmentDiscrepancy(kind string) {
	fulfillmentDiscrepanciesTotal.WithLabelValues(kind).Inc()
}

func RecordStreamAuthorization(result string) {
	streamAuthorizationsTotal.WithLabelValues(result).Inc()
}
