package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "survey_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	TenantResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_tenant_resolutions_total",
			Help: "Tenant resolutions by identifier source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ProvisioningEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_provisioning_total",
			Help: "Namespace provisioning operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	SubmissionsCounter = promauto.NewCounter(prometheus.CounterOpts{Name: "survey_submissions_total", Help: "Accepted contributor submissions"})
	UpvotesCounter     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "survey_upvotes_total", Help: "Recorded upvotes by initial status"}, []string{"status"})
)

// Middleware records request counts and durations labelled by the chi route
// pattern, so ids in the path do not explode the label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
