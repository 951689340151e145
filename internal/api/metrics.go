package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the service's Prometheus instruments.
type Metrics struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	EvaluationDuration *prometheus.HistogramVec
	EvaluationsTotal   *prometheus.CounterVec
	FraudScore         *prometheus.HistogramVec
	RequestsTotal      *prometheus.CounterVec
}

// NewMetrics creates the instrument set on the given registry. A nil
// registry gets a private one, which keeps tests isolated.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		registry: reg,
		gatherer: reg,

		EvaluationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_evaluation_duration_seconds",
			Help:    "Histogram of policy evaluation latencies.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"outcome"}),

		EvaluationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_evaluations_total",
			Help: "Total number of evaluations by outcome.",
		}, []string{"outcome"}),

		FraudScore: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_fraud_score",
			Help:    "Distribution of fraud scores on the 0-100 scale.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}, []string{"band"}),

		RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_http_requests_total",
			Help: "Total number of HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}
}

// Handler returns the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests by matched route pattern and status. Unmatched
// paths fall back to the raw URL path.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		m.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

// ObserveEvaluation records one completed evaluation.
func (m *Metrics) ObserveEvaluation(outcome string, band string, score float64, seconds float64) {
	m.EvaluationDuration.WithLabelValues(outcome).Observe(seconds)
	m.EvaluationsTotal.WithLabelValues(outcome).Inc()
	if band != "" {
		m.FraudScore.WithLabelValues(band).Observe(score)
	}
}
