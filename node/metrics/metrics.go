// Package metrics holds the node's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	claimsTotal   *prometheus.CounterVec
	claimedAmount *prometheus.CounterVec
	treasury      prometheus.Gauge
	ledgerState   prometheus.Gauge

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		claimsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispenser_claims_total",
			Help: "Claims processed, by identity ecosystem and result code",
		}, []string{"ecosystem", "result"}),
		claimedAmount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispenser_claimed_amount_total",
			Help: "Tokens paid out, by identity ecosystem",
		}, []string{"ecosystem"}),
		treasury: f.NewGauge(prometheus.GaugeOpts{
			Name: "dispenser_treasury_balance",
			Help: "Treasury balance after the last paid claim",
		}),
		ledgerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "dispenser_ledger_state",
			Help: "Ledger monitor state: 0 serving, 1 read-only, 2 failed",
		}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ClaimPaid counts a successful claim and its amount.
func (m *Metrics) ClaimPaid(ecosystem string, amount, remaining uint64) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(ecosystem, "ok").Inc()
	m.claimedAmount.WithLabelValues(ecosystem).Add(float64(amount))
	m.treasury.Set(float64(remaining))
}

// ClaimRejected counts a failed claim under its error code.
func (m *Metrics) ClaimRejected(ecosystem, code string) {
	if m == nil {
		return
	}
	if ecosystem == "" {
		ecosystem = "unknown"
	}
	if code == "" {
		code = "internal"
	}
	m.claimsTotal.WithLabelValues(ecosystem, code).Inc()
}

func (m *Metrics) LedgerState(state int) {
	if m == nil {
		return
	}
	m.ledgerState.Set(float64(state))
}

// Middleware records request counts and latency. route names the matched
// pattern so path parameters do not become label values.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route != nil {
				if p := route(r); p != "" {
					path = p
				}
			}
			path = strings.TrimSuffix(path, "/")
			m.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
			m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
