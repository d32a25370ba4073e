// Package metrics exposes Prometheus metrics for the HTTP surface and the
// publish pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "weekplan"

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	publishes       *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	slotWrites      *prometheus.CounterVec
	conflicts       prometheus.Counter
	ledgerErrors    *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Schedule publish attempts by mode and outcome",
		}, []string{"mode", "outcome", "dry_run"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Duration of schedule publish including ledger reconciliation",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"mode"}),
		slotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_slot_writes_total",
			Help:      "Ledger slot changes made by publish",
		}, []string{"action"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_booked_conflicts_total",
			Help:      "Booked ledger slots that collided with a planned block",
		}),
		ledgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Ledger collaborator failures by operation",
		}, []string{"op"}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.publishes, m.publishDuration,
		m.slotWrites, m.conflicts, m.ledgerErrors)
	return m
}

// PublishCounts are the per-action totals of one publish run.
type PublishCounts struct {
	Created, Updated, Skipped, Deleted, Conflicts int
}

func (m *Metrics) ObservePublish(mode, outcome string, dryRun bool, elapsed time.Duration, c PublishCounts) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(mode, outcome, strconv.FormatBool(dryRun)).Inc()
	m.publishDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if dryRun || outcome != "ok" {
		return
	}
	m.slotWrites.WithLabelValues("created").Add(float64(c.Created))
	m.slotWrites.WithLabelValues("updated").Add(float64(c.Updated))
	m.slotWrites.WithLabelValues("skipped").Add(float64(c.Skipped))
	m.slotWrites.WithLabelValues("deleted").Add(float64(c.Deleted))
	m.conflicts.Add(float64(c.Conflicts))
}

func (m *Metrics) LedgerError(op string) {
	if m == nil {
		return
	}
	m.ledgerErrors.WithLabelValues(op).Inc()
}

// Middleware records request counts and latency keyed by the matched route
// pattern, not the raw path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}
