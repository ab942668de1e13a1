// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Risk cycle metrics
	CyclesTotal         *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	VerdictsTotal       *prometheus.CounterVec
	ExitsTotal          *prometheus.CounterVec
	PositionHealthScore *prometheus.GaugeVec
	OpenPositions       prometheus.Gauge

	// Market data metrics
	UpstreamRequests *prometheus.CounterVec
	LimiterWait      *prometheus.HistogramVec
	LimiterTimeouts  *prometheus.CounterVec

	// Solana metrics
	RPCCallLatency         *prometheus.HistogramVec
	TransactionsSubmitted *prometheus.CounterVec

	// Discovery metrics
	InvestablePools prometheus.Gauge
	DiscoveryRuns   *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle     prometheus.Gauge
	LastSuccessfulDiscovery prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "dlmm_risk"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "cycles_total",
			Help:      "Total number of risk cycles by status",
		}, []string{"status"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "cycle_duration_seconds",
			Help:      "Risk cycle duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		VerdictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "verdicts_total",
			Help:      "Total number of risk verdicts by action",
		}, []string{"action"}),
		ExitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "exits_total",
			Help:      "Exit attempts by trigger and outcome",
		}, []string{"trigger", "state"}),
		PositionHealthScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "position_health_score",
			Help:      "Latest informational health score per position (0-100)",
		}, []string{"position"}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "open_positions",
			Help:      "Number of open positions at the start of the last cycle",
		}),

		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "requests_total",
			Help:      "Market data requests by source and outcome",
		}, []string{"source", "status"}),
		LimiterWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "limiter_wait_seconds",
			Help:      "Time spent queued behind the rate limiter",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"limiter"}),
		LimiterTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "limiter_timeouts_total",
			Help:      "Requests abandoned because the queue wait exceeded its bound",
		}, []string{"limiter"}),

		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		TransactionsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "transactions_total",
			Help:      "Transactions submitted by operation and outcome",
		}, []string{"operation", "status"}),

		InvestablePools: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "investable_pools",
			Help:      "Number of pools in the latest investable snapshot",
		}),
		DiscoveryRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "runs_total",
			Help:      "Investable pool refreshes by status",
		}, []string{"status"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by route and status code",
		}, []string{"route", "code"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last completed risk cycle",
		}),
		LastSuccessfulDiscovery: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_discovery_timestamp",
			Help:      "Unix timestamp of last investable pool refresh",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordCycle records a finished risk cycle.
func RecordCycle(status string, durationSeconds float64, finishedUnix int64) {
	DefaultMetrics.CyclesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.CycleDuration.Observe(durationSeconds)
	if status == "ok" {
		DefaultMetrics.LastSuccessfulCycle.Set(float64(finishedUnix))
	}
}

// RecordVerdict records one evaluated position.
func RecordVerdict(positionID, action string, healthScore float64) {
	DefaultMetrics.VerdictsTotal.WithLabelValues(action).Inc()
	DefaultMetrics.PositionHealthScore.WithLabelValues(positionID).Set(healthScore)
}

// RecordExit records an exit attempt outcome.
func RecordExit(trigger, state string) {
	DefaultMetrics.ExitsTotal.WithLabelValues(trigger, state).Inc()
}

// ForgetPosition drops per-position series after a position closes.
func ForgetPosition(positionID string) {
	DefaultMetrics.PositionHealthScore.DeleteLabelValues(positionID)
}

// SetOpenPositions updates the open position gauge.
func SetOpenPositions(n int) {
	DefaultMetrics.OpenPositions.Set(float64(n))
}

// RecordUpstream records a market data request.
func RecordUpstream(source, status string) {
	DefaultMetrics.UpstreamRequests.WithLabelValues(source, status).Inc()
}

// RecordLimiterWait records time spent waiting for a rate limiter slot.
func RecordLimiterWait(limiter string, seconds float64, timedOut bool) {
	DefaultMetrics.LimiterWait.WithLabelValues(limiter).Observe(seconds)
	if timedOut {
		DefaultMetrics.LimiterTimeouts.WithLabelValues(limiter).Inc()
	}
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordTransaction records a submitted transaction.
func RecordTransaction(operation string, err error) {
	status := "confirmed"
	if err != nil {
		status = "failed"
	}
	DefaultMetrics.TransactionsSubmitted.WithLabelValues(operation, status).Inc()
}

// RecordDiscovery records an investable pool refresh.
func RecordDiscovery(pools int, finishedUnix int64, err error) {
	if err != nil {
		DefaultMetrics.DiscoveryRuns.WithLabelValues("error").Inc()
		return
	}
	DefaultMetrics.DiscoveryRuns.WithLabelValues("ok").Inc()
	DefaultMetrics.InvestablePools.Set(float64(pools))
	DefaultMetrics.LastSuccessfulDiscovery.Set(float64(finishedUnix))
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(route string, code int) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, http.StatusText(code)).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
