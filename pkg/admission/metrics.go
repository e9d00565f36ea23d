package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the admission pipeline.
// Labels are kept to bounded dimensions (category, result); principals
// are deliberately not a label.
type Metrics struct {
	rateChecks    *prometheus.CounterVec
	budgetChecks  *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec
	spendRecorded prometheus.Counter
	checkDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers admission metrics on the default
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		rateChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reelgate_admission_rate_checks_total",
				Help: "Total number of rate limit checks performed",
			},
			[]string{"category", "result"},
		),

		budgetChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reelgate_admission_budget_checks_total",
				Help: "Total number of budget checks performed",
			},
			[]string{"result"},
		),

		cacheRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reelgate_admission_cache_requests_total",
				Help: "Response cache lookups by result",
			},
			[]string{"result"},
		),

		spendRecorded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reelgate_admission_spend_recorded_usd_total",
				Help: "Total spend recorded to the ledger in USD",
			},
		),

		checkDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reelgate_admission_check_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"gate"},
		),
	}
}

func (m *Metrics) recordRateCheck(category string, allowed bool) {
	if m == nil {
		return
	}
	m.rateChecks.WithLabelValues(category, resultLabel(allowed)).Inc()
}

func (m *Metrics) recordBudgetCheck(allowed bool) {
	if m == nil {
		return
	}
	m.budgetChecks.WithLabelValues(resultLabel(allowed)).Inc()
}

func (m *Metrics) recordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) recordSpend(amountUSD float64) {
	if m == nil {
		return
	}
	m.spendRecorded.Add(amountUSD)
}

func (m *Metrics) observeCheckDuration(gate string, seconds float64) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(gate).Observe(seconds)
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "blocked"
}
