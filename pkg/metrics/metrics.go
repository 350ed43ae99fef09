package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cycle metrics
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_cycles_total",
			Help: "Total number of diagnosis cycles by namespace and result",
		},
		[]string{"namespace", "result"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_cycle_duration_seconds",
			Help:    "Diagnosis cycle duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"namespace"},
	)

	CyclesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_cycles_skipped_total",
			Help: "Cycles not started because the previous cycle for the namespace was still running",
		},
		[]string{"namespace"},
	)

	CollectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_collection_duration_seconds",
			Help:    "Snapshot collection duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"namespace"},
	)

	// Diagnosis metrics
	IssuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_issues_total",
			Help: "Total number of issues classified by category and refined cause",
		},
		[]string{"category", "cause"},
	)

	ClassificationAmbiguous = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_classification_ambiguous_total",
			Help: "Workloads with partial signals that matched no category",
		},
	)

	// Remediation metrics
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_attempts_total",
			Help: "Total number of action attempts by action kind and outcome",
		},
		[]string{"action", "outcome"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_action_duration_seconds",
			Help:    "Time from precondition check to recorded outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	PendingApprovals = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "triage_pending_approvals",
			Help: "Actions awaiting operator approval after the latest cycle",
		},
		[]string{"namespace"},
	)

	// Ledger metrics
	LedgerAttempts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_ledger_attempts",
			Help: "Attempts currently retained in the outcome ledger",
		},
	)

	EscalationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_escalations_active",
			Help: "Latched escalations awaiting operator clearance",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(CyclesSkipped)
	prometheus.MustRegister(CollectionDuration)
	prometheus.MustRegister(IssuesTotal)
	prometheus.MustRegister(ClassificationAmbiguous)
	prometheus.MustRegister(AttemptsTotal)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(PendingApprovals)
	prometheus.MustRegister(LedgerAttempts)
	prometheus.MustRegister(EscalationsActive)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
