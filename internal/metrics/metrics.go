package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Verification attempt outcomes.
const (
	OutcomeVerified        = "verified"
	OutcomePending         = "pending"
	OutcomeInvalid         = "invalid"
	OutcomeClassifierError = "classifier_error"
	OutcomeStorageError    = "storage_error"
)

// Verdict interpretation paths.
const (
	ParseStructured = "structured"
	ParseHeuristic  = "heuristic"
)

// Metrics holds the Prometheus collectors for the API. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry             *prometheus.Registry
	VerificationAttempts *prometheus.CounterVec
	VerdictParses        *prometheus.CounterVec
	ClassifierLatency    prometheus.Histogram
	UsersCreated         *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		VerificationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fan_verify_verification_attempts_total",
			Help: "Identity verification attempts by outcome",
		}, []string{"outcome"}),
		VerdictParses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fan_verify_verdict_parses_total",
			Help: "Classifier responses by interpretation path",
		}, []string{"path"}),
		ClassifierLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fan_verify_classifier_latency_seconds",
			Help:    "Latency of vision classifier calls",
			Buckets: prometheus.LinearBuckets(1, 1, 15),
		}),
		UsersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fan_verify_users_created_total",
			Help: "Accounts created by provider",
		}, []string{"provider"}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAttempt counts one verification attempt.
func (m *Metrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.VerificationAttempts.WithLabelValues(outcome).Inc()
}

// ObserveParse counts the interpretation path taken for a response.
func (m *Metrics) ObserveParse(path string) {
	if m == nil {
		return
	}
	m.VerdictParses.WithLabelValues(path).Inc()
}

// ObserveClassifierLatency records one classifier round trip.
func (m *Metrics) ObserveClassifierLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ClassifierLatency.Observe(d.Seconds())
}

// IncrementUsersCreated counts a new account.
func (m *Metrics) IncrementUsersCreated(provider string) {
	if m == nil {
		return
	}
	m.UsersCreated.WithLabelValues(provider).Inc()
}
