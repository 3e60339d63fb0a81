package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Grant submission outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics provides observability for the access module.
// Tracks request/decision counts, grant outcomes and the Decide critical path.
type Metrics struct {
	RequestsCreated      prometheus.Counter
	Decisions            *prometheus.CounterVec
	AlreadyDecided       prometheus.Counter
	GrantSubmissions     *prometheus.CounterVec
	NotificationFailures prometheus.Counter
	DecideDuration       prometheus.Histogram
}

// New registers the access metrics on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "jit_access_requests_created_total",
			Help: "Total number of access requests created",
		}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jit_access_decisions_total",
			Help: "Total number of successful decisions by action",
		}, []string{"action"}),
		AlreadyDecided: factory.NewCounter(prometheus.CounterOpts{
			Name: "jit_access_already_decided_total",
			Help: "Decision attempts on requests that were no longer pending",
		}),
		GrantSubmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jit_grant_submissions_total",
			Help: "Policy grant submissions to the enforcer by outcome",
		}, []string{"outcome"}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "jit_notification_failures_total",
			Help: "Notifications that could not be resolved or delivered",
		}),
		DecideDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "jit_decide_duration_seconds",
			Help:    "Duration of Decide operations including the enforcer call",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncrementRequestsCreated() {
	m.RequestsCreated.Inc()
}

func (m *Metrics) IncrementDecision(action string) {
	m.Decisions.WithLabelValues(action).Inc()
}

func (m *Metrics) IncrementAlreadyDecided() {
	m.AlreadyDecided.Inc()
}

func (m *Metrics) IncrementGrantSubmission(outcome string) {
	m.GrantSubmissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementNotificationFailure() {
	m.NotificationFailures.Inc()
}

// ObserveDecide records the duration of a Decide operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveDecide(start time.Time) {
	m.DecideDuration.Observe(time.Since(start).Seconds())
}
