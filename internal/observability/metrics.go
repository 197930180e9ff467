package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueDepth     *prometheus.GaugeVec
	publishTotal   *prometheus.CounterVec
	jobTotal       *prometheus.CounterVec
	jobAttempts    *prometheus.HistogramVec
	jobDuration    *prometheus.HistogramVec
	deadLetterSize *prometheus.GaugeVec

	actionTotal        *prometheus.CounterVec
	actionDuration     *prometheus.HistogramVec
	guardrailRejection *prometheus.CounterVec

	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	stepTotal   *prometheus.CounterVec

	recommendDuration  prometheus.Histogram
	recommendFiltered  *prometheus.CounterVec
	recommendStateSize prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_depth",
					Help: "Current job count by queue and state.",
				},
				[]string{"queue", "state"},
			),
			publishTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queue_publish_total",
					Help: "Total publish operations by queue.",
				},
				[]string{"queue"},
			),
			jobTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queue_job_total",
					Help: "Total finished job deliveries by queue and outcome.",
				},
				[]string{"queue", "outcome"},
			),
			jobAttempts: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "queue_job_attempts",
					Help:    "Delivery attempts used per finished job.",
					Buckets: []float64{1, 2, 3, 5, 8, 13},
				},
				[]string{"queue"},
			),
			jobDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "queue_job_duration_seconds",
					Help:    "Handler execution time per delivery attempt.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"queue"},
			),
			deadLetterSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_dead_letter_size",
					Help: "Records in the dead-letter queue.",
				},
				[]string{"queue"},
			),
			actionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "action_execution_total",
					Help: "Total action executions by action and status.",
				},
				[]string{"action", "status"},
			),
			actionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "action_execution_duration_seconds",
					Help:    "Action execution time including guardrails.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"action"},
			),
			guardrailRejection: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "guardrail_rejection_total",
					Help: "Executions aborted by a guardrail, by guardrail kind.",
				},
				[]string{"guardrail"},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "run_total",
					Help: "Total orchestrated runs by outcome.",
				},
				[]string{"outcome"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "run_duration_seconds",
					Help:    "End-to-end run duration.",
					Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
				},
				[]string{"outcome"},
			),
			stepTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "run_step_total",
					Help: "Total executed steps by outcome.",
				},
				[]string{"outcome"},
			),
			recommendDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "recommendation_scoring_duration_seconds",
					Help:    "Recommendation engine scoring time.",
					Buckets: prometheus.DefBuckets,
				},
			),
			recommendFiltered: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recommendation_filtered_total",
					Help: "Candidates filtered from recommendation output, by reason.",
				},
				[]string{"reason"},
			),
			recommendStateSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "recommendation_state_entries",
					Help: "Tracked recommendation keys in the last saved agent state.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueDepth,
			m.publishTotal,
			m.jobTotal,
			m.jobAttempts,
			m.jobDuration,
			m.deadLetterSize,
			m.actionTotal,
			m.actionDuration,
			m.guardrailRejection,
			m.runTotal,
			m.runDuration,
			m.stepTotal,
			m.recommendDuration,
			m.recommendFiltered,
			m.recommendStateSize,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordPublish(queue string, waiting int) {
	m := getMetrics()
	m.publishTotal.WithLabelValues(queue).Inc()
	m.queueDepth.WithLabelValues(queue, "waiting").Set(float64(waiting))
}

func SetQueueDepth(queue, state string, count int) {
	m := getMetrics()
	m.queueDepth.WithLabelValues(queue, state).Set(float64(count))
}

func RecordJobFinished(queue, outcome string, attempts int) {
	m := getMetrics()
	m.jobTotal.WithLabelValues(queue, outcome).Inc()
	m.jobAttempts.WithLabelValues(queue).Observe(float64(attempts))
}

func RecordJobAttempt(queue string, duration time.Duration) {
	m := getMetrics()
	m.jobDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

func SetDeadLetterSize(queue string, count int) {
	m := getMetrics()
	m.deadLetterSize.WithLabelValues(queue).Set(float64(count))
}

func RecordActionExecution(action, status string, duration time.Duration) {
	m := getMetrics()
	m.actionTotal.WithLabelValues(action, status).Inc()
	m.actionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func RecordGuardrailRejection(guardrail string) {
	m := getMetrics()
	m.guardrailRejection.WithLabelValues(guardrail).Inc()
}

func RecordRun(outcome string, duration time.Duration) {
	m := getMetrics()
	m.runTotal.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordStep(outcome string) {
	m := getMetrics()
	m.stepTotal.WithLabelValues(outcome).Inc()
}

func RecordRecommendation(duration time.Duration, filteredAdopted, filteredRejected, stateEntries int) {
	m := getMetrics()
	m.recommendDuration.Observe(duration.Seconds())
	m.recommendFiltered.WithLabelValues("adopted").Add(float64(filteredAdopted))
	m.recommendFiltered.WithLabelValues("rejected").Add(float64(filteredRejected))
	m.recommendStateSize.Set(float64(stateEntries))
}
