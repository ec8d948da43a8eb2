package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	credentialStatus     *prometheus.GaugeVec
	credentialFailures   *prometheus.CounterVec
	credentialSelections *prometheus.CounterVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentAttempts    *prometheus.CounterVec

	turnTotal    *prometheus.CounterVec
	turnDuration prometheus.Histogram
	streamEvents *prometheus.CounterVec

	summaryRefreshTotal prometheus.Counter
	profileLoadDuration *prometheus.HistogramVec
	toolExecutionTotal  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			credentialStatus: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "credential_status",
					Help: "Credential health by index (0 healthy, 1 cooling-down, 2 exhausted).",
				},
				[]string{"index"},
			),
			credentialFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "credential_failures_total",
					Help: "Total reported credential failures by index and kind.",
				},
				[]string{"index", "kind"},
			),
			credentialSelections: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "credential_selections_total",
					Help: "Total credential selections by mode (healthy or degraded).",
				},
				[]string{"mode"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent invocations by agent and status.",
				},
				[]string{"agent", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent invocation duration in seconds by agent.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			agentAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_attempts_total",
					Help: "Total upstream attempts by agent and outcome.",
				},
				[]string{"agent", "outcome"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Total orchestrated turns by classification and outcome.",
				},
				[]string{"classification", "outcome"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Orchestrated turn duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			streamEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stream_events_total",
					Help: "Total stream events emitted by type.",
				},
				[]string{"type"},
			),
			summaryRefreshTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "summary_refresh_total",
					Help: "Total conversation summary refreshes.",
				},
			),
			profileLoadDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "profile_load_duration_seconds",
					Help:    "Dataset profile load duration in seconds by outcome.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"outcome"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total session tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
		}

		prometheus.MustRegister(
			m.credentialStatus,
			m.credentialFailures,
			m.credentialSelections,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentAttempts,
			m.turnTotal,
			m.turnDuration,
			m.streamEvents,
			m.summaryRefreshTotal,
			m.profileLoadDuration,
			m.toolExecutionTotal,
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

func SetCredentialStatus(index int, status float64) {
	getMetrics().credentialStatus.WithLabelValues(strconv.Itoa(index)).Set(status)
}

func RecordCredentialFailure(index int, kind string) {
	getMetrics().credentialFailures.WithLabelValues(strconv.Itoa(index), kind).Inc()
}

func RecordCredentialSelection(mode string) {
	getMetrics().credentialSelections.WithLabelValues(mode).Inc()
}

func RecordAgentRun(agent string, duration time.Duration, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(agent, statusLabel(success)).Inc()
	m.agentRunDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

func RecordAgentAttempt(agent, outcome string) {
	getMetrics().agentAttempts.WithLabelValues(agent, outcome).Inc()
}

func RecordTurn(classification, outcome string, duration time.Duration) {
	m := getMetrics()
	if classification == "" {
		classification = "unclassified"
	}
	m.turnTotal.WithLabelValues(classification, outcome).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

func RecordStreamEvent(eventType string) {
	getMetrics().streamEvents.WithLabelValues(eventType).Inc()
}

func RecordSummaryRefresh() {
	getMetrics().summaryRefreshTotal.Inc()
}

func RecordProfileLoad(duration time.Duration, success bool) {
	getMetrics().profileLoadDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, success bool) {
	getMetrics().toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
