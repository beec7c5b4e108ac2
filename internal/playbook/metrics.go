package playbook

import "github.com/prometheus/client_golang/prometheus"

// Alert outcomes recorded in aegis_alerts_total.
const (
	outcomeGenerated    = "generated"
	outcomeUnrecognized = "unrecognized"
	outcomeDuplicate    = "duplicate"
	outcomeMalformed    = "malformed"
	outcomeFailed       = "failed"
)

// Metrics holds Prometheus metrics for the playbook subsystem. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	AlertsTotal      *prometheus.CounterVec
	InFlight         prometheus.Gauge
	LLMCallsTotal    *prometheus.CounterVec
	LLMDuration      prometheus.Histogram
	LLMTokensIn      prometheus.Counter
	LLMTokensOut     prometheus.Counter
	InvalidYAMLTotal prometheus.Counter
	DecisionsTotal   *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
}

// NewMetrics registers and returns playbook metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_alerts_total",
			Help: "Alerts received by outcome.",
		}, []string{"outcome"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_alerts_in_flight",
			Help: "Classifications currently registered as in flight.",
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_llm_calls_total",
			Help: "LLM provider calls by outcome.",
		}, []string{"outcome"}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_llm_call_duration_seconds",
			Help:    "Duration of LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		InvalidYAMLTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_playbooks_invalid_yaml_total",
			Help: "Generated playbooks that did not parse as a list of plays.",
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_playbook_decisions_total",
			Help: "Approval decisions by result.",
		}, []string{"decision"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_playbook_runs_total",
			Help: "Playbook executions by runner status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_playbook_run_duration_seconds",
			Help:    "Duration of playbook executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}),
	}

	reg.MustRegister(
		m.AlertsTotal,
		m.InFlight,
		m.LLMCallsTotal,
		m.LLMDuration,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.InvalidYAMLTotal,
		m.DecisionsTotal,
		m.RunsTotal,
		m.RunDuration,
	)

	return m
}

func (m *Metrics) alert(outcome string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) registered() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) released() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

func (m *Metrics) llmCall(c *Completion, duration float64, err error) {
	if m == nil {
		return
	}
	m.LLMDuration.Observe(duration)
	if err != nil {
		m.LLMCallsTotal.WithLabelValues("error").Inc()
		return
	}
	m.LLMCallsTotal.WithLabelValues("success").Inc()
	m.LLMTokensIn.Add(float64(c.InputTokens))
	m.LLMTokensOut.Add(float64(c.OutputTokens))
}

func (m *Metrics) invalidYAML() {
	if m == nil {
		return
	}
	m.InvalidYAMLTotal.Inc()
}

func (m *Metrics) decision(s Status) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(string(s)).Inc()
}

func (m *Metrics) run(r *RunResult) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(r.Status).Inc()
	m.RunDuration.Observe(r.Duration)
}
