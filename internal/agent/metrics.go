package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors for agent usage.
type Metrics struct {
	invocations *prometheus.CounterVec
	tokens      *prometheus.CounterVec
	cost        prometheus.Counter
	duration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipyard_agent_invocations_total",
				Help: "Total number of agent invocations",
			},
			[]string{"command", "outcome"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipyard_agent_tokens_total",
				Help: "Total tokens consumed by agent invocations",
			},
			[]string{"direction"},
		),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shipyard_agent_cost_usd_total",
			Help: "Total reported agent cost in USD",
		}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shipyard_agent_invocation_duration_seconds",
				Help:    "Agent invocation latency",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"command"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.invocations, m.tokens, m.cost, m.duration)
	}
	return m
}

func (m *Metrics) observe(cmd SlashCommand, resp *Response, seconds float64) {
	if m == nil || resp == nil {
		return
	}
	outcome := "success"
	if !resp.Success {
		outcome = "failure"
	}
	m.invocations.WithLabelValues(string(cmd), outcome).Inc()
	m.tokens.WithLabelValues("input").Add(float64(resp.Usage.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))
	m.cost.Add(resp.Usage.CostUSD)
	m.duration.WithLabelValues(string(cmd)).Observe(seconds)
}
