package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohitmishra786/prompt-craft/internal/models"
)

// Metrics collects gateway-level Prometheus metrics.
type Metrics struct {
	completions       *prometheus.CounterVec
	completionLatency *prometheus.HistogramVec
	healthState       *prometheus.GaugeVec
	tokensUsed        *prometheus.CounterVec
}

// New registers the gateway collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		completions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptcraft_completions_total",
				Help: "Completion requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		completionLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptcraft_completion_duration_seconds",
				Help:    "Completion round-trip duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		healthState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "promptcraft_provider_health",
				Help: "Provider health state (0 unknown, 1 healthy, 2 degraded, 3 unhealthy)",
			},
			[]string{"provider"},
		),
		tokensUsed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptcraft_tokens_total",
				Help: "Tokens consumed by provider and direction",
			},
			[]string{"provider", "direction"},
		),
	}
}

// RecordCompletion records one completion attempt.
func (m *Metrics) RecordCompletion(t models.ProviderType, duration time.Duration, usage *models.Usage, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.completions.WithLabelValues(string(t), outcome).Inc()
	m.completionLatency.WithLabelValues(string(t)).Observe(duration.Seconds())

	if usage != nil {
		m.tokensUsed.WithLabelValues(string(t), "prompt").Add(float64(usage.PromptTokens))
		m.tokensUsed.WithLabelValues(string(t), "completion").Add(float64(usage.CompletionTokens))
	}
}

// RecordHealth records the outcome of a health probe.
func (m *Metrics) RecordHealth(t models.ProviderType, status models.HealthStatus) {
	m.healthState.WithLabelValues(string(t)).Set(healthValue(status.State))
}

func healthValue(state models.HealthState) float64 {
	switch state {
	case models.HealthHealthy:
		return 1
	case models.HealthDegraded:
		return 2
	case models.HealthUnhealthy:
		return 3
	default:
		return 0
	}
}
