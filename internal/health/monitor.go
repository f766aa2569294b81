package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mohitmishra786/prompt-craft/internal/metrics"
	"github.com/mohitmishra786/prompt-craft/internal/models"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
)

// Report pairs a provider with its probe result.
type Report struct {
	Type       models.ProviderType `json:"type"`
	Name       string              `json:"name"`
	Configured bool                `json:"configured"`
	Status     models.HealthStatus `json:"status"`
}

// Monitor probes the registry's providers. It holds no state of its own;
// each probe result lives in the provider's HealthStatus. The host
// application owns all scheduling.
type Monitor struct {
	registry *provider.Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewMonitor constructs a monitor over the given registry.
func NewMonitor(registry *provider.Registry, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{registry: registry, logger: logger, metrics: m}
}

// RunOnce probes every configured provider synchronously and returns the
// reports in registration order. Probe failures are absorbed into each
// provider's HealthStatus, never returned.
func (m *Monitor) RunOnce(ctx context.Context) []Report {
	var reports []Report
	for _, p := range m.registry.All() {
		report := Report{Type: p.Type(), Name: p.Name(), Configured: p.Configured()}
		if !p.Configured() {
			report.Status = p.Health()
			reports = append(reports, report)
			continue
		}

		status := p.CheckHealth(ctx)
		report.Status = status
		reports = append(reports, report)

		if m.metrics != nil {
			m.metrics.RecordHealth(p.Type(), status)
		}
		m.logger.Info("health probe",
			zap.String("provider", string(p.Type())),
			zap.String("state", string(status.State)),
			zap.Duration("latency", status.Latency),
			zap.String("error", status.Error))
	}
	return reports
}

// Statuses returns the last recorded status per provider without probing.
func (m *Monitor) Statuses() []Report {
	var reports []Report
	for _, p := range m.registry.All() {
		reports = append(reports, Report{
			Type:       p.Type(),
			Name:       p.Name(),
			Configured: p.Configured(),
			Status:     p.Health(),
		})
	}
	return reports
}

// Run probes on the given interval until the context is cancelled. Intended
// to be started by the host application; the gateway itself schedules
// nothing.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}
