package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohitmishra786/prompt-craft/internal/metrics"
	"github.com/mohitmishra786/prompt-craft/internal/models"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
)

// ErrNoActiveProvider is returned when no configured provider exists to
// serve a completion.
var ErrNoActiveProvider = provider.NewError("", provider.CategoryConfiguration,
	"no configured provider available", nil)

// Gateway dispatches completions to the registry's active provider. It never
// re-interprets provider error categories; it only attaches request identity
// and observability.
type Gateway struct {
	registry *provider.Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New constructs a gateway over the given registry.
func New(registry *provider.Registry, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{registry: registry, logger: logger, metrics: m}
}

// Registry exposes the underlying registry to the host application.
func (g *Gateway) Registry() *provider.Registry {
	return g.registry
}

// Complete routes the request to the active provider and returns its
// response along with the provider type that served it.
func (g *Gateway) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, models.ProviderType, error) {
	active, ok := g.registry.Active()
	if !ok {
		return nil, "", ErrNoActiveProvider
	}

	requestID := uuid.NewString()
	started := time.Now()

	resp, err := active.Complete(ctx, req)
	duration := time.Since(started)

	if g.metrics != nil {
		var usage *models.Usage
		if resp != nil {
			usage = resp.Usage
		}
		g.metrics.RecordCompletion(active.Type(), duration, usage, err)
	}

	if err != nil {
		g.logger.Warn("completion failed",
			zap.String("request_id", requestID),
			zap.String("provider", string(active.Type())),
			zap.String("category", string(provider.CategoryOf(err))),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, active.Type(), err
	}

	g.logger.Info("completion served",
		zap.String("request_id", requestID),
		zap.String("provider", string(active.Type())),
		zap.String("model", resp.Model),
		zap.Duration("duration", duration))
	return resp, active.Type(), nil
}
