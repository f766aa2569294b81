package provider

import (
	"context"
	"sync"
	"time"

	"github.com/mohitmishra786/prompt-craft/internal/models"
)

// Provider is the uniform contract every backend hides behind. Calling code
// issues one logical completion without knowing which backend answers it.
type Provider interface {
	// Type returns the stable enumeration tag. Pure, no side effects.
	Type() models.ProviderType
	// Name returns the human-readable display name.
	Name() string
	// Configured reports whether enough credentials/endpoint exist to
	// attempt a call. For dynamic auth strategies this is optimistic:
	// configuration presence, not live credential validity.
	Configured() bool
	// DefaultModel returns the model used when a request names none.
	DefaultModel() string
	// AvailableModels returns the models this backend can serve.
	AvailableModels() []string
	// Complete translates the request into one backend call and back.
	// Failures are always classified (*Error), never raw transport errors.
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
	// CheckHealth issues one minimal real completion and records the
	// outcome in the provider's HealthStatus. This is the only method
	// allowed to absorb an error instead of returning it.
	CheckHealth(ctx context.Context) models.HealthStatus
	// Health returns the most recently recorded HealthStatus.
	Health() models.HealthStatus
	// Capabilities returns static backend feature flags.
	Capabilities() models.Capabilities
}

const (
	// probePrompt is the fixed benign prompt used by health probes.
	probePrompt = "ping"
	// probeMaxTokens keeps the probe's token budget minimal.
	probeMaxTokens = 5
	// degradedLatency marks a probe that succeeded but took long enough to
	// be suspicious.
	degradedLatency = 5 * time.Second
)

// HealthTracker holds a provider's HealthStatus. Implementations embed it;
// only Probe mutates the stored status.
type HealthTracker struct {
	mu     sync.RWMutex
	status models.HealthStatus
}

// NewHealthTracker returns a tracker in the unknown state.
func NewHealthTracker() HealthTracker {
	return HealthTracker{status: models.HealthStatus{State: models.HealthUnknown}}
}

// Health returns a copy of the current status.
func (h *HealthTracker) Health() models.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Probe runs a minimal completion through complete and records the outcome.
// The underlying error is captured into the status, never returned.
func (h *HealthTracker) Probe(ctx context.Context, model string, complete func(context.Context, models.CompletionRequest) (*models.CompletionResponse, error)) models.HealthStatus {
	zero := 0.0
	req := models.CompletionRequest{
		Model:       model,
		User:        probePrompt,
		Temperature: &zero,
		MaxTokens:   probeMaxTokens,
	}

	started := time.Now()
	_, err := complete(ctx, req)
	latency := time.Since(started)

	status := models.HealthStatus{
		State:     models.HealthHealthy,
		CheckedAt: time.Now(),
		Latency:   latency,
	}
	switch {
	case err != nil:
		status.State = models.HealthUnhealthy
		status.Error = err.Error()
	case latency > degradedLatency:
		status.State = models.HealthDegraded
	}

	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
	return status
}
