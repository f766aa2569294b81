package factory

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohitmishra786/prompt-craft/internal/config"
	"github.com/mohitmishra786/prompt-craft/internal/models"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
	azureProvider "github.com/mohitmishra786/prompt-craft/internal/provider/azure"
	groqProvider "github.com/mohitmishra786/prompt-craft/internal/provider/groq"
	openaiProvider "github.com/mohitmishra786/prompt-craft/internal/provider/openai"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	minRequestTimeout      = 1 * time.Second
	maxRequestTimeout      = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Build constructs providers for every configuration section that carries
// its minimum required fields, registers them, and resolves the active
// provider. Sections missing their minimums are skipped, not errors.
func Build(cfg config.Config, registry *provider.Registry, logger *zap.Logger) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if hasKey(cfg.Providers.Groq) {
		p, err := groqProvider.New(cfg.Providers.Groq, newHTTPClient(requestTimeout(cfg.Providers.Groq.TimeoutSeconds)))
		if err != nil {
			return err
		}
		registry.Register(p)
		logger.Debug("registered provider", zap.String("type", string(p.Type())))
	}

	if hasKey(cfg.Providers.OpenAI) {
		p, err := openaiProvider.New(cfg.Providers.OpenAI, newHTTPClient(requestTimeout(cfg.Providers.OpenAI.TimeoutSeconds)))
		if err != nil {
			return err
		}
		registry.Register(p)
		logger.Debug("registered provider", zap.String("type", string(p.Type())))
	}

	if hasAzureMinimum(cfg.Providers.Azure) {
		p, err := azureProvider.New(cfg.Providers.Azure, newHTTPClient(requestTimeout(cfg.Providers.Azure.TimeoutSeconds)))
		if err != nil {
			return err
		}
		registry.Register(p)
		logger.Debug("registered provider", zap.String("type", string(p.Type())))
	}

	resolveActive(cfg, registry, logger)
	return nil
}

// Reload is the only supported way to pick up configuration changes: it
// empties the registry and runs a fresh build. Any previous explicit active
// selection is discarded along with the old providers.
func Reload(cfg config.Config, registry *provider.Registry, logger *zap.Logger) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}
	registry.Clear()
	return Build(cfg, registry, logger)
}

func resolveActive(cfg config.Config, registry *provider.Registry, logger *zap.Logger) {
	if cfg.ActiveProvider != "" {
		if t, ok := models.ParseProviderType(cfg.ActiveProvider); ok && registry.SetActive(t) {
			logger.Info("active provider set from configuration", zap.String("type", string(t)))
			return
		}
		logger.Warn("configured active provider is not usable, falling back",
			zap.String("type", cfg.ActiveProvider))
	}

	if p, ok := registry.Active(); ok {
		logger.Info("active provider selected", zap.String("type", string(p.Type())))
	} else {
		logger.Warn("no configured provider available")
	}
}

func hasKey(cfg config.ProviderConfig) bool {
	return strings.TrimSpace(cfg.APIKey) != ""
}

func hasAzureMinimum(cfg config.AzureConfig) bool {
	return strings.TrimSpace(cfg.Endpoint) != "" && strings.TrimSpace(cfg.Deployment) != ""
}

// requestTimeout clamps the configured per-provider timeout into a sane
// range; zero means the default.
func requestTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultHTTPTimeout
	}
	timeout := time.Duration(seconds) * time.Second
	if timeout < minRequestTimeout {
		return minRequestTimeout
	}
	if timeout > maxRequestTimeout {
		return maxRequestTimeout
	}
	return timeout
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
