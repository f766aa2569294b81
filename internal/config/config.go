package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Auth strategies accepted by the azure provider section.
const (
	AuthAPIKey          = "api_key"
	AuthAzureCLI        = "azure_cli"
	AuthManagedIdentity = "managed_identity"
)

// Config is the application configuration parsed from YAML. Provider
// sections that are absent or missing their minimum fields mean "not
// configured", never an error.
type Config struct {
	Server         ServerConfig    `yaml:"server"`
	LogLevel       string          `yaml:"log_level"`
	ActiveProvider string          `yaml:"active_provider"`
	HealthInterval time.Duration   `yaml:"-"`
	HealthSeconds  int             `yaml:"health_check_interval_seconds"`
	Providers      ProvidersConfig `yaml:"providers"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ProvidersConfig holds one section per backend type.
type ProvidersConfig struct {
	Groq   ProviderConfig `yaml:"groq"`
	OpenAI ProviderConfig `yaml:"openai"`
	Azure  AzureConfig    `yaml:"azure"`
}

// ProviderConfig configures a key-authenticated backend (groq, openai).
type ProviderConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	APIKey         string `yaml:"api_key"`
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// IsEnabled treats an absent enabled flag as true.
func (c ProviderConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// AzureConfig configures the enterprise backend. The key is optional; the
// auth strategy decides whether it is needed.
type AzureConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	Deployment     string `yaml:"deployment"`
	APIVersion     string `yaml:"api_version"`
	AuthMethod     string `yaml:"auth_method"`
	APIKey         string `yaml:"api_key"`
	ClientID       string `yaml:"client_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// IsEnabled treats an absent enabled flag as true.
func (c AzureConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// envCredentials is the environment fallback for credential material.
// Configuration values always take precedence.
type envCredentials struct {
	GroqAPIKey    string `env:"GROQ_API_KEY"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	AzureAPIKey   string `env:"AZURE_OPENAI_API_KEY"`
	AzureEndpoint string `env:"AZURE_OPENAI_ENDPOINT"`
}

// Load reads YAML configuration from disk, applies environment credential
// fallbacks and validates the result. An empty path yields a config built
// from environment variables and defaults alone.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := cfg.applyEnvironment(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironment() error {
	var creds envCredentials
	if err := env.Parse(&creds); err != nil {
		return fmt.Errorf("parse environment credentials: %w", err)
	}

	if c.Providers.Groq.APIKey == "" {
		c.Providers.Groq.APIKey = creds.GroqAPIKey
	}
	if c.Providers.OpenAI.APIKey == "" {
		c.Providers.OpenAI.APIKey = creds.OpenAIAPIKey
	}
	if c.Providers.Azure.APIKey == "" {
		c.Providers.Azure.APIKey = creds.AzureAPIKey
	}
	if c.Providers.Azure.Endpoint == "" {
		c.Providers.Azure.Endpoint = creds.AzureEndpoint
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HealthSeconds == 0 {
		c.HealthSeconds = 300
	}
	c.HealthInterval = time.Duration(c.HealthSeconds) * time.Second
}

// Validate performs sanity checks on host-level settings. Provider sections
// are deliberately not validated here; incomplete sections are simply
// skipped by the factory.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.Providers.Azure.AuthMethod {
	case "", AuthAPIKey, AuthAzureCLI, AuthManagedIdentity:
	default:
		return fmt.Errorf("providers.azure.auth_method %q must be one of %q, %q, %q",
			c.Providers.Azure.AuthMethod, AuthAPIKey, AuthAzureCLI, AuthManagedIdentity)
	}

	if c.HealthSeconds < 0 {
		return fmt.Errorf("health_check_interval_seconds must not be negative, got %d", c.HealthSeconds)
	}
	return nil
}
