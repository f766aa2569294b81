package models

import "time"

// ProviderType identifies one backend in the closed provider enumeration.
type ProviderType string

const (
	// ProviderGroq is the fast-inference backend (OpenAI-compatible API).
	ProviderGroq ProviderType = "groq"
	// ProviderOpenAI is the general commercial backend.
	ProviderOpenAI ProviderType = "openai"
	// ProviderAzure is the enterprise backend addressed by deployment name.
	ProviderAzure ProviderType = "azure"

	// Reserved type tags. Recognized by ParseProviderType but never built
	// by the factory.
	ProviderAnthropic ProviderType = "anthropic"
	ProviderGemini    ProviderType = "gemini"
)

// ImplementedProviderTypes lists the backends the factory can construct,
// in canonical order.
var ImplementedProviderTypes = []ProviderType{ProviderGroq, ProviderOpenAI, ProviderAzure}

// ParseProviderType maps a raw string onto the closed enumeration.
func ParseProviderType(raw string) (ProviderType, bool) {
	switch ProviderType(raw) {
	case ProviderGroq, ProviderOpenAI, ProviderAzure, ProviderAnthropic, ProviderGemini:
		return ProviderType(raw), true
	}
	return "", false
}

// Implemented reports whether the factory knows how to build this type.
func (t ProviderType) Implemented() bool {
	switch t {
	case ProviderGroq, ProviderOpenAI, ProviderAzure:
		return true
	}
	return false
}

// CompletionRequest is the uniform "complete this prompt" value handed to a
// provider. Only Model, System and User are meaningful on their own; absent
// optional fields fall back to provider-specific defaults.
type CompletionRequest struct {
	Model       string   `json:"model"`
	System      string   `json:"system"`
	User        string   `json:"user"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// CompletionResponse is a successful provider answer. Text is never empty:
// an empty backend payload is surfaced as an EmptyResponse error instead.
type CompletionResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Usage records token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Capabilities advertises static backend features. Informational only; the
// gateway performs no gating on these flags.
type Capabilities struct {
	Streaming       bool `json:"streaming"`
	FunctionCalling bool `json:"function_calling"`
	Vision          bool `json:"vision"`
	Embeddings      bool `json:"embeddings"`
}

// HealthState is the coarse result of the most recent health probe.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthStatus is owned by a single provider and updated only by its health
// probe, never by request-handling code.
type HealthStatus struct {
	State     HealthState   `json:"state"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency,omitempty"`
	Error     string        `json:"error,omitempty"`
}
