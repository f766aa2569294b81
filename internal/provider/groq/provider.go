package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohitmishra786/prompt-craft/internal/config"
	"github.com/mohitmishra786/prompt-craft/internal/models"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "prompt-craft/0.1"

	defaultEndpoint = "https://api.groq.com/openai/v1"
	defaultModel    = "llama-3.3-70b-versatile"
)

var availableModels = []string{
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
	"mixtral-8x7b-32768",
	"gemma2-9b-it",
}

// Provider serves completions through Groq's fast-inference API.
type Provider struct {
	provider.HealthTracker

	apiKey  string
	enabled bool
	model   string
	client  *http.Client
	chatURL string
}

// New constructs a Groq provider. A missing API key is not a construction
// error; the provider simply reports itself unconfigured.
func New(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, provider.NewError(models.ProviderGroq, provider.CategoryConfiguration,
			fmt.Sprintf("malformed endpoint %q", cfg.Endpoint), err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &Provider{
		HealthTracker: provider.NewHealthTracker(),
		apiKey:        strings.TrimSpace(cfg.APIKey),
		enabled:       cfg.IsEnabled(),
		model:         model,
		client:        client,
		chatURL:       endpoint + "/chat/completions",
	}, nil
}

func (p *Provider) Type() models.ProviderType {
	return models.ProviderGroq
}

func (p *Provider) Name() string {
	return "Groq"
}

func (p *Provider) Configured() bool {
	return p.enabled && p.apiKey != ""
}

func (p *Provider) DefaultModel() string {
	return p.model
}

func (p *Provider) AvailableModels() []string {
	result := make([]string, len(availableModels))
	copy(result, availableModels)
	return result
}

func (p *Provider) Capabilities() models.Capabilities {
	return models.Capabilities{
		Streaming:       true,
		FunctionCalling: true,
	}
}

// Complete issues one chat-completion call against Groq.
func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	if !p.Configured() {
		return nil, provider.NewError(models.ProviderGroq, provider.CategoryConfiguration,
			"API key not configured", nil)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	payload := chatPayload{
		Model:       model,
		Temperature: req.Temperature,
		Messages:    buildMessages(req),
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = &req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.ClassifyTransport(models.ProviderGroq, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var providerResp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return nil, provider.NewError(models.ProviderGroq, provider.CategoryEmptyResponse,
			"backend returned an unparseable body", err)
	}

	return providerResp.toCompletion(model)
}

// CheckHealth probes the backend with a minimal completion, recording the
// outcome instead of returning the error.
func (p *Provider) CheckHealth(ctx context.Context) models.HealthStatus {
	return p.HealthTracker.Probe(ctx, p.model, p.Complete)
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildMessages(req models.CompletionRequest) []chatMessage {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})
	return messages
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *usageBlock `json:"usage"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (r chatResponse) toCompletion(requestedModel string) (*models.CompletionResponse, error) {
	if len(r.Choices) == 0 || strings.TrimSpace(r.Choices[0].Message.Content) == "" {
		return nil, provider.NewError(models.ProviderGroq, provider.CategoryEmptyResponse,
			"backend returned no completion content", nil)
	}

	model := r.Model
	if model == "" {
		model = requestedModel
	}

	resp := &models.CompletionResponse{
		Text:         r.Choices[0].Message.Content,
		Model:        model,
		FinishReason: r.Choices[0].FinishReason,
	}
	if r.Usage != nil {
		resp.Usage = &models.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	return resp, nil
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func parseAPIError(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if readErr != nil {
		return provider.ClassifyStatus(models.ProviderGroq, resp.StatusCode, "", "")
	}

	var apiErr apiErrorResponse
	detail := ""
	if err := json.Unmarshal(body, &apiErr); err == nil {
		detail = apiErr.Error.Message
		if apiErr.Error.Code == "content_filter" {
			return provider.NewError(models.ProviderGroq, provider.CategoryContentFiltered, detail, nil)
		}
	}

	return provider.ClassifyStatus(models.ProviderGroq, resp.StatusCode, detail, resp.Header.Get("Retry-After"))
}
